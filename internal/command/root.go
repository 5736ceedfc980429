package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "threadsync"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Threadsync - keep a ticket conversation in sync",
		Long:          "Threadsync keeps a help-desk ticket conversation consistent across local sends, polled remote comments, typing presence, and a persisted cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().Bool("debug", false, "log poller activity")

	cmd.AddCommand(
		NewLoginCmd(),
		NewWatchCmd(),
		NewSendCmd(),
		NewStatusCmd(),
	)

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd(Version).Execute()
}
