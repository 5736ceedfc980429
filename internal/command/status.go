package command

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCmd prints the cached conversation for a ticket without polling
// the backend.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <ticket>",
		Short: "Show the cached conversation for a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticketID := args[0]
			asJSON, _ := cmd.Flags().GetBool("json")

			config, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd)

			store, err := openCache(config, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			messages, err := store.Load(ticketID)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(messages, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			if len(messages) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no cached conversation for ticket %s\n", ticketID)
				return nil
			}
			for _, msg := range messages {
				fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
			}
			return nil
		},
	}
	return cmd
}
