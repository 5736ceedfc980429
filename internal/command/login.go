package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/deskapi"
)

// NewLoginCmd stores backend connection details and identity.
func NewLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store backend URL, token, and identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			token, _ := cmd.Flags().GetString("token")
			userID, _ := cmd.Flags().GetString("user")
			userName, _ := cmd.Flags().GetString("name")
			cacheDir, _ := cmd.Flags().GetString("cache-dir")

			normalized, err := deskapi.NormalizeBaseURL(baseURL)
			if err != nil {
				return err
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			config := core.ClientConfig{
				BaseURL:  normalized,
				Token:    token,
				UserID:   userID,
				UserName: userName,
				CacheDir: cacheDir,
			}
			if err := core.WriteClientConfig(config); err != nil {
				return err
			}

			path, err := core.ConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().String("url", "", "backend base URL (https://...)")
	cmd.Flags().String("token", "", "bearer token")
	cmd.Flags().String("user", "", "current user id")
	cmd.Flags().String("name", "", "current user display name")
	cmd.Flags().String("cache-dir", "", "override cache directory")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}
