package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opendesk/threadsync/internal/deskapi"
	"github.com/opendesk/threadsync/internal/thread"
)

// NewSendCmd posts a text comment or attachment on a ticket and waits for
// the confirmation (or failure) before exiting.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <ticket> [text...]",
		Short: "Send a comment on a ticket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticketID := args[0]
			text := strings.Join(args[1:], " ")
			filePath, _ := cmd.Flags().GetString("file")
			asJSON, _ := cmd.Flags().GetBool("json")
			debug, _ := cmd.Flags().GetBool("debug")

			if filePath == "" && strings.TrimSpace(text) == "" {
				return fmt.Errorf("nothing to send: provide text or --file")
			}

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

			client, err := deskapi.NewClient(config.BaseURL, config.Token)
			if err != nil {
				return err
			}

			cfg := thread.DefaultConfig()
			cfg.Debug = debug

			t, err := thread.Open(cmd.Context(), ticketID, config.Identity(), client, store, cfg, logger)
			if err != nil {
				return err
			}

			var clientRef string
			if filePath != "" {
				msg, err := t.SendAttachment(cmd.Context(), filePath, text)
				if err != nil {
					_ = t.Close()
					return err
				}
				clientRef = msg.ClientRef
			} else {
				msg, err := t.SendText(cmd.Context(), text)
				if err != nil {
					_ = t.Close()
					return err
				}
				clientRef = msg.ClientRef
			}

			t.Wait()
			settled, _ := findByClientRef(t.Snapshot(), clientRef)
			if err := t.Close(); err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(settled, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), formatMessage(settled))
			}

			if settled.Failed {
				return fmt.Errorf("send failed; the entry is retained and can be resent")
			}
			return nil
		},
	}

	cmd.Flags().String("file", "", "attach a file")
	return cmd
}
