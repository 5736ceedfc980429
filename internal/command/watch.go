package command

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/deskapi"
	"github.com/opendesk/threadsync/internal/thread"
)

const renderInterval = 500 * time.Millisecond

// NewWatchCmd opens a ticket conversation and prints entries as they
// arrive, until interrupted.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <ticket>",
		Short: "Follow a ticket conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticketID := args[0]
			debug, _ := cmd.Flags().GetBool("debug")

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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := thread.DefaultConfig()
			cfg.Debug = debug

			t, err := thread.Open(ctx, ticketID, config.Identity(), client, store, cfg, logger)
			if err != nil {
				return err
			}
			defer t.Close()

			reload := watchConfigFile(ctx, client, logger)
			if reload != nil {
				defer reload.Close()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching ticket %s (ctrl-c to stop)\n", ticketID)
			renderLoop(ctx, cmd, t)
			return nil
		},
	}
	return cmd
}

func renderLoop(ctx context.Context, cmd *cobra.Command, t *thread.Thread) {
	out := cmd.OutOrStdout()
	printed := make(map[string]string)
	typingShown := ""

	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, msg := range t.Snapshot() {
			key := renderKey(msg)
			fp := renderFingerprint(msg)
			if printed[key] == fp {
				continue
			}
			printed[key] = fp
			fmt.Fprintln(out, formatMessage(msg))
		}

		if status := t.Typing(); status != nil {
			if typingShown != status.UserName {
				typingShown = status.UserName
				name := status.UserName
				if name == "" {
					name = "someone"
				}
				fmt.Fprintf(out, "· %s is typing…\n", name)
			}
		} else {
			typingShown = ""
		}
	}
}

// watchConfigFile reloads the bearer token when the config file changes, so
// a rotated credential applies without restarting the watch session.
func watchConfigFile(ctx context.Context, client *deskapi.Client, logger *log.Logger) *fsnotify.Watcher {
	path, err := core.ConfigPath()
	if err != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Printf("config watcher: %v", err)
		return nil
	}
	// Watch the directory: editors and login replace the file atomically.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Printf("config watcher: %v", err)
		_ = watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				config, err := core.ReadClientConfig()
				if err != nil || config == nil {
					continue
				}
				client.SetToken(config.Token)
				logger.Printf("config reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("config watcher: %v", err)
			}
		}
	}()

	return watcher
}
