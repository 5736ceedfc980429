package command

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/opendesk/threadsync/internal/cache"
	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/types"
)

func loadConfig() (*core.ClientConfig, error) {
	config, err := core.ReadClientConfig()
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, fmt.Errorf("not logged in; run '%s login' first", AppName)
	}
	return config, nil
}

func openCache(config *core.ClientConfig, logger *log.Logger) (*cache.Store, error) {
	dir := config.CacheDir
	if dir == "" {
		var err error
		dir, err = core.DefaultCacheDir()
		if err != nil {
			return nil, err
		}
	}
	return cache.Open(filepath.Join(dir, "cache.db"), logger)
}

func newLogger(cmd *cobra.Command) *log.Logger {
	return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
}

// formatMessage renders one conversation entry as a single line.
func formatMessage(msg types.Message) string {
	var b strings.Builder

	ts := time.UnixMilli(msg.CreatedAt)
	fmt.Fprintf(&b, "[%s] ", humanize.Time(ts))

	switch msg.Sender {
	case types.SenderSelf:
		b.WriteString("you: ")
	case types.SenderSystem:
		b.WriteString("system: ")
	default:
		b.WriteString("agent: ")
	}

	if msg.Text != "" {
		b.WriteString(msg.Text)
	}

	if att := msg.Attachment; att != nil {
		if msg.Text != "" {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "(%s, %s", att.Name, humanize.Bytes(uint64(att.Size)))
		switch att.UploadState {
		case types.UploadStateUploading:
			b.WriteString(", uploading")
		case types.UploadStateError:
			b.WriteString(", upload failed")
		}
		b.WriteString(")")
	}

	if msg.Failed {
		b.WriteString(" [failed]")
	} else if msg.Origin == types.OriginOptimistic {
		b.WriteString(" [sending]")
	}

	return b.String()
}

// findByClientRef locates the settled entry for a send by its temporary id
// marker, surviving the optimistic-to-confirmed replacement.
func findByClientRef(messages []types.Message, clientRef string) (types.Message, bool) {
	for _, msg := range messages {
		if msg.ClientRef == clientRef || msg.ID == clientRef {
			return msg, true
		}
	}
	return types.Message{}, false
}

// renderKey identifies an entry across the optimistic-to-confirmed
// replacement so the watch loop reprints it only on a real state change.
func renderKey(msg types.Message) string {
	if msg.ClientRef != "" {
		return msg.ClientRef
	}
	return msg.ID
}

func renderFingerprint(msg types.Message) string {
	state := ""
	if msg.Attachment != nil {
		state = string(msg.Attachment.UploadState)
	}
	return fmt.Sprintf("%s|%s|%t|%s", msg.ID, msg.Origin, msg.Failed, state)
}
