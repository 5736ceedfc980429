package thread

import (
	"context"
	"errors"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/deskapi"
	"github.com/opendesk/threadsync/internal/types"
)

// ErrThreadClosed is returned when sending on a closed thread.
var ErrThreadClosed = errors.New("thread closed")

const (
	sendTimeout   = 20 * time.Second
	uploadTimeout = 60 * time.Second
)

// SendText appends an optimistic entry for the text synchronously, clears
// the local typing signal, and confirms the comment in the background. On
// server failure the entry is retained and marked failed; it is never
// retried automatically.
func (t *Thread) SendText(ctx context.Context, text string) (types.Message, error) {
	if t.closed.Load() {
		return types.Message{}, ErrThreadClosed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Message{}, errors.New("message text cannot be empty")
	}

	tempID, err := core.NewTempID()
	if err != nil {
		return types.Message{}, err
	}
	msg := types.Message{
		ID:        tempID,
		ClientRef: tempID,
		Sender:    types.SenderSelf,
		Text:      text,
		CreatedAt: time.Now().UnixMilli(),
		Origin:    types.OriginOptimistic,
	}
	if err := t.store.Append(msg); err != nil {
		return types.Message{}, err
	}

	// Sending implies "stopped typing".
	t.presence.StopLocal(ctx)

	t.sendWG.Add(1)
	go t.confirmText(tempID, text)

	return msg, nil
}

func (t *Thread) confirmText(tempID, text string) {
	defer t.sendWG.Done()

	// Once issued the send is not cancellable; it runs on its own timeout
	// and the result is discarded if the thread closed meanwhile.
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	comment, err := t.api.PostComment(ctx, t.ticketID, deskapi.CommentRequest{
		Comment:   text,
		ClientRef: tempID,
	})
	if t.closed.Load() {
		return
	}
	if err != nil {
		t.logf("send %s: %v", tempID, err)
		t.markFailed(tempID)
		return
	}

	confirmed := comment.ToMessage(t.identity)
	if confirmed.ClientRef == "" {
		confirmed.ClientRef = tempID
	}
	t.reconciler.Merge([]types.Message{confirmed})
}

// SendAttachment stages the file, appends an optimistic entry with an
// uploading attachment, and uploads in the background. Images get a local
// preview path; other types render as a plain file entry. On failure the
// attachment is marked errored and kept.
func (t *Thread) SendAttachment(ctx context.Context, filePath, text string) (types.Message, error) {
	if t.closed.Load() {
		return types.Message{}, ErrThreadClosed
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return types.Message{}, err
	}

	fileName := filepath.Base(filePath)
	mimeType := mime.TypeByExtension(filepath.Ext(fileName))

	tempID, err := core.NewTempID()
	if err != nil {
		return types.Message{}, err
	}

	att := &types.Attachment{
		Name:        fileName,
		MimeType:    mimeType,
		Size:        int64(len(data)),
		UploadState: types.UploadStateUploading,
	}
	// Local preview only for image types; everything else is a generic
	// file affordance.
	if strings.HasPrefix(mimeType, "image/") {
		att.LocalPath = filePath
	}

	if t.cache != nil {
		stagingID, err := t.cache.StageBlob(t.ticketID, fileName, mimeType, data)
		if err != nil {
			t.logf("stage blob for %s: %v", fileName, err)
		} else {
			att.StagingID = stagingID
		}
	}

	msg := types.Message{
		ID:         tempID,
		ClientRef:  tempID,
		Sender:     types.SenderSelf,
		Text:       strings.TrimSpace(text),
		Attachment: att,
		CreatedAt:  time.Now().UnixMilli(),
		Origin:     types.OriginOptimistic,
	}
	if err := t.store.Append(msg); err != nil {
		return types.Message{}, err
	}

	t.presence.StopLocal(ctx)

	t.sendWG.Add(1)
	go t.confirmAttachment(tempID, msg.Text, fileName, mimeType, data, att.StagingID)

	return msg, nil
}

func (t *Thread) confirmAttachment(tempID, text, fileName, mimeType string, data []byte, stagingID string) {
	defer t.sendWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	comment, err := t.api.PostAttachment(ctx, t.ticketID, deskapi.AttachmentRequest{
		Comment:   text,
		ClientRef: tempID,
		FileName:  fileName,
		MimeType:  mimeType,
		Data:      data,
	})
	if t.closed.Load() {
		return
	}
	if err != nil {
		t.logf("upload %s (%s): %v", tempID, fileName, err)
		t.markFailed(tempID)
		return
	}

	if stagingID != "" && t.cache != nil {
		if err := t.cache.DiscardBlob(stagingID); err != nil {
			t.logf("discard blob %s: %v", stagingID, err)
		}
	}

	confirmed := comment.ToMessage(t.identity)
	if confirmed.ClientRef == "" {
		confirmed.ClientRef = tempID
	}
	t.reconciler.Merge([]types.Message{confirmed})
}

// markFailed marks an optimistic entry as failed in place. The entry stays
// visible; retrying is a manual resend.
func (t *Thread) markFailed(id string) {
	err := t.store.Update(id, func(m *types.Message) {
		m.Failed = true
		if m.Attachment != nil {
			m.Attachment.UploadState = types.UploadStateError
		}
	})
	if err != nil {
		t.logf("mark failed %s: %v", id, err)
	}
}
