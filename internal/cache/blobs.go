package cache

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opendesk/threadsync/internal/types"
)

// ErrBlobNotFound is returned when a staged upload payload is missing.
var ErrBlobNotFound = errors.New("staged blob not found")

// StageBlob stores an attachment payload pending upload and returns its
// staging id.
func (s *Store) StageBlob(ticketID, fileName, mimeType string, data []byte) (string, error) {
	stagingID := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO upload_blobs (staging_id, ticket_id, file_name, mime_type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stagingID, ticketID, fileName, mimeType, data, time.Now().UnixMilli())
	if err != nil {
		return "", err
	}
	return stagingID, nil
}

// TakeBlob fetches a staged upload payload.
func (s *Store) TakeBlob(stagingID string) (*types.StagedBlob, error) {
	row := s.db.QueryRow(`
		SELECT staging_id, ticket_id, file_name, mime_type, data, created_at
		FROM upload_blobs WHERE staging_id = ?
	`, stagingID)

	var blob types.StagedBlob
	var mimeType sql.NullString
	if err := row.Scan(&blob.StagingID, &blob.TicketID, &blob.FileName, &mimeType, &blob.Data, &blob.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	blob.MimeType = mimeType.String
	return &blob, nil
}

// DiscardBlob removes a staged upload payload once the upload completed or
// was abandoned.
func (s *Store) DiscardBlob(stagingID string) error {
	_, err := s.db.Exec(`DELETE FROM upload_blobs WHERE staging_id = ?`, stagingID)
	return err
}

// DiscardTicketBlobs removes every staged payload for a ticket. Called when
// a thread closes.
func (s *Store) DiscardTicketBlobs(ticketID string) error {
	_, err := s.db.Exec(`DELETE FROM upload_blobs WHERE ticket_id = ?`, ticketID)
	return err
}
