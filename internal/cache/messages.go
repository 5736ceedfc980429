package cache

import (
	"encoding/json"

	"github.com/opendesk/threadsync/internal/types"
)

// Load returns the cached conversation for a ticket, ordered by creation
// time. A missing ticket yields an empty slice.
func (s *Store) Load(ticketID string) ([]types.Message, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM thread_messages
		WHERE ticket_id = ?
		ORDER BY created_at ASC, message_id ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg types.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			// A corrupt row is dropped rather than poisoning the load.
			s.logf("cache: skipping corrupt row for ticket %s: %v", ticketID, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Save replaces the cached conversation for a ticket in one transaction.
func (s *Store) Save(ticketID string, messages []types.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM thread_messages WHERE ticket_id = ?`, ticketID); err != nil {
		return err
	}
	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO thread_messages (ticket_id, message_id, payload, created_at)
			VALUES (?, ?, ?, ?)
		`, ticketID, msg.ID, string(payload), msg.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AppendOne upserts a single message into a ticket's cached conversation.
func (s *Store) AppendOne(ticketID string, msg types.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO thread_messages (ticket_id, message_id, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ticket_id, message_id) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at
	`, ticketID, msg.ID, string(payload), msg.CreatedAt)
	return err
}
