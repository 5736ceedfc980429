package deskapi

import (
	"strconv"
	"time"

	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/types"
)

// User is a comment author as returned by the backend.
type User struct {
	ID        int64  `json:"id"`
	Role      string `json:"role,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName returns a printable name for the user.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return strconv.FormatInt(u.ID, 10)
}

// Comment is one entry of a ticket's comment list.
type Comment struct {
	ID             int64  `json:"id"`
	Comment        string `json:"comment,omitempty"`
	Message        string `json:"message,omitempty"`
	CreatedAt      string `json:"created_at"`
	User           *User  `json:"user,omitempty"`
	IsInternal     bool   `json:"is_internal,omitempty"`
	Attachment     string `json:"attachment,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
	ClientRef      string `json:"client_ref,omitempty"`
}

// Text returns the comment body regardless of which wire field carried it.
// Older deployments use "message" instead of "comment".
func (c Comment) Text() string {
	if c.Comment != "" {
		return c.Comment
	}
	return c.Message
}

// ToMessage converts a server comment into a confirmed domain message,
// resolving the sender against the session identity.
func (c Comment) ToMessage(identity core.Identity) types.Message {
	var authorID, role string
	if c.User != nil {
		authorID = strconv.FormatInt(c.User.ID, 10)
		role = c.User.Role
	}

	msg := types.Message{
		ID:        strconv.FormatInt(c.ID, 10),
		Sender:    core.ResolveSender(identity, authorID, role),
		Text:      c.Text(),
		CreatedAt: parseCreatedAt(c.CreatedAt),
		Origin:    types.OriginConfirmed,
		ClientRef: c.ClientRef,
	}

	if c.Attachment != "" || c.AttachmentName != "" {
		msg.Attachment = &types.Attachment{
			Name:        c.AttachmentName,
			MimeType:    c.AttachmentType,
			URL:         c.Attachment,
			UploadState: types.UploadStateDone,
		}
	}

	return msg
}

func parseCreatedAt(raw string) int64 {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli()
		}
	}
	// Some backends return epoch seconds as a bare number.
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		return n * 1000
	}
	return time.Now().UnixMilli()
}

// TicketResponse is returned by GET /tickets/{ref}.
type TicketResponse struct {
	ID        int64     `json:"id,omitempty"`
	Comments  []Comment `json:"comments"`
	Requester *User     `json:"requester,omitempty"`
}

// CommentRequest creates a text comment. ClientRef carries the optimistic
// entry's temporary id so the confirmation can be matched back to it.
type CommentRequest struct {
	Comment   string `json:"comment"`
	ClientRef string `json:"client_ref,omitempty"`
}

// AttachmentRequest creates a comment carrying a file.
type AttachmentRequest struct {
	Comment   string
	ClientRef string
	FileName  string
	MimeType  string
	Data      []byte
}

// TypingReply is returned by GET /typing-status.
type TypingReply struct {
	IsTyping bool   `json:"is_typing"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

// TypingRequest pushes the local user's typing flag.
type TypingRequest struct {
	TicketID string `json:"ticketId"`
	IsTyping bool   `json:"isTyping"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
