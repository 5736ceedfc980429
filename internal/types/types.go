package types

// Sender classifies who authored a conversation entry.
type Sender string

const (
	SenderSelf        Sender = "self"
	SenderCounterpart Sender = "counterpart"
	SenderSystem      Sender = "system"
)

// Origin tracks whether an entry still awaits server confirmation.
type Origin string

const (
	OriginOptimistic Origin = "optimistic"
	OriginConfirmed  Origin = "confirmed"
)

// UploadState represents the lifecycle of an attachment upload.
type UploadState string

const (
	UploadStateUploading UploadState = "uploading"
	UploadStateDone      UploadState = "done"
	UploadStateError     UploadState = "error"
)

// Attachment describes a file carried by a message. While an upload is in
// flight only LocalPath/StagingID are set; once confirmed, URL points at the
// server-hosted copy.
type Attachment struct {
	Name        string      `json:"name"`
	MimeType    string      `json:"mime_type,omitempty"`
	URL         string      `json:"url,omitempty"`
	LocalPath   string      `json:"local_path,omitempty"`
	StagingID   string      `json:"staging_id,omitempty"`
	Size        int64       `json:"size,omitempty"`
	UploadState UploadState `json:"upload_state,omitempty"`
}

// Message is one conversation entry in a ticket thread.
//
// ID is either a server-assigned stable id or a client-generated temporary
// id (tmp- prefix) pending confirmation. ClientRef carries the temporary id
// through the send round trip so a confirmed entry can be matched back to
// the optimistic one it confirms.
type Message struct {
	ID         string      `json:"id"`
	Sender     Sender      `json:"sender"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  int64       `json:"created_at"`
	Origin     Origin      `json:"origin"`
	Failed     bool        `json:"failed,omitempty"`
	ClientRef  string      `json:"client_ref,omitempty"`
}

// TypingStatus is the ephemeral "someone is typing" signal for a ticket.
// Never persisted; decays after ExpiresAt.
type TypingStatus struct {
	TicketID  string `json:"ticket_id"`
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	IsTyping  bool   `json:"is_typing"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// StagedBlob is a binary attachment payload held locally while its upload
// is pending. Cleared once the upload completes or is abandoned.
type StagedBlob struct {
	StagingID string
	TicketID  string
	FileName  string
	MimeType  string
	Data      []byte
	CreatedAt int64
}
