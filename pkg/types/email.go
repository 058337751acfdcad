package types

import "time"

// Session holds the provider endpoints and credentials discovered at login.
// It is created once per login and discarded wholesale when authentication
// fails; it is never partially patched.
type Session struct {
	Username    string `json:"username"`
	Token       string `json:"token"`
	APIURL      string `json:"api_url"`
	AccountID   string `json:"account_id"`
	UploadURL   string `json:"upload_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// EmailAddress is a single participant, name optional.
type EmailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Mailbox represents a server-side folder. Counts are advisory and may lag
// behind the local cache.
type Mailbox struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	TotalCount  int64  `json:"total_count"`
	UnreadCount int64  `json:"unread_count"`
	ParentID    string `json:"parent_id,omitempty"`
}

// Identity is a sending identity configured on the account.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// EmailSummary is the list-view projection of a message. Everything is
// immutable once fetched except Unread and Flagged, which the engine mutates
// optimistically.
type EmailSummary struct {
	ID            string         `json:"id"`
	ThreadID      string         `json:"thread_id"`
	From          []EmailAddress `json:"from"`
	To            []EmailAddress `json:"to"`
	CC            []EmailAddress `json:"cc,omitempty"`
	ReceivedAt    time.Time      `json:"received_at"`
	Subject       string         `json:"subject"`
	Preview       string         `json:"preview"`
	Unread        bool           `json:"unread"`
	Flagged       bool           `json:"flagged"`
	HasAttachment bool           `json:"has_attachment"`
	HasCalendar   bool           `json:"has_calendar"`
	Size          int64          `json:"size"`
}

// Sender returns the first From address, or empty string when absent.
func (e *EmailSummary) Sender() string {
	if len(e.From) == 0 {
		return ""
	}
	return e.From[0].Email
}

// Attachment describes a downloadable message part.
type Attachment struct {
	BlobID   string `json:"blob_id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Attendee is a calendar-invite participant with RSVP state.
type Attendee struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
}

// CalendarInvite is the projection of a text/calendar part attached to a
// message.
type CalendarInvite struct {
	UID            string     `json:"uid"`
	Summary        string     `json:"summary"`
	Start          time.Time  `json:"start"`
	End            *time.Time `json:"end,omitempty"`
	Location       string     `json:"location,omitempty"`
	Description    string     `json:"description,omitempty"`
	OrganizerEmail string     `json:"organizer_email"`
	OrganizerName  string     `json:"organizer_name,omitempty"`
	Attendees      []Attendee `json:"attendees"`
	Sequence       int        `json:"sequence"`
	Cancelled      bool       `json:"cancelled"`
	RawICS         string     `json:"-"`
}

// EmailDetail is an EmailSummary plus body content and attachment
// descriptors. TextBody may be derived from HTMLBody when the message carries
// only an HTML part.
type EmailDetail struct {
	EmailSummary
	TextBody    string          `json:"text_body,omitempty"`
	HTMLBody    string          `json:"html_body,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Invite      *CalendarInvite `json:"invite,omitempty"`
}

// OutgoingMessage is the compose payload handed to the engine for sending.
type OutgoingMessage struct {
	From        string       `json:"from,omitempty"`
	To          []string     `json:"to"`
	CC          []string     `json:"cc,omitempty"`
	BCC         []string     `json:"bcc,omitempty"`
	Subject     string       `json:"subject"`
	TextBody    string       `json:"text_body"`
	HTMLBody    string       `json:"html_body,omitempty"`
	InReplyTo   string       `json:"in_reply_to,omitempty"`
	References  []string     `json:"references,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CalendarICS string       `json:"-"`
}

// UploadStatus is the lifecycle state of a compose attachment upload.
type UploadStatus string

const (
	UploadInProgress UploadStatus = "uploading"
	UploadReady      UploadStatus = "ready"
	UploadError      UploadStatus = "error"
)

// PendingAttachment tracks one compose-session upload. Cancel aborts the
// in-flight transfer; it is a no-op once the upload settled.
type PendingAttachment struct {
	LocalID      string       `json:"local_id"`
	Name         string       `json:"name"`
	MimeType     string       `json:"mime_type"`
	Size         int64        `json:"size"`
	Status       UploadStatus `json:"status"`
	RemoteBlobID string       `json:"remote_blob_id,omitempty"`
	Cancel       func()       `json:"-"`
}
