package engine

import "github.com/brandon/jmapmail/pkg/types"

// EventType identifies what changed. The view layer treats every event as a
// re-render signal carrying plain data.
type EventType string

const (
	// EventListChanged fires whenever the ordered summary window changes:
	// view switch, initial load, refill, optimistic action, rollback.
	EventListChanged EventType = "list_changed"

	// EventDetailOpened fires immediately on open with summary fields only,
	// before the body has been fetched.
	EventDetailOpened EventType = "detail_opened"

	// EventDetailLoaded carries the full rendered detail.
	EventDetailLoaded EventType = "detail_loaded"

	// EventCountsChanged fires when split or unread counts move.
	EventCountsChanged EventType = "counts_changed"

	// EventActionFailed reports a foreground action whose optimistic effect
	// has already been reversed.
	EventActionFailed EventType = "action_failed"

	// EventAttachmentChanged reports compose upload progress.
	EventAttachmentChanged EventType = "attachment_changed"

	// EventMessageSent confirms a successful send.
	EventMessageSent EventType = "message_sent"

	// EventLoggedOut means the session was invalidated; the engine refuses
	// further work until a new session is installed.
	EventLoggedOut EventType = "logged_out"
)

// RenderedDetail is an EmailDetail plus the strings the view actually
// displays: sanitized body markup and the plain text used when quoting a
// reply.
type RenderedDetail struct {
	Detail    *types.EmailDetail
	SafeHTML  string
	QuoteText string
}

// Event is a notification to the view layer.
type Event struct {
	Type       EventType
	EmailID    string
	Summary    *types.EmailSummary
	Detail     *RenderedDetail
	Attachment *types.PendingAttachment
	Err        string
}
