// Package engine owns the observable mailbox state: a rolling paginated
// window of summaries, optimistic mutations with exact rollback, an undo
// stack, detail fetching with staleness guards, and compose uploads. It is
// the only component that talks to the protocol client; the view layer calls
// methods here and listens on Events.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/jmapmail/internal/cache"
	"github.com/brandon/jmapmail/internal/jmap"
	"github.com/brandon/jmapmail/internal/sanitize"
	"github.com/brandon/jmapmail/internal/search"
	"github.com/brandon/jmapmail/internal/splits"
	"github.com/brandon/jmapmail/pkg/types"
)

// Protocol is the slice of the client the engine drives. *jmap.Client
// satisfies it.
type Protocol interface {
	ListMailboxes(ctx context.Context, s *types.Session) ([]types.Mailbox, error)
	ListIdentities(ctx context.Context, s *types.Session) ([]types.Identity, error)
	QueryEmailIDs(ctx context.Context, s *types.Session, filter any, limit, position int) ([]string, error)
	FetchSummaries(ctx context.Context, s *types.Session, ids []string) ([]types.EmailSummary, error)
	FetchParticipants(ctx context.Context, s *types.Session, ids []string) ([]types.EmailSummary, error)
	FetchDetails(ctx context.Context, s *types.Session, ids []string) ([]types.EmailDetail, error)
	MarkRead(ctx context.Context, s *types.Session, emailID string) (bool, error)
	MarkUnread(ctx context.Context, s *types.Session, emailID string) (bool, error)
	SetFlagged(ctx context.Context, s *types.Session, emailID string, flagged bool) (bool, error)
	MoveToMailbox(ctx context.Context, s *types.Session, emailID, mailboxID string) (bool, error)
	MoveBatch(ctx context.Context, s *types.Session, emailIDs []string, mailboxID string) (int, error)
	UploadBlob(ctx context.Context, s *types.Session, mimeType string, data []byte) (string, int64, error)
	FetchCalendarICS(ctx context.Context, s *types.Session, emailID string) (string, error)
	SendEmail(ctx context.Context, s *types.Session, msg *types.OutgoingMessage, identityID, draftsMailboxID, sentMailboxID string) (string, error)
}

// ViewState is the lifecycle of the active view.
type ViewState string

const (
	ViewEmpty     ViewState = "empty"
	ViewLoading   ViewState = "loading"
	ViewPopulated ViewState = "populated"
)

// View identifies which page of messages is cached. Changing any field
// discards the cache and starts over.
type View struct {
	MailboxID string
	SplitID   string
	Search    string
}

// Options tunes the rolling cache.
type Options struct {
	CacheLimit      int
	RefillThreshold int
	PrefetchCount   int
	ContainerID     string
}

// UndoEntry records one reversible removal. Entries are popped in strict
// LIFO order.
type UndoEntry struct {
	Action        string
	EmailID       string
	RemovedItem   types.EmailSummary
	OriginalIndex int
	FromMailboxID string
	View          View
	Timestamp     time.Time
}

// Engine methods are safe for concurrent use. Asynchronous completions
// re-check the view epoch before touching shared state, so results for a
// view the user has left are discarded rather than applied.
type Engine struct {
	client    Protocol
	store     *cache.Store
	sanitizer *sanitize.Sanitizer
	opts      Options
	logger    *logrus.Logger

	mu             sync.Mutex
	session        *types.Session
	mailboxes      []types.Mailbox
	identities     []types.Identity
	splitsConfig   *types.SplitsConfig
	view           View
	epoch          uint64
	state          ViewState
	fetchedOffset  int
	refillInFlight bool
	exhausted      bool
	openID         string
	undoStack      []*UndoEntry
	splitCounts    map[string]int
	unreadCount    int
	pending        map[string]*types.PendingAttachment

	events chan Event
}

// New creates an engine. The session is installed separately via SetSession.
func New(client Protocol, store *cache.Store, opts Options, logger *logrus.Logger) *Engine {
	if opts.ContainerID == "" {
		opts.ContainerID = "message-body"
	}
	return &Engine{
		client:      client,
		store:       store,
		sanitizer:   &sanitize.Sanitizer{ContainerID: opts.ContainerID},
		opts:        opts,
		logger:      logger,
		state:       ViewEmpty,
		splitCounts: map[string]int{},
		pending:     map[string]*types.PendingAttachment{},
		events:      make(chan Event, 64),
	}
}

// Events returns the notification channel. Sends never block; if the view
// layer falls behind, intermediate events are dropped and the next one still
// describes current state.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// SetSession installs a session and lifts the logged-out refusal.
func (e *Engine) SetSession(s *types.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = s
}

// Initialize fetches mailboxes and identities. Call after SetSession and
// before SelectView.
func (e *Engine) Initialize(ctx context.Context) error {
	s, err := e.currentSession()
	if err != nil {
		return err
	}

	mailboxes, err := e.client.ListMailboxes(ctx, s)
	if err != nil {
		e.noteError(err)
		return err
	}
	identities, err := e.client.ListIdentities(ctx, s)
	if err != nil {
		e.noteError(err)
		return err
	}

	e.mu.Lock()
	e.mailboxes = mailboxes
	e.identities = identities
	e.mu.Unlock()
	return nil
}

// SetSplits installs the split-inbox configuration used for local view
// filtering and counts.
func (e *Engine) SetSplits(config *types.SplitsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.splitsConfig = config
}

// Mailboxes returns the mailbox list from the last Initialize.
func (e *Engine) Mailboxes() []types.Mailbox {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Mailbox, len(e.mailboxes))
	copy(out, e.mailboxes)
	return out
}

// Identities returns the sending identities from the last Initialize.
func (e *Engine) Identities() []types.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Identity, len(e.identities))
	copy(out, e.identities)
	return out
}

// Summaries returns the current ordered window.
func (e *Engine) Summaries() []types.EmailSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Summaries()
}

// State returns the view lifecycle state.
func (e *Engine) State() ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// UndoDepth returns the number of poppable undo entries.
func (e *Engine) UndoDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undoStack)
}

// SelectView switches to a new (mailbox, split, search) tuple. The cache is
// discarded unconditionally; results from in-flight work for the old view
// are dropped by the epoch guard.
func (e *Engine) SelectView(mailboxID, splitID, searchQuery string) error {
	s, err := e.currentSession()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	e.view = View{MailboxID: mailboxID, SplitID: splitID, Search: searchQuery}
	e.state = ViewLoading
	e.store.Reset()
	e.fetchedOffset = 0
	e.refillInFlight = false
	e.exhausted = false
	e.openID = ""
	view := e.view
	e.mu.Unlock()

	e.emit(Event{Type: EventListChanged})

	go e.loadPage(s, view, epoch, true)
	go e.refreshCounts(s, view, epoch)
	return nil
}

// LoadMore requests the next page explicitly, regardless of the refill
// threshold. A no-op while a refill is already in flight or the server has
// no more pages.
func (e *Engine) LoadMore() {
	s, err := e.currentSession()
	if err != nil {
		return
	}

	e.mu.Lock()
	if e.state != ViewPopulated || e.refillInFlight || e.exhausted || e.store.Len() >= e.store.Limit() {
		e.mu.Unlock()
		return
	}
	e.refillInFlight = true
	view, epoch := e.view, e.epoch
	e.mu.Unlock()

	go e.loadPage(s, view, epoch, false)
}

// maybeRefill starts a background refill when the window has drained below
// the threshold. Caller holds the lock. At most one refill is in flight per
// view; a second trigger is dropped, not queued.
func (e *Engine) maybeRefill() {
	if e.session == nil || e.state != ViewPopulated {
		return
	}
	if e.refillInFlight || e.exhausted {
		return
	}
	if e.store.Len() >= e.opts.RefillThreshold {
		return
	}
	e.refillInFlight = true
	go e.loadPage(e.session, e.view, e.epoch, false)
}

// loadPage fetches one page for the given view. For the initial load it
// replaces the window; for refills it deduplicates and appends. Refill
// failures are swallowed.
func (e *Engine) loadPage(s *types.Session, view View, epoch uint64, initial bool) {
	e.mu.Lock()
	offset := e.fetchedOffset
	limit := e.opts.CacheLimit - e.store.Len()
	if initial {
		offset, limit = 0, e.opts.CacheLimit
	}
	e.mu.Unlock()
	if limit <= 0 {
		e.finishRefill(epoch)
		return
	}

	ctx := context.Background()
	ids, err := e.client.QueryEmailIDs(ctx, s, e.viewFilter(view), limit, offset)
	if err != nil {
		e.pageFailed(err, epoch, initial)
		return
	}

	var summaries []types.EmailSummary
	if len(ids) > 0 {
		summaries, err = e.client.FetchSummaries(ctx, s, ids)
		if err != nil {
			e.pageFailed(err, epoch, initial)
			return
		}
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	e.fetchedOffset += len(ids)
	if len(ids) < limit {
		e.exhausted = true
	}
	if e.splitsConfig != nil && view.SplitID != "" {
		summaries = splits.FilterBySplit(summaries, view.SplitID, e.splitsConfig)
	}
	if initial {
		e.store.Replace(summaries)
		e.state = ViewPopulated
	} else {
		e.store.Append(summaries)
		e.refillInFlight = false
	}
	// A split view can filter a whole page away; keep paging until the
	// window fills or the server runs out.
	e.maybeRefill()
	e.mu.Unlock()

	e.emit(Event{Type: EventListChanged})
}

func (e *Engine) pageFailed(err error, epoch uint64, initial bool) {
	e.finishRefill(epoch)
	if initial {
		e.mu.Lock()
		if e.epoch == epoch {
			e.state = ViewEmpty
		}
		e.mu.Unlock()
		e.noteError(err)
		e.emit(Event{Type: EventActionFailed, Err: err.Error()})
		return
	}
	// Background refill: swallowed.
	e.noteError(err)
	e.logger.WithError(err).Debug("Refill failed")
}

func (e *Engine) finishRefill(epoch uint64) {
	e.mu.Lock()
	if e.epoch == epoch {
		e.refillInFlight = false
	}
	e.mu.Unlock()
}

// viewFilter builds the server-side filter for a view. Split filtering is
// local; only the mailbox and search terms go to the server.
func (e *Engine) viewFilter(view View) map[string]any {
	if view.Search != "" {
		return search.ToFilter(search.ParseQuery(view.Search), view.MailboxID)
	}
	return map[string]any{"inMailbox": view.MailboxID}
}

// currentSession returns the active session or an AuthError when the engine
// is logged out.
func (e *Engine) currentSession() (*types.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, &jmap.AuthError{Msg: "no active session"}
	}
	return e.session, nil
}

// noteError invalidates the session on authentication failure. Any other
// error is left to the caller's propagation policy.
func (e *Engine) noteError(err error) {
	var authErr *jmap.AuthError
	if !errors.As(err, &authErr) {
		var protoErr *jmap.ProtocolError
		if errors.As(err, &protoErr) {
			e.logger.WithError(err).Warn("Protocol contract mismatch")
		}
		return
	}

	e.mu.Lock()
	hadSession := e.session != nil
	e.session = nil
	e.mu.Unlock()

	if hadSession {
		e.logger.WithError(err).Warn("Session invalidated")
		e.emit(Event{Type: EventLoggedOut, Err: authErr.Error()})
	}
}

// emit sends without blocking; a full channel drops the event.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.WithField("type", string(ev.Type)).Debug("Dropped event, channel full")
	}
}

// mailboxByRole returns the id of the first mailbox with the given role.
func (e *Engine) mailboxByRole(role string) string {
	for i := range e.mailboxes {
		if e.mailboxes[i].Role == role {
			return e.mailboxes[i].ID
		}
	}
	return ""
}
