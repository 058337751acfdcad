package engine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandon/jmapmail/internal/cache"
	"github.com/brandon/jmapmail/pkg/types"
)

type move struct {
	ID      string
	Mailbox string
}

// fakeClient implements Protocol with scripted responses. Gates, when set,
// block the corresponding call until the channel is closed, so tests can
// hold an async operation in flight.
type fakeClient struct {
	mu sync.Mutex

	mailboxes  []types.Mailbox
	identities []types.Identity
	serverIDs  []string
	summaries  map[string]types.EmailSummary
	details    map[string]types.EmailDetail

	queryFn    func(limit, position, call int) []string
	queryCalls int
	queryGate  chan struct{}

	detailGate  chan struct{}
	detailCalls [][]string

	ics    map[string]string
	icsErr error

	moveErr  error
	moves    []move
	moveCh   chan move
	batchErr error
	batches  [][]string

	mutErr      error
	markedRead  []string
	flaggedSets []string

	uploadGate chan struct{}
	uploadErr  error

	sendErr  error
	sentMsgs []*types.OutgoingMessage
}

func (f *fakeClient) ListMailboxes(ctx context.Context, s *types.Session) ([]types.Mailbox, error) {
	return f.mailboxes, nil
}

func (f *fakeClient) ListIdentities(ctx context.Context, s *types.Session) ([]types.Identity, error) {
	return f.identities, nil
}

func (f *fakeClient) QueryEmailIDs(ctx context.Context, s *types.Session, filter any, limit, position int) ([]string, error) {
	f.mu.Lock()
	f.queryCalls++
	call := f.queryCalls
	fn := f.queryFn
	gate := f.queryGate
	f.mu.Unlock()

	if gate != nil && call > 1 {
		<-gate
	}
	if fn != nil {
		return fn(limit, position, call), nil
	}
	if position >= len(f.serverIDs) {
		return nil, nil
	}
	end := position + limit
	if end > len(f.serverIDs) {
		end = len(f.serverIDs)
	}
	return append([]string{}, f.serverIDs[position:end]...), nil
}

func (f *fakeClient) fetchByID(ids []string) []types.EmailSummary {
	var out []types.EmailSummary
	for _, id := range ids {
		if s, ok := f.summaries[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeClient) FetchSummaries(ctx context.Context, s *types.Session, ids []string) ([]types.EmailSummary, error) {
	return f.fetchByID(ids), nil
}

func (f *fakeClient) FetchParticipants(ctx context.Context, s *types.Session, ids []string) ([]types.EmailSummary, error) {
	return f.fetchByID(ids), nil
}

func (f *fakeClient) FetchDetails(ctx context.Context, s *types.Session, ids []string) ([]types.EmailDetail, error) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, ids)
	gate := f.detailGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	var out []types.EmailDetail
	for _, id := range ids {
		if d, ok := f.details[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeClient) FetchCalendarICS(ctx context.Context, s *types.Session, emailID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.icsErr != nil {
		return "", f.icsErr
	}
	return f.ics[emailID], nil
}

func (f *fakeClient) MarkRead(ctx context.Context, s *types.Session, emailID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutErr != nil {
		return false, f.mutErr
	}
	f.markedRead = append(f.markedRead, emailID)
	return true, nil
}

func (f *fakeClient) MarkUnread(ctx context.Context, s *types.Session, emailID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutErr != nil {
		return false, f.mutErr
	}
	return true, nil
}

func (f *fakeClient) SetFlagged(ctx context.Context, s *types.Session, emailID string, flagged bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutErr != nil {
		return false, f.mutErr
	}
	f.flaggedSets = append(f.flaggedSets, emailID)
	return true, nil
}

func (f *fakeClient) MoveToMailbox(ctx context.Context, s *types.Session, emailID, mailboxID string) (bool, error) {
	f.mu.Lock()
	err := f.moveErr
	f.moves = append(f.moves, move{ID: emailID, Mailbox: mailboxID})
	ch := f.moveCh
	f.mu.Unlock()

	if ch != nil {
		ch <- move{ID: emailID, Mailbox: mailboxID}
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeClient) MoveBatch(ctx context.Context, s *types.Session, emailIDs []string, mailboxID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return 0, f.batchErr
	}
	f.batches = append(f.batches, emailIDs)
	return len(emailIDs), nil
}

func (f *fakeClient) UploadBlob(ctx context.Context, s *types.Session, mimeType string, data []byte) (string, int64, error) {
	if f.uploadGate != nil {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-f.uploadGate:
		}
	}
	if f.uploadErr != nil {
		return "", 0, f.uploadErr
	}
	return "blob-1", int64(len(data)), nil
}

func (f *fakeClient) SendEmail(ctx context.Context, s *types.Session, msg *types.OutgoingMessage, identityID, draftsMailboxID, sentMailboxID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentMsgs = append(f.sentMsgs, msg)
	return "sent-1", nil
}

func (f *fakeClient) setMoveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveErr = err
}

func (f *fakeClient) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queryCalls
}

func (f *fakeClient) detailCallLog() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.detailCalls))
	copy(out, f.detailCalls)
	return out
}

func (f *fakeClient) sent() []*types.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.OutgoingMessage, len(f.sentMsgs))
	copy(out, f.sentMsgs)
	return out
}

var fixtureBase = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func fixtureSummary(id, sender string, age time.Duration) types.EmailSummary {
	return types.EmailSummary{
		ID:         id,
		ThreadID:   "t-" + id,
		From:       []types.EmailAddress{{Email: sender}},
		Subject:    "subject " + id,
		ReceivedAt: fixtureBase.Add(-age),
	}
}

// newFakeClient builds a client with five inbox messages e1..e5, newest
// first, and the standard role mailboxes.
func newFakeClient() *fakeClient {
	f := &fakeClient{
		mailboxes: []types.Mailbox{
			{ID: "mb-inbox", Name: "Inbox", Role: "inbox", UnreadCount: 2},
			{ID: "mb-archive", Name: "Archive", Role: "archive"},
			{ID: "mb-trash", Name: "Trash", Role: "trash"},
			{ID: "mb-drafts", Name: "Drafts", Role: "drafts"},
			{ID: "mb-sent", Name: "Sent", Role: "sent"},
		},
		identities: []types.Identity{{ID: "id-1", Email: "me@example.com"}},
		summaries:  map[string]types.EmailSummary{},
		details:    map[string]types.EmailDetail{},
		moveCh:     make(chan move, 16),
	}
	for i, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		f.serverIDs = append(f.serverIDs, id)
		f.summaries[id] = fixtureSummary(id, "sender@example.com", time.Duration(i)*time.Hour)
	}
	return f
}

func newTestEngine(t *testing.T, f *fakeClient, limit, threshold, prefetch int) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(limit, 32, logger)
	require.NoError(t, err)

	e := New(f, store, Options{
		CacheLimit:      limit,
		RefillThreshold: threshold,
		PrefetchCount:   prefetch,
		ContainerID:     "msg",
	}, logger)
	e.SetSession(&types.Session{Username: "me@example.com", Token: "tok", AccountID: "acc-1"})
	require.NoError(t, e.Initialize(context.Background()))
	return e
}

// selectAndWait switches the view and blocks until the initial page landed.
func selectAndWait(t *testing.T, e *Engine, mailboxID string) {
	t.Helper()
	require.NoError(t, e.SelectView(mailboxID, "", ""))
	require.Eventually(t, func() bool {
		return e.State() == ViewPopulated
	}, 2*time.Second, 5*time.Millisecond)
}

func waitEvent(t *testing.T, e *Engine, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-e.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// queryIdle reports whether no refill is in flight.
func (e *Engine) queryIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.refillInFlight
}

func summaryIDs(summaries []types.EmailSummary) []string {
	ids := make([]string, len(summaries))
	for i := range summaries {
		ids[i] = summaries[i].ID
	}
	return ids
}
