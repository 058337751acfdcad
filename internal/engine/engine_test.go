package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/jmapmail/internal/jmap"
	"github.com/brandon/jmapmail/pkg/types"
)

func TestSelectViewLoadsWindow(t *testing.T) {
	f := newFakeClient()
	e := newTestEngine(t, f, 10, 5, 0)

	selectAndWait(t, e, "mb-inbox")

	assert.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, summaryIDs(e.Summaries()))
}

func TestSelectViewWithoutSession(t *testing.T) {
	f := newFakeClient()
	e := New(f, nil, Options{CacheLimit: 10, RefillThreshold: 5}, testLogger())

	err := e.SelectView("mb-inbox", "", "")
	require.Error(t, err)

	var authErr *jmap.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestRefillAppendsOnlyNewIDs(t *testing.T) {
	f := newFakeClient()
	f.serverIDs = []string{"a", "b", "d"}
	f.summaries = map[string]types.EmailSummary{
		"a": fixtureSummary("a", "x@example.com", 0),
		"b": fixtureSummary("b", "x@example.com", time.Hour),
		"c": fixtureSummary("c", "x@example.com", 2*time.Hour),
		"d": fixtureSummary("d", "x@example.com", 3*time.Hour),
	}
	f.queryFn = func(limit, position, call int) []string {
		if call == 1 {
			return []string{"a", "b", "d"}
		}
		// Overlapping refill page: the window must gain only c.
		return []string{"a", "b", "c"}
	}

	e := newTestEngine(t, f, 3, 3, 0)
	selectAndWait(t, e, "mb-inbox")
	require.Equal(t, []string{"a", "b", "d"}, summaryIDs(e.Summaries()))

	require.NoError(t, e.Archive("d"))
	require.Eventually(t, func() bool {
		ids := summaryIDs(e.Summaries())
		return len(ids) == 3 && ids[2] == "c"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"a", "b", "c"}, summaryIDs(e.Summaries()))
}

func TestRefillSingleInFlight(t *testing.T) {
	f := newFakeClient()
	f.serverIDs = []string{"e1", "e2", "e3", "e4"}
	f.queryGate = make(chan struct{})

	e := newTestEngine(t, f, 4, 4, 0)
	selectAndWait(t, e, "mb-inbox")

	// Both removals drop the window below the threshold; the second trigger
	// must be dropped while the first refill is gated.
	require.NoError(t, e.Archive("e1"))
	require.NoError(t, e.Archive("e2"))
	close(f.queryGate)

	require.Eventually(t, func() bool {
		return e.queryIdle()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.queryCount())
}

func TestLoadMoreRespectsExhaustion(t *testing.T) {
	f := newFakeClient()
	f.serverIDs = []string{"e1", "e2"}

	e := newTestEngine(t, f, 10, 2, 0)
	selectAndWait(t, e, "mb-inbox")
	require.Equal(t, 2, e.store.Len())

	// The initial page came back short, so the server has nothing more.
	before := f.queryCount()
	e.LoadMore()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, f.queryCount())
}

func TestViewSwitchDropsStaleRefill(t *testing.T) {
	f := newFakeClient()
	f.summaries["e9"] = fixtureSummary("e9", "x@example.com", 9*time.Hour)
	f.queryFn = func(limit, position, call int) []string {
		switch call {
		case 1:
			return []string{"e1", "e2", "e3", "e4"}
		case 2:
			// Refill page for the first view, held in flight by the gate.
			return []string{"e9"}
		default:
			return []string{"e5"}
		}
	}
	f.queryGate = make(chan struct{})

	e := newTestEngine(t, f, 4, 4, 0)
	selectAndWait(t, e, "mb-inbox")

	require.NoError(t, e.Archive("e1"))
	require.Eventually(t, func() bool {
		return f.queryCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Switch views while the refill is gated, then release everything: the
	// stale page must be discarded even though it completes.
	require.NoError(t, e.SelectView("mb-archive", "", ""))
	close(f.queryGate)

	require.Eventually(t, func() bool {
		return e.State() == ViewPopulated
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"e5"}, summaryIDs(e.Summaries()))
}

func TestAuthErrorInvalidatesSession(t *testing.T) {
	f := newFakeClient()
	f.moveErr = &jmap.AuthError{Status: 401, Msg: "token expired"}

	e := newTestEngine(t, f, 10, 5, 0)
	selectAndWait(t, e, "mb-inbox")

	require.NoError(t, e.Archive("e3"))
	waitEvent(t, e, EventLoggedOut)

	err := e.Archive("e4")
	require.Error(t, err)
	var authErr *jmap.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestSplitCountsOverWindow(t *testing.T) {
	f := newFakeClient()
	f.summaries["e1"] = fixtureSummary("e1", "digest@news.example.com", 0)
	f.summaries["e4"] = fixtureSummary("e4", "weekly@news.example.com", 3*time.Hour)

	e := newTestEngine(t, f, 10, 5, 0)
	e.SetSplits(&types.SplitsConfig{Splits: []types.SplitInbox{{
		ID:      "news",
		Name:    "News",
		Filters: []types.SplitFilter{{Type: types.FilterFrom, Pattern: "*@news.example.com"}},
	}}})

	selectAndWait(t, e, "mb-inbox")

	require.Eventually(t, func() bool {
		counts := e.Counts()
		return counts["news"] == 2 && counts[PrimarySplitID] == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSplitViewFiltersLocally(t *testing.T) {
	f := newFakeClient()
	f.summaries["e2"] = fixtureSummary("e2", "digest@news.example.com", time.Hour)

	e := newTestEngine(t, f, 10, 1, 0)
	e.SetSplits(&types.SplitsConfig{Splits: []types.SplitInbox{{
		ID:      "news",
		Name:    "News",
		Filters: []types.SplitFilter{{Type: types.FilterFrom, Pattern: "*@news.example.com"}},
	}}})

	require.NoError(t, e.SelectView("mb-inbox", "news", ""))
	require.Eventually(t, func() bool {
		return e.State() == ViewPopulated
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"e2"}, summaryIDs(e.Summaries()))
}
