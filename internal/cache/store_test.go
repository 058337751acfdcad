package cache

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/jmapmail/pkg/types"
)

func testStore(t *testing.T, limit int) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := NewStore(limit, 16, logger)
	require.NoError(t, err)
	return store
}

func summary(id, sender string, received time.Time) types.EmailSummary {
	return types.EmailSummary{
		ID:         id,
		From:       []types.EmailAddress{{Email: sender}},
		ReceivedAt: received,
	}
}

func TestAppendDeduplicates(t *testing.T) {
	store := testStore(t, 10)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store.Replace([]types.EmailSummary{
		summary("a", "x@example.com", base),
		summary("b", "x@example.com", base.Add(-time.Hour)),
	})

	added := store.Append([]types.EmailSummary{
		summary("a", "x@example.com", base),
		summary("b", "x@example.com", base.Add(-time.Hour)),
		summary("c", "x@example.com", base.Add(-2*time.Hour)),
	})

	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"a", "b", "c"}, store.IDs())
}

func TestAppendStopsAtLimit(t *testing.T) {
	store := testStore(t, 3)
	base := time.Now().UTC()

	var batch []types.EmailSummary
	for i := 0; i < 5; i++ {
		batch = append(batch, summary(fmt.Sprintf("m%d", i), "x@example.com", base.Add(-time.Duration(i)*time.Hour)))
	}

	added := store.Append(batch)
	assert.Equal(t, 3, added)
	assert.Equal(t, 3, store.Len())
}

func TestRemoveInsertRoundTrip(t *testing.T) {
	store := testStore(t, 10)
	base := time.Now().UTC()
	store.Replace([]types.EmailSummary{
		summary("a", "x@example.com", base),
		summary("b", "x@example.com", base.Add(-time.Hour)),
		summary("c", "x@example.com", base.Add(-2*time.Hour)),
	})

	item, idx, ok := store.Remove("b")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, []string{"a", "c"}, store.IDs())

	store.InsertAt(item, idx)
	assert.Equal(t, []string{"a", "b", "c"}, store.IDs())
}

func TestRemoveMissing(t *testing.T) {
	store := testStore(t, 10)
	_, idx, ok := store.Remove("nope")
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestInsertAtClampsIndex(t *testing.T) {
	store := testStore(t, 10)
	base := time.Now().UTC()
	store.Replace([]types.EmailSummary{summary("a", "x@example.com", base)})

	store.InsertAt(summary("z", "x@example.com", base), 99)
	assert.Equal(t, []string{"a", "z"}, store.IDs())

	store.InsertAt(summary("y", "x@example.com", base), -5)
	assert.Equal(t, []string{"y", "a", "z"}, store.IDs())
}

func TestUpdateMutatesInPlace(t *testing.T) {
	store := testStore(t, 10)
	item := summary("a", "x@example.com", time.Now().UTC())
	item.Unread = true
	store.Replace([]types.EmailSummary{item})

	ok := store.Update("a", func(e *types.EmailSummary) { e.Unread = false })
	require.True(t, ok)

	got, found := store.Get("a")
	require.True(t, found)
	assert.False(t, got.Unread)

	assert.False(t, store.Update("missing", func(*types.EmailSummary) {}))
}

func TestRemoveBySenderCaseInsensitive(t *testing.T) {
	store := testStore(t, 10)
	base := time.Now().UTC()
	store.Replace([]types.EmailSummary{
		summary("a", "News@Example.com", base),
		summary("b", "other@example.com", base.Add(-time.Hour)),
		summary("c", "news@example.com", base.Add(-2*time.Hour)),
	})

	removed := store.RemoveBySender("news@example.com")
	require.Len(t, removed, 2)
	assert.Equal(t, "a", removed[0].ID)
	assert.Equal(t, "c", removed[1].ID)
	assert.Equal(t, []string{"b"}, store.IDs())
}

func TestRestoreSortedReordersByReceivedAt(t *testing.T) {
	store := testStore(t, 10)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.Replace([]types.EmailSummary{
		summary("a", "x@example.com", base),
		summary("d", "x@example.com", base.Add(-3*time.Hour)),
	})

	store.RestoreSorted([]types.EmailSummary{
		summary("c", "y@example.com", base.Add(-2*time.Hour)),
		summary("b", "y@example.com", base.Add(-time.Hour)),
	})

	assert.Equal(t, []string{"a", "b", "c", "d"}, store.IDs())
}

func TestReplaceTruncatesToLimit(t *testing.T) {
	store := testStore(t, 2)
	base := time.Now().UTC()
	store.Replace([]types.EmailSummary{
		summary("a", "x@example.com", base),
		summary("b", "x@example.com", base.Add(-time.Hour)),
		summary("c", "x@example.com", base.Add(-2*time.Hour)),
	})
	assert.Equal(t, []string{"a", "b"}, store.IDs())
}

func TestDetailCache(t *testing.T) {
	store := testStore(t, 10)

	detail := &types.EmailDetail{EmailSummary: types.EmailSummary{ID: "a"}}
	store.PutDetail(detail)

	got, ok := store.GetDetail("a")
	require.True(t, ok)
	assert.Same(t, detail, got)
	assert.True(t, store.HasDetail("a"))

	store.RemoveDetail("a")
	assert.False(t, store.HasDetail("a"))

	_, ok = store.GetDetail("missing")
	assert.False(t, ok)
}

func TestResetKeepsDetails(t *testing.T) {
	store := testStore(t, 10)
	store.Replace([]types.EmailSummary{summary("a", "x@example.com", time.Now().UTC())})
	store.PutDetail(&types.EmailDetail{EmailSummary: types.EmailSummary{ID: "a"}})

	store.Reset()

	assert.Equal(t, 0, store.Len())
	assert.True(t, store.HasDetail("a"))
}
