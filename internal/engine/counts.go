package engine

import (
	"context"

	"github.com/brandon/jmapmail/internal/splits"
	"github.com/brandon/jmapmail/pkg/types"
)

// PrimarySplitID is the implicit split holding messages that match no
// configured split.
const PrimarySplitID = "primary"

// countWindow is how many of the newest messages the split counts are
// computed over. Counting the whole mailbox would need a full scan; the
// window keeps the numbers honest for everything the user will actually
// scroll through.
const countWindow = 1500

// countPageSize caps a single participants fetch.
const countPageSize = 500

// Counts returns the per-split message counts from the last refresh, with
// incremental adjustments applied.
func (e *Engine) Counts() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.splitCounts))
	for k, v := range e.splitCounts {
		out[k] = v
	}
	return out
}

// UnreadCount returns the adjusted unread count for the active mailbox.
func (e *Engine) UnreadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unreadCount
}

// refreshCounts recomputes split counts over a window of the newest
// messages, fetched with participant properties only. Runs in the
// background; errors are swallowed and a view switch drops the result.
func (e *Engine) refreshCounts(s *types.Session, view View, epoch uint64) {
	e.mu.Lock()
	config := e.splitsConfig
	e.mu.Unlock()
	if config == nil || len(config.Splits) == 0 {
		e.refreshUnread(view, epoch)
		return
	}

	ctx := context.Background()
	filter := map[string]any{"inMailbox": view.MailboxID}
	counts := map[string]int{PrimarySplitID: 0}
	for i := range config.Splits {
		counts[config.Splits[i].ID] = 0
	}

	for offset := 0; offset < countWindow; offset += countPageSize {
		ids, err := e.client.QueryEmailIDs(ctx, s, filter, countPageSize, offset)
		if err != nil {
			e.noteError(err)
			e.logger.WithError(err).Debug("Count query failed")
			return
		}
		if len(ids) == 0 {
			break
		}
		emails, err := e.client.FetchParticipants(ctx, s, ids)
		if err != nil {
			e.noteError(err)
			e.logger.WithError(err).Debug("Count fetch failed")
			return
		}
		for i := range emails {
			counts[classifySplit(&emails[i], config)]++
		}
		if len(ids) < countPageSize {
			break
		}
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	e.splitCounts = counts
	e.mu.Unlock()

	e.emit(Event{Type: EventCountsChanged})
	e.refreshUnread(view, epoch)
}

// refreshUnread seeds the adjusted unread counter from the mailbox's
// advisory count.
func (e *Engine) refreshUnread(view View, epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		return
	}
	for i := range e.mailboxes {
		if e.mailboxes[i].ID == view.MailboxID {
			e.unreadCount = int(e.mailboxes[i].UnreadCount)
			return
		}
	}
	e.unreadCount = 0
}

// classifySplit returns the id of the first split the message matches, or
// primary.
func classifySplit(email *types.EmailSummary, config *types.SplitsConfig) string {
	for i := range config.Splits {
		if splits.MatchesSplit(email, &config.Splits[i]) {
			return config.Splits[i].ID
		}
	}
	return PrimarySplitID
}

// adjustCountsForRemoval shifts counts by delta for one message leaving or
// re-entering the view. Counts are adjusted rather than refetched so they
// never flicker. Caller holds the lock.
func (e *Engine) adjustCountsForRemoval(email *types.EmailSummary, delta int) {
	if email.Unread {
		e.unreadCount += delta
	}
	if e.splitsConfig == nil || len(e.splitsConfig.Splits) == 0 {
		return
	}
	id := classifySplit(email, e.splitsConfig)
	if _, ok := e.splitCounts[id]; ok {
		e.splitCounts[id] += delta
	}
}
