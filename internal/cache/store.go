// Package cache holds the in-memory working set for the active mailbox view:
// an ordered rolling window of summaries, newest first, plus a bounded LRU
// side cache of full message details. Nothing here touches the network or
// disk; the engine owns when entries appear and disappear.
package cache

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandon/jmapmail/pkg/types"
)

// Store is not safe for concurrent use; the engine serializes access.
type Store struct {
	limit   int
	order   []types.EmailSummary
	details *lru.Cache[string, *types.EmailDetail]
	logger  *logrus.Logger
}

// NewStore creates a store holding at most limit summaries and
// detailCapacity full messages.
func NewStore(limit, detailCapacity int, logger *logrus.Logger) (*Store, error) {
	details, err := lru.New[string, *types.EmailDetail](detailCapacity)
	if err != nil {
		return nil, err
	}
	return &Store{
		limit:   limit,
		details: details,
		logger:  logger,
	}, nil
}

// Limit returns the summary window capacity.
func (s *Store) Limit() int {
	return s.limit
}

// Len returns the number of cached summaries.
func (s *Store) Len() int {
	return len(s.order)
}

// Summaries returns a copy of the ordered window.
func (s *Store) Summaries() []types.EmailSummary {
	out := make([]types.EmailSummary, len(s.order))
	copy(out, s.order)
	return out
}

// IDs returns the ordered summary ids.
func (s *Store) IDs() []string {
	ids := make([]string, len(s.order))
	for i := range s.order {
		ids[i] = s.order[i].ID
	}
	return ids
}

// IndexOf returns the position of id in the window, or -1.
func (s *Store) IndexOf(id string) int {
	for i := range s.order {
		if s.order[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns a copy of the summary with the given id.
func (s *Store) Get(id string) (types.EmailSummary, bool) {
	if i := s.IndexOf(id); i >= 0 {
		return s.order[i], true
	}
	return types.EmailSummary{}, false
}

// Reset discards the summary window. Cached details survive a view switch;
// they are keyed by id and bounded by the LRU.
func (s *Store) Reset() {
	s.order = s.order[:0]
}

// Replace installs a fresh window, truncated to the limit.
func (s *Store) Replace(summaries []types.EmailSummary) {
	if len(summaries) > s.limit {
		summaries = summaries[:s.limit]
	}
	s.order = append(s.order[:0], summaries...)
}

// Append adds summaries to the end of the window, skipping ids already
// present and stopping at the limit. Returns how many were added.
func (s *Store) Append(summaries []types.EmailSummary) int {
	present := make(map[string]bool, len(s.order))
	for i := range s.order {
		present[s.order[i].ID] = true
	}

	added := 0
	for i := range summaries {
		if len(s.order) >= s.limit {
			break
		}
		if present[summaries[i].ID] {
			continue
		}
		present[summaries[i].ID] = true
		s.order = append(s.order, summaries[i])
		added++
	}
	return added
}

// Remove takes the summary with the given id out of the window, returning
// the removed item and its original index for exact reinsertion.
func (s *Store) Remove(id string) (types.EmailSummary, int, bool) {
	i := s.IndexOf(id)
	if i < 0 {
		return types.EmailSummary{}, -1, false
	}
	item := s.order[i]
	s.order = append(s.order[:i], s.order[i+1:]...)
	return item, i, true
}

// InsertAt puts an item back at its original index. Out-of-range indexes
// clamp to the nearest end; positions may have shifted since removal.
func (s *Store) InsertAt(item types.EmailSummary, index int) {
	if index < 0 {
		index = 0
	}
	if index > len(s.order) {
		index = len(s.order)
	}
	s.order = append(s.order, types.EmailSummary{})
	copy(s.order[index+1:], s.order[index:])
	s.order[index] = item
}

// Update applies fn to the summary with the given id in place.
func (s *Store) Update(id string, fn func(*types.EmailSummary)) bool {
	i := s.IndexOf(id)
	if i < 0 {
		return false
	}
	fn(&s.order[i])
	return true
}

// RemoveBySender takes out every summary whose first From address equals
// sender, compared case-insensitively. Returns the removed items in window
// order.
func (s *Store) RemoveBySender(sender string) []types.EmailSummary {
	var removed []types.EmailSummary
	kept := s.order[:0]
	for i := range s.order {
		if strings.EqualFold(s.order[i].Sender(), sender) {
			removed = append(removed, s.order[i])
		} else {
			kept = append(kept, s.order[i])
		}
	}
	s.order = kept
	if len(removed) > 0 {
		s.logger.WithField("sender", sender).WithField("removed", len(removed)).Debug("Removed sender batch from cache")
	}
	return removed
}

// RestoreSorted merges items back into the window and re-sorts the whole
// window newest first. Used when a batch removal fails after positions have
// shifted.
func (s *Store) RestoreSorted(items []types.EmailSummary) {
	s.order = append(s.order, items...)
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.order[i].ReceivedAt.After(s.order[j].ReceivedAt)
	})
	if len(s.order) > s.limit {
		s.order = s.order[:s.limit]
	}
}

// PutDetail caches a fetched detail.
func (s *Store) PutDetail(detail *types.EmailDetail) {
	s.details.Add(detail.ID, detail)
}

// GetDetail returns a cached detail, if present.
func (s *Store) GetDetail(id string) (*types.EmailDetail, bool) {
	return s.details.Get(id)
}

// HasDetail reports detail presence without refreshing LRU recency.
func (s *Store) HasDetail(id string) bool {
	return s.details.Contains(id)
}

// RemoveDetail drops a cached detail, if present.
func (s *Store) RemoveDetail(id string) {
	s.details.Remove(id)
}
