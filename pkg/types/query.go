package types

import "time"

// ParsedQuery is the structured form of a search box query. Zero value means
// "no search".
type ParsedQuery struct {
	From          []string   `json:"from,omitempty"`
	To            []string   `json:"to,omitempty"`
	Subject       []string   `json:"subject,omitempty"`
	HasAttachment bool       `json:"has_attachment,omitempty"`
	IsUnread      *bool      `json:"is_unread,omitempty"`
	IsFlagged     *bool      `json:"is_flagged,omitempty"`
	Before        *time.Time `json:"before,omitempty"`
	After         *time.Time `json:"after,omitempty"`
	Text          string     `json:"text,omitempty"`
}

// IsEmpty reports whether no operator or free text was given.
func (q *ParsedQuery) IsEmpty() bool {
	return len(q.From) == 0 &&
		len(q.To) == 0 &&
		len(q.Subject) == 0 &&
		!q.HasAttachment &&
		q.IsUnread == nil &&
		q.IsFlagged == nil &&
		q.Before == nil &&
		q.After == nil &&
		q.Text == ""
}

// FilterType names what part of a message a split filter inspects.
type FilterType string

const (
	FilterFrom     FilterType = "from"
	FilterTo       FilterType = "to"
	FilterSubject  FilterType = "subject"
	FilterCalendar FilterType = "calendar"
)

// MatchMode controls how multiple filters on one split combine.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// SplitFilter is a single predicate inside a split inbox definition.
type SplitFilter struct {
	Type    FilterType `json:"type"`
	Pattern string     `json:"pattern"`
}

// SplitInbox partitions a mailbox view without a separate server-side query
// scope. The reserved id "primary" selects messages matching no split.
type SplitInbox struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Icon      string        `json:"icon,omitempty"`
	Filters   []SplitFilter `json:"filters"`
	MatchMode MatchMode     `json:"match_mode,omitempty"`
}

// SplitsConfig is the persisted set of split inbox definitions.
type SplitsConfig struct {
	Splits []SplitInbox `json:"splits"`
}
