// Package search parses user search queries into structured form and
// translates them into Email/query filter trees.
//
// Supported operators: from:, to:, subject:, has:attachment, is:unread,
// is:read, is:starred, is:flagged, before:, after:, newer_than:, older_than:.
// Values may be double-quoted to include spaces. Anything else is free text.
package search

import (
	"strconv"
	"strings"
	"time"

	"github.com/brandon/jmapmail/pkg/types"
)

// ParseQuery parses a raw query string. Date offsets like newer_than:7d are
// resolved against the current UTC day.
func ParseQuery(raw string) *types.ParsedQuery {
	return ParseQueryAt(raw, time.Now().UTC())
}

// ParseQueryAt is ParseQuery with an explicit reference time.
func ParseQueryAt(raw string, now time.Time) *types.ParsedQuery {
	query := &types.ParsedQuery{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return query
	}

	var freeText []string
	pos := 0

	for pos < len(raw) {
		for pos < len(raw) && raw[pos] == ' ' {
			pos++
		}
		if pos >= len(raw) {
			break
		}

		if colon := strings.IndexByte(raw[pos:], ':'); colon >= 0 {
			keyword := raw[pos : pos+colon]
			if !strings.Contains(keyword, " ") && knownOperator(keyword) {
				value, valueEnd := extractValue(raw, pos+colon+1)
				applyOperator(query, keyword, value, now)
				pos = valueEnd
				continue
			}
		}

		wordEnd := strings.IndexByte(raw[pos:], ' ')
		if wordEnd < 0 {
			wordEnd = len(raw)
		} else {
			wordEnd += pos
		}
		freeText = append(freeText, raw[pos:wordEnd])
		pos = wordEnd
	}

	query.Text = strings.Join(freeText, " ")
	return query
}

func knownOperator(keyword string) bool {
	switch keyword {
	case "from", "to", "subject", "has", "is", "before", "after", "newer_than", "older_than":
		return true
	}
	return false
}

func applyOperator(query *types.ParsedQuery, keyword, value string, now time.Time) {
	switch keyword {
	case "from":
		query.From = append(query.From, value)
	case "to":
		query.To = append(query.To, value)
	case "subject":
		query.Subject = append(query.Subject, value)
	case "has":
		if value == "attachment" {
			query.HasAttachment = true
		}
	case "is":
		switch value {
		case "unread":
			query.IsUnread = boolPtr(true)
		case "read":
			query.IsUnread = boolPtr(false)
		case "starred", "flagged":
			query.IsFlagged = boolPtr(true)
		}
	case "before":
		query.Before = parseDate(value)
	case "after":
		query.After = parseDate(value)
	case "newer_than":
		query.After = parseDateOffset(value, now)
	case "older_than":
		query.Before = parseDateOffset(value, now)
	}
}

// extractValue reads the operator value starting at start, honoring double
// quotes. Returns the value and the index just past it.
func extractValue(raw string, start int) (string, int) {
	if start >= len(raw) {
		return "", start
	}

	if raw[start] == '"' {
		contentStart := start + 1
		end := strings.IndexByte(raw[contentStart:], '"')
		if end < 0 {
			return raw[contentStart:], len(raw)
		}
		end += contentStart
		return raw[contentStart:end], end + 1
	}

	end := strings.IndexByte(raw[start:], ' ')
	if end < 0 {
		return raw[start:], len(raw)
	}
	end += start
	return raw[start:end], end
}

// parseDate accepts YYYY-MM-DD.
func parseDate(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// parseDateOffset accepts a relative offset (Nd, Nw, Nm with N > 0) or an
// absolute MM-DD-YY / MM-DD-YYYY date.
func parseDateOffset(s string, now time.Time) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return nil
	}

	numStr, unit := s[:len(s)-1], s[len(s)-1:]
	if num, err := strconv.ParseInt(numStr, 10, 64); err == nil && num > 0 {
		var days int64
		switch unit {
		case "d":
			days = num
		case "w":
			days = num * 7
		case "m":
			days = num * 30
		}
		if days > 0 {
			t := now.AddDate(0, 0, -int(days))
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &t
		}
		return nil
	}

	for _, layout := range []string{"01-02-06", "01-02-2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

// ToFilter translates a parsed query plus an optional mailbox scope into an
// Email/query filter. Zero conditions yields an empty object, one condition
// stands alone, more are joined under an AND operator.
func ToFilter(query *types.ParsedQuery, mailboxID string) map[string]any {
	var conditions []map[string]any

	if mailboxID != "" {
		conditions = append(conditions, map[string]any{"inMailbox": mailboxID})
	}

	if query != nil {
		for _, from := range query.From {
			conditions = append(conditions, map[string]any{"from": from})
		}
		for _, to := range query.To {
			conditions = append(conditions, map[string]any{"to": to})
		}
		for _, subject := range query.Subject {
			conditions = append(conditions, map[string]any{"subject": subject})
		}
		if query.HasAttachment {
			conditions = append(conditions, map[string]any{"hasAttachment": true})
		}
		if query.IsUnread != nil {
			if *query.IsUnread {
				conditions = append(conditions, map[string]any{"notKeyword": "$seen"})
			} else {
				conditions = append(conditions, map[string]any{"hasKeyword": "$seen"})
			}
		}
		if query.IsFlagged != nil && *query.IsFlagged {
			conditions = append(conditions, map[string]any{"hasKeyword": "$flagged"})
		}
		if query.After != nil {
			conditions = append(conditions, map[string]any{"after": query.After.Format("2006-01-02") + "T00:00:00Z"})
		}
		if query.Before != nil {
			conditions = append(conditions, map[string]any{"before": query.Before.Format("2006-01-02") + "T00:00:00Z"})
		}
		if query.Text != "" {
			conditions = append(conditions, map[string]any{"text": query.Text})
		}
	}

	switch len(conditions) {
	case 0:
		return map[string]any{}
	case 1:
		return conditions[0]
	default:
		return map[string]any{
			"operator":   "AND",
			"conditions": conditions,
		}
	}
}
