package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refNow = time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)

func TestParseQueryEmpty(t *testing.T) {
	assert.True(t, ParseQuery("").IsEmpty())
	assert.True(t, ParseQuery("   ").IsEmpty())
}

func TestParseQueryOperators(t *testing.T) {
	q := ParseQuery("from:john@example.com")
	assert.Equal(t, []string{"john@example.com"}, q.From)

	q = ParseQuery("to:alice@example.com")
	assert.Equal(t, []string{"alice@example.com"}, q.To)

	q = ParseQuery("subject:meeting")
	assert.Equal(t, []string{"meeting"}, q.Subject)

	q = ParseQuery("has:attachment")
	assert.True(t, q.HasAttachment)

	q = ParseQuery("has:wings")
	assert.False(t, q.HasAttachment)
}

func TestParseQueryQuotedValue(t *testing.T) {
	q := ParseQuery(`subject:"hello world" from:a@b.com`)
	assert.Equal(t, []string{"hello world"}, q.Subject)
	assert.Equal(t, []string{"a@b.com"}, q.From)
}

func TestParseQueryUnterminatedQuote(t *testing.T) {
	q := ParseQuery(`subject:"hello world`)
	assert.Equal(t, []string{"hello world"}, q.Subject)
}

func TestParseQueryIsStates(t *testing.T) {
	q := ParseQuery("is:unread")
	require.NotNil(t, q.IsUnread)
	assert.True(t, *q.IsUnread)

	q = ParseQuery("is:read")
	require.NotNil(t, q.IsUnread)
	assert.False(t, *q.IsUnread)

	q = ParseQuery("is:starred")
	require.NotNil(t, q.IsFlagged)
	assert.True(t, *q.IsFlagged)

	q = ParseQuery("is:flagged")
	require.NotNil(t, q.IsFlagged)
	assert.True(t, *q.IsFlagged)

	q = ParseQuery("is:anything")
	assert.Nil(t, q.IsUnread)
	assert.Nil(t, q.IsFlagged)
}

func TestParseQueryDates(t *testing.T) {
	q := ParseQuery("before:2026-01-15")
	require.NotNil(t, q.Before)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), *q.Before)

	q = ParseQuery("after:2026-01-15")
	require.NotNil(t, q.After)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), *q.After)

	q = ParseQuery("after:not-a-date")
	assert.Nil(t, q.After)
}

func TestParseQueryRelativeOffsets(t *testing.T) {
	q := ParseQueryAt("newer_than:7d", refNow)
	require.NotNil(t, q.After)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), *q.After)

	q = ParseQueryAt("newer_than:2w", refNow)
	require.NotNil(t, q.After)
	assert.Equal(t, time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC), *q.After)

	q = ParseQueryAt("older_than:3m", refNow)
	require.NotNil(t, q.Before)
	assert.Equal(t, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), *q.Before)
}

func TestParseQueryOffsetRejects(t *testing.T) {
	assert.Nil(t, ParseQueryAt("newer_than:0d", refNow).After)
	assert.Nil(t, ParseQueryAt("newer_than:0w", refNow).After)
	assert.Nil(t, ParseQueryAt("older_than:-5d", refNow).Before)
	assert.Nil(t, ParseQueryAt("newer_than:1x", refNow).After)
	assert.Nil(t, ParseQueryAt("newer_than:d", refNow).After)
}

func TestParseQueryAbsoluteOffsets(t *testing.T) {
	q := ParseQueryAt("newer_than:01-15-25", refNow)
	require.NotNil(t, q.After)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), *q.After)

	q = ParseQueryAt("newer_than:01-15-2025", refNow)
	require.NotNil(t, q.After)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), *q.After)

	q = ParseQueryAt("older_than:06-30-25", refNow)
	require.NotNil(t, q.Before)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), *q.Before)

	assert.Nil(t, ParseQueryAt("newer_than:13-40-25", refNow).After)
}

func TestParseQueryCombined(t *testing.T) {
	q := ParseQuery("from:@example.com has:attachment project meeting")
	assert.Equal(t, []string{"@example.com"}, q.From)
	assert.True(t, q.HasAttachment)
	assert.Equal(t, "project meeting", q.Text)
}

func TestParseQueryFreeTextOnly(t *testing.T) {
	q := ParseQuery("hello world")
	assert.Equal(t, "hello world", q.Text)
	assert.False(t, q.IsEmpty())
}

func TestParseQueryRepeatedOperators(t *testing.T) {
	q := ParseQuery("from:a@b.com from:c@d.com")
	assert.Equal(t, []string{"a@b.com", "c@d.com"}, q.From)
}

func TestParseQueryUnknownOperatorIsText(t *testing.T) {
	q := ParseQuery("label:work report")
	assert.Equal(t, "label:work report", q.Text)
}

func TestToFilterEmpty(t *testing.T) {
	assert.Empty(t, ToFilter(nil, ""))
	assert.Empty(t, ToFilter(ParseQuery(""), ""))
}

func TestToFilterMailboxOnly(t *testing.T) {
	filter := ToFilter(nil, "inbox-id")
	assert.Equal(t, map[string]any{"inMailbox": "inbox-id"}, filter)
}

func TestToFilterSingleCondition(t *testing.T) {
	filter := ToFilter(ParseQuery("from:john@example.com"), "")
	assert.Equal(t, map[string]any{"from": "john@example.com"}, filter)

	filter = ToFilter(ParseQuery("is:unread"), "")
	assert.Equal(t, map[string]any{"notKeyword": "$seen"}, filter)

	filter = ToFilter(ParseQuery("is:read"), "")
	assert.Equal(t, map[string]any{"hasKeyword": "$seen"}, filter)

	filter = ToFilter(ParseQuery("is:flagged"), "")
	assert.Equal(t, map[string]any{"hasKeyword": "$flagged"}, filter)

	filter = ToFilter(ParseQuery("has:attachment"), "")
	assert.Equal(t, map[string]any{"hasAttachment": true}, filter)

	filter = ToFilter(ParseQuery("search terms"), "")
	assert.Equal(t, map[string]any{"text": "search terms"}, filter)
}

func TestToFilterDates(t *testing.T) {
	filter := ToFilter(ParseQuery("after:2026-01-15"), "")
	assert.Equal(t, map[string]any{"after": "2026-01-15T00:00:00Z"}, filter)

	filter = ToFilter(ParseQuery("before:2026-06-30"), "")
	assert.Equal(t, map[string]any{"before": "2026-06-30T00:00:00Z"}, filter)
}

func TestToFilterMultipleConditionsUseAnd(t *testing.T) {
	filter := ToFilter(ParseQuery("from:alice@example.com has:attachment"), "inbox-id")
	assert.Equal(t, "AND", filter["operator"])

	conditions := filter["conditions"].([]map[string]any)
	require.Len(t, conditions, 3)
	assert.Equal(t, map[string]any{"inMailbox": "inbox-id"}, conditions[0])
	assert.Equal(t, map[string]any{"from": "alice@example.com"}, conditions[1])
	assert.Equal(t, map[string]any{"hasAttachment": true}, conditions[2])
}
