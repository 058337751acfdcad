package jmap

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/brandon/jmapmail/pkg/types"
)

// Property lists for Email/get. The summary list deliberately excludes every
// body-bearing field to keep list payloads small.
var summaryProperties = []string{
	"id", "blobId", "threadId", "mailboxIds", "keywords", "receivedAt",
	"subject", "from", "to", "cc", "preview", "hasAttachment", "size",
}

var detailProperties = append(append([]string{}, summaryProperties...),
	"textBody", "htmlBody", "bodyValues", "bodyStructure")

var bodyProperties = []string{
	"partId", "blobId", "type", "name", "size", "disposition", "subParts",
}

// maxBodyValueBytes caps each fetched body part.
const maxBodyValueBytes = 1_000_000

type addressWire struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type bodyPartWire struct {
	PartID      string         `json:"partId"`
	BlobID      string         `json:"blobId"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Size        int64          `json:"size"`
	Disposition string         `json:"disposition"`
	SubParts    []bodyPartWire `json:"subParts"`
}

type bodyValueWire struct {
	Value string `json:"value"`
}

type emailWire struct {
	ID            string                   `json:"id"`
	ThreadID      string                   `json:"threadId"`
	MailboxIDs    map[string]bool          `json:"mailboxIds"`
	Keywords      map[string]bool          `json:"keywords"`
	ReceivedAt    string                   `json:"receivedAt"`
	Subject       string                   `json:"subject"`
	From          []addressWire            `json:"from"`
	To            []addressWire            `json:"to"`
	CC            []addressWire            `json:"cc"`
	Preview       string                   `json:"preview"`
	HasAttachment bool                     `json:"hasAttachment"`
	Size          int64                    `json:"size"`
	TextBody      []bodyPartWire           `json:"textBody"`
	HTMLBody      []bodyPartWire           `json:"htmlBody"`
	BodyValues    map[string]bodyValueWire `json:"bodyValues"`
	BodyStructure *bodyPartWire            `json:"bodyStructure"`
}

// ListMailboxes fetches all mailboxes for the account.
func (c *Client) ListMailboxes(ctx context.Context, s *types.Session) ([]types.Mailbox, error) {
	resp, err := c.Call(ctx, s, Invocation{
		Name:   "Mailbox/get",
		Args:   map[string]any{"accountId": s.AccountID},
		CallID: "0",
	})
	if err != nil {
		return nil, err
	}
	args, err := resp.First()
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			Role         string `json:"role"`
			TotalEmails  int64  `json:"totalEmails"`
			UnreadEmails int64  `json:"unreadEmails"`
			ParentID     string `json:"parentId"`
		} `json:"list"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return nil, &ProtocolError{Msg: "decode Mailbox/get", Err: err}
	}

	mailboxes := make([]types.Mailbox, 0, len(result.List))
	for _, m := range result.List {
		mailboxes = append(mailboxes, types.Mailbox{
			ID:          m.ID,
			Name:        m.Name,
			Role:        m.Role,
			TotalCount:  m.TotalEmails,
			UnreadCount: m.UnreadEmails,
			ParentID:    m.ParentID,
		})
	}
	return mailboxes, nil
}

// ListIdentities fetches the sending identities configured on the account.
func (c *Client) ListIdentities(ctx context.Context, s *types.Session) ([]types.Identity, error) {
	resp, err := c.Call(ctx, s, Invocation{
		Name:   "Identity/get",
		Args:   map[string]any{"accountId": s.AccountID},
		CallID: "0",
	})
	if err != nil {
		return nil, err
	}
	args, err := resp.First()
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"list"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return nil, &ProtocolError{Msg: "decode Identity/get", Err: err}
	}

	identities := make([]types.Identity, 0, len(result.List))
	for _, id := range result.List {
		identities = append(identities, types.Identity{ID: id.ID, Email: id.Email, Name: id.Name})
	}
	return identities, nil
}

// QueryEmailIDs runs Email/query for a page of message ids. The sort is
// always receivedAt descending; the engine's newest-first cache order depends
// on it.
func (c *Client) QueryEmailIDs(ctx context.Context, s *types.Session, filter any, limit, position int) ([]string, error) {
	if filter == nil {
		filter = map[string]any{}
	}
	resp, err := c.Call(ctx, s, Invocation{
		Name: "Email/query",
		Args: map[string]any{
			"accountId": s.AccountID,
			"filter":    filter,
			"sort":      []map[string]any{{"property": "receivedAt", "isAscending": false}},
			"limit":     limit,
			"position":  position,
		},
		CallID: "0",
	})
	if err != nil {
		return nil, err
	}
	args, err := resp.First()
	if err != nil {
		return nil, err
	}

	var result struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return nil, &ProtocolError{Msg: "decode Email/query", Err: err}
	}
	return result.IDs, nil
}

// FetchSummaries fetches list-view projections without any body content.
func (c *Client) FetchSummaries(ctx context.Context, s *types.Session, ids []string) ([]types.EmailSummary, error) {
	wires, err := c.fetchEmails(ctx, s, ids, false, summaryProperties)
	if err != nil {
		return nil, err
	}
	summaries := make([]types.EmailSummary, 0, len(wires))
	for i := range wires {
		summaries = append(summaries, parseSummary(&wires[i]))
	}
	return summaries, nil
}

// FetchParticipants fetches only addressing fields, used for split counting
// over a wide window.
func (c *Client) FetchParticipants(ctx context.Context, s *types.Session, ids []string) ([]types.EmailSummary, error) {
	wires, err := c.fetchEmails(ctx, s, ids, false, []string{"id", "from", "to", "cc", "subject"})
	if err != nil {
		return nil, err
	}
	summaries := make([]types.EmailSummary, 0, len(wires))
	for i := range wires {
		summaries = append(summaries, parseSummary(&wires[i]))
	}
	return summaries, nil
}

// FetchDetails fetches full messages with bodies capped at maxBodyValueBytes
// per part. Multi-part bodies are concatenated with newline separators.
func (c *Client) FetchDetails(ctx context.Context, s *types.Session, ids []string) ([]types.EmailDetail, error) {
	wires, err := c.fetchEmails(ctx, s, ids, true, detailProperties)
	if err != nil {
		return nil, err
	}
	details := make([]types.EmailDetail, 0, len(wires))
	for i := range wires {
		details = append(details, parseDetail(&wires[i]))
	}
	return details, nil
}

func (c *Client) fetchEmails(ctx context.Context, s *types.Session, ids []string, withBody bool, properties []string) ([]emailWire, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := map[string]any{
		"accountId":  s.AccountID,
		"ids":        ids,
		"properties": properties,
	}
	if withBody {
		args["fetchTextBodyValues"] = true
		args["fetchHTMLBodyValues"] = true
		args["maxBodyValueBytes"] = maxBodyValueBytes
		args["bodyProperties"] = bodyProperties
	}

	resp, err := c.Call(ctx, s, Invocation{Name: "Email/get", Args: args, CallID: "0"})
	if err != nil {
		return nil, err
	}
	respArgs, err := resp.First()
	if err != nil {
		return nil, err
	}

	var result struct {
		List []emailWire `json:"list"`
	}
	if err := json.Unmarshal(respArgs, &result); err != nil {
		return nil, &ProtocolError{Msg: "decode Email/get", Err: err}
	}
	return result.List, nil
}

func parseSummary(w *emailWire) types.EmailSummary {
	receivedAt, err := time.Parse(time.RFC3339, w.ReceivedAt)
	if err != nil {
		receivedAt = time.Now().UTC()
	}
	return types.EmailSummary{
		ID:            w.ID,
		ThreadID:      w.ThreadID,
		From:          parseAddresses(w.From),
		To:            parseAddresses(w.To),
		CC:            parseAddresses(w.CC),
		ReceivedAt:    receivedAt,
		Subject:       w.Subject,
		Preview:       w.Preview,
		Unread:        !w.Keywords["$seen"],
		Flagged:       w.Keywords["$flagged"],
		HasAttachment: w.HasAttachment,
		Size:          w.Size,
	}
}

func parseDetail(w *emailWire) types.EmailDetail {
	detail := types.EmailDetail{
		EmailSummary: parseSummary(w),
		TextBody:     joinBodyParts(w.TextBody, w.BodyValues),
		HTMLBody:     joinBodyParts(w.HTMLBody, w.BodyValues),
	}
	if w.BodyStructure != nil {
		detail.Attachments = collectAttachments(w.BodyStructure, false)
		detail.HasCalendar = findCalendarBlobID(w.BodyStructure) != ""
	}
	return detail
}

func parseAddresses(wires []addressWire) []types.EmailAddress {
	if len(wires) == 0 {
		return nil
	}
	addrs := make([]types.EmailAddress, 0, len(wires))
	for _, a := range wires {
		addrs = append(addrs, types.EmailAddress{Name: a.Name, Email: a.Email})
	}
	return addrs
}

func joinBodyParts(parts []bodyPartWire, values map[string]bodyValueWire) string {
	var collected []string
	for _, p := range parts {
		if v, ok := values[p.PartID]; ok {
			collected = append(collected, v.Value)
		}
	}
	return strings.Join(collected, "\n")
}

// collectAttachments walks a body structure for downloadable parts. Inline
// parts are skipped only as direct children of multipart/related (those are
// HTML-embedded images); some providers mark user-attached photos inline in
// multipart/mixed and those must still surface. Leaf nodes arrive with an
// empty subParts array, not an absent one.
func collectAttachments(part *bodyPartWire, inRelated bool) []types.Attachment {
	if part == nil {
		return nil
	}

	if len(part.SubParts) > 0 {
		childInRelated := strings.EqualFold(part.Type, "multipart/related")
		var out []types.Attachment
		for i := range part.SubParts {
			out = append(out, collectAttachments(&part.SubParts[i], childInRelated)...)
		}
		return out
	}

	mimeType := strings.ToLower(part.Type)
	switch mimeType {
	case "text/plain", "text/html", "text/calendar":
		return nil
	}

	disposition := strings.ToLower(part.Disposition)
	if disposition == "inline" && inRelated {
		return nil
	}
	if disposition != "attachment" && disposition != "inline" && part.Name == "" {
		return nil
	}
	if part.BlobID == "" {
		return nil
	}

	name := part.Name
	if name == "" {
		name = "attachment"
	}
	return []types.Attachment{{
		BlobID:   part.BlobID,
		Name:     name,
		MimeType: mimeType,
		Size:     part.Size,
	}}
}

// findCalendarBlobID returns the blob id of the first text/calendar part (or
// .ics-named part) in the body structure, or empty string.
func findCalendarBlobID(part *bodyPartWire) string {
	if part == nil {
		return ""
	}
	mimeType := strings.ToLower(part.Type)
	filename := strings.ToLower(part.Name)
	if mimeType == "text/calendar" || strings.HasSuffix(filename, ".ics") {
		return part.BlobID
	}
	for i := range part.SubParts {
		if blobID := findCalendarBlobID(&part.SubParts[i]); blobID != "" {
			return blobID
		}
	}
	return ""
}

// setEmail issues an Email/set update patch for one message and reports
// whether the server confirmed it.
func (c *Client) setEmail(ctx context.Context, s *types.Session, emailID string, patch map[string]any) (bool, error) {
	resp, err := c.Call(ctx, s, Invocation{
		Name: "Email/set",
		Args: map[string]any{
			"accountId": s.AccountID,
			"update":    map[string]any{emailID: patch},
		},
		CallID: "0",
	})
	if err != nil {
		return false, err
	}
	args, err := resp.First()
	if err != nil {
		return false, err
	}

	var result struct {
		Updated map[string]json.RawMessage `json:"updated"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return false, &ProtocolError{Msg: "decode Email/set", Err: err}
	}
	_, ok := result.Updated[emailID]
	return ok, nil
}

// MarkRead sets the $seen keyword.
func (c *Client) MarkRead(ctx context.Context, s *types.Session, emailID string) (bool, error) {
	return c.setEmail(ctx, s, emailID, map[string]any{"keywords/$seen": true})
}

// MarkUnread clears the $seen keyword.
func (c *Client) MarkUnread(ctx context.Context, s *types.Session, emailID string) (bool, error) {
	return c.setEmail(ctx, s, emailID, map[string]any{"keywords/$seen": nil})
}

// SetFlagged sets or clears the $flagged keyword.
func (c *Client) SetFlagged(ctx context.Context, s *types.Session, emailID string, flagged bool) (bool, error) {
	if flagged {
		return c.setEmail(ctx, s, emailID, map[string]any{"keywords/$flagged": true})
	}
	return c.setEmail(ctx, s, emailID, map[string]any{"keywords/$flagged": nil})
}

// MoveToMailbox replaces the message's mailbox membership with the single
// target mailbox. Archive, trash and undo are all this operation with
// different targets.
func (c *Client) MoveToMailbox(ctx context.Context, s *types.Session, emailID, mailboxID string) (bool, error) {
	return c.setEmail(ctx, s, emailID, map[string]any{
		"mailboxIds": map[string]bool{mailboxID: true},
	})
}

// MoveBatch moves several messages to one mailbox in a single round trip and
// returns how many the server confirmed.
func (c *Client) MoveBatch(ctx context.Context, s *types.Session, emailIDs []string, mailboxID string) (int, error) {
	if len(emailIDs) == 0 {
		return 0, nil
	}

	updates := make(map[string]any, len(emailIDs))
	for _, id := range emailIDs {
		updates[id] = map[string]any{"mailboxIds": map[string]bool{mailboxID: true}}
	}

	resp, err := c.Call(ctx, s, Invocation{
		Name: "Email/set",
		Args: map[string]any{
			"accountId": s.AccountID,
			"update":    updates,
		},
		CallID: "0",
	})
	if err != nil {
		return 0, err
	}
	args, err := resp.First()
	if err != nil {
		return 0, err
	}

	var result struct {
		Updated map[string]json.RawMessage `json:"updated"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return 0, &ProtocolError{Msg: "decode Email/set batch", Err: err}
	}
	return len(result.Updated), nil
}
