package jmap

import (
	"context"
	"encoding/json"

	"github.com/brandon/jmapmail/pkg/types"
)

// SendEmail creates a draft and submits it in a single batch. The submission
// references the draft by creation id, so a rejected draft aborts the send.
// On success the message is refiled into the sent mailbox with the draft
// keyword removed.
func (c *Client) SendEmail(ctx context.Context, s *types.Session, msg *types.OutgoingMessage, identityID, draftsMailboxID, sentMailboxID string) (string, error) {
	draft := buildDraft(msg, draftsMailboxID)

	rcptTo := make([]map[string]any, 0, len(msg.To)+len(msg.CC)+len(msg.BCC))
	for _, addr := range msg.To {
		rcptTo = append(rcptTo, map[string]any{"email": addr})
	}
	for _, addr := range msg.CC {
		rcptTo = append(rcptTo, map[string]any{"email": addr})
	}
	for _, addr := range msg.BCC {
		rcptTo = append(rcptTo, map[string]any{"email": addr})
	}

	resp, err := c.Call(ctx, s,
		Invocation{
			Name: "Email/set",
			Args: map[string]any{
				"accountId": s.AccountID,
				"create":    map[string]any{"draft": draft},
			},
			CallID: "0",
		},
		Invocation{
			Name: "EmailSubmission/set",
			Args: map[string]any{
				"accountId": s.AccountID,
				"create": map[string]any{
					"submission": map[string]any{
						"emailId":    "#draft",
						"identityId": identityID,
						"envelope": map[string]any{
							"mailFrom": map[string]any{"email": msg.From},
							"rcptTo":   rcptTo,
						},
					},
				},
				"onSuccessUpdateEmail": map[string]any{
					"#submission": map[string]any{
						"mailboxIds":      map[string]bool{sentMailboxID: true},
						"keywords/$draft": nil,
					},
				},
			},
			CallID: "1",
		},
	)
	if err != nil {
		return "", err
	}

	createArgs, err := resp.First()
	if err != nil {
		return "", err
	}
	var created struct {
		Created map[string]struct {
			ID string `json:"id"`
		} `json:"created"`
		NotCreated map[string]json.RawMessage `json:"notCreated"`
	}
	if err := json.Unmarshal(createArgs, &created); err != nil {
		return "", &ProtocolError{Msg: "decode Email/set create", Err: err}
	}
	draftResult, ok := created.Created["draft"]
	if !ok {
		return "", &ProtocolError{Msg: "draft was not created"}
	}

	if len(resp.MethodResponses) < 2 {
		return "", &ProtocolError{Msg: "missing EmailSubmission response"}
	}
	sub := resp.MethodResponses[1]
	if sub.Name == "error" {
		return "", &ProtocolError{Msg: "submission failed: " + string(sub.Args)}
	}
	var subResult struct {
		Created    map[string]json.RawMessage `json:"created"`
		NotCreated map[string]json.RawMessage `json:"notCreated"`
	}
	if err := json.Unmarshal(sub.Args, &subResult); err != nil {
		return "", &ProtocolError{Msg: "decode EmailSubmission/set", Err: err}
	}
	if _, ok := subResult.Created["submission"]; !ok {
		detail := ""
		if raw, ok := subResult.NotCreated["submission"]; ok {
			detail = ": " + string(raw)
		}
		return "", &ProtocolError{Msg: "submission was not created" + detail}
	}

	c.logger.WithField("emailId", draftResult.ID).Info("Sent message")
	return draftResult.ID, nil
}

// buildDraft assembles the Email/set create object for an outgoing message.
func buildDraft(msg *types.OutgoingMessage, draftsMailboxID string) map[string]any {
	draft := map[string]any{
		"mailboxIds": map[string]bool{draftsMailboxID: true},
		"keywords":   map[string]bool{"$draft": true, "$seen": true},
		"from":       wireAddresses([]string{msg.From}),
		"subject":    msg.Subject,
	}
	if len(msg.To) > 0 {
		draft["to"] = wireAddresses(msg.To)
	}
	if len(msg.CC) > 0 {
		draft["cc"] = wireAddresses(msg.CC)
	}
	if len(msg.BCC) > 0 {
		draft["bcc"] = wireAddresses(msg.BCC)
	}
	if msg.InReplyTo != "" {
		draft["inReplyTo"] = []string{msg.InReplyTo}
	}
	if len(msg.References) > 0 {
		draft["references"] = msg.References
	}

	bodyValues := map[string]any{
		"text": map[string]any{"value": msg.TextBody},
	}
	textPart := map[string]any{"partId": "text", "type": "text/plain"}

	var content map[string]any
	if msg.HTMLBody != "" {
		bodyValues["html"] = map[string]any{"value": msg.HTMLBody}
		content = map[string]any{
			"type": "multipart/alternative",
			"subParts": []map[string]any{
				textPart,
				{"partId": "html", "type": "text/html"},
			},
		}
	} else {
		content = textPart
	}

	var extras []map[string]any
	for _, att := range msg.Attachments {
		extras = append(extras, map[string]any{
			"blobId":      att.BlobID,
			"type":        att.MimeType,
			"name":        att.Name,
			"disposition": "attachment",
		})
	}
	if msg.CalendarICS != "" {
		bodyValues["calendar"] = map[string]any{"value": msg.CalendarICS}
		extras = append(extras, map[string]any{
			"partId": "calendar",
			"type":   "text/calendar; method=REPLY",
		})
	}

	if len(extras) > 0 {
		subParts := append([]map[string]any{content}, extras...)
		content = map[string]any{
			"type":     "multipart/mixed",
			"subParts": subParts,
		}
	}

	draft["bodyStructure"] = content
	draft["bodyValues"] = bodyValues
	return draft
}

func wireAddresses(addrs []string) []map[string]any {
	out := make([]map[string]any, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, map[string]any{"email": a})
	}
	return out
}
