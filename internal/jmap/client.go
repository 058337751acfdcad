package jmap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brandon/jmapmail/pkg/types"
)

// JMAP capability URIs declared on every API call.
var usingCapabilities = []string{
	"urn:ietf:params:jmap:core",
	"urn:ietf:params:jmap:mail",
	"urn:ietf:params:jmap:submission",
}

// Invocation is one [methodName, arguments, callId] triple on the wire.
type Invocation struct {
	Name   string
	Args   any
	CallID string
}

// MarshalJSON encodes the invocation as the three-element array the protocol
// uses.
func (inv Invocation) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{inv.Name, inv.Args, inv.CallID})
}

// ResponseInvocation is one decoded methodResponses entry; arguments stay raw
// until the typed helper that issued the call interprets them.
type ResponseInvocation struct {
	Name   string
	Args   json.RawMessage
	CallID string
}

// UnmarshalJSON decodes the three-element response array.
func (inv *ResponseInvocation) UnmarshalJSON(data []byte) error {
	var parts [3]json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &inv.Name); err != nil {
		return err
	}
	inv.Args = parts[1]
	return json.Unmarshal(parts[2], &inv.CallID)
}

// Response is a decoded API response batch.
type Response struct {
	MethodResponses []ResponseInvocation `json:"methodResponses"`
}

// First returns the arguments of the first method response, which is all a
// single-call batch ever inspects.
func (r *Response) First() (json.RawMessage, error) {
	if len(r.MethodResponses) == 0 {
		return nil, &ProtocolError{Msg: "empty methodResponses"}
	}
	first := r.MethodResponses[0]
	if first.Name == "error" {
		return nil, &ProtocolError{Msg: "server rejected method call: " + string(first.Args)}
	}
	return first.Args, nil
}

// Client is the stateless request builder/parser for the remote mail
// protocol. It holds no mutable state beyond the HTTP client it sends with;
// the Session is passed in per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a protocol client against the given provider base URL
// (e.g. "https://api.fastmail.com"). No timeout or retry policy is layered
// here; install those on the http.Client if desired.
func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// SetHTTPClient replaces the underlying transport (used by tests).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// DiscoverSession performs session discovery against the well-known endpoint
// and returns a fresh Session for the account.
func (c *Client) DiscoverSession(ctx context.Context, username, token string) (*types.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jmap/session", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build session request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Msg: "session discovery", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode, Msg: resp.Status}
	case resp.StatusCode != http.StatusOK:
		return nil, &TransportError{Status: resp.StatusCode, Msg: "session discovery: " + resp.Status}
	}

	var body struct {
		APIURL          string            `json:"apiUrl"`
		UploadURL       string            `json:"uploadUrl"`
		DownloadURL     string            `json:"downloadUrl"`
		PrimaryAccounts map[string]string `json:"primaryAccounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &ProtocolError{Msg: "decode session", Err: err}
	}
	if body.APIURL == "" {
		return nil, &ProtocolError{Msg: "session missing apiUrl"}
	}
	accountID := body.PrimaryAccounts["urn:ietf:params:jmap:mail"]
	if accountID == "" {
		return nil, &ProtocolError{Msg: "session missing mail account"}
	}

	c.logger.WithField("username", username).Info("Discovered JMAP session")
	return &types.Session{
		Username:    username,
		Token:       token,
		APIURL:      body.APIURL,
		AccountID:   accountID,
		UploadURL:   body.UploadURL,
		DownloadURL: body.DownloadURL,
	}, nil
}

// Call POSTs a batch of method invocations. It never retries; retry policy
// belongs to the caller. Mutations travel through here like any other method.
func (c *Client) Call(ctx context.Context, s *types.Session, invocations ...Invocation) (*Response, error) {
	if s == nil || s.APIURL == "" {
		return nil, &AuthError{Msg: "no session"}
	}

	payload, err := json.Marshal(map[string]any{
		"using":       usingCapabilities,
		"methodCalls": invocations,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode method calls")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build api request")
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Msg: "api call", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode, Msg: resp.Status}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TransportError{Status: resp.StatusCode, Msg: "api call: " + resp.Status}
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProtocolError{Msg: "decode api response", Err: err}
	}
	return &decoded, nil
}

// get issues an authenticated GET to an absolute URL (blob downloads).
func (c *Client) get(ctx context.Context, s *types.Session, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build download request")
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Msg: "download", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode, Msg: resp.Status}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TransportError{Status: resp.StatusCode, Msg: "download: " + resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Msg: "read download body", Err: err}
	}
	return data, nil
}
