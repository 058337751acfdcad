package jmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/brandon/jmapmail/pkg/types"
)

// ResolveBlobURL expands the session's download URL template for one blob.
// Returns empty string when the session carries no download template; callers
// treat that as "no link available" rather than an error.
func ResolveBlobURL(s *types.Session, blobID, name, mimeType string) string {
	if s == nil || s.DownloadURL == "" {
		return ""
	}
	if name == "" {
		name = "attachment"
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	r := strings.NewReplacer(
		"{accountId}", url.PathEscape(s.AccountID),
		"{blobId}", url.PathEscape(blobID),
		"{name}", url.PathEscape(name),
		"{type}", url.QueryEscape(mimeType),
	)
	return r.Replace(s.DownloadURL)
}

// UploadBlob uploads raw bytes to the account's upload endpoint and returns
// the server-assigned blob id. The context cancels an in-flight upload.
func (c *Client) UploadBlob(ctx context.Context, s *types.Session, mimeType string, data []byte) (string, int64, error) {
	if s == nil || s.UploadURL == "" {
		return "", 0, &AuthError{Msg: "no session"}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	uploadURL := strings.ReplaceAll(s.UploadURL, "{accountId}", url.PathEscape(s.AccountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", 0, errors.Wrap(err, "building upload request")
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, &TransportError{Msg: "blob upload failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", 0, &AuthError{Status: resp.StatusCode, Msg: "upload rejected"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", 0, &TransportError{Status: resp.StatusCode, Msg: fmt.Sprintf("upload returned %d", resp.StatusCode)}
	}

	var result struct {
		BlobID string `json:"blobId"`
		Size   int64  `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, &ProtocolError{Msg: "decode upload response", Err: err}
	}
	if result.BlobID == "" {
		return "", 0, &ProtocolError{Msg: "upload response missing blobId"}
	}

	c.logger.WithField("blobId", result.BlobID).WithField("size", result.Size).Debug("Uploaded blob")
	return result.BlobID, result.Size, nil
}

// DownloadBlob fetches a blob's raw bytes through the authenticated download
// endpoint.
func (c *Client) DownloadBlob(ctx context.Context, s *types.Session, blobID, name, mimeType string) ([]byte, error) {
	blobURL := ResolveBlobURL(s, blobID, name, mimeType)
	if blobURL == "" {
		return nil, &AuthError{Msg: "no session"}
	}
	return c.get(ctx, s, blobURL)
}

// FetchCalendarICS locates the calendar part of a message and downloads its
// raw ICS text.
func (c *Client) FetchCalendarICS(ctx context.Context, s *types.Session, emailID string) (string, error) {
	wires, err := c.fetchEmails(ctx, s, []string{emailID}, false, []string{"id", "bodyStructure"})
	if err != nil {
		return "", err
	}
	if len(wires) == 0 {
		return "", &ProtocolError{Msg: "message not found: " + emailID}
	}

	blobID := findCalendarBlobID(wires[0].BodyStructure)
	if blobID == "" {
		return "", &ProtocolError{Msg: "no calendar part in message " + emailID}
	}

	data, err := c.DownloadBlob(ctx, s, blobID, "invite.ics", "text/calendar")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
