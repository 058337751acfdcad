package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brandon/jmapmail/internal/calendar"
	"github.com/brandon/jmapmail/pkg/types"
)

// AddAttachment starts uploading data for the current compose session and
// returns the pending record immediately. Progress arrives as
// attachment_changed events; Cancel on the record aborts the transfer.
func (e *Engine) AddAttachment(name, mimeType string, data []byte) (*types.PendingAttachment, error) {
	s, err := e.currentSession()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	pa := &types.PendingAttachment{
		LocalID:  uuid.NewString(),
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Status:   types.UploadInProgress,
		Cancel:   cancel,
	}

	e.mu.Lock()
	e.pending[pa.LocalID] = pa
	e.mu.Unlock()
	e.emit(Event{Type: EventAttachmentChanged, Attachment: pa})

	go func() {
		blobID, size, err := e.client.UploadBlob(ctx, s, mimeType, data)

		e.mu.Lock()
		current, ok := e.pending[pa.LocalID]
		if !ok {
			// Cancelled and removed while the upload was in flight.
			e.mu.Unlock()
			return
		}
		if err != nil {
			current.Status = types.UploadError
		} else {
			current.Status = types.UploadReady
			current.RemoteBlobID = blobID
			current.Size = size
		}
		e.mu.Unlock()

		if err != nil {
			e.noteError(err)
			e.logger.WithError(err).WithField("name", name).Warn("Attachment upload failed")
		}
		e.emit(Event{Type: EventAttachmentChanged, Attachment: current})
	}()

	return pa, nil
}

// CancelAttachment aborts an in-flight upload and removes the record.
func (e *Engine) CancelAttachment(localID string) {
	e.mu.Lock()
	pa, ok := e.pending[localID]
	if ok {
		delete(e.pending, localID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if pa.Cancel != nil {
		pa.Cancel()
	}
	e.emit(Event{Type: EventAttachmentChanged, Attachment: pa})
}

// PendingAttachments returns the compose session's upload records.
func (e *Engine) PendingAttachments() []types.PendingAttachment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.PendingAttachment, 0, len(e.pending))
	for _, pa := range e.pending {
		out = append(out, *pa)
	}
	return out
}

// SendMessage sends the composed message, attaching every upload that
// reached ready state, and clears the compose session on success.
func (e *Engine) SendMessage(ctx context.Context, msg *types.OutgoingMessage) (string, error) {
	s, err := e.currentSession()
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	identityID := e.identityFor(msg.From)
	draftsID := e.mailboxByRole(roleDrafts)
	sentID := e.mailboxByRole(roleSent)
	for _, pa := range e.pending {
		if pa.Status == types.UploadReady {
			msg.Attachments = append(msg.Attachments, types.Attachment{
				BlobID:   pa.RemoteBlobID,
				Name:     pa.Name,
				MimeType: pa.MimeType,
				Size:     pa.Size,
			})
		}
	}
	e.mu.Unlock()

	if identityID == "" {
		return "", fmt.Errorf("no sending identity for %q", msg.From)
	}

	emailID, err := e.client.SendEmail(ctx, s, msg, identityID, draftsID, sentID)
	if err != nil {
		e.noteError(err)
		return "", err
	}

	e.mu.Lock()
	e.pending = map[string]*types.PendingAttachment{}
	e.mu.Unlock()

	e.emit(Event{Type: EventMessageSent, EmailID: emailID})
	return emailID, nil
}

// RespondToInvite sends an RSVP reply for the calendar invite on the open
// message and updates the local invite projection. status is a PARTSTAT
// value: ACCEPTED, DECLINED, or TENTATIVE.
func (e *Engine) RespondToInvite(ctx context.Context, emailID, status string) error {
	if _, err := e.currentSession(); err != nil {
		return err
	}

	e.mu.Lock()
	detail, ok := e.store.GetDetail(emailID)
	identity := e.defaultIdentity()
	e.mu.Unlock()
	if !ok || detail.Invite == nil {
		return fmt.Errorf("message %s has no calendar invite", emailID)
	}
	if identity == nil {
		return fmt.Errorf("no sending identity")
	}
	invite := detail.Invite
	if invite.OrganizerEmail == "" {
		return fmt.Errorf("invite on %s has no organizer", emailID)
	}

	reply := &types.OutgoingMessage{
		From:        identity.Email,
		To:          []string{invite.OrganizerEmail},
		Subject:     rsvpSubject(status, invite.Summary),
		TextBody:    fmt.Sprintf("%s responded %s to this invitation.", identity.Email, strings.ToLower(status)),
		CalendarICS: calendar.GenerateRSVP(invite, identity.Email, status),
	}
	if _, err := e.SendMessage(ctx, reply); err != nil {
		return err
	}

	e.mu.Lock()
	calendar.UpdatePartstat(invite, identity.Email, status)
	e.mu.Unlock()
	return nil
}

func rsvpSubject(status, summary string) string {
	switch strings.ToUpper(status) {
	case "ACCEPTED":
		return "Accepted: " + summary
	case "DECLINED":
		return "Declined: " + summary
	default:
		return "Tentative: " + summary
	}
}

// identityFor matches a from address to a configured identity, falling back
// to the first identity. Caller holds the lock.
func (e *Engine) identityFor(from string) string {
	for i := range e.identities {
		if strings.EqualFold(e.identities[i].Email, from) {
			return e.identities[i].ID
		}
	}
	if len(e.identities) > 0 {
		return e.identities[0].ID
	}
	return ""
}

// defaultIdentity returns the first configured identity. Caller holds the
// lock.
func (e *Engine) defaultIdentity() *types.Identity {
	if len(e.identities) == 0 {
		return nil
	}
	id := e.identities[0]
	return &id
}
