package engine

import (
	"context"
	"fmt"

	"jaytaylor.com/html2text"

	"github.com/brandon/jmapmail/internal/calendar"
	"github.com/brandon/jmapmail/pkg/types"
)

// OpenDetail makes emailID the open message. A cached detail renders
// immediately; otherwise the known summary fields are emitted first and the
// body is fetched in the background. The fetched body is rendered only if
// the same message is still open when it arrives; a stale result is cached
// but not shown. Opening an unread message marks it read, best effort.
func (e *Engine) OpenDetail(emailID string) error {
	s, err := e.currentSession()
	if err != nil {
		return err
	}

	e.mu.Lock()
	summary, found := e.store.Get(emailID)
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("message %s not in view", emailID)
	}
	e.openID = emailID
	epoch := e.epoch
	cached, haveDetail := e.store.GetDetail(emailID)
	e.mu.Unlock()

	if summary.Unread {
		e.markReadOnOpen(s, emailID)
	}

	if haveDetail {
		rendered := e.renderDetail(cached)
		e.emit(Event{Type: EventDetailLoaded, EmailID: emailID, Detail: rendered})
	} else {
		e.emit(Event{Type: EventDetailOpened, EmailID: emailID, Summary: &summary})
		go e.fetchDetail(s, emailID, epoch)
	}

	go e.prefetchAdjacent(s, emailID, epoch)
	return nil
}

func (e *Engine) fetchDetail(s *types.Session, emailID string, epoch uint64) {
	details, err := e.client.FetchDetails(context.Background(), s, []string{emailID})
	if err != nil {
		e.noteError(err)
		e.emit(Event{Type: EventActionFailed, EmailID: emailID, Err: err.Error()})
		return
	}
	if len(details) == 0 {
		e.emit(Event{Type: EventActionFailed, EmailID: emailID, Err: "message no longer exists"})
		return
	}

	detail := &details[0]
	e.attachInvite(context.Background(), s, detail)
	rendered := e.renderDetail(detail)

	e.mu.Lock()
	e.store.PutDetail(detail)
	current := e.epoch == epoch && e.openID == emailID
	e.mu.Unlock()

	if current {
		e.emit(Event{Type: EventDetailLoaded, EmailID: emailID, Detail: rendered})
	}
}

// markReadOnOpen clears the unread flag locally and confirms with the
// server. Failures are swallowed; the flag converges on the next fetch.
func (e *Engine) markReadOnOpen(s *types.Session, emailID string) {
	e.mu.Lock()
	changed := false
	e.store.Update(emailID, func(s *types.EmailSummary) {
		// A concurrent open may have cleared the flag already.
		if s.Unread {
			s.Unread = false
			changed = true
		}
	})
	if changed {
		e.unreadCount--
	}
	e.mu.Unlock()
	if !changed {
		return
	}

	e.emit(Event{Type: EventListChanged})
	e.emit(Event{Type: EventCountsChanged})

	go func() {
		if _, err := e.client.MarkRead(context.Background(), s, emailID); err != nil {
			e.noteError(err)
			e.logger.WithError(err).WithField("email_id", emailID).Debug("Mark-read on open failed")
		}
	}()
}

// prefetchAdjacent warms the detail cache for the next few messages after
// the open one. Best effort: results go straight to the cache, errors are
// swallowed, and a view switch drops the batch.
func (e *Engine) prefetchAdjacent(s *types.Session, emailID string, epoch uint64) {
	e.mu.Lock()
	var want []string
	index := e.store.IndexOf(emailID)
	if index >= 0 {
		ids := e.store.IDs()
		for i := index + 1; i < len(ids) && len(want) < e.opts.PrefetchCount; i++ {
			if !e.store.HasDetail(ids[i]) {
				want = append(want, ids[i])
			}
		}
	}
	e.mu.Unlock()
	if len(want) == 0 {
		return
	}

	details, err := e.client.FetchDetails(context.Background(), s, want)
	if err != nil {
		e.noteError(err)
		e.logger.WithError(err).Debug("Prefetch failed")
		return
	}

	for i := range details {
		e.attachInvite(context.Background(), s, &details[i])
	}

	e.mu.Lock()
	if e.epoch == epoch {
		for i := range details {
			e.store.PutDetail(&details[i])
		}
	}
	e.mu.Unlock()
}

// attachInvite fills the calendar projection for a message flagged as
// carrying a calendar part: fetch the ICS blob, parse it, and hang the
// invite on the detail. A fetch or parse failure leaves Invite nil; the
// message still renders.
func (e *Engine) attachInvite(ctx context.Context, s *types.Session, detail *types.EmailDetail) {
	if !detail.HasCalendar || detail.Invite != nil {
		return
	}
	ics, err := e.client.FetchCalendarICS(ctx, s, detail.ID)
	if err != nil {
		e.noteError(err)
		e.logger.WithError(err).WithField("email_id", detail.ID).Debug("Calendar fetch failed")
		return
	}
	detail.Invite = calendar.ParseICS(ics)
}

// renderDetail produces the display strings for a detail: sanitized HTML
// when the message has markup, escaped-and-autolinked text otherwise, plus
// the plain text used for reply quoting. When only an HTML body exists the
// quote text is derived from it.
func (e *Engine) renderDetail(detail *types.EmailDetail) *RenderedDetail {
	rendered := &RenderedDetail{Detail: detail, QuoteText: detail.TextBody}

	if detail.HTMLBody != "" {
		rendered.SafeHTML = e.sanitizer.HTML(detail.HTMLBody)
		if rendered.QuoteText == "" {
			text, err := html2text.FromString(detail.HTMLBody, html2text.Options{TextOnly: true})
			if err != nil {
				e.logger.WithError(err).WithField("email_id", detail.ID).Debug("Quote text derivation failed")
			} else {
				rendered.QuoteText = text
			}
		}
	} else {
		rendered.SafeHTML = e.sanitizer.Text(detail.TextBody)
	}

	return rendered
}
