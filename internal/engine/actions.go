package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/brandon/jmapmail/pkg/types"
)

// Action kinds for reversible removals.
const (
	ActionArchive = "archive"
	ActionTrash   = "trash"
	ActionMove    = "move"
)

const (
	roleArchive = "archive"
	roleTrash   = "trash"
	roleDrafts  = "drafts"
	roleSent    = "sent"
)

// Archive optimistically removes the message from the window, pushes an undo
// entry, and moves it to the archive mailbox on the server. On failure the
// removal and the undo entry are both reversed.
func (e *Engine) Archive(emailID string) error {
	e.mu.Lock()
	target := e.mailboxByRole(roleArchive)
	e.mu.Unlock()
	if target == "" {
		return fmt.Errorf("no archive mailbox")
	}
	return e.removeAction(ActionArchive, emailID, target)
}

// Trash moves the message to the trash mailbox, otherwise identical to
// Archive.
func (e *Engine) Trash(emailID string) error {
	e.mu.Lock()
	target := e.mailboxByRole(roleTrash)
	e.mu.Unlock()
	if target == "" {
		return fmt.Errorf("no trash mailbox")
	}
	return e.removeAction(ActionTrash, emailID, target)
}

// Move sends the message to an explicit mailbox.
func (e *Engine) Move(emailID, mailboxID string) error {
	return e.removeAction(ActionMove, emailID, mailboxID)
}

func (e *Engine) removeAction(action, emailID, targetMailboxID string) error {
	s, err := e.currentSession()
	if err != nil {
		return err
	}

	e.mu.Lock()
	item, index, ok := e.store.Remove(emailID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("message %s not in view", emailID)
	}
	entry := &UndoEntry{
		Action:        action,
		EmailID:       emailID,
		RemovedItem:   item,
		OriginalIndex: index,
		FromMailboxID: e.view.MailboxID,
		View:          e.view,
		Timestamp:     time.Now(),
	}
	e.undoStack = append(e.undoStack, entry)
	e.adjustCountsForRemoval(&item, -1)
	e.maybeRefill()
	epoch := e.epoch
	e.mu.Unlock()

	e.emit(Event{Type: EventListChanged})
	e.emit(Event{Type: EventCountsChanged})

	go func() {
		ok, err := e.client.MoveToMailbox(context.Background(), s, emailID, targetMailboxID)
		if err == nil && !ok {
			err = fmt.Errorf("server did not confirm %s of %s", action, emailID)
		}
		if err == nil {
			return
		}
		e.noteError(err)

		e.mu.Lock()
		if e.epoch == epoch {
			e.store.InsertAt(item, index)
			e.adjustCountsForRemoval(&item, +1)
		}
		e.dropUndoEntry(entry)
		e.mu.Unlock()

		e.emit(Event{Type: EventListChanged})
		e.emit(Event{Type: EventCountsChanged})
		e.emit(Event{Type: EventActionFailed, EmailID: emailID, Err: err.Error()})
	}()

	return nil
}

// ToggleRead flips the unread flag optimistically and confirms with the
// server; a failure flips it back.
func (e *Engine) ToggleRead(emailID string) error {
	s, err := e.currentSession()
	if err != nil {
		return err
	}

	e.mu.Lock()
	item, found := e.store.Get(emailID)
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("message %s not in view", emailID)
	}
	nowUnread := !item.Unread
	e.store.Update(emailID, func(s *types.EmailSummary) { s.Unread = nowUnread })
	if nowUnread {
		e.unreadCount++
	} else {
		e.unreadCount--
	}
	epoch := e.epoch
	e.mu.Unlock()

	e.emit(Event{Type: EventListChanged})
	e.emit(Event{Type: EventCountsChanged})

	go func() {
		var ok bool
		var err error
		if nowUnread {
			ok, err = e.client.MarkUnread(context.Background(), s, emailID)
		} else {
			ok, err = e.client.MarkRead(context.Background(), s, emailID)
		}
		if err == nil && !ok {
			err = fmt.Errorf("server did not confirm read toggle of %s", emailID)
		}
		if err == nil {
			return
		}
		e.noteError(err)

		e.mu.Lock()
		if e.epoch == epoch {
			e.store.Update(emailID, func(s *types.EmailSummary) { s.Unread = !nowUnread })
			if nowUnread {
				e.unreadCount--
			} else {
				e.unreadCount++
			}
		}
		e.mu.Unlock()

		e.emit(Event{Type: EventListChanged})
		e.emit(Event{Type: EventCountsChanged})
		e.emit(Event{Type: EventActionFailed, EmailID: emailID, Err: err.Error()})
	}()

	return nil
}

// ToggleFlag flips the flagged star, same discipline as ToggleRead.
func (e *Engine) ToggleFlag(emailID string) error {
	s, err := e.currentSession()
	if err != nil {
		return err
	}

	e.mu.Lock()
	item, found := e.store.Get(emailID)
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("message %s not in view", emailID)
	}
	nowFlagged := !item.Flagged
	e.store.Update(emailID, func(s *types.EmailSummary) { s.Flagged = nowFlagged })
	epoch := e.epoch
	e.mu.Unlock()

	e.emit(Event{Type: EventListChanged})

	go func() {
		ok, err := e.client.SetFlagged(context.Background(), s, emailID, nowFlagged)
		if err == nil && !ok {
			err = fmt.Errorf("server did not confirm flag toggle of %s", emailID)
		}
		if err == nil {
			return
		}
		e.noteError(err)

		e.mu.Lock()
		if e.epoch == epoch {
			e.store.Update(emailID, func(s *types.EmailSummary) { s.Flagged = !nowFlagged })
		}
		e.mu.Unlock()

		e.emit(Event{Type: EventListChanged})
		e.emit(Event{Type: EventActionFailed, EmailID: emailID, Err: err.Error()})
	}()

	return nil
}

// Undo pops the most recent entry and reinserts the removed message at its
// original index, then moves it back on the server. A failed undo removes
// the reinserted message again.
func (e *Engine) Undo() error {
	s, err := e.currentSession()
	if err != nil {
		return err
	}

	e.mu.Lock()
	if len(e.undoStack) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("nothing to undo")
	}
	entry := e.undoStack[len(e.undoStack)-1]
	e.undoStack = e.undoStack[:len(e.undoStack)-1]
	// Reinsert locally only while the entry's view is still on screen; a
	// different view's window must not receive the item. The server move
	// back happens either way.
	sameView := e.view == entry.View
	if sameView {
		e.store.InsertAt(entry.RemovedItem, entry.OriginalIndex)
		e.adjustCountsForRemoval(&entry.RemovedItem, +1)
	}
	epoch := e.epoch
	e.mu.Unlock()

	if sameView {
		e.emit(Event{Type: EventListChanged})
		e.emit(Event{Type: EventCountsChanged})
	}

	go func() {
		ok, err := e.client.MoveToMailbox(context.Background(), s, entry.EmailID, entry.FromMailboxID)
		if err == nil && !ok {
			err = fmt.Errorf("server did not confirm undo of %s", entry.EmailID)
		}
		if err == nil {
			return
		}
		e.noteError(err)

		e.mu.Lock()
		if sameView && e.epoch == epoch {
			if removed, _, found := e.store.Remove(entry.EmailID); found {
				e.adjustCountsForRemoval(&removed, -1)
			}
		}
		e.mu.Unlock()

		e.emit(Event{Type: EventListChanged})
		e.emit(Event{Type: EventCountsChanged})
		e.emit(Event{Type: EventActionFailed, EmailID: entry.EmailID, Err: err.Error()})
	}()

	return nil
}

// UnsubscribeSender archives every cached message whose sender address
// matches exactly, case-insensitively, in a single server round trip. On
// failure the whole batch is restored sorted by received time descending,
// since positions may have shifted.
func (e *Engine) UnsubscribeSender(sender string) error {
	s, err := e.currentSession()
	if err != nil {
		return err
	}

	e.mu.Lock()
	target := e.mailboxByRole(roleArchive)
	if target == "" {
		e.mu.Unlock()
		return fmt.Errorf("no archive mailbox")
	}
	removed := e.store.RemoveBySender(sender)
	if len(removed) == 0 {
		e.mu.Unlock()
		return nil
	}
	ids := make([]string, len(removed))
	for i := range removed {
		ids[i] = removed[i].ID
		e.adjustCountsForRemoval(&removed[i], -1)
	}
	e.maybeRefill()
	epoch := e.epoch
	e.mu.Unlock()

	e.emit(Event{Type: EventListChanged})
	e.emit(Event{Type: EventCountsChanged})

	go func() {
		confirmed, err := e.client.MoveBatch(context.Background(), s, ids, target)
		if err == nil && confirmed < len(ids) {
			err = fmt.Errorf("server confirmed %d of %d messages", confirmed, len(ids))
		}
		if err == nil {
			return
		}
		e.noteError(err)

		e.mu.Lock()
		if e.epoch == epoch {
			e.store.RestoreSorted(removed)
			for i := range removed {
				e.adjustCountsForRemoval(&removed[i], +1)
			}
		}
		e.mu.Unlock()

		e.emit(Event{Type: EventListChanged})
		e.emit(Event{Type: EventCountsChanged})
		e.emit(Event{Type: EventActionFailed, Err: err.Error()})
	}()

	return nil
}

// dropUndoEntry removes a specific entry wherever it sits in the stack.
// Caller holds the lock.
func (e *Engine) dropUndoEntry(entry *UndoEntry) {
	for i := range e.undoStack {
		if e.undoStack[i] == entry {
			e.undoStack = append(e.undoStack[:i], e.undoStack[i+1:]...)
			return
		}
	}
}
