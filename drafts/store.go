////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package drafts

import (
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/prefsync/debounce"
	"gitlab.com/elixxir/prefsync/gateway"
	"gitlab.com/elixxir/prefsync/prefs"
)

// Log constants.
const draftsLogHeader = "DRAFTS"

// DefaultDebounceDelay is the quiet period after the last text edit before
// a draft is flushed to the gateway.
const DefaultDebounceDelay = 1500 * time.Millisecond

// Listener receives draft changes: local edits, remote merges, and
// removals. It is invoked synchronously, outside the store's lock.
type Listener func(conversationID string, draft Draft, removed bool)

// draftEvent is one pending listener notification.
type draftEvent struct {
	conversationID string
	draft          Draft
	removed        bool
}

// Store holds the authoritative in-memory drafts for the observed account.
// Plain text edits are debounced; reply-to and attachment edits, which are
// higher-value and must not be lost to coalescing, persist immediately and
// cancel any pending debounce for their conversation. Remote containers
// merge entry by entry (see merge.go) rather than replacing local state.
type Store struct {
	mux sync.Mutex

	gw       gateway.AccountGateway
	writer   *gateway.Writer
	deviceID string
	now      func() time.Time
	sched    *debounce.Scheduler

	accountID string
	// epoch invalidates in-flight loads from a previous observation.
	epoch  uint64
	loaded bool
	// dirty is set by local mutators and cleared on persist; the teardown
	// flush only runs when local edits have not reached the gateway yet.
	dirty bool

	container Container

	listeners []Listener
}

// NewStore creates a draft store over the given gateway. The writer must
// be the same one used by the account's settings store. A non-positive
// debounceDelay falls back to DefaultDebounceDelay.
func NewStore(gw gateway.AccountGateway, writer *gateway.Writer,
	deviceID string, debounceDelay time.Duration) *Store {
	if debounceDelay <= 0 {
		debounceDelay = DefaultDebounceDelay
	}
	return &Store{
		gw:        gw,
		writer:    writer,
		deviceID:  deviceID,
		now:       netTime.Now,
		sched:     debounce.NewScheduler(debounceDelay),
		container: NewContainer(),
	}
}

// RegisterListener registers a draft change listener.
func (s *Store) RegisterListener(l Listener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.listeners = append(s.listeners, l)
}

// ObserveAccount sets the active account and begins an asynchronous load
// of the drafts document. Any previous observation is discarded and its
// pending timers cancelled.
func (s *Store) ObserveAccount(accountID string) {
	s.sched.StopAll()

	s.mux.Lock()
	s.accountID = accountID
	s.epoch++
	epoch := s.epoch
	s.container = NewContainer()
	s.loaded = false
	s.dirty = false
	s.mux.Unlock()

	jww.INFO.Printf("[%s] observing account %s", draftsLogHeader,
		accountID)

	go s.load(accountID, epoch)
}

// StopObserving cancels all pending debounce timers, synchronously flushes
// any unpersisted local edits, and resets the store. No write occurs after
// it returns.
func (s *Store) StopObserving() {
	s.sched.StopAll()

	s.mux.Lock()
	dirty := s.dirty
	accountID := s.accountID
	s.mux.Unlock()

	if dirty && accountID != "" {
		s.persist(true)
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	jww.INFO.Printf("[%s] stopped observing account %s", draftsLogHeader,
		s.accountID)
	s.accountID = ""
	s.epoch++
	s.container = NewContainer()
	s.loaded = false
	s.dirty = false
}

// OnAccountDetailsChanged is the change-notification entry point from the
// daemon. Notifications for other accounts, or without a drafts document,
// are ignored. Redundant deliveries merge to a no-op.
func (s *Store) OnAccountDetailsChanged(accountID string,
	details map[string]string) {
	s.mux.Lock()
	if accountID != s.accountID {
		s.mux.Unlock()
		return
	}
	epoch := s.epoch
	s.mux.Unlock()

	doc, exists := details[prefs.KeyDrafts]
	if !exists {
		return
	}

	remote, err := DecodeContainer(doc)
	if err != nil {
		jww.WARN.Printf("[%s] ignoring undecodable remote drafts: %+v",
			draftsLogHeader, err)
		return
	}

	s.mergeRemote(epoch, remote)
}

// WaitUntilLoaded polls until the initial load after ObserveAccount has
// completed or the timeout elapses. Returns true if loaded.
func (s *Store) WaitUntilLoaded(timeout time.Duration) bool {
	start := netTime.Now()
	for time.Since(start) < timeout {
		s.mux.Lock()
		loaded := s.loaded
		s.mux.Unlock()
		if loaded {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Draft returns the draft for a conversation, if one exists.
func (s *Store) Draft(conversationID string) (Draft, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	d, exists := s.container.Drafts[conversationID]
	if !exists {
		return Draft{}, false
	}
	return d.copy(), true
}

// All returns a copy of the full drafts container.
func (s *Store) All() Container {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.container.copy()
}

////////////////////////////////////////////////////////////////////////////
// Mutators
////////////////////////////////////////////////////////////////////////////

// UpdateDraft sets the draft text for a conversation and arms the debounce
// timer. A burst of edits within the quiet period coalesces into a single
// persisted write carrying the final text.
func (s *Store) UpdateDraft(conversationID, text string) {
	s.mutate(conversationID, func(d *Draft) {
		d.Text = text
	})
	s.sched.Schedule(conversationID, func() { s.persist(false) })
}

// SetReplyTo sets the message a draft replies to. Persists immediately,
// cancelling any pending debounce for the conversation so a later plain
// text edit's timer cannot supersede it.
func (s *Store) SetReplyTo(conversationID, messageID string) {
	s.mutate(conversationID, func(d *Draft) {
		d.ReplyTo = messageID
	})
	s.sched.Cancel(conversationID)
	s.persist(false)
}

// AddAttachment appends an attachment to a draft and persists immediately.
func (s *Store) AddAttachment(conversationID, uri string) {
	s.mutate(conversationID, func(d *Draft) {
		d.Attachments = append(d.Attachments, uri)
	})
	s.sched.Cancel(conversationID)
	s.persist(false)
}

// RemoveAttachment removes the first occurrence of an attachment from a
// draft and persists immediately. No-ops if the attachment is not present.
func (s *Store) RemoveAttachment(conversationID, uri string) {
	s.mux.Lock()
	d, exists := s.container.Drafts[conversationID]
	found := false
	if exists {
		for _, a := range d.Attachments {
			if a == uri {
				found = true
				break
			}
		}
	}
	s.mux.Unlock()
	if !found {
		return
	}

	s.mutate(conversationID, func(d *Draft) {
		for i, a := range d.Attachments {
			if a == uri {
				d.Attachments = append(
					d.Attachments[:i], d.Attachments[i+1:]...)
				return
			}
		}
	})
	s.sched.Cancel(conversationID)
	s.persist(false)
}

// ClearDraft removes a conversation's draft, cancelling any pending timer,
// and persists immediately. No-ops if no draft exists.
func (s *Store) ClearDraft(conversationID string) {
	s.sched.Cancel(conversationID)

	s.mux.Lock()
	if _, exists := s.container.Drafts[conversationID]; !exists {
		s.mux.Unlock()
		return
	}
	delete(s.container.Drafts, conversationID)
	s.dirty = true
	listeners := append([]Listener{}, s.listeners...)
	s.mux.Unlock()

	for _, l := range listeners {
		l(conversationID, Draft{}, true)
	}

	s.persist(false)
}

// ClearAllDrafts cancels every pending timer, clears in-memory state, and
// removes the drafts document from the remote map.
func (s *Store) ClearAllDrafts() {
	s.sched.StopAll()

	s.mux.Lock()
	accountID := s.accountID
	removed := make([]string, 0, len(s.container.Drafts))
	for id := range s.container.Drafts {
		removed = append(removed, id)
	}
	s.container = NewContainer()
	s.dirty = false
	listeners := append([]Listener{}, s.listeners...)
	metaDoc, metaErr := prefs.EncodeMeta(prefs.Meta{
		LastUpdated:   s.now().UnixMilli(),
		LastUpdatedBy: s.deviceID,
	})
	s.mux.Unlock()

	for _, id := range removed {
		for _, l := range listeners {
			l(id, Draft{}, true)
		}
	}

	if accountID == "" {
		return
	}
	m := gateway.Mutation{Delete: []string{prefs.KeyDrafts}}
	if metaErr == nil {
		m.Set = map[string]string{prefs.KeyMeta: metaDoc}
	}
	s.writer.ApplyAsync(accountID, m)
}

////////////////////////////////////////////////////////////////////////////
// Internals
////////////////////////////////////////////////////////////////////////////

// mutate applies a copy-on-write edit: a conversation with no draft yet
// starts from an empty one, so every mutator is safe to call without an
// existence check. The edit is stamped with this device's identity and the
// current time, then listeners are notified synchronously.
func (s *Store) mutate(conversationID string, edit func(*Draft)) {
	s.mux.Lock()
	d, exists := s.container.Drafts[conversationID]
	if !exists {
		d = NewDraft()
	} else {
		d = d.copy()
	}
	edit(&d)
	d.LastModified = s.now().UnixMilli()
	d.Device = s.deviceID
	s.container.Drafts[conversationID] = d
	s.dirty = true
	snap := d.copy()
	listeners := append([]Listener{}, s.listeners...)
	s.mux.Unlock()

	for _, l := range listeners {
		l(conversationID, snap, false)
	}
}

// load reads the drafts document from the gateway and merges it in. The
// initial merge against an empty container adopts the remote set
// wholesale.
func (s *Store) load(accountID string, epoch uint64) {
	defer s.markLoaded(epoch)

	details, err := s.gw.GetAccountDetails(accountID)
	if err != nil {
		jww.WARN.Printf("[%s] failed to load details for account %s, "+
			"keeping current state: %+v", draftsLogHeader, accountID, err)
		return
	}

	doc, exists := details[prefs.KeyDrafts]
	if !exists {
		return
	}

	remote, err := DecodeContainer(doc)
	if err != nil {
		jww.WARN.Printf("[%s] %+v", draftsLogHeader, err)
		return
	}

	s.mergeRemote(epoch, remote)
}

// mergeRemote folds a remotely observed container into local state and
// notifies listeners of every adopted or removed entry.
func (s *Store) mergeRemote(epoch uint64, remote Container) {
	s.mux.Lock()
	if epoch != s.epoch {
		s.mux.Unlock()
		return
	}

	merged, changed := merge(s.container, remote)
	if !changed {
		s.mux.Unlock()
		return
	}

	var events []draftEvent
	for id, d := range merged.Drafts {
		if old, exists := s.container.Drafts[id]; !exists || !old.Equals(d) {
			events = append(events, draftEvent{id, d.copy(), false})
		}
	}
	for id := range s.container.Drafts {
		if _, exists := merged.Drafts[id]; !exists {
			events = append(events, draftEvent{id, Draft{}, true})
		}
	}

	s.container = merged
	listeners := append([]Listener{}, s.listeners...)
	s.mux.Unlock()

	jww.DEBUG.Printf("[%s] merged remote drafts, %d entries changed",
		draftsLogHeader, len(events))

	for _, e := range events {
		for _, l := range listeners {
			l(e.conversationID, e.draft, e.removed)
		}
	}
}

func (s *Store) markLoaded(epoch uint64) {
	s.mux.Lock()
	if epoch == s.epoch {
		s.loaded = true
	}
	s.mux.Unlock()
}

// persist flushes the full container to the gateway through the shared
// writer, advancing the LastSynced watermark. When block is set the write
// completes before return (teardown flush); otherwise it is
// launch-and-forget on the writer queue.
func (s *Store) persist(block bool) {
	s.mux.Lock()
	accountID := s.accountID
	if accountID == "" {
		s.mux.Unlock()
		return
	}

	now := s.now().UnixMilli()
	s.container.LastSynced = now
	doc, err := EncodeContainer(s.container)
	if err != nil {
		s.mux.Unlock()
		jww.ERROR.Printf("[%s] failed to encode drafts document: %+v",
			draftsLogHeader, err)
		return
	}
	s.dirty = false

	set := map[string]string{prefs.KeyDrafts: doc}
	metaDoc, err := prefs.EncodeMeta(prefs.Meta{
		LastUpdated:   now,
		LastUpdatedBy: s.deviceID,
	})
	if err == nil {
		set[prefs.KeyMeta] = metaDoc
	} else {
		jww.ERROR.Printf("[%s] failed to encode meta document: %+v",
			draftsLogHeader, err)
	}
	s.mux.Unlock()

	m := gateway.Mutation{Set: set}
	if block {
		if err = s.writer.Apply(accountID, m); err != nil {
			jww.WARN.Printf("[%s] teardown flush failed: %+v",
				draftsLogHeader, err)
		}
	} else {
		s.writer.ApplyAsync(accountID, m)
	}
}
