////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package prefs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/prefsync/gateway"
)

const testTimeout = 2 * time.Second

// mockGateway is an in-memory AccountGateway that counts set calls.
type mockGateway struct {
	mux      sync.Mutex
	details  map[string]map[string]string
	setCalls int
}

func newMockGateway() *mockGateway {
	return &mockGateway{details: make(map[string]map[string]string)}
}

func (m *mockGateway) GetAccountDetails(accountID string) (
	map[string]string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	cp := make(map[string]string)
	for k, v := range m.details[accountID] {
		cp[k] = v
	}
	return cp, nil
}

func (m *mockGateway) SetAccountDetails(accountID string,
	details map[string]string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.setCalls++
	cp := make(map[string]string)
	for k, v := range details {
		cp[k] = v
	}
	m.details[accountID] = cp
	return nil
}

func (m *mockGateway) numSets() int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.setCalls
}

func (m *mockGateway) seed(accountID, key, doc string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.details[accountID] == nil {
		m.details[accountID] = make(map[string]string)
	}
	m.details[accountID][key] = doc
}

func (m *mockGateway) get(accountID, key string) (string, bool) {
	m.mux.Lock()
	defer m.mux.Unlock()
	v, exists := m.details[accountID][key]
	return v, exists
}

func newTestStore(t *testing.T, gw *mockGateway) (*Store, *gateway.Writer) {
	w := gateway.NewWriter(gw)
	t.Cleanup(w.Stop)
	s := NewStore(gw, w, "device-1")
	return s, w
}

// Tests that a mutator with the value already in effect performs zero
// persistence writes, and that a real change performs exactly one.
func TestStore_MutatorIdempotence(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))

	// Defaults: read receipts already enabled.
	s.UpdateReadReceipts(true)
	w.Flush()
	require.Equal(t, 0, gw.numSets())

	s.UpdateReadReceipts(false)
	w.Flush()
	require.Equal(t, 1, gw.numSets())

	s.UpdateReadReceipts(false)
	w.Flush()
	require.Equal(t, 1, gw.numSets())
}

// Tests that a persisted change writes the group document and the Meta
// document under their namespaced keys, preserving unrelated keys.
func TestStore_PersistWritesNamespacedKeys(t *testing.T) {
	gw := newMockGateway()
	gw.seed("acct", "Account.alias", "alice")
	s, w := newTestStore(t, gw)

	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))

	s.UpdateTheme(ThemeDark)
	w.Flush()

	doc, exists := gw.get("acct", KeyUI)
	require.True(t, exists)
	ui, err := DecodeUISettings(doc)
	require.NoError(t, err)
	require.Equal(t, ThemeDark, ui.Theme)

	metaDoc, exists := gw.get("acct", KeyMeta)
	require.True(t, exists)
	meta, err := DecodeMeta(metaDoc)
	require.NoError(t, err)
	require.Equal(t, "device-1", meta.LastUpdatedBy)
	require.NotZero(t, meta.LastUpdated)

	alias, exists := gw.get("acct", "Account.alias")
	require.True(t, exists)
	require.Equal(t, "alice", alias)
}

// Tests that a corrupt document for one group defaults only that group;
// sibling groups still load their stored values.
func TestStore_DecodeIsolation(t *testing.T) {
	gw := newMockGateway()
	gw.seed("acct", KeyUI, `{"theme": not even close`)

	privacy := PrivacySettings{
		ReadReceipts:         false,
		TypingIndicators:     false,
		BlockUnknownContacts: true,
		BlockedContacts:      []string{"jami:mallory"},
		ShowLinkPreviews:     false,
	}
	privacyDoc, err := EncodePrivacySettings(privacy)
	require.NoError(t, err)
	gw.seed("acct", KeyPrivacy, privacyDoc)

	s, _ := newTestStore(t, gw)
	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))

	require.Equal(t, DefaultUISettings(), s.UI())
	require.Equal(t, privacy, s.Privacy())
}

// Tests that a remote change notification for the active account triggers
// a full reload and notifies listeners, while notifications for other
// accounts and foreign keys are ignored.
func TestStore_OnAccountDetailsChanged(t *testing.T) {
	gw := newMockGateway()
	s, _ := newTestStore(t, gw)

	notified := make(chan UISettings, 10)
	s.RegisterUIListener(func(ui UISettings) { notified <- ui })

	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))

	remoteUI := UISettings{Theme: ThemeDark, FontScale: 1.5,
		Language: "de", ConversationSort: SortAlphabetical,
		CompactMode: true}
	doc, err := EncodeUISettings(remoteUI)
	require.NoError(t, err)
	gw.seed("acct", KeyUI, doc)

	// Wrong account: ignored.
	s.OnAccountDetailsChanged("other", map[string]string{KeyUI: doc})
	// Foreign key: ignored.
	s.OnAccountDetailsChanged("acct",
		map[string]string{"Account.alias": "x"})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, DefaultUISettings(), s.UI())

	// Matching account and namespaced key: full reload.
	s.OnAccountDetailsChanged("acct", map[string]string{KeyUI: doc})
	select {
	case got := <-notified:
		require.Equal(t, remoteUI, got)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for UI listener")
	}
	require.Equal(t, remoteUI, s.UI())
}

// Tests that redundant delivery of the same notification does not notify
// listeners twice with the same value.
func TestStore_RedundantDelivery(t *testing.T) {
	gw := newMockGateway()
	s, _ := newTestStore(t, gw)

	notified := make(chan UISettings, 10)
	s.RegisterUIListener(func(ui UISettings) { notified <- ui })

	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))

	doc, err := EncodeUISettings(UISettings{Theme: ThemeLight,
		FontScale: 1, ConversationSort: SortLastActivity})
	require.NoError(t, err)
	gw.seed("acct", KeyUI, doc)

	s.OnAccountDetailsChanged("acct", map[string]string{KeyUI: doc})
	<-notified

	s.OnAccountDetailsChanged("acct", map[string]string{KeyUI: doc})
	select {
	case <-notified:
		t.Fatal("reload without a change must not notify")
	case <-time.After(200 * time.Millisecond):
	}
}

// Tests the blocked-contact set semantics: sorted, deduplicated, and
// idempotent adds and removes.
func TestStore_BlockedContacts(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))

	s.AddBlockedContact("jami:charlie")
	s.AddBlockedContact("jami:alice")
	s.AddBlockedContact("jami:charlie")
	w.Flush()
	require.Equal(t, 2, gw.numSets())
	require.Equal(t, []string{"jami:alice", "jami:charlie"},
		s.Privacy().BlockedContacts)

	s.RemoveBlockedContact("jami:bob")
	w.Flush()
	require.Equal(t, 2, gw.numSets())

	s.RemoveBlockedContact("jami:alice")
	w.Flush()
	require.Equal(t, 3, gw.numSets())
	require.Equal(t, []string{"jami:charlie"},
		s.Privacy().BlockedContacts)
}

// Tests copy-on-write conversation overrides: mutating a conversation with
// no prior settings starts from the default, and clearing removes the
// entry.
func TestStore_ConversationSettings(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))

	s.UpdateConversationPinned("convA", true)
	got := s.Conversation("convA")
	require.True(t, got.Pinned)
	// Untouched fields come from the default.
	require.Equal(t, int64(-1), got.MuteUntil)

	s.UpdateConversationMuted("convA", true, 0)
	got = s.Conversation("convA")
	require.True(t, got.Muted)
	require.Equal(t, int64(0), got.MuteUntil)
	require.True(t, got.Pinned)

	// Idempotent update does not write.
	w.Flush()
	before := gw.numSets()
	s.UpdateConversationPinned("convA", true)
	w.Flush()
	require.Equal(t, before, gw.numSets())

	s.ClearConversationSettings("convA")
	require.Equal(t, DefaultConversationSettings(), s.Conversation("convA"))
	require.Empty(t, s.Conversations())

	// Clearing a conversation with no overrides is a no-op.
	w.Flush()
	before = gw.numSets()
	s.ClearConversationSettings("convB")
	w.Flush()
	require.Equal(t, before, gw.numSets())
}

// Tests that StopObserving flushes pending writes and resets every group
// to its default.
func TestStore_StopObserving(t *testing.T) {
	gw := newMockGateway()
	s, _ := newTestStore(t, gw)

	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))

	s.UpdateTheme(ThemeDark)
	s.StopObserving()

	doc, exists := gw.get("acct", KeyUI)
	require.True(t, exists)
	ui, err := DecodeUISettings(doc)
	require.NoError(t, err)
	require.Equal(t, ThemeDark, ui.Theme)

	require.Equal(t, DefaultUISettings(), s.UI())
	require.Equal(t, DefaultPrivacySettings(), s.Privacy())
}
