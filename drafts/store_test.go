////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package drafts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/elixxir/prefsync/gateway"
	"gitlab.com/elixxir/prefsync/prefs"
)

const (
	testTimeout = 2 * time.Second
	// Short debounce so coalescing tests stay fast.
	testDebounce = 100 * time.Millisecond
)

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

func (m *mockGateway) get(accountID, key string) (string, bool) {
	m.mux.Lock()
	defer m.mux.Unlock()
	v, exists := m.details[accountID][key]
	return v, exists
}

func (m *mockGateway) storedContainer(t *testing.T,
	accountID string) (Container, bool) {
	doc, exists := m.get(accountID, prefs.KeyDrafts)
	if !exists {
		return Container{}, false
	}
	c, err := DecodeContainer(doc)
	require.NoError(t, err)
	return c, true
}

func newTestStore(t *testing.T, gw *mockGateway) (*Store, *gateway.Writer) {
	w := gateway.NewWriter(gw)
	t.Cleanup(w.Stop)
	s := NewStore(gw, w, "device-1", testDebounce)
	s.ObserveAccount("acct")
	require.True(t, s.WaitUntilLoaded(testTimeout))
	return s, w
}

// Tests that a burst of text edits within the debounce window yields
// exactly one persisted write carrying the final text.
func TestStore_DebounceCoalescing(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	s.UpdateDraft("conv", "H")
	s.UpdateDraft("conv", "He")
	s.UpdateDraft("conv", "Hello")

	// In-memory state is current before any write happens.
	d, exists := s.Draft("conv")
	require.True(t, exists)
	require.Equal(t, "Hello", d.Text)
	require.Equal(t, 0, gw.numSets())

	time.Sleep(3 * testDebounce)
	w.Flush()

	require.Equal(t, 1, gw.numSets())
	stored, exists := gw.storedContainer(t, "acct")
	require.True(t, exists)
	require.Equal(t, "Hello", stored.Drafts["conv"].Text)
	require.Equal(t, "device-1", stored.Drafts["conv"].Device)
}

// Tests that reply-to edits persist before the debounce window elapses and
// cancel the pending timer, so no second write follows.
func TestStore_ImmediateWriteBypass(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	s.UpdateDraft("conv", "text")
	s.SetReplyTo("conv", "m1")
	w.Flush()

	// Persisted well before the debounce delay.
	require.Equal(t, 1, gw.numSets())
	stored, exists := gw.storedContainer(t, "acct")
	require.True(t, exists)
	require.Equal(t, "text", stored.Drafts["conv"].Text)
	require.Equal(t, "m1", stored.Drafts["conv"].ReplyTo)

	// The cancelled debounce timer never fires a second write.
	time.Sleep(3 * testDebounce)
	w.Flush()
	require.Equal(t, 1, gw.numSets())
}

// Tests attachment edits: immediate persistence, copy-on-write for unknown
// conversations, and no-op removal of absent attachments.
func TestStore_Attachments(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	// No prior draft: copy-on-write creates one.
	s.AddAttachment("conv", "/tmp/a.png")
	w.Flush()
	require.Equal(t, 1, gw.numSets())

	d, exists := s.Draft("conv")
	require.True(t, exists)
	require.Equal(t, []string{"/tmp/a.png"}, d.Attachments)

	// Removing an attachment that is not there writes nothing.
	s.RemoveAttachment("conv", "/tmp/other.png")
	w.Flush()
	require.Equal(t, 1, gw.numSets())

	s.RemoveAttachment("conv", "/tmp/a.png")
	w.Flush()
	require.Equal(t, 2, gw.numSets())
	d, _ = s.Draft("conv")
	require.Empty(t, d.Attachments)
}

// Tests that ClearDraft removes the entry, cancels the pending timer, and
// persists immediately.
func TestStore_ClearDraft(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	s.UpdateDraft("conv", "doomed")
	s.ClearDraft("conv")
	w.Flush()

	require.Equal(t, 1, gw.numSets())
	_, exists := s.Draft("conv")
	require.False(t, exists)

	stored, exists := gw.storedContainer(t, "acct")
	require.True(t, exists)
	require.Empty(t, stored.Drafts)
	require.NotZero(t, stored.LastSynced)

	// The cancelled timer does not resurrect the draft.
	time.Sleep(3 * testDebounce)
	w.Flush()
	require.Equal(t, 1, gw.numSets())

	// Clearing again is a no-op.
	s.ClearDraft("conv")
	w.Flush()
	require.Equal(t, 1, gw.numSets())
}

// Tests that ClearAllDrafts removes the drafts key from the remote map.
func TestStore_ClearAllDrafts(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	s.AddAttachment("convA", "/tmp/a.png")
	s.UpdateDraft("convB", "pending")
	w.Flush()

	s.ClearAllDrafts()
	w.Flush()

	require.Empty(t, s.All().Drafts)
	_, exists := gw.get("acct", prefs.KeyDrafts)
	require.False(t, exists)

	// Pending debounce for convB was cancelled.
	time.Sleep(3 * testDebounce)
	w.Flush()
	_, exists = gw.get("acct", prefs.KeyDrafts)
	require.False(t, exists)
}

// Tests that StopObserving flushes a pending debounced edit synchronously
// before resetting, so no data is lost on teardown.
func TestStore_TeardownFlush(t *testing.T) {
	gw := newMockGateway()
	s, _ := newTestStore(t, gw)

	s.UpdateDraft("conv", "pending")
	s.StopObserving()

	// Persisted despite the debounce delay not having elapsed.
	stored, exists := gw.storedContainer(t, "acct")
	require.True(t, exists)
	require.Equal(t, "pending", stored.Drafts["conv"].Text)

	// The store itself is reset.
	require.Empty(t, s.All().Drafts)

	// Nothing else is written after teardown.
	sets := gw.numSets()
	time.Sleep(3 * testDebounce)
	require.Equal(t, sets, gw.numSets())
}

// Tests that a store with no unpersisted edits does not write on teardown,
// so a fresh observer cannot clobber remote drafts with its empty state.
func TestStore_TeardownCleanNoWrite(t *testing.T) {
	gw := newMockGateway()
	s, _ := newTestStore(t, gw)

	s.StopObserving()
	require.Equal(t, 0, gw.numSets())
}

// Tests the merge entry point: newer remote drafts are adopted, older ones
// ignored, and watermark-gated deletions applied, with listeners told of
// each change.
func TestStore_OnAccountDetailsChanged(t *testing.T) {
	gw := newMockGateway()
	s, w := newTestStore(t, gw)

	type event struct {
		id      string
		draft   Draft
		removed bool
	}
	events := make(chan event, 10)
	s.RegisterListener(func(id string, d Draft, removed bool) {
		events <- event{id, d, removed}
	})

	s.UpdateDraft("mine", "local edit")
	s.UpdateDraft("shared", "local version")
	<-events
	<-events
	time.Sleep(3 * testDebounce)
	w.Flush()

	local := s.All()

	remote := Container{
		Drafts: map[string]Draft{
			// Older than the local edit: ignored.
			"shared": {Text: "stale", Attachments: []string{},
				LastModified: local.Drafts["shared"].LastModified - 10,
				Device:       "device-2"},
			// Unknown conversation: adopted.
			"theirs": {Text: "remote draft", Attachments: []string{},
				LastModified: local.Drafts["shared"].LastModified,
				Device:       "device-2"},
		},
		// Watermark behind local: "mine" must survive.
		LastSynced: local.LastSynced - 1,
	}
	doc, err := EncodeContainer(remote)
	require.NoError(t, err)

	s.OnAccountDetailsChanged("acct",
		map[string]string{prefs.KeyDrafts: doc})

	select {
	case e := <-events:
		require.Equal(t, "theirs", e.id)
		require.False(t, e.removed)
		require.Equal(t, "remote draft", e.draft.Text)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for merge event")
	}

	all := s.All()
	require.Equal(t, "local edit", all.Drafts["mine"].Text)
	require.Equal(t, "local version", all.Drafts["shared"].Text)

	// Now a remote snapshot with an advanced watermark and no entry for
	// "mine": the draft was cleared on another device.
	remote = Container{
		Drafts: map[string]Draft{
			"shared": all.Drafts["shared"],
			"theirs": all.Drafts["theirs"],
		},
		LastSynced: all.LastSynced + 10,
	}
	doc, err = EncodeContainer(remote)
	require.NoError(t, err)
	s.OnAccountDetailsChanged("acct",
		map[string]string{prefs.KeyDrafts: doc})

	select {
	case e := <-events:
		require.Equal(t, "mine", e.id)
		require.True(t, e.removed)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for removal event")
	}
	_, exists := s.Draft("mine")
	require.False(t, exists)

	// Redundant delivery is a no-op.
	s.OnAccountDetailsChanged("acct",
		map[string]string{prefs.KeyDrafts: doc})
	select {
	case e := <-events:
		t.Fatalf("redundant delivery produced event %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

// Tests that notifications for other accounts and undecodable documents
// are ignored.
func TestStore_IgnoresForeignAndCorrupt(t *testing.T) {
	gw := newMockGateway()
	s, _ := newTestStore(t, gw)

	s.UpdateDraft("conv", "keep")

	remote := Container{Drafts: map[string]Draft{}, LastSynced: 1 << 62}
	doc, err := EncodeContainer(remote)
	require.NoError(t, err)

	s.OnAccountDetailsChanged("other",
		map[string]string{prefs.KeyDrafts: doc})
	s.OnAccountDetailsChanged("acct",
		map[string]string{prefs.KeyDrafts: `{"drafts": [`})

	d, exists := s.Draft("conv")
	require.True(t, exists)
	require.Equal(t, "keep", d.Text)
}

// Tests two stores converging through one shared ekv-backed gateway, the
// way two devices converge through the daemon's replicated map.
func TestStore_TwoDeviceConvergence(t *testing.T) {
	gwStore := gateway.NewStore(ekv.MakeMemstore())

	writerA := gateway.NewWriter(gwStore)
	defer writerA.Stop()
	writerB := gateway.NewWriter(gwStore)
	defer writerB.Stop()

	deviceA := NewStore(gwStore, writerA, "device-a", testDebounce)
	deviceB := NewStore(gwStore, writerB, "device-b", testDebounce)

	gwStore.RegisterListener(deviceA.OnAccountDetailsChanged)
	gwStore.RegisterListener(deviceB.OnAccountDetailsChanged)

	deviceA.ObserveAccount("acct")
	deviceB.ObserveAccount("acct")
	require.True(t, deviceA.WaitUntilLoaded(testTimeout))
	require.True(t, deviceB.WaitUntilLoaded(testTimeout))

	// A writes a draft; B observes it through the change notification.
	deviceA.SetReplyTo("conv", "m1")
	writerA.Flush()

	require.Eventually(t, func() bool {
		d, exists := deviceB.Draft("conv")
		return exists && d.ReplyTo == "m1"
	}, testTimeout, 10*time.Millisecond)

	// B clears it; A converges on the deletion.
	deviceB.ClearDraft("conv")
	writerB.Flush()

	require.Eventually(t, func() bool {
		_, exists := deviceA.Draft("conv")
		return !exists
	}, testTimeout, 10*time.Millisecond)
}
