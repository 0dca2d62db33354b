////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package prefs

import (
	"sort"
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/prefsync/gateway"
)

// Log constants.
const settingsLogHeader = "SETTINGS"

// Listener types. Listeners are invoked synchronously after a group's
// value changes, outside the store's lock.
type (
	UIListener           func(UISettings)
	PrivacyListener      func(PrivacySettings)
	NotificationListener func(NotificationSettings)
	CallListener         func(CallSettings)
	FileTransferListener func(FileTransferSettings)
	ConversationListener func(map[string]ConversationSettings)
)

// Store holds the authoritative in-memory copy of the user's settings
// groups and keeps them converged with the account-detail map. Mutators
// no-op on equal values, notify listeners synchronously, and persist the
// whole group document immediately through the shared single-writer queue.
// Remote changes trigger a full reload: group documents are rewritten
// wholesale, so no partial merge is needed at this layer.
type Store struct {
	mux sync.Mutex

	gw       gateway.AccountGateway
	writer   *gateway.Writer
	deviceID string
	now      func() time.Time

	accountID string
	// epoch invalidates in-flight loads from a previous observation.
	epoch  uint64
	loaded bool

	ui            UISettings
	privacy       PrivacySettings
	notifications NotificationSettings
	calls         CallSettings
	fileTransfer  FileTransferSettings
	conversations map[string]ConversationSettings
	meta          Meta

	uiListeners           []UIListener
	privacyListeners      []PrivacyListener
	notificationListeners []NotificationListener
	callListeners         []CallListener
	fileTransferListeners []FileTransferListener
	conversationListeners []ConversationListener
}

// NewStore creates a settings store over the given gateway. The writer
// must be the same one used by the account's draft store so that all
// read-modify-write cycles stay serialized. deviceID identifies this
// device in the Meta document.
func NewStore(gw gateway.AccountGateway, writer *gateway.Writer,
	deviceID string) *Store {
	s := &Store{
		gw:       gw,
		writer:   writer,
		deviceID: deviceID,
		now:      netTime.Now,
	}
	s.resetLocked()
	return s
}

// resetLocked restores every group to its default. Callers must hold mux.
func (s *Store) resetLocked() {
	s.ui = DefaultUISettings()
	s.privacy = DefaultPrivacySettings()
	s.notifications = DefaultNotificationSettings()
	s.calls = DefaultCallSettings()
	s.fileTransfer = DefaultFileTransferSettings()
	s.conversations = make(map[string]ConversationSettings)
	s.meta = DefaultMeta()
	s.loaded = false
}

// ObserveAccount sets the active account and begins an asynchronous load
// of all settings documents from the gateway. Any previous observation is
// discarded.
func (s *Store) ObserveAccount(accountID string) {
	s.mux.Lock()
	s.accountID = accountID
	s.epoch++
	epoch := s.epoch
	s.resetLocked()
	s.mux.Unlock()

	jww.INFO.Printf("[%s] observing account %s", settingsLogHeader,
		accountID)

	go s.load(accountID, epoch)
}

// StopObserving flushes pending writes, then resets the store to defaults.
func (s *Store) StopObserving() {
	s.writer.Flush()

	s.mux.Lock()
	defer s.mux.Unlock()
	jww.INFO.Printf("[%s] stopped observing account %s",
		settingsLogHeader, s.accountID)
	s.accountID = ""
	s.epoch++
	s.resetLocked()
}

// OnAccountDetailsChanged is the change-notification entry point from the
// daemon. Notifications for other accounts are ignored; a change to any
// settings key triggers the same full reload path as ObserveAccount.
// Delivery is at-least-once, so redundant reloads are harmless.
func (s *Store) OnAccountDetailsChanged(accountID string,
	details map[string]string) {
	s.mux.Lock()
	if accountID != s.accountID {
		s.mux.Unlock()
		return
	}
	epoch := s.epoch
	s.mux.Unlock()

	for key := range details {
		if IsSettingsKey(key) {
			go s.load(accountID, epoch)
			return
		}
	}
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

// load reads the full detail map and decodes every settings document
// present. A document that fails to decode only defaults its own group;
// sibling groups still load. A gateway failure leaves the current state
// untouched (stale but consistent).
func (s *Store) load(accountID string, epoch uint64) {
	details, err := s.gw.GetAccountDetails(accountID)
	if err != nil {
		jww.WARN.Printf("[%s] failed to load details for account %s, "+
			"keeping current state: %+v", settingsLogHeader, accountID,
			err)
		s.markLoaded(epoch)
		return
	}

	ui := DefaultUISettings()
	if doc, exists := details[KeyUI]; exists {
		if ui, err = DecodeUISettings(doc); err != nil {
			jww.WARN.Printf("[%s] %+v", settingsLogHeader, err)
		}
	}
	privacy := DefaultPrivacySettings()
	if doc, exists := details[KeyPrivacy]; exists {
		if privacy, err = DecodePrivacySettings(doc); err != nil {
			jww.WARN.Printf("[%s] %+v", settingsLogHeader, err)
		}
	}
	notifications := DefaultNotificationSettings()
	if doc, exists := details[KeyNotifications]; exists {
		if notifications, err = DecodeNotificationSettings(doc); err != nil {
			jww.WARN.Printf("[%s] %+v", settingsLogHeader, err)
		}
	}
	calls := DefaultCallSettings()
	if doc, exists := details[KeyCalls]; exists {
		if calls, err = DecodeCallSettings(doc); err != nil {
			jww.WARN.Printf("[%s] %+v", settingsLogHeader, err)
		}
	}
	fileTransfer := DefaultFileTransferSettings()
	if doc, exists := details[KeyFileTransfer]; exists {
		if fileTransfer, err = DecodeFileTransferSettings(doc); err != nil {
			jww.WARN.Printf("[%s] %+v", settingsLogHeader, err)
		}
	}
	conversations := make(map[string]ConversationSettings)
	if doc, exists := details[KeyConversations]; exists {
		if conversations, err = DecodeConversationSettings(doc); err != nil {
			jww.WARN.Printf("[%s] %+v", settingsLogHeader, err)
		}
	}
	meta := DefaultMeta()
	if doc, exists := details[KeyMeta]; exists {
		if meta, err = DecodeMeta(doc); err != nil {
			jww.WARN.Printf("[%s] %+v", settingsLogHeader, err)
		}
	}

	s.mux.Lock()
	if epoch != s.epoch {
		// A newer ObserveAccount or StopObserving superseded this load.
		s.mux.Unlock()
		return
	}

	uiChanged := s.ui != ui
	privacyChanged := !privacyEqual(s.privacy, privacy)
	notificationsChanged := s.notifications != notifications
	callsChanged := s.calls != calls
	fileTransferChanged := s.fileTransfer != fileTransfer
	conversationsChanged := !conversationsEqual(
		s.conversations, conversations)

	s.ui = ui
	s.privacy = privacy
	s.notifications = notifications
	s.calls = calls
	s.fileTransfer = fileTransfer
	s.conversations = conversations
	s.meta = meta
	s.loaded = true

	uiLs := append([]UIListener{}, s.uiListeners...)
	privacyLs := append([]PrivacyListener{}, s.privacyListeners...)
	notificationLs := append(
		[]NotificationListener{}, s.notificationListeners...)
	callLs := append([]CallListener{}, s.callListeners...)
	fileTransferLs := append(
		[]FileTransferListener{}, s.fileTransferListeners...)
	conversationLs := append(
		[]ConversationListener{}, s.conversationListeners...)
	conversationsSnap := copyConversations(conversations)
	s.mux.Unlock()

	if uiChanged {
		for _, l := range uiLs {
			l(ui)
		}
	}
	if privacyChanged {
		for _, l := range privacyLs {
			l(privacy)
		}
	}
	if notificationsChanged {
		for _, l := range notificationLs {
			l(notifications)
		}
	}
	if callsChanged {
		for _, l := range callLs {
			l(calls)
		}
	}
	if fileTransferChanged {
		for _, l := range fileTransferLs {
			l(fileTransfer)
		}
	}
	if conversationsChanged {
		for _, l := range conversationLs {
			l(conversationsSnap)
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

////////////////////////////////////////////////////////////////////////////
// Getters
////////////////////////////////////////////////////////////////////////////

// UI returns the current UI settings.
func (s *Store) UI() UISettings {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.ui
}

// Privacy returns the current privacy settings.
func (s *Store) Privacy() PrivacySettings {
	s.mux.Lock()
	defer s.mux.Unlock()
	p := s.privacy
	p.BlockedContacts = append([]string{}, s.privacy.BlockedContacts...)
	return p
}

// Notifications returns the current notification settings.
func (s *Store) Notifications() NotificationSettings {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.notifications
}

// Calls returns the current call settings.
func (s *Store) Calls() CallSettings {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.calls
}

// FileTransfer returns the current file-transfer settings.
func (s *Store) FileTransfer() FileTransferSettings {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.fileTransfer
}

// Conversations returns a copy of the per-conversation overrides.
func (s *Store) Conversations() map[string]ConversationSettings {
	s.mux.Lock()
	defer s.mux.Unlock()
	return copyConversations(s.conversations)
}

// Conversation returns the overrides for one conversation, or the default
// if none have been set.
func (s *Store) Conversation(conversationID string) ConversationSettings {
	s.mux.Lock()
	defer s.mux.Unlock()
	if c, exists := s.conversations[conversationID]; exists {
		return c
	}
	return DefaultConversationSettings()
}

// Meta returns the current metadata document.
func (s *Store) Meta() Meta {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.meta
}

////////////////////////////////////////////////////////////////////////////
// Listener registration
////////////////////////////////////////////////////////////////////////////

// RegisterUIListener registers a listener for UI settings changes.
func (s *Store) RegisterUIListener(l UIListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.uiListeners = append(s.uiListeners, l)
}

// RegisterPrivacyListener registers a listener for privacy changes.
func (s *Store) RegisterPrivacyListener(l PrivacyListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.privacyListeners = append(s.privacyListeners, l)
}

// RegisterNotificationListener registers a listener for notification
// settings changes.
func (s *Store) RegisterNotificationListener(l NotificationListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.notificationListeners = append(s.notificationListeners, l)
}

// RegisterCallListener registers a listener for call settings changes.
func (s *Store) RegisterCallListener(l CallListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.callListeners = append(s.callListeners, l)
}

// RegisterFileTransferListener registers a listener for file-transfer
// settings changes.
func (s *Store) RegisterFileTransferListener(l FileTransferListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.fileTransferListeners = append(s.fileTransferListeners, l)
}

// RegisterConversationListener registers a listener for per-conversation
// settings changes.
func (s *Store) RegisterConversationListener(l ConversationListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.conversationListeners = append(s.conversationListeners, l)
}

////////////////////////////////////////////////////////////////////////////
// UI mutators
////////////////////////////////////////////////////////////////////////////

// UpdateTheme sets the UI theme.
func (s *Store) UpdateTheme(theme Theme) {
	s.mutateUI(func(ui *UISettings) bool {
		if ui.Theme == theme {
			return false
		}
		ui.Theme = theme
		return true
	})
}

// UpdateFontScale sets the UI font scale.
func (s *Store) UpdateFontScale(scale float64) {
	s.mutateUI(func(ui *UISettings) bool {
		if ui.FontScale == scale {
			return false
		}
		ui.FontScale = scale
		return true
	})
}

// UpdateLanguage sets the UI language.
func (s *Store) UpdateLanguage(language string) {
	s.mutateUI(func(ui *UISettings) bool {
		if ui.Language == language {
			return false
		}
		ui.Language = language
		return true
	})
}

// UpdateConversationSort sets the conversation list ordering.
func (s *Store) UpdateConversationSort(sort ConversationSort) {
	s.mutateUI(func(ui *UISettings) bool {
		if ui.ConversationSort == sort {
			return false
		}
		ui.ConversationSort = sort
		return true
	})
}

// UpdateCompactMode sets compact mode.
func (s *Store) UpdateCompactMode(enabled bool) {
	s.mutateUI(func(ui *UISettings) bool {
		if ui.CompactMode == enabled {
			return false
		}
		ui.CompactMode = enabled
		return true
	})
}

////////////////////////////////////////////////////////////////////////////
// Privacy mutators
////////////////////////////////////////////////////////////////////////////

// UpdateReadReceipts sets whether read receipts are sent.
func (s *Store) UpdateReadReceipts(enabled bool) {
	s.mutatePrivacy(func(p *PrivacySettings) bool {
		if p.ReadReceipts == enabled {
			return false
		}
		p.ReadReceipts = enabled
		return true
	})
}

// UpdateTypingIndicators sets whether typing indicators are sent.
func (s *Store) UpdateTypingIndicators(enabled bool) {
	s.mutatePrivacy(func(p *PrivacySettings) bool {
		if p.TypingIndicators == enabled {
			return false
		}
		p.TypingIndicators = enabled
		return true
	})
}

// UpdateBlockUnknownContacts sets whether unknown contacts are blocked.
func (s *Store) UpdateBlockUnknownContacts(enabled bool) {
	s.mutatePrivacy(func(p *PrivacySettings) bool {
		if p.BlockUnknownContacts == enabled {
			return false
		}
		p.BlockUnknownContacts = enabled
		return true
	})
}

// AddBlockedContact adds a contact URI to the blocked set. No-ops if the
// URI is already blocked.
func (s *Store) AddBlockedContact(uri string) {
	s.mutatePrivacy(func(p *PrivacySettings) bool {
		i := sort.SearchStrings(p.BlockedContacts, uri)
		if i < len(p.BlockedContacts) && p.BlockedContacts[i] == uri {
			return false
		}
		blocked := make([]string, 0, len(p.BlockedContacts)+1)
		blocked = append(blocked, p.BlockedContacts[:i]...)
		blocked = append(blocked, uri)
		blocked = append(blocked, p.BlockedContacts[i:]...)
		p.BlockedContacts = blocked
		return true
	})
}

// RemoveBlockedContact removes a contact URI from the blocked set. No-ops
// if the URI is not blocked.
func (s *Store) RemoveBlockedContact(uri string) {
	s.mutatePrivacy(func(p *PrivacySettings) bool {
		i := sort.SearchStrings(p.BlockedContacts, uri)
		if i >= len(p.BlockedContacts) || p.BlockedContacts[i] != uri {
			return false
		}
		blocked := make([]string, 0, len(p.BlockedContacts)-1)
		blocked = append(blocked, p.BlockedContacts[:i]...)
		blocked = append(blocked, p.BlockedContacts[i+1:]...)
		p.BlockedContacts = blocked
		return true
	})
}

// UpdateShowLinkPreviews sets whether link previews are rendered.
func (s *Store) UpdateShowLinkPreviews(enabled bool) {
	s.mutatePrivacy(func(p *PrivacySettings) bool {
		if p.ShowLinkPreviews == enabled {
			return false
		}
		p.ShowLinkPreviews = enabled
		return true
	})
}

////////////////////////////////////////////////////////////////////////////
// Notification mutators
////////////////////////////////////////////////////////////////////////////

// UpdateNotificationsEnabled sets the global notification switch.
func (s *Store) UpdateNotificationsEnabled(enabled bool) {
	s.mutateNotifications(func(n *NotificationSettings) bool {
		if n.Enabled == enabled {
			return false
		}
		n.Enabled = enabled
		return true
	})
}

// UpdateCallNotifications sets whether calls notify.
func (s *Store) UpdateCallNotifications(enabled bool) {
	s.mutateNotifications(func(n *NotificationSettings) bool {
		if n.CallNotifications == enabled {
			return false
		}
		n.CallNotifications = enabled
		return true
	})
}

// UpdateMessageNotifications sets whether messages notify.
func (s *Store) UpdateMessageNotifications(enabled bool) {
	s.mutateNotifications(func(n *NotificationSettings) bool {
		if n.MessageNotifications == enabled {
			return false
		}
		n.MessageNotifications = enabled
		return true
	})
}

// UpdateNotificationSound sets the notification sound URI.
func (s *Store) UpdateNotificationSound(soundURI string) {
	s.mutateNotifications(func(n *NotificationSettings) bool {
		if n.SoundURI == soundURI {
			return false
		}
		n.SoundURI = soundURI
		return true
	})
}

// UpdateVibration sets whether notifications vibrate.
func (s *Store) UpdateVibration(enabled bool) {
	s.mutateNotifications(func(n *NotificationSettings) bool {
		if n.VibrationEnabled == enabled {
			return false
		}
		n.VibrationEnabled = enabled
		return true
	})
}

// UpdateQuietHours sets the quiet-hours window. Start and end are minutes
// of the day.
func (s *Store) UpdateQuietHours(enabled bool, start, end int) {
	s.mutateNotifications(func(n *NotificationSettings) bool {
		if n.QuietHoursEnabled == enabled && n.QuietHoursStart == start &&
			n.QuietHoursEnd == end {
			return false
		}
		n.QuietHoursEnabled = enabled
		n.QuietHoursStart = start
		n.QuietHoursEnd = end
		return true
	})
}

////////////////////////////////////////////////////////////////////////////
// Call mutators
////////////////////////////////////////////////////////////////////////////

// UpdateVideoEnabled sets whether calls start with video.
func (s *Store) UpdateVideoEnabled(enabled bool) {
	s.mutateCalls(func(c *CallSettings) bool {
		if c.VideoEnabled == enabled {
			return false
		}
		c.VideoEnabled = enabled
		return true
	})
}

// UpdateAutoAnswer sets auto answer and its delay in seconds.
func (s *Store) UpdateAutoAnswer(enabled bool, delaySeconds int) {
	s.mutateCalls(func(c *CallSettings) bool {
		if c.AutoAnswer == enabled && c.AutoAnswerDelay == delaySeconds {
			return false
		}
		c.AutoAnswer = enabled
		c.AutoAnswerDelay = delaySeconds
		return true
	})
}

// UpdateHardwareAcceleration sets whether video uses hardware decode.
func (s *Store) UpdateHardwareAcceleration(enabled bool) {
	s.mutateCalls(func(c *CallSettings) bool {
		if c.HardwareAcceleration == enabled {
			return false
		}
		c.HardwareAcceleration = enabled
		return true
	})
}

// UpdateRingtone sets the ringtone URI.
func (s *Store) UpdateRingtone(ringtone string) {
	s.mutateCalls(func(c *CallSettings) bool {
		if c.Ringtone == ringtone {
			return false
		}
		c.Ringtone = ringtone
		return true
	})
}

// UpdateNoiseSuppression sets whether call audio is noise suppressed.
func (s *Store) UpdateNoiseSuppression(enabled bool) {
	s.mutateCalls(func(c *CallSettings) bool {
		if c.NoiseSuppression == enabled {
			return false
		}
		c.NoiseSuppression = enabled
		return true
	})
}

////////////////////////////////////////////////////////////////////////////
// File-transfer mutators
////////////////////////////////////////////////////////////////////////////

// UpdateMaxAutoAcceptSize sets the size in bytes below which incoming
// files are accepted automatically.
func (s *Store) UpdateMaxAutoAcceptSize(bytes int64) {
	s.mutateFileTransfer(func(f *FileTransferSettings) bool {
		if f.MaxAutoAcceptSize == bytes {
			return false
		}
		f.MaxAutoAcceptSize = bytes
		return true
	})
}

// UpdateAutoDownloadMobile sets auto download on mobile data.
func (s *Store) UpdateAutoDownloadMobile(enabled bool) {
	s.mutateFileTransfer(func(f *FileTransferSettings) bool {
		if f.AutoDownloadMobile == enabled {
			return false
		}
		f.AutoDownloadMobile = enabled
		return true
	})
}

// UpdateAutoDownloadWifi sets auto download on wifi.
func (s *Store) UpdateAutoDownloadWifi(enabled bool) {
	s.mutateFileTransfer(func(f *FileTransferSettings) bool {
		if f.AutoDownloadWifi == enabled {
			return false
		}
		f.AutoDownloadWifi = enabled
		return true
	})
}

////////////////////////////////////////////////////////////////////////////
// Per-conversation mutators
////////////////////////////////////////////////////////////////////////////

// UpdateConversationMuted mutes or unmutes a conversation. muteUntil is
// epoch milliseconds; 0 mutes forever and -1 is unset.
func (s *Store) UpdateConversationMuted(conversationID string, muted bool,
	muteUntil int64) {
	s.mutateConversation(conversationID,
		func(c *ConversationSettings) bool {
			if c.Muted == muted && c.MuteUntil == muteUntil {
				return false
			}
			c.Muted = muted
			c.MuteUntil = muteUntil
			return true
		})
}

// UpdateConversationPinned pins or unpins a conversation.
func (s *Store) UpdateConversationPinned(conversationID string,
	pinned bool) {
	s.mutateConversation(conversationID,
		func(c *ConversationSettings) bool {
			if c.Pinned == pinned {
				return false
			}
			c.Pinned = pinned
			return true
		})
}

// UpdateConversationNotificationSound sets a per-conversation notification
// sound. An empty URI reverts to the global sound.
func (s *Store) UpdateConversationNotificationSound(conversationID,
	soundURI string) {
	s.mutateConversation(conversationID,
		func(c *ConversationSettings) bool {
			if c.CustomNotificationSound == soundURI {
				return false
			}
			c.CustomNotificationSound = soundURI
			return true
		})
}

// UpdateConversationColorTag sets the conversation's color tag.
func (s *Store) UpdateConversationColorTag(conversationID, tag string) {
	s.mutateConversation(conversationID,
		func(c *ConversationSettings) bool {
			if c.ColorTag == tag {
				return false
			}
			c.ColorTag = tag
			return true
		})
}

// ClearConversationSettings removes all overrides for a conversation.
// No-ops if none exist.
func (s *Store) ClearConversationSettings(conversationID string) {
	s.mux.Lock()
	if _, exists := s.conversations[conversationID]; !exists {
		s.mux.Unlock()
		return
	}
	delete(s.conversations, conversationID)
	s.finishConversationMutationLocked()
}

////////////////////////////////////////////////////////////////////////////
// Internals
////////////////////////////////////////////////////////////////////////////

func (s *Store) mutateUI(apply func(*UISettings) bool) {
	s.mux.Lock()
	if !apply(&s.ui) {
		s.mux.Unlock()
		return
	}
	snap := s.ui
	listeners := append([]UIListener{}, s.uiListeners...)
	accountID, m := s.groupMutationLocked(KeyUI, func() (string, error) {
		return EncodeUISettings(s.ui)
	})
	s.mux.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	s.persist(accountID, m)
}

func (s *Store) mutatePrivacy(apply func(*PrivacySettings) bool) {
	s.mux.Lock()
	if !apply(&s.privacy) {
		s.mux.Unlock()
		return
	}
	snap := s.privacy
	snap.BlockedContacts = append([]string{}, s.privacy.BlockedContacts...)
	listeners := append([]PrivacyListener{}, s.privacyListeners...)
	accountID, m := s.groupMutationLocked(KeyPrivacy,
		func() (string, error) {
			return EncodePrivacySettings(s.privacy)
		})
	s.mux.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	s.persist(accountID, m)
}

func (s *Store) mutateNotifications(apply func(*NotificationSettings) bool) {
	s.mux.Lock()
	if !apply(&s.notifications) {
		s.mux.Unlock()
		return
	}
	snap := s.notifications
	listeners := append([]NotificationListener{}, s.notificationListeners...)
	accountID, m := s.groupMutationLocked(KeyNotifications,
		func() (string, error) {
			return EncodeNotificationSettings(s.notifications)
		})
	s.mux.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	s.persist(accountID, m)
}

func (s *Store) mutateCalls(apply func(*CallSettings) bool) {
	s.mux.Lock()
	if !apply(&s.calls) {
		s.mux.Unlock()
		return
	}
	snap := s.calls
	listeners := append([]CallListener{}, s.callListeners...)
	accountID, m := s.groupMutationLocked(KeyCalls,
		func() (string, error) {
			return EncodeCallSettings(s.calls)
		})
	s.mux.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	s.persist(accountID, m)
}

func (s *Store) mutateFileTransfer(apply func(*FileTransferSettings) bool) {
	s.mux.Lock()
	if !apply(&s.fileTransfer) {
		s.mux.Unlock()
		return
	}
	snap := s.fileTransfer
	listeners := append([]FileTransferListener{}, s.fileTransferListeners...)
	accountID, m := s.groupMutationLocked(KeyFileTransfer,
		func() (string, error) {
			return EncodeFileTransferSettings(s.fileTransfer)
		})
	s.mux.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	s.persist(accountID, m)
}

// mutateConversation applies a copy-on-write mutation: a conversation with
// no overrides yet starts from the default, so every mutator is safe to
// call without an existence check.
func (s *Store) mutateConversation(conversationID string,
	apply func(*ConversationSettings) bool) {
	s.mux.Lock()
	c, exists := s.conversations[conversationID]
	if !exists {
		c = DefaultConversationSettings()
	}
	if !apply(&c) {
		s.mux.Unlock()
		return
	}
	s.conversations[conversationID] = c
	s.finishConversationMutationLocked()
}

// finishConversationMutationLocked notifies listeners and persists the
// conversations document. The caller must hold mux; it is released here.
func (s *Store) finishConversationMutationLocked() {
	snap := copyConversations(s.conversations)
	listeners := append([]ConversationListener{}, s.conversationListeners...)
	accountID, m := s.groupMutationLocked(KeyConversations,
		func() (string, error) {
			return EncodeConversationSettings(s.conversations)
		})
	s.mux.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	s.persist(accountID, m)
}

// groupMutationLocked encodes one group document and the refreshed Meta
// document into a single mutation. Callers must hold mux.
func (s *Store) groupMutationLocked(key string,
	encode func() (string, error)) (string, gateway.Mutation) {
	doc, err := encode()
	if err != nil {
		jww.ERROR.Printf("[%s] failed to encode %s document: %+v",
			settingsLogHeader, key, err)
		return s.accountID, gateway.Mutation{}
	}

	s.meta = Meta{
		LastUpdated:   s.now().UnixMilli(),
		LastUpdatedBy: s.deviceID,
	}
	metaDoc, err := EncodeMeta(s.meta)
	if err != nil {
		jww.ERROR.Printf("[%s] failed to encode meta document: %+v",
			settingsLogHeader, err)
		return s.accountID, gateway.Mutation{Set: map[string]string{
			key: doc,
		}}
	}

	return s.accountID, gateway.Mutation{Set: map[string]string{
		key:     doc,
		KeyMeta: metaDoc,
	}}
}

// persist hands the mutation to the single-writer queue. Persistence is
// launch-and-forget: a failed write is logged by the writer and local
// state stays authoritative until the next successful write.
func (s *Store) persist(accountID string, m gateway.Mutation) {
	if accountID == "" || (len(m.Set) == 0 && len(m.Delete) == 0) {
		return
	}
	s.writer.ApplyAsync(accountID, m)
}

func privacyEqual(a, b PrivacySettings) bool {
	if a.ReadReceipts != b.ReadReceipts ||
		a.TypingIndicators != b.TypingIndicators ||
		a.BlockUnknownContacts != b.BlockUnknownContacts ||
		a.ShowLinkPreviews != b.ShowLinkPreviews ||
		len(a.BlockedContacts) != len(b.BlockedContacts) {
		return false
	}
	for i := range a.BlockedContacts {
		if a.BlockedContacts[i] != b.BlockedContacts[i] {
			return false
		}
	}
	return true
}

func conversationsEqual(a, b map[string]ConversationSettings) bool {
	if len(a) != len(b) {
		return false
	}
	for id, ca := range a {
		if cb, exists := b[id]; !exists || ca != cb {
			return false
		}
	}
	return true
}

func copyConversations(
	m map[string]ConversationSettings) map[string]ConversationSettings {
	cp := make(map[string]ConversationSettings, len(m))
	for id, c := range m {
		cp[id] = c
	}
	return cp
}
