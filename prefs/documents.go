////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package prefs holds the user's synchronized preference documents and the
// settings store that keeps them converged across devices through the
// account-detail map.
package prefs

import "encoding/json"

// Theme selects the UI color scheme.
type Theme uint8

const (
	ThemeSystem Theme = iota
	ThemeLight
	ThemeDark
)

// themeNames maps themes to their document representation. Unknown names
// decode to ThemeSystem so a document written by a newer client still
// loads.
var themeNames = map[Theme]string{
	ThemeSystem: "system",
	ThemeLight:  "light",
	ThemeDark:   "dark",
}

// String implements fmt.Stringer.
func (t Theme) String() string {
	if name, exists := themeNames[t]; exists {
		return name
	}
	return "system"
}

// MarshalJSON adheres to json.Marshaler.
func (t Theme) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON adheres to json.Unmarshaler.
func (t *Theme) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for theme, n := range themeNames {
		if n == name {
			*t = theme
			return nil
		}
	}
	*t = ThemeSystem
	return nil
}

// ConversationSort selects the ordering of the conversation list.
type ConversationSort uint8

const (
	SortLastActivity ConversationSort = iota
	SortAlphabetical
	SortUnreadFirst
)

var sortNames = map[ConversationSort]string{
	SortLastActivity: "lastActivity",
	SortAlphabetical: "alphabetical",
	SortUnreadFirst:  "unreadFirst",
}

// String implements fmt.Stringer.
func (c ConversationSort) String() string {
	if name, exists := sortNames[c]; exists {
		return name
	}
	return "lastActivity"
}

// MarshalJSON adheres to json.Marshaler.
func (c ConversationSort) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON adheres to json.Unmarshaler.
func (c *ConversationSort) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for sort, n := range sortNames {
		if n == name {
			*c = sort
			return nil
		}
	}
	*c = SortLastActivity
	return nil
}

// UISettings is the KMP.UI document.
type UISettings struct {
	Theme            Theme            `json:"theme"`
	FontScale        float64          `json:"fontScale"`
	Language         string           `json:"language"`
	ConversationSort ConversationSort `json:"conversationSort"`
	CompactMode      bool             `json:"compactMode"`
}

// DefaultUISettings returns the UI settings used before any document has
// been loaded and after a decode failure.
func DefaultUISettings() UISettings {
	return UISettings{
		Theme:            ThemeSystem,
		FontScale:        1.0,
		Language:         "",
		ConversationSort: SortLastActivity,
		CompactMode:      false,
	}
}

// PrivacySettings is the KMP.Privacy document. BlockedContacts is a set
// kept sorted and deduplicated by the store's mutators.
type PrivacySettings struct {
	ReadReceipts         bool     `json:"readReceipts"`
	TypingIndicators     bool     `json:"typingIndicators"`
	BlockUnknownContacts bool     `json:"blockUnknownContacts"`
	BlockedContacts      []string `json:"blockedContacts"`
	ShowLinkPreviews     bool     `json:"showLinkPreviews"`
}

// DefaultPrivacySettings returns the default privacy settings.
func DefaultPrivacySettings() PrivacySettings {
	return PrivacySettings{
		ReadReceipts:         true,
		TypingIndicators:     true,
		BlockUnknownContacts: false,
		BlockedContacts:      []string{},
		ShowLinkPreviews:     true,
	}
}

// NotificationSettings is the KMP.Notifications document. Quiet hours are
// minutes of the day; the defaults span 23:00 to 07:00.
type NotificationSettings struct {
	Enabled              bool   `json:"enabled"`
	CallNotifications    bool   `json:"callNotifications"`
	MessageNotifications bool   `json:"messageNotifications"`
	SoundURI             string `json:"soundUri"`
	VibrationEnabled     bool   `json:"vibrationEnabled"`
	QuietHoursEnabled    bool   `json:"quietHoursEnabled"`
	QuietHoursStart      int    `json:"quietHoursStart"`
	QuietHoursEnd        int    `json:"quietHoursEnd"`
}

// DefaultNotificationSettings returns the default notification settings.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:              true,
		CallNotifications:    true,
		MessageNotifications: true,
		SoundURI:             "",
		VibrationEnabled:     true,
		QuietHoursEnabled:    false,
		QuietHoursStart:      1380,
		QuietHoursEnd:        420,
	}
}

// CallSettings is the KMP.Calls document.
type CallSettings struct {
	VideoEnabled         bool   `json:"videoEnabled"`
	AutoAnswer           bool   `json:"autoAnswer"`
	AutoAnswerDelay      int    `json:"autoAnswerDelay"`
	HardwareAcceleration bool   `json:"hardwareAcceleration"`
	Ringtone             string `json:"ringtone"`
	NoiseSuppression     bool   `json:"noiseSuppression"`
}

// DefaultCallSettings returns the default call settings.
func DefaultCallSettings() CallSettings {
	return CallSettings{
		VideoEnabled:         true,
		AutoAnswer:           false,
		AutoAnswerDelay:      0,
		HardwareAcceleration: true,
		Ringtone:             "",
		NoiseSuppression:     true,
	}
}

// FileTransferSettings is the KMP.FileTransfer document.
type FileTransferSettings struct {
	MaxAutoAcceptSize  int64 `json:"maxAutoAcceptSize"`
	AutoDownloadMobile bool  `json:"autoDownloadMobile"`
	AutoDownloadWifi   bool  `json:"autoDownloadWifi"`
}

// DefaultFileTransferSettings returns the default file-transfer settings.
func DefaultFileTransferSettings() FileTransferSettings {
	return FileTransferSettings{
		MaxAutoAcceptSize:  20 * 1024 * 1024,
		AutoDownloadMobile: false,
		AutoDownloadWifi:   true,
	}
}

// ConversationSettings are the per-conversation overrides stored together
// in the KMP.Conversations document, keyed by conversation ID.
//
// MuteUntil is epoch milliseconds; 0 mutes forever, -1 is unset.
// CustomNotificationSound is empty when the conversation uses the global
// sound.
type ConversationSettings struct {
	Muted                   bool   `json:"muted"`
	MuteUntil               int64  `json:"muteUntil"`
	Pinned                  bool   `json:"pinned"`
	CustomNotificationSound string `json:"customNotificationSound"`
	ColorTag                string `json:"colorTag"`
}

// DefaultConversationSettings returns the overrides a conversation has
// before any have been set.
func DefaultConversationSettings() ConversationSettings {
	return ConversationSettings{
		Muted:                   false,
		MuteUntil:               -1,
		Pinned:                  false,
		CustomNotificationSound: "",
		ColorTag:                "",
	}
}

// Meta is the KMP.Meta document: who wrote the namespace last, and when.
type Meta struct {
	LastUpdated   int64  `json:"lastUpdated"`
	LastUpdatedBy string `json:"lastUpdatedBy"`
}

// DefaultMeta returns an empty Meta.
func DefaultMeta() Meta {
	return Meta{}
}
