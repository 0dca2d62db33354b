////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package prefs

import "strings"

// Namespaced keys inside the account-detail map. The prefix keeps this
// layer's documents from colliding with the daemon's own account entries.
const (
	KeyPrefix = "KMP."

	KeyMeta          = "KMP.Meta"
	KeyUI            = "KMP.UI"
	KeyPrivacy       = "KMP.Privacy"
	KeyNotifications = "KMP.Notifications"
	KeyCalls         = "KMP.Calls"
	KeyFileTransfer  = "KMP.FileTransfer"
	KeyConversations = "KMP.Conversations"
	KeyDrafts        = "KMP.Drafts"
)

// settingsKeys are the keys loaded and rewritten wholesale by the settings
// store. Drafts are excluded; they merge instead of reload.
var settingsKeys = []string{
	KeyMeta, KeyUI, KeyPrivacy, KeyNotifications, KeyCalls,
	KeyFileTransfer, KeyConversations,
}

// InNamespace reports whether the detail key belongs to this layer.
func InNamespace(key string) bool {
	return strings.HasPrefix(key, KeyPrefix)
}

// IsSettingsKey reports whether the detail key is one of the settings
// documents (everything in the namespace except drafts).
func IsSettingsKey(key string) bool {
	return InNamespace(key) && key != KeyDrafts
}
