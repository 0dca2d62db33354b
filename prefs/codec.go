////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package prefs

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// The settings documents are stored as UTF-8 JSON inside the account-detail
// map. Encoding always emits every field, so a document written by this
// version fully specifies its group. Decoding starts from the group's
// default value and overlays the document onto it: absent fields keep
// their defaults and unknown fields are ignored, which keeps the schema
// forward and backward compatible. A decode failure returns the typed
// default, never a partially filled struct.

// Error messages.
const (
	decodeUIErr            = "failed to decode UI settings document"
	decodePrivacyErr       = "failed to decode privacy settings document"
	decodeNotificationsErr = "failed to decode notification settings document"
	decodeCallsErr         = "failed to decode call settings document"
	decodeFileTransferErr  = "failed to decode file transfer settings document"
	decodeConversationsErr = "failed to decode conversation settings document"
	decodeMetaErr          = "failed to decode meta document"
)

// EncodeUISettings encodes the KMP.UI document.
func EncodeUISettings(s UISettings) (string, error) {
	return encodeDocument(s)
}

// DecodeUISettings decodes the KMP.UI document, returning the default on
// failure.
func DecodeUISettings(doc string) (UISettings, error) {
	s := DefaultUISettings()
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return DefaultUISettings(), errors.Wrap(err, decodeUIErr)
	}
	return s, nil
}

// EncodePrivacySettings encodes the KMP.Privacy document.
func EncodePrivacySettings(s PrivacySettings) (string, error) {
	return encodeDocument(s)
}

// DecodePrivacySettings decodes the KMP.Privacy document, returning the
// default on failure.
func DecodePrivacySettings(doc string) (PrivacySettings, error) {
	s := DefaultPrivacySettings()
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return DefaultPrivacySettings(), errors.Wrap(err, decodePrivacyErr)
	}
	if s.BlockedContacts == nil {
		s.BlockedContacts = []string{}
	}
	return s, nil
}

// EncodeNotificationSettings encodes the KMP.Notifications document.
func EncodeNotificationSettings(s NotificationSettings) (string, error) {
	return encodeDocument(s)
}

// DecodeNotificationSettings decodes the KMP.Notifications document,
// returning the default on failure.
func DecodeNotificationSettings(doc string) (NotificationSettings, error) {
	s := DefaultNotificationSettings()
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return DefaultNotificationSettings(),
			errors.Wrap(err, decodeNotificationsErr)
	}
	return s, nil
}

// EncodeCallSettings encodes the KMP.Calls document.
func EncodeCallSettings(s CallSettings) (string, error) {
	return encodeDocument(s)
}

// DecodeCallSettings decodes the KMP.Calls document, returning the default
// on failure.
func DecodeCallSettings(doc string) (CallSettings, error) {
	s := DefaultCallSettings()
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return DefaultCallSettings(), errors.Wrap(err, decodeCallsErr)
	}
	return s, nil
}

// EncodeFileTransferSettings encodes the KMP.FileTransfer document.
func EncodeFileTransferSettings(s FileTransferSettings) (string, error) {
	return encodeDocument(s)
}

// DecodeFileTransferSettings decodes the KMP.FileTransfer document,
// returning the default on failure.
func DecodeFileTransferSettings(doc string) (FileTransferSettings, error) {
	s := DefaultFileTransferSettings()
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return DefaultFileTransferSettings(),
			errors.Wrap(err, decodeFileTransferErr)
	}
	return s, nil
}

// EncodeConversationSettings encodes the KMP.Conversations document: the
// full map of per-conversation overrides keyed by conversation ID.
func EncodeConversationSettings(
	m map[string]ConversationSettings) (string, error) {
	return encodeDocument(m)
}

// DecodeConversationSettings decodes the KMP.Conversations document,
// returning an empty map on failure.
func DecodeConversationSettings(doc string) (
	map[string]ConversationSettings, error) {
	m := make(map[string]ConversationSettings)
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return make(map[string]ConversationSettings),
			errors.Wrap(err, decodeConversationsErr)
	}
	return m, nil
}

// EncodeMeta encodes the KMP.Meta document.
func EncodeMeta(m Meta) (string, error) {
	return encodeDocument(m)
}

// DecodeMeta decodes the KMP.Meta document, returning an empty Meta on
// failure.
func DecodeMeta(doc string) (Meta, error) {
	m := DefaultMeta()
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return DefaultMeta(), errors.Wrap(err, decodeMetaErr)
	}
	return m, nil
}

func encodeDocument(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode document")
	}
	return string(data), nil
}
