////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package drafts keeps per-conversation message drafts converged across
// devices. Unlike the settings documents, which are rewritten wholesale,
// the drafts container is merged entry by entry with last-writer-wins
// timestamps and a watermark that gates deletions.
package drafts

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Error messages.
const decodeContainerErr = "failed to decode drafts document"

// Draft is one unsent message. LastModified is epoch milliseconds stamped
// by the writing device; Device is that device's stable identifier, used
// only to break merge ties between identical timestamps.
type Draft struct {
	Text         string   `json:"text"`
	ReplyTo      string   `json:"replyTo"`
	Attachments  []string `json:"attachments"`
	LastModified int64    `json:"lastModified"`
	Device       string   `json:"device"`
}

// NewDraft returns an empty draft.
func NewDraft() Draft {
	return Draft{Attachments: []string{}}
}

// Equals reports full field equality, attachments included.
func (d Draft) Equals(other Draft) bool {
	if d.Text != other.Text || d.ReplyTo != other.ReplyTo ||
		d.LastModified != other.LastModified ||
		d.Device != other.Device ||
		len(d.Attachments) != len(other.Attachments) {
		return false
	}
	for i := range d.Attachments {
		if d.Attachments[i] != other.Attachments[i] {
			return false
		}
	}
	return true
}

func (d Draft) copy() Draft {
	cp := d
	cp.Attachments = append([]string{}, d.Attachments...)
	return cp
}

// Container is the KMP.Drafts document: every draft for the account keyed
// by conversation ID, plus the LastSynced watermark. The watermark only
// advances; a remote snapshot whose watermark has not passed the local one
// is too stale to delete anything.
type Container struct {
	Drafts     map[string]Draft `json:"drafts"`
	LastSynced int64            `json:"lastSynced"`
}

// NewContainer returns an empty container.
func NewContainer() Container {
	return Container{Drafts: make(map[string]Draft)}
}

func (c Container) copy() Container {
	cp := Container{
		Drafts:     make(map[string]Draft, len(c.Drafts)),
		LastSynced: c.LastSynced,
	}
	for id, d := range c.Drafts {
		cp.Drafts[id] = d.copy()
	}
	return cp
}

// EncodeContainer encodes the KMP.Drafts document.
func EncodeContainer(c Container) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode drafts document")
	}
	return string(data), nil
}

// DecodeContainer decodes the KMP.Drafts document, returning an empty
// container on failure. Unknown fields are ignored; drafts with nil
// attachment lists are normalized to empty ones so decode(encode(x))
// round-trips.
func DecodeContainer(doc string) (Container, error) {
	c := NewContainer()
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return NewContainer(), errors.Wrap(err, decodeContainerErr)
	}
	if c.Drafts == nil {
		c.Drafts = make(map[string]Draft)
	}
	for id, d := range c.Drafts {
		if d.Attachments == nil {
			d.Attachments = []string{}
			c.Drafts[id] = d
		}
	}
	return c, nil
}
