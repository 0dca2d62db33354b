////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package gateway defines the boundary to the external daemon that owns the
// replicated account-detail map, along with a single-writer queue that
// serializes all read-modify-write cycles against it.
package gateway

// AccountGateway is the interface exposed by the daemon bridge for one
// user's account-detail map. The map is replicated across the user's
// devices out of band; this layer only ever sees get and set. There is no
// compare-and-swap, so callers must restrict themselves to overwriting
// their own namespaced keys.
type AccountGateway interface {
	// GetAccountDetails returns the full account-detail map for the given
	// account. An account with no details yet returns an empty map, not an
	// error.
	GetAccountDetails(accountID string) (map[string]string, error)

	// SetAccountDetails replaces the full account-detail map for the given
	// account.
	SetAccountDetails(accountID string, details map[string]string) error
}

// ChangeListener receives account-detail change notifications from the
// daemon. Delivery is at-least-once and may occur after both remote and
// local writes, so listeners must be idempotent under redundant delivery.
type ChangeListener func(accountID string, details map[string]string)
