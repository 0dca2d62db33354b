////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package gateway

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
)

// Log constants.
const gatewayLogHeader = "GATEWAY"

// detailsKeyPrefix is the ekv key prefix under which each account's detail
// map is stored.
const detailsKeyPrefix = "accountDetails/"

// Store is an ekv-backed AccountGateway. It stands in for the daemon when
// no real bridge is attached: the CLI runs it over an encrypted filestore
// and tests run it over a memstore. Every successful set fans out a change
// notification to all registered listeners, which lets two stores attached
// to the same Store observe each other the way two devices observe the
// daemon's replication.
type Store struct {
	kv ekv.KeyValue

	mux       sync.Mutex
	listeners []ChangeListener
}

// NewStore wraps the given ekv in an AccountGateway.
func NewStore(kv ekv.KeyValue) *Store {
	return &Store{kv: kv}
}

// RegisterListener adds a change listener. Listeners are invoked
// synchronously, in registration order, on every SetAccountDetails.
func (s *Store) RegisterListener(l ChangeListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.listeners = append(s.listeners, l)
}

// GetAccountDetails implements AccountGateway. A never-written account
// yields an empty map.
func (s *Store) GetAccountDetails(accountID string) (
	map[string]string, error) {
	details := make(map[string]string)
	err := s.kv.GetInterface(detailsKeyPrefix+accountID, &details)
	if err != nil {
		if ekv.Exists(err) {
			return nil, errors.Wrapf(err,
				"failed to load details for account %s", accountID)
		}
		// No details stored yet is a valid state, equivalent to an
		// empty map.
		return make(map[string]string), nil
	}
	return details, nil
}

// SetAccountDetails implements AccountGateway and notifies all listeners
// with a copy of the stored map.
func (s *Store) SetAccountDetails(accountID string,
	details map[string]string) error {
	if err := s.kv.SetInterface(
		detailsKeyPrefix+accountID, details); err != nil {
		return errors.Wrapf(err,
			"failed to store details for account %s", accountID)
	}

	s.mux.Lock()
	listeners := make([]ChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mux.Unlock()

	jww.TRACE.Printf("[%s] stored %d details for account %s, notifying "+
		"%d listeners", gatewayLogHeader, len(details), accountID,
		len(listeners))

	for _, l := range listeners {
		l(accountID, copyDetails(details))
	}
	return nil
}

func copyDetails(details map[string]string) map[string]string {
	cp := make(map[string]string, len(details))
	for k, v := range details {
		cp[k] = v
	}
	return cp
}
