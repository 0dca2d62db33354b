////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package gateway

import (
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Log constants.
const writerLogHeader = "WRITER"

// Error messages.
const (
	writerStoppedErr = "writer is stopped"
	writerReadErr    = "failed to read details for account %s before write"
	writerWriteErr   = "failed to write details for account %s"
)

// taskBufferLen is the depth of the writer's task queue. Mutators block
// only if this many writes are already in flight.
const taskBufferLen = 32

// Mutation is one read-modify-write cycle against an account-detail map:
// the listed keys are overwritten, then the listed keys are removed, and
// all unrelated keys pass through untouched.
type Mutation struct {
	Set    map[string]string
	Delete []string
}

type writeTask struct {
	accountID string
	m         Mutation
	done      chan error
}

// Writer serializes all mutations of the account-detail map through a
// single runner goroutine. The gateway offers no compare-and-swap, so two
// concurrent read-modify-write cycles can silently drop one writer's keys;
// funneling every write through one Writer removes that race structurally.
// The settings and draft stores for an account must share one Writer.
type Writer struct {
	gw AccountGateway

	tasks   chan *writeTask
	quit    chan struct{}
	stopped *uint32
}

// NewWriter creates a Writer over the given gateway and starts its runner.
func NewWriter(gw AccountGateway) *Writer {
	stopped := uint32(0)
	w := &Writer{
		gw:      gw,
		tasks:   make(chan *writeTask, taskBufferLen),
		quit:    make(chan struct{}),
		stopped: &stopped,
	}
	go w.runner()
	return w
}

// runner applies queued mutations in order until the writer is stopped.
func (w *Writer) runner() {
	for {
		select {
		case t := <-w.tasks:
			t.done <- w.apply(t.accountID, t.m)
		case <-w.quit:
			jww.DEBUG.Printf("[%s] stopping writer", writerLogHeader)
			// Fail any task that raced past the stopped flag so its
			// caller does not block forever.
			for {
				select {
				case t := <-w.tasks:
					t.done <- errors.New(writerStoppedErr)
				default:
					return
				}
			}
		}
	}
}

// Apply enqueues the mutation and blocks until it has been written (or has
// failed). Returns an error if the writer has been stopped.
func (w *Writer) Apply(accountID string, m Mutation) error {
	done, err := w.enqueue(accountID, m)
	if err != nil {
		return err
	}
	return <-done
}

// ApplyAsync enqueues the mutation and returns a channel that receives the
// write's result. A stopped writer reports the error on the returned
// channel immediately.
func (w *Writer) ApplyAsync(accountID string, m Mutation) <-chan error {
	done, err := w.enqueue(accountID, m)
	if err != nil {
		errCh := make(chan error, 1)
		errCh <- err
		return errCh
	}
	return done
}

// Flush blocks until every mutation enqueued before the call has been
// applied. It is a queue barrier: the empty mutation reads and rewrites
// nothing.
func (w *Writer) Flush() {
	done, err := w.enqueue("", Mutation{})
	if err != nil {
		return
	}
	<-done
}

// Stop drains the queue and terminates the runner. No write occurs after
// Stop returns. Subsequent Apply calls fail.
func (w *Writer) Stop() {
	if !atomic.CompareAndSwapUint32(w.stopped, 0, 1) {
		return
	}
	// The barrier guarantees all previously queued tasks have been
	// applied before the runner is told to quit.
	done := make(chan error, 1)
	w.tasks <- &writeTask{done: done}
	<-done
	close(w.quit)
}

func (w *Writer) enqueue(accountID string, m Mutation) (chan error, error) {
	if atomic.LoadUint32(w.stopped) == 1 {
		return nil, errors.New(writerStoppedErr)
	}
	t := &writeTask{accountID: accountID, m: m, done: make(chan error, 1)}
	w.tasks <- t
	return t.done, nil
}

// apply performs one read-modify-write cycle. Failures are logged and
// reported to the caller; local state stays authoritative until the next
// successful write (no automatic retry).
func (w *Writer) apply(accountID string, m Mutation) error {
	if len(m.Set) == 0 && len(m.Delete) == 0 {
		return nil
	}

	details, err := w.gw.GetAccountDetails(accountID)
	if err != nil {
		jww.WARN.Printf("[%s] failed to read details for account %s "+
			"before write: %+v", writerLogHeader, accountID, err)
		return errors.Wrapf(err, writerReadErr, accountID)
	}
	if details == nil {
		details = make(map[string]string)
	}

	for k, v := range m.Set {
		details[k] = v
	}
	for _, k := range m.Delete {
		delete(details, k)
	}

	if err = w.gw.SetAccountDetails(accountID, details); err != nil {
		jww.WARN.Printf("[%s] failed to write details for account %s: "+
			"%+v", writerLogHeader, accountID, err)
		return errors.Wrapf(err, writerWriteErr, accountID)
	}

	jww.TRACE.Printf("[%s] applied mutation for account %s "+
		"(%d set, %d deleted)", writerLogHeader, accountID,
		len(m.Set), len(m.Delete))
	return nil
}
