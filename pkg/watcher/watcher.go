// Package watcher multiplexes kv watches on several prefixes into a single
// stream of events.
package watcher

import (
	"errors"
	"sync"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
)

var (
	// ErrPrefixNotWatched is returned when removing an unknown prefix
	ErrPrefixNotWatched = errors.New("prefix is not being watched")
	// ErrStopped is returned when adding to a closed watcher
	ErrStopped = errors.New("watcher has been stopped")
)

// Watcher watches a set of prefixes in a kv. Use Next to step through the
// events and Event to get the current one.
type Watcher struct {
	kv     kv.KV
	events chan kv.Event
	errors chan error
	done   chan struct{}
	err    error
	event  kv.Event

	mu       sync.Mutex // mu protects the following two vars
	isClosed bool
	prefixes map[string]chan struct{}
}

// New creates a new Watcher on the kv
func New(store kv.KV) (*Watcher, error) {
	if store == nil {
		return nil, errors.New("invalid kv")
	}
	return &Watcher{
		kv:       store,
		events:   make(chan kv.Event),
		errors:   make(chan error),
		done:     make(chan struct{}),
		prefixes: map[string]chan struct{}{},
	}, nil
}

// Add starts watching prefix. Adding a prefix twice is a no-op.
func (w *Watcher) Add(prefix string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isClosed {
		return ErrStopped
	}

	prefix = kv.Clean(prefix)
	if _, ok := w.prefixes[prefix]; ok {
		return nil
	}

	stop := make(chan struct{})
	events, errs, err := w.kv.Watch(prefix, 0, stop)
	if err != nil {
		close(stop)
		return err
	}
	w.prefixes[prefix] = stop
	go w.forward(events, errs, stop)
	return nil
}

func (w *Watcher) forward(events chan kv.Event, errs chan error, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			select {
			case w.events <- event:
			case <-stop:
				return
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-stop:
				return
			}
		}
	}
}

// Next blocks until an event arrives. It returns false on a watch error or
// once the watcher is closed; check Err to tell them apart.
func (w *Watcher) Next() bool {
	select {
	case event := <-w.events:
		w.event = event
		return true
	case err := <-w.errors:
		w.err = err
		return false
	case <-w.done:
		return false
	}
}

// Event returns the event read by the last call to Next
func (w *Watcher) Event() kv.Event {
	return w.event
}

// Err returns the error that stopped Next, if any
func (w *Watcher) Err() error {
	return w.err
}

// Remove stops watching prefix
func (w *Watcher) Remove(prefix string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix = kv.Clean(prefix)
	stop, ok := w.prefixes[prefix]
	if !ok {
		return ErrPrefixNotWatched
	}

	close(stop)
	delete(w.prefixes, prefix)
	return nil
}

// Close stops every watch and unblocks Next
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isClosed {
		return nil
	}
	w.isClosed = true

	for prefix, stop := range w.prefixes {
		close(stop)
		delete(w.prefixes, prefix)
	}
	close(w.done)
	return nil
}
