// Package lock implements a lock in the kv store using CAS semantics.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
)

var (
	// ErrKeyNotFound signifies an attempt to operate on a non-existent lock
	ErrKeyNotFound = errors.New("Key not found")
	// ErrLockNotHeld signifies an attempt to operate on a released/lost lock
	ErrLockNotHeld = errors.New("Lock not held")
	// ErrLockHeld is returned by a non-blocking Acquire when someone else
	// holds the lock
	ErrLockHeld = errors.New("Lock held by another owner")
	// ErrEmptyKey is returned when acquiring without a key
	ErrEmptyKey = errors.New("Key is required")
)

// maxWait bounds a single wait so a missed watch event only delays a retry
const maxWait = 500 * time.Millisecond

// Lock is a lock in the kv store
type Lock struct {
	kv    kv.KV
	key   string
	value string
	ttl   time.Duration
	index uint64
	held  bool
}

// record is what is stored at the lock key
type record struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

func encode(value string, ttl time.Duration) []byte {
	data, _ := json.Marshal(record{Value: value, Expires: time.Now().Add(ttl)})
	return data
}

// acquire tries once. An expired lock left behind by a dead owner is taken
// over in place.
func acquire(store kv.KV, key, value string, ttl time.Duration) (uint64, time.Time, error) {
	index, err := store.Update(key, kv.Value{Data: encode(value, ttl)})
	if err == nil {
		return index, time.Time{}, nil
	}

	current, gerr := store.Get(key)
	if gerr != nil {
		if store.IsKeyNotFound(gerr) {
			// released between the two calls
			return 0, time.Time{}, err
		}
		return 0, time.Time{}, gerr
	}
	var r record
	if jerr := json.Unmarshal(current.Data, &r); jerr == nil && time.Now().After(r.Expires) {
		index, err = store.Update(key, kv.Value{Data: encode(value, ttl), Index: current.Index})
		if err == nil {
			return index, time.Time{}, nil
		}
	}
	return 0, r.Expires, ErrLockHeld
}

// Acquire will attempt to acquire the lock, if blocking is set to true it will
// wait until ctx is done to do so. Setting blocking to false would be the
// equivalent of a fictional TryAcquire, an immediate return if locking fails.
func Acquire(ctx context.Context, store kv.KV, key, value string, ttl time.Duration, blocking bool) (*Lock, error) {
	if kv.Clean(key) == "" {
		return nil, ErrEmptyKey
	}
	for {
		index, expires, err := acquire(store, key, value, ttl)
		if err == nil {
			return &Lock{
				kv:    store,
				key:   key,
				value: value,
				ttl:   ttl,
				index: index,
				held:  true,
			}, nil
		}
		if !blocking {
			return nil, err
		}
		if err := wait(ctx, store, key, expires); err != nil {
			return nil, err
		}
	}
}

// wait blocks until the key changes, the current holder's ttl passes, or ctx
// is done.
func wait(ctx context.Context, store kv.KV, key string, expires time.Time) error {
	stop := make(chan struct{})
	defer close(stop)

	events, errs, err := store.Watch(key, 0, stop)
	if err != nil {
		return err
	}

	timeout := time.Until(expires)
	if expires.IsZero() || timeout <= 0 || timeout > maxWait {
		timeout = maxWait
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case err := <-errs:
			return err
		case event := <-events:
			if kv.Clean(event.Key) == kv.Clean(key) && event.Type == kv.Delete {
				return nil
			}
		}
	}
}

// Refresh will refresh the lock. An error is returned if the lock was lost, likely due ttl expiration
func (l *Lock) Refresh() error {
	if !l.held {
		return ErrLockNotHeld
	}

	index, err := l.kv.Update(l.key, kv.Value{Data: encode(l.value, l.ttl), Index: l.index})
	if err != nil {
		if l.kv.IsKeyNotFound(err) {
			err = ErrKeyNotFound
		}
		l.held = false
		return err
	}
	l.index = index
	return nil
}

// Release will release the lock and delete the key
func (l *Lock) Release() error {
	if !l.held {
		return ErrLockNotHeld
	}
	err := l.kv.Remove(l.key, l.index)
	if err != nil && l.kv.IsKeyNotFound(err) {
		err = ErrKeyNotFound
	}
	l.held = false
	return err
}

// Held reports whether the lock is still believed to be held
func (l *Lock) Held() bool {
	return l.held
}
