// Package mem is an in-process kv implementation. It backs the test suites and
// single-node deployments started with a mem:// store address.
package mem

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
)

var errKeyNotFound = errors.New("key not found")

func init() {
	kv.Register("mem", New)
}

type entry struct {
	data    []byte
	index   uint64
	expires time.Time
}

type watch struct {
	prefix string
	events chan kv.Event
	notify chan struct{}

	mu    sync.Mutex
	queue []kv.Event
}

type mkv struct {
	mu       sync.Mutex
	index    uint64
	data     map[string]*entry
	watchers map[*watch]struct{}
	now      func() time.Time
}

// New returns a fresh, empty store. Only the mem scheme is answered.
func New(addr string) (kv.KV, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "mem" {
		return nil, nil
	}
	return &mkv{
		data:     map[string]*entry{},
		watchers: map[*watch]struct{}{},
		now:      time.Now,
	}, nil
}

// live returns the entry for key, dropping it if its ttl has passed.
// Callers must hold m.mu.
func (m *mkv) live(key string) (*entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.data, key)
		m.emit(kv.Event{Key: key, Type: kv.Delete, Value: kv.Value{Index: e.index}})
		return nil, false
	}
	return e, true
}

func under(prefix, key string) bool {
	return prefix == "" || key == prefix || strings.HasPrefix(key, prefix+"/")
}

func (m *mkv) Delete(key string, recurse bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key = kv.Clean(key)
	found := false
	for k := range m.data {
		if k == key || (recurse && under(key, k)) {
			if _, ok := m.live(k); !ok {
				continue
			}
			m.index++
			delete(m.data, k)
			m.emit(kv.Event{Key: k, Type: kv.Delete, Value: kv.Value{Index: m.index}})
			found = true
		}
	}
	if !found && !recurse {
		return errKeyNotFound
	}
	return nil
}

func (m *mkv) Get(key string) (kv.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(kv.Clean(key))
	if !ok {
		return kv.Value{}, errKeyNotFound
	}
	return kv.Value{Data: append([]byte(nil), e.data...), Index: e.index}, nil
}

func (m *mkv) GetAll(prefix string) (map[string]kv.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix = kv.Clean(prefix)
	many := map[string]kv.Value{}
	for k := range m.data {
		if !under(prefix, k) {
			continue
		}
		if e, ok := m.live(k); ok {
			many[k] = kv.Value{Data: append([]byte(nil), e.data...), Index: e.index}
		}
	}
	return many, nil
}

func (m *mkv) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix = kv.Clean(prefix)
	all := []string{}
	for k := range m.data {
		if !under(prefix, k) || k == prefix {
			continue
		}
		if _, ok := m.live(k); ok {
			all = append(all, k)
		}
	}
	if len(all) == 0 {
		return nil, errKeyNotFound
	}
	return kv.Children(prefix, all), nil
}

// put stores data at key. Callers must hold m.mu.
func (m *mkv) put(key string, data []byte, expires time.Time) uint64 {
	m.index++
	event := kv.Event{Key: key, Type: kv.Update}
	e, ok := m.live(key)
	if !ok {
		e = &entry{}
		m.data[key] = e
		event.Type = kv.Create
	}
	e.data = append([]byte(nil), data...)
	e.index = m.index
	e.expires = expires
	event.Value = kv.Value{Data: e.data, Index: e.index}
	m.emit(event)
	return e.index
}

func (m *mkv) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(kv.Clean(key), []byte(value), time.Time{})
	return nil
}

func (m *mkv) Update(key string, value kv.Value) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key = kv.Clean(key)
	e, ok := m.live(key)
	switch {
	case value.Index == 0 && ok:
		return 0, kv.ErrCASFailed
	case value.Index != 0 && !ok:
		return 0, errKeyNotFound
	case value.Index != 0 && e.index != value.Index:
		return 0, kv.ErrCASFailed
	}
	var expires time.Time
	if ok {
		expires = e.expires
	}
	return m.put(key, value.Data, expires), nil
}

func (m *mkv) Remove(key string, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key = kv.Clean(key)
	e, ok := m.live(key)
	if !ok {
		return errKeyNotFound
	}
	if e.index != index {
		return kv.ErrCASFailed
	}
	m.index++
	delete(m.data, key)
	m.emit(kv.Event{Key: key, Type: kv.Delete, Value: kv.Value{Index: m.index}})
	return nil
}

func (m *mkv) IsKeyNotFound(err error) bool {
	return err == errKeyNotFound
}

func (m *mkv) TTL(key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.put(kv.Clean(key), []byte(now.String()), now.Add(ttl))
	return nil
}

func (m *mkv) Ping() error {
	return nil
}

// emit queues an event for every interested watcher. Callers must hold m.mu.
func (m *mkv) emit(event kv.Event) {
	for w := range m.watchers {
		if !under(w.prefix, event.Key) {
			continue
		}
		w.mu.Lock()
		w.queue = append(w.queue, event)
		w.mu.Unlock()
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

// Watch streams changes under prefix until stop is closed. The index is
// ignored; only changes made after the call are seen.
func (m *mkv) Watch(prefix string, index uint64, stop chan struct{}) (chan kv.Event, chan error, error) {
	w := &watch{
		prefix: kv.Clean(prefix),
		events: make(chan kv.Event),
		notify: make(chan struct{}, 1),
	}

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.watchers, w)
			m.mu.Unlock()
		}()

		for {
			select {
			case <-stop:
				return
			case <-w.notify:
			}

			w.mu.Lock()
			queue := w.queue
			w.queue = nil
			w.mu.Unlock()

			for _, event := range queue {
				select {
				case w.events <- event:
				case <-stop:
					return
				}
			}
		}
	}()

	return w.events, make(chan error), nil
}
