// Package kv abstracts the distributed key/value store used as the
// persistence port. Implementations register a URL scheme and are selected
// by New.
package kv

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrCASFailed is returned by Update and Remove when the stored index does not
// match the expected one.
var ErrCASFailed = errors.New("compare and swap failed")

// Value is the data stored at a key along with its modification index
type Value struct {
	Data  []byte
	Index uint64
}

// EventType describes the kind of change seen by a Watch
type EventType int

// Watch event types
const (
	None EventType = iota
	Get
	Create
	Delete
	Update
)

var types = map[EventType]string{
	None:   "None",
	Get:    "Get",
	Create: "Create",
	Delete: "Delete",
	Update: "Update",
}

func (t EventType) String() string {
	return types[t]
}

// Event is a single change seen by a Watch
type Event struct {
	Key  string
	Type EventType
	Value
}

// GoString renders the event for debugging
func (e Event) GoString() string {
	return fmt.Sprintf("{Key:%s, Type:%s, Index: %d, Value: %s}", e.Key, types[e.Type], e.Index, string(e.Data))
}

var register = struct {
	sync.RWMutex
	kvs map[string]func(string) (KV, error)
}{
	kvs: map[string]func(string) (KV, error){},
}

// Register is called by KV implementors to register their scheme to be used
// with New
func Register(name string, fn func(string) (KV, error)) {
	register.Lock()
	defer register.Unlock()

	if _, dup := register.kvs[name]; dup {
		panic("kv: Register called twice for " + name)
	}
	register.kvs[name] = fn
}

// New will return a KV implementation according to the connection string addr.
// addr is a URL where the scheme is used to determine which kv implementation to return.
// The special `http` and `https` schemes are deemed generic, the first implementation that supports it will be returned.
func New(addr string) (KV, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	register.RLock()
	defer register.RUnlock()

	fn := register.kvs[u.Scheme]
	if fn != nil {
		return fn(addr)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unknown kv store %s (forgotten import?)", u.Scheme)
	}

	// etcd is preferred for the generic schemes
	names := make([]string, 0, len(register.kvs))
	for name := range register.kvs {
		if name != "etcd" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := register.kvs["etcd"]; ok {
		names = append([]string{"etcd"}, names...)
	}
	for _, name := range names {
		kv, err := register.kvs[name](addr)
		if err != nil {
			return nil, err
		}
		if kv != nil {
			return kv, nil
		}
	}
	return nil, fmt.Errorf("unknown kv store")
}

// KV is the interface for distributed key value store interaction
type KV interface {
	Delete(string, bool) error
	Get(string) (Value, error)
	GetAll(string) (map[string]Value, error)
	// Keys returns the immediate children of a directory-like prefix
	Keys(string) ([]string, error)
	Set(string, string) error

	// Atomic operations
	// Update will set key=value while ensuring that newer values are not clobbered.
	// An Index of 0 means the key must not exist yet.
	Update(string, Value) (uint64, error)
	// Remove will delete key only if it has not been modified since index
	Remove(string, uint64) error

	// IsKeyNotFound is a helper to determine if the error is a key not found error
	IsKeyNotFound(error) bool

	Watch(string, uint64, chan struct{}) (chan Event, chan error, error)

	// TTL sets key to a timestamp that expires after ttl
	TTL(string, time.Duration) error

	// Ping verifies communication with the store
	Ping() error
}

// Clean normalizes a key to the form used by the stores: no leading or
// trailing slash.
func Clean(key string) string {
	return strings.Trim(path.Clean("/"+key), "/")
}

// Children reduces a set of full keys under prefix to the set of immediate
// children of prefix, keeping the prefix in each returned key.
func Children(prefix string, keys []string) []string {
	prefix = Clean(prefix)
	seen := map[string]bool{}
	children := []string{}
	for _, key := range keys {
		key = Clean(key)
		rest := key
		if prefix != "" {
			rest = strings.TrimPrefix(key, prefix+"/")
			if rest == key {
				continue
			}
		}
		if rest == "" {
			continue
		}
		child := path.Join(prefix, strings.SplitN(rest, "/", 2)[0])
		if !seen[child] {
			seen[child] = true
			children = append(children, child)
		}
	}
	sort.Strings(children)
	return children
}
