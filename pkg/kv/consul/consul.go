package consul

import (
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	consul "github.com/hashicorp/consul/api"
	"github.com/hashicorp/consul/api/watch"
)

var err404 = errors.New("key not found")

// consul refuses session ttls below this
const minSessionTTL = 10 * time.Second

func init() {
	kv.Register("consul", New)
}

type ckv struct {
	c      *consul.KV
	client *consul.Client
	config *consul.Config

	mu       sync.Mutex
	sessions map[string]string // ttl key -> session id
}

// New instantiates a consul kv implementation.
// The parameter addr may be the empty string or a valid URL.
// If addr is not empty it must be a valid URL with schemes http, https or consul; consul is synonymous with http.
// If addr is the empty string the consul client will connect to the default address, which may be influenced by the environment.
func New(addr string) (kv.KV, error) {
	config := consul.DefaultConfig()
	if addr != "" {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, err
		}

		if u.Scheme != "consul" {
			config.Scheme = u.Scheme
		}
		config.Address = u.Host
	}

	client, err := consul.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &ckv{
		c:        client.KV(),
		client:   client,
		config:   config,
		sessions: map[string]string{},
	}, nil
}

func (c *ckv) Delete(key string, recurse bool) error {
	key = kv.Clean(key)
	var err error
	if recurse {
		_, err = c.c.DeleteTree(key, nil)
	} else {
		_, err = c.c.Delete(key, nil)
	}
	return err
}

func (c *ckv) Get(key string) (kv.Value, error) {
	kvp, _, err := c.c.Get(kv.Clean(key), nil)
	if err != nil {
		return kv.Value{}, err
	}
	if kvp == nil || kvp.Value == nil {
		return kv.Value{}, err404
	}
	return kv.Value{Data: kvp.Value, Index: kvp.ModifyIndex}, nil
}

func (c *ckv) GetAll(prefix string) (map[string]kv.Value, error) {
	pairs, _, err := c.c.List(kv.Clean(prefix), nil)
	if err != nil {
		return nil, err
	}
	many := make(map[string]kv.Value, len(pairs))
	for _, kvp := range pairs {
		many[kv.Clean(kvp.Key)] = kv.Value{Data: kvp.Value, Index: kvp.ModifyIndex}
	}
	return many, nil
}

func (c *ckv) Keys(key string) ([]string, error) {
	prefix := kv.Clean(key) + "/"
	keys, _, err := c.c.Keys(prefix, "/", nil)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, err404
	}
	return kv.Children(prefix, keys), nil
}

func (c *ckv) Set(key, value string) error {
	_, err := c.c.Put(&consul.KVPair{Key: kv.Clean(key), Value: []byte(value)}, nil)
	return err
}

func (c *ckv) cas(key string, value kv.Value) error {
	kvp := consul.KVPair{
		Key:         key,
		Value:       value.Data,
		ModifyIndex: value.Index,
	}

	valid, _, err := c.c.CAS(&kvp, nil)
	if err != nil {
		return err
	}

	if !valid {
		return kv.ErrCASFailed
	}

	return nil
}

// Update is racy with other modifiers since the consul KV API does not return the new modified index.
// See https://github.com/hashicorp/consul/issues/304
func (c *ckv) Update(key string, value kv.Value) (uint64, error) {
	key = kv.Clean(key)
	err := c.cas(key, value)
	if err != nil {
		return 0, err
	}

	v, err := c.Get(key)
	return v.Index, err
}

func (c *ckv) Remove(key string, index uint64) error {
	ok, _, err := c.c.DeleteCAS(&consul.KVPair{Key: kv.Clean(key), ModifyIndex: index}, nil)
	if err != nil {
		return err
	}

	if !ok {
		err = kv.ErrCASFailed
	}

	return err
}

func (c *ckv) IsKeyNotFound(err error) bool {
	return err == err404
}

func (c *ckv) Watch(prefix string, index uint64, stop chan struct{}) (chan kv.Event, chan error, error) {
	wp, err := watch.Parse(map[string]interface{}{
		"type":   "keyprefix",
		"prefix": kv.Clean(prefix),
	})
	if err != nil {
		return nil, nil, err
	}

	events := make(chan kv.Event)
	errs := make(chan error)

	saved := map[string]uint64{}
	wp.Handler = func(index uint64, data interface{}) {
		current := map[string]uint64{}

		pairs, _ := data.(consul.KVPairs)
		for _, kvp := range pairs {
			current[kvp.Key] = kvp.ModifyIndex

			event := kv.Event{
				Key: kv.Clean(kvp.Key),
				Value: kv.Value{
					Data:  kvp.Value,
					Index: kvp.ModifyIndex,
				},
			}

			old, ok := saved[kvp.Key]
			switch {
			case !ok:
				// doesn't exist in saved so must be created
				event.Type = kv.Create
			case old != kvp.ModifyIndex:
				// mod indexes differ so must be changed
				event.Type = kv.Update
			default:
				delete(saved, kvp.Key)
				continue
			}
			events <- event

			delete(saved, kvp.Key)
		}

		// anything left over in "saved" has not been found in "current"
		// so it must have been deleted
		for key, index := range saved {
			events <- kv.Event{
				Key:  kv.Clean(key),
				Type: kv.Delete,
				Value: kv.Value{
					Index: index,
				},
			}
		}

		saved = current
	}

	go func() {
		<-stop
		wp.Stop()
	}()
	go func() {
		if err := wp.RunWithConfig(c.config.Address, c.config); err != nil {
			errs <- err
		}
	}()

	return events, errs, nil
}

func (c *ckv) session(ttl time.Duration, behavior string) (string, error) {
	if ttl < minSessionTTL {
		ttl = minSessionTTL
	}
	sEntry := &consul.SessionEntry{
		TTL:      ttl.String(),
		Behavior: behavior,
	}

	session, _, err := c.client.Session().Create(sEntry, nil)
	return session, err
}

// TTL writes key bound to a session that deletes it when the session expires.
// Repeated calls renew the existing session.
func (c *ckv) TTL(key string, ttl time.Duration) error {
	key = kv.Clean(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if session, ok := c.sessions[key]; ok {
		entry, _, err := c.client.Session().Renew(session, nil)
		if err == nil && entry != nil {
			_, err = c.c.Put(&consul.KVPair{Key: key, Value: []byte(time.Now().String()), Session: session}, nil)
			return err
		}
		delete(c.sessions, key)
	}

	session, err := c.session(ttl, consul.SessionBehaviorDelete)
	if err != nil {
		return err
	}

	ok, _, err := c.c.Acquire(&consul.KVPair{Key: key, Value: []byte(time.Now().String()), Session: session}, nil)
	if err != nil {
		return err
	}
	if !ok {
		_, _ = c.client.Session().Destroy(session, nil)
		return errors.New("ttl key held by another client")
	}
	c.sessions[key] = session
	return nil
}

// Ping verifies communication with the cluster
func (c *ckv) Ping() error {
	_, err := c.client.Agent().NodeName()
	return err
}
