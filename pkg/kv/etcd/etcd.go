// Package etcd is the etcd v3 kv implementation. It registers the etcd
// scheme and answers the generic http and https schemes.
package etcd

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// RequestTimeout bounds every single etcd request
var RequestTimeout = 5 * time.Second

var errKeyNotFound = errors.New("key not found")

func init() {
	kv.Register("etcd", New)
}

type ekv struct {
	e        *clientv3.Client
	endpoint string
}

// New connects to the etcd cluster at addr. The etcd scheme is synonymous
// with http.
func New(addr string) (kv.KV, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "etcd" {
		u.Scheme = "http"
	}
	endpoint := u.String()

	c, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &ekv{e: c, endpoint: endpoint}, nil
}

func key(k string) string {
	return "/" + kv.Clean(k)
}

func dir(k string) string {
	return strings.TrimSuffix(key(k), "/") + "/"
}

func (e *ekv) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), RequestTimeout)
}

func (e *ekv) Delete(k string, recurse bool) error {
	ctx, cancel := e.ctx()
	defer cancel()

	resp, err := e.e.Delete(ctx, key(k))
	if err != nil {
		return err
	}
	deleted := resp.Deleted
	if recurse {
		resp, err = e.e.Delete(ctx, dir(k), clientv3.WithPrefix())
		if err != nil {
			return err
		}
		deleted += resp.Deleted
	}
	if deleted == 0 && !recurse {
		return errKeyNotFound
	}
	return nil
}

func (e *ekv) Get(k string) (kv.Value, error) {
	ctx, cancel := e.ctx()
	defer cancel()

	resp, err := e.e.Get(ctx, key(k))
	if err != nil {
		return kv.Value{}, err
	}
	if len(resp.Kvs) == 0 {
		return kv.Value{}, errKeyNotFound
	}
	node := resp.Kvs[0]
	return kv.Value{Data: node.Value, Index: uint64(node.ModRevision)}, nil
}

func (e *ekv) GetAll(prefix string) (map[string]kv.Value, error) {
	ctx, cancel := e.ctx()
	defer cancel()

	resp, err := e.e.Get(ctx, dir(prefix), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	many := make(map[string]kv.Value, len(resp.Kvs))
	for _, node := range resp.Kvs {
		many[kv.Clean(string(node.Key))] = kv.Value{Data: node.Value, Index: uint64(node.ModRevision)}
	}
	return many, nil
}

func (e *ekv) Keys(prefix string) ([]string, error) {
	ctx, cancel := e.ctx()
	defer cancel()

	resp, err := e.e.Get(ctx, dir(prefix), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, errKeyNotFound
	}

	keys := make([]string, len(resp.Kvs))
	for i, node := range resp.Kvs {
		keys[i] = string(node.Key)
	}
	return kv.Children(prefix, keys), nil
}

func (e *ekv) Set(k, value string) error {
	ctx, cancel := e.ctx()
	defer cancel()

	_, err := e.e.Put(ctx, key(k), value)
	return err
}

func (e *ekv) Update(k string, value kv.Value) (uint64, error) {
	ctx, cancel := e.ctx()
	defer cancel()

	cmp := clientv3.Compare(clientv3.ModRevision(key(k)), "=", int64(value.Index))
	if value.Index == 0 {
		cmp = clientv3.Compare(clientv3.CreateRevision(key(k)), "=", 0)
	}

	resp, err := e.e.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(key(k), string(value.Data))).
		Commit()
	if err != nil {
		return 0, err
	}
	if !resp.Succeeded {
		return 0, kv.ErrCASFailed
	}
	return uint64(resp.Header.Revision), nil
}

func (e *ekv) Remove(k string, index uint64) error {
	ctx, cancel := e.ctx()
	defer cancel()

	resp, err := e.e.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key(k)), "=", int64(index))).
		Then(clientv3.OpDelete(key(k))).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return kv.ErrCASFailed
	}
	return nil
}

func (e *ekv) IsKeyNotFound(err error) bool {
	return err == errKeyNotFound
}

func (e *ekv) Watch(prefix string, index uint64, stop chan struct{}) (chan kv.Event, chan error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stop
		cancel()
	}()

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if index != 0 {
		opts = append(opts, clientv3.WithRev(int64(index)+1))
	}
	wch := e.e.Watch(ctx, key(prefix), opts...)

	events := make(chan kv.Event)
	errs := make(chan error)
	go func() {
		for resp := range wch {
			if err := resp.Err(); err != nil {
				select {
				case errs <- err:
				case <-stop:
					return
				}
				continue
			}
			for _, ev := range resp.Events {
				event := kv.Event{
					Key: kv.Clean(string(ev.Kv.Key)),
					Value: kv.Value{
						Data:  ev.Kv.Value,
						Index: uint64(ev.Kv.ModRevision),
					},
				}
				switch {
				case ev.Type == clientv3.EventTypeDelete:
					event.Type = kv.Delete
				case ev.IsCreate():
					event.Type = kv.Create
				default:
					event.Type = kv.Update
				}
				select {
				case events <- event:
				case <-stop:
					return
				}
			}
		}
	}()

	return events, errs, nil
}

func (e *ekv) TTL(k string, ttl time.Duration) error {
	ctx, cancel := e.ctx()
	defer cancel()

	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	lease, err := e.e.Grant(ctx, seconds)
	if err != nil {
		return err
	}
	_, err = e.e.Put(ctx, key(k), time.Now().String(), clientv3.WithLease(lease.ID))
	return err
}

// Ping verifies communication with the cluster
func (e *ekv) Ping() error {
	ctx, cancel := e.ctx()
	defer cancel()

	_, err := e.e.Status(ctx, e.endpoint)
	return err
}
