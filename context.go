package aurora

import (
	"encoding/json"
	"path/filepath"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
)

// Context carries around data/structs needed for operations
type Context struct {
	kv kv.KV
}

// NewContext creates a new context
func NewContext(store kv.KV) *Context {
	return &Context{
		kv: store,
	}
}

// KV returns the store backing the context
func (c *Context) KV() kv.KV {
	return c.kv
}

// IsKeyNotFound is a helper to determine if the error is a key not found error
func (c *Context) IsKeyNotFound(err error) bool {
	return c.kv.IsKeyNotFound(err)
}

// load reads the json document at key into v and returns its index
func (c *Context) load(key string, v interface{}) (uint64, error) {
	value, err := c.kv.Get(key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(value.Data, v); err != nil {
		return 0, err
	}
	return value.Index, nil
}

// save writes v as json at key, refusing to clobber a newer value
func (c *Context) save(key string, v interface{}, index uint64) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return c.kv.Update(key, kv.Value{Data: data, Index: index})
}

// forEachID calls f with the id of every entity stored under path
func (c *Context) forEachID(path string, f func(string) error) error {
	keys, err := c.kv.Keys(path)
	if err != nil {
		if c.kv.IsKeyNotFound(err) {
			return nil
		}
		return err
	}
	for _, k := range keys {
		if err := f(filepath.Base(k)); err != nil {
			return err
		}
	}
	return nil
}
