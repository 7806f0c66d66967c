package aurora

import (
	"errors"
	"path/filepath"
	"strconv"
)

// ConfigPath is the path in the config store for cluster-wide settings
var ConfigPath = "aurora/config/"

// Cluster-wide setting names
const (
	ConfigInventoryDivisor = "inventory/divisor"
	ConfigCPUMultiplier    = "inventory/cpu-multiplier"
)

// GetConfig reads an arbitrary setting from the config store
func (c *Context) GetConfig(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty config key")
	}

	value, err := c.kv.Get(filepath.Join(ConfigPath, key))
	if err != nil {
		return "", err
	}
	return string(value.Data), nil
}

// SetConfig writes an arbitrary setting to the config store
func (c *Context) SetConfig(key, val string) error {
	if key == "" {
		return errors.New("empty config key")
	}
	return c.kv.Set(filepath.Join(ConfigPath, key), val)
}

// ConfigFloat reads a numeric setting, falling back to def when it is unset
// or not a number.
func (c *Context) ConfigFloat(key string, def float64) float64 {
	val, err := c.GetConfig(key)
	if err != nil {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}

// ToBool parses a setting value as a bool
func ToBool(val string) bool {
	b, err := strconv.ParseBool(val)
	return err == nil && b
}
