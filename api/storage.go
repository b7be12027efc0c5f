package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/lua"
	"github.com/dshills/warden/security"
)

// StorageAPI is the storage capability variant. Reads require
// database_read and writes database_write; a missing grant denies the
// call at call time. All keys live in the plugin's own namespace.
//
// Values are JSON-encoded on write and decoded on read, so plugins can
// store tables without their own serializer.
type StorageAPI struct {
	core      *scope
	kv        KV
	namespace string
}

// Get reads a key. The second return is false when the key is absent.
func (a *StorageAPI) Get(key string) (interface{}, bool, error) {
	if err := a.gate(security.CapabilityDatabaseRead, "storage.get"); err != nil {
		return nil, false, err
	}

	raw, found, err := a.kv.Get(a.core.context(), a.namespace, key)
	if err != nil {
		return nil, false, a.core.fail(err)
	}
	if !found {
		return nil, false, nil
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		// Value predates JSON encoding or was written out-of-band.
		return raw, true, nil
	}
	return value, true, nil
}

// Set writes a key. A zero TTL stores the value without expiry.
func (a *StorageAPI) Set(key string, value interface{}, ttl time.Duration) error {
	if err := a.gate(security.CapabilityDatabaseWrite, "storage.set"); err != nil {
		return err
	}
	if key == "" {
		return a.core.fail(errors.New("storage key is required"))
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return a.core.fail(fmt.Errorf("encode storage value: %w", err))
	}
	if err := a.kv.Set(a.core.context(), a.namespace, key, string(raw), ttl); err != nil {
		return a.core.fail(err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (a *StorageAPI) Delete(key string) error {
	if err := a.gate(security.CapabilityDatabaseWrite, "storage.delete"); err != nil {
		return err
	}
	if err := a.kv.Delete(a.core.context(), a.namespace, key); err != nil {
		return a.core.fail(err)
	}
	return nil
}

// Keys lists the plugin's keys in sorted order.
func (a *StorageAPI) Keys() ([]string, error) {
	if err := a.gate(security.CapabilityDatabaseRead, "storage.keys"); err != nil {
		return nil, err
	}
	keys, err := a.kv.Keys(a.core.context(), a.namespace)
	if err != nil {
		return nil, a.core.fail(err)
	}
	return keys, nil
}

func (a *StorageAPI) gate(cap security.Capability, op string) error {
	if err := a.core.count(); err != nil {
		return err
	}
	if !a.core.checker.HasCapability(cap) {
		return a.core.fail(security.NewCapabilityError(cap, op, "not granted"))
	}
	if !a.core.monitor.TryStorageOp() {
		return a.core.fail(fmt.Errorf("%w: %s", security.ErrRateLimited, op))
	}
	return nil
}

func (a *StorageAPI) module(bridge *lua.Bridge) map[string]glua.LGFunction {
	return map[string]glua.LGFunction{
		"get": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			key, err := stringArg(args, 0, "key")
			if err != nil {
				return nil, err
			}
			value, found, err := a.Get(key)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, nil
			}
			return value, nil
		}),
		"set": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			key, err := stringArg(args, 0, "key")
			if err != nil {
				return nil, err
			}
			if len(args) < 2 {
				return nil, errors.New(`missing argument "value"`)
			}
			ttlSec, _, err := optionalNumberArg(args, 2, "ttl")
			if err != nil {
				return nil, err
			}
			return nil, a.Set(key, args[1], time.Duration(ttlSec*float64(time.Second)))
		}),
		"delete": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			key, err := stringArg(args, 0, "key")
			if err != nil {
				return nil, err
			}
			return nil, a.Delete(key)
		}),
		"keys": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			keys, err := a.Keys()
			if err != nil {
				return nil, err
			}
			return keys, nil
		}),
	}
}
