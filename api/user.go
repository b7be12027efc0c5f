package api

import (
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/lua"
	"github.com/dshills/warden/security"
)

// Identity describes the invoking user as plugins see it.
type Identity struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// UserAPI is the identity capability variant. Without the user_data
// grant a plugin sees no identity at all; the module stays installed
// but current() returns nil. This is deliberately not an error so
// plugins can degrade instead of crashing.
type UserAPI struct {
	core     *scope
	identity *Identity
}

// Current returns the invoking identity, or nil when the plugin lacks
// user_data or the invocation has no user behind it.
func (a *UserAPI) Current() *Identity {
	if !a.core.checker.HasCapability(security.CapabilityUserData) {
		return nil
	}
	return a.identity
}

func (a *UserAPI) module(bridge *lua.Bridge) map[string]glua.LGFunction {
	return map[string]glua.LGFunction{
		"current": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			identity := a.Current()
			if identity == nil {
				return nil, nil
			}
			return identity, nil
		}),
	}
}
