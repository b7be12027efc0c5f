package api

import (
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/lua"
	"github.com/dshills/warden/security"
)

// SystemAPI exposes coarse host information to plugins holding the
// system_info grant.
type SystemAPI struct {
	core *scope
	info HostInfo
}

// Info returns the host description.
func (a *SystemAPI) Info() (*HostInfo, error) {
	if err := a.core.count(); err != nil {
		return nil, err
	}
	if !a.core.checker.HasCapability(security.CapabilitySystemInfo) {
		return nil, a.core.fail(security.NewCapabilityError(security.CapabilitySystemInfo, "system.info", "not granted"))
	}
	info := a.info
	return &info, nil
}

func (a *SystemAPI) module(bridge *lua.Bridge) map[string]glua.LGFunction {
	return map[string]glua.LGFunction{
		"info": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			info, err := a.Info()
			if err != nil {
				return nil, err
			}
			return info, nil
		}),
	}
}
