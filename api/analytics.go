package api

import (
	"errors"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/lua"
	"github.com/dshills/warden/security"
)

// AnalyticsAPI is the usage counter capability variant. Counters are
// anonymous: the sink receives the plugin id and counter name, never
// the invoking user.
type AnalyticsAPI struct {
	core *scope
	sink AnalyticsSink
}

// Increment adds delta to a named counter.
func (a *AnalyticsAPI) Increment(name string, delta int64) error {
	if err := a.core.count(); err != nil {
		return err
	}
	if !a.core.checker.HasCapability(security.CapabilityAnalytics) {
		return a.core.fail(security.NewCapabilityError(security.CapabilityAnalytics, "analytics.increment", "not granted"))
	}
	if name == "" {
		return a.core.fail(errors.New("counter name is required"))
	}
	if a.sink != nil {
		a.sink.Count(a.core.pluginID, name, delta)
	}
	return nil
}

func (a *AnalyticsAPI) module(bridge *lua.Bridge) map[string]glua.LGFunction {
	return map[string]glua.LGFunction{
		"increment": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			name, err := stringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			delta, ok, err := optionalNumberArg(args, 1, "delta")
			if err != nil {
				return nil, err
			}
			if !ok {
				delta = 1
			}
			return nil, a.Increment(name, int64(delta))
		}),
	}
}
