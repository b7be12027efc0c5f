package api

import (
	"errors"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/lua"
	"github.com/dshills/warden/security"
)

// EventsAPI is the notification capability variant. Publishing requires
// the notifications grant. Events are attributed to the plugin as their
// source; a plugin cannot publish as anyone else.
type EventsAPI struct {
	core   *scope
	sink   EventSink
	source string
}

// Publish emits an event on the host notification bus.
func (a *EventsAPI) Publish(topic string, payload map[string]interface{}) error {
	if err := a.core.count(); err != nil {
		return err
	}
	if !a.core.checker.HasCapability(security.CapabilityNotifications) {
		return a.core.fail(security.NewCapabilityError(security.CapabilityNotifications, "events.publish", "not granted"))
	}
	if topic == "" {
		return a.core.fail(errors.New("event topic is required"))
	}
	if a.sink != nil {
		a.sink.Publish(a.source, topic, payload)
	}
	return nil
}

func (a *EventsAPI) module(bridge *lua.Bridge) map[string]glua.LGFunction {
	return map[string]glua.LGFunction{
		"publish": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			topic, err := stringArg(args, 0, "topic")
			if err != nil {
				return nil, err
			}
			payload, err := optionalTableArg(args, 1, "payload")
			if err != nil {
				return nil, err
			}
			return nil, a.Publish(topic, payload)
		}),
	}
}
