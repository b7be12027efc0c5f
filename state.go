package warden

import "fmt"

// Status is the lifecycle state of an installed plugin. Stored on the
// PluginRecord and persisted verbatim in the catalog.
type Status string

// Lifecycle states.
const (
	// StatusValidated - the artifact passed static validation but is not installed.
	StatusValidated Status = "validated"

	// StatusInstalled - the artifact is persisted; the plugin has never been enabled.
	StatusInstalled Status = "installed"

	// StatusEnabled - the plugin is dispatchable.
	StatusEnabled Status = "enabled"

	// StatusDisabled - the plugin is installed but not dispatchable.
	StatusDisabled Status = "disabled"
)

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusValidated, StatusInstalled, StatusEnabled, StatusDisabled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown plugin status %q", s)
	}
}

// String returns the stored representation.
func (s Status) String() string {
	return string(s)
}

// Dispatchable returns true if the coordinator may run plugin code in
// this state.
func (s Status) Dispatchable() bool {
	return s == StatusEnabled
}

// CanTransitionTo reports whether the lifecycle allows moving from s to
// next. Uninstall is a removal, not a state, and is not covered here.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusValidated:
		return next == StatusInstalled
	case StatusInstalled:
		return next == StatusEnabled
	case StatusEnabled:
		return next == StatusDisabled
	case StatusDisabled:
		return next == StatusEnabled
	default:
		return false
	}
}
