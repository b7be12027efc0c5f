// Package security provides the capability schema, permission checking,
// and resource limit primitives for the plugin sandbox.
package security

import (
	"fmt"
	"sort"
)

// Capability represents a permission that a plugin can request.
// The set of capabilities is closed: a manifest declaring anything
// outside this enum fails validation.
type Capability string

// Capabilities a plugin may declare in its manifest.
const (
	// CapabilityFileRead allows reading plugin-visible files through
	// gated helpers. Direct filesystem primitives are always denied.
	CapabilityFileRead Capability = "file_read"

	// CapabilityFileWrite allows writing plugin-visible files through
	// gated helpers. Direct filesystem primitives are always denied.
	CapabilityFileWrite Capability = "file_write"

	// CapabilityNetworkAccess allows outbound HTTP through the gated
	// helper, restricted to the plugin's allow-listed domains.
	CapabilityNetworkAccess Capability = "network_access"

	// CapabilityDatabaseRead allows reads from the plugin's namespaced
	// key-value storage.
	CapabilityDatabaseRead Capability = "database_read"

	// CapabilityDatabaseWrite allows writes to the plugin's namespaced
	// key-value storage.
	CapabilityDatabaseWrite Capability = "database_write"

	// CapabilitySystemInfo allows reading coarse host information
	// (CMS version, platform).
	CapabilitySystemInfo Capability = "system_info"

	// CapabilityUserData exposes the invoking user's identity to the
	// plugin. Without it the plugin sees a null identity.
	CapabilityUserData Capability = "user_data"

	// CapabilityNotifications allows publishing events on the host
	// notification bus.
	CapabilityNotifications Capability = "notifications"

	// CapabilityAnalytics allows recording anonymous usage counters.
	CapabilityAnalytics Capability = "analytics"
)

// CapabilityInfo provides metadata about a capability.
type CapabilityInfo struct {
	// Name is the capability identifier as it appears in manifests.
	Name Capability

	// DisplayName is a human-readable name.
	DisplayName string

	// Description explains what the capability allows.
	Description string

	// RiskLevel indicates how dangerous this capability is.
	RiskLevel RiskLevel

	// RequiresAdminApproval indicates the site administrator must
	// explicitly approve a plugin requesting it.
	RequiresAdminApproval bool
}

// RiskLevel indicates the security risk of a capability.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// capabilityRegistry holds metadata about all known capabilities.
var capabilityRegistry = map[Capability]CapabilityInfo{
	CapabilityFileRead: {
		Name:                  CapabilityFileRead,
		DisplayName:           "File Read",
		Description:           "Read files through gated helpers",
		RiskLevel:             RiskMedium,
		RequiresAdminApproval: false,
	},
	CapabilityFileWrite: {
		Name:                  CapabilityFileWrite,
		DisplayName:           "File Write",
		Description:           "Write files through gated helpers",
		RiskLevel:             RiskHigh,
		RequiresAdminApproval: true,
	},
	CapabilityNetworkAccess: {
		Name:                  CapabilityNetworkAccess,
		DisplayName:           "Network Access",
		Description:           "Outbound HTTP to allow-listed domains",
		RiskLevel:             RiskHigh,
		RequiresAdminApproval: true,
	},
	CapabilityDatabaseRead: {
		Name:                  CapabilityDatabaseRead,
		DisplayName:           "Storage Read",
		Description:           "Read the plugin's namespaced storage",
		RiskLevel:             RiskLow,
		RequiresAdminApproval: false,
	},
	CapabilityDatabaseWrite: {
		Name:                  CapabilityDatabaseWrite,
		DisplayName:           "Storage Write",
		Description:           "Write the plugin's namespaced storage",
		RiskLevel:             RiskMedium,
		RequiresAdminApproval: false,
	},
	CapabilitySystemInfo: {
		Name:                  CapabilitySystemInfo,
		DisplayName:           "System Info",
		Description:           "Read coarse host information",
		RiskLevel:             RiskLow,
		RequiresAdminApproval: false,
	},
	CapabilityUserData: {
		Name:                  CapabilityUserData,
		DisplayName:           "User Data",
		Description:           "See the invoking user's identity",
		RiskLevel:             RiskHigh,
		RequiresAdminApproval: true,
	},
	CapabilityNotifications: {
		Name:                  CapabilityNotifications,
		DisplayName:           "Notifications",
		Description:           "Publish events on the notification bus",
		RiskLevel:             RiskLow,
		RequiresAdminApproval: false,
	},
	CapabilityAnalytics: {
		Name:                  CapabilityAnalytics,
		DisplayName:           "Analytics",
		Description:           "Record anonymous usage counters",
		RiskLevel:             RiskLow,
		RequiresAdminApproval: false,
	},
}

// GetCapabilityInfo returns information about a capability.
func GetCapabilityInfo(cap Capability) (CapabilityInfo, bool) {
	info, ok := capabilityRegistry[cap]
	return info, ok
}

// IsValidCapability returns true if the capability is known.
func IsValidCapability(cap Capability) bool {
	_, ok := capabilityRegistry[cap]
	return ok
}

// AllCapabilities returns all known capabilities in stable order.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, len(capabilityRegistry))
	for cap := range capabilityRegistry {
		caps = append(caps, cap)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// HighRiskCapabilities returns capabilities that require admin approval.
func HighRiskCapabilities() []Capability {
	var caps []Capability
	for cap, info := range capabilityRegistry {
		if info.RequiresAdminApproval {
			caps = append(caps, cap)
		}
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// SubsetOf returns true if every capability in caps is present in of.
// An empty caps slice is a subset of anything.
func SubsetOf(caps, of []Capability) bool {
	if len(caps) == 0 {
		return true
	}
	declared := make(map[Capability]bool, len(of))
	for _, c := range of {
		declared[c] = true
	}
	for _, c := range caps {
		if !declared[c] {
			return false
		}
	}
	return true
}

// CapabilityError represents a capability-related error.
type CapabilityError struct {
	Capability Capability
	Operation  string
	Message    string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("capability %q required for %s: %s", e.Capability, e.Operation, e.Message)
	}
	return fmt.Sprintf("capability %q: %s", e.Capability, e.Message)
}

// NewCapabilityError creates a new capability error.
func NewCapabilityError(cap Capability, operation, message string) *CapabilityError {
	return &CapabilityError{
		Capability: cap,
		Operation:  operation,
		Message:    message,
	}
}
