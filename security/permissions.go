package security

import (
	"net"
	"strings"
	"sync"
)

// PermissionChecker validates capability grants and outbound network
// targets for a single plugin. One checker is built per invocation from
// the granted capability subset and the record's domain allow-list.
type PermissionChecker struct {
	mu sync.RWMutex

	// Granted capabilities
	capabilities map[Capability]bool

	// Network restrictions (lowercased). The allow-list is
	// administrator-managed; an empty allow-list denies all hosts.
	allowedDomains []string
	blockedDomains []string

	// Plugin identity
	pluginID string
}

// NewPermissionChecker creates a new permission checker.
func NewPermissionChecker(pluginID string) *PermissionChecker {
	return &PermissionChecker{
		capabilities: make(map[Capability]bool),
		pluginID:     pluginID,
	}
}

// PluginID returns the plugin this checker guards.
func (pc *PermissionChecker) PluginID() string {
	return pc.pluginID
}

// Grant grants a capability to the plugin.
func (pc *PermissionChecker) Grant(cap Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.capabilities[cap] = true
}

// GrantAll grants multiple capabilities.
func (pc *PermissionChecker) GrantAll(caps []Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, cap := range caps {
		pc.capabilities[cap] = true
	}
}

// Revoke revokes a capability from the plugin.
func (pc *PermissionChecker) Revoke(cap Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	delete(pc.capabilities, cap)
}

// HasCapability returns true if the capability is granted.
func (pc *PermissionChecker) HasCapability(cap Capability) bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.capabilities[cap]
}

// CheckCapability returns an error if the capability is not granted.
func (pc *PermissionChecker) CheckCapability(cap Capability) error {
	if !pc.HasCapability(cap) {
		return NewCapabilityError(cap, "", "not granted")
	}
	return nil
}

// Capabilities returns all granted capabilities.
func (pc *PermissionChecker) Capabilities() []Capability {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	caps := make([]Capability, 0, len(pc.capabilities))
	for cap := range pc.capabilities {
		caps = append(caps, cap)
	}
	return caps
}

// AllowDomain adds a domain to the allow-list.
// The domain is normalized to lowercase.
func (pc *PermissionChecker) AllowDomain(domain string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.allowedDomains = append(pc.allowedDomains, strings.ToLower(domain))
}

// SetAllowedDomains replaces the allow-list.
func (pc *PermissionChecker) SetAllowedDomains(domains []string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.allowedDomains = pc.allowedDomains[:0]
	for _, d := range domains {
		pc.allowedDomains = append(pc.allowedDomains, strings.ToLower(d))
	}
}

// BlockDomain adds a domain to the block-list. Blocked domains take
// precedence over the allow-list; engines block loopback and link-local
// targets here regardless of administrator configuration.
func (pc *PermissionChecker) BlockDomain(domain string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.blockedDomains = append(pc.blockedDomains, strings.ToLower(domain))
}

// CheckNetwork checks if outbound access to a host is permitted.
// Requires the network_access capability and the host to match the
// allow-list. An empty allow-list denies every host.
func (pc *PermissionChecker) CheckNetwork(host string) error {
	if !pc.HasCapability(CapabilityNetworkAccess) {
		return NewCapabilityError(CapabilityNetworkAccess, "network request", "not granted")
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()

	hostOnly := strings.ToLower(extractHost(host))

	// Block-list takes precedence
	for _, blocked := range pc.blockedDomains {
		if matchHost(hostOnly, blocked) {
			return NewCapabilityError(CapabilityNetworkAccess, "network request", "host is blocked")
		}
	}

	for _, allowed := range pc.allowedDomains {
		if matchHost(hostOnly, allowed) {
			return nil
		}
	}

	return NewCapabilityError(CapabilityNetworkAccess, "network request", "host not in allowed domains")
}

// extractHost extracts the host from a host:port string.
// Handles IPv6 addresses like [::1]:8080 and regular host:port.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}

	// Bracketed IPv6 address without a port: [::1]
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}

	// Plain host without port
	return hostPort
}

// matchHost checks if a host matches a pattern (case-insensitive).
// Supports wildcard matching (e.g., "*.example.com").
func matchHost(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if host == pattern {
		return true
	}

	// Wildcard match: "*.example.com" matches any subdomain but not
	// the apex domain itself.
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // keep the leading dot
		return strings.HasSuffix(host, suffix)
	}

	return false
}

// Reset clears all grants and domain lists.
func (pc *PermissionChecker) Reset() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.capabilities = make(map[Capability]bool)
	pc.allowedDomains = nil
	pc.blockedDomains = nil
}
