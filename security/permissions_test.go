package security

import "testing"

func TestNewPermissionChecker(t *testing.T) {
	pc := NewPermissionChecker("hello-world")
	if pc == nil {
		t.Fatal("NewPermissionChecker returned nil")
	}
	if pc.PluginID() != "hello-world" {
		t.Errorf("PluginID() = %q, want %q", pc.PluginID(), "hello-world")
	}
}

func TestPermissionCheckerGrant(t *testing.T) {
	pc := NewPermissionChecker("test")

	pc.Grant(CapabilityDatabaseRead)
	if !pc.HasCapability(CapabilityDatabaseRead) {
		t.Error("HasCapability(database_read) = false after Grant")
	}
}

func TestPermissionCheckerRevoke(t *testing.T) {
	pc := NewPermissionChecker("test")

	pc.Grant(CapabilityDatabaseRead)
	pc.Revoke(CapabilityDatabaseRead)
	if pc.HasCapability(CapabilityDatabaseRead) {
		t.Error("HasCapability(database_read) = true after Revoke")
	}
}

func TestPermissionCheckerGrantAll(t *testing.T) {
	pc := NewPermissionChecker("test")

	caps := []Capability{CapabilityDatabaseRead, CapabilityNetworkAccess, CapabilityNotifications}
	pc.GrantAll(caps)

	for _, cap := range caps {
		if !pc.HasCapability(cap) {
			t.Errorf("HasCapability(%q) = false", cap)
		}
	}
}

func TestPermissionCheckerCheckCapability(t *testing.T) {
	pc := NewPermissionChecker("test")

	// Without capability
	err := pc.CheckCapability(CapabilityUserData)
	if err == nil {
		t.Error("CheckCapability should fail without capability")
	}

	// With capability
	pc.Grant(CapabilityUserData)
	err = pc.CheckCapability(CapabilityUserData)
	if err != nil {
		t.Errorf("CheckCapability with capability error = %v", err)
	}
}

func TestPermissionCheckerCapabilities(t *testing.T) {
	pc := NewPermissionChecker("test")

	pc.Grant(CapabilityDatabaseRead)
	pc.Grant(CapabilityNetworkAccess)

	caps := pc.Capabilities()
	if len(caps) != 2 {
		t.Errorf("Capabilities() returned %d items, want 2", len(caps))
	}
}

func TestPermissionCheckerCheckNetworkWithoutCapability(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.AllowDomain("api.example.com")

	err := pc.CheckNetwork("api.example.com")
	if err == nil {
		t.Error("CheckNetwork should fail without network_access")
	}
}

func TestPermissionCheckerEmptyAllowListDenies(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.Grant(CapabilityNetworkAccess)

	// No allow-listed domains: everything is denied.
	err := pc.CheckNetwork("api.example.com")
	if err == nil {
		t.Error("CheckNetwork with empty allow-list should fail")
	}
}

func TestPermissionCheckerAllowedDomains(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.Grant(CapabilityNetworkAccess)
	pc.AllowDomain("api.example.com")

	// Allowed host
	err := pc.CheckNetwork("api.example.com")
	if err != nil {
		t.Errorf("CheckNetwork on allowed host error = %v", err)
	}

	// Not allowed host
	err = pc.CheckNetwork("other.com")
	if err == nil {
		t.Error("CheckNetwork on non-allowed host should fail")
	}
}

func TestPermissionCheckerSetAllowedDomains(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.Grant(CapabilityNetworkAccess)
	pc.AllowDomain("old.example.com")
	pc.SetAllowedDomains([]string{"new.example.com"})

	if err := pc.CheckNetwork("new.example.com"); err != nil {
		t.Errorf("CheckNetwork on replaced allow-list error = %v", err)
	}
	if err := pc.CheckNetwork("old.example.com"); err == nil {
		t.Error("CheckNetwork on removed domain should fail")
	}
}

func TestPermissionCheckerBlockedDomains(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.Grant(CapabilityNetworkAccess)
	pc.AllowDomain("*.example.com")
	pc.BlockDomain("internal.example.com")

	// Blocked host, even though the wildcard allows it
	err := pc.CheckNetwork("internal.example.com")
	if err == nil {
		t.Error("CheckNetwork on blocked host should fail")
	}

	// Sibling subdomain still allowed
	err = pc.CheckNetwork("api.example.com")
	if err != nil {
		t.Errorf("CheckNetwork on allowed sibling error = %v", err)
	}
}

func TestPermissionCheckerWildcardDomains(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.Grant(CapabilityNetworkAccess)
	pc.AllowDomain("*.example.com")

	// Subdomain match
	err := pc.CheckNetwork("api.example.com")
	if err != nil {
		t.Errorf("CheckNetwork on subdomain error = %v", err)
	}

	// Deep subdomain match
	err = pc.CheckNetwork("deep.api.example.com")
	if err != nil {
		t.Errorf("CheckNetwork on deep subdomain error = %v", err)
	}

	// Apex does not match the wildcard
	err = pc.CheckNetwork("example.com")
	if err == nil {
		t.Error("CheckNetwork on apex should fail for *.example.com")
	}
}

func TestPermissionCheckerNetworkWithPort(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.Grant(CapabilityNetworkAccess)
	pc.AllowDomain("api.example.com")

	err := pc.CheckNetwork("api.example.com:443")
	if err != nil {
		t.Errorf("CheckNetwork with port error = %v", err)
	}
}

func TestPermissionCheckerReset(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.Grant(CapabilityNetworkAccess)
	pc.AllowDomain("example.com")
	pc.BlockDomain("blocked.com")

	pc.Reset()

	if pc.HasCapability(CapabilityNetworkAccess) {
		t.Error("HasCapability should be false after Reset")
	}
	if len(pc.Capabilities()) != 0 {
		t.Error("Capabilities should be empty after Reset")
	}
}

func TestMatchHost(t *testing.T) {
	tests := []struct {
		host     string
		pattern  string
		expected bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "other.com", false},
		{"api.example.com", "*.example.com", true},
		{"deep.api.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false}, // No subdomain
		{"notexample.com", "*.example.com", false},
		// Case insensitivity
		{"Example.Com", "example.com", true},
		{"API.Example.COM", "*.example.com", true},
	}

	for _, tt := range tests {
		got := matchHost(tt.host, tt.pattern)
		if got != tt.expected {
			t.Errorf("matchHost(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.expected)
		}
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Regular host:port
		{"example.com:443", "example.com"},
		{"example.com:80", "example.com"},
		// IPv6 with port
		{"[::1]:8080", "::1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		// Plain host without port
		{"example.com", "example.com"},
		// IPv6 without port (bracketed)
		{"[::1]", "::1"},
		// IPv6 without brackets (no port)
		{"::1", "::1"},
	}

	for _, tt := range tests {
		got := extractHost(tt.input)
		if got != tt.expected {
			t.Errorf("extractHost(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestPermissionCheckerIPv6Network(t *testing.T) {
	pc := NewPermissionChecker("test")
	pc.Grant(CapabilityNetworkAccess)
	pc.AllowDomain("::1")

	// IPv6 loopback with port
	err := pc.CheckNetwork("[::1]:8080")
	if err != nil {
		t.Errorf("CheckNetwork([::1]:8080) error = %v", err)
	}

	// Different IPv6 address should fail
	err = pc.CheckNetwork("[2001:db8::1]:443")
	if err == nil {
		t.Error("CheckNetwork([2001:db8::1]:443) should fail")
	}
}
