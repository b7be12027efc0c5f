package warden

import (
	"fmt"
	"regexp"
	"strings"
)

// Violation is one denied construct found in plugin source.
type Violation struct {
	Rule      string `json:"rule"`      // stable rule identifier
	Construct string `json:"construct"` // the offending source text
	Line      int    `json:"line"`      // 1-based
	Column    int    `json:"column"`    // 1-based
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %q at %d:%d", v.Rule, v.Construct, v.Line, v.Column)
}

// ViolationError aggregates every denied construct found in a source
// scan. The scanner is exhaustive, not fail-fast, so an author can fix
// all findings in one pass.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "source contains %d denied construct(s):", len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString(" ")
		b.WriteString(v.String())
		b.WriteString(";")
	}
	return strings.TrimSuffix(b.String(), ";")
}

func (e *ViolationError) Unwrap() error {
	return ErrSecurityViolation
}

// Scan rule identifiers.
const (
	RuleDynamicCode      = "dynamic-code-evaluation"
	RuleFileLoading      = "file-loading"
	RuleModuleLoading    = "module-loading"
	RuleFilesystemAccess = "filesystem-access"
	RuleProcessAccess    = "process-access"
	RuleReflection       = "reflective-access"
	RulePackageTamper    = "package-manipulation"
	RuleNetworkAccess    = "raw-network-access"
	RuleMetatableTamper  = "shared-metatable-manipulation"
)

// scanRule describes one denied construct family.
type scanRule struct {
	name    string
	pattern *regexp.Regexp
}

// denyRules is the fixed deny-list applied to every plugin source.
// Direct filesystem and network constructs are denied even when the
// plugin declares the corresponding permission: permitted effects flow
// only through the scoped API injected at runtime.
var denyRules = []scanRule{
	{RuleDynamicCode, regexp.MustCompile(`\bload\s*\(`)},
	{RuleDynamicCode, regexp.MustCompile(`\bloadstring\s*\(`)},
	{RuleFileLoading, regexp.MustCompile(`\bdofile\s*\(`)},
	{RuleFileLoading, regexp.MustCompile(`\bloadfile\s*\(`)},
	{RuleFilesystemAccess, regexp.MustCompile(`\bio\s*\.`)},
	{RuleProcessAccess, regexp.MustCompile(`\bos\s*\.`)},
	{RuleReflection, regexp.MustCompile(`\bdebug\s*\.`)},
	{RuleReflection, regexp.MustCompile(`\bgetfenv\b`)},
	{RuleReflection, regexp.MustCompile(`\bsetfenv\b`)},
	{RulePackageTamper, regexp.MustCompile(`\bpackage\s*\.`)},
	{RuleNetworkAccess, regexp.MustCompile(`\bsocket\s*\.`)},
	{RuleMetatableTamper, regexp.MustCompile(`\bsetmetatable\s*\(\s*_G\b`)},
	{RuleMetatableTamper, regexp.MustCompile(`\bgetmetatable\s*\(\s*_G\b`)},
	{RuleMetatableTamper, regexp.MustCompile(`\bgetmetatable\s*\(\s*['"]`)},
}

// requirePattern matches require calls so the module argument can be
// checked against the whitelist. Covers require("x"), require 'x', and
// dynamic forms (no string literal).
var requirePattern = regexp.MustCompile(`\brequire\b\s*\(?\s*(?:(['"])([^'"]*)['"])?`)

// requireWhitelist mirrors the modules the runtime sandbox resolves.
var requireWhitelist = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Scanner finds denied constructs in plugin source.
type Scanner struct {
	rules []scanRule
}

// NewScanner returns a scanner with the standard deny-list.
func NewScanner() *Scanner {
	return &Scanner{rules: denyRules}
}

// Scan returns every denied construct in the source, in line order.
// A nil slice means the source is clean.
func (s *Scanner) Scan(source string) []Violation {
	var found []Violation

	lines := strings.Split(source, "\n")
	for i, line := range lines {
		for _, rule := range s.rules {
			for _, loc := range rule.pattern.FindAllStringIndex(line, -1) {
				if dotPrefixed(line, loc[0]) {
					continue
				}
				found = append(found, Violation{
					Rule:      rule.name,
					Construct: strings.TrimSpace(line[loc[0]:loc[1]]),
					Line:      i + 1,
					Column:    loc[0] + 1,
				})
			}
		}
		found = append(found, scanRequires(line, i+1)...)
	}

	return found
}

// scanRequires flags require calls outside the module whitelist, and
// any require whose argument is not a plain string literal.
func scanRequires(line string, lineNo int) []Violation {
	var found []Violation

	for _, m := range requirePattern.FindAllStringSubmatchIndex(line, -1) {
		if dotPrefixed(line, m[0]) {
			continue
		}

		construct := line[m[0]:m[1]]
		// m[4], m[5] bound the module name literal when present.
		if m[4] >= 0 {
			mod := line[m[4]:m[5]]
			if requireWhitelist[mod] {
				continue
			}
			construct = fmt.Sprintf("require(%q)", mod)
		} else {
			construct = "require(<dynamic>)"
		}

		found = append(found, Violation{
			Rule:      RuleModuleLoading,
			Construct: construct,
			Line:      lineNo,
			Column:    m[0] + 1,
		})
	}

	return found
}

// dotPrefixed reports whether the match at offset is a field access on
// some other value (e.g. self.load) rather than the global construct.
func dotPrefixed(line string, offset int) bool {
	for i := offset - 1; i >= 0; i-- {
		switch line[i] {
		case ' ', '\t':
			continue
		case '.':
			// A dot-dot is the Lua concat operator, not field access.
			return i == 0 || line[i-1] != '.'
		default:
			return false
		}
	}
	return false
}

// ScanSource is a convenience wrapper returning nil for clean source or
// a *ViolationError enumerating every finding.
func ScanSource(source string) error {
	violations := NewScanner().Scan(source)
	if len(violations) == 0 {
		return nil
	}
	return &ViolationError{Violations: violations}
}
