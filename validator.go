package warden

// ValidationResult carries the outputs of a successful validation:
// typed metadata and the content checksum recorded for tamper checks.
type ValidationResult struct {
	Manifest *Manifest
	Checksum string
}

// Validator statically screens plugin artifacts before they enter the
// registry. Validation is pure: it touches neither the catalog nor the
// filesystem; the caller persists the outputs.
type Validator struct {
	scanner *Scanner
}

// NewValidator returns a validator with the standard deny-list.
func NewValidator() *Validator {
	return &Validator{scanner: NewScanner()}
}

// Validate parses and schema-checks the metadata block, scans the
// source for denied constructs, and computes the content checksum.
//
// Scanning is exhaustive: when the source is rejected, the returned
// *ViolationError lists every offending construct, not just the first.
func (v *Validator) Validate(source, metadata []byte) (*ValidationResult, error) {
	manifest, err := ParseManifest(metadata)
	if err != nil {
		return nil, err
	}

	if violations := v.scanner.Scan(string(source)); len(violations) > 0 {
		return nil, &ViolationError{Violations: violations}
	}

	return &ValidationResult{
		Manifest: manifest,
		Checksum: Checksum(source),
	}, nil
}
