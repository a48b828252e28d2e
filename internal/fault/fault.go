// Package fault maps the curated error patterns raised throughout the
// engine back onto the error taxonomy of spec.md §7, so the CLI can decide
// on an exit code without every package having to agree on magic numbers.
package fault

import "github.com/kcutmod/schedboundary/curated"

// Pattern constants, one per spec.md §7 taxonomy member. Each raising site
// calls curated.Errorf(SomePattern, ...) so that Category can recognise it
// downstream via curated.Is/curated.Has.
const (
	ConfigError               = "config error: %v"
	MetadataError             = "metadata error: %v"
	UnresolvedAmbiguity       = "unresolved ambiguity: %v"
	LinkPrecedenceTie         = "link precedence tie: %v"
	SidecarInvariantViolation = "sidecar invariant violation: %v"
	PrivacyViolation          = "privacy violation: %v"
	MangledRedirect           = "mangled redirect: %v"
)

var taxonomy = []string{
	ConfigError,
	MetadataError,
	UnresolvedAmbiguity,
	LinkPrecedenceTie,
	SidecarInvariantViolation,
	PrivacyViolation,
	MangledRedirect,
}

// Category returns the taxonomy pattern that classifies err, or "" if err
// isn't a recognised curated fatal condition (eg. a plain I/O error).
func Category(err error) string {
	if err == nil {
		return ""
	}
	for _, pattern := range taxonomy {
		if curated.Has(err, pattern) {
			return pattern
		}
	}
	return ""
}

// ExitCode assigns a small positive integer per taxonomy member so the CLI
// can report distinct exit statuses, falling back to 1 for anything else.
func ExitCode(err error) int {
	switch Category(err) {
	case ConfigError:
		return 2
	case MetadataError:
		return 3
	case UnresolvedAmbiguity:
		return 4
	case LinkPrecedenceTie:
		return 5
	case SidecarInvariantViolation:
		return 6
	case PrivacyViolation:
		return 7
	case MangledRedirect:
		return 8
	default:
		if err != nil {
			return 1
		}
		return 0
	}
}
