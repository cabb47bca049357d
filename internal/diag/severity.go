package diag

import (
	"fmt"
	"strings"
)

// Severity ranks a diagnostic. Info marks exports skipped on purpose (load
// context), Warning marks references dropped by the linker or nulled by
// the collector, Error marks a container that did not load or save cleanly.
type Severity uint8

const (
	SevInfo Severity = iota
	SevWarning
	SevError
)

var severityNames = [...]string{
	SevInfo:    "INFO",
	SevWarning: "WARNING",
	SevError:   "ERROR",
}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "UNKNOWN"
}

// ParseSeverity reads a severity as written in objdb.toml
// (diagnostics.fail_on). Case is ignored; "" means error.
func ParseSeverity(s string) (Severity, error) {
	if s == "" {
		return SevError, nil
	}
	for i, name := range severityNames {
		if strings.EqualFold(s, name) {
			return Severity(i), nil
		}
	}
	return SevError, fmt.Errorf("unknown severity %q (expected info, warning or error)", s)
}
