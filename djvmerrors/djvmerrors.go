// Package djvmerrors implements the three error kinds of spec §7.
package djvmerrors

import (
	"fmt"
	"strings"
)

// Severity is the analysis diagnostic level of spec §4.4 / §6
// (minimumSeverity). Ordered so Severity comparison with >= works.
type Severity int

const (
	Informational Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Informational:
		return "informational"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ParseSeverity parses the three named severities accepted by
// config.WithMinimumSeverity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "informational":
		return Informational, nil
	case "warning":
		return Warning, nil
	case "error":
		return Error, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// Diagnostic is one collected analysis finding, aggregated by the
// Analysis Context and rendered by SandboxClassLoadingError.
type Diagnostic struct {
	Severity Severity
	ClassName string
	Member    string // "" if the diagnostic is class-level, not member-level
	Message   string
}

func (d Diagnostic) String() string {
	if d.Member == "" {
		return fmt.Sprintf("[%s] %s: %s", d.Severity, d.ClassName, d.Message)
	}
	return fmt.Sprintf("[%s] %s.%s: %s", d.Severity, d.ClassName, d.Member, d.Message)
}

// RuleViolationError is thrown inside sandboxed code at runtime when a
// forbidden API is reached, and returned at the host/sandbox boundary
// when a caller passes a forbidden argument type into the sandbox.
type RuleViolationError struct {
	// Disallowed-reference form.
	Owner      string
	Member     string
	Descriptor string

	// Boundary-rejection form (mutually exclusive with Owner/Member): the
	// full description of the value rejected at the boundary, e.g.
	// "class java.lang.String" or "a ClassLoader" — see
	// loader.CheckBoundaryArgument, which builds this per boundary type.
	Boundary string
}

func (e *RuleViolationError) Error() string {
	if e.Boundary != "" {
		return fmt.Sprintf("Cannot sandbox %s", e.Boundary)
	}
	return fmt.Sprintf("Disallowed reference to API; %s.%s%s", e.Owner, e.Member, e.Descriptor)
}

// SandboxClassLoadingError is thrown at rewrite time when analysis
// diagnostics at or above the configured minimum severity are collected
// for a class.
type SandboxClassLoadingError struct {
	ClassName   string
	Diagnostics []Diagnostic
}

func (e *SandboxClassLoadingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sandbox class loading failed for %s:", e.ClassName)
	for _, d := range e.Diagnostics {
		b.WriteString("\n  ")
		b.WriteString(d.String())
	}
	return b.String()
}

// ClassNotFoundError is raised when a referenced class cannot be located
// by any source in the chain.
type ClassNotFoundError struct{ Name string }

func (e *ClassNotFoundError) Error() string { return fmt.Sprintf("ClassNotFoundError: %s", e.Name) }

// NoClassDefFoundError is raised when a class that was previously located
// cannot be linked because one of its dependencies is missing.
type NoClassDefFoundError struct{ Name string }

func (e *NoClassDefFoundError) Error() string {
	return fmt.Sprintf("NoClassDefFoundError: %s", e.Name)
}
