package analysis

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sandboxrt/djvm/djvmerrors"
)

// ClassProvider rewrites class-level metadata (access flags, superclass).
// Most definition providers only need ApplyMethod or ApplyField; embed
// NoopClassProvider (and the other two Noop* types) to satisfy Provider
// without writing pass-through boilerplate for the stages a given
// provider doesn't care about.
type ClassProvider interface {
	ApplyClass(rec *ClassRecord) (*ClassRecord, error)
}

// MethodProvider rewrites one method's metadata.
type MethodProvider interface {
	ApplyMethod(rec *ClassRecord, m MethodRecord) (MethodRecord, error)
}

// FieldProvider rewrites one field's metadata.
type FieldProvider interface {
	ApplyField(rec *ClassRecord, f FieldRecord) (FieldRecord, error)
}

// Provider is a spec §4.5 Definition Provider: a pure function rewriting
// class or member metadata before emission. A concrete provider
// implements whichever of ClassProvider/MethodProvider/FieldProvider
// stages it cares about and embeds the Noop variants for the rest.
type Provider interface {
	Name() string
	ClassProvider
	MethodProvider
	FieldProvider
}

// NoopClassProvider is embedded by providers that don't rewrite
// class-level metadata.
type NoopClassProvider struct{}

func (NoopClassProvider) ApplyClass(rec *ClassRecord) (*ClassRecord, error) { return rec, nil }

// NoopMethodProvider is embedded by providers that don't rewrite methods.
type NoopMethodProvider struct{}

func (NoopMethodProvider) ApplyMethod(_ *ClassRecord, m MethodRecord) (MethodRecord, error) {
	return m, nil
}

// NoopFieldProvider is embedded by providers that don't rewrite fields.
type NoopFieldProvider struct{}

func (NoopFieldProvider) ApplyField(_ *ClassRecord, f FieldRecord) (FieldRecord, error) {
	return f, nil
}

// Context is one Analysis Context walk over a single class: it applies
// every provider in order, collects diagnostics reported by the emitter
// pipeline, and decides whether the walk's findings exceed the configured
// minimum severity.
type Context struct {
	SessionID     string
	Providers     []Provider
	MinSeverity   djvmerrors.Severity
	log           zerolog.Logger
	diagnostics   []djvmerrors.Diagnostic
}

// New starts an analysis session for one class. Each session gets a
// fresh correlation ID (the teacher's server threads a request ID through
// its logger fields the same way) so every diagnostic and log line for
// this class's rewrite can be grep'd together.
func New(providers []Provider, minSeverity djvmerrors.Severity, log zerolog.Logger) *Context {
	sessionID := uuid.NewString()
	return &Context{
		SessionID:   sessionID,
		Providers:   providers,
		MinSeverity: minSeverity,
		log:         log.With().Str("session", sessionID).Logger(),
	}
}

// Report records a diagnostic. The Analysis Context does not abort
// immediately on an error-severity diagnostic — diagnostics accumulate so
// that Finish can report every violation a class has, not just the first.
func (c *Context) Report(d djvmerrors.Diagnostic) {
	c.diagnostics = append(c.diagnostics, d)
	switch d.Severity {
	case djvmerrors.Error:
		c.log.Warn().Str("class", d.ClassName).Str("member", d.Member).Msg(d.Message)
	default:
		c.log.Debug().Str("class", d.ClassName).Str("member", d.Member).Msg(d.Message)
	}
}

// Diagnostics returns every diagnostic reported so far, regardless of
// severity.
func (c *Context) Diagnostics() []djvmerrors.Diagnostic {
	return c.diagnostics
}

// Finish returns a *SandboxClassLoadingError if any collected diagnostic
// is at or above MinSeverity, aggregating every diagnostic at or above
// that threshold into the error's message; otherwise it returns nil.
func (c *Context) Finish(className string) error {
	var offending []djvmerrors.Diagnostic
	for _, d := range c.diagnostics {
		if d.Severity >= c.MinSeverity {
			offending = append(offending, d)
		}
	}
	if len(offending) == 0 {
		return nil
	}
	return &djvmerrors.SandboxClassLoadingError{ClassName: className, Diagnostics: offending}
}

// Walk applies every provider, in list order, to rec: first every
// provider's ApplyClass, then every provider's ApplyMethod for each
// method, then every provider's ApplyField for each field. This mirrors
// spec §4.4 step 1 ("applies every Definition Provider in list order")
// while keeping class-level rewrites (e.g. superclass) visible to
// member-level providers that run afterward.
func (c *Context) Walk(rec *ClassRecord) (*ClassRecord, error) {
	for _, p := range c.Providers {
		var err error
		rec, err = p.ApplyClass(rec)
		if err != nil {
			return nil, err
		}
	}

	for i, m := range rec.Methods {
		for _, p := range c.Providers {
			var err error
			m, err = p.ApplyMethod(rec, m)
			if err != nil {
				return nil, err
			}
		}
		rec = rec.WithMethod(i, m)
	}

	for i, f := range rec.Fields {
		for _, p := range c.Providers {
			var err error
			f, err = p.ApplyField(rec, f)
			if err != nil {
				return nil, err
			}
		}
		rec = rec.WithField(i, f)
	}

	return rec, nil
}
