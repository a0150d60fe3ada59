// Package config builds a SandboxConfiguration (spec §3): the resolver,
// whitelist, cache, source loader and rewrite driver a Sandbox Class
// Loader needs, wired together from functional options the way the
// teacher wires its server Config by value into NewServer.
package config

import (
	"io"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"

	"github.com/sandboxrt/djvm/analysis"
	"github.com/sandboxrt/djvm/cache"
	"github.com/sandboxrt/djvm/djvmerrors"
	"github.com/sandboxrt/djvm/emit"
	"github.com/sandboxrt/djvm/providers"
	"github.com/sandboxrt/djvm/resolver"
	"github.com/sandboxrt/djvm/rewrite"
	"github.com/sandboxrt/djvm/source"
	"github.com/sandboxrt/djvm/whitelist"
)

// Configuration is one assembled SandboxConfiguration: everything a
// Sandbox Class Loader needs to turn a host class name into sandbox
// bytes, plus the ability to spawn a child configuration that shares the
// parent's policy and source chain but keeps its own cache (§3 invariant
// (e)).
type Configuration struct {
	Resolver    *resolver.Resolver
	Whitelist   *whitelist.Table
	Cache       *cache.Cache
	Source      *source.Loader
	Driver      *rewrite.Driver
	MinSeverity djvmerrors.Severity
	Log         zerolog.Logger

	parent *Configuration
}

type options struct {
	userArchives      []string
	bootstrapArchives []string
	extraWhitelist    *whitelist.Table
	pinned            []string
	externalCache     cache.External
	minSeverity       djvmerrors.Severity
	meter             metric.Meter
	annotations       []string
	log               zerolog.Logger
}

// Option configures New.
type Option func(*options)

// WithUserSource adds archive or directory paths searched for
// user-supplied classes, consulted after the bootstrap source.
func WithUserSource(paths ...string) Option {
	return func(o *options) { o.userArchives = append(o.userArchives, paths...) }
}

// WithBootstrapSource adds archive or directory paths searched first,
// ahead of the user source (the deterministic runtime library and any
// host JDK classes the operator wants definable).
func WithBootstrapSource(paths ...string) Option {
	return func(o *options) { o.bootstrapArchives = append(o.bootstrapArchives, paths...) }
}

// WithWhitelist layers a supplementary policy table on top of
// whitelist.DefaultPolicy, per SPEC_FULL.md's YAML document mechanism.
func WithWhitelist(t *whitelist.Table) Option {
	return func(o *options) { o.extraWhitelist = t }
}

// WithPinnedClasses adds extra pinned class names beyond
// whitelist.PinnedClasses.
func WithPinnedClasses(names ...string) Option {
	return func(o *options) { o.pinned = append(o.pinned, names...) }
}

// WithExternalCache attaches a shared external cache consulted ahead of
// the local chain (§4.9).
func WithExternalCache(ext cache.External) Option {
	return func(o *options) { o.externalCache = ext }
}

// WithMinimumSeverity sets the Analysis Context's reporting threshold
// (§4.4 / §6).
func WithMinimumSeverity(s djvmerrors.Severity) Option {
	return func(o *options) { o.minSeverity = s }
}

// WithExecutionProfile attaches an OTel meter; when set, the driver's
// emitter list additionally carries the Trace* emitters of SPEC_FULL.md's
// domain stack. Nil (the default) means no tracing overhead at all.
func WithExecutionProfile(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithVisibleAnnotations lists runtime-retained annotation type names to
// keep on rewritten methods and fields (§4.5 supplemented feature:
// annotation-driven providers some deployments add need their markers to
// survive). The names are not matched one by one: any non-empty list keeps
// every runtime annotation attribute on methods and fields, an empty list
// strips them all. Class-level attributes are never stripped.
func WithVisibleAnnotations(names ...string) Option {
	return func(o *options) { o.annotations = append(o.annotations, names...) }
}

// WithLogger attaches a structured logger; the zero value logs nothing.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// New assembles a root Configuration.
func New(opts ...Option) (*Configuration, error) {
	o := &options{log: zerolog.Nop(), minSeverity: djvmerrors.Error}
	for _, opt := range opts {
		opt(o)
	}

	policy := whitelist.DefaultPolicy
	if o.extraWhitelist != nil {
		policy = policy.Merge(o.extraWhitelist)
	}

	pinned := append(append([]string{}, whitelist.PinnedClasses...), o.pinned...)
	r := resolver.New(pinned, whitelist.TemplateClasses, policy)

	bootstrap, err := source.New(o.bootstrapArchives, source.WithLogger(o.log))
	if err != nil {
		return nil, err
	}
	src, err := source.New(o.userArchives, source.WithParent(bootstrap), source.WithLogger(o.log))
	if err != nil {
		return nil, err
	}

	c := cache.New(o.externalCache, o.log)

	emitters := defaultEmitters(r)
	if o.meter != nil {
		// NewProfile validates the meter can mint every counter the Trace*
		// emitters will call through sandbox/java/lang/DJVM at runtime; the
		// Profile itself belongs to the deterministic runtime side, not the
		// rewriter, which only ever injects the calls.
		if _, err := emit.NewProfile(o.meter); err != nil {
			return nil, err
		}
		emitters = append(emitters, emit.TraceAllocations{}, emit.TraceInvocations{}, emit.TraceJumps{}, emit.TraceThrows{})
	}

	classProviders := append(append([]analysis.Provider{}, providers.All()...),
		providers.StripRuntimeAnnotations{Keep: len(o.annotations) > 0})

	driver := &rewrite.Driver{
		Providers:   classProviders,
		Emitters:    emitters,
		Resolver:    r,
		Whitelist:   policy,
		Cache:       c,
		MinSeverity: o.minSeverity,
		Log:         o.log,
	}

	return &Configuration{
		Resolver:    r,
		Whitelist:   policy,
		Cache:       c,
		Source:      src,
		Driver:      driver,
		MinSeverity: o.minSeverity,
		Log:         o.log,
	}, nil
}

// defaultEmitters is the fixed, class-wide emitter list of spec §4.6,
// excluding the Trace* instruments which only run when an execution
// profile is configured.
func defaultEmitters(r *resolver.Resolver) []emit.Emitter {
	return []emit.Emitter{
		emit.AlwaysUseExactMath{},
		emit.IgnoreBreakpoints{},
		emit.IgnoreSynchronizedBlocks{},
		emit.StringConstantWrapper{},
		emit.DisallowNonDeterministicMethods{},
		emit.RewriteClassLoaderMethods{},
		emit.RewriteClassMethods{},
		emit.RewriteObjectMethods{},
		emit.ArgumentUnwrapper{Pinned: r.IsPinned},
		emit.ReturnTypeWrapper{Pinned: r.IsPinned},
		emit.ThrowExceptionWrapper{},
	}
}

// NewChild spawns a configuration sharing c's resolver, whitelist and
// source chain, but with its own local cache chained to c's (§3 invariant
// (e): a deployment per tenant shares rewritten bytecode but not tenant
// state).
func (c *Configuration) NewChild() *Configuration {
	child := c.Cache.NewChild()
	driver := &rewrite.Driver{
		Providers:   c.Driver.Providers,
		Emitters:    c.Driver.Emitters,
		Resolver:    c.Resolver,
		Whitelist:   c.Whitelist,
		Cache:       child,
		MinSeverity: c.MinSeverity,
		Log:         c.Log,
	}
	return &Configuration{
		Resolver:    c.Resolver,
		Whitelist:   c.Whitelist,
		Cache:       child,
		Source:      c.Source,
		Driver:      driver,
		MinSeverity: c.MinSeverity,
		Log:         c.Log,
		parent:      c,
	}
}

// LoadWhitelistDocument is a convenience wrapper around
// whitelist.LoadDocument for callers that only have a reader, matching
// SPEC_FULL.md's declarative-configuration path.
func LoadWhitelistDocument(r io.Reader) (*whitelist.Table, error) {
	return whitelist.LoadDocument(r)
}

// fileConfig is the YAML shape of a top-level sandbox configuration
// document: pinned classes, the minimum severity and a whitelist
// document inlined, for deployments that want one file instead of two.
type fileConfig struct {
	MinimumSeverity string   `yaml:"minimumSeverity"`
	PinnedClasses   []string `yaml:"pinnedClasses"`
	Whitelist       struct {
		Pinned    []string `yaml:"pinned"`
		Templates []string `yaml:"templates"`
		Unmapped  []string `yaml:"unmapped"`
		Rules     []struct {
			Owner      string `yaml:"owner"`
			Name       string `yaml:"name"`
			Descriptor string `yaml:"descriptor"`
			Action     string `yaml:"action"`
		} `yaml:"rules"`
	} `yaml:"whitelist"`
}

// LoadDocument parses a combined YAML sandbox-configuration document and
// returns the options it implies, for layering onto programmatic options.
func LoadDocument(r io.Reader) ([]Option, error) {
	var fc fileConfig
	if err := yaml.NewDecoder(r).Decode(&fc); err != nil {
		return nil, err
	}

	var opts []Option
	if fc.MinimumSeverity != "" {
		sev, err := djvmerrors.ParseSeverity(fc.MinimumSeverity)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithMinimumSeverity(sev))
	}
	if len(fc.PinnedClasses) > 0 {
		opts = append(opts, WithPinnedClasses(fc.PinnedClasses...))
	}
	if len(fc.Whitelist.Rules) > 0 || len(fc.Whitelist.Pinned) > 0 || len(fc.Whitelist.Templates) > 0 || len(fc.Whitelist.Unmapped) > 0 {
		t := &whitelist.Table{
			Pinned:    fc.Whitelist.Pinned,
			Templates: fc.Whitelist.Templates,
			Unmapped_: fc.Whitelist.Unmapped,
		}
		for _, dr := range fc.Whitelist.Rules {
			action, err := whitelist.ParseAction(dr.Action)
			if err != nil {
				return nil, err
			}
			t.Rules = append(t.Rules, whitelist.Rule{Owner: dr.Owner, Name: dr.Name, Descriptor: dr.Descriptor, Action: action})
		}
		opts = append(opts, WithWhitelist(t))
	}
	return opts, nil
}
