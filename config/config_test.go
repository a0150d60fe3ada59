package config

import (
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/sandboxrt/djvm/djvmerrors"
)

func TestNewBuildsAMinimalConfiguration(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.Resolver == nil || cfg.Whitelist == nil || cfg.Cache == nil || cfg.Source == nil || cfg.Driver == nil {
		t.Fatalf("Configuration has a nil field: %+v", cfg)
	}
	if len(cfg.Driver.Emitters) == 0 {
		t.Fatal("expected a non-empty default emitter list")
	}
}

func TestNewWithoutExecutionProfileCarriesNoTraceEmitters(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, e := range cfg.Driver.Emitters {
		if strings.HasPrefix(e.Name(), "Trace") {
			t.Fatalf("unconfigured rewrite must carry no Trace* emitters, found %s", e.Name())
		}
	}
}

func TestWithExecutionProfileAddsTraceEmitters(t *testing.T) {
	cfg, err := New(WithExecutionProfile(noop.NewMeterProvider().Meter("test")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	found := 0
	for _, e := range cfg.Driver.Emitters {
		if strings.HasPrefix(e.Name(), "Trace") {
			found++
		}
	}
	if found != 4 {
		t.Fatalf("found %d Trace* emitters, want 4", found)
	}
}

func TestWithPinnedClassesExtendsTheDefaultSet(t *testing.T) {
	cfg, err := New(WithPinnedClasses("com/acme/Widget"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !cfg.Resolver.IsPinned("com/acme/Widget") {
		t.Fatal("expected the extra pinned class to be recognized by the resolver")
	}
	if !cfg.Resolver.IsPinned("java/lang/Object") {
		t.Fatal("expected the default pinned set to still apply")
	}
}

func TestNewChildSharesEverythingButCache(t *testing.T) {
	parent, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	child := parent.NewChild()

	if child.Resolver != parent.Resolver {
		t.Fatal("child must share the parent's resolver")
	}
	if child.Whitelist != parent.Whitelist {
		t.Fatal("child must share the parent's whitelist")
	}
	if child.Cache == parent.Cache {
		t.Fatal("child must have its own cache, not the parent's")
	}
}

func TestLoadDocumentParsesMinimumSeverityAndPinnedClasses(t *testing.T) {
	doc := `
minimumSeverity: warning
pinnedClasses:
  - com/acme/Widget
`
	opts, err := LoadDocument(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	cfg, err := New(opts...)
	if err != nil {
		t.Fatalf("New(opts...): %v", err)
	}
	if !cfg.Resolver.IsPinned("com/acme/Widget") {
		t.Fatal("expected the document's pinned class to be wired in")
	}
	if cfg.MinSeverity != djvmerrors.Warning {
		t.Fatalf("MinSeverity = %v, want %v", cfg.MinSeverity, djvmerrors.Warning)
	}
}

func TestLoadDocumentParsesInlineWhitelist(t *testing.T) {
	doc := `
whitelist:
  pinned:
    - com/acme/Widget
  rules:
    - owner: java/lang/System
      name: exit
      action: forbid
`
	opts, err := LoadDocument(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	cfg, err := New(opts...)
	if err != nil {
		t.Fatalf("New(opts...): %v", err)
	}
	if _, ok := cfg.Whitelist.Lookup("java/lang/System", "exit", "(I)V"); !ok {
		t.Fatal("expected the inline whitelist rule to be merged into the configuration's policy")
	}
}

func TestLoadDocumentRejectsUnknownSeverity(t *testing.T) {
	doc := "minimumSeverity: catastrophic\n"
	if _, err := LoadDocument(strings.NewReader(doc)); err == nil {
		t.Fatal("expected an error for an unknown severity name")
	}
}
