package analysis

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sandboxrt/djvm/classfile"
	"github.com/sandboxrt/djvm/djvmerrors"
)

type suffixFieldNames struct {
	NoopClassProvider
	NoopMethodProvider
}

func (suffixFieldNames) Name() string { return "suffixFieldNames" }

func (suffixFieldNames) ApplyField(_ *ClassRecord, f FieldRecord) (FieldRecord, error) {
	f.Name = f.Name + "_SEEN"
	return f, nil
}

type failingProvider struct {
	NoopClassProvider
	NoopFieldProvider
	err error
}

func (failingProvider) Name() string { return "failingProvider" }

func (p failingProvider) ApplyMethod(_ *ClassRecord, m MethodRecord) (MethodRecord, error) {
	return m, p.err
}

func newTestRecord() *ClassRecord {
	cf := &classfile.ClassFile{
		ThisClass: "com/acme/Widget",
		Fields:    []classfile.Field{{Name: "count", Descriptor: "I"}},
		Methods:   []classfile.Method{{Name: "doThing", Descriptor: "()V"}},
	}
	return NewRecord(cf, "sandbox/com/acme/Widget", "java/lang/Object")
}

func TestNewRecordCopiesFieldsAndMethods(t *testing.T) {
	rec := newTestRecord()
	if rec.SandboxName != "sandbox/com/acme/Widget" {
		t.Fatalf("SandboxName = %q", rec.SandboxName)
	}
	if rec.HostName != "com/acme/Widget" {
		t.Fatalf("HostName = %q", rec.HostName)
	}
	if len(rec.Fields) != 1 || rec.Fields[0].Name != "count" {
		t.Fatalf("Fields = %+v", rec.Fields)
	}
	if len(rec.Methods) != 1 || rec.Methods[0].Name != "doThing" {
		t.Fatalf("Methods = %+v", rec.Methods)
	}
}

func TestWithMethodAndWithFieldDoNotMutateOriginal(t *testing.T) {
	rec := newTestRecord()
	updated := rec.WithMethod(0, MethodRecord{Name: "renamed"})

	if rec.Methods[0].Name != "doThing" {
		t.Fatal("WithMethod must not mutate the receiver")
	}
	if updated.Methods[0].Name != "renamed" {
		t.Fatal("WithMethod must replace the method on the returned copy")
	}
}

func TestWithExtraMethodAppends(t *testing.T) {
	rec := newTestRecord()
	updated := rec.WithExtraMethod(MethodRecord{Name: "<clinit>"})
	if len(updated.Methods) != len(rec.Methods)+1 {
		t.Fatalf("len(Methods) = %d, want %d", len(updated.Methods), len(rec.Methods)+1)
	}
	if len(rec.Methods) != 1 {
		t.Fatal("WithExtraMethod must not mutate the receiver")
	}
}

func TestContextWalkAppliesFieldProvider(t *testing.T) {
	ctx := New([]Provider{suffixFieldNames{}}, djvmerrors.Error, zerolog.Nop())
	rec := newTestRecord()

	out, err := ctx.Walk(rec)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if out.Fields[0].Name != "count_SEEN" {
		t.Fatalf("Fields[0].Name = %q, want count_SEEN", out.Fields[0].Name)
	}
}

func TestContextWalkPropagatesProviderError(t *testing.T) {
	wantErr := errors.New("boom")
	ctx := New([]Provider{failingProvider{err: wantErr}}, djvmerrors.Error, zerolog.Nop())
	rec := newTestRecord()

	if _, err := ctx.Walk(rec); !errors.Is(err, wantErr) {
		t.Fatalf("Walk error = %v, want %v", err, wantErr)
	}
}

func TestContextFinishReturnsNilBelowThreshold(t *testing.T) {
	ctx := New(nil, djvmerrors.Error, zerolog.Nop())
	ctx.Report(djvmerrors.Diagnostic{Severity: djvmerrors.Warning, ClassName: "com/acme/Widget", Message: "fyi"})

	if err := ctx.Finish("com/acme/Widget"); err != nil {
		t.Fatalf("Finish = %v, want nil (diagnostic below MinSeverity)", err)
	}
}

func TestContextFinishReturnsErrorAtOrAboveThreshold(t *testing.T) {
	ctx := New(nil, djvmerrors.Warning, zerolog.Nop())
	ctx.Report(djvmerrors.Diagnostic{Severity: djvmerrors.Error, ClassName: "com/acme/Widget", Message: "bad"})

	err := ctx.Finish("com/acme/Widget")
	if err == nil {
		t.Fatal("expected Finish to return an error once a diagnostic reaches MinSeverity")
	}
	sc, ok := err.(*djvmerrors.SandboxClassLoadingError)
	if !ok {
		t.Fatalf("error type = %T, want *djvmerrors.SandboxClassLoadingError", err)
	}
	if len(sc.Diagnostics) != 1 {
		t.Fatalf("Diagnostics = %v, want 1 entry", sc.Diagnostics)
	}
}

func TestContextDiagnosticsReturnsEverythingReported(t *testing.T) {
	ctx := New(nil, djvmerrors.Error, zerolog.Nop())
	ctx.Report(djvmerrors.Diagnostic{Severity: djvmerrors.Informational, Message: "a"})
	ctx.Report(djvmerrors.Diagnostic{Severity: djvmerrors.Warning, Message: "b"})

	if len(ctx.Diagnostics()) != 2 {
		t.Fatalf("Diagnostics() = %v, want 2 entries", ctx.Diagnostics())
	}
}

func TestIsSynchronized(t *testing.T) {
	if !IsSynchronized(classfile.AccSynchronized) {
		t.Fatal("expected the synchronized bit to be detected")
	}
	if IsSynchronized(0) {
		t.Fatal("did not expect a zero access flags value to report synchronized")
	}
}
