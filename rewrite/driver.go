// Package rewrite implements the Rewrite Driver of spec §4.8: the pass
// that, given a parsed host class file, runs Analysis, Definition
// Providers, Emitters and the Remapper in sequence and produces the final
// sandbox class bytes.
package rewrite

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sandboxrt/djvm/analysis"
	"github.com/sandboxrt/djvm/cache"
	"github.com/sandboxrt/djvm/classfile"
	"github.com/sandboxrt/djvm/djvmerrors"
	"github.com/sandboxrt/djvm/emit"
	"github.com/sandboxrt/djvm/remap"
	"github.com/sandboxrt/djvm/resolver"
	"github.com/sandboxrt/djvm/whitelist"
)

// Driver composes one rewrite pipeline: a fixed provider list, a fixed
// emitter list, the Class Resolver and policy table they consult, and the
// bytecode cache rewritten classes are published to.
type Driver struct {
	Providers []analysis.Provider
	Emitters  []emit.Emitter
	Resolver  *resolver.Resolver
	Whitelist *whitelist.Table
	Cache     *cache.Cache
	MinSeverity djvmerrors.Severity
	Log       zerolog.Logger
}

// SourceLoader is the subset of source.Loader the driver needs: raw class
// bytes by host internal name.
type SourceLoader interface {
	LoadClassBytes(name string) ([]byte, error)
}

// Rewrite runs the full pipeline for hostName, returning the final sandbox
// class bytes. A cache hit on the resolved sandbox name short-circuits
// everything else.
func (d *Driver) Rewrite(ctx context.Context, src SourceLoader, hostName string) ([]byte, error) {
	sandboxName := d.Resolver.ResolveType(hostName)

	if entry, ok := d.Cache.Get(ctx, sandboxName); ok {
		return entry.Bytes, nil
	}

	raw, err := src.LoadClassBytes(hostName)
	if err != nil {
		return nil, err
	}
	cf, err := classfile.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", hostName, err)
	}
	if cf.MajorVersion > classfile.MaxVersion {
		return nil, fmt.Errorf("class %s targets major version %d, above the accepted ceiling %d", hostName, cf.MajorVersion, classfile.MaxVersion)
	}

	sessionID := uuid.NewString()
	log := d.Log.With().Str("session", sessionID).Str("class", hostName).Logger()

	superSandboxName := ""
	if cf.SuperClass != "" {
		superSandboxName = d.Resolver.ResolveType(cf.SuperClass)
	}
	rec := analysis.NewRecord(cf, sandboxName, superSandboxName)

	analysisCtx := analysis.New(d.Providers, d.MinSeverity, log)
	rec, err = analysisCtx.Walk(rec)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", hostName, err)
	}

	checkReservedNames(analysisCtx, hostName, rec)

	for i, m := range rec.Methods {
		if m.Code == nil {
			continue
		}
		rewritten, err := d.rewriteMethod(analysisCtx, rec, m, cf.ConstantPool)
		if err != nil {
			return nil, fmt.Errorf("rewrite %s.%s%s: %w", hostName, m.Name, m.Descriptor, err)
		}
		rec = rec.WithMethod(i, rewritten)
	}

	rec = injectClinit(rec, cf.ConstantPool)

	if err := analysisCtx.Finish(hostName); err != nil {
		return nil, err
	}

	out := applyRecord(cf, rec, d.Resolver)
	remap.Pool(out.ConstantPool, d.Resolver)

	var buf bytes.Buffer
	if err := classfile.Write(&buf, out); err != nil {
		return nil, fmt.Errorf("write %s: %w", sandboxName, err)
	}

	d.Cache.PutIfAbsent(ctx, sandboxName, buf.Bytes(), referencedNames(out))
	return buf.Bytes(), nil
}

// checkReservedNames enforces the declaration invariant of spec §3: a user
// class may never declare toDJVMString, fromDJVM or toDJVM itself, since
// those names are reserved for the deterministic runtime's own conversion
// methods (the boundary emitters call sandbox/java/lang/DJVM.fromDJVM and
// toDJVM). A match is reported through the Analysis
// Context so Finish aggregates it into a SandboxClassLoadingError, the
// same way any other rewrite-time violation is surfaced.
func checkReservedNames(actx *analysis.Context, hostName string, rec *analysis.ClassRecord) {
	for _, m := range rec.Methods {
		if isReservedMemberName(m.Name) {
			actx.Report(djvmerrors.Diagnostic{
				Severity:  djvmerrors.Error,
				ClassName: hostName,
				Member:    m.Name,
				Message:   fmt.Sprintf("Class is not allowed to implement %s()", m.Name),
			})
		}
	}
	for _, f := range rec.Fields {
		if isReservedMemberName(f.Name) {
			actx.Report(djvmerrors.Diagnostic{
				Severity:  djvmerrors.Error,
				ClassName: hostName,
				Member:    f.Name,
				Message:   fmt.Sprintf("Class is not allowed to implement %s()", f.Name),
			})
		}
	}
}

func isReservedMemberName(name string) bool {
	for _, reserved := range whitelist.ReservedMemberNames {
		if name == reserved {
			return true
		}
	}
	return false
}

func (d *Driver) rewriteMethod(actx *analysis.Context, rec *analysis.ClassRecord, m analysis.MethodRecord, pool *classfile.ConstantPool) (analysis.MethodRecord, error) {
	ins, err := classfile.DecodeInstructions(m.Code.Bytecode)
	if err != nil {
		return m, err
	}

	ectx := &emit.Context{
		Class:     rec,
		Method:    m,
		Pool:      pool,
		Resolver:  d.Resolver,
		Whitelist: d.Whitelist,
		Log:       d.Log,
		Report:    actx.Report,
	}

	handlerEntries := make(map[int]bool, len(m.Code.Exceptions))
	catchChecker := emit.DisallowCatchingBlacklistedExceptions{}
	for _, eh := range m.Code.Exceptions {
		if eh.CatchType != 0 {
			catchChecker.CheckHandler(ectx, pool.ClassName(eh.CatchType))
		}
		handlerEntries[int(eh.HandlerPC)] = true
	}

	emitters := d.Emitters
	if len(handlerEntries) > 0 {
		emitters = append(append([]emit.Emitter{}, d.Emitters...), emit.HandleExceptionUnwrapper{HandlerEntries: handlerEntries})
	}

	rewritten, err := emit.Rewrite(ectx, ins, emitters)
	if err != nil {
		return m, err
	}

	fixed, oldToNew := fixupOffsets(rewritten)
	m.Code.Bytecode = classfile.EncodeInstructions(fixed)
	m.Code.Exceptions = fixupExceptions(m.Code.Exceptions, oldToNew)
	return m, nil
}

// injectClinit folds every field's PendingClinitIndex/PendingClinitField
// (set by providers.ConstantFieldRemover) into a single synthetic <clinit>
// sequence: ldc of the original constant, a call through the interning
// helper, and a putstatic into the field. If the class already declares a
// <clinit>, the sequence is prepended to its existing body so any
// user-declared static initialization still runs afterward, observing the
// now-interned field values.
func injectClinit(rec *analysis.ClassRecord, pool *classfile.ConstantPool) *analysis.ClassRecord {
	var prelude []classfile.Instruction
	for _, f := range rec.Fields {
		if f.PendingClinitIndex == 0 {
			continue
		}
		internIdx := pool.AddMethodref("sandbox/java/lang/DJVM", "intern", "(Ljava/lang/String;)Lsandbox/java/lang/String;")
		fieldIdx := pool.AddFieldref(rec.SandboxName, f.PendingClinitField, "Lsandbox/java/lang/String;")
		prelude = append(prelude,
			classfile.Instruction{Opcode: classfile.OpLdcW, Operands: u16(f.PendingClinitIndex), CPIndex: f.PendingClinitIndex},
			classfile.Instruction{Opcode: classfile.OpInvokeStatic, Operands: u16(internIdx), CPIndex: internIdx},
			classfile.Instruction{Opcode: classfile.OpPutStatic, Operands: u16(fieldIdx), CPIndex: fieldIdx},
		)
	}
	if len(prelude) == 0 {
		return rec
	}

	for i, m := range rec.Methods {
		if m.Name == "<clinit>" {
			prelude = renumber(prelude, 0)
			body := renumber(decodeOrEmpty(m.Code.Bytecode), bodyOffset(prelude))
			m.Code.Bytecode = classfile.EncodeInstructions(append(prelude, body...))
			return rec.WithMethod(i, m)
		}
	}

	prelude = append(prelude, classfile.Instruction{Opcode: classfile.OpReturn})
	return rec.WithExtraMethod(analysis.MethodRecord{
		AccessFlags: classfile.AccStatic,
		Name:        "<clinit>",
		Descriptor:  "()V",
		Code: &classfile.Code{
			MaxStack:  2,
			MaxLocals: 0,
			Bytecode:  classfile.EncodeInstructions(renumber(prelude, 0)),
		},
	})
}

func decodeOrEmpty(code []byte) []classfile.Instruction {
	ins, err := classfile.DecodeInstructions(code)
	if err != nil {
		return nil
	}
	return ins
}

// renumber assigns sequential offsets starting at start. Pre-existing
// branch/switch operand bytes and switch delta fields are left untouched:
// every instruction in ins shifts by the same amount relative to its
// neighbors, so the relative deltas those operands encode remain correct
// without a full fixupOffsets pass.
func renumber(ins []classfile.Instruction, start int) []classfile.Instruction {
	offset := start
	for i := range ins {
		ins[i].Offset = offset
		offset += ins[i].Len()
	}
	return ins
}

// bodyOffset returns the total encoded length of an already-renumbered
// instruction sequence, i.e. where the next instruction after it starts.
func bodyOffset(ins []classfile.Instruction) int {
	total := 0
	for _, in := range ins {
		total += in.Len()
	}
	return total
}

func u16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// applyRecord copies a rewritten ClassRecord's fields back onto a
// *classfile.ClassFile for serialization, since classfile.Write only knows
// how to serialize that concrete type.
func applyRecord(cf *classfile.ClassFile, rec *analysis.ClassRecord, r *resolver.Resolver) *classfile.ClassFile {
	out := &classfile.ClassFile{
		MinorVersion: cf.MinorVersion,
		MajorVersion: cf.MajorVersion,
		ConstantPool: cf.ConstantPool,
		AccessFlags:  rec.AccessFlags,
		ThisClass:    rec.SandboxName,
		SuperClass:   rec.SuperClass,
		Interfaces:   remap.Interfaces(rec.Interfaces, r),
		SourceFile:   rec.SourceFile,
		Attributes:   cf.Attributes,
	}
	for _, f := range rec.Fields {
		out.Fields = append(out.Fields, classfile.Field{
			AccessFlags: f.AccessFlags,
			Name:        f.Name,
			Descriptor:  remap.FieldDescriptor(f.Descriptor, r),
			Attributes:  f.Attributes,
		})
	}
	for _, m := range rec.Methods {
		out.Methods = append(out.Methods, classfile.Method{
			AccessFlags: m.AccessFlags,
			Name:        m.Name,
			Descriptor:  remap.MethodDescriptor(m.Descriptor, r),
			Attributes:  m.Attributes,
			Code:        m.Code,
		})
	}
	return out
}

// referencedNames collects every class name a rewritten class file
// references, for the Bytecode Cache's reachability metadata used by
// preload manifest resolution.
func referencedNames(cf *classfile.ClassFile) []string {
	seen := map[string]bool{}
	var names []string
	cf.ConstantPool.Each(func(_ uint16, c classfile.Constant) {
		if cc, ok := c.(classfile.ConstantClassInfo); ok {
			name := cf.ConstantPool.Utf8(cc.NameIndex)
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	})
	return names
}
