// Package analysis implements the Analysis Context of spec §4.4: the
// per-class walk that builds an immutable record of the class and its
// members, invokes definition providers, and reports violations at
// configured severities.
package analysis

import "github.com/sandboxrt/djvm/classfile"

// FieldRecord is the definition-provider view of one field: enough to
// rewrite access flags, constant values and attributes without handing
// providers a mutable classfile.Field they could alias.
type FieldRecord struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []classfile.Attribute

	// PendingClinitIndex and PendingClinitField, when PendingClinitIndex
	// is non-zero, ask the Rewrite Driver to emit into <clinit> a load of
	// the constant pool entry at this index, an interning call, and a
	// store into PendingClinitField. Set by ConstantFieldRemover, which
	// has no access to a method table to inject the code itself — a
	// FieldProvider only ever returns a FieldRecord.
	PendingClinitIndex uint16
	PendingClinitField string
}

func fieldRecordOf(f classfile.Field) FieldRecord {
	return FieldRecord{
		AccessFlags: f.AccessFlags,
		Name:        f.Name,
		Descriptor:  f.Descriptor,
		Attributes:  append([]classfile.Attribute(nil), f.Attributes...),
	}
}

// MethodRecord is the definition-provider view of one method.
type MethodRecord struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []classfile.Attribute
	Code        *classfile.Code
}

func methodRecordOf(m classfile.Method) MethodRecord {
	var code *classfile.Code
	if m.Code != nil {
		c := *m.Code
		c.Bytecode = append([]byte(nil), m.Code.Bytecode...)
		c.Exceptions = append([]classfile.ExceptionHandler(nil), m.Code.Exceptions...)
		code = &c
	}
	return MethodRecord{
		AccessFlags: m.AccessFlags,
		Name:        m.Name,
		Descriptor:  m.Descriptor,
		Attributes:  append([]classfile.Attribute(nil), m.Attributes...),
		Code:        code,
	}
}

// ClassRecord is the Class Record of spec §3: per analyzed class, the
// sandbox name, host name, access flags, superclass (sandbox name),
// interfaces, source file, and declared members. Treat a *ClassRecord as
// immutable once returned by New: every With* method and every
// definition provider returns a new value rather than mutating its
// receiver in place.
type ClassRecord struct {
	SandboxName string
	HostName    string
	AccessFlags uint16
	SuperClass  string // sandbox name
	Interfaces  []string
	SourceFile  string
	Fields      []FieldRecord
	Methods     []MethodRecord
}

// NewRecord builds a ClassRecord from a parsed class file. sandboxName and
// superSandboxName are pre-resolved by the caller (the Rewrite Driver),
// since naming policy is the Class Resolver's job, not Analysis's.
func NewRecord(cf *classfile.ClassFile, sandboxName, superSandboxName string) *ClassRecord {
	rec := &ClassRecord{
		SandboxName: sandboxName,
		HostName:    cf.ThisClass,
		AccessFlags: cf.AccessFlags,
		SuperClass:  superSandboxName,
		Interfaces:  append([]string(nil), cf.Interfaces...),
		SourceFile:  cf.SourceFile,
	}
	for _, f := range cf.Fields {
		rec.Fields = append(rec.Fields, fieldRecordOf(f))
	}
	for _, m := range cf.Methods {
		rec.Methods = append(rec.Methods, methodRecordOf(m))
	}
	return rec
}

// WithSuperClass returns a copy of rec with SuperClass replaced.
func (rec *ClassRecord) WithSuperClass(super string) *ClassRecord {
	cp := *rec
	cp.SuperClass = super
	return &cp
}

// WithMethod returns a copy of rec with the method at index i replaced.
func (rec *ClassRecord) WithMethod(i int, m MethodRecord) *ClassRecord {
	cp := *rec
	cp.Methods = append([]MethodRecord(nil), rec.Methods...)
	cp.Methods[i] = m
	return &cp
}

// WithField returns a copy of rec with the field at index i replaced.
func (rec *ClassRecord) WithField(i int, f FieldRecord) *ClassRecord {
	cp := *rec
	cp.Fields = append([]FieldRecord(nil), rec.Fields...)
	cp.Fields[i] = f
	return &cp
}

// WithExtraMethod appends a synthesized method (e.g. ConstantFieldRemover's
// <clinit> injection) to rec.
func (rec *ClassRecord) WithExtraMethod(m MethodRecord) *ClassRecord {
	cp := *rec
	cp.Methods = append(append([]MethodRecord(nil), rec.Methods...), m)
	return &cp
}

// IsSynchronized reports whether a method access-flags value carries the
// synchronized bit.
func IsSynchronized(access uint16) bool { return access&classfile.AccSynchronized != 0 }
