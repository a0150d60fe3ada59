// Package classfile parses and serializes host-runtime class files: the
// constant pool, field and method tables, and the Code attribute's
// instruction stream. It knows nothing about sandboxing — that lives in
// the resolver, whitelist, providers, emit, remap and rewrite packages —
// it only round-trips bytes to a structured form those packages can walk.
package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Access flag bits shared by classes, fields and methods. Not every bit
// applies to every member kind; see the JVMS tables for the exact subset.
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020
	AccSynchronized uint16 = 0x0020
	AccVolatile     uint16 = 0x0040
	AccBridge       uint16 = 0x0040
	AccTransient    uint16 = 0x0080
	AccVarargs      uint16 = 0x0080
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
)

const magicNumber uint32 = 0xCAFEBABE

// Attribute is an opaque, unparsed class/field/method attribute other than
// Code and ConstantValue, which get a structured representation because
// the rewriter needs to read and rewrite them. Anything else (annotations,
// line numbers, local variable tables, inner classes, signatures) passes
// through untouched except for name remapping performed by the Remapper
// directly against the raw bytes' embedded constant-pool indices, which is
// why Info is kept as raw bytes rather than re-parsed.
type Attribute struct {
	Name string
	Info []byte
}

// ExceptionHandler is one entry of a Code attribute's exception table.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16 // constant pool index of a CONSTANT_Class, or 0 for catch-all
}

// Code is the structured form of a method's Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte // raw instruction bytes; decode with DecodeInstructions
	Exceptions []ExceptionHandler
	Attributes []Attribute
}

// Field is one field_info entry.
type Field struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []Attribute
}

// ConstantValueIndex returns the constant pool index of this field's
// ConstantValue attribute, or 0 if it has none.
func (f *Field) ConstantValueIndex() uint16 {
	for _, a := range f.Attributes {
		if a.Name == "ConstantValue" && len(a.Info) >= 2 {
			return binary.BigEndian.Uint16(a.Info)
		}
	}
	return 0
}

// Method is one method_info entry.
type Method struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []Attribute
	Code        *Code // nil for abstract/native methods
}

// IsSynchronized reports whether the synchronized flag is set.
func (m *Method) IsSynchronized() bool { return m.AccessFlags&AccSynchronized != 0 }

// IsNative reports whether the native flag is set.
func (m *Method) IsNative() bool { return m.AccessFlags&AccNative != 0 }

// IsStatic reports whether the static flag is set.
func (m *Method) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// IsFinalizer reports whether this is the zero-argument finalize() method.
func (m *Method) IsFinalizer() bool {
	return m.Name == "finalize" && m.Descriptor == "()V"
}

// ClassFile is the structured, mutable form of a parsed class. Analysis
// and rewriting build a new *ClassFile incrementally; nothing here
// enforces the Class Record immutability the spec describes for the
// analysis-time snapshot — that immutability is a property of the
// analysis package's ClassRecord, which is derived from one of these and
// never shares storage with it after derivation.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool *ConstantPool
	AccessFlags  uint16
	ThisClass    string
	SuperClass   string // "" for java/lang/Object
	Interfaces   []string
	Fields       []Field
	Methods      []Method
	SourceFile   string
	Attributes   []Attribute
}

// MaxVersion is the highest class file major version the rewriter accepts.
// The spec requires a version-ceiling rule; inputs newer than this are
// rejected by the Rewrite Driver before any rewriting is attempted.
const MaxVersion uint16 = 61 // Java 17

// Parse reads a class file from r into a structured ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	be := binary.BigEndian

	var magic uint32
	if err := binary.Read(r, be, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != magicNumber {
		return nil, fmt.Errorf("bad magic number %#x", magic)
	}

	cf := &ClassFile{}
	if err := binary.Read(r, be, &cf.MinorVersion); err != nil {
		return nil, fmt.Errorf("read minor version: %w", err)
	}
	if err := binary.Read(r, be, &cf.MajorVersion); err != nil {
		return nil, fmt.Errorf("read major version: %w", err)
	}

	var cpCount uint16
	if err := binary.Read(r, be, &cpCount); err != nil {
		return nil, fmt.Errorf("read constant pool count: %w", err)
	}
	pool, err := readConstantPool(r, cpCount)
	if err != nil {
		return nil, err
	}
	cf.ConstantPool = pool

	if err := binary.Read(r, be, &cf.AccessFlags); err != nil {
		return nil, fmt.Errorf("read access flags: %w", err)
	}

	var thisIdx, superIdx uint16
	if err := binary.Read(r, be, &thisIdx); err != nil {
		return nil, fmt.Errorf("read this_class: %w", err)
	}
	if err := binary.Read(r, be, &superIdx); err != nil {
		return nil, fmt.Errorf("read super_class: %w", err)
	}
	cf.ThisClass = pool.ClassName(thisIdx)
	if superIdx != 0 {
		cf.SuperClass = pool.ClassName(superIdx)
	}

	var ifaceCount uint16
	if err := binary.Read(r, be, &ifaceCount); err != nil {
		return nil, fmt.Errorf("read interfaces_count: %w", err)
	}
	for i := 0; i < int(ifaceCount); i++ {
		var idx uint16
		if err := binary.Read(r, be, &idx); err != nil {
			return nil, fmt.Errorf("read interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, pool.ClassName(idx))
	}

	fieldCount, err := readU16(r)
	if err != nil {
		return nil, fmt.Errorf("read fields_count: %w", err)
	}
	for i := 0; i < int(fieldCount); i++ {
		f, err := readField(r, pool)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		cf.Fields = append(cf.Fields, *f)
	}

	methodCount, err := readU16(r)
	if err != nil {
		return nil, fmt.Errorf("read methods_count: %w", err)
	}
	for i := 0; i < int(methodCount); i++ {
		m, err := readMethod(r, pool)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		cf.Methods = append(cf.Methods, *m)
	}

	classAttrs, err := readAttributes(r, pool)
	if err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}
	for _, a := range classAttrs {
		if a.Name == "SourceFile" && len(a.Info) >= 2 {
			cf.SourceFile = pool.Utf8(be.Uint16(a.Info))
			continue
		}
		cf.Attributes = append(cf.Attributes, a)
	}

	return cf, nil
}

func readU16(r io.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readField(r io.Reader, pool *ConstantPool) (*Field, error) {
	be := binary.BigEndian
	f := &Field{}
	if err := binary.Read(r, be, &f.AccessFlags); err != nil {
		return nil, err
	}
	nameIdx, err := readU16(r)
	if err != nil {
		return nil, err
	}
	descIdx, err := readU16(r)
	if err != nil {
		return nil, err
	}
	f.Name = pool.Utf8(nameIdx)
	f.Descriptor = pool.Utf8(descIdx)

	attrs, err := readAttributes(r, pool)
	if err != nil {
		return nil, err
	}
	f.Attributes = attrs
	return f, nil
}

func readMethod(r io.Reader, pool *ConstantPool) (*Method, error) {
	be := binary.BigEndian
	m := &Method{}
	if err := binary.Read(r, be, &m.AccessFlags); err != nil {
		return nil, err
	}
	nameIdx, err := readU16(r)
	if err != nil {
		return nil, err
	}
	descIdx, err := readU16(r)
	if err != nil {
		return nil, err
	}
	m.Name = pool.Utf8(nameIdx)
	m.Descriptor = pool.Utf8(descIdx)

	attrs, err := readAttributes(r, pool)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Name == "Code" {
			code, err := parseCodeAttribute(a.Info, pool)
			if err != nil {
				return nil, fmt.Errorf("Code attribute: %w", err)
			}
			m.Code = code
			continue
		}
		m.Attributes = append(m.Attributes, a)
	}
	return m, nil
}

func readAttributes(r io.Reader, pool *ConstantPool) ([]Attribute, error) {
	count, err := readU16(r)
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, 0, count)
	for i := 0; i < int(count); i++ {
		nameIdx, err := readU16(r)
		if err != nil {
			return nil, err
		}
		length, err := readU32(r)
		if err != nil {
			return nil, err
		}
		info := make([]byte, length)
		if _, err := io.ReadFull(r, info); err != nil {
			return nil, err
		}
		attrs = append(attrs, Attribute{Name: pool.Utf8(nameIdx), Info: info})
	}
	return attrs, nil
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func parseCodeAttribute(info []byte, pool *ConstantPool) (*Code, error) {
	r := bytes.NewReader(info)
	be := binary.BigEndian
	c := &Code{}
	if err := binary.Read(r, be, &c.MaxStack); err != nil {
		return nil, err
	}
	if err := binary.Read(r, be, &c.MaxLocals); err != nil {
		return nil, err
	}
	codeLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	c.Bytecode = make([]byte, codeLen)
	if _, err := io.ReadFull(r, c.Bytecode); err != nil {
		return nil, err
	}

	excCount, err := readU16(r)
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(excCount); i++ {
		var eh ExceptionHandler
		if err := binary.Read(r, be, &eh); err != nil {
			return nil, err
		}
		c.Exceptions = append(c.Exceptions, eh)
	}

	attrs, err := readAttributes(r, pool)
	if err != nil {
		return nil, err
	}
	c.Attributes = attrs
	return c, nil
}

// Write serializes cf to w in host class file format.
func Write(w io.Writer, cf *ClassFile) error {
	// The constant pool is written before the members that intern their
	// names into it, so a first pass into io.Discard interns every entry
	// and the second pass writes the complete pool.
	if err := writeClass(io.Discard, cf); err != nil {
		return err
	}
	return writeClass(w, cf)
}

func writeClass(w io.Writer, cf *ClassFile) error {
	be := binary.BigEndian
	if err := binary.Write(w, be, magicNumber); err != nil {
		return err
	}
	if err := binary.Write(w, be, cf.MinorVersion); err != nil {
		return err
	}
	if err := binary.Write(w, be, cf.MajorVersion); err != nil {
		return err
	}
	if err := writeConstantPool(w, cf.ConstantPool); err != nil {
		return err
	}
	if err := binary.Write(w, be, cf.AccessFlags); err != nil {
		return err
	}
	if err := binary.Write(w, be, cf.ConstantPool.AddClass(cf.ThisClass)); err != nil {
		return err
	}
	var superIdx uint16
	if cf.SuperClass != "" {
		superIdx = cf.ConstantPool.AddClass(cf.SuperClass)
	}
	if err := binary.Write(w, be, superIdx); err != nil {
		return err
	}

	if err := binary.Write(w, be, uint16(len(cf.Interfaces))); err != nil {
		return err
	}
	for _, iface := range cf.Interfaces {
		if err := binary.Write(w, be, cf.ConstantPool.AddClass(iface)); err != nil {
			return err
		}
	}

	if err := binary.Write(w, be, uint16(len(cf.Fields))); err != nil {
		return err
	}
	for i := range cf.Fields {
		if err := writeField(w, cf.ConstantPool, &cf.Fields[i]); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}

	if err := binary.Write(w, be, uint16(len(cf.Methods))); err != nil {
		return err
	}
	for i := range cf.Methods {
		if err := writeMethod(w, cf.ConstantPool, &cf.Methods[i]); err != nil {
			return fmt.Errorf("method %d: %w", i, err)
		}
	}

	classAttrs := cf.Attributes
	if cf.SourceFile != "" {
		sfIdx := cf.ConstantPool.AddUtf8(cf.SourceFile)
		buf := make([]byte, 2)
		be.PutUint16(buf, sfIdx)
		classAttrs = append([]Attribute{{Name: "SourceFile", Info: buf}}, classAttrs...)
	}
	return writeAttributes(w, cf.ConstantPool, classAttrs)
}

func writeField(w io.Writer, pool *ConstantPool, f *Field) error {
	be := binary.BigEndian
	if err := binary.Write(w, be, f.AccessFlags); err != nil {
		return err
	}
	if err := binary.Write(w, be, pool.AddUtf8(f.Name)); err != nil {
		return err
	}
	if err := binary.Write(w, be, pool.AddUtf8(f.Descriptor)); err != nil {
		return err
	}
	return writeAttributes(w, pool, f.Attributes)
}

func writeMethod(w io.Writer, pool *ConstantPool, m *Method) error {
	be := binary.BigEndian
	if err := binary.Write(w, be, m.AccessFlags); err != nil {
		return err
	}
	if err := binary.Write(w, be, pool.AddUtf8(m.Name)); err != nil {
		return err
	}
	if err := binary.Write(w, be, pool.AddUtf8(m.Descriptor)); err != nil {
		return err
	}

	attrs := m.Attributes
	if m.Code != nil {
		codeBytes, err := encodeCodeAttribute(pool, m.Code)
		if err != nil {
			return err
		}
		attrs = append([]Attribute{{Name: "Code", Info: codeBytes}}, attrs...)
	}
	return writeAttributes(w, pool, attrs)
}

func encodeCodeAttribute(pool *ConstantPool, c *Code) ([]byte, error) {
	var buf bytes.Buffer
	be := binary.BigEndian
	if err := binary.Write(&buf, be, c.MaxStack); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, be, c.MaxLocals); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, be, uint32(len(c.Bytecode))); err != nil {
		return nil, err
	}
	buf.Write(c.Bytecode)
	if err := binary.Write(&buf, be, uint16(len(c.Exceptions))); err != nil {
		return nil, err
	}
	for _, eh := range c.Exceptions {
		if err := binary.Write(&buf, be, eh); err != nil {
			return nil, err
		}
	}
	if err := writeAttributes(&buf, pool, c.Attributes); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAttributes(w io.Writer, pool *ConstantPool, attrs []Attribute) error {
	be := binary.BigEndian
	if err := binary.Write(w, be, uint16(len(attrs))); err != nil {
		return err
	}
	for _, a := range attrs {
		if err := binary.Write(w, be, pool.AddUtf8(a.Name)); err != nil {
			return err
		}
		if err := binary.Write(w, be, uint32(len(a.Info))); err != nil {
			return err
		}
		if _, err := w.Write(a.Info); err != nil {
			return err
		}
	}
	return nil
}
