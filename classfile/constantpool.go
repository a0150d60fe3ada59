package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ConstantKind identifies the tag of a constant pool entry, as defined by
// the host runtime's class file format.
type ConstantKind uint8

const (
	ConstantUtf8               ConstantKind = 1
	ConstantInteger            ConstantKind = 3
	ConstantFloat              ConstantKind = 4
	ConstantLong               ConstantKind = 5
	ConstantDouble             ConstantKind = 6
	ConstantClass              ConstantKind = 7
	ConstantString             ConstantKind = 8
	ConstantFieldref           ConstantKind = 9
	ConstantMethodref          ConstantKind = 10
	ConstantInterfaceMethodref ConstantKind = 11
	ConstantNameAndType        ConstantKind = 12
	ConstantMethodHandle       ConstantKind = 15
	ConstantMethodType         ConstantKind = 16
	ConstantDynamic            ConstantKind = 17
	ConstantInvokeDynamic      ConstantKind = 18
	ConstantModule             ConstantKind = 19
	ConstantPackage            ConstantKind = 20

	// constantPlaceholder is not a real tag. Long and Double entries occupy
	// two constant pool slots; the pool is also 1-indexed. Both quirks are
	// modeled by inserting a placeholder entry.
	constantPlaceholder ConstantKind = 0
)

// Constant is one constant pool entry. Concrete entries carry the indices
// or literal value for their kind; Remapper and Emitters pattern-match on
// the concrete type via a type switch.
type Constant interface {
	Kind() ConstantKind
}

type (
	ConstantClassInfo struct{ NameIndex uint16 }

	ConstantFieldrefInfo struct {
		ClassIndex       uint16
		NameAndTypeIndex uint16
	}

	ConstantMethodrefInfo struct {
		ClassIndex       uint16
		NameAndTypeIndex uint16
	}

	ConstantInterfaceMethodrefInfo struct {
		ClassIndex       uint16
		NameAndTypeIndex uint16
	}

	ConstantStringInfo struct{ StringIndex uint16 }

	ConstantIntegerInfo struct{ Value int32 }

	ConstantFloatInfo struct{ Value float32 }

	ConstantLongInfo struct{ Value int64 }

	ConstantDoubleInfo struct{ Value float64 }

	ConstantNameAndTypeInfo struct {
		NameIndex       uint16
		DescriptorIndex uint16
	}

	ConstantUtf8Info struct{ Value string }

	ConstantMethodHandleInfo struct {
		ReferenceKind  uint8
		ReferenceIndex uint16
	}

	ConstantMethodTypeInfo struct{ DescriptorIndex uint16 }

	ConstantDynamicInfo struct {
		BootstrapMethodAttrIndex uint16
		NameAndTypeIndex         uint16
	}

	ConstantInvokeDynamicInfo struct {
		BootstrapMethodAttrIndex uint16
		NameAndTypeIndex         uint16
	}

	ConstantModuleInfo struct{ NameIndex uint16 }

	ConstantPackageInfo struct{ NameIndex uint16 }

	constantPlaceholderInfo struct{}
)

func (ConstantClassInfo) Kind() ConstantKind              { return ConstantClass }
func (ConstantFieldrefInfo) Kind() ConstantKind            { return ConstantFieldref }
func (ConstantMethodrefInfo) Kind() ConstantKind           { return ConstantMethodref }
func (ConstantInterfaceMethodrefInfo) Kind() ConstantKind  { return ConstantInterfaceMethodref }
func (ConstantStringInfo) Kind() ConstantKind              { return ConstantString }
func (ConstantIntegerInfo) Kind() ConstantKind             { return ConstantInteger }
func (ConstantFloatInfo) Kind() ConstantKind               { return ConstantFloat }
func (ConstantLongInfo) Kind() ConstantKind                { return ConstantLong }
func (ConstantDoubleInfo) Kind() ConstantKind              { return ConstantDouble }
func (ConstantNameAndTypeInfo) Kind() ConstantKind         { return ConstantNameAndType }
func (ConstantUtf8Info) Kind() ConstantKind                { return ConstantUtf8 }
func (ConstantMethodHandleInfo) Kind() ConstantKind        { return ConstantMethodHandle }
func (ConstantMethodTypeInfo) Kind() ConstantKind          { return ConstantMethodType }
func (ConstantDynamicInfo) Kind() ConstantKind             { return ConstantDynamic }
func (ConstantInvokeDynamicInfo) Kind() ConstantKind       { return ConstantInvokeDynamic }
func (ConstantModuleInfo) Kind() ConstantKind              { return ConstantModule }
func (ConstantPackageInfo) Kind() ConstantKind             { return ConstantPackage }
func (constantPlaceholderInfo) Kind() ConstantKind         { return constantPlaceholder }

// ConstantPool is the 1-indexed constant table of a class file. Index 0 is
// unused; long/double entries consume their successor index as a
// placeholder, matching the host format's layout exactly so indices read
// out of the original bytecode remain valid without translation.
type ConstantPool struct {
	entries []Constant
}

// NewConstantPool returns an empty pool with the reserved zero slot.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: []Constant{constantPlaceholderInfo{}}}
}

// Get returns the entry at index, or nil if index is out of range or the
// unused placeholder half of a long/double entry.
func (p *ConstantPool) Get(index uint16) Constant {
	if int(index) >= len(p.entries) {
		return nil
	}
	c := p.entries[index]
	if _, ok := c.(constantPlaceholderInfo); ok {
		return nil
	}
	return c
}

// Len returns constant_pool_count: the number of entries plus one.
func (p *ConstantPool) Len() uint16 { return uint16(len(p.entries)) }

// Add appends a constant and returns its index. Long and Double entries
// additionally consume the next index as an unusable placeholder.
func (p *ConstantPool) Add(c Constant) uint16 {
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	switch c.Kind() {
	case ConstantLong, ConstantDouble:
		p.entries = append(p.entries, constantPlaceholderInfo{})
	}
	return idx
}

// Utf8 returns the string held by a CONSTANT_Utf8 entry, or "" if index
// does not reference one.
func (p *ConstantPool) Utf8(index uint16) string {
	if u, ok := p.Get(index).(ConstantUtf8Info); ok {
		return u.Value
	}
	return ""
}

// ClassName returns the internal name held by a CONSTANT_Class entry.
func (p *ConstantPool) ClassName(index uint16) string {
	if c, ok := p.Get(index).(ConstantClassInfo); ok {
		return p.Utf8(c.NameIndex)
	}
	return ""
}

// NameAndType returns the name and descriptor of a CONSTANT_NameAndType
// entry.
func (p *ConstantPool) NameAndType(index uint16) (name, descriptor string) {
	if nt, ok := p.Get(index).(ConstantNameAndTypeInfo); ok {
		return p.Utf8(nt.NameIndex), p.Utf8(nt.DescriptorIndex)
	}
	return "", ""
}

// AddUtf8 interns a UTF-8 string, reusing an existing entry if present.
func (p *ConstantPool) AddUtf8(s string) uint16 {
	for i, c := range p.entries {
		if u, ok := c.(ConstantUtf8Info); ok && u.Value == s {
			return uint16(i)
		}
	}
	return p.Add(ConstantUtf8Info{Value: s})
}

// AddClass interns a CONSTANT_Class entry for the given internal name.
func (p *ConstantPool) AddClass(name string) uint16 {
	nameIdx := p.AddUtf8(name)
	for i, c := range p.entries {
		if cc, ok := c.(ConstantClassInfo); ok && cc.NameIndex == nameIdx {
			return uint16(i)
		}
	}
	return p.Add(ConstantClassInfo{NameIndex: nameIdx})
}

// AddNameAndType interns a CONSTANT_NameAndType entry.
func (p *ConstantPool) AddNameAndType(name, descriptor string) uint16 {
	nameIdx := p.AddUtf8(name)
	descIdx := p.AddUtf8(descriptor)
	for i, c := range p.entries {
		if nt, ok := c.(ConstantNameAndTypeInfo); ok && nt.NameIndex == nameIdx && nt.DescriptorIndex == descIdx {
			return uint16(i)
		}
	}
	return p.Add(ConstantNameAndTypeInfo{NameIndex: nameIdx, DescriptorIndex: descIdx})
}

// AddMethodref interns a CONSTANT_Methodref entry.
func (p *ConstantPool) AddMethodref(owner, name, descriptor string) uint16 {
	classIdx := p.AddClass(owner)
	natIdx := p.AddNameAndType(name, descriptor)
	for i, c := range p.entries {
		if m, ok := c.(ConstantMethodrefInfo); ok && m.ClassIndex == classIdx && m.NameAndTypeIndex == natIdx {
			return uint16(i)
		}
	}
	return p.Add(ConstantMethodrefInfo{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// AddFieldref interns a CONSTANT_Fieldref entry.
func (p *ConstantPool) AddFieldref(owner, name, descriptor string) uint16 {
	classIdx := p.AddClass(owner)
	natIdx := p.AddNameAndType(name, descriptor)
	for i, c := range p.entries {
		if f, ok := c.(ConstantFieldrefInfo); ok && f.ClassIndex == classIdx && f.NameAndTypeIndex == natIdx {
			return uint16(i)
		}
	}
	return p.Add(ConstantFieldrefInfo{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// Each iterates the live (non-placeholder) entries in index order.
func (p *ConstantPool) Each(fn func(index uint16, c Constant)) {
	for i, c := range p.entries {
		if _, ok := c.(constantPlaceholderInfo); ok {
			continue
		}
		fn(uint16(i), c)
	}
}

// Set replaces the entry at index in place, used by the Remapper to
// rewrite names without disturbing other indices.
func (p *ConstantPool) Set(index uint16, c Constant) {
	p.entries[int(index)] = c
}

func readConstantPool(r io.Reader, count uint16) (*ConstantPool, error) {
	pool := &ConstantPool{entries: make([]Constant, 1, count)}
	pool.entries[0] = constantPlaceholderInfo{}

	for i := 1; i < int(count); i++ {
		var tag ConstantKind
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, fmt.Errorf("constant pool entry %d: read tag: %w", i, err)
		}

		c, err := readConstant(r, tag)
		if err != nil {
			return nil, fmt.Errorf("constant pool entry %d: %w", i, err)
		}
		pool.entries = append(pool.entries, c)

		if tag == ConstantLong || tag == ConstantDouble {
			pool.entries = append(pool.entries, constantPlaceholderInfo{})
			i++
		}
	}
	return pool, nil
}

func readConstant(r io.Reader, tag ConstantKind) (Constant, error) {
	be := binary.BigEndian
	switch tag {
	case ConstantUtf8:
		var length uint16
		if err := binary.Read(r, be, &length); err != nil {
			return nil, err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return ConstantUtf8Info{Value: string(buf)}, nil
	case ConstantInteger:
		var v int32
		err := binary.Read(r, be, &v)
		return ConstantIntegerInfo{Value: v}, err
	case ConstantFloat:
		var v float32
		err := binary.Read(r, be, &v)
		return ConstantFloatInfo{Value: v}, err
	case ConstantLong:
		var v int64
		err := binary.Read(r, be, &v)
		return ConstantLongInfo{Value: v}, err
	case ConstantDouble:
		var v float64
		err := binary.Read(r, be, &v)
		return ConstantDoubleInfo{Value: v}, err
	case ConstantClass:
		var v uint16
		err := binary.Read(r, be, &v)
		return ConstantClassInfo{NameIndex: v}, err
	case ConstantString:
		var v uint16
		err := binary.Read(r, be, &v)
		return ConstantStringInfo{StringIndex: v}, err
	case ConstantFieldref:
		var c, n uint16
		if err := binary.Read(r, be, &c); err != nil {
			return nil, err
		}
		err := binary.Read(r, be, &n)
		return ConstantFieldrefInfo{ClassIndex: c, NameAndTypeIndex: n}, err
	case ConstantMethodref:
		var c, n uint16
		if err := binary.Read(r, be, &c); err != nil {
			return nil, err
		}
		err := binary.Read(r, be, &n)
		return ConstantMethodrefInfo{ClassIndex: c, NameAndTypeIndex: n}, err
	case ConstantInterfaceMethodref:
		var c, n uint16
		if err := binary.Read(r, be, &c); err != nil {
			return nil, err
		}
		err := binary.Read(r, be, &n)
		return ConstantInterfaceMethodrefInfo{ClassIndex: c, NameAndTypeIndex: n}, err
	case ConstantNameAndType:
		var n, d uint16
		if err := binary.Read(r, be, &n); err != nil {
			return nil, err
		}
		err := binary.Read(r, be, &d)
		return ConstantNameAndTypeInfo{NameIndex: n, DescriptorIndex: d}, err
	case ConstantMethodHandle:
		var k uint8
		var idx uint16
		if err := binary.Read(r, be, &k); err != nil {
			return nil, err
		}
		err := binary.Read(r, be, &idx)
		return ConstantMethodHandleInfo{ReferenceKind: k, ReferenceIndex: idx}, err
	case ConstantMethodType:
		var d uint16
		err := binary.Read(r, be, &d)
		return ConstantMethodTypeInfo{DescriptorIndex: d}, err
	case ConstantDynamic:
		var b, n uint16
		if err := binary.Read(r, be, &b); err != nil {
			return nil, err
		}
		err := binary.Read(r, be, &n)
		return ConstantDynamicInfo{BootstrapMethodAttrIndex: b, NameAndTypeIndex: n}, err
	case ConstantInvokeDynamic:
		var b, n uint16
		if err := binary.Read(r, be, &b); err != nil {
			return nil, err
		}
		err := binary.Read(r, be, &n)
		return ConstantInvokeDynamicInfo{BootstrapMethodAttrIndex: b, NameAndTypeIndex: n}, err
	case ConstantModule:
		var v uint16
		err := binary.Read(r, be, &v)
		return ConstantModuleInfo{NameIndex: v}, err
	case ConstantPackage:
		var v uint16
		err := binary.Read(r, be, &v)
		return ConstantPackageInfo{NameIndex: v}, err
	default:
		return nil, fmt.Errorf("unsupported constant pool tag %d", tag)
	}
}

func writeConstantPool(w io.Writer, pool *ConstantPool) error {
	be := binary.BigEndian
	if err := binary.Write(w, be, pool.Len()); err != nil {
		return err
	}
	for i := 1; i < len(pool.entries); i++ {
		c := pool.entries[i]
		if _, ok := c.(constantPlaceholderInfo); ok {
			continue
		}
		if err := writeConstant(w, c); err != nil {
			return fmt.Errorf("constant pool entry %d: %w", i, err)
		}
	}
	return nil
}

func writeConstant(w io.Writer, c Constant) error {
	be := binary.BigEndian
	if err := binary.Write(w, be, c.Kind()); err != nil {
		return err
	}
	switch v := c.(type) {
	case ConstantUtf8Info:
		if err := binary.Write(w, be, uint16(len(v.Value))); err != nil {
			return err
		}
		_, err := w.Write([]byte(v.Value))
		return err
	case ConstantIntegerInfo:
		return binary.Write(w, be, v.Value)
	case ConstantFloatInfo:
		return binary.Write(w, be, v.Value)
	case ConstantLongInfo:
		return binary.Write(w, be, v.Value)
	case ConstantDoubleInfo:
		return binary.Write(w, be, v.Value)
	case ConstantClassInfo:
		return binary.Write(w, be, v.NameIndex)
	case ConstantStringInfo:
		return binary.Write(w, be, v.StringIndex)
	case ConstantFieldrefInfo:
		if err := binary.Write(w, be, v.ClassIndex); err != nil {
			return err
		}
		return binary.Write(w, be, v.NameAndTypeIndex)
	case ConstantMethodrefInfo:
		if err := binary.Write(w, be, v.ClassIndex); err != nil {
			return err
		}
		return binary.Write(w, be, v.NameAndTypeIndex)
	case ConstantInterfaceMethodrefInfo:
		if err := binary.Write(w, be, v.ClassIndex); err != nil {
			return err
		}
		return binary.Write(w, be, v.NameAndTypeIndex)
	case ConstantNameAndTypeInfo:
		if err := binary.Write(w, be, v.NameIndex); err != nil {
			return err
		}
		return binary.Write(w, be, v.DescriptorIndex)
	case ConstantMethodHandleInfo:
		if err := binary.Write(w, be, v.ReferenceKind); err != nil {
			return err
		}
		return binary.Write(w, be, v.ReferenceIndex)
	case ConstantMethodTypeInfo:
		return binary.Write(w, be, v.DescriptorIndex)
	case ConstantDynamicInfo:
		if err := binary.Write(w, be, v.BootstrapMethodAttrIndex); err != nil {
			return err
		}
		return binary.Write(w, be, v.NameAndTypeIndex)
	case ConstantInvokeDynamicInfo:
		if err := binary.Write(w, be, v.BootstrapMethodAttrIndex); err != nil {
			return err
		}
		return binary.Write(w, be, v.NameAndTypeIndex)
	case ConstantModuleInfo:
		return binary.Write(w, be, v.NameIndex)
	case ConstantPackageInfo:
		return binary.Write(w, be, v.NameIndex)
	default:
		return fmt.Errorf("unsupported constant pool entry %T", v)
	}
}
