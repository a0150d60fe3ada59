package classfile

import "testing"

func TestNewConstantPoolHasReservedZeroSlot(t *testing.T) {
	p := NewConstantPool()
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}
	if p.Get(0) != nil {
		t.Fatal("Get(0) should be nil, the reserved placeholder slot")
	}
}

func TestAddUtf8Interns(t *testing.T) {
	p := NewConstantPool()
	a := p.AddUtf8("Hello")
	b := p.AddUtf8("Hello")
	if a != b {
		t.Fatalf("AddUtf8 did not intern: %d != %d", a, b)
	}
	if p.Utf8(a) != "Hello" {
		t.Fatalf("Utf8(%d) = %q, want Hello", a, p.Utf8(a))
	}
}

func TestAddClassInterns(t *testing.T) {
	p := NewConstantPool()
	a := p.AddClass("com/acme/Widget")
	b := p.AddClass("com/acme/Widget")
	if a != b {
		t.Fatalf("AddClass did not intern: %d != %d", a, b)
	}
	if p.ClassName(a) != "com/acme/Widget" {
		t.Fatalf("ClassName(%d) = %q", a, p.ClassName(a))
	}
}

func TestAddMethodrefAndFieldrefIntern(t *testing.T) {
	p := NewConstantPool()
	m1 := p.AddMethodref("com/acme/Widget", "doThing", "()V")
	m2 := p.AddMethodref("com/acme/Widget", "doThing", "()V")
	if m1 != m2 {
		t.Fatalf("AddMethodref did not intern: %d != %d", m1, m2)
	}
	f1 := p.AddFieldref("com/acme/Widget", "count", "I")
	f2 := p.AddFieldref("com/acme/Widget", "count", "I")
	if f1 != f2 {
		t.Fatalf("AddFieldref did not intern: %d != %d", f1, f2)
	}
	if m1 == f1 {
		t.Fatal("methodref and fieldref interning collided on index")
	}
}

func TestAddLongDoubleConsumesPlaceholderSlot(t *testing.T) {
	p := NewConstantPool()
	before := p.Len()
	idx := p.Add(ConstantLongInfo{Value: 42})
	after := p.Len()
	if after != before+2 {
		t.Fatalf("Len() grew by %d, want 2 for a long entry", after-before)
	}
	if p.Get(idx+1) != nil {
		t.Fatal("the slot after a long entry must be an unreadable placeholder")
	}
}

func TestEachSkipsPlaceholders(t *testing.T) {
	p := NewConstantPool()
	p.Add(ConstantLongInfo{Value: 1})
	p.AddUtf8("tail")

	seen := 0
	p.Each(func(index uint16, c Constant) {
		if _, ok := c.(constantPlaceholderInfo); ok {
			t.Fatalf("Each yielded a placeholder entry at index %d", index)
		}
		seen++
	})
	if seen != 2 {
		t.Fatalf("Each visited %d entries, want 2 (long + utf8)", seen)
	}
}

func TestNameAndType(t *testing.T) {
	p := NewConstantPool()
	idx := p.AddNameAndType("doThing", "()V")
	name, desc := p.NameAndType(idx)
	if name != "doThing" || desc != "()V" {
		t.Fatalf("NameAndType = (%q, %q), want (doThing, ()V)", name, desc)
	}
}

func TestSetReplacesEntryInPlace(t *testing.T) {
	p := NewConstantPool()
	idx := p.AddUtf8("old")
	p.Set(idx, ConstantUtf8Info{Value: "new"})
	if p.Utf8(idx) != "new" {
		t.Fatalf("Utf8(%d) after Set = %q, want new", idx, p.Utf8(idx))
	}
}
