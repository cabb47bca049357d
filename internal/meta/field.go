package meta

import (
	"fmt"
	"strings"

	"objcore/internal/ident"
)

// FieldFlags control how a field takes part in serialization.
type FieldFlags uint16

const (
	// FieldPersist marks binary-layout fields written positionally when a
	// container opts into binary mode.
	FieldPersist FieldFlags = 1 << iota
	// FieldTransient fields are never serialized and load as their default.
	FieldTransient
	// FieldNet is relevant to network replication.
	FieldNet
	// FieldEditorOnly is serialized only by archives opened for editing.
	FieldEditorOnly
	// FieldHasDefault is set when the declaration supplied a default value.
	FieldHasDefault
	// FieldDeprecated fields are read from old data but never written.
	FieldDeprecated
)

var fieldFlagNames = []struct {
	flag FieldFlags
	name string
}{
	{FieldPersist, "persist"},
	{FieldTransient, "transient"},
	{FieldNet, "net"},
	{FieldEditorOnly, "editor_only"},
	{FieldHasDefault, "has_default"},
	{FieldDeprecated, "deprecated"},
}

func (f FieldFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range fieldFlagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseFieldFlag maps a declaration keyword to its flag.
func ParseFieldFlag(s string) (FieldFlags, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, fn := range fieldFlagNames {
		if fn.name == s {
			return fn.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown field flag %q", s)
}

// Field describes one property of a Type. Fields are immutable once their
// type is registered.
type Field struct {
	Name     ident.ID
	Text     string
	Kind     Kind
	Offset   int
	ArrayDim int
	Flags    FieldFlags

	// Struct is the value type of KindStruct fields.
	Struct *Type
	// Elem describes array elements and map values; Key describes map keys.
	// Both are laid out at offset 0 of their own element blocks.
	Elem *Field
	Key  *Field

	Owner *Type
	Index int
}

// ElemSize is the in-block size of one element.
func (f *Field) ElemSize() int {
	if f.Kind == KindStruct {
		return f.Struct.Size
	}
	return f.Kind.slotSize()
}

// Size is the byte range the field occupies in its owner.
func (f *Field) Size() int { return f.ElemSize() * max(f.ArrayDim, 1) }

// End is the first byte after the field.
func (f *Field) End() int { return f.Offset + f.Size() }

func (f *Field) Has(fl FieldFlags) bool { return f.Flags&fl != 0 }

func (f *Field) align() int {
	if f.Kind == KindStruct {
		return f.Struct.align
	}
	return f.Kind.align()
}

// containsAux reports whether values of f keep anything in aux slots.
func (f *Field) containsAux() bool {
	if f.Kind.auxiliary() {
		return true
	}
	return f.Kind == KindStruct && f.Struct.hasAux
}

func (f *Field) String() string {
	s := f.Text + ":" + f.Kind.String()
	if f.Kind == KindStruct {
		s += "(" + f.Struct.Text + ")"
	}
	if f.ArrayDim > 1 {
		s += fmt.Sprintf("[%d]", f.ArrayDim)
	}
	return s
}

// signature renders everything that makes two declarations structurally
// different.
func (f *Field) signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s@%d*%d#%d", strings.ToLower(f.Text), f.Kind, f.Offset, max(f.ArrayDim, 1), f.Flags&^FieldHasDefault)
	if f.Struct != nil {
		b.WriteString("/" + strings.ToLower(f.Struct.Text))
	}
	if f.Key != nil {
		b.WriteString("{" + f.Key.signature() + "}")
	}
	if f.Elem != nil {
		b.WriteString("[" + f.Elem.signature() + "]")
	}
	return b.String()
}
