package meta

import (
	"iter"
	"strings"

	"objcore/internal/archive"
	"objcore/internal/ident"
)

// TypeFlags describe a type as a whole.
type TypeFlags uint16

const (
	// TypeNative types are provided by the program rather than a container.
	TypeNative TypeFlags = 1 << iota
	// TypeStruct types are plain values embedded in other instances.
	TypeStruct
	// TypeAbstract types cannot be instantiated.
	TypeAbstract
	// TypeTransient instances are never saved.
	TypeTransient
)

var typeFlagNames = []struct {
	flag TypeFlags
	name string
}{
	{TypeNative, "native"},
	{TypeStruct, "struct"},
	{TypeAbstract, "abstract"},
	{TypeTransient, "transient"},
}

func (f TypeFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range typeFlagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// CodecKind selects between the generic field walker and a type-supplied
// codec.
type CodecKind uint8

const (
	CodecGeneric CodecKind = iota
	CodecCustom
)

// CustomCodec serializes an instance in a format of its own. It must be
// symmetric in the archive direction like every other serializer.
type CustomCodec func(ar *archive.Archive, t *Type, p Place)

// Codec is the tagged union of serialization strategies.
type Codec struct {
	Kind   CodecKind
	Custom CustomCodec
}

// Custom wraps fn as a custom codec.
func Custom(fn CustomCodec) Codec { return Codec{Kind: CodecCustom, Custom: fn} }

// Type describes one object class or struct.
type Type struct {
	Name    ident.ID
	Text    string
	Parent  *Type
	Fields  []*Field
	Size    int
	Flags   TypeFlags
	Package string

	// Defaults is the default-value instance new instances are cloned from.
	Defaults *Block
	Codec    Codec
	// Destroy, when set, releases external resources owned by an instance
	// right before the collector frees it.
	Destroy func(p Place)

	names   *ident.Table
	align   int
	depth   int
	hasAux  bool
	hasRefs bool
	all     []*Field // parent first
	byName  map[ident.ID]*Field
	sig     string
}

// Order selects the traversal order of Type.Walk.
type Order uint8

const (
	// ParentFirst visits the root ancestor's fields first.
	ParentFirst Order = iota
	// ChildFirst visits the type's own fields, then walks up the parents.
	ChildFirst
)

// Walk yields every field of t including inherited ones, in declared order
// per type.
func (t *Type) Walk(order Order) iter.Seq[*Field] {
	return func(yield func(*Field) bool) {
		if order == ParentFirst {
			for _, f := range t.all {
				if !yield(f) {
					return
				}
			}
			return
		}
		for cur := t; cur != nil; cur = cur.Parent {
			for _, f := range cur.Fields {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// Own yields only the fields t declares itself.
func (t *Type) Own() iter.Seq[*Field] {
	return func(yield func(*Field) bool) {
		for _, f := range t.Fields {
			if !yield(f) {
				return
			}
		}
	}
}

// NumFields counts fields including inherited ones.
func (t *Type) NumFields() int { return len(t.all) }

// Field finds a field by identifier, searching the parent chain.
func (t *Type) Field(name ident.ID) *Field {
	return t.byName[name]
}

// IsA reports whether t is other or derives from it.
func (t *Type) IsA(other *Type) bool {
	if other == nil {
		return false
	}
	for cur := t; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Depth is the number of ancestors.
func (t *Type) Depth() int { return t.depth }

func (t *Type) Has(fl TypeFlags) bool { return t.Flags&fl != 0 }

// New returns a fresh instance initialized from the defaults.
func (t *Type) New() *Block { return t.Defaults.Clone() }

func (t *Type) String() string { return t.Text }

// FieldNamed finds a field by text, searching the parent chain.
func (t *Type) FieldNamed(name string) *Field {
	id, ok := t.names.Find(name)
	if !ok {
		return nil
	}
	return t.byName[id]
}
