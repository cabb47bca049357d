package meta

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"objcore/internal/archive"
	"objcore/internal/diag"
	"objcore/internal/ident"
)

// Mode selects the instance encoding.
type Mode uint8

const (
	// Tagged writes name-tagged values that differ from the defaults and
	// tolerates added, removed and reordered fields.
	Tagged Mode = iota
	// Binary writes persist fields positionally, parent fields first.
	Binary
)

func (m Mode) String() string {
	if m == Binary {
		return "binary"
	}
	return "tagged"
}

// ErrValueSize reports a tagged value that did not consume exactly the
// number of bytes its tag announced.
var ErrValueSize = errors.New("tagged value size mismatch")

// KindMismatchError means the stored kind of a field disagrees with its
// declaration. It always aborts the load of the instance.
type KindMismatchError struct {
	Type       string
	Field      string
	Stored     Kind
	Declared   Kind
	StoredType string
	DeclType   string
}

func (e *KindMismatchError) Error() string {
	if e.Stored == e.Declared {
		return fmt.Sprintf("%s.%s: stored struct %s, declared %s", e.Type, e.Field, e.StoredType, e.DeclType)
	}
	return fmt.Sprintf("%s.%s: stored kind %s, declared %s", e.Type, e.Field, e.Stored, e.Declared)
}

// SerializeInstance loads or saves the instance of t held in b. Saving in
// tagged mode skips values equal to t's defaults.
func SerializeInstance(ar *archive.Archive, t *Type, b *Block, mode Mode) {
	serializeStruct(ar, t, b.Root(), t.Defaults.Root(), mode)
}

func serializeStruct(ar *archive.Archive, t *Type, p, def Place, mode Mode) {
	if t.Codec.Kind == CodecCustom {
		t.Codec.Custom(ar, t, p)
		return
	}
	switch {
	case mode == Binary:
		for _, f := range t.all {
			if !f.Has(FieldPersist) {
				continue
			}
			for i := range f.ArrayDim {
				serializeValue(ar, f, p.At(f, i), Place{}, mode)
			}
		}
	case ar.IsLoading():
		loadTagged(ar, t, p, mode)
	default:
		saveTagged(ar, t, p, def, mode)
	}
}

func skipOnSave(ar *archive.Archive, f *Field) bool {
	return f.Has(FieldTransient) || f.Has(FieldDeprecated) || (f.Has(FieldEditorOnly) && !ar.ForEdit())
}

func saveTagged(ar *archive.Archive, t *Type, p, def Place, mode Mode) {
	for f := range t.Walk(ChildFirst) {
		if skipOnSave(ar, f) {
			continue
		}
		for i := range f.ArrayDim {
			vp := p.At(f, i)
			var dp Place
			if def.Valid() {
				dp = def.At(f, i)
				if EqualValue(f, vp, dp) {
					continue
				}
			}
			buf := archive.NewMemoryWriter()
			tmp := ar.Fork(buf)
			serializeValue(tmp, f, vp, dp, mode)
			if err := tmp.Err(); err != nil {
				ar.Fail(fmt.Errorf("%s.%s: %w", t.Text, f.Text, err))
				return
			}
			size, err := safecast.Conv[int32](len(buf.Bytes()))
			if err != nil {
				ar.Fail(fmt.Errorf("%s.%s: %w", t.Text, f.Text, err))
				return
			}
			tag := Tag{
				Name:       ident.Name{ID: f.Name},
				Kind:       f.Kind,
				Size:       size,
				ArrayIndex: int32(i),
			}
			if f.Kind == KindStruct {
				tag.StructName = ident.Name{ID: f.Struct.Name}
			}
			tag.Serialize(ar)
			ar.SerializeRaw(buf.Bytes())
		}
	}
	none := ident.NoneName
	ar.SerializeName(&none)
}

func loadTagged(ar *archive.Archive, t *Type, p Place, mode Mode) {
	for {
		var tag Tag
		tag.Serialize(ar)
		if ar.Err() != nil || tag.Name.IsNone() {
			return
		}
		start := ar.Pos()
		end := start + int64(tag.Size)
		if n := ar.Len(); n >= 0 && end > n {
			ar.Fail(fmt.Errorf("%w: %s value of %d bytes at %d", archive.ErrTruncated, t.Text, tag.Size, start))
			return
		}

		f := t.Field(tag.Name.ID)
		if f == nil {
			ar.Report(diag.FieldUnknown, diag.SevInfo,
				fmt.Sprintf("%s has no field %q, %d bytes skipped", t.Text, t.names.Resolve(tag.Name.ID), tag.Size))
			ar.Seek(end)
			continue
		}
		if tag.Kind != f.Kind {
			ar.Fail(&KindMismatchError{Type: t.Text, Field: f.Text, Stored: tag.Kind, Declared: f.Kind})
			return
		}
		if f.Kind == KindStruct && tag.StructName.ID != f.Struct.Name {
			ar.Fail(&KindMismatchError{
				Type: t.Text, Field: f.Text, Stored: tag.Kind, Declared: f.Kind,
				StoredType: t.names.Resolve(tag.StructName.ID), DeclType: f.Struct.Text,
			})
			return
		}
		if int(tag.ArrayIndex) >= f.ArrayDim {
			ar.Report(diag.FieldArrayBounds, diag.SevWarning,
				fmt.Sprintf("%s.%s[%d] beyond dimension %d", t.Text, f.Text, tag.ArrayIndex, f.ArrayDim))
			ar.Seek(end)
			continue
		}
		if f.Has(FieldTransient) || (f.Has(FieldEditorOnly) && !ar.ForEdit()) {
			ar.Seek(end)
			continue
		}

		serializeValue(ar, f, p.At(f, int(tag.ArrayIndex)), Place{}, mode)
		if ar.Err() != nil {
			return
		}
		if got := ar.Pos(); got != end {
			ar.Fail(fmt.Errorf("%w: %s.%s consumed %d of %d bytes", ErrValueSize, t.Text, f.Text, got-start, tag.Size))
			return
		}
	}
}

// serializeValue handles one element of f's kind at p. dp is the default
// for the element when known; nested structs fall back to their type's
// defaults.
func serializeValue(ar *archive.Archive, f *Field, p, dp Place, mode Mode) {
	loading := ar.IsLoading()
	switch f.Kind {
	case KindBool:
		v := p.Bool()
		ar.SerializeBool(&v)
		if loading {
			p.SetBool(v)
		}
	case KindByte:
		v := p.Byte()
		ar.SerializeU8(&v)
		if loading {
			p.SetByte(v)
		}
	case KindInt32:
		v := p.Int32()
		ar.SerializeI32(&v)
		if loading {
			p.SetInt32(v)
		}
	case KindUint32:
		v := p.Uint32()
		ar.SerializeU32(&v)
		if loading {
			p.SetUint32(v)
		}
	case KindInt64:
		v := p.Int64()
		ar.SerializeI64(&v)
		if loading {
			p.SetInt64(v)
		}
	case KindFloat32:
		v := p.Float32()
		ar.SerializeF32(&v)
		if loading {
			p.SetFloat32(v)
		}
	case KindFloat64:
		v := p.Float64()
		ar.SerializeF64(&v)
		if loading {
			p.SetFloat64(v)
		}
	case KindName:
		v := p.Name()
		ar.SerializeName(&v)
		if loading {
			p.SetName(v)
		}
	case KindObject:
		v := p.Object()
		ar.SerializeObject(&v)
		if loading {
			p.SetObject(v)
		}
	case KindString:
		v := p.Text()
		ar.SerializeString(&v)
		if loading {
			p.SetText(v)
		}
	case KindStruct:
		if !dp.Valid() {
			dp = f.Struct.Defaults.Root()
		}
		serializeStruct(ar, f.Struct, p, dp, mode)
	case KindArray:
		serializeArray(ar, f, p, mode)
	case KindMap:
		serializeMap(ar, f, p, mode)
	default:
		ar.Fail(fmt.Errorf("%s: kind %s is not serializable", f.Text, f.Kind))
	}
}

func minWireSize(f *Field) int {
	if f.Kind == KindStruct && f.Struct.Codec.Kind == CodecCustom {
		return 0
	}
	return 1
}

func serializeArray(ar *archive.Archive, f *Field, p Place, mode Mode) {
	if ar.IsLoading() {
		var n int
		ar.SerializeLength(&n, minWireSize(f.Elem))
		a := p.Array(f.Elem)
		a.Resize(0)
		if minWireSize(f.Elem) == 0 && n > archive.MaxStringLength {
			ar.Fail(fmt.Errorf("%w: %d elements", archive.ErrTooLarge, n))
			return
		}
		for range n {
			serializeValue(ar, f.Elem, a.Append(), Place{}, mode)
			if ar.Err() != nil {
				return
			}
		}
		return
	}
	a := arrayAt(p)
	n := 0
	if a != nil {
		n = a.Len()
	}
	ar.SerializeLength(&n, 0)
	for i := range n {
		serializeValue(ar, f.Elem, a.Index(i), Place{}, mode)
	}
}

// serializeMap writes key/value pairs in insertion order. A key repeated in
// the stream overwrites the earlier value.
func serializeMap(ar *archive.Archive, f *Field, p Place, mode Mode) {
	if ar.IsLoading() {
		var n int
		ar.SerializeLength(&n, minWireSize(f.Key)+minWireSize(f.Elem))
		m := p.Map(f.Key, f.Elem)
		m.Keys, m.Vals = nil, nil
		for range n {
			kb, vb := newElem(f.Key), newElem(f.Elem)
			serializeValue(ar, f.Key, kb.Root(), Place{}, mode)
			serializeValue(ar, f.Elem, vb.Root(), Place{}, mode)
			if ar.Err() != nil {
				return
			}
			m.set(kb, vb)
		}
		return
	}
	m := mapAt(p)
	n := 0
	if m != nil {
		n = m.Len()
	}
	ar.SerializeLength(&n, 0)
	for i := range n {
		k, v := m.Entry(i)
		serializeValue(ar, f.Key, k, Place{}, mode)
		serializeValue(ar, f.Elem, v, Place{}, mode)
	}
}
