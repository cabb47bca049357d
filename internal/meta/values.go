package meta

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"objcore/internal/handle"
	"objcore/internal/ident"
)

func arrayAt(p Place) *ArrayValue {
	a, _ := p.auxGet().(*ArrayValue)
	return a
}

func mapAt(p Place) *MapValue {
	m, _ := p.auxGet().(*MapValue)
	return m
}

// ArrayLen returns the length of the dynamic array at p without allocating.
func ArrayLen(p Place) int {
	if a := arrayAt(p); a != nil {
		return a.Len()
	}
	return 0
}

// Equal compares every element of field f between the instances or structs
// at a and b.
func Equal(f *Field, a, b Place) bool {
	for i := range max(f.ArrayDim, 1) {
		if !EqualValue(f, a.At(f, i), b.At(f, i)) {
			return false
		}
	}
	return true
}

// EqualValue compares one element of f's kind at a and b.
func EqualValue(f *Field, a, b Place) bool {
	switch f.Kind {
	case KindString:
		return a.Text() == b.Text()
	case KindStruct:
		for _, g := range f.Struct.all {
			if !Equal(g, a, b) {
				return false
			}
		}
		return true
	case KindArray:
		x, y := arrayAt(a), arrayAt(b)
		nx, ny := 0, 0
		if x != nil {
			nx = x.Len()
		}
		if y != nil {
			ny = y.Len()
		}
		if nx != ny {
			return false
		}
		for i := range nx {
			if !EqualValue(f.Elem, x.Index(i), y.Index(i)) {
				return false
			}
		}
		return true
	case KindMap:
		x, y := mapAt(a), mapAt(b)
		nx, ny := 0, 0
		if x != nil {
			nx = x.Len()
		}
		if y != nil {
			ny = y.Len()
		}
		if nx != ny {
			return false
		}
		for i := range nx {
			k, v := x.Entry(i)
			w, ok := y.Find(k)
			if !ok || !EqualValue(f.Elem, v, w) {
				return false
			}
		}
		return true
	}
	n := f.Kind.slotSize()
	return bytes.Equal(a.bytes(n), b.bytes(n))
}

// CopyValue copies one element of f's kind from src to dst, deep-copying
// strings, arrays and maps into dst's block.
func CopyValue(f *Field, dst, src Place) {
	switch f.Kind {
	case KindString:
		dst.SetText(src.Text())
	case KindStruct:
		for _, g := range f.Struct.all {
			for i := range max(g.ArrayDim, 1) {
				CopyValue(g, dst.At(g, i), src.At(g, i))
			}
		}
	case KindArray:
		if a := arrayAt(src); a != nil {
			dst.auxSet(a.clone())
		} else if arrayAt(dst) != nil {
			dst.auxSet(&ArrayValue{Elem: f.Elem})
		}
	case KindMap:
		if m := mapAt(src); m != nil {
			dst.auxSet(m.clone())
		} else if mapAt(dst) != nil {
			dst.auxSet(&MapValue{Key: f.Key, Val: f.Elem})
		}
	default:
		n := f.Kind.slotSize()
		copy(dst.bytes(n), src.bytes(n))
	}
}

// RefVisitor receives every object-reference slot. Writing through slot
// (slot.SetObject) updates the instance in place.
type RefVisitor func(f *Field, slot Place)

// VisitRefs enumerates the object references of the instance of t at p,
// descending into structs, fixed arrays, dynamic arrays and maps.
func VisitRefs(t *Type, p Place, fn RefVisitor) {
	if !t.hasRefs {
		return
	}
	for _, f := range t.all {
		if !f.containsRefs() {
			continue
		}
		for i := range max(f.ArrayDim, 1) {
			visitValue(f, p.At(f, i), fn)
		}
	}
}

func visitValue(f *Field, p Place, fn RefVisitor) {
	switch f.Kind {
	case KindObject:
		fn(f, p)
	case KindStruct:
		VisitRefs(f.Struct, p, fn)
	case KindArray:
		if a := arrayAt(p); a != nil {
			for i := range a.Len() {
				visitValue(f.Elem, a.Index(i), fn)
			}
		}
	case KindMap:
		if m := mapAt(p); m != nil {
			for i := range m.Len() {
				k, v := m.Entry(i)
				visitValue(f.Key, k, fn)
				visitValue(f.Elem, v, fn)
			}
		}
	}
}

// Refs collects the non-nil references of an instance in visiting order.
func Refs(t *Type, p Place) []handle.Handle {
	var out []handle.Handle
	VisitRefs(t, p, func(_ *Field, slot Place) {
		if h := slot.Object(); !h.IsNil() {
			out = append(out, h)
		}
	})
	return out
}

func (f *Field) containsRefs() bool {
	switch f.Kind {
	case KindObject:
		return true
	case KindStruct:
		return f.Struct.hasRefs
	case KindArray:
		return f.Elem.containsRefs()
	case KindMap:
		return f.Key.containsRefs() || f.Elem.containsRefs()
	}
	return false
}

// SetValue stores a declaration-file value (bool, integer, float, string,
// list or table) into one element of f at p. Names are interned in names.
func SetValue(names *ident.Table, f *Field, p Place, v any) error {
	switch f.Kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%s: want bool, got %T", f.Text, v)
		}
		p.SetBool(b)
	case KindByte, KindInt32, KindUint32, KindInt64:
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Text, err)
		}
		switch f.Kind {
		case KindByte:
			if n < 0 || n > math.MaxUint8 {
				return fmt.Errorf("%s: %d out of byte range", f.Text, n)
			}
			p.SetByte(uint8(n))
		case KindInt32:
			if n < math.MinInt32 || n > math.MaxInt32 {
				return fmt.Errorf("%s: %d out of int32 range", f.Text, n)
			}
			p.SetInt32(int32(n))
		case KindUint32:
			if n < 0 || n > math.MaxUint32 {
				return fmt.Errorf("%s: %d out of uint32 range", f.Text, n)
			}
			p.SetUint32(uint32(n))
		default:
			p.SetInt64(n)
		}
	case KindFloat32, KindFloat64:
		var x float64
		switch n := v.(type) {
		case float64:
			x = n
		case float32:
			x = float64(n)
		default:
			i, err := toInt(v)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Text, err)
			}
			x = float64(i)
		}
		if f.Kind == KindFloat32 {
			p.SetFloat32(float32(x))
		} else {
			p.SetFloat64(x)
		}
	case KindString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s: want string, got %T", f.Text, v)
		}
		p.SetText(s)
	case KindName:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s: want name, got %T", f.Text, v)
		}
		p.SetName(names.Name(s))
	case KindObject:
		if v != nil {
			return fmt.Errorf("%s: object fields only default to null", f.Text)
		}
		p.SetObject(handle.Nil)
	case KindStruct:
		tbl, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: want table, got %T", f.Text, v)
		}
		for k, x := range tbl {
			g := f.Struct.fieldByText(k)
			if g == nil {
				return fmt.Errorf("%s: struct %s has no field %q", f.Text, f.Struct.Text, k)
			}
			if err := setElements(names, g, p, x); err != nil {
				return err
			}
		}
	case KindArray:
		list, ok := toList(v)
		if !ok {
			return fmt.Errorf("%s: want list, got %T", f.Text, v)
		}
		a := p.Array(f.Elem)
		a.Resize(0)
		for _, x := range list {
			if err := SetValue(names, f.Elem, a.Append(), x); err != nil {
				return err
			}
		}
	case KindMap:
		tbl, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: want table, got %T", f.Text, v)
		}
		if f.Key.Kind != KindString && f.Key.Kind != KindName {
			return fmt.Errorf("%s: map defaults need string or name keys", f.Text)
		}
		m := p.Map(f.Key, f.Elem)
		for k, x := range tbl {
			var kerr error
			_, val := m.Put(func(key Place) { kerr = SetValue(names, f.Key, key, k) })
			if kerr != nil {
				return kerr
			}
			if err := SetValue(names, f.Elem, val, x); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: kind %s cannot hold a value", f.Text, f.Kind)
	}
	return nil
}

// setElements assigns v to field f of the owner at p; fixed arrays take a
// list with one entry per element.
func setElements(names *ident.Table, f *Field, p Place, v any) error {
	if f.ArrayDim <= 1 {
		return SetValue(names, f, p.At(f, 0), v)
	}
	list, ok := toList(v)
	if !ok {
		return fmt.Errorf("%s: fixed array wants a list", f.Text)
	}
	if len(list) > f.ArrayDim {
		return fmt.Errorf("%s: %d values for %d elements", f.Text, len(list), f.ArrayDim)
	}
	for i, x := range list {
		if err := SetValue(names, f, p.At(f, i), x); err != nil {
			return err
		}
	}
	return nil
}

func (t *Type) fieldByText(s string) *Field {
	for _, f := range t.all {
		if strings.EqualFold(f.Text, s) {
			return f
		}
	}
	return nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}
