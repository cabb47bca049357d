package engine

import (
	"strconv"
	"strings"

	"objcore/internal/handle"
	"objcore/internal/meta"
)

// FieldValue is one field of an instance rendered as text.
type FieldValue struct {
	Owner string `json:"owner" msgpack:"owner"`
	Name  string `json:"name" msgpack:"name"`
	Kind  string `json:"kind" msgpack:"kind"`
	Flags string `json:"flags,omitempty" msgpack:"flags,omitempty"`
	Value string `json:"value" msgpack:"value"`
}

// Fields renders every field of h, parent fields first.
func (e *Engine) Fields(h handle.Handle) ([]FieldValue, error) {
	obj, err := e.objects.Get(h)
	if err != nil {
		return nil, err
	}
	if obj.Instance == nil {
		return nil, nil
	}
	root := obj.Root()
	var out []FieldValue
	for f := range obj.Type.Walk(meta.ParentFirst) {
		fv := FieldValue{Owner: f.Owner.Text, Name: f.Text, Kind: f.Kind.String()}
		if f.Flags != 0 {
			fv.Flags = f.Flags.String()
		}
		if f.ArrayDim > 1 {
			parts := make([]string, f.ArrayDim)
			for i := range f.ArrayDim {
				parts[i] = e.FormatValue(f, root.At(f, i))
			}
			fv.Value = "[" + strings.Join(parts, ", ") + "]"
		} else {
			fv.Value = e.FormatValue(f, root.At(f, 0))
		}
		out = append(out, fv)
	}
	return out, nil
}

// FormatValue renders one element of f at p.
func (e *Engine) FormatValue(f *meta.Field, p meta.Place) string {
	switch f.Kind {
	case meta.KindBool:
		return strconv.FormatBool(p.Bool())
	case meta.KindByte:
		return strconv.Itoa(int(p.Byte()))
	case meta.KindInt32:
		return strconv.FormatInt(int64(p.Int32()), 10)
	case meta.KindUint32:
		return strconv.FormatUint(uint64(p.Uint32()), 10)
	case meta.KindInt64:
		return strconv.FormatInt(p.Int64(), 10)
	case meta.KindFloat32:
		return strconv.FormatFloat(float64(p.Float32()), 'g', -1, 32)
	case meta.KindFloat64:
		return strconv.FormatFloat(p.Float64(), 'g', -1, 64)
	case meta.KindString:
		return strconv.Quote(p.Text())
	case meta.KindName:
		return e.names.String(p.Name())
	case meta.KindObject:
		h := p.Object()
		if h.IsNil() {
			return "None"
		}
		return e.objects.Describe(h)
	case meta.KindStruct:
		var parts []string
		for sf := range f.Struct.Walk(meta.ParentFirst) {
			parts = append(parts, sf.Text+"="+e.FormatValue(sf, p.At(sf, 0)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case meta.KindArray:
		if meta.ArrayLen(p) == 0 {
			return "[]"
		}
		a := p.Array(f.Elem)
		parts := make([]string, a.Len())
		for i := range a.Len() {
			parts[i] = e.FormatValue(f.Elem, a.Index(i))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case meta.KindMap:
		m := p.Map(f.Key, f.Elem)
		parts := make([]string, m.Len())
		for i := range m.Len() {
			k, v := m.Entry(i)
			parts[i] = e.FormatValue(f.Key, k) + ": " + e.FormatValue(f.Elem, v)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "?"
}
