package meta

import (
	"encoding/binary"
	"math"

	"objcore/internal/handle"
	"objcore/internal/ident"
)

// Block is the storage of one instance: a fixed byte layout plus side slots
// for variable-size values. A 4-byte slot of an auxiliary kind holds the
// aux index plus one, or zero when the value was never set.
type Block struct {
	data []byte
	aux  []any
}

// NewBlock returns a zeroed block of size bytes.
func NewBlock(size int) *Block {
	return &Block{data: make([]byte, size)}
}

// Len is the size of the byte layout.
func (b *Block) Len() int { return len(b.data) }

// Root addresses the start of b.
func (b *Block) Root() Place { return Place{b: b} }

// Clone deep-copies b including strings, arrays and maps.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	out := &Block{data: make([]byte, len(b.data))}
	copy(out.data, b.data)
	if len(b.aux) > 0 {
		out.aux = make([]any, len(b.aux))
		for i, v := range b.aux {
			out.aux[i] = cloneAux(v)
		}
	}
	return out
}

func cloneAux(v any) any {
	switch x := v.(type) {
	case *ArrayValue:
		return x.clone()
	case *MapValue:
		return x.clone()
	}
	return v
}

// Place addresses one value inside a block.
type Place struct {
	b   *Block
	off int
}

// Valid reports whether p addresses a block.
func (p Place) Valid() bool { return p.b != nil }

// Block returns the block p points into.
func (p Place) Block() *Block { return p.b }

// Offset returns the byte offset inside the block.
func (p Place) Offset() int { return p.off }

// At addresses element i of field f of the struct or instance at p.
func (p Place) At(f *Field, i int) Place {
	return Place{b: p.b, off: p.off + f.Offset + i*f.ElemSize()}
}

func (p Place) bytes(n int) []byte { return p.b.data[p.off : p.off+n] }

var le = binary.LittleEndian

func (p Place) Bool() bool { return p.b.data[p.off] != 0 }
func (p Place) SetBool(v bool) { p.b.data[p.off] = boolByte(v) }
func (p Place) Byte() uint8 { return p.b.data[p.off] }
func (p Place) SetByte(v uint8) {
	p.b.data[p.off] = v
}
func (p Place) Int32() int32 { return int32(le.Uint32(p.bytes(4))) }
func (p Place) SetInt32(v int32) { le.PutUint32(p.bytes(4), uint32(v)) }
func (p Place) Uint32() uint32 { return le.Uint32(p.bytes(4)) }
func (p Place) SetUint32(v uint32) { le.PutUint32(p.bytes(4), v) }
func (p Place) Int64() int64 { return int64(le.Uint64(p.bytes(8))) }
func (p Place) SetInt64(v int64) { le.PutUint64(p.bytes(8), uint64(v)) }
func (p Place) Float32() float32 { return math.Float32frombits(le.Uint32(p.bytes(4))) }
func (p Place) SetFloat32(v float32) { le.PutUint32(p.bytes(4), math.Float32bits(v)) }
func (p Place) Float64() float64 { return math.Float64frombits(le.Uint64(p.bytes(8))) }
func (p Place) SetFloat64(v float64) { le.PutUint64(p.bytes(8), math.Float64bits(v)) }

func (p Place) Name() ident.Name {
	b := p.bytes(8)
	return ident.Name{ID: ident.ID(le.Uint32(b)), Number: le.Uint32(b[4:])}
}

func (p Place) SetName(n ident.Name) {
	b := p.bytes(8)
	le.PutUint32(b, uint32(n.ID))
	le.PutUint32(b[4:], n.Number)
}

func (p Place) Object() handle.Handle { return handle.Handle(le.Uint64(p.bytes(8))) }
func (p Place) SetObject(h handle.Handle) { le.PutUint64(p.bytes(8), uint64(h)) }

func (p Place) auxIndex() int { return int(le.Uint32(p.bytes(4))) - 1 }

func (p Place) auxGet() any {
	i := p.auxIndex()
	if i < 0 || i >= len(p.b.aux) {
		return nil
	}
	return p.b.aux[i]
}

func (p Place) auxSet(v any) {
	if i := p.auxIndex(); i >= 0 && i < len(p.b.aux) {
		p.b.aux[i] = v
		return
	}
	p.b.aux = append(p.b.aux, v)
	le.PutUint32(p.bytes(4), uint32(len(p.b.aux)))
}

// Text returns the string value at p.
func (p Place) Text() string {
	s, _ := p.auxGet().(string)
	return s
}

func (p Place) SetText(s string) {
	if s == "" && p.auxIndex() < 0 {
		return
	}
	p.auxSet(s)
}

// Array returns the dynamic array at p, allocating an empty one described
// by elem on first use.
func (p Place) Array(elem *Field) *ArrayValue {
	if a, ok := p.auxGet().(*ArrayValue); ok {
		return a
	}
	a := &ArrayValue{Elem: elem}
	p.auxSet(a)
	return a
}

// Map returns the map at p, allocating an empty one on first use.
func (p Place) Map(key, val *Field) *MapValue {
	if m, ok := p.auxGet().(*MapValue); ok {
		return m
	}
	m := &MapValue{Key: key, Val: val}
	p.auxSet(m)
	return m
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// ArrayValue is a dynamic array. Each element lives at offset 0 of its own
// block so elements can hold strings, structs or nested arrays.
type ArrayValue struct {
	Elem  *Field
	Items []*Block
}

func (a *ArrayValue) Len() int { return len(a.Items) }

// Index addresses element i.
func (a *ArrayValue) Index(i int) Place { return a.Items[i].Root() }

// Append adds a default element and returns its place.
func (a *ArrayValue) Append() Place {
	blk := newElem(a.Elem)
	a.Items = append(a.Items, blk)
	return blk.Root()
}

// Resize grows with default elements or truncates.
func (a *ArrayValue) Resize(n int) {
	if n <= len(a.Items) {
		clear(a.Items[n:])
		a.Items = a.Items[:n]
		return
	}
	for len(a.Items) < n {
		a.Append()
	}
}

func (a *ArrayValue) clone() *ArrayValue {
	out := &ArrayValue{Elem: a.Elem, Items: make([]*Block, len(a.Items))}
	for i, it := range a.Items {
		out.Items[i] = it.Clone()
	}
	return out
}

// MapValue is an insertion-ordered map with keys compared by Equal.
type MapValue struct {
	Key, Val *Field
	Keys     []*Block
	Vals     []*Block
}

func (m *MapValue) Len() int { return len(m.Keys) }

// Entry returns key and value places of entry i.
func (m *MapValue) Entry(i int) (Place, Place) {
	return m.Keys[i].Root(), m.Vals[i].Root()
}

// Find returns the value for a key equal to key.
func (m *MapValue) Find(key Place) (Place, bool) {
	for i, k := range m.Keys {
		if EqualValue(m.Key, k.Root(), key) {
			return m.Vals[i].Root(), true
		}
	}
	return Place{}, false
}

// Put finds or inserts the entry for key; set fills a new key in place.
func (m *MapValue) Put(set func(key Place)) (Place, Place) {
	kb := newElem(m.Key)
	set(kb.Root())
	for i, k := range m.Keys {
		if EqualValue(m.Key, k.Root(), kb.Root()) {
			return m.Keys[i].Root(), m.Vals[i].Root()
		}
	}
	vb := newElem(m.Val)
	m.Keys = append(m.Keys, kb)
	m.Vals = append(m.Vals, vb)
	return kb.Root(), vb.Root()
}

func (m *MapValue) clone() *MapValue {
	out := &MapValue{Key: m.Key, Val: m.Val, Keys: make([]*Block, len(m.Keys)), Vals: make([]*Block, len(m.Vals))}
	for i := range m.Keys {
		out.Keys[i] = m.Keys[i].Clone()
		out.Vals[i] = m.Vals[i].Clone()
	}
	return out
}

// set stores a loaded entry, replacing the value of an equal key.
func (m *MapValue) set(kb, vb *Block) {
	for i, k := range m.Keys {
		if EqualValue(m.Key, k.Root(), kb.Root()) {
			m.Vals[i] = vb
			return
		}
	}
	m.Keys = append(m.Keys, kb)
	m.Vals = append(m.Vals, vb)
}

func newElem(f *Field) *Block {
	if f.Kind == KindStruct {
		return f.Struct.New()
	}
	return NewBlock(f.ElemSize())
}
