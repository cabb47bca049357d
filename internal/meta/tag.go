package meta

import (
	"fmt"

	"objcore/internal/archive"
	"objcore/internal/ident"
)

// Tag precedes every value in tagged serialization.
//
// Layout: name, info byte, [struct name], [size], [array index], value.
// The info byte holds the kind in bits 0..3, a size class in bits 4..6 and
// bit 7 when an array index follows.
type Tag struct {
	Name       ident.Name
	Kind       Kind
	StructName ident.Name
	Size       int32
	ArrayIndex int32
}

const (
	sizeClass1 = iota
	sizeClass2
	sizeClass4
	sizeClass12
	sizeClass16
	sizeClassByte
	sizeClassWord
	sizeClassInt
)

const (
	infoKindMask   = 0x0F
	infoSizeShift  = 4
	infoSizeMask   = 0x70
	infoArrayIndex = 0x80
	maxArrayIndex  = 1<<30 - 1
)

func sizeClassOf(n int32) uint8 {
	switch {
	case n == 1:
		return sizeClass1
	case n == 2:
		return sizeClass2
	case n == 4:
		return sizeClass4
	case n == 12:
		return sizeClass12
	case n == 16:
		return sizeClass16
	case n >= 0 && n <= 0xFF:
		return sizeClassByte
	case n >= 0 && n <= 0xFFFF:
		return sizeClassWord
	}
	return sizeClassInt
}

// Serialize reads or writes the tag. A None name ends the tag list and
// carries nothing else.
func (t *Tag) Serialize(ar *archive.Archive) {
	ar.SerializeName(&t.Name)
	if t.Name.IsNone() || ar.Err() != nil {
		return
	}

	var info uint8
	if ar.IsSaving() {
		info = uint8(t.Kind)&infoKindMask | sizeClassOf(t.Size)<<infoSizeShift
		if t.ArrayIndex != 0 {
			info |= infoArrayIndex
		}
	}
	ar.SerializeU8(&info)
	if ar.IsLoading() {
		t.Kind = Kind(info & infoKindMask)
	}
	if t.Kind == KindStruct {
		ar.SerializeName(&t.StructName)
	}

	switch class := (info & infoSizeMask) >> infoSizeShift; class {
	case sizeClass1:
		t.Size = 1
	case sizeClass2:
		t.Size = 2
	case sizeClass4:
		t.Size = 4
	case sizeClass12:
		t.Size = 12
	case sizeClass16:
		t.Size = 16
	case sizeClassByte:
		b := uint8(t.Size)
		ar.SerializeU8(&b)
		t.Size = int32(b)
	case sizeClassWord:
		w := uint16(t.Size)
		ar.SerializeU16(&w)
		t.Size = int32(w)
	default:
		ar.SerializeI32(&t.Size)
		if t.Size < 0 {
			ar.Fail(fmt.Errorf("%w: tag size %d", archive.ErrNegativeLength, t.Size))
			return
		}
	}

	if info&infoArrayIndex != 0 {
		serializeArrayIndex(ar, &t.ArrayIndex)
	} else if ar.IsLoading() {
		t.ArrayIndex = 0
	}
}

// serializeArrayIndex packs indices below 128 into one byte, below 16384
// into two bytes (marker 10) and the rest into four bytes (marker 11).
func serializeArrayIndex(ar *archive.Archive, idx *int32) {
	if ar.IsSaving() {
		v := *idx
		switch {
		case v < 0 || v > maxArrayIndex:
			ar.Fail(fmt.Errorf("array index %d out of range", v))
		case v < 0x80:
			b := uint8(v)
			ar.SerializeU8(&b)
		case v < 0x4000:
			b := []byte{uint8(v>>8) | 0x80, uint8(v)}
			ar.SerializeRaw(b)
		default:
			b := []byte{uint8(v>>24) | 0xC0, uint8(v >> 16), uint8(v >> 8), uint8(v)}
			ar.SerializeRaw(b)
		}
		return
	}
	var b0 uint8
	ar.SerializeU8(&b0)
	switch {
	case b0&0x80 == 0:
		*idx = int32(b0)
	case b0&0xC0 == 0x80:
		var b1 uint8
		ar.SerializeU8(&b1)
		*idx = int32(b0&0x7F)<<8 | int32(b1)
	default:
		rest := make([]byte, 3)
		ar.SerializeRaw(rest)
		*idx = int32(b0&0x3F)<<24 | int32(rest[0])<<16 | int32(rest[1])<<8 | int32(rest[2])
	}
}
