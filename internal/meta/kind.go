package meta

import (
	"fmt"
	"strings"
)

// Kind discriminates field storage. The value is written in the low nibble
// of a property tag, so it must stay below 16 and never be renumbered.
type Kind uint8

const (
	KindNone Kind = iota
	KindByte
	KindInt32
	KindBool
	KindFloat32
	KindObject
	KindName
	KindString
	KindStruct
	KindArray
	KindMap
	KindUint32
	KindInt64
	KindFloat64
	kindCount
)

var kindNames = [...]string{
	KindNone:    "none",
	KindByte:    "byte",
	KindInt32:   "int32",
	KindBool:    "bool",
	KindFloat32: "float32",
	KindObject:  "object",
	KindName:    "name",
	KindString:  "string",
	KindStruct:  "struct",
	KindArray:   "array",
	KindMap:     "map",
	KindUint32:  "uint32",
	KindInt64:   "int64",
	KindFloat64: "float64",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Valid reports whether k names a storable kind.
func (k Kind) Valid() bool { return k > KindNone && k < kindCount }

// ParseKind accepts the lower-case names used in declaration files plus a
// few aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "byte", "uint8":
		return KindByte, nil
	case "int32", "int":
		return KindInt32, nil
	case "bool":
		return KindBool, nil
	case "float32", "float":
		return KindFloat32, nil
	case "object", "ref":
		return KindObject, nil
	case "name":
		return KindName, nil
	case "string", "str":
		return KindString, nil
	case "struct":
		return KindStruct, nil
	case "array":
		return KindArray, nil
	case "map":
		return KindMap, nil
	case "uint32":
		return KindUint32, nil
	case "int64":
		return KindInt64, nil
	case "float64", "double":
		return KindFloat64, nil
	}
	return KindNone, fmt.Errorf("unknown field kind %q", s)
}

// slotSize is the in-block size of one element of k. Struct sizes come from
// the struct type.
func (k Kind) slotSize() int {
	switch k {
	case KindByte, KindBool:
		return 1
	case KindInt32, KindUint32, KindFloat32, KindString, KindArray, KindMap:
		return 4
	case KindInt64, KindFloat64, KindName, KindObject:
		return 8
	}
	return 0
}

func (k Kind) align() int {
	switch k {
	case KindInt64, KindFloat64, KindName, KindObject:
		return 8
	}
	return k.slotSize()
}

// auxiliary kinds keep their payload outside the byte layout.
func (k Kind) auxiliary() bool {
	return k == KindString || k == KindArray || k == KindMap
}

// UnmarshalText lets declaration files spell kinds as strings.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
