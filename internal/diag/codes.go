package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// Формат контейнера (фатально для одного линкера)
	FmtInfo            Code = 1000
	FmtBadTag          Code = 1001
	FmtVersionTooOld   Code = 1002
	FmtVersionTooNew   Code = 1003
	FmtTruncated       Code = 1004
	FmtTableOutOfRange Code = 1005
	FmtSerialRange     Code = 1006
	FmtBadIndex        Code = 1007
	FmtBadName         Code = 1008
	FmtSerialSize      Code = 1009
	FmtIO              Code = 1010

	// Разрешение ссылок (не фатально)
	RefInfo             Code = 2000
	RefMissingContainer Code = 2001
	RefMissingExport    Code = 2002
	RefNotPublic        Code = 2003
	RefMissingType      Code = 2004
	RefCycle            Code = 2005
	RefContextExcluded  Code = 2006

	// Декодирование полей
	FieldInfo          Code = 3000
	FieldUnknown       Code = 3001
	FieldKindMismatch  Code = 3002
	FieldArrayBounds   Code = 3003
	FieldStructType    Code = 3004
	FieldNotSerialized Code = 3005

	// Инварианты сборщика
	GCInfo          Code = 4000
	GCStaleRef      Code = 4001
	GCNulledRef     Code = 4002
	GCNotCollecting Code = 4003

	// Сохранение
	SaveInfo            Code = 5000
	SaveTransientRef    Code = 5001
	SaveUnpackagedRef   Code = 5002
	SaveNotSerializable Code = 5003
	SaveIO              Code = 5004
	SaveNameMismatch    Code = 5005
)

var codeDescription = map[Code]string{
	UnknownCode: "Unknown error",

	FmtInfo:            "Container format information",
	FmtBadTag:          "Container tag mismatch",
	FmtVersionTooOld:   "Container version is older than the oldest readable version",
	FmtVersionTooNew:   "Container version is newer than this engine",
	FmtTruncated:       "Container is truncated",
	FmtTableOutOfRange: "Table offset or count out of range",
	FmtSerialRange:     "Export serial range exceeds payload",
	FmtBadIndex:        "Object index out of range",
	FmtBadName:         "Name index out of range",
	FmtSerialSize:      "Export serialized size mismatch",
	FmtIO:              "Container read failed",

	RefInfo:             "Reference resolution information",
	RefMissingContainer: "Import source container not found",
	RefMissingExport:    "Import not found in source container",
	RefNotPublic:        "Import refers to a private export",
	RefMissingType:      "Type of export is not registered",
	RefCycle:            "Container import cycle",
	RefContextExcluded:  "Export excluded by load context",

	FieldInfo:          "Field decoding information",
	FieldUnknown:       "Unknown field skipped",
	FieldKindMismatch:  "Field kind mismatch",
	FieldArrayBounds:   "Field array index out of bounds",
	FieldStructType:    "Field struct type mismatch",
	FieldNotSerialized: "Field is not serializable",

	GCInfo:          "Collector information",
	GCStaleRef:      "Reference to a freed object",
	GCNulledRef:     "Stale reference nulled",
	GCNotCollecting: "Collector invariant violated",

	SaveInfo:            "Save information",
	SaveTransientRef:    "Reference to a transient object dropped",
	SaveUnpackagedRef:   "Reference to an object outside any container dropped",
	SaveNotSerializable: "Object is not serializable",
	SaveIO:              "Container write failed",
	SaveNameMismatch:    "Package name differs from container file name",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("FMT%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("REF%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("FLD%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("GC%04d", ic)
	case ic >= 5000 && ic < 6000:
		return fmt.Sprintf("SAV%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[Code(0)]
	}
	return desc
}

// Fatal reports whether the code belongs to a category that aborts the
// current linker (format errors and field kind mismatches).
func (c Code) Fatal() bool {
	ic := int(c)
	return (ic > 1000 && ic < 2000) || c == FieldKindMismatch
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
