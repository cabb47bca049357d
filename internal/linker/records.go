package linker

import (
	"github.com/google/uuid"

	"objcore/internal/archive"
	"objcore/internal/handle"
	"objcore/internal/ident"
)

// Tag opens every container.
const Tag uint32 = 0x9E2A83C1

// Package flags stored in the summary.
const (
	PkgAllowDownload uint32 = 1 << iota
	PkgCooked
	PkgUnsecure
	// PkgBinary containers store payloads positionally instead of tagged.
	PkgBinary
)

// Load context bits share the export flag word with the persisted object
// flags; names carry them too.
const (
	LoadForEdit uint32 = 1 << (16 + iota)
	LoadForClient
	LoadForServer

	LoadContext = LoadForEdit | LoadForClient | LoadForServer
)

// Generation records the table sizes of one historical save.
type Generation struct {
	ExportCount int32 `json:"exports" msgpack:"exports"`
	NameCount   int32 `json:"names" msgpack:"names"`
}

// Summary is the fixed header at offset 0.
type Summary struct {
	Tag          uint32
	Version      archive.Version
	PackageFlags uint32
	NameCount    int32
	NameOffset   int32
	ExportCount  int32
	ExportOffset int32
	ImportCount  int32
	ImportOffset int32
	GUID         uuid.UUID
	Generations  []Generation
}

// Serialize reads or writes the summary. The GUID and generation history
// only exist from VersionGenerations on.
func (s *Summary) Serialize(ar *archive.Archive) {
	ar.SerializeU32(&s.Tag)
	packed := s.Version.Packed()
	ar.SerializeU32(&packed)
	if ar.IsLoading() {
		s.Version = archive.Unpack(packed)
	}
	ar.SerializeU32(&s.PackageFlags)
	ar.SerializeI32(&s.NameCount)
	ar.SerializeI32(&s.NameOffset)
	ar.SerializeI32(&s.ExportCount)
	ar.SerializeI32(&s.ExportOffset)
	ar.SerializeI32(&s.ImportCount)
	ar.SerializeI32(&s.ImportOffset)
	if !s.Version.AtLeast(archive.VersionGenerations) {
		return
	}
	ar.SerializeRaw(s.GUID[:])
	n := len(s.Generations)
	ar.SerializeLength(&n, 8)
	if ar.IsLoading() {
		if ar.Err() != nil {
			return
		}
		s.Generations = make([]Generation, n)
	}
	for i := range s.Generations {
		ar.SerializeI32(&s.Generations[i].ExportCount)
		ar.SerializeI32(&s.Generations[i].NameCount)
	}
}

// NameEntry is one identifier dictionary entry.
type NameEntry struct {
	Text  string
	Flags uint32
}

func (e *NameEntry) Serialize(ar *archive.Archive) {
	ar.SerializeString(&e.Text)
	ar.SerializeU32(&e.Flags)
}

// Component maps the name of a sub-object to its export index.
type Component struct {
	Name   ident.Name
	Export int32
}

// Export describes an object stored in this container.
type Export struct {
	ClassIndex   int32
	SuperIndex   int32
	OuterIndex   int32
	ObjectName   ident.Name
	ObjectFlags  uint32
	SerialSize   int32
	SerialOffset int32
	Components   []Component

	object   handle.Handle
	excluded bool
}

// Object returns the materialized object, Nil when not created yet.
func (e *Export) Object() handle.Handle { return e.object }

func (e *Export) Serialize(ar *archive.Archive) {
	ar.SerializeI32(&e.ClassIndex)
	ar.SerializeI32(&e.SuperIndex)
	ar.SerializeI32(&e.OuterIndex)
	ar.SerializeName(&e.ObjectName)
	ar.SerializeU32(&e.ObjectFlags)
	ar.SerializeI32(&e.SerialSize)
	ar.SerializeI32(&e.SerialOffset)
	if !ar.Version().AtLeast(archive.VersionComponentMap) {
		return
	}
	n := len(e.Components)
	ar.SerializeLength(&n, 12)
	if ar.IsLoading() {
		if ar.Err() != nil {
			return
		}
		e.Components = make([]Component, n)
	}
	for i := range e.Components {
		ar.SerializeName(&e.Components[i].Name)
		ar.SerializeI32(&e.Components[i].Export)
	}
}

// Import describes an object referenced from another container (or a
// native object) by name.
type Import struct {
	ClassPackage ident.Name
	ClassName    ident.Name
	OuterIndex   int32
	ObjectName   ident.Name

	object      handle.Handle
	source      *Loader
	sourceIndex int
	resolved    bool
	missing     bool
	resolving   bool
}

// Object returns the resolved object, Nil while unresolved or missing.
func (i *Import) Object() handle.Handle { return i.object }

// Missing reports whether resolution failed; the failure is cached.
func (i *Import) Missing() bool { return i.missing }

func (i *Import) Serialize(ar *archive.Archive) {
	ar.SerializeName(&i.ClassPackage)
	ar.SerializeName(&i.ClassName)
	ar.SerializeI32(&i.OuterIndex)
	ar.SerializeName(&i.ObjectName)
	if ar.IsLoading() {
		i.sourceIndex = -1
	}
}
