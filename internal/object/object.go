package object

import (
	"strings"

	"objcore/internal/handle"
	"objcore/internal/ident"
	"objcore/internal/meta"
)

// Flags are the per-object state bits kept in the table.
type Flags uint32

const (
	// FlagReachable is set by the collector's mark phase and cleared after sweep.
	FlagReachable Flags = 1 << iota
	// FlagPublic objects may be imported by other containers.
	FlagPublic
	// FlagStandalone objects are saved even when nothing references them.
	FlagStandalone
	// FlagPendingDestroy is set on objects the current sweep is destroying.
	FlagPendingDestroy
	// FlagTransient objects are never written to a container.
	FlagTransient
	// FlagNative objects are created by code (classes, native packages) and
	// always kept alive.
	FlagNative
	// FlagRoot objects were added to the application root set.
	FlagRoot
	// FlagNeedLoad marks a materialized export whose fields are not read yet.
	FlagNeedLoad
	// FlagPreloading is set while the export's fields are being read.
	FlagPreloading
	// FlagEditorOnly objects are only loaded for editing.
	FlagEditorOnly
)

// Persisted is the subset of flags stored in export records.
const Persisted = FlagPublic | FlagStandalone | FlagEditorOnly

// KeepAlive objects are collector roots regardless of references.
const KeepAlive = FlagNative | FlagRoot

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagReachable, "reachable"},
	{FlagPublic, "public"},
	{FlagStandalone, "standalone"},
	{FlagPendingDestroy, "pending_destroy"},
	{FlagTransient, "transient"},
	{FlagNative, "native"},
	{FlagRoot, "root"},
	{FlagNeedLoad, "need_load"},
	{FlagPreloading, "preloading"},
	{FlagEditorOnly, "editor_only"},
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Source is the container an object was materialized from.
type Source interface {
	Name() string
}

// Object is one table entry.
type Object struct {
	Handle handle.Handle
	Type   *meta.Type
	Name   ident.Name
	Outer  handle.Handle
	Flags  Flags

	// Instance holds field values; nil for objects without storage.
	Instance *meta.Block
	// Class is the described type when this object is a class object.
	Class *meta.Type

	// Linker and LinkerIndex are set for objects loaded from a container
	// and cleared on detach.
	Linker      Source
	LinkerIndex int
}

func (o *Object) Has(f Flags) bool { return o.Flags&f != 0 }
func (o *Object) Set(f Flags)      { o.Flags |= f }
func (o *Object) Clear(f Flags)    { o.Flags &^= f }

// Root returns the instance's root place.
func (o *Object) Root() meta.Place {
	if o.Instance == nil {
		return meta.Place{}
	}
	return o.Instance.Root()
}

// Detach forgets the source container.
func (o *Object) Detach() {
	o.Linker = nil
	o.LinkerIndex = -1
}
