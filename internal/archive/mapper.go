package archive

import (
	"objcore/internal/handle"
	"objcore/internal/ident"
)

// Passthrough writes names as raw identifier IDs and objects as raw handles.
// Only valid within one process: the transient archives used for deep copies
// and size probing.
type Passthrough struct{}

func (Passthrough) Name(ar *Archive, n *ident.Name) {
	id := uint32(n.ID)
	ar.SerializeU32(&id)
	ar.SerializeU32(&n.Number)
	if ar.IsLoading() {
		n.ID = ident.ID(id)
	}
}

func (Passthrough) Object(ar *Archive, h *handle.Handle) {
	v := uint64(*h)
	ar.SerializeU64(&v)
	if ar.IsLoading() {
		*h = handle.Handle(v)
	}
}

// TextNames writes names as their text so digests do not depend on the
// order identifiers were interned in. Objects are written through Objects
// when set, else as raw handles.
type TextNames struct {
	Names   *ident.Table
	Objects func(ar *Archive, h *handle.Handle)
}

func (m TextNames) Name(ar *Archive, n *ident.Name) {
	s := m.Names.Resolve(n.ID)
	ar.SerializeString(&s)
	ar.SerializeU32(&n.Number)
	if ar.IsLoading() {
		n.ID = m.Names.Intern(s)
	}
}

func (m TextNames) Object(ar *Archive, h *handle.Handle) {
	if m.Objects != nil {
		m.Objects(ar, h)
		return
	}
	Passthrough{}.Object(ar, h)
}
