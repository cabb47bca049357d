package engine

import (
	"errors"
	"fmt"

	"objcore/internal/archive"
	"objcore/internal/handle"
	"objcore/internal/meta"
	"objcore/internal/object"
)

var ErrNoInstance = errors.New("object has no instance")

// Duplicate copies h into a new object inside outer by writing its
// instance to memory and reading it back. References are copied as is;
// transient fields keep their defaults.
func (e *Engine) Duplicate(h, outer handle.Handle, name string) (*object.Object, error) {
	if e.closed {
		return nil, ErrClosed
	}
	src, err := e.objects.Get(h)
	if err != nil {
		return nil, err
	}
	if src.Instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInstance, e.objects.Describe(h))
	}

	buf := archive.NewMemoryWriter()
	w := archive.NewSaver(buf, archive.ForEdit(true))
	meta.SerializeInstance(w, src.Type, src.Instance, meta.Tagged)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("duplicate %s: %w", e.objects.PathName(h), err)
	}
	inst := src.Type.New()
	r := archive.NewLoader(archive.NewMemoryReader(buf.Bytes()), archive.ForEdit(true))
	meta.SerializeInstance(r, src.Type, inst, meta.Tagged)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("duplicate %s: %w", e.objects.PathName(h), err)
	}

	spec := object.Spec{
		Type:     src.Type,
		Outer:    outer,
		Flags:    src.Flags & (object.Persisted | object.FlagTransient),
		Instance: inst,
	}
	if name != "" {
		spec.Name = e.names.Name(name)
	}
	return e.objects.Construct(spec)
}

// Checksum digests the type and serialized state of h. Names hash by text
// and references by path, so equal objects in different engines agree.
func (e *Engine) Checksum(h handle.Handle) (uint64, error) {
	src, err := e.objects.Get(h)
	if err != nil {
		return 0, err
	}
	if src.Instance == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoInstance, e.objects.Describe(h))
	}
	ck := archive.NewChecksum()
	ar := archive.NewSaver(ck, archive.ForEdit(true), archive.WithMapper(archive.TextNames{
		Names: e.names,
		Objects: func(ar *archive.Archive, ref *handle.Handle) {
			path := e.objects.PathName(*ref)
			ar.SerializeString(&path)
		},
	}))
	typeName := src.Type.Text
	ar.SerializeString(&typeName)
	meta.SerializeInstance(ar, src.Type, src.Instance, meta.Tagged)
	if err := ar.Err(); err != nil {
		return 0, err
	}
	return ck.Sum64(), nil
}
