package object

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"objcore/internal/handle"
	"objcore/internal/ident"
	"objcore/internal/meta"
)

var (
	ErrCollecting = errors.New("object table is being collected")
	ErrNameInUse  = errors.New("object name already in use")
	ErrNoType     = errors.New("object has no type")
	ErrAbstract   = errors.New("cannot construct abstract type")
	ErrOuterCycle = errors.New("object cannot be moved inside itself")
)

// StaleHandleError reports a handle whose slot was freed (and possibly reused).
type StaleHandleError struct {
	Handle  handle.Handle
	Current uint32 // slot generation now, 0 when the slot never existed
}

func (e *StaleHandleError) Error() string {
	if e.Handle.IsNil() {
		return "nil object handle"
	}
	if e.Current == 0 {
		return fmt.Sprintf("invalid object handle %s", e.Handle)
	}
	return fmt.Sprintf("stale object handle %s (slot generation %d)", e.Handle, e.Current)
}

type slot struct {
	gen uint32
	obj *Object
}

type nameKey struct {
	outer handle.Handle
	name  ident.Name
}

// Table is the slot arena of live objects. Freed slots bump their
// generation so old handles stop resolving; slot indices are reused
// through a free list.
//
// The table is not safe for concurrent use. All graph mutation happens on
// one owning goroutine.
type Table struct {
	names *ident.Table
	slots []slot
	free  []uint32
	live  int

	byName map[nameKey]handle.Handle

	pass *Pass
}

// NewTable returns an empty table naming objects through names.
func NewTable(names *ident.Table) *Table {
	return &Table{
		names:  names,
		byName: make(map[nameKey]handle.Handle, 64),
	}
}

// Names returns the identifier table objects are named in.
func (t *Table) Names() *ident.Table { return t.names }

// Len returns the number of live objects.
func (t *Table) Len() int { return t.live }

// Collecting reports whether a collection pass is in progress.
func (t *Table) Collecting() bool { return t.pass != nil }

// Spec describes an object to construct.
type Spec struct {
	Type  *meta.Type
	Outer handle.Handle
	// Name is uniquified from the type name when none.
	Name  ident.Name
	Flags Flags
	// Instance, when set, is used as is instead of a fresh default instance.
	Instance *meta.Block
}

// Construct allocates a slot and a default instance for s.
func (t *Table) Construct(s Spec) (*Object, error) {
	if t.pass != nil {
		return nil, ErrCollecting
	}
	if s.Type == nil {
		return nil, ErrNoType
	}
	if s.Type.Has(meta.TypeAbstract) {
		return nil, fmt.Errorf("%w %s", ErrAbstract, s.Type.Text)
	}
	if !s.Outer.IsNil() {
		if _, err := t.Get(s.Outer); err != nil {
			return nil, fmt.Errorf("outer: %w", err)
		}
	}
	name := s.Name
	if name.IsNone() {
		for {
			name = t.names.MakeUnique(s.Type.Text)
			if _, taken := t.byName[nameKey{s.Outer, name}]; !taken {
				break
			}
		}
	} else if _, taken := t.byName[nameKey{s.Outer, name}]; taken {
		return nil, fmt.Errorf("%w: %s", ErrNameInUse, t.FullName(s.Outer, name))
	}

	inst := s.Instance
	if inst == nil {
		inst = s.Type.New()
	}
	idx, gen := t.alloc()
	obj := &Object{
		Handle:      handle.Make(idx, gen),
		Type:        s.Type,
		Name:        name,
		Outer:       s.Outer,
		Flags:       s.Flags &^ (FlagReachable | FlagPendingDestroy),
		Instance:    inst,
		LinkerIndex: -1,
	}
	t.slots[idx].obj = obj
	t.byName[nameKey{s.Outer, name}] = obj.Handle
	t.live++
	return obj, nil
}

func (t *Table) alloc() (uint32, uint32) {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		return idx, t.slots[idx].gen
	}
	idx, err := safecast.Conv[uint32](len(t.slots))
	if err != nil || idx == math.MaxUint32 {
		panic("object table exhausted")
	}
	t.slots = append(t.slots, slot{gen: 1})
	return idx, 1
}

// Get resolves h, failing with *StaleHandleError when it no longer names a
// live object.
func (t *Table) Get(h handle.Handle) (*Object, error) {
	if h.IsNil() {
		return nil, &StaleHandleError{Handle: h}
	}
	idx := h.Index()
	if int64(idx) >= int64(len(t.slots)) {
		return nil, &StaleHandleError{Handle: h}
	}
	s := t.slots[idx]
	if s.obj == nil || s.gen != h.Generation() {
		return nil, &StaleHandleError{Handle: h, Current: s.gen}
	}
	return s.obj, nil
}

// Lookup is Get without the error.
func (t *Table) Lookup(h handle.Handle) *Object {
	obj, _ := t.Get(h)
	return obj
}

// Valid reports whether h names a live object.
func (t *Table) Valid(h handle.Handle) bool {
	_, err := t.Get(h)
	return err == nil
}

// Release frees the slot of h outside of a collection pass.
func (t *Table) Release(h handle.Handle) error {
	if t.pass != nil {
		return ErrCollecting
	}
	idx, err := t.unlink(h)
	if err != nil {
		return err
	}
	t.free = append(t.free, idx)
	return nil
}

func (t *Table) unlink(h handle.Handle) (uint32, error) {
	obj, err := t.Get(h)
	if err != nil {
		return 0, err
	}
	idx := h.Index()
	key := nameKey{obj.Outer, obj.Name}
	if t.byName[key] == h {
		delete(t.byName, key)
	}
	s := &t.slots[idx]
	s.obj = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.live--
	return idx, nil
}

// Move makes outer the new outer of h; the name stays. The name must be
// free inside outer.
func (t *Table) Move(h, outer handle.Handle) error {
	if t.pass != nil {
		return ErrCollecting
	}
	obj, err := t.Get(h)
	if err != nil {
		return err
	}
	if obj.Outer == outer {
		return nil
	}
	for o := outer; !o.IsNil(); {
		if o == h {
			return fmt.Errorf("%w: %s", ErrOuterCycle, t.PathName(h))
		}
		next, err := t.Get(o)
		if err != nil {
			return fmt.Errorf("outer: %w", err)
		}
		o = next.Outer
	}
	key := nameKey{outer, obj.Name}
	if _, taken := t.byName[key]; taken {
		return fmt.Errorf("%w: %s", ErrNameInUse, t.FullName(outer, obj.Name))
	}
	if old := (nameKey{obj.Outer, obj.Name}); t.byName[old] == h {
		delete(t.byName, old)
	}
	obj.Outer = outer
	t.byName[key] = h
	return nil
}

// Find returns the object named name inside outer. With typ set the object
// must be of that type or a subtype.
func (t *Table) Find(outer handle.Handle, name ident.Name, typ *meta.Type) *Object {
	h, ok := t.byName[nameKey{outer, name}]
	if !ok {
		return nil
	}
	obj := t.Lookup(h)
	if obj == nil || (typ != nil && !obj.Type.IsA(typ)) {
		return nil
	}
	return obj
}

// FindPath resolves a dotted path ("Pkg.Outer.Name") from the top level.
func (t *Table) FindPath(path []string, typ *meta.Type) *Object {
	var outer handle.Handle
	var obj *Object
	for i, part := range path {
		var want *meta.Type
		if i == len(path)-1 {
			want = typ
		}
		obj = nil
		for _, n := range t.parseName(part) {
			if obj = t.Find(outer, n, want); obj != nil {
				break
			}
		}
		if obj == nil {
			return nil
		}
		outer = obj.Handle
	}
	return obj
}

// All yields live objects in slot order.
func (t *Table) All() iter.Seq[*Object] {
	return func(yield func(*Object) bool) {
		for i := range t.slots {
			if obj := t.slots[i].obj; obj != nil {
				if !yield(obj) {
					return
				}
			}
		}
	}
}

// Inner returns the objects whose outer is h, in slot order.
func (t *Table) Inner(h handle.Handle) []*Object {
	var out []*Object
	for obj := range t.All() {
		if obj.Outer == h {
			out = append(out, obj)
		}
	}
	return out
}

// Outermost returns the top-level object containing h (h itself when it
// has no outer).
func (t *Table) Outermost(h handle.Handle) *Object {
	obj := t.Lookup(h)
	for obj != nil && !obj.Outer.IsNil() {
		next := t.Lookup(obj.Outer)
		if next == nil {
			break
		}
		obj = next
	}
	return obj
}

// PathName renders h as its dotted outer chain.
func (t *Table) PathName(h handle.Handle) string {
	obj := t.Lookup(h)
	if obj == nil {
		return "None"
	}
	var parts []string
	for obj != nil {
		parts = append(parts, t.names.String(obj.Name))
		if obj.Outer.IsNil() {
			break
		}
		obj = t.Lookup(obj.Outer)
	}
	slices.Reverse(parts)
	return strings.Join(parts, ".")
}

// FullName renders the path an object named name inside outer would have.
func (t *Table) FullName(outer handle.Handle, name ident.Name) string {
	if outer.IsNil() {
		return t.names.String(name)
	}
	return t.PathName(outer) + "." + t.names.String(name)
}

// Describe renders "Type Pkg.Outer.Name".
func (t *Table) Describe(h handle.Handle) string {
	obj := t.Lookup(h)
	if obj == nil {
		return h.String() + " (gone)"
	}
	return obj.Type.Text + " " + t.PathName(h)
}

// parseName returns the candidate names text may render: the plain
// identifier and, for "base_N", base with suffix N+1.
func (t *Table) parseName(text string) []ident.Name {
	var out []ident.Name
	if id, ok := t.names.Find(text); ok {
		out = append(out, ident.Name{ID: id})
	}
	i := strings.LastIndexByte(text, '_')
	if i <= 0 || i == len(text)-1 {
		return out
	}
	digits := text[i+1:]
	if len(digits) > 1 && digits[0] == '0' {
		return out
	}
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil || n == math.MaxUint32 {
		return out
	}
	if id, ok := t.names.Find(text[:i]); ok {
		out = append(out, ident.Name{ID: id, Number: uint32(n) + 1})
	}
	return out
}
