package meta

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"objcore/internal/ident"
)

var (
	ErrStructuralChange = errors.New("type re-registered with a different layout")
	ErrUnknownParent    = errors.New("unknown parent type")
	ErrUnknownStruct    = errors.New("unknown struct type")
	ErrInheritanceCycle = errors.New("type dependency cycle")
	ErrOverlap          = errors.New("field byte ranges overlap")
	ErrOutOfBounds      = errors.New("field exceeds instance size")
	ErrDuplicateField   = errors.New("duplicate field name")
	ErrBadField         = errors.New("invalid field declaration")
)

// DefaultPackage holds types that do not name a package.
const DefaultPackage = "Core"

// FieldDecl declares one field. Kind, element and key descriptors and the
// optional default are plain data so declarations can come from files.
type FieldDecl struct {
	Name    string     `toml:"name" yaml:"name"`
	Kind    Kind       `toml:"kind" yaml:"kind"`
	Struct  string     `toml:"struct" yaml:"struct"`
	Elem    *FieldDecl `toml:"elem" yaml:"elem"`
	Key     *FieldDecl `toml:"key" yaml:"key"`
	Dim     int        `toml:"dim" yaml:"dim"`
	Offset  *int       `toml:"offset" yaml:"offset"`
	Flags   []string   `toml:"flags" yaml:"flags"`
	Default any        `toml:"default" yaml:"default"`
}

// TypeDecl declares a type. Size 0 lets the registry compute it.
type TypeDecl struct {
	Name    string      `toml:"name" yaml:"name"`
	Parent  string      `toml:"parent" yaml:"parent"`
	Size    int         `toml:"size" yaml:"size"`
	Package string      `toml:"package" yaml:"package"`
	Flags   []string    `toml:"flags" yaml:"flags"`
	Fields  []FieldDecl `toml:"fields" yaml:"fields"`

	Codec   Codec       `toml:"-" yaml:"-"`
	Destroy func(Place) `toml:"-" yaml:"-"`
}

// Registry owns every registered Type.
type Registry struct {
	mu    sync.RWMutex
	names *ident.Table
	byID  map[ident.ID]*Type
	order []*Type
}

// NewRegistry returns an empty registry interning names in names.
func NewRegistry(names *ident.Table) *Registry {
	return &Registry{names: names, byID: make(map[ident.ID]*Type)}
}

// Names returns the identifier table used for type and field names.
func (r *Registry) Names() *ident.Table { return r.names }

// Lookup finds a type by name, case-insensitively.
func (r *Registry) Lookup(name string) *Type {
	id, ok := r.names.Find(name)
	if !ok {
		return nil
	}
	return r.ByID(id)
}

// ByID finds a type by interned name.
func (r *Registry) ByID(id ident.ID) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Types returns every type in registration order.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// RegisterType registers name with the given parent, instance size (0 for
// computed) and fields.
func (r *Registry) RegisterType(name string, parent *Type, size int, fields []FieldDecl) (*Type, error) {
	d := TypeDecl{Name: name, Size: size, Fields: fields}
	if parent != nil {
		d.Parent = parent.Text
	}
	return r.Register(d)
}

// Register builds and registers d. Registering an existing name again
// returns the existing type when the layout is unchanged.
func (r *Registry) Register(d TypeDecl) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(d)
}

func (r *Registry) registerLocked(d TypeDecl) (*Type, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("%w: empty type name", ErrBadField)
	}
	t, err := r.build(d)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", d.Name, err)
	}
	if prev, ok := r.byID[t.Name]; ok {
		if prev.sig != t.sig {
			return nil, fmt.Errorf("type %s: %w", d.Name, ErrStructuralChange)
		}
		return prev, nil
	}
	r.byID[t.Name] = t
	r.order = append(r.order, t)
	return t, nil
}

// RegisterAll registers declarations parents and struct types first,
// whatever order they are given in.
func (r *Registry) RegisterAll(decls []TypeDecl) ([]*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]int, len(decls))
	for i, d := range decls {
		pending[strings.ToLower(d.Name)] = i
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]uint8, len(decls))
	out := make([]*Type, 0, len(decls))

	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrInheritanceCycle, strings.Join(append(path, decls[i].Name), " -> "))
		}
		state[i] = visiting
		for _, dep := range declDeps(decls[i]) {
			j, ok := pending[strings.ToLower(dep)]
			if !ok {
				continue // must already be registered; build reports it otherwise
			}
			if err := visit(j, append(path, decls[i].Name)); err != nil {
				return err
			}
		}
		t, err := r.registerLocked(decls[i])
		if err != nil {
			return err
		}
		state[i] = done
		out = append(out, t)
		return nil
	}
	for i := range decls {
		if err := visit(i, nil); err != nil {
			return out, err
		}
	}
	return out, nil
}

func declDeps(d TypeDecl) []string {
	var deps []string
	if d.Parent != "" {
		deps = append(deps, d.Parent)
	}
	var walk func(f *FieldDecl)
	walk = func(f *FieldDecl) {
		if f == nil {
			return
		}
		if f.Struct != "" {
			deps = append(deps, f.Struct)
		}
		walk(f.Elem)
		walk(f.Key)
	}
	for i := range d.Fields {
		walk(&d.Fields[i])
	}
	return deps
}

func (r *Registry) build(d TypeDecl) (*Type, error) {
	t := &Type{
		Name:    r.names.Intern(d.Name),
		Text:    d.Name,
		Package: d.Package,
		Codec:   d.Codec,
		Destroy: d.Destroy,
		names:   r.names,
		align:   1,
	}
	for _, s := range d.Flags {
		fl, err := parseTypeFlag(s)
		if err != nil {
			return nil, err
		}
		t.Flags |= fl
	}
	base := 0
	if d.Parent != "" {
		p := r.byID[r.names.Intern(d.Parent)]
		if p == nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownParent, d.Parent)
		}
		t.Parent = p
		t.depth = p.depth + 1
		t.align = p.align
		base = p.Size
		if t.Package == "" {
			t.Package = p.Package
		}
		t.all = slices.Clone(p.all)
	}
	if t.Package == "" {
		t.Package = DefaultPackage
	}

	t.byName = make(map[ident.ID]*Field, len(t.all)+len(d.Fields))
	for _, f := range t.all {
		t.byName[f.Name] = f
	}

	cursor := base
	for i := range d.Fields {
		fd := &d.Fields[i]
		f, err := r.buildField(fd, true)
		if err != nil {
			return nil, err
		}
		if _, dup := t.byName[f.Name]; dup {
			return nil, fmt.Errorf("%w %q", ErrDuplicateField, fd.Name)
		}
		if fd.Offset != nil {
			f.Offset = *fd.Offset
		} else {
			cursor = alignUp(cursor, f.align())
			f.Offset = cursor
		}
		cursor = max(cursor, f.End())
		t.align = max(t.align, f.align())
		f.Owner = t
		f.Index = len(t.all)
		t.Fields = append(t.Fields, f)
		t.all = append(t.all, f)
		t.byName[f.Name] = f
	}

	t.Size = d.Size
	if t.Size == 0 {
		t.Size = alignUp(cursor, t.align)
	}
	if err := validateLayout(t, base); err != nil {
		return nil, err
	}
	for _, f := range t.all {
		t.hasAux = t.hasAux || f.containsAux()
		t.hasRefs = t.hasRefs || f.containsRefs()
	}
	if err := r.buildDefaults(t, d); err != nil {
		return nil, err
	}
	t.sig = typeSignature(t)
	return t, nil
}

func (r *Registry) buildField(fd *FieldDecl, top bool) (*Field, error) {
	if !fd.Kind.Valid() {
		return nil, fmt.Errorf("%w: field %q has no kind", ErrBadField, fd.Name)
	}
	f := &Field{
		Text:     fd.Name,
		Kind:     fd.Kind,
		ArrayDim: max(fd.Dim, 1),
	}
	if top {
		if strings.TrimSpace(fd.Name) == "" {
			return nil, fmt.Errorf("%w: unnamed field", ErrBadField)
		}
		f.Name = r.names.Intern(fd.Name)
	} else if fd.Dim > 1 {
		return nil, fmt.Errorf("%w: element descriptors cannot be fixed arrays", ErrBadField)
	}
	for _, s := range fd.Flags {
		fl, err := ParseFieldFlag(s)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fd.Name, err)
		}
		f.Flags |= fl
	}
	if f.Has(FieldPersist) && f.Has(FieldTransient) {
		return nil, fmt.Errorf("%w: field %q is both persist and transient", ErrBadField, fd.Name)
	}
	switch f.Kind {
	case KindStruct:
		st := r.byID[r.names.Intern(fd.Struct)]
		if fd.Struct == "" || st == nil {
			return nil, fmt.Errorf("%w %q for field %q", ErrUnknownStruct, fd.Struct, fd.Name)
		}
		f.Struct = st
	case KindArray:
		if fd.Elem == nil {
			return nil, fmt.Errorf("%w: array %q needs elem", ErrBadField, fd.Name)
		}
		elem, err := r.buildField(fd.Elem, false)
		if err != nil {
			return nil, err
		}
		f.Elem = elem
	case KindMap:
		if fd.Key == nil || fd.Elem == nil {
			return nil, fmt.Errorf("%w: map %q needs key and elem", ErrBadField, fd.Name)
		}
		key, err := r.buildField(fd.Key, false)
		if err != nil {
			return nil, err
		}
		val, err := r.buildField(fd.Elem, false)
		if err != nil {
			return nil, err
		}
		f.Key, f.Elem = key, val
	}
	if f.Elem != nil {
		f.Elem.Text = f.Text
	}
	if f.Key != nil {
		f.Key.Text = f.Text + ".key"
	}
	return f, nil
}

func validateLayout(t *Type, base int) error {
	own := slices.Clone(t.Fields)
	slices.SortFunc(own, func(a, b *Field) int { return a.Offset - b.Offset })
	prevEnd, prevName := base, "<parent>"
	if t.Parent == nil {
		prevName = ""
	}
	for _, f := range own {
		if f.Offset < 0 || f.End() > t.Size {
			return fmt.Errorf("%w: %s occupies [%d,%d), size %d", ErrOutOfBounds, f.Text, f.Offset, f.End(), t.Size)
		}
		if f.Offset < prevEnd {
			return fmt.Errorf("%w: %s at %d overlaps %s ending at %d", ErrOverlap, f.Text, f.Offset, prevName, prevEnd)
		}
		prevEnd, prevName = f.End(), f.Text
	}
	if t.Parent != nil && t.Size < t.Parent.Size {
		return fmt.Errorf("%w: size %d smaller than parent size %d", ErrOutOfBounds, t.Size, t.Parent.Size)
	}
	return nil
}

func (r *Registry) buildDefaults(t *Type, d TypeDecl) error {
	if t.Parent != nil {
		t.Defaults = t.Parent.Defaults.Clone()
		t.Defaults.data = append(t.Defaults.data, make([]byte, t.Size-len(t.Defaults.data))...)
	} else {
		t.Defaults = NewBlock(t.Size)
	}
	root := t.Defaults.Root()
	for i, f := range t.Fields {
		if f.Kind == KindStruct {
			for j := range f.ArrayDim {
				CopyValue(f, root.At(f, j), f.Struct.Defaults.Root())
			}
		}
		if v := d.Fields[i].Default; v != nil {
			if err := setElements(r.names, f, root, v); err != nil {
				return fmt.Errorf("default of %w", err)
			}
			f.Flags |= FieldHasDefault
		}
	}
	return nil
}

func typeSignature(t *Type) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d#%d", t.Size, t.Flags)
	if t.Parent != nil {
		b.WriteString("<" + strings.ToLower(t.Parent.Text))
	}
	for _, f := range t.Fields {
		b.WriteString(";" + f.signature())
	}
	return b.String()
}

func parseTypeFlag(s string) (TypeFlags, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, fn := range typeFlagNames {
		if fn.name == s {
			return fn.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown type flag %q", s)
}

func alignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}
