package linker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"objcore/internal/handle"
	"objcore/internal/ident"
	"objcore/internal/meta"
	"objcore/internal/object"
)

// Well-known type names. Containers refer to types through imports of
// class objects named after the type, of class "Class", inside a native
// package named after the type's package.
const (
	PackageTypeName = "Package"
	ClassTypeName   = "Class"
)

// Env is the state loaders and savers share: identifiers, types, the object
// table and the set of open loaders. One Env belongs to one owning
// goroutine.
type Env struct {
	Names    *ident.Table
	Types    *meta.Registry
	Objects  *object.Table
	Resolver *Resolver

	PackageType *meta.Type
	ClassType   *meta.Type

	classes map[*meta.Type]handle.Handle
	natives map[ident.ID]handle.Handle
	loaders map[ident.ID]*Loader
}

// NewEnv registers the bootstrap types (Package, Class) and returns an env
// resolving containers through resolver (nil resolves nothing from disk).
func NewEnv(types *meta.Registry, objects *object.Table, resolver *Resolver) (*Env, error) {
	pkgType, err := types.Register(meta.TypeDecl{Name: PackageTypeName, Package: meta.DefaultPackage})
	if err != nil {
		return nil, err
	}
	classType, err := types.Register(meta.TypeDecl{Name: ClassTypeName, Package: meta.DefaultPackage})
	if err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = &Resolver{}
	}
	return &Env{
		Names:       types.Names(),
		Types:       types,
		Objects:     objects,
		Resolver:    resolver,
		PackageType: pkgType,
		ClassType:   classType,
		classes:     make(map[*meta.Type]handle.Handle),
		natives:     make(map[ident.ID]handle.Handle),
		loaders:     make(map[ident.ID]*Loader),
	}, nil
}

// NativePackage returns the native package object for a type package,
// creating it on first use.
func (e *Env) NativePackage(name string) (*object.Object, error) {
	id := e.Names.Intern(name)
	if obj := e.Objects.Lookup(e.natives[id]); obj != nil {
		return obj, nil
	}
	obj := e.Objects.Find(handle.Nil, ident.Name{ID: id}, e.PackageType)
	if obj == nil {
		var err error
		obj, err = e.Objects.Construct(object.Spec{
			Type:  e.PackageType,
			Name:  ident.Name{ID: id},
			Flags: object.FlagNative | object.FlagPublic | object.FlagTransient,
		})
		if err != nil {
			return nil, err
		}
	} else {
		obj.Set(object.FlagNative | object.FlagPublic)
	}
	e.natives[id] = obj.Handle
	return obj, nil
}

// Class returns the class object mirroring t, creating it (and its native
// package) on first use.
func (e *Env) Class(t *meta.Type) (*object.Object, error) {
	if obj := e.Objects.Lookup(e.classes[t]); obj != nil {
		return obj, nil
	}
	pkg, err := e.NativePackage(t.Package)
	if err != nil {
		return nil, err
	}
	obj, err := e.Objects.Construct(object.Spec{
		Type:  e.ClassType,
		Outer: pkg.Handle,
		Name:  ident.Name{ID: t.Name},
		Flags: object.FlagNative | object.FlagPublic | object.FlagTransient,
	})
	if err != nil {
		return nil, fmt.Errorf("class object for %s: %w", t.Text, err)
	}
	obj.Class = t
	e.classes[t] = obj.Handle
	return obj, nil
}

// ClassNamed finds the class object for type name inside package pkg.
func (e *Env) ClassNamed(name, pkg string) *object.Object {
	t := e.Types.Lookup(name)
	if t == nil || !strings.EqualFold(t.Package, pkg) {
		return nil
	}
	obj, err := e.Class(t)
	if err != nil {
		return nil
	}
	return obj
}

// typePackage returns the native package object for pkg when some
// registered type lives in it.
func (e *Env) typePackage(pkg string) *object.Object {
	for _, t := range e.Types.Types() {
		if strings.EqualFold(t.Package, pkg) {
			obj, err := e.NativePackage(t.Package)
			if err != nil {
				return nil
			}
			return obj
		}
	}
	return nil
}

// CreatePackage finds or creates the top-level package object name.
func (e *Env) CreatePackage(name string) (*object.Object, error) {
	n := e.Names.Name(name)
	if obj := e.Objects.Find(handle.Nil, n, e.PackageType); obj != nil {
		return obj, nil
	}
	return e.Objects.Construct(object.Spec{Type: e.PackageType, Name: n, Flags: object.FlagPublic})
}

// Loader returns the open loader for package name, if any. A loader whose
// package object is gone is closed here and not returned.
func (e *Env) Loader(name string) *Loader {
	id, ok := e.Names.Find(name)
	if !ok {
		return nil
	}
	l := e.loaders[id]
	if l != nil && !e.Objects.Valid(l.root) {
		_ = l.Detach()
		return nil
	}
	return l
}

// Loaders returns the open loaders.
func (e *Env) Loaders() []*Loader {
	out := make([]*Loader, 0, len(e.loaders))
	for _, l := range e.loaders {
		out = append(out, l)
	}
	return out
}

// LoaderOf returns the loader an object was materialized from.
func (e *Env) LoaderOf(obj *object.Object) *Loader {
	l, _ := obj.Linker.(*Loader)
	return l
}

// DetachObject forgets obj in the loaders. The collector calls this for
// every destroyed object: an export loses its slot, and a package object
// closes the loader it was opened for, so the next load reads the file
// again.
func (e *Env) DetachObject(obj *object.Object) {
	if l := e.LoaderOf(obj); l != nil {
		l.detachExport(obj.LinkerIndex, obj.Handle)
		return
	}
	if obj.Type != e.PackageType || !obj.Outer.IsNil() {
		return
	}
	for _, l := range e.loaders {
		if l.root == obj.Handle {
			// файл открыт только на чтение
			_ = l.Detach()
			return
		}
	}
}

// Resolver locates container files by package name.
type Resolver struct {
	Paths     []string
	Extension string
}

// DefaultExtension is used when a resolver has none.
const DefaultExtension = ".pkg"

func (r *Resolver) ext() string {
	if r.Extension == "" {
		return DefaultExtension
	}
	return r.Extension
}

// Find returns the path of the container for pkg. File names are matched
// case-insensitively, like identifiers.
func (r *Resolver) Find(pkg string) (string, bool) {
	want := pkg + r.ext()
	for _, dir := range r.Paths {
		path := filepath.Join(dir, want)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, true
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if !ent.IsDir() && strings.EqualFold(ent.Name(), want) {
				return filepath.Join(dir, ent.Name()), true
			}
		}
	}
	return "", false
}

// PackageName derives the package name from a container path.
func PackageName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
