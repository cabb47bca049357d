package linker

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"objcore/internal/archive"
	"objcore/internal/diag"
	"objcore/internal/handle"
	"objcore/internal/ident"
	"objcore/internal/meta"
	"objcore/internal/object"
	"objcore/internal/trace"
)

// State is the position of a loader in its life cycle.
type State uint8

const (
	StateCreated State = iota
	StateSummaryRead
	StateTablesRead
	StateResolving
	StateLoaded
	StateFailed
	StateDetached
)

var stateNames = [...]string{
	StateCreated:     "created",
	StateSummaryRead: "summary-read",
	StateTablesRead:  "tables-read",
	StateResolving:   "resolving",
	StateLoaded:      "loaded",
	StateFailed:      "failed",
	StateDetached:    "detached",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Minimal on-disk entry sizes, used to reject table counts a file cannot
// possibly hold.
const (
	minNameEntry   = 8
	minImportEntry = 28
	minExportEntry = 32
)

// Loader reads one container. Tables are read eagerly, objects are created
// on demand and their fields read when the session flushes.
type Loader struct {
	env    *Env
	name   string
	path   string
	root   handle.Handle
	closer func() error
	ar     *archive.Archive

	Summary Summary
	// NameMap holds the dictionary entries as interned names; entries
	// excluded by the load context map to None.
	NameMap []ident.Name
	Imports []Import
	Exports []Export

	hash         map[ident.Name][]int
	nameFlags    []uint32
	payloadStart int64
	state        State
	err          error
	context      uint32
	mode         meta.Mode
}

func newLoader(env *Env, name, path string, be archive.Backend, closer func() error, opts Options) *Loader {
	if closer == nil {
		closer = func() error { return nil }
	}
	return &Loader{
		env:    env,
		name:   name,
		path:   path,
		closer: closer,
		ar: archive.NewLoader(be,
			archive.Persistent(),
			archive.ForEdit(opts.ForEdit),
			archive.WithReporter(diag.NopReporter{}, diag.Whole(name)),
		),
		context: opts.context(),
	}
}

// Name is the package name the container holds.
func (l *Loader) Name() string { return l.name }

func (l *Loader) Path() string        { return l.path }
func (l *Loader) Root() handle.Handle { return l.root }
func (l *Loader) State() State        { return l.state }
func (l *Loader) Err() error          { return l.err }
func (l *Loader) Mode() meta.Mode     { return l.mode }
func (l *Loader) Env() *Env           { return l.env }

// PayloadStart is the first byte after the summary and the tables.
func (l *Loader) PayloadStart() int64 { return l.payloadStart }

// Version is the file version the container was written with.
func (l *Loader) Version() archive.Version { return l.ar.Version() }

// tableErr turns a sticky archive error into the loader's format error.
func (l *Loader) tableErr(what string) error {
	err := l.ar.Err()
	if err == nil {
		return nil
	}
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe
	}
	return formatErr(l.name, diag.FmtTruncated, err, "reading %s", what)
}

func (l *Loader) readTables(s *Session) error {
	ctx := s.ctx
	ar := l.ar
	ar.SetMapper(loadMapper{l: l})

	_, span := trace.BeginCtx(ctx, trace.ScopeContainer, "summary")
	err := l.readSummary(s.opts)
	span.End(l.Summary.Version.String())
	if err != nil {
		l.state = StateFailed
		l.err = err
		return err
	}
	l.state = StateSummaryRead

	_, span = trace.BeginCtx(ctx, trace.ScopeContainer, "tables")
	err = l.readNames()
	if err == nil {
		err = l.readImports()
	}
	if err == nil {
		err = l.readExports()
	}
	if err == nil {
		err = l.validate()
	}
	span.End("")
	if err != nil {
		l.state = StateFailed
		l.err = err
		return err
	}

	l.hash = make(map[ident.Name][]int, len(l.Exports))
	for i := range l.Exports {
		n := l.Exports[i].ObjectName
		l.hash[n] = append(l.hash[n], i)
	}
	if l.Summary.PackageFlags&PkgBinary != 0 {
		l.mode = meta.Binary
	}
	l.state = StateTablesRead
	return nil
}

func (l *Loader) readSummary(opts Options) error {
	ar := l.ar
	var tag uint32
	ar.SerializeU32(&tag)
	if err := ar.Err(); err != nil {
		return formatErr(l.name, diag.FmtTruncated, err, "reading tag")
	}
	if tag != Tag {
		if bits.ReverseBytes32(tag) != Tag {
			return formatErr(l.name, diag.FmtBadTag, ErrBadTag, "tag %#08x", tag)
		}
		// записан с другим порядком байт
		ar.SetSwapped(!ar.Swapped())
	}
	ar.Seek(0)
	l.Summary.Serialize(ar)

	v := l.Summary.Version
	if v.File < opts.minVersion() {
		return formatErr(l.name, diag.FmtVersionTooOld, ErrVersionTooOld, "file version %d, oldest readable %d", v.File, opts.minVersion())
	}
	if v.File > archive.CurrentFileVersion {
		return formatErr(l.name, diag.FmtVersionTooNew, ErrVersionTooNew, "file version %d, newest readable %d", v.File, archive.CurrentFileVersion)
	}
	if err := l.tableErr("summary"); err != nil {
		return err
	}
	ar.SetVersion(archive.Version{File: v.File, Licensee: v.Licensee, Net: opts.NetVersion})
	l.payloadStart = ar.Pos()

	size := ar.Len()
	tables := []struct {
		what          string
		count, offset int32
		entry         int64
	}{
		{"names", l.Summary.NameCount, l.Summary.NameOffset, minNameEntry},
		{"imports", l.Summary.ImportCount, l.Summary.ImportOffset, minImportEntry},
		{"exports", l.Summary.ExportCount, l.Summary.ExportOffset, minExportEntry},
	}
	for _, t := range tables {
		if t.count < 0 || t.offset < 0 {
			return formatErr(l.name, diag.FmtTableOutOfRange, ErrTableRange, "%s: count %d at %d", t.what, t.count, t.offset)
		}
		if t.count == 0 {
			continue
		}
		if int64(t.offset) < l.payloadStart || int64(t.offset)+int64(t.count)*t.entry > size {
			return formatErr(l.name, diag.FmtTableOutOfRange, ErrTableRange,
				"%s: %d entries at %d, file is %d bytes", t.what, t.count, t.offset, size)
		}
	}
	return nil
}

// mark extends the payload start past the end of a table.
func (l *Loader) mark() {
	l.payloadStart = max(l.payloadStart, l.ar.Pos())
}

func (l *Loader) readNames() error {
	ar := l.ar
	n := int(l.Summary.NameCount)
	if n == 0 {
		return nil
	}
	ar.Seek(int64(l.Summary.NameOffset))
	l.NameMap = make([]ident.Name, n)
	l.nameFlags = make([]uint32, n)
	for i := range n {
		var e NameEntry
		e.Serialize(ar)
		if ar.Err() != nil {
			break
		}
		l.nameFlags[i] = e.Flags
		if e.Flags&LoadContext != 0 && e.Flags&l.context == 0 {
			continue
		}
		l.NameMap[i] = l.env.Names.Name(e.Text)
	}
	l.mark()
	return l.tableErr("names")
}

func (l *Loader) readImports() error {
	ar := l.ar
	n := int(l.Summary.ImportCount)
	if n == 0 {
		return nil
	}
	ar.Seek(int64(l.Summary.ImportOffset))
	l.Imports = make([]Import, n)
	for i := range l.Imports {
		l.Imports[i].Serialize(ar)
		if ar.Err() != nil {
			break
		}
	}
	l.mark()
	return l.tableErr("imports")
}

func (l *Loader) readExports() error {
	ar := l.ar
	n := int(l.Summary.ExportCount)
	if n == 0 {
		return nil
	}
	ar.Seek(int64(l.Summary.ExportOffset))
	l.Exports = make([]Export, n)
	for i := range l.Exports {
		l.Exports[i].Serialize(ar)
		if ar.Err() != nil {
			break
		}
	}
	l.mark()
	return l.tableErr("exports")
}

// validIndex reports whether idx is null or names an existing table entry.
func (l *Loader) validIndex(idx int32) bool {
	switch {
	case idx > 0:
		return int(idx) <= len(l.Exports)
	case idx < 0:
		return int(-int64(idx)) <= len(l.Imports)
	}
	return true
}

func (l *Loader) badIndex(format string, args ...any) error {
	return formatErr(l.name, diag.FmtBadIndex, ErrBadIndex, format, args...)
}

// validate checks every table index and every export's serial range, so
// that nothing after this point reads outside the tables or the payload.
func (l *Loader) validate() error {
	for i := range l.Imports {
		if o := l.Imports[i].OuterIndex; o > 0 || !l.validIndex(o) {
			return l.badIndex("import %d: outer %d", i, o)
		}
	}
	for i := range l.Exports {
		e := &l.Exports[i]
		for _, idx := range []int32{e.ClassIndex, e.SuperIndex, e.OuterIndex} {
			if !l.validIndex(idx) {
				return l.badIndex("export %d: index %d", i, idx)
			}
		}
		for _, c := range e.Components {
			if c.Export <= 0 || int(c.Export) > len(l.Exports) {
				return l.badIndex("export %d: component %d", i, c.Export)
			}
		}
	}
	for i := range l.Imports {
		steps := 0
		for o := l.Imports[i].OuterIndex; o != 0; o = l.Imports[-o-1].OuterIndex {
			if steps++; steps > len(l.Imports) {
				return l.badIndex("import %d: outer chain loops", i)
			}
		}
	}
	for i := range l.Exports {
		steps := 0
		for o := l.Exports[i].OuterIndex; o > 0; o = l.Exports[o-1].OuterIndex {
			if steps++; steps > len(l.Exports) {
				return l.badIndex("export %d: outer chain loops", i)
			}
		}
	}

	size := l.ar.Len()
	for i := range l.Exports {
		e := &l.Exports[i]
		start := int64(e.SerialOffset)
		end := start + int64(e.SerialSize)
		if e.SerialSize < 0 || start < l.payloadStart || end > size {
			return formatErr(l.name, diag.FmtSerialRange, ErrSerialRange,
				"export %d (%s): bytes [%d, %d), payload is [%d, %d)", i, l.exportPath(i), start, end, l.payloadStart, size)
		}
	}
	return nil
}

// attach registers the loader as the source of its package.
func (l *Loader) attach() error {
	id := l.env.Names.Intern(l.name)
	if other := l.env.loaders[id]; other != nil && other != l {
		return fmt.Errorf("%s: %w (open from %s)", l.name, ErrAlreadyLoaded, other.path)
	}
	pkg, err := l.env.CreatePackage(l.name)
	if err != nil {
		return err
	}
	l.root = pkg.Handle
	l.env.loaders[id] = l
	return nil
}

func (l *Loader) at(i int) diag.Location {
	return diag.At(l.name, i, l.exportPath(i))
}

func (l *Loader) text(n ident.Name) string { return l.env.Names.String(n) }

// GetExportClassName returns the name of export i's type.
func (l *Loader) GetExportClassName(i int) ident.Name {
	ci := l.Exports[i].ClassIndex
	switch {
	case ci < 0:
		return l.Imports[-ci-1].ObjectName
	case ci > 0:
		return l.Exports[ci-1].ObjectName
	}
	return l.env.Names.Name(ClassTypeName)
}

// GetExportClassPackage returns the package of export i's type.
func (l *Loader) GetExportClassPackage(i int) ident.Name {
	ci := l.Exports[i].ClassIndex
	switch {
	case ci < 0:
		imp := &l.Imports[-ci-1]
		for imp.OuterIndex != 0 {
			imp = &l.Imports[-imp.OuterIndex-1]
		}
		return imp.ObjectName
	case ci > 0:
		return l.env.Names.Name(l.name)
	}
	return l.env.Names.Name(meta.DefaultPackage)
}

// exportTypeByName looks export i's type up in the registry without
// resolving any import.
func (l *Loader) exportTypeByName(i int) *meta.Type {
	t := l.env.Types.ByID(l.GetExportClassName(i).ID)
	if t == nil || !strings.EqualFold(t.Package, l.text(l.GetExportClassPackage(i))) {
		return nil
	}
	return t
}

// FindExportIndex returns the export named objectName inside outer (an
// object index of this container, 0 for top level) whose type matches
// className in classPkg, or -1. An export whose type is a subclass of the
// requested type matches when no exact match exists.
func (l *Loader) FindExportIndex(className, classPkg, objectName ident.Name, outer int32) int {
	cands := l.hash[objectName]
	for _, i := range cands {
		if l.Exports[i].OuterIndex != outer {
			continue
		}
		if l.GetExportClassName(i) == className && l.GetExportClassPackage(i).ID == classPkg.ID {
			return i
		}
	}
	want := l.env.Types.ByID(className.ID)
	if want == nil {
		return -1
	}
	for _, i := range cands {
		if l.Exports[i].OuterIndex != outer {
			continue
		}
		if t := l.exportTypeByName(i); t != nil && t.IsA(want) {
			return i
		}
	}
	return -1
}

// IndexToObject maps a stored object index to a live handle, creating the
// export or resolving the import on first use.
func (l *Loader) IndexToObject(s *Session, idx int32) handle.Handle {
	switch {
	case idx > 0:
		return l.CreateExport(s, int(idx-1))
	case idx < 0:
		return l.CreateImport(s, int(-idx-1))
	}
	return handle.Nil
}

// CreateExport returns the object for export i, constructing it with its
// type's defaults when it does not exist yet. The object is queued for
// preloading; until then only its type, name and outer are valid.
func (l *Loader) CreateExport(s *Session, i int) handle.Handle {
	if i < 0 || i >= len(l.Exports) || l.state == StateDetached {
		return handle.Nil
	}
	e := &l.Exports[i]
	if l.env.Objects.Valid(e.object) {
		return e.object
	}
	e.object = handle.Nil
	if e.excluded {
		return handle.Nil
	}
	if e.ObjectFlags&LoadContext != 0 && e.ObjectFlags&l.context == 0 {
		e.excluded = true
		s.report(diag.RefContextExcluded, diag.SevInfo, l.at(i), "not loaded in this context")
		return handle.Nil
	}

	t := l.exportType(s, i)
	if t == nil {
		e.excluded = true
		s.report(diag.RefMissingType, diag.SevError, l.at(i),
			fmt.Sprintf("type %s.%s is not registered", l.text(l.GetExportClassPackage(i)), l.text(l.GetExportClassName(i))))
		return handle.Nil
	}
	outer := l.root
	if e.OuterIndex != 0 {
		outer = l.IndexToObject(s, e.OuterIndex)
		if outer.IsNil() {
			return handle.Nil
		}
		// создание outer могло рекурсивно создать и этот экспорт
		if l.env.Objects.Valid(e.object) {
			return e.object
		}
	}

	flags := object.Flags(e.ObjectFlags)&object.Persisted | object.FlagNeedLoad
	obj := l.env.Objects.Find(outer, e.ObjectName, nil)
	switch {
	case obj == nil:
		var err error
		obj, err = l.env.Objects.Construct(object.Spec{Type: t, Outer: outer, Name: e.ObjectName, Flags: flags})
		if err != nil {
			s.report(diag.RefMissingType, diag.SevError, l.at(i), err.Error())
			e.excluded = true
			return handle.Nil
		}
	case obj.Type == t && obj.Linker == nil:
		// объект уже есть в памяти: перечитываем его из контейнера
		obj.Instance = t.New()
		obj.Set(flags)
	default:
		s.report(diag.RefMissingExport, diag.SevError, l.at(i),
			fmt.Sprintf("%s already exists as %s", l.exportPath(i), l.env.Objects.Describe(obj.Handle)))
		e.excluded = true
		return handle.Nil
	}
	obj.Linker = l
	obj.LinkerIndex = i
	e.object = obj.Handle
	s.enqueue(obj.Handle)
	return obj.Handle
}

// exportType resolves the class object referenced by export i.
func (l *Loader) exportType(s *Session, i int) *meta.Type {
	ci := l.Exports[i].ClassIndex
	if ci == 0 {
		return nil
	}
	obj := l.env.Objects.Lookup(l.IndexToObject(s, ci))
	if obj == nil {
		return nil
	}
	return obj.Class
}

// CreateImport resolves import i. A failed resolution is reported once and
// cached for the life of the loader.
func (l *Loader) CreateImport(s *Session, i int) handle.Handle {
	if i < 0 || i >= len(l.Imports) {
		return handle.Nil
	}
	imp := &l.Imports[i]
	if imp.resolved {
		if l.env.Objects.Valid(imp.object) {
			return imp.object
		}
		// объект собран сборщиком: разрешаем заново
		imp.resolved, imp.object, imp.source, imp.sourceIndex = false, handle.Nil, nil, -1
	}
	if imp.missing {
		return handle.Nil
	}
	if imp.resolving {
		s.report(diag.RefCycle, diag.SevError, diag.Whole(l.name), "import cycle through "+l.ImportFullName(i))
		return handle.Nil
	}
	imp.resolving = true
	h := l.resolveImport(s, i)
	imp.resolving = false
	if h.IsNil() {
		imp.missing = true
		return handle.Nil
	}
	imp.object, imp.resolved = h, true
	return h
}

func (l *Loader) resolveImport(s *Session, i int) handle.Handle {
	imp := &l.Imports[i]
	names := l.env.Names
	loc := diag.Whole(l.name)

	if imp.OuterIndex == 0 {
		pkgName := names.String(imp.ObjectName)
		if !strings.EqualFold(names.Resolve(imp.ClassName.ID), PackageTypeName) {
			s.report(diag.RefMissingExport, diag.SevError, loc, l.ImportFullName(i)+" is not inside a package")
			return handle.Nil
		}
		src, err := s.Package(pkgName)
		if err == nil {
			imp.source = src
			return src.root
		}
		if obj := l.env.Objects.Find(handle.Nil, imp.ObjectName, l.env.PackageType); obj != nil {
			return obj.Handle
		}
		if obj := l.env.typePackage(pkgName); obj != nil {
			return obj.Handle
		}
		msg := fmt.Sprintf("package %s (needed by %s)", pkgName, l.name)
		if !errors.Is(err, ErrNotFound) {
			msg += ": " + err.Error()
		}
		s.report(diag.RefMissingContainer, diag.SevError, loc, msg)
		return handle.Nil
	}

	outerIdx := int(-imp.OuterIndex - 1)
	outerImp := &l.Imports[outerIdx]

	// классы всегда нативные
	if strings.EqualFold(names.Resolve(imp.ClassName.ID), ClassTypeName) && outerImp.OuterIndex == 0 {
		if obj := l.env.ClassNamed(names.Resolve(imp.ObjectName.ID), names.Resolve(outerImp.ObjectName.ID)); obj != nil {
			return obj.Handle
		}
	}

	outer := l.CreateImport(s, outerIdx)
	if outer.IsNil() {
		return handle.Nil
	}
	if src := outerImp.source; src != nil && src.state != StateDetached {
		var within int32
		if outerImp.sourceIndex >= 0 {
			within = int32(outerImp.sourceIndex + 1)
		}
		if k := src.FindExportIndex(imp.ClassName, imp.ClassPackage, imp.ObjectName, within); k >= 0 {
			if src.Exports[k].ObjectFlags&uint32(object.FlagPublic) == 0 {
				s.report(diag.RefNotPublic, diag.SevError, loc,
					fmt.Sprintf("%s is private to %s", l.ImportFullName(i), src.name))
				return handle.Nil
			}
			if h := src.CreateExport(s, k); !h.IsNil() {
				imp.source, imp.sourceIndex = src, k
				return h
			}
		}
	}

	var typ *meta.Type
	if t := l.env.Types.ByID(imp.ClassName.ID); t != nil {
		typ = t
	}
	if obj := l.env.Objects.Find(outer, imp.ObjectName, typ); obj != nil {
		if !obj.Has(object.FlagPublic) {
			s.report(diag.RefNotPublic, diag.SevError, loc, l.ImportFullName(i)+" is not public")
			return handle.Nil
		}
		return obj.Handle
	}
	s.report(diag.RefMissingExport, diag.SevError, loc, l.ImportFullName(i)+" not found")
	return handle.Nil
}

// preload reads the fields of an export created by this loader.
func (l *Loader) preload(ctx context.Context, s *Session, obj *object.Object) {
	obj.Clear(object.FlagNeedLoad)
	i := obj.LinkerIndex
	if l.state == StateFailed || l.state == StateDetached || i < 0 || i >= len(l.Exports) || l.Exports[i].object != obj.Handle {
		return
	}
	e := &l.Exports[i]
	_, span := trace.BeginCtx(ctx, trace.ScopeObject, "preload "+l.exportPath(i))

	obj.Set(object.FlagPreloading)
	defer obj.Clear(object.FlagPreloading)
	if obj.Instance == nil {
		obj.Instance = obj.Type.New()
	}

	start := int64(e.SerialOffset)
	l.ar.SetMapper(loadMapper{l: l, s: s})
	l.ar.SetReporter(s.reporter)
	l.ar.SetLocation(l.at(i))
	// чтение не выходит за пределы сериализованных байтов экспорта
	ar := l.ar.Window(start, int64(e.SerialSize))
	ar.Seek(start)
	meta.SerializeInstance(ar, obj.Type, obj.Instance, l.mode)

	if err := ar.Err(); err != nil {
		var fe *FormatError
		if !errors.As(err, &fe) {
			var km *meta.KindMismatchError
			code := diag.FmtTruncated
			switch {
			case errors.As(err, &km):
				code = diag.FieldKindMismatch
			case errors.Is(err, archive.ErrPastWindow):
				code, err = diag.FmtSerialSize, fmt.Errorf("%w: %w", ErrSerialSize, err)
			}
			fe = formatErr(l.name, code, err, "export %d (%s)", i, l.exportPath(i))
		}
		l.fail(s, fe)
		span.End("failed")
		return
	}
	if got := ar.Pos() - start; got != int64(e.SerialSize) {
		l.fail(s, formatErr(l.name, diag.FmtSerialSize, ErrSerialSize,
			"export %d (%s): read %d bytes, stored %d", i, l.exportPath(i), got, e.SerialSize))
		span.End("failed")
		return
	}
	span.End("")
}

// fail records the loader's fatal error and stops further reads.
func (l *Loader) fail(s *Session, err error) {
	if l.err != nil {
		return
	}
	l.err = err
	l.state = StateFailed
	s.reportErr(l, err)
}

// LoadAllObjects creates every export. Fields are read on the session's
// next Flush.
func (l *Loader) LoadAllObjects(s *Session) {
	if l.state == StateFailed || l.state == StateDetached {
		return
	}
	l.state = StateResolving
	for i := range l.Exports {
		l.CreateExport(s, i)
	}
}

// Detach forgets every export this loader created, drops it from the env
// and closes the container file. The objects stay alive.
func (l *Loader) Detach() error {
	if l.state == StateDetached {
		return nil
	}
	for i := range l.Exports {
		e := &l.Exports[i]
		if obj := l.env.Objects.Lookup(e.object); obj != nil && obj.Linker == l {
			obj.Detach()
			obj.Clear(object.FlagNeedLoad | object.FlagPreloading)
		}
		e.object = handle.Nil
	}
	for _, other := range l.env.loaders {
		for i := range other.Imports {
			if other.Imports[i].source == l {
				other.Imports[i].source, other.Imports[i].sourceIndex = nil, -1
			}
		}
	}
	if id, ok := l.env.Names.Find(l.name); ok && l.env.loaders[id] == l {
		delete(l.env.loaders, id)
	}
	l.state = StateDetached
	return l.closer()
}

// detachExport forgets export i when it still maps to h.
func (l *Loader) detachExport(i int, h handle.Handle) {
	if i >= 0 && i < len(l.Exports) && l.Exports[i].object == h {
		l.Exports[i].object = handle.Nil
	}
}

// exportPath renders "Pkg.Outer.Name" for export i.
func (l *Loader) exportPath(i int) string {
	var parts []string
	idx := int32(i + 1)
	for steps := 0; idx != 0 && steps <= len(l.Exports)+len(l.Imports); steps++ {
		if idx > 0 {
			e := &l.Exports[idx-1]
			parts = append(parts, l.text(e.ObjectName))
			idx = e.OuterIndex
			if idx == 0 {
				parts = append(parts, l.name)
			}
			continue
		}
		return l.importPath(int(-idx-1)) + "." + joinReversed(parts)
	}
	return joinReversed(parts)
}

// importPath renders "Pkg.Outer.Name" for import i.
func (l *Loader) importPath(i int) string {
	var parts []string
	idx := int32(-i - 1)
	for steps := 0; idx < 0 && steps <= len(l.Imports); steps++ {
		imp := &l.Imports[-idx-1]
		parts = append(parts, l.text(imp.ObjectName))
		idx = imp.OuterIndex
	}
	return joinReversed(parts)
}

func joinReversed(parts []string) string {
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
		if i > 0 {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// ExportFullName renders "Class Pkg.Outer.Name" for export i.
func (l *Loader) ExportFullName(i int) string {
	return l.text(l.GetExportClassName(i)) + " " + l.exportPath(i)
}

// ImportFullName renders "Class Pkg.Outer.Name" for import i.
func (l *Loader) ImportFullName(i int) string {
	return l.text(l.Imports[i].ClassName) + " " + l.importPath(i)
}

// loadMapper decodes table indices. Without a session object references
// are validated but not resolved.
type loadMapper struct {
	l *Loader
	s *Session
}

func (m loadMapper) Name(ar *archive.Archive, n *ident.Name) {
	var idx int32
	var num uint32
	ar.SerializeI32(&idx)
	ar.SerializeU32(&num)
	if ar.Err() != nil {
		*n = ident.NoneName
		return
	}
	if idx < 0 || int(idx) >= len(m.l.NameMap) {
		ar.Fail(formatErr(m.l.name, diag.FmtBadName, ErrBadName, "name index %d of %d", idx, len(m.l.NameMap)))
		*n = ident.NoneName
		return
	}
	*n = ident.Name{ID: m.l.NameMap[idx].ID, Number: num}
}

func (m loadMapper) Object(ar *archive.Archive, h *handle.Handle) {
	var idx int32
	ar.SerializeI32(&idx)
	*h = handle.Nil
	if ar.Err() != nil {
		return
	}
	if !m.l.validIndex(idx) {
		ar.Fail(formatErr(m.l.name, diag.FmtBadIndex, ErrBadIndex, "object index %d", idx))
		return
	}
	if m.s != nil {
		*h = m.l.IndexToObject(m.s, idx)
	}
}
