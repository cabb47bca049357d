package linker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"fortio.org/safecast"
	"github.com/google/uuid"

	"objcore/internal/archive"
	"objcore/internal/diag"
	"objcore/internal/handle"
	"objcore/internal/ident"
	"objcore/internal/meta"
	"objcore/internal/object"
	"objcore/internal/observ"
	"objcore/internal/trace"
)

// Policy selects which objects of a package are written.
type Policy uint8

const (
	// SaveTagged writes public and standalone objects and everything inside
	// the package they reference.
	SaveTagged Policy = iota
	// SaveReachable writes only what is reachable from SaveOptions.Base.
	SaveReachable
	// SaveAll writes every non-transient object inside the package.
	SaveAll
)

func (p Policy) String() string {
	switch p {
	case SaveReachable:
		return "reachable"
	case SaveAll:
		return "all"
	}
	return "tagged"
}

// ParsePolicy maps a policy name to its value.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "tagged":
		return SaveTagged, nil
	case "reachable":
		return SaveReachable, nil
	case "all":
		return SaveAll, nil
	}
	return SaveTagged, fmt.Errorf("unknown save policy %q", s)
}

// SaveOptions tune one save.
type SaveOptions struct {
	Policy Policy
	// Base seeds SaveReachable and is added to the other policies.
	Base []handle.Handle
	// Version is written to the summary; zero means archive.Current.
	Version      archive.Version
	PackageFlags uint32
	Mode         meta.Mode
	// Cook strips editor-only objects and fields.
	Cook bool
	// Conform is the loader of the previous version of the container; its
	// GUID and generation history carry over.
	Conform *Loader
	Bag     *diag.Bag
	Timer   *observ.Timer
}

// SaveState is the position of a save in its life cycle.
type SaveState uint8

const (
	SaveCreated SaveState = iota
	SaveTablesBuilt
	SavePayloadWritten
	SaveClosed
	SaveFailed
)

func (s SaveState) String() string {
	switch s {
	case SaveTablesBuilt:
		return "tables-built"
	case SavePayloadWritten:
		return "payload-written"
	case SaveClosed:
		return "closed"
	case SaveFailed:
		return "failed"
	}
	return "created"
}

// SaveResult describes a written container.
type SaveResult struct {
	Package string    `json:"package" msgpack:"package"`
	Path    string    `json:"path" msgpack:"path"`
	GUID    uuid.UUID `json:"guid" msgpack:"guid"`
	Names   int       `json:"names" msgpack:"names"`
	Imports int       `json:"imports" msgpack:"imports"`
	Exports int       `json:"exports" msgpack:"exports"`
	Size    int64     `json:"size" msgpack:"size"`
	Bag     *diag.Bag `json:"-" msgpack:"-"`
}

// Saver writes one package into one container. Every export and import is
// assigned its table slot before any payload is written, so references in
// the payload are always resolvable.
type Saver struct {
	env  *Env
	pkg  *object.Object
	name string
	opts SaveOptions

	bag      *diag.Bag
	reporter diag.Reporter
	state    SaveState

	exports   []*object.Object
	exportIdx map[handle.Handle]int32
	imports   []Import
	importIdx map[handle.Handle]int32
	names     []ident.ID
	nameIdx   map[ident.ID]int32
	nameFlags []uint32
	records   []Export
	fatal     error
}

// NewSaver prepares a save of the package object pkg.
func NewSaver(env *Env, pkg handle.Handle, opts SaveOptions) (*Saver, error) {
	obj, err := env.Objects.Get(pkg)
	if err != nil {
		return nil, err
	}
	if !obj.Type.IsA(env.PackageType) || !obj.Outer.IsNil() {
		return nil, fmt.Errorf("%s: %w", env.Objects.Describe(pkg), ErrNotPackage)
	}
	bag := opts.Bag
	if bag == nil {
		bag = diag.NewBag(100)
	}
	return &Saver{
		env:       env,
		pkg:       obj,
		name:      env.Names.String(obj.Name),
		opts:      opts,
		bag:       bag,
		reporter:  diag.NewDedupReporter(diag.BagReporter{Bag: bag}),
		exportIdx: make(map[handle.Handle]int32),
		importIdx: make(map[handle.Handle]int32),
		nameIdx:   make(map[ident.ID]int32),
	}, nil
}

func (sv *Saver) State() SaveState { return sv.state }

// Exports returns the objects being written, in table order.
func (sv *Saver) Exports() []*object.Object { return sv.exports }

func (sv *Saver) report(code diag.Code, sev diag.Severity, loc diag.Location, msg string) {
	sv.reporter.Report(code, sev, loc, msg, nil)
}

func (sv *Saver) version() archive.Version {
	if sv.opts.Version.File == 0 {
		return archive.Current
	}
	return sv.opts.Version
}

// contextOf is the load context an object is written for.
func contextOf(obj *object.Object) uint32 {
	if obj.Has(object.FlagEditorOnly) {
		return LoadForEdit
	}
	return LoadContext
}

// inside reports whether obj belongs to the package being saved.
func (sv *Saver) inside(obj *object.Object) bool {
	if obj == nil || obj.Handle == sv.pkg.Handle {
		return false
	}
	top := sv.env.Objects.Outermost(obj.Handle)
	return top != nil && top.Handle == sv.pkg.Handle
}

func (sv *Saver) saveable(obj *object.Object) bool {
	if obj.Has(object.FlagTransient) || obj.Instance == nil {
		return false
	}
	return !(sv.opts.Cook && obj.Has(object.FlagEditorOnly))
}

// tagExports picks the exports: the policy's seeds, then the closure over
// outers and references that stay inside the package.
func (sv *Saver) tagExports() error {
	objs := sv.env.Objects
	seen := make(map[handle.Handle]bool)
	var queue []*object.Object
	push := func(obj *object.Object) {
		if obj == nil || seen[obj.Handle] || !sv.inside(obj) || !sv.saveable(obj) {
			return
		}
		seen[obj.Handle] = true
		queue = append(queue, obj)
	}

	if sv.opts.Policy != SaveReachable {
		for obj := range objs.All() {
			if sv.opts.Policy == SaveAll || obj.Has(object.FlagPublic|object.FlagStandalone) {
				push(obj)
			}
		}
	}
	for _, h := range sv.opts.Base {
		obj := objs.Lookup(h)
		if obj != nil && !sv.inside(obj) {
			return fmt.Errorf("%s: %w %s", objs.Describe(h), ErrNotPackage, sv.name)
		}
		push(obj)
	}
	for i := 0; i < len(queue); i++ {
		obj := queue[i]
		if obj.Outer != sv.pkg.Handle {
			push(objs.Lookup(obj.Outer))
		}
		for _, h := range meta.Refs(obj.Type, obj.Root()) {
			push(objs.Lookup(h))
		}
	}
	if len(queue) == 0 {
		return fmt.Errorf("%s: %w", sv.name, ErrNothingToExport)
	}
	slices.SortFunc(queue, func(a, b *object.Object) int {
		return int(a.Handle.Index()) - int(b.Handle.Index())
	})
	sv.exports = queue
	for i, obj := range queue {
		sv.exportIdx[obj.Handle] = int32(i + 1)
	}
	return nil
}

func (sv *Saver) useName(id ident.ID, ctx uint32) {
	if i, ok := sv.nameIdx[id]; ok {
		sv.nameFlags[i] |= ctx
		return
	}
	sv.nameIdx[id] = int32(len(sv.names))
	sv.names = append(sv.names, id)
	sv.nameFlags = append(sv.nameFlags, ctx)
}

func (sv *Saver) useText(text string, ctx uint32) ident.Name {
	n := sv.env.Names.Name(text)
	sv.useName(n.ID, ctx)
	return n
}

// addImport assigns obj (and its outer chain) an import slot and returns
// its object index.
func (sv *Saver) addImport(obj *object.Object) int32 {
	if idx, ok := sv.importIdx[obj.Handle]; ok {
		return idx
	}
	imp := Import{ObjectName: obj.Name, sourceIndex: -1}
	if outer := sv.env.Objects.Lookup(obj.Outer); outer != nil {
		imp.OuterIndex = sv.addImport(outer)
	}
	imp.ClassPackage = sv.useText(obj.Type.Package, LoadContext)
	imp.ClassName = ident.Name{ID: obj.Type.Name}
	sv.useName(imp.ClassName.ID, LoadContext)
	sv.useName(imp.ObjectName.ID, LoadContext)
	sv.imports = append(sv.imports, imp)
	idx := -int32(len(sv.imports))
	sv.importIdx[obj.Handle] = idx
	return idx
}

// classify decides how a reference from export holder is written.
func (sv *Saver) classify(holder int, h handle.Handle) {
	if h.IsNil() {
		return
	}
	if _, ok := sv.exportIdx[h]; ok {
		return
	}
	if _, ok := sv.importIdx[h]; ok {
		return
	}
	objs := sv.env.Objects
	loc := sv.at(holder)
	obj := objs.Lookup(h)
	switch {
	case obj == nil:
		sv.report(diag.GCStaleRef, diag.SevWarning, loc, "reference to a freed object "+h.String()+" written as None")
	case sv.inside(obj) || obj.Handle == sv.pkg.Handle:
		// transient или вырезанный объект своего пакета
		sv.report(diag.SaveTransientRef, diag.SevWarning, loc, objs.Describe(h)+" is not saved, reference dropped")
	case obj.Has(object.FlagTransient) && !obj.Has(object.FlagPublic):
		sv.report(diag.SaveTransientRef, diag.SevWarning, loc, objs.Describe(h)+" is transient, reference dropped")
	default:
		top := objs.Outermost(h)
		if !top.Type.IsA(sv.env.PackageType) {
			sv.report(diag.SaveUnpackagedRef, diag.SevWarning, loc, objs.Describe(h)+" is not inside a package, reference dropped")
			return
		}
		if obj != top && !obj.Has(object.FlagPublic) {
			err := fmt.Errorf("%s: %w: %s", sv.exportPath(holder), ErrPrivateImport, objs.Describe(h))
			sv.report(diag.SaveNotSerializable, diag.SevError, loc, err.Error())
			if sv.fatal == nil {
				sv.fatal = err
			}
			return
		}
		sv.addImport(obj)
	}
}

// collect assigns name and import slots by serializing every export once
// into a digest sink.
func (sv *Saver) collect(ctx context.Context) error {
	_, span := trace.BeginCtx(ctx, trace.ScopeContainer, "save.collect")
	defer func() { span.End(fmt.Sprintf("%d names, %d imports", len(sv.names), len(sv.imports))) }()

	sv.useName(ident.None, LoadContext)
	sv.useText(sv.name, LoadContext)
	sv.records = make([]Export, len(sv.exports))
	for i, obj := range sv.exports {
		cls, err := sv.env.Class(obj.Type)
		if err != nil {
			return err
		}
		c := contextOf(obj)
		rec := &sv.records[i]
		rec.ClassIndex = sv.addImport(cls)
		if obj.Type.Parent != nil {
			pc, err := sv.env.Class(obj.Type.Parent)
			if err != nil {
				return err
			}
			rec.SuperIndex = sv.addImport(pc)
		}
		if obj.Outer != sv.pkg.Handle {
			rec.OuterIndex = sv.exportIdx[obj.Outer]
		}
		rec.ObjectName = obj.Name
		rec.ObjectFlags = uint32(obj.Flags&object.Persisted) | c
		rec.object = obj.Handle
		sv.useName(obj.Name.ID, c)

		sizer := archive.NewSaver(archive.NewChecksum(),
			archive.Persistent(),
			archive.WithVersion(sv.version()),
			archive.ForEdit(!sv.opts.Cook),
			archive.WithMapper(collectMapper{sv: sv, holder: i, ctx: c}),
		)
		meta.SerializeInstance(sizer, obj.Type, obj.Instance, sv.opts.Mode)
		if err := sizer.Err(); err != nil {
			return fmt.Errorf("%s: %w", sv.exportPath(i), err)
		}
	}
	for i, obj := range sv.exports {
		if obj.Outer == sv.pkg.Handle {
			continue
		}
		parent := sv.exportIdx[obj.Outer] - 1
		if parent < 0 {
			continue
		}
		sv.records[parent].Components = append(sv.records[parent].Components,
			Component{Name: obj.Name, Export: int32(i + 1)})
	}
	return sv.fatal
}

func (sv *Saver) at(i int) diag.Location {
	return diag.At(sv.name, i, sv.exportPath(i))
}

func (sv *Saver) exportPath(i int) string {
	return sv.env.Objects.PathName(sv.exports[i].Handle)
}

func (sv *Saver) summary() (Summary, error) {
	sum := Summary{
		Tag:          Tag,
		Version:      sv.version(),
		PackageFlags: sv.opts.PackageFlags,
		GUID:         uuid.New(),
	}
	if sv.opts.Mode == meta.Binary {
		sum.PackageFlags |= PkgBinary
	}
	if sv.opts.Cook {
		sum.PackageFlags |= PkgCooked
	}
	if c := sv.opts.Conform; c != nil {
		if c.Summary.GUID != uuid.Nil {
			sum.GUID = c.Summary.GUID
		}
		sum.Generations = slices.Clone(c.Summary.Generations)
	}
	var err error
	if sum.NameCount, err = safecast.Conv[int32](len(sv.names)); err != nil {
		return sum, err
	}
	if sum.ImportCount, err = safecast.Conv[int32](len(sv.imports)); err != nil {
		return sum, err
	}
	if sum.ExportCount, err = safecast.Conv[int32](len(sv.records)); err != nil {
		return sum, err
	}
	sum.Generations = append(sum.Generations, Generation{ExportCount: sum.ExportCount, NameCount: sum.NameCount})
	return sum, nil
}

// write emits the container into be: summary placeholder, names, imports,
// export placeholders and payload, then the backpatched export table and
// summary.
func (sv *Saver) write(ctx context.Context, be archive.Backend) (Summary, error) {
	sum, err := sv.summary()
	if err != nil {
		return sum, err
	}
	ar := archive.NewSaver(be,
		archive.Persistent(),
		archive.WithVersion(sum.Version),
		archive.ForEdit(!sv.opts.Cook),
		archive.WithMapper(saveMapper{sv: sv}),
		archive.WithReporter(sv.reporter, diag.Whole(sv.name)),
	)
	offset := func() int32 {
		v, err := safecast.Conv[int32](ar.Pos())
		if err != nil {
			ar.Fail(err)
		}
		return v
	}

	sum.Serialize(ar)

	sum.NameOffset = offset()
	for i, id := range sv.names {
		e := NameEntry{Text: sv.env.Names.Resolve(id), Flags: sv.nameFlags[i]}
		e.Serialize(ar)
	}
	sum.ImportOffset = offset()
	for i := range sv.imports {
		sv.imports[i].Serialize(ar)
	}
	sum.ExportOffset = offset()
	for i := range sv.records {
		sv.records[i].Serialize(ar)
	}
	sv.state = SaveTablesBuilt

	_, span := trace.BeginCtx(ctx, trace.ScopeContainer, "save.payload")
	for i, obj := range sv.exports {
		rec := &sv.records[i]
		rec.SerialOffset = offset()
		ar.SetLocation(sv.at(i))
		meta.SerializeInstance(ar, obj.Type, obj.Instance, sv.opts.Mode)
		size, err := safecast.Conv[int32](ar.Pos() - int64(rec.SerialOffset))
		if err != nil {
			ar.Fail(err)
		}
		rec.SerialSize = size
		if ar.Err() != nil {
			break
		}
	}
	span.End(fmt.Sprintf("%d exports", len(sv.exports)))
	sv.state = SavePayloadWritten

	_, span = trace.BeginCtx(ctx, trace.ScopeContainer, "save.backpatch")
	end := ar.Pos()
	ar.Seek(int64(sum.ExportOffset))
	for i := range sv.records {
		sv.records[i].Serialize(ar)
	}
	ar.Seek(0)
	sum.Serialize(ar)
	ar.Seek(end)
	span.End("")
	return sum, ar.Err()
}

// Save writes the package object pkg to path. The file is replaced
// atomically; on error the previous file is left untouched.
func Save(ctx context.Context, env *Env, pkg handle.Handle, path string, opts SaveOptions) (*SaveResult, error) {
	sv, err := NewSaver(env, pkg, opts)
	if err != nil {
		return nil, err
	}
	return sv.Save(ctx, path)
}

// Save runs the save into path.
func (sv *Saver) Save(ctx context.Context, path string) (*SaveResult, error) {
	ctx, span := trace.BeginCtx(ctx, trace.ScopeSession, "save "+sv.name)
	defer span.End("")
	res := &SaveResult{Package: sv.name, Path: path, Bag: sv.bag}
	timer := sv.opts.Timer

	err := timer.Track("collect", func() error {
		if err := sv.tagExports(); err != nil {
			return err
		}
		return sv.collect(ctx)
	})
	if err != nil {
		sv.state = SaveFailed
		return res, err
	}

	fw, err := archive.CreateFile(path)
	if err != nil {
		sv.state = SaveFailed
		sv.report(diag.SaveIO, diag.SevError, diag.Whole(sv.name), err.Error())
		return res, err
	}
	var sum Summary
	err = timer.Track("write", func() error {
		var err error
		sum, err = sv.write(ctx, fw)
		return err
	})
	if err == nil {
		err = fw.Commit()
	}
	if err != nil {
		fw.Abort()
		sv.state = SaveFailed
		sv.report(diag.SaveIO, diag.SevError, diag.Whole(sv.name), err.Error())
		return res, fmt.Errorf("save %s: %w", sv.name, err)
	}
	sv.state = SaveClosed
	res.GUID = sum.GUID
	res.Names, res.Imports, res.Exports = len(sv.names), len(sv.imports), len(sv.records)
	res.Size = fw.Size()
	return res, nil
}

// collectMapper records names and references without writing anything
// meaningful.
type collectMapper struct {
	sv     *Saver
	holder int
	ctx    uint32
}

func (m collectMapper) Name(ar *archive.Archive, n *ident.Name) {
	m.sv.useName(n.ID, m.ctx)
	archive.Passthrough{}.Name(ar, n)
}

func (m collectMapper) Object(ar *archive.Archive, h *handle.Handle) {
	m.sv.classify(m.holder, *h)
	var idx int32
	ar.SerializeI32(&idx)
}

// saveMapper writes the slots assigned by collect.
type saveMapper struct{ sv *Saver }

var errUncollected = errors.New("name was not collected")

func (m saveMapper) Name(ar *archive.Archive, n *ident.Name) {
	idx, ok := m.sv.nameIdx[n.ID]
	if !ok {
		ar.Fail(fmt.Errorf("%w: %s", errUncollected, m.sv.env.Names.String(*n)))
	}
	ar.SerializeI32(&idx)
	ar.SerializeU32(&n.Number)
}

func (m saveMapper) Object(ar *archive.Archive, h *handle.Handle) {
	idx, ok := m.sv.exportIdx[*h]
	if !ok {
		idx = m.sv.importIdx[*h]
	}
	ar.SerializeI32(&idx)
}
