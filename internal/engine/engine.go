package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"objcore/internal/archive"
	"objcore/internal/config"
	"objcore/internal/diag"
	"objcore/internal/gc"
	"objcore/internal/handle"
	"objcore/internal/ident"
	"objcore/internal/linker"
	"objcore/internal/meta"
	"objcore/internal/object"
	"objcore/internal/observ"
	"objcore/internal/trace"
)

var (
	ErrClosed      = errors.New("engine is closed")
	ErrUnknownType = errors.New("unknown type")
	ErrNoField     = errors.New("no such field")
	ErrNotLoaded   = errors.New("container is not loaded")
)

// Options configure New. Zero values fall back to the config.
type Options struct {
	Config config.Config
	// Names, when set, is shared with the caller; otherwise the engine
	// owns a fresh table.
	Names *ident.Table
	// Tracer overrides the tracer built from Config.Trace.
	Tracer trace.Tracer
	Logger *zap.Logger
	// Timer receives load/save/gc phase durations.
	Timer *observ.Timer
}

// Engine is the collaborator-facing surface: types, objects, containers
// and collection behind one value. An Engine belongs to one goroutine;
// run separate engines for parallel work.
type Engine struct {
	cfg     config.Config
	names   *ident.Table
	types   *meta.Registry
	objects *object.Table
	env     *linker.Env

	tracer    trace.Tracer
	ownTracer bool
	log       *zap.Logger
	timer     *observ.Timer
	closed    bool
}

// New builds an engine from opts: registers the bootstrap types and every
// schema file the config lists, applies the byte-swap policy and opens the
// tracer.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	names := opts.Names
	if names == nil {
		names = ident.NewTable()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	types := meta.NewRegistry(names)
	objects := object.NewTable(names)
	env, err := linker.NewEnv(types, objects, &linker.Resolver{
		Paths:     cfg.Engine.SearchPaths,
		Extension: cfg.Engine.Extension,
	})
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		names:   names,
		types:   types,
		objects: objects,
		env:     env,
		log:     log,
		timer:   opts.Timer,
		tracer:  opts.Tracer,
	}
	if e.tracer == nil {
		e.tracer, err = NewTracer(cfg.Trace)
		if err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		e.ownTracer = true
	}
	archive.SetByteSwap(cfg.Engine.ByteSwap)

	if len(cfg.Engine.Schema) > 0 {
		if _, err := e.LoadSchema(cfg.Engine.Schema...); err != nil {
			_ = e.Close()
			return nil, err
		}
	}
	return e, nil
}

// NewTracer builds the tracer a trace config section describes.
func NewTracer(c config.Trace) (trace.Tracer, error) {
	level, err := trace.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	if level == trace.LevelOff {
		return trace.Nop, nil
	}
	mode, err := trace.ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	format, err := trace.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	return trace.New(trace.Config{Level: level, Mode: mode, Format: format, OutputPath: c.Output, RingSize: c.RingSize})
}

func (e *Engine) Names() *ident.Table      { return e.names }
func (e *Engine) Types() *meta.Registry    { return e.types }
func (e *Engine) Objects() *object.Table   { return e.objects }
func (e *Engine) Env() *linker.Env         { return e.env }
func (e *Engine) Config() config.Config    { return e.cfg }
func (e *Engine) Tracer() trace.Tracer     { return e.tracer }
func (e *Engine) Timer() *observ.Timer     { return e.timer }
func (e *Engine) Logger() *zap.Logger      { return e.log }
func (e *Engine) SetTimer(t *observ.Timer) { e.timer = t }

func (e *Engine) ctx(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return trace.WithTracer(ctx, e.tracer)
}

func (e *Engine) newBag() *diag.Bag { return diag.NewBag(e.cfg.Diagnostics.Max) }

// Intern returns the identifier for text, case-insensitively.
func (e *Engine) Intern(text string) ident.ID { return e.names.Intern(text) }

// Resolve returns the text of id as first interned.
func (e *Engine) Resolve(id ident.ID) string { return e.names.Resolve(id) }

// RegisterType registers one declaration.
func (e *Engine) RegisterType(d meta.TypeDecl) (*meta.Type, error) {
	return e.types.Register(d)
}

// RegisterTypes registers declarations in dependency order.
func (e *Engine) RegisterTypes(decls []meta.TypeDecl) ([]*meta.Type, error) {
	return e.types.RegisterAll(decls)
}

// LoadSchema registers the types declared in toml/yaml files.
func (e *Engine) LoadSchema(paths ...string) ([]*meta.Type, error) {
	ts, err := e.types.LoadSchema(paths...)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	e.log.Debug("schema loaded", zap.Strings("paths", paths), zap.Int("types", len(ts)))
	return ts, nil
}

// Type finds a registered type by name.
func (e *Engine) Type(name string) (*meta.Type, error) {
	t := e.types.Lookup(name)
	if t == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, name)
	}
	return t, nil
}

// ConstructObject creates an object of typeName inside outer (handle.Nil
// for top level). An empty name is made unique from the type name.
func (e *Engine) ConstructObject(typeName string, outer handle.Handle, name string, flags object.Flags) (*object.Object, error) {
	if e.closed {
		return nil, ErrClosed
	}
	t, err := e.Type(typeName)
	if err != nil {
		return nil, err
	}
	spec := object.Spec{Type: t, Outer: outer, Flags: flags}
	if name != "" {
		spec.Name = e.names.Name(name)
	}
	return e.objects.Construct(spec)
}

// CreatePackage finds or creates a top-level package object.
func (e *Engine) CreatePackage(name string) (*object.Object, error) {
	if e.closed {
		return nil, ErrClosed
	}
	return e.env.CreatePackage(name)
}

// Object returns the live object for h.
func (e *Engine) Object(h handle.Handle) (*object.Object, error) {
	return e.objects.Get(h)
}

// Find resolves a dotted path ("Pkg.Outer.Name").
func (e *Engine) Find(path string) *object.Object {
	if path == "" {
		return nil
	}
	return e.objects.FindPath(strings.Split(path, "."), nil)
}

// Describe renders "Type Pkg.Outer.Name".
func (e *Engine) Describe(h handle.Handle) string { return e.objects.Describe(h) }

// Field returns the place of element 0 of field name on h.
func (e *Engine) Field(h handle.Handle, name string) (meta.Place, *meta.Field, error) {
	obj, err := e.objects.Get(h)
	if err != nil {
		return meta.Place{}, nil, err
	}
	f := obj.Type.FieldNamed(name)
	if f == nil || obj.Instance == nil {
		return meta.Place{}, nil, fmt.Errorf("%w %s.%s", ErrNoField, obj.Type.Text, name)
	}
	return obj.Root().At(f, 0), f, nil
}

// SetField stores v into element 0 of field name. Object fields take a
// handle.Handle, an *object.Object or nil.
func (e *Engine) SetField(h handle.Handle, name string, v any) error {
	p, f, err := e.Field(h, name)
	if err != nil {
		return err
	}
	if f.Kind == meta.KindObject {
		switch x := v.(type) {
		case handle.Handle:
			p.SetObject(x)
			return nil
		case *object.Object:
			if x == nil {
				p.SetObject(handle.Nil)
			} else {
				p.SetObject(x.Handle)
			}
			return nil
		}
	}
	return meta.SetValue(e.names, f, p, v)
}

// AddRoot keeps h and everything it reaches alive across collections.
func (e *Engine) AddRoot(h handle.Handle) error {
	obj, err := e.objects.Get(h)
	if err != nil {
		return err
	}
	obj.Set(object.FlagRoot)
	return nil
}

// RemoveRoot takes h out of the root set.
func (e *Engine) RemoveRoot(h handle.Handle) error {
	obj, err := e.objects.Get(h)
	if err != nil {
		return err
	}
	obj.Clear(object.FlagRoot)
	return nil
}

// RunCollection destroys every object not reachable from the root set and
// nulls references to them. Exports that die are detached from their
// loaders so a later dereference loads them again.
func (e *Engine) RunCollection(ctx context.Context) (gc.Stats, error) {
	if e.closed {
		return gc.Stats{}, ErrClosed
	}
	c := gc.New(e.objects, gc.Config{
		Strict:   e.cfg.GC.Strict,
		Reporter: logReporter{log: e.log},
		Detach:   e.env.DetachObject,
	})
	var stats gc.Stats
	err := e.timer.Track("gc", func() error {
		var err error
		stats, err = c.Collect(e.ctx(ctx))
		return err
	})
	if err != nil {
		return stats, err
	}
	e.log.Debug("collection finished",
		zap.Int("before", stats.Before),
		zap.Int("swept", stats.Swept),
		zap.Int("nulled", stats.Nulled),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

func (e *Engine) loadOptions() linker.Options {
	return linker.Options{
		ForEdit:    e.cfg.Engine.ForEdit,
		MinVersion: e.cfg.Engine.MinVersion,
		Prefetch:   e.cfg.Engine.Prefetch,
		Timer:      e.timer,
	}
}

// LoadContainer loads the container at path and everything it references.
// The bag holds non-fatal findings for this container and any container
// opened on the way; the error is this container's own fatal error.
func (e *Engine) LoadContainer(ctx context.Context, path string) (handle.Handle, *diag.Bag, error) {
	if e.closed {
		return handle.Nil, nil, ErrClosed
	}
	bag := e.newBag()
	l, _, err := linker.Load(e.ctx(ctx), e.env, path, e.loadOptions(), bag)
	if err != nil {
		e.log.Warn("container load failed", zap.String("path", path), zap.Error(err))
		return handle.Nil, bag, err
	}
	e.log.Debug("container loaded",
		zap.String("package", l.Name()),
		zap.String("path", path),
		zap.Int("exports", len(l.Exports)),
		zap.Int("diagnostics", bag.Len()))
	return l.Root(), bag, nil
}

// Inspect reads the summary and tables of the container at path without
// creating objects. A loader opened only for this is closed again.
func (e *Engine) Inspect(ctx context.Context, path string) (linker.Info, *diag.Bag, error) {
	if e.closed {
		return linker.Info{}, nil, ErrClosed
	}
	bag := e.newBag()
	existing := e.env.Loader(linker.PackageName(path))
	l, err := linker.NewSession(e.ctx(ctx), e.env, e.loadOptions(), bag).Open(path)
	if err != nil {
		return linker.Info{}, bag, err
	}
	info := l.Inspect()
	if existing == nil {
		if err := l.Detach(); err != nil {
			return info, bag, err
		}
	}
	return info, bag, nil
}

// LoadPackage loads a container by package name through the search paths.
func (e *Engine) LoadPackage(ctx context.Context, name string) (handle.Handle, *diag.Bag, error) {
	path, ok := e.env.Resolver.Find(name)
	if !ok {
		return handle.Nil, nil, fmt.Errorf("%w: %s", linker.ErrNotFound, name)
	}
	return e.LoadContainer(ctx, path)
}

// SaveContainer writes the package containing root to path. When root is
// not the package itself, everything it reaches inside the package is
// saved too. A root outside any package is moved into the package named
// after the file first.
func (e *Engine) SaveContainer(ctx context.Context, root handle.Handle, path string) (*linker.SaveResult, error) {
	return e.SaveContainerWith(ctx, root, path, linker.SaveOptions{})
}

// SaveContainerWith is SaveContainer with explicit save options. Version,
// Bag, Timer and Conform are filled in when unset.
func (e *Engine) SaveContainerWith(ctx context.Context, root handle.Handle, path string, opts linker.SaveOptions) (*linker.SaveResult, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if _, err := e.objects.Get(root); err != nil {
		return nil, err
	}
	if opts.Bag == nil {
		opts.Bag = e.newBag()
	}
	pkg, err := e.containerPackage(root, path)
	if err != nil {
		return nil, err
	}
	if pkg.Handle != root {
		opts.Base = append(opts.Base, root)
	}
	if name, file := e.names.String(pkg.Name), linker.PackageName(path); !strings.EqualFold(name, file) {
		msg := fmt.Sprintf("package %s is saved as %s and loads as %s", name, path, file)
		opts.Bag.Add(diag.New(diag.SevWarning, diag.SaveNameMismatch, diag.Whole(name), msg))
		e.log.Warn("package name differs from file name",
			zap.String("package", name),
			zap.String("path", path))
	}
	if opts.Timer == nil {
		opts.Timer = e.timer
	}
	if opts.Version == (archive.Version{}) {
		opts.Version = archive.Version{File: archive.CurrentFileVersion, Licensee: e.cfg.Engine.LicenseeVersion}
	}
	ctx = e.ctx(ctx)
	if l := e.env.Loader(e.names.String(pkg.Name)); l != nil {
		// every export must be in memory before the file is replaced
		s := linker.NewSession(ctx, e.env, e.loadOptions(), opts.Bag)
		l.LoadAllObjects(s)
		s.Flush()
		if opts.Conform == nil {
			opts.Conform = l
		}
	}
	res, err := linker.Save(ctx, e.env, pkg.Handle, path, opts)
	if err != nil {
		e.log.Warn("container save failed", zap.String("path", path), zap.Error(err))
		return res, err
	}
	e.log.Debug("container saved",
		zap.String("package", res.Package),
		zap.String("path", path),
		zap.Int("exports", res.Exports),
		zap.Int64("size", res.Size))
	return res, nil
}

// containerPackage returns the package root is saved with. The top-level
// object of a root that lives outside any package is moved into the
// package named after path.
func (e *Engine) containerPackage(root handle.Handle, path string) (*object.Object, error) {
	top := e.objects.Outermost(root)
	if top.Type.IsA(e.env.PackageType) {
		return top, nil
	}
	pkg, err := e.env.CreatePackage(linker.PackageName(path))
	if err != nil {
		return nil, err
	}
	if err := e.objects.Move(top.Handle, pkg.Handle); err != nil {
		return nil, fmt.Errorf("%s: %w", e.objects.Describe(root), err)
	}
	e.log.Debug("object moved into package",
		zap.String("object", e.objects.Describe(top.Handle)),
		zap.String("package", e.names.String(pkg.Name)))
	return pkg, nil
}

// DetachContainer closes the loader of package name. Its objects stay in
// the table but no longer know where they came from.
func (e *Engine) DetachContainer(name string) error {
	l := e.env.Loader(name)
	if l == nil {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	return l.Detach()
}

// Close detaches every loader and flushes the tracer. The engine is
// unusable afterwards.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	for _, l := range e.env.Loaders() {
		if err := l.Detach(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		}
	}
	if e.ownTracer {
		if err := e.tracer.Close(); err != nil {
			errs = append(errs, err)
		}
	} else if err := e.tracer.Flush(); err != nil {
		errs = append(errs, err)
	}
	_ = e.log.Sync()
	return errors.Join(errs...)
}

// logReporter forwards collector findings to the engine log.
type logReporter struct{ log *zap.Logger }

func (r logReporter) Report(code diag.Code, sev diag.Severity, primary diag.Location, msg string, _ []diag.Note) {
	fields := []zap.Field{zap.String("code", code.ID()), zap.String("at", primary.String())}
	switch sev {
	case diag.SevError:
		r.log.Error(msg, fields...)
	case diag.SevWarning:
		r.log.Warn(msg, fields...)
	default:
		r.log.Info(msg, fields...)
	}
}
