package linker

import (
	"context"
	"fmt"

	"objcore/internal/archive"
	"objcore/internal/diag"
	"objcore/internal/handle"
	"objcore/internal/object"
	"objcore/internal/observ"
	"objcore/internal/trace"
)

// Options tune one load session.
type Options struct {
	// ForEdit loads editor-only exports, names and fields.
	ForEdit bool
	// MinVersion is the oldest accepted file version; 0 means
	// archive.MinFileVersion.
	MinVersion uint16
	// NetVersion is carried on every loader's archive version.
	NetVersion uint32
	// Prefetch reads container files on a background goroutine while the
	// summary is parsed.
	Prefetch bool
	// Timer, when set, records phase durations.
	Timer *observ.Timer
}

func (o Options) minVersion() uint16 {
	if o.MinVersion == 0 {
		return archive.MinFileVersion
	}
	return o.MinVersion
}

func (o Options) context() uint32 {
	c := LoadForClient | LoadForServer
	if o.ForEdit {
		c |= LoadForEdit
	}
	return c
}

// Session scopes one top-level load. It tracks the loaders opened on its
// behalf and the exports created but not yet preloaded; every load
// operation takes the session explicitly.
type Session struct {
	env      *Env
	ctx      context.Context
	opts     Options
	bag      *diag.Bag
	reporter diag.Reporter

	deferred []handle.Handle
	opened   []*Loader
}

// NewSession starts a session reporting into bag (a fresh bag when nil).
func NewSession(ctx context.Context, env *Env, opts Options, bag *diag.Bag) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	if bag == nil {
		bag = diag.NewBag(100)
	}
	return &Session{
		env:      env,
		ctx:      ctx,
		opts:     opts,
		bag:      bag,
		reporter: diag.NewDedupReporter(diag.BagReporter{Bag: bag}),
	}
}

func (s *Session) Env() *Env                { return s.env }
func (s *Session) Bag() *diag.Bag           { return s.bag }
func (s *Session) Context() context.Context { return s.ctx }
func (s *Session) Opened() []*Loader        { return s.opened }

func (s *Session) report(code diag.Code, sev diag.Severity, loc diag.Location, msg string) {
	s.reporter.Report(code, sev, loc, msg, nil)
}

// Open returns the loader for the container at path, reading its summary
// and tables when it is not open yet.
func (s *Session) Open(path string) (*Loader, error) {
	name := PackageName(path)
	if l := s.env.Loader(name); l != nil {
		if l.path != path {
			return nil, fmt.Errorf("%s: %w (open from %s)", path, ErrAlreadyLoaded, l.path)
		}
		return l, nil
	}
	return s.open(name, path)
}

// Package returns the loader for a package, locating its container through
// the env's resolver. Missing containers fail with ErrNotFound.
func (s *Session) Package(name string) (*Loader, error) {
	if l := s.env.Loader(name); l != nil {
		return l, nil
	}
	path, ok := s.env.Resolver.Find(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return s.open(name, path)
}

func (s *Session) open(name, path string) (*Loader, error) {
	ctx, span := trace.BeginCtx(s.ctx, trace.ScopeContainer, "open "+name)
	be, closer, err := s.backend(ctx, path)
	if err != nil {
		span.End("failed")
		ferr := formatErr(name, diag.FmtIO, err, "cannot open %s", path)
		s.report(ferr.Code, diag.SevError, diag.Whole(name), ferr.Error())
		return nil, ferr
	}
	l := newLoader(s.env, name, path, be, closer, s.opts)
	if err := l.readTables(s); err != nil {
		_ = closer()
		span.End("failed")
		s.reportErr(l, err)
		return nil, err
	}
	if err := l.attach(); err != nil {
		_ = closer()
		span.End("failed")
		return nil, err
	}
	s.opened = append(s.opened, l)
	span.End(fmt.Sprintf("%d names, %d imports, %d exports", len(l.NameMap), len(l.Imports), len(l.Exports)))
	return l, nil
}

func (s *Session) backend(ctx context.Context, path string) (archive.Backend, func() error, error) {
	if s.opts.Prefetch {
		r := archive.Prefetch(ctx, path)
		if err := r.Wait(); err != nil {
			return nil, nil, err
		}
		return r, func() error { return nil }, nil
	}
	f, err := archive.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func (s *Session) reportErr(l *Loader, err error) {
	s.report(errCode(err), diag.SevError, diag.Whole(l.name), err.Error())
}

// enqueue queues a freshly created export for preloading.
func (s *Session) enqueue(h handle.Handle) {
	s.deferred = append(s.deferred, h)
}

// Flush preloads every created export until no new ones appear. Preloading
// can create further exports (and open further containers); they are
// queued and handled in the same loop.
func (s *Session) Flush() {
	ctx, span := trace.BeginCtx(s.ctx, trace.ScopeContainer, "preload")
	n := 0
	for len(s.deferred) > 0 {
		h := s.deferred[0]
		s.deferred = s.deferred[1:]
		obj := s.env.Objects.Lookup(h)
		if obj == nil || !obj.Has(object.FlagNeedLoad) {
			continue
		}
		if l := s.env.LoaderOf(obj); l != nil {
			l.preload(ctx, s, obj)
			n++
		}
	}
	span.End(fmt.Sprintf("%d objects", n))
}

// Load opens the container at path, creates every export, resolves what
// they reference and preloads everything created on the way. The error is
// the container's own fatal error; problems with referenced containers
// and missing imports are diagnostics in the session bag.
func Load(ctx context.Context, env *Env, path string, opts Options, bag *diag.Bag) (*Loader, *Session, error) {
	s := NewSession(ctx, env, opts, bag)
	ctx, span := trace.BeginCtx(s.ctx, trace.ScopeSession, "load "+PackageName(path))
	s.ctx = ctx
	defer span.End("")

	var l *Loader
	err := opts.Timer.Track("open", func() error {
		var err error
		l, err = s.Open(path)
		return err
	})
	if err != nil {
		return nil, s, err
	}
	_ = opts.Timer.Track("exports", func() error {
		l.LoadAllObjects(s)
		return nil
	})
	_ = opts.Timer.Track("preload", func() error {
		s.Flush()
		return nil
	})
	if l.err != nil {
		return l, s, l.err
	}
	l.state = StateLoaded
	return l, s, nil
}
