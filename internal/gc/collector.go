package gc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"objcore/internal/diag"
	"objcore/internal/handle"
	"objcore/internal/meta"
	"objcore/internal/object"
	"objcore/internal/trace"
)

// Config controls one collector.
type Config struct {
	// Strict panics on a reference to a freed object found while marking.
	// Otherwise the reference is nulled and reported.
	Strict bool
	// Keep lists extra flags that make an object a root (object.KeepAlive
	// is always applied).
	Keep object.Flags
	// Reporter receives stale-reference findings; nil drops them.
	Reporter diag.Reporter
	// Detach is called for every object right before its slot is released,
	// after its destructors ran. Loaders use it to forget exports and to
	// close containers whose package object died.
	Detach func(obj *object.Object)
}

// Stats summarises one pass.
type Stats struct {
	Before  int           `json:"before" msgpack:"before"`
	Marked  int           `json:"marked" msgpack:"marked"`
	Swept   int           `json:"swept" msgpack:"swept"`
	Nulled  int           `json:"nulled" msgpack:"nulled"`
	Stale   int           `json:"stale" msgpack:"stale"`
	Elapsed time.Duration `json:"elapsed" msgpack:"elapsed"`
}

func (s Stats) String() string {
	return fmt.Sprintf("marked %d of %d, swept %d, nulled %d refs", s.Marked, s.Before, s.Swept, s.Nulled)
}

// Collector is a stop-the-world mark & sweep over an object table.
type Collector struct {
	table *object.Table
	cfg   Config
}

// New returns a collector for table.
func New(table *object.Table, cfg Config) *Collector {
	return &Collector{table: table, cfg: cfg}
}

// Config returns the collector configuration.
func (c *Collector) Config() Config { return c.cfg }

// Collect runs one full pass. Objects flagged native or root, plus objects
// carrying any Keep flag, and everything reachable from them through
// object-reference fields or outer chains survive. Every other object is
// destroyed and its slot released. References held by survivors to
// destroyed objects are nulled before Collect returns.
func (c *Collector) Collect(ctx context.Context) (Stats, error) {
	started := time.Now()
	ctx, span := trace.BeginCtx(ctx, trace.ScopeSession, "gc")
	stats := Stats{Before: c.table.Len()}

	pass, err := c.table.BeginPass()
	if err != nil {
		span.End("refused")
		return stats, err
	}
	defer pass.End()

	stats.Marked = c.mark(ctx, &stats)
	doomed := c.sweep(ctx, pass, &stats)
	c.nullWeak(ctx, &stats, doomed)

	for obj := range c.table.All() {
		obj.Clear(object.FlagReachable)
	}
	stats.Elapsed = time.Since(started)
	span.WithExtra("swept", strconv.Itoa(stats.Swept)).End(stats.String())
	return stats, nil
}

func (c *Collector) isRoot(obj *object.Object) bool {
	return obj.Has(object.KeepAlive | c.cfg.Keep)
}

func (c *Collector) mark(ctx context.Context, stats *Stats) int {
	_, span := trace.BeginCtx(ctx, trace.ScopeContainer, "gc.mark")
	var work []*object.Object
	for obj := range c.table.All() {
		obj.Clear(object.FlagReachable | object.FlagPendingDestroy)
		if c.isRoot(obj) {
			obj.Set(object.FlagReachable)
			work = append(work, obj)
		}
	}

	marked := len(work)
	reach := func(h handle.Handle) {
		target := c.table.Lookup(h)
		if target == nil || target.Has(object.FlagReachable) {
			return
		}
		target.Set(object.FlagReachable)
		work = append(work, target)
		marked++
	}
	for len(work) > 0 {
		obj := work[len(work)-1]
		work = work[:len(work)-1]
		if !obj.Outer.IsNil() {
			reach(obj.Outer)
		}
		if obj.Instance == nil {
			continue
		}
		meta.VisitRefs(obj.Type, obj.Root(), func(f *meta.Field, slot meta.Place) {
			h := slot.Object()
			if h.IsNil() {
				return
			}
			if !c.table.Valid(h) {
				c.staleRef(obj, f, slot, stats)
				return
			}
			reach(h)
		})
	}
	span.End(strconv.Itoa(marked) + " reachable")
	return marked
}

// staleRef handles a reference that outlived its target. Sweeps null such
// references, so this only fires when something wrote a dead handle.
func (c *Collector) staleRef(holder *object.Object, f *meta.Field, slot meta.Place, stats *Stats) {
	h := slot.Object()
	_, err := c.table.Get(h)
	where := c.table.PathName(holder.Handle)
	if c.cfg.Strict {
		panic(fmt.Sprintf("gc: %s.%s: %v", where, f.Text, err))
	}
	slot.SetObject(handle.Nil)
	stats.Stale++
	stats.Nulled++
	if c.cfg.Reporter != nil {
		c.cfg.Reporter.Report(diag.GCStaleRef, diag.SevWarning, c.location(holder),
			fmt.Sprintf("%s.%s held %v; nulled", where, f.Text, err), nil)
	}
}

func (c *Collector) location(obj *object.Object) diag.Location {
	if obj.Linker != nil {
		return diag.At(obj.Linker.Name(), obj.LinkerIndex, c.table.PathName(obj.Handle))
	}
	return diag.Location{Export: -1, Object: c.table.PathName(obj.Handle)}
}

func (c *Collector) sweep(ctx context.Context, pass *object.Pass, stats *Stats) int {
	_, span := trace.BeginCtx(ctx, trace.ScopeContainer, "gc.sweep")
	var doomed []*object.Object
	for obj := range c.table.All() {
		if !obj.Has(object.FlagReachable) {
			obj.Set(object.FlagPendingDestroy)
			doomed = append(doomed, obj)
		}
	}
	tr := trace.FromContext(ctx)
	for _, obj := range doomed {
		if tr.Level().ShouldEmit(trace.ScopeObject) {
			trace.Point(tr, trace.ScopeObject, "gc.destroy", c.table.Describe(obj.Handle))
		}
		destroy(obj)
		if c.cfg.Detach != nil {
			c.cfg.Detach(obj)
		}
		obj.Detach()
		if err := pass.Release(obj.Handle); err != nil {
			// the table already dropped it; nothing left to free
			continue
		}
		stats.Swept++
	}
	span.End(strconv.Itoa(stats.Swept) + " destroyed")
	return len(doomed)
}

// destroy runs the type's destructors, most derived first, then drops the
// instance.
func destroy(obj *object.Object) {
	if obj.Instance != nil {
		root := obj.Root()
		for t := obj.Type; t != nil; t = t.Parent {
			if t.Destroy != nil {
				t.Destroy(root)
			}
		}
	}
	obj.Instance = nil
}

func (c *Collector) nullWeak(ctx context.Context, stats *Stats, doomed int) {
	if doomed == 0 {
		return
	}
	_, span := trace.BeginCtx(ctx, trace.ScopeContainer, "gc.null")
	before := stats.Nulled
	for obj := range c.table.All() {
		if obj.Instance == nil {
			continue
		}
		meta.VisitRefs(obj.Type, obj.Root(), func(_ *meta.Field, slot meta.Place) {
			if h := slot.Object(); !h.IsNil() && !c.table.Valid(h) {
				slot.SetObject(handle.Nil)
				stats.Nulled++
			}
		})
	}
	span.End(strconv.Itoa(stats.Nulled-before) + " nulled")
}
