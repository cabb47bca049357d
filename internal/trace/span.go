package trace

import (
	"sync/atomic"
	"time"
)

var (
	seqCounter  atomic.Uint64
	spanCounter atomic.Uint64
)

// now is swapped in tests that need stable timestamps.
var now = time.Now

// NextSeq returns the next event sequence number. Sequence numbers are
// global so events from engines on several goroutines (objdb verify -j)
// still sort.
func NextSeq() uint64 { return seqCounter.Add(1) }

// NextSpanID returns a span id unique for the process.
func NextSpanID() uint64 { return spanCounter.Add(1) }

// Span is one timed phase: a container open, a preload, a collector mark
// or sweep. End emits the closing event with the detail the phase
// produced ("3 exports", "failed").
type Span struct {
	tracer   Tracer
	id       uint64
	parentID uint64
	scope    Scope
	name     string
	started  time.Time
	extra    map[string]string
}

// Begin opens a span under parent (0 for a top-level span). When t is off
// or scope is below its level the span is inert and keeps parent as its
// id, so nested spans attach to the nearest emitted one.
func Begin(t Tracer, scope Scope, name string, parent uint64) *Span {
	switch {
	case t == nil || !t.Enabled():
		return &Span{tracer: Nop}
	case !t.Level().ShouldEmit(scope):
		return &Span{tracer: Nop, id: parent}
	}
	s := &Span{
		tracer:   t,
		id:       NextSpanID(),
		parentID: parent,
		scope:    scope,
		name:     name,
		started:  now(),
	}
	t.Emit(&Event{
		Time:     s.started,
		Kind:     KindSpanBegin,
		Scope:    scope,
		SpanID:   s.id,
		ParentID: parent,
		Name:     name,
	})
	return s
}

func (s *Span) live() bool { return s != nil && s.tracer != nil && s.tracer.Enabled() }

// End closes the span and returns how long it ran; inert spans return 0.
func (s *Span) End(detail string) time.Duration {
	if !s.live() {
		return 0
	}
	dur := time.Since(s.started)
	s.tracer.Emit(&Event{
		Time:     now(),
		Kind:     KindSpanEnd,
		Scope:    s.scope,
		SpanID:   s.id,
		ParentID: s.parentID,
		Name:     s.name,
		Detail:   detail,
		Extra:    s.extra,
	})
	return dur
}

// WithExtra attaches key=value to the end event, e.g. the swept count of a
// collection.
func (s *Span) WithExtra(key, value string) *Span {
	if !s.live() {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string)
	}
	s.extra[key] = value
	return s
}

// ID returns the span id, or the parent's for an inert span.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}
