// Package trace records what the engine is doing while it loads, saves and
// collects objects.
//
// # Architecture
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: immediate write (text or ndjson) to a file or stderr
//   - RingTracer: circular buffer, dumped after a fatal format error
//   - ZapTracer: structured records through go.uber.org/zap
//   - MultiTracer: fan-out
//
// # Levels and scopes
//
// LevelPhase emits session and container phases (summary, names, imports,
// exports, payload, mark, sweep). LevelDetail adds per-object events
// (create export, preload). LevelDebug adds per-field decoding.
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	ctx, span := trace.BeginCtx(ctx, trace.ScopeContainer, "summary")
//	defer span.End("")
package trace
