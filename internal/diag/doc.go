// Package diag defines the diagnostic model shared by the loader, the saver
// and the collector.
//
// # Purpose
//
//   - Record findings that must not abort a whole load: a missing import, an
//     unknown field skipped during decoding, a transient reference dropped
//     while saving.
//   - Aggregate every finding of one LoadContainer/SaveContainer call into a
//     single Bag instead of stopping at the first one.
//   - Carry fatal format errors too, so callers get one report per call.
//
// # Data model
//
// Diagnostic is the central record:
//
//   - Severity – Info, Warning, Error (severity.go).
//   - Code – numeric identifier grouped by taxonomy (codes.go): FMT format
//     errors, REF reference resolution, FLD field decoding, GC collector
//     invariants, SAV save-time findings.
//   - Message – short human text.
//   - Primary – Location (container, export index, object path).
//   - Notes – optional secondary locations.
//
// # Emitting diagnostics
//
// Producers hold a Reporter. BagReporter stores into a Bag, DedupReporter
// filters repeats (a missing import dereferenced many times is reported once).
// Rendering lives in internal/diagfmt.
package diag
