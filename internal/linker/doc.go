// Package linker reads and writes containers.
//
// A container holds one package: a summary, a name dictionary, an import
// table (objects of other packages referenced by class and path), an export
// table (objects stored here) and the serialized payload of every export.
// Object references in tables and payloads are indices: i > 0 is export
// i-1, i < 0 is import -i-1, 0 is None.
//
// Loading is lazy. A Session opens the Loader, which reads only the summary
// and tables. CreateExport builds an object with default values and queues
// it; the session's Flush reads the queued payloads, which may create more
// exports and open more containers. Imports resolve on first use and a
// failed resolution is reported once and remembered.
//
// Saving assigns every export and import its slot before any payload is
// written, then backpatches the export table and the summary.
package linker
