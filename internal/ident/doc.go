// Package ident interns identifiers: type names, field names, object names and
// container names all become small comparable IDs.
//
// Interning is case-insensitive (Unicode case folding), so "Count" and "COUNT"
// share one ID while the table remembers the spelling it saw first. The table
// only grows. ID 0 is reserved for "None", which also doubles as the sentinel
// that terminates tagged field lists in serialized instances.
//
// Every operation is safe for concurrent use; lookups take a read lock and
// interning a new identifier takes the write lock.
package ident
