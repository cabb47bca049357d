// Package engine is the surface collaborators use: register types,
// construct objects, load and save containers, manage the root set and run
// collections. It wires the identifier table, type registry, object table,
// linker environment, collector and tracer together from one config.
package engine
