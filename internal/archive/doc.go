// Package archive provides a bidirectional byte cursor. The same Serialize*
// call reads into its argument on a loading archive and writes from it on a
// saving one, so every serializer is written once for both directions.
//
// Persistent archives use a fixed byte order (little-endian unless the
// process-wide swap flag is set); transient ones use the host order. Names
// and object references go through a Mapper, which the container linker
// replaces with table-index encodings.
package archive
