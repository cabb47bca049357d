// Package meta holds reflection metadata: field and type descriptors, the
// registry that builds them from declarations, instance storage, and the
// generic serializer that walks an instance through an archive.
//
// Instances are Blocks. Fixed-size values sit at their field offset in the
// block's byte layout; strings, dynamic arrays and maps live in side slots
// referenced from the layout. A Place addresses one value and offers typed
// accessors, so callers never compute offsets themselves:
//
//	count := t.Field(names.Intern("Count"))
//	blk := t.New()
//	blk.Root().At(count, 0).SetInt32(7)
package meta
