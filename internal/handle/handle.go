// Package handle defines the generation-tagged reference used everywhere an
// object points at another object.
//
// A Handle packs a slot index and the generation that slot had when the
// handle was issued. When the object table frees a slot it bumps the slot's
// generation, so any handle still carrying the old generation is detectably
// stale instead of silently aliasing whatever object reuses the slot.
package handle

import "fmt"

// Handle is index<<32 | generation. The zero value is Nil.
type Handle uint64

// Nil references nothing.
const Nil Handle = 0

// Make packs index and generation. Generation 0 is never issued, which keeps
// Nil distinct from every live handle.
func Make(index, generation uint32) Handle {
	return Handle(uint64(index)<<32 | uint64(generation))
}

// Index returns the slot index.
func (h Handle) Index() uint32 { return uint32(h >> 32) }

// Generation returns the slot generation the handle was issued with.
func (h Handle) Generation() uint32 { return uint32(h) }

// IsNil reports whether h references nothing.
func (h Handle) IsNil() bool { return h == Nil }

func (h Handle) String() string {
	if h == Nil {
		return "nil"
	}
	return fmt.Sprintf("#%d.%d", h.Index(), h.Generation())
}
