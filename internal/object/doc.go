// Package object is the object table: a slot arena addressed by
// generation-tagged handles. Every live object has a type, a name inside
// its outer object, state flags and an instance block; objects loaded from
// a container also remember the container and their export index.
//
// Freed slots bump their generation, so a handle kept past its object's
// destruction fails Get with *StaleHandleError instead of aliasing the
// next object placed in the slot.
package object
