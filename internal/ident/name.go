package ident

import "fmt"

// Name is an identifier plus an optional numeric suffix used for
// auto-uniquified object names. Number 0 means "no suffix".
type Name struct {
	ID     ID
	Number uint32
}

// NoneName is the empty name.
var NoneName = Name{}

// IsNone reports whether n is the empty name.
func (n Name) IsNone() bool {
	return n.ID == None && n.Number == 0
}

// Plain returns the identifier without its suffix.
func (n Name) Plain() Name {
	return Name{ID: n.ID}
}

// GoString is used by %#v in test failures.
func (n Name) GoString() string {
	return fmt.Sprintf("ident.Name{ID:%d, Number:%d}", n.ID, n.Number)
}
