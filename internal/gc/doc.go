// Package gc reclaims objects no longer reachable from the root set.
//
// A pass marks from every native or rooted object, following outer chains
// and the object-reference fields described by each type's metadata, then
// destroys whatever stayed unmarked. Slots freed by a pass bump their
// generation, and every surviving reference to a destroyed object is
// nulled before the pass returns, so no live instance holds a dangling
// handle afterwards.
package gc
