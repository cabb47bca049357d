package object

import "objcore/internal/handle"

// Pass is the exclusive right to destroy objects during one collection.
// While a pass is open the table refuses construction and plain Release;
// slots freed through the pass become reusable only when it ends.
type Pass struct {
	t       *Table
	pending []uint32
	done    bool
}

// BeginPass opens a collection pass.
func (t *Table) BeginPass() (*Pass, error) {
	if t.pass != nil {
		return nil, ErrCollecting
	}
	p := &Pass{t: t}
	t.pass = p
	return p, nil
}

// Release invalidates h immediately; its slot joins the free list at End.
func (p *Pass) Release(h handle.Handle) error {
	idx, err := p.t.unlink(h)
	if err != nil {
		return err
	}
	p.pending = append(p.pending, idx)
	return nil
}

// Released returns how many slots the pass has freed so far.
func (p *Pass) Released() int { return len(p.pending) }

// End closes the pass and recycles the freed slots. Calling End twice is a
// no-op.
func (p *Pass) End() {
	if p.done {
		return
	}
	p.done = true
	p.t.free = append(p.t.free, p.pending...)
	p.pending = nil
	p.t.pass = nil
}
