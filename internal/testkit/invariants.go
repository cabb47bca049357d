package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"objcore/internal/linker"
	"objcore/internal/meta"
)

// CheckTypeLayout runs the layout invariants of a registered type:
// 1) every own field lies after the parent's storage and inside the type
// 2) own fields do not overlap each other
// 3) the default instance is exactly Size bytes
// 4) NumFields counts the inherited fields plus the own ones
func CheckTypeLayout(t *meta.Type) error {
	if t == nil {
		return fmt.Errorf("nil type")
	}
	base := 0
	inherited := 0
	if t.Parent != nil {
		base = t.Parent.Size
		inherited = t.Parent.NumFields()
	}
	for i, f := range t.Fields {
		if f.Offset < base {
			return fmt.Errorf("%s.%s at %d overlaps parent storage (%d bytes)", t.Text, f.Text, f.Offset, base)
		}
		if f.End() > t.Size {
			return fmt.Errorf("%s.%s ends at %d beyond size %d", t.Text, f.Text, f.End(), t.Size)
		}
		for _, g := range t.Fields[:i] {
			if f.Offset < g.End() && g.Offset < f.End() {
				return fmt.Errorf("%s.%s [%d,%d) overlaps %s [%d,%d)", t.Text, f.Text, f.Offset, f.End(), g.Text, g.Offset, g.End())
			}
		}
		if f.Owner != t {
			return fmt.Errorf("%s.%s owner is %v", t.Text, f.Text, f.Owner)
		}
	}
	if t.Defaults == nil || t.Defaults.Len() != t.Size {
		return fmt.Errorf("%s defaults do not match size %d", t.Text, t.Size)
	}
	if got, want := t.NumFields(), inherited+len(t.Fields); got != want {
		return fmt.Errorf("%s has %d fields, want %d", t.Text, got, want)
	}
	return nil
}

// CheckContainer runs the summary and table invariants of an opened
// container:
// 1) summary counts equal table lengths
// 2) every object index in the tables is in range
// 3) every serial range lies inside the payload
func CheckContainer(l *linker.Loader) error {
	if l == nil {
		return fmt.Errorf("nil loader")
	}
	s := l.Summary
	for _, c := range []struct {
		what  string
		count int32
		rows  int
	}{
		{"names", s.NameCount, len(l.NameMap)},
		{"imports", s.ImportCount, len(l.Imports)},
		{"exports", s.ExportCount, len(l.Exports)},
	} {
		n, err := safecast.Conv[int](c.count)
		if err != nil {
			return fmt.Errorf("%s count: %w", c.what, err)
		}
		if n != c.rows {
			return fmt.Errorf("%s count %d, table has %d", c.what, n, c.rows)
		}
	}

	nExp, nImp := int32(len(l.Exports)), int32(len(l.Imports))
	inRange := func(idx int32) bool { return idx <= nExp && -idx <= nImp }
	for i, imp := range l.Imports {
		if imp.OuterIndex > 0 || !inRange(imp.OuterIndex) {
			return fmt.Errorf("import %d outer %d out of range", i, imp.OuterIndex)
		}
	}
	size := l.Inspect().Size
	for i, e := range l.Exports {
		for _, idx := range []int32{e.ClassIndex, e.SuperIndex, e.OuterIndex} {
			if !inRange(idx) {
				return fmt.Errorf("export %d index %d out of range", i, idx)
			}
		}
		if e.SerialSize == 0 {
			continue
		}
		start := int64(e.SerialOffset)
		if start < l.PayloadStart() || start+int64(e.SerialSize) > size {
			return fmt.Errorf("export %d serial range [%d,+%d) outside payload [%d,%d)", i, start, e.SerialSize, l.PayloadStart(), size)
		}
	}
	return nil
}
