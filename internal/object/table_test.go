package object

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objcore/internal/handle"
	"objcore/internal/ident"
	"objcore/internal/meta"
)

type fixture struct {
	names  *ident.Table
	reg    *meta.Registry
	table  *Table
	widget *meta.Type
	gadget *meta.Type
	pkg    *meta.Type
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	names := ident.NewTable()
	reg := meta.NewRegistry(names)
	widget, err := reg.RegisterType("Widget", nil, 0, []meta.FieldDecl{{Name: "Count", Kind: meta.KindInt32, Default: int64(5)}})
	require.NoError(t, err)
	gadget, err := reg.RegisterType("Gadget", widget, 0, nil)
	require.NoError(t, err)
	pkg, err := reg.RegisterType("Package", nil, 0, nil)
	require.NoError(t, err)
	return &fixture{names: names, reg: reg, table: NewTable(names), widget: widget, gadget: gadget, pkg: pkg}
}

func TestConstructDefaults(t *testing.T) {
	f := newFixture(t)
	obj, err := f.table.Construct(Spec{Type: f.widget, Flags: FlagPublic | FlagReachable})
	require.NoError(t, err)

	assert.Equal(t, "Widget_0", f.names.String(obj.Name))
	assert.Equal(t, uint32(1), obj.Handle.Generation())
	assert.True(t, obj.Has(FlagPublic))
	assert.False(t, obj.Has(FlagReachable), "mark bits are never inherited from the spec")
	assert.Equal(t, -1, obj.LinkerIndex)
	assert.Equal(t, int32(5), obj.Root().At(f.widget.FieldNamed("Count"), 0).Int32())
	assert.Equal(t, 1, f.table.Len())

	second, err := f.table.Construct(Spec{Type: f.widget})
	require.NoError(t, err)
	assert.Equal(t, "Widget_1", f.names.String(second.Name))
}

func TestConstructNameInUse(t *testing.T) {
	f := newFixture(t)
	name := f.names.Name("Thing")
	_, err := f.table.Construct(Spec{Type: f.widget, Name: name})
	require.NoError(t, err)
	_, err = f.table.Construct(Spec{Type: f.gadget, Name: f.names.Name("THING")})
	assert.ErrorIs(t, err, ErrNameInUse)
}

func TestStaleHandleAfterRelease(t *testing.T) {
	f := newFixture(t)
	obj, err := f.table.Construct(Spec{Type: f.widget})
	require.NoError(t, err)
	old := obj.Handle

	require.NoError(t, f.table.Release(old))
	assert.False(t, f.table.Valid(old))

	_, err = f.table.Get(old)
	var stale *StaleHandleError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, uint32(2), stale.Current)

	reused, err := f.table.Construct(Spec{Type: f.widget})
	require.NoError(t, err)
	assert.Equal(t, old.Index(), reused.Handle.Index(), "slot is recycled")
	assert.NotEqual(t, old, reused.Handle)
	assert.Nil(t, f.table.Lookup(old), "old handle never aliases the new object")

	assert.Error(t, f.table.Release(old), "double release")
}

func TestGetInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.table.Get(handle.Nil)
	assert.Error(t, err)
	_, err = f.table.Get(handle.Make(99, 1))
	var stale *StaleHandleError
	require.ErrorAs(t, err, &stale)
	assert.Zero(t, stale.Current)
}

func TestFindByOuterNameAndType(t *testing.T) {
	f := newFixture(t)
	pkg, err := f.table.Construct(Spec{Type: f.pkg, Name: f.names.Name("Level")})
	require.NoError(t, err)
	g, err := f.table.Construct(Spec{Type: f.gadget, Outer: pkg.Handle, Name: f.names.Name("Door")})
	require.NoError(t, err)

	door := f.names.Name("Door")
	assert.Same(t, g, f.table.Find(pkg.Handle, door, nil))
	assert.Same(t, g, f.table.Find(pkg.Handle, door, f.widget), "subtypes satisfy the query")
	assert.Nil(t, f.table.Find(pkg.Handle, door, f.pkg))
	assert.Nil(t, f.table.Find(handle.Nil, door, nil), "outer is part of the key")

	assert.Same(t, g, f.table.FindPath([]string{"level", "door"}, f.widget))
	assert.Equal(t, "Level.Door", f.table.PathName(g.Handle))
	assert.Equal(t, "Gadget Level.Door", f.table.Describe(g.Handle))
	assert.Same(t, pkg, f.table.Outermost(g.Handle))
	assert.Equal(t, []*Object{g}, f.table.Inner(pkg.Handle))

	anon, err := f.table.Construct(Spec{Type: f.widget, Outer: pkg.Handle})
	require.NoError(t, err)
	assert.Same(t, anon, f.table.FindPath([]string{"Level", "Widget_0"}, nil))
}

func TestConstructRejectsStaleOuter(t *testing.T) {
	f := newFixture(t)
	pkg, err := f.table.Construct(Spec{Type: f.pkg})
	require.NoError(t, err)
	require.NoError(t, f.table.Release(pkg.Handle))
	_, err = f.table.Construct(Spec{Type: f.widget, Outer: pkg.Handle})
	var stale *StaleHandleError
	assert.ErrorAs(t, err, &stale)
}

func TestPassDefersSlotReuse(t *testing.T) {
	f := newFixture(t)
	a, err := f.table.Construct(Spec{Type: f.widget})
	require.NoError(t, err)

	pass, err := f.table.BeginPass()
	require.NoError(t, err)
	assert.True(t, f.table.Collecting())

	_, err = f.table.BeginPass()
	assert.ErrorIs(t, err, ErrCollecting)
	_, err = f.table.Construct(Spec{Type: f.widget})
	assert.ErrorIs(t, err, ErrCollecting)
	assert.ErrorIs(t, f.table.Release(a.Handle), ErrCollecting)

	require.NoError(t, pass.Release(a.Handle))
	assert.False(t, f.table.Valid(a.Handle), "invalid as soon as released")
	assert.Equal(t, 1, pass.Released())
	pass.End()
	pass.End()

	b, err := f.table.Construct(Spec{Type: f.widget})
	require.NoError(t, err)
	assert.Equal(t, a.Handle.Index(), b.Handle.Index())
}

func TestAllSkipsFreedSlots(t *testing.T) {
	f := newFixture(t)
	var hs []handle.Handle
	for range 4 {
		obj, err := f.table.Construct(Spec{Type: f.widget})
		require.NoError(t, err)
		hs = append(hs, obj.Handle)
	}
	require.NoError(t, f.table.Release(hs[1]))

	var seen []handle.Handle
	for obj := range f.table.All() {
		seen = append(seen, obj.Handle)
	}
	assert.Equal(t, []handle.Handle{hs[0], hs[2], hs[3]}, seen)
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "none", Flags(0).String())
	assert.Equal(t, "public|native", (FlagPublic | FlagNative).String())
}

func TestMoveReparents(t *testing.T) {
	f := newFixture(t)
	pkg, err := f.table.Construct(Spec{Type: f.pkg, Name: f.names.Name("Level")})
	require.NoError(t, err)
	w, err := f.table.Construct(Spec{Type: f.widget, Name: f.names.Name("Lamp")})
	require.NoError(t, err)
	inner, err := f.table.Construct(Spec{Type: f.widget, Outer: w.Handle, Name: f.names.Name("Bulb")})
	require.NoError(t, err)

	require.NoError(t, f.table.Move(w.Handle, pkg.Handle))
	assert.Equal(t, "Level.Lamp.Bulb", f.table.PathName(inner.Handle))
	assert.Same(t, w, f.table.FindPath([]string{"Level", "Lamp"}, nil))
	assert.Nil(t, f.table.Find(handle.Nil, f.names.Name("Lamp"), nil))
	assert.Same(t, pkg, f.table.Outermost(inner.Handle))

	assert.ErrorIs(t, f.table.Move(pkg.Handle, inner.Handle), ErrOuterCycle)

	other, err := f.table.Construct(Spec{Type: f.widget, Name: f.names.Name("Lamp")})
	require.NoError(t, err)
	assert.ErrorIs(t, f.table.Move(other.Handle, pkg.Handle), ErrNameInUse)
	assert.Same(t, other, f.table.Find(handle.Nil, f.names.Name("Lamp"), nil))
}
