package linker

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objcore/internal/archive"
	"objcore/internal/diag"
	"objcore/internal/gc"
	"objcore/internal/handle"
	"objcore/internal/ident"
	"objcore/internal/meta"
	"objcore/internal/object"
)

type fixture struct {
	t   *testing.T
	dir string
	env *Env
}

// newFixture builds an independent world (own identifiers, types and
// objects) resolving containers from dir, like a separate process would.
func newFixture(t *testing.T, dir string) *fixture {
	t.Helper()
	names := ident.NewTable()
	reg := meta.NewRegistry(names)
	_, err := reg.RegisterAll([]meta.TypeDecl{
		{Name: "Gadget", Parent: "Widget", Fields: []meta.FieldDecl{
			{Name: "Level", Kind: meta.KindInt32, Flags: []string{"persist"}},
		}},
		{Name: "Widget", Fields: []meta.FieldDecl{
			{Name: "Count", Kind: meta.KindInt32, Default: int64(0), Flags: []string{"persist"}},
			{Name: "Target", Kind: meta.KindObject, Flags: []string{"persist"}},
			{Name: "Note", Kind: meta.KindString, Flags: []string{"persist", "editor_only"}},
		}},
	})
	require.NoError(t, err)
	env, err := NewEnv(reg, object.NewTable(names), &Resolver{Paths: []string{dir}})
	require.NoError(t, err)
	return &fixture{t: t, dir: dir, env: env}
}

func (f *fixture) pkg(name string) *object.Object {
	f.t.Helper()
	p, err := f.env.CreatePackage(name)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) make(typ string, outer *object.Object, name string, flags object.Flags) *object.Object {
	f.t.Helper()
	spec := object.Spec{Type: f.env.Types.Lookup(typ), Name: f.env.Names.Name(name), Flags: flags}
	if outer != nil {
		spec.Outer = outer.Handle
	}
	obj, err := f.env.Objects.Construct(spec)
	require.NoError(f.t, err)
	return obj
}

func (f *fixture) field(obj *object.Object, name string) meta.Place {
	return obj.Root().At(obj.Type.FieldNamed(name), 0)
}

func (f *fixture) count(obj *object.Object) int32 { return f.field(obj, "Count").Int32() }
func (f *fixture) target(obj *object.Object) handle.Handle {
	return f.field(obj, "Target").Object()
}

func (f *fixture) save(pkg *object.Object, opts SaveOptions) string {
	f.t.Helper()
	path := filepath.Join(f.dir, f.env.Names.String(pkg.Name)+DefaultExtension)
	_, err := Save(context.Background(), f.env, pkg.Handle, path, opts)
	require.NoError(f.t, err)
	return path
}

func (f *fixture) load(path string, opts Options) (*Loader, *Session, error) {
	return Load(context.Background(), f.env, path, opts, nil)
}

func (f *fixture) find(path ...string) *object.Object {
	return f.env.Objects.FindPath(path, nil)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	src.field(w, "Count").SetInt32(7)
	path := src.save(pkg, SaveOptions{})
	assert.Equal(t, "t.pkg", filepath.Base(path))

	dst := newFixture(t, dir)
	l, s, err := dst.load(path, Options{})
	require.NoError(t, err)
	assert.False(t, s.Bag().HasErrors())
	assert.Equal(t, StateLoaded, l.State())
	require.Len(t, l.Exports, 1)

	got := dst.find("t", "W")
	require.NotNil(t, got)
	assert.Equal(t, "Widget", got.Type.Text)
	assert.Equal(t, int32(7), dst.count(got))
	assert.True(t, got.Has(object.FlagPublic))
	assert.False(t, got.Has(object.FlagNeedLoad))
	assert.Same(t, l, dst.env.LoaderOf(got))
	assert.Equal(t, "Widget t.W", l.ExportFullName(0))
}

func TestLoadRejectsSerialRangeBeyondPayload(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	src.make("Widget", pkg, "W", object.FlagPublic)
	path := src.save(pkg, SaveOptions{})

	peek := newFixture(t, dir)
	l, err := NewSession(context.Background(), peek.env, Options{}, nil).Open(path)
	require.NoError(t, err)
	off := int64(l.Summary.ExportOffset) + 24 // class, super, outer, name, flags
	require.NoError(t, l.Detach())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[off:], uint32(len(data)))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	dst := newFixture(t, dir)
	_, s, err := dst.load(path, Options{})
	require.Error(t, err)
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, diag.FmtSerialRange, fe.Code)
	assert.ErrorIs(t, err, ErrSerialRange)
	assert.True(t, s.Bag().HasCode(diag.FmtSerialRange))
	assert.Nil(t, dst.find("t", "W"))
}

func TestPreloadStopsAtSerialSize(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	v := src.make("Widget", pkg, "V", object.FlagPublic)
	src.field(w, "Count").SetInt32(7)
	src.field(v, "Target").SetObject(w.Handle)
	path := src.save(pkg, SaveOptions{})

	peek := newFixture(t, dir)
	l, err := NewSession(context.Background(), peek.env, Options{}, nil).Open(path)
	require.NoError(t, err)
	require.Equal(t, "W", peek.env.Names.String(l.Exports[0].ObjectName))
	off := int64(l.Summary.ExportOffset) + 24
	size := l.Exports[0].SerialSize
	require.NoError(t, l.Detach())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[off:], uint32(size-2))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	dst := newFixture(t, dir)
	_, s, err := dst.load(path, Options{})
	require.Error(t, err)
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, diag.FmtSerialSize, fe.Code)
	assert.ErrorIs(t, err, ErrSerialSize)
	assert.ErrorIs(t, err, archive.ErrPastWindow)
	assert.True(t, s.Bag().HasCode(diag.FmtSerialSize))
}

func TestImportExportSymmetry(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	a := src.pkg("a")
	x := src.make("Widget", a, "X", object.FlagPublic)
	src.field(x, "Count").SetInt32(3)
	src.save(a, SaveOptions{})
	b := src.pkg("b")
	y := src.make("Widget", b, "Y", object.FlagPublic)
	src.field(y, "Target").SetObject(x.Handle)
	bPath := src.save(b, SaveOptions{})

	viaImport := newFixture(t, dir)
	lb, s, err := viaImport.load(bPath, Options{})
	require.NoError(t, err)
	assert.False(t, s.Bag().HasErrors())
	gotY := viaImport.find("b", "Y")
	require.NotNil(t, gotY)
	gotX := viaImport.env.Objects.Lookup(viaImport.target(gotY))
	require.NotNil(t, gotX)
	assert.Equal(t, "a.X", viaImport.env.Objects.PathName(gotX.Handle))
	assert.NotNil(t, viaImport.env.Loader("a"))
	assert.NotSame(t, lb, viaImport.env.LoaderOf(gotX))

	direct := newFixture(t, dir)
	_, _, err = direct.load(filepath.Join(dir, "a.pkg"), Options{})
	require.NoError(t, err)
	directX := direct.find("a", "X")
	require.NotNil(t, directX)
	assert.Equal(t, directX.Type.Text, gotX.Type.Text)
	assert.Equal(t, direct.count(directX), viaImport.count(gotX))
	assert.Equal(t, int32(3), viaImport.count(gotX))
}

func TestCycleSafety(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("c")
	p := src.make("Widget", pkg, "P", object.FlagPublic)
	q := src.make("Widget", pkg, "Q", 0)
	r := src.make("Widget", pkg, "R", object.FlagStandalone)
	src.field(p, "Target").SetObject(q.Handle)
	src.field(q, "Target").SetObject(p.Handle)
	src.field(r, "Target").SetObject(r.Handle)
	path := src.save(pkg, SaveOptions{})

	dst := newFixture(t, dir)
	_, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	gp, gq, gr := dst.find("c", "P"), dst.find("c", "Q"), dst.find("c", "R")
	require.NotNil(t, gp)
	require.NotNil(t, gq)
	require.NotNil(t, gr)
	assert.NotEqual(t, gp.Handle, gq.Handle)
	assert.Equal(t, gq.Handle, dst.target(gp))
	assert.Equal(t, gp.Handle, dst.target(gq))
	assert.Equal(t, gr.Handle, dst.target(gr))
	assert.False(t, gq.Has(object.FlagPublic))
}

func TestMissingImportReportedOnceAndCached(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	a := src.pkg("a")
	x := src.make("Widget", a, "X", object.FlagPublic)
	aPath := src.save(a, SaveOptions{})
	b := src.pkg("b")
	y := src.make("Widget", b, "Y", object.FlagPublic)
	src.field(y, "Target").SetObject(x.Handle)
	src.field(y, "Count").SetInt32(5)
	bPath := src.save(b, SaveOptions{})
	require.NoError(t, os.Remove(aPath))

	dst := newFixture(t, dir)
	l, s, err := dst.load(bPath, Options{})
	require.NoError(t, err, "a missing import does not fail the container")
	assert.True(t, s.Bag().HasCode(diag.RefMissingContainer))
	gotY := dst.find("b", "Y")
	require.NotNil(t, gotY)
	assert.Equal(t, handle.Nil, dst.target(gotY))
	assert.Equal(t, int32(5), dst.count(gotY))

	idx := -1
	for i := range l.Imports {
		if dst.env.Names.String(l.Imports[i].ObjectName) == "X" {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.True(t, l.Imports[idx].Missing())

	before := s.Bag().Len()
	assert.Equal(t, handle.Nil, l.CreateImport(s, idx))
	assert.Equal(t, before, s.Bag().Len())
}

func TestLoadRejectsBadTag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.pkg")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a container"), 0o644))

	f := newFixture(t, dir)
	_, s, err := f.load(path, Options{})
	require.ErrorIs(t, err, ErrBadTag)
	assert.True(t, s.Bag().HasCode(diag.FmtBadTag))
	assert.Nil(t, f.env.Loader("junk"))
}

func TestLoadTruncatedContainer(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	src.make("Widget", pkg, "W", object.FlagPublic)
	path := src.save(pkg, SaveOptions{})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:20], 0o644))

	_, _, err = newFixture(t, dir).load(path, Options{})
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Code.Fatal())
}

func TestVersionGates(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("old")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	src.field(w, "Count").SetInt32(11)
	path := src.save(pkg, SaveOptions{Version: archive.Version{File: 64}})

	dst := newFixture(t, dir)
	l, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint16(64), l.Version().File)
	assert.Empty(t, l.Summary.Generations)
	assert.Equal(t, int32(11), dst.count(dst.find("old", "W")))

	strict := newFixture(t, dir)
	_, s, err := strict.load(path, Options{MinVersion: archive.VersionGenerations})
	require.ErrorIs(t, err, ErrVersionTooOld)
	assert.True(t, s.Bag().HasCode(diag.FmtVersionTooOld))
}

func TestLoadOtherByteOrder(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("be")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	src.field(w, "Count").SetInt32(0x01020304)

	archive.SetByteSwap(true)
	t.Cleanup(func() { archive.SetByteSwap(false) })
	path := src.save(pkg, SaveOptions{})
	archive.SetByteSwap(false)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Tag, binary.BigEndian.Uint32(data))

	dst := newFixture(t, dir)
	_, _, err = dst.load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(0x01020304), dst.count(dst.find("be", "W")))
}

func TestBinaryMode(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("bin")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	v := src.make("Widget", pkg, "V", object.FlagPublic)
	src.field(w, "Count").SetInt32(7)
	src.field(w, "Target").SetObject(v.Handle)
	path := src.save(pkg, SaveOptions{Mode: meta.Binary})

	dst := newFixture(t, dir)
	l, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, meta.Binary, l.Mode())
	assert.NotZero(t, l.Summary.PackageFlags&PkgBinary)
	gw := dst.find("bin", "W")
	assert.Equal(t, int32(7), dst.count(gw))
	assert.Equal(t, dst.find("bin", "V").Handle, dst.target(gw))
}

func TestEditorOnlyExportsNeedEditContext(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("ed")
	src.make("Widget", pkg, "Game", object.FlagPublic)
	e := src.make("Widget", pkg, "Gizmo", object.FlagPublic|object.FlagEditorOnly)
	src.field(e, "Note").SetText("only in the editor")
	path := src.save(pkg, SaveOptions{})

	game := newFixture(t, dir)
	_, s, err := game.load(path, Options{})
	require.NoError(t, err)
	assert.NotNil(t, game.find("ed", "Game"))
	assert.Nil(t, game.find("ed", "Gizmo"))
	assert.True(t, s.Bag().HasCode(diag.RefContextExcluded))

	editor := newFixture(t, dir)
	_, _, err = editor.load(path, Options{ForEdit: true})
	require.NoError(t, err)
	gz := editor.find("ed", "Gizmo")
	require.NotNil(t, gz)
	assert.True(t, gz.Has(object.FlagEditorOnly))
	assert.Equal(t, "only in the editor", editor.field(gz, "Note").Text())
}

func TestCookStripsEditorOnly(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("cooked")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	src.field(w, "Note").SetText("dropped")
	src.make("Widget", pkg, "Gizmo", object.FlagPublic|object.FlagEditorOnly)
	path := src.save(pkg, SaveOptions{Cook: true})

	dst := newFixture(t, dir)
	l, _, err := dst.load(path, Options{ForEdit: true})
	require.NoError(t, err)
	assert.Len(t, l.Exports, 1)
	assert.NotZero(t, l.Summary.PackageFlags&PkgCooked)
	assert.Empty(t, dst.field(dst.find("cooked", "W"), "Note").Text())
}

func TestSubobjectsAndComponents(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("nest")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	c := src.make("Gadget", w, "Part", 0)
	src.field(w, "Target").SetObject(c.Handle)
	path := src.save(pkg, SaveOptions{})

	dst := newFixture(t, dir)
	l, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	info := l.Inspect()
	require.Len(t, info.Exports, 2)
	var paths []string
	for _, e := range info.Exports {
		paths = append(paths, e.Path)
		if e.Path == "nest.W" {
			assert.Equal(t, []string{"Part"}, e.Components)
		}
	}
	assert.ElementsMatch(t, []string{"nest.W", "nest.W.Part"}, paths)

	gw := dst.find("nest", "W")
	part := dst.find("nest", "W", "Part")
	require.NotNil(t, part)
	assert.Equal(t, gw.Handle, part.Outer)
	assert.Equal(t, "Gadget", part.Type.Text)
	assert.Equal(t, part.Handle, dst.target(gw))
}

func TestFindExportIndexAcceptsSubclass(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("kinds")
	src.make("Gadget", pkg, "G", object.FlagPublic)
	path := src.save(pkg, SaveOptions{})

	dst := newFixture(t, dir)
	l, err := NewSession(context.Background(), dst.env, Options{}, nil).Open(path)
	require.NoError(t, err)
	n := dst.env.Names.Name
	core := n(meta.DefaultPackage)
	assert.Equal(t, 0, l.FindExportIndex(n("Gadget"), core, n("G"), 0))
	assert.Equal(t, 0, l.FindExportIndex(n("Widget"), core, n("G"), 0))
	assert.Equal(t, -1, l.FindExportIndex(n("Package"), core, n("G"), 0))
	assert.Equal(t, -1, l.FindExportIndex(n("Gadget"), core, n("Nope"), 0))
}

func TestSaveConformsToPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	src.make("Widget", pkg, "W", object.FlagPublic)
	path := src.save(pkg, SaveOptions{})

	dst := newFixture(t, dir)
	l, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	require.Len(t, l.Summary.Generations, 1)
	guid := l.Summary.GUID
	require.NoError(t, l.Detach())

	_, err = Save(context.Background(), dst.env, l.Root(), path, SaveOptions{Conform: l})
	require.NoError(t, err)

	again := newFixture(t, dir)
	l2, _, err := again.load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, guid, l2.Summary.GUID)
	assert.Len(t, l2.Summary.Generations, 2)
}

func TestSaveRejectsPrivateImport(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	a := src.pkg("a")
	secret := src.make("Widget", a, "Secret", 0)
	b := src.pkg("b")
	y := src.make("Widget", b, "Y", object.FlagPublic)
	src.field(y, "Target").SetObject(secret.Handle)

	res, err := Save(context.Background(), src.env, b.Handle, filepath.Join(dir, "b.pkg"), SaveOptions{})
	require.ErrorIs(t, err, ErrPrivateImport)
	assert.True(t, res.Bag.HasErrors())
	_, statErr := os.Stat(filepath.Join(dir, "b.pkg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSaveDropsTransientReference(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	tmp := src.make("Widget", nil, "Scratch", object.FlagTransient)
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	src.field(w, "Target").SetObject(tmp.Handle)

	res, err := Save(context.Background(), src.env, pkg.Handle, filepath.Join(dir, "t.pkg"), SaveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Bag.HasCode(diag.SaveTransientRef))
	assert.Equal(t, 1, res.Exports)

	dst := newFixture(t, dir)
	_, _, err = dst.load(res.Path, Options{})
	require.NoError(t, err)
	assert.Equal(t, handle.Nil, dst.target(dst.find("t", "W")))
}

func TestSaveRequiresPackage(t *testing.T) {
	src := newFixture(t, t.TempDir())
	w := src.make("Widget", nil, "Loose", 0)
	_, err := NewSaver(src.env, w.Handle, SaveOptions{})
	require.ErrorIs(t, err, ErrNotPackage)

	empty := src.pkg("empty")
	_, err = Save(context.Background(), src.env, empty.Handle, filepath.Join(src.dir, "empty.pkg"), SaveOptions{})
	require.ErrorIs(t, err, ErrNothingToExport)
}

func TestDetachKeepsObjects(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	src.field(w, "Count").SetInt32(7)
	path := src.save(pkg, SaveOptions{})

	dst := newFixture(t, dir)
	l, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	got := dst.find("t", "W")
	require.NoError(t, l.Detach())

	assert.Equal(t, StateDetached, l.State())
	assert.Nil(t, dst.env.Loader("t"))
	assert.Nil(t, got.Linker)
	assert.Equal(t, -1, got.LinkerIndex)
	assert.Equal(t, int32(7), dst.count(got))
	assert.NoError(t, l.Detach())
}

func TestCollectedExportsAreRecreated(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	src.field(w, "Count").SetInt32(7)
	path := src.save(pkg, SaveOptions{})

	dst := newFixture(t, dir)
	l, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	dst.env.Objects.Lookup(l.Root()).Set(object.FlagRoot)
	old := dst.find("t", "W").Handle

	stats, err := gc.New(dst.env.Objects, gc.Config{Detach: dst.env.DetachObject}).Collect(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.Swept)
	assert.False(t, dst.env.Objects.Valid(old))
	assert.Equal(t, handle.Nil, l.Exports[0].Object())

	s := NewSession(context.Background(), dst.env, Options{}, nil)
	h := l.CreateExport(s, 0)
	require.False(t, h.IsNil())
	assert.True(t, dst.env.Objects.Lookup(h).Has(object.FlagNeedLoad))
	s.Flush()
	assert.Equal(t, int32(7), dst.count(dst.env.Objects.Lookup(h)))
}

func TestCollectedPackageClosesLoader(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	a := src.pkg("a")
	x := src.make("Widget", a, "X", object.FlagPublic)
	src.field(x, "Count").SetInt32(3)
	src.save(a, SaveOptions{})
	b := src.pkg("b")
	y := src.make("Widget", b, "Y", object.FlagPublic)
	src.field(y, "Target").SetObject(x.Handle)
	src.field(y, "Count").SetInt32(7)
	bPath := src.save(b, SaveOptions{})

	dst := newFixture(t, dir)
	first, _, err := dst.load(bPath, Options{})
	require.NoError(t, err)
	require.NotNil(t, dst.env.Loader("a"))
	oldRoot := first.Root()

	// ничего не укоренено: оба пакета уходят
	_, err = gc.New(dst.env.Objects, gc.Config{Detach: dst.env.DetachObject}).Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, dst.env.Objects.Valid(oldRoot))
	assert.Equal(t, StateDetached, first.State())
	assert.Nil(t, dst.env.Loader("a"))
	assert.Nil(t, dst.env.Loader("b"))

	second, s, err := dst.load(bPath, Options{})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, dst.env.Objects.Valid(second.Root()))
	assert.False(t, s.Bag().HasErrors(), "%v", s.Bag().Items())

	gotY := dst.find("b", "Y")
	require.NotNil(t, gotY)
	assert.Equal(t, int32(7), dst.count(gotY))
	gotX := dst.env.Objects.Lookup(dst.target(gotY))
	require.NotNil(t, gotX)
	assert.Equal(t, "a.X", dst.env.Objects.PathName(gotX.Handle))
	assert.Equal(t, int32(3), dst.count(gotX))
}

func TestStaleLoaderIsReopened(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t, dir)
	pkg := src.pkg("t")
	w := src.make("Widget", pkg, "W", object.FlagPublic)
	src.field(w, "Count").SetInt32(7)
	path := src.save(pkg, SaveOptions{})

	dst := newFixture(t, dir)
	first, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	// пакет освобождён мимо сборщика: loader узнаёт об этом при следующем Open
	require.NoError(t, dst.env.Objects.Release(first.Exports[0].Object()))
	require.NoError(t, dst.env.Objects.Release(first.Root()))

	second, _, err := dst.load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateDetached, first.State())
	assert.True(t, dst.env.Objects.Valid(second.Root()))
	got := dst.find("t", "W")
	require.NotNil(t, got)
	assert.Equal(t, int32(7), dst.count(got))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "tables-read", StateTablesRead.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.Equal(t, "payload-written", SavePayloadWritten.String())
	p, err := ParsePolicy("Reachable")
	require.NoError(t, err)
	assert.Equal(t, SaveReachable, p)
	_, err = ParsePolicy("bogus")
	assert.Error(t, err)
}
