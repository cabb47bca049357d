package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objcore/internal/handle"
	"objcore/internal/ident"
)

type record struct {
	a  uint8
	b  bool
	c  uint16
	d  int32
	e  uint64
	f  float32
	g  float64
	s  string
	bs []byte
	n  ident.Name
	h  handle.Handle
}

func (r *record) serialize(ar *Archive) {
	ar.SerializeU8(&r.a)
	ar.SerializeBool(&r.b)
	ar.SerializeU16(&r.c)
	ar.SerializeI32(&r.d)
	ar.SerializeU64(&r.e)
	ar.SerializeF32(&r.f)
	ar.SerializeF64(&r.g)
	ar.SerializeString(&r.s)
	ar.SerializeBytes(&r.bs)
	ar.SerializeName(&r.n)
	ar.SerializeObject(&r.h)
}

func TestArchiveSymmetric(t *testing.T) {
	in := record{
		a: 7, b: true, c: 0xBEEF, d: -12345, e: 1 << 40,
		f: 1.5, g: -2.25, s: "hello", bs: []byte{1, 2, 3},
		n: ident.Name{ID: 9, Number: 2}, h: handle.Make(4, 3),
	}
	w := NewMemoryWriter()
	sv := NewSaver(w, Persistent())
	in.serialize(sv)
	require.NoError(t, sv.Err())

	var out record
	ld := NewLoader(NewMemoryReader(w.Bytes()), Persistent())
	out.serialize(ld)
	require.NoError(t, ld.Err())
	assert.Equal(t, in, out)
	assert.Zero(t, ld.Remaining())
}

func TestArchiveLittleEndianOnDisk(t *testing.T) {
	w := NewMemoryWriter()
	v := uint32(0x9E2A83C1)
	NewSaver(w, Persistent()).SerializeU32(&v)
	assert.Equal(t, []byte{0xC1, 0x83, 0x2A, 0x9E}, w.Bytes())
}

func TestArchiveByteSwap(t *testing.T) {
	SetByteSwap(true)
	defer SetByteSwap(false)

	w := NewMemoryWriter()
	v := uint32(0x01020304)
	sv := NewSaver(w, Persistent())
	require.True(t, sv.Swapped())
	sv.SerializeU32(&v)
	assert.Equal(t, []byte{1, 2, 3, 4}, w.Bytes())

	// archives created before the flag changed keep their order
	ld := NewLoader(NewMemoryReader(w.Bytes()), Persistent())
	SetByteSwap(false)
	var got uint32
	ld.SerializeU32(&got)
	assert.Equal(t, v, got)
}

func TestArchiveStickyError(t *testing.T) {
	ld := NewLoader(NewMemoryReader([]byte{1, 2}), Persistent())
	var v uint32 = 99
	ld.SerializeU32(&v)
	require.Error(t, ld.Err())
	assert.True(t, errors.Is(ld.Err(), ErrTruncated))
	assert.Zero(t, v, "failed reads produce zero values")

	first := ld.Err()
	var s string = "keep?"
	ld.SerializeString(&s)
	assert.Empty(t, s)
	assert.Equal(t, first, ld.Err(), "the first error stays recorded")
}

func TestArchiveRejectsHugeLength(t *testing.T) {
	w := NewMemoryWriter()
	n := int32(1 << 20)
	NewSaver(w, Persistent()).SerializeI32(&n)

	var s string
	ld := NewLoader(NewMemoryReader(w.Bytes()), Persistent())
	ld.SerializeString(&s)
	assert.ErrorIs(t, ld.Err(), ErrTooLarge)

	w = NewMemoryWriter()
	n = -1
	NewSaver(w, Persistent()).SerializeI32(&n)
	ld = NewLoader(NewMemoryReader(w.Bytes()), Persistent())
	ld.SerializeString(&s)
	assert.ErrorIs(t, ld.Err(), ErrNegativeLength)
}

func TestWindowStopsAtEnd(t *testing.T) {
	w := NewMemoryWriter()
	sv := NewSaver(w, Persistent())
	for _, v := range []uint32{1, 2, 3} {
		sv.SerializeU32(&v)
	}
	base := NewLoader(NewMemoryReader(w.Bytes()), Persistent())

	win := base.Window(4, 4)
	win.Seek(4)
	assert.Equal(t, int64(4), win.Remaining())
	var got uint32
	win.SerializeU32(&got)
	require.NoError(t, win.Err())
	assert.Equal(t, uint32(2), got)
	assert.Zero(t, win.Remaining())

	win.SerializeU32(&got)
	assert.ErrorIs(t, win.Err(), ErrPastWindow)
	assert.Zero(t, got)
	assert.Equal(t, int64(8), base.Pos(), "the bytes behind the window are not consumed")
	assert.NoError(t, base.Err())

	bad := base.Window(4, 4)
	bad.Seek(0)
	assert.ErrorIs(t, bad.Err(), ErrSeekRange)
}

func TestMemoryWriterBackPatch(t *testing.T) {
	w := NewMemoryWriter()
	sv := NewSaver(w, Persistent())
	var placeholder uint32
	sv.SerializeU32(&placeholder)
	payload := uint32(5)
	sv.SerializeU32(&payload)

	end := sv.Pos()
	sv.Seek(0)
	patched := uint32(0xAABBCCDD)
	sv.SerializeU32(&patched)
	sv.Seek(end)
	require.NoError(t, sv.Err())
	assert.Equal(t, int64(8), w.Size())

	ld := NewLoader(NewMemoryReader(w.Bytes()), Persistent())
	var a, b uint32
	ld.SerializeU32(&a)
	ld.SerializeU32(&b)
	assert.Equal(t, patched, a)
	assert.Equal(t, payload, b)
}

func TestFileWriterCommit(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "sub", "out.pkg")

	fw, err := CreateFile(dest)
	require.NoError(t, err)
	sv := NewSaver(fw, Persistent())
	msg := "container"
	sv.SerializeString(&msg)
	require.NoError(t, sv.Err())

	_, err = os.Stat(dest)
	require.True(t, os.IsNotExist(err), "destination must not exist before commit")
	require.NoError(t, fw.Commit())

	fr, err := OpenFile(dest)
	require.NoError(t, err)
	defer fr.Close()
	var got string
	ld := NewLoader(fr, Persistent())
	ld.SerializeString(&got)
	require.NoError(t, ld.Err())
	assert.Equal(t, msg, got)
}

func TestFileWriterAbort(t *testing.T) {
	dir := t.TempDir()
	fw, err := CreateFile(filepath.Join(dir, "x.pkg"))
	require.NoError(t, err)
	fw.Abort()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrefetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x2A, 0, 0, 0}, 0o644))

	r := Prefetch(context.Background(), path)
	ld := NewLoader(r, Persistent())
	var v uint32
	ld.SerializeU32(&v)
	require.NoError(t, ld.Err())
	assert.Equal(t, uint32(42), v)

	missing := Prefetch(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, missing.Wait())
}

func TestChecksumStable(t *testing.T) {
	sum := func(s string) uint64 {
		c := NewChecksum()
		sv := NewSaver(c, Persistent())
		sv.SerializeString(&s)
		return c.Sum64()
	}
	assert.Equal(t, sum("abc"), sum("abc"))
	assert.NotEqual(t, sum("abc"), sum("abd"))

	c := NewChecksum()
	assert.ErrorIs(t, c.Seek(10), ErrNotSeekable)
}

func TestTextNamesMapper(t *testing.T) {
	src := ident.NewTable()
	dst := ident.NewTable()
	dst.Intern("Padding") // shift IDs so raw copying would break
	n := src.MakeUnique("Widget")

	w := NewMemoryWriter()
	NewSaver(w, WithMapper(TextNames{Names: src})).SerializeName(&n)

	var out ident.Name
	ld := NewLoader(NewMemoryReader(w.Bytes()), WithMapper(TextNames{Names: dst}))
	ld.SerializeName(&out)
	require.NoError(t, ld.Err())
	assert.Equal(t, "Widget_0", dst.String(out))
}

func TestVersionPacking(t *testing.T) {
	v := Version{File: 72, Licensee: 3}
	assert.Equal(t, uint32(3<<16|72), v.Packed())
	assert.Equal(t, v, Unpack(v.Packed()))
	assert.True(t, v.AtLeast(VersionGenerations))
	assert.Equal(t, uint32(5), Negotiate(5, 9))
}
