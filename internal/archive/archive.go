package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"objcore/internal/diag"
	"objcore/internal/handle"
	"objcore/internal/ident"
)

var (
	ErrTruncated      = errors.New("archive: truncated stream")
	ErrNegativeLength = errors.New("archive: negative length prefix")
	ErrTooLarge       = errors.New("archive: length prefix exceeds stream")
	ErrNotSeekable    = errors.New("archive: backend is not seekable")
	ErrSeekRange      = errors.New("archive: seek out of range")
	ErrPastWindow     = errors.New("archive: read past the end of the window")
)

// MaxStringLength caps length prefixes on streams whose size is unknown.
const MaxStringLength = 1 << 24

// Backend is the only thing a concrete archive has to implement.
type Backend interface {
	// Raw reads len(p) bytes into p on loading backends and writes p on
	// saving backends.
	Raw(p []byte) error
	Seek(pos int64) error
	Tell() int64
	// Size returns the stream length, or -1 when unknown.
	Size() int64
}

// Mapper decides how names and object references are encoded. Loading and
// saving linkers map them to table indices; transient archives pass them
// through unchanged.
type Mapper interface {
	Name(ar *Archive, n *ident.Name)
	Object(ar *Archive, h *handle.Handle)
}

var byteSwap atomic.Bool

// SetByteSwap flips the on-disk byte order for persistent archives created
// afterwards (little-endian by default, big-endian when set).
func SetByteSwap(on bool) { byteSwap.Store(on) }

// ByteSwap reports the process-wide swap flag.
func ByteSwap() bool { return byteSwap.Load() }

// Archive is a cursor over a Backend with typed primitives. Errors are
// sticky: after the first failure reads produce zero values and writes are
// dropped; callers check Err after a top-level operation.
type Archive struct {
	be         Backend
	mapper     Mapper
	loading    bool
	persistent bool
	swapped    bool
	forEdit    bool
	ver        Version
	err        error

	reporter diag.Reporter
	loc      diag.Location

	scratch [8]byte
}

// Option configures an Archive.
type Option func(*Archive)

// WithMapper installs the name/object mapper.
func WithMapper(m Mapper) Option { return func(a *Archive) { a.mapper = m } }

// Persistent makes the archive use the on-disk byte order.
func Persistent() Option {
	return func(a *Archive) {
		a.persistent = true
		a.swapped = ByteSwap()
	}
}

// WithVersion sets the format version reported to serializers.
func WithVersion(v Version) Option { return func(a *Archive) { a.ver = v } }

// WithReporter attaches a diagnostics sink used by field decoding.
func WithReporter(r diag.Reporter, loc diag.Location) Option {
	return func(a *Archive) {
		a.reporter = r
		a.loc = loc
	}
}

// ForEdit keeps editor-only fields.
func ForEdit(on bool) Option { return func(a *Archive) { a.forEdit = on } }

// NewLoader returns a loading archive over be.
func NewLoader(be Backend, opts ...Option) *Archive {
	return newArchive(be, true, opts)
}

// NewSaver returns a saving archive over be.
func NewSaver(be Backend, opts ...Option) *Archive {
	return newArchive(be, false, opts)
}

func newArchive(be Backend, loading bool, opts []Option) *Archive {
	a := &Archive{be: be, loading: loading, mapper: Passthrough{}, ver: Current}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fork returns a saving archive over be that shares this archive's mapper,
// byte order, version and reporting. Serializers use it to measure a value
// before writing its size prefix.
func (a *Archive) Fork(be Backend) *Archive {
	return &Archive{
		be:         be,
		mapper:     a.mapper,
		persistent: a.persistent,
		swapped:    a.swapped,
		forEdit:    a.forEdit,
		ver:        a.ver,
		reporter:   a.reporter,
		loc:        a.loc,
	}
}

// Window returns a loading archive over [start, start+size) of this
// archive's stream, sharing its mapper, byte order, version and reporting.
// Positions stay absolute. Reads crossing the end fail with ErrPastWindow
// before any byte behind it is consumed.
func (a *Archive) Window(start, size int64) *Archive {
	return &Archive{
		be:         &window{be: a.be, start: start, end: start + size},
		mapper:     a.mapper,
		loading:    true,
		persistent: a.persistent,
		swapped:    a.swapped,
		forEdit:    a.forEdit,
		ver:        a.ver,
		reporter:   a.reporter,
		loc:        a.loc,
	}
}

type window struct {
	be         Backend
	start, end int64
}

func (w *window) Raw(p []byte) error {
	if pos := w.be.Tell(); pos+int64(len(p)) > w.end {
		return fmt.Errorf("%w: %d bytes at %d, window ends at %d", ErrPastWindow, len(p), pos, w.end)
	}
	return w.be.Raw(p)
}

func (w *window) Seek(pos int64) error {
	if pos < w.start || pos > w.end {
		return fmt.Errorf("%w: %d outside [%d, %d]", ErrSeekRange, pos, w.start, w.end)
	}
	return w.be.Seek(pos)
}

func (w *window) Tell() int64 { return w.be.Tell() }
func (w *window) Size() int64 { return w.end }

func (a *Archive) IsLoading() bool { return a.loading }
func (a *Archive) IsSaving() bool { return !a.loading }
func (a *Archive) IsPersistent() bool { return a.persistent }
func (a *Archive) ForEdit() bool { return a.forEdit }
func (a *Archive) Version() Version { return a.ver }
func (a *Archive) SetVersion(v Version) {
	a.ver = v
}
func (a *Archive) Mapper() Mapper { return a.mapper }
func (a *Archive) SetMapper(m Mapper) { a.mapper = m }
func (a *Archive) Location() diag.Location { return a.loc }

// SetReporter replaces the diagnostics sink.
func (a *Archive) SetReporter(r diag.Reporter) { a.reporter = r }

// SetLocation changes the location attached to field diagnostics.
func (a *Archive) SetLocation(loc diag.Location) { a.loc = loc }

// Swapped reports whether multi-byte values are big-endian.
func (a *Archive) Swapped() bool { return a.swapped }

// SetSwapped overrides the byte order of this archive only. The loader uses
// it when the container tag reads back byte-swapped.
func (a *Archive) SetSwapped(on bool) { a.swapped = on }

func (a *Archive) order() binary.ByteOrder {
	if !a.persistent {
		return binary.NativeEndian
	}
	if a.swapped {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Err returns the first error recorded on the archive.
func (a *Archive) Err() error { return a.err }

// Fail records err unless an earlier error is already stored.
func (a *Archive) Fail(err error) {
	if err != nil && a.err == nil {
		a.err = err
	}
}

// Pos returns the cursor position.
func (a *Archive) Pos() int64 { return a.be.Tell() }

// Len returns the stream length or -1.
func (a *Archive) Len() int64 { return a.be.Size() }

// Remaining returns the bytes left before the end, or -1 when unknown.
func (a *Archive) Remaining() int64 {
	n := a.be.Size()
	if n < 0 {
		return -1
	}
	return n - a.be.Tell()
}

// Seek moves the cursor. Seeking after an error is still honoured so a
// linker can reposition for the next export.
func (a *Archive) Seek(pos int64) {
	if err := a.be.Seek(pos); err != nil {
		a.Fail(fmt.Errorf("seek %d: %w", pos, err))
	}
}

// Report forwards a diagnostic at the archive's location.
func (a *Archive) Report(code diag.Code, sev diag.Severity, msg string) {
	if a.reporter == nil {
		return
	}
	a.reporter.Report(code, sev, a.loc, msg, nil)
}

// SerializeRaw moves len(p) bytes between p and the backend.
func (a *Archive) SerializeRaw(p []byte) {
	if len(p) == 0 {
		return
	}
	if a.err != nil {
		if a.loading {
			clear(p)
		}
		return
	}
	if err := a.be.Raw(p); err != nil {
		a.Fail(err)
		if a.loading {
			clear(p)
		}
	}
}

func (a *Archive) SerializeU8(v *uint8) {
	b := a.scratch[:1]
	if !a.loading {
		b[0] = *v
	}
	a.SerializeRaw(b)
	if a.loading {
		*v = b[0]
	}
}

func (a *Archive) SerializeBool(v *bool) {
	var b uint8
	if *v {
		b = 1
	}
	a.SerializeU8(&b)
	if a.loading {
		*v = b != 0
	}
}

func (a *Archive) SerializeU16(v *uint16) {
	b := a.scratch[:2]
	if !a.loading {
		a.order().PutUint16(b, *v)
	}
	a.SerializeRaw(b)
	if a.loading {
		*v = a.order().Uint16(b)
	}
}

func (a *Archive) SerializeU32(v *uint32) {
	b := a.scratch[:4]
	if !a.loading {
		a.order().PutUint32(b, *v)
	}
	a.SerializeRaw(b)
	if a.loading {
		*v = a.order().Uint32(b)
	}
}

func (a *Archive) SerializeI32(v *int32) {
	u := uint32(*v)
	a.SerializeU32(&u)
	if a.loading {
		*v = int32(u)
	}
}

func (a *Archive) SerializeU64(v *uint64) {
	b := a.scratch[:8]
	if !a.loading {
		a.order().PutUint64(b, *v)
	}
	a.SerializeRaw(b)
	if a.loading {
		*v = a.order().Uint64(b)
	}
}

func (a *Archive) SerializeI64(v *int64) {
	u := uint64(*v)
	a.SerializeU64(&u)
	if a.loading {
		*v = int64(u)
	}
}

func (a *Archive) SerializeF32(v *float32) {
	u := math.Float32bits(*v)
	a.SerializeU32(&u)
	if a.loading {
		*v = math.Float32frombits(u)
	}
}

func (a *Archive) SerializeF64(v *float64) {
	u := math.Float64bits(*v)
	a.SerializeU64(&u)
	if a.loading {
		*v = math.Float64frombits(u)
	}
}

// SerializeLength handles an int32 element count, validating it against the
// bytes left in the stream (each element needs at least minElem bytes).
func (a *Archive) SerializeLength(n *int, minElem int) {
	var v int32
	if !a.loading {
		if *n > math.MaxInt32 {
			a.Fail(fmt.Errorf("%w: %d", ErrTooLarge, *n))
			return
		}
		v = int32(*n)
	}
	a.SerializeI32(&v)
	if !a.loading {
		return
	}
	if a.err != nil {
		*n = 0
		return
	}
	if v < 0 {
		a.Fail(fmt.Errorf("%w: %d", ErrNegativeLength, v))
		*n = 0
		return
	}
	limit := a.Remaining()
	if limit < 0 {
		limit = MaxStringLength
	}
	if minElem > 0 && int64(v)*int64(minElem) > limit {
		a.Fail(fmt.Errorf("%w: %d elements of >=%d bytes, %d left", ErrTooLarge, v, minElem, limit))
		*n = 0
		return
	}
	*n = int(v)
}

// SerializeBytes handles an int32 length followed by raw bytes.
func (a *Archive) SerializeBytes(p *[]byte) {
	n := len(*p)
	a.SerializeLength(&n, 1)
	if a.loading {
		if n == 0 {
			*p = nil
			return
		}
		*p = make([]byte, n)
	}
	a.SerializeRaw(*p)
}

// SerializeString handles a length-prefixed UTF-8 string.
func (a *Archive) SerializeString(s *string) {
	if a.loading {
		var b []byte
		a.SerializeBytes(&b)
		*s = string(b)
		return
	}
	b := []byte(*s)
	a.SerializeBytes(&b)
}

// SerializeName delegates to the mapper.
func (a *Archive) SerializeName(n *ident.Name) {
	a.mapper.Name(a, n)
}

// SerializeObject delegates to the mapper.
func (a *Archive) SerializeObject(h *handle.Handle) {
	a.mapper.Object(a, h)
}
