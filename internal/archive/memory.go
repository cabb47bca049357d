package archive

import (
	"fmt"
	"io"
)

// MemoryReader reads from a byte slice it does not own.
type MemoryReader struct {
	data []byte
	pos  int64
}

// NewMemoryReader wraps data.
func NewMemoryReader(data []byte) *MemoryReader {
	return &MemoryReader{data: data}
}

func (m *MemoryReader) Raw(p []byte) error {
	if m.pos+int64(len(p)) > int64(len(m.data)) {
		n := copy(p, m.data[min(m.pos, int64(len(m.data))):])
		m.pos = int64(len(m.data))
		return fmt.Errorf("%w: wanted %d bytes, got %d", ErrTruncated, len(p), n)
	}
	copy(p, m.data[m.pos:])
	m.pos += int64(len(p))
	return nil
}

func (m *MemoryReader) Seek(pos int64) error {
	if pos < 0 || pos > int64(len(m.data)) {
		return fmt.Errorf("%w: %d of %d", ErrSeekRange, pos, len(m.data))
	}
	m.pos = pos
	return nil
}

func (m *MemoryReader) Tell() int64 { return m.pos }
func (m *MemoryReader) Size() int64 { return int64(len(m.data)) }

// MemoryWriter grows a byte slice. Seeking backwards and overwriting is
// allowed, which the saver uses to back-patch offsets.
type MemoryWriter struct {
	buf []byte
	pos int64
}

// NewMemoryWriter returns an empty writer.
func NewMemoryWriter() *MemoryWriter { return &MemoryWriter{} }

func (m *MemoryWriter) Raw(p []byte) error {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-int64(len(m.buf)))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return nil
}

func (m *MemoryWriter) Seek(pos int64) error {
	if pos < 0 || pos > int64(len(m.buf)) {
		return fmt.Errorf("%w: %d of %d", ErrSeekRange, pos, len(m.buf))
	}
	m.pos = pos
	return nil
}

func (m *MemoryWriter) Tell() int64 { return m.pos }
func (m *MemoryWriter) Size() int64 { return int64(len(m.buf)) }

// Bytes returns the written buffer. The slice aliases the writer.
func (m *MemoryWriter) Bytes() []byte { return m.buf }

// WriteTo copies the buffer to w.
func (m *MemoryWriter) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.buf)
	return int64(n), err
}
