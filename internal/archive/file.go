package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileReader reads a container through io.ReaderAt, so seeking is free.
type FileReader struct {
	f    *os.File
	size int64
	pos  int64
}

// OpenFile opens path for loading.
func OpenFile(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileReader{f: f, size: st.Size()}, nil
}

func (r *FileReader) Raw(p []byte) error {
	n, err := r.f.ReadAt(p, r.pos)
	r.pos += int64(n)
	if n < len(p) {
		if err == nil || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s at %d", ErrTruncated, r.f.Name(), r.pos)
		}
		return err
	}
	return nil
}

func (r *FileReader) Seek(pos int64) error {
	if pos < 0 || pos > r.size {
		return fmt.Errorf("%w: %d of %d", ErrSeekRange, pos, r.size)
	}
	r.pos = pos
	return nil
}

func (r *FileReader) Tell() int64 { return r.pos }
func (r *FileReader) Size() int64 { return r.size }

// Name returns the underlying path.
func (r *FileReader) Name() string { return r.f.Name() }

func (r *FileReader) Close() error { return r.f.Close() }

// FileWriter writes into a temporary file next to the destination; Commit
// renames it into place so readers never observe a half-written container.
type FileWriter struct {
	f    *os.File
	dest string
	pos  int64
	size int64
	done bool
}

// CreateFile prepares an atomic write of path.
func CreateFile(path string) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return nil, err
	}
	return &FileWriter{f: f, dest: path}, nil
}

func (w *FileWriter) Raw(p []byte) error {
	n, err := w.f.WriteAt(p, w.pos)
	w.pos += int64(n)
	w.size = max(w.size, w.pos)
	return err
}

func (w *FileWriter) Seek(pos int64) error {
	if pos < 0 || pos > w.size {
		return fmt.Errorf("%w: %d of %d", ErrSeekRange, pos, w.size)
	}
	w.pos = pos
	return nil
}

func (w *FileWriter) Tell() int64 { return w.pos }
func (w *FileWriter) Size() int64 { return w.size }

// Commit flushes and atomically replaces the destination.
func (w *FileWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Sync(); err != nil {
		w.discard()
		return err
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	return os.Rename(w.f.Name(), w.dest)
}

// Abort drops the temporary file. Calling it after Commit is a no-op.
func (w *FileWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.discard()
}

func (w *FileWriter) discard() {
	w.f.Close()
	os.Remove(w.f.Name())
}

// AsyncReader loads a whole file on a background goroutine; Raw blocks
// until the bytes have arrived.
type AsyncReader struct {
	done chan struct{}
	mem  *MemoryReader
	err  error
}

// Prefetch starts reading path. Cancelling ctx before the read finishes
// makes the first Raw call fail with ctx.Err().
func Prefetch(ctx context.Context, path string) *AsyncReader {
	r := &AsyncReader{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		data, err := os.ReadFile(path)
		if err == nil {
			err = ctx.Err()
		}
		r.mem, r.err = NewMemoryReader(data), err
	}()
	return r
}

// Wait blocks until the read completes.
func (r *AsyncReader) Wait() error {
	<-r.done
	return r.err
}

func (r *AsyncReader) Raw(p []byte) error {
	if err := r.Wait(); err != nil {
		return err
	}
	return r.mem.Raw(p)
}

func (r *AsyncReader) Seek(pos int64) error {
	if err := r.Wait(); err != nil {
		return err
	}
	return r.mem.Seek(pos)
}

func (r *AsyncReader) Tell() int64 {
	if r.Wait() != nil {
		return 0
	}
	return r.mem.Tell()
}

func (r *AsyncReader) Size() int64 {
	if r.Wait() != nil {
		return 0
	}
	return r.mem.Size()
}
