package archive

import (
	"github.com/cespare/xxhash/v2"
)

// Checksum is a write-only backend that hashes everything fed to it.
// Serializing an object through it yields a digest of the object's state.
type Checksum struct {
	d   *xxhash.Digest
	pos int64
}

// NewChecksum returns a fresh digest backend.
func NewChecksum() *Checksum {
	return &Checksum{d: xxhash.New()}
}

func (c *Checksum) Raw(p []byte) error {
	_, err := c.d.Write(p)
	c.pos += int64(len(p))
	return err
}

func (c *Checksum) Seek(pos int64) error {
	if pos == c.pos {
		return nil
	}
	return ErrNotSeekable
}

func (c *Checksum) Tell() int64 { return c.pos }
func (c *Checksum) Size() int64 { return c.pos }

// Sum64 returns the digest so far.
func (c *Checksum) Sum64() uint64 { return c.d.Sum64() }

// Reset clears the digest.
func (c *Checksum) Reset() {
	c.d.Reset()
	c.pos = 0
}
