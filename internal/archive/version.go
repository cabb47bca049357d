package archive

import "fmt"

// Version is the format version carried by every archive. File versions gate
// structural changes, Licensee versions gate extensions of downstream users
// and Net is negotiated separately for network streams.
type Version struct {
	File     uint16
	Licensee uint16
	Net      uint32
}

const (
	// MinFileVersion is the oldest container this code still reads.
	MinFileVersion uint16 = 60
	// VersionGenerations introduced the generation table in the summary.
	VersionGenerations uint16 = 68
	// VersionComponentMap introduced per-export component maps.
	VersionComponentMap uint16 = 70
	// CurrentFileVersion is written by every saver.
	CurrentFileVersion uint16 = 72
)

// Current is the version new archives start with.
var Current = Version{File: CurrentFileVersion}

// Packed returns the on-disk form: file version in the low 16 bits,
// licensee version in the high 16 bits.
func (v Version) Packed() uint32 {
	return uint32(v.Licensee)<<16 | uint32(v.File)
}

// Unpack splits a packed version.
func Unpack(p uint32) Version {
	return Version{File: uint16(p), Licensee: uint16(p >> 16)}
}

// AtLeast reports whether the file version is at least file.
func (v Version) AtLeast(file uint16) bool { return v.File >= file }

func (v Version) String() string {
	if v.Licensee == 0 {
		return fmt.Sprintf("v%d", v.File)
	}
	return fmt.Sprintf("v%d/%d", v.File, v.Licensee)
}

// Negotiate picks the lower of two net versions, the one both peers speak.
func Negotiate(local, remote uint32) uint32 {
	return min(local, remote)
}
