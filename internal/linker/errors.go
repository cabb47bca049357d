package linker

import (
	"errors"
	"fmt"

	"objcore/internal/diag"
	"objcore/internal/meta"
)

var (
	ErrBadTag          = errors.New("not a container (tag mismatch)")
	ErrVersionTooOld   = errors.New("container version too old")
	ErrVersionTooNew   = errors.New("container version too new")
	ErrTableRange      = errors.New("table out of range")
	ErrSerialRange     = errors.New("export serial range exceeds payload")
	ErrSerialSize      = errors.New("export serialized size mismatch")
	ErrBadIndex        = errors.New("object index out of range")
	ErrBadName         = errors.New("name index out of range")
	ErrNotFound        = errors.New("container not found")
	ErrNotPackage      = errors.New("object is not inside a package")
	ErrAlreadyLoaded   = errors.New("package already has a loader")
	ErrDetached        = errors.New("loader detached")
	ErrPrivateImport   = errors.New("saved object references a private object of another package")
	ErrNothingToExport = errors.New("nothing to export")
)

// FormatError is a fatal problem with one container. It fails that loader
// only.
type FormatError struct {
	Container string
	Code      diag.Code
	Reason    string
	Err       error
}

func (e *FormatError) Error() string {
	msg := e.Container + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(container string, code diag.Code, err error, format string, args ...any) *FormatError {
	return &FormatError{Container: container, Code: code, Reason: fmt.Sprintf(format, args...), Err: err}
}

// errCode picks the diagnostic code for a loader failure.
func errCode(err error) diag.Code {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe.Code
	}
	var km *meta.KindMismatchError
	if errors.As(err, &km) {
		return diag.FieldKindMismatch
	}
	return diag.FmtIO
}
