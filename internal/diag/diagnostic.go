package diag

import "fmt"

// Location points into a container: the container name and, when known, the
// export the finding belongs to. Export -1 means the container as a whole.
type Location struct {
	Container string
	Export    int
	Object    string
}

// Whole returns a location covering an entire container.
func Whole(container string) Location {
	return Location{Container: container, Export: -1}
}

// At returns a location for one export.
func At(container string, export int, object string) Location {
	return Location{Container: container, Export: export, Object: object}
}

func (l Location) String() string {
	switch {
	case l.Container == "" && l.Object == "":
		return "<memory>"
	case l.Export < 0 && l.Object == "":
		return l.Container
	case l.Object != "":
		return fmt.Sprintf("%s:%s", l.Container, l.Object)
	default:
		return fmt.Sprintf("%s:export#%d", l.Container, l.Export)
	}
}

type Note struct {
	At  Location
	Msg string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  Location
	Notes    []Note
}

func New(sev Severity, code Code, primary Location, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Primary:  primary,
		Message:  msg,
	}
}

func NewError(code Code, primary Location, msg string) Diagnostic {
	return New(SevError, code, primary, msg)
}

func (d Diagnostic) WithNote(at Location, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{At: at, Msg: msg})
	return d
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s %s: %s", d.Primary, d.Severity, d.Code.ID(), d.Message)
}
