package diagfmt

import (
	"bytes"
	"strings"
	"testing"

	"objcore/internal/diag"
)

func sampleBag() *diag.Bag {
	bag := diag.NewBag(10)
	bag.Add(diag.New(diag.SevError, diag.FmtBadTag, diag.Whole("Maps"), "bad tag 0x00000000"))
	bag.Add(diag.New(diag.SevWarning, diag.RefMissingExport, diag.At("Maps", 2, "Maps.Level.Door"),
		"import Class Engine.Door not found").
		WithNote(diag.Whole("Engine"), "searched container Engine"))
	bag.Add(diag.New(diag.SevInfo, diag.RefContextExcluded, diag.At("Maps", 3, ""), "editor-only export skipped"))
	return bag
}

func TestPrettyLines(t *testing.T) {
	var buf bytes.Buffer
	Pretty(&buf, sampleBag(), PrettyOpts{ShowNotes: true, Summary: true})
	out := buf.String()

	want := []string{
		"Maps: ERROR FMT1001: bad tag 0x00000000\n",
		"Maps:Maps.Level.Door: WARNING REF2002: import Class Engine.Door not found\n",
		"  note: Engine: searched container Engine\n",
		"Maps:export#3: INFO REF2006: editor-only export skipped\n",
		"1 errors, 1 warnings\n",
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q\n%s", w, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("colour escapes with Color=false:\n%s", out)
	}
}

func TestPrettyHidesNotes(t *testing.T) {
	var buf bytes.Buffer
	Pretty(&buf, sampleBag(), PrettyOpts{})
	if strings.Contains(buf.String(), "note:") {
		t.Errorf("notes printed without ShowNotes:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "warnings") {
		t.Errorf("summary printed without Summary:\n%s", buf.String())
	}
}

func TestPrettyColor(t *testing.T) {
	var buf bytes.Buffer
	Pretty(&buf, sampleBag(), PrettyOpts{Color: true})
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("expected colour escapes:\n%s", buf.String())
	}
}

func TestPrettyWidth(t *testing.T) {
	bag := diag.NewBag(1)
	bag.Add(diag.NewError(diag.FmtIO, diag.Whole("P"), "контейнер не читается целиком"))
	bag.Add(diag.NewError(diag.SaveInfo, diag.Whole("P"), "dropped"))

	var buf bytes.Buffer
	Pretty(&buf, bag, PrettyOpts{Width: 10, Summary: true})
	out := buf.String()
	if !strings.Contains(out, "контейнер…") {
		t.Errorf("message not clipped:\n%s", out)
	}
	if !strings.Contains(out, "(1 more not shown)") {
		t.Errorf("dropped count missing:\n%s", out)
	}
}

func TestPrettyNilBag(t *testing.T) {
	var buf bytes.Buffer
	Pretty(&buf, nil, PrettyOpts{Summary: true})
	if buf.Len() != 0 {
		t.Errorf("nil bag printed %q", buf.String())
	}
}
