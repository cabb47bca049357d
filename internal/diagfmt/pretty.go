package diagfmt

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"objcore/internal/diag"
)

// Pretty форматирует диагностики в человекочитаемый вид.
// Идёт по bag.Items() (ожидается bag.Sort() заранее).
// Для каждого diag печатает:
// <container>[:<object>]: <SEV> <CODE>: <Message>
// затем Notes с отступом.
func Pretty(w io.Writer, bag *diag.Bag, opts PrettyOpts) {
	if bag == nil {
		return
	}
	p := newPalette(opts.Color)
	var errs, warns int
	for _, d := range bag.Items() {
		switch d.Severity {
		case diag.SevError:
			errs++
		case diag.SevWarning:
			warns++
		}
		fmt.Fprintf(w, "%s: %s %s: %s\n",
			p.loc.Sprint(d.Primary.String()),
			p.severity(d.Severity),
			p.code.Sprint(d.Code.ID()),
			clip(d.Message, opts.Width))
		if !opts.ShowNotes {
			continue
		}
		for _, n := range d.Notes {
			fmt.Fprintf(w, "  %s %s: %s\n", p.note.Sprint("note:"), p.loc.Sprint(n.At.String()), clip(n.Msg, opts.Width))
		}
	}
	if opts.Summary {
		fmt.Fprintf(w, "%d errors, %d warnings", errs, warns)
		if dropped := bag.Dropped(); dropped > 0 {
			fmt.Fprintf(w, " (%d more not shown)", dropped)
		}
		fmt.Fprintln(w)
	}
}

func clip(s string, width uint16) string {
	if width == 0 {
		return s
	}
	return runewidth.Truncate(s, int(width), "…")
}

type palette struct {
	loc, code, note *color.Color
	err, warn, info *color.Color
}

func newPalette(on bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		loc:  mk(color.Bold),
		code: mk(color.Faint),
		note: mk(color.FgCyan),
		err:  mk(color.FgRed, color.Bold),
		warn: mk(color.FgYellow, color.Bold),
		info: mk(color.FgBlue),
	}
}

func (p palette) severity(s diag.Severity) string {
	switch s {
	case diag.SevError:
		return p.err.Sprint(s.String())
	case diag.SevWarning:
		return p.warn.Sprint(s.String())
	}
	return p.info.Sprint(s.String())
}
