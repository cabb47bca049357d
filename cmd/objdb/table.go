package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// table prints rows in aligned columns. Widths are display widths, so
// names with wide runes line up too.
type table struct {
	head  []string
	rows  [][]string
	color bool
}

func (t *table) add(cells ...string) { t.rows = append(t.rows, cells) }

func (t *table) write(w io.Writer) {
	widths := make([]int, len(t.head))
	for i, h := range t.head {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range t.rows {
		for i, c := range r {
			if i < len(widths) {
				widths[i] = max(widths[i], runewidth.StringWidth(c))
			}
		}
	}
	bold := color.New(color.Bold)
	if t.color {
		bold.EnableColor()
	} else {
		bold.DisableColor()
	}
	line := func(cells []string, style *color.Color) {
		var b strings.Builder
		for i, c := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			if i == len(cells)-1 {
				b.WriteString(c)
			} else {
				b.WriteString(runewidth.FillRight(c, widths[i]))
			}
		}
		s := b.String()
		if style != nil {
			s = style.Sprint(s)
		}
		_, _ = io.WriteString(w, s+"\n")
	}
	line(t.head, bold)
	for _, r := range t.rows {
		line(r, nil)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
