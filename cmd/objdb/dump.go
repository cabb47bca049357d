package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"objcore/internal/diagfmt"
	"objcore/internal/engine"
	"objcore/internal/handle"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file> [object]",
	Short: "Load a container and print field values",
	Long: `Load a container with every object it references and print the fields
of each export, or of one object given by its dotted path`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

type dumpedObject struct {
	Path   string              `json:"path"`
	Class  string              `json:"class"`
	Fields []engine.FieldValue `json:"fields"`
}

func runDump(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format = strings.ToLower(format)
	if format != "pretty" && format != "json" {
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.finish(cmd)

	e, err := s.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	root, bag, err := e.LoadContainer(cmd.Context(), args[0])
	if bag.Len() > 0 && !s.quiet {
		diagfmt.Pretty(cmd.ErrOrStderr(), bag, diagfmt.PrettyOpts{Color: s.color, ShowNotes: true, Summary: true})
	}
	if err != nil {
		return err
	}

	var targets []handle.Handle
	if len(args) == 2 {
		path := args[1]
		if pkg := e.Objects().PathName(root); !strings.Contains(path, ".") || !strings.EqualFold(strings.SplitN(path, ".", 2)[0], pkg) {
			path = pkg + "." + path
		}
		obj := e.Find(path)
		if obj == nil {
			return fmt.Errorf("object %q not found", args[1])
		}
		targets = append(targets, obj.Handle)
	} else {
		pkg, err := e.Object(root)
		if err != nil {
			return err
		}
		if l := e.Env().Loader(e.Names().String(pkg.Name)); l != nil {
			for i := range l.Exports {
				if h := l.Exports[i].Object(); !h.IsNil() {
					targets = append(targets, h)
				}
			}
		}
	}

	out := make([]dumpedObject, 0, len(targets))
	for _, h := range targets {
		obj, err := e.Object(h)
		if err != nil {
			return err
		}
		fields, err := e.Fields(h)
		if err != nil {
			return err
		}
		out = append(out, dumpedObject{Path: e.Objects().PathName(h), Class: obj.Type.Text, Fields: fields})
	}
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	printDump(cmd.OutOrStdout(), out, s.color)
	return nil
}

func printDump(w io.Writer, objs []dumpedObject, color bool) {
	for i, o := range objs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s\n", o.Class, o.Path)
		if len(o.Fields) == 0 {
			fmt.Fprintln(w, "  (no fields)")
			continue
		}
		t := &table{head: []string{"  field", "kind", "flags", "value"}, color: color}
		for _, f := range o.Fields {
			t.add("  "+f.Owner+"."+f.Name, f.Kind, f.Flags, f.Value)
		}
		t.write(w)
	}
}
