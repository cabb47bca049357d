package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"objcore/internal/diagfmt"
	"objcore/internal/linker"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show a container's summary, names, imports and exports",
	Long:  `Read the summary and tables of a container without creating any objects`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	inspectCmd.Flags().Bool("names", false, "include the name dictionary")
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	withNames, err := cmd.Flags().GetBool("names")
	if err != nil {
		return fmt.Errorf("failed to get names flag: %w", err)
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

	info, bag, err := e.Inspect(cmd.Context(), args[0])
	if err != nil {
		diagfmt.Pretty(cmd.ErrOrStderr(), bag, diagfmt.PrettyOpts{Color: s.color, ShowNotes: true})
		return err
	}
	if !withNames {
		info.Names = nil
	}
	switch strings.ToLower(format) {
	case "json":
		return writeJSON(cmd.OutOrStdout(), info)
	case "pretty":
		printInfo(cmd.OutOrStdout(), info, s.color)
		return nil
	}
	return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
}

func printInfo(w io.Writer, info linker.Info, color bool) {
	fmt.Fprintf(w, "package   %s\n", info.Package)
	fmt.Fprintf(w, "path      %s\n", info.Path)
	fmt.Fprintf(w, "version   %s (%s payloads)\n", info.Version, info.Mode)
	fmt.Fprintf(w, "flags     0x%08x\n", info.PackageFlags)
	fmt.Fprintf(w, "guid      %s\n", info.GUID)
	fmt.Fprintf(w, "size      %d bytes, payload from %d\n", info.Size, info.PayloadStart)
	if len(info.Generations) > 0 {
		gens := make([]string, len(info.Generations))
		for i, g := range info.Generations {
			gens[i] = fmt.Sprintf("%d/%d", g.ExportCount, g.NameCount)
		}
		fmt.Fprintf(w, "history   %s (exports/names)\n", strings.Join(gens, " "))
	}

	if len(info.Names) > 0 {
		fmt.Fprintf(w, "\nnames (%d)\n", len(info.Names))
		t := &table{head: []string{"#", "flags", "text"}, color: color}
		for i, n := range info.Names {
			t.add(strconv.Itoa(i), fmt.Sprintf("0x%08x", n.Flags), n.Text)
		}
		t.write(w)
	}

	fmt.Fprintf(w, "\nimports (%d)\n", len(info.Imports))
	if len(info.Imports) > 0 {
		t := &table{head: []string{"#", "class", "outer", "path"}, color: color}
		for _, imp := range info.Imports {
			t.add(strconv.Itoa(imp.Index), imp.Class, strconv.Itoa(int(imp.OuterIndex)), imp.Path)
		}
		t.write(w)
	}

	fmt.Fprintf(w, "\nexports (%d)\n", len(info.Exports))
	if len(info.Exports) > 0 {
		t := &table{head: []string{"#", "class", "flags", "offset", "size", "path"}, color: color}
		for _, ex := range info.Exports {
			path := ex.Path
			if len(ex.Components) > 0 {
				path += " {" + strings.Join(ex.Components, ", ") + "}"
			}
			t.add(strconv.Itoa(ex.Index), ex.Class, ex.Flags,
				strconv.Itoa(int(ex.Offset)), strconv.Itoa(int(ex.Size)), path)
		}
		t.write(w)
	}
}
