package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"objcore/internal/diag"
	"objcore/internal/diagfmt"
	"objcore/internal/linker"
	"objcore/internal/testkit"
	"objcore/internal/version"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <files...>",
	Short: "Load containers fully and report every problem found",
	Long: `Load each container with everything it references, check its tables
against their invariants and report diagnostics. Exits with status 1 when a
diagnostic reaches diagnostics.fail_on (error unless configured)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().String("format", "pretty", "output format (pretty|json|sarif)")
	verifyCmd.Flags().Int("jobs", 0, "containers verified in parallel (0 = GOMAXPROCS)")
	verifyCmd.Flags().Bool("collect", false, "run a collection after loading and report stale references")
}

func runVerify(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format = strings.ToLower(format)
	switch format {
	case "pretty", "json", "sarif":
	default:
		return fmt.Errorf("unsupported format %q (must be pretty, json or sarif)", format)
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	collect, err := cmd.Flags().GetBool("collect")
	if err != nil {
		return fmt.Errorf("failed to get collect flag: %w", err)
	}

	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.finish(cmd)

	bags := make([]*diag.Bag, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)
	for i, path := range args {
		g.Go(func() error {
			bag, err := s.verifyOne(ctx, path, collect)
			bags[i] = bag
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	merged := diag.NewBag(s.cfg.Diagnostics.Max)
	for _, b := range bags {
		merged.Merge(b)
	}
	merged.Dedup()
	merged.Sort()

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		err = diagfmt.JSON(out, merged, diagfmt.JSONOpts{Max: s.cfg.Diagnostics.Max, IncludeNotes: true})
	case "sarif":
		err = diagfmt.Sarif(out, merged, diagfmt.SarifRunMeta{
			ToolName:       "objdb",
			ToolVersion:    version.Version,
			InvocationArgs: append([]string{"verify"}, args...),
		})
	default:
		if merged.Len() > 0 {
			diagfmt.Pretty(out, merged, diagfmt.PrettyOpts{Color: s.color, ShowNotes: true, Summary: true})
		} else if !s.quiet {
			fmt.Fprintf(out, "%d containers ok\n", len(args))
		}
	}
	if err != nil {
		return err
	}
	failOn, err := diag.ParseSeverity(s.cfg.Diagnostics.FailOn)
	if err != nil {
		return err
	}
	if merged.HasAtLeast(failOn) {
		s.dumpTrace(cmd)
		return errFailed
	}
	return nil
}

// verifyOne loads path on its own engine. Load failures end up in the
// returned bag; only engine setup errors are returned.
func (s *session) verifyOne(ctx context.Context, path string, collect bool) (*diag.Bag, error) {
	e, err := s.engine()
	if err != nil {
		return nil, err
	}
	defer e.Close()

	root, bag, err := e.LoadContainer(ctx, path)
	if bag == nil {
		bag = diag.NewBag(s.cfg.Diagnostics.Max)
	}
	if err != nil {
		if !bag.HasErrors() {
			bag.Add(diag.New(diag.SevError, diag.FmtIO, diag.Whole(path), err.Error()))
		}
		return bag, nil
	}
	pkg, err := e.Object(root)
	if err != nil {
		return nil, err
	}
	if l := e.Env().Loader(e.Names().String(pkg.Name)); l != nil {
		if err := testkit.CheckContainer(l); err != nil {
			bag.Add(diag.New(diag.SevError, diag.FmtTableOutOfRange, diag.Whole(path), err.Error()))
		}
		checkTypes(bag, path, l)
	}
	if collect {
		if err := e.AddRoot(root); err != nil {
			return nil, err
		}
		stats, err := e.RunCollection(ctx)
		if err != nil {
			return nil, err
		}
		if stats.Stale > 0 {
			bag.Add(diag.New(diag.SevWarning, diag.GCStaleRef, diag.Whole(path),
				fmt.Sprintf("%d stale references found during collection", stats.Stale)))
		}
	}
	return bag, nil
}

// checkTypes validates the layout of every type an export was created with.
func checkTypes(bag *diag.Bag, path string, l *linker.Loader) {
	seen := make(map[string]bool)
	env := l.Env()
	for i := range l.Exports {
		h := l.Exports[i].Object()
		if h.IsNil() {
			continue
		}
		obj := env.Objects.Lookup(h)
		if obj == nil || obj.Type == nil || seen[obj.Type.Text] {
			continue
		}
		seen[obj.Type.Text] = true
		if err := testkit.CheckTypeLayout(obj.Type); err != nil {
			bag.Add(diag.New(diag.SevError, diag.FieldStructType, diag.Location{Container: path, Export: i, Object: obj.Type.Text}, err.Error()))
		}
	}
}
