package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"objcore/internal/dcache"
	"objcore/internal/linker"
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Build the cached export index of a directory of containers",
	Long: `Inspect every container under dir and cache its tables keyed by content
digest. Unchanged containers are read from the cache`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

var findCmd = &cobra.Command{
	Use:   "find <pattern>",
	Short: "Find exports by name across a directory of containers",
	Long: `Search the export index for exports whose dotted path or name matches a
glob pattern. The index is refreshed first`,
	Args: cobra.ExactArgs(1),
	RunE: runFind,
}

func init() {
	for _, c := range []*cobra.Command{indexCmd, findCmd} {
		c.Flags().String("cache-dir", "", "index cache directory (default: per-user cache)")
		c.Flags().Int("jobs", 0, "containers inspected in parallel (0 = GOMAXPROCS)")
		c.Flags().String("format", "pretty", "output format (pretty|json)")
	}
	indexCmd.Flags().Bool("drop", false, "drop the cache before indexing")
	findCmd.Flags().String("dir", ".", "directory to search")
	findCmd.Flags().String("class", "", "only match exports of this class")
}

// buildIndex refreshes the cached index of dir. Each inspection gets its
// own engine.
func buildIndex(cmd *cobra.Command, s *session, dir string, drop bool) ([]dcache.Entry, dcache.Stats, error) {
	cacheDir, _ := cmd.Flags().GetString("cache-dir")
	jobs, _ := cmd.Flags().GetInt("jobs")

	var (
		cache *dcache.Cache
		err   error
	)
	if cacheDir != "" {
		cache, err = dcache.Open(cacheDir)
	} else {
		cache, err = dcache.OpenDefault("objdb")
	}
	if err != nil {
		return nil, dcache.Stats{}, fmt.Errorf("failed to open index cache: %w", err)
	}
	if drop {
		if err := cache.DropAll(); err != nil {
			return nil, dcache.Stats{}, err
		}
	}
	paths, err := dcache.List(dir, s.cfg.Engine.Extension)
	if err != nil {
		return nil, dcache.Stats{}, err
	}
	inspect := func(ctx context.Context, path string) (linker.Info, error) {
		e, err := s.engine()
		if err != nil {
			return linker.Info{}, err
		}
		defer e.Close()
		info, _, err := e.Inspect(ctx, path)
		return info, err
	}
	return cache.Build(cmd.Context(), paths, inspect, jobs)
}

func formatFlag(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	if format != "pretty" && format != "json" {
		return "", fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
	return format, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	drop, _ := cmd.Flags().GetBool("drop")

	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.finish(cmd)

	entries, stats, err := buildIndex(cmd, s, dir, drop)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(out, struct {
			Entries []dcache.Entry `json:"entries"`
			Stats   dcache.Stats   `json:"stats"`
		}{entries, stats})
	}
	t := &table{head: []string{"package", "exports", "digest", "path"}, color: s.color}
	for _, e := range entries {
		if e.Broken {
			t.add("!", "-", e.Digest.String(), e.Path+": "+e.Error)
			continue
		}
		t.add(e.Info.Package, strconv.Itoa(len(e.Info.Exports)), e.Digest.String(), e.Path)
	}
	t.write(out)
	if !s.quiet {
		fmt.Fprintf(out, "%d containers: %d cached, %d inspected, %d broken\n",
			len(entries), stats.Hits, stats.Misses, stats.Broken)
	}
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	class, _ := cmd.Flags().GetString("class")

	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.finish(cmd)

	entries, _, err := buildIndex(cmd, s, dir, false)
	if err != nil {
		return err
	}
	matches := dcache.Search(entries, args[0], class)
	out := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(out, matches)
	}
	if len(matches) == 0 {
		if !s.quiet {
			fmt.Fprintln(out, "no matches")
		}
		return nil
	}
	t := &table{head: []string{"class", "export", "file"}, color: s.color}
	for _, m := range matches {
		t.add(m.Export.Class, m.Export.Path, m.Path)
	}
	t.write(out)
	return nil
}
