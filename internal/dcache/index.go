package dcache

import (
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"objcore/internal/linker"
)

// InspectFunc reads the index of one container. It runs on its own
// goroutine and must not share an engine with other calls.
type InspectFunc func(ctx context.Context, path string) (linker.Info, error)

// Stats counts how Build satisfied its paths.
type Stats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
	Broken int `json:"broken"`
}

// List returns the container files under dir with extension ext, sorted.
func List(dir, ext string) ([]string, error) {
	if ext == "" {
		ext = linker.DefaultExtension
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Build returns an entry per path, reading cached entries where the
// content digest matches and inspecting (then caching) the rest. Up to
// jobs containers are inspected at once. A container that fails to
// inspect yields a Broken entry, not an error.
func (c *Cache) Build(ctx context.Context, paths []string, inspect InspectFunc, jobs int) ([]Entry, Stats, error) {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	entries := make([]Entry, len(paths))
	var hits, misses, broken atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(jobs, len(paths))))
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, err := DigestFile(path)
			if err != nil {
				return err
			}
			e := &entries[i]
			ok, err := c.Get(digest, e)
			if err == nil && ok {
				e.Path = path
				hits.Add(1)
				if e.Broken {
					broken.Add(1)
				}
				return nil
			}
			misses.Add(1)
			*e = Entry{Digest: digest, Path: path}
			info, err := inspect(gctx, path)
			if err != nil {
				e.Broken = true
				e.Error = err.Error()
				broken.Add(1)
			} else {
				e.Info = info
			}
			return c.Put(e)
		})
	}
	err := g.Wait()
	stats := Stats{Hits: int(hits.Load()), Misses: int(misses.Load()), Broken: int(broken.Load())}
	if err != nil {
		return nil, stats, err
	}
	return entries, stats, nil
}

// Match is one export found by Search.
type Match struct {
	Container string            `json:"container"`
	Path      string            `json:"path"`
	Export    linker.ExportInfo `json:"export"`
}

// Search finds exports whose dotted path or last path segment matches the
// glob pattern, case-insensitively. A non-empty class narrows the match
// to exports of that class.
func Search(entries []Entry, pattern, class string) []Match {
	pattern = strings.ToLower(pattern)
	var out []Match
	for _, e := range entries {
		if e.Broken {
			continue
		}
		for _, ex := range e.Info.Exports {
			if class != "" && !strings.EqualFold(ex.Class, class) {
				continue
			}
			full := strings.ToLower(ex.Path)
			last := full
			if i := strings.LastIndexByte(full, '.'); i >= 0 {
				last = full[i+1:]
			}
			if globMatch(pattern, full) || globMatch(pattern, last) {
				out = append(out, Match{Container: e.Info.Package, Path: e.Path, Export: ex})
			}
		}
	}
	return out
}

func globMatch(pattern, s string) bool {
	ok, err := filepath.Match(pattern, s)
	return err == nil && ok
}
