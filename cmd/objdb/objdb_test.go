package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"objcore/internal/config"
	"objcore/internal/dcache"
	"objcore/internal/engine"
	"objcore/internal/linker"
	"objcore/internal/object"
)

const lampSchema = `
[[types]]
name = "Lamp"
[[types.fields]]
name = "Watts"
kind = "int32"
default = 40
flags = ["persist"]
`

// fixture writes objdb.toml, a schema and one saved container "Shop"
// holding a public Lamp1 with Watts = 75.
func fixture(t *testing.T) (cfgPath, pkgPath string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "types.toml"), []byte(lampSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath = filepath.Join(dir, config.FileName)
	data := "[engine]\nschema = [\"types.toml\"]\nsearch_paths = [\".\"]\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	e, err := engine.New(engine.Options{Config: cfg})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()
	pkg, err := e.CreatePackage("Shop")
	if err != nil {
		t.Fatal(err)
	}
	lamp, err := e.ConstructObject("Lamp", pkg.Handle, "Lamp1", object.FlagPublic)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetField(lamp.Handle, "Watts", 75); err != nil {
		t.Fatal(err)
	}
	pkgPath = filepath.Join(dir, "Shop.pkg")
	if _, err := e.SaveContainer(context.Background(), pkg.Handle, pkgPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	return cfgPath, pkgPath
}

// resetFlags puts every flag back to its default; the commands are
// package-level and keep values between runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if errOut.Len() > 0 {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func TestInspectJSON(t *testing.T) {
	cfgPath, pkgPath := fixture(t)
	out, err := run(t, "--config", cfgPath, "inspect", "--format", "json", pkgPath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var info linker.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if info.Package != "Shop" {
		t.Fatalf("package = %q", info.Package)
	}
	if len(info.Exports) != 1 || info.Exports[0].Class != "Lamp" {
		t.Fatalf("exports = %+v", info.Exports)
	}
	if info.Names != nil {
		t.Fatalf("names should be omitted without --names")
	}
}

func TestInspectPretty(t *testing.T) {
	cfgPath, pkgPath := fixture(t)
	out, err := run(t, "--config", cfgPath, "--color", "off", "inspect", "--names", pkgPath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"package   Shop", "exports (1)", "Shop.Lamp1", "names ("} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDumpShowsFieldValues(t *testing.T) {
	cfgPath, pkgPath := fixture(t)
	out, err := run(t, "--config", cfgPath, "--color", "off", "dump", pkgPath, "Lamp1")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if !strings.Contains(out, "Lamp.Watts") || !strings.Contains(out, "75") {
		t.Fatalf("unexpected dump:\n%s", out)
	}

	if _, err := run(t, "--config", cfgPath, "dump", pkgPath, "Missing"); err == nil {
		t.Fatal("expected error for missing object")
	}
}

func TestVerify(t *testing.T) {
	cfgPath, pkgPath := fixture(t)
	out, err := run(t, "--config", cfgPath, "verify", "--collect", pkgPath)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 containers ok") {
		t.Fatalf("unexpected output: %s", out)
	}

	bad := filepath.Join(filepath.Dir(pkgPath), "Bad.pkg")
	if err := os.WriteFile(bad, []byte("not a container at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "--config", cfgPath, "verify", "--format", "json", pkgPath, bad)
	if !errors.Is(err, errFailed) {
		t.Fatalf("expected errFailed, got %v", err)
	}
	if !strings.Contains(out, `"diagnostics"`) || !strings.Contains(out, "Bad") {
		t.Fatalf("unexpected json:\n%s", out)
	}
}

func TestResaveConvertsMode(t *testing.T) {
	cfgPath, pkgPath := fixture(t)
	dst := filepath.Join(t.TempDir(), "Shop.pkg")
	if _, err := run(t, "--config", cfgPath, "resave", "--mode", "binary", pkgPath, dst); err != nil {
		t.Fatalf("resave: %v", err)
	}
	out, err := run(t, "--config", cfgPath, "inspect", "--format", "json", dst)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var info linker.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatal(err)
	}
	if info.Mode != "binary" {
		t.Fatalf("mode = %q, want binary", info.Mode)
	}
	if len(info.Generations) < 2 {
		t.Fatalf("expected generation history to carry over, got %+v", info.Generations)
	}

	if _, err := run(t, "--config", cfgPath, "resave", "--mode", "zip", pkgPath, dst); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestIndexAndFind(t *testing.T) {
	cfgPath, pkgPath := fixture(t)
	dir := filepath.Dir(pkgPath)
	cacheDir := t.TempDir()

	out, err := run(t, "--config", cfgPath, "index", "--cache-dir", cacheDir, "--format", "json", dir)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	var first struct {
		Entries []dcache.Entry `json:"entries"`
		Stats   dcache.Stats   `json:"stats"`
	}
	if err := json.Unmarshal([]byte(out), &first); err != nil {
		t.Fatal(err)
	}
	if len(first.Entries) != 1 || first.Stats.Misses != 1 {
		t.Fatalf("first index: %+v", first.Stats)
	}

	out, err = run(t, "--config", cfgPath, "find", "--cache-dir", cacheDir, "--dir", dir, "--format", "json", "lamp*")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	var matches []dcache.Match
	if err := json.Unmarshal([]byte(out), &matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Export.Path != "Shop.Lamp1" {
		t.Fatalf("matches = %+v", matches)
	}

	out, err = run(t, "--config", cfgPath, "--quiet", "find", "--cache-dir", cacheDir, "--dir", dir, "--class", "Package", "lamp*")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if strings.TrimSpace(out) != "" {
		t.Fatalf("expected no matches, got %q", out)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, "version", "--format", "json", "--full")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var payload versionPayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Tool != "objdb" || payload.FormatVersion == 0 || payload.GitCommit == "" {
		t.Fatalf("payload = %+v", payload)
	}
	if _, err := run(t, "version", "--format", "xml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestVerifyFailureDumpsTraceRing(t *testing.T) {
	cfgPath, pkgPath := fixture(t)
	bad := filepath.Join(filepath.Dir(pkgPath), "Bad.pkg")
	if err := os.WriteFile(bad, []byte("not a container at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"--config", cfgPath, "--trace-level", "phase", "--trace-mode", "ring", "verify", bad})
	if err := rootCmd.Execute(); !errors.Is(err, errFailed) {
		t.Fatalf("expected errFailed, got %v", err)
	}
	for _, want := range []string{"last trace events:", "open Bad"} {
		if !strings.Contains(errOut.String(), want) {
			t.Fatalf("stderr missing %q:\n%s", want, errOut.String())
		}
	}
}
