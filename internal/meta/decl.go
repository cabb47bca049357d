package meta

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type declFile struct {
	Types []TypeDecl `toml:"types" yaml:"types"`
}

// LoadDecls reads type declarations from a .toml, .yaml or .yml file.
//
//	[[types]]
//	name = "Widget"
//	[[types.fields]]
//	name = "Count"
//	kind = "int32"
//	default = 0
func LoadDecls(path string) ([]TypeDecl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f declFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
		}
		if !meta.IsDefined("types") {
			return nil, fmt.Errorf("%s: missing [[types]]", path)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("%s: failed to parse YAML: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported declaration format %q", path, ext)
	}
	for i, d := range f.Types {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("%s: type #%d has no name", path, i+1)
		}
	}
	return f.Types, nil
}

// LoadSchema reads every declaration file in paths and registers the
// union in dependency order.
func (r *Registry) LoadSchema(paths ...string) ([]*Type, error) {
	var all []TypeDecl
	for _, p := range paths {
		decls, err := LoadDecls(p)
		if err != nil {
			return nil, err
		}
		all = append(all, decls...)
	}
	return r.RegisterAll(all)
}
