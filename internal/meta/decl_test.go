package meta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlSchema = `
[[types]]
name = "Widget"
parent = "Thing"

[[types.fields]]
name = "Count"
kind = "int32"
default = 3

[[types.fields]]
name = "Tags"
kind = "array"
elem = { kind = "string" }
default = ["a", "b"]

[[types]]
name = "Thing"

[[types.fields]]
name = "Label"
kind = "string"
flags = ["persist", "net"]
`

const yamlSchema = `
types:
  - name: Gadget
    fields:
      - name: Ratio
        kind: float64
        default: 0.5
      - name: Owner
        kind: object
      - name: Lookup
        kind: map
        key: {kind: name}
        elem: {kind: int32}
        default: {first: 1}
`

func writeSchema(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDeclsTOML(t *testing.T) {
	decls, err := LoadDecls(writeSchema(t, "types.toml", tomlSchema))
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, KindArray, decls[0].Fields[1].Kind)
	require.NotNil(t, decls[0].Fields[1].Elem)
	assert.Equal(t, KindString, decls[0].Fields[1].Elem.Kind)

	r := newRegistry(t)
	types, err := r.RegisterAll(decls)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "Thing", types[0].Text, "parents are registered first")

	w := r.Lookup("Widget")
	inst := w.New().Root()
	assert.Equal(t, int32(3), inst.At(w.FieldNamed("Count"), 0).Int32())
	tags := w.FieldNamed("Tags")
	assert.Equal(t, 2, ArrayLen(inst.At(tags, 0)))
	label := w.FieldNamed("Label")
	assert.True(t, label.Has(FieldPersist|FieldNet))
}

func TestLoadDeclsYAML(t *testing.T) {
	r := newRegistry(t)
	types, err := r.LoadSchema(writeSchema(t, "types.yaml", yamlSchema))
	require.NoError(t, err)
	require.Len(t, types, 1)

	g := types[0]
	inst := g.New().Root()
	assert.Equal(t, 0.5, inst.At(g.FieldNamed("Ratio"), 0).Float64())
	lookup := g.FieldNamed("Lookup")
	m := inst.At(lookup, 0).Map(lookup.Key, lookup.Elem)
	require.Equal(t, 1, m.Len())
	k, v := m.Entry(0)
	assert.Equal(t, "first", r.Names().String(k.Name()))
	assert.Equal(t, int32(1), v.Int32())
}

func TestLoadDeclsErrors(t *testing.T) {
	_, err := LoadDecls(writeSchema(t, "types.json", "{}"))
	assert.Error(t, err)

	_, err = LoadDecls(writeSchema(t, "bad.toml", "[[types]]\nname = \"X\"\n[[types.fields]]\nname = \"F\"\nkind = \"quaternion\"\n"))
	assert.Error(t, err, "unknown kinds are rejected")

	_, err = LoadDecls(writeSchema(t, "bad.yaml", "types:\n  - name: X\n    colour: red\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = LoadDecls(writeSchema(t, "empty.toml", "title = \"nothing\"\n"))
	assert.Error(t, err)
}
