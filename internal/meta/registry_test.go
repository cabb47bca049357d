package meta

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objcore/internal/ident"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(ident.NewTable())
}

func intPtr(v int) *int { return &v }

func TestRegisterWidget(t *testing.T) {
	r := newRegistry(t)
	w, err := r.RegisterType("Widget", nil, 0, []FieldDecl{
		{Name: "Count", Kind: KindInt32, Default: int64(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, w.Size)
	count := w.FieldNamed("count")
	require.NotNil(t, count)
	assert.Equal(t, 0, count.Offset)
	assert.True(t, count.Has(FieldHasDefault))
	assert.Equal(t, DefaultPackage, w.Package)
	assert.Same(t, w, r.Lookup("WIDGET"))
}

func TestRegisterIdempotent(t *testing.T) {
	r := newRegistry(t)
	fields := []FieldDecl{{Name: "Count", Kind: KindInt32}, {Name: "Label", Kind: KindString}}
	a, err := r.RegisterType("Widget", nil, 0, fields)
	require.NoError(t, err)
	b, err := r.RegisterType("widget", nil, 0, fields)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Len(t, r.Types(), 1)

	_, err = r.RegisterType("Widget", nil, 0, []FieldDecl{{Name: "Count", Kind: KindInt64}})
	assert.ErrorIs(t, err, ErrStructuralChange)
}

func TestRegisterLayoutValidation(t *testing.T) {
	r := newRegistry(t)
	cases := []struct {
		name   string
		size   int
		fields []FieldDecl
		want   error
	}{
		{
			name: "overlap",
			fields: []FieldDecl{
				{Name: "A", Kind: KindInt64, Offset: intPtr(0)},
				{Name: "B", Kind: KindInt32, Offset: intPtr(4)},
			},
			want: ErrOverlap,
		},
		{
			name:   "beyond size",
			size:   4,
			fields: []FieldDecl{{Name: "A", Kind: KindInt64}},
			want:   ErrOutOfBounds,
		},
		{
			name:   "negative offset",
			fields: []FieldDecl{{Name: "A", Kind: KindByte, Offset: intPtr(-1)}},
			want:   ErrOutOfBounds,
		},
		{
			name:   "duplicate",
			fields: []FieldDecl{{Name: "A", Kind: KindByte}, {Name: "a", Kind: KindByte}},
			want:   ErrDuplicateField,
		},
		{
			name:   "unknown struct",
			fields: []FieldDecl{{Name: "A", Kind: KindStruct, Struct: "Missing"}},
			want:   ErrUnknownStruct,
		},
		{
			name:   "array without elem",
			fields: []FieldDecl{{Name: "A", Kind: KindArray}},
			want:   ErrBadField,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.RegisterType("T_"+tc.name, nil, tc.size, tc.fields)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegisterChildDoesNotOverlapParent(t *testing.T) {
	r := newRegistry(t)
	base, err := r.RegisterType("Base", nil, 0, []FieldDecl{{Name: "Id", Kind: KindInt32}})
	require.NoError(t, err)

	_, err = r.RegisterType("Bad", base, 0, []FieldDecl{{Name: "X", Kind: KindInt32, Offset: intPtr(0)}})
	assert.ErrorIs(t, err, ErrOverlap)

	child, err := r.RegisterType("Child", base, 0, []FieldDecl{{Name: "X", Kind: KindInt64}})
	require.NoError(t, err)
	assert.Equal(t, 8, child.FieldNamed("X").Offset, "int64 aligned past the parent range")
	assert.True(t, child.IsA(base))
	assert.False(t, base.IsA(child))
	assert.Equal(t, 1, child.Depth())
}

func TestRegisterAllDependencyOrder(t *testing.T) {
	r := newRegistry(t)
	decls := []TypeDecl{
		{Name: "Leaf", Parent: "Mid", Fields: []FieldDecl{{Name: "C", Kind: KindInt32}}},
		{Name: "Mid", Parent: "Root", Fields: []FieldDecl{{Name: "V", Kind: KindStruct, Struct: "Vec"}}},
		{Name: "Vec", Flags: []string{"struct"}, Fields: []FieldDecl{{Name: "X", Kind: KindFloat32}, {Name: "Y", Kind: KindFloat32}}},
		{Name: "Root"},
	}
	types, err := r.RegisterAll(decls)
	require.NoError(t, err)
	require.Len(t, types, 4)

	pos := func(name string) int {
		return slices.IndexFunc(types, func(t *Type) bool { return t.Text == name })
	}
	assert.Less(t, pos("Root"), pos("Mid"))
	assert.Less(t, pos("Vec"), pos("Mid"))
	assert.Less(t, pos("Mid"), pos("Leaf"))
	assert.True(t, r.Lookup("Vec").Has(TypeStruct))
}

func TestRegisterAllCycle(t *testing.T) {
	r := newRegistry(t)
	_, err := r.RegisterAll([]TypeDecl{
		{Name: "A", Parent: "B"},
		{Name: "B", Parent: "A"},
	})
	assert.ErrorIs(t, err, ErrInheritanceCycle)

	_, err = r.RegisterAll([]TypeDecl{{Name: "Orphan", Parent: "Nowhere"}})
	assert.ErrorIs(t, err, ErrUnknownParent)
}

func TestWalkOrders(t *testing.T) {
	r := newRegistry(t)
	a, err := r.RegisterType("A", nil, 0, []FieldDecl{{Name: "A1", Kind: KindInt32}, {Name: "A2", Kind: KindInt32}})
	require.NoError(t, err)
	b, err := r.RegisterType("B", a, 0, []FieldDecl{{Name: "B1", Kind: KindInt32}})
	require.NoError(t, err)

	var parentFirst, childFirst, own []string
	for f := range b.Walk(ParentFirst) {
		parentFirst = append(parentFirst, f.Text)
	}
	for f := range b.Walk(ChildFirst) {
		childFirst = append(childFirst, f.Text)
	}
	for f := range b.Own() {
		own = append(own, f.Text)
	}
	assert.Equal(t, []string{"A1", "A2", "B1"}, parentFirst)
	assert.Equal(t, []string{"B1", "A1", "A2"}, childFirst)
	assert.Equal(t, []string{"B1"}, own)
	assert.Equal(t, 3, b.NumFields())
}

func TestDefaultsInheritAndNest(t *testing.T) {
	r := newRegistry(t)
	_, err := r.RegisterAll([]TypeDecl{
		{Name: "Color", Flags: []string{"struct"}, Fields: []FieldDecl{
			{Name: "R", Kind: KindByte, Default: int64(255)},
			{Name: "Tag", Kind: KindString, Default: "red"},
		}},
		{Name: "Base", Fields: []FieldDecl{{Name: "Hp", Kind: KindInt32, Default: int64(100)}}},
		{Name: "Unit", Parent: "Base", Fields: []FieldDecl{
			{Name: "Tint", Kind: KindStruct, Struct: "Color"},
			{Name: "Slots", Kind: KindInt32, Dim: 3, Default: []any{int64(1), int64(2)}},
			{Name: "Tags", Kind: KindArray, Elem: &FieldDecl{Kind: KindName}, Default: []any{"a", "b"}},
		}},
	})
	require.NoError(t, err)
	unit := r.Lookup("Unit")
	inst := unit.New().Root()

	assert.Equal(t, int32(100), inst.At(unit.FieldNamed("Hp"), 0).Int32())
	tint := unit.FieldNamed("Tint")
	color := r.Lookup("Color")
	assert.Equal(t, uint8(255), inst.At(tint, 0).At(color.FieldNamed("R"), 0).Byte())
	assert.Equal(t, "red", inst.At(tint, 0).At(color.FieldNamed("Tag"), 0).Text())

	slots := unit.FieldNamed("Slots")
	assert.Equal(t, int32(1), inst.At(slots, 0).Int32())
	assert.Equal(t, int32(2), inst.At(slots, 1).Int32())
	assert.Equal(t, int32(0), inst.At(slots, 2).Int32())

	tags := unit.FieldNamed("Tags")
	arr := inst.At(tags, 0).Array(tags.Elem)
	require.Equal(t, 2, arr.Len())
	assert.Equal(t, "b", r.Names().String(arr.Index(1).Name()))

	// instances are independent copies of the defaults
	inst.At(tint, 0).At(color.FieldNamed("Tag"), 0).SetText("blue")
	fresh := unit.New().Root()
	assert.Equal(t, "red", fresh.At(tint, 0).At(color.FieldNamed("Tag"), 0).Text())
}

func TestBadDefault(t *testing.T) {
	r := newRegistry(t)
	_, err := r.RegisterType("X", nil, 0, []FieldDecl{{Name: "B", Kind: KindByte, Default: int64(300)}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOverlap))
}
