package diag

import (
	"errors"
	"strings"
	"testing"
)

func TestBagLimitKeepsFatal(t *testing.T) {
	b := NewBag(1)
	if !b.Add(New(SevWarning, RefMissingExport, Whole("A"), "first")) {
		t.Fatal("first diagnostic should fit")
	}
	if b.Add(New(SevWarning, RefMissingExport, Whole("A"), "second")) {
		t.Fatal("bag should be full")
	}
	if !b.Add(NewError(FmtBadTag, Whole("A"), "bad tag")) {
		t.Fatal("fatal errors are always kept")
	}
	if b.Len() != 2 || b.Dropped() != 1 {
		t.Fatalf("len=%d dropped=%d", b.Len(), b.Dropped())
	}
}

func TestBagSortDedupErr(t *testing.T) {
	b := NewBag(0)
	b.Add(New(SevWarning, FieldUnknown, At("B", 0, "B.X"), "unknown field Foo"))
	b.Add(NewError(RefMissingExport, At("A", 1, "A.Y"), "missing"))
	b.Add(NewError(RefMissingExport, At("A", 1, "A.Y"), "missing"))
	b.Dedup()
	b.Sort()

	items := b.Items()
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Primary.Container != "A" {
		t.Errorf("first = %s, want container A", items[0].Primary)
	}
	err := b.Err()
	var be *BagError
	if !errors.As(err, &be) || be.Count != 1 {
		t.Fatalf("Err() = %v", err)
	}
	if !strings.Contains(be.Summary, "missing") {
		t.Errorf("summary = %q", be.Summary)
	}
}

func TestBagMergeGrows(t *testing.T) {
	a, b := NewBag(1), NewBag(1)
	a.Add(New(SevInfo, RefInfo, Whole("A"), "a"))
	b.Add(New(SevInfo, RefInfo, Whole("B"), "b"))
	a.Merge(b)
	a.Merge(nil)
	if a.Len() != 2 || a.Cap() < 2 {
		t.Fatalf("len=%d cap=%d", a.Len(), a.Cap())
	}
}

func TestDedupReporterAndBuilder(t *testing.T) {
	bag := NewBag(0)
	r := NewDedupReporter(BagReporter{Bag: bag})
	for range 3 {
		ReportWarning(r, RefMissingContainer, Whole("Main"), "container Gone not found").
			WithNote(Whole("Gone"), "searched 2 paths").
			Emit()
	}
	if bag.Len() != 1 {
		t.Fatalf("len = %d, want 1", bag.Len())
	}
	if n := bag.Items()[0].Notes; len(n) != 1 || n[0].At.Container != "Gone" {
		t.Errorf("notes = %+v", n)
	}
}

func TestCodeIDs(t *testing.T) {
	cases := map[Code]string{
		FmtBadTag:         "FMT1001",
		RefMissingExport:  "REF2002",
		FieldKindMismatch: "FLD3002",
		GCStaleRef:        "GC4001",
		SaveIO:            "SAV5004",
		UnknownCode:       "E0000",
	}
	for c, want := range cases {
		if got := c.ID(); got != want {
			t.Errorf("%d.ID() = %q, want %q", c, got, want)
		}
	}
	if !FmtTruncated.Fatal() || !FieldKindMismatch.Fatal() || RefMissingExport.Fatal() {
		t.Error("unexpected Fatal classification")
	}
}

func TestSeverityParseAndThreshold(t *testing.T) {
	cases := []struct {
		in   string
		want Severity
	}{
		{"", SevError},
		{"info", SevInfo},
		{"WARNING", SevWarning},
		{"Error", SevError},
	}
	for _, tc := range cases {
		got, err := ParseSeverity(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseSeverity(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParseSeverity("fatal"); err == nil {
		t.Error("expected error for unknown severity")
	}
	if got := Severity(9).String(); got != "UNKNOWN" {
		t.Errorf("Severity(9) = %q", got)
	}

	b := NewBag(4)
	b.Add(New(SevWarning, SaveTransientRef, Whole("t"), "reference dropped"))
	if !b.HasAtLeast(SevWarning) || b.HasAtLeast(SevError) || b.HasErrors() {
		t.Fatalf("threshold checks wrong for %v", b.Items())
	}
}
