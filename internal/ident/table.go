package ident

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"

	"fortio.org/safecast"
	"golang.org/x/text/cases"
)

// ID is a handle into the identifier table. Equality of IDs is equality of
// identifiers, case-insensitively.
type ID uint32

// None is reserved for the empty identifier and spelled "None".
const None ID = 0

const noneText = "None"

// maxIDs bounds the handle space; exceeding it is unrecoverable.
const maxIDs = math.MaxUint32

// Table interns identifiers. Append-only: entries live as long as the table.
type Table struct {
	mu    sync.RWMutex
	byID  []string      // id -> text as first interned
	index map[string]ID // folded text -> id
	next  map[ID]uint32 // MakeUnique counters per base id
}

// NewTable returns a table with None pre-registered.
func NewTable() *Table {
	t := &Table{
		byID:  []string{noneText},
		index: make(map[string]ID, 256),
		next:  make(map[ID]uint32),
	}
	t.index[t.key(noneText)] = None
	t.index[""] = None
	return t
}

// key folds case. Casers carry state, so each call gets its own.
func (t *Table) key(s string) string {
	return cases.Fold().String(s)
}

// Intern returns the existing ID for text (compared case-insensitively) or
// allocates a new one.
func (t *Table) Intern(text string) ID {
	k := t.key(text)

	t.mu.RLock()
	id, ok := t.index[k]
	t.mu.RUnlock()
	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// повторная проверка под write-lock: другой writer мог успеть
	if id, ok := t.index[k]; ok {
		return id
	}
	if len(t.byID) >= maxIDs {
		panic("ident: identifier table exhausted")
	}
	n, err := safecast.Conv[uint32](len(t.byID))
	if err != nil {
		panic(fmt.Errorf("ident: len(byID) overflow: %w", err))
	}
	id = ID(n)
	cpy := string([]byte(text))
	t.byID = append(t.byID, cpy)
	t.index[k] = id
	return id
}

// InternBytes interns the text held in b. The table keeps its own copy.
func (t *Table) InternBytes(b []byte) ID {
	return t.Intern(string(b))
}

// Lookup returns the text of id without interning anything.
func (t *Table) Lookup(id ID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.byID) {
		return "", false
	}
	return t.byID[id], true
}

// Resolve returns the text of id, or "" for unknown IDs.
func (t *Table) Resolve(id ID) string {
	s, _ := t.Lookup(id)
	return s
}

// MustResolve panics when id was never issued by this table.
func (t *Table) MustResolve(id ID) string {
	s, ok := t.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("ident: invalid identifier %d", id))
	}
	return s
}

// Find reports the ID of text when it has already been interned.
func (t *Table) Find(text string) (ID, bool) {
	k := t.key(text)
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.index[k]
	return id, ok
}

// Has reports whether id was issued by this table.
func (t *Table) Has(id ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(id) < len(t.byID)
}

// Len counts issued identifiers including None.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Snapshot returns a copy of all identifier texts indexed by ID.
func (t *Table) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.byID)
}

// Name interns text and returns it as a Name without numeric suffix.
func (t *Table) Name(text string) Name {
	return Name{ID: t.Intern(text)}
}

// MakeUnique returns base with the next free numeric suffix for that base.
// Suffixes are issued in increasing order starting at 1; the rendered form
// of suffix n is "base_<n-1>".
func (t *Table) MakeUnique(base string) Name {
	id := t.Intern(base)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next[id]++
	return Name{ID: id, Number: t.next[id]}
}

// String renders n as text, appending the numeric suffix when present.
func (t *Table) String(n Name) string {
	s := t.Resolve(n.ID)
	if n.Number == 0 {
		return s
	}
	return s + "_" + strconv.FormatUint(uint64(n.Number-1), 10)
}
