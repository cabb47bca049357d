package ident

import "sync"

var (
	defaultTable *Table
	defaultOnce  sync.Once
)

// Default returns the process-wide identifier table.
func Default() *Table {
	defaultOnce.Do(func() { defaultTable = NewTable() })
	return defaultTable
}

// Intern interns text in the process-wide table.
func Intern(text string) ID {
	return Default().Intern(text)
}

// Resolve returns the text of id from the process-wide table.
func Resolve(id ID) string {
	return Default().Resolve(id)
}
