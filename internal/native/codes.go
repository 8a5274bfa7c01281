package native

import (
	"fmt"

	"github.com/starford/grandlibs/internal/apperr"
)

// CodeTable names the return codes of a library. A return code is an index
// into the table and index 0 is success.
type CodeTable struct {
	library string
	names   []string
}

// NewCodeTable builds and validates a table.
func NewCodeTable(library string, names ...string) (CodeTable, error) {
	t := CodeTable{library: library, names: names}
	if err := t.Validate(); err != nil {
		return CodeTable{}, err
	}
	return t, nil
}

// MustCodeTable is NewCodeTable for package-level tables.
func MustCodeTable(library string, names ...string) CodeTable {
	t, err := NewCodeTable(library, names...)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks that the table is usable: it has a library name, at least
// the success entry, and no empty or duplicate names.
func (t CodeTable) Validate() error {
	if t.library == "" {
		return &apperr.BindingError{Library: "?", Msg: "code table has no library name"}
	}
	if len(t.names) == 0 {
		return &apperr.BindingError{Library: t.library, Msg: "code table is empty"}
	}
	seen := make(map[string]int, len(t.names))
	for i, name := range t.names {
		if name == "" {
			return &apperr.BindingError{Library: t.library, Msg: fmt.Sprintf("code table entry %d is empty", i)}
		}
		if j, dup := seen[name]; dup {
			return &apperr.BindingError{Library: t.library, Msg: fmt.Sprintf("code table entries %d and %d are both %s", j, i, name)}
		}
		seen[name] = i
	}
	return nil
}

// Library returns the library the table belongs to.
func (t CodeTable) Library() string { return t.library }

// Len returns the number of codes, success included.
func (t CodeTable) Len() int { return len(t.names) }

// Name returns the name of code.
func (t CodeTable) Name(code int32) (string, bool) {
	if code < 0 || int(code) >= len(t.names) {
		return "", false
	}
	return t.names[code], true
}

// Code returns the code of name.
func (t CodeTable) Code(name string) (int32, bool) {
	for i, n := range t.names {
		if n == name {
			return int32(i), true
		}
	}
	return 0, false
}

// Check converts the return code of function into an error: nil for
// success, a NativeCallError for a documented code and a BindingError for a
// code the table does not know.
func (t CodeTable) Check(function string, code int32) error {
	if code == 0 {
		return nil
	}
	name, ok := t.Name(code)
	if !ok {
		return &apperr.BindingError{
			Library: t.library,
			Symbol:  function,
			Msg:     fmt.Sprintf("return code %d is not in the code table (%d entries)", code, len(t.names)),
		}
	}
	return &apperr.NativeCallError{Library: t.library, Function: function, Code: code, Name: name}
}
