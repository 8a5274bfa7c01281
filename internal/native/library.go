// Package native loads shared libraries and binds their C entry points to
// typed Go functions.
//
// A Library is an explicit context object: every binding is made against a
// Library value, so several independent loads can coexist (tests open libm
// next to the real libraries). Bindings are made once, right after the
// library is opened, through Register.
//
// Native handles are not safe for concurrent use. Callers that share a
// Library between goroutines must serialize calls themselves.
package native

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/starford/grandlibs/internal/apperr"
)

// Library is a dlopen'ed shared object.
type Library struct {
	name string
	path string

	mu     sync.Mutex
	handle uintptr
}

// Open loads the shared object at path. name identifies the library in
// errors and code tables.
func Open(name, path string) (*Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, &apperr.BindingError{Library: name, Msg: "load " + path, Err: err}
	}
	return &Library{name: name, path: path, handle: handle}, nil
}

// Name returns the library name.
func (l *Library) Name() string { return l.name }

// Path returns the file the library was loaded from.
func (l *Library) Path() string { return l.path }

// Symbol resolves the address of an exported symbol.
func (l *Library) Symbol(symbol string) (uintptr, error) {
	l.mu.Lock()
	handle := l.handle
	l.mu.Unlock()
	if handle == 0 {
		return 0, &apperr.BindingError{Library: l.name, Symbol: symbol, Msg: "library is closed"}
	}
	addr, err := purego.Dlsym(handle, symbol)
	if err != nil {
		return 0, &apperr.BindingError{Library: l.name, Symbol: symbol, Msg: "symbol not found", Err: err}
	}
	if addr == 0 {
		return 0, &apperr.BindingError{Library: l.name, Symbol: symbol, Msg: "symbol resolves to NULL"}
	}
	return addr, nil
}

// Close unloads the library. Functions bound from it must not be called
// afterwards. Closing twice is a no-op.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("native: close %s: %w", l.name, err)
	}
	return nil
}
