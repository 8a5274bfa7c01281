// Package watch reports changes to an install directory, so that a running
// server notices installs made by another process.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period that closes a burst of events.
const DefaultDebounce = 200 * time.Millisecond

// Callback receives the libraries touched by one burst of file events.
type Callback func(libraries []string)

// Watch watches dir until ctx is cancelled. Writes to install records
// (.<name>.json) and shared objects (lib<name>.so and friends) are collected
// and reported once the directory has been quiet for debounce. Staging files
// of atomic writes are ignored.
func Watch(ctx context.Context, dir string, debounce time.Duration, logger *slog.Logger, cb Callback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("dir", dir))

	pending := make(map[string]struct{})
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			timer, timerCh = nil, nil
			if len(pending) == 0 {
				continue
			}
			libs := make([]string, 0, len(pending))
			for lib := range pending {
				libs = append(libs, lib)
			}
			sort.Strings(libs)
			clear(pending)
			logger.Debug("watcher: libraries changed", slog.Any("libraries", libs))
			if cb != nil {
				cb(libs)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			lib, ok := LibraryOf(filepath.Base(ev.Name))
			if !ok {
				continue
			}
			pending[lib] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// LibraryOf maps a file name in the install directory to the library it
// belongs to.
func LibraryOf(name string) (string, bool) {
	if strings.HasPrefix(name, ".grandlibs-tmp-") {
		return "", false
	}
	if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".json") {
		lib := strings.TrimPrefix(strings.TrimSuffix(name, ".json"), ".")
		return lib, lib != ""
	}
	for _, ext := range []string{".so", ".dylib", ".dll"} {
		if !strings.HasSuffix(name, ext) {
			continue
		}
		lib := strings.TrimSuffix(name, ext)
		if ext != ".dll" {
			if !strings.HasPrefix(lib, "lib") {
				return "", false
			}
			lib = strings.TrimPrefix(lib, "lib")
		}
		return lib, lib != ""
	}
	return "", false
}
