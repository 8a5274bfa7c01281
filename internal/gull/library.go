// Package gull wraps the GULL geomagnetic library: it provisions the pinned
// build with its coefficient files and exposes model snapshots.
package gull

import (
	"context"
	"fmt"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/native"
	"github.com/starford/grandlibs/internal/provision"
)

// Codes are the GULL return codes, in library order.
var Codes = native.MustCodeTable(Name,
	"SUCCESS",
	"DOMAIN_ERROR",
	"FORMAT_ERROR",
	"MEMORY_ERROR",
	"MISSING_DATA",
	"PATH_ERROR",
)

type entryPoints struct {
	create           func(snapshot *uintptr, path string, day, month, year int32, line *int32) error
	destroy          func(snapshot *uintptr)
	info             func(snapshot uintptr, order *int32, altitudeMin, altitudeMax *float64)
	field            func(snapshot uintptr, latitude, longitude, altitude float64, magnet *float64, workspace *uintptr) error
	fieldV           func(snapshot uintptr, latitude, longitude, altitude, magnet *float64, n uint, workspace *uintptr) error
	workspaceDestroy func(workspace *uintptr)
}

// Library is a loaded GULL build together with the directory holding its
// coefficient files. It is not safe for concurrent use.
type Library struct {
	lib     *native.Library
	fn      *entryPoints
	dataDir string
}

// Open installs GULL and its coefficient files if needed, then loads it.
func Open(ctx context.Context, p *provision.Pipeline) (*Library, error) {
	d := Descriptor()
	if _, err := p.EnsureInstalled(ctx, d); err != nil {
		return nil, err
	}
	return Load(p.ArtifactPath(d), p.DataDir())
}

// Load loads an installed GULL build from path. Model files are looked up
// under dataDir/gull.
func Load(path, dataDir string) (*Library, error) {
	lib, err := native.Open(Name, path)
	if err != nil {
		return nil, err
	}
	fn := &entryPoints{}
	if err := lib.Register(Codes,
		native.Prototype{Symbol: "gull_snapshot_create", Fn: &fn.create, Checked: true},
		native.Prototype{Symbol: "gull_snapshot_destroy", Fn: &fn.destroy},
		native.Prototype{Symbol: "gull_snapshot_info", Fn: &fn.info},
		native.Prototype{Symbol: "gull_snapshot_field", Fn: &fn.field, Checked: true},
		native.Prototype{Symbol: "gull_snapshot_field_v", Fn: &fn.fieldV, Checked: true},
		native.Prototype{Symbol: "gull_snapshot_workspace_destroy", Fn: &fn.workspaceDestroy},
	); err != nil {
		_ = lib.Close()
		return nil, fmt.Errorf("gull: %w", err)
	}
	return &Library{lib: lib, fn: fn, dataDir: dataDir}, nil
}

// Path returns the loaded shared object, or "" for an unloaded library.
func (l *Library) Path() string {
	if l.lib == nil {
		return ""
	}
	return l.lib.Path()
}

// DataDir returns the directory model files are resolved against.
func (l *Library) DataDir() string { return l.dataDir }

// Close unloads the library. Snapshots must be closed first; a snapshot
// outliving its library fails every query with a ResourceError.
func (l *Library) Close() error {
	l.fn = nil
	if l.lib == nil {
		return nil
	}
	lib := l.lib
	l.lib = nil
	return lib.Close()
}

func (l *Library) entryPoints(op string) (*entryPoints, error) {
	if l.fn == nil {
		return nil, &apperr.ResourceError{Resource: Name, Msg: op + " on a closed library"}
	}
	return l.fn, nil
}
