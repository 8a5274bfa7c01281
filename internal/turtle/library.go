// Package turtle wraps the TURTLE geodesy library: it provisions the pinned
// build and exposes its ECEF transforms as batch operations.
package turtle

import (
	"context"
	"fmt"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/native"
	"github.com/starford/grandlibs/internal/provision"
)

// Codes are the TURTLE return codes, in library order.
var Codes = native.MustCodeTable(Name,
	"SUCCESS",
	"BAD_ADDRESS",
	"BAD_EXTENSION",
	"BAD_FORMAT",
	"BAD_PROJECTION",
	"BAD_JSON",
	"DOMAIN_ERROR",
	"LIBRARY_ERROR",
	"LOCK_ERROR",
	"MEMORY_ERROR",
	"PATH_ERROR",
	"UNLOCK_ERROR",
)

// entryPoints are the batch transforms added by the ecef extension.
type entryPoints struct {
	fromGeodetic   func(latitude, longitude, altitude, ecef *float64, n uint)
	toGeodetic     func(ecef, latitude, longitude, altitude *float64, n uint)
	fromHorizontal func(latitude, longitude, azimuth, elevation, direction *float64, n uint)
	toHorizontal   func(latitude, longitude, direction, azimuth, elevation *float64, n uint)
}

// Library is a loaded TURTLE build. It is not safe for concurrent use.
type Library struct {
	lib *native.Library
	fn  *entryPoints
}

// Open installs TURTLE if needed, then loads it.
func Open(ctx context.Context, p *provision.Pipeline) (*Library, error) {
	d := Descriptor()
	if _, err := p.EnsureInstalled(ctx, d); err != nil {
		return nil, err
	}
	return Load(p.ArtifactPath(d))
}

// Load loads an installed TURTLE build from path.
func Load(path string) (*Library, error) {
	lib, err := native.Open(Name, path)
	if err != nil {
		return nil, err
	}
	fn := &entryPoints{}
	if err := lib.Register(Codes,
		native.Prototype{Symbol: "turtle_ecef_from_geodetic_v", Fn: &fn.fromGeodetic},
		native.Prototype{Symbol: "turtle_ecef_to_geodetic_v", Fn: &fn.toGeodetic},
		native.Prototype{Symbol: "turtle_ecef_from_horizontal_v", Fn: &fn.fromHorizontal},
		native.Prototype{Symbol: "turtle_ecef_to_horizontal_v", Fn: &fn.toHorizontal},
	); err != nil {
		_ = lib.Close()
		return nil, fmt.Errorf("turtle: %w", err)
	}
	return &Library{lib: lib, fn: fn}, nil
}

// Path returns the loaded shared object, or "" for an unloaded library.
func (l *Library) Path() string {
	if l.lib == nil {
		return ""
	}
	return l.lib.Path()
}

// Close unloads the library. Later calls fail with a ResourceError.
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
