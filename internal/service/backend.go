package service

import (
	"context"
	"time"

	"github.com/starford/grandlibs/internal/gull"
	"github.com/starford/grandlibs/internal/meta"
	"github.com/starford/grandlibs/internal/provision"
	"github.com/starford/grandlibs/internal/shape"
	"github.com/starford/grandlibs/internal/turtle"
)

// Transformer is a loaded coordinate transform library.
type Transformer interface {
	ECEFFromGeodetic(latitude, longitude, altitude []float64) (shape.Vectors, error)
	ECEFToGeodetic(ecef []float64) (latitude, longitude, altitude shape.Scalars, err error)
	ECEFFromHorizontal(latitude, longitude, azimuth, elevation []float64) (shape.Vectors, error)
	ECEFToHorizontal(latitude, longitude, direction []float64) (azimuth, elevation shape.Scalars, err error)
	Close() error
}

// Snapshot is a geomagnetic model evaluated at a fixed date.
type Snapshot interface {
	Field(latitude, longitude, altitude float64) ([3]float64, error)
	FieldN(latitude, longitude, altitude []float64) (shape.Vectors, error)
	Order() int
	AltitudeRange() (minimum, maximum float64)
	Close() error
}

// Geomagnet is a loaded geomagnetic library.
type Geomagnet interface {
	NewSnapshot(model string, date time.Time) (Snapshot, error)
	Close() error
}

// Backend installs and loads the native libraries.
type Backend interface {
	Descriptors() []provision.Descriptor
	Install(ctx context.Context, d provision.Descriptor, force bool) (*provision.Result, error)
	Record(library string) (meta.Record, error)
	LoadTurtle(ctx context.Context) (Transformer, error)
	LoadGull(ctx context.Context) (Geomagnet, error)
}

// NativeBackend provisions through a Pipeline and loads the real builds.
type NativeBackend struct {
	pipeline *provision.Pipeline
	store    *meta.Store
}

// NewNativeBackend creates a backend on top of p, whose records live in store.
func NewNativeBackend(p *provision.Pipeline, store *meta.Store) *NativeBackend {
	return &NativeBackend{pipeline: p, store: store}
}

// Descriptors returns the wrapped libraries.
func (b *NativeBackend) Descriptors() []provision.Descriptor {
	return []provision.Descriptor{turtle.Descriptor(), gull.Descriptor()}
}

// Install provisions d.
func (b *NativeBackend) Install(ctx context.Context, d provision.Descriptor, force bool) (*provision.Result, error) {
	if force {
		return b.pipeline.Reinstall(ctx, d)
	}
	return b.pipeline.EnsureInstalled(ctx, d)
}

// Record rereads the install record of library from disk.
func (b *NativeBackend) Record(library string) (meta.Record, error) {
	b.store.Invalidate(library)
	return b.store.Record(library)
}

// LoadTurtle installs TURTLE if needed and loads it.
func (b *NativeBackend) LoadTurtle(ctx context.Context) (Transformer, error) {
	lib, err := turtle.Open(ctx, b.pipeline)
	if err != nil {
		return nil, err
	}
	return lib, nil
}

// LoadGull installs GULL if needed and loads it.
func (b *NativeBackend) LoadGull(ctx context.Context) (Geomagnet, error) {
	lib, err := gull.Open(ctx, b.pipeline)
	if err != nil {
		return nil, err
	}
	return geomagnet{lib}, nil
}

type geomagnet struct {
	*gull.Library
}

func (g geomagnet) NewSnapshot(model string, date time.Time) (Snapshot, error) {
	s, err := g.Library.NewSnapshot(model, date)
	if err != nil {
		return nil, err
	}
	return s, nil
}
