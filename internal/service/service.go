// Package service gives the long-running surfaces (HTTP, MCP) serialized
// access to the native libraries.
//
// Native handles are not safe for concurrent use, so every call that
// reaches native code holds one mutex. Libraries are loaded on first use
// and snapshots are cached per model and day. Reload drops everything;
// the next call loads the libraries again, which picks up a new install.
//
// Loading a library may provision it. Provisioning, whether from Install
// or from a first load, holds installMu, which is always taken before mu.
// A first load is detached from the caller's cancellation, so a dropped
// request does not abort the build it started.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/provision"
	"github.com/starford/grandlibs/internal/shape"
)

// Event kinds.
const (
	EventInstalled     = "library.installed"
	EventInstallFailed = "library.install_failed"
	EventReloaded      = "library.reloaded"
)

// Event reports a change of the installed libraries.
type Event struct {
	Kind    string `json:"kind"`
	Library string `json:"library,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

const maxSnapshots = 16

type snapshotKey struct {
	model string
	day   string
}

// Service serializes access to the loaded libraries.
type Service struct {
	backend Backend
	logger  *slog.Logger
	notify  func(Event)

	installMu sync.Mutex

	mu        sync.Mutex
	turtle    Transformer
	gull      Geomagnet
	snapshots map[snapshotKey]Snapshot
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNotify registers a callback for library events.
func WithNotify(fn func(Event)) Option {
	return func(s *Service) { s.notify = fn }
}

// New creates a Service.
func New(b Backend, opts ...Option) *Service {
	s := &Service{
		backend:   b,
		logger:    slog.Default(),
		notify:    func(Event) {},
		snapshots: make(map[snapshotKey]Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LibraryStatus describes one wrapped library.
type LibraryStatus struct {
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	Pinned          string    `json:"pinned"`
	Installed       string    `json:"installed,omitempty"`
	InstalledAt     time.Time `json:"installed_at,omitzero"`
	UpToDate        bool      `json:"up_to_date"`
	PatchsetCurrent bool      `json:"patchset_current"`
	Loaded          bool      `json:"loaded"`
}

// Status reports the install state of every library.
func (s *Service) Status() ([]LibraryStatus, error) {
	s.mu.Lock()
	loaded := map[string]bool{"turtle": s.turtle != nil, "gull": s.gull != nil}
	s.mu.Unlock()

	var out []LibraryStatus
	for _, d := range s.backend.Descriptors() {
		rec, err := s.backend.Record(d.Name)
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", d.Name, err)
		}
		out = append(out, LibraryStatus{
			Name:            d.Name,
			URL:             d.URL,
			Pinned:          d.Revision,
			Installed:       rec.Revision,
			InstalledAt:     rec.InstalledAt,
			UpToDate:        rec.Revision == d.Revision,
			PatchsetCurrent: rec.Patchset == d.Patchset(),
			Loaded:          loaded[d.Name],
		})
	}
	return out, nil
}

// Install provisions every library, stopping at the first failure. When
// anything was rebuilt the loaded libraries are dropped so that the next
// call uses the new build.
func (s *Service) Install(ctx context.Context, force bool) ([]*provision.Result, error) {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	var (
		results []*provision.Result
		changed bool
	)
	for _, d := range s.backend.Descriptors() {
		res, err := s.backend.Install(ctx, d, force)
		if err != nil {
			s.notify(Event{Kind: EventInstallFailed, Library: d.Name, Detail: err.Error()})
			if changed {
				s.Reload("install")
			}
			return results, err
		}
		results = append(results, res)
		if !res.Skipped {
			changed = true
			s.notify(Event{Kind: EventInstalled, Library: d.Name, Detail: d.Revision})
		}
	}
	if changed {
		s.Reload("install")
	}
	return results, nil
}

// Reload closes every snapshot and library.
func (s *Service) Reload(reason string) {
	s.mu.Lock()
	s.closeAll()
	s.mu.Unlock()

	s.logger.Info("service: libraries released", slog.String("reason", reason))
	s.notify(Event{Kind: EventReloaded, Detail: reason})
}

// Close releases every native resource.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAll()
}

// closeAll must be called with s.mu held.
func (s *Service) closeAll() error {
	var errs []error
	for k, snap := range s.snapshots {
		errs = append(errs, snap.Close())
		delete(s.snapshots, k)
	}
	if s.gull != nil {
		errs = append(errs, s.gull.Close())
		s.gull = nil
	}
	if s.turtle != nil {
		errs = append(errs, s.turtle.Close())
		s.turtle = nil
	}
	return errors.Join(errs...)
}

// lockLoaded returns with s.mu held and the requested libraries loaded.
// On error s.mu is not held.
func (s *Service) lockLoaded(ctx context.Context, turtle, gull bool) error {
	s.mu.Lock()
	if (!turtle || s.turtle != nil) && (!gull || s.gull != nil) {
		return nil
	}
	s.mu.Unlock()

	s.installMu.Lock()
	defer s.installMu.Unlock()
	s.mu.Lock()
	ctx = context.WithoutCancel(ctx)
	if turtle {
		if _, err := s.loadTurtle(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if gull {
		if _, err := s.loadGull(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

// loadTurtle must be called with s.mu and s.installMu held.
func (s *Service) loadTurtle(ctx context.Context) (Transformer, error) {
	if s.turtle == nil {
		t, err := s.backend.LoadTurtle(ctx)
		if err != nil {
			return nil, err
		}
		s.turtle = t
		s.logger.Info("service: turtle loaded")
	}
	return s.turtle, nil
}

// loadGull must be called with s.mu and s.installMu held.
func (s *Service) loadGull(ctx context.Context) (Geomagnet, error) {
	if s.gull == nil {
		g, err := s.backend.LoadGull(ctx)
		if err != nil {
			return nil, err
		}
		s.gull = g
		s.logger.Info("service: gull loaded")
	}
	return s.gull, nil
}

// Warm loads both libraries, installing them when needed.
func (s *Service) Warm(ctx context.Context) error {
	if err := s.lockLoaded(ctx, true, true); err != nil {
		return err
	}
	s.mu.Unlock()
	return nil
}

// ECEFFromGeodetic converts geodetic coordinates to ECEF positions.
func (s *Service) ECEFFromGeodetic(ctx context.Context, latitude, longitude, altitude []float64) (shape.Vectors, error) {
	if err := s.lockLoaded(ctx, true, false); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.turtle.ECEFFromGeodetic(latitude, longitude, altitude)
}

// ECEFToGeodetic converts ECEF positions to geodetic coordinates.
func (s *Service) ECEFToGeodetic(ctx context.Context, ecef []float64) (latitude, longitude, altitude shape.Scalars, err error) {
	if err := s.lockLoaded(ctx, true, false); err != nil {
		return nil, nil, nil, err
	}
	defer s.mu.Unlock()
	return s.turtle.ECEFToGeodetic(ecef)
}

// ECEFFromHorizontal converts horizontal angles to ECEF directions.
func (s *Service) ECEFFromHorizontal(ctx context.Context, latitude, longitude, azimuth, elevation []float64) (shape.Vectors, error) {
	if err := s.lockLoaded(ctx, true, false); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.turtle.ECEFFromHorizontal(latitude, longitude, azimuth, elevation)
}

// ECEFToHorizontal converts ECEF directions to horizontal angles.
func (s *Service) ECEFToHorizontal(ctx context.Context, latitude, longitude, direction []float64) (azimuth, elevation shape.Scalars, err error) {
	if err := s.lockLoaded(ctx, true, false); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()
	return s.turtle.ECEFToHorizontal(latitude, longitude, direction)
}

// FieldQuery selects a model, a date and the positions to evaluate.
type FieldQuery struct {
	Model     string
	Date      time.Time
	Latitude  []float64
	Longitude []float64
	Altitude  []float64
}

// FieldResult is the field at every queried position.
type FieldResult struct {
	Model       string        `json:"model"`
	Date        string        `json:"date"`
	Order       int           `json:"order"`
	AltitudeMin float64       `json:"altitude_min"`
	AltitudeMax float64       `json:"altitude_max"`
	Field       shape.Vectors `json:"field"`
}

// Field evaluates a geomagnetic model. A missing altitude defaults to 0 at
// every position.
func (s *Service) Field(ctx context.Context, q FieldQuery) (*FieldResult, error) {
	if len(q.Altitude) == 0 {
		q.Altitude = make([]float64, len(q.Latitude))
	}
	if q.Date.IsZero() {
		return nil, apperr.Invalid("field", "must be set", "date")
	}
	day := q.Date.UTC().Format(time.DateOnly)

	if err := s.lockLoaded(ctx, false, true); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	snap, err := s.snapshot(q.Model, day)
	if err != nil {
		return nil, err
	}
	v, err := snap.FieldN(q.Latitude, q.Longitude, q.Altitude)
	if err != nil {
		return nil, err
	}
	lo, hi := snap.AltitudeRange()
	return &FieldResult{
		Model:       q.Model,
		Date:        day,
		Order:       snap.Order(),
		AltitudeMin: lo,
		AltitudeMax: hi,
		Field:       v,
	}, nil
}

// snapshot must be called with s.mu held.
func (s *Service) snapshot(model, day string) (Snapshot, error) {
	key := snapshotKey{model: model, day: day}
	if snap, ok := s.snapshots[key]; ok {
		return snap, nil
	}
	date, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return nil, apperr.Invalid("field", err.Error(), "date")
	}
	snap, err := s.gull.NewSnapshot(model, date)
	if err != nil {
		return nil, err
	}
	if len(s.snapshots) >= maxSnapshots {
		for k, old := range s.snapshots {
			_ = old.Close()
			delete(s.snapshots, k)
			break
		}
	}
	s.snapshots[key] = snap
	return snap, nil
}
