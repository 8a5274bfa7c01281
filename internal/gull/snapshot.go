package gull

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/shape"
)

// Snapshot is a geomagnetic model evaluated at a fixed date.
//
// A Snapshot owns two native handles: the snapshot itself and a workspace
// allocated by the first field query and reused afterwards. Close releases
// both; a closed snapshot fails every query with a ResourceError.
type Snapshot struct {
	lib   *Library
	model string
	date  time.Time

	handle    uintptr
	workspace uintptr

	order       int
	altitudeMin float64
	altitudeMax float64
}

// ModelPath returns the coefficient file of model.
func (l *Library) ModelPath(model string) string {
	return filepath.Join(l.dataDir, Name, model+".COF")
}

// NewSnapshot loads model at date. A bad model name, an unreadable or
// malformed coefficient file, or a date outside the model's validity is
// reported as a NativeCallError carrying the GULL code.
func (l *Library) NewSnapshot(model string, date time.Time) (*Snapshot, error) {
	const op = "snapshot"
	if model == "" {
		return nil, apperr.Invalid(op, "must not be empty", "model")
	}
	if strings.ContainsAny(model, `/\`) || model == "." || model == ".." {
		return nil, apperr.Invalid(op, "must be a model name, not a path", "model")
	}
	if date.IsZero() {
		return nil, apperr.Invalid(op, "must be set", "date")
	}
	fn, err := l.entryPoints(op)
	if err != nil {
		return nil, err
	}

	path := l.ModelPath(model)
	var (
		handle uintptr
		line   int32
	)
	if err := fn.create(&handle, path, int32(date.Day()), int32(date.Month()), int32(date.Year()), &line); err != nil {
		if handle != 0 {
			fn.destroy(&handle)
		}
		var nce *apperr.NativeCallError
		if errors.As(err, &nce) {
			nce.Detail = path
			if line > 0 {
				nce.Detail = fmt.Sprintf("%s:%d", path, line)
			}
		}
		return nil, fmt.Errorf("gull: load %s at %s: %w", model, date.Format(time.DateOnly), err)
	}

	s := &Snapshot{lib: l, model: model, date: date, handle: handle}
	var order int32
	fn.info(handle, &order, &s.altitudeMin, &s.altitudeMax)
	s.order = int(order)
	return s, nil
}

// Model returns the model name.
func (s *Snapshot) Model() string { return s.model }

// Date returns the evaluation date.
func (s *Snapshot) Date() time.Time { return s.date }

// Order returns the approximation order of the model.
func (s *Snapshot) Order() int { return s.order }

// AltitudeRange returns the altitude validity range of the model, in
// metres.
func (s *Snapshot) AltitudeRange() (minimum, maximum float64) {
	return s.altitudeMin, s.altitudeMax
}

// Closed reports whether the snapshot has been released.
func (s *Snapshot) Closed() bool { return s.handle == 0 }

// Field returns the magnetic field, in tesla, in the local east, north,
// up frame at one geodetic position.
func (s *Snapshot) Field(latitude, longitude, altitude float64) ([3]float64, error) {
	var magnet [3]float64
	fn, err := s.ready("field")
	if err != nil {
		return magnet, err
	}
	if err := fn.field(s.handle, latitude, longitude, altitude, &magnet[0], &s.workspace); err != nil {
		return [3]float64{}, fmt.Errorf("gull: field at (%g, %g, %g): %w", latitude, longitude, altitude, err)
	}
	return magnet, nil
}

// FieldN evaluates the field at n positions with a single native call.
func (s *Snapshot) FieldN(latitude, longitude, altitude []float64) (shape.Vectors, error) {
	const op = "field"
	n, err := shape.Count(op,
		shape.Arg{Name: "latitude", Values: latitude},
		shape.Arg{Name: "longitude", Values: longitude},
		shape.Arg{Name: "altitude", Values: altitude})
	if err != nil {
		return nil, err
	}
	fn, err := s.ready(op)
	if err != nil {
		return nil, err
	}
	magnet := make([]float64, 3*n)
	if err := fn.fieldV(s.handle, &latitude[0], &longitude[0], &altitude[0], &magnet[0], uint(n), &s.workspace); err != nil {
		return nil, fmt.Errorf("gull: field at %d positions: %w", n, err)
	}
	return shape.FromFlat(magnet), nil
}

// Close releases the native handles. Closing twice is a no-op. Closing a
// snapshot after its library returns a ResourceError: the handles can no
// longer be destroyed and are dropped.
func (s *Snapshot) Close() error {
	if s.handle == 0 {
		return nil
	}
	fn := s.lib.fn
	if fn == nil {
		s.workspace = 0
		s.handle = 0
		return &apperr.ResourceError{Resource: "gull snapshot " + s.model, Msg: "closed after its library, native handles leaked"}
	}
	if s.workspace != 0 {
		fn.workspaceDestroy(&s.workspace)
	}
	fn.destroy(&s.handle)
	s.workspace = 0
	s.handle = 0
	return nil
}

func (s *Snapshot) ready(op string) (*entryPoints, error) {
	if s.handle == 0 {
		return nil, &apperr.ResourceError{Resource: "gull snapshot " + s.model, Msg: op + " on a closed snapshot"}
	}
	return s.lib.entryPoints(op)
}
