package turtle

import (
	"fmt"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/shape"
)

// Angles are in degrees and lengths in metres. Azimuth is clockwise from the
// local north and elevation is measured from the local horizontal plane.
// Directions are unit vectors in the ECEF frame.

// ECEFFromGeodetic converts geodetic coordinates to ECEF positions.
func (l *Library) ECEFFromGeodetic(latitude, longitude, altitude []float64) (shape.Vectors, error) {
	const op = "ecef_from_geodetic"
	n, err := shape.Count(op,
		shape.Arg{Name: "latitude", Values: latitude},
		shape.Arg{Name: "longitude", Values: longitude},
		shape.Arg{Name: "altitude", Values: altitude})
	if err != nil {
		return nil, err
	}
	fn, err := l.entryPoints(op)
	if err != nil {
		return nil, err
	}
	ecef := make([]float64, 3*n)
	fn.fromGeodetic(&latitude[0], &longitude[0], &altitude[0], &ecef[0], uint(n))
	return shape.FromFlat(ecef), nil
}

// ECEFToGeodetic converts flattened ECEF positions to geodetic coordinates.
func (l *Library) ECEFToGeodetic(ecef []float64) (latitude, longitude, altitude shape.Scalars, err error) {
	const op = "ecef_to_geodetic"
	n, err := shape.Triples(op, "ecef", ecef)
	if err != nil {
		return nil, nil, nil, err
	}
	fn, err := l.entryPoints(op)
	if err != nil {
		return nil, nil, nil, err
	}
	latitude = make(shape.Scalars, n)
	longitude = make(shape.Scalars, n)
	altitude = make(shape.Scalars, n)
	fn.toGeodetic(&ecef[0], &latitude[0], &longitude[0], &altitude[0], uint(n))
	return latitude, longitude, altitude, nil
}

// ECEFFromHorizontal converts horizontal angles observed at geodetic
// positions to ECEF directions.
func (l *Library) ECEFFromHorizontal(latitude, longitude, azimuth, elevation []float64) (shape.Vectors, error) {
	const op = "ecef_from_horizontal"
	n, err := shape.Count(op,
		shape.Arg{Name: "latitude", Values: latitude},
		shape.Arg{Name: "longitude", Values: longitude},
		shape.Arg{Name: "azimuth", Values: azimuth},
		shape.Arg{Name: "elevation", Values: elevation})
	if err != nil {
		return nil, err
	}
	fn, err := l.entryPoints(op)
	if err != nil {
		return nil, err
	}
	direction := make([]float64, 3*n)
	fn.fromHorizontal(&latitude[0], &longitude[0], &azimuth[0], &elevation[0], &direction[0], uint(n))
	return shape.FromFlat(direction), nil
}

// ECEFToHorizontal converts flattened ECEF directions, observed at geodetic
// positions, to horizontal angles.
func (l *Library) ECEFToHorizontal(latitude, longitude, direction []float64) (azimuth, elevation shape.Scalars, err error) {
	const op = "ecef_to_horizontal"
	n, err := shape.Count(op,
		shape.Arg{Name: "latitude", Values: latitude},
		shape.Arg{Name: "longitude", Values: longitude})
	if err != nil {
		return nil, nil, err
	}
	m, err := shape.Triples(op, "direction", direction)
	if err != nil {
		return nil, nil, err
	}
	if m != n {
		return nil, nil, apperr.Invalid(op,
			fmt.Sprintf("must have consistent shapes (%d positions, %d directions)", n, m),
			"latitude", "direction")
	}
	fn, err := l.entryPoints(op)
	if err != nil {
		return nil, nil, err
	}
	azimuth = make(shape.Scalars, n)
	elevation = make(shape.Scalars, n)
	fn.toHorizontal(&latitude[0], &longitude[0], &direction[0], &azimuth[0], &elevation[0], uint(n))
	return azimuth, elevation, nil
}
