package gull

import (
	"os"
	"strings"
	"unsafe"
)

// fakeGull mimics the GULL entry points closely enough to exercise the
// snapshot lifecycle: model files are read from disk, a file containing
// "garbage" fails to parse at line 3, and years before 1900 are out of
// domain. The field is a deterministic function of the position.
type fakeGull struct {
	next       uintptr
	live       map[uintptr]bool
	workspaces int
	released   int
	calls      int
}

func newFakeLibrary(dataDir string) (*Library, *fakeGull) {
	f := &fakeGull{next: 0x1000, live: map[uintptr]bool{}}
	return &Library{fn: f.entryPoints(), dataDir: dataDir}, f
}

func fakeField(lat, lon, alt float64) [3]float64 {
	return [3]float64{1e-9 * lon, 2e-5 + 1e-9*lat, -3e-5 + 1e-12*alt}
}

func (f *fakeGull) entryPoints() *entryPoints {
	code := func(fn, name string) error {
		c, _ := Codes.Code(name)
		return Codes.Check(fn, c)
	}
	workspace := func(ws *uintptr) {
		if *ws == 0 {
			f.workspaces++
			*ws = 0xbeef
		}
	}
	return &entryPoints{
		create: func(snapshot *uintptr, path string, day, month, year int32, line *int32) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return code("gull_snapshot_create", "PATH_ERROR")
			}
			if strings.Contains(string(data), "garbage") {
				*line = 3
				return code("gull_snapshot_create", "FORMAT_ERROR")
			}
			if year < 1900 {
				return code("gull_snapshot_create", "DOMAIN_ERROR")
			}
			f.next += 0x10
			*snapshot = f.next
			f.live[f.next] = true
			return nil
		},
		destroy: func(snapshot *uintptr) {
			delete(f.live, *snapshot)
			*snapshot = 0
		},
		info: func(snapshot uintptr, order *int32, altitudeMin, altitudeMax *float64) {
			*order = 13
			*altitudeMin = -1e3
			*altitudeMax = 6e5
		},
		field: func(snapshot uintptr, latitude, longitude, altitude float64, magnet *float64, ws *uintptr) error {
			f.calls++
			if latitude < -90 || latitude > 90 {
				return code("gull_snapshot_field", "DOMAIN_ERROR")
			}
			workspace(ws)
			out := unsafe.Slice(magnet, 3)
			v := fakeField(latitude, longitude, altitude)
			copy(out, v[:])
			return nil
		},
		fieldV: func(snapshot uintptr, latitude, longitude, altitude, magnet *float64, n uint, ws *uintptr) error {
			f.calls++
			la, lo, al := unsafe.Slice(latitude, n), unsafe.Slice(longitude, n), unsafe.Slice(altitude, n)
			out := unsafe.Slice(magnet, 3*n)
			workspace(ws)
			for i := range la {
				if la[i] < -90 || la[i] > 90 {
					return code("gull_snapshot_field_v", "DOMAIN_ERROR")
				}
				v := fakeField(la[i], lo[i], al[i])
				copy(out[3*i:], v[:])
			}
			return nil
		},
		workspaceDestroy: func(ws *uintptr) {
			if *ws != 0 {
				f.released++
			}
			*ws = 0
		},
	}
}
