package turtle

import (
	"math"
	"unsafe"
)

// wgs84 is a pure Go stand-in for the native batch entry points. It counts
// calls so tests can check that each operation crosses into native code
// exactly once.
type wgs84 struct {
	calls int
}

const (
	wgs84A  = 6378137.0
	wgs84E2 = 6.69437999014e-3
	deg     = math.Pi / 180
)

func newFake() (*Library, *wgs84) {
	f := &wgs84{}
	return &Library{fn: f.entryPoints()}, f
}

func view(p *float64, n int) []float64 {
	return unsafe.Slice(p, n)
}

func (f *wgs84) entryPoints() *entryPoints {
	return &entryPoints{
		fromGeodetic: func(lat, lon, alt, ecef *float64, n uint) {
			f.calls++
			la, lo, al, out := view(lat, int(n)), view(lon, int(n)), view(alt, int(n)), view(ecef, 3*int(n))
			for i := range la {
				x, y, z := geodeticToECEF(la[i], lo[i], al[i])
				out[3*i], out[3*i+1], out[3*i+2] = x, y, z
			}
		},
		toGeodetic: func(ecef, lat, lon, alt *float64, n uint) {
			f.calls++
			in, la, lo, al := view(ecef, 3*int(n)), view(lat, int(n)), view(lon, int(n)), view(alt, int(n))
			for i := range la {
				la[i], lo[i], al[i] = ecefToGeodetic(in[3*i], in[3*i+1], in[3*i+2])
			}
		},
		fromHorizontal: func(lat, lon, az, el, dir *float64, n uint) {
			f.calls++
			la, lo, a, e, out := view(lat, int(n)), view(lon, int(n)), view(az, int(n)), view(el, int(n)), view(dir, 3*int(n))
			for i := range la {
				east, north, up := enu(la[i], lo[i])
				ca, sa := math.Cos(a[i]*deg), math.Sin(a[i]*deg)
				ce, se := math.Cos(e[i]*deg), math.Sin(e[i]*deg)
				for k := 0; k < 3; k++ {
					out[3*i+k] = ce*sa*east[k] + ce*ca*north[k] + se*up[k]
				}
			}
		},
		toHorizontal: func(lat, lon, dir, az, el *float64, n uint) {
			f.calls++
			la, lo, in, a, e := view(lat, int(n)), view(lon, int(n)), view(dir, 3*int(n)), view(az, int(n)), view(el, int(n))
			for i := range la {
				east, north, up := enu(la[i], lo[i])
				d := in[3*i : 3*i+3]
				de, dn, du := dot(d, east), dot(d, north), dot(d, up)
				a[i] = math.Atan2(de, dn) / deg
				e[i] = math.Asin(du) / deg
			}
		},
	}
}

func geodeticToECEF(lat, lon, alt float64) (x, y, z float64) {
	sl, cl := math.Sin(lat*deg), math.Cos(lat*deg)
	n := wgs84A / math.Sqrt(1-wgs84E2*sl*sl)
	x = (n + alt) * cl * math.Cos(lon*deg)
	y = (n + alt) * cl * math.Sin(lon*deg)
	z = (n*(1-wgs84E2) + alt) * sl
	return x, y, z
}

func ecefToGeodetic(x, y, z float64) (lat, lon, alt float64) {
	p := math.Hypot(x, y)
	lon = math.Atan2(y, x)
	phi := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 10; i++ {
		s := math.Sin(phi)
		n := wgs84A / math.Sqrt(1-wgs84E2*s*s)
		alt = p/math.Cos(phi) - n
		phi = math.Atan2(z, p*(1-wgs84E2*n/(n+alt)))
	}
	return phi / deg, lon / deg, alt
}

func enu(lat, lon float64) (east, north, up []float64) {
	sl, cl := math.Sin(lat*deg), math.Cos(lat*deg)
	so, co := math.Sin(lon*deg), math.Cos(lon*deg)
	return []float64{-so, co, 0},
		[]float64{-sl * co, -sl * so, cl},
		[]float64{cl * co, cl * so, sl}
}

func dot(a, b []float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}
