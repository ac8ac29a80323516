// Package crs converts coordinates between geographic longitude/latitude and
// the rotated-pole system used by regional climate models.
package crs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.ngs.io/dvmap/internal/domain"
)

// degreesToMeter is the proj "to_meter" value that makes rotated coordinates degrees.
const degreesToMeter = math.Pi / 180.0

// CRS is a coordinate reference system understood by Transform.
type CRS interface {
	// toGeographic maps native coordinates (x, y) to longitude/latitude in degrees.
	toGeographic(x, y float64) (lon, lat float64)
	// fromGeographic maps longitude/latitude in degrees to native coordinates.
	fromGeographic(lon, lat float64) (x, y float64)
	validate() error
}

// Geographic is WGS84 longitude/latitude in degrees.
type Geographic struct{}

func (Geographic) toGeographic(x, y float64) (float64, float64)   { return x, y }
func (Geographic) fromGeographic(x, y float64) (float64, float64) { return x, y }
func (Geographic) validate() error                                { return nil }

// RotatedPole is a spherical rotation placing the north pole at
// (PoleLongitude, PoleLatitude). Rotated coordinates are expressed in
// units of ToMeter radians; ToMeter = pi/180 yields degrees.
type RotatedPole struct {
	PoleLongitude float64 // Geographic longitude of the rotated north pole (degrees).
	PoleLatitude  float64 // Geographic latitude of the rotated north pole (degrees).
	ToMeter       float64 // Radians per output unit.
}

// CanRCM4Proj4 is the proj4 definition of the CanRCM4 North American rotated pole.
const CanRCM4Proj4 = "+proj=ob_tran +o_proj=longlat +lon_0=-97 +o_lat_p=42.5 +a=1 +to_meter=0.0174532925199 +no_defs"

// CanRCM4 returns the rotated pole of the CanRCM4 North American domain.
func CanRCM4() RotatedPole {
	return RotatedPole{PoleLongitude: -97 + 180, PoleLatitude: 42.5, ToMeter: 0.0174532925199}
}

func (p RotatedPole) validate() error {
	if math.IsNaN(p.PoleLongitude) || math.IsNaN(p.PoleLatitude) {
		return fmt.Errorf("%w: rotated pole has NaN parameters", domain.ErrInvalidInput)
	}
	if p.PoleLatitude < -90 || p.PoleLatitude > 90 {
		return fmt.Errorf("%w: pole latitude %.6f outside [-90, 90]", domain.ErrInvalidInput, p.PoleLatitude)
	}
	if !(p.ToMeter > 0) {
		return fmt.Errorf("%w: to_meter must be positive, got %v", domain.ErrInvalidInput, p.ToMeter)
	}
	return nil
}

// centralLongitude is the geographic meridian that becomes rotated longitude 0.
func (p RotatedPole) centralLongitude() float64 {
	return p.PoleLongitude - 180
}

func (p RotatedPole) fromGeographic(lon, lat float64) (float64, float64) {
	l := deg2Rad(lon - p.centralLongitude())
	phi := deg2Rad(lat)
	pole := deg2Rad(p.PoleLatitude)

	sinPhi, cosPhi := math.Sincos(phi)
	sinPole, cosPole := math.Sincos(pole)
	sinL, cosL := math.Sincos(l)

	y := math.Asin(clampUnit(sinPhi*sinPole - cosPhi*cosPole*cosL))
	x := math.Atan2(cosPhi*sinL, sinPhi*cosPole+cosPhi*sinPole*cosL)
	return x / p.ToMeter, y / p.ToMeter
}

func (p RotatedPole) toGeographic(x, y float64) (float64, float64) {
	rx := x * p.ToMeter
	ry := y * p.ToMeter
	pole := deg2Rad(p.PoleLatitude)

	sinY, cosY := math.Sincos(ry)
	sinX, cosX := math.Sincos(rx)
	sinPole, cosPole := math.Sincos(pole)

	phi := math.Asin(clampUnit(sinY*sinPole + cosY*cosPole*cosX))
	l := math.Atan2(cosY*sinX, cosY*sinPole*cosX-sinY*cosPole)
	return normalizeLon(rad2Deg(l) + p.centralLongitude()), rad2Deg(phi)
}

// ParseProj4 builds a CRS from a proj4 definition. It understands
// "+proj=longlat" and "+proj=ob_tran +o_proj=longlat" strings.
func ParseProj4(def string) (CRS, error) {
	params := map[string]string{}
	for i, tok := range strings.Split(def, "+") {
		if i == 0 {
			continue
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		key := strings.ToLower(kv[0])
		if len(kv) == 1 {
			params[key] = "true"
			continue
		}
		params[key] = kv[1]
	}

	switch params["proj"] {
	case "longlat", "latlong", "lonlat", "latlon":
		return Geographic{}, nil
	case "ob_tran":
	default:
		return nil, fmt.Errorf("%w: unsupported projection %q", domain.ErrInvalidInput, params["proj"])
	}
	if o, ok := params["o_proj"]; ok && o != "longlat" && o != "latlong" {
		return nil, fmt.Errorf("%w: unsupported o_proj %q", domain.ErrInvalidInput, o)
	}

	num := func(key string, def float64) (float64, error) {
		s, ok := params[key]
		if !ok {
			return def, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q: %v", domain.ErrInvalidInput, key, s, err)
		}
		return v, nil
	}
	lon0, err := num("lon_0", 0)
	if err != nil {
		return nil, err
	}
	latP, err := num("o_lat_p", 90)
	if err != nil {
		return nil, err
	}
	toMeter, err := num("to_meter", degreesToMeter)
	if err != nil {
		return nil, err
	}
	p := RotatedPole{PoleLongitude: lon0 + 180, PoleLatitude: latP, ToMeter: toMeter}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseRotatedPole parses a proj4 ob_tran definition. Definitions of any
// other projection are rejected.
func ParseRotatedPole(def string) (RotatedPole, error) {
	c, err := ParseProj4(def)
	if err != nil {
		return RotatedPole{}, err
	}
	p, ok := c.(RotatedPole)
	if !ok {
		return RotatedPole{}, fmt.Errorf("%w: %q is not a rotated-pole definition", domain.ErrInvalidInput, def)
	}
	return p, nil
}

func deg2Rad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func rad2Deg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// normalizeLon maps a longitude into [-180, 180).
func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
