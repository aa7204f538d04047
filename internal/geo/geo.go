// Package geo defines core domain types shared across the graticule engine.
package geo

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// Bounds is a geographic bounding box in decimal degrees.
// South < North is required; West < East is assumed (the grid algorithm
// treats longitudes as a flat numeric range, no antimeridian handling).
type Bounds struct {
	West  float64
	South float64
	East  float64
	North float64
}

// String representation matching the bbox query format w,s,e,n.
func (b Bounds) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.West, b.South, b.East, b.North)
}

func (b Bounds) Validate() error {
	if !(b.West >= -180 && b.West <= 180 && b.East >= -180 && b.East <= 180) {
		return fmt.Errorf("longitude must be in [-180,180]: %s", b)
	}
	if !(b.South >= -90 && b.South <= 90 && b.North >= -90 && b.North <= 90) {
		return fmt.Errorf("latitude must be in [-90,90]: %s", b)
	}
	if b.North < b.South {
		return fmt.Errorf("bounds must satisfy south <= north: %s", b)
	}
	if b.East < b.West {
		return fmt.Errorf("bounds must satisfy west <= east: %s", b)
	}
	return nil
}

func (b Bounds) Center() orb.Point {
	return orb.Point{(b.West + b.East) / 2, (b.South + b.North) / 2}
}

// Ring returns the four-corner closed border ring, west/south first,
// wound counter-clockwise, first point repeated at the end.
func (b Bounds) Ring() orb.LineString {
	return orb.LineString{
		{b.West, b.South},
		{b.East, b.South},
		{b.East, b.North},
		{b.West, b.North},
		{b.West, b.South},
	}
}

// Unit is the unit an interval value is expressed in.
type Unit string

const (
	UnitDegree    Unit = "degree"
	UnitArcminute Unit = "arcminute"
)

// ParseUnit accepts the two recognized unit names (case-insensitive).
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "degree":
		return UnitDegree, nil
	case "arcminute":
		return UnitArcminute, nil
	default:
		return "", &UnsupportedUnitError{Unit: s}
	}
}

// Interval is a grid spacing: a positive value in degrees or arc-minutes.
type Interval struct {
	Value float64
	Unit  Unit
}

func (iv Interval) Validate() error {
	if iv.Value <= 0 {
		return fmt.Errorf("interval must be positive, got %v", iv.Value)
	}
	switch iv.Unit {
	case UnitDegree, UnitArcminute:
		return nil
	default:
		return &UnsupportedUnitError{Unit: string(iv.Unit)}
	}
}

// Degrees returns the interval converted to decimal degrees.
func (iv Interval) Degrees() float64 {
	if iv.Unit == UnitArcminute {
		return iv.Value / 60
	}
	return iv.Value
}

// Precision selects how coordinate labels are formatted.
type Precision string

const (
	PrecisionDegree Precision = "degree"
	PrecisionMinute Precision = "minute"
	PrecisionSecond Precision = "second"
)

func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "degree":
		return PrecisionDegree, nil
	case "minute":
		return PrecisionMinute, nil
	case "second":
		return PrecisionSecond, nil
	default:
		return "", &UnsupportedFormatError{Format: s}
	}
}
