package graticule

import "github.com/sqlnice/graticule/internal/geo"

// Domain types re-exported so callers outside this module can build
// configurations without reaching into internal packages.
type (
	Bounds    = geo.Bounds
	Interval  = geo.Interval
	Unit      = geo.Unit
	Precision = geo.Precision

	UnsupportedUnitError   = geo.UnsupportedUnitError
	UnsupportedFormatError = geo.UnsupportedFormatError
)

const (
	UnitDegree    = geo.UnitDegree
	UnitArcminute = geo.UnitArcminute

	PrecisionDegree = geo.PrecisionDegree
	PrecisionMinute = geo.PrecisionMinute
	PrecisionSecond = geo.PrecisionSecond
)
