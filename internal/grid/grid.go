// Package grid computes graticule line positions from a bounding box and
// an interval in degrees or arc-minutes.
package grid

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/sqlnice/graticule/internal/geo"
)

// Line is a single grid line at a fixed coordinate: a meridian spanning
// south to north, or a parallel spanning west to east.
type Line struct {
	Value    float64
	Geometry orb.LineString
}

// Lines holds the meridians and parallels inside a bounding box,
// both in ascending coordinate order.
type Lines struct {
	Lng []Line
	Lat []Line
}

// Count returns the number of interval multiples inside [lo,hi]:
// floor(hi/interval) - ceil(lo/interval) + 1, clamped at zero.
func Count(lo, hi, interval float64) int {
	n := int(math.Floor(hi/interval)) - int(math.Ceil(lo/interval)) + 1
	if n < 0 {
		return 0
	}
	return n
}

// Compute returns the grid lines for b spaced by iv. The lower bound of
// each axis snaps up to the next interval multiple and the upper bound
// snaps down, so every line sits on an exact multiple of the interval.
// An interval wider than an axis span yields no lines on that axis;
// borders are a separate concern and are never synthesized here.
func Compute(b geo.Bounds, iv geo.Interval) (Lines, error) {
	if err := iv.Validate(); err != nil {
		return Lines{}, err
	}

	// arc-minute mode runs the same arithmetic on values scaled by 60
	scale := 1.0
	if iv.Unit == geo.UnitArcminute {
		scale = 60
	}

	var out Lines
	for _, x := range snap(b.West, b.East, iv.Value, scale) {
		out.Lng = append(out.Lng, Line{
			Value:    x,
			Geometry: orb.LineString{{x, b.South}, {x, b.North}},
		})
	}
	for _, y := range snap(b.South, b.North, iv.Value, scale) {
		out.Lat = append(out.Lat, Line{
			Value:    y,
			Geometry: orb.LineString{{b.West, y}, {b.East, y}},
		})
	}
	return out, nil
}

// snap lists the multiples of step (in scaled units) covering [lo,hi],
// divided back by scale, ascending. Iterating integer multiples instead
// of accumulating step avoids drift over long ranges.
func snap(lo, hi, step, scale float64) []float64 {
	n0 := int(math.Ceil(lo * scale / step))
	n1 := int(math.Floor(hi * scale / step))
	if n1 < n0 {
		return nil
	}
	vals := make([]float64, 0, n1-n0+1)
	for n := n0; n <= n1; n++ {
		vals = append(vals, float64(n)*step/scale)
	}
	return vals
}
