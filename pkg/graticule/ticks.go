package graticule

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/sqlnice/graticule/internal/grid"
)

// Anchor values name the corner of the label box that sits on the label
// point, matching the host's text-anchoring vocabulary. A label hanging
// below its point anchors at "top".
const (
	AnchorTop    = "top"
	AnchorBottom = "bottom"
	AnchorLeft   = "left"
	AnchorRight  = "right"
)

// Tick is a short segment extending a grid line outward past one of its
// endpoints: [endpoint, offset endpoint] in geographic coordinates.
type Tick struct {
	Geometry orb.LineString
}

// LabelPoint is where a coordinate label is placed: the tick's outer
// endpoint, the coordinate value it describes, which axis that value
// belongs to, the anchor side and the map bearing at projection time.
type LabelPoint struct {
	Position  orb.Point
	Value     float64
	Longitude bool
	Anchor    string
	Rotation  float64
}

// ComputeTicks derives the tick segments and label anchor points for a
// set of grid lines under the host's current view. The base offsets
// [0,tickLength] for meridian ends and [tickLength,0] for parallel ends
// are rotated by the map bearing, so ticks stay aligned with their grid
// lines at any rotation. Endpoint signs flip per side so every tick
// points outward: south and east take the positive offset, north and
// west the negative one. Each endpoint is projected to screen space,
// offset, and unprojected back to form the tick tip, which doubles as
// the label position.
func ComputeTicks(host Host, lines grid.Lines, tickLength float64) ([]Tick, []LabelPoint) {
	bearing := host.Bearing()
	sin, cos := math.Sincos(bearing * math.Pi / 180)

	// base offsets rotated by the bearing
	lngOff := ScreenPoint{X: -sin * tickLength, Y: cos * tickLength}
	latOff := ScreenPoint{X: cos * tickLength, Y: sin * tickLength}

	n := 2 * (len(lines.Lng) + len(lines.Lat))
	ticks := make([]Tick, 0, n)
	labels := make([]LabelPoint, 0, n)

	add := func(end orb.Point, off ScreenPoint, sign float64, value float64, lng bool, anchor string) {
		p := host.Project(end)
		tip := host.Unproject(ScreenPoint{X: p.X + sign*off.X, Y: p.Y + sign*off.Y})
		ticks = append(ticks, Tick{Geometry: orb.LineString{end, tip}})
		labels = append(labels, LabelPoint{
			Position:  tip,
			Value:     value,
			Longitude: lng,
			Anchor:    anchor,
			Rotation:  bearing,
		})
	}

	for _, l := range lines.Lng {
		add(l.Geometry[0], lngOff, 1, l.Value, true, AnchorTop)     // south end
		add(l.Geometry[1], lngOff, -1, l.Value, true, AnchorBottom) // north end
	}
	for _, l := range lines.Lat {
		add(l.Geometry[0], latOff, -1, l.Value, false, AnchorRight) // west end
		add(l.Geometry[1], latOff, 1, l.Value, false, AnchorLeft)   // east end
	}
	return ticks, labels
}
