package graticule

import (
	"image"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ScreenPoint is a pixel position in the host's viewport, y growing down.
type ScreenPoint struct {
	X float64
	Y float64
}

// Layer types understood by hosts.
const (
	LayerTypeLine   = "line"
	LayerTypeSymbol = "symbol"
)

// LayerSpec describes a rendering layer the controller installs on a
// host: the layer id, its backing source, the zoom window and the
// paint/layout properties for the layer type.
type LayerSpec struct {
	ID      string
	Type    string
	Source  string
	MinZoom float64
	MaxZoom float64
	Paint   map[string]any
	Layout  map[string]any
}

// Host is the renderer capability set the controller drives. Project and
// Unproject convert between geographic coordinates and viewport pixels
// under the current view and must round-trip within rendering precision.
// The source, layer and image registries are keyed stores; the
// controller only removes entries it has observed to be present, so
// implementations may reject removal of unknown ids.
type Host interface {
	Project(p orb.Point) ScreenPoint
	Unproject(p ScreenPoint) orb.Point
	Bearing() float64

	HasSource(id string) bool
	AddSource(id string, fc *geojson.FeatureCollection) error
	SetSourceData(id string, fc *geojson.FeatureCollection) error
	RemoveSource(id string) error

	HasLayer(id string) bool
	AddLayer(spec LayerSpec) error
	RemoveLayer(id string) error

	HasImage(id string) bool
	AddImage(id string, img *image.RGBA) error
	UpdateImage(id string, img *image.RGBA) error
}
