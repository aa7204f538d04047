package maphost

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/sqlnice/graticule/pkg/graticule"
)

const (
	tileSize = 256

	// half extent of the EPSG:3857 plane in meters
	mercatorExtent = 20037508.342789244

	// latitude where the square mercator world cuts off
	maxMercatorLat = 85.05112878

	maxFitZoom = 22
)

// Camera is a web-mercator view: geographic center, zoom, bearing in
// degrees, viewport size in css pixels and the device pixel ratio
// rendered output is scaled by.
type Camera struct {
	Center  orb.Point
	Zoom    float64
	Bearing float64
	Width   int
	Height  int
	DPR     float64
}

func (c Camera) normalized() Camera {
	if c.Width <= 0 {
		c.Width = 512
	}
	if c.Height <= 0 {
		c.Height = 512
	}
	if c.DPR <= 0 {
		c.DPR = 1
	}
	if c.Zoom < 0 {
		c.Zoom = 0
	}
	if c.Zoom > maxFitZoom {
		c.Zoom = maxFitZoom
	}
	return c
}

func clampLat(p orb.Point) orb.Point {
	if p.Lat() > maxMercatorLat {
		p[1] = maxMercatorLat
	}
	if p.Lat() < -maxMercatorLat {
		p[1] = -maxMercatorLat
	}
	return p
}

// worldSize is the pixel width of the full mercator world at the
// current zoom.
func (m *Map) worldSize() float64 { return tileSize * math.Exp2(m.cam.Zoom) }

// worldPx maps a geographic point onto the world pixel plane, y growing
// down from the north edge.
func (m *Map) worldPx(p orb.Point) (x, y float64) {
	mc := project.WGS84.ToMercator(clampLat(p))
	s := m.worldSize() / (2 * mercatorExtent)
	return (mc.X() + mercatorExtent) * s, (mercatorExtent - mc.Y()) * s
}

// Project implements graticule.Host: world pixels relative to the
// camera center, rotated by the bearing, translated into the viewport.
func (m *Map) Project(p orb.Point) graticule.ScreenPoint {
	wx, wy := m.worldPx(p)
	cx, cy := m.worldPx(m.cam.Center)
	sin, cos := math.Sincos(m.cam.Bearing * math.Pi / 180)
	dx, dy := wx-cx, wy-cy
	return graticule.ScreenPoint{
		X: float64(m.cam.Width)/2 + dx*cos - dy*sin,
		Y: float64(m.cam.Height)/2 + dx*sin + dy*cos,
	}
}

// Unproject is the exact inverse of Project within the mercator
// latitude range.
func (m *Map) Unproject(s graticule.ScreenPoint) orb.Point {
	cx, cy := m.worldPx(m.cam.Center)
	sin, cos := math.Sincos(m.cam.Bearing * math.Pi / 180)
	dx, dy := s.X-float64(m.cam.Width)/2, s.Y-float64(m.cam.Height)/2
	wx := cx + dx*cos + dy*sin
	wy := cy - dx*sin + dy*cos
	sc := m.worldSize() / (2 * mercatorExtent)
	return project.Mercator.ToWGS84(orb.Point{wx/sc - mercatorExtent, mercatorExtent - wy/sc})
}

// Bearing implements graticule.Host.
func (m *Map) Bearing() float64 { return m.cam.Bearing }

// Camera returns the current view.
func (m *Map) Camera() Camera { return m.cam }

// SetCamera replaces the current view.
func (m *Map) SetCamera(cam Camera) { m.cam = cam.normalized() }

// FitBounds recenters the camera on b and picks the largest zoom at
// which b fits inside the viewport minus padding pixels per side. The
// bearing is left unchanged.
func (m *Map) FitBounds(b graticule.Bounds, padding float64) {
	sw := project.WGS84.ToMercator(clampLat(orb.Point{b.West, b.South}))
	ne := project.WGS84.ToMercator(clampLat(orb.Point{b.East, b.North}))

	availW := float64(m.cam.Width) - 2*padding
	if availW < 1 {
		availW = float64(m.cam.Width)
	}
	availH := float64(m.cam.Height) - 2*padding
	if availH < 1 {
		availH = float64(m.cam.Height)
	}

	zoom := float64(maxFitZoom)
	if mw := ne.X() - sw.X(); mw > 0 {
		zoom = math.Min(zoom, math.Log2(availW*2*mercatorExtent/(tileSize*mw)))
	}
	if mh := ne.Y() - sw.Y(); mh > 0 {
		zoom = math.Min(zoom, math.Log2(availH*2*mercatorExtent/(tileSize*mh)))
	}
	if zoom < 0 {
		zoom = 0
	}

	center := project.Mercator.ToWGS84(orb.Point{(sw.X() + ne.X()) / 2, (sw.Y() + ne.Y()) / 2})
	m.cam.Center = center
	m.cam.Zoom = zoom
}
