// Package model defines request types shared across the overlay service.
package model

import (
	"github.com/sqlnice/graticule/internal/geo"
)

const (
	FormatGeoJSON = "geojson"
	FormatPNG     = "png"
)

// OverlayRequest is a validated one-shot overlay computation request.
type OverlayRequest struct {
	Bounds    geo.Bounds
	Interval  geo.Interval
	Precision geo.Precision
	Width     int
	Height    int
	Bearing   float64
	DPR       float64
	Layers    []string
	Format    string
}

// View carries a session viewport update.
type View struct {
	BBox    [4]float64 `json:"bbox"`
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	Bearing float64    `json:"bearing"`
	DPR     float64    `json:"dpr,omitempty"`
}

// Bounds converts the raw bbox quad into domain bounds.
func (v View) Bounds() geo.Bounds {
	return geo.Bounds{West: v.BBox[0], South: v.BBox[1], East: v.BBox[2], North: v.BBox[3]}
}

// SessionOptions is a partial session reconfiguration; nil or empty
// fields keep their current values.
type SessionOptions struct {
	Interval  *float64        `json:"interval,omitempty"`
	Unit      string          `json:"unit,omitempty"`
	Precision string          `json:"precision,omitempty"`
	Show      map[string]bool `json:"show,omitempty"`
}
