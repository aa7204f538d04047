package graticule

import (
	"github.com/paulmach/orb/geojson"

	"github.com/sqlnice/graticule/internal/grid"
)

// Feature collections handed to the host. Line features carry empty
// properties; label points carry the label text, rotation, anchor side
// and icon id the symbol layer binds to.

func gridFeatures(lines grid.Lines) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, l := range lines.Lng {
		fc.Append(geojson.NewFeature(l.Geometry))
	}
	for _, l := range lines.Lat {
		fc.Append(geojson.NewFeature(l.Geometry))
	}
	return fc
}

func tickFeatures(ticks []Tick) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, t := range ticks {
		fc.Append(geojson.NewFeature(t.Geometry))
	}
	return fc
}

func borderFeatures(b Bounds) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(b.Ring()))
	return fc
}

func labelFeature(lp LabelPoint, text, iconID string) *geojson.Feature {
	f := geojson.NewFeature(lp.Position)
	f.Properties["label"] = text
	f.Properties["rotate"] = lp.Rotation
	f.Properties["anchor"] = lp.Anchor
	f.Properties["icon"] = iconID
	return f
}
