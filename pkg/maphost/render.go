package maphost

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"

	"github.com/sqlnice/graticule/internal/sprite"
	"github.com/sqlnice/graticule/pkg/graticule"
)

// RenderImage rasterizes the installed layers over a transparent
// background, in insertion order, at Width x Height css pixels scaled by
// the camera's device pixel ratio. Base-map tiles are out of scope; the
// output is the overlay alone.
func (m *Map) RenderImage() *image.RGBA {
	c := canvas.New(float64(m.cam.Width), float64(m.cam.Height))
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV)

	for _, id := range m.layerIDs {
		spec := m.layers[id]
		fc, ok := m.sources[spec.Source]
		if !ok {
			continue
		}
		switch spec.Type {
		case graticule.LayerTypeLine:
			m.drawLineLayer(ctx, spec, fc)
		case graticule.LayerTypeSymbol:
			m.drawSymbolLayer(ctx, fc)
		}
	}
	return rasterizer.Draw(c, canvas.DPMM(m.cam.DPR), canvas.DefaultColorSpace)
}

// RenderPNG encodes RenderImage as PNG.
func (m *Map) RenderPNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, m.RenderImage()); err != nil {
		return nil, fmt.Errorf("encode overlay png: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Map) drawLineLayer(ctx *canvas.Context, spec graticule.LayerSpec, fc *geojson.FeatureCollection) {
	col := sprite.ParseColor(paintString(spec.Paint, "line-color", "#000000"))
	opacity := paintFloat(spec.Paint, "line-opacity", 1)

	ctx.SetFillColor(color.RGBA{})
	ctx.SetStrokeColor(canvas.RGBA(float64(col.R)/255, float64(col.G)/255, float64(col.B)/255, opacity))
	ctx.SetStrokeWidth(paintFloat(spec.Paint, "line-width", 1))

	for _, f := range fc.Features {
		ls, ok := f.Geometry.(orb.LineString)
		if !ok || len(ls) < 2 {
			continue
		}
		p := &canvas.Path{}
		s := m.Project(ls[0])
		p.MoveTo(s.X, s.Y)
		for _, pt := range ls[1:] {
			s = m.Project(pt)
			p.LineTo(s.X, s.Y)
		}
		ctx.DrawPath(0, 0, p)
	}
}

// drawSymbolLayer places each label's icon bitmap against its anchor
// side. Icons are drawn viewport-aligned; the rotate property is left to
// hosts that align symbols to the map plane.
func (m *Map) drawSymbolLayer(ctx *canvas.Context, fc *geojson.FeatureCollection) {
	for _, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		iconID, _ := f.Properties["icon"].(string)
		img, ok := m.images[iconID]
		if !ok {
			continue
		}

		s := m.Project(pt)
		w := float64(img.Bounds().Dx()) / m.cam.DPR
		h := float64(img.Bounds().Dy()) / m.cam.DPR

		var x, y float64
		anchor, _ := f.Properties["anchor"].(string)
		switch anchor {
		case graticule.AnchorTop:
			x, y = s.X-w/2, s.Y
		case graticule.AnchorBottom:
			x, y = s.X-w/2, s.Y-h
		case graticule.AnchorLeft:
			x, y = s.X, s.Y-h/2
		case graticule.AnchorRight:
			x, y = s.X-w, s.Y-h/2
		default:
			x, y = s.X-w/2, s.Y-h/2
		}
		ctx.DrawImage(x, y, img, canvas.DPMM(m.cam.DPR))
	}
}

func paintString(paint map[string]any, key, def string) string {
	if v, ok := paint[key].(string); ok && v != "" {
		return v
	}
	return def
}

func paintFloat(paint map[string]any, key string, def float64) float64 {
	switch v := paint[key].(type) {
	case float64:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	}
	return def
}
