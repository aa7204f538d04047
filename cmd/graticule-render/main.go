// graticule-render draws the overlay for one viewport into a PNG file,
// driving the controller against an offscreen host without the HTTP
// service in between.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sqlnice/graticule/internal/geo"
	"github.com/sqlnice/graticule/internal/sprite"
	"github.com/sqlnice/graticule/pkg/graticule"
	"github.com/sqlnice/graticule/pkg/maphost"
)

func main() {
	var (
		bboxFlag      = flag.String("bbox", "120,30,130,40", "west,south,east,north in degrees")
		intervalFlag  = flag.Float64("interval", 5, "grid interval value")
		unitFlag      = flag.String("unit", "degree", "interval unit: degree|arcminute")
		precisionFlag = flag.String("precision", "degree", "label precision: degree|minute|second")
		widthFlag     = flag.Int("width", 1024, "viewport width in css pixels")
		heightFlag    = flag.Int("height", 768, "viewport height in css pixels")
		bearingFlag   = flag.Float64("bearing", 0, "camera bearing in degrees")
		dprFlag       = flag.Float64("dpr", 1, "device pixel ratio")
		tickFlag      = flag.Float64("tick", 8, "tick length in pixels")
		layersFlag    = flag.String("layers", "", "comma-separated subset of grid,tick,border,label (empty renders all)")
		fontFlag      = flag.String("font", "", "TTF/OTF file for label text (empty uses the embedded Go fonts)")
		outFlag       = flag.String("out", "overlay.png", "output PNG path")
	)
	flag.Parse()

	b, err := parseBBox(*bboxFlag)
	if err != nil {
		log.Fatalf("bbox: %v", err)
	}
	unit, err := geo.ParseUnit(*unitFlag)
	if err != nil {
		log.Fatalf("unit: %v", err)
	}
	prec, err := geo.ParsePrecision(*precisionFlag)
	if err != nil {
		log.Fatalf("precision: %v", err)
	}
	show, err := parseLayers(*layersFlag)
	if err != nil {
		log.Fatalf("layers: %v", err)
	}

	m := maphost.New(maphost.Camera{
		Bearing: *bearingFlag,
		Width:   *widthFlag,
		Height:  *heightFlag,
		DPR:     *dprFlag,
	})
	m.FitBounds(b, 32)

	opts := []graticule.Option{
		graticule.WithBounds(b),
		graticule.WithInterval(*intervalFlag, unit),
		graticule.WithPrecision(prec),
		graticule.WithTickLength(*tickFlag),
		graticule.WithDevicePixelRatio(*dprFlag),
		graticule.WithShowGrid(show[graticule.LayerGrid]),
		graticule.WithShowTick(show[graticule.LayerTick]),
		graticule.WithShowBorder(show[graticule.LayerBorder]),
		graticule.WithShowLabel(show[graticule.LayerLabel]),
	}
	if *fontFlag != "" {
		ras, err := sprite.New(*dprFlag, sprite.WithFontFile(*fontFlag))
		if err != nil {
			log.Fatalf("font: %v", err)
		}
		opts = append(opts, graticule.WithRasterizer(ras))
	}

	ctrl, err := graticule.New(opts...)
	if err != nil {
		log.Fatalf("controller: %v", err)
	}
	if err := ctrl.Attach(m); err != nil {
		log.Fatalf("attach: %v", err)
	}

	png, err := m.RenderPNG()
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	if err := os.WriteFile(*outFlag, png, 0o644); err != nil {
		log.Fatalf("write %s: %v", *outFlag, err)
	}

	cam := m.Camera()
	log.Printf("wrote %s (%dx%d css px, zoom %.2f, %d bytes)", *outFlag, cam.Width, cam.Height, cam.Zoom, len(png))
}

func parseBBox(raw string) (geo.Bounds, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return geo.Bounds{}, fmt.Errorf("expected west,south,east,north, got %q", raw)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Bounds{}, err
		}
		vals[i] = v
	}
	b := geo.Bounds{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}
	if err := b.Validate(); err != nil {
		return geo.Bounds{}, err
	}
	return b, nil
}

func parseLayers(raw string) (map[string]bool, error) {
	show := map[string]bool{
		graticule.LayerGrid:   true,
		graticule.LayerTick:   true,
		graticule.LayerBorder: true,
		graticule.LayerLabel:  true,
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return show, nil
	}
	for k := range show {
		show[k] = false
	}
	for part := range strings.SplitSeq(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if _, ok := show[name]; !ok {
			return nil, fmt.Errorf("unknown layer %q", name)
		}
		show[name] = true
	}
	return show, nil
}
