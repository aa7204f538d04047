package graticule

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/sqlnice/graticule/internal/geo"
)

const pxPerDeg = 100

// fakeHost is an in-memory host with an equirectangular projection
// rotated by the current bearing, screen y growing down.
type fakeHost struct {
	bearing float64

	sources map[string]*geojson.FeatureCollection
	layers  map[string]LayerSpec
	images  map[string]*image.RGBA

	imageAdds    int
	imageUpdates int
}

func newFakeHost(bearing float64) *fakeHost {
	return &fakeHost{
		bearing: bearing,
		sources: map[string]*geojson.FeatureCollection{},
		layers:  map[string]LayerSpec{},
		images:  map[string]*image.RGBA{},
	}
}

func (h *fakeHost) Project(p orb.Point) ScreenPoint {
	wx, wy := p.Lon()*pxPerDeg, -p.Lat()*pxPerDeg
	sin, cos := math.Sincos(h.bearing * math.Pi / 180)
	return ScreenPoint{X: wx*cos - wy*sin, Y: wx*sin + wy*cos}
}

func (h *fakeHost) Unproject(s ScreenPoint) orb.Point {
	sin, cos := math.Sincos(h.bearing * math.Pi / 180)
	wx := s.X*cos + s.Y*sin
	wy := -s.X*sin + s.Y*cos
	return orb.Point{wx / pxPerDeg, -wy / pxPerDeg}
}

func (h *fakeHost) Bearing() float64 { return h.bearing }

func (h *fakeHost) HasSource(id string) bool { _, ok := h.sources[id]; return ok }

func (h *fakeHost) AddSource(id string, fc *geojson.FeatureCollection) error {
	if _, ok := h.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	h.sources[id] = fc
	return nil
}

func (h *fakeHost) SetSourceData(id string, fc *geojson.FeatureCollection) error {
	if _, ok := h.sources[id]; !ok {
		return fmt.Errorf("source %q not found", id)
	}
	h.sources[id] = fc
	return nil
}

func (h *fakeHost) RemoveSource(id string) error {
	if _, ok := h.sources[id]; !ok {
		return fmt.Errorf("source %q not found", id)
	}
	delete(h.sources, id)
	return nil
}

func (h *fakeHost) HasLayer(id string) bool { _, ok := h.layers[id]; return ok }

func (h *fakeHost) AddLayer(spec LayerSpec) error {
	if _, ok := h.layers[spec.ID]; ok {
		return fmt.Errorf("layer %q already exists", spec.ID)
	}
	h.layers[spec.ID] = spec
	return nil
}

func (h *fakeHost) RemoveLayer(id string) error {
	if _, ok := h.layers[id]; !ok {
		return fmt.Errorf("layer %q not found", id)
	}
	delete(h.layers, id)
	return nil
}

func (h *fakeHost) HasImage(id string) bool { _, ok := h.images[id]; return ok }

func (h *fakeHost) AddImage(id string, img *image.RGBA) error {
	if _, ok := h.images[id]; ok {
		return fmt.Errorf("image %q already exists", id)
	}
	h.images[id] = img
	h.imageAdds++
	return nil
}

func (h *fakeHost) UpdateImage(id string, img *image.RGBA) error {
	if _, ok := h.images[id]; !ok {
		return fmt.Errorf("image %q not found", id)
	}
	h.images[id] = img
	h.imageUpdates++
	return nil
}

func marshalFC(t *testing.T, fc *geojson.FeatureCollection) string {
	t.Helper()
	b, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal feature collection: %v", err)
	}
	return string(b)
}

func newAttached(t *testing.T, host Host, opts ...Option) *Controller {
	t.Helper()
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Attach(host); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return c
}

func tenByTen() Option {
	return WithBounds(Bounds{West: 120, South: 30, East: 130, North: 40})
}

func TestAttachRequiresHost(t *testing.T) {
	c, err := New(tenByTen())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Attach(nil); !errors.Is(err, ErrInvalidHost) {
		t.Fatalf("Attach(nil) = %v, want ErrInvalidHost", err)
	}
	if c.Attached() {
		t.Fatal("controller attached after failed Attach")
	}
}

func TestNewRejectsBadEnums(t *testing.T) {
	var uerr *UnsupportedUnitError
	if _, err := New(tenByTen(), WithInterval(5, "radian")); !errors.As(err, &uerr) {
		t.Fatalf("New with unit radian = %v, want UnsupportedUnitError", err)
	}
	var ferr *UnsupportedFormatError
	if _, err := New(tenByTen(), WithPrecision("decimal")); !errors.As(err, &ferr) {
		t.Fatalf("New with precision decimal = %v, want UnsupportedFormatError", err)
	}
}

func TestAttachInstallsFourLayers(t *testing.T) {
	host := newFakeHost(0)
	c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree))

	if len(host.sources) != 4 || len(host.layers) != 4 {
		t.Fatalf("host has %d sources, %d layers, want 4 and 4", len(host.sources), len(host.layers))
	}

	gridID, tickID, borderID, labelID := c.LayerIDs()

	if n := len(host.sources[gridID].Features); n != 6 {
		t.Fatalf("grid features = %d, want 6 (3 meridians + 3 parallels)", n)
	}
	if n := len(host.sources[tickID].Features); n != 12 {
		t.Fatalf("tick features = %d, want 12 (2 per grid line)", n)
	}
	if n := len(host.sources[borderID].Features); n != 1 {
		t.Fatalf("border features = %d, want 1", n)
	}
	if n := len(host.sources[labelID].Features); n != 12 {
		t.Fatalf("label features = %d, want 12", n)
	}
	if host.imageAdds != 12 {
		t.Fatalf("image adds = %d, want 12", host.imageAdds)
	}

	if got := host.layers[gridID].Type; got != LayerTypeLine {
		t.Fatalf("grid layer type = %q, want %q", got, LayerTypeLine)
	}
	if got := host.layers[labelID].Type; got != LayerTypeSymbol {
		t.Fatalf("label layer type = %q, want %q", got, LayerTypeSymbol)
	}
}

func TestUpdateIdempotent(t *testing.T) {
	host := newFakeHost(25)
	c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree))

	before := map[string]string{}
	for id, fc := range host.sources {
		before[id] = marshalFC(t, fc)
	}
	addsBefore := host.imageAdds

	if err := c.Update(); err != nil {
		t.Fatalf("second Update: %v", err)
	}

	if len(host.sources) != 4 || len(host.layers) != 4 {
		t.Fatalf("host has %d sources, %d layers after repeat update, want 4 and 4", len(host.sources), len(host.layers))
	}
	for id, want := range before {
		got := marshalFC(t, host.sources[id])
		if got != want {
			t.Fatalf("source %q changed across identical updates:\n got %s\nwant %s", id, got, want)
		}
	}
	if host.imageAdds != addsBefore {
		t.Fatalf("repeat update registered %d new images, want in-place replacement", host.imageAdds-addsBefore)
	}
	if host.imageUpdates != 12 {
		t.Fatalf("image updates = %d, want 12", host.imageUpdates)
	}
}

func TestToggleRestoresLayer(t *testing.T) {
	host := newFakeHost(0)
	c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree))

	gridID, _, _, _ := c.LayerIDs()
	wantFC := marshalFC(t, host.sources[gridID])

	if err := c.SetVisible(LayerGrid, false); err != nil {
		t.Fatalf("SetVisible off: %v", err)
	}
	if host.HasSource(gridID) || host.HasLayer(gridID) {
		t.Fatal("grid source/layer still present after toggle off")
	}
	if len(host.sources) != 3 {
		t.Fatalf("host has %d sources after toggle off, want 3", len(host.sources))
	}

	if err := c.SetVisible(LayerGrid, true); err != nil {
		t.Fatalf("SetVisible on: %v", err)
	}
	g2, _, _, _ := c.LayerIDs()
	if g2 != gridID {
		t.Fatalf("grid id changed across toggle: %q -> %q", gridID, g2)
	}
	if got := marshalFC(t, host.sources[gridID]); got != wantFC {
		t.Fatalf("grid features differ after toggle:\n got %s\nwant %s", got, wantFC)
	}
}

func TestSetVisibleUnknownLayer(t *testing.T) {
	c, err := New(tenByTen())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SetVisible("halo", true); err == nil {
		t.Fatal("expected error for unknown layer name")
	}
}

func TestDetachRemovesEverything(t *testing.T) {
	host := newFakeHost(0)
	c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree))

	oldGrid, _, _, _ := c.LayerIDs()

	if err := c.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if len(host.sources) != 0 || len(host.layers) != 0 {
		t.Fatalf("host has %d sources, %d layers after detach, want none", len(host.sources), len(host.layers))
	}
	if err := c.Update(); !errors.Is(err, ErrDetached) {
		t.Fatalf("Update after detach = %v, want ErrDetached", err)
	}
	if err := c.Detach(); err != nil {
		t.Fatalf("repeat Detach: %v", err)
	}

	if err := c.Attach(host); err != nil {
		t.Fatalf("re-Attach: %v", err)
	}
	newGrid, _, _, _ := c.LayerIDs()
	if newGrid == oldGrid {
		t.Fatalf("re-attach reused stable id %q, want a fresh one", newGrid)
	}
	if len(host.sources) != 4 {
		t.Fatalf("host has %d sources after re-attach, want 4", len(host.sources))
	}
}

func TestBorderOnlyBounds(t *testing.T) {
	// the interval is wider than the span, so only the border ring has
	// geometry; every sub-layer must still install cleanly
	host := newFakeHost(0)
	c := newAttached(t, host,
		WithBounds(Bounds{West: 120.5, South: 31, East: 121, North: 31.4}),
		WithInterval(10, UnitDegree),
	)

	gridID, tickID, borderID, labelID := c.LayerIDs()
	if len(host.sources) != 4 || len(host.layers) != 4 {
		t.Fatalf("host has %d sources, %d layers, want 4 and 4", len(host.sources), len(host.layers))
	}
	if n := len(host.sources[gridID].Features); n != 0 {
		t.Fatalf("grid features = %d, want 0", n)
	}
	if n := len(host.sources[tickID].Features); n != 0 {
		t.Fatalf("tick features = %d, want 0", n)
	}
	if n := len(host.sources[labelID].Features); n != 0 {
		t.Fatalf("label features = %d, want 0", n)
	}

	border := host.sources[borderID].Features
	if len(border) != 1 {
		t.Fatalf("border features = %d, want 1", len(border))
	}
	ring, ok := border[0].Geometry.(orb.LineString)
	if !ok {
		t.Fatalf("border geometry = %T, want orb.LineString", border[0].Geometry)
	}
	if len(ring) != 5 || ring[0] != ring[len(ring)-1] {
		t.Fatalf("border ring = %v, want closed 5-point ring", ring)
	}
}

func TestTicksPointOutward(t *testing.T) {
	host := newFakeHost(0)
	c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree))

	_, tickID, _, _ := c.LayerIDs()
	b := c.Config().Bounds
	outward := 0
	for _, f := range host.sources[tickID].Features {
		seg := f.Geometry.(orb.LineString)
		anchor, tip := seg[0], seg[1]
		switch {
		case anchor.Lat() == b.South && tip.Lat() < b.South:
			outward++
		case anchor.Lat() == b.North && tip.Lat() > b.North:
			outward++
		case anchor.Lon() == b.West && tip.Lon() < b.West:
			outward++
		case anchor.Lon() == b.East && tip.Lon() > b.East:
			outward++
		}
	}
	if outward != 12 {
		t.Fatalf("%d of 12 ticks point outward at bearing 0", outward)
	}
}

func TestTicksStayCollinearUnderRotation(t *testing.T) {
	for _, bearing := range []float64{0, 37, 90, 215} {
		host := newFakeHost(bearing)
		c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree), WithTickLength(8))

		gridID, tickID, _, _ := c.LayerIDs()
		gridFC := host.sources[gridID]
		tickFC := host.sources[tickID]

		// the first two ticks belong to the first meridian: south, north
		line := gridFC.Features[0].Geometry.(orb.LineString)
		lineDir := screenDir(host, line[0], line[1])

		for i, wantDot := range []float64{-1, 1} { // south tick opposes the south->north direction
			seg := tickFC.Features[i].Geometry.(orb.LineString)
			tickDir := screenDir(host, seg[0], seg[1])
			cross := lineDir.X*tickDir.Y - lineDir.Y*tickDir.X
			dot := lineDir.X*tickDir.X + lineDir.Y*tickDir.Y
			if math.Abs(cross) > 1e-6 {
				t.Fatalf("bearing %v: tick %d not collinear with its meridian (cross=%v)", bearing, i, cross)
			}
			if math.Signbit(dot) != math.Signbit(wantDot) {
				t.Fatalf("bearing %v: tick %d dot=%v, want sign of %v", bearing, i, dot, wantDot)
			}
		}

		// tick pixel length survives the round trip
		seg := tickFC.Features[0].Geometry.(orb.LineString)
		a, b := host.Project(seg[0]), host.Project(seg[1])
		if got := math.Hypot(b.X-a.X, b.Y-a.Y); math.Abs(got-8) > 1e-6 {
			t.Fatalf("bearing %v: tick length = %vpx, want 8px", bearing, got)
		}
	}
}

func screenDir(h Host, from, to orb.Point) ScreenPoint {
	a, b := h.Project(from), h.Project(to)
	return ScreenPoint{X: b.X - a.X, Y: b.Y - a.Y}
}

func TestLabelFeatures(t *testing.T) {
	host := newFakeHost(0)
	c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree), WithPrecision(PrecisionDegree))

	_, _, _, labelID := c.LayerIDs()
	feats := host.sources[labelID].Features

	wantTexts := map[string]bool{}
	for _, f := range feats {
		label, _ := f.Properties["label"].(string)
		wantTexts[label] = true

		icon, _ := f.Properties["icon"].(string)
		if !host.HasImage(icon) {
			t.Fatalf("label icon %q has no registered image", icon)
		}
		anchor, _ := f.Properties["anchor"].(string)
		switch anchor {
		case AnchorTop, AnchorBottom, AnchorLeft, AnchorRight:
		default:
			t.Fatalf("label anchor = %q, want a corner tag", anchor)
		}
		if _, ok := f.Properties["rotate"].(float64); !ok {
			t.Fatalf("label rotate property missing: %v", f.Properties)
		}
		if _, ok := f.Geometry.(orb.Point); !ok {
			t.Fatalf("label geometry = %T, want orb.Point", f.Geometry)
		}
	}
	for _, want := range []string{"120°E", "125°E", "130°E", "30°N", "35°N", "40°N"} {
		if !wantTexts[want] {
			t.Fatalf("no label with text %q, have %v", want, wantTexts)
		}
	}
}

func TestSetIntervalRecomputes(t *testing.T) {
	host := newFakeHost(0)
	c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree))

	gridID, _, _, _ := c.LayerIDs()
	if err := c.SetInterval(10, UnitDegree); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	if n := len(host.sources[gridID].Features); n != 4 {
		t.Fatalf("grid features after 10 degree interval = %d, want 4", n)
	}

	var uerr *geo.UnsupportedUnitError
	if err := c.SetInterval(5, "radian"); !errors.As(err, &uerr) {
		t.Fatalf("SetInterval radian = %v, want UnsupportedUnitError", err)
	}
	if got := c.Config().Interval; got.Value != 10 || got.Unit != UnitDegree {
		t.Fatalf("failed SetInterval mutated config to %+v", got)
	}
}

func TestSetBoundsRecomputes(t *testing.T) {
	host := newFakeHost(0)
	c := newAttached(t, host, tenByTen(), WithInterval(5, UnitDegree))

	gridID, _, _, _ := c.LayerIDs()
	if err := c.SetBounds(Bounds{West: 0, South: 0, East: 5, North: 5}); err != nil {
		t.Fatalf("SetBounds: %v", err)
	}
	if n := len(host.sources[gridID].Features); n != 4 {
		t.Fatalf("grid features = %d, want 4 (2 meridians + 2 parallels)", n)
	}
	if err := c.SetBounds(Bounds{West: 10, South: 10, East: 0, North: 20}); err == nil {
		t.Fatal("expected error for west > east")
	}
}

func TestArcminuteMatchesScaledDegree(t *testing.T) {
	bounds := WithBounds(Bounds{West: 120.3, South: 30.2, East: 121.1, North: 30.9})

	hostA := newFakeHost(0)
	a := newAttached(t, hostA, bounds, WithInterval(30, UnitArcminute))
	hostB := newFakeHost(0)
	b := newAttached(t, hostB, bounds, WithInterval(0.5, UnitDegree))

	gridA, _, _, _ := a.LayerIDs()
	gridB, _, _, _ := b.LayerIDs()
	fa, fb := hostA.sources[gridA].Features, hostB.sources[gridB].Features
	if len(fa) != len(fb) {
		t.Fatalf("30 arcmin produced %d grid features, 0.5 degree produced %d", len(fa), len(fb))
	}
	for i := range fa {
		ga := fa[i].Geometry.(orb.LineString)
		gb := fb[i].Geometry.(orb.LineString)
		for j := range ga {
			if math.Abs(ga[j].Lon()-gb[j].Lon()) > 1e-9 || math.Abs(ga[j].Lat()-gb[j].Lat()) > 1e-9 {
				t.Fatalf("grid feature %d differs between arcmin and degree mode: %v vs %v", i, ga, gb)
			}
		}
	}
}
