package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqlnice/graticule/internal/core/config"
	"github.com/sqlnice/graticule/internal/core/model"
	"github.com/sqlnice/graticule/internal/overlay"
)

const testWait = 300 * time.Millisecond

func newManager(t *testing.T, limit int) *Manager {
	t.Helper()
	svc := overlay.New(zerolog.Nop(), nil, config.CacheCfg{})
	return NewManager(zerolog.Nop(), svc, config.Config{
		GridInterval:     10,
		TickLengthPx:     8,
		DevicePixelRatio: 1,
		Session:          config.SessionCfg{Limit: limit, DebounceWait: testWait},
	})
}

func degreeView() model.View {
	return model.View{BBox: [4]float64{120, 30, 130, 40}, Width: 800, Height: 600, DPR: 1}
}

func fptr(f float64) *float64 { return &f }

func document(t *testing.T, payload []byte) overlay.Document {
	t.Helper()
	var doc overlay.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("unmarshal overlay: %v", err)
	}
	return doc
}

func sessionDoc(t *testing.T, m *Manager, id string) overlay.Document {
	t.Helper()
	payload, found, err := m.Overlay(id, model.FormatGeoJSON)
	if err != nil || !found {
		t.Fatalf("overlay: found=%v err=%v", found, err)
	}
	return document(t, payload)
}

func TestCreate_InitialOverlayAndPNG(t *testing.T) {
	m := newManager(t, 8)

	id, err := m.Create(degreeView(), model.SessionOptions{Interval: fptr(5)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("len=%d", m.Len())
	}

	doc := sessionDoc(t, m, id)
	if doc.Grid == nil || len(doc.Grid.Features) != 6 {
		t.Fatalf("grid features: %+v", doc.Grid)
	}
	if doc.Label == nil || len(doc.Label.Features) != 12 {
		t.Fatalf("label features: %+v", doc.Label)
	}

	raw, found, err := m.Overlay(id, model.FormatPNG)
	if err != nil || !found {
		t.Fatalf("png overlay: found=%v err=%v", found, err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w != 800 || h != 600 {
		t.Fatalf("png %dx%d, want 800x600", w, h)
	}
}

func TestUpdateView_DegreeAppliesImmediately(t *testing.T) {
	m := newManager(t, 8)
	id, err := m.Create(degreeView(), model.SessionOptions{Interval: fptr(5)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wider := degreeView()
	wider.BBox = [4]float64{120, 30, 140, 40}
	if found, err := m.UpdateView(id, wider); err != nil || !found {
		t.Fatalf("update view: found=%v err=%v", found, err)
	}

	doc := sessionDoc(t, m, id)
	if len(doc.Grid.Features) != 8 {
		t.Fatalf("grid features=%d, want 8 right after a degree update", len(doc.Grid.Features))
	}
	if got, _ := m.View(id); got.BBox != wider.BBox {
		t.Fatalf("stored view=%v", got.BBox)
	}
}

func TestUpdateView_ArcminuteDebouncesAndCoalesces(t *testing.T) {
	m := newManager(t, 8)
	v := model.View{BBox: [4]float64{120, 30, 121, 30.5}, Width: 800, Height: 600, DPR: 1}
	id, err := m.Create(v, model.SessionOptions{Interval: fptr(30), Unit: "arcminute"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n := len(sessionDoc(t, m, id).Grid.Features); n != 5 {
		t.Fatalf("initial grid features=%d, want 5", n)
	}

	mid := v
	mid.BBox = [4]float64{120, 30, 121.5, 30.5}
	last := v
	last.BBox = [4]float64{120, 30, 122, 30.5}
	if _, err := m.UpdateView(id, mid); err != nil {
		t.Fatalf("update view: %v", err)
	}
	if _, err := m.UpdateView(id, last); err != nil {
		t.Fatalf("update view: %v", err)
	}

	// inside the wait the previously applied view still serves
	if n := len(sessionDoc(t, m, id).Grid.Features); n != 5 {
		t.Fatalf("grid features=%d before the wait elapsed, want 5", n)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if n := len(sessionDoc(t, m, id).Grid.Features); n == 7 {
			break
		} else if n != 5 {
			t.Fatalf("grid features=%d, an intermediate view leaked through", n)
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced view never applied")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUpdateOptions_IntervalAndVisibility(t *testing.T) {
	m := newManager(t, 8)
	id, err := m.Create(degreeView(), model.SessionOptions{Interval: fptr(5)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if found, err := m.UpdateOptions(id, model.SessionOptions{Interval: fptr(10)}); err != nil || !found {
		t.Fatalf("set interval: found=%v err=%v", found, err)
	}
	if n := len(sessionDoc(t, m, id).Grid.Features); n != 4 {
		t.Fatalf("grid features=%d after widening the interval, want 4", n)
	}

	if _, err := m.UpdateOptions(id, model.SessionOptions{Show: map[string]bool{"label": false}}); err != nil {
		t.Fatalf("hide labels: %v", err)
	}
	doc := sessionDoc(t, m, id)
	if doc.Label != nil {
		t.Fatalf("labels still present: %+v", doc.Label)
	}
	if doc.Grid == nil || doc.Border == nil {
		t.Fatal("hiding labels must not touch other layers")
	}

	if _, err := m.UpdateOptions(id, model.SessionOptions{Show: map[string]bool{"label": true}}); err != nil {
		t.Fatalf("show labels: %v", err)
	}
	if doc = sessionDoc(t, m, id); doc.Label == nil || len(doc.Label.Features) != 8 {
		t.Fatalf("labels after re-show: %+v", doc.Label)
	}

	if _, err := m.UpdateOptions(id, model.SessionOptions{Show: map[string]bool{"halo": true}}); err == nil {
		t.Fatal("unknown layer accepted")
	}
}

func TestUpdateOptions_PrecisionSwapsFormatter(t *testing.T) {
	m := newManager(t, 8)
	id, err := m.Create(degreeView(), model.SessionOptions{Interval: fptr(5)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if found, err := m.UpdateOptions(id, model.SessionOptions{Precision: "second"}); err != nil || !found {
		t.Fatalf("set precision: found=%v err=%v", found, err)
	}

	doc := sessionDoc(t, m, id)
	if doc.Grid == nil || len(doc.Grid.Features) != 6 {
		t.Fatalf("grid after precision change: %+v", doc.Grid)
	}
	if doc.Label == nil || len(doc.Label.Features) != 12 {
		t.Fatalf("labels after precision change: %+v", doc.Label)
	}
	text, _ := doc.Label.Features[0].Properties["label"].(string)
	if text != `120°0'0"E` {
		t.Fatalf("label text=%q, want seconds formatting", text)
	}
}

func TestEviction_ClosesLeastRecentSession(t *testing.T) {
	m := newManager(t, 2)

	id1, err := m.Create(degreeView(), model.SessionOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s1, ok := m.Get(id1)
	if !ok {
		t.Fatal("session 1 missing")
	}
	if _, err := m.Create(degreeView(), model.SessionOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(degreeView(), model.SessionOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if m.Len() != 2 {
		t.Fatalf("len=%d, want 2", m.Len())
	}
	if _, found := m.View(id1); found {
		t.Fatal("evicted session still resolvable")
	}
	if err := s1.UpdateView(degreeView()); !errors.Is(err, ErrClosed) {
		t.Fatalf("update on evicted session: %v", err)
	}
	if _, err := s1.Overlay(model.FormatGeoJSON); !errors.Is(err, ErrClosed) {
		t.Fatalf("overlay on evicted session: %v", err)
	}
}

func TestDelete_RemovesAndCloses(t *testing.T) {
	m := newManager(t, 8)
	id, err := m.Create(degreeView(), model.SessionOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !m.Delete(id) {
		t.Fatal("delete reported not found")
	}
	if m.Delete(id) {
		t.Fatal("double delete reported found")
	}
	if m.Len() != 0 {
		t.Fatalf("len=%d after delete", m.Len())
	}
	if _, found := m.View(id); found {
		t.Fatal("deleted session still resolvable")
	}
}

func TestFacade_UnknownIDIsNotFoundNotError(t *testing.T) {
	m := newManager(t, 8)

	if found, err := m.UpdateView("nope", degreeView()); found || err != nil {
		t.Fatalf("UpdateView: found=%v err=%v", found, err)
	}
	if found, err := m.UpdateOptions("nope", model.SessionOptions{}); found || err != nil {
		t.Fatalf("UpdateOptions: found=%v err=%v", found, err)
	}
	if _, found, err := m.Overlay("nope", model.FormatGeoJSON); found || err != nil {
		t.Fatalf("Overlay: found=%v err=%v", found, err)
	}
	if m.Delete("nope") {
		t.Fatal("Delete reported found")
	}
}

func TestCreate_RejectsBadInput(t *testing.T) {
	m := newManager(t, 8)

	bad := degreeView()
	bad.BBox = [4]float64{130, 30, 120, 40}
	if _, err := m.Create(bad, model.SessionOptions{}); err == nil {
		t.Fatal("inverted bbox accepted")
	}
	if _, err := m.Create(degreeView(), model.SessionOptions{Unit: "radian"}); err == nil {
		t.Fatal("unknown unit accepted")
	}
	if _, err := m.Create(degreeView(), model.SessionOptions{Interval: fptr(0)}); err == nil {
		t.Fatal("zero interval accepted")
	}
	if _, err := m.Create(degreeView(), model.SessionOptions{Show: map[string]bool{"halo": true}}); err == nil {
		t.Fatal("unknown layer accepted")
	}
}
