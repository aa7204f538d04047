package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqlnice/graticule/internal/core/config"
	"github.com/sqlnice/graticule/internal/overlay"
	"github.com/sqlnice/graticule/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		GridInterval:     10,
		TickLengthPx:     8,
		DevicePixelRatio: 1,
		Session:          config.SessionCfg{Limit: 16, DebounceWait: 50 * time.Millisecond},
	}
	svc := overlay.New(zerolog.Nop(), nil, cfg.Cache)
	sessions := session.NewManager(zerolog.Nop(), svc, cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ts := httptest.NewServer(Routes(cfg, logger, Deps{
		Overlay:  svc,
		Sessions: sessions,
		Ready:    svc,
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(sessions.Close)
	return ts
}

func getBody(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestRoutes_OverlayGeoJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, body := getBody(t, ts.URL+"/overlay?bbox=120,30,130,40&interval=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
	if resp.Header.Get("X-Hit-Class") != "bypass" {
		t.Fatalf("hit class=%q", resp.Header.Get("X-Hit-Class"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing generated request id")
	}

	var doc overlay.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Grid == nil || len(doc.Grid.Features) != 6 {
		t.Fatalf("grid features: %+v", doc.Grid)
	}
	if doc.Tick == nil || len(doc.Tick.Features) != 12 {
		t.Fatalf("tick features: %+v", doc.Tick)
	}
}

func TestRoutes_OverlayPNG(t *testing.T) {
	ts := newTestServer(t)

	resp, body := getBody(t, ts.URL+"/overlay?bbox=120,30,130,40&interval=5&width=320&height=240&format=png")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content-type=%q", ct)
	}
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w != 320 || h != 240 {
		t.Fatalf("png %dx%d", w, h)
	}
}

func TestRoutes_OverlayRejectsBadBBox(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := getBody(t, ts.URL+"/overlay?bbox=1,2,3")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestRoutes_HealthReadyMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, body := getBody(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("healthz: status=%d body=%q", resp.StatusCode, body)
	}

	resp, body = getBody(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d", resp.StatusCode)
	}
	var ready struct {
		Status string `json:"status"`
		Cache  string `json:"cache"`
	}
	if err := json.Unmarshal(body, &ready); err != nil || ready.Status != "ready" || ready.Cache != "disabled" {
		t.Fatalf("readyz body=%q err=%v", body, err)
	}

	// request counters appear in the exposition only after an observed
	// request, and /healthz is not an observed route
	resp, _ = getBody(t, ts.URL+"/overlay?bbox=0,0,10,10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overlay status=%d", resp.StatusCode)
	}

	resp, body = getBody(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "http_requests_total") {
		t.Fatal("metrics exposition missing request counter")
	}
}

func TestRoutes_SessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	body := `{"view":{"bbox":[120,30,130,40],"width":800,"height":600},"options":{"interval":5}}`
	resp, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", resp.StatusCode, raw)
	}
	var created map[string]string
	if err := json.Unmarshal(raw, &created); err != nil || created["id"] == "" {
		t.Fatalf("create response=%q err=%v", raw, err)
	}
	id := created["id"]
	base := fmt.Sprintf("%s/sessions/%s", ts.URL, id)

	resp, raw = getBody(t, base+"/view")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get view status=%d", resp.StatusCode)
	}
	var view struct {
		BBox [4]float64 `json:"bbox"`
	}
	if err := json.Unmarshal(raw, &view); err != nil || view.BBox != [4]float64{120, 30, 130, 40} {
		t.Fatalf("view=%q err=%v", raw, err)
	}

	resp, raw = getBody(t, base+"/overlay")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overlay status=%d", resp.StatusCode)
	}
	var doc overlay.Document
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Grid == nil || len(doc.Grid.Features) != 6 {
		t.Fatalf("overlay doc=%s err=%v", raw, err)
	}

	// widen the view; degree interval applies before the response
	resp, err = http.Post(base+"/view", "application/json",
		strings.NewReader(`{"bbox":[120,30,140,40],"width":800,"height":600}`))
	if err != nil {
		t.Fatalf("update view: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update view status=%d", resp.StatusCode)
	}
	_, raw = getBody(t, base+"/overlay")
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc.Grid.Features) != 8 {
		t.Fatalf("overlay after view update=%s err=%v", raw, err)
	}

	resp, err = http.Post(base+"/options", "application/json", strings.NewReader(`{"show":{"label":false}}`))
	if err != nil {
		t.Fatalf("update options: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update options status=%d", resp.StatusCode)
	}
	_, raw = getBody(t, base+"/overlay")
	doc = overlay.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Label != nil || doc.Grid == nil {
		t.Fatalf("overlay after hiding labels=%s err=%v", raw, err)
	}

	req, _ := http.NewRequest(http.MethodDelete, base, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status=%d", resp.StatusCode)
	}

	resp, _ = getBody(t, base+"/view")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("view after delete status=%d", resp.StatusCode)
	}
}

func TestRoutes_CORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/overlay", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status=%d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}
