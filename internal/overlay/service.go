// Package overlay turns validated requests into encoded graticule
// payloads, optionally through the redis payload cache.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/sqlnice/graticule/internal/cache/keys"
	"github.com/sqlnice/graticule/internal/cache/redisstore"
	"github.com/sqlnice/graticule/internal/core/config"
	"github.com/sqlnice/graticule/internal/core/model"
	"github.com/sqlnice/graticule/internal/core/observability"
	"github.com/sqlnice/graticule/internal/logger"
	"github.com/sqlnice/graticule/internal/sprite"
	"github.com/sqlnice/graticule/pkg/graticule"
	"github.com/sqlnice/graticule/pkg/maphost"
)

// fitPadding keeps room inside the viewport for outward ticks and their
// labels when fitting the camera to the requested bounds.
const fitPadding = 32

// Document is the geojson response payload: one feature collection per
// installed overlay layer.
type Document struct {
	Grid   *geojson.FeatureCollection `json:"grid,omitempty"`
	Tick   *geojson.FeatureCollection `json:"tick,omitempty"`
	Border *geojson.FeatureCollection `json:"border,omitempty"`
	Label  *geojson.FeatureCollection `json:"label,omitempty"`
}

type rasterEntry struct {
	r         *sprite.Rasterizer
	pubHits   uint64
	pubMisses uint64
}

// Service computes one-shot overlays. Rasterizers are pooled per device
// pixel ratio so sprite bitmaps stay cached across requests.
type Service struct {
	log      zerolog.Logger
	cache    *redisstore.Client // nil disables the payload cache
	ccfg     config.CacheCfg
	fontFile string

	mu      sync.Mutex
	rasters map[float64]*rasterEntry
}

// Option configures a Service.
type Option func(*Service)

// WithFontFile sets the label font file for every pooled rasterizer. An
// empty path keeps the embedded fonts.
func WithFontFile(path string) Option {
	return func(s *Service) { s.fontFile = path }
}

func New(log zerolog.Logger, cache *redisstore.Client, ccfg config.CacheCfg, opts ...Option) *Service {
	s := &Service{
		log:     log,
		cache:   cache,
		ccfg:    ccfg,
		rasters: map[float64]*rasterEntry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rasterizer returns the pooled label rasterizer for a device pixel
// ratio, creating it on first use.
func (s *Service) Rasterizer(dpr float64) (*sprite.Rasterizer, error) {
	if dpr <= 0 {
		dpr = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rasters[dpr]
	if !ok {
		r, err := sprite.New(dpr, sprite.WithFontFile(s.fontFile))
		if err != nil {
			return nil, fmt.Errorf("rasterizer dpr=%g: %w", dpr, err)
		}
		e = &rasterEntry{r: r}
		s.rasters[dpr] = e
	}
	return e.r, nil
}

// FlushSpriteStats folds the pooled rasterizer cache counters into the
// sprite metrics. Deltas are tracked under the pool lock so concurrent
// flushes never double-count.
func (s *Service) FlushSpriteStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.rasters {
		h, m := e.r.Stats()
		observability.AddSpriteRenders(int(h-e.pubHits), int(m-e.pubMisses))
		e.pubHits, e.pubMisses = h, m
	}
}

// Readiness implements health.ReadinessReporter. With the payload cache
// enabled the service is ready only while redis answers a ping.
func (s *Service) Readiness() (bool, string) {
	if s.cache == nil {
		return true, "disabled"
	}
	timeout := s.ccfg.OpTimeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.cache.Ping(ctx); err != nil {
		return false, ""
	}
	return true, "redis"
}

// HandleOverlay implements router.OverlayHandler: cache lookup, compute
// on miss, best-effort cache fill.
func (s *Service) HandleOverlay(ctx context.Context, w http.ResponseWriter, r *http.Request, q model.OverlayRequest) {
	start := time.Now()
	log := logger.FromContext(ctx, &s.log)

	hitClass := "bypass"
	key := ""
	if s.cache != nil {
		hitClass = "miss"
		key = keys.Overlay(keys.OverlayParams{
			Bounds:    q.Bounds,
			Interval:  q.Interval,
			Precision: q.Precision,
			Width:     q.Width,
			Height:    q.Height,
			Bearing:   q.Bearing,
			DPR:       q.DPR,
			Layers:    q.Layers,
			Format:    q.Format,
		})

		cctx, cancel := context.WithTimeout(ctx, s.ccfg.OpTimeout)
		payload, ok, err := s.cache.Get(cctx, key)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("cache read failed, computing")
		} else if ok {
			w.Header().Set("X-Hit-Class", "hit")
			writePayload(w, q.Format, payload)
			observability.ObserveOverlayResponse("hit", q.Format, time.Since(start).Seconds())
			log.Debug().Str("key", key).Msg("overlay served from cache")
			return
		}
	}

	payload, err := s.Compute(q)
	if err != nil {
		log.Error().Err(err).Msg("overlay compute")
		http.Error(w, "overlay computation failed", http.StatusInternalServerError)
		return
	}

	if key != "" {
		cctx, cancel := context.WithTimeout(ctx, s.ccfg.OpTimeout)
		if err := s.cache.Set(cctx, key, payload, s.ccfg.TTLFor(string(q.Interval.Unit))); err != nil {
			log.Warn().Err(err).Msg("cache fill failed")
		}
		cancel()
	}

	w.Header().Set("X-Hit-Class", hitClass)
	writePayload(w, q.Format, payload)
	observability.ObserveOverlayResponse(hitClass, q.Format, time.Since(start).Seconds())
	log.Debug().
		Str("hit_class", hitClass).
		Str("format", q.Format).
		Dur("elapsed", time.Since(start)).
		Msg("overlay computed")
}

// Compute renders one overlay through an offscreen host and encodes it
// in the requested format.
func (s *Service) Compute(q model.OverlayRequest) ([]byte, error) {
	ras, err := s.Rasterizer(q.DPR)
	if err != nil {
		return nil, err
	}
	show := showSet(q.Layers)

	t0 := time.Now()
	m := maphost.New(maphost.Camera{
		Bearing: q.Bearing,
		Width:   q.Width,
		Height:  q.Height,
		DPR:     q.DPR,
	})
	m.FitBounds(q.Bounds, fitPadding)

	ctrl, err := graticule.New(
		graticule.WithBounds(q.Bounds),
		graticule.WithInterval(q.Interval.Value, q.Interval.Unit),
		graticule.WithPrecision(q.Precision),
		graticule.WithLogger(s.log),
		graticule.WithRasterizer(ras),
		graticule.WithDevicePixelRatio(q.DPR),
		graticule.WithShowGrid(show[graticule.LayerGrid]),
		graticule.WithShowTick(show[graticule.LayerTick]),
		graticule.WithShowBorder(show[graticule.LayerBorder]),
		graticule.WithShowLabel(show[graticule.LayerLabel]),
	)
	if err != nil {
		return nil, fmt.Errorf("configure controller: %w", err)
	}
	if err := ctrl.Attach(m); err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	observability.ObserveOverlayStage("compute", time.Since(t0).Seconds())
	s.FlushSpriteStats()

	if q.Format == model.FormatPNG {
		t1 := time.Now()
		png, err := m.RenderPNG()
		if err != nil {
			return nil, fmt.Errorf("render png: %w", err)
		}
		observability.ObserveOverlayStage("render", time.Since(t1).Seconds())
		return png, nil
	}

	t1 := time.Now()
	payload, err := json.Marshal(Collect(ctrl, m))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	observability.ObserveOverlayStage("encode", time.Since(t1).Seconds())
	return payload, nil
}

// Collect reads the controller's installed sources back out of the
// host into a response document. Hidden or unrequested layers have no
// source and stay nil.
func Collect(ctrl *graticule.Controller, m *maphost.Map) Document {
	gridID, tickID, borderID, labelID := ctrl.LayerIDs()
	var doc Document
	if fc, ok := m.Source(gridID); ok {
		doc.Grid = fc
	}
	if fc, ok := m.Source(tickID); ok {
		doc.Tick = fc
	}
	if fc, ok := m.Source(borderID); ok {
		doc.Border = fc
	}
	if fc, ok := m.Source(labelID); ok {
		doc.Label = fc
	}
	return doc
}

// showSet expands the requested layer subset; empty means every layer.
func showSet(layers []string) map[string]bool {
	if len(layers) == 0 {
		return map[string]bool{
			graticule.LayerGrid:   true,
			graticule.LayerTick:   true,
			graticule.LayerBorder: true,
			graticule.LayerLabel:  true,
		}
	}
	out := map[string]bool{}
	for _, l := range layers {
		out[l] = true
	}
	return out
}

func writePayload(w http.ResponseWriter, format string, payload []byte) {
	if format == model.FormatPNG {
		w.Header().Set("Content-Type", "image/png")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = w.Write(payload)
}
