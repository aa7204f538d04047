package session

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/sqlnice/graticule/internal/core/config"
	"github.com/sqlnice/graticule/internal/core/model"
	"github.com/sqlnice/graticule/internal/core/observability"
	"github.com/sqlnice/graticule/internal/geo"
	"github.com/sqlnice/graticule/internal/logger"
	"github.com/sqlnice/graticule/internal/overlay"
	"github.com/sqlnice/graticule/pkg/graticule"
	"github.com/sqlnice/graticule/pkg/maphost"
)

// Manager is the bounded session table. The least recently touched
// session is evicted once the limit is reached; eviction detaches its
// controller, so a client holding a stale id gets a clean 404 rather
// than a half-alive overlay.
type Manager struct {
	log zerolog.Logger
	svc *overlay.Service
	cfg config.Config

	mu  sync.Mutex
	tbl *lru.Cache[string, *Session]
}

// NewManager builds an empty table. svc contributes the shared per-DPR
// rasterizer pool so label sprites stay cached across sessions and
// stateless requests alike.
func NewManager(log zerolog.Logger, svc *overlay.Service, cfg config.Config) *Manager {
	limit := cfg.Session.Limit
	if limit <= 0 {
		limit = 128
	}
	m := &Manager{
		log: log.With().Str("component", "session").Logger(),
		svc: svc,
		cfg: cfg,
	}
	tbl, _ := lru.NewWithEvict[string, *Session](limit, func(id string, s *Session) {
		s.close()
		m.log.Debug().Str("session_id", id).Msg("session closed")
	})
	m.tbl = tbl
	return m
}

// Create builds a session for the given initial view, applying option
// overrides on top of the configured defaults, attaches its controller
// and registers it in the table. Returns the new session id.
func (m *Manager) Create(view model.View, opts model.SessionOptions) (string, error) {
	b := view.Bounds()
	if err := b.Validate(); err != nil {
		return "", fmt.Errorf("view: %w", err)
	}

	iv := geo.Interval{Value: m.cfg.GridInterval, Unit: geo.UnitDegree}
	if opts.Interval != nil {
		iv.Value = *opts.Interval
	}
	if opts.Unit != "" {
		u, err := geo.ParseUnit(opts.Unit)
		if err != nil {
			return "", err
		}
		iv.Unit = u
	}
	if err := iv.Validate(); err != nil {
		return "", err
	}

	prec := geo.PrecisionDegree
	if opts.Precision != "" {
		p, err := geo.ParsePrecision(opts.Precision)
		if err != nil {
			return "", err
		}
		prec = p
	}

	visible := map[string]bool{
		graticule.LayerGrid:   true,
		graticule.LayerTick:   true,
		graticule.LayerBorder: true,
		graticule.LayerLabel:  true,
	}
	for layer, on := range opts.Show {
		if _, known := visible[layer]; !known {
			return "", fmt.Errorf("unknown layer %q", layer)
		}
		visible[layer] = on
	}

	dpr := view.DPR
	if dpr <= 0 {
		dpr = m.cfg.DevicePixelRatio
	}
	ras, err := m.svc.Rasterizer(dpr)
	if err != nil {
		return "", err
	}

	id := logger.NewID()
	slog := m.log.With().Str("session_id", id).Logger()

	host := maphost.New(maphost.Camera{
		Bearing: view.Bearing,
		Width:   view.Width,
		Height:  view.Height,
		DPR:     dpr,
	})
	host.FitBounds(b, fitPadding)

	ctrl, err := graticule.New(
		graticule.WithBounds(b),
		graticule.WithInterval(iv.Value, iv.Unit),
		graticule.WithTickLength(m.cfg.TickLengthPx),
		graticule.WithPrecision(prec),
		graticule.WithLogger(slog),
		graticule.WithRasterizer(ras),
		graticule.WithShowGrid(visible[graticule.LayerGrid]),
		graticule.WithShowTick(visible[graticule.LayerTick]),
		graticule.WithShowBorder(visible[graticule.LayerBorder]),
		graticule.WithShowLabel(visible[graticule.LayerLabel]),
	)
	if err != nil {
		return "", err
	}
	if err := ctrl.Attach(host); err != nil {
		return "", err
	}
	m.svc.FlushSpriteStats()

	s := &Session{
		ID:   id,
		log:  slog,
		svc:  m.svc,
		host: host,
		ctrl: ctrl,
		ras:  ras,
		view: view,
		wait: m.cfg.Session.DebounceWait,
	}

	m.mu.Lock()
	m.tbl.Add(id, s)
	n := m.tbl.Len()
	m.mu.Unlock()
	observability.SetSessionsLive(n)

	slog.Info().
		Float64("interval", iv.Value).
		Str("unit", string(iv.Unit)).
		Msg("session created")
	return id, nil
}

// Get returns the session by id and bumps its recency.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tbl.Get(id)
}

// Delete closes and removes the session. Reports whether it existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	ok := m.tbl.Remove(id)
	n := m.tbl.Len()
	m.mu.Unlock()
	if ok {
		observability.SetSessionsLive(n)
	}
	return ok
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tbl.Len()
}

// Close detaches every session. The manager stays usable but empty.
func (m *Manager) Close() {
	m.mu.Lock()
	m.tbl.Purge()
	m.mu.Unlock()
	observability.SetSessionsLive(0)
}

// View returns the session's current view.
func (m *Manager) View(id string) (model.View, bool) {
	s, ok := m.Get(id)
	if !ok {
		return model.View{}, false
	}
	return s.View(), true
}

// UpdateView applies a view change through the debounce policy. The
// found result is false for unknown or already closed sessions.
func (m *Manager) UpdateView(id string, v model.View) (bool, error) {
	s, ok := m.Get(id)
	if !ok {
		return false, nil
	}
	err := s.UpdateView(v)
	if errors.Is(err, ErrClosed) {
		return false, nil
	}
	return true, err
}

// UpdateOptions applies a partial reconfiguration.
func (m *Manager) UpdateOptions(id string, o model.SessionOptions) (bool, error) {
	s, ok := m.Get(id)
	if !ok {
		return false, nil
	}
	err := s.UpdateOptions(o)
	if errors.Is(err, ErrClosed) {
		return false, nil
	}
	return true, err
}

// Overlay returns the session's current overlay payload.
func (m *Manager) Overlay(id, format string) ([]byte, bool, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, false, nil
	}
	payload, err := s.Overlay(format)
	if errors.Is(err, ErrClosed) {
		return nil, false, nil
	}
	return payload, true, err
}
