// Package session keeps long-lived controller and map-host pairs, one
// per interactive client, in a bounded LRU table. View changes go
// through the unit-dependent recompute policy: degree intervals apply
// immediately, arc-minute intervals debounce for a fixed wait and
// coalesce bursts into a single recompute of the latest view.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqlnice/graticule/internal/core/model"
	"github.com/sqlnice/graticule/internal/core/observability"
	"github.com/sqlnice/graticule/internal/geo"
	"github.com/sqlnice/graticule/internal/overlay"
	"github.com/sqlnice/graticule/internal/sprite"
	"github.com/sqlnice/graticule/pkg/graticule"
	"github.com/sqlnice/graticule/pkg/maphost"
)

// fitPadding keeps room inside the viewport for outward ticks and their
// labels when fitting the camera to a view's bbox.
const fitPadding = 32

// ErrClosed is returned by every operation on a session that was
// deleted or evicted from the table.
var ErrClosed = errors.New("session: closed")

// Session owns one controller attached to one in-process map host. The
// controller is single-threaded, so every operation serializes on the
// session mutex; HTTP handlers may hit the same session concurrently.
type Session struct {
	ID string

	mu    sync.Mutex
	log   zerolog.Logger
	svc   *overlay.Service
	host  *maphost.Map
	ctrl  *graticule.Controller
	ras   *sprite.Rasterizer
	view  model.View
	wait  time.Duration
	timer *time.Timer
}

// View returns the most recently submitted view, applied or not.
func (s *Session) View() model.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// UpdateView stores v as the session's current view and recomputes the
// overlay for it. Degree intervals recompute before UpdateView returns;
// arc-minute intervals schedule the recompute after the debounce wait,
// and further updates inside the wait restart it, so only the last view
// of a burst is computed.
func (s *Session) UpdateView(v model.View) error {
	b := v.Bounds()
	if err := b.Validate(); err != nil {
		return fmt.Errorf("view: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return ErrClosed
	}
	s.view = v

	if s.ctrl.Config().Interval.Unit != geo.UnitArcminute || s.wait <= 0 {
		observability.IncSessionUpdate("immediate")
		return s.applyLocked()
	}
	if s.timer != nil {
		s.timer.Reset(s.wait)
		observability.IncSessionUpdate("coalesced")
		return nil
	}
	s.timer = time.AfterFunc(s.wait, s.flush)
	observability.IncSessionUpdate("debounced")
	return nil
}

// flush applies the latest view once the debounce wait elapses.
func (s *Session) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	if s.ctrl == nil {
		return
	}
	if err := s.applyLocked(); err != nil {
		s.log.Error().Err(err).Msg("debounced view update failed")
	}
}

// applyLocked moves the camera to the latest view and runs a full
// controller update. The camera keeps its bearing-independent fit: the
// bbox is fitted inside the viewport minus the tick padding.
func (s *Session) applyLocked() error {
	v := s.view
	cam := s.host.Camera()
	cam.Bearing = v.Bearing
	cam.Width, cam.Height = v.Width, v.Height
	if v.DPR > 0 {
		cam.DPR = v.DPR
	}
	s.host.SetCamera(cam)

	b := v.Bounds()
	s.host.FitBounds(b, fitPadding)
	err := s.ctrl.SetBounds(b)
	s.svc.FlushSpriteStats()
	return err
}

// UpdateOptions applies a partial reconfiguration. Interval and
// visibility changes go through the controller's own mutators; a
// precision change swaps in a fresh controller because precision is
// fixed at construction time.
func (s *Session) UpdateOptions(o model.SessionOptions) error {
	for layer := range o.Show {
		switch layer {
		case graticule.LayerGrid, graticule.LayerTick, graticule.LayerBorder, graticule.LayerLabel:
		default:
			return fmt.Errorf("unknown layer %q", layer)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return ErrClosed
	}
	cfg := s.ctrl.Config()

	iv := cfg.Interval
	if o.Interval != nil {
		iv.Value = *o.Interval
	}
	if o.Unit != "" {
		u, err := geo.ParseUnit(o.Unit)
		if err != nil {
			return err
		}
		iv.Unit = u
	}
	if err := iv.Validate(); err != nil {
		return err
	}

	if o.Precision != "" {
		p, err := geo.ParsePrecision(o.Precision)
		if err != nil {
			return err
		}
		if p != cfg.Precision {
			return s.rebuildLocked(iv, p, o.Show)
		}
	}

	if iv != cfg.Interval {
		if err := s.ctrl.SetInterval(iv.Value, iv.Unit); err != nil {
			return err
		}
	}
	for layer, show := range o.Show {
		if err := s.ctrl.SetVisible(layer, show); err != nil {
			return err
		}
	}
	s.svc.FlushSpriteStats()
	return nil
}

// rebuildLocked replaces the controller, carrying the current
// configuration except for the new interval, precision and visibility
// overrides. The old controller detaches first so the fresh attach
// starts from an empty host state under new layer ids.
func (s *Session) rebuildLocked(iv geo.Interval, p geo.Precision, show map[string]bool) error {
	cfg := s.ctrl.Config()
	visible := map[string]bool{
		graticule.LayerGrid:   cfg.ShowGrid,
		graticule.LayerTick:   cfg.ShowTick,
		graticule.LayerBorder: cfg.ShowBorder,
		graticule.LayerLabel:  cfg.ShowLabel,
	}
	for layer, on := range show {
		visible[layer] = on
	}

	next, err := graticule.New(
		graticule.WithBounds(cfg.Bounds),
		graticule.WithInterval(iv.Value, iv.Unit),
		graticule.WithTickLength(cfg.TickLength),
		graticule.WithPrecision(p),
		graticule.WithLogger(s.log),
		graticule.WithRasterizer(s.ras),
		graticule.WithShowGrid(visible[graticule.LayerGrid]),
		graticule.WithShowTick(visible[graticule.LayerTick]),
		graticule.WithShowBorder(visible[graticule.LayerBorder]),
		graticule.WithShowLabel(visible[graticule.LayerLabel]),
	)
	if err != nil {
		return err
	}
	if err := s.ctrl.Detach(); err != nil {
		s.log.Warn().Err(err).Msg("detach during precision change")
	}
	s.ctrl = next
	err = s.ctrl.Attach(s.host)
	s.svc.FlushSpriteStats()
	return err
}

// Overlay returns the current overlay as a per-layer geojson document,
// or as a rendered PNG of the whole viewport when format is png. A
// pending debounced view is not forced; the payload reflects the last
// applied state.
func (s *Session) Overlay(format string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return nil, ErrClosed
	}
	if format == model.FormatPNG {
		return s.host.RenderPNG()
	}
	return json.Marshal(overlay.Collect(s.ctrl, s.host))
}

// close detaches the controller and stops any pending debounce. Called
// on delete and on LRU eviction; later operations return ErrClosed.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.ctrl == nil {
		return
	}
	if err := s.ctrl.Detach(); err != nil {
		s.log.Warn().Err(err).Msg("detach on close")
	}
	s.ctrl = nil
}
