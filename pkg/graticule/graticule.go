// Package graticule overlays a latitude/longitude reference grid on a
// host map renderer: grid lines, perpendicular edge ticks, a border ring
// and DMS coordinate labels, kept in sync through four stable layer ids.
//
// A Controller is not safe for concurrent use. All recomputation runs
// synchronously inside Attach, Update, SetBounds, SetInterval,
// SetVisible and Detach; callers invoking these from multiple
// goroutines must serialize access themselves.
package graticule

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/sqlnice/graticule/internal/dms"
	"github.com/sqlnice/graticule/internal/geo"
	"github.com/sqlnice/graticule/internal/grid"
	"github.com/sqlnice/graticule/internal/sprite"
)

// Sub-layer names, also used as suffix-free keys in APIs that address a
// single sub-layer.
const (
	LayerGrid   = "grid"
	LayerTick   = "tick"
	LayerBorder = "border"
	LayerLabel  = "label"
)

var (
	// ErrInvalidHost is returned by Attach when no host is supplied.
	ErrInvalidHost = errors.New("graticule: attach requires a host")

	// ErrDetached is returned by Update when the controller is not
	// attached to a host.
	ErrDetached = errors.New("graticule: controller is detached")
)

// attachSeq namespaces the stable layer ids so controllers attached to
// the same host never collide.
var attachSeq atomic.Uint64

type layerIDs struct {
	grid   string
	tick   string
	border string
	label  string
}

// Controller owns the four sub-layer ids and the current configuration,
// and reconciles the host's source/layer/image registries against them
// on every update.
type Controller struct {
	cfg Config
	log zerolog.Logger
	ras *sprite.Rasterizer
	dpr float64

	host    Host
	ids     layerIDs
	iconIDs []string
}

// New builds a detached controller. Configuration problems surface
// here: an unknown interval unit as UnsupportedUnitError, an unknown
// precision as UnsupportedFormatError.
func New(opts ...Option) (*Controller, error) {
	c := &Controller{cfg: defaultConfig(), log: zerolog.Nop(), dpr: 1}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("bounds: %w", err)
	}
	if err := c.cfg.Interval.Validate(); err != nil {
		return nil, err
	}
	if _, err := geo.ParsePrecision(string(c.cfg.Precision)); err != nil {
		return nil, err
	}
	if c.cfg.TickLength <= 0 {
		c.cfg.TickLength = defaultConfig().TickLength
	}
	if c.ras == nil {
		ras, err := sprite.New(c.dpr)
		if err != nil {
			return nil, err
		}
		c.ras = ras
	}
	return c, nil
}

// Config returns a copy of the current configuration.
func (c *Controller) Config() Config { return c.cfg }

// Attached reports whether the controller is bound to a host.
func (c *Controller) Attached() bool { return c.host != nil }

// LayerIDs reports the stable sub-layer ids for the current attach
// lifecycle, empty while detached.
func (c *Controller) LayerIDs() (grid, tick, border, label string) {
	return c.ids.grid, c.ids.tick, c.ids.border, c.ids.label
}

// Attach binds the controller to host, generates a fresh set of stable
// layer ids and performs a full sync. Attaching again rebinds and
// regenerates ids; layers installed on a previous host are not touched.
func (c *Controller) Attach(host Host) error {
	if host == nil {
		return ErrInvalidHost
	}
	n := attachSeq.Add(1)
	c.host = host
	c.ids = layerIDs{
		grid:   fmt.Sprintf("graticule-grid-%d", n),
		tick:   fmt.Sprintf("graticule-tick-%d", n),
		border: fmt.Sprintf("graticule-border-%d", n),
		label:  fmt.Sprintf("graticule-label-%d", n),
	}
	c.iconIDs = nil
	c.log.Debug().
		Str("grid", c.ids.grid).
		Str("label", c.ids.label).
		Msg("graticule attached")
	return c.Update()
}

// Update recomputes the grid from the current bounds and interval and
// reconciles all four sub-layers against the host. Each sub-layer syncs
// independently; errors from the host registries are collected and
// returned joined, never retried.
func (c *Controller) Update() error {
	if c.host == nil {
		return ErrDetached
	}
	lines, err := grid.Compute(c.cfg.Bounds, c.cfg.Interval)
	if err != nil {
		return err
	}
	ticks, labels := ComputeTicks(c.host, lines, c.cfg.TickLength)

	return errors.Join(
		c.syncLine(c.ids.grid, c.cfg.ShowGrid, c.cfg.GridStyle, func() *geojson.FeatureCollection { return gridFeatures(lines) }),
		c.syncLine(c.ids.tick, c.cfg.ShowTick, c.cfg.TickStyle, func() *geojson.FeatureCollection { return tickFeatures(ticks) }),
		c.syncLine(c.ids.border, c.cfg.ShowBorder, c.cfg.BorderStyle, func() *geojson.FeatureCollection { return borderFeatures(c.cfg.Bounds) }),
		c.syncLabels(labels),
	)
}

// SetBounds stores b and, when attached, performs a full update.
func (c *Controller) SetBounds(b Bounds) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	c.cfg.Bounds = b
	if c.host == nil {
		return nil
	}
	return c.Update()
}

// SetInterval stores the interval and, when attached, performs a full
// update. An unrecognized unit fails with UnsupportedUnitError before
// anything is mutated.
func (c *Controller) SetInterval(value float64, unit Unit) error {
	iv := Interval{Value: value, Unit: unit}
	if err := iv.Validate(); err != nil {
		return err
	}
	c.cfg.Interval = iv
	if c.host == nil {
		return nil
	}
	return c.Update()
}

// SetVisible toggles one sub-layer and, when attached, performs a full
// update. Toggling a layer off removes its source and layer from the
// host; toggling it back on reinstalls them under the same stable id.
func (c *Controller) SetVisible(layer string, show bool) error {
	switch layer {
	case LayerGrid:
		c.cfg.ShowGrid = show
	case LayerTick:
		c.cfg.ShowTick = show
	case LayerBorder:
		c.cfg.ShowBorder = show
	case LayerLabel:
		c.cfg.ShowLabel = show
	default:
		return fmt.Errorf("unknown layer %q", layer)
	}
	if c.host == nil {
		return nil
	}
	return c.Update()
}

// Detach removes all four sub-layers from the host and clears the host
// binding and the stable-id table. Detaching while already detached is
// a no-op. Re-attachment generates fresh ids.
func (c *Controller) Detach() error {
	if c.host == nil {
		return nil
	}
	err := errors.Join(
		c.remove(c.ids.grid),
		c.remove(c.ids.tick),
		c.remove(c.ids.border),
		c.remove(c.ids.label),
	)
	c.host = nil
	c.ids = layerIDs{}
	c.iconIDs = nil
	c.log.Debug().Msg("graticule detached")
	return err
}

// syncLine reconciles one stroke sub-layer: upsert source data and
// install the layer when shown, remove both when hidden.
func (c *Controller) syncLine(id string, show bool, st LineStyle, build func() *geojson.FeatureCollection) error {
	if !show {
		return c.remove(id)
	}
	fc := build()
	if err := c.upsertSource(id, fc); err != nil {
		return err
	}
	if !c.host.HasLayer(id) {
		if err := c.host.AddLayer(LayerSpec{
			ID:      id,
			Type:    LayerTypeLine,
			Source:  id,
			MinZoom: c.cfg.MinZoom,
			MaxZoom: c.cfg.MaxZoom,
			Paint: map[string]any{
				"line-color":   st.Color,
				"line-width":   st.Width,
				"line-opacity": st.Opacity,
			},
		}); err != nil {
			return err
		}
	}
	c.log.Debug().Str("layer", id).Int("features", len(fc.Features)).Msg("layer synced")
	return nil
}

// syncLabels reconciles the label sub-layer. Icon ids are allocated per
// label slot on first use and then reused across updates, replacing the
// bitmap in the host's image cache in place.
func (c *Controller) syncLabels(points []LabelPoint) error {
	id := c.ids.label
	if !c.cfg.ShowLabel {
		return c.remove(id)
	}

	st := sprite.TextStyle{
		FontFamily: c.cfg.LabelStyle.FontFamily,
		FontSize:   c.cfg.LabelStyle.FontSize,
		FontWeight: c.cfg.LabelStyle.FontWeight,
		Color:      c.cfg.LabelStyle.Color,
	}

	fc := geojson.NewFeatureCollection()
	for i, lp := range points {
		text, err := dms.Format(lp.Value, lp.Longitude, c.cfg.Precision)
		if err != nil {
			return err
		}

		var (
			iconID string
			img    *image.RGBA
		)
		if i < len(c.iconIDs) {
			iconID = c.iconIDs[i]
			img, err = c.ras.Render(text, st)
		} else {
			var sp sprite.Sprite
			sp, err = c.ras.Rasterize(text, st)
			iconID, img = sp.ID, sp.Image
			c.iconIDs = append(c.iconIDs, iconID)
		}
		if err != nil {
			return fmt.Errorf("rasterize label %q: %w", text, err)
		}

		if c.host.HasImage(iconID) {
			if err := c.host.UpdateImage(iconID, img); err != nil {
				return err
			}
		} else {
			if err := c.host.AddImage(iconID, img); err != nil {
				return err
			}
		}
		fc.Append(labelFeature(lp, text, iconID))
	}

	if err := c.upsertSource(id, fc); err != nil {
		return err
	}
	if !c.host.HasLayer(id) {
		if err := c.host.AddLayer(LayerSpec{
			ID:      id,
			Type:    LayerTypeSymbol,
			Source:  id,
			MinZoom: c.cfg.MinZoom,
			MaxZoom: c.cfg.MaxZoom,
			Layout: map[string]any{
				"icon-image":              []any{"get", "icon"},
				"icon-anchor":             []any{"get", "anchor"},
				"icon-rotate":             []any{"get", "rotate"},
				"icon-rotation-alignment": "map",
				"icon-allow-overlap":      true,
			},
		}); err != nil {
			return err
		}
	}
	c.log.Debug().Str("layer", id).Int("features", len(fc.Features)).Msg("layer synced")
	return nil
}

func (c *Controller) upsertSource(id string, fc *geojson.FeatureCollection) error {
	if c.host.HasSource(id) {
		return c.host.SetSourceData(id, fc)
	}
	return c.host.AddSource(id, fc)
}

// remove takes one sub-layer off the host, layer before source,
// skipping whatever is already absent.
func (c *Controller) remove(id string) error {
	if c.host.HasLayer(id) {
		if err := c.host.RemoveLayer(id); err != nil {
			return err
		}
	}
	if c.host.HasSource(id) {
		if err := c.host.RemoveSource(id); err != nil {
			return err
		}
	}
	return nil
}
