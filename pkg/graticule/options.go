package graticule

import (
	"github.com/rs/zerolog"

	"github.com/sqlnice/graticule/internal/sprite"
)

// Config is the full configuration a controller operates on. Build one
// through New and its options rather than by hand; styles are merged
// over the package defaults there.
type Config struct {
	Bounds     Bounds
	Interval   Interval
	TickLength float64 // pixels
	Precision  Precision
	MinZoom    float64
	MaxZoom    float64

	ShowGrid   bool
	ShowTick   bool
	ShowBorder bool
	ShowLabel  bool

	GridStyle   LineStyle
	TickStyle   LineStyle
	BorderStyle LineStyle
	LabelStyle  LabelStyle
}

func defaultConfig() Config {
	return Config{
		Interval:    Interval{Value: 10, Unit: UnitDegree},
		TickLength:  8,
		Precision:   PrecisionDegree,
		MinZoom:     0,
		MaxZoom:     24,
		ShowGrid:    true,
		ShowTick:    true,
		ShowBorder:  true,
		ShowLabel:   true,
		GridStyle:   DefaultGridStyle,
		TickStyle:   DefaultTickStyle,
		BorderStyle: DefaultBorderStyle,
		LabelStyle:  DefaultLabelStyle,
	}
}

type Option func(*Controller)

func WithBounds(b Bounds) Option {
	return func(c *Controller) { c.cfg.Bounds = b }
}

func WithInterval(value float64, unit Unit) Option {
	return func(c *Controller) { c.cfg.Interval = Interval{Value: value, Unit: unit} }
}

func WithTickLength(px float64) Option {
	return func(c *Controller) { c.cfg.TickLength = px }
}

func WithPrecision(p Precision) Option {
	return func(c *Controller) { c.cfg.Precision = p }
}

func WithZoomRange(min, max float64) Option {
	return func(c *Controller) {
		c.cfg.MinZoom = min
		c.cfg.MaxZoom = max
	}
}

func WithShowGrid(show bool) Option {
	return func(c *Controller) { c.cfg.ShowGrid = show }
}

func WithShowTick(show bool) Option {
	return func(c *Controller) { c.cfg.ShowTick = show }
}

func WithShowBorder(show bool) Option {
	return func(c *Controller) { c.cfg.ShowBorder = show }
}

func WithShowLabel(show bool) Option {
	return func(c *Controller) { c.cfg.ShowLabel = show }
}

func WithGridStyle(st LineStyle) Option {
	return func(c *Controller) { c.cfg.GridStyle = mergeLineStyle(DefaultGridStyle, st) }
}

func WithTickStyle(st LineStyle) Option {
	return func(c *Controller) { c.cfg.TickStyle = mergeLineStyle(DefaultTickStyle, st) }
}

func WithBorderStyle(st LineStyle) Option {
	return func(c *Controller) { c.cfg.BorderStyle = mergeLineStyle(DefaultBorderStyle, st) }
}

func WithLabelStyle(st LabelStyle) Option {
	return func(c *Controller) { c.cfg.LabelStyle = mergeLabelStyle(DefaultLabelStyle, st) }
}

// WithLogger routes controller sync logging to log. The default is a
// no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithRasterizer shares a label rasterizer between controllers so its
// font faces and bitmap cache are built once per process.
func WithRasterizer(r *sprite.Rasterizer) Option {
	return func(c *Controller) { c.ras = r }
}

// WithDevicePixelRatio sets the ratio label bitmaps are rendered at when
// no shared rasterizer is supplied.
func WithDevicePixelRatio(dpr float64) Option {
	return func(c *Controller) { c.dpr = dpr }
}
