package graticule

// LineStyle is the stroke style for the grid, tick and border layers.
// Zero fields fall back to the layer's defaults when merged.
type LineStyle struct {
	Color   string  // css hex
	Width   float64 // pixels
	Opacity float64 // 0..1
}

// LabelStyle is the text style for coordinate labels.
type LabelStyle struct {
	FontFamily string
	FontSize   float64 // css pixels
	FontWeight string  // "normal" or "bold"
	Color      string  // css hex
}

// Default styles applied underneath user overrides.
var (
	DefaultGridStyle   = LineStyle{Color: "#787878", Width: 1, Opacity: 0.6}
	DefaultTickStyle   = LineStyle{Color: "#323232", Width: 2, Opacity: 1}
	DefaultBorderStyle = LineStyle{Color: "#323232", Width: 2, Opacity: 1}
	DefaultLabelStyle  = LabelStyle{FontFamily: "sans-serif", FontSize: 12, FontWeight: "normal", Color: "#323232"}
)

// mergeLineStyle overlays user fields on base, user values winning.
// A zero value means the field was not supplied.
func mergeLineStyle(base, user LineStyle) LineStyle {
	out := base
	if user.Color != "" {
		out.Color = user.Color
	}
	if user.Width > 0 {
		out.Width = user.Width
	}
	if user.Opacity > 0 {
		out.Opacity = user.Opacity
	}
	return out
}

func mergeLabelStyle(base, user LabelStyle) LabelStyle {
	out := base
	if user.FontFamily != "" {
		out.FontFamily = user.FontFamily
	}
	if user.FontSize > 0 {
		out.FontSize = user.FontSize
	}
	if user.FontWeight != "" {
		out.FontWeight = user.FontWeight
	}
	if user.Color != "" {
		out.Color = user.Color
	}
	return out
}
