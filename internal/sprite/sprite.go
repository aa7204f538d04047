// Package sprite rasterizes coordinate label text into icon bitmaps for
// the host renderer's image cache.
package sprite

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	// minSurfaceSide keeps the offscreen surface large enough for short
	// labels; longer text grows it by one font-size per rune.
	minSurfaceSide = 256

	defaultFontSize = 12
	cacheSize       = 512
)

// one canvas unit is one css pixel; faces are created in points
const ptPerPixel = 72.0 / 25.4

var iconSeq atomic.Uint64

// NextID returns a fresh process-unique icon id. The counter is never
// reset, so ids stay unique across controller attach cycles.
func NextID() string {
	return fmt.Sprintf("graticule-icon-%d", iconSeq.Add(1))
}

// TextStyle describes how label text is drawn. Zero fields fall back to
// a 12px regular black sans face.
type TextStyle struct {
	FontFamily string
	FontSize   float64 // css pixels
	FontWeight string  // "normal" or "bold"
	Color      string  // css hex
}

func (st TextStyle) withDefaults() TextStyle {
	if st.FontFamily == "" {
		st.FontFamily = "sans-serif"
	}
	if st.FontSize <= 0 {
		st.FontSize = defaultFontSize
	}
	if st.FontWeight == "" {
		st.FontWeight = "normal"
	}
	if st.Color == "" {
		st.Color = "#000000"
	}
	return st
}

// Sprite pairs a rendered label bitmap with its registered icon id.
type Sprite struct {
	ID    string
	Image *image.RGBA
}

// Option configures a Rasterizer at construction.
type Option func(*settings)

type settings struct {
	fontFile string
}

// WithFontFile replaces the embedded Go fonts with a TTF or OTF file.
// The file backs both the regular and bold weights. An empty path keeps
// the embedded fonts.
func WithFontFile(path string) Option {
	return func(s *settings) {
		if path != "" {
			s.fontFile = path
		}
	}
}

// Rasterizer renders label text offscreen at a fixed device pixel ratio.
// Rendered bitmaps are cached by content, so re-rasterizing the same
// label on every view change stays cheap.
type Rasterizer struct {
	dpr float64

	mu     sync.Mutex
	family *canvas.FontFamily

	cache  *lru.Cache[string, *image.RGBA]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New builds a rasterizer for the given device pixel ratio (values <= 0
// mean 1). The embedded Go fonts back every requested font family unless
// WithFontFile points at a replacement.
func New(dpr float64, opts ...Option) (*Rasterizer, error) {
	if dpr <= 0 {
		dpr = 1
	}
	var st settings
	for _, opt := range opts {
		opt(&st)
	}
	family, err := loadFamily(st.fontFile)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *image.RGBA](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("sprite cache: %w", err)
	}
	return &Rasterizer{dpr: dpr, family: family, cache: cache}, nil
}

func loadFamily(fontFile string) (*canvas.FontFamily, error) {
	family := canvas.NewFontFamily("go")
	if fontFile != "" {
		data, err := os.ReadFile(fontFile)
		if err != nil {
			return nil, fmt.Errorf("read font file: %w", err)
		}
		if err := family.LoadFont(data, 0, canvas.FontRegular); err != nil {
			return nil, fmt.Errorf("load font file %s: %w", fontFile, err)
		}
		if err := family.LoadFont(data, 0, canvas.FontBold); err != nil {
			return nil, fmt.Errorf("load font file %s: %w", fontFile, err)
		}
		return family, nil
	}
	if err := family.LoadFont(goregular.TTF, 0, canvas.FontRegular); err != nil {
		return nil, fmt.Errorf("load regular font: %w", err)
	}
	if err := family.LoadFont(gobold.TTF, 0, canvas.FontBold); err != nil {
		return nil, fmt.Errorf("load bold font: %w", err)
	}
	return family, nil
}

// DPR reports the device pixel ratio the rasterizer renders at.
func (r *Rasterizer) DPR() float64 { return r.dpr }

// Stats reports cumulative cache hits and misses since construction.
func (r *Rasterizer) Stats() (hits, misses uint64) {
	return r.hits.Load(), r.misses.Load()
}

// Rasterize renders text and binds the bitmap to a fresh icon id. Each
// call allocates a new id even for identical text; callers that refresh
// a label in place should keep the old id and use Render instead.
func (r *Rasterizer) Rasterize(text string, st TextStyle) (Sprite, error) {
	img, err := r.Render(text, st)
	if err != nil {
		return Sprite{}, err
	}
	return Sprite{ID: NextID(), Image: img}, nil
}

// Render rasterizes text with st and returns the bitmap cropped to the
// measured text width and the font-size height, both scaled by the
// device pixel ratio. The text baseline sits at the face ascent from the
// top-left corner.
func (r *Rasterizer) Render(text string, st TextStyle) (*image.RGBA, error) {
	st = st.withDefaults()

	key := renderKey(text, st, r.dpr)
	if img, ok := r.cache.Get(key); ok {
		r.hits.Add(1)
		return img, nil
	}
	r.misses.Add(1)

	r.mu.Lock()
	face := r.family.Face(st.FontSize*ptPerPixel, ParseColor(st.Color), fontStyle(st.FontWeight), canvas.FontNormal)
	r.mu.Unlock()

	side := math.Max(minSurfaceSide, float64(utf8.RuneCountInString(text))*st.FontSize)
	c := canvas.New(side, side)
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV)
	ctx.DrawText(0, face.Metrics().Ascent, canvas.NewTextLine(face, text, canvas.Left))

	full := rasterizer.Draw(c, canvas.DPMM(r.dpr), canvas.DefaultColorSpace)

	w := int(math.Ceil(face.TextWidth(text) * r.dpr))
	h := int(math.Ceil(st.FontSize * r.dpr))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if max := full.Bounds().Dx(); w > max {
		w = max
	}
	if max := full.Bounds().Dy(); h > max {
		h = max
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), full, full.Bounds().Min, draw.Src)

	r.cache.Add(key, img)
	return img, nil
}

func fontStyle(weight string) canvas.FontStyle {
	switch strings.ToLower(weight) {
	case "bold", "600", "700", "800", "900":
		return canvas.FontBold
	default:
		return canvas.FontRegular
	}
}

func renderKey(text string, st TextStyle, dpr float64) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteByte('|')
	b.WriteString(st.FontFamily)
	b.WriteByte('|')
	b.WriteString(st.FontWeight)
	b.WriteByte('|')
	b.WriteString(st.Color)
	fmt.Fprintf(&b, "|%g|%g", st.FontSize, dpr)
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

var hexColor = regexp.MustCompile(`^#?(?:[0-9a-fA-F]{3,4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// ParseColor interprets a css hex color, falling back to opaque black on
// anything it cannot parse.
func ParseColor(s string) color.RGBA {
	s = strings.TrimSpace(s)
	if hexColor.MatchString(s) {
		if !strings.HasPrefix(s, "#") {
			s = "#" + s
		}
		return canvas.Hex(s)
	}
	return color.RGBA{A: 255}
}
