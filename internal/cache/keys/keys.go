// Package keys builds deterministic redis keys for cached overlay
// payloads: a readable prefix naming the format, unit and interval,
// plus an xxhash of the canonical parameter string.
package keys

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/sqlnice/graticule/internal/geo"
)

// OverlayParams is everything that shapes an overlay payload. Two
// requests with equal params always map to the same key.
type OverlayParams struct {
	Bounds    geo.Bounds
	Interval  geo.Interval
	Precision geo.Precision
	Width     int
	Height    int
	Bearing   float64
	DPR       float64
	Layers    []string
	Format    string
}

// Overlay returns the cache key for p.
func Overlay(p OverlayParams) string {
	return fmt.Sprintf("overlay:%s:%s:%s:%016x",
		sanitize(p.Format),
		sanitize(string(p.Interval.Unit)),
		sanitize(fmtFloat(p.Interval.Value)),
		xxhash.Sum64String(p.canonical()),
	)
}

// canonical serializes params in a fixed field order with shortest
// float formatting and sorted layer names.
func (p OverlayParams) canonical() string {
	layers := slices.Clone(p.Layers)
	slices.Sort(layers)

	var b strings.Builder
	b.WriteString("bbox=")
	b.WriteString(fmtFloat(p.Bounds.West))
	b.WriteByte(',')
	b.WriteString(fmtFloat(p.Bounds.South))
	b.WriteByte(',')
	b.WriteString(fmtFloat(p.Bounds.East))
	b.WriteByte(',')
	b.WriteString(fmtFloat(p.Bounds.North))
	b.WriteString(";interval=")
	b.WriteString(fmtFloat(p.Interval.Value))
	b.WriteString(";unit=")
	b.WriteString(string(p.Interval.Unit))
	b.WriteString(";precision=")
	b.WriteString(string(p.Precision))
	b.WriteString(";size=")
	b.WriteString(strconv.Itoa(p.Width))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(p.Height))
	b.WriteString(";bearing=")
	b.WriteString(fmtFloat(p.Bearing))
	b.WriteString(";dpr=")
	b.WriteString(fmtFloat(p.DPR))
	b.WriteString(";layers=")
	b.WriteString(strings.Join(layers, ","))
	b.WriteString(";format=")
	b.WriteString(p.Format)
	return b.String()
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// sanitize keeps key segments redis-safe: whitespace becomes '_', any
// rune outside [a-zA-Z0-9:_.-] becomes '-', and runs of replacements
// collapse to one.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
