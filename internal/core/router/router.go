// Package router validates overlay requests before they reach the
// service layer.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sqlnice/graticule/internal/core/config"
	"github.com/sqlnice/graticule/internal/core/model"
	"github.com/sqlnice/graticule/internal/core/observability"
	"github.com/sqlnice/graticule/internal/geo"
)

const (
	minDimensionPx = 16
	maxDimensionPx = 8192
	maxDPR         = 8
)

// receives validated overlay requests and serves them
type OverlayHandler interface {
	HandleOverlay(ctx context.Context, w http.ResponseWriter, r *http.Request, q model.OverlayRequest)
}

// validates input query params and calls the handler
func HandleOverlay(logger *slog.Logger, cfg config.Config, h OverlayHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, warn, err := ParseOverlayRequest(r, cfg)
		if warn != "" {
			logger.Warn(warn)
		}
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/overlay", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		h.HandleOverlay(r.Context(), sw, r, q)
		observability.ObserveHTTP(r.Method, "/overlay", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func ParseOverlayRequest(r *http.Request, cfg config.Config) (model.OverlayRequest, string, error) {
	var warn string
	qv := r.URL.Query()

	rawBBox := strings.TrimSpace(qv.Get("bbox"))
	if rawBBox == "" {
		return model.OverlayRequest{}, "", errors.New("missing required parameter: bbox")
	}
	bounds, err := parseBBOX(rawBBox)
	if err != nil {
		return model.OverlayRequest{}, "", fmt.Errorf("invalid bbox: %w", err)
	}

	interval := geo.Interval{Value: cfg.GridInterval, Unit: geo.UnitDegree}
	if raw := strings.TrimSpace(qv.Get("interval")); raw != "" {
		v, err := parseFloat(raw)
		if err != nil {
			return model.OverlayRequest{}, warn, fmt.Errorf("invalid interval: %w", err)
		}
		interval.Value = v
	}
	if raw := strings.TrimSpace(qv.Get("unit")); raw != "" {
		u, err := geo.ParseUnit(raw)
		if err != nil {
			return model.OverlayRequest{}, warn, err
		}
		interval.Unit = u
	}
	if err := interval.Validate(); err != nil {
		return model.OverlayRequest{}, warn, err
	}

	precision := geo.PrecisionDegree
	if raw := strings.TrimSpace(qv.Get("precision")); raw != "" {
		p, err := geo.ParsePrecision(raw)
		if err != nil {
			return model.OverlayRequest{}, warn, err
		}
		precision = p
	}

	width, err := parseDimension(qv.Get("width"), 1024)
	if err != nil {
		return model.OverlayRequest{}, warn, fmt.Errorf("invalid width: %w", err)
	}
	height, err := parseDimension(qv.Get("height"), 768)
	if err != nil {
		return model.OverlayRequest{}, warn, fmt.Errorf("invalid height: %w", err)
	}

	bearing := 0.0
	if raw := strings.TrimSpace(qv.Get("bearing")); raw != "" {
		bearing, err = parseFloat(raw)
		if err != nil {
			return model.OverlayRequest{}, warn, fmt.Errorf("invalid bearing: %w", err)
		}
	}

	dpr := cfg.DevicePixelRatio
	if raw := strings.TrimSpace(qv.Get("dpr")); raw != "" {
		dpr, err = parseFloat(raw)
		if err != nil {
			return model.OverlayRequest{}, warn, fmt.Errorf("invalid dpr: %w", err)
		}
		if dpr <= 0 || dpr > maxDPR {
			return model.OverlayRequest{}, warn, fmt.Errorf("dpr must be in (0,%d]", maxDPR)
		}
	}

	layers, err := parseLayers(qv.Get("layers"))
	if err != nil {
		return model.OverlayRequest{}, warn, err
	}

	format, err := negotiateFormat(qv.Get("format"), r.Header.Get("Accept"))
	if err != nil {
		return model.OverlayRequest{}, warn, err
	}
	if strings.TrimSpace(qv.Get("format")) != "" &&
		strings.Contains(r.Header.Get("Accept"), "image/png") && format != model.FormatPNG {
		warn = "format parameter overrides Accept: image/png"
	}

	return model.OverlayRequest{
		Bounds:    bounds,
		Interval:  interval,
		Precision: precision,
		Width:     width,
		Height:    height,
		Bearing:   bearing,
		DPR:       dpr,
		Layers:    layers,
		Format:    format,
	}, warn, nil
}

// parseBBOX accepts west,south,east,north with an optional EPSG:4326
// suffix.
func parseBBOX(bboxParam string) (geo.Bounds, error) {
	parts := strings.Split(bboxParam, ",")
	switch len(parts) {
	case 4:
	case 5:
		srid := strings.ToUpper(strings.TrimSpace(parts[4]))
		if srid != "EPSG:4326" {
			return geo.Bounds{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
	default:
		return geo.Bounds{}, errors.New("expected west,south,east,north[,EPSG:4326]")
	}

	west, err := parseFloat(parts[0])
	if err != nil {
		return geo.Bounds{}, fmt.Errorf("west: %w", err)
	}
	south, err := parseFloat(parts[1])
	if err != nil {
		return geo.Bounds{}, fmt.Errorf("south: %w", err)
	}
	east, err := parseFloat(parts[2])
	if err != nil {
		return geo.Bounds{}, fmt.Errorf("east: %w", err)
	}
	north, err := parseFloat(parts[3])
	if err != nil {
		return geo.Bounds{}, fmt.Errorf("north: %w", err)
	}

	b := geo.Bounds{West: west, South: south, East: east, North: north}
	if err := b.Validate(); err != nil {
		return geo.Bounds{}, err
	}
	return b, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func parseDimension(v string, def int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse int: %w", err)
	}
	if n < minDimensionPx || n > maxDimensionPx {
		return 0, fmt.Errorf("must be in [%d,%d]", minDimensionPx, maxDimensionPx)
	}
	return n, nil
}

// parseLayers validates the layer subset; empty means all layers.
func parseLayers(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []string
	seen := map[string]bool{}
	for part := range strings.SplitSeq(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		switch name {
		case "grid", "tick", "border", "label":
		default:
			return nil, fmt.Errorf("unknown layer %q (want grid, tick, border or label)", name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("layers parameter must name at least one layer")
	}
	return out, nil
}

// negotiateFormat prefers the explicit format param, then the Accept
// header, then geojson.
func negotiateFormat(param, accept string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(param)) {
	case "":
	case "geojson", "json":
		return model.FormatGeoJSON, nil
	case "png":
		return model.FormatPNG, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want geojson or png)", param)
	}
	if strings.Contains(accept, "image/png") {
		return model.FormatPNG, nil
	}
	return model.FormatGeoJSON, nil
}
