// graticule-loadgen drives a running overlay server with a Zipf-skewed
// pool of viewports and writes per-request samples plus a latency and
// cache-hit summary, for sizing the payload cache and the sprite pool.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sqlnice/graticule/internal/core/httpclient"
)

type Config struct {
	TargetURL       string
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	ViewCount       int
	Interval        float64
	Unit            string
	Precision       string
	PNGShare        float64
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
	TimestampFormat string
	CenterFile      string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090/overlay", "Overlay server /overlay URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.ViewCount, "views", 128, "Distinct viewports in pool")
	flag.Float64Var(&cfg.Interval, "interval", 5, "Grid interval value")
	flag.StringVar(&cfg.Unit, "unit", "degree", "Grid interval unit: degree|arcminute")
	flag.StringVar(&cfg.Precision, "precision", "degree", "Label precision: degree|minute|second")
	flag.Float64Var(&cfg.PNGShare, "png-share", 0.2, "Fraction of requests asking for PNG output")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/overlay", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Append timestamp to output prefix")
	flag.StringVar(&cfg.TimestampFormat, "ts-format", "iso", "Timestamp format: iso|unix|none")
	flag.StringVar(&cfg.CenterFile, "centers", "", "Optional view center CSV file (id,lon,lat)")
	flag.Parse()
	return cfg
}

// View is one synthetic client viewport: a bbox plus render parameters.
type View struct {
	W, S, E, N float64
	Width      int
	Height     int
	Bearing    float64
}

// BBoxString returns the bbox in "west,south,east,north,EPSG:4326" format.
func (v View) BBoxString() string {
	return fmt.Sprintf("%.5f,%.5f,%.5f,%.5f,EPSG:4326", v.W, v.S, v.E, v.N)
}

// creates a mix of "hot" and "cold" viewports for testing. Hot views
// cluster around a handful of city centers so the Zipf head lands on
// a small set of cacheable requests.
func makeViews(count int, r *rand.Rand) []View {
	centers := [][2]float64{
		{121.47, 31.23},  // Shanghai
		{-74.01, 40.71},  // New York
		{2.35, 48.86},    // Paris
		{151.21, -33.87}, // Sydney
	}
	bearings := []float64{0, 0, 0, 15, 30, 45}
	sizes := [][2]int{{800, 600}, {1024, 768}, {1280, 720}}

	views := make([]View, 0, count)

	hotCount := int(math.Max(8, float64(count/4)))
	for i := range hotCount {
		c := centers[i%len(centers)]
		dx, dy := (r.Float64()-0.5)*4, (r.Float64()-0.5)*4
		w, h := 6+r.Float64()*6, 4+r.Float64()*4
		lon, lat := c[0]+dx, c[1]+dy
		sz := sizes[i%len(sizes)]
		views = append(views, View{
			W: lon - w/2, S: lat - h/2, E: lon + w/2, N: lat + h/2,
			Width: sz[0], Height: sz[1], Bearing: bearings[i%len(bearings)],
		})
	}

	for len(views) < count {
		lon := -170 + r.Float64()*340
		lat := -70 + r.Float64()*140
		w, h := 4+r.Float64()*16, 3+r.Float64()*12
		sz := sizes[len(views)%len(sizes)]
		views = append(views, View{
			W: lon - w/2, S: lat - h/2, E: lon + w/2, N: lat + h/2,
			Width: sz[0], Height: sz[1], Bearing: bearings[len(views)%len(bearings)],
		})
	}
	return views
}

type Center struct {
	ID  string
	Lon float64
	Lat float64
}

func loadCentersCSV(path string) ([]Center, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open centers: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	colIdx := map[string]int{}
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	idIdx, okID := colIdx["id"]
	lonIdx, okLon := colIdx["lon"]
	latIdx, okLat := colIdx["lat"]
	if !okID || !okLon || !okLat {
		return nil, fmt.Errorf("center csv: expected columns id,lon,lat; got %v", header)
	}

	var out []Center
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		id := strings.TrimSpace(rec[idIdx])
		lonStr := strings.TrimSpace(rec[lonIdx])
		latStr := strings.TrimSpace(rec[latIdx])
		if id == "" || lonStr == "" || latStr == "" {
			continue
		}

		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lon %q: %w", lonStr, err)
		}
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lat %q: %w", latStr, err)
		}
		out = append(out, Center{ID: id, Lon: lon, Lat: lat})
	}
	return out, nil
}

func makeViewsFromCenters(centers []Center, count int) []View {
	if len(centers) == 0 || count <= 0 {
		return nil
	}
	if count > len(centers) {
		count = len(centers)
	}

	const halfW, halfH = 5.0, 3.5 // degrees

	views := make([]View, 0, count)
	for i := range count {
		c := centers[i%len(centers)]
		views = append(views, View{
			W: c.Lon - halfW, S: c.Lat - halfH, E: c.Lon + halfW, N: c.Lat + halfH,
			Width: 1024, Height: 768,
		})
	}
	return views
}

// request result (one sample per request)
type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	HitClass  string
	ErrorMsg  string
	ViewIndex int
	BBoxStr   string
	Format    string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	CacheHits     int64     `json:"cache_hits"`
	HitRate       float64   `json:"hit_rate"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	Views         int       `json:"views"`
	Interval      float64   `json:"interval"`
	Unit          string    `json:"unit"`
	PNGShare      float64   `json:"png_share"`
	TargetURL     string    `json:"target"`
}

type aggregatedResult struct {
	total   int64
	success int64
	errors  int64
	hits    int64
	latMs   []float64
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}

	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		switch strings.ToLower(cfg.TimestampFormat) {
		case "none":
		case "unix":
			prefix = fmt.Sprintf("%s_%d", prefix, time.Now().Unix())
		default: // "iso"
			prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
		}
	}

	// precompute random workload
	seed := time.Now().UnixNano()
	r := rand.New(rand.NewSource(seed))

	var views []View
	if strings.TrimSpace(cfg.CenterFile) != "" {
		centers, err := loadCentersCSV(cfg.CenterFile)
		if err != nil {
			log.Printf("WARN: failed to load centers from %q: %v; falling back to synthetic views", cfg.CenterFile, err)
		} else {
			views = makeViewsFromCenters(centers, cfg.ViewCount)
			log.Printf("using %d center-driven views from %s", len(views), cfg.CenterFile)
		}
	}
	if len(views) == 0 {
		views = makeViews(cfg.ViewCount, r)
		log.Printf("using %d synthetic views", len(views))
	}
	if len(views) == 0 {
		log.Fatalf("no views generated")
	}

	imax := uint64(len(views)) - 1

	baseURL, err := url.Parse(cfg.TargetURL)
	if err != nil {
		log.Fatalf("target url: %v", err)
	}

	httpClient := httpclient.New(cfg.RequestTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Printf("open csv: %v", err)
		return
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	// Collects results asynchronously
	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan aggregatedResult, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "hit_class", "error", "view_idx", "bbox", "format"})
		var total, successCount, errorCount, hitCount int64
		latencies := make([]float64, 0, 1<<20)
		for s := range samplesChan {
			total++
			if s.ErrorMsg == "" && s.Status >= 200 && s.Status < 300 {
				successCount++
				latencies = append(latencies, float64(s.Latency.Microseconds())/1000.0)
				if s.HitClass == "hit" {
					hitCount++
				}
			} else {
				errorCount++
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				fmt.Sprintf("%d", s.Status),
				s.HitClass,
				s.ErrorMsg,
				fmt.Sprintf("%d", s.ViewIndex),
				s.BBoxStr,
				s.Format,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		resultsChan <- aggregatedResult{total: total, success: successCount, errors: errorCount, hits: hitCount, latMs: latencies}
	}()

	startTime := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) views=%d interval=%g%s png=%.0f%%",
		cfg.TargetURL, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, cfg.ViewCount, cfg.Interval, cfg.Unit, cfg.PNGShare*100)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)

	for workerID := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()

			rWorker := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipfDist := rand.NewZipf(rWorker, cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				v := zipfDist.Uint64()
				if v > uint64(math.MaxInt) {
					continue
				}
				idx := int(v)
				if idx >= len(views) {
					continue
				}
				view := views[idx]

				format := "geojson"
				if rWorker.Float64() < cfg.PNGShare {
					format = "png"
				}

				u := *baseURL
				q := u.Query()
				q.Set("bbox", view.BBoxString())
				q.Set("interval", strconv.FormatFloat(cfg.Interval, 'g', -1, 64))
				q.Set("unit", cfg.Unit)
				q.Set("precision", cfg.Precision)
				q.Set("width", strconv.Itoa(view.Width))
				q.Set("height", strconv.Itoa(view.Height))
				if view.Bearing != 0 {
					q.Set("bearing", strconv.FormatFloat(view.Bearing, 'g', -1, 64))
				}
				q.Set("format", format)
				u.RawQuery = q.Encode()

				startReq := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
				resp, err := httpClient.Do(req)
				latency := time.Since(startReq)

				result := sample{
					Timestamp: startReq,
					Latency:   latency,
					ViewIndex: idx,
					BBoxStr:   view.BBoxString(),
					Format:    format,
				}

				if err != nil {
					result.ErrorMsg = err.Error()
				} else {
					result.Status = resp.StatusCode
					result.HitClass = resp.Header.Get("X-Hit-Class")
					_, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
					if resp.StatusCode < 200 || resp.StatusCode >= 300 {
						result.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
					}
				}

				select {
				case samplesChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	// close samples channel
	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	aggResult := <-resultsChan
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(aggResult.latMs)
	p50 := percentile(aggResult.latMs, 50)
	p95 := percentile(aggResult.latMs, 95)
	p99 := percentile(aggResult.latMs, 99)

	hitRate := 0.0
	if aggResult.success > 0 {
		hitRate = float64(aggResult.hits) / float64(aggResult.success)
	}

	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: aggResult.total,
		SuccessCount:  aggResult.success,
		ErrorCount:    aggResult.errors,
		CacheHits:     aggResult.hits,
		HitRate:       hitRate,
		ThroughputRPS: float64(aggResult.total) / elapsed,
		P50Ms:         p50,
		P95Ms:         p95,
		P99Ms:         p99,
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Views:         cfg.ViewCount,
		Interval:      cfg.Interval,
		Unit:          cfg.Unit,
		PNGShare:      cfg.PNGShare,
		TargetURL:     cfg.TargetURL,
	}

	jsonFile, err := os.Create(filepath.Clean(jsonPath))
	if err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = jsonFile.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d hits=%d (%.1f%%) thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		aggResult.total, aggResult.success, aggResult.errors, aggResult.hits, hitRate*100, runSummary.ThroughputRPS, p50, p95, p99)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
