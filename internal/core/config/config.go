package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type CacheCfg struct {
	Enabled    bool
	RedisAddr  string
	OpTimeout  time.Duration
	TTLDefault time.Duration
	TTLOvr     map[string]time.Duration
}

type SessionCfg struct {
	Limit        int
	DebounceWait time.Duration
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	MetricsEnabled bool

	GridInterval     float64
	TickLengthPx     float64
	DevicePixelRatio float64
	LabelFontFile    string

	Cache   CacheCfg
	Session SessionCfg
}

func FromEnv() Config {
	interval := getfloat("GRID_INTERVAL", 10)
	if interval <= 0 {
		interval = 10
	}
	tick := getfloat("TICK_LENGTH_PX", 8)
	if tick < 0 {
		tick = 8
	}
	dpr := getfloat("DEVICE_PIXEL_RATIO", 1)
	if dpr <= 0 {
		dpr = 1
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		MetricsEnabled: getbool("METRICS_ENABLED", true),

		GridInterval:     interval,
		TickLengthPx:     tick,
		DevicePixelRatio: dpr,
		LabelFontFile:    getenv("LABEL_FONT_FILE", ""),

		Cache: CacheCfg{
			Enabled:    getbool("CACHE_ENABLED", false),
			RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),
			OpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			TTLDefault: getduration("CACHE_TTL_DEFAULT", 60*time.Second),
			TTLOvr:     parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		},
		Session: SessionCfg{
			Limit:        getint("SESSION_LIMIT", 128),
			DebounceWait: getduration("DEBOUNCE_WAIT", 200*time.Millisecond),
		},
	}
}

// TTLFor returns the cache TTL for a grid unit, honoring per-unit
// overrides.
func (c CacheCfg) TTLFor(unit string) time.Duration {
	if d, ok := c.TTLOvr[unit]; ok {
		return d
	}
	return c.TTLDefault
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "degree=5m,arcminute=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.SplitSeq(s, ",")
	for p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
