package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type ResolveEventsCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	Queue   int
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	EBirdBaseURL  string
	EBirdAPIKey   string
	EBirdRPS      float64
	EBirdBurst    int
	RemoteTimeout time.Duration

	StoreDriver     string
	SQLitePath      string
	PostgresDSN     string
	RedisAddr       string
	H3ResMin        int
	H3ResMax        int
	H3MaxCoverCells int
	StoreOpTimeout  time.Duration
	CacheMaxAge     time.Duration
	DefaultCountry  string
	DebounceDelay   time.Duration
	SessionTTL      time.Duration
	SessionMax      int
	OverviewMaxZoom float64
	DetailedMinZoom float64
	Invalidation    InvalidationCfg
	ResolveEvents   ResolveEventsCfg
	Metrics         MetricsCfg
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

func FromEnv() Config {
	minRes := getint("H3_RES_MIN", 2)
	maxRes := getint("H3_RES_MAX", 4)
	if minRes < 0 {
		minRes = 0
	}
	if maxRes > 15 {
		maxRes = 15
	}
	if minRes > maxRes {
		minRes = maxRes
	}

	overviewMax := getfloat("OVERVIEW_MAX_ZOOM", 7.5)
	detailedMin := getfloat("DETAILED_MIN_ZOOM", 9.5)
	if detailedMin < overviewMax {
		overviewMax, detailedMin = 7.5, 9.5
	}

	driver := strings.ToLower(strings.TrimSpace(getenv("STORE_DRIVER", DriverSQLite)))
	switch driver {
	case DriverSQLite, DriverPostgres, DriverRedis:
	default:
		driver = DriverSQLite
	}

	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		EBirdBaseURL:  getenv("EBIRD_BASE_URL", "https://api.ebird.org/v2"),
		EBirdAPIKey:   getenv("EBIRD_API_KEY", ""),
		EBirdRPS:      getfloat("EBIRD_RPS", 5),
		EBirdBurst:    getint("EBIRD_BURST", 5),
		RemoteTimeout: getduration("REMOTE_TIMEOUT", 15*time.Second),

		StoreDriver:     driver,
		SQLitePath:      getenv("SQLITE_PATH", "./data/hotspots.db"),
		PostgresDSN:     getenv("POSTGRES_DSN", "postgres://localhost:5432/hotspots?sslmode=disable"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		H3ResMin:        minRes,
		H3ResMax:        maxRes,
		H3MaxCoverCells: getint("H3_MAX_COVER_CELLS", 4096),
		StoreOpTimeout:  getduration("STORE_OP_TIMEOUT", 2*time.Second),
		CacheMaxAge:     getduration("CACHE_MAX_AGE", 24*time.Hour),
		DefaultCountry:  strings.ToUpper(strings.TrimSpace(getenv("DEFAULT_COUNTRY", ""))),
		DebounceDelay:   getduration("DEBOUNCE_DELAY", 700*time.Millisecond),
		SessionTTL:      getduration("SESSION_TTL", 30*time.Minute),
		SessionMax:      getint("SESSION_MAX", 1024),
		OverviewMaxZoom: overviewMax,
		DetailedMinZoom: detailedMin,
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "hotspot-invalidation"),
			Brokers: brokers,
			GroupID: getenv("KAFKA_GROUP_ID", "hotspot-cache"),
		},
		ResolveEvents: ResolveEventsCfg{
			Enabled: getbool("RESOLVE_EVENTS_ENABLED", false),
			Topic:   getenv("RESOLVE_EVENTS_TOPIC", "hotspot-resolves"),
			Brokers: brokers,
			Queue:   getint("RESOLVE_EVENTS_QUEUE", 1024),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// H3Resolutions lists the configured index resolutions, coarsest first.
func (c Config) H3Resolutions() []int {
	out := make([]int, 0, c.H3ResMax-c.H3ResMin+1)
	for r := c.H3ResMin; r <= c.H3ResMax; r++ {
		out = append(out, r)
	}
	return out
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

// SplitCSV splits a comma separated broker list, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
