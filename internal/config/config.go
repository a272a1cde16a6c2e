// Package config holds server settings read from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StoreSQLite = "sqlite"
	StoreS3     = "s3"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Addr   string
	DBPath string

	Store      string
	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string

	WSPrefix         string
	ReservedSegments []string
	AllowedOrigins   []string

	FlushInterval time.Duration
	FlushTimeout  time.Duration
	RoomGrace     time.Duration
	PresenceTTL   time.Duration
	PresenceSweep time.Duration

	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageSize    int64

	LogLevel  string
	LogFormat string
}

func Default() Config {
	return Config{
		Addr:              ":8080",
		DBPath:            "./data/lattice.db",
		Store:             StoreSQLite,
		S3Prefix:          "pages/",
		S3Region:          "us-east-1",
		WSPrefix:          "/ws/yjs",
		ReservedSegments:  []string{"yjs", "ws", "collaborative"},
		FlushInterval:     10 * time.Second,
		FlushTimeout:      5 * time.Second,
		RoomGrace:         5 * time.Minute,
		PresenceTTL:       5 * time.Minute,
		PresenceSweep:     time.Minute,
		MessagesPerSecond: 100,
		MessageBurst:      200,
		MaxMessageSize:    1 << 20,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// FromEnv overlays variables found through lookup onto Default. Pass
// os.LookupEnv in production.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Addr = ":" + port
	}
	str("LATTICE_ADDR", &cfg.Addr)
	str("LATTICE_DB_PATH", &cfg.DBPath)
	str("LATTICE_STORE", &cfg.Store)
	str("LATTICE_S3_BUCKET", &cfg.S3Bucket)
	str("LATTICE_S3_PREFIX", &cfg.S3Prefix)
	str("LATTICE_S3_REGION", &cfg.S3Region)
	str("LATTICE_S3_ENDPOINT", &cfg.S3Endpoint)
	str("LATTICE_WS_PREFIX", &cfg.WSPrefix)
	list("LATTICE_RESERVED_SEGMENTS", &cfg.ReservedSegments)
	list("LATTICE_ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	dur("LATTICE_FLUSH_INTERVAL", &cfg.FlushInterval)
	dur("LATTICE_FLUSH_TIMEOUT", &cfg.FlushTimeout)
	dur("LATTICE_ROOM_GRACE", &cfg.RoomGrace)
	dur("LATTICE_PRESENCE_TTL", &cfg.PresenceTTL)
	dur("LATTICE_PRESENCE_SWEEP", &cfg.PresenceSweep)
	str("LATTICE_LOG_LEVEL", &cfg.LogLevel)
	str("LATTICE_LOG_FORMAT", &cfg.LogFormat)

	if v, ok := lookup("LATTICE_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LATTICE_RATE: %w", err))
		} else {
			cfg.MessagesPerSecond = f
		}
	}
	if v, ok := lookup("LATTICE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LATTICE_BURST: %w", err))
		} else {
			cfg.MessageBurst = n
		}
	}
	if v, ok := lookup("LATTICE_MAX_MESSAGE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LATTICE_MAX_MESSAGE: %w", err))
		} else {
			cfg.MaxMessageSize = n
		}
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db path is required for the sqlite store"))
		}
	case StoreS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required for the s3 store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if !strings.HasPrefix(c.WSPrefix, "/") {
		errs = append(errs, fmt.Errorf("ws prefix %q must start with /", c.WSPrefix))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush interval must be positive"))
	}
	if c.FlushTimeout < 0 || c.RoomGrace < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.PresenceTTL <= 0 || c.PresenceSweep <= 0 {
		errs = append(errs, errors.New("presence ttl and sweep must be positive"))
	}
	if c.MessagesPerSecond <= 0 || c.MessageBurst <= 0 {
		errs = append(errs, errors.New("rate and burst must be positive"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
