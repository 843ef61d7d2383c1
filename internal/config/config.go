// Package config loads the YAML configuration shared by the CLI and the
// HTTP service. Values come from defaults, then the file, then RP_*
// environment variables; command-line flags are applied last by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/logger"
	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/tilestore"
)

// Config is the root of the configuration file.
type Config struct {
	Store    StoreConfig     `yaml:"store"`
	Log      LogConfig       `yaml:"log"`
	Server   ServerConfig    `yaml:"server"`
	Kafka    KafkaConfig     `yaml:"kafka"`
	Writer   WriterConfig    `yaml:"writer"`
	Pyramids []PyramidConfig `yaml:"pyramids,omitempty"`
}

// StoreConfig selects the tile store backend.
type StoreConfig struct {
	// Backend is memory, disk or redis.
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
	// Compression is none, lz4 or zstd.
	Compression string `yaml:"compression,omitempty"`
	SampleBits  int    `yaml:"sample_bits,omitempty"`
	// MemoryLimit caps pending disk tiles in bytes; 0 derives it from RAM.
	MemoryLimit int64 `yaml:"memory_limit,omitempty"`
	CacheSize   int   `yaml:"cache_size,omitempty"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxPixels bounds width*height of a single read request.
	MaxPixels int `yaml:"max_pixels"`
}

// KafkaConfig enables tile notifications when Brokers is non-empty.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers,omitempty"`
	Topic     string   `yaml:"topic"`
	QueueSize int      `yaml:"queue_size"`
}

type WriterConfig struct {
	Interpolation string `yaml:"interpolation"`
	Concurrency   int    `yaml:"concurrency"`
}

// PyramidConfig declares a pyramid for the init command.
type PyramidConfig struct {
	ID      string                     `yaml:"id"`
	CRS     string                     `yaml:"crs"`
	Bands   []coverage.SampleDimension `yaml:"bands"`
	Mosaics []MosaicConfig             `yaml:"mosaics"`
}

// MosaicConfig describes one resolution level. Bounds is
// [minX, minY, maxX, maxY]; an empty Bounds inherits the pyramid bounds of
// the first mosaic that has them.
type MosaicConfig struct {
	ID         string    `yaml:"id"`
	Bounds     []float64 `yaml:"bounds,omitempty"`
	Scale      float64   `yaml:"scale"`
	TileWidth  int       `yaml:"tile_width"`
	TileHeight int       `yaml:"tile_height"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:     "memory",
			Path:        "tiles",
			RedisAddr:   "localhost:6379",
			Compression: "zstd",
			SampleBits:  32,
			CacheSize:   tilestore.DefaultCacheSize,
		},
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxPixels:       4096 * 4096,
		},
		Kafka:  KafkaConfig{Topic: "rasterpyramid-tiles", QueueSize: 1024},
		Writer: WriterConfig{Interpolation: "bilinear", Concurrency: 1},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from RP_* environment variables.
func (c *Config) ApplyEnv() {
	c.Store.Backend = getenv("RP_STORE", c.Store.Backend)
	c.Store.Path = getenv("RP_STORE_PATH", c.Store.Path)
	c.Store.RedisAddr = getenv("RP_REDIS_ADDR", c.Store.RedisAddr)
	c.Store.Compression = getenv("RP_COMPRESSION", c.Store.Compression)
	c.Store.CacheSize = getint("RP_CACHE_SIZE", c.Store.CacheSize)
	c.Log.Level = getenv("RP_LOG_LEVEL", c.Log.Level)
	c.Log.Console = getbool("RP_LOG_CONSOLE", c.Log.Console)
	c.Server.Addr = getenv("RP_ADDR", c.Server.Addr)
	if v := getenv("RP_KAFKA_BROKERS", ""); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	c.Kafka.Topic = getenv("RP_KAFKA_TOPIC", c.Kafka.Topic)
}

// Validate checks settings that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory", "disk", "redis":
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Backend == "disk" && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path: required for the disk backend"))
	}
	if _, err := tilestore.ParseCompression(c.Store.Compression); err != nil {
		errs = append(errs, fmt.Errorf("store.compression: %w", err))
	}
	if c.Store.SampleBits != 0 && c.Store.SampleBits != 32 && c.Store.SampleBits != 64 {
		errs = append(errs, fmt.Errorf("store.sample_bits: %d is not 32 or 64", c.Store.SampleBits))
	}
	if c.Writer.Concurrency < 0 {
		errs = append(errs, errors.New("writer.concurrency: must not be negative"))
	}
	seen := make(map[string]bool)
	for i, p := range c.Pyramids {
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("pyramids[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if _, err := p.Pyramid(); err != nil {
			errs = append(errs, fmt.Errorf("pyramids[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// StoreOptions converts the store section for tilestore.Open.
func (c Config) StoreOptions(log zerolog.Logger, m *metrics.Provider) tilestore.Options {
	return tilestore.Options{
		Backend:     c.Store.Backend,
		Path:        c.Store.Path,
		RedisAddr:   c.Store.RedisAddr,
		RedisPrefix: c.Store.RedisPrefix,
		Compression: c.Store.Compression,
		SampleBits:  c.Store.SampleBits,
		MemoryLimit: c.Store.MemoryLimit,
		CacheSize:   c.Store.CacheSize,
		Logger:      log,
		Metrics:     m,
	}
}

// Logger converts the log section.
func (c Config) Logger(component string) logger.Config {
	return logger.Config{Level: c.Log.Level, Console: c.Log.Console, Component: component}
}

// Pyramid builds and validates the pyramid model.
func (p PyramidConfig) Pyramid() (pyramid.Pyramid, error) {
	crs, err := coord.ParseCRS(p.CRS)
	if err != nil {
		return pyramid.Pyramid{}, fmt.Errorf("pyramid %q: %w", p.ID, err)
	}
	out := pyramid.Pyramid{ID: p.ID, CRS: crs, Dims: p.Bands}
	var fallback []float64
	for _, m := range p.Mosaics {
		if len(m.Bounds) > 0 {
			fallback = m.Bounds
			break
		}
	}
	for _, m := range p.Mosaics {
		b := m.Bounds
		if len(b) == 0 {
			b = fallback
		}
		if len(b) != 4 {
			return pyramid.Pyramid{}, fmt.Errorf("mosaic %q: bounds need 4 values, got %d", m.ID, len(b))
		}
		if m.Scale <= 0 {
			return pyramid.Pyramid{}, fmt.Errorf("mosaic %q: scale must be positive", m.ID)
		}
		tw, th := m.TileWidth, m.TileHeight
		if tw == 0 {
			tw = 256
		}
		if th == 0 {
			th = tw
		}
		env := orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
		out.Mosaics = append(out.Mosaics, pyramid.NewMosaic(m.ID, env, m.Scale, tw, th))
	}
	if err := out.Validate(); err != nil {
		return pyramid.Pyramid{}, err
	}
	return out, nil
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

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
