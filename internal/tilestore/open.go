package tilestore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend     string // memory, disk or redis
	Path        string
	RedisAddr   string
	RedisPrefix string
	Compression string
	SampleBits  int
	// MemoryLimit bounds pending tiles of the disk backend; 0 derives it
	// from physical RAM.
	MemoryLimit int64
	// CacheSize wraps the backend in a CachedStore when positive.
	CacheSize int
	Logger    zerolog.Logger
	Metrics   *metrics.Provider
}

// Open builds the store described by o.
func Open(ctx context.Context, o Options) (pyramid.TileStore, error) {
	comp, err := ParseCompression(o.Compression)
	if err != nil {
		return nil, err
	}
	codec := Codec{Compression: comp, SampleBits: o.SampleBits}

	var st pyramid.TileStore
	switch o.Backend {
	case "", "memory":
		st = NewMemoryStore()
	case "disk":
		if o.Path == "" {
			return nil, fmt.Errorf("disk store: path is required")
		}
		limit := o.MemoryLimit
		if limit == 0 {
			limit = ComputeMemoryLimit(DefaultMemoryFraction, o.Logger)
		}
		dopts := []DiskOption{WithCodec(codec), WithDiskLogger(o.Logger)}
		if limit > 0 {
			dopts = append(dopts, WithMemoryLimit(limit))
		}
		st, err = OpenDisk(o.Path, dopts...)
	case "redis":
		ropts := []RedisOption{WithRedisCodec(codec)}
		if o.RedisPrefix != "" {
			ropts = append(ropts, WithKeyPrefix(o.RedisPrefix))
		}
		st, err = OpenRedis(ctx, o.RedisAddr, ropts...)
	default:
		return nil, fmt.Errorf("unknown store backend %q", o.Backend)
	}
	if err != nil {
		return nil, err
	}
	o.Logger.Debug().Str("backend", o.Backend).Str("compression", comp.String()).Msg("tile store opened")
	if o.CacheSize > 0 {
		return NewCached(st, o.CacheSize, WithCacheMetrics(o.Metrics)), nil
	}
	return st, nil
}
