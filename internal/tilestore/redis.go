package tilestore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// RedisStore keeps pyramid manifests and encoded tiles in Redis.
//
// Keys, under a configurable prefix:
//
//	<prefix>:pyramids              list of pyramid ids in creation order
//	<prefix>:p:<id>                CBOR pyramid manifest
//	<prefix>:t:<hash>:<col>:<row>  encoded tile
//	<prefix>:ts:<hash>             set of "col/row" members of a mosaic
//
// where hash is the xxhash of the pyramid and mosaic ids.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	codec  Codec
}

var _ pyramid.TileStore = (*RedisStore)(nil)

type redisConfig struct {
	opts   redis.Options
	prefix string
	codec  Codec
}

type RedisOption func(*redisConfig)

func WithKeyPrefix(p string) RedisOption { return func(c *redisConfig) { c.prefix = p } }

func WithRedisCodec(cd Codec) RedisOption { return func(c *redisConfig) { c.codec = cd } }

func WithPoolSize(n int) RedisOption { return func(c *redisConfig) { c.opts.PoolSize = n } }

func WithDialTimeout(d time.Duration) RedisOption {
	return func(c *redisConfig) { c.opts.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) RedisOption {
	return func(c *redisConfig) { c.opts.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) RedisOption {
	return func(c *redisConfig) { c.opts.WriteTimeout = d }
}

// OpenRedis connects to addr and pings it.
func OpenRedis(ctx context.Context, addr string, opts ...RedisOption) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	cfg := redisConfig{
		opts: redis.Options{
			Addr:         addr,
			PoolSize:     32,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
			MaintNotificationsConfig: &maintnotifications.Config{
				Mode: maintnotifications.ModeDisabled,
			},
		},
		prefix: "rp",
		codec:  DefaultCodec,
	}
	for _, o := range opts {
		o(&cfg)
	}
	rdb := redis.NewClient(&cfg.opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: cfg.prefix, codec: cfg.codec}, nil
}

func (s *RedisStore) listKey() string { return s.prefix + ":pyramids" }
func (s *RedisStore) pyramidKey(id string) string { return s.prefix + ":p:" + id }

func mosaicHash(pyramidID, mosaicID string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(pyramidID+"\x00"+mosaicID))
}

func (s *RedisStore) tileKey(h string, col, row int) string {
	return fmt.Sprintf("%s:t:%s:%d:%d", s.prefix, h, col, row)
}

func (s *RedisStore) tileSetKey(h string) string { return s.prefix + ":ts:" + h }

func (s *RedisStore) Pyramids(ctx context.Context) ([]pyramid.Pyramid, error) {
	ids, err := s.rdb.LRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE: %w", err)
	}
	out := make([]pyramid.Pyramid, 0, len(ids))
	for _, id := range ids {
		p, err := s.Pyramid(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) Pyramid(ctx context.Context, id string) (pyramid.Pyramid, error) {
	b, err := s.rdb.Get(ctx, s.pyramidKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return pyramid.Pyramid{}, fmt.Errorf("%w: %s", pyramid.ErrPyramidNotFound, id)
	}
	if err != nil {
		return pyramid.Pyramid{}, fmt.Errorf("redis GET pyramid %s: %w", id, err)
	}
	var p pyramid.Pyramid
	if err := unmarshal(b, &p); err != nil {
		return pyramid.Pyramid{}, fmt.Errorf("pyramid %s manifest: %w", id, err)
	}
	return p, nil
}

func (s *RedisStore) CreatePyramid(ctx context.Context, p pyramid.Pyramid) error {
	if err := p.Validate(); err != nil {
		return err
	}
	b, err := marshal(p)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.pyramidKey(p.ID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("redis SETNX pyramid %s: %w", p.ID, err)
	}
	if !ok {
		return fmt.Errorf("pyramid %s: %w", p.ID, pyramid.ErrExists)
	}
	if err := s.rdb.RPush(ctx, s.listKey(), p.ID).Err(); err != nil {
		return fmt.Errorf("redis RPUSH: %w", err)
	}
	return nil
}

// CreateMosaic updates the manifest in an optimistic transaction.
func (s *RedisStore) CreateMosaic(ctx context.Context, pyramidID string, m pyramid.Mosaic) error {
	if err := m.Validate(); err != nil {
		return err
	}
	key := s.pyramidKey(pyramidID)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", pyramid.ErrPyramidNotFound, pyramidID)
		}
		if err != nil {
			return err
		}
		var p pyramid.Pyramid
		if err := unmarshal(b, &p); err != nil {
			return err
		}
		if _, ok := p.Mosaic(m.ID); ok {
			return fmt.Errorf("pyramid %s: mosaic %s: %w", pyramidID, m.ID, pyramid.ErrExists)
		}
		p.Mosaics = append(p.Mosaics, m)
		nb, err := marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nb, 0)
			return nil
		})
		return err
	}
	for range 5 {
		err := s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("pyramid %s: concurrent manifest updates", pyramidID)
}

func (s *RedisStore) mosaic(ctx context.Context, pyramidID, mosaicID string) (pyramid.Pyramid, pyramid.Mosaic, error) {
	p, err := s.Pyramid(ctx, pyramidID)
	if err != nil {
		return pyramid.Pyramid{}, pyramid.Mosaic{}, err
	}
	m, ok := p.Mosaic(mosaicID)
	if !ok {
		return pyramid.Pyramid{}, pyramid.Mosaic{}, fmt.Errorf("%w: %s/%s", pyramid.ErrMosaicNotFound, pyramidID, mosaicID)
	}
	return p, m, nil
}

func (s *RedisStore) ReadTile(ctx context.Context, pyramidID, mosaicID string, col, row int) (*raster.Image, error) {
	b, err := s.rdb.Get(ctx, s.tileKey(mosaicHash(pyramidID, mosaicID), col, row)).Bytes()
	if errors.Is(err, redis.Nil) {
		if _, _, err := s.mosaic(ctx, pyramidID, mosaicID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s/%s/%d/%d", pyramid.ErrTileNotFound, pyramidID, mosaicID, col, row)
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET tile: %w", err)
	}
	return s.codec.Decode(b)
}

func (s *RedisStore) WriteTiles(ctx context.Context, pyramidID, mosaicID string, tiles iter.Seq[pyramid.Tile]) error {
	p, m, err := s.mosaic(ctx, pyramidID, mosaicID)
	if err != nil {
		return err
	}
	h := mosaicHash(pyramidID, mosaicID)
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for t := range tiles {
			if err := checkTile(p, m, t); err != nil {
				return err
			}
			b, err := s.codec.Encode(t.Image)
			if err != nil {
				return err
			}
			pipe.Set(ctx, s.tileKey(h, t.Col, t.Row), b, 0)
			pipe.SAdd(ctx, s.tileSetKey(h), fmt.Sprintf("%d/%d", t.Col, t.Row))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write tiles %s/%s: %w", pyramidID, mosaicID, err)
	}
	return nil
}

func (s *RedisStore) ListTiles(ctx context.Context, pyramidID, mosaicID string) ([]image.Point, error) {
	if _, _, err := s.mosaic(ctx, pyramidID, mosaicID); err != nil {
		return nil, err
	}
	members, err := s.rdb.SMembers(ctx, s.tileSetKey(mosaicHash(pyramidID, mosaicID))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS: %w", err)
	}
	pts := make([]image.Point, 0, len(members))
	for _, mem := range members {
		cs, rs, ok := strings.Cut(mem, "/")
		if !ok {
			return nil, fmt.Errorf("malformed tile member %q", mem)
		}
		col, err1 := strconv.Atoi(cs)
		row, err2 := strconv.Atoi(rs)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("malformed tile member %q: %w", mem, err)
		}
		pts = append(pts, image.Pt(col, row))
	}
	sortPoints(pts)
	return pts, nil
}

func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
