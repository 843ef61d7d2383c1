package tilestore

import (
	"context"
	"image"
	"math"
	"slices"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

func testPyramid() pyramid.Pyramid {
	env := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	return pyramid.Pyramid{
		ID:  "world",
		CRS: coord.CRS84,
		Dims: []coverage.SampleDimension{
			{Name: "elevation", Unit: "m", NoData: []float64{-9999}},
			{Name: "quality"},
		},
		Mosaics: []pyramid.Mosaic{pyramid.NewMosaic("z0", env, 10, 9, 9)},
	}
}

func testTile(col, row int, base float64) pyramid.Tile {
	img := raster.NewImage(image.Rect(0, 0, 9, 9), 2)
	for i := range img.Pix {
		img.Pix[i] = base + float64(i%17)
	}
	img.Pix[5] = math.NaN()
	return pyramid.Tile{Col: col, Row: row, Image: img}
}

func newMini(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := OpenRedis(ctx, mr.Addr(), WithKeyPrefix("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func stores(t *testing.T) map[string]pyramid.TileStore {
	t.Helper()
	disk, err := OpenDisk(t.TempDir(), WithMemoryLimit(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })
	rs, _ := newMini(t)
	return map[string]pyramid.TileStore{
		"memory": NewMemoryStore(),
		"disk":   disk,
		"redis":  rs,
		"cached": NewCached(NewMemoryStore(), 4),
	}
}

func assertSameImage(t *testing.T, want, got *raster.Image) {
	t.Helper()
	require.Equal(t, want.Rect.Size(), got.Rect.Size())
	require.Equal(t, want.Bands, got.Bands)
	for i := range want.Pix {
		if math.IsNaN(want.Pix[i]) {
			assert.True(t, math.IsNaN(got.Pix[i]), "sample %d", i)
			continue
		}
		assert.Equal(t, want.Pix[i], got.Pix[i], "sample %d", i)
	}
}

func TestStores_Contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p := testPyramid()
			require.NoError(t, s.CreatePyramid(ctx, p))
			assert.ErrorIs(t, s.CreatePyramid(ctx, p), pyramid.ErrExists)

			got, err := s.Pyramid(ctx, "world")
			require.NoError(t, err)
			assert.Equal(t, p.ID, got.ID)
			assert.Equal(t, p.CRS, got.CRS)
			assert.Equal(t, p.Mosaics, got.Mosaics)
			assert.Equal(t, []float64{-9999}, got.Dims[0].NoData)

			_, err = s.Pyramid(ctx, "nope")
			assert.ErrorIs(t, err, pyramid.ErrPyramidNotFound)

			z1 := pyramid.NewMosaic("z1", p.Envelope(), 5, 9, 9)
			require.NoError(t, s.CreateMosaic(ctx, "world", z1))
			assert.ErrorIs(t, s.CreateMosaic(ctx, "world", z1), pyramid.ErrExists)
			assert.ErrorIs(t, s.CreateMosaic(ctx, "nope", z1), pyramid.ErrPyramidNotFound)

			all, err := s.Pyramids(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Len(t, all[0].Mosaics, 2)

			_, err = s.ReadTile(ctx, "world", "z0", 0, 0)
			assert.ErrorIs(t, err, pyramid.ErrTileNotFound)
			_, err = s.ReadTile(ctx, "world", "zz", 0, 0)
			assert.ErrorIs(t, err, pyramid.ErrMosaicNotFound)

			a, b := testTile(1, 0, 100), testTile(3, 1, -50)
			require.NoError(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{a, b})))

			img, err := s.ReadTile(ctx, "world", "z0", 3, 1)
			require.NoError(t, err)
			assertSameImage(t, b.Image, img)

			// The returned tile belongs to the caller.
			img.Pix[0] = 42
			again, err := s.ReadTile(ctx, "world", "z0", 3, 1)
			require.NoError(t, err)
			assert.Equal(t, b.Image.Pix[0], again.Pix[0])

			pts, err := s.ListTiles(ctx, "world", "z0")
			require.NoError(t, err)
			assert.Equal(t, []image.Point{{1, 0}, {3, 1}}, pts)

			pts, err = s.ListTiles(ctx, "world", "z1")
			require.NoError(t, err)
			assert.Empty(t, pts)
		})
	}
}

func TestStores_RejectBadTiles(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.CreatePyramid(ctx, testPyramid()))

			outside := testTile(4, 0, 0)
			assert.Error(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{outside})))

			small := pyramid.Tile{Col: 0, Row: 0, Image: raster.NewImage(image.Rect(0, 0, 8, 9), 2)}
			assert.Error(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{small})))

			assert.ErrorIs(t, s.WriteTiles(ctx, "world", "zz", slices.Values([]pyramid.Tile{testTile(0, 0, 0)})), pyramid.ErrMosaicNotFound)
		})
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	img := raster.NewImage(image.Rect(0, 0, 16, 16), 3)
	for i := range img.Pix {
		img.Pix[i] = float64(i % 7)
	}
	img.Pix[10] = math.NaN()
	img.Pix[11] = -9999

	for _, tc := range []Codec{
		{Compression: CompressionNone, SampleBits: 32},
		{Compression: CompressionLZ4, SampleBits: 32},
		{Compression: CompressionZstd, SampleBits: 32},
		{Compression: CompressionZstd, SampleBits: 64},
	} {
		t.Run(tc.Compression.String(), func(t *testing.T) {
			b, err := tc.Encode(img)
			require.NoError(t, err)
			got, err := tc.Decode(b)
			require.NoError(t, err)
			assertSameImage(t, img, got)
		})
	}
}

func TestCodec_Float32Precision(t *testing.T) {
	img := raster.NewImage(image.Rect(0, 0, 1, 1), 1)
	img.Pix[0] = 0.1

	b, err := DefaultCodec.Encode(img)
	require.NoError(t, err)
	got, err := DefaultCodec.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, float64(float32(0.1)), got.Pix[0])

	wide := Codec{Compression: CompressionZstd, SampleBits: 64}
	b, err = wide.Encode(img)
	require.NoError(t, err)
	got, err = wide.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, 0.1, got.Pix[0])
}

func TestCodec_SubImageOrigin(t *testing.T) {
	img := raster.NewImage(image.Rect(10, 20, 12, 21), 1)
	img.Pix[0], img.Pix[1] = 1, 2

	b, err := DefaultCodec.Encode(img)
	require.NoError(t, err)
	got, err := DefaultCodec.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), got.Rect)
	assert.Equal(t, []float64{1, 2}, got.Pix)
}

func TestCodec_Corrupt(t *testing.T) {
	_, err := DefaultCodec.Decode([]byte{0xff, 0x00, 0x13})
	assert.ErrorIs(t, err, ErrCorruptTile)

	img := raster.NewImage(image.Rect(0, 0, 4, 4), 1)
	b, err := Codec{Compression: CompressionNone}.Encode(img)
	require.NoError(t, err)
	_, err = DefaultCodec.Decode(b[:len(b)-3])
	assert.ErrorIs(t, err, ErrCorruptTile)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)
	c, err = ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)
	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}

func TestDiskStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenDisk(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreatePyramid(ctx, testPyramid()))
	tile := testTile(2, 1, 7)
	require.NoError(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{tile})))

	st := s.Stats()
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 0, st.OnDisk)
	require.NoError(t, s.Close())

	s, err = OpenDisk(dir)
	require.NoError(t, err)
	defer s.Close()

	st = s.Stats()
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.OnDisk)

	got, err := s.ReadTile(ctx, "world", "z0", 2, 1)
	require.NoError(t, err)
	assertSameImage(t, tile.Image, got)

	ps, err := s.Pyramids(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, coord.CRS84, ps[0].CRS)
}

func TestDiskStore_SpillAndOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := OpenDisk(t.TempDir(), WithMemoryLimit(0), WithCodec(Codec{Compression: CompressionLZ4}))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreatePyramid(ctx, testPyramid()))

	require.NoError(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{testTile(0, 0, 1)})))
	first := s.Stats()
	assert.Equal(t, 1, first.OnDisk)
	assert.Equal(t, 1, first.Flushes)

	updated := testTile(0, 0, 500)
	require.NoError(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{updated})))
	second := s.Stats()
	assert.Equal(t, 1, second.OnDisk)
	assert.Greater(t, second.FileBytes, first.FileBytes)

	got, err := s.ReadTile(ctx, "world", "z0", 0, 0)
	require.NoError(t, err)
	assertSameImage(t, updated.Image, got)
}

func TestDiskStore_ClosedRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s, err := OpenDisk(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.CreatePyramid(ctx, testPyramid()))
	require.NoError(t, s.Close())
	assert.Error(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{testTile(0, 0, 0)})))
	assert.NoError(t, s.Close())
}

func TestRedisStore_Keys(t *testing.T) {
	ctx := context.Background()
	s, mr := newMini(t)
	require.NoError(t, s.CreatePyramid(ctx, testPyramid()))
	require.NoError(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{testTile(1, 1, 0)})))

	h := mosaicHash("world", "z0")
	assert.True(t, mr.Exists("test:p:world"))
	assert.True(t, mr.Exists("test:t:"+h+":1:1"))
	members, err := mr.SMembers("test:ts:" + h)
	require.NoError(t, err)
	assert.Equal(t, []string{"1/1"}, members)
	assert.NotEqual(t, h, mosaicHash("world", "z1"))
}

func TestOpenRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := OpenRedis(ctx, "127.0.0.1:1", WithDialTimeout(100*time.Millisecond))
	assert.Error(t, err)
	_, err = OpenRedis(ctx, "")
	assert.Error(t, err)
}

type countingStore struct {
	pyramid.TileStore
	reads int
}

func (c *countingStore) ReadTile(ctx context.Context, p, m string, col, row int) (*raster.Image, error) {
	c.reads++
	return c.TileStore.ReadTile(ctx, p, m, col, row)
}

func TestCachedStore_Hits(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{TileStore: NewMemoryStore()}
	s := NewCached(inner, 2)
	require.NoError(t, s.CreatePyramid(ctx, testPyramid()))

	tiles := []pyramid.Tile{testTile(0, 0, 0), testTile(1, 0, 10), testTile(2, 0, 20)}
	require.NoError(t, s.WriteTiles(ctx, "world", "z0", slices.Values(tiles)))

	// The two most recent writes are cached.
	_, err := s.ReadTile(ctx, "world", "z0", 2, 0)
	require.NoError(t, err)
	_, err = s.ReadTile(ctx, "world", "z0", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, inner.reads)

	got, err := s.ReadTile(ctx, "world", "z0", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.reads)
	assertSameImage(t, tiles[0].Image, got)

	_, err = s.ReadTile(ctx, "world", "z0", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.reads)

	hits, misses := s.Stats()
	assert.Equal(t, int64(3), hits)
	assert.Equal(t, int64(1), misses)

	// A write replaces the cached copy.
	repl := testTile(0, 0, 99)
	require.NoError(t, s.WriteTiles(ctx, "world", "z0", slices.Values([]pyramid.Tile{repl})))
	got, err = s.ReadTile(ctx, "world", "z0", 0, 0)
	require.NoError(t, err)
	assertSameImage(t, repl.Image, got)
	assert.Equal(t, 1, inner.reads)
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Options{Backend: "memory", CacheSize: 8})
	require.NoError(t, err)
	assert.IsType(t, &CachedStore{}, st)
	require.NoError(t, st.Close())

	st, err = Open(ctx, Options{Backend: "disk", Path: t.TempDir(), MemoryLimit: -1, Compression: "lz4"})
	require.NoError(t, err)
	assert.IsType(t, &DiskStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open(ctx, Options{Backend: "disk"})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Backend: "s3"})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Compression: "brotli"})
	assert.Error(t, err)
}
