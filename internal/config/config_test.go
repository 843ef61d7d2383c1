package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/rasterpyramid/internal/coord"
)

const sample = `
store:
  backend: disk
  path: /var/lib/rp
  compression: lz4
log:
  level: debug
server:
  addr: ":9000"
  shutdown_timeout: 3s
kafka:
  brokers: [k1:9092, k2:9092]
pyramids:
  - id: dem
    crs: EPSG:2056
    bands:
      - name: elevation
        unit: m
        nodata: [-9999]
    mosaics:
      - id: z0
        bounds: [2480000, 1070000, 2840000, 1300000]
        scale: 10
        tile_width: 256
      - id: z1
        scale: 40
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "disk", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/rp", cfg.Store.Path)
	assert.Equal(t, "lz4", cfg.Store.Compression)
	assert.Equal(t, 32, cfg.Store.SampleBits, "default kept")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	require.Len(t, cfg.Pyramids, 1)
	p, err := cfg.Pyramids[0].Pyramid()
	require.NoError(t, err)
	assert.Equal(t, coord.LV95, p.CRS)
	assert.Equal(t, []float64{-9999}, p.Dims[0].NoData)
	require.Len(t, p.Mosaics, 2)
	assert.Equal(t, 256, p.Mosaics[0].TileHeight, "tile height defaults to width")
	assert.Equal(t, p.Mosaics[0].UpperLeft, p.Mosaics[1].UpperLeft, "bounds inherited")
	assert.Equal(t, [2]float64{40, 40}, p.Mosaics[1].Scale)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RP_STORE", "redis")
	t.Setenv("RP_REDIS_ADDR", "cache:6380")
	t.Setenv("RP_LOG_LEVEL", "warn")
	t.Setenv("RP_LOG_CONSOLE", "yes")
	t.Setenv("RP_ADDR", ":7000")
	t.Setenv("RP_KAFKA_BROKERS", "a:1, b:2,")
	t.Setenv("RP_KAFKA_TOPIC", "tiles")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "cache:6380", cfg.Store.RedisAddr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, "tiles", cfg.Kafka.Topic)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown field":     "store:\n  backnd: disk\n",
		"unknown backend":   "store:\n  backend: s3\n",
		"bad compression":   "store:\n  compression: brotli\n",
		"bad sample bits":   "store:\n  sample_bits: 16\n",
		"unsupported crs":   "pyramids:\n  - id: a\n    crs: EPSG:31467\n    bands: [{name: v}]\n",
		"missing bounds":    "pyramids:\n  - id: a\n    crs: CRS:84\n    bands: [{name: v}]\n    mosaics: [{id: z, scale: 1}]\n",
		"duplicate pyramid": "pyramids:\n  - {id: a, crs: 'CRS:84', bands: [{name: v}]}\n  - {id: a, crs: 'CRS:84', bands: [{name: v}]}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreOptions(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "disk"
	cfg.Store.MemoryLimit = 1 << 20
	o := cfg.StoreOptions(zerolog.Nop(), nil)
	assert.Equal(t, "disk", o.Backend)
	assert.Equal(t, int64(1<<20), o.MemoryLimit)
	assert.Equal(t, cfg.Store.CacheSize, o.CacheSize)

	lc := cfg.Logger("serve")
	assert.Equal(t, "serve", lc.Component)
	assert.Equal(t, "info", lc.Level)
}
