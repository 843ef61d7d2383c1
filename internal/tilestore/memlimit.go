package tilestore

import (
	"runtime"

	"github.com/rs/zerolog"
)

// DefaultMemoryFraction is the share of physical RAM the disk store may hold
// in pending tiles before spilling them to its data file.
const DefaultMemoryFraction = 0.5

const minMemoryLimit = 64 << 20

// ComputeMemoryLimit returns fraction of physical RAM minus what the Go
// runtime already holds. It returns 0 when RAM cannot be detected or the
// result is below 64 MiB; callers then fall back to their default.
func ComputeMemoryLimit(fraction float64, log zerolog.Logger) int64 {
	total, err := totalSystemRAM()
	if err != nil {
		log.Debug().Err(err).Msg("cannot detect system RAM")
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	limit := int64(float64(total)*fraction) - int64(ms.Sys)
	if limit < minMemoryLimit {
		log.Debug().Int64("limit", limit).Msg("computed memory limit too small")
		return 0
	}
	log.Debug().
		Float64("ram_gb", float64(total)/(1<<30)).
		Float64("limit_gb", float64(limit)/(1<<30)).
		Msg("disk store memory limit")
	return limit
}
