package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/encode"
	"github.com/pspoerri/rasterpyramid/internal/geotiff"
)

// collectTIFFs resolves input paths to a list of .tif files.
func collectTIFFs(paths []string) ([]string, error) {
	var result []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return nil, fmt.Errorf("readdir %s: %w", p, err)
			}
			for _, e := range entries {
				if !e.IsDir() && isTIFF(e.Name()) {
					result = append(result, filepath.Join(p, e.Name()))
				}
			}
		} else if isTIFF(p) {
			result = append(result, p)
		}
	}
	return result, nil
}

func isTIFF(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}

// openTIFFs opens every file; on error the ones already opened are closed.
func openTIFFs(paths []string, opts ...geotiff.Option) ([]*geotiff.Resource, error) {
	out := make([]*geotiff.Resource, 0, len(paths))
	for _, p := range paths {
		r, err := geotiff.Open(p, opts...)
		if err != nil {
			closeTIFFs(out)
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func closeTIFFs(rs []*geotiff.Resource) {
	for _, r := range rs {
		r.Close()
	}
}

// outputOptions controls how writeOutput renders non-TIFF formats.
type outputOptions struct {
	quality int
	band    int
	render  encode.RenderOptions
}

// writeOutput stores cov as a GeoTIFF or as a rendered image, depending on
// the extension of path.
func writeOutput(path string, cov *coverage.GridCoverage, o outputOptions) error {
	if isTIFF(path) {
		return geotiff.WriteFile(path, cov, geotiff.EncodeOptions{Deflate: true, TileSize: 256})
	}
	enc, err := encode.ForExtension(strings.ToLower(filepath.Ext(path)), o.quality)
	if err != nil {
		return err
	}
	img, err := encode.Render(cov, o.band, o.render)
	if err != nil {
		return err
	}
	data, err := enc.Encode(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
