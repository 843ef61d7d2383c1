package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/encode"
	"github.com/pspoerri/rasterpyramid/internal/geotiff"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/logger"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
)

// errBadRequest marks query parameter errors.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// pyramidInfo describes a pyramid and its stored tiles.
type pyramidInfo struct {
	pyramid.Pyramid
	Envelope [4]float64    `json:"envelope"`
	Tiles    map[string]int `json:"tiles,omitempty"`
}

func (s *Server) listPyramids(w http.ResponseWriter, r *http.Request) {
	ps, err := s.store.Pyramids(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]pyramidInfo, len(ps))
	for i, p := range ps {
		out[i] = pyramidInfo{Pyramid: p, Envelope: bounds(p.Envelope())}
	}
	s.writeJSON(w, r, out)
}

func (s *Server) describePyramid(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Pyramid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info := pyramidInfo{Pyramid: p, Envelope: bounds(p.Envelope()), Tiles: make(map[string]int)}
	for _, m := range p.Mosaics {
		pts, err := s.store.ListTiles(r.Context(), p.ID, m.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		info.Tiles[m.ID] = len(pts)
	}
	s.writeJSON(w, r, info)
}

// readRequest holds the parsed query of a read.
type readRequest struct {
	bbox          orb.Bound
	width, height int
	crs           coord.CRS
	bands         []int
	format        string
	render        encode.RenderOptions
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := pyramid.Open(ctx, s.store, chi.URLParam(r, "id"), s.readOpts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.parseRead(r, res.Pyramid())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	target, err := grid.FromEnvelope(req.bbox,
		(req.bbox.Max[0]-req.bbox.Min[0])/float64(req.width),
		(req.bbox.Max[1]-req.bbox.Min[1])/float64(req.height), req.crs)
	if err != nil {
		s.fail(w, r, badRequest("%v", err))
		return
	}
	// Rounding may add a column or row; keep the requested size.
	b := target.Bounds()
	target = target.WithExtent(image.Rect(b.Min.X, b.Min.Y, b.Min.X+req.width, b.Min.Y+req.height).Intersect(b))

	cov, err := res.Read(ctx, target, req.bands...)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	contentType := "image/tiff"
	if req.format == "tiff" {
		if err := geotiff.Encode(&buf, cov, geotiff.EncodeOptions{Deflate: true}); err != nil {
			s.fail(w, r, err)
			return
		}
	} else {
		enc, err := encode.NewEncoder(req.format, 0)
		if err != nil {
			s.fail(w, r, badRequest("%v", err))
			return
		}
		img, err := encode.Render(cov, 0, req.render)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data, err := enc.Encode(img)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		buf.Write(data)
		contentType = enc.ContentType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) parseRead(r *http.Request, p pyramid.Pyramid) (readRequest, error) {
	q := r.URL.Query()
	req := readRequest{crs: p.CRS, format: "png"}

	vals, err := parseFloats(q.Get("bbox"))
	if err != nil || len(vals) != 4 {
		return req, badRequest("bbox must be minx,miny,maxx,maxy")
	}
	req.bbox = orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}
	if !(req.bbox.Max[0] > req.bbox.Min[0] && req.bbox.Max[1] > req.bbox.Min[1]) {
		return req, badRequest("bbox is empty")
	}
	if v := q.Get("crs"); v != "" {
		if req.crs, err = coord.ParseCRS(v); err != nil {
			return req, badRequest("%v", err)
		}
	}

	if req.width, err = positiveInt(q.Get("width")); err != nil {
		return req, badRequest("width: %v", err)
	}
	if v := q.Get("height"); v != "" {
		if req.height, err = positiveInt(v); err != nil {
			return req, badRequest("height: %v", err)
		}
	} else {
		aspect := (req.bbox.Max[1] - req.bbox.Min[1]) / (req.bbox.Max[0] - req.bbox.Min[0])
		req.height = max(1, int(float64(req.width)*aspect+0.5))
	}
	if req.width*req.height > s.cfg.MaxPixels {
		return req, badRequest("%dx%d exceeds %d pixels", req.width, req.height, s.cfg.MaxPixels)
	}

	if v := q.Get("bands"); v != "" {
		for _, f := range strings.Split(v, ",") {
			b, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil || b < 0 || b >= len(p.Dims) {
				return req, badRequest("bands: invalid band %q", f)
			}
			req.bands = append(req.bands, b)
		}
	}

	if v := q.Get("format"); v != "" {
		req.format = strings.ToLower(v)
	}
	switch req.format {
	case "png", "jpeg", "jpg", "webp", "tiff":
	case "terrarium":
		req.render.Mode = encode.Terrarium
	default:
		return req, badRequest("unsupported format %q", req.format)
	}
	if v := q.Get("range"); v != "" {
		lohi, err := parseFloats(v)
		if err != nil || len(lohi) != 2 {
			return req, badRequest("range must be min,max")
		}
		req.render.Min, req.render.Max = lohi[0], lohi[1]
	}
	return req, nil
}

// fail maps an error to a status code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, coverage.ErrIncompatibleDimensions):
		code = http.StatusBadRequest
	case errors.Is(err, coverage.ErrDisjointDomain),
		errors.Is(err, pyramid.ErrPyramidNotFound),
		errors.Is(err, pyramid.ErrMosaicNotFound):
		code = http.StatusNotFound
	case errors.Is(err, coord.ErrUnsupportedCRS), errors.Is(err, coord.ErrTransform):
		code = http.StatusUnprocessableEntity
	}
	log := logger.FromContext(r.Context(), s.log)
	ev := log.Debug()
	if code == http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", code).Msg("request failed")
	http.Error(w, err.Error(), code)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(data, '\n'))
}

func bounds(b orb.Bound) [4]float64 {
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

func parseFloats(s string) ([]float64, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}
