package tilestore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

const (
	manifestFile = "manifest.cbor"
	indexFile    = "index.cbor"
	dataFile     = "tiles.dat"

	defaultDiskMemoryLimit = 256 << 20
)

// diskEntry locates an encoded tile in the data file.
type diskEntry struct {
	Offset int64 `cbor:"1,keyasint"`
	Length int32 `cbor:"2,keyasint"`
}

type indexRecord struct {
	Pyramid string    `cbor:"1,keyasint"`
	Mosaic  string    `cbor:"2,keyasint"`
	Col     int       `cbor:"3,keyasint"`
	Row     int       `cbor:"4,keyasint"`
	Entry   diskEntry `cbor:"5,keyasint"`
}

// DiskStore keeps written tiles in memory and spills them to an append-only
// data file once they exceed the memory limit. Reads check memory first,
// then the on-disk index. Rewriting a tile appends a new copy; the index
// always points at the latest one.
//
// The directory holds three files: the CBOR pyramid manifest, the CBOR tile
// index, and the data file. The manifest is rewritten on every catalog
// change, the index on Flush and Close.
type DiskStore struct {
	mu      sync.RWMutex
	dir     string
	codec   Codec
	cat     catalog
	pending map[tileKey]*raster.Image
	index   map[tileKey]diskEntry

	file    *os.File
	fileOff int64

	memBytes   int64
	memLimit   int64
	flushCount int

	log zerolog.Logger
}

var _ pyramid.TileStore = (*DiskStore)(nil)

type DiskOption func(*DiskStore)

// WithMemoryLimit sets how many bytes of pending tiles are kept before they
// are spilled. A limit <= 0 spills after every write.
func WithMemoryLimit(n int64) DiskOption { return func(s *DiskStore) { s.memLimit = n } }

func WithCodec(c Codec) DiskOption { return func(s *DiskStore) { s.codec = c } }

func WithDiskLogger(l zerolog.Logger) DiskOption { return func(s *DiskStore) { s.log = l } }

// OpenDisk opens or creates a store in dir.
func OpenDisk(dir string, opts ...DiskOption) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk store: %w", err)
	}
	s := &DiskStore{
		dir:      dir,
		codec:    DefaultCodec,
		pending:  make(map[tileKey]*raster.Image),
		index:    make(map[tileKey]diskEntry),
		memLimit: defaultDiskMemoryLimit,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}

	if err := readCBOR(filepath.Join(dir, manifestFile), &s.cat); err != nil {
		return nil, fmt.Errorf("disk store manifest: %w", err)
	}
	var records []indexRecord
	if err := readCBOR(filepath.Join(dir, indexFile), &records); err != nil {
		return nil, fmt.Errorf("disk store index: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, dataFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk store: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk store: %w", err)
	}
	s.file, s.fileOff = f, st.Size()

	for _, r := range records {
		if r.Entry.Offset+int64(r.Entry.Length) > s.fileOff {
			f.Close()
			return nil, fmt.Errorf("disk store index: tile %s/%s/%d/%d beyond end of data file", r.Pyramid, r.Mosaic, r.Col, r.Row)
		}
		s.index[tileKey{r.Pyramid, r.Mosaic, r.Col, r.Row}] = r.Entry
	}
	s.log.Debug().Str("dir", dir).Int("pyramids", len(s.cat.Pyramids)).Int("tiles", len(s.index)).Msg("disk store opened")
	return s, nil
}

func (s *DiskStore) Pyramids(ctx context.Context) ([]pyramid.Pyramid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cat.list(), nil
}

func (s *DiskStore) Pyramid(ctx context.Context, id string) (pyramid.Pyramid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cat.get(id)
}

func (s *DiskStore) CreatePyramid(ctx context.Context, p pyramid.Pyramid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cat.create(p); err != nil {
		return err
	}
	return s.saveManifest()
}

func (s *DiskStore) CreateMosaic(ctx context.Context, pyramidID string, m pyramid.Mosaic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cat.addMosaic(pyramidID, m); err != nil {
		return err
	}
	return s.saveManifest()
}

func (s *DiskStore) ReadTile(ctx context.Context, pyramidID, mosaicID string, col, row int) (*raster.Image, error) {
	key := tileKey{pyramidID, mosaicID, col, row}

	s.mu.RLock()
	if _, _, err := s.cat.mosaic(pyramidID, mosaicID); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	if img, ok := s.pending[key]; ok {
		out := img.Clone()
		s.mu.RUnlock()
		return out, nil
	}
	de, ok := s.index[key]
	if !ok || s.file == nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s/%s/%d/%d", pyramid.ErrTileNotFound, pyramidID, mosaicID, col, row)
	}
	buf := make([]byte, de.Length)
	_, err := s.file.ReadAt(buf, de.Offset)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("disk store read %s/%s/%d/%d: %w", pyramidID, mosaicID, col, row, err)
	}
	return s.codec.Decode(buf)
}

func (s *DiskStore) WriteTiles(ctx context.Context, pyramidID, mosaicID string, tiles iter.Seq[pyramid.Tile]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errClosed
	}
	p, m, err := s.cat.mosaic(pyramidID, mosaicID)
	if err != nil {
		return err
	}
	for t := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := checkTile(p, m, t); err != nil {
			return err
		}
		key := tileKey{pyramidID, mosaicID, t.Col, t.Row}
		if old, ok := s.pending[key]; ok {
			s.memBytes -= imageBytes(old)
		}
		img := localize(t.Image)
		s.pending[key] = img
		s.memBytes += imageBytes(img)
	}
	if s.memBytes > s.memLimit {
		return s.spill()
	}
	return nil
}

func (s *DiskStore) ListTiles(ctx context.Context, pyramidID, mosaicID string) ([]image.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, _, err := s.cat.mosaic(pyramidID, mosaicID); err != nil {
		return nil, err
	}
	seen := make(map[image.Point]bool)
	collect := func(k tileKey) {
		if k.pyramid == pyramidID && k.mosaic == mosaicID {
			seen[image.Pt(k.col, k.row)] = true
		}
	}
	for k := range s.pending {
		collect(k)
	}
	for k := range s.index {
		collect(k)
	}
	pts := make([]image.Point, 0, len(seen))
	for pt := range seen {
		pts = append(pts, pt)
	}
	sortPoints(pts)
	return pts, nil
}

// Flush spills pending tiles and persists the index.
func (s *DiskStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errClosed
	}
	if err := s.spill(); err != nil {
		return err
	}
	return s.saveIndex()
}

// Close flushes and releases the data file.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.spill()
	if err == nil {
		err = s.saveIndex()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}

// DiskStats summarizes where the tiles of a DiskStore currently live.
type DiskStats struct {
	Pending      int
	PendingBytes int64
	OnDisk       int
	FileBytes    int64
	Flushes      int
}

func (st DiskStats) String() string {
	return fmt.Sprintf("in-memory: %d tiles (%.1f MB), on-disk: %d tiles (%.1f MB file), flushes: %d",
		st.Pending, float64(st.PendingBytes)/(1<<20), st.OnDisk, float64(st.FileBytes)/(1<<20), st.Flushes)
}

func (s *DiskStore) Stats() DiskStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DiskStats{
		Pending:      len(s.pending),
		PendingBytes: s.memBytes,
		OnDisk:       len(s.index),
		FileBytes:    s.fileOff,
		Flushes:      s.flushCount,
	}
}

var errClosed = errors.New("disk store closed")

// spill appends all pending tiles to the data file. Callers hold s.mu.
func (s *DiskStore) spill() error {
	if len(s.pending) == 0 {
		return nil
	}
	n, bytes := len(s.pending), s.memBytes
	for key, img := range s.pending {
		buf, err := s.codec.Encode(img)
		if err != nil {
			return fmt.Errorf("disk store encode %s/%s/%d/%d: %w", key.pyramid, key.mosaic, key.col, key.row, err)
		}
		if _, err := s.file.WriteAt(buf, s.fileOff); err != nil {
			return fmt.Errorf("disk store write: %w", err)
		}
		s.index[key] = diskEntry{Offset: s.fileOff, Length: int32(len(buf))}
		s.fileOff += int64(len(buf))
		s.memBytes -= imageBytes(img)
		delete(s.pending, key)
	}
	s.flushCount++
	s.log.Debug().
		Int("tiles", n).
		Float64("mb", float64(bytes)/(1<<20)).
		Int("on_disk", len(s.index)).
		Float64("file_mb", float64(s.fileOff)/(1<<20)).
		Msg("disk store spilled tiles")
	return nil
}

func (s *DiskStore) saveIndex() error {
	records := make([]indexRecord, 0, len(s.index))
	for k, e := range s.index {
		records = append(records, indexRecord{Pyramid: k.pyramid, Mosaic: k.mosaic, Col: k.col, Row: k.row, Entry: e})
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("disk store sync: %w", err)
	}
	return writeCBOR(filepath.Join(s.dir, indexFile), records)
}

func (s *DiskStore) saveManifest() error {
	return writeCBOR(filepath.Join(s.dir, manifestFile), &s.cat)
}

func imageBytes(img *raster.Image) int64 { return int64(len(img.Pix)) * 8 }

// readCBOR leaves v untouched when path does not exist.
func readCBOR(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return unmarshal(b, v)
}

// writeCBOR replaces path atomically.
func writeCBOR(path string, v any) error {
	b, err := marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
