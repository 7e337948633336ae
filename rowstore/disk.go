package rowstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/rowcache/internal/hash"
	"github.com/hupe1980/rowcache/model"
	"github.com/hupe1980/rowcache/rows"
)

// DiskConfig configures a DiskStore.
type DiskConfig struct {
	// Dir is the directory holding segment files.
	Dir string
	// Dim is the row width.
	Dim int
	// Compression selects the payload codec. Defaults to CompressionNone.
	Compression Compression
	// MaxSegmentBytes seals the active segment once it grows past this
	// size. Defaults to 64 MiB.
	MaxSegmentBytes int64
	// RateLimitMBps caps write throughput in MiB/s. 0 means unlimited.
	RateLimitMBps int
	// MaxConcurrentReads bounds parallel segment reads during Get.
	// Defaults to 16.
	MaxConcurrentReads int64
	// CompactionGarbageRatio is the minimum fraction of dead records in a
	// sealed segment before Compact rewrites it. Defaults to 0.5.
	CompactionGarbageRatio float64
	// UniformInit configures first-use row initialization.
	UniformInit UniformInit
}

func (c *DiskConfig) applyDefaults() {
	if c.MaxSegmentBytes <= 0 {
		c.MaxSegmentBytes = 64 << 20
	}
	if c.MaxConcurrentReads <= 0 {
		c.MaxConcurrentReads = 16
	}
	if c.CompactionGarbageRatio <= 0 {
		c.CompactionGarbageRatio = 0.5
	}
}

// recordHeaderSize is [index int64][payloadLen uint32][crc32c uint32].
const recordHeaderSize = 16

// recordLoc points at a framed payload inside a segment.
type recordLoc struct {
	seg  uint32
	off  int64
	size uint32
}

// segment is one append-only file of row records. live tracks the indices
// whose latest version is here; the gap between live cardinality and
// records written is the garbage Compact reclaims.
type segment struct {
	id      uint32
	path    string
	f       *os.File
	size    int64
	records uint64
	live    *roaring64.Bitmap
}

// DiskStore is a log-structured Store: every Set appends a record to the
// active segment, an in-memory index tracks the latest location per row,
// and Compact rewrites sealed segments once mostly garbage.
//
// Reads run concurrently under a shared lock (bounded by a semaphore);
// writes, Flush, and Compact serialize against them, so maintenance is
// safe to call concurrently with Get and Set at the cost of latency.
type DiskStore struct {
	cfg DiskConfig

	mu       sync.RWMutex
	index    map[model.Index]recordLoc
	segments map[uint32]*segment
	active   *segment
	nextSeg  uint32
	closed   bool

	limiter *rate.Limiter
	readSem *semaphore.Weighted

	lastTimestep atomic.Int64
}

// NewDiskStore opens (or creates) a disk store in cfg.Dir, replaying any
// existing segments to rebuild the index.
func NewDiskStore(cfg DiskConfig) (*DiskStore, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("%w: row width %d", model.ErrInvalidArgument, cfg.Dim)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: empty store directory", model.ErrInvalidArgument)
	}
	cfg.applyDefaults()

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &DiskStore{
		cfg:      cfg,
		index:    make(map[model.Index]recordLoc),
		segments: make(map[uint32]*segment),
		readSem:  semaphore.NewWeighted(cfg.MaxConcurrentReads),
	}

	if cfg.RateLimitMBps > 0 {
		bps := cfg.RateLimitMBps << 20
		s.limiter = rate.NewLimiter(rate.Limit(bps), bps)
	}

	if err := s.recover(); err != nil {
		return nil, err
	}
	if err := s.rotateLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func segmentPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("seg-%08d.dat", id))
}

// recover replays segment files in id order. Later records win; a torn
// tail (short header, short payload, or checksum mismatch) ends the
// replay of that segment.
func (s *DiskStore) recover() error {
	paths, err := filepath.Glob(filepath.Join(s.cfg.Dir, "seg-*.dat"))
	if err != nil {
		return err
	}
	sort.Strings(paths)

	for _, path := range paths {
		var id uint32
		if _, err := fmt.Sscanf(filepath.Base(path), "seg-%d.dat", &id); err != nil {
			continue
		}

		seg, err := s.replaySegment(id, path)
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
		s.segments[id] = seg
		if id >= s.nextSeg {
			s.nextSeg = id + 1
		}
	}

	// Live bitmaps follow from the final index.
	for idx, loc := range s.index {
		s.segments[loc.seg].live.Add(uint64(idx))
	}
	return nil
}

func (s *DiskStore) replaySegment(id uint32, path string) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o640)
	if err != nil {
		return nil, err
	}

	seg := &segment{id: id, path: path, f: f, live: roaring64.New()}

	var header [recordHeaderSize]byte
	off := int64(0)
	for {
		if _, err := f.ReadAt(header[:], off); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		idx := model.Index(binary.LittleEndian.Uint64(header[0:8]))
		payloadLen := binary.LittleEndian.Uint32(header[8:12])
		sum := binary.LittleEndian.Uint32(header[12:16])

		payload := make([]byte, payloadLen)
		if _, err := f.ReadAt(payload, off+recordHeaderSize); err != nil {
			break // torn tail
		}
		if hash.CRC32C(payload) != sum {
			break
		}

		s.index[idx] = recordLoc{seg: id, off: off, size: payloadLen}
		seg.records++
		off += recordHeaderSize + int64(payloadLen)
	}

	seg.size = off
	if err := f.Truncate(off); err != nil {
		return nil, err
	}
	return seg, nil
}

// rotateLocked seals the current active segment and starts a new one.
// The outgoing segment is synced here: Flush only covers the active
// segment, so a segment must be durable by the time it is sealed.
func (s *DiskStore) rotateLocked() error {
	if s.active != nil {
		if err := s.active.f.Sync(); err != nil {
			return fmt.Errorf("seal segment %d: %w", s.active.id, err)
		}
	}

	id := s.nextSeg
	s.nextSeg++

	path := segmentPath(s.cfg.Dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}

	seg := &segment{id: id, path: path, f: f, live: roaring64.New()}
	s.segments[id] = seg
	s.active = seg
	return nil
}

// Get implements Store.
func (s *DiskStore) Get(ctx context.Context, indices []model.Index, dst *rows.Buffer, count int) error {
	if err := s.check(indices, dst, count); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return os.ErrClosed
	}

	g, ctx := errgroup.WithContext(ctx)
	for p := 0; p < count; p++ {
		idx := indices[p]
		if idx < 0 {
			continue
		}

		loc, ok := s.index[idx]
		if !ok {
			s.cfg.UniformInit.Fill(dst.Row(p))
			continue
		}

		g.Go(func() error {
			if err := s.readSem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer s.readSem.Release(1)
			return s.readRow(loc, dst.Row(p))
		})
	}
	return g.Wait()
}

func (s *DiskStore) readRow(loc recordLoc, row []float32) error {
	seg := s.segments[loc.seg]

	framed := make([]byte, loc.size)
	if _, err := seg.f.ReadAt(framed, loc.off+recordHeaderSize); err != nil {
		return fmt.Errorf("read segment %d: %w", loc.seg, err)
	}

	var header [recordHeaderSize]byte
	if _, err := seg.f.ReadAt(header[:], loc.off); err != nil {
		return fmt.Errorf("read segment %d: %w", loc.seg, err)
	}
	if hash.CRC32C(framed) != binary.LittleEndian.Uint32(header[12:16]) {
		return fmt.Errorf("%w: checksum mismatch in segment %d at offset %d", model.ErrCacheInconsistency, loc.seg, loc.off)
	}

	raw, err := decodePayload(framed, s.cfg.Compression)
	if err != nil {
		return err
	}
	return bytesToRow(raw, row)
}

// Set implements Store.
func (s *DiskStore) Set(ctx context.Context, indices []model.Index, src *rows.Buffer, count int, timestep int64) error {
	if err := s.check(indices, src, count); err != nil {
		return err
	}

	for p := 0; p < count; p++ {
		idx := indices[p]
		if idx < 0 {
			continue
		}

		framed, err := encodePayload(rowToBytes(src.Row(p)), s.cfg.Compression)
		if err != nil {
			return err
		}

		// Throttle before taking the lock so readers are not held up by
		// the rate budget.
		if s.limiter != nil {
			if err := s.limiter.WaitN(ctx, recordHeaderSize+len(framed)); err != nil {
				return err
			}
		}

		if err := s.appendRecord(idx, framed); err != nil {
			return err
		}
	}

	s.lastTimestep.Store(timestep)
	return nil
}

func (s *DiskStore) appendRecord(idx model.Index, framed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(idx))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(framed)))
	binary.LittleEndian.PutUint32(header[12:16], hash.CRC32C(framed))

	seg := s.active
	if _, err := seg.f.WriteAt(header[:], seg.size); err != nil {
		return fmt.Errorf("append segment %d: %w", seg.id, err)
	}
	if _, err := seg.f.WriteAt(framed, seg.size+recordHeaderSize); err != nil {
		return fmt.Errorf("append segment %d: %w", seg.id, err)
	}

	if old, ok := s.index[idx]; ok {
		s.segments[old.seg].live.Remove(uint64(idx))
	}
	s.index[idx] = recordLoc{seg: seg.id, off: seg.size, size: uint32(len(framed))}
	seg.live.Add(uint64(idx))
	seg.records++
	seg.size += recordHeaderSize + int64(len(framed))

	if seg.size >= s.cfg.MaxSegmentBytes {
		return s.rotateLocked()
	}
	return nil
}

// Compact implements Store: sealed segments whose garbage fraction meets
// the configured ratio have their live rows rewritten into the active
// segment, then are deleted.
func (s *DiskStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}

	ids := make([]uint32, 0, len(s.segments))
	for id := range s.segments {
		if id != s.active.id {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		seg := s.segments[id]
		liveCount := seg.live.GetCardinality()
		if seg.records == 0 && liveCount == 0 {
			// Empty sealed segment, drop it outright.
		} else {
			garbage := 1 - float64(liveCount)/float64(seg.records)
			if garbage < s.cfg.CompactionGarbageRatio {
				continue
			}
			if err := s.rewriteLocked(seg); err != nil {
				return err
			}
			// The rewritten rows must be durable before their only other
			// copy goes away with the source segment.
			if err := s.active.f.Sync(); err != nil {
				return err
			}
		}

		if err := seg.f.Close(); err != nil {
			return err
		}
		if err := os.Remove(seg.path); err != nil {
			return err
		}
		delete(s.segments, id)
	}
	return nil
}

// rewriteLocked moves every live record of seg into the active segment.
func (s *DiskStore) rewriteLocked(seg *segment) error {
	it := seg.live.Iterator()
	for it.HasNext() {
		idx := model.Index(it.Next())

		loc, ok := s.index[idx]
		if !ok || loc.seg != seg.id {
			return fmt.Errorf("%w: live bitmap of segment %d names index %d stored elsewhere", model.ErrCacheInconsistency, seg.id, idx)
		}

		framed := make([]byte, loc.size)
		if _, err := seg.f.ReadAt(framed, loc.off+recordHeaderSize); err != nil {
			return fmt.Errorf("compact segment %d: %w", seg.id, err)
		}

		active := s.active
		var header [recordHeaderSize]byte
		binary.LittleEndian.PutUint64(header[0:8], uint64(idx))
		binary.LittleEndian.PutUint32(header[8:12], uint32(len(framed)))
		binary.LittleEndian.PutUint32(header[12:16], hash.CRC32C(framed))

		if _, err := active.f.WriteAt(header[:], active.size); err != nil {
			return fmt.Errorf("compact into segment %d: %w", active.id, err)
		}
		if _, err := active.f.WriteAt(framed, active.size+recordHeaderSize); err != nil {
			return fmt.Errorf("compact into segment %d: %w", active.id, err)
		}

		s.index[idx] = recordLoc{seg: active.id, off: active.size, size: loc.size}
		active.live.Add(uint64(idx))
		active.records++
		active.size += recordHeaderSize + int64(len(framed))

		if active.size >= s.cfg.MaxSegmentBytes {
			if err := s.rotateLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush implements Store: fsyncs the active segment. Sealed segments are
// already synced at rotation, so this makes every accepted write durable.
func (s *DiskStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	return s.active.f.Sync()
}

// Close implements Store.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, seg := range s.segments {
		if err := seg.f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := seg.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of distinct rows stored.
func (s *DiskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Segments returns the current number of segment files.
func (s *DiskStore) Segments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// LastTimestep returns the timestep of the most recent Set.
func (s *DiskStore) LastTimestep() int64 {
	return s.lastTimestep.Load()
}

func (s *DiskStore) check(indices []model.Index, buf *rows.Buffer, count int) error {
	if buf.Dim() != s.cfg.Dim {
		return fmt.Errorf("%w: row width %d, store expects %d", model.ErrInvalidArgument, buf.Dim(), s.cfg.Dim)
	}
	if count < 0 || count > len(indices) {
		return fmt.Errorf("%w: count %d exceeds index list of length %d", model.ErrInvalidArgument, count, len(indices))
	}
	if count > buf.Rows() {
		return fmt.Errorf("%w: count %d exceeds buffer of %d rows", model.ErrInvalidArgument, count, buf.Rows())
	}
	return nil
}

func rowToBytes(row []float32) []byte {
	out := make([]byte, len(row)*4)
	for i, v := range row {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToRow(raw []byte, row []float32) error {
	if len(raw) != len(row)*4 {
		return fmt.Errorf("%w: payload of %d bytes for row of width %d", model.ErrInvalidArgument, len(raw), len(row))
	}
	for i := range row {
		row[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return nil
}
