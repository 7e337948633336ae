// Package minio provides a rowstore.Store backed by MinIO or any
// S3-compatible object storage. Each embedding row is stored as a single
// object, so the backend scales to tables far larger than local disk at
// the cost of per-row request latency. Batch operations fan out with a
// bounded number of concurrent requests.
package minio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"

	"github.com/minio/minio-go/v7"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rowcache/model"
	"github.com/hupe1980/rowcache/rows"
	"github.com/hupe1980/rowcache/rowstore"
)

// Compile time check to ensure Store satisfies the rowstore.Store interface.
var _ rowstore.Store = (*Store)(nil)

// timestepMetaKey tags each object with the logical time of its write.
const timestepMetaKey = "X-Amz-Meta-Rowcache-Timestep"

// Options configures the object-storage row store.
type Options struct {
	// Prefix is prepended to all object keys (e.g. "tables/user-emb/").
	Prefix string

	// MaxConcurrentRequests bounds the request fan-out of batch Get and
	// Set calls.
	MaxConcurrentRequests int

	// UniformInit randomizes rows read before their first write.
	UniformInit rowstore.UniformInit
}

// DefaultOptions holds the default options for the store.
var DefaultOptions = Options{
	MaxConcurrentRequests: 16,
}

// Store reads and writes rows as individual objects in a bucket.
type Store struct {
	client *minio.Client
	bucket string
	dim    int
	opts   Options
}

// NewStore creates a row store over the given bucket. The client is owned
// by the caller; Close does not shut it down.
func NewStore(client *minio.Client, bucket string, dim int, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive, got %d", model.ErrInvalidArgument, dim)
	}

	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket must be set", model.ErrInvalidArgument)
	}

	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = DefaultOptions.MaxConcurrentRequests
	}

	return &Store{
		client: client,
		bucket: bucket,
		dim:    dim,
		opts:   opts,
	}, nil
}

func (s *Store) key(idx model.Index) string {
	return path.Join(s.opts.Prefix, "rows", strconv.FormatInt(idx, 10))
}

// Get implements rowstore.Store.
func (s *Store) Get(ctx context.Context, indices []model.Index, dst *rows.Buffer, count int) error {
	if err := s.check(indices, dst, count); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentRequests)

	for p := range count {
		idx := indices[p]
		if idx < 0 {
			continue
		}

		row := dst.Row(p)

		g.Go(func() error {
			return s.getRow(gctx, idx, row)
		})
	}

	return g.Wait()
}

func (s *Store) getRow(ctx context.Context, idx model.Index, row []float32) error {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(idx), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			s.opts.UniformInit.Fill(row)
			return nil
		}

		return fmt.Errorf("get row %d: %w", idx, err)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			s.opts.UniformInit.Fill(row)
			return nil
		}

		return fmt.Errorf("read row %d: %w", idx, err)
	}

	return decodeRow(payload, row)
}

// Set implements rowstore.Store.
func (s *Store) Set(ctx context.Context, indices []model.Index, src *rows.Buffer, count int, timestep int64) error {
	if err := s.check(indices, src, count); err != nil {
		return err
	}

	putOpts := minio.PutObjectOptions{
		UserMetadata: map[string]string{
			timestepMetaKey: strconv.FormatInt(timestep, 10),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentRequests)

	for p := range count {
		idx := indices[p]
		if idx < 0 {
			continue
		}

		payload := encodeRow(src.Row(p))

		g.Go(func() error {
			_, err := s.client.PutObject(gctx, s.bucket, s.key(idx), bytes.NewReader(payload), int64(len(payload)), putOpts)
			if err != nil {
				return fmt.Errorf("put row %d: %w", idx, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// Compact implements rowstore.Store. Objects are overwritten in place, so
// there is no garbage to reclaim.
func (s *Store) Compact(_ context.Context) error {
	return nil
}

// Flush implements rowstore.Store. Puts are durable on return, so there
// is nothing to sync.
func (s *Store) Flush(_ context.Context) error {
	return nil
}

// Close implements rowstore.Store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) check(indices []model.Index, buf *rows.Buffer, count int) error {
	if buf == nil || buf.Dim() != s.dim {
		return fmt.Errorf("%w: buffer dim mismatch", model.ErrInvalidArgument)
	}

	if count < 0 || count > len(indices) || count > buf.Rows() {
		return fmt.Errorf("%w: count %d out of range", model.ErrInvalidArgument, count)
	}

	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func encodeRow(row []float32) []byte {
	out := make([]byte, len(row)*4)
	for d, v := range row {
		binary.LittleEndian.PutUint32(out[d*4:], math.Float32bits(v))
	}

	return out
}

func decodeRow(payload []byte, row []float32) error {
	if len(payload) != len(row)*4 {
		return fmt.Errorf("%w: row payload of %d bytes, want %d", model.ErrInvalidArgument, len(payload), len(row)*4)
	}

	for d := range row {
		row[d] = math.Float32frombits(binary.LittleEndian.Uint32(payload[d*4:]))
	}

	return nil
}
