package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/fsutil"
)

const instrumentationName = "github.com/fyrsmithlabs/kazuba/internal/checkpoint"

// ErrClosed is returned by a closed Store.
var ErrClosed = errors.New("checkpoint store is closed")

// Store persists payloads as TOON files.
type Store struct {
	logger *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter
	loadCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMeter registers instruments on m instead of the global provider.
func WithMeter(m metric.Meter) StoreOption {
	return func(s *Store) { s.meter = m }
}

// WithTracer starts spans on t instead of the global provider.
func WithTracer(t trace.Tracer) StoreOption {
	return func(s *Store) { s.tracer = t }
}

// InstrumentationName scopes the package's spans and instruments.
const InstrumentationName = instrumentationName

// NewStore returns a file-backed store.
func NewStore(logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s
}

func (s *Store) initMetrics() {
	var err error

	s.saveCounter, err = s.meter.Int64Counter(
		"rlm.checkpoint.saves.total",
		metric.WithDescription("Checkpoint writes, by result"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}

	s.loadCounter, err = s.meter.Int64Counter(
		"rlm.checkpoint.loads.total",
		metric.WithDescription("Checkpoint reads, by result"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		s.logger.Warn("failed to create load counter", zap.Error(err))
	}
}

// Save encodes payload and writes it atomically to path.
func (s *Store) Save(ctx context.Context, path string, payload map[string]any) (err error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.save", trace.WithAttributes(attribute.String("path", path)))
	defer func() {
		s.finish(ctx, span, s.saveCounter, err)
	}()

	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}

	span.SetAttributes(attribute.Int("bytes", len(data)))
	s.logger.Debug("checkpoint saved", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// Load reads and decodes the checkpoint at path.
func (s *Store) Load(ctx context.Context, path string) (payload map[string]any, err error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.load", trace.WithAttributes(attribute.String("path", path)))
	defer func() {
		s.finish(ctx, span, s.loadCounter, err)
	}()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	payload, err = Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return payload, nil
}

// Info describes a checkpoint file without decoding it fully.
type Info struct {
	Path    string   `json:"path"`
	Version byte     `json:"version"`
	Bytes   int      `json:"bytes"`
	Keys    []string `json:"keys"`
}

// Inspect validates the file at path and lists its top-level keys.
func (s *Store) Inspect(ctx context.Context, path string) (Info, error) {
	payload, err := s.Load(ctx, path)
	if err != nil {
		return Info{}, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return Info{Path: path, Version: Version, Bytes: int(st.Size()), Keys: keys}, nil
}

// Close makes every later call fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) finish(ctx context.Context, span trace.Span, counter metric.Int64Counter, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
	span.End()
}
