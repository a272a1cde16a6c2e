// Package persist checkpoints dirty rooms to an external content store.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/manpreetbhatti/lattice-sync/internal/metrics"
	"github.com/manpreetbhatti/lattice-sync/internal/room"
)

// ErrDocumentNotFound is returned by a PageLookup for rooms that have no
// durable document.
var ErrDocumentNotFound = errors.New("document not found")

// ContentStore receives the rendered content of a room.
type ContentStore interface {
	UpdateContent(ctx context.Context, documentID int64, content string) error
}

// PageLookup resolves a room id to the durable document id.
type PageLookup interface {
	ResolveDocument(ctx context.Context, roomID string) (int64, error)
}

// NumericLookup treats every room id as a decimal document id.
type NumericLookup struct{}

func (NumericLookup) ResolveDocument(_ context.Context, roomID string) (int64, error) {
	id, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: room %q is not numeric", ErrDocumentNotFound, roomID)
	}
	return id, nil
}

// DirtySource lists rooms with unpersisted updates. Get reports whether a
// room is still registered and so reachable by the flush loop.
type DirtySource interface {
	Dirty() []*room.Room
	Get(roomID string) (*room.Room, bool)
}

type Config struct {
	Interval     time.Duration
	FlushTimeout time.Duration
	// ReleaseAttempts bounds the flushes of a released room that is no
	// longer registered. RetryBackoff grows linearly between them.
	ReleaseAttempts int
	RetryBackoff    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:        10 * time.Second,
		FlushTimeout:    5 * time.Second,
		ReleaseAttempts: 3,
		RetryBackoff:    time.Second,
	}
}

type Scheduler struct {
	rooms    DirtySource
	store    ContentStore
	lookup   PageLookup
	renderer Renderer
	metrics  *metrics.Metrics
	config   Config
	tracer   trace.Tracer

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	releases sync.WaitGroup
}

func New(rooms DirtySource, store ContentStore, lookup PageLookup, renderer Renderer, m *metrics.Metrics, config Config) *Scheduler {
	if renderer == nil {
		renderer = CheckpointRenderer{}
	}
	if lookup == nil {
		lookup = NumericLookup{}
	}
	if config.ReleaseAttempts <= 0 {
		config.ReleaseAttempts = 1
	}
	return &Scheduler{
		rooms:    rooms,
		store:    store,
		lookup:   lookup,
		renderer: renderer,
		metrics:  m,
		config:   config,
		tracer:   otel.Tracer("github.com/manpreetbhatti/lattice-sync/internal/persist"),
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	slog.Info("persistence scheduler started", "interval", s.config.Interval, "flush_timeout", s.config.FlushTimeout)
}

// Stop ends the flush loop, waits for in-flight flushes and then flushes
// every dirty room one last time.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.releases.Wait()

	n := s.FlushDirty(ctx)

	// Inline releases hold mu for the whole flush.
	s.mu.Lock()
	s.mu.Unlock()
	slog.Info("persistence scheduler stopped", "final_flushes", n)
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.FlushDirty(context.Background())
		}
	}
}

// FlushDirty flushes every dirty room and returns how many were written.
func (s *Scheduler) FlushDirty(ctx context.Context) int {
	flushed := 0
	for _, rm := range s.rooms.Dirty() {
		if err := s.FlushRoom(ctx, rm); err == nil {
			flushed++
		}
	}
	if flushed > 0 {
		slog.Debug("flushed dirty rooms", "count", flushed)
	}
	return flushed
}

// Release flushes a room that has gone idle or been evicted, off the
// caller's goroutine while the scheduler runs and inline once it stopped.
func (s *Scheduler) Release(rm *room.Room) {
	if !rm.Dirty() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.release(rm)
		return
	}
	s.releases.Add(1)
	go func() {
		defer s.releases.Done()
		s.release(rm)
	}()
}

// release flushes rm. A registered room that fails is left to the flush
// loop; an evicted one is retried up to ReleaseAttempts times and then
// dropped.
func (s *Scheduler) release(rm *room.Room) {
	for attempt := 1; ; attempt++ {
		err := s.FlushRoom(context.Background(), rm)
		if err == nil || errors.Is(err, ErrDocumentNotFound) {
			return
		}
		if current, ok := s.rooms.Get(rm.ID); ok && current == rm {
			return
		}
		if attempt >= s.config.ReleaseAttempts {
			s.metrics.Flush("dropped", 0)
			slog.Error("final checkpoint dropped", "room", rm.ID, "version", rm.Document().Version(), "attempts", attempt, "error", err)
			return
		}
		time.Sleep(time.Duration(attempt) * s.config.RetryBackoff)
	}
}

// FlushRoom writes the room's current log through the renderer to the
// content store. A room whose document cannot be resolved is skipped; a
// failed lookup, render or write marks the room dirty again for the next
// cycle. Flushes of one room run one at a time.
func (s *Scheduler) FlushRoom(ctx context.Context, rm *room.Room) (err error) {
	unlock := rm.LockFlush()
	defer unlock()

	updates, version, ok := rm.TakeDirty()
	if !ok {
		return nil
	}

	if s.config.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FlushTimeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "persist.FlushRoom", trace.WithAttributes(
		attribute.String("room.id", rm.ID),
		attribute.Int64("room.version", int64(version)),
		attribute.Int("room.updates", len(updates)),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	documentID, err := s.lookup.ResolveDocument(ctx, rm.ID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			s.metrics.Flush("skipped", 0)
			slog.Warn("skipping flush, no document for room", "room", rm.ID, "error", err)
		} else {
			rm.MarkDirty()
			s.metrics.Flush("error", time.Since(start).Seconds())
			slog.Error("page lookup failed", "room", rm.ID, "error", err)
		}
		return err
	}
	span.SetAttributes(attribute.Int64("document.id", documentID))

	content, err := s.renderer.Render(ctx, rm.ID, updates)
	if err != nil {
		rm.MarkDirty()
		s.metrics.Flush("error", time.Since(start).Seconds())
		slog.Error("render failed", "room", rm.ID, "error", err)
		return err
	}

	if err = s.store.UpdateContent(ctx, documentID, content); err != nil {
		rm.MarkDirty()
		s.metrics.Flush("error", time.Since(start).Seconds())
		slog.Error("content update failed", "room", rm.ID, "document", documentID, "error", err)
		return err
	}

	s.metrics.Flush("ok", time.Since(start).Seconds())
	slog.Info("room content saved", "room", rm.ID, "document", documentID, "version", version, "updates", len(updates))
	return nil
}
