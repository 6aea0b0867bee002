package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ferry/internal/connectivity"
	"github.com/roach88/ferry/internal/engine"
	"github.com/roach88/ferry/internal/record"
	"github.com/roach88/ferry/internal/remote"
	"github.com/roach88/ferry/internal/store"
)

// Enqueue errors.
var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownParent  = errors.New("unknown parent")
	ErrClosed         = errors.New("outbox closed")
)

// Clock supplies enqueue timestamps.
type Clock interface {
	Now() time.Time
}

// Outbox is the caller-facing queue: writes land in the local store at once
// and the sync engine drains them when connectivity allows.
//
// Thread-safety: all methods are safe for concurrent use. Run must be called
// from at most one goroutine.
type Outbox struct {
	store   *store.Store
	graph   *record.Graph
	monitor *connectivity.Monitor
	engine  *engine.Engine
	clock   Clock
	ids     record.IDGenerator
	sources []connectivity.Source

	syncOnEnqueue bool
	ownsStore     bool

	// mu orders begin against Close: once closed is set no new work joins
	// active, and Close waits for active to drain before closing the store.
	mu        sync.Mutex
	closed    atomic.Bool
	active    sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	clock         Clock
	ids           record.IDGenerator
	sources       []connectivity.Source
	syncOnEnqueue bool
	engineOpts    []engine.EngineOption
}

// Option configures an Outbox.
type Option func(*options)

// WithClock replaces the system clock for enqueue timestamps and the engine.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithIDGenerator replaces UUIDv7 local ids.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithSources adds connectivity sources started by Run.
func WithSources(sources ...connectivity.Source) Option {
	return func(o *options) {
		o.sources = append(o.sources, sources...)
	}
}

// WithSyncOnEnqueue triggers a pass after every successful Enqueue.
func WithSyncOnEnqueue(enabled bool) Option {
	return func(o *options) {
		o.syncOnEnqueue = enabled
	}
}

// WithEngineOptions passes options through to the sync engine. Later options
// win over earlier ones.
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// New wires an Outbox around an open store and registers the graph's
// collections in it. The caller keeps ownership of s.
func New(
	ctx context.Context,
	s *store.Store,
	graph *record.Graph,
	adapter remote.Adapter,
	monitor *connectivity.Monitor,
	opts ...Option,
) (*Outbox, error) {
	o := options{
		clock: engine.SystemClock{},
		ids:   record.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := s.RegisterCollections(ctx, graph.Specs()); err != nil {
		return nil, fmt.Errorf("register collections: %w", err)
	}

	engineOpts := append([]engine.EngineOption{engine.WithClock(o.clock)}, o.engineOpts...)

	return &Outbox{
		store:         s,
		graph:         graph,
		monitor:       monitor,
		engine:        engine.New(s, graph, adapter, monitor, engineOpts...),
		clock:         o.clock,
		ids:           o.ids,
		sources:       o.sources,
		syncOnEnqueue: o.syncOnEnqueue,
	}, nil
}

// Open opens the store at path and wires an Outbox that owns it; Close
// closes the store.
func Open(
	ctx context.Context,
	path string,
	graph *record.Graph,
	adapter remote.Adapter,
	monitor *connectivity.Monitor,
	opts ...Option,
) (*Outbox, error) {
	s, err := store.OpenContext(ctx, path)
	if err != nil {
		return nil, err
	}
	o, err := New(ctx, s, graph, adapter, monitor, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	o.ownsStore = true
	return o, nil
}

// Enqueue stores a new unsynced record and returns its local id. It never
// touches the network.
//
// parentLocalID names a record of the collection's parent collection; the
// parent must be stored locally or already have a remote id. Its remote id
// is written into the payload's parent field at submission time, so a
// payload with a parent must be a JSON object.
func (o *Outbox) Enqueue(ctx context.Context, collection string, payload json.RawMessage, parentLocalID string) (string, error) {
	if !o.begin() {
		return "", ErrClosed
	}
	defer o.active.Done()

	spec, ok := o.graph.Spec(collection)
	if !ok {
		return "", fmt.Errorf("enqueue %q: %w", collection, store.ErrUnknownCollection)
	}

	if len(bytes.TrimSpace(payload)) == 0 || !json.Valid(payload) {
		return "", fmt.Errorf("enqueue %q: %w: not valid JSON", collection, ErrInvalidPayload)
	}
	if parentLocalID != "" {
		if !record.IsObject(payload) {
			return "", fmt.Errorf("enqueue %q: %w: a record with a parent needs a JSON object payload",
				collection, ErrInvalidPayload)
		}
		if err := o.checkParent(ctx, spec, parentLocalID); err != nil {
			return "", fmt.Errorf("enqueue %q: %w", collection, err)
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return "", fmt.Errorf("enqueue %q: %w: %v", collection, ErrInvalidPayload, err)
	}

	id := o.ids.NewID()
	rec := record.New(id, collection, parentLocalID, compact.Bytes(), o.clock.Now())
	if err := o.store.Add(ctx, collection, rec); err != nil {
		return "", fmt.Errorf("enqueue %q: %w", collection, err)
	}

	slog.Debug("mutation enqueued", "collection", collection, "id", id, "parent", parentLocalID)

	if o.syncOnEnqueue {
		o.engine.Trigger()
	}
	return id, nil
}

func (o *Outbox) checkParent(ctx context.Context, spec record.CollectionSpec, parentID string) error {
	if spec.Parent == "" {
		return fmt.Errorf("%w: collection %q has no parent collection", ErrUnknownParent, spec.Name)
	}

	_, found, err := o.store.Get(ctx, spec.Parent, parentID)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	// Pruned parents stay resolvable through the id map.
	_, mapped, err := o.store.LookupRemoteID(ctx, parentID)
	if err != nil {
		return err
	}
	if mapped {
		return nil
	}
	return fmt.Errorf("%w: %s/%s", ErrUnknownParent, spec.Parent, parentID)
}

// Get returns a record by collection and local id.
func (o *Outbox) Get(ctx context.Context, collection, id string) (record.MutationRecord, bool, error) {
	return o.store.Get(ctx, collection, id)
}

// PendingCount returns the number of unsynced records across all collections,
// needs-review records included.
func (o *Outbox) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for _, name := range o.graph.Order() {
		n, err := o.store.CountUnsynced(ctx, name)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// TriggerSync asks the Run loop for a pass. Safe at any time; while Offline
// the pass is skipped.
func (o *Outbox) TriggerSync() {
	o.engine.Trigger()
}

// SyncNow runs one pass on the calling goroutine. After Close it runs
// nothing and reports engine.SkipClosed.
func (o *Outbox) SyncNow(ctx context.Context) engine.Report {
	if !o.begin() {
		return engine.Report{Skipped: engine.SkipClosed}
	}
	defer o.active.Done()
	return o.engine.SyncNow(ctx)
}

// OnConnectivityChange subscribes fn to Online/Offline edges.
func (o *Outbox) OnConnectivityChange(fn func(online bool)) (unsubscribe func()) {
	return o.monitor.OnTransition(fn)
}

// IsOnline reports the current connectivity state.
func (o *Outbox) IsOnline() bool {
	return o.monitor.IsOnline()
}

// SetOnline reports the platform connectivity signal directly.
func (o *Outbox) SetOnline(online bool) {
	o.monitor.Report(online)
}

// RefreshConnectivity reads the configured sources once. Processes that
// call SyncNow without Run use it to learn the current state.
func (o *Outbox) RefreshConnectivity(ctx context.Context) bool {
	o.monitor.Refresh(ctx, o.sources...)
	return o.monitor.IsOnline()
}

// Run starts the connectivity sources and the sync loop and blocks until ctx
// ends or Close is called. A pass in flight when Close is called finishes
// before Close returns. Run after Close returns ErrClosed.
func (o *Outbox) Run(ctx context.Context) error {
	if !o.begin() {
		return ErrClosed
	}
	defer o.active.Done()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if len(o.sources) > 0 {
		g.Go(func() error {
			return o.monitor.Run(runCtx, o.sources...)
		})
	}
	g.Go(func() error {
		defer cancel()
		return o.engine.Run(runCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Stopped by Close.
		return nil
	}
	return err
}

// ListNeedsReview returns the records parked after exhausting their retry
// budget or failing to take their parent id, in collection order.
func (o *Outbox) ListNeedsReview(ctx context.Context) ([]record.MutationRecord, error) {
	var out []record.MutationRecord
	for _, name := range o.graph.Order() {
		recs, err := o.store.ListNeedsReview(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// RetryReview returns a needs-review record to the queue and triggers a pass.
func (o *Outbox) RetryReview(ctx context.Context, collection, id string) error {
	if err := o.store.ResetReview(ctx, collection, id); err != nil {
		return err
	}
	slog.Info("needs-review record requeued", "collection", collection, "id", id)
	o.engine.Trigger()
	return nil
}

// Prune deletes synced records older than retention.
func (o *Outbox) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return o.store.PruneSynced(ctx, o.clock.Now().Add(-retention))
}

// Clear erases every record, id mapping, lease and setting. Used on sign-out.
func (o *Outbox) Clear(ctx context.Context) error {
	if err := o.store.ClearAll(ctx); err != nil {
		return err
	}
	slog.Info("outbox cleared")
	return nil
}

// begin registers an operation that uses the store. It returns false once
// Close has started.
func (o *Outbox) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return false
	}
	o.active.Add(1)
	return true
}

// Close stops the sync loop, waits for a Run loop, SyncNow or Enqueue in
// progress to return and, for an Outbox from Open, closes the store.
// Further Enqueue calls return ErrClosed.
func (o *Outbox) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed.Store(true)
		o.mu.Unlock()

		o.engine.Stop()
		o.active.Wait()
		if o.ownsStore {
			o.closeErr = o.store.Close()
		}
	})
	return o.closeErr
}
