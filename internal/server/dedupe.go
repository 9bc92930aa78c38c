package server

import (
	"SynthVault/internal/observability"
	"SynthVault/internal/persistence"
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RequestFinder looks up journaled events by request id.
type RequestFinder interface {
	FindRequest(ctx context.Context, requestID string) ([]persistence.EventRow, error)
}

// Deduper makes mutating calls idempotent per request id, in two tiers:
// an LRU of recent responses, then the event journal.
type Deduper struct {
	mu       sync.Mutex
	lru      *boundedLRU
	inFlight map[string]struct{}
	journal  RequestFinder
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewDeduper builds a deduper. journal may be nil to run on the LRU only.
func NewDeduper(capacity int, journal RequestFinder, metrics *observability.Metrics, logger zerolog.Logger) *Deduper {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &Deduper{
		lru:      newBoundedLRU(capacity),
		inFlight: make(map[string]struct{}),
		journal:  journal,
		metrics:  metrics,
		logger:   logger,
	}
}

// Interceptor dedupes the methods for which mutating returns true. Calls
// without a request id are not deduplicated.
func (d *Deduper) Interceptor(mutating func(fullMethod string) bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := requestIDFrom(ctx)
		if id == "" || !mutating(info.FullMethod) {
			return handler(ctx, req)
		}
		key := fmt.Sprintf("%s:%s:%s", info.FullMethod, actorFrom(ctx).ID, id)

		d.mu.Lock()
		if resp, ok := d.lru.Get(key); ok {
			d.mu.Unlock()
			d.record("lru")
			return resp, nil
		}
		if _, busy := d.inFlight[key]; busy {
			d.mu.Unlock()
			d.record("in_flight")
			return nil, status.Errorf(codes.Aborted, "request %s is still in progress", id)
		}
		d.inFlight[key] = struct{}{}
		d.mu.Unlock()

		release := func() {
			d.mu.Lock()
			delete(d.inFlight, key)
			d.mu.Unlock()
		}

		if seq, ok := d.journaled(ctx, id); ok {
			release()
			d.record("journal")
			return nil, status.Errorf(codes.AlreadyExists, "request %s already committed at sequence %d", id, seq)
		}

		resp, err := handler(ctx, req)
		d.mu.Lock()
		delete(d.inFlight, key)
		if err == nil {
			d.lru.Add(key, resp)
		}
		d.mu.Unlock()
		return resp, err
	}
}

// journaled checks the journal. A lookup failure is logged and treated as
// not found so a database problem does not block the API.
func (d *Deduper) journaled(ctx context.Context, id string) (int64, bool) {
	if d.journal == nil {
		return 0, false
	}
	rows, err := d.journal.FindRequest(ctx, id)
	if err != nil {
		d.logger.Warn().Err(err).Str("request_id", id).Msg("journal dedupe lookup failed")
		return 0, false
	}
	if len(rows) == 0 {
		return 0, false
	}
	return rows[0].Sequence, true
}

func (d *Deduper) record(tier string) {
	if d.metrics != nil {
		d.metrics.APIDuplicates.WithLabelValues(tier).Inc()
	}
}

// Size returns the number of cached responses.
func (d *Deduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.Len()
}

// boundedLRU keeps the most recently used values by key. Not safe for
// concurrent use.
type boundedLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

type lruEntry struct {
	key   string
	value any
}

func newBoundedLRU(capacity int) *boundedLRU {
	return &boundedLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the value and promotes it.
func (l *boundedLRU) Get(key string) (any, bool) {
	elem, ok := l.cache[key]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).value, true
}

// Add inserts or replaces a value, evicting the oldest over capacity.
func (l *boundedLRU) Add(key string, value any) {
	if elem, ok := l.cache[key]; ok {
		elem.Value.(*lruEntry).value = value
		l.order.MoveToFront(elem)
		return
	}
	l.cache[key] = l.order.PushFront(&lruEntry{key: key, value: value})
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.cache, oldest.Value.(*lruEntry).key)
	}
}

func (l *boundedLRU) Len() int { return l.order.Len() }
