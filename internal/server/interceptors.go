package server

import (
	"SynthVault/internal/observability"
	"SynthVault/internal/vault"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RequestIDKey tags a call for deduplication. Over HTTP it is the
// X-Request-Id header.
const RequestIDKey = "x-request-id"

type actorKey struct{}

func actorFrom(ctx context.Context) vault.Actor {
	id, _ := ctx.Value(actorKey{}).(string)
	return vault.Actor{ID: id}
}

func requestIDFrom(ctx context.Context) string {
	return vault.RequestIDFrom(ctx)
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// actorLimiter keeps one token bucket per caller: the verified actor, or
// the peer address for anonymous calls. Only the most recent capacity
// callers are tracked; a forgotten caller starts again with a full bucket.
type actorLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *boundedLRU
	metrics  *observability.Metrics
}

func newActorLimiter(perSecond float64, burst, capacity int, metrics *observability.Metrics) *actorLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	if capacity <= 0 {
		capacity = 10_000
	}
	return &actorLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: newBoundedLRU(capacity),
		metrics:  metrics,
	}
}

func (l *actorLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.(*rate.Limiter).Allow()
}

func (l *actorLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiters.Len()
}

func (l *actorLimiter) interceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !l.allow(callerKey(ctx)) {
			if l.metrics != nil {
				l.metrics.APIRateLimited.Inc()
			}
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func callerKey(ctx context.Context) string {
	if id := actorFrom(ctx).ID; id != "" {
		return "actor:" + id
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "anonymous"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return "peer:" + host
	}
	return "peer:" + addr
}

func methodName(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return full
}

func loggingInterceptor(logger zerolog.Logger, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (_ any, err error) {
		start := time.Now()
		defer func() {
			code := status.Code(err)
			method := methodName(info.FullMethod)
			elapsed := time.Since(start)
			if metrics != nil {
				metrics.APIRequests.WithLabelValues(method, code.String()).Inc()
				metrics.APIDuration.WithLabelValues(method).Observe(elapsed.Seconds())
			}
			evt := logger.Debug()
			if code != codes.OK {
				evt = logger.Info()
			}
			evt.Str("method", method).
				Str("code", code.String()).
				Str("actor", actorFrom(ctx).ID).
				Str("request_id", requestIDFrom(ctx)).
				Dur("duration", elapsed).
				Msg("api call")
		}()
		return handler(ctx, req)
	}
}

func recoveryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (_ any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("method", info.FullMethod).Msg("panic in handler")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// chain composes interceptors in the order grpc.ChainUnaryInterceptor
// does, for the HTTP path that bypasses the gRPC server.
func chain(interceptors []grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic, h := interceptors[i], next
			next = func(ctx context.Context, req any) (any, error) {
				return ic(ctx, req, info, h)
			}
		}
		return next(ctx, req)
	}
}
