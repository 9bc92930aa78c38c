// Package server exposes the vault over gRPC and an HTTP/JSON gateway.
// Both surfaces share one method table and one interceptor chain.
package server

import (
	"SynthVault/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Config holds listener addresses, API limits and token verification.
type Config struct {
	GRPCAddr        string
	HTTPAddr        string
	RatePerSecond   float64 // per caller; zero disables limiting
	RateBurst       int
	LimiterCapacity int
	DedupeCapacity  int
	Auth            AuthConfig
}

// Deps holds what the servers need beyond the engine-backed service.
type Deps struct {
	Service       VaultServer
	Journal       RequestFinder
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// Server wraps the gRPC server and the HTTP gateway mux.
type Server struct {
	cfg          Config
	svc          VaultServer
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	handler      http.Handler
	intercept    grpc.UnaryServerInterceptor
	dedupe       *Deduper
	logger       zerolog.Logger
}

// New builds both servers. Nothing listens until StartGRPC/StartHTTP.
func New(cfg Config, deps Deps) (*Server, error) {
	logger := deps.Logger
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		svc:    deps.Service,
		dedupe: NewDeduper(cfg.DedupeCapacity, deps.Journal, deps.Metrics, logger),
		logger: logger,
	}

	interceptors := []grpc.UnaryServerInterceptor{
		loggingInterceptor(logger, deps.Metrics),
		recoveryInterceptor(logger),
		identityInterceptor(auth, isMutating, logger),
	}
	if limiter := newActorLimiter(cfg.RatePerSecond, cfg.RateBurst, cfg.LimiterCapacity, deps.Metrics); limiter != nil {
		interceptors = append(interceptors, limiter.interceptor())
	}
	interceptors = append(interceptors,
		s.dedupe.Interceptor(isMutating),
		statusInterceptor(logger),
	)
	s.intercept = chain(interceptors)

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	desc := serviceDesc()
	s.grpcServer.RegisterService(&desc, deps.Service)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl
	reflection.Register(s.grpcServer)

	mux := runtime.NewServeMux()
	for _, r := range routes {
		if err := mux.HandlePath(r.verb, r.path, s.httpHandler(r)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.verb, r.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	s.handler = httpMux
	return s, nil
}

// SetServing flips the gRPC health status of the vault service.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, st)
	s.healthServer.SetServingStatus("", st)
}

// Handler is the HTTP gateway, including the health checks.
func (s *Server) Handler() http.Handler { return s.handler }

// GRPC returns the underlying gRPC server.
func (s *Server) GRPC() *grpc.Server { return s.grpcServer }

// Dedupe returns the request deduplicator.
func (s *Server) Dedupe() *Deduper { return s.dedupe }

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves gRPC on lis until ctx is cancelled. It returns once
// in-flight calls have finished.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}

// StartHTTP serves the HTTP gateway until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.cfg.HTTPAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-stopped
	return nil
}

const maxBodyBytes = 1 << 20

// httpHandler runs one route through the same descriptor and interceptor
// chain as gRPC. Path parameters overlay the JSON body.
func (s *Server) httpHandler(r route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request, pathParams map[string]string) {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err))
			return
		}
		dec := func(v any) error {
			if len(body) > 0 {
				if err := json.Unmarshal(body, v); err != nil {
					return status.Errorf(codes.InvalidArgument, "decode body: %v", err)
				}
			}
			if len(pathParams) > 0 {
				raw, _ := json.Marshal(pathParams)
				if err := json.Unmarshal(raw, v); err != nil {
					return status.Errorf(codes.InvalidArgument, "decode path: %v", err)
				}
			}
			return nil
		}

		md := metadata.MD{}
		if auth := req.Header.Get("Authorization"); auth != "" {
			md.Set(AuthorizationKey, auth)
		}
		if id := req.Header.Get("X-Request-Id"); id != "" {
			md.Set(RequestIDKey, id)
		}
		ctx := metadata.NewIncomingContext(req.Context(), md)
		if ap, err := netip.ParseAddrPort(req.RemoteAddr); err == nil {
			ctx = peer.NewContext(ctx, &peer.Peer{Addr: net.TCPAddrFromAddrPort(ap)})
		}

		resp, err := r.desc.Handler(s.svc, ctx, dec, s.intercept)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	json.NewEncoder(w).Encode(errorBody{Code: st.Code().String(), Message: st.Message()})
}
