// Package api exposes the engine's state over HTTP, a websocket event
// stream and a gRPC health endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"ftrader/internal/config"
	"ftrader/internal/domain"
	"ftrader/internal/position"
	"ftrader/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Engine is the read-only view of the trading engine the API serves.
type Engine interface {
	Positions() *position.Manager
	AllLiveOrders() []domain.Order
	Account() domain.Account
}

// BookSource exposes simulated order-book depth. Only the backtest gateway
// provides one.
type BookSource interface {
	BookSnapshot(tickerID uint32) (domain.TickData, bool)
}

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	cfg    config.Server
	engine Engine
	books  BookSource
	orders store.OrderStore
	hub    *Hub
	health *Health
	log    *slog.Logger

	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithBookSource serves /api/v1/book/{ticker_id} from b.
func WithBookSource(b BookSource) Option { return func(s *Server) { s.books = b } }

// WithOrderStore serves /api/v1/orders/history from st.
func WithOrderStore(st store.OrderStore) Option { return func(s *Server) { s.orders = st } }

// NewServer creates a Server. hub may be nil, in which case /ws is not
// routed.
func NewServer(cfg config.Server, engine Engine, hub *Hub, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		engine: engine,
		hub:    hub,
		health: NewHealth(),
		log:    log.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Health returns the gRPC health reporter.
func (s *Server) Health() *Health { return s.health }

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	v1.HandleFunc("/orders", s.handleOrders).Methods(http.MethodGet)
	v1.HandleFunc("/orders/history", s.handleOrderHistory).Methods(http.MethodGet)
	v1.HandleFunc("/account", s.handleAccount).Methods(http.MethodGet)
	v1.HandleFunc("/book/{ticker_id:[0-9]+}", s.handleBook).Methods(http.MethodGet)

	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.ServeWS)
	}
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ListenAndServe starts the HTTP listener and, when a gRPC port is
// configured, the gRPC listener. It blocks until ctx is cancelled or a
// listener fails, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 2)

	if s.cfg.Port > 0 {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
		s.httpSrv = &http.Server{
			Addr:              addr,
			Handler:           s.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			s.log.Info("http listening", "addr", addr)
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if s.cfg.GRPCPort > 0 {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.GRPCPort))
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", addr, err)
		}
		s.grpcSrv = s.NewGRPCServer()
		go func() {
			s.log.Info("grpc listening", "addr", addr)
			if err := s.grpcSrv.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(err, s.Shutdown(shutdownCtx))
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}
