package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
	"realmforge/internal/infra/middleware"
	"realmforge/internal/usecase/eventbus"
)

// Server exposes the telemetry stream over websocket at /ws. Each connection
// is attached to the bus as its own observer for as long as it stays open.
// A ?types=a,b query limits a connection to those event types.
type Server struct {
	bus          domain.TelemetryBus
	auth         *TokenAuth
	api          *middleware.ClientLimiter
	addr         string
	writeTimeout time.Duration
	logger       *slog.Logger
	started      time.Time

	mu        sync.Mutex
	conns     map[string]*WebSocket
	routes    []route
	httpSrv   *http.Server
	boundAddr atomic.Value // string
	nextID    atomic.Uint64
}

type route struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a telemetry server from config.
func NewServer(bus domain.TelemetryBus, cfg config.TelemetryConfig, logger *slog.Logger) *Server {
	return &Server{
		bus:          bus,
		auth:         NewTokenAuth(cfg.AuthTokens),
		api:          middleware.NewClientLimiter(cfg.API),
		addr:         cfg.ListenAddr,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		started:      time.Now(),
		conns:        make(map[string]*WebSocket),
	}
}

// RegisterHTTPRoute adds a plain HTTP route. Must be called before Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, route{pattern: pattern, handler: handler})
}

// Handler returns the mux serving /ws, /healthz and registered routes.
// Registered routes are rate limited per client; /ws is left unwrapped so
// the upgrade can hijack the connection.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.Handle("/healthz", middleware.SecurityHeaders(http.HandlerFunc(s.handleHealth)))
	for _, r := range s.routes {
		mux.Handle(r.pattern, middleware.Chain(r.handler,
			middleware.SecurityHeaders,
			middleware.AccessLog(s.logger),
			s.api.Middleware,
		))
	}
	return mux
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("telemetry listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.mu.Lock()
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("telemetry server started", "addr", s.BoundAddr())

	go s.api.Sweep(ctx)
	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("telemetry serve: %w", err)
	}
	return nil
}

// Stop closes every client connection and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*WebSocket, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	srv := s.httpSrv
	s.mu.Unlock()

	for _, c := range conns {
		s.bus.Detach(c)
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}

	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the listening address once Start has bound it.
func (s *Server) BoundAddr() string {
	v, _ := s.boundAddr.Load().(string)
	return v
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Allow(r.URL.Query().Get("token")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	id := fmt.Sprintf("ws-%d", s.nextID.Add(1))
	obs := NewWebSocket(id, ws, s.writeTimeout)

	s.mu.Lock()
	s.conns[id] = obs
	s.mu.Unlock()
	var sink domain.Observer = obs
	types := eventTypes(r.URL.Query().Get("types"))
	if len(types) > 0 {
		sink = eventbus.Filtered(obs, types...)
	}
	detach := s.bus.Attach(sink)
	s.logger.Info("telemetry client connected", "conn_id", id, "remote", r.RemoteAddr, "types", types)

	// Clients only listen; CloseRead discards inbound frames and ends the
	// context when the peer goes away.
	done := ws.CloseRead(r.Context())
	<-done.Done()

	detach()
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	_ = obs.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("telemetry client disconnected", "conn_id", id)
}

// eventTypes parses a comma-separated ?types= subscription.
func eventTypes(raw string) []domain.EventType {
	var types []domain.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, domain.EventType(t))
		}
	}
	return types
}

type healthResponse struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:        "ok",
		Clients:       s.Clients(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}
