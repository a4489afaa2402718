// Package server assembles the HTTP process for either role: the public
// coordinator API or a share node's internal endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mpcvote/mpcvote/pkg/audit"
	"github.com/mpcvote/mpcvote/pkg/coordinator"
	gql "github.com/mpcvote/mpcvote/pkg/graphql"
	"github.com/mpcvote/mpcvote/pkg/livefeed"
	"github.com/mpcvote/mpcvote/pkg/metrics"
	"github.com/mpcvote/mpcvote/pkg/registry"
	"github.com/mpcvote/mpcvote/pkg/sharenode"
	"github.com/mpcvote/mpcvote/pkg/signing"
	"github.com/mpcvote/mpcvote/pkg/store"
)

// Server is one running process, coordinator or share node.
type Server struct {
	config    *Config
	store     *store.Store
	router    *chi.Mux
	httpSrv   *http.Server
	startTime time.Time
	collector *metrics.Collector

	// coordinator role
	registry *registry.Registry
	coord    *coordinator.Coordinator
	feed     *livefeed.Hub

	// share role
	node *sharenode.Node
}

// New creates a server for the configured role.
func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.EnableTLS {
		if _, err := os.Stat(config.TLSCertFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS certificate file not found: %s", config.TLSCertFile)
		}
		if _, err := os.Stat(config.TLSKeyFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS key file not found: %s", config.TLSKeyFile)
		}
	}

	st, err := store.Open(&store.Config{DataDir: config.DataDir})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	srv := &Server{
		config:    config,
		store:     st,
		router:    chi.NewRouter(),
		startTime: time.Now(),
		collector: metrics.NewCollector(),
	}

	srv.setupMiddleware()

	switch config.Mode {
	case ModeCoordinator:
		if err := srv.setupCoordinator(); err != nil {
			st.Close()
			return nil, err
		}
	case ModeShare:
		srv.setupShare()
	}

	srv.router.Get("/health", srv.handleHealth)
	srv.router.Get("/_metrics", srv.handleMetrics)

	srv.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return srv, nil
}

// setupMiddleware configures the HTTP middleware stack
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

// setupCoordinator wires the registry, the 2PC driver and the public API.
func (s *Server) setupCoordinator() error {
	reg, err := registry.New(s.store)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	s.registry = reg

	trail := audit.NewTrail(s.store, nil)
	s.feed = livefeed.NewHub()

	nodeA := signing.NewClient(s.config.ShareNodeAURL, s.config.HMACKey, s.config.HTTPTimeout)
	nodeB := signing.NewClient(s.config.ShareNodeBURL, s.config.HMACKey, s.config.HTTPTimeout)
	s.coord = coordinator.New(reg, s.store, trail, nodeA, nodeB, s.collector)

	h := coordinator.NewHandler(s.coord, reg, s.feed)
	s.router.Mount("/", h.Routes())

	if s.config.EnableGraphQL {
		gqlHandler, err := gql.NewHandler(reg, s.coord)
		if err != nil {
			return fmt.Errorf("failed to setup GraphQL: %w", err)
		}
		s.router.Post("/graphql", gqlHandler.ServeHTTP)
		fmt.Println("✅ GraphQL API enabled at /graphql")
	}

	return nil
}

// setupShare wires the transaction log behind the signed-transport routes.
func (s *Server) setupShare() {
	s.node = sharenode.New(s.config.NodeID, s.store)
	h := sharenode.NewHandler(s.node, s.collector)
	s.router.Mount("/internal/share", h.Routes(signing.New(s.config.HMACKey)))
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestSizeLimitMiddleware limits request body size
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"ok":             true,
		"mode":           string(s.config.Mode),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	}
	if s.config.Mode == ModeShare {
		health["node"] = s.config.NodeID
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := s.collector.WriteMetrics(w); err != nil {
		http.Error(w, fmt.Sprintf("Error writing metrics: %v", err), http.StatusInternalServerError)
	}
}

// Router exposes the assembled router (used by tests).
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until an error or a shutdown signal.
func (s *Server) Start() error {
	protocol := "http"
	if s.config.EnableTLS {
		protocol = "https"
		fmt.Printf("🔒 TLS/SSL enabled\n")
	}
	fmt.Printf("🚀 mpcvote %s starting on %s://%s:%d\n", s.config.Mode, protocol, s.config.Host, s.config.Port)
	fmt.Printf("📁 Data directory: %s\n", s.config.DataDir)
	if s.config.Mode == ModeShare {
		fmt.Printf("🔑 Share node: %s\n", s.config.NodeID)
	} else {
		fmt.Printf("🗳️  Share nodes: A=%s B=%s\n", s.config.ShareNodeAURL, s.config.ShareNodeBURL)
	}

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.httpSrv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		fmt.Printf("\n⚠️  Received signal: %v\n", sig)
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the server and closes the store.
func (s *Server) Shutdown() error {
	fmt.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		fmt.Printf("❌ Server shutdown error: %v\n", err)
	}
	if s.feed != nil {
		s.feed.Close()
	}
	if err := s.store.Close(); err != nil {
		fmt.Printf("❌ Store close error: %v\n", err)
		return err
	}

	fmt.Println("✅ Server shutdown complete")
	return nil
}
