// Package api serves read-only queries over the projected aggregates and
// audit records. Nothing here writes to the projection; the event stream is
// the only writer.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/propshare/share-indexer/internal/logging"
	"github.com/propshare/share-indexer/internal/models"
	"github.com/propshare/share-indexer/internal/storage"
	"github.com/propshare/share-indexer/internal/types"
)

// PropertyReader is the property query surface the server needs.
type PropertyReader interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	ListProperties(ctx context.Context, limit, offset int) ([]*models.Property, error)
}

// HolderReader is the holder query surface the server needs.
type HolderReader interface {
	GetHolder(ctx context.Context, propertyID int64, address string) (*models.Holder, error)
	ListHolders(ctx context.Context, propertyID int64, limit, offset int) ([]*models.Holder, error)
}

// ListingReader is the listing query surface the server needs.
type ListingReader interface {
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	ListListings(ctx context.Context, state types.ListingState, limit, offset int) ([]*models.Listing, error)
}

// RecordReader is the audit record query surface the server needs.
type RecordReader interface {
	ListTransfers(ctx context.Context, propertyID int64, limit int) ([]*models.TransferRecord, error)
	ListDeposits(ctx context.Context, propertyID int64, limit int) ([]*models.DepositRecord, error)
	ListClaims(ctx context.Context, propertyID int64, holder string, limit int) ([]*models.ClaimRecord, error)
}

// Server is the HTTP query server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	properties PropertyReader
	holders    HolderReader
	listings   ListingReader
	records    RecordReader
	cache      *storage.CacheService
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new query server. The cache may be nil, in which case
// every request hits the stores directly.
func NewServer(
	config *ServerConfig,
	properties PropertyReader,
	holders HolderReader,
	listings ListingReader,
	records RecordReader,
	cache *storage.CacheService,
	logger *logging.Logger,
) *Server {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 15 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router:     mux.NewRouter(),
		properties: properties,
		holders:    holders,
		listings:   listings,
		records:    records,
		cache:      cache,
		logger:     logger,
		config:     config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(corsMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes registers all query endpoints.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/properties", s.handleListProperties).Methods(http.MethodGet)
	v1.HandleFunc("/properties/{id:[0-9]+}", s.handleGetProperty).Methods(http.MethodGet)
	v1.HandleFunc("/properties/{id:[0-9]+}/holders", s.handleListHolders).Methods(http.MethodGet)
	v1.HandleFunc("/properties/{id:[0-9]+}/holders/{address}", s.handleGetHolder).Methods(http.MethodGet)
	v1.HandleFunc("/properties/{id:[0-9]+}/transfers", s.handleListTransfers).Methods(http.MethodGet)
	v1.HandleFunc("/properties/{id:[0-9]+}/deposits", s.handleListDeposits).Methods(http.MethodGet)
	v1.HandleFunc("/properties/{id:[0-9]+}/claims", s.handleListClaims).Methods(http.MethodGet)
	v1.HandleFunc("/listings", s.handleListListings).Methods(http.MethodGet)
	v1.HandleFunc("/listings/{id:[0-9]+}", s.handleGetListing).Methods(http.MethodGet)
}

// Router returns the configured router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Infof("Query API listening on %s:%s", s.config.Host, s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
