package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pocket-ledger/pkg/boxes"
	"pocket-ledger/pkg/ledger"
	"pocket-ledger/pkg/logging"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ledger is the part of *ledger.Ledger the API serves.
type Ledger interface {
	Balance(ctx context.Context) (ledger.Money, error)
	Transactions(ctx context.Context) ([]ledger.Transaction, error)
	Transaction(ctx context.Context, id string) (ledger.Transaction, error)
	DepositFrom(ctx context.Context, amount ledger.Money, description, source string) (ledger.Receipt, error)
	Transfer(ctx context.Context, amount ledger.Money, description string) (ledger.Receipt, error)
	Receive(ctx context.Context, amount ledger.Money, description string) (ledger.Receipt, error)
	Verify(ctx context.Context) (ledger.State, error)
	StoreName() string
	IndexStats() ledger.IndexStats
}

// Boxes is the part of *boxes.Registry the API serves.
type Boxes interface {
	List(ctx context.Context) ([]boxes.Box, error)
	Get(ctx context.Context, id string) (boxes.Box, error)
	Create(ctx context.Context, name string) (boxes.Box, error)
}

// Server exposes the ledger and the box registry over HTTP.
type Server struct {
	ledger  Ledger
	boxes   Boxes
	config  ServerConfig
	router  *mux.Router
	server  *http.Server
	logger  *logging.Logger
	started time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds the ledger and box calls of one request.
	RequestTimeout time.Duration

	// Registerer receives the HTTP metrics and Gatherer serves /metrics.
	// Without a Gatherer /metrics is not routed.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Logger *logging.Logger
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// NewServer creates the API server and its routes.
func NewServer(l Ledger, b Boxes, config ServerConfig) (*Server, error) {
	if config.Logger == nil {
		config.Logger = logging.Global().Named("api")
	}

	s := &Server{
		ledger:  l,
		boxes:   b,
		config:  config,
		logger:  config.Logger,
		started: time.Now(),
	}

	r := mux.NewRouter()
	var hm *httpMetrics
	if config.Registerer != nil {
		hm = newHTTPMetrics()
		if err := hm.register(config.Registerer); err != nil {
			return nil, err
		}
		r.Use(hm.middleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/balance", s.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}", s.handleTransaction).Methods(http.MethodGet)
	r.HandleFunc("/deposits", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/transfers", s.handleTransfer).Methods(http.MethodPost)
	r.HandleFunc("/transfers/incoming", s.handleReceive).Methods(http.MethodPost)
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodGet)

	r.HandleFunc("/boxes", s.handleListBoxes).Methods(http.MethodGet)
	r.HandleFunc("/boxes", s.handleCreateBox).Methods(http.MethodPost)
	r.HandleFunc("/boxes/{id}", s.handleGetBox).Methods(http.MethodGet)

	var notFound, notAllowed http.Handler
	notFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	notAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	// The router only runs Use middleware on matched routes.
	if hm != nil {
		notFound = hm.middleware(notFound)
		notAllowed = hm.middleware(notAllowed)
	}
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notAllowed

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// clean shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", zap.String("address", s.config.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}
