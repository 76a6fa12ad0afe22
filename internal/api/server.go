// Package api exposes the HTTP surface: wallet lifecycle, manual syncs,
// the ledger, portfolio views, and budgets. Handlers depend on the service
// layer through narrow interfaces so tests can swap in fakes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/service"
	"github.com/portfolio-tracker/internal/storage"
)

// WalletManager is the wallet lifecycle surface.
type WalletManager interface {
	Create(ctx context.Context, input service.CreateWalletInput) (*models.Wallet, error)
	List(ctx context.Context, userID string) ([]*models.Wallet, error)
	Get(ctx context.Context, userID, walletID string) (*models.Wallet, error)
	Deactivate(ctx context.Context, userID, walletID string) error
}

// Syncer runs a single wallet sync on demand.
type Syncer interface {
	SyncWallet(ctx context.Context, walletID string) error
}

// Ledger records and lists ledger entries.
type Ledger interface {
	RecordEntry(ctx context.Context, entry *models.LedgerEntry) error
	List(ctx context.Context, filter storage.ListFilter) ([]*models.LedgerEntry, error)
}

// PortfolioViewer builds the aggregated portfolio.
type PortfolioViewer interface {
	GetPortfolio(ctx context.Context, userID string) (*models.PortfolioView, error)
}

// Budgeter manages monthly budgets.
type Budgeter interface {
	SetBudget(ctx context.Context, userID string, limit decimal.Decimal) error
	GetBudget(ctx context.Context, userID string) (*models.Budget, error)
}

// HistoryReader lists entries from the append-only history store. Nil when
// the history mirror is disabled.
type HistoryReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.LedgerEntry, error)
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     zerolog.Logger

	wallets   WalletManager
	syncer    Syncer
	ledger    Ledger
	portfolio PortfolioViewer
	budgets   Budgeter
	history   HistoryReader
}

// Deps bundles the server's collaborators.
type Deps struct {
	Wallets   WalletManager
	Syncer    Syncer
	Ledger    Ledger
	Portfolio PortfolioViewer
	Budgets   Budgeter
	History   HistoryReader
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger.With().Str("component", "api").Logger(),
		wallets:   deps.Wallets,
		syncer:    deps.Syncer,
		ledger:    deps.Ledger,
		portfolio: deps.Portfolio,
		budgets:   deps.Budgets,
		history:   deps.History,
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(recoverer(s.logger))
	s.router.Use(requestLogger(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(requireUser(s.logger))

	v1.HandleFunc("/wallets", s.handleCreateWallet).Methods(http.MethodPost)
	v1.HandleFunc("/wallets", s.handleListWallets).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/{id}", s.handleGetWallet).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/{id}", s.handleDeactivateWallet).Methods(http.MethodDelete)
	v1.HandleFunc("/wallets/{id}/sync", s.handleSyncWallet).Methods(http.MethodPost)

	v1.HandleFunc("/ledger", s.handleRecordEntry).Methods(http.MethodPost)
	v1.HandleFunc("/ledger", s.handleListEntries).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/history", s.handleHistory).Methods(http.MethodGet)

	v1.HandleFunc("/portfolio", s.handlePortfolio).Methods(http.MethodGet)

	v1.HandleFunc("/budget", s.handleSetBudget).Methods(http.MethodPut)
	v1.HandleFunc("/budget", s.handleGetBudget).Methods(http.MethodGet)
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
