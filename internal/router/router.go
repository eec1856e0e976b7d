package router

import (
	"time"

	"nexopos/internal/config"
	"nexopos/internal/handler"
	"nexopos/internal/infra"
	"nexopos/internal/middleware"
	"nexopos/internal/repository"
	"nexopos/internal/service"
	"nexopos/internal/uow"
	"nexopos/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// App is the wired dependency graph. cmd/server starts the HTTP engine and
// the background workers from it.
type App struct {
	Engine *gin.Engine

	Ledger       service.StockLedger
	Reservations service.ReservationManager
	Sales        service.SaleService
	Cash         service.CashService

	SaleRepo    repository.SaleRepository
	InvoiceRepo repository.InvoiceRepository
	Dispatcher  *worker.Dispatcher

	EInvoice          *infra.EInvoiceClient
	EInvoiceBreaker   *infra.CircuitBreaker
	AccountingBreaker *infra.CircuitBreaker
}

// NewServices builds the core services on top of db. Redis-backed hooks are
// attached only when rdb is non-nil.
func NewServices(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	runner := uow.NewGormRunner(db, uow.ParseIsolation(cfg.TxIsolation), uow.Policy{
		MaxAttempts: cfg.TxMaxAttempts,
		BaseBackoff: time.Duration(cfg.TxBaseBackoffMS) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.TxMaxBackoffMS) * time.Millisecond,
	})

	// ── Repositories ─────────────────────────────────────────────────────────
	stockRepo := repository.NewStockRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	cashRepo := repository.NewCashRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	sequenceRepo := repository.NewSequenceRepository()

	// ── Outbound clients ─────────────────────────────────────────────────────
	app := &App{
		SaleRepo:        saleRepo,
		InvoiceRepo:     invoiceRepo,
		EInvoiceBreaker: infra.NewCircuitBreaker(infra.DefaultCBConfig("einvoice")),
	}
	app.EInvoice = infra.NewEInvoiceClient(cfg.EInvoiceSidecarURL, app.EInvoiceBreaker)

	var accounting service.Accounting
	if cfg.AccountingURL != "" {
		app.AccountingBreaker = infra.NewCircuitBreaker(infra.DefaultCBConfig("accounting"))
		accounting = infra.NewAccountingClient(cfg.AccountingURL, app.AccountingBreaker)
	}

	var (
		invoices service.InvoiceGenerator
		notifier service.Notifier
	)
	if rdb != nil {
		app.Dispatcher = worker.NewDispatcher(rdb)
		invoices = worker.NewInvoiceRequester(invoiceRepo, app.Dispatcher)
		notifier = worker.NewReceiptNotifier(app.Dispatcher)
	}

	// ── Services ─────────────────────────────────────────────────────────────
	app.Ledger = service.NewStockLedger(runner, stockRepo, reservationRepo, cfg.MinStock())
	app.Reservations = service.NewReservationManager(runner, stockRepo, reservationRepo, app.Ledger, cfg.MinStock(), cfg.ReservationTTL)
	app.Cash = service.NewCashService(runner, cashRepo, sequenceRepo, accounting, cfg.Tolerance())
	app.Sales = service.NewSaleService(service.SaleDeps{
		Runner:       runner,
		Sales:        saleRepo,
		Stocks:       stockRepo,
		CashRepo:     cashRepo,
		Ledger:       app.Ledger,
		Reservations: app.Reservations,
		Cash:         app.Cash,
		Invoices:     invoices,
		Notifier:     notifier,
	})
	return app
}

// New wires all dependencies and returns the App with a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	app := NewServices(cfg, db, rdb)

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORSOrigin))
	r.Use(middleware.ErrorHandler())

	// ── Handlers ─────────────────────────────────────────────────────────────
	salesH := handler.NewSalesHandler(app.Sales)
	inventoryH := handler.NewInventoryHandler(app.Ledger)
	reservationsH := handler.NewReservationsHandler(app.Reservations)
	cashH := handler.NewCashHandler(app.Cash)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb, app.EInvoiceBreaker, app.AccountingBreaker))

	// Protected routes. The limiter runs after auth so it can key by tenant.
	anyone := middleware.RequireRole(middleware.RoleCashier, middleware.RoleSupervisor, middleware.RoleAdmin)
	managers := middleware.RequireRole(middleware.RoleSupervisor, middleware.RoleAdmin)

	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret), middleware.RateLimiter(cfg.RateLimitRPM, time.Minute))
	{
		sales := v1.Group("/sales")
		{
			sales.POST("", anyone, salesH.Create)
			sales.POST("/checkout", anyone, salesH.Checkout)
			sales.GET("", anyone, salesH.List)
			sales.GET("/:id", anyone, salesH.Get)
			sales.POST("/:id/complete", anyone, salesH.Complete)
			sales.POST("/:id/payments", anyone, salesH.AddPayment)
			// Cancelling a completed sale books refunds, so it needs a supervisor.
			sales.POST("/:id/cancel", managers, salesH.Cancel)
		}

		inv := v1.Group("/inventory")
		{
			inv.GET("/stock", anyone, inventoryH.GetStock)
			inv.GET("/movements", managers, inventoryH.ListMovements)
			inv.GET("/verify", managers, inventoryH.Verify)
			inv.POST("/adjust", managers, inventoryH.Adjust)
			inv.POST("/count", managers, inventoryH.Count)
			inv.POST("/transfer", managers, inventoryH.Transfer)
		}

		res := v1.Group("/reservations", anyone)
		{
			res.POST("", reservationsH.Reserve)
			res.GET("/:id", reservationsH.Get)
			res.POST("/:id/confirm", reservationsH.Confirm)
			res.POST("/:id/release", reservationsH.Release)
		}

		cash := v1.Group("/cash")
		{
			cash.POST("/open", anyone, cashH.Open)
			cash.GET("/active", anyone, cashH.Active)
			cash.POST("/:id/movements", anyone, cashH.Movement)
			cash.GET("/:id/balance", anyone, cashH.Balance)
			cash.GET("/:id/summary", anyone, cashH.Summary)
			cash.POST("/:id/close", anyone, cashH.Close)
			cash.POST("/:id/suspend", anyone, cashH.Suspend)
			cash.POST("/:id/resume", anyone, cashH.Resume)
			cash.POST("/:id/reconcile", managers, cashH.Reconcile)
		}
	}

	// Swagger UI, outside production only
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	app.Engine = r
	return app
}

// WorkerHandlers builds the queue handlers for the worker pool.
func (a *App) WorkerHandlers(cfg *config.Config) (*worker.InvoiceWorker, map[string]worker.Handler) {
	invoiceWorker := worker.NewInvoiceWorker(a.EInvoice, a.InvoiceRepo, a.SaleRepo, a.Dispatcher, cfg.PDFStoragePath, cfg.EInvoiceIssuerID)
	return invoiceWorker, map[string]worker.Handler{
		worker.QueueInvoice: invoiceWorker,
		worker.QueueEmail:   worker.NewEmailWorker(infra.NewMailer(cfg), a.SaleRepo, cfg.PDFStoragePath),
	}
}
