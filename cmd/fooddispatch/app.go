package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/agamariel/fooddispatch/internal/alerts"
	"github.com/agamariel/fooddispatch/internal/auth"
	"github.com/agamariel/fooddispatch/internal/config"
	"github.com/agamariel/fooddispatch/internal/handlers"
	"github.com/agamariel/fooddispatch/internal/migrations"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/notify"
	"github.com/agamariel/fooddispatch/internal/payments"
	"github.com/agamariel/fooddispatch/internal/routing"
	"github.com/agamariel/fooddispatch/internal/services"
	"github.com/agamariel/fooddispatch/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// App структура для управления приложением и его зависимостями.
type App struct {
	cfg     *config.Config
	logger  *log.Logger
	dbPool  *pgxpool.Pool
	echo    *echo.Echo
	hub     *notify.Hub
	push    *notify.Async
	sweeper *services.AcceptanceSweeper
	stopped <-chan struct{}

	// Handlers
	orderHandler     *handlers.OrderHandler
	driverHandler    *handlers.DriverHandler
	walletHandler    *handlers.WalletHandler
	provisionHandler *handlers.ProvisionHandler
}

// NewApp создаёт и инициализирует новое приложение.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		logger: log.Default(),
	}

	if app.cfg.PlatformAccountID == uuid.Nil {
		return nil, errors.New("PLATFORM_ACCOUNT_ID is required")
	}

	if err := app.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initDependencies(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	app.initServer()

	log.Println("Starting acceptance sweeper...")
	app.stopped = app.sweeper.Start(ctx)

	return app, nil
}

// initDatabase подключается к базе данных и выполняет миграции.
func (app *App) initDatabase(ctx context.Context) error {
	if app.cfg.DatabaseURI == "" {
		return fmt.Errorf("DATABASE_URI is required")
	}

	dbPool, err := pgxpool.New(ctx, app.cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return fmt.Errorf("unable to ping database: %w", err)
	}

	log.Println("Running database migrations...")
	sqlDB := stdlib.OpenDBFromPool(dbPool)
	defer sqlDB.Close()

	if err := migrations.Run(ctx, sqlDB, app.logger); err != nil {
		dbPool.Close()
		return err
	}
	log.Println("Migrations completed successfully")

	app.dbPool = dbPool
	return nil
}

// initDependencies собирает хранилища, шлюзы, сервисы и handlers.
func (app *App) initDependencies(ctx context.Context) error {
	// Storage layer
	orderStorage := storage.NewPostgresOrderStorage(app.dbPool)
	driverStorage := storage.NewPostgresDriverStorage(app.dbPool)
	walletStorage := storage.NewPostgresWalletStorage(app.dbPool)
	catalogStorage := storage.NewPostgresCatalogStorage(app.dbPool)
	contactStorage := storage.NewPostgresContactStorage(app.dbPool)
	auditStorage := storage.NewPostgresAuditStorage(app.dbPool)

	if _, err := walletStorage.EnsureWallet(ctx, app.cfg.PlatformAccountID); err != nil {
		return fmt.Errorf("ensure platform wallet: %w", err)
	}

	// Уведомления
	app.hub = notify.NewHub(app.logger)
	gateways := notify.NewRouter().
		Handle("expo", notify.NewExpoGateway(app.cfg.Notify.ExpoPushURL, app.cfg.Notify.Timeout)).
		Handle("ws", app.hub)
	if app.cfg.Notify.TelegramToken != "" {
		bot, err := notify.NewTelegramBot(app.cfg.Notify.TelegramToken)
		if err != nil {
			return err
		}
		gateways.Handle("tg", notify.NewTelegramGateway(bot))
	} else {
		log.Println("WARNING: TELEGRAM_TOKEN is not configured, tg: addresses will not be notified")
	}
	app.push = notify.NewAsync(gateways, app.cfg.Notify.Timeout, app.logger)
	notifier := services.NewNotifier(app.push, contactStorage, app.logger)

	reporter, err := app.newReporter(ctx)
	if err != nil {
		return err
	}

	var distances routing.Client
	if app.cfg.Routing.Address != "" {
		distances = routing.NewOSRMClient(app.cfg.Routing.Address, app.cfg.Routing.Timeout)
	} else {
		log.Println("WARNING: ROUTING_ADDRESS is not configured. Delivery fees will be degraded to zero!")
	}

	verifier := payments.NewBankVerifier(
		app.cfg.Bank.APIURL,
		app.cfg.Bank.MerchantID,
		app.cfg.Bank.APIKey,
		app.cfg.Bank.APISecret,
		app.cfg.Bank.Timeout,
	)

	// Service layer
	policy, err := services.NewTransitionPolicy()
	if err != nil {
		return err
	}
	pool := services.NewDriverPool(driverStorage, nil)
	ledger := services.NewSettlementLedger(orderStorage, walletStorage, driverStorage, catalogStorage, auditStorage, app.cfg.PlatformAccountID, app.logger)
	engine := services.NewDispatchEngine(
		orderStorage,
		driverStorage,
		catalogStorage,
		pool,
		policy,
		ledger,
		notifier,
		auditStorage,
		reporter,
		services.DispatchConfig{
			RadiusKm:     app.cfg.Dispatch.RadiusKm,
			AcceptWindow: app.cfg.Dispatch.AcceptWindow,
		},
		app.logger,
	)
	checkoutService := services.NewCheckoutService(orderStorage, catalogStorage, driverStorage, distances, notifier, auditStorage, reporter, nil, app.logger)
	paymentService := services.NewPaymentService(orderStorage, catalogStorage, verifier, notifier, auditStorage, nil, app.logger)
	driverService := services.NewDriverService(driverStorage, orderStorage, walletStorage, contactStorage, auditStorage, nil, app.logger)
	walletService := services.NewWalletService(walletStorage, auditStorage, app.logger)

	app.sweeper = services.NewAcceptanceSweeper(orderStorage, engine, ledger, reporter, app.cfg.Dispatch.SweepInterval, nil, app.logger)

	// Handler layer
	app.orderHandler = handlers.NewOrderHandler(checkoutService, engine, paymentService, driverService)
	app.driverHandler = handlers.NewDriverHandler(driverService, app.hub)
	app.walletHandler = handlers.NewWalletHandler(walletService)
	app.provisionHandler = handlers.NewProvisionHandler(driverService)

	return nil
}

// newReporter всегда пишет события в лог и, если настроено, отправляет их в SQS и CloudWatch.
func (app *App) newReporter(ctx context.Context) (alerts.Reporter, error) {
	reporters := alerts.Multi{alerts.NewLogReporter(app.logger)}
	if !app.cfg.Alerts.Enabled() {
		return reporters, nil
	}

	awsCfg, err := alerts.LoadAWSConfig(ctx, app.cfg.Alerts.Region)
	if err != nil {
		return nil, err
	}
	reporters = append(reporters, alerts.NewAWSReporters(awsCfg, app.cfg.Alerts.QueueURL, app.cfg.Alerts.MetricNamespace)...)
	log.Printf("Ops alerts are published to AWS (queue %q, namespace %q)", app.cfg.Alerts.QueueURL, app.cfg.Alerts.MetricNamespace)
	return reporters, nil
}

// initServer инициализирует HTTP-сервер и настраивает маршруты.
func (app *App) initServer() {
	e := echo.New()
	e.Validator = handlers.NewRequestValidator()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.PATCH, echo.DELETE},
	}))

	e.GET("/healthz", app.health)

	// Вызовы сервиса регистрации
	internal := e.Group("/api/internal")
	internal.Use(auth.ProvisionTokenMiddleware(app.cfg.ProvisionToken))
	internal.POST("/provision", app.provisionHandler.Provision)

	// Защищённые маршруты
	api := e.Group("/api")
	api.Use(auth.JWTMiddleware(app.cfg.JWTSecret))

	api.POST("/orders", app.orderHandler.Checkout, auth.RequireRole(models.RoleCustomer, models.RoleRestaurant, models.RoleAdmin))
	api.GET("/orders/:id", app.orderHandler.GetOrder)
	api.PUT("/orders/:id/lines", app.orderHandler.ReplaceLines, auth.RequireRole(models.RoleCustomer, models.RoleAdmin))
	api.PATCH("/orders/:id/status", app.orderHandler.ChangeStatus)
	api.POST("/orders/:id/accept", app.orderHandler.Accept, auth.RequireRole(models.RoleDriver))
	api.POST("/orders/:id/dispatch", app.orderHandler.RetryDispatch, auth.RequireRole(models.RoleRestaurant, models.RoleAdmin))
	api.POST("/orders/:id/payment/confirm", app.orderHandler.ConfirmPayment, auth.RequireRole(models.RoleCustomer, models.RoleAdmin))

	drivers := api.Group("/drivers", auth.RequireRole(models.RoleDriver))
	drivers.PUT("/me/location", app.driverHandler.UpdateLocation)
	drivers.PUT("/me/availability", app.driverHandler.SetAvailability)
	drivers.GET("/me/offers", app.driverHandler.Offers)
	drivers.GET("/ws", app.driverHandler.Stream)

	wallet := api.Group("/wallet", auth.RequireRole(models.RoleRestaurant, models.RoleDriver, models.RoleAdmin))
	wallet.GET("", app.walletHandler.GetWallet)
	wallet.GET("/entries", app.walletHandler.ListEntries)
	wallet.POST("/withdraw", app.walletHandler.Withdraw)
	wallet.POST("/adjust", app.walletHandler.Adjust, auth.RequireRole(models.RoleAdmin))

	app.echo = e
}

func (app *App) health(c echo.Context) error {
	if err := app.dbPool.Ping(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
	}
	return c.String(http.StatusOK, "ok")
}

// Start запускает HTTP-сервер.
func (app *App) Start() error {
	log.Printf("Starting server on %s", app.cfg.RunAddress)
	if err := app.echo.Start(app.cfg.RunAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// Shutdown корректно завершает работу приложения.
// Контекст сверки должен быть отменён до вызова.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	if err := app.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	app.hub.Close()

	select {
	case <-app.stopped:
	case <-ctx.Done():
		log.Println("acceptance sweeper did not stop in time")
	}
	app.push.Wait()

	if app.dbPool != nil {
		app.dbPool.Close()
	}

	log.Println("Server gracefully stopped")
	return nil
}
