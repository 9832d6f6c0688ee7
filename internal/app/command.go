package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	httpapi "github.com/shestoi/order-platform/internal/api/http"
	"github.com/shestoi/order-platform/internal/config"
	"github.com/shestoi/order-platform/internal/esource"
	"github.com/shestoi/order-platform/internal/event/kafka"
	"github.com/shestoi/order-platform/internal/platform/logging"
	"github.com/shestoi/order-platform/internal/platform/shutdown"
	"github.com/shestoi/order-platform/internal/repository/postgres"
	"github.com/shestoi/order-platform/internal/service"
)

// CommandApp содержит все зависимости write-стороны: HTTP API команд,
// event store поверх PostgreSQL и outbox relay в Kafka
type CommandApp struct {
	logger      *zap.Logger
	httpServer  *http.Server
	relay       *kafka.OutboxRelay
	shutdownMgr *shutdown.Manager
	wg          sync.WaitGroup
}

// BuildCommand собирает граф зависимостей command service
func BuildCommand(cfg config.CommandConfig) (*CommandApp, error) {
	const op = "app.BuildCommand"

	logger, err := logging.New(logging.Config{
		ServiceName: "command",
		Env:         os.Getenv("APP_ENV"),
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building command service", zap.String("http_addr", cfg.HTTPAddr))

	// Подключаемся к PostgreSQL
	logger.Info("Connecting to PostgreSQL")
	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL connection established")

	// Применяем миграции
	if err := applyMigrations(logger, cfg.PostgresDSN); err != nil {
		pool.Close()
		return nil, err
	}

	readiness := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx) == nil
	}

	// Хранилище, loader и command service
	store := postgres.NewStore(pool)
	loader := esource.NewLoader(logger, store, store, cfg.SnapshotInterval)
	commandService := service.NewCommandService(logger, loader, store, store)

	// Outbox relay публикует события в Kafka
	publisher := kafka.NewEventPublisher(logger, cfg.KafkaBrokers, cfg.EventsTopic)
	relay := kafka.NewOutboxRelay(logger, store, publisher,
		cfg.OutboxBatchSize, cfg.OutboxInterval, cfg.OutboxMaxRetries, cfg.OutboxBackoff)

	// HTTP API
	handler := httpapi.NewCommandHandler(logger, commandService)
	router := httpapi.NewCommandRouter(handler, readiness)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown в обратном порядке регистрации:
	// сначала HTTP сервер, потом publisher, последним пул
	shutdownMgr := shutdown.New(cfg.ShutdownTimeout, logger)
	shutdownMgr.Add("postgres_pool", shutdown.ClosePool(pool))
	shutdownMgr.Add("kafka_publisher", shutdown.CloseResource(publisher))
	shutdownMgr.Add("http_server", shutdown.ShutdownHTTPServer(httpServer))

	return &CommandApp{
		logger:      logger,
		httpServer:  httpServer,
		relay:       relay,
		shutdownMgr: shutdownMgr,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *CommandApp) Run() error {
	defer logging.Sync(a.logger)

	a.logger.Info("Starting command service", zap.String("addr", a.httpServer.Addr))

	relayCtx, cancelRelay := context.WithCancel(context.Background())

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.relay.Start(relayCtx); err != nil {
			a.logger.Error("Outbox relay error", zap.Error(err))
		}
	}()

	// relay останавливаем до закрытия publisher-а
	a.shutdownMgr.Add("outbox_relay", func(ctx context.Context) error {
		cancelRelay()
		return nil
	})

	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("Command service stopped")
	return nil
}

// applyMigrations накатывает goose миграции из каталога migrations/
func applyMigrations(logger *zap.Logger, dsn string) error {
	logger.Info("Applying database migrations")

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	migrationsDir := filepath.Join(wd, "migrations")

	if err := goose.Up(db, migrationsDir); err != nil {
		return err
	}
	logger.Info("Database migrations applied successfully")
	return nil
}
