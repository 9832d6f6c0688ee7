package app

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	httpapi "github.com/shestoi/order-platform/internal/api/http"
	"github.com/shestoi/order-platform/internal/config"
	eventkafka "github.com/shestoi/order-platform/internal/event/kafka"
	"github.com/shestoi/order-platform/internal/platform/logging"
	"github.com/shestoi/order-platform/internal/platform/shutdown"
	"github.com/shestoi/order-platform/internal/repository/postgres"
	"github.com/shestoi/order-platform/internal/search"
)

// QueryApp содержит все зависимости read-стороны: projection consumer,
// индексация в Elasticsearch и HTTP API запросов
type QueryApp struct {
	logger      *zap.Logger
	httpServer  *http.Server
	consumer    *eventkafka.ProjectionConsumer
	shutdownMgr *shutdown.Manager
	wg          sync.WaitGroup
}

// BuildQuery собирает граф зависимостей query service
func BuildQuery(cfg config.QueryConfig) (*QueryApp, error) {
	const op = "app.BuildQuery"

	logger, err := logging.New(logging.Config{
		ServiceName: "query",
		Env:         os.Getenv("APP_ENV"),
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building query service", zap.String("http_addr", cfg.HTTPAddr))

	// Подключаемся к PostgreSQL (read models живут рядом с event log,
	// миграции накатывает command service)
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

	// Подключаемся к Elasticsearch
	logger.Info("Connecting to Elasticsearch", zap.Strings("addrs", cfg.ElasticAddrs))
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.ElasticAddrs,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	indexer := search.NewIndexer(logger, esClient, cfg.IndexAttempts, cfg.IndexBackoff)
	if err := indexer.EnsureIndex(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	readiness := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx) == nil
	}

	// Projection consumer сворачивает события в read model и индексирует
	readModels := postgres.NewReadModels(pool)
	consumer := eventkafka.NewProjectionConsumer(logger,
		cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.EventsTopic, readModels, indexer)

	// HTTP API запросов
	queryService := search.NewQueryService(logger, esClient)
	maintenance := func() bool { return cfg.MaintenanceMode }
	handler := httpapi.NewQueryHandler(logger, queryService, maintenance)
	router := httpapi.NewQueryRouter(handler, readiness)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownMgr := shutdown.New(cfg.ShutdownTimeout, logger)
	shutdownMgr.Add("postgres_pool", shutdown.ClosePool(pool))
	shutdownMgr.Add("kafka_consumer", shutdown.CloseResource(consumer))
	shutdownMgr.Add("http_server", shutdown.ShutdownHTTPServer(httpServer))

	return &QueryApp{
		logger:      logger,
		httpServer:  httpServer,
		consumer:    consumer,
		shutdownMgr: shutdownMgr,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *QueryApp) Run() error {
	defer logging.Sync(a.logger)

	a.logger.Info("Starting query service", zap.String("addr", a.httpServer.Addr))

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())

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
		if err := a.consumer.Start(consumerCtx); err != nil {
			a.logger.Error("Projection consumer error", zap.Error(err))
		}
	}()

	// consumer останавливаем первым: текущее сообщение дорабатывается
	a.shutdownMgr.Add("projection_loop", func(ctx context.Context) error {
		cancelConsumer()
		return nil
	})

	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("Query service stopped")
	return nil
}
