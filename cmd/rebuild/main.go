package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/order-platform/internal/config"
	"github.com/shestoi/order-platform/internal/esource"
	"github.com/shestoi/order-platform/internal/platform/logging"
	"github.com/shestoi/order-platform/internal/projection"
	"github.com/shestoi/order-platform/internal/repository/postgres"
	"github.com/shestoi/order-platform/internal/search"
)

// Maintenance-утилита: перестраивает снимки агрегата или read model целиком.
// На время rebuild read model query service следует переводить в maintenance
// режим (MAINTENANCE_MODE=true), чтобы не отдавать частично перестроенные данные.
func main() {
	var (
		target    = flag.String("target", "", "what to rebuild: snapshots | readmodels")
		aggregate = flag.String("aggregate", "", "aggregate id for snapshots (default: all aggregates)")
		interval  = flag.Int64("interval", esource.DefaultSnapshotInterval, "snapshot interval")
		fromStr   = flag.String("from", "", "replay window start, RFC3339 (default: beginning of log)")
		toStr     = flag.String("to", "", "replay window end, RFC3339 (default: now)")
		reindex   = flag.Bool("reindex", true, "reindex rebuilt read models into the search engine")
	)
	flag.Parse()

	cfg, err := config.LoadQuery()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		ServiceName: "rebuild",
		Env:         os.Getenv("APP_ENV"),
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logging.Sync(logger)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping PostgreSQL: %v", err)
	}

	store := postgres.NewStore(pool)

	switch *target {
	case "snapshots":
		loader := esource.NewLoader(logger, store, store, *interval)
		if *aggregate != "" {
			aggregateID, err := uuid.Parse(*aggregate)
			if err != nil {
				log.Fatalf("-aggregate must be a valid uuid: %v", err)
			}
			if err := loader.Rebuild(ctx, aggregateID); err != nil {
				log.Fatalf("Snapshot rebuild failed: %v", err)
			}
			break
		}

		// без -aggregate перестраиваем снимки всех агрегатов из журнала
		aggregateIDs, err := allAggregateIDs(ctx, store)
		if err != nil {
			log.Fatalf("Failed to list aggregates: %v", err)
		}
		for _, aggregateID := range aggregateIDs {
			if err := loader.Rebuild(ctx, aggregateID); err != nil {
				log.Fatalf("Snapshot rebuild failed for %s: %v", aggregateID, err)
			}
		}

	case "readmodels":
		from, to, err := parseWindow(*fromStr, *toStr)
		if err != nil {
			log.Fatalf("Invalid replay window: %v", err)
		}

		var indexer projection.Indexer
		if *reindex {
			esClient, err := elasticsearch.NewClient(elasticsearch.Config{
				Addresses: cfg.ElasticAddrs,
			})
			if err != nil {
				log.Fatalf("Failed to build Elasticsearch client: %v", err)
			}
			searchIndexer := search.NewIndexer(logger, esClient, cfg.IndexAttempts, cfg.IndexBackoff)
			if err := searchIndexer.EnsureIndex(ctx); err != nil {
				log.Fatalf("Failed to ensure search index: %v", err)
			}
			indexer = searchIndexer
		}

		rebuilder := projection.NewRebuilder(logger, store, postgres.NewReadModels(pool), indexer)
		if err := rebuilder.Rebuild(ctx, from, to); err != nil {
			log.Fatalf("Read model rebuild failed: %v", err)
		}

	default:
		log.Fatalf("Unknown -target %q (expected snapshots or readmodels)", *target)
	}
}

// allAggregateIDs собирает уникальные aggregate id по всему журналу событий
func allAggregateIDs(ctx context.Context, store *postgres.Store) ([]uuid.UUID, error) {
	records, err := store.FindByOccurredAtRange(ctx, time.Time{}, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(records))
	ids := make([]uuid.UUID, 0, len(records))
	for _, record := range records {
		if _, ok := seen[record.AggregateID]; ok {
			continue
		}
		seen[record.AggregateID] = struct{}{}
		ids = append(ids, record.AggregateID)
	}
	return ids, nil
}

func parseWindow(fromStr, toStr string) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC()

	var err error
	if fromStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if toStr != "" {
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return from, to, nil
}
