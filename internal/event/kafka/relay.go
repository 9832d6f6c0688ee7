package kafka

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/repository"
)

// Publisher — абстракция брокера для relay. Позволяет подменять
// Kafka writer в тестах на in-memory реализацию.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// OutboxRelay периодически выбирает PENDING строки из outbox и публикует
// их в брокер. Гарантия — at-least-once: строка помечается PUBLISHED только
// после успешной записи в брокер, поэтому повторная публикация возможна.
type OutboxRelay struct {
	logger     *zap.Logger
	outbox     repository.OutboxStore
	publisher  Publisher
	batchSize  int
	interval   time.Duration
	maxRetries int
	backoff    time.Duration
}

// NewOutboxRelay создаёт новый outbox relay.
// batchSize — сколько строк выбирается за один проход,
// interval — период между проходами,
// maxRetries и backoff задают retry публикации одной строки.
func NewOutboxRelay(
	logger *zap.Logger,
	outbox repository.OutboxStore,
	publisher Publisher,
	batchSize int,
	interval time.Duration,
	maxRetries int,
	backoff time.Duration,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	return &OutboxRelay{
		logger:     logger,
		outbox:     outbox,
		publisher:  publisher,
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Start запускает relay. Блокируется до отмены контекста; текущий батч
// дорабатывается до конца перед остановкой.
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.logger.Info("starting outbox relay",
		zap.Int("batch_size", r.batchSize),
		zap.Duration("interval", r.interval),
		zap.Int("max_retries", r.maxRetries),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// первый проход сразу при старте, не дожидаясь тика
	if err := r.ProcessBatch(ctx); err != nil {
		r.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := r.ProcessBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch обрабатывает один батч PENDING строк.
// Сбой публикации одной строки не прерывает батч: строка помечается
// FAILED, остальные продолжают обрабатываться.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	records, err := r.outbox.FindPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("find pending outbox records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	r.logger.Debug("processing outbox batch", zap.Int("count", len(records)))

	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := r.processRecord(ctx, record); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("failed to relay outbox record",
				zap.Error(err),
				zap.String("outbox_id", record.ID.String()),
				zap.String("event_type", record.EventType),
				zap.String("aggregate_id", record.AggregateID.String()),
			)
		}
	}
	return nil
}

// processRecord публикует одну строку с retry; после исчерпания попыток
// строка помечается FAILED с текстом последней ошибки
func (r *OutboxRelay) processRecord(ctx context.Context, record repository.OutboxRecord) error {
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		err := r.publisher.Publish(ctx, record.AggregateID.String(), record.Payload)
		if err == nil {
			if markErr := r.outbox.MarkPublished(ctx, record.ID, time.Now().UTC()); markErr != nil {
				return fmt.Errorf("mark outbox record published: %w", markErr)
			}
			r.logger.Info("outbox record published",
				zap.String("outbox_id", record.ID.String()),
				zap.String("event_type", record.EventType),
				zap.String("aggregate_id", record.AggregateID.String()),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		r.logger.Warn("failed to publish outbox record",
			zap.Error(err),
			zap.String("outbox_id", record.ID.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.maxRetries),
		)

		if attempt < r.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
	}

	// остановка процесса — не приговор строке: она остаётся PENDING
	// и будет опубликована следующим запуском relay-я
	if ctx.Err() != nil {
		return ctx.Err()
	}

	errMsg := fmt.Sprintf("failed after %d attempts: %v", r.maxRetries, lastErr)
	if markErr := r.outbox.MarkFailed(ctx, record.ID, errMsg); markErr != nil {
		return fmt.Errorf("mark outbox record failed: %w", markErr)
	}
	return fmt.Errorf("publish outbox record after %d attempts: %w", r.maxRetries, lastErr)
}
