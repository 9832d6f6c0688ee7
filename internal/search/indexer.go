package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/projection"
)

// Маппинг индекса заказов: точные поля — keyword, productName — полнотекстовое
// с keyword sub-полем, деньги — scaled_float с factor 100, items — nested.
const indexMapping = `{
  "mappings": {
    "properties": {
      "orderId":         { "type": "keyword" },
      "customerId":      { "type": "keyword" },
      "status":          { "type": "keyword" },
      "currency":        { "type": "keyword" },
      "totalAmount":     { "type": "scaled_float", "scaling_factor": 100 },
      "version":         { "type": "long" },
      "approvedBy":      { "type": "keyword" },
      "rejectionReason": { "type": "text" },
      "canceledBy":      { "type": "keyword" },
      "trackingNumber":  { "type": "keyword" },
      "carrier":         { "type": "keyword" },
      "createdAt":       { "type": "date" },
      "updatedAt":       { "type": "date" },
      "items": {
        "type": "nested",
        "properties": {
          "sku":         { "type": "keyword" },
          "productName": { "type": "text", "fields": { "keyword": { "type": "keyword" } } },
          "quantity":    { "type": "integer" },
          "unitPrice":   { "type": "scaled_float", "scaling_factor": 100 },
          "lineTotal":   { "type": "scaled_float", "scaling_factor": 100 }
        }
      }
    }
  }
}`

// Indexer пишет read model в Elasticsearch.
// Транзиентные сбои ретраятся с экспоненциальным backoff,
// после исчерпания попыток ошибка отдаётся вызывающей стороне.
type Indexer struct {
	logger      *zap.Logger
	client      *elasticsearch.Client
	maxAttempts int
	backoff     time.Duration
}

// NewIndexer создаёт indexer поверх готового клиента Elasticsearch
func NewIndexer(logger *zap.Logger, client *elasticsearch.Client, maxAttempts int, backoff time.Duration) *Indexer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Indexer{
		logger:      logger,
		client:      client,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// EnsureIndex создаёт индекс с маппингом, если его ещё нет
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.client.Indices.Exists([]string{IndexName},
		i.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("check index %s: %w", IndexName, err)
	}
	defer exists.Body.Close()

	if exists.StatusCode == http.StatusOK {
		return nil
	}

	res, err := i.client.Indices.Create(IndexName,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", IndexName, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("create index %s: status %s", IndexName, res.Status())
	}

	i.logger.Info("search index created", zap.String("index", IndexName))
	return nil
}

// IndexOrder апсертит документ заказа по orderId
func (i *Indexer) IndexOrder(ctx context.Context, model projection.OrderReadModel) error {
	doc := DocumentFromReadModel(model)
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.OrderID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		lastErr = i.indexOnce(ctx, doc.OrderID, body)
		if lastErr == nil {
			i.logger.Debug("order indexed",
				zap.String("order_id", doc.OrderID),
				zap.Int64("version", doc.Version),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		i.logger.Warn("failed to index order",
			zap.Error(lastErr),
			zap.String("order_id", doc.OrderID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", i.maxAttempts),
		)

		if attempt < i.maxAttempts {
			// backoff: 1s, 2s, 4s
			delay := i.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("index order %s after %d attempts: %w", doc.OrderID, i.maxAttempts, lastErr)
}

func (i *Indexer) indexOnce(ctx context.Context, orderID string, body []byte) error {
	res, err := i.client.Index(IndexName, bytes.NewReader(body),
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(orderID),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index response status %s", res.Status())
	}
	return nil
}

// DeleteOrder удаляет документ заказа; отсутствие документа не ошибка
func (i *Indexer) DeleteOrder(ctx context.Context, orderID string) error {
	res, err := i.client.Delete(IndexName, orderID,
		i.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", orderID, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete document %s: status %s", orderID, res.Status())
	}
	return nil
}
