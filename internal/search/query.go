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

	"github.com/shestoi/order-platform/internal/domain"
)

// Символы, вырезаемые из пользовательского полнотекстового запроса
// до построения query — защита от инъекции синтаксиса запросов.
const strippedChars = `<>{}[]"'\`

// Поля, по которым разрешена сортировка. Всё остальное отбрасывается
// в пользу сортировки по умолчанию.
var sortableFields = map[string]string{
	"createdAt":   "createdAt",
	"updatedAt":   "updatedAt",
	"totalAmount": "totalAmount",
	"status":      "status",
	"orderId":     "orderId",
}

// FindParams — структурированный фильтр списка заказов.
// Все фильтры опциональны и комбинируются через AND.
type FindParams struct {
	Status     string
	CustomerID string
	FromDate   *time.Time
	ToDate     *time.Time
	Page       int
	Size       int
	SortField  string
	SortDir    string
}

// SearchResult — страница результатов запроса
type SearchResult struct {
	Orders []OrderDocument `json:"orders"`
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
}

// QueryService выполняет поисковые запросы по индексу заказов
type QueryService struct {
	logger *zap.Logger
	client *elasticsearch.Client
}

// NewQueryService создаёт query service поверх клиента Elasticsearch
func NewQueryService(logger *zap.Logger, client *elasticsearch.Client) *QueryService {
	return &QueryService{logger: logger, client: client}
}

// FindOrders возвращает страницу заказов по структурированному фильтру.
// Отсутствие всех фильтров означает выборку всех документов.
func (q *QueryService) FindOrders(ctx context.Context, params FindParams) (SearchResult, error) {
	body := buildFilterQuery(params)
	return q.execute(ctx, body, params.Page, params.Size)
}

// SearchOrders выполняет полнотекстовый поиск по идентификаторам заказа
// и клиента и по sku/названию товара внутри nested items.
func (q *QueryService) SearchOrders(ctx context.Context, query string, page, size int) (SearchResult, error) {
	sanitized := SanitizeQuery(query)
	body := buildSearchQuery(sanitized)
	page, size = normalizePage(page, size)
	body["from"] = page * size
	body["size"] = size
	return q.execute(ctx, body, page, size)
}

// FindByID возвращает документ заказа или domain.ErrNotFound
func (q *QueryService) FindByID(ctx context.Context, orderID string) (OrderDocument, error) {
	res, err := q.client.Get(IndexName, orderID,
		q.client.Get.WithContext(ctx),
	)
	if err != nil {
		return OrderDocument{}, fmt.Errorf("get document %s: %w", orderID, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return OrderDocument{}, domain.ErrNotFound
	}
	if res.IsError() {
		return OrderDocument{}, fmt.Errorf("get document %s: status %s", orderID, res.Status())
	}

	var envelope struct {
		Source OrderDocument `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return OrderDocument{}, fmt.Errorf("decode document %s: %w", orderID, err)
	}
	return envelope.Source, nil
}

func (q *QueryService) execute(ctx context.Context, body map[string]any, page, size int) (SearchResult, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return SearchResult{}, fmt.Errorf("encode search query: %w", err)
	}

	res, err := q.client.Search(
		q.client.Search.WithContext(ctx),
		q.client.Search.WithIndex(IndexName),
		q.client.Search.WithBody(bytes.NewReader(encoded)),
	)
	if err != nil {
		return SearchResult{}, fmt.Errorf("execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return SearchResult{}, fmt.Errorf("search response status %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source OrderDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return SearchResult{}, fmt.Errorf("decode search response: %w", err)
	}

	orders := make([]OrderDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		orders = append(orders, hit.Source)
	}

	return SearchResult{
		Orders: orders,
		Total:  parsed.Hits.Total.Value,
		Page:   page,
		Size:   size,
	}, nil
}

// SanitizeQuery вырезает из строки запроса символы синтаксиса
func SanitizeQuery(query string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(strippedChars, r) {
			return -1
		}
		return r
	}, query)
}

// buildFilterQuery собирает bool-запрос из опциональных фильтров
func buildFilterQuery(params FindParams) map[string]any {
	var filters []map[string]any

	if params.Status != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"status": params.Status},
		})
	}
	if params.CustomerID != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"customerId": params.CustomerID},
		})
	}
	if params.FromDate != nil || params.ToDate != nil {
		rangeBody := map[string]any{}
		if params.FromDate != nil {
			rangeBody["gte"] = params.FromDate.UTC().Format(time.RFC3339)
		}
		if params.ToDate != nil {
			rangeBody["lte"] = params.ToDate.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"createdAt": rangeBody},
		})
	}

	var query map[string]any
	if len(filters) == 0 {
		query = map[string]any{"match_all": map[string]any{}}
	} else {
		query = map[string]any{
			"bool": map[string]any{"filter": filters},
		}
	}

	page, size := normalizePage(params.Page, params.Size)
	return map[string]any{
		"query": query,
		"from":  page * size,
		"size":  size,
		"sort":  buildSort(params.SortField, params.SortDir),
	}
}

// buildSearchQuery собирает полнотекстовый OR-запрос:
// верхнеуровневые идентификаторы плюс nested items, хотя бы одно совпадение
func buildSearchQuery(query string) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"should": []map[string]any{
					{
						"multi_match": map[string]any{
							"query":  query,
							"fields": []string{"orderId", "customerId"},
						},
					},
					{
						"nested": map[string]any{
							"path": "items",
							"query": map[string]any{
								"multi_match": map[string]any{
									"query":  query,
									"fields": []string{"items.sku", "items.productName"},
								},
							},
						},
					},
				},
				"minimum_should_match": 1,
			},
		},
	}
}

func buildSort(field, direction string) []map[string]any {
	sortField, ok := sortableFields[field]
	if !ok {
		sortField = "createdAt"
	}
	dir := "desc"
	if strings.EqualFold(direction, "asc") {
		dir = "asc"
	}
	return []map[string]any{
		{sortField: map[string]any{"order": dir}},
	}
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
