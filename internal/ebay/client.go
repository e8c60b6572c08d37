package ebay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/google/uuid"
)

const (
	headerCorrelationID = "X-Correlation-ID"
	headerRequestID     = "X-EBAY-C-REQUEST-ID"
	headerMarketplaceID = "X-EBAY-C-MARKETPLACE-ID"
)

// TokenProvider источник действующих токенов доступа для клиента.
// ForceRefresh вызывается единожды за запрос при отказе в авторизации
type TokenProvider interface {
	ValidToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Client HTTP-клиент Sell API с политикой повторов.
// Временные ошибки (5xx, 429, сетевые) повторяются с экспоненциальной
// задержкой и джиттером; остальные 4xx возвращаются как есть
type Client struct {
	httpClient    *http.Client
	baseURL       string
	marketplaceID string
	tokens        TokenProvider
	logger        interfaces.LoggerPort
	maxAttempts   int
	retryWait     time.Duration
}

// ClientOption настраивает клиента при создании
type ClientOption func(*Client)

// WithHTTPClient подменяет транспорт (используется в тестах)
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy задает число попыток и базовую задержку между ними
func WithRetryPolicy(maxAttempts int, wait time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if wait > 0 {
			c.retryWait = wait
		}
	}
}

// NewClient создает клиента Sell API
func NewClient(baseURL, marketplaceID string, tokens TokenProvider, logger interfaces.LoggerPort, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       baseURL,
		marketplaceID: marketplaceID,
		tokens:        tokens,
		logger:        logger,
		maxAttempts:   3,
		retryWait:     time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do выполняет запрос с повторами. Тело сериализуется один раз,
// на каждую попытку строится новый http.Request.
// Заголовок Authorization никогда не попадает в логи
func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации тела запроса: %w", err)
		}
	}

	correlationID := uuid.New().String()
	token, err := c.tokens.ValidToken(ctx)
	if err != nil {
		return nil, &AuthError{Op: "get valid token", Err: err}
	}

	authRetried := false
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		respBody, status, headers, err := c.attempt(ctx, method, path, payload, token, correlationID)
		if err != nil {
			// Сетевая ошибка, считается временной
			lastErr = fmt.Errorf("ошибка запроса %s %s: %w", method, path, err)
			c.logger.WarnWithContext(ctx, "Сетевая ошибка запроса к eBay",
				interfaces.LogField{Key: "method", Value: method},
				interfaces.LogField{Key: "path", Value: path},
				interfaces.LogField{Key: "attempt", Value: attempt},
				interfaces.LogField{Key: "correlation_id", Value: correlationID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			if attempt < c.maxAttempts && c.sleep(ctx, c.backoff(attempt)) != nil {
				return nil, ctx.Err()
			}
			continue
		}

		requestID := headers.Get(headerRequestID)

		if status >= 200 && status < 300 {
			return respBody, nil
		}

		apiErr := parseAPIError(status, respBody, correlationID, requestID)

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			if authRetried {
				return nil, &AuthError{Op: fmt.Sprintf("%s %s", method, path), Err: apiErr}
			}
			authRetried = true
			token, err = c.tokens.ForceRefresh(ctx)
			if err != nil {
				return nil, &AuthError{Op: "force refresh token", Err: err}
			}
			c.logger.InfoWithContext(ctx, "Токен принудительно обновлен после отказа в авторизации",
				interfaces.LogField{Key: "correlation_id", Value: correlationID},
				interfaces.LogField{Key: "request_id", Value: requestID},
			)
			// Повтор после обновления не расходует бюджет попыток
			attempt--
			continue
		}

		if status == http.StatusTooManyRequests {
			lastErr = apiErr
			if attempt < c.maxAttempts {
				wait := retryAfter(headers, c.backoff(attempt))
				c.logger.WarnWithContext(ctx, "Превышен лимит запросов к eBay",
					interfaces.LogField{Key: "path", Value: path},
					interfaces.LogField{Key: "attempt", Value: attempt},
					interfaces.LogField{Key: "wait", Value: wait.String()},
					interfaces.LogField{Key: "correlation_id", Value: correlationID},
					interfaces.LogField{Key: "request_id", Value: requestID},
				)
				if c.sleep(ctx, wait) != nil {
					return nil, ctx.Err()
				}
			}
			continue
		}

		if status >= 500 {
			lastErr = apiErr
			c.logger.WarnWithContext(ctx, "Ошибка сервера eBay",
				interfaces.LogField{Key: "method", Value: method},
				interfaces.LogField{Key: "path", Value: path},
				interfaces.LogField{Key: "status", Value: status},
				interfaces.LogField{Key: "attempt", Value: attempt},
				interfaces.LogField{Key: "correlation_id", Value: correlationID},
				interfaces.LogField{Key: "request_id", Value: requestID},
			)
			if attempt < c.maxAttempts && c.sleep(ctx, c.backoff(attempt)) != nil {
				return nil, ctx.Err()
			}
			continue
		}

		// Остальные 4xx повтору не подлежат
		return nil, apiErr
	}

	return nil, lastErr
}

// attempt выполняет одну HTTP-попытку
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, token, correlationID string) ([]byte, int, http.Header, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Language", "en-US")
	req.Header.Set(headerMarketplaceID, c.marketplaceID)
	req.Header.Set(headerCorrelationID, correlationID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, err
	}

	return respBody, resp.StatusCode, resp.Header, nil
}

// backoff экспоненциальная задержка с джиттером
func (c *Client) backoff(attempt int) time.Duration {
	base := c.retryWait << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(c.retryWait)))
	return base + jitter
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfter читает заголовок Retry-After, возвращая fallback при его отсутствии
func retryAfter(headers http.Header, fallback time.Duration) time.Duration {
	v := headers.Get("Retry-After")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// parseAPIError разбирает конверт ошибок API.
// Нечитаемое тело не скрывает исходный статус
func parseAPIError(status int, body []byte, correlationID, requestID string) *APIError {
	apiErr := &APIError{
		StatusCode:    status,
		CorrelationID: correlationID,
		RequestID:     requestID,
		Message:       http.StatusText(status),
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Errors) > 0 {
		apiErr.ErrorID = env.Errors[0].ErrorID
		apiErr.ErrDomain = env.Errors[0].Domain
		apiErr.Message = env.Errors[0].Message
	}

	return apiErr
}

// CreateOrReplaceInventoryItem создает или полностью заменяет карточку товара.
// Операция идемпотентна: повтор с тем же SKU перезаписывает карточку
func (c *Client) CreateOrReplaceInventoryItem(ctx context.Context, sku string, item *InventoryItemPayload) error {
	path := "/sell/inventory/v1/inventory_item/" + url.PathEscape(sku)
	_, err := c.do(ctx, http.MethodPut, path, item)
	return err
}

// CreateOffer создает оффер и возвращает его идентификатор
func (c *Client) CreateOffer(ctx context.Context, offer *OfferPayload) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/sell/inventory/v1/offer", offer)
	if err != nil {
		return "", err
	}

	var resp createOfferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("ошибка разбора ответа создания оффера: %w", err)
	}
	return resp.OfferID, nil
}

// GetOffer возвращает оффер по идентификатору
func (c *Client) GetOffer(ctx context.Context, offerID string) (*OfferDetail, error) {
	path := "/sell/inventory/v1/offer/" + url.PathEscape(offerID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var offer OfferDetail
	if err := json.Unmarshal(body, &offer); err != nil {
		return nil, fmt.Errorf("ошибка разбора оффера %s: %w", offerID, err)
	}
	return &offer, nil
}

// GetOffersBySKU возвращает офферы, привязанные к SKU на маркетплейсе.
// Отсутствие офферов (404) не ошибка, возвращается пустой список
func (c *Client) GetOffersBySKU(ctx context.Context, sku string) ([]OfferDetail, error) {
	path := fmt.Sprintf("/sell/inventory/v1/offer?sku=%s&marketplace_id=%s",
		url.QueryEscape(sku), url.QueryEscape(c.marketplaceID))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var list offerList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("ошибка разбора списка офферов: %w", err)
	}
	return list.Offers, nil
}

// UpdateOffer полностью заменяет оффер
func (c *Client) UpdateOffer(ctx context.Context, offerID string, offer *OfferPayload) error {
	path := "/sell/inventory/v1/offer/" + url.PathEscape(offerID)
	_, err := c.do(ctx, http.MethodPut, path, offer)
	return err
}

// DeleteOffer удаляет оффер. Уже отсутствующий оффер (404) не ошибка
func (c *Client) DeleteOffer(ctx context.Context, offerID string) error {
	path := "/sell/inventory/v1/offer/" + url.PathEscape(offerID)
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// PublishOffer публикует оффер и возвращает идентификатор листинга.
// Конфликт (409) означает, что оффер уже опубликован: операция считается
// успешной, идентификатор листинга восстанавливается из конверта ответа
func (c *Client) PublishOffer(ctx context.Context, offerID string) (string, error) {
	path := "/sell/inventory/v1/offer/" + url.PathEscape(offerID) + "/publish"
	body, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			c.logger.InfoWithContext(ctx, "Оффер уже опубликован, конфликт трактуется как успех",
				interfaces.LogField{Key: "offer_id", Value: offerID},
				interfaces.LogField{Key: "correlation_id", Value: apiErr.CorrelationID},
			)
			return c.recoverListingID(ctx, offerID)
		}
		return "", err
	}

	var resp publishResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("ошибка разбора ответа публикации: %w", err)
	}
	return resp.ListingID, nil
}

// recoverListingID читает оффер обратно, чтобы достать listingId
// уже опубликованного листинга
func (c *Client) recoverListingID(ctx context.Context, offerID string) (string, error) {
	offer, err := c.GetOffer(ctx, offerID)
	if err != nil {
		return "", err
	}
	if offer.Listing == nil {
		return "", nil
	}
	return offer.Listing.ListingID, nil
}

// GetItemAspects возвращает схему аспектов листовой категории
func (c *Client) GetItemAspects(ctx context.Context, categoryTreeID, categoryID string) (*AspectMetadata, error) {
	path := fmt.Sprintf("/commerce/taxonomy/v1/category_tree/%s/get_item_aspects_for_category?category_id=%s",
		url.PathEscape(categoryTreeID), url.QueryEscape(categoryID))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var meta AspectMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("ошибка разбора схемы аспектов категории %s: %w", categoryID, err)
	}
	return &meta, nil
}

// GetMerchantPolicies возвращает первые преднастроенные политики продавца.
// Используется как подстраховка, когда идентификаторы политик
// не заданы в конфигурации
func (c *Client) GetMerchantPolicies(ctx context.Context) (*MerchantPolicies, error) {
	q := "?marketplace_id=" + url.QueryEscape(c.marketplaceID)
	policies := &MerchantPolicies{}

	body, err := c.do(ctx, http.MethodGet, "/sell/account/v1/payment_policy"+q, nil)
	if err != nil {
		return nil, err
	}
	var pay paymentPolicyList
	if err := json.Unmarshal(body, &pay); err != nil {
		return nil, fmt.Errorf("ошибка разбора платежных политик: %w", err)
	}
	if len(pay.PaymentPolicies) > 0 {
		policies.PaymentPolicyID = pay.PaymentPolicies[0].PaymentPolicyID
	}

	body, err = c.do(ctx, http.MethodGet, "/sell/account/v1/return_policy"+q, nil)
	if err != nil {
		return nil, err
	}
	var ret returnPolicyList
	if err := json.Unmarshal(body, &ret); err != nil {
		return nil, fmt.Errorf("ошибка разбора политик возврата: %w", err)
	}
	if len(ret.ReturnPolicies) > 0 {
		policies.ReturnPolicyID = ret.ReturnPolicies[0].ReturnPolicyID
	}

	body, err = c.do(ctx, http.MethodGet, "/sell/account/v1/fulfillment_policy"+q, nil)
	if err != nil {
		return nil, err
	}
	var ful fulfillmentPolicyList
	if err := json.Unmarshal(body, &ful); err != nil {
		return nil, fmt.Errorf("ошибка разбора политик доставки: %w", err)
	}
	if len(ful.FulfillmentPolicies) > 0 {
		policies.FulfillmentPolicyID = ful.FulfillmentPolicies[0].FulfillmentPolicyID
	}

	return policies, nil
}

// asAPIError обертка errors.As для единообразных проверок статуса
func asAPIError(err error, target **APIError) bool {
	return err != nil && errors.As(err, target)
}
