package ebay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/athebyme/ebay-publisher/pkg/interfaces"
)

const mediaUploadPath = "/commerce/media/v1_beta/image/create_image_from_file"

// MediaClient загружает изображения на хостинг маркетплейса.
// Временные ошибки повторяются по той же политике, что и у основного клиента
type MediaClient struct {
	httpClient  *http.Client
	baseURL     string
	tokens      TokenProvider
	logger      interfaces.LoggerPort
	maxAttempts int
	retryWait   time.Duration
}

var _ ImageUploader = (*MediaClient)(nil)

// NewMediaClient создает клиента хостинга изображений
func NewMediaClient(baseURL string, tokens TokenProvider, logger interfaces.LoggerPort, opts ...MediaOption) *MediaClient {
	c := &MediaClient{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     baseURL,
		tokens:      tokens,
		logger:      logger,
		maxAttempts: 3,
		retryWait:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MediaOption настраивает клиента хостинга изображений
type MediaOption func(*MediaClient)

// WithMediaHTTPClient подменяет транспорт (используется в тестах)
func WithMediaHTTPClient(hc *http.Client) MediaOption {
	return func(c *MediaClient) { c.httpClient = hc }
}

type mediaResponse struct {
	ImageURL string `json:"imageUrl"`
	Image    struct {
		ImageURL string `json:"imageUrl"`
	} `json:"image"`
}

// UploadImage загружает файл и возвращает https-адрес на хостинге.
// Тело multipart собирается заново на каждую попытку
func (c *MediaClient) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	token, err := c.tokens.ValidToken(ctx)
	if err != nil {
		return "", &AuthError{Op: "get valid token", Err: err}
	}

	var lastErr error
	wait := c.retryWait

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		url, status, headers, err := c.attempt(ctx, filename, data, token)
		if err == nil {
			return url, nil
		}
		lastErr = err

		retriable := false
		if status == http.StatusTooManyRequests {
			retriable = true
			wait = retryAfter(headers, wait)
		} else if status >= 500 || status == 0 {
			retriable = true
		}

		if !retriable || attempt == c.maxAttempts {
			break
		}

		c.logger.WarnWithContext(ctx, "Повтор загрузки изображения",
			interfaces.LogField{Key: "file", Value: filename},
			interfaces.LogField{Key: "attempt", Value: attempt},
			interfaces.LogField{Key: "status", Value: status},
			interfaces.LogField{Key: "wait", Value: wait.String()},
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}

	return "", lastErr
}

// attempt одна попытка загрузки. Возвращает статус для решения о повторе
func (c *MediaClient) attempt(ctx context.Context, filename string, data []byte, token string) (string, int, http.Header, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", 0, nil, fmt.Errorf("ошибка сборки multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", 0, nil, fmt.Errorf("ошибка записи multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", 0, nil, fmt.Errorf("ошибка завершения multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+mediaUploadPath, &body)
	if err != nil {
		return "", 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, resp.Header, err
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(resp.StatusCode, respBody, "", resp.Header.Get(headerRequestID))
		return "", resp.StatusCode, resp.Header, apiErr
	}

	var mr mediaResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return "", resp.StatusCode, resp.Header, fmt.Errorf("ошибка разбора ответа хостинга: %w", err)
	}

	url := mr.ImageURL
	if url == "" {
		url = mr.Image.ImageURL
	}
	if url == "" {
		if loc := resp.Header.Get("Location"); loc != "" {
			url = loc
		}
	}
	if !strings.HasPrefix(url, "https://") {
		return "", resp.StatusCode, resp.Header, fmt.Errorf("хостинг вернул непригодный адрес изображения: %q", url)
	}

	return url, resp.StatusCode, resp.Header, nil
}
