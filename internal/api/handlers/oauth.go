package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/athebyme/ebay-publisher/internal/adapters/messaging"
	"github.com/athebyme/ebay-publisher/internal/domain/models"
	"github.com/athebyme/ebay-publisher/internal/ebay"
	"github.com/athebyme/ebay-publisher/internal/security"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/go-chi/render"
)

// ConnectionManager операции подключения к маркетплейсу
type ConnectionManager interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*models.TokenSummary, error)
	ConnectionStatus(ctx context.Context) (*models.ConnectionStatus, error)
	Disconnect(ctx context.Context) error
}

// PoliciesFetcher чтение преднастроенных политик продавца
type PoliciesFetcher interface {
	GetMerchantPolicies(ctx context.Context) (*ebay.MerchantPolicies, error)
}

// OAuthHandler обработчик запросов подключения к маркетплейсу.
// Сами токены наружу никогда не отдаются
type OAuthHandler struct {
	connection ConnectionManager
	policies   PoliciesFetcher
	states     *security.StateManager
	msg        interfaces.MessagingPort
	topic      string
	logger     interfaces.LoggerPort
}

// NewOAuthHandler создает новый обработчик подключения.
// msg может быть nil, тогда события подключения не публикуются
func NewOAuthHandler(connection ConnectionManager, policies PoliciesFetcher, states *security.StateManager, msg interfaces.MessagingPort, topic string, logger interfaces.LoggerPort) *OAuthHandler {
	return &OAuthHandler{
		connection: connection,
		policies:   policies,
		states:     states,
		msg:        msg,
		topic:      topic,
		logger:     logger,
	}
}

// emit публикует событие подключения; сбой доставки только логируется
func (h *OAuthHandler) emit(ctx context.Context, event messaging.KafkaEvent) {
	if h.msg == nil || h.topic == "" {
		return
	}

	payload, err := json.Marshal(messaging.ListingEvent{
		Event:     event,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	if err := h.msg.Publish(ctx, h.topic, payload); err != nil {
		h.logger.WarnWithContext(ctx, "Не удалось опубликовать событие подключения",
			interfaces.LogField{Key: "event", Value: string(event)},
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
}

// GetAuthorizationURL возвращает адрес страницы согласия с подписанным state
func (h *OAuthHandler) GetAuthorizationURL(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Issue()
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка выпуска state",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка подготовки авторизации",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    map[string]string{"authorization_url": h.connection.AuthorizationURL(state)},
	})
}

// Callback обменивает код авторизации на токены.
// Непроверяемый или просроченный state отклоняется до обмена
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if _, err := h.states.Validate(state); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Недействительный state",
		})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Код авторизации не указан",
		})
		return
	}

	summary, err := h.connection.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка обмена кода авторизации",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, errorResponse{
			Error:   "exchange_failed",
			Code:    http.StatusBadGateway,
			Message: "Не удалось обменять код авторизации",
		})
		return
	}

	h.emit(r.Context(), messaging.EbayConnectedEvent)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: summary})
}

// GetConnectionStatus возвращает состояние подключения без токенов
func (h *OAuthHandler) GetConnectionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.connection.ConnectionStatus(r.Context())
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка чтения состояния подключения",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка чтения состояния подключения",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: status})
}

// Disconnect удаляет сохраненные токены. Повторное отключение не ошибка
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.connection.Disconnect(r.Context()); err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка отключения интеграции",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка отключения интеграции",
		})
		return
	}

	h.emit(r.Context(), messaging.EbayDisconnectedEvent)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: &models.ConnectionStatus{Connected: false}})
}

// GetPolicies возвращает преднастроенные политики продавца
func (h *OAuthHandler) GetPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.GetMerchantPolicies(r.Context())
	if err != nil {
		if ebay.IsAuth(err) {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, errorResponse{
				Error:   "not_connected",
				Code:    http.StatusUnauthorized,
				Message: "Интеграция с маркетплейсом не подключена",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка чтения политик продавца",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, errorResponse{
			Error:   "upstream_error",
			Code:    http.StatusBadGateway,
			Message: "Ошибка чтения политик продавца",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: policies})
}
