package handlers

import (
	"errors"
	"net/http"

	"github.com/athebyme/ebay-publisher/internal/domain/models"
	"github.com/athebyme/ebay-publisher/internal/domain/services"
	pkgerrors "github.com/athebyme/ebay-publisher/pkg/errors"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// PublishHandler обработчик запросов публикации листингов
type PublishHandler struct {
	publishService services.PublishServiceInterface
	logger         interfaces.LoggerPort
}

// NewPublishHandler создает новый обработчик публикации
func NewPublishHandler(publishService services.PublishServiceInterface, logger interfaces.LoggerPort) *PublishHandler {
	return &PublishHandler{
		publishService: publishService,
		logger:         logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// statusView состояние публикации карточки для внешнего API
type statusView struct {
	RecordID      string               `json:"record_id"`
	SKU           string               `json:"sku,omitempty"`
	OfferID       string               `json:"offer_id,omitempty"`
	ListingID     string               `json:"listing_id,omitempty"`
	ListingURL    string               `json:"listing_url,omitempty"`
	PublishStatus models.PublishStatus `json:"publish_status"`
	PublishError  string               `json:"publish_error,omitempty"`
}

// Publish обрабатывает запрос на публикацию карточки.
// Параметр as_draft=true останавливает процесс до публикации
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "id")
	if recordID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID карточки не указан",
		})
		return
	}

	asDraft := r.URL.Query().Get("as_draft") == "true"

	result := h.publishService.Publish(r.Context(), recordID, asDraft)

	if !result.Success {
		status := http.StatusUnprocessableEntity
		if result.Error == pkgerrors.ErrPublishInProgress.Error() {
			status = http.StatusConflict
		}
		render.Status(r, status)
		render.JSON(w, r, response{Success: false, Data: result})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: result})
}

// GetStatus обрабатывает запрос состояния публикации карточки
func (h *PublishHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "id")
	if recordID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID карточки не указан",
		})
		return
	}

	record, err := h.publishService.GetPublishStatus(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrListingNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Карточка не найдена",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка получения состояния публикации",
			interfaces.LogField{Key: "record_id", Value: recordID},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения состояния публикации",
		})
		return
	}

	view := statusView{
		RecordID:      record.ID,
		SKU:           record.SKU,
		OfferID:       record.OfferID,
		ListingID:     record.ListingID,
		ListingURL:    h.publishService.ListingURL(record),
		PublishStatus: record.PublishStatus,
		PublishError:  record.PublishError,
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: view})
}
