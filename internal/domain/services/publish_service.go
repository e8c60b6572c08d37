package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/ebay-publisher/internal/adapters/messaging"
	"github.com/athebyme/ebay-publisher/internal/domain/models"
	"github.com/athebyme/ebay-publisher/internal/ebay"
	pkgerrors "github.com/athebyme/ebay-publisher/pkg/errors"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
)

// PublishServiceInterface операции публикации, доступные транспортному слою
type PublishServiceInterface interface {
	Publish(ctx context.Context, recordID string, asDraft bool) *models.PublishResult
	GetPublishStatus(ctx context.Context, recordID string) (*models.ListingRecord, error)
	ListingURL(record *models.ListingRecord) string
}

// marketplaceAPI операции Sell API, нужные публикации
type marketplaceAPI interface {
	CreateOrReplaceInventoryItem(ctx context.Context, sku string, item *ebay.InventoryItemPayload) error
	CreateOffer(ctx context.Context, offer *ebay.OfferPayload) (string, error)
	GetOffer(ctx context.Context, offerID string) (*ebay.OfferDetail, error)
	GetOffersBySKU(ctx context.Context, sku string) ([]ebay.OfferDetail, error)
	UpdateOffer(ctx context.Context, offerID string, offer *ebay.OfferPayload) error
	DeleteOffer(ctx context.Context, offerID string) error
	PublishOffer(ctx context.Context, offerID string) (string, error)
}

// categoryPicker выбор категории и ее схема аспектов
type categoryPicker interface {
	Resolve(ctx context.Context, title string, attributes map[string]string) string
	AllowedAspects(ctx context.Context, categoryID string) (map[string]bool, error)
}

// imagePicker подготовка публичных адресов фотографий карточки
type imagePicker interface {
	Resolve(ctx context.Context, record *models.ListingRecord) ([]string, error)
}

// PublishService проводит карточку книги через конечный автомат публикации:
// карточка товара, оффер, проверка, публикация. Публичный Publish никогда
// не пробрасывает ошибки, любой сбой сворачивается в PublishResult
type PublishService struct {
	store      interfaces.ListingStorePort
	api        marketplaceAPI
	categories categoryPicker
	images     imagePicker
	mapper     *ebay.PayloadMapper
	msg        interfaces.MessagingPort
	topic      string
	policies   ebay.MerchantPolicies
	listingURL func(listingID string) string
	logger     interfaces.LoggerPort

	// inFlight карточки с активной публикацией; повторный вызов отклоняется
	inFlight   map[string]struct{}
	inFlightMu sync.Mutex
}

var _ PublishServiceInterface = (*PublishService)(nil)

// NewPublishService создает сервис публикации.
// msg может быть nil, тогда события не публикуются
func NewPublishService(
	store interfaces.ListingStorePort,
	api marketplaceAPI,
	categories categoryPicker,
	images imagePicker,
	mapper *ebay.PayloadMapper,
	msg interfaces.MessagingPort,
	topic string,
	policies ebay.MerchantPolicies,
	listingURL func(listingID string) string,
	logger interfaces.LoggerPort,
) *PublishService {
	return &PublishService{
		store:      store,
		api:        api,
		categories: categories,
		images:     images,
		mapper:     mapper,
		msg:        msg,
		topic:      topic,
		policies:   policies,
		listingURL: listingURL,
		logger:     logger,
		inFlight:   make(map[string]struct{}),
	}
}

// Publish публикует карточку на маркетплейсе.
// asDraft останавливает автомат после проверки оффера, без публикации
func (s *PublishService) Publish(ctx context.Context, recordID string, asDraft bool) *models.PublishResult {
	if !s.acquire(recordID) {
		return &models.PublishResult{
			Success: false,
			State:   models.StateFailed,
			Error:   pkgerrors.ErrPublishInProgress.Error(),
		}
	}
	defer s.release(recordID)

	result := s.publish(ctx, recordID, asDraft)

	if !result.Success {
		s.logger.ErrorWithContext(ctx, "Публикация не удалась",
			interfaces.LogField{Key: "record_id", Value: recordID},
			interfaces.LogField{Key: "state", Value: string(result.State)},
			interfaces.LogField{Key: "error", Value: result.Error},
		)
		s.persistOutcome(ctx, recordID, models.PublishOutcome{
			SKU:          result.SKU,
			OfferID:      result.OfferID,
			Status:       models.PublishStatusError,
			ErrorMessage: result.Error,
		})
		s.emit(ctx, messaging.ListingPublishFailedEvent, recordID, result)
	}

	return result
}

// publish тело конечного автомата; ошибки сворачиваются вызывающим Publish
func (s *PublishService) publish(ctx context.Context, recordID string, asDraft bool) *models.PublishResult {
	record, err := s.store.GetListing(ctx, recordID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrListingNotFound) {
			return failed(models.StatePrepared, "", fmt.Sprintf("listing %s not found", recordID))
		}
		return failed(models.StatePrepared, "", err.Error())
	}

	sku := record.EffectiveSKU()

	// Все локальные проверки проходят до первого сетевого вызова
	if err := s.validateRecord(record); err != nil {
		return failed(models.StatePrepared, sku, err.Error())
	}

	categoryID := s.resolveCategory(ctx, record)

	imageURLs, err := s.images.Resolve(ctx, record)
	if err != nil {
		return failed(models.StatePrepared, sku, err.Error())
	}

	allowed, err := s.categories.AllowedAspects(ctx, categoryID)
	if err != nil {
		// Схема аспектов вспомогательна: без нее фильтрация просто не применяется
		s.logger.WarnWithContext(ctx, "Схема аспектов недоступна, фильтрация пропущена",
			interfaces.LogField{Key: "record_id", Value: recordID},
			interfaces.LogField{Key: "category_id", Value: categoryID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		allowed = nil
	}

	item, titleTruncated, err := s.mapper.BuildInventoryItem(ctx, record, categoryID, allowed, imageURLs)
	if err != nil {
		return failed(models.StatePrepared, sku, err.Error())
	}

	offer, err := s.mapper.BuildOffer(record, categoryID, s.policies)
	if err != nil {
		return failed(models.StatePrepared, sku, err.Error())
	}

	result := &models.PublishResult{
		SKU:            sku,
		Draft:          asDraft,
		TitleTruncated: titleTruncated,
		State:          models.StatePrepared,
	}

	if err := s.api.CreateOrReplaceInventoryItem(ctx, sku, item); err != nil {
		result.Error = err.Error()
		return result
	}
	result.State = models.StateItemUpserted

	offerID, err := s.upsertOffer(ctx, sku, offer)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.OfferID = offerID
	result.State = models.StateOfferUpserted

	offerID, err = s.validateOffer(ctx, offerID, offer, result)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.OfferID = offerID
	result.State = models.StateValidated

	if asDraft {
		result.Success = true
		s.persistOutcome(ctx, recordID, models.PublishOutcome{
			SKU:     sku,
			OfferID: offerID,
			Status:  models.PublishStatusDraft,
		})
		s.emit(ctx, messaging.ListingDraftSavedEvent, recordID, result)
		return result
	}

	listingID, err := s.api.PublishOffer(ctx, offerID)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	// Точка невозврата: листинг существует, дальнейшие сбои
	// не превращают результат в неудачу
	result.State = models.StatePublished
	result.Success = true
	result.ListingID = listingID
	if listingID != "" && s.listingURL != nil {
		result.ListingURL = s.listingURL(listingID)
	}

	s.persistOutcome(ctx, recordID, models.PublishOutcome{
		SKU:       sku,
		OfferID:   offerID,
		ListingID: listingID,
		Status:    models.PublishStatusPublished,
	})
	s.emit(ctx, messaging.ListingPublishedEvent, recordID, result)

	return result
}

// validateRecord локальные проверки карточки.
// Отсутствие цены обнаруживается здесь, до каких-либо сетевых вызовов
func (s *PublishService) validateRecord(record *models.ListingRecord) error {
	if !record.Verified {
		return &ebay.ValidationError{Field: "verified", Message: "listing is not verified"}
	}
	if record.Title == "" {
		return &ebay.ValidationError{Field: "title", Message: "title is required"}
	}
	if record.Price == nil {
		return &ebay.ValidationError{Field: "price", Message: "price is not set"}
	}
	if record.Price.Sign() <= 0 {
		return &ebay.ValidationError{Field: "price", Message: "price must be positive"}
	}
	if _, err := ebay.ConditionCode(record.Condition); err != nil {
		return err
	}
	if len(record.Images) == 0 {
		return &ebay.ValidationError{Field: "images", Message: "at least one image is required"}
	}
	if s.policies.PaymentPolicyID == "" || s.policies.ReturnPolicyID == "" || s.policies.FulfillmentPolicyID == "" {
		return &ebay.ValidationError{Field: "policies", Message: "merchant policies are not configured"}
	}
	return nil
}

// resolveCategory выбирает категорию: сохраненный в карточке выбор
// из закрытого набора, иначе резолвер
func (s *PublishService) resolveCategory(ctx context.Context, record *models.ListingRecord) string {
	if record.CategoryID == ebay.CategoryNonfiction || record.CategoryID == ebay.CategoryChildrens {
		return record.CategoryID
	}
	if record.CategoryID != "" {
		s.logger.WarnWithContext(ctx, "Сохраненная категория вне закрытого набора, игнорируется",
			interfaces.LogField{Key: "record_id", Value: record.ID},
			interfaces.LogField{Key: "category_id", Value: record.CategoryID},
		)
	}
	return s.categories.Resolve(ctx, record.Title, record.Attributes)
}

// upsertOffer создает оффер или обновляет уже существующий для этого SKU
func (s *PublishService) upsertOffer(ctx context.Context, sku string, offer *ebay.OfferPayload) (string, error) {
	existing, err := s.api.GetOffersBySKU(ctx, sku)
	if err != nil {
		return "", err
	}

	for _, o := range existing {
		if o.MarketplaceID == "" || o.MarketplaceID == offer.MarketplaceID {
			if err := s.api.UpdateOffer(ctx, o.OfferID, offer); err != nil {
				return "", err
			}
			return o.OfferID, nil
		}
	}

	offerID, err := s.api.CreateOffer(ctx, offer)
	if err != nil {
		// Гонка с параллельным создателем: оффер уже существует,
		// остается найти его по SKU
		var apiErr *ebay.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 400 && containsAlreadyExists(apiErr.Message) {
			retry, retryErr := s.api.GetOffersBySKU(ctx, sku)
			if retryErr == nil {
				for _, o := range retry {
					if o.MarketplaceID == "" || o.MarketplaceID == offer.MarketplaceID {
						return o.OfferID, nil
					}
				}
			}
		}
		return "", err
	}
	return offerID, nil
}

// validateOffer читает оффер обратно и сверяет цену и валюту.
// Поврежденный оффер удаляется и пересоздается, после чего проверка
// повторяется один раз
func (s *PublishService) validateOffer(ctx context.Context, offerID string, offer *ebay.OfferPayload, result *models.PublishResult) (string, error) {
	if err := s.checkOffer(ctx, offerID, offer); err != nil {
		var corrupted *ebay.CorruptedOfferError
		if !errors.As(err, &corrupted) {
			return "", err
		}

		s.logger.WarnWithContext(ctx, "Оффер поврежден, удаление и пересоздание",
			interfaces.LogField{Key: "offer_id", Value: offerID},
			interfaces.LogField{Key: "reason", Value: corrupted.Reason},
		)

		if err := s.api.DeleteOffer(ctx, offerID); err != nil {
			return "", fmt.Errorf("ошибка удаления поврежденного оффера %s: %w", offerID, err)
		}

		freshID, err := s.api.CreateOffer(ctx, offer)
		if err != nil {
			return "", fmt.Errorf("ошибка пересоздания оффера: %w", err)
		}
		result.State = models.StateOfferRecreated

		if err := s.checkOffer(ctx, freshID, offer); err != nil {
			return "", err
		}
		return freshID, nil
	}
	return offerID, nil
}

// checkOffer сверяет прочитанный оффер с отправленной полезной нагрузкой.
// Цена извлекается из любой из двух форм ответа; потеря полей цены
// запускает восстановление, остальные расхождения публикацию просто запрещают
func (s *PublishService) checkOffer(ctx context.Context, offerID string, offer *ebay.OfferPayload) error {
	detail, err := s.api.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}

	value := detail.PriceValue()
	currency := detail.Currency()

	switch {
	case value == "":
		return &ebay.CorruptedOfferError{OfferID: offerID, Reason: "price value is missing"}
	case currency == "":
		return &ebay.CorruptedOfferError{OfferID: offerID, Reason: "currency is missing"}
	case currency != offer.Pricing.Price.Currency:
		return &ebay.CorruptedOfferError{
			OfferID: offerID,
			Reason:  fmt.Sprintf("currency mismatch: got %s, want %s", currency, offer.Pricing.Price.Currency),
		}
	case value != offer.Pricing.Price.Value:
		return &ebay.CorruptedOfferError{
			OfferID: offerID,
			Reason:  fmt.Sprintf("price mismatch: got %s, want %s", value, offer.Pricing.Price.Value),
		}
	}

	return assertPublishable(offerID, detail, offer)
}

// assertPublishable проверяет остальные обязательные поля прочитанного оффера.
// Их отсутствие не лечится пересозданием, поэтому публикация запрещается сразу
func assertPublishable(offerID string, detail *ebay.OfferDetail, offer *ebay.OfferPayload) error {
	var reason string
	switch {
	case detail.MarketplaceID == "":
		reason = "marketplace id is missing"
	case detail.MarketplaceID != offer.MarketplaceID:
		reason = fmt.Sprintf("marketplace mismatch: got %s, want %s", detail.MarketplaceID, offer.MarketplaceID)
	case detail.CategoryID == "":
		reason = "category id is missing"
	case detail.AvailableQuantity <= 0:
		reason = fmt.Sprintf("available quantity is %d", detail.AvailableQuantity)
	case detail.PaymentPolicyID == "":
		reason = "payment policy id is missing"
	case detail.ReturnPolicyID == "":
		reason = "return policy id is missing"
	case detail.FulfillmentPolicyID == "":
		reason = "fulfillment policy id is missing"
	default:
		return nil
	}
	return fmt.Errorf("оффер %s не прошел предпубликационную проверку: %s", offerID, reason)
}

// GetPublishStatus возвращает карточку с текущим состоянием публикации
func (s *PublishService) GetPublishStatus(ctx context.Context, recordID string) (*models.ListingRecord, error) {
	return s.store.GetListing(ctx, recordID)
}

// ListingURL возвращает публичный адрес листинга карточки, если он опубликован
func (s *PublishService) ListingURL(record *models.ListingRecord) string {
	if record.ListingID == "" || s.listingURL == nil {
		return ""
	}
	return s.listingURL(record.ListingID)
}

// persistOutcome записывает результат публикации в карточку.
// Сбой записи логируется, но результат вызывающему не меняет
func (s *PublishService) persistOutcome(ctx context.Context, recordID string, outcome models.PublishOutcome) {
	if err := s.store.SavePublishResult(ctx, recordID, outcome); err != nil {
		s.logger.ErrorWithContext(ctx, "Не удалось записать результат публикации",
			interfaces.LogField{Key: "record_id", Value: recordID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// emit публикует событие жизненного цикла листинга.
// Сбой доставки события не влияет на результат публикации
func (s *PublishService) emit(ctx context.Context, event messaging.KafkaEvent, recordID string, result *models.PublishResult) {
	if s.msg == nil || s.topic == "" {
		return
	}

	payload, err := json.Marshal(messaging.ListingEvent{
		Event:     event,
		RecordID:  recordID,
		SKU:       result.SKU,
		OfferID:   result.OfferID,
		ListingID: result.ListingID,
		Error:     result.Error,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	if err := s.msg.Publish(ctx, s.topic, payload); err != nil {
		s.logger.WarnWithContext(ctx, "Не удалось опубликовать событие",
			interfaces.LogField{Key: "event", Value: string(event)},
			interfaces.LogField{Key: "record_id", Value: recordID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// acquire отмечает карточку как публикуемую; false, если публикация уже идет
func (s *PublishService) acquire(recordID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, busy := s.inFlight[recordID]; busy {
		return false
	}
	s.inFlight[recordID] = struct{}{}
	return true
}

func (s *PublishService) release(recordID string) {
	s.inFlightMu.Lock()
	delete(s.inFlight, recordID)
	s.inFlightMu.Unlock()
}

func failed(state models.PublishState, sku, msg string) *models.PublishResult {
	return &models.PublishResult{
		Success: false,
		SKU:     sku,
		State:   state,
		Error:   msg,
	}
}

func containsAlreadyExists(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already exists")
}
