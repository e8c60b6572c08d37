package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/athebyme/ebay-publisher/internal/adapters/logger"
	"github.com/athebyme/ebay-publisher/internal/domain/models"
	"github.com/athebyme/ebay-publisher/internal/ebay"
	pkgerrors "github.com/athebyme/ebay-publisher/pkg/errors"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMarketplace управляемая реализация Sell API для тестов автомата
type fakeMarketplace struct {
	mu    sync.Mutex
	calls []string

	offersBySKU []ebay.OfferDetail
	offers      map[string]*ebay.OfferDetail
	nextOfferID int

	// corruptFirstRead первый прочитанный оффер возвращается без цены
	corruptFirstRead bool
	// stripPrePublishFields читаемый оффер несет цену, но теряет остальные поля
	stripPrePublishFields bool
	reads                 int

	publishListingID string
	blockPublish     chan struct{}
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{
		offers:           make(map[string]*ebay.OfferDetail),
		nextOfferID:      1,
		publishListingID: "110000001",
	}
}

func (f *fakeMarketplace) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeMarketplace) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeMarketplace) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeMarketplace) CreateOrReplaceInventoryItem(ctx context.Context, sku string, item *ebay.InventoryItemPayload) error {
	f.record("upsert_item")
	return nil
}

func (f *fakeMarketplace) CreateOffer(ctx context.Context, offer *ebay.OfferPayload) (string, error) {
	f.record("create_offer")
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("off-%d", f.nextOfferID)
	f.nextOfferID++
	f.offers[id] = &ebay.OfferDetail{
		OfferID:             id,
		SKU:                 offer.SKU,
		MarketplaceID:       offer.MarketplaceID,
		CategoryID:          offer.CategoryID,
		AvailableQuantity:   offer.AvailableQuantity,
		PaymentPolicyID:     offer.PaymentPolicyID,
		ReturnPolicyID:      offer.ReturnPolicyID,
		FulfillmentPolicyID: offer.FulfillmentPolicyID,
		PricingSummary: &ebay.Pricing{
			Price: ebay.Money{Value: offer.Pricing.Price.Value, Currency: offer.Pricing.Price.Currency},
		},
	}
	return id, nil
}

func (f *fakeMarketplace) GetOffer(ctx context.Context, offerID string) (*ebay.OfferDetail, error) {
	f.record("get_offer")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	offer, ok := f.offers[offerID]
	if !ok {
		return nil, &ebay.APIError{StatusCode: 404, Message: "Offer not found"}
	}
	if f.corruptFirstRead && f.reads == 1 {
		return &ebay.OfferDetail{OfferID: offerID, SKU: offer.SKU}, nil
	}
	if f.stripPrePublishFields {
		return &ebay.OfferDetail{
			OfferID:        offerID,
			SKU:            offer.SKU,
			PricingSummary: offer.PricingSummary,
			Pricing:        offer.Pricing,
		}, nil
	}
	copied := *offer
	return &copied, nil
}

func (f *fakeMarketplace) GetOffersBySKU(ctx context.Context, sku string) ([]ebay.OfferDetail, error) {
	f.record("get_offers_by_sku")
	return f.offersBySKU, nil
}

func (f *fakeMarketplace) UpdateOffer(ctx context.Context, offerID string, offer *ebay.OfferPayload) error {
	f.record("update_offer")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers[offerID] = &ebay.OfferDetail{
		OfferID:             offerID,
		SKU:                 offer.SKU,
		MarketplaceID:       offer.MarketplaceID,
		CategoryID:          offer.CategoryID,
		AvailableQuantity:   offer.AvailableQuantity,
		PaymentPolicyID:     offer.PaymentPolicyID,
		ReturnPolicyID:      offer.ReturnPolicyID,
		FulfillmentPolicyID: offer.FulfillmentPolicyID,
		Pricing: &ebay.Pricing{
			Price: ebay.Money{Value: offer.Pricing.Price.Value, Currency: offer.Pricing.Price.Currency},
		},
	}
	return nil
}

func (f *fakeMarketplace) DeleteOffer(ctx context.Context, offerID string) error {
	f.record("delete_offer")
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.offers, offerID)
	return nil
}

func (f *fakeMarketplace) PublishOffer(ctx context.Context, offerID string) (string, error) {
	if f.blockPublish != nil {
		<-f.blockPublish
	}
	f.record("publish_offer")
	return f.publishListingID, nil
}

// fakeListingStore хранилище карточек в памяти
type fakeListingStore struct {
	mu       sync.Mutex
	records  map[string]*models.ListingRecord
	outcomes map[string]models.PublishOutcome
}

func newFakeListingStore(records ...*models.ListingRecord) *fakeListingStore {
	s := &fakeListingStore{
		records:  make(map[string]*models.ListingRecord),
		outcomes: make(map[string]models.PublishOutcome),
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeListingStore) GetListing(ctx context.Context, id string) (*models.ListingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, pkgerrors.ErrListingNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *fakeListingStore) SavePublishResult(ctx context.Context, id string, outcome models.PublishOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[id] = outcome
	return nil
}

func (s *fakeListingStore) Close() error { return nil }

func (s *fakeListingStore) outcome(id string) models.PublishOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[id]
}

// fakeCategories всегда выбирает нехудожественную категорию без схемы
type fakeCategories struct{}

func (fakeCategories) Resolve(ctx context.Context, title string, attributes map[string]string) string {
	return ebay.CategoryNonfiction
}

func (fakeCategories) AllowedAspects(ctx context.Context, categoryID string) (map[string]bool, error) {
	return nil, nil
}

// fakeImages возвращает фиксированные адреса без загрузки
type fakeImages struct{}

func (fakeImages) Resolve(ctx context.Context, record *models.ListingRecord) ([]string, error) {
	return []string{"https://i.ebayimg.com/images/g/abc/s-l1600.jpg"}, nil
}

func serviceLogger(t *testing.T) interfaces.LoggerPort {
	t.Helper()
	log, err := logger.NewZapLogger("error", false)
	require.NoError(t, err)
	return log
}

func publishableRecord(id string) *models.ListingRecord {
	price := decimal.RequireFromString("24.5")
	return &models.ListingRecord{
		ID:        id,
		Title:     "The Go Programming Language",
		Author:    "Alan Donovan",
		Condition: models.ConditionVeryGood,
		Price:     &price,
		Quantity:  1,
		Verified:  true,
		Images:    []models.ImageAsset{{Path: "cover.jpg", Width: 1200, Height: 1600}},
	}
}

func newTestService(t *testing.T, api *fakeMarketplace, store *fakeListingStore) *PublishService {
	t.Helper()
	return NewPublishService(
		store,
		api,
		fakeCategories{},
		fakeImages{},
		ebay.NewPayloadMapper("EBAY_US", serviceLogger(t)),
		nil,
		"",
		ebay.MerchantPolicies{
			PaymentPolicyID:     "pay-1",
			ReturnPolicyID:      "ret-1",
			FulfillmentPolicyID: "ship-1",
		},
		func(listingID string) string { return "https://www.ebay.com/itm/" + listingID },
		serviceLogger(t),
	)
}

func TestPublishHappyPath(t *testing.T) {
	api := newFakeMarketplace()
	store := newFakeListingStore(publishableRecord("rec-1"))
	svc := newTestService(t, api, store)

	result := svc.Publish(context.Background(), "rec-1", false)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, models.StatePublished, result.State)
	assert.Equal(t, "rec-1", result.SKU)
	assert.Equal(t, "110000001", result.ListingID)
	assert.Equal(t, "https://www.ebay.com/itm/110000001", result.ListingURL)

	// сводная форма цены в ответе проходит проверку без пересоздания
	assert.Equal(t, 0, api.called("delete_offer"))

	outcome := store.outcome("rec-1")
	assert.Equal(t, models.PublishStatusPublished, outcome.Status)
	assert.Equal(t, "110000001", outcome.ListingID)
}

func TestPublishWithoutPriceMakesNoNetworkCalls(t *testing.T) {
	record := publishableRecord("rec-1")
	record.Price = nil

	api := newFakeMarketplace()
	store := newFakeListingStore(record)
	svc := newTestService(t, api, store)

	result := svc.Publish(context.Background(), "rec-1", false)

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "price")
	assert.Zero(t, api.callCount())

	outcome := store.outcome("rec-1")
	assert.Equal(t, models.PublishStatusError, outcome.Status)
}

func TestPublishUnverifiedRecordIsRejected(t *testing.T) {
	record := publishableRecord("rec-1")
	record.Verified = false

	api := newFakeMarketplace()
	store := newFakeListingStore(record)
	svc := newTestService(t, api, store)

	result := svc.Publish(context.Background(), "rec-1", false)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "verified")
	assert.Zero(t, api.callCount())
}

func TestPublishRecreatesCorruptedOffer(t *testing.T) {
	api := newFakeMarketplace()
	api.corruptFirstRead = true

	store := newFakeListingStore(publishableRecord("rec-1"))
	svc := newTestService(t, api, store)

	result := svc.Publish(context.Background(), "rec-1", false)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, models.StatePublished, result.State)
	assert.Equal(t, 1, api.called("delete_offer"))
	assert.Equal(t, 2, api.called("create_offer"))
	assert.Equal(t, 2, api.called("get_offer"))
}

func TestPublishRejectsOfferWithMissingPrePublishFields(t *testing.T) {
	api := newFakeMarketplace()
	api.stripPrePublishFields = true

	store := newFakeListingStore(publishableRecord("rec-1"))
	svc := newTestService(t, api, store)

	result := svc.Publish(context.Background(), "rec-1", false)

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "предпубликационную проверку")

	// корректная цена при потерянных остальных полях не лечится пересозданием
	assert.Equal(t, 0, api.called("delete_offer"))
	assert.Equal(t, 1, api.called("create_offer"))
	assert.Equal(t, 0, api.called("publish_offer"))

	outcome := store.outcome("rec-1")
	assert.Equal(t, models.PublishStatusError, outcome.Status)
}

func TestPublishUpdatesExistingOffer(t *testing.T) {
	api := newFakeMarketplace()
	api.offersBySKU = []ebay.OfferDetail{{OfferID: "off-old", SKU: "rec-1", MarketplaceID: "EBAY_US"}}
	api.offers["off-old"] = &ebay.OfferDetail{
		OfferID:       "off-old",
		SKU:           "rec-1",
		MarketplaceID: "EBAY_US",
		Pricing:       &ebay.Pricing{Price: ebay.Money{Value: "24.50", Currency: "USD"}},
	}

	store := newFakeListingStore(publishableRecord("rec-1"))
	svc := newTestService(t, api, store)

	result := svc.Publish(context.Background(), "rec-1", false)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "off-old", result.OfferID)
	assert.Equal(t, 1, api.called("update_offer"))
	assert.Equal(t, 0, api.called("create_offer"))
}

func TestPublishAsDraftStopsBeforePublishing(t *testing.T) {
	api := newFakeMarketplace()
	store := newFakeListingStore(publishableRecord("rec-1"))
	svc := newTestService(t, api, store)

	result := svc.Publish(context.Background(), "rec-1", true)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.True(t, result.Draft)
	assert.Equal(t, models.StateValidated, result.State)
	assert.Empty(t, result.ListingID)
	assert.Equal(t, 0, api.called("publish_offer"))

	outcome := store.outcome("rec-1")
	assert.Equal(t, models.PublishStatusDraft, outcome.Status)
}

func TestConcurrentPublishOfSameRecordIsRejected(t *testing.T) {
	api := newFakeMarketplace()
	api.blockPublish = make(chan struct{})

	store := newFakeListingStore(publishableRecord("rec-1"))
	svc := newTestService(t, api, store)

	firstDone := make(chan *models.PublishResult, 1)
	go func() {
		firstDone <- svc.Publish(context.Background(), "rec-1", false)
	}()

	// дожидаемся, пока первая публикация дойдет до блокировки
	require.Eventually(t, func() bool {
		return api.called("get_offer") > 0
	}, time.Second, time.Millisecond)

	second := svc.Publish(context.Background(), "rec-1", false)
	require.False(t, second.Success)
	assert.Equal(t, pkgerrors.ErrPublishInProgress.Error(), second.Error)

	close(api.blockPublish)
	first := <-firstDone
	require.True(t, first.Success, "error: %s", first.Error)
}

func TestAssertPublishable(t *testing.T) {
	sent := &ebay.OfferPayload{
		SKU:                 "rec-1",
		MarketplaceID:       "EBAY_US",
		CategoryID:          ebay.CategoryNonfiction,
		AvailableQuantity:   1,
		PaymentPolicyID:     "pay-1",
		ReturnPolicyID:      "ret-1",
		FulfillmentPolicyID: "ship-1",
	}

	complete := func() *ebay.OfferDetail {
		return &ebay.OfferDetail{
			OfferID:             "off-1",
			SKU:                 "rec-1",
			MarketplaceID:       "EBAY_US",
			CategoryID:          ebay.CategoryNonfiction,
			AvailableQuantity:   1,
			PaymentPolicyID:     "pay-1",
			ReturnPolicyID:      "ret-1",
			FulfillmentPolicyID: "ship-1",
		}
	}

	t.Run("complete offer passes", func(t *testing.T) {
		require.NoError(t, assertPublishable("off-1", complete(), sent))
	})

	breakers := map[string]func(*ebay.OfferDetail){
		"missing marketplace":     func(d *ebay.OfferDetail) { d.MarketplaceID = "" },
		"marketplace mismatch":    func(d *ebay.OfferDetail) { d.MarketplaceID = "EBAY_GB" },
		"missing category":        func(d *ebay.OfferDetail) { d.CategoryID = "" },
		"zero quantity":           func(d *ebay.OfferDetail) { d.AvailableQuantity = 0 },
		"missing payment policy":  func(d *ebay.OfferDetail) { d.PaymentPolicyID = "" },
		"missing return policy":   func(d *ebay.OfferDetail) { d.ReturnPolicyID = "" },
		"missing shipping policy": func(d *ebay.OfferDetail) { d.FulfillmentPolicyID = "" },
	}
	for name, mutate := range breakers {
		t.Run(name, func(t *testing.T) {
			detail := complete()
			mutate(detail)
			require.Error(t, assertPublishable("off-1", detail, sent))
		})
	}
}

func TestPublishMissingRecord(t *testing.T) {
	api := newFakeMarketplace()
	store := newFakeListingStore()
	svc := newTestService(t, api, store)

	result := svc.Publish(context.Background(), "ghost", false)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
	assert.Zero(t, api.callCount())
}
