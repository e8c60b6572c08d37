package models

// PublishState состояние конечного автомата публикации
type PublishState string

const (
	StatePrepared       PublishState = "prepared"
	StateItemUpserted   PublishState = "item_upserted"
	StateOfferUpserted  PublishState = "offer_upserted"
	StateValidated      PublishState = "validated"
	StateOfferRecreated PublishState = "offer_recreated"
	StatePublished      PublishState = "published"
	StateFailed         PublishState = "failed"
)

// PublishResult единственная структура, возвращаемая вызывающему коду.
// Публичный Publish никогда не паникует и не пробрасывает ошибки —
// любой сбой превращается в PublishResult{Success: false}
type PublishResult struct {
	Success        bool         `json:"success"`
	SKU            string       `json:"sku,omitempty"`
	OfferID        string       `json:"offer_id,omitempty"`
	ListingID      string       `json:"listing_id,omitempty"`
	ListingURL     string       `json:"listing_url,omitempty"`
	Draft          bool         `json:"draft,omitempty"`
	TitleTruncated bool         `json:"title_truncated,omitempty"`
	State          PublishState `json:"state,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// PublishOutcome поля результата публикации, записываемые обратно в карточку
type PublishOutcome struct {
	SKU          string
	OfferID      string
	ListingID    string
	Status       PublishStatus
	ErrorMessage string
}
