package messaging

import "time"

type KafkaEvent = string

const (
	ListingPublishedEvent     = "listing_published"
	ListingPublishFailedEvent = "listing_publish_failed"
	ListingDraftSavedEvent    = "listing_draft_saved"
	EbayConnectedEvent        = "ebay_connected"
	EbayDisconnectedEvent     = "ebay_disconnected"
)

// ListingEvent полезная нагрузка события жизненного цикла листинга
type ListingEvent struct {
	Event     KafkaEvent `json:"event"`
	RecordID  string     `json:"record_id"`
	SKU       string     `json:"sku,omitempty"`
	OfferID   string     `json:"offer_id,omitempty"`
	ListingID string     `json:"listing_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
