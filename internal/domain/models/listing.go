package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PublishStatus статус публикации карточки на маркетплейсе
type PublishStatus string

const (
	PublishStatusNone      PublishStatus = "none"
	PublishStatusDraft     PublishStatus = "draft"
	PublishStatusPublished PublishStatus = "published"
	PublishStatusError     PublishStatus = "error"
)

// Градации состояния книги, от новой к приемлемой.
// Порядок фиксирован и соответствует таблице условий маркетплейса.
const (
	ConditionBrandNew   = "Brand New"
	ConditionLikeNew    = "Like New"
	ConditionVeryGood   = "Very Good"
	ConditionGood       = "Good"
	ConditionAcceptable = "Acceptable"
)

// ListingRecord карточка книги, подготовленная внешним приложением.
// Ядро публикации читает карточку и записывает обратно только результат
// публикации (sku, offer_id, listing_id, publish_status, publish_error).
type ListingRecord struct {
	ID        string `json:"id" db:"id"`
	SKU       string `json:"sku,omitempty" db:"sku"`
	OfferID   string `json:"offer_id,omitempty" db:"offer_id"`
	ListingID string `json:"listing_id,omitempty" db:"listing_id"`

	Title       string `json:"title" db:"title"`
	Author      string `json:"author,omitempty" db:"author"`
	Publisher   string `json:"publisher,omitempty" db:"publisher"`
	Year        string `json:"year,omitempty" db:"year"`
	ISBN        string `json:"isbn,omitempty" db:"isbn"`
	Condition   string `json:"condition" db:"condition"`
	Description string `json:"description,omitempty" db:"description"`

	// Price отсутствует, пока пользователь не утвердил цену
	Price    *decimal.Decimal `json:"price,omitempty" db:"price"`
	Quantity int              `json:"quantity" db:"quantity"`

	// Attributes произвольные атрибуты карточки (факты категории: жанр, язык, формат и т.д.)
	Attributes map[string]string `json:"attributes,omitempty" db:"attributes"`

	// Images фотографии карточки; только для чтения
	Images []ImageAsset `json:"images,omitempty" db:"images"`

	// Verified карточка проверена и утверждена пользователем
	Verified bool `json:"verified" db:"verified"`

	// CategoryID сохраненный выбор категории маркетплейса (может быть пустым)
	CategoryID string `json:"category_id,omitempty" db:"category_id"`

	PublishStatus PublishStatus `json:"publish_status" db:"publish_status"`
	PublishError  string        `json:"publish_error,omitempty" db:"publish_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EffectiveSKU возвращает SKU карточки: явно заданный или идентификатор карточки
func (r *ListingRecord) EffectiveSKU() string {
	if r.SKU != "" {
		return r.SKU
	}
	return r.ID
}

// ImageAsset фотография карточки на локальном диске; ядро ее не изменяет
type ImageAsset struct {
	Path   string `json:"path" db:"path"`
	Width  int    `json:"width" db:"width"`
	Height int    `json:"height" db:"height"`
	Hash   string `json:"hash,omitempty" db:"hash"`
}

// LongEdge возвращает длинную сторону изображения в пикселях
func (a ImageAsset) LongEdge() int {
	if a.Width > a.Height {
		return a.Width
	}
	return a.Height
}
