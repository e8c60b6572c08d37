package ebay

import (
	"context"
	"regexp"
	"strings"

	"github.com/athebyme/ebay-publisher/internal/domain/models"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/shopspring/decimal"
)

const (
	// MaxTitleLen жесткий лимит длины заголовка листинга
	MaxTitleLen = 80

	// maxAspectValueLen лимит длины значения аспекта
	maxAspectValueLen = 65

	formatFixedPrice = "FIXED_PRICE"

	packageWeightLbs  = 1.00
	packageLengthInch = 9.0
	packageWidthInch  = 6.0
	packageHeightInch = 2.0
)

// conditionCodes таблица соответствия состояний книги числовым кодам маркетплейса
var conditionCodes = map[string]string{
	models.ConditionBrandNew:   "1000",
	models.ConditionLikeNew:    "2750",
	models.ConditionVeryGood:   "4000",
	models.ConditionGood:       "5000",
	models.ConditionAcceptable: "6000",
}

// marketplaceCurrency валюта каждого поддерживаемого маркетплейса
var marketplaceCurrency = map[string]string{
	"EBAY_US": "USD",
	"EBAY_GB": "GBP",
	"EBAY_AU": "AUD",
	"EBAY_DE": "EUR",
	"EBAY_CA": "CAD",
}

// controlChars управляющие символы, запрещенные в значениях аспектов
var controlChars = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F]")

// PayloadMapper преобразует карточку книги в полезные нагрузки API.
// Преобразование детерминировано: одна и та же карточка всегда дает
// байт-в-байт одинаковые полезные нагрузки
type PayloadMapper struct {
	marketplaceID string
	currency      string
	logger        interfaces.LoggerPort
}

// NewPayloadMapper создает маппер для маркетплейса.
// Валюта выводится из маркетплейса, неизвестный маркетплейс получает USD
func NewPayloadMapper(marketplaceID string, logger interfaces.LoggerPort) *PayloadMapper {
	currency, ok := marketplaceCurrency[marketplaceID]
	if !ok {
		currency = "USD"
	}
	return &PayloadMapper{
		marketplaceID: marketplaceID,
		currency:      currency,
		logger:        logger,
	}
}

// Currency возвращает валюту маркетплейса
func (m *PayloadMapper) Currency() string { return m.currency }

// TruncateTitle обрезает заголовок до лимита по границе слова.
// Жесткий срез применяется только когда пробелов в пределах лимита нет
func TruncateTitle(title string) (string, bool) {
	runes := []rune(title)
	if len(runes) <= MaxTitleLen {
		return title, false
	}

	cut := string(runes[:MaxTitleLen])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " "), true
}

// ConditionCode возвращает числовой код состояния книги
func ConditionCode(condition string) (string, error) {
	code, ok := conditionCodes[condition]
	if !ok {
		return "", &ValidationError{Field: "condition", Message: "unknown condition: " + condition}
	}
	return code, nil
}

// FormatPrice форматирует цену с двумя знаками после запятой.
// Округление вверх от половины: 24.455 дает 24.46, а 24.5 дает 24.50
func FormatPrice(price decimal.Decimal) string {
	return price.Round(2).StringFixed(2)
}

// sanitizeAspectValue чистит значение аспекта: убирает управляющие символы,
// схлопывает пробелы, обрезает до лимита
func sanitizeAspectValue(value string) string {
	value = controlChars.ReplaceAllString(value, "")
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) > maxAspectValueLen {
		value = strings.TrimRight(string(runes[:maxAspectValueLen]), " ")
	}
	return value
}

// normalizePublisher приводит издателя к виду, принимаемому маркетплейсом
func normalizePublisher(publisher string) string {
	return strings.ReplaceAll(publisher, "&", "and")
}

// BuildAspects собирает аспекты карточки для категории.
// Каждый аспект оборачивается в массив из одного значения, такова форма API.
// Непригодные значения отбрасываются с предупреждением, сборка продолжается
func (m *PayloadMapper) BuildAspects(ctx context.Context, record *models.ListingRecord, categoryID string, allowed map[string]bool) map[string][]string {
	raw := make(map[string]string)

	if record.Author != "" {
		raw["Author"] = record.Author
	}
	if record.Publisher != "" {
		raw["Publisher"] = normalizePublisher(record.Publisher)
	}
	if record.Year != "" {
		raw["Publication Year"] = record.Year
	}
	for k, v := range record.Attributes {
		if v != "" {
			raw[k] = v
		}
	}

	foreign := ForeignAspects(categoryID)
	aspects := make(map[string][]string)

	for name, value := range raw {
		if foreign[name] {
			m.logger.DebugWithContext(ctx, "Аспект чужой категории отброшен",
				interfaces.LogField{Key: "aspect", Value: name},
				interfaces.LogField{Key: "category_id", Value: categoryID},
			)
			continue
		}
		if len(allowed) > 0 && !allowed[name] {
			m.logger.DebugWithContext(ctx, "Аспект отсутствует в схеме категории, отброшен",
				interfaces.LogField{Key: "aspect", Value: name},
				interfaces.LogField{Key: "category_id", Value: categoryID},
			)
			continue
		}

		clean := sanitizeAspectValue(value)
		if clean == "" {
			m.logger.WarnWithContext(ctx, "Значение аспекта не пережило нормализацию, отброшено",
				interfaces.LogField{Key: "aspect", Value: name},
			)
			continue
		}
		aspects[name] = []string{clean}
	}

	m.backfillRequired(record, categoryID, aspects)

	return aspects
}

// backfillRequired подставляет обязательные аспекты категории из полей карточки
func (m *PayloadMapper) backfillRequired(record *models.ListingRecord, categoryID string, aspects map[string][]string) {
	for _, name := range RequiredAspects(categoryID) {
		if _, ok := aspects[name]; ok {
			continue
		}

		var value string
		switch name {
		case "Author":
			value = record.Author
		case "Language":
			value = attributeValue(record.Attributes, "Language")
			if value == "" {
				value = "English"
			}
		case "Book Title":
			value, _ = TruncateTitle(record.Title)
		}

		if clean := sanitizeAspectValue(value); clean != "" {
			aspects[name] = []string{clean}
		}
	}
}

// BuildInventoryItem собирает полезную нагрузку карточки товара.
// Второе возвращаемое значение сообщает, был ли заголовок усечен
func (m *PayloadMapper) BuildInventoryItem(ctx context.Context, record *models.ListingRecord, categoryID string, allowed map[string]bool, imageURLs []string) (*InventoryItemPayload, bool, error) {
	condition, err := ConditionCode(record.Condition)
	if err != nil {
		return nil, false, err
	}

	title, truncated := TruncateTitle(sanitizeTitle(record.Title))
	if truncated {
		m.logger.InfoWithContext(ctx, "Заголовок усечен до лимита маркетплейса",
			interfaces.LogField{Key: "record_id", Value: record.ID},
			interfaces.LogField{Key: "title", Value: title},
		)
	}

	quantity := record.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	product := Product{
		Title:       title,
		Description: strings.TrimSpace(record.Description),
		Aspects:     m.BuildAspects(ctx, record, categoryID, allowed),
		ImageURLs:   imageURLs,
	}
	if record.ISBN != "" {
		product.ISBN = []string{record.ISBN}
	}

	item := &InventoryItemPayload{
		SKU:       record.EffectiveSKU(),
		Condition: condition,
		Product:   product,
		Availability: Availability{
			ShipToLocationAvailability: ShipToLocationAvailability{Quantity: quantity},
		},
		PackageWeightAndSize: &PackageWeightAndSize{
			Weight: &PackageWeight{Value: packageWeightLbs, Unit: "POUND"},
			Dimensions: &PackageDimensions{
				Length: packageLengthInch,
				Width:  packageWidthInch,
				Height: packageHeightInch,
				Unit:   "INCH",
			},
		},
	}

	return item, truncated, nil
}

// BuildOffer собирает коммерческую полезную нагрузку оффера.
// SKU оффера всегда совпадает с SKU карточки товара
func (m *PayloadMapper) BuildOffer(record *models.ListingRecord, categoryID string, policies MerchantPolicies) (*OfferPayload, error) {
	if record.Price == nil {
		return nil, &ValidationError{Field: "price", Message: "price is not set"}
	}
	if record.Price.Sign() <= 0 {
		return nil, &ValidationError{Field: "price", Message: "price must be positive"}
	}

	quantity := record.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	return &OfferPayload{
		SKU:           record.EffectiveSKU(),
		MarketplaceID: m.marketplaceID,
		Format:        formatFixedPrice,
		CategoryID:    categoryID,
		Pricing: Pricing{
			Price: Money{
				Value:    FormatPrice(*record.Price),
				Currency: m.currency,
			},
		},
		AvailableQuantity:   quantity,
		ListingDescription:  strings.TrimSpace(record.Description),
		PaymentPolicyID:     policies.PaymentPolicyID,
		ReturnPolicyID:      policies.ReturnPolicyID,
		FulfillmentPolicyID: policies.FulfillmentPolicyID,
	}, nil
}

// sanitizeTitle чистит заголовок так же, как значения аспектов,
// но без лимита длины: лимит заголовка применяется отдельно
func sanitizeTitle(title string) string {
	title = controlChars.ReplaceAllString(title, "")
	return strings.Join(strings.Fields(title), " ")
}
