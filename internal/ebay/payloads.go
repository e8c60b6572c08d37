package ebay

// Money денежная сумма: значение с двумя знаками после запятой и код валюты.
// Значение и валюта всегда путешествуют вместе
type Money struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Pricing цена оффера
type Pricing struct {
	Price Money `json:"price"`
}

// ShipToLocationAvailability доступное к продаже количество
type ShipToLocationAvailability struct {
	Quantity int `json:"quantity"`
}

// Availability доступность товара.
// Количество живет в карточке товара, а не в оффере: оффер ссылается
// на карточку по SKU
type Availability struct {
	ShipToLocationAvailability ShipToLocationAvailability `json:"shipToLocationAvailability"`
}

// Product описательная часть карточки товара
type Product struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Aspects     map[string][]string `json:"aspects,omitempty"`
	ImageURLs   []string            `json:"imageUrls,omitempty"`
	ISBN        []string            `json:"isbn,omitempty"`
}

// PackageWeight вес посылки
type PackageWeight struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// PackageDimensions габариты посылки
type PackageDimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Unit   string  `json:"unit"`
}

// PackageWeightAndSize вес и габариты посылки для расчета доставки
type PackageWeightAndSize struct {
	Weight     *PackageWeight     `json:"weight,omitempty"`
	Dimensions *PackageDimensions `json:"dimensions,omitempty"`
}

// InventoryItemPayload полезная нагрузка "создать или заменить карточку товара".
// Неизменяема после сборки; несет тот же SKU, что и оффер
type InventoryItemPayload struct {
	SKU                  string                `json:"sku"`
	Condition            string                `json:"condition"`
	Product              Product               `json:"product"`
	Availability         Availability          `json:"availability"`
	PackageWeightAndSize *PackageWeightAndSize `json:"packageWeightAndSize,omitempty"`
}

// OfferPayload коммерческая полезная нагрузка оффера.
// Все три идентификатора политик обязательны до любого удаленного вызова
type OfferPayload struct {
	SKU                 string  `json:"sku"`
	MarketplaceID       string  `json:"marketplaceId"`
	Format              string  `json:"format"`
	CategoryID          string  `json:"categoryId"`
	Pricing             Pricing `json:"pricing"`
	AvailableQuantity   int     `json:"availableQuantity,omitempty"`
	ListingDescription  string  `json:"listingDescription,omitempty"`
	PaymentPolicyID     string  `json:"paymentPolicyId"`
	ReturnPolicyID      string  `json:"returnPolicyId"`
	FulfillmentPolicyID string  `json:"fulfillmentPolicyId"`
	MerchantLocationKey string  `json:"merchantLocationKey,omitempty"`
}

// OfferDetail оффер, прочитанный обратно из API.
// Сервер отдает цену в одной из двух форм: эхо запроса (pricing)
// или сводка (pricingSummary); обе формы наблюдались на проде
type OfferDetail struct {
	OfferID             string   `json:"offerId"`
	SKU                 string   `json:"sku"`
	MarketplaceID       string   `json:"marketplaceId"`
	CategoryID          string   `json:"categoryId"`
	Format              string   `json:"format,omitempty"`
	Pricing             *Pricing `json:"pricing,omitempty"`
	PricingSummary      *Pricing `json:"pricingSummary,omitempty"`
	AvailableQuantity   int      `json:"availableQuantity,omitempty"`
	PaymentPolicyID     string   `json:"paymentPolicyId,omitempty"`
	ReturnPolicyID      string   `json:"returnPolicyId,omitempty"`
	FulfillmentPolicyID string   `json:"fulfillmentPolicyId,omitempty"`
	Status              string   `json:"status,omitempty"`
	Listing             *Listing `json:"listing,omitempty"`
}

// Listing сведения об опубликованном листинге внутри оффера
type Listing struct {
	ListingID string `json:"listingId"`
}

// PriceValue извлекает значение цены, проверяя обе формы ответа.
// Поле считается отсутствующим только если его нет ни в одной форме
func (o *OfferDetail) PriceValue() string {
	if o.Pricing != nil && o.Pricing.Price.Value != "" {
		return o.Pricing.Price.Value
	}
	if o.PricingSummary != nil && o.PricingSummary.Price.Value != "" {
		return o.PricingSummary.Price.Value
	}
	return ""
}

// Currency извлекает код валюты, проверяя обе формы ответа
func (o *OfferDetail) Currency() string {
	if o.Pricing != nil && o.Pricing.Price.Currency != "" {
		return o.Pricing.Price.Currency
	}
	if o.PricingSummary != nil && o.PricingSummary.Price.Currency != "" {
		return o.PricingSummary.Price.Currency
	}
	return ""
}

// AspectMetadata схема аспектов листовой категории: какие аспекты
// допустимы и какие из них обязательны
type AspectMetadata struct {
	Aspects []AspectInfo `json:"aspects"`
}

// AspectInfo описание одного аспекта категории
type AspectInfo struct {
	LocalizedAspectName string           `json:"localizedAspectName"`
	AspectConstraint    AspectConstraint `json:"aspectConstraint"`
}

// AspectConstraint ограничения аспекта
type AspectConstraint struct {
	AspectRequired bool `json:"aspectRequired"`
}

// MerchantPolicies идентификаторы преднастроенных политик продавца
type MerchantPolicies struct {
	PaymentPolicyID     string `json:"payment_policy_id,omitempty"`
	ReturnPolicyID      string `json:"return_policy_id,omitempty"`
	FulfillmentPolicyID string `json:"fulfillment_policy_id,omitempty"`
}

// Ответы API со списками политик

type paymentPolicyList struct {
	PaymentPolicies []struct {
		PaymentPolicyID string `json:"paymentPolicyId"`
		Name            string `json:"name"`
	} `json:"paymentPolicies"`
}

type returnPolicyList struct {
	ReturnPolicies []struct {
		ReturnPolicyID string `json:"returnPolicyId"`
		Name           string `json:"name"`
	} `json:"returnPolicies"`
}

type fulfillmentPolicyList struct {
	FulfillmentPolicies []struct {
		FulfillmentPolicyID string `json:"fulfillmentPolicyId"`
		Name                string `json:"name"`
	} `json:"fulfillmentPolicies"`
}

type offerList struct {
	Offers []OfferDetail `json:"offers"`
}

type createOfferResponse struct {
	OfferID string `json:"offerId"`
}

type publishResponse struct {
	ListingID string `json:"listingId"`
}

// errorEnvelope стандартный конверт ошибок API маркетплейса
type errorEnvelope struct {
	Errors []struct {
		ErrorID   int    `json:"errorId"`
		Domain    string `json:"domain"`
		Subdomain string `json:"subdomain,omitempty"`
		Category  string `json:"category"`
		Message   string `json:"message"`
	} `json:"errors"`
}
