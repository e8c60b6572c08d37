package ebay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/athebyme/ebay-publisher/pkg/errors"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	gocache "github.com/patrickmn/go-cache"
)

// Закрытый набор листовых категорий книг
const (
	CategoryNonfiction = "29223" // категория по умолчанию
	CategoryChildrens  = "29792"
	CategoryBooksRoot  = "267" // родительская, для публикации непригодна
)

const aspectCacheTTL = 12 * time.Hour

// childAudienceKeywords сигналы детской аудитории в атрибуте аудитории
var childAudienceKeywords = []string{
	"children", "child", "young adult", "ya", "juvenile",
	"teen", "teenager", "kids", "toddler", "preschool",
}

// childGenreKeywords сигналы детской литературы в жанре или заголовке
var childGenreKeywords = []string{
	"children's", "childrens", "picture book", "young adult",
	"juvenile", "middle grade", "board book",
}

// Аспекты, допустимые только в одной из категорий.
// Попадание чужого аспекта в полезную нагрузку приводит к отказу публикации
var (
	childrensOnlyAspects = map[string]bool{
		"Genre":             true,
		"Narrative Type":    true,
		"Intended Audience": true,
	}

	nonfictionOnlyAspects = map[string]bool{
		"Binding":              true,
		"Subject":              true,
		"Place of Publication": true,
	}

	// childrensRequiredAspects обязательные аспекты детской категории,
	// подставляемые из полей карточки при отсутствии
	childrensRequiredAspects = []string{"Author", "Language", "Book Title"}
)

// aspectFetcher часть клиента API, нужная резолверу
type aspectFetcher interface {
	GetItemAspects(ctx context.Context, categoryTreeID, categoryID string) (*AspectMetadata, error)
}

// CategoryResolver выбирает листовую категорию книги и отдает ее схему аспектов.
// Порядок выбора: явный override, затем сигналы содержимого, затем категория
// по умолчанию. Резолвер никогда не возвращает категорию вне закрытого набора
type CategoryResolver struct {
	client     aspectFetcher
	cache      interfaces.CachePort
	local      *gocache.Cache
	logger     interfaces.LoggerPort
	treeID     string
	overrideID string
}

// NewCategoryResolver создает резолвер категорий.
// overrideID принудительная категория из конфигурации, может быть пустой
func NewCategoryResolver(client aspectFetcher, cache interfaces.CachePort, logger interfaces.LoggerPort, treeID, overrideID string) *CategoryResolver {
	return &CategoryResolver{
		client:     client,
		cache:      cache,
		local:      gocache.New(aspectCacheTTL, 30*time.Minute),
		logger:     logger,
		treeID:     treeID,
		overrideID: overrideID,
	}
}

// Resolve возвращает идентификатор листовой категории для карточки.
// attributes атрибуты карточки, title заголовок
func (r *CategoryResolver) Resolve(ctx context.Context, title string, attributes map[string]string) string {
	if r.overrideID != "" {
		if r.overrideID == CategoryNonfiction || r.overrideID == CategoryChildrens {
			return r.overrideID
		}
		r.logger.WarnWithContext(ctx, "Override категории вне закрытого набора, игнорируется",
			interfaces.LogField{Key: "category_id", Value: r.overrideID},
		)
	}

	if looksLikeChildrens(title, attributes) {
		return CategoryChildrens
	}
	return CategoryNonfiction
}

// looksLikeChildrens распознает детскую книгу по аудитории, жанру и заголовку
func looksLikeChildrens(title string, attributes map[string]string) bool {
	audience := strings.ToLower(attributeValue(attributes, "Intended Audience", "Audience"))
	if audience != "" {
		for _, kw := range childAudienceKeywords {
			if containsWord(audience, kw) {
				return true
			}
		}
	}

	genre := strings.ToLower(attributeValue(attributes, "Genre", "Topic"))
	haystacks := []string{genre, strings.ToLower(title)}
	for _, h := range haystacks {
		if h == "" {
			continue
		}
		for _, kw := range childGenreKeywords {
			if strings.Contains(h, kw) {
				return true
			}
		}
	}
	return false
}

// attributeValue возвращает первое непустое значение из перечисленных ключей
func attributeValue(attributes map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := attributes[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// containsWord проверяет вхождение ключевого слова по границам слов,
// чтобы "ya" не срабатывало внутри произвольных слов
func containsWord(haystack, word string) bool {
	if !strings.Contains(word, " ") && len(word) <= 2 {
		for _, part := range strings.FieldsFunc(haystack, func(r rune) bool {
			return r == ' ' || r == ',' || r == ';' || r == '/' || r == '-'
		}) {
			if part == word {
				return true
			}
		}
		return false
	}
	return strings.Contains(haystack, word)
}

// AspectSchema возвращает схему аспектов категории.
// Схема кэшируется в два уровня: локальная память процесса, затем Redis
func (r *CategoryResolver) AspectSchema(ctx context.Context, categoryID string) (*AspectMetadata, error) {
	key := "ebay:aspects:" + categoryID

	if v, ok := r.local.Get(key); ok {
		return v.(*AspectMetadata), nil
	}

	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, key); err == nil {
			var meta AspectMetadata
			if err := json.Unmarshal(raw, &meta); err == nil {
				r.local.Set(key, &meta, aspectCacheTTL)
				return &meta, nil
			}
		} else if !errors.Is(err, pkgerrors.ErrCacheMiss) {
			r.logger.WarnWithContext(ctx, "Кэш схемы аспектов недоступен",
				interfaces.LogField{Key: "category_id", Value: categoryID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}

	meta, err := r.client.GetItemAspects(ctx, r.treeID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения схемы аспектов категории %s: %w", categoryID, err)
	}

	r.local.Set(key, meta, aspectCacheTTL)
	if r.cache != nil {
		if raw, err := json.Marshal(meta); err == nil {
			if err := r.cache.Set(ctx, key, raw, aspectCacheTTL); err != nil {
				r.logger.WarnWithContext(ctx, "Не удалось записать схему аспектов в кэш",
					interfaces.LogField{Key: "category_id", Value: categoryID},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
			}
		}
	}

	return meta, nil
}

// AllowedAspects возвращает множество допустимых имен аспектов категории
func (r *CategoryResolver) AllowedAspects(ctx context.Context, categoryID string) (map[string]bool, error) {
	meta, err := r.AspectSchema(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(meta.Aspects))
	for _, a := range meta.Aspects {
		allowed[a.LocalizedAspectName] = true
	}
	return allowed, nil
}

// ForeignAspects возвращает множество аспектов, принадлежащих исключительно
// другой категории закрытого набора
func ForeignAspects(categoryID string) map[string]bool {
	switch categoryID {
	case CategoryChildrens:
		return nonfictionOnlyAspects
	case CategoryNonfiction:
		return childrensOnlyAspects
	default:
		return nil
	}
}

// RequiredAspects возвращает аспекты, обязательные для категории
func RequiredAspects(categoryID string) []string {
	if categoryID == CategoryChildrens {
		return childrensRequiredAspects
	}
	return nil
}
