package interfaces

import (
	"context"

	"github.com/athebyme/ebay-publisher/internal/domain/models"
)

// ListingStorePort определяет интерфейс хранилища карточек листингов.
// Ядро публикации только читает карточку и записывает обратно результат публикации;
// создание и редактирование карточек принадлежит внешнему приложению.
type ListingStorePort interface {
	// GetListing возвращает карточку по идентификатору
	GetListing(ctx context.Context, id string) (*models.ListingRecord, error)

	// SavePublishResult записывает результат публикации в карточку
	SavePublishResult(ctx context.Context, id string, outcome models.PublishOutcome) error

	// Close закрывает соединение с хранилищем
	Close() error
}

// CredentialStorePort определяет интерфейс защищенного хранилища OAuth-токенов.
// Реализация обязана шифровать токены перед записью; механизм шифрования
// скрыт за интерфейсом и может быть заменен без изменения TokenManager
type CredentialStorePort interface {
	// Save сохраняет (или заменяет целиком) токен провайдера
	Save(ctx context.Context, provider string, token *models.OAuthToken) error

	// Load возвращает расшифрованный токен провайдера
	// Возвращает ErrTokenNotFound, если токен не сохранен
	Load(ctx context.Context, provider string) (*models.OAuthToken, error)

	// Delete удаляет токен провайдера (отключение интеграции)
	Delete(ctx context.Context, provider string) error
}
