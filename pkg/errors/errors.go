package errors

import "errors"

// Общие ошибки инфраструктурных портов
var (
	// ErrCacheMiss значение не найдено в кэше
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrListingNotFound карточка не найдена в хранилище
	ErrListingNotFound = errors.New("storage: listing not found")

	// ErrTokenNotFound токен провайдера не сохранен
	ErrTokenNotFound = errors.New("credstore: token not found")

	// ErrPublishInProgress публикация этой карточки уже выполняется
	ErrPublishInProgress = errors.New("publish: operation already in progress for this record")
)
