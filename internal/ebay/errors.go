package ebay

import (
	"errors"
	"fmt"
)

// AuthError отсутствие, истечение или отзыв учетных данных.
// Не повторяется автоматически: пользователь должен переподключить интеграцию
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ebay auth: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ebay auth: %s", e.Op)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError отсутствие обязательного локального поля,
// обнаруженное до каких-либо сетевых вызовов
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

// APIError ошибка удаленного API маркетплейса.
// Transient() определяет, подлежит ли запрос повтору по политике клиента
type APIError struct {
	StatusCode    int
	ErrorID       int
	ErrDomain     string
	Message       string
	CorrelationID string
	RequestID     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ebay api: status=%d error_id=%d correlation_id=%s: %s",
		e.StatusCode, e.ErrorID, e.CorrelationID, e.Message)
}

// Transient сообщает, является ли ошибка временной (5xx, 429)
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// SerializationError значение атрибута не удалось безопасно закодировать.
// Обрабатывается для каждого атрибута отдельно: атрибут отбрасывается
// с предупреждением, сборка полезной нагрузки продолжается
type SerializationError struct {
	Aspect string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization: aspect %q: %v", e.Aspect, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// CorruptedOfferError оффер после создания потерял обязательные поля цены.
// Запускает восстановление через удаление и пересоздание; наружу выходит
// только если восстановление тоже не удалось
type CorruptedOfferError struct {
	OfferID string
	Reason  string
}

func (e *CorruptedOfferError) Error() string {
	return fmt.Sprintf("corrupted offer %s: %s", e.OfferID, e.Reason)
}

// IsTransient сообщает, стоит ли повторять операцию
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}

// IsAuth сообщает, требуется ли переподключение интеграции
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsValidation сообщает, что локальная карточка не прошла проверку
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
