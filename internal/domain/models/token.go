package models

import "time"

// OAuthToken пара OAuth-токенов маркетплейса.
// Принадлежит исключительно CredentialStore: заменяется целиком при
// обновлении и удаляется при отключении интеграции.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// ExpiresWithin сообщает, истекает ли токен в пределах указанного буфера
func (t *OAuthToken) ExpiresWithin(buffer time.Duration) bool {
	return time.Now().Add(buffer).After(t.ExpiresAt)
}

// ConnectionStatus состояние подключения к маркетплейсу для внешнего API.
// Сами токены наружу не отдаются
type ConnectionStatus struct {
	Connected bool  `json:"connected"`
	ExpiresIn int64 `json:"expires_in,omitempty"` // секунд до истечения access-токена
}

// TokenSummary результат обмена кода авторизации: безопасная сводка без самих токенов
type TokenSummary struct {
	Connected bool      `json:"connected"`
	ExpiresAt time.Time `json:"expires_at"`
	Scope     string    `json:"scope,omitempty"`
}
