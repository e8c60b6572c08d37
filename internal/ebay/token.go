package ebay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/athebyme/ebay-publisher/internal/domain/models"
	pkgerrors "github.com/athebyme/ebay-publisher/pkg/errors"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// TokenProviderName имя провайдера в хранилище учетных данных
	TokenProviderName = "ebay"

	// expiryBuffer токен считается истекающим за этот интервал до фактического срока
	expiryBuffer = 5 * time.Minute

	// defaultExpiresIn срок жизни access-токена, если сервер его не вернул
	defaultExpiresIn = 7200 * time.Second

	refreshKey = "refresh"
)

// TokenManager управляет жизненным циклом OAuth-токенов маркетплейса.
// Конкурентные обновления схлопываются в один сетевой вызов
type TokenManager struct {
	oauthCfg *oauth2.Config
	store    interfaces.CredentialStorePort
	logger   interfaces.LoggerPort
	group    singleflight.Group
}

var _ TokenProvider = (*TokenManager)(nil)

// TokenConfig параметры OAuth-приложения
type TokenConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string // scope-строки через пробел
	AuthBaseURL  string
	TokenURL     string
}

// NewTokenManager создает менеджер токенов
func NewTokenManager(cfg TokenConfig, store interfaces.CredentialStorePort, logger interfaces.LoggerPort) *TokenManager {
	return &TokenManager{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       strings.Fields(cfg.Scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthBaseURL + "/oauth2/authorize",
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:  store,
		logger: logger,
	}
}

// AuthorizationURL строит адрес страницы согласия маркетплейса.
// Подписанный state передается вызывающей стороной
func (m *TokenManager) AuthorizationURL(state string) string {
	return m.oauthCfg.AuthCodeURL(state)
}

// ExchangeCode обменивает код авторизации на пару токенов и сохраняет ее
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (*models.TokenSummary, error) {
	tok, err := m.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, &AuthError{Op: "exchange authorization code", Err: err}
	}

	stored := tokenFromOAuth2(tok, "")
	if err := m.store.Save(ctx, TokenProviderName, stored); err != nil {
		return nil, fmt.Errorf("ошибка сохранения токена после обмена кода: %w", err)
	}

	m.logger.InfoWithContext(ctx, "Интеграция с eBay подключена",
		interfaces.LogField{Key: "expires_at", Value: stored.ExpiresAt},
	)

	return &models.TokenSummary{
		Connected: true,
		ExpiresAt: stored.ExpiresAt,
		Scope:     stored.Scope,
	}, nil
}

// ValidToken возвращает действующий access-токен, обновляя его при
// необходимости. Токен считается истекающим за пять минут до срока
func (m *TokenManager) ValidToken(ctx context.Context) (string, error) {
	stored, err := m.store.Load(ctx, TokenProviderName)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrTokenNotFound) {
			return "", &AuthError{Op: "load token", Err: err}
		}
		return "", fmt.Errorf("ошибка загрузки токена: %w", err)
	}

	if !stored.ExpiresWithin(expiryBuffer) {
		return stored.AccessToken, nil
	}

	return m.refresh(ctx)
}

// ForceRefresh безусловно обновляет access-токен.
// Вызывается клиентом после отказа в авторизации
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	return m.refresh(ctx)
}

// refresh обновляет токен через singleflight: пять конкурентных вызовов
// порождают ровно один запрос к серверу авторизации
func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	v, err, _ := m.group.Do(refreshKey, func() (interface{}, error) {
		stored, err := m.store.Load(ctx, TokenProviderName)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrTokenNotFound) {
				return "", &AuthError{Op: "load token", Err: err}
			}
			return "", fmt.Errorf("ошибка загрузки токена: %w", err)
		}

		// Попутчик singleflight мог уже обновить токен
		if !stored.ExpiresWithin(expiryBuffer) {
			return stored.AccessToken, nil
		}

		if stored.RefreshToken == "" {
			return "", &AuthError{Op: "refresh token", Err: errors.New("refresh token is empty")}
		}

		src := m.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken})
		fresh, err := src.Token()
		if err != nil {
			// Строка в хранилище не трогается: refresh-токен может быть еще жив
			m.logger.WarnWithContext(ctx, "Не удалось обновить access-токен",
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			return "", &AuthError{Op: "refresh token", Err: err}
		}

		next := tokenFromOAuth2(fresh, stored.RefreshToken)
		if err := m.store.Save(ctx, TokenProviderName, next); err != nil {
			return "", fmt.Errorf("ошибка сохранения обновленного токена: %w", err)
		}

		m.logger.InfoWithContext(ctx, "Access-токен обновлен",
			interfaces.LogField{Key: "expires_at", Value: next.ExpiresAt},
		)
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ConnectionStatus возвращает состояние подключения без самих токенов
func (m *TokenManager) ConnectionStatus(ctx context.Context) (*models.ConnectionStatus, error) {
	stored, err := m.store.Load(ctx, TokenProviderName)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrTokenNotFound) {
			return &models.ConnectionStatus{Connected: false}, nil
		}
		return nil, fmt.Errorf("ошибка загрузки токена: %w", err)
	}

	expiresIn := int64(time.Until(stored.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &models.ConnectionStatus{Connected: true, ExpiresIn: expiresIn}, nil
}

// Disconnect удаляет сохраненные токены. Повторное отключение не ошибка
func (m *TokenManager) Disconnect(ctx context.Context) error {
	if err := m.store.Delete(ctx, TokenProviderName); err != nil {
		if errors.Is(err, pkgerrors.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка удаления токена: %w", err)
	}

	m.logger.InfoWithContext(ctx, "Интеграция с eBay отключена")
	return nil
}

// tokenFromOAuth2 переносит ответ сервера авторизации в модель хранилища.
// Сервер может не вернуть новый refresh-токен, тогда сохраняется прежний
func tokenFromOAuth2(tok *oauth2.Token, previousRefresh string) *models.OAuthToken {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultExpiresIn)
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	scope, _ := tok.Extra("scope").(string)

	return &models.OAuthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		TokenType:    tok.TokenType,
		Scope:        scope,
	}
}
