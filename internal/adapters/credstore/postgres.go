package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/ebay-publisher/internal/domain/models"
	pkgerrors "github.com/athebyme/ebay-publisher/pkg/errors"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCredentialStore хранилище OAuth-токенов в PostgreSQL.
// Токены шифруются парольной фразой перед записью; в таблице лежит
// только непрозрачный конверт, сами токены в БД не попадают
type PostgresCredentialStore struct {
	pool       *pgxpool.Pool
	passphrase []byte
	logger     interfaces.LoggerPort
}

var _ interfaces.CredentialStorePort = (*PostgresCredentialStore)(nil)

// NewPostgresCredentialStore создает хранилище токенов поверх существующего пула
func NewPostgresCredentialStore(pool *pgxpool.Pool, passphrase string, logger interfaces.LoggerPort) (*PostgresCredentialStore, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if passphrase == "" {
		return nil, errors.New("token passphrase is empty")
	}

	return &PostgresCredentialStore{
		pool:       pool,
		passphrase: []byte(passphrase),
		logger:     logger,
	}, nil
}

// Save сохраняет (или заменяет целиком) токен провайдера
func (s *PostgresCredentialStore) Save(ctx context.Context, provider string, token *models.OAuthToken) error {
	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("ошибка сериализации токена: %w", err)
	}

	blob, err := sealToken(s.passphrase, plaintext)
	if err != nil {
		return fmt.Errorf("ошибка шифрования токена: %w", err)
	}

	query := `
		INSERT INTO oauth_tokens (provider, token_blob, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider) DO UPDATE
		SET token_blob = EXCLUDED.token_blob, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, provider, blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("ошибка сохранения токена провайдера %s: %w", provider, err)
	}

	s.logger.InfoWithContext(ctx, "Токен сохранен",
		interfaces.LogField{Key: "provider", Value: provider},
		interfaces.LogField{Key: "expires_at", Value: token.ExpiresAt},
	)
	return nil
}

// Load возвращает расшифрованный токен провайдера
func (s *PostgresCredentialStore) Load(ctx context.Context, provider string) (*models.OAuthToken, error) {
	var blob []byte
	query := `SELECT token_blob FROM oauth_tokens WHERE provider = $1`

	if err := s.pool.QueryRow(ctx, query, provider).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrTokenNotFound
		}
		return nil, fmt.Errorf("ошибка чтения токена провайдера %s: %w", provider, err)
	}

	plaintext, err := openToken(s.passphrase, blob)
	if err != nil {
		// Текст ошибки не содержит содержимого блоба
		return nil, fmt.Errorf("ошибка расшифровки токена провайдера %s: %w", provider, err)
	}

	var token models.OAuthToken
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return nil, fmt.Errorf("ошибка десериализации токена провайдера %s: %w", provider, err)
	}

	return &token, nil
}

// Delete удаляет токен провайдера (отключение интеграции)
func (s *PostgresCredentialStore) Delete(ctx context.Context, provider string) error {
	query := `DELETE FROM oauth_tokens WHERE provider = $1`

	tag, err := s.pool.Exec(ctx, query, provider)
	if err != nil {
		return fmt.Errorf("ошибка удаления токена провайдера %s: %w", provider, err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrTokenNotFound
	}

	s.logger.InfoWithContext(ctx, "Токен удален",
		interfaces.LogField{Key: "provider", Value: provider},
	)
	return nil
}
