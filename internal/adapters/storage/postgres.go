package storage

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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	txKey contextKey = "transaction"
)

// ListingStorage реализация ListingStorePort для PostgreSQL
type ListingStorage struct {
	pool *pgxpool.Pool
}

var _ interfaces.ListingStorePort = (*ListingStorage)(nil)

// NewPostgresStorage создает новый экземпляр ListingStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*ListingStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &ListingStorage{
		pool: pool,
	}, nil
}

// NewPostgresStorageWithPool создает хранилище поверх существующего пула
func NewPostgresStorageWithPool(ctx context.Context, pool *pgxpool.Pool) (*ListingStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &ListingStorage{
		pool: pool,
	}, nil
}

// Close закрывает соединение с БД
func (r *ListingStorage) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет соединение с БД
func (r *ListingStorage) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *ListingStorage) getExecutor(ctx context.Context) executor {
	if tx := r.getTx(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// getTx получает транзакцию из контекста
func (r *ListingStorage) getTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// BeginTx начинает новую транзакцию и кладет ее в контекст
func (r *ListingStorage) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	return context.WithValue(ctx, txKey, tx), nil
}

// CommitTx фиксирует транзакцию из контекста
func (r *ListingStorage) CommitTx(ctx context.Context) error {
	tx := r.getTx(ctx)
	if tx == nil {
		return errors.New("транзакция не найдена в контексте")
	}
	return tx.Commit(ctx)
}

// RollbackTx откатывает транзакцию из контекста
func (r *ListingStorage) RollbackTx(ctx context.Context) error {
	tx := r.getTx(ctx)
	if tx == nil {
		return errors.New("транзакция не найдена в контексте")
	}
	return tx.Rollback(ctx)
}

// GetListing возвращает карточку листинга со всеми полями,
// включая атрибуты и список фотографий (хранятся как jsonb)
func (r *ListingStorage) GetListing(ctx context.Context, id string) (*models.ListingRecord, error) {
	query := `
		SELECT id, sku, offer_id, listing_id,
		       title, author, publisher, year, isbn, condition, description,
		       price, quantity, attributes, images, verified, category_id,
		       publish_status, publish_error, created_at, updated_at
		FROM listings
		WHERE id = $1
	`

	var (
		rec            models.ListingRecord
		price          *decimal.Decimal
		attributesJSON []byte
		imagesJSON     []byte
	)

	err := r.getExecutor(ctx).QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.SKU, &rec.OfferID, &rec.ListingID,
		&rec.Title, &rec.Author, &rec.Publisher, &rec.Year, &rec.ISBN, &rec.Condition, &rec.Description,
		&price, &rec.Quantity, &attributesJSON, &imagesJSON, &rec.Verified, &rec.CategoryID,
		&rec.PublishStatus, &rec.PublishError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrListingNotFound
		}
		return nil, fmt.Errorf("ошибка чтения карточки %s: %w", id, err)
	}

	rec.Price = price

	if len(attributesJSON) > 0 {
		if err := json.Unmarshal(attributesJSON, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("ошибка разбора атрибутов карточки %s: %w", id, err)
		}
	}
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &rec.Images); err != nil {
			return nil, fmt.Errorf("ошибка разбора списка фотографий карточки %s: %w", id, err)
		}
	}

	return &rec, nil
}

// SavePublishResult записывает результат публикации обратно в карточку.
// Обновляются только поля результата публикации, остальное принадлежит внешнему приложению
func (r *ListingStorage) SavePublishResult(ctx context.Context, id string, outcome models.PublishOutcome) error {
	query := `
		UPDATE listings
		SET sku = COALESCE(NULLIF($2, ''), sku),
		    offer_id = COALESCE(NULLIF($3, ''), offer_id),
		    listing_id = COALESCE(NULLIF($4, ''), listing_id),
		    publish_status = $5,
		    publish_error = $6,
		    updated_at = $7
		WHERE id = $1
	`

	tag, err := r.getExecutor(ctx).Exec(ctx, query,
		id, outcome.SKU, outcome.OfferID, outcome.ListingID,
		string(outcome.Status), outcome.ErrorMessage, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения результата публикации карточки %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrListingNotFound
	}

	return nil
}
