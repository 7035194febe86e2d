package shared

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/quotedesk/internal/platform/db"
)

// QuerierSource hands out the transaction bound to ctx or the pool.
type QuerierSource interface {
	Querier(ctx context.Context) db.Querier
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	db  QuerierSource
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(src QuerierSource) *IdempotencyStore {
	return &IdempotencyStore{db: src, now: time.Now}
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.db.Querier(ctx).Exec(ctx,
		`INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`,
		key, module, s.now())
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	tag, err := s.db.Querier(ctx).Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.db.Querier(ctx).Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}
