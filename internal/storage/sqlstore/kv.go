package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const upsertSuffix = `ON CONFLICT (ledger_key) DO UPDATE SET
	value = excluded.value,
	expires_at = excluded.expires_at,
	updated_at = excluded.updated_at`

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	query, args, err := s.builder.Select("value").
		From("ledger_entries").
		Where(sq.Eq{"ledger_key": key}).
		Where(sq.Gt{"expires_at": s.now().UnixMilli()}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build get query: %w", err)
	}

	var value string
	if err := s.db.GetContext(ctx, &value, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get entry: %w", err)
	}

	return value, true, nil
}

// Put upserts key. A non-positive ttl never expires.
func (s *Store) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	now := s.now()

	expiresAt := int64(math.MaxInt64)
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}

	query, args, err := s.builder.Insert("ledger_entries").
		Columns("ledger_key", "value", "expires_at", "updated_at").
		Values(key, value, expiresAt, now.UnixMilli()).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("build put query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to put entry: %w", err)
	}

	return nil
}
