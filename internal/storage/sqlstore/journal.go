package sqlstore

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"dispatch/internal/core"
)

type journalStore struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

type journalRow struct {
	Key         string `db:"entry_key"`
	Pipeline    string `db:"pipeline"`
	Source      string `db:"source"`
	Title       string `db:"title"`
	Link        string `db:"link"`
	Description string `db:"description"`
	Author      string `db:"author"`
	PublishedAt int64  `db:"published_at"`
	DeliveredAt int64  `db:"delivered_at"`
}

func (s *journalStore) Record(ctx context.Context, entry core.JournalEntry) error {
	var publishedAt int64
	if !entry.PublishedAt.IsZero() {
		publishedAt = entry.PublishedAt.UnixMilli()
	}

	query, args, err := s.builder.Insert("delivery_journal").
		Columns("entry_key", "pipeline", "source", "title", "link", "description", "author", "published_at", "delivered_at").
		Values(entry.Key, entry.Pipeline, entry.Source, entry.Title, entry.Link, entry.Description, entry.Author, publishedAt, entry.DeliveredAt.UnixMilli()).
		Suffix("ON CONFLICT (entry_key) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build journal insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}

	return nil
}

func (s *journalStore) Recent(ctx context.Context, limit int) ([]core.JournalEntry, error) {
	query, args, err := s.builder.Select("entry_key", "pipeline", "source", "title", "link", "description", "author", "published_at", "delivered_at").
		From("delivery_journal").
		OrderBy("delivered_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build journal query: %w", err)
	}

	var rows []journalRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}

	entries := make([]core.JournalEntry, 0, len(rows))
	for _, row := range rows {
		entry := core.JournalEntry{
			Key:         row.Key,
			Pipeline:    row.Pipeline,
			Source:      row.Source,
			Title:       row.Title,
			Link:        row.Link,
			Description: row.Description,
			Author:      row.Author,
			DeliveredAt: time.UnixMilli(row.DeliveredAt).UTC(),
		}
		if row.PublishedAt != 0 {
			entry.PublishedAt = time.UnixMilli(row.PublishedAt).UTC()
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *journalStore) deleteOlderThan(ctx context.Context, cutoff time.Time) error {
	query, args, err := s.builder.Delete("delivery_journal").
		Where(sq.Lt{"delivered_at": cutoff.UnixMilli()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build journal delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete old journal entries: %w", err)
	}
	return nil
}
