package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/pricewatch/internal/model"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	conn   *sql.DB
	rebind func(string) string
}

const itemColumns = "id, url, site, name, current_price, check_every_minutes, next_check_at, status, created_at, updated_at"

func questionMarks(q string) string { return q }

// dollarPlaceholders rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	var (
		it          model.Item
		name        sql.NullString
		price       sql.NullFloat64
		nextCheckAt sql.NullTime
	)
	err := row.Scan(&it.ID, &it.URL, &it.Site, &name, &price, &it.CheckEveryMinutes,
		&nextCheckAt, &it.Status, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.Name = name.String
	if price.Valid {
		p := price.Float64
		it.CurrentPrice = &p
	}
	if nextCheckAt.Valid {
		t := nextCheckAt.Time.UTC()
		it.NextCheckAt = &t
	}
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return &it, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// --- Item Methods ---

// CreateItem inserts a new item. Returns ErrDuplicateURL if the URL is already tracked.
func (s *sqlStore) CreateItem(ctx context.Context, item *model.Item) (int64, error) {
	if item.CheckEveryMinutes <= 0 {
		item.CheckEveryMinutes = model.DefaultCheckEveryMinutes
	}
	var id int64
	err := s.conn.QueryRowContext(ctx, s.rebind(`
		INSERT INTO items (url, site, name, current_price, check_every_minutes, next_check_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO NOTHING
		RETURNING id`),
		item.URL, item.Site, nullString(item.Name), nullFloat(item.CurrentPrice), item.CheckEveryMinutes,
		nullTime(item.NextCheckAt), item.Status, item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDuplicateURL
	}
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	item.ID = id
	return id, nil
}

// GetItem returns a single item by ID.
func (s *sqlStore) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	row := s.conn.QueryRowContext(ctx, s.rebind("SELECT "+itemColumns+" FROM items WHERE id = ?"), id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// GetItemByURL returns a single item by its source URL.
func (s *sqlStore) GetItemByURL(ctx context.Context, url string) (*model.Item, error) {
	row := s.conn.QueryRowContext(ctx, s.rebind("SELECT "+itemColumns+" FROM items WHERE url = ?"), url)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// DueItems returns up to limit items that are due at now.
func (s *sqlStore) DueItems(ctx context.Context, now time.Time, limit int) ([]model.Item, error) {
	rows, err := s.conn.QueryContext(ctx, s.rebind(`
		SELECT `+itemColumns+` FROM items
		WHERE (next_check_at IS NULL OR next_check_at <= ?)
		  AND status NOT IN (?, ?)
		ORDER BY next_check_at ASC NULLS FIRST, id ASC
		LIMIT ?`),
		now.UTC(), model.StatusError, model.StatusChanged, limit)
	if err != nil {
		return nil, fmt.Errorf("query due items: %w", err)
	}
	defer rows.Close()
	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// ResetItem clears a sticky status and makes the item due immediately.
func (s *sqlStore) ResetItem(ctx context.Context, id int64, now time.Time) error {
	res, err := s.conn.ExecContext(ctx, s.rebind(
		"UPDATE items SET status = ?, next_check_at = ?, updated_at = ? WHERE id = ?"),
		model.StatusOK, now.UTC(), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("reset item %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Price History Methods ---

// LatestPrice returns the most recent non-null price observed for an item, or nil.
func (s *sqlStore) LatestPrice(ctx context.Context, itemID int64) (*float64, error) {
	var price float64
	err := s.conn.QueryRowContext(ctx, s.rebind(`
		SELECT price FROM price_history
		WHERE item_id = ? AND price IS NOT NULL
		ORDER BY seen_at DESC, id DESC
		LIMIT 1`), itemID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest price for item %d: %w", itemID, err)
	}
	return &price, nil
}

// ListHistory returns an item's observations, newest first.
func (s *sqlStore) ListHistory(ctx context.Context, itemID int64, limit int) ([]model.PriceHistoryEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.conn.QueryContext(ctx, s.rebind(`
		SELECT id, item_id, price, in_stock, seen_at FROM price_history
		WHERE item_id = ?
		ORDER BY seen_at DESC, id DESC
		LIMIT ?`), itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []model.PriceHistoryEntry
	for rows.Next() {
		var (
			e     model.PriceHistoryEntry
			price sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &price, &e.InStock, &e.SeenAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if price.Valid {
			p := price.Float64
			e.Price = &p
		}
		e.SeenAt = e.SeenAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CommitBatch writes every item update and history insert in one transaction.
// Nothing is visible unless all of it is.
func (s *sqlStore) CommitBatch(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	update, err := tx.PrepareContext(ctx, s.rebind(`
		UPDATE items SET name = ?, current_price = ?, status = ?, next_check_at = ?, updated_at = ?
		WHERE id = ?`))
	if err != nil {
		return fmt.Errorf("prepare item update: %w", err)
	}
	defer update.Close()

	for _, it := range b.Items {
		res, err := update.ExecContext(ctx, nullString(it.Name), nullFloat(it.CurrentPrice), it.Status,
			nullTime(it.NextCheckAt), it.UpdatedAt.UTC(), it.ID)
		if err != nil {
			return fmt.Errorf("updating item %d: %w", it.ID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("updating item %d: %w", it.ID, ErrNotFound)
		}
	}

	if len(b.History) > 0 {
		insert, err := tx.PrepareContext(ctx, s.rebind(
			"INSERT INTO price_history (item_id, price, in_stock, seen_at) VALUES (?, ?, ?, ?)"))
		if err != nil {
			return fmt.Errorf("prepare history insert: %w", err)
		}
		defer insert.Close()

		for _, e := range b.History {
			seenAt := e.SeenAt
			if seenAt.IsZero() {
				seenAt = time.Now()
			}
			if _, err := insert.ExecContext(ctx, e.ItemID, nullFloat(e.Price), e.InStock, seenAt.UTC()); err != nil {
				return fmt.Errorf("inserting history for item %d: %w", e.ItemID, err)
			}
		}
	}

	return tx.Commit()
}
