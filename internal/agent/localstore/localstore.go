// Package localstore is the device-resident durable store: a read-only
// reference snapshot plus the mutation queue, both in a single SQLite file so
// the agent keeps working across arbitrary connectivity loss.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
)

// QueueStatus is the delivery state of a queued submission.
type QueueStatus string

const (
	StatusPending QueueStatus = "pending"
	StatusBlocked QueueStatus = "blocked"
)

// RecordRef is the minimal account reference shown in the pending-work list.
type RecordRef struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// QueueItem is a locally durable, not-yet-confirmed field submission.
type QueueItem struct {
	IdempotencyKey string
	UserID         string
	CreatedAt      time.Time
	Status         QueueStatus
	LastError      string
	AuthFailures   int
	RecordRef      RecordRef
	Payload        fieldops.Submission
}

// SnapshotMeta describes the reference snapshot currently on the device.
type SnapshotMeta struct {
	SyncedAt time.Time
	Total    int
}

// Store wraps the agent's SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	synced_at INTEGER NOT NULL,
	total INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS streets (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY,
	municipal_code TEXT NOT NULL,
	full_name TEXT NOT NULL,
	tax_id TEXT NOT NULL,
	address TEXT NOT NULL,
	street_id INTEGER NOT NULL,
	water_flag INTEGER NOT NULL,
	sewer_flag INTEGER NOT NULL,
	months_owed INTEGER NOT NULL,
	debt_total INTEGER NOT NULL,
	connection_state TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS queue (
	idempotency_key TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	auth_failures INTEGER NOT NULL DEFAULT 0,
	record_ref TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_user ON queue (user_id, created_at);
`

// Open opens (creating if needed) the agent database under dataDir.
// WAL mode keeps snapshot reads working while a replace transaction runs.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "agent.db"))
	if err != nil {
		return nil, fmt.Errorf("open agent database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure agent database: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply agent schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceSnapshot swaps the reference dataset in one transaction spanning
// streets, records and metadata. Any failure leaves the previous snapshot
// fully intact.
func (s *Store) ReplaceSnapshot(ctx context.Context, payload *accounts.SnapshotPayload, syncedAt time.Time) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot replace: %w", err)
	}
	defer txn.Rollback()

	if _, err := txn.ExecContext(ctx, `DELETE FROM streets`); err != nil {
		return fmt.Errorf("clear streets: %w", err)
	}
	if _, err := txn.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	for _, st := range payload.Streets {
		if _, err := txn.ExecContext(ctx,
			`INSERT INTO streets (id, name) VALUES (?, ?)`, st.ID, st.Name); err != nil {
			return fmt.Errorf("insert street %d: %w", st.ID, err)
		}
	}
	for _, rec := range payload.Records {
		if _, err := txn.ExecContext(ctx, `
			INSERT INTO records (id, municipal_code, full_name, tax_id, address,
				street_id, water_flag, sewer_flag, months_owed, debt_total, connection_state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.MunicipalCode, rec.FullName, rec.TaxID, rec.Address,
			rec.StreetID, rec.Water, rec.Sewer, rec.MonthsOwed, rec.DebtTotal,
			rec.ConnectionState); err != nil {
			return fmt.Errorf("insert record %d: %w", rec.ID, err)
		}
	}

	if _, err := txn.ExecContext(ctx, `
		INSERT INTO metadata (id, synced_at, total) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET synced_at = excluded.synced_at, total = excluded.total`,
		syncedAt.Unix(), payload.Total); err != nil {
		return fmt.Errorf("stamp snapshot metadata: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit snapshot replace: %w", err)
	}
	return nil
}

// SnapshotMeta returns the current snapshot descriptor, or sentinel.ErrNotFound
// when no snapshot has ever been stored.
func (s *Store) SnapshotMeta(ctx context.Context) (*SnapshotMeta, error) {
	var (
		syncedAt int64
		total    int
	)
	err := s.db.QueryRowContext(ctx, `SELECT synced_at, total FROM metadata WHERE id = 1`).
		Scan(&syncedAt, &total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("snapshot metadata: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read snapshot metadata: %w", err)
	}
	return &SnapshotMeta{SyncedAt: time.Unix(syncedAt, 0), Total: total}, nil
}

// ListStreets returns the cached street reference data.
func (s *Store) ListStreets(ctx context.Context) ([]accounts.Street, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM streets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list streets: %w", err)
	}
	defer rows.Close()

	var out []accounts.Street
	for rows.Next() {
		var st accounts.Street
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, fmt.Errorf("scan street: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streets: %w", err)
	}
	return out, nil
}

// GetRecord returns one cached record by id.
func (s *Store) GetRecord(ctx context.Context, id int64) (*accounts.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, municipal_code, full_name, tax_id, address, street_id,
			water_flag, sewer_flag, months_owed, debt_total, connection_state
		FROM records WHERE id = ?`, id)
	var a accounts.Account
	err := row.Scan(&a.ID, &a.MunicipalCode, &a.FullName, &a.TaxID, &a.Address,
		&a.StreetID, &a.Water, &a.Sewer, &a.MonthsOwed, &a.DebtTotal, &a.ConnectionState)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &a, nil
}

// SearchRecords filters the cached records by substring and optional street.
func (s *Store) SearchRecords(ctx context.Context, q string, streetID int64, limit int) ([]accounts.Account, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(q)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, municipal_code, full_name, tax_id, address, street_id,
			water_flag, sewer_flag, months_owed, debt_total, connection_state
		FROM records
		WHERE (? = '%%' OR lower(full_name) LIKE ? OR lower(tax_id) LIKE ?
			OR lower(municipal_code) LIKE ? OR lower(address) LIKE ?)
		AND (? = 0 OR street_id = ?)
		ORDER BY id
		LIMIT ?`,
		pattern, pattern, pattern, pattern, pattern, streetID, streetID, limit)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	var out []accounts.Account
	for rows.Next() {
		var a accounts.Account
		if err := rows.Scan(&a.ID, &a.MunicipalCode, &a.FullName, &a.TaxID,
			&a.Address, &a.StreetID, &a.Water, &a.Sewer, &a.MonthsOwed,
			&a.DebtTotal, &a.ConnectionState); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// InsertQueueItem stores a new pending submission. A duplicate idempotency key
// for the same user yields sentinel.ErrConflict.
func (s *Store) InsertQueueItem(ctx context.Context, item *QueueItem) error {
	ref, err := json.Marshal(item.RecordRef)
	if err != nil {
		return fmt.Errorf("marshal record ref: %w", err)
	}
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue (idempotency_key, user_id, created_at, status, last_error, auth_failures, record_ref, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.IdempotencyKey, item.UserID, item.CreatedAt.UnixMilli(),
		item.Status, item.LastError, item.AuthFailures, ref, payload)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("queue item %s: %w", item.IdempotencyKey, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// GetQueueItem returns one item by idempotency key.
func (s *Store) GetQueueItem(ctx context.Context, key string) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, user_id, created_at, status, last_error, auth_failures, record_ref, payload
		FROM queue WHERE idempotency_key = ?`, key)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("queue item %s: %w", key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// ListQueueItems returns the user's items ordered by creation time. Items of
// other users are never returned.
func (s *Store) ListQueueItems(ctx context.Context, userID string) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idempotency_key, user_id, created_at, status, last_error, auth_failures, record_ref, payload
		FROM queue WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var (
		item      QueueItem
		createdAt int64
		ref       []byte
		payload   []byte
	)
	if err := row.Scan(&item.IdempotencyKey, &item.UserID, &createdAt,
		&item.Status, &item.LastError, &item.AuthFailures, &ref, &payload); err != nil {
		return nil, err
	}
	item.CreatedAt = time.UnixMilli(createdAt)
	if err := json.Unmarshal(ref, &item.RecordRef); err != nil {
		return nil, fmt.Errorf("unmarshal record ref: %w", err)
	}
	if err := json.Unmarshal(payload, &item.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &item, nil
}

// UpdateQueueItem rewrites an item's retry state.
func (s *Store) UpdateQueueItem(ctx context.Context, item *QueueItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue SET status = ?, last_error = ?, auth_failures = ?
		WHERE idempotency_key = ?`,
		item.Status, item.LastError, item.AuthFailures, item.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue item %s: %w", item.IdempotencyKey, sentinel.ErrNotFound)
	}
	return nil
}

// DeleteQueueItem removes an item. Deleting a missing item is not an error:
// a confirmed delivery and an operator removal may race.
func (s *Store) DeleteQueueItem(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE idempotency_key = ?`, key); err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return nil
}
