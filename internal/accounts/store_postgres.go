package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
	txcontext "github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/tx"
)

// PostgresStore persists the canonical register in PostgreSQL. This store is
// pure I/O; diff computation and review rules live in the fieldops service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, municipal_code, full_name, tax_id, address, street_id,
	water_flag, sewer_flag, months_owed, debt_total, connection_state, updated_at`

func (s *PostgresStore) querier(ctx context.Context) txcontext.Querier {
	return txcontext.Resolve(ctx, s.db)
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)
	return s.scanOne(s.querier(ctx).QueryRowContext(ctx, query, id), id)
}

// GetForUpdate locks the account row for the duration of the ambient
// transaction. Two concurrent approvals on the same account serialize here.
func (s *PostgresStore) GetForUpdate(ctx context.Context, id int64) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1 FOR UPDATE`, accountColumns)
	return s.scanOne(s.querier(ctx).QueryRowContext(ctx, query, id), id)
}

func (s *PostgresStore) scanOne(row *sql.Row, id int64) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.MunicipalCode, &a.FullName, &a.TaxID, &a.Address,
		&a.StreetID, &a.Water, &a.Sewer, &a.MonthsOwed, &a.DebtTotal,
		&a.ConnectionState, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) Update(ctx context.Context, account *Account) error {
	query := `
		UPDATE accounts
		SET full_name = $2, tax_id = $3, address = $4, street_id = $5,
			water_flag = $6, sewer_flag = $7, months_owed = $8, debt_total = $9,
			connection_state = $10, updated_at = NOW()
		WHERE id = $1
	`
	res, err := s.querier(ctx).ExecContext(ctx, query,
		account.ID, account.FullName, account.TaxID, account.Address,
		account.StreetID, account.Water, account.Sewer, account.MonthsOwed,
		account.DebtTotal, account.ConnectionState,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %d: %w", account.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, q string, streetID int64, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query := fmt.Sprintf(`
		SELECT %s FROM accounts
		WHERE ($1 = '' OR full_name ILIKE '%%' || $1 || '%%'
			OR tax_id ILIKE '%%' || $1 || '%%'
			OR municipal_code ILIKE '%%' || $1 || '%%'
			OR address ILIKE '%%' || $1 || '%%')
		AND ($2 = 0 OR street_id = $2)
		ORDER BY id
		LIMIT $3
	`, accountColumns)
	rows, err := s.querier(ctx).QueryContext(ctx, query, q, streetID, limit)
	if err != nil {
		return nil, fmt.Errorf("search accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts ORDER BY id`, accountColumns)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func scanAccounts(rows *sql.Rows) ([]Account, error) {
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.MunicipalCode, &a.FullName, &a.TaxID,
			&a.Address, &a.StreetID, &a.Water, &a.Sewer, &a.MonthsOwed,
			&a.DebtTotal, &a.ConnectionState, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.querier(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListStreets(ctx context.Context) ([]Street, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `SELECT id, name FROM streets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list streets: %w", err)
	}
	defer rows.Close()

	var out []Street
	for rows.Next() {
		var st Street
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
