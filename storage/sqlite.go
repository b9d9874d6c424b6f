package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/sqlitedb"
)

// SQLiteBackend stores records in the credential_records table.
type SQLiteBackend struct {
	db  *sqlitedb.DB
	log *slog.Logger
}

// NewSQLiteBackend creates a record backend on an opened database.
func NewSQLiteBackend(db *sqlitedb.DB, log *slog.Logger) *SQLiteBackend {
	return &SQLiteBackend{db: db, log: log}
}

func (b *SQLiteBackend) Fetch(ctx context.Context, account interfaces.AccountID) ([]byte, error) {
	const query = `SELECT record FROM credential_records WHERE account_id = ?`

	var data []byte
	err := b.db.Reader.QueryRowContext(ctx, query, account.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch record %q: %v", interfaces.ErrBackendUnavailable, account, err)
	}
	return data, nil
}

func (b *SQLiteBackend) Store(ctx context.Context, account interfaces.AccountID, data []byte) error {
	if err := account.Validate(); err != nil {
		return err
	}

	const query = `INSERT INTO credential_records (account_id, record, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(account_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`
	if _, err := b.db.Writer.ExecContext(ctx, query, account.String(), data); err != nil {
		return fmt.Errorf("%w: store record %q: %v", interfaces.ErrBackendUnavailable, account, err)
	}

	b.log.Debug("Stored record in sqlite", slog.String("account", account.String()))
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]interfaces.AccountID, error) {
	rows, err := b.db.Reader.QueryContext(ctx, `SELECT account_id FROM credential_records ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var accounts []interfaces.AccountID
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		accounts = append(accounts, interfaces.AccountID(account))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return accounts, nil
}

func (b *SQLiteBackend) Available(ctx context.Context) bool {
	if err := b.db.Reader.PingContext(ctx); err != nil {
		b.log.Debug("SQLite backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *SQLiteBackend) Name() string {
	return "sqlite"
}

func (b *SQLiteBackend) LocationURI() string {
	return "sqlite://" + b.db.Path()
}
