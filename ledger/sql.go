package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/sqlitedb"
)

const (
	statusHeld      = "held"
	statusCommitted = "committed"
	statusReleased  = "released"
)

// SQLLedger stores usage in the daily_usage and reservations tables. Every mutation runs in a
// transaction on the single writer connection, so check-and-increment is serialised across
// all callers of the process.
type SQLLedger struct {
	db     *sqlitedb.DB
	limits LimitSource
	log    *slog.Logger
}

// NewSQLLedger creates a ledger backed by the daily_usage and reservations tables of db.
func NewSQLLedger(db *sqlitedb.DB, limits LimitSource, log *slog.Logger) *SQLLedger {
	return &SQLLedger{db: db, limits: limits, log: log}
}

// TryReserve checks the headroom and inserts the reservation in one write transaction.
func (l *SQLLedger) TryReserve(ctx context.Context, account interfaces.AccountID, amount int64, date string) (res interfaces.Reservation, err error) {
	limit := l.limits.DailyLimit(account)
	if err := validateReserve(account, amount, limit, date); err != nil {
		return interfaces.Reservation{}, err
	}

	tx, err := l.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.Reservation{}, fmt.Errorf("begin reserve: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var reserved, committed int64
	err = tx.QueryRowContext(ctx,
		`SELECT reserved, committed FROM daily_usage WHERE account_id = ? AND usage_date = ?`,
		account.String(), date,
	).Scan(&reserved, &committed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return interfaces.Reservation{}, fmt.Errorf("read usage: %w", err)
	}

	if exceeds(limit, committed, reserved, amount) {
		err = limitError(account, date, limit, committed, reserved, amount)
		return interfaces.Reservation{}, err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO daily_usage (account_id, usage_date, reserved, committed) VALUES (?, ?, ?, 0)
		 ON CONFLICT(account_id, usage_date) DO UPDATE SET reserved = reserved + excluded.reserved`,
		account.String(), date, amount,
	); err != nil {
		return interfaces.Reservation{}, fmt.Errorf("update usage: %w", err)
	}

	res = interfaces.Reservation{Token: newToken(), AccountID: account, Date: date, Amount: amount}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO reservations (token, account_id, usage_date, amount, status) VALUES (?, ?, ?, ?, ?)`,
		res.Token, account.String(), date, amount, statusHeld,
	); err != nil {
		return interfaces.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return interfaces.Reservation{}, fmt.Errorf("commit reserve: %w", err)
	}
	return res, nil
}

func (l *SQLLedger) Commit(ctx context.Context, token string) error {
	return l.settle(ctx, token, statusCommitted)
}

func (l *SQLLedger) Release(ctx context.Context, token string) error {
	return l.settle(ctx, token, statusReleased)
}

func (l *SQLLedger) settle(ctx context.Context, token, status string) (err error) {
	tx, err := l.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settle: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var (
		account, date, current string
		amount                 int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT account_id, usage_date, amount, status FROM reservations WHERE token = ?`, token,
	).Scan(&account, &date, &amount, &current)
	if errors.Is(err, sql.ErrNoRows) {
		err = interfaces.ErrInvalidToken
		return err
	}
	if err != nil {
		return fmt.Errorf("read reservation: %w", err)
	}
	if current != statusHeld {
		err = interfaces.ErrInvalidToken
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE reservations SET status = ? WHERE token = ?`, status, token); err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}

	var committed int64
	if status == statusCommitted {
		committed = amount
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE daily_usage SET reserved = reserved - ?, committed = committed + ? WHERE account_id = ? AND usage_date = ?`,
		amount, committed, account, date,
	); err != nil {
		return fmt.Errorf("update usage: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit settle: %w", err)
	}

	l.log.Debug("Reservation settled",
		slog.String("account", account),
		slog.String("date", date),
		slog.Int64("amount", amount),
		slog.String("status", status))
	return nil
}

func (l *SQLLedger) Usage(ctx context.Context, account interfaces.AccountID, date string) (interfaces.DailyUsage, error) {
	usage := interfaces.DailyUsage{AccountID: account, Date: date, Limit: l.limits.DailyLimit(account)}

	err := l.db.Reader.QueryRowContext(ctx,
		`SELECT reserved, committed FROM daily_usage WHERE account_id = ? AND usage_date = ?`,
		account.String(), date,
	).Scan(&usage.Reserved, &usage.Committed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return interfaces.DailyUsage{}, fmt.Errorf("read usage: %w", err)
	}
	return usage, nil
}

func (l *SQLLedger) Prune(ctx context.Context, before string) (pruned int, err error) {
	if _, err := interfaces.ParseDateKey(before); err != nil {
		return 0, err
	}

	tx, err := l.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `DELETE FROM daily_usage WHERE usage_date < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune usage: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM reservations WHERE usage_date < ?`, before); err != nil {
		return 0, fmt.Errorf("prune reservations: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}
