package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shohag/reclaim/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			stripe_account_id TEXT NOT NULL DEFAULT '',
			webhook_secret TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL UNIQUE,
			connected INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS failed_payments (
			id TEXT PRIMARY KEY,
			invoice_id TEXT NOT NULL UNIQUE,
			customer_id TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			subscription_id TEXT NOT NULL DEFAULT '',
			account_id TEXT NOT NULL REFERENCES accounts(id),
			amount INTEGER NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			failure_code TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			hosted_invoice_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			next_retry_at DATETIME,
			retry_history TEXT NOT NULL DEFAULT '[]',
			emails_sent TEXT NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			recovered_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_api_key ON accounts(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_account ON failed_payments(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_due ON failed_payments(status, next_retry_at) WHERE status IN ('pending', 'retrying')`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// --- Accounts ---

const accountColumns = `id, name, stripe_account_id, webhook_secret, api_key, connected, created_at, updated_at`

func (s *SQLiteStorage) scanAccount(row interface{ Scan(...interface{}) error }) (*models.Account, error) {
	var acct models.Account
	var connected int
	err := row.Scan(&acct.ID, &acct.Name, &acct.StripeAccountID, &acct.WebhookSecret, &acct.APIKey, &connected, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acct.Connected = connected == 1
	return &acct, nil
}

func (s *SQLiteStorage) CreateAccount(ctx context.Context, acct *models.Account) error {
	connected := 0
	if acct.Connected {
		connected = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.Name, acct.StripeAccountID, acct.WebhookSecret, acct.APIKey, connected, acct.CreatedAt, acct.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acct, err := s.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return acct, err
}

func (s *SQLiteStorage) GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE api_key = ?`, apiKey)
	acct, err := s.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return acct, err
}

func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accts []models.Account
	for rows.Next() {
		acct, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, *acct)
	}
	return accts, rows.Err()
}

func (s *SQLiteStorage) SetAccountConnected(ctx context.Context, id string, connected bool) error {
	c := 0
	if connected {
		c = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET connected = ?, updated_at = ? WHERE id = ?`, c, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) UpdateAccountAPIKey(ctx context.Context, id, newKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET api_key = ?, updated_at = ? WHERE id = ?`,
		newKey, time.Now().UTC(), id,
	)
	return err
}

// --- Payments ---

const paymentColumns = `p.id, p.invoice_id, p.customer_id, p.customer_email, p.subscription_id, p.account_id,
	p.amount, p.currency, p.failure_code, p.failure_reason, p.hosted_invoice_url, p.status, p.retry_count,
	p.max_retries, p.next_retry_at, p.retry_history, p.emails_sent, p.version, p.created_at, p.updated_at, p.recovered_at`

func (s *SQLiteStorage) scanPayment(row interface{ Scan(...interface{}) error }) (*models.FailedPayment, error) {
	var p models.FailedPayment
	var history, emails string
	err := row.Scan(&p.ID, &p.InvoiceID, &p.CustomerID, &p.CustomerEmail, &p.SubscriptionID, &p.AccountID,
		&p.Amount, &p.Currency, &p.FailureCode, &p.FailureReason, &p.HostedInvoiceURL, &p.Status, &p.RetryCount,
		&p.MaxRetries, &p.NextRetryAt, &history, &emails, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.RecoveredAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &p.RetryHistory); err != nil {
		return nil, fmt.Errorf("decode retry history of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(emails), &p.EmailsSent); err != nil {
		return nil, fmt.Errorf("decode emails sent of %s: %w", p.ID, err)
	}
	if p.RetryHistory == nil {
		p.RetryHistory = []models.RetryAttempt{}
	}
	if p.EmailsSent == nil {
		p.EmailsSent = []models.EmailRecord{}
	}
	return &p, nil
}

func (s *SQLiteStorage) scanPayments(rows *sql.Rows) ([]models.FailedPayment, error) {
	defer rows.Close()

	var payments []models.FailedPayment
	for rows.Next() {
		p, err := s.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func marshalList(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *SQLiteStorage) CreatePayment(ctx context.Context, p *models.FailedPayment) error {
	history, err := marshalList(p.RetryHistory)
	if err != nil {
		return err
	}
	emails, err := marshalList(p.EmailsSent)
	if err != nil {
		return err
	}
	if p.Version == 0 {
		p.Version = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO failed_payments (id, invoice_id, customer_id, customer_email, subscription_id, account_id,
			amount, currency, failure_code, failure_reason, hosted_invoice_url, status, retry_count, max_retries,
			next_retry_at, retry_history, emails_sent, version, created_at, updated_at, recovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.InvoiceID, p.CustomerID, p.CustomerEmail, p.SubscriptionID, p.AccountID,
		p.Amount, p.Currency, p.FailureCode, p.FailureReason, p.HostedInvoiceURL, p.Status, p.RetryCount, p.MaxRetries,
		utcPtr(p.NextRetryAt), history, emails, p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC(), utcPtr(p.RecoveredAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateInvoice
	}
	return err
}

func (s *SQLiteStorage) GetPayment(ctx context.Context, id string) (*models.FailedPayment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM failed_payments p WHERE p.id = ?`, id)
	p, err := s.scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStorage) GetPaymentByInvoice(ctx context.Context, invoiceID string) (*models.FailedPayment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM failed_payments p WHERE p.invoice_id = ?`, invoiceID)
	p, err := s.scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStorage) ListPayments(ctx context.Context, accountID string, status models.PaymentStatus, limit, offset int) ([]models.FailedPayment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + paymentColumns + ` FROM failed_payments p WHERE p.account_id = ?`
	args := []interface{}{accountID}
	if status != "" {
		query += ` AND p.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY p.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.scanPayments(rows)
}

// UpdatePayment writes the recovery state of p if its version still matches
// the stored row, then bumps p.Version. emails_sent is left untouched.
func (s *SQLiteStorage) UpdatePayment(ctx context.Context, p *models.FailedPayment) error {
	history, err := marshalList(p.RetryHistory)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE failed_payments SET status = ?, retry_count = ?, max_retries = ?, next_retry_at = ?,
			retry_history = ?, customer_email = ?, hosted_invoice_url = ?, recovered_at = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.Status, p.RetryCount, p.MaxRetries, utcPtr(p.NextRetryAt),
		history, p.CustomerEmail, p.HostedInvoiceURL, utcPtr(p.RecoveredAt),
		now, p.ID, p.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) AppendEmail(ctx context.Context, paymentID string, rec models.EmailRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT emails_sent FROM failed_payments WHERE id = ?`, paymentID).Scan(&raw); err != nil {
		return err
	}
	var emails []models.EmailRecord
	if err := json.Unmarshal([]byte(raw), &emails); err != nil {
		return fmt.Errorf("decode emails sent of %s: %w", paymentID, err)
	}
	emails = append(emails, rec)
	encoded, err := marshalList(emails)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE failed_payments SET emails_sent = ? WHERE id = ?`, encoded, paymentID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDuePayments returns retryable payments whose next attempt is due at now,
// skipping accounts that have been disconnected.
func (s *SQLiteStorage) ListDuePayments(ctx context.Context, now time.Time, limit int) ([]models.FailedPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+`
		 FROM failed_payments p JOIN accounts a ON a.id = p.account_id
		 WHERE p.status IN ('pending', 'retrying') AND p.next_retry_at IS NOT NULL AND p.next_retry_at <= ?
		   AND a.connected = 1
		 ORDER BY p.next_retry_at ASC LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return s.scanPayments(rows)
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, accountID string) (*Stats, error) {
	stats := &Stats{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(retry_count), 0)
		 FROM failed_payments WHERE account_id = ? GROUP BY status`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, amount, attempts int64
		if err := rows.Scan(&status, &count, &amount, &attempts); err != nil {
			return nil, err
		}
		stats.TotalPayments += count
		stats.TotalAttempts += attempts
		switch models.PaymentStatus(strings.TrimSpace(status)) {
		case models.StatusPending:
			stats.PendingCount = count
		case models.StatusRetrying:
			stats.RetryingCount = count
		case models.StatusDunning, models.StatusExpiredCard:
			stats.DunningCount += count
		case models.StatusRecovered:
			stats.RecoveredCount = count
			stats.RecoveredAmount = amount
		case models.StatusFailed:
			stats.FailedCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalPayments > 0 {
		stats.RecoveryRate = float64(stats.RecoveredCount) / float64(stats.TotalPayments) * 100
	}
	return stats, nil
}
