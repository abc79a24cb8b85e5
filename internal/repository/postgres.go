package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/finopsmind/billing/internal/model"
)

// PoolConfig tunes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// Open connects to PostgreSQL through the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewPostgresStore wires every PostgreSQL repository onto db.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		PayerAccounts: NewPostgresPayerAccountRepository(db),
		UsageAccounts: NewPostgresUsageAccountRepository(db),
		Customers:     NewPostgresCustomerRepository(db),
		Transactions:  NewPostgresTransactionRepository(db),
		ExchangeRates: NewPostgresExchangeRateRepository(db),
		Close:         db.Close,
	}
}

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

// requireRow returns ErrNotFound when an UPDATE or DELETE matched nothing.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nilIfEmpty returns a *string that is nil when s is empty, for nullable DB columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PostgresPayerAccountRepository implements PayerAccountRepository for PostgreSQL.
type PostgresPayerAccountRepository struct {
	db *sql.DB
}

// NewPostgresPayerAccountRepository creates a new PostgresPayerAccountRepository.
func NewPostgresPayerAccountRepository(db *sql.DB) *PostgresPayerAccountRepository {
	return &PostgresPayerAccountRepository{db: db}
}

const payerAccountColumns = `account_id, account_name, distributor_name, legal_entity_name, vat_number,
	cross_account_role_arn, status, created_at, updated_at`

func (r *PostgresPayerAccountRepository) Create(ctx context.Context, a *model.PayerAccount) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payer_accounts (`+payerAccountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.AccountID, a.AccountName, a.DistributorName, a.LegalEntityName, a.VATNumber,
		a.CrossAccountRoleARN, a.Status, a.CreatedAt, a.UpdatedAt)
	return mapError(err)
}

func (r *PostgresPayerAccountRepository) GetByID(ctx context.Context, accountID string) (*model.PayerAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+payerAccountColumns+` FROM payer_accounts WHERE account_id = $1`, accountID)
	a, err := scanPayerAccount(row)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (r *PostgresPayerAccountRepository) List(ctx context.Context) ([]model.PayerAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+payerAccountColumns+` FROM payer_accounts ORDER BY account_name, account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PayerAccount
	for rows.Next() {
		a, err := scanPayerAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresPayerAccountRepository) Update(ctx context.Context, a *model.PayerAccount) error {
	a.UpdatedAt = time.Now().UTC()
	return requireRow(r.db.ExecContext(ctx, `
		UPDATE payer_accounts
		SET account_name = $2, distributor_name = $3, legal_entity_name = $4, vat_number = $5,
		    cross_account_role_arn = $6, status = $7, updated_at = $8
		WHERE account_id = $1
	`, a.AccountID, a.AccountName, a.DistributorName, a.LegalEntityName, a.VATNumber,
		a.CrossAccountRoleARN, a.Status, a.UpdatedAt))
}

func (r *PostgresPayerAccountRepository) Delete(ctx context.Context, accountID string) error {
	return requireRow(r.db.ExecContext(ctx, "DELETE FROM payer_accounts WHERE account_id = $1", accountID))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayerAccount(s scanner) (model.PayerAccount, error) {
	var a model.PayerAccount
	err := s.Scan(&a.AccountID, &a.AccountName, &a.DistributorName, &a.LegalEntityName, &a.VATNumber,
		&a.CrossAccountRoleARN, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// PostgresUsageAccountRepository implements UsageAccountRepository for PostgreSQL.
type PostgresUsageAccountRepository struct {
	db *sql.DB
}

// NewPostgresUsageAccountRepository creates a new PostgresUsageAccountRepository.
func NewPostgresUsageAccountRepository(db *sql.DB) *PostgresUsageAccountRepository {
	return &PostgresUsageAccountRepository{db: db}
}

const usageAccountColumns = `account_id, customer, status, COALESCE(payer_account_id, ''), reseller_discount,
	customer_discount, rebate, created_at, updated_at`

func (r *PostgresUsageAccountRepository) Create(ctx context.Context, a *model.UsageAccount) error {
	rebateJSON, err := json.Marshal(a.Rebate)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO usage_accounts (account_id, customer, status, payer_account_id, reseller_discount,
			customer_discount, rebate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.AccountID, a.Customer, a.Status, nilIfEmpty(a.PayerAccountID), a.ResellerDiscount,
		a.CustomerDiscount, rebateJSON, a.CreatedAt, a.UpdatedAt)
	return mapError(err)
}

func (r *PostgresUsageAccountRepository) GetByID(ctx context.Context, accountID string) (*model.UsageAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+usageAccountColumns+` FROM usage_accounts WHERE account_id = $1`, accountID)
	a, err := scanUsageAccount(row)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (r *PostgresUsageAccountRepository) List(ctx context.Context, payerAccountID string) ([]model.UsageAccount, error) {
	query := `SELECT ` + usageAccountColumns + ` FROM usage_accounts`
	var args []any
	if payerAccountID != "" {
		query += ` WHERE payer_account_id = $1`
		args = append(args, payerAccountID)
	}
	query += ` ORDER BY account_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UsageAccount
	for rows.Next() {
		a, err := scanUsageAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresUsageAccountRepository) Update(ctx context.Context, a *model.UsageAccount) error {
	rebateJSON, err := json.Marshal(a.Rebate)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	return requireRow(r.db.ExecContext(ctx, `
		UPDATE usage_accounts
		SET customer = $2, status = $3, payer_account_id = $4, reseller_discount = $5,
		    customer_discount = $6, rebate = $7, updated_at = $8
		WHERE account_id = $1
	`, a.AccountID, a.Customer, a.Status, nilIfEmpty(a.PayerAccountID), a.ResellerDiscount,
		a.CustomerDiscount, rebateJSON, a.UpdatedAt))
}

func (r *PostgresUsageAccountRepository) Delete(ctx context.Context, accountID string) error {
	return requireRow(r.db.ExecContext(ctx, "DELETE FROM usage_accounts WHERE account_id = $1", accountID))
}

func scanUsageAccount(s scanner) (model.UsageAccount, error) {
	var a model.UsageAccount
	var rebateJSON []byte
	err := s.Scan(&a.AccountID, &a.Customer, &a.Status, &a.PayerAccountID, &a.ResellerDiscount,
		&a.CustomerDiscount, &rebateJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if len(rebateJSON) > 0 {
		if err := json.Unmarshal(rebateJSON, &a.Rebate); err != nil {
			return a, fmt.Errorf("decode rebate of %s: %w", a.AccountID, err)
		}
	}
	return a, nil
}
