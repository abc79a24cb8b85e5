package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/model"
)

// PostgresExchangeRateRepository implements ExchangeRateRepository for PostgreSQL.
type PostgresExchangeRateRepository struct {
	db *sql.DB
}

// NewPostgresExchangeRateRepository creates a new PostgresExchangeRateRepository.
func NewPostgresExchangeRateRepository(db *sql.DB) *PostgresExchangeRateRepository {
	return &PostgresExchangeRateRepository{db: db}
}

const exchangeRateColumns = `id, payer_account_id, billing_period, exchange_rate, created_at, updated_at`

func (r *PostgresExchangeRateRepository) Create(ctx context.Context, c *model.ExchangeRateConfig) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (`+exchangeRateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.PayerAccountID, string(c.BillingPeriod), c.ExchangeRate, c.CreatedAt, c.UpdatedAt)
	return mapError(err)
}

func (r *PostgresExchangeRateRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExchangeRateConfig, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT `+exchangeRateColumns+` FROM exchange_rates WHERE id = $1`, id))
}

func (r *PostgresExchangeRateRepository) GetByPair(ctx context.Context, payerAccountID string, period model.BillingPeriod) (*model.ExchangeRateConfig, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT `+exchangeRateColumns+` FROM exchange_rates
		WHERE payer_account_id = $1 AND billing_period = $2
	`, payerAccountID, string(period)))
}

func (r *PostgresExchangeRateRepository) List(ctx context.Context) ([]model.ExchangeRateConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+exchangeRateColumns+` FROM exchange_rates
		ORDER BY billing_period DESC, payer_account_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExchangeRateConfig
	for rows.Next() {
		var c model.ExchangeRateConfig
		if err := rows.Scan(&c.ID, &c.PayerAccountID, &c.BillingPeriod, &c.ExchangeRate, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresExchangeRateRepository) Update(ctx context.Context, c *model.ExchangeRateConfig) error {
	c.UpdatedAt = time.Now().UTC()
	return requireRow(r.db.ExecContext(ctx, `
		UPDATE exchange_rates
		SET payer_account_id = $2, billing_period = $3, exchange_rate = $4, updated_at = $5
		WHERE id = $1
	`, c.ID, c.PayerAccountID, string(c.BillingPeriod), c.ExchangeRate, c.UpdatedAt))
}

func (r *PostgresExchangeRateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return requireRow(r.db.ExecContext(ctx, "DELETE FROM exchange_rates WHERE id = $1", id))
}

func (r *PostgresExchangeRateRepository) scanOne(row *sql.Row) (*model.ExchangeRateConfig, error) {
	var c model.ExchangeRateConfig
	err := row.Scan(&c.ID, &c.PayerAccountID, &c.BillingPeriod, &c.ExchangeRate, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}
