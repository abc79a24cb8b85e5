package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/model"
)

// PostgresTransactionRepository implements TransactionRepository for PostgreSQL.
type PostgresTransactionRepository struct {
	db *sql.DB
}

// NewPostgresTransactionRepository creates a new PostgresTransactionRepository.
func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

const transactionColumns = `id, billing_period, payer_account_id, usage_account_id, cost_center_id,
	transaction_type, data_type, distributor_usd, distributor_eur, seller_usd, seller_eur,
	customer_usd, customer_eur, cost_breakdown, exchange_rate, entity_breakdown,
	value, description, po_number, created_by, created_at, updated_at`

const insertTransaction = `
	INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

// upsertExport replaces the cost record of an account and period when
// ingestion runs again. The surviving row keeps its id and creation time.
const upsertExport = insertTransaction + `
	ON CONFLICT (payer_account_id, usage_account_id, billing_period) WHERE transaction_type = 'DATAEXPORT'
	DO UPDATE SET distributor_usd = EXCLUDED.distributor_usd, distributor_eur = EXCLUDED.distributor_eur,
		seller_usd = EXCLUDED.seller_usd, seller_eur = EXCLUDED.seller_eur,
		customer_usd = EXCLUDED.customer_usd, customer_eur = EXCLUDED.customer_eur,
		cost_breakdown = EXCLUDED.cost_breakdown, exchange_rate = EXCLUDED.exchange_rate,
		entity_breakdown = EXCLUDED.entity_breakdown, updated_at = EXCLUDED.updated_at
	RETURNING id, created_at`

// writeQuery returns the statement that stores t and whether it returns the
// row's id and creation time. Cost records are upserted.
func writeQuery(t *model.Transaction) (string, bool) {
	if t.TransactionType == model.TransactionDataExport {
		return upsertExport, true
	}
	return insertTransaction, false
}

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func putTransaction(ctx context.Context, q execQuerier, t *model.Transaction) error {
	args, err := transactionArgs(t)
	if err != nil {
		return err
	}
	query, returning := writeQuery(t)
	if returning {
		return mapError(q.QueryRowContext(ctx, query, args...).Scan(&t.ID, &t.CreatedAt))
	}
	_, err = q.ExecContext(ctx, query, args...)
	return mapError(err)
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, t *model.Transaction) error {
	return putTransaction(ctx, r.db, t)
}

func (r *PostgresTransactionRepository) CreateBatch(ctx context.Context, txs []model.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range txs {
		if err := putTransaction(ctx, tx, &txs[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

var transactionSortColumns = map[string]string{
	model.SortByBillingPeriod: "billing_period",
	model.SortByCreatedAt:     "created_at",
	model.SortBySellerCost:    "seller_usd",
	model.SortByCustomerCost:  "customer_eur",
}

func (r *PostgresTransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.StartPeriod != "" {
		add("billing_period >= $%d", string(f.StartPeriod))
	}
	if f.EndPeriod != "" {
		add("billing_period <= $%d", string(f.EndPeriod))
	}
	if f.PayerAccountID != "" {
		add("payer_account_id = $%d", f.PayerAccountID)
	}
	if f.UsageAccountID != "" {
		add("usage_account_id = $%d", f.UsageAccountID)
	}
	if len(f.UsageAccountIDs) > 0 {
		add("usage_account_id = ANY($%d::text[])", f.UsageAccountIDs)
	}
	if f.CostCenterID != nil {
		add("cost_center_id = $%d", *f.CostCenterID)
	}
	if len(f.CostCenterIDs) > 0 {
		ids := make([]string, len(f.CostCenterIDs))
		for i, id := range f.CostCenterIDs {
			ids[i] = id.String()
		}
		add("cost_center_id = ANY($%d::uuid[])", ids)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("transaction_type = ANY($%d::text[])", types)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	col, ok := transactionSortColumns[f.SortBy]
	if !ok {
		col = "billing_period"
	}
	dir := "DESC"
	if f.SortOrder == model.SortAsc {
		dir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, created_at %s", col, dir, dir)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresTransactionRepository) UpdateBatch(ctx context.Context, txs []model.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE transactions
		SET distributor_usd = $2, distributor_eur = $3, seller_usd = $4, seller_eur = $5,
		    customer_usd = $6, customer_eur = $7, exchange_rate = $8, updated_at = $9
		WHERE id = $1
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range txs {
		t := &txs[i]
		t.UpdatedAt = now
		err := requireRow(stmt.ExecContext(ctx, t.ID,
			t.DistributorCost.USD, t.DistributorCost.EUR, t.SellerCost.USD, t.SellerCost.EUR,
			t.CustomerCost.USD, t.CustomerCost.EUR, t.ExchangeRate, t.UpdatedAt))
		if err != nil {
			return fmt.Errorf("update transaction %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func transactionArgs(t *model.Transaction) ([]any, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	breakdownJSON, err := json.Marshal(t.CostBreakdown)
	if err != nil {
		return nil, err
	}
	var entityJSON []byte
	if t.EntityBreakdown != nil {
		if entityJSON, err = json.Marshal(t.EntityBreakdown); err != nil {
			return nil, err
		}
	}
	var costCenter any
	if t.CostCenterID != nil {
		costCenter = *t.CostCenterID
	}
	return []any{
		t.ID, string(t.BillingPeriod), t.PayerAccountID, t.UsageAccountID, costCenter,
		string(t.TransactionType), string(t.DataType),
		t.DistributorCost.USD, t.DistributorCost.EUR, t.SellerCost.USD, t.SellerCost.EUR,
		t.CustomerCost.USD, t.CustomerCost.EUR, breakdownJSON, t.ExchangeRate, entityJSON,
		t.Value, t.Description, t.PONumber, t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	}, nil
}

func scanTransaction(s scanner) (model.Transaction, error) {
	var t model.Transaction
	var costCenter uuid.NullUUID
	var breakdownJSON, entityJSON []byte
	err := s.Scan(&t.ID, &t.BillingPeriod, &t.PayerAccountID, &t.UsageAccountID, &costCenter,
		&t.TransactionType, &t.DataType,
		&t.DistributorCost.USD, &t.DistributorCost.EUR, &t.SellerCost.USD, &t.SellerCost.EUR,
		&t.CustomerCost.USD, &t.CustomerCost.EUR, &breakdownJSON, &t.ExchangeRate, &entityJSON,
		&t.Value, &t.Description, &t.PONumber, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if costCenter.Valid {
		id := costCenter.UUID
		t.CostCenterID = &id
	}
	if len(breakdownJSON) > 0 {
		if err := json.Unmarshal(breakdownJSON, &t.CostBreakdown); err != nil {
			return t, fmt.Errorf("decode cost breakdown of %s: %w", t.ID, err)
		}
	}
	if len(entityJSON) > 0 {
		var e model.EntityBreakdown
		if err := json.Unmarshal(entityJSON, &e); err != nil {
			return t, fmt.Errorf("decode entity breakdown of %s: %w", t.ID, err)
		}
		t.EntityBreakdown = &e
	}
	return t, nil
}
