package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/model"
)

// PostgresCustomerRepository implements CustomerRepository for PostgreSQL.
type PostgresCustomerRepository struct {
	db *sql.DB
}

// NewPostgresCustomerRepository creates a new PostgresCustomerRepository.
func NewPostgresCustomerRepository(db *sql.DB) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{db: db}
}

func (r *PostgresCustomerRepository) Create(ctx context.Context, c *model.Customer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO customers (vat_number, legal_name, contact_name, contact_email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.VATNumber, c.LegalName, c.ContactName, c.ContactEmail, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return mapError(err)
	}

	for i := range c.CostCenters {
		cc := &c.CostCenters[i]
		if cc.ID == uuid.Nil {
			cc.ID = uuid.New()
		}
		cc.CustomerVAT = c.VATNumber
		cc.Position = i
		if err := insertCostCenter(ctx, tx, cc); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresCustomerRepository) GetByVAT(ctx context.Context, vat string) (*model.Customer, error) {
	var c model.Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT vat_number, legal_name, contact_name, contact_email, status, created_at, updated_at
		FROM customers WHERE vat_number = $1
	`, vat).Scan(&c.VATNumber, &c.LegalName, &c.ContactName, &c.ContactEmail, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	centers, err := r.loadCostCenters(ctx, `WHERE cc.customer_vat = $1`, vat)
	if err != nil {
		return nil, err
	}
	c.CostCenters = centers[vat]
	return &c, nil
}

func (r *PostgresCustomerRepository) List(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT vat_number, legal_name, contact_name, contact_email, status, created_at, updated_at
		FROM customers ORDER BY legal_name, vat_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.VATNumber, &c.LegalName, &c.ContactName, &c.ContactEmail, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	centers, err := r.loadCostCenters(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CostCenters = centers[out[i].VATNumber]
	}
	return out, nil
}

func (r *PostgresCustomerRepository) Update(ctx context.Context, c *model.Customer) error {
	c.UpdatedAt = time.Now().UTC()
	return requireRow(r.db.ExecContext(ctx, `
		UPDATE customers
		SET legal_name = $2, contact_name = $3, contact_email = $4, status = $5, updated_at = $6
		WHERE vat_number = $1
	`, c.VATNumber, c.LegalName, c.ContactName, c.ContactEmail, c.Status, c.UpdatedAt))
}

func (r *PostgresCustomerRepository) CreateCostCenter(ctx context.Context, cc *model.CostCenter) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM cost_centers WHERE customer_vat = $1
	`, cc.CustomerVAT).Scan(&cc.Position); err != nil {
		return err
	}
	if cc.ID == uuid.Nil {
		cc.ID = uuid.New()
	}
	if err := insertCostCenter(ctx, tx, cc); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresCustomerRepository) UpdateCostCenter(ctx context.Context, cc *model.CostCenter) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = requireRow(tx.ExecContext(ctx, `
		UPDATE cost_centers SET name = $3, description = $4
		WHERE id = $1 AND customer_vat = $2
	`, cc.ID, cc.CustomerVAT, cc.Name, cc.Description))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cost_center_accounts WHERE cost_center_id = $1`, cc.ID); err != nil {
		return err
	}
	if err := insertCostCenterAccounts(ctx, tx, cc); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresCustomerRepository) DeleteCostCenter(ctx context.Context, vat string, id uuid.UUID) error {
	return requireRow(r.db.ExecContext(ctx, `DELETE FROM cost_centers WHERE id = $1 AND customer_vat = $2`, id, vat))
}

func (r *PostgresCustomerRepository) CostCenterOwner(ctx context.Context, usageAccountID string) (*model.CostCenter, error) {
	var id uuid.UUID
	var vat string
	err := r.db.QueryRowContext(ctx, `
		SELECT cc.id, cc.customer_vat
		FROM cost_center_accounts a JOIN cost_centers cc ON cc.id = a.cost_center_id
		WHERE a.usage_account_id = $1
	`, usageAccountID).Scan(&id, &vat)
	if err != nil {
		return nil, mapError(err)
	}
	centers, err := r.loadCostCenters(ctx, `WHERE cc.id = $1`, id)
	if err != nil {
		return nil, err
	}
	for _, cc := range centers[vat] {
		if cc.ID == id {
			return &cc, nil
		}
	}
	return nil, ErrNotFound
}

// loadCostCenters returns cost centers with their accounts, keyed by
// customer VAT number and ordered by position.
func (r *PostgresCustomerRepository) loadCostCenters(ctx context.Context, where string, args ...any) (map[string][]model.CostCenter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cc.id, cc.customer_vat, cc.name, cc.description, cc.position, COALESCE(a.usage_account_id, '')
		FROM cost_centers cc
		LEFT JOIN cost_center_accounts a ON a.cost_center_id = cc.id
		`+where+`
		ORDER BY cc.customer_vat, cc.position, a.position
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.CostCenter)
	for rows.Next() {
		var cc model.CostCenter
		var accountID string
		if err := rows.Scan(&cc.ID, &cc.CustomerVAT, &cc.Name, &cc.Description, &cc.Position, &accountID); err != nil {
			return nil, err
		}
		list := out[cc.CustomerVAT]
		if n := len(list); n > 0 && list[n-1].ID == cc.ID {
			if accountID != "" {
				list[n-1].UsageAccountIDs = append(list[n-1].UsageAccountIDs, accountID)
			}
			continue
		}
		if accountID != "" {
			cc.UsageAccountIDs = []string{accountID}
		}
		out[cc.CustomerVAT] = append(list, cc)
	}
	return out, rows.Err()
}

func insertCostCenter(ctx context.Context, tx *sql.Tx, cc *model.CostCenter) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cost_centers (id, customer_vat, name, description, position)
		VALUES ($1, $2, $3, $4, $5)
	`, cc.ID, cc.CustomerVAT, cc.Name, cc.Description, cc.Position)
	if err != nil {
		return mapError(err)
	}
	return insertCostCenterAccounts(ctx, tx, cc)
}

func insertCostCenterAccounts(ctx context.Context, tx *sql.Tx, cc *model.CostCenter) error {
	for i, id := range cc.UsageAccountIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cost_center_accounts (cost_center_id, usage_account_id, position)
			VALUES ($1, $2, $3)
		`, cc.ID, id, i)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}
