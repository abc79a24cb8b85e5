// Package memory is an in-process implementation of the repository
// interfaces, used for demos and tests. It enforces the same uniqueness
// rules as the PostgreSQL schema.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// DB holds every entity behind one mutex.
type DB struct {
	mu        sync.RWMutex
	payers    map[string]model.PayerAccount
	usage     map[string]model.UsageAccount
	customers map[string]model.Customer
	txs       []model.Transaction
	rates     map[uuid.UUID]model.ExchangeRateConfig
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		payers:    make(map[string]model.PayerAccount),
		usage:     make(map[string]model.UsageAccount),
		customers: make(map[string]model.Customer),
		rates:     make(map[uuid.UUID]model.ExchangeRateConfig),
	}
}

// NewSeeded returns a DB loaded with f.
func NewSeeded(f Fixtures) *DB {
	db := New()
	for _, p := range f.PayerAccounts {
		db.payers[p.AccountID] = p
	}
	for _, u := range f.UsageAccounts {
		db.usage[u.AccountID] = u
	}
	for _, c := range f.Customers {
		db.customers[c.VATNumber] = cloneCustomer(c)
	}
	db.txs = append(db.txs, f.Transactions...)
	for _, r := range f.ExchangeRates {
		db.rates[r.ID] = r
	}
	return db
}

// Store exposes db through the repository interfaces.
func (db *DB) Store() *repository.Store {
	return &repository.Store{
		PayerAccounts: &payerAccounts{db},
		UsageAccounts: &usageAccounts{db},
		Customers:     &customers{db},
		Transactions:  &transactions{db},
		ExchangeRates: &exchangeRates{db},
	}
}

type payerAccounts struct{ db *DB }

func (r *payerAccounts) Create(_ context.Context, a *model.PayerAccount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.payers[a.AccountID]; ok {
		return fmt.Errorf("%w: payer account %s exists", repository.ErrConflict, a.AccountID)
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.db.payers[a.AccountID] = *a
	return nil
}

func (r *payerAccounts) GetByID(_ context.Context, id string) (*model.PayerAccount, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.payers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *payerAccounts) List(_ context.Context) ([]model.PayerAccount, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]model.PayerAccount, 0, len(r.db.payers))
	for _, a := range r.db.payers {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b model.PayerAccount) int {
		if a.AccountName != b.AccountName {
			return strings.Compare(a.AccountName, b.AccountName)
		}
		return strings.Compare(a.AccountID, b.AccountID)
	})
	return out, nil
}

func (r *payerAccounts) Update(_ context.Context, a *model.PayerAccount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	old, ok := r.db.payers[a.AccountID]
	if !ok {
		return repository.ErrNotFound
	}
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	r.db.payers[a.AccountID] = *a
	return nil
}

func (r *payerAccounts) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.payers[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.payers, id)
	for k, u := range r.db.usage {
		if u.PayerAccountID == id {
			u.PayerAccountID = ""
			r.db.usage[k] = u
		}
	}
	return nil
}

type usageAccounts struct{ db *DB }

func (r *usageAccounts) Create(_ context.Context, a *model.UsageAccount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.usage[a.AccountID]; ok {
		return fmt.Errorf("%w: usage account %s exists", repository.ErrConflict, a.AccountID)
	}
	if a.PayerAccountID != "" {
		if _, ok := r.db.payers[a.PayerAccountID]; !ok {
			return fmt.Errorf("%w: payer account %s", repository.ErrNotFound, a.PayerAccountID)
		}
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.db.usage[a.AccountID] = *a
	return nil
}

func (r *usageAccounts) GetByID(_ context.Context, id string) (*model.UsageAccount, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.usage[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *usageAccounts) List(_ context.Context, payerAccountID string) ([]model.UsageAccount, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []model.UsageAccount
	for _, a := range r.db.usage {
		if payerAccountID == "" || a.PayerAccountID == payerAccountID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.UsageAccount) int { return strings.Compare(a.AccountID, b.AccountID) })
	return out, nil
}

func (r *usageAccounts) Update(_ context.Context, a *model.UsageAccount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	old, ok := r.db.usage[a.AccountID]
	if !ok {
		return repository.ErrNotFound
	}
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	r.db.usage[a.AccountID] = *a
	return nil
}

func (r *usageAccounts) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.usage[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.usage, id)
	return nil
}

type customers struct{ db *DB }

func (r *customers) Create(_ context.Context, c *model.Customer) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.customers[c.VATNumber]; ok {
		return fmt.Errorf("%w: customer %s exists", repository.ErrConflict, c.VATNumber)
	}
	for i := range c.CostCenters {
		cc := &c.CostCenters[i]
		if cc.ID == uuid.Nil {
			cc.ID = uuid.New()
		}
		cc.CustomerVAT = c.VATNumber
		cc.Position = i
		if err := r.db.checkOwnershipLocked(cc); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.db.customers[c.VATNumber] = cloneCustomer(*c)
	return nil
}

func (r *customers) GetByVAT(_ context.Context, vat string) (*model.Customer, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	c, ok := r.db.customers[vat]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneCustomer(c)
	return &out, nil
}

func (r *customers) List(_ context.Context) ([]model.Customer, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]model.Customer, 0, len(r.db.customers))
	for _, c := range r.db.customers {
		out = append(out, cloneCustomer(c))
	}
	slices.SortFunc(out, func(a, b model.Customer) int {
		if a.LegalName != b.LegalName {
			return strings.Compare(a.LegalName, b.LegalName)
		}
		return strings.Compare(a.VATNumber, b.VATNumber)
	})
	return out, nil
}

func (r *customers) Update(_ context.Context, c *model.Customer) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	old, ok := r.db.customers[c.VATNumber]
	if !ok {
		return repository.ErrNotFound
	}
	old.LegalName = c.LegalName
	old.ContactName = c.ContactName
	old.ContactEmail = c.ContactEmail
	old.Status = c.Status
	old.UpdatedAt = time.Now().UTC()
	r.db.customers[c.VATNumber] = old
	c.CreatedAt, c.UpdatedAt = old.CreatedAt, old.UpdatedAt
	return nil
}

func (r *customers) CreateCostCenter(_ context.Context, cc *model.CostCenter) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.customers[cc.CustomerVAT]
	if !ok {
		return fmt.Errorf("%w: customer %s", repository.ErrNotFound, cc.CustomerVAT)
	}
	if cc.ID == uuid.Nil {
		cc.ID = uuid.New()
	}
	if err := r.db.checkOwnershipLocked(cc); err != nil {
		return err
	}
	cc.Position = len(c.CostCenters)
	c.CostCenters = append(c.CostCenters, cloneCostCenter(*cc))
	r.db.customers[cc.CustomerVAT] = c
	return nil
}

func (r *customers) UpdateCostCenter(_ context.Context, cc *model.CostCenter) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.customers[cc.CustomerVAT]
	if !ok {
		return repository.ErrNotFound
	}
	i := slices.IndexFunc(c.CostCenters, func(x model.CostCenter) bool { return x.ID == cc.ID })
	if i < 0 {
		return repository.ErrNotFound
	}
	if err := r.db.checkOwnershipLocked(cc); err != nil {
		return err
	}
	cc.Position = i
	c.CostCenters[i] = cloneCostCenter(*cc)
	r.db.customers[cc.CustomerVAT] = c
	return nil
}

func (r *customers) DeleteCostCenter(_ context.Context, vat string, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.customers[vat]
	if !ok {
		return repository.ErrNotFound
	}
	i := slices.IndexFunc(c.CostCenters, func(x model.CostCenter) bool { return x.ID == id })
	if i < 0 {
		return repository.ErrNotFound
	}
	c.CostCenters = slices.Delete(c.CostCenters, i, i+1)
	for j := range c.CostCenters {
		c.CostCenters[j].Position = j
	}
	r.db.customers[vat] = c
	return nil
}

func (r *customers) CostCenterOwner(_ context.Context, usageAccountID string) (*model.CostCenter, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	if cc, ok := r.db.ownerLocked(usageAccountID); ok {
		return &cc, nil
	}
	return nil, repository.ErrNotFound
}

func (db *DB) ownerLocked(usageAccountID string) (model.CostCenter, bool) {
	for _, c := range db.customers {
		for _, cc := range c.CostCenters {
			if slices.Contains(cc.UsageAccountIDs, usageAccountID) {
				return cloneCostCenter(cc), true
			}
		}
	}
	return model.CostCenter{}, false
}

// checkOwnershipLocked rejects accounts already linked to another cost
// center, mirroring the unique constraint of the SQL schema.
func (db *DB) checkOwnershipLocked(cc *model.CostCenter) error {
	for _, id := range cc.UsageAccountIDs {
		if owner, ok := db.ownerLocked(id); ok && owner.ID != cc.ID {
			return fmt.Errorf("%w: usage account %s belongs to cost center %q", repository.ErrConflict, id, owner.Name)
		}
	}
	return nil
}

type transactions struct{ db *DB }

func (r *transactions) Create(_ context.Context, tx *model.Transaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.putLocked(tx)
}

// CreateBatch stores every record or none.
func (r *transactions) CreateBatch(_ context.Context, txs []model.Transaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	saved := slices.Clone(r.db.txs)
	for i := range txs {
		if err := r.db.putLocked(&txs[i]); err != nil {
			r.db.txs = saved
			return err
		}
	}
	return nil
}

// putLocked inserts tx. A cost record replaces the existing one of the same
// payer, usage account and period, as ingestion re-runs do in SQL.
func (db *DB) putLocked(tx *model.Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	for i, old := range db.txs {
		if old.ID == tx.ID {
			return fmt.Errorf("%w: transaction %s exists", repository.ErrConflict, tx.ID)
		}
		if tx.TransactionType == model.TransactionDataExport && old.TransactionType == model.TransactionDataExport &&
			old.PayerAccountID == tx.PayerAccountID && old.UsageAccountID == tx.UsageAccountID &&
			old.BillingPeriod == tx.BillingPeriod {
			tx.ID, tx.CreatedAt = old.ID, old.CreatedAt
			db.txs[i] = *tx
			return nil
		}
	}
	db.txs = append(db.txs, *tx)
	return nil
}

func (r *transactions) GetByID(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, tx := range r.db.txs {
		if tx.ID == id {
			return &tx, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *transactions) List(_ context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return f.Apply(r.db.txs), nil
}

func (r *transactions) UpdateBatch(_ context.Context, txs []model.Transaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	index := make(map[uuid.UUID]int, len(r.db.txs))
	for i, tx := range r.db.txs {
		index[tx.ID] = i
	}
	for _, tx := range txs {
		if _, ok := index[tx.ID]; !ok {
			return fmt.Errorf("update transaction %s: %w", tx.ID, repository.ErrNotFound)
		}
	}
	now := time.Now().UTC()
	for i := range txs {
		txs[i].UpdatedAt = now
		r.db.txs[index[txs[i].ID]] = txs[i]
	}
	return nil
}

type exchangeRates struct{ db *DB }

func (r *exchangeRates) Create(_ context.Context, c *model.ExchangeRateConfig) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.pairLocked(c.PayerAccountID, c.BillingPeriod); ok {
		return fmt.Errorf("%w: exchange rate for %s %s exists", repository.ErrConflict, c.PayerAccountID, c.BillingPeriod)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.db.rates[c.ID] = *c
	return nil
}

func (r *exchangeRates) GetByID(_ context.Context, id uuid.UUID) (*model.ExchangeRateConfig, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	c, ok := r.db.rates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *exchangeRates) GetByPair(_ context.Context, payerAccountID string, period model.BillingPeriod) (*model.ExchangeRateConfig, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	c, ok := r.db.pairLocked(payerAccountID, period)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (db *DB) pairLocked(payerAccountID string, period model.BillingPeriod) (model.ExchangeRateConfig, bool) {
	for _, c := range db.rates {
		if c.PayerAccountID == payerAccountID && c.BillingPeriod == period {
			return c, true
		}
	}
	return model.ExchangeRateConfig{}, false
}

func (r *exchangeRates) List(_ context.Context) ([]model.ExchangeRateConfig, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]model.ExchangeRateConfig, 0, len(r.db.rates))
	for _, c := range r.db.rates {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.ExchangeRateConfig) int {
		if a.BillingPeriod != b.BillingPeriod {
			return strings.Compare(string(b.BillingPeriod), string(a.BillingPeriod))
		}
		return strings.Compare(a.PayerAccountID, b.PayerAccountID)
	})
	return out, nil
}

func (r *exchangeRates) Update(_ context.Context, c *model.ExchangeRateConfig) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	old, ok := r.db.rates[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if other, ok := r.db.pairLocked(c.PayerAccountID, c.BillingPeriod); ok && other.ID != c.ID {
		return fmt.Errorf("%w: exchange rate for %s %s exists", repository.ErrConflict, c.PayerAccountID, c.BillingPeriod)
	}
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	r.db.rates[c.ID] = *c
	return nil
}

func (r *exchangeRates) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.rates[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.rates, id)
	return nil
}

func cloneCustomer(c model.Customer) model.Customer {
	out := c
	out.CostCenters = make([]model.CostCenter, len(c.CostCenters))
	for i, cc := range c.CostCenters {
		out.CostCenters[i] = cloneCostCenter(cc)
	}
	return out
}

func cloneCostCenter(cc model.CostCenter) model.CostCenter {
	cc.UsageAccountIDs = slices.Clone(cc.UsageAccountIDs)
	return cc
}
