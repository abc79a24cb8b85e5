package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/events"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// CustomerService manages customers, their cost centers and deposits.
type CustomerService struct {
	store   *repository.Store
	events  events.Publisher
	reports Invalidator
	logger  *slog.Logger
	now     func() time.Time
}

// NewCustomerService creates a CustomerService. pub and reports may be nil.
func NewCustomerService(store *repository.Store, pub events.Publisher, reports Invalidator, logger *slog.Logger) *CustomerService {
	return &CustomerService{
		store:   store,
		events:  orNopPublisher(pub),
		reports: orNop(reports),
		logger:  logger,
		now:     nowUTC,
	}
}

// List returns every customer with its cost centers.
func (s *CustomerService) List(ctx context.Context) ([]model.Customer, error) {
	return s.store.Customers.List(ctx)
}

// Get returns one customer by VAT number.
func (s *CustomerService) Get(ctx context.Context, vat string) (*model.Customer, error) {
	return s.store.Customers.GetByVAT(ctx, vat)
}

// Create registers a customer together with any cost centers it carries.
func (s *CustomerService) Create(ctx context.Context, c *model.Customer) error {
	if c.Status == "" {
		c.Status = model.CustomerActive
	}
	if err := c.Validate(); err != nil {
		return err
	}
	claimed := make(map[string]bool)
	for i := range c.CostCenters {
		cc := &c.CostCenters[i]
		cc.CustomerVAT = c.VATNumber
		if err := cc.Validate(); err != nil {
			return err
		}
		for _, id := range cc.UsageAccountIDs {
			if claimed[id] {
				return fmt.Errorf("%w: usage account %s listed in two cost centers", ErrAccountAssigned, id)
			}
			claimed[id] = true
		}
		if err := s.checkAccounts(ctx, cc); err != nil {
			return err
		}
	}
	if err := s.store.Customers.Create(ctx, c); err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	s.reports.Invalidate()
	s.logger.InfoContext(ctx, "customer created", "vat", c.VATNumber, "cost_centers", len(c.CostCenters))
	return nil
}

// Update replaces a customer's attributes. Cost centers are managed with
// the cost center operations.
func (s *CustomerService) Update(ctx context.Context, c *model.Customer) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.store.Customers.Update(ctx, c); err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	s.reports.Invalidate()
	return nil
}

// ListCostCenters returns the cost centers of a customer in order.
func (s *CustomerService) ListCostCenters(ctx context.Context, vat string) ([]model.CostCenter, error) {
	c, err := s.store.Customers.GetByVAT(ctx, vat)
	if err != nil {
		return nil, err
	}
	return c.CostCenters, nil
}

// CreateCostCenter adds a cost center to a customer. Every usage account
// must exist and must not belong to any other cost center.
func (s *CustomerService) CreateCostCenter(ctx context.Context, vat string, cc *model.CostCenter) error {
	cc.CustomerVAT = vat
	if err := cc.Validate(); err != nil {
		return err
	}
	if _, err := s.store.Customers.GetByVAT(ctx, vat); err != nil {
		return err
	}
	if err := s.checkAccounts(ctx, cc); err != nil {
		return err
	}
	if err := s.store.Customers.CreateCostCenter(ctx, cc); err != nil {
		return fmt.Errorf("create cost center: %w", err)
	}
	s.reports.Invalidate()
	return nil
}

// UpdateCostCenter replaces a cost center's attributes and accounts.
func (s *CustomerService) UpdateCostCenter(ctx context.Context, vat string, cc *model.CostCenter) error {
	cc.CustomerVAT = vat
	if err := cc.Validate(); err != nil {
		return err
	}
	c, err := s.store.Customers.GetByVAT(ctx, vat)
	if err != nil {
		return err
	}
	if _, ok := c.CostCenter(cc.ID); !ok {
		return fmt.Errorf("cost center %s: %w", cc.ID, repository.ErrNotFound)
	}
	if err := s.checkAccounts(ctx, cc); err != nil {
		return err
	}
	if err := s.store.Customers.UpdateCostCenter(ctx, cc); err != nil {
		return fmt.Errorf("update cost center: %w", err)
	}
	s.reports.Invalidate()
	return nil
}

// DeleteCostCenter removes a cost center; its accounts become free.
func (s *CustomerService) DeleteCostCenter(ctx context.Context, vat string, id uuid.UUID) error {
	if err := s.store.Customers.DeleteCostCenter(ctx, vat, id); err != nil {
		return fmt.Errorf("delete cost center: %w", err)
	}
	s.reports.Invalidate()
	return nil
}

// checkAccounts verifies, before anything is written, that the accounts of
// cc exist and are free or already held by cc.
func (s *CustomerService) checkAccounts(ctx context.Context, cc *model.CostCenter) error {
	for _, id := range cc.UsageAccountIDs {
		if _, err := s.store.UsageAccounts.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				verr := &model.ValidationError{}
				verr.Add("usageAccountIds", fmt.Sprintf("unknown usage account %s", id))
				return verr
			}
			return fmt.Errorf("look up usage account: %w", err)
		}
		owner, err := s.store.Customers.CostCenterOwner(ctx, id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			continue
		case err != nil:
			return fmt.Errorf("look up cost center owner: %w", err)
		case owner.ID != cc.ID:
			return fmt.Errorf("%w: %s belongs to %q of customer %s", ErrAccountAssigned, id, owner.Name, owner.CustomerVAT)
		}
	}
	return nil
}

// ListDeposits returns the deposits credited to the customer's cost centers
// and usage accounts, newest first.
func (s *CustomerService) ListDeposits(ctx context.Context, vat string) ([]model.Deposit, error) {
	c, err := s.store.Customers.GetByVAT(ctx, vat)
	if err != nil {
		return nil, err
	}
	txs, err := loadCustomerTransactions(ctx, s.store.Transactions, *c, "")
	if err != nil {
		return nil, err
	}
	var manual []model.Transaction
	for _, tx := range txs {
		if tx.TransactionType == model.TransactionDeposit || tx.TransactionType == model.TransactionManual {
			manual = append(manual, tx)
		}
	}
	model.SortTransactions(manual, model.SortByCreatedAt, model.SortDesc)

	out := make([]model.Deposit, 0, len(manual))
	for _, tx := range manual {
		out = append(out, model.DepositFromTransaction(tx))
	}
	return out, nil
}

// RecordDeposit credits a payment to one of the customer's cost centers or
// usage accounts. The billing period is taken from the current date.
func (s *CustomerService) RecordDeposit(ctx context.Context, vat string, d *model.Deposit) error {
	if err := s.prepare(d); err != nil {
		return err
	}
	_, err := s.record(ctx, vat, d, model.TransactionDeposit)
	return err
}

// RecordCredit books a deposit or manual credit that arrives without a
// customer. The customer is whoever owns the target cost center or usage
// account, and the same rules as RecordDeposit apply.
func (s *CustomerService) RecordCredit(ctx context.Context, d *model.Deposit, typ model.TransactionType) (model.Transaction, error) {
	if typ != model.TransactionDeposit && typ != model.TransactionManual {
		return model.Transaction{}, fieldError("transactionType", "must be MANUAL or DEPOSIT")
	}
	if err := s.prepare(d); err != nil {
		return model.Transaction{}, err
	}
	vat, err := s.ownerOf(ctx, d)
	if err != nil {
		return model.Transaction{}, err
	}
	return s.record(ctx, vat, d, typ)
}

// prepare assigns the server-side fields of a new deposit and validates it.
func (s *CustomerService) prepare(d *model.Deposit) error {
	now := s.now()
	d.ID = uuid.New()
	d.CreatedAt = now
	d.BillingPeriod = model.PeriodOf(now)
	if d.CostCenterID != nil && *d.CostCenterID == uuid.Nil {
		d.CostCenterID = nil
	}
	return d.Validate()
}

// ownerOf returns the VAT number of the customer a deposit target belongs to.
func (s *CustomerService) ownerOf(ctx context.Context, d *model.Deposit) (string, error) {
	if d.CostCenterID == nil {
		cc, err := s.store.Customers.CostCenterOwner(ctx, d.UsageAccountID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return "", fieldError("usageAccountId", "not assigned to a customer")
		case err != nil:
			return "", fmt.Errorf("look up owner of %s: %w", d.UsageAccountID, err)
		}
		return cc.CustomerVAT, nil
	}

	customers, err := s.store.Customers.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}
	for _, c := range customers {
		if _, ok := c.CostCenter(*d.CostCenterID); ok {
			return c.VATNumber, nil
		}
	}
	return "", fieldError("costCenterId", "unknown cost center")
}

func (s *CustomerService) record(ctx context.Context, vat string, d *model.Deposit, typ model.TransactionType) (model.Transaction, error) {
	c, err := s.store.Customers.GetByVAT(ctx, vat)
	if err != nil {
		return model.Transaction{}, err
	}
	if d.CostCenterID != nil {
		if _, ok := c.CostCenter(*d.CostCenterID); !ok {
			return model.Transaction{}, fieldError("costCenterId", "not a cost center of this customer")
		}
	} else if !containsAccount(*c, d.UsageAccountID) {
		return model.Transaction{}, fieldError("usageAccountId", "not a usage account of this customer")
	}

	tx := d.ToTransaction()
	tx.TransactionType = typ
	if err := s.store.Transactions.Create(ctx, &tx); err != nil {
		return model.Transaction{}, fmt.Errorf("record deposit: %w", err)
	}
	s.reports.Invalidate()
	s.logger.InfoContext(ctx, "deposit recorded", "vat", vat, "deposit_id", d.ID, "type", typ,
		"amount_eur", d.AmountEUR.String(), "billing_period", d.BillingPeriod)
	publish(ctx, s.events, s.logger, events.DepositRecorded, struct {
		CustomerVAT string        `json:"customerVat"`
		Deposit     model.Deposit `json:"deposit"`
	}{vat, *d})
	return tx, nil
}
