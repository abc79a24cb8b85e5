package model

import (
	"net/mail"
	"time"

	"github.com/google/uuid"
)

// CustomerStatus is the lifecycle state of a customer.
type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "Active"
	CustomerArchived CustomerStatus = "Archived"
)

// Customer is a legal entity buying AWS capacity through the reseller.
// VATNumber is the natural key used for report lookups.
type Customer struct {
	LegalName    string         `json:"legalName" db:"legal_name"`
	VATNumber    string         `json:"vatNumber" db:"vat_number"`
	ContactName  string         `json:"contactName" db:"contact_name"`
	ContactEmail string         `json:"contactEmail" db:"contact_email"`
	Status       CustomerStatus `json:"status" db:"status"`
	CostCenters  []CostCenter   `json:"costCenters"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

// Validate checks the customer fields. Cost centers are validated separately.
func (c *Customer) Validate() error {
	verr := &ValidationError{}
	if c.LegalName == "" {
		verr.Add("legalName", "is required")
	}
	if c.VATNumber == "" {
		verr.Add("vatNumber", "is required")
	}
	if c.ContactEmail != "" {
		if _, err := mail.ParseAddress(c.ContactEmail); err != nil {
			verr.Add("contactEmail", "is not a valid e-mail address")
		}
	}
	switch c.Status {
	case CustomerActive, CustomerArchived:
	default:
		verr.Add("status", "must be Active or Archived")
	}
	return verr.OrNil()
}

// CostCenter groups usage accounts of one customer for deposit tracking.
type CostCenter struct {
	ID              uuid.UUID `json:"id" db:"id"`
	CustomerVAT     string    `json:"customerVat" db:"customer_vat"`
	Name            string    `json:"name" db:"name"`
	Description     string    `json:"description" db:"description"`
	UsageAccountIDs []string  `json:"usageAccountIds"`
	Position        int       `json:"-" db:"position"`
}

// Validate checks the cost center fields.
func (cc *CostCenter) Validate() error {
	verr := &ValidationError{}
	if cc.Name == "" {
		verr.Add("name", "is required")
	}
	seen := make(map[string]bool, len(cc.UsageAccountIDs))
	for _, id := range cc.UsageAccountIDs {
		if !IsAccountID(id) {
			verr.Add("usageAccountIds", "every id must be exactly 12 digits")
			break
		}
		if seen[id] {
			verr.Add("usageAccountIds", "contains duplicates")
			break
		}
		seen[id] = true
	}
	return verr.OrNil()
}

// CostCenter returns the cost center with id, or false.
func (c *Customer) CostCenter(id uuid.UUID) (CostCenter, bool) {
	for _, cc := range c.CostCenters {
		if cc.ID == id {
			return cc, true
		}
	}
	return CostCenter{}, false
}

// UsageAccountIDs returns every usage account linked through the customer's
// cost centers, in cost center order.
func (c *Customer) UsageAccountIDs() []string {
	var ids []string
	for _, cc := range c.CostCenters {
		ids = append(ids, cc.UsageAccountIDs...)
	}
	return ids
}
