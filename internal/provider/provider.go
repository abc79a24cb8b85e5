// Package provider defines where ingested costs come from.
package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/finopsmind/billing/internal/model"
)

// CostSource returns the monthly USD costs of the usage accounts behind a
// payer account.
type CostSource interface {
	// Name returns the source name.
	Name() string

	// Health checks connectivity.
	Health(ctx context.Context) HealthStatus

	// FetchCosts returns one entry per usage account billed to payer in
	// period. Amounts are USD before any reseller pricing.
	FetchCosts(ctx context.Context, payer model.PayerAccount, period model.BillingPeriod) ([]AccountCost, error)

	// Close cleans up resources.
	Close() error
}

// HealthStatus represents source health.
type HealthStatus struct {
	Healthy     bool           `json:"healthy"`
	Message     string         `json:"message"`
	LastChecked time.Time      `json:"lastChecked"`
	Details     map[string]any `json:"details,omitempty"`
}

// AccountCost is the raw monthly bill of one usage account.
type AccountCost struct {
	UsageAccountID string                `json:"usageAccountId"`
	Breakdown      model.CostBreakdown   `json:"breakdown"`
	Entities       model.EntityBreakdown `json:"entities"`
}

// Registry manages registered sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]CostSource
}

// NewRegistry creates a new source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]CostSource)}
}

// Register adds a source to the registry.
func (r *Registry) Register(name string, s CostSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = s
}

// Get retrieves a source by name.
func (r *Registry) Get(name string) (CostSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// Names returns all source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every source.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		s.Close()
	}
}
