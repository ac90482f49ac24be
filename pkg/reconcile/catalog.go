package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PlanCatalog maps provider product names to plan entries.
// Lookups are exact: no trimming, no case folding.
type PlanCatalog struct {
	entries map[string]PlanEntry
}

// DefaultPlans returns the built-in product table.
func DefaultPlans() map[string]PlanEntry {
	return map[string]PlanEntry{
		"Plano Mensal":    {Tier: TierMonthly, DurationMonths: 1},
		"Plano Semestral": {Tier: TierSemiannual, DurationMonths: 6},
		"Plano Anual":     {Tier: TierAnnual, DurationMonths: 12},
	}
}

// DefaultCatalog returns a catalog built from DefaultPlans.
func DefaultCatalog() *PlanCatalog {
	c, _ := NewPlanCatalog(DefaultPlans())
	return c
}

// NewPlanCatalog validates entries and returns an immutable catalog.
func NewPlanCatalog(entries map[string]PlanEntry) (*PlanCatalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrInvalidPlanEntry)
	}
	copied := make(map[string]PlanEntry, len(entries))
	for name, entry := range entries {
		if name == "" {
			return nil, fmt.Errorf("%w: empty product name", ErrInvalidPlanEntry)
		}
		if !entry.Tier.Valid() {
			return nil, fmt.Errorf("%w: product %q has unknown tier %q", ErrInvalidPlanEntry, name, entry.Tier)
		}
		if entry.DurationMonths <= 0 {
			return nil, fmt.Errorf("%w: product %q has duration %d", ErrInvalidPlanEntry, name, entry.DurationMonths)
		}
		copied[name] = entry
	}
	return &PlanCatalog{entries: copied}, nil
}

// ParsePlanCatalog builds a catalog from a JSON object of the form
// {"Plano Mensal": {"tier": "mensal", "durationMonths": 1}}.
func ParsePlanCatalog(data []byte) (*PlanCatalog, error) {
	var entries map[string]PlanEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode plan catalog: %w", err)
	}
	return NewPlanCatalog(entries)
}

// Resolve returns the plan entry for productName or ErrPlanNotFound.
func (c *PlanCatalog) Resolve(productName string) (PlanEntry, error) {
	entry, ok := c.entries[productName]
	if !ok {
		return PlanEntry{}, fmt.Errorf("%w: %q", ErrPlanNotFound, productName)
	}
	return entry, nil
}

// Products returns the configured product names in sorted order.
func (c *PlanCatalog) Products() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
