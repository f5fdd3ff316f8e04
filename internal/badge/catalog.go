package badge

import (
	"github.com/shopspring/decimal"
)

// Category groups badges by the kind of record they gate on.
type Category string

const (
	CategoryMonthly   Category = "monthly"
	CategoryYearly    Category = "yearly"
	CategoryMilestone Category = "milestone"
	CategorySpecial   Category = "special"
)

// Rarity tiers, ascending.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Badge is a static catalog entry. Thresholds are in tons CO2 for monthly,
// yearly, and milestone categories. Special badges gate on an externally
// supplied fact keyed by Requirement instead of a threshold.
type Badge struct {
	ID          string
	Name        string
	Category    Category
	Threshold   decimal.Decimal
	Rarity      Rarity
	Points      int64
	Requirement string
}

// Catalog is the immutable, process-wide badge registry loaded at startup.
type Catalog struct {
	byID  map[string]Badge
	order []string
}

// NewCatalog builds a catalog from entries, preserving their order.
// Later duplicates of an ID are ignored.
func NewCatalog(badges []Badge) *Catalog {
	c := &Catalog{byID: make(map[string]Badge, len(badges))}
	for _, b := range badges {
		if _, exists := c.byID[b.ID]; exists {
			continue
		}
		c.byID[b.ID] = b
		c.order = append(c.order, b.ID)
	}
	return c
}

// Lookup returns the badge for id; ok is false for unknown identifiers.
func (c *Catalog) Lookup(id string) (Badge, bool) {
	b, ok := c.byID[id]
	return b, ok
}

// All returns the catalog entries in registration order.
func (c *Catalog) All() []Badge {
	badges := make([]Badge, 0, len(c.order))
	for _, id := range c.order {
		badges = append(badges, c.byID[id])
	}
	return badges
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.order)
}

// DefaultCatalog is the built-in badge set of the rewards program.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Badge{
		{ID: "monthly-saver", Name: "Monthly Saver", Category: CategoryMonthly, Threshold: decimal.NewFromInt(5), Rarity: RarityCommon, Points: 250},
		{ID: "monthly-champion", Name: "Monthly Champion", Category: CategoryMonthly, Threshold: decimal.NewFromInt(15), Rarity: RarityRare, Points: 750},
		{ID: "monthly-legend", Name: "Monthly Legend", Category: CategoryMonthly, Threshold: decimal.NewFromInt(40), Rarity: RarityEpic, Points: 2000},
		{ID: "yearly-guardian", Name: "Yearly Guardian", Category: CategoryYearly, Threshold: decimal.NewFromInt(50), Rarity: RarityRare, Points: 3000},
		{ID: "yearly-titan", Name: "Yearly Titan", Category: CategoryYearly, Threshold: decimal.NewFromInt(150), Rarity: RarityLegendary, Points: 10000},
		{ID: "first-ton", Name: "First Ton", Category: CategoryMilestone, Threshold: decimal.NewFromInt(1), Rarity: RarityCommon, Points: 100},
		{ID: "ten-tons", Name: "Ten Tons Club", Category: CategoryMilestone, Threshold: decimal.NewFromInt(10), Rarity: RarityRare, Points: 1000},
		{ID: "hundred-tons", Name: "Centurion", Category: CategoryMilestone, Threshold: decimal.NewFromInt(100), Rarity: RarityEpic, Points: 5000},
		{ID: "thousand-tons", Name: "Gigaton Path", Category: CategoryMilestone, Threshold: decimal.NewFromInt(1000), Rarity: RarityLegendary, Points: 25000},
		{ID: "governance-voice", Name: "Governance Voice", Category: CategorySpecial, Rarity: RarityRare, Points: 500, Requirement: "governance_participant"},
		{ID: "early-adopter", Name: "Early Adopter", Category: CategorySpecial, Rarity: RarityEpic, Points: 1500, Requirement: "early_adopter"},
	})
}
