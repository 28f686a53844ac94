package billing

import (
	"strings"

	"github.com/paintgate/paintgate/app/models"
	"github.com/paintgate/paintgate/internal/pkg/env"
)

// Tier describes one subscription level and its monthly token allotment.
type Tier struct {
	ID            string
	DisplayName   string
	StripePriceID string
	MonthlyTokens int64
}

// Catalog is the read-only tier table. It is built once at startup and passed
// by handle into the reconciler and the renewal sweeper; nothing mutates it at
// runtime.
type Catalog struct {
	freeGrant int64
	byID      map[string]*Tier
	byPrice   map[string]*Tier
}

// DefaultFreeGrant is the monthly token baseline for free-tier accounts.
const DefaultFreeGrant = 20

// NewCatalog builds a catalog from explicit tiers.
func NewCatalog(freeGrant int64, tiers []*Tier) *Catalog {
	c := &Catalog{
		freeGrant: freeGrant,
		byID:      make(map[string]*Tier, len(tiers)),
		byPrice:   make(map[string]*Tier, len(tiers)),
	}
	for _, t := range tiers {
		c.byID[t.ID] = t
		if t.StripePriceID != "" {
			c.byPrice[t.StripePriceID] = t
		}
	}
	return c
}

// NewCatalogFromEnv builds the catalog with Stripe price IDs taken from the
// environment. Token grants are fixed per tier; only the external price
// references vary between deployments.
func NewCatalogFromEnv() *Catalog {
	freeGrant := int64(env.GetEnvInt("FREE_TIER_GRANT", DefaultFreeGrant))
	return NewCatalog(freeGrant, []*Tier{
		{
			ID:            models.TIER_BASIC,
			DisplayName:   "Basic",
			StripePriceID: env.GetEnv("STRIPE_PRICE_BASIC", ""),
			MonthlyTokens: 200,
		},
		{
			ID:            models.TIER_PRO,
			DisplayName:   "Pro",
			StripePriceID: env.GetEnv("STRIPE_PRICE_PRO", ""),
			MonthlyTokens: 1000,
		},
		{
			ID:            models.TIER_STUDIO,
			DisplayName:   "Studio",
			StripePriceID: env.GetEnv("STRIPE_PRICE_STUDIO", ""),
			MonthlyTokens: 5000,
		},
	})
}

// FreeGrant returns the monthly token baseline for free accounts.
func (c *Catalog) FreeGrant() int64 {
	return c.freeGrant
}

// ByID returns a tier by its internal ID, or nil.
func (c *Catalog) ByID(id string) *Tier {
	return c.byID[strings.ToLower(strings.TrimSpace(id))]
}

// ByPriceID resolves a Stripe price reference to a tier, or nil when the
// price is not mapped.
func (c *Catalog) ByPriceID(priceID string) *Tier {
	return c.byPrice[strings.TrimSpace(priceID)]
}

// normalizeTier maps arbitrary input to a known tier ID, defaulting to free.
func normalizeTier(c *Catalog, tier string) string {
	t := strings.ToLower(strings.TrimSpace(tier))
	if c.ByID(t) != nil {
		return t
	}
	return models.TIER_FREE
}
