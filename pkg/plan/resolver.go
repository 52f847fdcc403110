// Package plan resolves provider catalog identifiers to internal plan tiers
// and holds the per-tier resource limits.
//
// Entitlement ids win over product ids: entitlements stay stable across
// catalog changes while a product id can lag behind during a plan switch.
package plan

import "strings"

// Resolver maps entitlement and product ids to a Tier.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a Resolver over c. A nil catalog uses DefaultCatalog.
func NewResolver(c *Catalog) *Resolver {
	if c == nil {
		c = DefaultCatalog()
	}
	return &Resolver{catalog: c}
}

// Resolve returns the tier granted by the given identifiers. It never fails:
// unknown identifiers resolve to TierFree.
func (r *Resolver) Resolve(entitlementIDs []string, productID string) Tier {
	if t, ok := r.fromEntitlements(entitlementIDs); ok {
		return t
	}
	if t, ok := r.fromProduct(productID); ok {
		return t
	}
	return TierFree
}

func (r *Resolver) fromEntitlements(ids []string) (Tier, bool) {
	var (
		best  Tier = TierFree
		found bool
	)
	for _, id := range ids {
		if t, ok := r.catalog.Entitlements[strings.ToLower(strings.TrimSpace(id))]; ok {
			best = Max(best, t)
			found = true
		}
	}
	return best, found
}

func (r *Resolver) fromProduct(productID string) (Tier, bool) {
	id := strings.ToLower(strings.TrimSpace(productID))
	if id == "" {
		return "", false
	}
	if t, ok := r.catalog.Products[id]; ok {
		return t, true
	}
	for _, p := range r.catalog.prefixes {
		if strings.HasPrefix(id, p) {
			return r.catalog.ProductPrefixes[p], true
		}
	}
	return "", false
}
