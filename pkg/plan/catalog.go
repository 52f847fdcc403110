package plan

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resource is a countable, plan-limited user resource.
type Resource string

const (
	ResourceActiveGoals    Resource = "active_goals"
	ResourceLinkedAccounts Resource = "linked_accounts"
)

// Unlimited indicates no limit for a resource.
const Unlimited int64 = -1

// Catalog maps provider identifiers to tiers and tiers to resource limits.
type Catalog struct {
	// Entitlements maps provider entitlement ids to tiers.
	Entitlements map[string]Tier `yaml:"entitlements"`
	// Products maps exact product ids to tiers.
	Products map[string]Tier `yaml:"products"`
	// ProductPrefixes maps product id prefixes to tiers; the longest match wins.
	ProductPrefixes map[string]Tier `yaml:"product_prefixes"`
	// Limits holds per-tier resource limits. A resource missing for a tier is unlimited.
	Limits map[Tier]map[Resource]int64 `yaml:"limits"`

	prefixes []string
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Entitlements: map[string]Tier{
			"premium": TierPremium,
			"pro":     TierPro,
		},
		Products: map[string]Tier{},
		ProductPrefixes: map[string]Tier{
			"premium_": TierPremium,
			"pro_":     TierPro,
		},
		Limits: map[Tier]map[Resource]int64{
			TierFree:    {ResourceActiveGoals: 1, ResourceLinkedAccounts: 0},
			TierPremium: {ResourceActiveGoals: 10, ResourceLinkedAccounts: 2},
			TierPro:     {ResourceActiveGoals: Unlimited, ResourceLinkedAccounts: Unlimited},
		},
	}
	if err := c.normalize(); err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Join(ErrCatalogNotFound, err)
		}
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Limit returns the limit of r for tier t, or Unlimited when none is set.
func (c *Catalog) Limit(t Tier, r Resource) int64 {
	if limit, ok := c.Limits[t][r]; ok {
		return limit
	}
	return Unlimited
}

// Resources lists every resource limited by any tier, sorted.
func (c *Catalog) Resources() []Resource {
	seen := make(map[Resource]struct{})
	for _, limits := range c.Limits {
		for r := range limits {
			seen[r] = struct{}{}
		}
	}
	out := make([]Resource, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Catalog) normalize() error {
	var err error
	if c.Entitlements, err = normalizeKeys(c.Entitlements, "entitlement"); err != nil {
		return err
	}
	if c.Products, err = normalizeKeys(c.Products, "product"); err != nil {
		return err
	}
	if c.ProductPrefixes, err = normalizeKeys(c.ProductPrefixes, "product prefix"); err != nil {
		return err
	}
	for t, limits := range c.Limits {
		if !t.Known() {
			return fmt.Errorf("%w: limits for unknown tier %q", ErrInvalidCatalog, t)
		}
		for r, v := range limits {
			if v < Unlimited {
				return fmt.Errorf("%w: negative limit %d for %s/%s", ErrInvalidCatalog, v, t, r)
			}
		}
	}

	c.prefixes = make([]string, 0, len(c.ProductPrefixes))
	for p := range c.ProductPrefixes {
		c.prefixes = append(c.prefixes, p)
	}
	// longest prefix first; ties broken alphabetically for determinism
	sort.Slice(c.prefixes, func(i, j int) bool {
		if len(c.prefixes[i]) != len(c.prefixes[j]) {
			return len(c.prefixes[i]) > len(c.prefixes[j])
		}
		return c.prefixes[i] < c.prefixes[j]
	})
	return nil
}

func normalizeKeys(in map[string]Tier, kind string) (map[string]Tier, error) {
	out := make(map[string]Tier, len(in))
	for k, t := range in {
		tier, err := ParseTier(string(t))
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q: %w", ErrInvalidCatalog, kind, k, err)
		}
		out[strings.ToLower(strings.TrimSpace(k))] = tier
	}
	return out, nil
}
