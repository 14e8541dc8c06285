package tiers

import (
	"errors"
	"sort"

	"github.com/okorolenko/substack-digest-bot/types"
)

// Definition is a named bundle of quotas and feature flags. The table is
// static startup configuration and never mutated at runtime.
type Definition struct {
	Name         string
	MaxFeeds     int
	AISummaries  bool
	PriceMonthly int // USD per month
}

type Table map[string]Definition

func Default() Table {
	return Table{
		types.TierFree: {
			Name:         types.TierFree,
			MaxFeeds:     3,
			AISummaries:  false,
			PriceMonthly: 0,
		},
		types.TierPro: {
			Name:         types.TierPro,
			MaxFeeds:     50,
			AISummaries:  true,
			PriceMonthly: 1,
		},
	}
}

func (t Table) Get(name string) (Definition, bool) {
	d, ok := t[name]
	return d, ok
}

// Free returns the free tier definition.
func (t Table) Free() Definition {
	return t[types.TierFree]
}

// Paid returns the cheapest paid tier; it is what owner and admin identities
// resolve to regardless of stored subscription state.
func (t Table) Paid() Definition {
	names := make([]string, 0, len(t))
	for name, d := range t {
		if d.PriceMonthly > 0 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return t[names[i]].PriceMonthly < t[names[j]].PriceMonthly })
	if len(names) == 0 {
		return t.Free()
	}
	return t[names[0]]
}

// Paids lists the paid tiers ordered by price, for upgrade menus.
func (t Table) Paids() []Definition {
	out := make([]Definition, 0, len(t))
	for _, d := range t {
		if d.PriceMonthly > 0 {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceMonthly < out[j].PriceMonthly })
	return out
}

// Validate enforces the shape every deployment relies on: exactly one free
// tier with AI off and at least one paid tier with AI on.
func (t Table) Validate() error {
	freeCount := 0
	paidAI := 0
	for _, d := range t {
		if d.PriceMonthly == 0 {
			freeCount++
			if d.AISummaries {
				return errors.New("tiers: free tier must not enable AI summaries")
			}
		} else if d.AISummaries {
			paidAI++
		}
	}
	if freeCount != 1 {
		return errors.New("tiers: exactly one free tier is required")
	}
	if paidAI == 0 {
		return errors.New("tiers: at least one paid tier with AI summaries is required")
	}
	return nil
}
