package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/allocator"
	"github.com/eshaffer321/charter-reconcile/internal/domain/duplicates"
	"github.com/eshaffer321/charter-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/normalizer"
	"github.com/eshaffer321/charter-reconcile/internal/domain/scorer"
)

// Each converter starts from the package default and overrides only the
// values set in the file.

// MatcherConfig builds the matcher configuration
func (c *Config) MatcherConfig() (matcher.Config, error) {
	out := matcher.DefaultConfig()
	m := c.Matching

	var err error
	if out.AmountTolerance, err = decimalOr(m.AmountTolerance, out.AmountTolerance, "matching.amount_tolerance"); err != nil {
		return out, err
	}
	if out.FuzzyAmountPct, err = decimalOr(m.FuzzyAmountPct, out.FuzzyAmountPct, "matching.fuzzy_amount_pct"); err != nil {
		return out, err
	}
	if out.IdentityAmountTolerancePct, err = decimalOr(m.IdentityAmountTolerancePct, out.IdentityAmountTolerancePct, "matching.identity_amount_tolerance_pct"); err != nil {
		return out, err
	}
	if m.DateToleranceDays > 0 {
		out.DateToleranceDays = m.DateToleranceDays
	}
	if m.IdentityDateWindowDays > 0 {
		out.IdentityDateWindowDays = m.IdentityDateWindowDays
	}
	if len(m.Order) > 0 {
		out.Order = append([]string(nil), m.Order...)
	}

	for i, r := range m.Rules {
		rule := matcher.Rule{
			Name:                r.Name,
			CounterpartyPattern: r.Pattern,
			DateToleranceDays:   r.DateToleranceDays,
		}
		if r.Amount != "" {
			amount, err := decimal.NewFromString(r.Amount)
			if err != nil {
				return out, fmt.Errorf("matching.rules[%d].amount: %w", i, err)
			}
			rule.Amount = &amount
		}
		out.Rules = append(out.Rules, rule)
	}
	return out, nil
}

// ScorerConfig builds the scorer configuration
func (c *Config) ScorerConfig() (scorer.Config, error) {
	out := scorer.DefaultConfig()
	s := c.Scoring

	if s.AutoApplyThreshold != 0 {
		if s.AutoApplyThreshold < 1 || s.AutoApplyThreshold > scorer.MaxConfidence {
			return out, fmt.Errorf("scoring.auto_apply_threshold must be 1-%d, got %d", scorer.MaxConfidence, s.AutoApplyThreshold)
		}
		out.AutoApplyThreshold = s.AutoApplyThreshold
	}
	if s.CorroborationWindowDays > 0 {
		out.CorroborationWindowDays = s.CorroborationWindowDays
	}
	if len(s.SecondaryFeeds) > 0 {
		out.SecondaryFeeds = nil
		for _, name := range s.SecondaryFeeds {
			feed := model.FeedType(name)
			if !feed.Valid() {
				return out, fmt.Errorf("scoring.secondary_feeds: unknown feed %q", name)
			}
			out.SecondaryFeeds = append(out.SecondaryFeeds, feed)
		}
	}
	return out, nil
}

// DuplicatesConfig builds the duplicate detector configuration
func (c *Config) DuplicatesConfig() duplicates.Config {
	out := duplicates.DefaultConfig()
	if c.Duplicates.WindowDays > 0 {
		out.WindowDays = c.Duplicates.WindowDays
	}
	if c.Duplicates.RepeatClusterSize > 0 {
		out.RepeatClusterSize = c.Duplicates.RepeatClusterSize
	}
	return out
}

// NormalizerConfig builds the normalizer configuration
func (c *Config) NormalizerConfig() (normalizer.Config, error) {
	out := normalizer.DefaultConfig()
	n := c.Normalizer

	if n.MinorUnitPlaces > 0 {
		out.MinorUnitPlaces = int32(n.MinorUnitPlaces)
	}
	switch normalizer.RoundingMode(n.Rounding) {
	case "":
	case normalizer.RoundTruncate, normalizer.RoundHalfUp:
		out.Rounding = normalizer.RoundingMode(n.Rounding)
	default:
		return out, fmt.Errorf("normalizer.rounding: unknown mode %q", n.Rounding)
	}
	if len(n.DateLayouts) > 0 {
		out.DateLayouts = append([]string(nil), n.DateLayouts...)
	}
	if n.HashPrefixLen > 0 {
		out.HashPrefixLen = n.HashPrefixLen
	}
	if n.KeyPattern != "" {
		out.KeyPattern = n.KeyPattern
	}
	return out, nil
}

// AllocatorConfig builds the allocator configuration
func (c *Config) AllocatorConfig() (allocator.Config, error) {
	out := allocator.DefaultConfig()
	var err error
	out.Tolerance, err = decimalOr(c.Allocation.Tolerance, out.Tolerance, "allocation.tolerance")
	return out, err
}

// BalanceTolerance is the largest stored-versus-recomputed balance
// difference the validator ignores (default: one minor unit)
func (c *Config) BalanceTolerance() (decimal.Decimal, error) {
	return decimalOr(c.Allocation.BalanceTolerance, model.MinorUnit, "allocation.balance_tolerance")
}

func decimalOr(value string, fallback decimal.Decimal, field string) (decimal.Decimal, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", field, err)
	}
	if d.IsNegative() {
		return fallback, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}
