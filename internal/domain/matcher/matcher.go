// Package matcher proposes links between inbound payment records and
// charters.
//
// Strategies run in a configured order and the first one that produces a
// candidate wins:
//   - exact: business key, amount and service date all match (base 5)
//   - approximate_date: amount matches, date within tolerance (base 4)
//   - special_rules: configured counterparty rules (base 4)
//   - identity: counterparty resolves to one party (base 2-5)
//   - fuzzy: amount within a percentage window (base 1, never auto-applied)
//
// Example usage:
//
//	m, err := matcher.NewMatcher(matcher.DefaultConfig(), directory)
//	if err != nil {
//		return err
//	}
//	if match := m.Match(record, openCharters); match != nil {
//		// score and apply
//	}
package matcher

import (
	"fmt"
	"sort"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// Matcher runs strategies in order.
type Matcher struct {
	config     Config
	strategies []Strategy
}

// NewMatcher builds the strategy list from config.
// resolver may be nil, in which case the identity strategy never matches.
func NewMatcher(config Config, resolver IdentityResolver) (*Matcher, error) {
	order := config.Order
	if len(order) == 0 {
		order = DefaultOrder
	}

	m := &Matcher{config: config}
	seen := make(map[string]bool)
	for _, name := range order {
		if seen[name] {
			return nil, fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true

		s, err := m.build(name, resolver)
		if err != nil {
			return nil, err
		}
		m.strategies = append(m.strategies, s)
	}
	return m, nil
}

func (m *Matcher) build(name string, resolver IdentityResolver) (Strategy, error) {
	switch name {
	case StrategyExact:
		return &ExactStrategy{config: m.config}, nil
	case StrategyApproximateDate:
		return &ApproximateDateStrategy{config: m.config}, nil
	case StrategySpecialRules:
		return NewSpecialRulesStrategy(m.config)
	case StrategyIdentity:
		return &IdentityStrategy{config: m.config, resolver: resolver}, nil
	case StrategyFuzzy:
		return &FuzzyStrategy{config: m.config}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Strategies returns the strategy names in evaluation order.
func (m *Matcher) Strategies() []string {
	names := make([]string, len(m.strategies))
	for i, s := range m.strategies {
		names[i] = s.Name()
	}
	return names
}

// Match returns the first strategy's proposal, or nil when no strategy finds
// a candidate. Only open charters are considered.
func (m *Matcher) Match(rec model.InboundRecord, candidates []model.BusinessTransaction) *Match {
	open := make([]model.BusinessTransaction, 0, len(candidates))
	for _, tx := range candidates {
		if tx.Status.IsOpen() {
			open = append(open, tx)
		}
	}
	if len(open) == 0 {
		return nil
	}

	// Stable order keeps tie handling deterministic across runs
	sort.Slice(open, func(i, j int) bool { return open[i].Key < open[j].Key })

	for _, s := range m.strategies {
		if match := s.TryMatch(rec, open); match != nil {
			return match
		}
	}
	return nil
}
