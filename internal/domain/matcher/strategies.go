package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

var hundred = decimal.NewFromInt(100)

// amountMatches reports whether the record pays the full due amount or the
// remaining balance of tx, and returns the absolute difference.
func amountMatches(amount decimal.Decimal, tx model.BusinessTransaction, tol decimal.Decimal) (bool, decimal.Decimal) {
	if model.WithinTolerance(amount, tx.DueAmount, tol) {
		return true, amount.Sub(tx.DueAmount).Abs()
	}
	if tx.Balance.IsPositive() && model.WithinTolerance(amount, tx.Balance, tol) {
		return true, amount.Sub(tx.Balance).Abs()
	}
	return false, decimal.Zero
}

// withinPct reports whether amount is within pct percent of target.
func withinPct(amount, target, pct decimal.Decimal) bool {
	if !target.IsPositive() {
		return false
	}
	return amount.Sub(target).Abs().Mul(hundred).LessThanOrEqual(target.Mul(pct))
}

// closestUnique picks the candidate with the smallest date distance.
// A tie for closest returns ok=false.
func closestUnique(candidates []scored) (scored, bool) {
	if len(candidates) == 0 {
		return scored{}, false
	}
	best := candidates[0]
	tied := false
	for _, c := range candidates[1:] {
		switch {
		case c.days < best.days:
			best = c
			tied = false
		case c.days == best.days:
			tied = true
		}
	}
	return best, !tied
}

type scored struct {
	tx         model.BusinessTransaction
	days       int
	amountDiff decimal.Decimal
}

// ExactStrategy requires business key, amount and date to all match.
type ExactStrategy struct {
	config Config
}

func (s *ExactStrategy) Name() string { return StrategyExact }

func (s *ExactStrategy) TryMatch(rec model.InboundRecord, candidates []model.BusinessTransaction) *Match {
	if rec.KeyRef == "" {
		return nil
	}
	for _, tx := range candidates {
		if !strings.EqualFold(rec.KeyRef, tx.Key) {
			continue
		}
		ok, diff := amountMatches(rec.Amount, tx, s.config.AmountTolerance)
		if !ok || model.DaysBetween(rec.OccurredOn, tx.ServiceDate) != 0 {
			continue
		}
		return &Match{
			TransactionKey: tx.Key,
			Strategy:       StrategyExact,
			BaseConfidence: 5,
			AmountDiff:     diff,
			Reason:         fmt.Sprintf("key %s, amount and date match", tx.Key),
			AutoApply:      true,
		}
	}
	return nil
}

// ApproximateDateStrategy matches on amount with the closest date inside
// the tolerance window.
type ApproximateDateStrategy struct {
	config Config
}

func (s *ApproximateDateStrategy) Name() string { return StrategyApproximateDate }

func (s *ApproximateDateStrategy) TryMatch(rec model.InboundRecord, candidates []model.BusinessTransaction) *Match {
	var inWindow []scored
	for _, tx := range candidates {
		ok, diff := amountMatches(rec.Amount, tx, s.config.AmountTolerance)
		if !ok {
			continue
		}
		days := model.DaysBetween(rec.OccurredOn, tx.ServiceDate)
		if days > s.config.DateToleranceDays {
			continue
		}
		inWindow = append(inWindow, scored{tx: tx, days: days, amountDiff: diff})
	}

	best, ok := closestUnique(inWindow)
	if !ok {
		return nil
	}
	return &Match{
		TransactionKey: best.tx.Key,
		Strategy:       StrategyApproximateDate,
		BaseConfidence: 4,
		DateDiff:       best.days,
		AmountDiff:     best.amountDiff,
		Reason:         fmt.Sprintf("amount matches, service date %d days away", best.days),
		AutoApply:      true,
	}
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// SpecialRulesStrategy applies the configured counterparty rule table.
type SpecialRulesStrategy struct {
	config Config
	rules  []compiledRule
}

// NewSpecialRulesStrategy compiles the rule patterns.
func NewSpecialRulesStrategy(config Config) (*SpecialRulesStrategy, error) {
	s := &SpecialRulesStrategy{config: config}
	for _, r := range config.Rules {
		re, err := regexp.Compile("(?i)" + r.CounterpartyPattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid counterparty pattern: %w", r.Name, err)
		}
		s.rules = append(s.rules, compiledRule{Rule: r, re: re})
	}
	return s, nil
}

func (s *SpecialRulesStrategy) Name() string { return StrategySpecialRules }

func (s *SpecialRulesStrategy) TryMatch(rec model.InboundRecord, candidates []model.BusinessTransaction) *Match {
	for _, rule := range s.rules {
		if !rule.re.MatchString(rec.CounterpartyName) &&
			!rule.re.MatchString(rec.CounterpartyEmail) &&
			!rule.re.MatchString(rec.Description) {
			continue
		}
		if rule.Amount != nil && !model.WithinTolerance(rec.Amount, *rule.Amount, s.config.AmountTolerance) {
			continue
		}

		var inWindow []scored
		for _, tx := range candidates {
			ok, diff := amountMatches(rec.Amount, tx, s.config.AmountTolerance)
			if !ok {
				continue
			}
			days := model.DaysBetween(rec.OccurredOn, tx.ServiceDate)
			if days > rule.DateToleranceDays {
				continue
			}
			inWindow = append(inWindow, scored{tx: tx, days: days, amountDiff: diff})
		}

		best, ok := closestUnique(inWindow)
		if !ok {
			continue
		}
		return &Match{
			TransactionKey: best.tx.Key,
			Strategy:       StrategySpecialRules,
			BaseConfidence: 4,
			DateDiff:       best.days,
			AmountDiff:     best.amountDiff,
			Reason:         fmt.Sprintf("rule %s, service date %d days away", rule.Name, best.days),
			AutoApply:      true,
		}
	}
	return nil
}

// IdentityStrategy resolves the counterparty to a single party and picks
// among that party's charters by proximity.
type IdentityStrategy struct {
	config   Config
	resolver IdentityResolver
}

func (s *IdentityStrategy) Name() string { return StrategyIdentity }

func (s *IdentityStrategy) TryMatch(rec model.InboundRecord, candidates []model.BusinessTransaction) *Match {
	if s.resolver == nil || (rec.CounterpartyName == "" && rec.CounterpartyEmail == "") {
		return nil
	}
	parties := s.resolver.Resolve(rec.CounterpartyName, rec.CounterpartyEmail)
	if len(parties) != 1 {
		return nil
	}
	partyID := parties[0]

	var plausible, exact []scored
	for _, tx := range candidates {
		if tx.PartyID != partyID {
			continue
		}
		days := model.DaysBetween(rec.OccurredOn, tx.ServiceDate)
		if days > s.config.IdentityDateWindowDays {
			continue
		}
		if ok, diff := amountMatches(rec.Amount, tx, s.config.AmountTolerance); ok {
			c := scored{tx: tx, days: days, amountDiff: diff}
			plausible = append(plausible, c)
			exact = append(exact, c)
			continue
		}
		if withinPct(rec.Amount, tx.DueAmount, s.config.IdentityAmountTolerancePct) {
			plausible = append(plausible, scored{tx: tx, days: days, amountDiff: rec.Amount.Sub(tx.DueAmount).Abs()})
		} else if withinPct(rec.Amount, tx.Balance, s.config.IdentityAmountTolerancePct) {
			plausible = append(plausible, scored{tx: tx, days: days, amountDiff: rec.Amount.Sub(tx.Balance).Abs()})
		}
	}

	var (
		pick       scored
		confidence int
		reason     string
	)
	switch {
	case len(plausible) == 0:
		return nil
	case len(plausible) == 1:
		pick, confidence, reason = plausible[0], 5, "single plausible charter for party"
	case len(exact) == 1:
		pick, confidence, reason = exact[0], 4, "unique exact amount among party charters"
	default:
		pool := plausible
		if len(exact) > 1 {
			pool = exact
		}
		if best, ok := closestUnique(pool); ok {
			pick, confidence, reason = best, 3, "unique closest date among party charters"
		} else {
			pick, confidence, reason = pool[0], 2, fmt.Sprintf("%d equally plausible charters for party", len(pool))
		}
	}

	return &Match{
		TransactionKey: pick.tx.Key,
		Strategy:       StrategyIdentity,
		BaseConfidence: confidence,
		DateDiff:       pick.days,
		AmountDiff:     pick.amountDiff,
		Reason:         reason,
		AutoApply:      true,
	}
}

// FuzzyStrategy is the numeric fallback. It only ever suggests.
type FuzzyStrategy struct {
	config Config
}

func (s *FuzzyStrategy) Name() string { return StrategyFuzzy }

func (s *FuzzyStrategy) TryMatch(rec model.InboundRecord, candidates []model.BusinessTransaction) *Match {
	var (
		best     *model.BusinessTransaction
		bestRel  decimal.Decimal
		bestDiff decimal.Decimal
		bestDays int
		bestWhat string
	)

	for i := range candidates {
		tx := candidates[i]
		days := model.DaysBetween(rec.OccurredOn, tx.ServiceDate)
		for _, target := range []struct {
			what   string
			amount decimal.Decimal
		}{
			{"due", tx.DueAmount},
			{"balance", tx.Balance},
			{"deposit", tx.Deposit},
		} {
			if !withinPct(rec.Amount, target.amount, s.config.FuzzyAmountPct) {
				continue
			}
			diff := rec.Amount.Sub(target.amount).Abs()
			rel := diff.Div(target.amount)
			better := best == nil ||
				rel.LessThan(bestRel) ||
				(rel.Equal(bestRel) && days < bestDays)
			if better {
				best, bestRel, bestDiff, bestDays, bestWhat = &candidates[i], rel, diff, days, target.what
			}
		}
	}

	if best == nil {
		return nil
	}
	return &Match{
		TransactionKey: best.Key,
		Strategy:       StrategyFuzzy,
		BaseConfidence: 1,
		DateDiff:       bestDays,
		AmountDiff:     bestDiff,
		Reason:         fmt.Sprintf("amount within %s%% of %s (off by %s)", s.config.FuzzyAmountPct.String(), bestWhat, bestDiff.StringFixed(2)),
		AutoApply:      false,
	}
}
