package matcher

import (
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// Strategy names, also used as config keys for ordering.
const (
	StrategyExact           = "exact"
	StrategyApproximateDate = "approximate_date"
	StrategySpecialRules    = "special_rules"
	StrategyIdentity        = "identity"
	StrategyFuzzy           = "fuzzy"
)

// DefaultOrder is the evaluation order when none is configured.
var DefaultOrder = []string{
	StrategyExact,
	StrategyApproximateDate,
	StrategySpecialRules,
	StrategyIdentity,
	StrategyFuzzy,
}

// Rule is a special-case entry for a recurring counterparty whose billing
// timing is irregular.
type Rule struct {
	Name                string
	CounterpartyPattern string           // Regexp matched against name, email and description
	Amount              *decimal.Decimal // nil matches any amount
	DateToleranceDays   int
}

// Config holds matcher configuration
type Config struct {
	AmountTolerance            decimal.Decimal // Default: 0 (amounts must be equal)
	DateToleranceDays          int             // Approximate-date window (default: 7)
	FuzzyAmountPct             decimal.Decimal // Fuzzy fallback window in percent (default: 5)
	IdentityAmountTolerancePct decimal.Decimal // Identity plausibility window in percent (default: 10)
	IdentityDateWindowDays     int             // Identity plausibility window in days (default: 30)
	Rules                      []Rule
	Order                      []string // Strategy names in evaluation order
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		AmountTolerance:            decimal.Zero,
		DateToleranceDays:          7,
		FuzzyAmountPct:             decimal.NewFromInt(5),
		IdentityAmountTolerancePct: decimal.NewFromInt(10),
		IdentityDateWindowDays:     30,
		Order:                      append([]string(nil), DefaultOrder...),
	}
}

// Match is a proposed link between a record and a charter.
type Match struct {
	TransactionKey string
	Strategy       string
	BaseConfidence int             // 1-5
	DateDiff       int             // Days between record and service date
	AmountDiff     decimal.Decimal // Absolute difference against the matched amount
	Reason         string
	AutoApply      bool // False when the strategy may only suggest
}

// Strategy proposes at most one match for a record.
// Returning nil means no candidate; that is not an error.
type Strategy interface {
	Name() string
	TryMatch(rec model.InboundRecord, candidates []model.BusinessTransaction) *Match
}

// IdentityResolver maps a counterparty to known party ids.
type IdentityResolver interface {
	Resolve(name, email string) []string
}
