package matcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

func day(d int) time.Time {
	return time.Date(2025, 10, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Helper to create test charter
func makeCharter(key, party string, due string, service time.Time) model.BusinessTransaction {
	return model.BusinessTransaction{
		Key:         key,
		PartyID:     party,
		ServiceDate: service,
		DueAmount:   dec(due),
		Balance:     dec(due),
		Status:      model.StatusOpen,
	}
}

func makeRecord(amount string, date time.Time) model.InboundRecord {
	return model.InboundRecord{
		ID:         "rec-1",
		Source:     model.FeedSettlement,
		Amount:     dec(amount),
		OccurredOn: date,
		State:      model.StateUnmatched,
	}
}

func newMatcher(t *testing.T, cfg Config, resolver IdentityResolver) *Matcher {
	t.Helper()
	m, err := NewMatcher(cfg, resolver)
	require.NoError(t, err)
	return m
}

func TestMatcher_ExactKeyAmountDate(t *testing.T) {
	// Arrange
	m := newMatcher(t, DefaultConfig(), nil)
	rec := makeRecord("500.00", day(3))
	rec.KeyRef = "RES100"
	charters := []model.BusinessTransaction{
		makeCharter("RES100", "", "500.00", day(3)),
	}

	// Act
	match := m.Match(rec, charters)

	// Assert
	require.NotNil(t, match)
	assert.Equal(t, "RES100", match.TransactionKey)
	assert.Equal(t, StrategyExact, match.Strategy)
	assert.Equal(t, 5, match.BaseConfidence)
	assert.True(t, match.AutoApply)
}

func TestMatcher_ExactMatchesRemainingBalance(t *testing.T) {
	m := newMatcher(t, DefaultConfig(), nil)
	rec := makeRecord("300.00", day(3))
	rec.KeyRef = "RES100"
	charter := makeCharter("RES100", "", "500.00", day(3))
	charter.Balance = dec("300.00")
	charter.Status = model.StatusPartiallySettled

	match := m.Match(rec, []model.BusinessTransaction{charter})

	require.NotNil(t, match)
	assert.Equal(t, StrategyExact, match.Strategy)
}

func TestMatcher_ApproximateDate(t *testing.T) {
	m := newMatcher(t, DefaultConfig(), nil)

	t.Run("closest date wins", func(t *testing.T) {
		charters := []model.BusinessTransaction{
			makeCharter("RES1", "", "250.00", day(1)),
			makeCharter("RES2", "", "250.00", day(8)),
		}

		match := m.Match(makeRecord("250.00", day(6)), charters)

		require.NotNil(t, match)
		assert.Equal(t, "RES2", match.TransactionKey)
		assert.Equal(t, StrategyApproximateDate, match.Strategy)
		assert.Equal(t, 4, match.BaseConfidence)
		assert.Equal(t, 2, match.DateDiff)
	})

	t.Run("outside tolerance falls through to fuzzy", func(t *testing.T) {
		charters := []model.BusinessTransaction{
			makeCharter("RES1", "", "250.00", day(20)),
		}

		match := m.Match(makeRecord("250.00", day(1)), charters)

		require.NotNil(t, match)
		assert.Equal(t, StrategyFuzzy, match.Strategy)
		assert.False(t, match.AutoApply)
	})

	t.Run("tie for closest declines", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = []string{StrategyApproximateDate}
		only := newMatcher(t, cfg, nil)
		charters := []model.BusinessTransaction{
			makeCharter("RES1", "", "250.00", day(1)),
			makeCharter("RES2", "", "250.00", day(5)),
		}

		match := only.Match(makeRecord("250.00", day(3)), charters)

		assert.Nil(t, match)
	})
}

func TestMatcher_SkipsClosedCharters(t *testing.T) {
	m := newMatcher(t, DefaultConfig(), nil)
	settled := makeCharter("RES1", "", "100.00", day(3))
	settled.Status = model.StatusSettled
	void := makeCharter("RES2", "", "100.00", day(3))
	void.Status = model.StatusVoid

	match := m.Match(makeRecord("100.00", day(3)), []model.BusinessTransaction{settled, void})

	assert.Nil(t, match)
}

func TestMatcher_SpecialRules(t *testing.T) {
	amount := dec("89.00")
	cfg := DefaultConfig()
	cfg.DateToleranceDays = 2
	cfg.Rules = []Rule{
		{Name: "harbor-fuel", CounterpartyPattern: `harbor\s+fuel`, Amount: &amount, DateToleranceDays: 20},
	}
	m := newMatcher(t, cfg, nil)

	rec := makeRecord("89.00", day(18))
	rec.CounterpartyName = "HARBOR FUEL CO"
	charters := []model.BusinessTransaction{
		makeCharter("RES7", "", "89.00", day(2)),
	}

	match := m.Match(rec, charters)

	require.NotNil(t, match)
	assert.Equal(t, StrategySpecialRules, match.Strategy)
	assert.Equal(t, "RES7", match.TransactionKey)
	assert.Equal(t, 4, match.BaseConfidence)
	assert.Contains(t, match.Reason, "harbor-fuel")
}

func TestMatcher_SpecialRules_AmountMustMatchRule(t *testing.T) {
	amount := dec("89.00")
	cfg := DefaultConfig()
	cfg.Order = []string{StrategySpecialRules}
	cfg.Rules = []Rule{
		{Name: "harbor-fuel", CounterpartyPattern: `harbor`, Amount: &amount, DateToleranceDays: 20},
	}
	m := newMatcher(t, cfg, nil)

	rec := makeRecord("90.00", day(3))
	rec.CounterpartyName = "Harbor Fuel"

	match := m.Match(rec, []model.BusinessTransaction{makeCharter("RES7", "", "90.00", day(3))})

	assert.Nil(t, match)
}

func TestNewMatcher_InvalidConfig(t *testing.T) {
	t.Run("bad rule pattern", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Rules = []Rule{{Name: "broken", CounterpartyPattern: "("}}
		_, err := NewMatcher(cfg, nil)
		assert.Error(t, err)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = []string{"telepathy"}
		_, err := NewMatcher(cfg, nil)
		assert.Error(t, err)
	})

	t.Run("duplicate strategy", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = []string{StrategyExact, StrategyExact}
		_, err := NewMatcher(cfg, nil)
		assert.Error(t, err)
	})
}

func TestMatcher_Identity(t *testing.T) {
	dir := NewDirectory([]model.Party{
		{ID: "p1", Name: "Jane Doe", Email: "jane@example.com"},
		{ID: "p2", Name: "John Roe", Email: "john@example.com"},
		{ID: "p3", Name: "John Roe", Email: "other@example.com"},
	})

	t.Run("two identical charters yields 2", func(t *testing.T) {
		m := newMatcher(t, DefaultConfig(), dir)
		rec := makeRecord("500.00", day(3))
		rec.CounterpartyEmail = "jane@example.com"
		charters := []model.BusinessTransaction{
			makeCharter("RES1", "p1", "500.00", day(1)),
			makeCharter("RES2", "p1", "500.00", day(5)),
		}

		match := m.Match(rec, charters)

		require.NotNil(t, match)
		assert.Equal(t, StrategyIdentity, match.Strategy)
		assert.Equal(t, 2, match.BaseConfidence)
	})

	t.Run("single plausible yields 5", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = []string{StrategyIdentity}
		m := newMatcher(t, cfg, dir)
		rec := makeRecord("480.00", day(3))
		rec.CounterpartyName = "  jane   DOE "
		charters := []model.BusinessTransaction{
			makeCharter("RES1", "p1", "500.00", day(20)),
			makeCharter("RES9", "p2", "480.00", day(3)),
		}

		match := m.Match(rec, charters)

		require.NotNil(t, match)
		assert.Equal(t, "RES1", match.TransactionKey)
		assert.Equal(t, 5, match.BaseConfidence)
	})

	t.Run("unique exact amount yields 4", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = []string{StrategyIdentity}
		m := newMatcher(t, cfg, dir)
		rec := makeRecord("500.00", day(3))
		rec.CounterpartyEmail = "jane@example.com"
		charters := []model.BusinessTransaction{
			makeCharter("RES1", "p1", "520.00", day(3)),
			makeCharter("RES2", "p1", "500.00", day(10)),
		}

		match := m.Match(rec, charters)

		require.NotNil(t, match)
		assert.Equal(t, "RES2", match.TransactionKey)
		assert.Equal(t, 4, match.BaseConfidence)
	})

	t.Run("unique closest date yields 3", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = []string{StrategyIdentity}
		m := newMatcher(t, cfg, dir)
		rec := makeRecord("500.00", day(3))
		rec.CounterpartyEmail = "jane@example.com"
		charters := []model.BusinessTransaction{
			makeCharter("RES1", "p1", "510.00", day(4)),
			makeCharter("RES2", "p1", "520.00", day(12)),
		}

		match := m.Match(rec, charters)

		require.NotNil(t, match)
		assert.Equal(t, "RES1", match.TransactionKey)
		assert.Equal(t, 3, match.BaseConfidence)
	})

	t.Run("ambiguous party declines", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = []string{StrategyIdentity}
		m := newMatcher(t, cfg, dir)
		rec := makeRecord("500.00", day(3))
		rec.CounterpartyName = "John Roe"
		charters := []model.BusinessTransaction{
			makeCharter("RES1", "p2", "500.00", day(3)),
		}

		assert.Nil(t, m.Match(rec, charters))
	})
}

func TestMatcher_FuzzyNeverAutoApplies(t *testing.T) {
	// Arrange
	m := newMatcher(t, DefaultConfig(), nil)
	deposit := makeCharter("RES5", "", "2000.00", day(28))
	deposit.Deposit = dec("400.00")
	charters := []model.BusinessTransaction{
		deposit,
		makeCharter("RES6", "", "1000.00", day(28)),
	}

	// Act
	match := m.Match(makeRecord("410.00", day(1)), charters)

	// Assert
	require.NotNil(t, match)
	assert.Equal(t, StrategyFuzzy, match.Strategy)
	assert.Equal(t, "RES5", match.TransactionKey)
	assert.Equal(t, 1, match.BaseConfidence)
	assert.False(t, match.AutoApply)
	assert.True(t, dec("10.00").Equal(match.AmountDiff))
}

func TestMatcher_NoCandidate(t *testing.T) {
	m := newMatcher(t, DefaultConfig(), nil)

	match := m.Match(makeRecord("12.34", day(3)), []model.BusinessTransaction{
		makeCharter("RES1", "", "900.00", day(3)),
	})

	assert.Nil(t, match)
}

func TestMatcher_Strategies(t *testing.T) {
	m := newMatcher(t, DefaultConfig(), nil)
	assert.Equal(t, DefaultOrder, m.Strategies())
}

func TestDirectory_EmailBeforeName(t *testing.T) {
	dir := NewDirectory([]model.Party{
		{ID: "p1", Name: "Sam Lee", Email: "sam@example.com"},
		{ID: "p2", Name: "Sam Lee"},
	})

	assert.Equal(t, []string{"p1"}, dir.Resolve("Sam Lee", "SAM@example.com"))
	assert.Equal(t, []string{"p1", "p2"}, dir.Resolve("sam lee", ""))
	assert.Nil(t, dir.Resolve("Nobody", "nobody@example.com"))
}
