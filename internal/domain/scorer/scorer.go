// Package scorer turns a strategy match into an apply-or-review decision.
//
//	final = base + 1 when a corroborating record exists, capped at 5
//	auto-apply when final >= threshold and the strategy allows it
package scorer

import (
	"context"
	"fmt"

	"github.com/eshaffer321/charter-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// MaxConfidence is the top of the confidence scale.
const MaxConfidence = 5

// Config holds scorer configuration
type Config struct {
	AutoApplyThreshold      int              // Default: 3
	SecondaryFeeds          []model.FeedType // Feeds that can corroborate (default: bank_statement)
	CorroborationWindowDays int              // Default: 3
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		AutoApplyThreshold:      3,
		SecondaryFeeds:          []model.FeedType{model.FeedBankStatement},
		CorroborationWindowDays: 3,
	}
}

// Corroborator decides whether independent evidence supports a match.
type Corroborator interface {
	Corroborates(ctx context.Context, rec model.InboundRecord, match *matcher.Match) (bool, error)
}

// CorroboratorFunc adapts a function to Corroborator.
type CorroboratorFunc func(ctx context.Context, rec model.InboundRecord, match *matcher.Match) (bool, error)

func (f CorroboratorFunc) Corroborates(ctx context.Context, rec model.InboundRecord, match *matcher.Match) (bool, error) {
	return f(ctx, rec, match)
}

// Action is the outcome of scoring.
type Action string

const (
	ActionApply  Action = "apply"
	ActionReview Action = "review"
)

// Decision is a scored match.
type Decision struct {
	Match        *matcher.Match
	Confidence   int
	Corroborated bool
	Action       Action
	Reason       string
}

// Scorer applies the auto-apply policy.
type Scorer struct {
	config       Config
	corroborator Corroborator
}

// NewScorer creates a scorer. corroborator may be nil, in which case no
// match is ever boosted.
func NewScorer(config Config, corroborator Corroborator) *Scorer {
	if config.AutoApplyThreshold <= 0 {
		config.AutoApplyThreshold = DefaultConfig().AutoApplyThreshold
	}
	return &Scorer{config: config, corroborator: corroborator}
}

// Threshold returns the configured auto-apply threshold.
func (s *Scorer) Threshold() int {
	return s.config.AutoApplyThreshold
}

// Score computes the final confidence and action for match.
func (s *Scorer) Score(ctx context.Context, rec model.InboundRecord, match *matcher.Match) (Decision, error) {
	if match == nil {
		return Decision{Action: ActionReview, Reason: "no candidate from any strategy"}, nil
	}

	d := Decision{Match: match, Confidence: match.BaseConfidence}
	if s.corroborator != nil {
		ok, err := s.corroborator.Corroborates(ctx, rec, match)
		if err != nil {
			return Decision{}, fmt.Errorf("corroboration check failed: %w", err)
		}
		if ok {
			d.Corroborated = true
			d.Confidence++
		}
	}
	if d.Confidence > MaxConfidence {
		d.Confidence = MaxConfidence
	}

	switch {
	case !match.AutoApply:
		d.Action = ActionReview
		d.Reason = fmt.Sprintf("%s matches are suggestions only", match.Strategy)
	case d.Confidence >= s.config.AutoApplyThreshold:
		d.Action = ActionApply
		d.Reason = match.Reason
	default:
		d.Action = ActionReview
		d.Reason = fmt.Sprintf("confidence %d below threshold %d: %s", d.Confidence, s.config.AutoApplyThreshold, match.Reason)
	}
	return d, nil
}
