package scorer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// RecordFinder looks up records by feed, amount and date range.
// Storage implements it.
type RecordFinder interface {
	FindRecords(ctx context.Context, sources []model.FeedType, amount decimal.Decimal, from, to time.Time) ([]model.InboundRecord, error)
}

// SecondaryFeedCorroborator confirms a match when a record from another
// configured feed carries the same amount within the window.
type SecondaryFeedCorroborator struct {
	finder     RecordFinder
	feeds      []model.FeedType
	windowDays int
}

// NewSecondaryFeedCorroborator builds the default corroborator from config.
func NewSecondaryFeedCorroborator(finder RecordFinder, config Config) *SecondaryFeedCorroborator {
	feeds := config.SecondaryFeeds
	if len(feeds) == 0 {
		feeds = DefaultConfig().SecondaryFeeds
	}
	return &SecondaryFeedCorroborator{
		finder:     finder,
		feeds:      feeds,
		windowDays: config.CorroborationWindowDays,
	}
}

func (c *SecondaryFeedCorroborator) Corroborates(ctx context.Context, rec model.InboundRecord, _ *matcher.Match) (bool, error) {
	var feeds []model.FeedType
	for _, f := range c.feeds {
		if f != rec.Source {
			feeds = append(feeds, f)
		}
	}
	if len(feeds) == 0 {
		return false, nil
	}

	from := rec.OccurredOn.AddDate(0, 0, -c.windowDays)
	to := rec.OccurredOn.AddDate(0, 0, c.windowDays)
	found, err := c.finder.FindRecords(ctx, feeds, rec.Amount, from, to)
	if err != nil {
		return false, err
	}
	for _, other := range found {
		if other.ID != rec.ID && other.State != model.StateRejectedDuplicate {
			return true, nil
		}
	}
	return false, nil
}
