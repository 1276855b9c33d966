// Package reconcile wires the domain components into the batch pipeline:
//
//	Normalizer -> Duplicate Detector -> Strategy Matcher -> Confidence Scorer
//	           -> (Link Ledger | manual-review queue)
//
// It also exposes the operator actions that sit around the pipeline:
// duplicate confirmation, review decisions, unlinking, splits, balance
// validation and ledger rebuilds.
package reconcile

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/allocator"
	"github.com/eshaffer321/charter-reconcile/internal/domain/duplicates"
	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/normalizer"
	"github.com/eshaffer321/charter-reconcile/internal/domain/review"
	"github.com/eshaffer321/charter-reconcile/internal/domain/scorer"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/config"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/storage"
)

// SystemActor is recorded on links written by the batch.
const SystemActor = "system"

// Config holds the settings of every pipeline stage
type Config struct {
	Normalizer normalizer.Config
	Duplicates duplicates.Config
	Matcher    matcher.Config
	Scorer     scorer.Config
	Allocator  allocator.Config

	// MatchFeeds are the feeds whose records are matched to charters.
	// Records from other feeds only corroborate.
	MatchFeeds []model.FeedType

	Workers          int           // Default: 4
	BatchTimeout     time.Duration // Default: 5m
	BalanceTolerance decimal.Decimal // Default: one minor unit
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Normalizer:   normalizer.DefaultConfig(),
		Duplicates:   duplicates.DefaultConfig(),
		Matcher:      matcher.DefaultConfig(),
		Scorer:       scorer.DefaultConfig(),
		Allocator:    allocator.DefaultConfig(),
		MatchFeeds:       []model.FeedType{model.FeedSettlement, model.FeedReceipt},
		Workers:          4,
		BatchTimeout:     5 * time.Minute,
		BalanceTolerance: model.MinorUnit,
	}
}

// ConfigFrom builds the pipeline settings from the application config
func ConfigFrom(cfg *config.Config) (Config, error) {
	out := DefaultConfig()
	var err error

	if out.Normalizer, err = cfg.NormalizerConfig(); err != nil {
		return out, err
	}
	out.Duplicates = cfg.DuplicatesConfig()
	if out.Matcher, err = cfg.MatcherConfig(); err != nil {
		return out, err
	}
	if out.Scorer, err = cfg.ScorerConfig(); err != nil {
		return out, err
	}
	if out.Allocator, err = cfg.AllocatorConfig(); err != nil {
		return out, err
	}
	if cfg.Batch.Workers > 0 {
		out.Workers = cfg.Batch.Workers
	}
	if cfg.Batch.Timeout > 0 {
		out.BatchTimeout = cfg.Batch.Timeout
	}
	if len(cfg.Batch.MatchFeeds) > 0 {
		out.MatchFeeds = nil
		for _, name := range cfg.Batch.MatchFeeds {
			feed := model.FeedType(name)
			if !feed.Valid() {
				return out, fmt.Errorf("batch.match_feeds: unknown feed %q", name)
			}
			out.MatchFeeds = append(out.MatchFeeds, feed)
		}
	}
	if out.BalanceTolerance, err = cfg.BalanceTolerance(); err != nil {
		return out, err
	}
	return out, nil
}

// Service runs batches and operator actions over one repository
type Service struct {
	repo       storage.Repository
	config     Config
	normalizer *normalizer.Normalizer
	detector   *duplicates.Detector
	scorer     *scorer.Scorer
	ledger     *ledger.Ledger
	queue      *review.Queue
	allocator  *allocator.Allocator
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a service. It fails when the normalizer or matcher
// configuration is invalid.
func NewService(repo storage.Repository, locker ledger.Locker, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultConfig().BatchTimeout
	}
	if len(cfg.MatchFeeds) == 0 {
		cfg.MatchFeeds = DefaultConfig().MatchFeeds
	}

	norm, err := normalizer.New(cfg.Normalizer)
	if err != nil {
		return nil, err
	}
	// Validate strategies and rules up front; the matcher itself is rebuilt
	// per batch with a fresh party directory
	if _, err := matcher.NewMatcher(cfg.Matcher, matcher.NewDirectory(nil)); err != nil {
		return nil, err
	}

	l := ledger.New(repo, locker, logger)
	return &Service{
		repo:       repo,
		config:     cfg,
		normalizer: norm,
		detector:   duplicates.NewDetector(cfg.Duplicates),
		scorer:     scorer.NewScorer(cfg.Scorer, scorer.NewSecondaryFeedCorroborator(repo, cfg.Scorer)),
		ledger:     l,
		queue:      review.NewQueue(repo, l, logger),
		allocator:  allocator.New(repo, cfg.Allocator, logger),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Ledger exposes the link ledger for audit reads
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *Service) matchable(feed model.FeedType) bool {
	for _, f := range s.config.MatchFeeds {
		if f == feed {
			return true
		}
	}
	return false
}
