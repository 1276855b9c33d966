// Package duplicates flags near-identical inbound records before matching.
//
// Scoring for two records of the same feed with the same amount:
//   - identical date        -> 0.95, exact (deletable after confirmation)
//   - dates 1 day apart     -> 0.75, near (needs human judgment)
//
// Three or more same-feed records with the same amount on the same day are
// treated as possible legitimate repeats (two charters billed identically,
// for example) and never get a deletion recommendation.
//
// The detector is advisory; it never deletes anything.
package duplicates

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

const (
	ExactConfidence = 0.95
	NearConfidence  = 0.75
)

// Config holds detector configuration
type Config struct {
	WindowDays        int // Max date distance for a near duplicate (default: 1)
	RepeatClusterSize int // Same-day cluster size treated as legitimate repeats (default: 3)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		WindowDays:        1,
		RepeatClusterSize: 3,
	}
}

// Detector finds duplicate candidates.
type Detector struct {
	config Config
	now    func() time.Time
}

// NewDetector creates a detector with the given config
func NewDetector(config Config) *Detector {
	if config.WindowDays <= 0 {
		config.WindowDays = 1
	}
	if config.RepeatClusterSize < 3 {
		config.RepeatClusterSize = 3
	}
	return &Detector{config: config, now: time.Now}
}

type bucketKey struct {
	source model.FeedType
	amount string
}

// Detect returns duplicate candidates among records. Pairs are ordered so
// that RecordB is the later-dated record, or the later-ingested one when both
// share a date.
func (d *Detector) Detect(records []model.InboundRecord) []model.DuplicateCandidate {
	buckets := make(map[bucketKey][]model.InboundRecord)
	for _, rec := range records {
		if rec.State == model.StateRejectedDuplicate {
			continue
		}
		key := bucketKey{source: rec.Source, amount: rec.Amount.StringFixed(2)}
		buckets[key] = append(buckets[key], rec)
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		return keys[i].amount < keys[j].amount
	})

	var candidates []model.DuplicateCandidate
	for _, k := range keys {
		candidates = append(candidates, d.scoreBucket(buckets[k])...)
	}
	return candidates
}

// scoreBucket scores all pairs within one (source, amount) bucket.
func (d *Detector) scoreBucket(bucket []model.InboundRecord) []model.DuplicateCandidate {
	if len(bucket) < 2 {
		return nil
	}

	sort.SliceStable(bucket, func(i, j int) bool {
		if !bucket[i].OccurredOn.Equal(bucket[j].OccurredOn) {
			return bucket[i].OccurredOn.Before(bucket[j].OccurredOn)
		}
		if !bucket[i].IngestedAt.Equal(bucket[j].IngestedAt) {
			return bucket[i].IngestedAt.Before(bucket[j].IngestedAt)
		}
		return bucket[i].ID < bucket[j].ID
	})

	sameDay := make(map[string]int)
	for _, rec := range bucket {
		sameDay[rec.OccurredOn.Format(model.DateLayout)]++
	}

	var out []model.DuplicateCandidate
	for i := 0; i < len(bucket); i++ {
		for j := i + 1; j < len(bucket); j++ {
			a, b := bucket[i], bucket[j]
			days := model.DaysBetween(a.OccurredOn, b.OccurredOn)
			if days > d.config.WindowDays {
				break // sorted by date, later records are further away
			}

			candidate := model.DuplicateCandidate{
				ID:         uuid.NewString(),
				RecordA:    a.ID,
				RecordB:    b.ID,
				Status:     model.CandidateOpen,
				DetectedAt: d.now().UTC(),
			}

			switch {
			case days == 0:
				candidate.Confidence = ExactConfidence
				candidate.Classification = model.DuplicateExact
			case days <= 1:
				candidate.Confidence = NearConfidence
				candidate.Classification = model.DuplicateNear
			default:
				continue
			}

			repeatA := sameDay[a.OccurredOn.Format(model.DateLayout)] >= d.config.RepeatClusterSize
			repeatB := sameDay[b.OccurredOn.Format(model.DateLayout)] >= d.config.RepeatClusterSize
			candidate.PossibleRepeat = repeatA || repeatB
			candidate.RecommendDelete = candidate.Classification == model.DuplicateExact && !candidate.PossibleRepeat

			out = append(out, candidate)
		}
	}
	return out
}

// Summary counts candidates for batch reporting.
type Summary struct {
	Exact           int
	Near            int
	PossibleRepeats int
	RecommendDelete int
}

// Summarize counts candidates per category.
func Summarize(candidates []model.DuplicateCandidate) Summary {
	var s Summary
	for _, c := range candidates {
		switch c.Classification {
		case model.DuplicateExact:
			s.Exact++
		case model.DuplicateNear:
			s.Near++
		}
		if c.PossibleRepeat {
			s.PossibleRepeats++
		}
		if c.RecommendDelete {
			s.RecommendDelete++
		}
	}
	return s
}

// FlaggedRecords returns the ids of records that should be held out of
// matching: the later record of every pair recommended for deletion.
func FlaggedRecords(candidates []model.DuplicateCandidate) map[string]bool {
	flagged := make(map[string]bool)
	for _, c := range candidates {
		if c.RecommendDelete {
			flagged[c.RecordB] = true
		}
	}
	return flagged
}
