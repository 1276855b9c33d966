// Package normalizer canonicalizes raw feed rows into inbound records.
//
// Normalization:
//   - identifiers are trimmed and uppercased
//   - amounts are parsed into exact decimals and rounded to the minor unit
//   - dates are parsed with an ordered list of layouts into UTC calendar dates
//   - a content hash over (amount, date, description prefix) is derived for
//     duplicate pre-filtering
//
// Rows that cannot be parsed fail with *model.MalformedRecordError so the
// caller can quarantine them.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// RoundingMode selects how sub-minor-unit digits are handled.
type RoundingMode string

const (
	// RoundTruncate drops extra digits, as the booking system does.
	RoundTruncate RoundingMode = "truncate"
	// RoundHalfUp rounds half away from zero.
	RoundHalfUp RoundingMode = "half_up"
)

// Config holds normalizer configuration
type Config struct {
	MinorUnitPlaces int32
	Rounding        RoundingMode
	DateLayouts     []string
	HashPrefixLen   int    // Description characters included in the content hash
	KeyPattern      string // Regexp locating a business key reference
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MinorUnitPlaces: 2,
		Rounding:        RoundTruncate,
		DateLayouts: []string{
			"2006-01-02",
			time.RFC3339,
			"2006-01-02 15:04:05",
			"01/02/2006",
			"1/2/2006",
			"02.01.2006",
		},
		HashPrefixLen: 32,
		KeyPattern:    `\bRES\d+\b`,
	}
}

// RawRecord is a row as delivered by an ingestion adapter.
type RawRecord struct {
	Source            model.FeedType `json:"source"`
	ExternalID        string         `json:"external_id,omitempty"`
	Reference         string         `json:"reference,omitempty"`
	Amount            string         `json:"amount"`
	Date              string         `json:"date"`
	Description       string         `json:"description"`
	CounterpartyName  string         `json:"counterparty_name,omitempty"`
	CounterpartyEmail string         `json:"counterparty_email,omitempty"`
}

// Normalizer converts raw rows into canonical inbound records.
type Normalizer struct {
	config Config
	keyRe  *regexp.Regexp
	now    func() time.Time
}

// New creates a normalizer. It fails only when KeyPattern does not compile.
func New(config Config) (*Normalizer, error) {
	n := &Normalizer{config: config, now: time.Now}
	if config.KeyPattern != "" {
		re, err := regexp.Compile("(?i)" + config.KeyPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid key pattern: %w", err)
		}
		n.keyRe = re
	}
	if len(n.config.DateLayouts) == 0 {
		n.config.DateLayouts = DefaultConfig().DateLayouts
	}
	return n, nil
}

// Normalize validates and canonicalizes one raw record.
func (n *Normalizer) Normalize(raw RawRecord) (model.InboundRecord, error) {
	source := model.FeedType(strings.ToLower(strings.TrimSpace(string(raw.Source))))
	if !source.Valid() {
		return model.InboundRecord{}, &model.MalformedRecordError{Field: "source", Value: string(raw.Source), Reason: "unknown feed"}
	}

	amount, err := n.ParseAmount(raw.Amount)
	if err != nil {
		return model.InboundRecord{}, err
	}

	date, err := n.ParseDate(raw.Date)
	if err != nil {
		return model.InboundRecord{}, err
	}

	description := collapseSpaces(raw.Description)
	externalID := strings.ToUpper(strings.TrimSpace(raw.ExternalID))

	rec := model.InboundRecord{
		ID:                uuid.NewString(),
		Source:            source,
		ExternalID:        externalID,
		KeyRef:            n.extractKey(raw.Reference, externalID, description),
		Amount:            amount,
		OccurredOn:        date,
		Description:       description,
		CounterpartyName:  collapseSpaces(raw.CounterpartyName),
		CounterpartyEmail: strings.ToLower(strings.TrimSpace(raw.CounterpartyEmail)),
		State:             model.StateUnmatched,
		IngestedAt:        n.now().UTC(),
	}
	rec.ContentHash = ContentHash(amount, date, description, n.config.HashPrefixLen)

	return rec, nil
}

// ParseAmount parses a feed amount such as "$1,234.567" or "(12.50)".
func (n *Normalizer) ParseAmount(value string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(value)
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ',', ' ', '\u00a0':
			return -1
		}
		return r
	}, cleaned)

	if cleaned == "" {
		return decimal.Zero, &model.MalformedRecordError{Field: "amount", Value: value, Reason: "empty"}
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, &model.MalformedRecordError{Field: "amount", Value: value, Reason: "not a decimal number"}
	}
	if negative {
		amount = amount.Neg()
	}

	switch n.config.Rounding {
	case RoundHalfUp:
		return amount.Round(n.config.MinorUnitPlaces), nil
	default:
		return amount.Truncate(n.config.MinorUnitPlaces), nil
	}
}

// ParseDate parses a feed date using the configured layouts in order.
func (n *Normalizer) ParseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, &model.MalformedRecordError{Field: "date", Value: value, Reason: "empty"}
	}
	for _, layout := range n.config.DateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return model.CalendarDate(t), nil
		}
	}
	return time.Time{}, &model.MalformedRecordError{Field: "date", Value: value, Reason: "unrecognized date format"}
}

// extractKey returns the first business key found in the candidates, uppercased.
func (n *Normalizer) extractKey(candidates ...string) string {
	if n.keyRe == nil {
		return ""
	}
	for _, c := range candidates {
		if match := n.keyRe.FindString(c); match != "" {
			return strings.ToUpper(match)
		}
	}
	return ""
}

// ContentHash derives the duplicate pre-filter hash for a record.
func ContentHash(amount decimal.Decimal, date time.Time, description string, prefixLen int) string {
	desc := []rune(strings.ToUpper(description))
	if prefixLen >= 0 && len(desc) > prefixLen {
		desc = desc[:prefixLen]
	}
	payload := fmt.Sprintf("%s|%s|%s", amount.StringFixed(2), date.Format(model.DateLayout), string(desc))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
