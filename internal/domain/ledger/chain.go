package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// HashEntry computes the chain hash of an entry over its content and
// PrevHash. Seq is excluded because storage assigns it on insert.
func HashEntry(e *model.LinkEntry) string {
	fields := []string{
		e.PrevHash,
		e.ID,
		string(e.Kind),
		e.RecordID,
		e.TransactionKey,
		strconv.Itoa(e.Confidence),
		e.Method,
		e.Actor,
		e.Reason,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// ChainError reports the first entry that breaks the hash chain.
type ChainError struct {
	Seq    int64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger chain broken at seq %d: %s", e.Seq, e.Reason)
}

// VerifyChain recomputes every hash in seq order. It returns the number of
// verified entries, or a *ChainError at the first break.
func (l *Ledger) VerifyChain(ctx context.Context) (int, error) {
	entries, err := l.store.ListEntries(ctx)
	if err != nil {
		return 0, err
	}

	prev := ""
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			return i, &ChainError{Seq: e.Seq, Reason: "prev_hash does not match preceding entry"}
		}
		if HashEntry(e) != e.Hash {
			return i, &ChainError{Seq: e.Seq, Reason: "content hash mismatch"}
		}
		prev = e.Hash
	}
	return len(entries), nil
}
