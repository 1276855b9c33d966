// Package ledger is the append-only link log between inbound records and
// charters.
//
// Every link and unlink is an immutable entry chained by sha256 to the
// previous one. The materialized assignment on each record (AssignedKey and
// State) is written in the same storage transaction as the entry, and can
// always be rebuilt by replaying the log.
//
// The ledger is the only writer of assignment state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// ManualMethodPrefix marks links made by a human; they materialize as
// matched_manual.
const ManualMethodPrefix = "manual:"

// Tx is the storage view available inside one append.
type Tx interface {
	GetRecord(ctx context.Context, id string) (*model.InboundRecord, error)
	GetTransaction(ctx context.Context, key string) (*model.BusinessTransaction, error)
	// LastEntryForRecord returns nil when the record has no entries.
	LastEntryForRecord(ctx context.Context, recordID string) (*model.LinkEntry, error)
	// LastEntry returns nil when the log is empty.
	LastEntry(ctx context.Context) (*model.LinkEntry, error)
	InsertEntry(ctx context.Context, entry *model.LinkEntry) error
	SetAssignment(ctx context.Context, recordID, key string, state model.RecordState) error
	// RefreshBalance recomputes the charter's balance and status from
	// active links.
	RefreshBalance(ctx context.Context, key string) error
}

// Store persists the log.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	ListEntries(ctx context.Context) ([]model.LinkEntry, error)
	EntriesForRecord(ctx context.Context, recordID string) ([]model.LinkEntry, error)
	// ListMaterialized returns the assignment stored on every record that
	// currently claims one.
	ListMaterialized(ctx context.Context) ([]model.Assignment, error)
}

// Locker serializes appends per charter.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// LockKey returns the lock key for a charter.
func LockKey(transactionKey string) string {
	return "charter:" + transactionKey
}

// Ledger appends and replays link entries.
type Ledger struct {
	store  Store
	locker Locker
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ledger.
func New(store Store, locker Locker, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, locker: locker, logger: logger, now: time.Now}
}

// AppendLink links recordID to key.
// Returns model.ErrAlreadyLinked when the record already has an active link.
func (l *Ledger) AppendLink(ctx context.Context, recordID, key string, confidence int, method, actor string) (*model.LinkEntry, error) {
	return l.appendLink(ctx, recordID, key, confidence, method, actor, nil)
}

// AppendAutoLink links recordID to seen.Key only while the charter is still
// open with the due amount and balance the match was computed against.
// Returns model.ErrStaleMatch otherwise, so one payment never settles a
// charter that another link already changed.
func (l *Ledger) AppendAutoLink(ctx context.Context, recordID string, seen model.BusinessTransaction, confidence int, method, actor string) (*model.LinkEntry, error) {
	return l.appendLink(ctx, recordID, seen.Key, confidence, method, actor, func(current *model.BusinessTransaction) error {
		if !current.Status.IsOpen() {
			return fmt.Errorf("charter %s is %s: %w", current.Key, current.Status, model.ErrStaleMatch)
		}
		if !current.Balance.Equal(seen.Balance) || !current.DueAmount.Equal(seen.DueAmount) {
			return fmt.Errorf("charter %s balance moved from %s to %s: %w",
				current.Key, seen.Balance.StringFixed(2), current.Balance.StringFixed(2), model.ErrStaleMatch)
		}
		return nil
	})
}

func (l *Ledger) appendLink(ctx context.Context, recordID, key string, confidence int, method, actor string, guard func(*model.BusinessTransaction) error) (*model.LinkEntry, error) {
	var entry *model.LinkEntry
	err := l.locker.WithLock(ctx, LockKey(key), func(ctx context.Context) error {
		return l.store.InTx(ctx, func(tx Tx) error {
			rec, err := tx.GetRecord(ctx, recordID)
			if err != nil {
				return err
			}
			if rec.State == model.StateRejectedDuplicate {
				return fmt.Errorf("record %s is a rejected duplicate: %w", recordID, model.ErrInvalidState)
			}
			txn, err := tx.GetTransaction(ctx, key)
			if err != nil {
				return err
			}

			last, err := tx.LastEntryForRecord(ctx, recordID)
			if err != nil {
				return err
			}
			if last != nil && last.Kind == model.EntryLink {
				return fmt.Errorf("record %s linked to %s: %w", recordID, last.TransactionKey, model.ErrAlreadyLinked)
			}
			if guard != nil {
				if err := guard(txn); err != nil {
					return err
				}
			}

			entry = &model.LinkEntry{
				ID:             uuid.NewString(),
				Kind:           model.EntryLink,
				RecordID:       recordID,
				TransactionKey: key,
				Confidence:     confidence,
				Method:         method,
				Actor:          actor,
				CreatedAt:      l.now().UTC(),
			}
			if err := l.insert(ctx, tx, entry); err != nil {
				return err
			}
			if err := tx.SetAssignment(ctx, recordID, key, stateForMethod(method)); err != nil {
				return err
			}
			return tx.RefreshBalance(ctx, key)
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("link appended",
		"record_id", recordID,
		"key", key,
		"confidence", confidence,
		"method", method,
		"actor", actor)
	return entry, nil
}

// AppendUnlink supersedes the record's active link.
// Returns model.ErrNoActiveLink when there is none.
func (l *Ledger) AppendUnlink(ctx context.Context, recordID, actor, reason string) (*model.LinkEntry, error) {
	entries, err := l.store.EntriesForRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	active := activeOf(entries)
	if active == nil {
		return nil, fmt.Errorf("record %s: %w", recordID, model.ErrNoActiveLink)
	}
	key := active.TransactionKey

	var entry *model.LinkEntry
	err = l.locker.WithLock(ctx, LockKey(key), func(ctx context.Context) error {
		return l.store.InTx(ctx, func(tx Tx) error {
			last, err := tx.LastEntryForRecord(ctx, recordID)
			if err != nil {
				return err
			}
			if last == nil || last.Kind != model.EntryLink {
				return fmt.Errorf("record %s: %w", recordID, model.ErrNoActiveLink)
			}
			if last.TransactionKey != key {
				return fmt.Errorf("record %s relinked to %s concurrently: %w", recordID, last.TransactionKey, model.ErrInvalidState)
			}

			entry = &model.LinkEntry{
				ID:             uuid.NewString(),
				Kind:           model.EntryUnlink,
				RecordID:       recordID,
				TransactionKey: key,
				Method:         last.Method,
				Actor:          actor,
				Reason:         reason,
				CreatedAt:      l.now().UTC(),
			}
			if err := l.insert(ctx, tx, entry); err != nil {
				return err
			}
			if err := tx.SetAssignment(ctx, recordID, "", model.StateUnmatched); err != nil {
				return err
			}
			return tx.RefreshBalance(ctx, key)
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("link superseded",
		"record_id", recordID,
		"key", key,
		"actor", actor,
		"reason", reason)
	return entry, nil
}

func (l *Ledger) insert(ctx context.Context, tx Tx, entry *model.LinkEntry) error {
	prev, err := tx.LastEntry(ctx)
	if err != nil {
		return err
	}
	if prev != nil {
		entry.PrevHash = prev.Hash
	}
	entry.Hash = HashEntry(entry)
	return tx.InsertEntry(ctx, entry)
}

func stateForMethod(method string) model.RecordState {
	if strings.HasPrefix(method, ManualMethodPrefix) {
		return model.StateMatchedManual
	}
	return model.StateMatchedAuto
}

// activeOf returns the active link in a record's ordered entries, or nil.
func activeOf(entries []model.LinkEntry) *model.LinkEntry {
	if len(entries) == 0 {
		return nil
	}
	last := entries[len(entries)-1]
	if last.Kind != model.EntryLink {
		return nil
	}
	return &last
}

// ActiveLink returns the record's active link, or nil when it has none.
func (l *Ledger) ActiveLink(ctx context.Context, recordID string) (*model.LinkEntry, error) {
	entries, err := l.store.EntriesForRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return activeOf(entries), nil
}

// History returns every entry for a record, oldest first.
func (l *Ledger) History(ctx context.Context, recordID string) ([]model.LinkEntry, error) {
	return l.store.EntriesForRecord(ctx, recordID)
}

// ActiveLinks returns the active link entry of every linked record.
func (l *Ledger) ActiveLinks(ctx context.Context) ([]model.LinkEntry, error) {
	entries, err := l.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	return replayActive(entries), nil
}

// RebuildAssignments replays the full log into the current assignment of
// each linked record.
func (l *Ledger) RebuildAssignments(ctx context.Context) (map[string]model.Assignment, error) {
	entries, err := l.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	assignments := make(map[string]model.Assignment)
	for _, e := range replayActive(entries) {
		assignments[e.RecordID] = model.Assignment{
			RecordID:       e.RecordID,
			TransactionKey: e.TransactionKey,
			State:          stateForMethod(e.Method),
		}
	}
	return assignments, nil
}

// replayActive folds entries in seq order and returns the surviving links
// in seq order.
func replayActive(entries []model.LinkEntry) []model.LinkEntry {
	active := make(map[string]model.LinkEntry)
	for _, e := range entries {
		switch e.Kind {
		case model.EntryLink:
			active[e.RecordID] = e
		case model.EntryUnlink:
			delete(active, e.RecordID)
		}
	}
	out := make([]model.LinkEntry, 0, len(active))
	for _, e := range entries {
		if a, ok := active[e.RecordID]; ok && a.ID == e.ID {
			out = append(out, e)
		}
	}
	return out
}

// Drift is a record whose materialized assignment disagrees with the log.
type Drift struct {
	RecordID     string            `json:"record_id"`
	Ledger       *model.Assignment `json:"ledger,omitempty"`
	Materialized *model.Assignment `json:"materialized,omitempty"`
}

// DetectDrift compares replayed assignments with materialized ones.
func (l *Ledger) DetectDrift(ctx context.Context) ([]Drift, error) {
	replayed, err := l.RebuildAssignments(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := l.store.ListMaterialized(ctx)
	if err != nil {
		return nil, err
	}

	var drift []Drift
	seen := make(map[string]bool)
	for i := range stored {
		m := stored[i]
		seen[m.RecordID] = true
		want, ok := replayed[m.RecordID]
		if !ok {
			drift = append(drift, Drift{RecordID: m.RecordID, Materialized: &m})
			continue
		}
		if want.TransactionKey != m.TransactionKey || want.State != m.State {
			w := want
			drift = append(drift, Drift{RecordID: m.RecordID, Ledger: &w, Materialized: &m})
		}
	}
	for id, want := range replayed {
		if !seen[id] {
			w := want
			drift = append(drift, Drift{RecordID: id, Ledger: &w})
		}
	}
	return drift, nil
}

// Repair rewrites materialized state from the log and returns what changed.
func (l *Ledger) Repair(ctx context.Context) ([]Drift, error) {
	drift, err := l.DetectDrift(ctx)
	if err != nil || len(drift) == 0 {
		return drift, err
	}

	err = l.store.InTx(ctx, func(tx Tx) error {
		keys := make(map[string]bool)
		for _, d := range drift {
			if d.Ledger != nil {
				if err := tx.SetAssignment(ctx, d.RecordID, d.Ledger.TransactionKey, d.Ledger.State); err != nil {
					return err
				}
				keys[d.Ledger.TransactionKey] = true
			} else {
				if err := tx.SetAssignment(ctx, d.RecordID, "", model.StateUnmatched); err != nil {
					return err
				}
			}
			if d.Materialized != nil && d.Materialized.TransactionKey != "" {
				keys[d.Materialized.TransactionKey] = true
			}
		}
		for key := range keys {
			if err := tx.RefreshBalance(ctx, key); err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}

	l.logger.Warn("materialized assignments repaired from ledger", "records", len(drift))
	return drift, nil
}
