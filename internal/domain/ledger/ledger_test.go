package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// memStore is an in-memory Store. InTx stages writes and commits them only
// when fn succeeds.
type memStore struct {
	mu        sync.Mutex
	entries   []model.LinkEntry
	records   map[string]model.InboundRecord
	charters  map[string]model.BusinessTransaction
	refreshed []string
}

func newMemStore() *memStore {
	return &memStore{
		records:  make(map[string]model.InboundRecord),
		charters: make(map[string]model.BusinessTransaction),
	}
}

type memTx struct {
	s       *memStore
	entries []model.LinkEntry
	records map[string]model.InboundRecord
	refresh []string
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:       s,
		entries: append([]model.LinkEntry(nil), s.entries...),
		records: make(map[string]model.InboundRecord, len(s.records)),
	}
	for k, v := range s.records {
		tx.records[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.entries = tx.entries
	s.records = tx.records
	s.refreshed = append(s.refreshed, tx.refresh...)
	return nil
}

func (s *memStore) ListEntries(ctx context.Context) ([]model.LinkEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LinkEntry(nil), s.entries...), nil
}

func (s *memStore) EntriesForRecord(ctx context.Context, recordID string) ([]model.LinkEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LinkEntry
	for _, e := range s.entries {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) ListMaterialized(ctx context.Context) ([]model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Assignment
	for _, r := range s.records {
		if r.AssignedKey != "" {
			out = append(out, model.Assignment{RecordID: r.ID, TransactionKey: r.AssignedKey, State: r.State})
		}
	}
	return out, nil
}

func (t *memTx) GetRecord(ctx context.Context, id string) (*model.InboundRecord, error) {
	r, ok := t.records[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (t *memTx) GetTransaction(ctx context.Context, key string) (*model.BusinessTransaction, error) {
	c, ok := t.s.charters[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) LastEntryForRecord(ctx context.Context, recordID string) (*model.LinkEntry, error) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].RecordID == recordID {
			e := t.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (t *memTx) LastEntry(ctx context.Context) (*model.LinkEntry, error) {
	if len(t.entries) == 0 {
		return nil, nil
	}
	e := t.entries[len(t.entries)-1]
	return &e, nil
}

func (t *memTx) InsertEntry(ctx context.Context, entry *model.LinkEntry) error {
	entry.Seq = int64(len(t.entries) + 1)
	t.entries = append(t.entries, *entry)
	return nil
}

func (t *memTx) SetAssignment(ctx context.Context, recordID, key string, state model.RecordState) error {
	r, ok := t.records[recordID]
	if !ok {
		return model.ErrNotFound
	}
	r.AssignedKey = key
	r.State = state
	t.records[recordID] = r
	return nil
}

func (t *memTx) RefreshBalance(ctx context.Context, key string) error {
	t.refresh = append(t.refresh, key)
	return nil
}

type mutexLocker struct{ mu sync.Mutex }

func (l *mutexLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

func setup(t *testing.T) (*Ledger, *memStore) {
	t.Helper()
	store := newMemStore()
	for _, id := range []string{"r1", "r2", "r3"} {
		store.records[id] = model.InboundRecord{ID: id, Amount: decimal.NewFromInt(100), State: model.StateUnmatched}
	}
	for _, key := range []string{"RES1", "RES2"} {
		store.charters[key] = model.BusinessTransaction{Key: key, Status: model.StatusOpen}
	}
	return New(store, &mutexLocker{}, nil), store
}

func TestAppendLink(t *testing.T) {
	// Arrange
	l, store := setup(t)
	ctx := context.Background()

	// Act
	entry, err := l.AppendLink(ctx, "r1", "RES1", 5, "exact", "batch")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, model.EntryLink, entry.Kind)
	assert.Equal(t, int64(1), entry.Seq)
	assert.Empty(t, entry.PrevHash)
	assert.NotEmpty(t, entry.Hash)

	assert.Equal(t, "RES1", store.records["r1"].AssignedKey)
	assert.Equal(t, model.StateMatchedAuto, store.records["r1"].State)
	assert.Equal(t, []string{"RES1"}, store.refreshed)
}

func TestAppendLink_AlreadyLinked(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()
	_, err := l.AppendLink(ctx, "r1", "RES1", 5, "exact", "batch")
	require.NoError(t, err)

	_, err = l.AppendLink(ctx, "r1", "RES2", 4, "approximate_date", "batch")

	assert.True(t, errors.Is(err, model.ErrAlreadyLinked))
	assert.Len(t, store.entries, 1, "nothing written")
	assert.Equal(t, "RES1", store.records["r1"].AssignedKey)
}

func TestAppendLink_Rejections(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	t.Run("unknown record", func(t *testing.T) {
		_, err := l.AppendLink(ctx, "nope", "RES1", 5, "exact", "batch")
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("unknown charter", func(t *testing.T) {
		_, err := l.AppendLink(ctx, "r1", "RES404", 5, "exact", "batch")
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("rejected duplicate", func(t *testing.T) {
		r := store.records["r3"]
		r.State = model.StateRejectedDuplicate
		store.records["r3"] = r

		_, err := l.AppendLink(ctx, "r3", "RES1", 5, "exact", "batch")
		assert.True(t, errors.Is(err, model.ErrInvalidState))
	})

	assert.Empty(t, store.entries)
}

func TestAppendUnlink(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	t.Run("no active link", func(t *testing.T) {
		_, err := l.AppendUnlink(ctx, "r1", "ops", "mistake")
		assert.True(t, errors.Is(err, model.ErrNoActiveLink))
	})

	t.Run("supersedes link", func(t *testing.T) {
		_, err := l.AppendLink(ctx, "r1", "RES1", 5, "exact", "batch")
		require.NoError(t, err)

		entry, err := l.AppendUnlink(ctx, "r1", "ops", "wrong charter")
		require.NoError(t, err)
		assert.Equal(t, model.EntryUnlink, entry.Kind)
		assert.Equal(t, "RES1", entry.TransactionKey)
		assert.Equal(t, "", store.records["r1"].AssignedKey)
		assert.Equal(t, model.StateUnmatched, store.records["r1"].State)

		_, err = l.AppendUnlink(ctx, "r1", "ops", "again")
		assert.True(t, errors.Is(err, model.ErrNoActiveLink))
	})

	t.Run("relink after unlink", func(t *testing.T) {
		_, err := l.AppendLink(ctx, "r1", "RES2", 5, ManualMethodPrefix+"identity", "alice")
		require.NoError(t, err)
		assert.Equal(t, model.StateMatchedManual, store.records["r1"].State)

		history, err := l.History(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []model.EntryKind{model.EntryLink, model.EntryUnlink, model.EntryLink},
			[]model.EntryKind{history[0].Kind, history[1].Kind, history[2].Kind})
	})
}

func TestAppendLink_ConcurrentSameRecord(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "RES1"
			if i%2 == 1 {
				key = "RES2"
			}
			_, errs[i] = l.AppendLink(ctx, "r1", key, 5, "exact", "batch")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, model.ErrAlreadyLinked))
		}
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, store.entries, 1)
}

func TestRebuildAssignments_MatchesMaterialized(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	_, err := l.AppendLink(ctx, "r1", "RES1", 5, "exact", "batch")
	require.NoError(t, err)
	_, err = l.AppendLink(ctx, "r2", "RES1", 4, "approximate_date", "batch")
	require.NoError(t, err)
	_, err = l.AppendUnlink(ctx, "r2", "ops", "wrong")
	require.NoError(t, err)
	_, err = l.AppendLink(ctx, "r2", "RES2", 5, ManualMethodPrefix+"fuzzy", "alice")
	require.NoError(t, err)

	assignments, err := l.RebuildAssignments(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]model.Assignment{
		"r1": {RecordID: "r1", TransactionKey: "RES1", State: model.StateMatchedAuto},
		"r2": {RecordID: "r2", TransactionKey: "RES2", State: model.StateMatchedManual},
	}, assignments)

	drift, err := l.DetectDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	active, err := l.ActiveLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestDetectDriftAndRepair(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()
	_, err := l.AppendLink(ctx, "r1", "RES1", 5, "exact", "batch")
	require.NoError(t, err)

	// Simulate out-of-band edits to the materialized view
	r1 := store.records["r1"]
	r1.AssignedKey = "RES2"
	store.records["r1"] = r1
	r2 := store.records["r2"]
	r2.AssignedKey = "RES2"
	r2.State = model.StateMatchedAuto
	store.records["r2"] = r2

	drift, err := l.DetectDrift(ctx)
	require.NoError(t, err)
	assert.Len(t, drift, 2)

	repaired, err := l.Repair(ctx)
	require.NoError(t, err)
	assert.Len(t, repaired, 2)

	assert.Equal(t, "RES1", store.records["r1"].AssignedKey)
	assert.Equal(t, "", store.records["r2"].AssignedKey)
	assert.Equal(t, model.StateUnmatched, store.records["r2"].State)

	drift, err = l.DetectDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestVerifyChain(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()
	_, err := l.AppendLink(ctx, "r1", "RES1", 5, "exact", "batch")
	require.NoError(t, err)
	_, err = l.AppendLink(ctx, "r2", "RES2", 4, "approximate_date", "batch")
	require.NoError(t, err)
	_, err = l.AppendUnlink(ctx, "r1", "ops", "wrong")
	require.NoError(t, err)

	n, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, store.entries[0].Hash, store.entries[1].PrevHash)

	// Tamper with the middle entry
	store.entries[1].Confidence = 5

	_, err = l.VerifyChain(ctx)
	var chainErr *ChainError
	require.True(t, errors.As(err, &chainErr))
	assert.Equal(t, int64(2), chainErr.Seq)
}

func TestAppendAutoLink_RechecksCharter(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()
	seen := model.BusinessTransaction{Key: "RES1", DueAmount: decimal.NewFromInt(100), Balance: decimal.NewFromInt(100), Status: model.StatusOpen}
	store.charters["RES1"] = seen

	t.Run("unchanged charter links", func(t *testing.T) {
		entry, err := l.AppendAutoLink(ctx, "r1", seen, 5, "exact", "batch")
		require.NoError(t, err)
		assert.Equal(t, "RES1", entry.TransactionKey)
	})

	t.Run("settled charter rejected", func(t *testing.T) {
		settled := seen
		settled.Balance = decimal.Zero
		settled.Status = model.StatusSettled
		store.charters["RES1"] = settled

		_, err := l.AppendAutoLink(ctx, "r2", seen, 4, "approximate_date", "batch")
		assert.ErrorIs(t, err, model.ErrStaleMatch)
		assert.Len(t, store.entries, 1, "nothing written")
	})

	t.Run("moved balance rejected", func(t *testing.T) {
		partial := seen
		partial.Balance = decimal.NewFromInt(40)
		partial.Status = model.StatusPartiallySettled
		store.charters["RES1"] = partial

		_, err := l.AppendAutoLink(ctx, "r2", seen, 4, "approximate_date", "batch")
		assert.ErrorIs(t, err, model.ErrStaleMatch)

		_, err = l.AppendAutoLink(ctx, "r2", partial, 4, "approximate_date", "batch")
		assert.NoError(t, err)
	})

	t.Run("manual links are not guarded", func(t *testing.T) {
		store.charters["RES1"] = model.BusinessTransaction{Key: "RES1", Status: model.StatusSettled}
		_, err := l.AppendLink(ctx, "r3", "RES1", 5, ManualMethodPrefix+"override", "alice")
		assert.NoError(t, err)
	})
}

func TestActiveLink(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()

	active, err := l.ActiveLink(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = l.AppendLink(ctx, "r1", "RES1", 5, "exact", "batch")
	require.NoError(t, err)
	active, err = l.ActiveLink(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "RES1", active.TransactionKey)

	_, err = l.AppendUnlink(ctx, "r1", "ops", "wrong charter")
	require.NoError(t, err)
	active, err = l.ActiveLink(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, active)
}
