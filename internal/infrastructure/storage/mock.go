package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
// InTx applies writes directly; a failing callback is not rolled back.
type MockRepository struct {
	mu           sync.Mutex
	transactions map[string]*model.BusinessTransaction
	parties      map[string]*model.Party
	records      map[string]*model.InboundRecord
	recordOrder  []string
	quarantined  []model.QuarantinedRecord
	entries      []model.LinkEntry
	allocations  map[string][]model.Allocation
	candidates   map[string]*model.DuplicateCandidate
	reviewItems  map[string]*model.ReviewItem
	batchRuns    map[int64]*BatchRun
	nextRunID    int64
	nextQuarID   int64

	// Hooks for test assertions
	SaveRecordCalled      bool
	LastSavedRecord       *model.InboundRecord
	InTxCalled            bool
	StartBatchRunCalled   bool
	UpsertReviewCalled    bool
	ReplaceAllocsCalled   bool
	RejectDuplicateCalled bool

	// Error injection for testing error paths
	SaveRecordErr       error
	GetRecordErr        error
	ListRecordsErr      error
	InTxErr             error
	ListEntriesErr      error
	UpsertReviewErr     error
	ReplaceAllocsErr    error
	StartBatchRunErr    error
	CompleteBatchRunErr error
	ListTransactionsErr error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		transactions: make(map[string]*model.BusinessTransaction),
		parties:      make(map[string]*model.Party),
		records:      make(map[string]*model.InboundRecord),
		allocations:  make(map[string][]model.Allocation),
		candidates:   make(map[string]*model.DuplicateCandidate),
		reviewItems:  make(map[string]*model.ReviewItem),
		batchRuns:    make(map[int64]*BatchRun),
		nextRunID:    1,
		nextQuarID:   1,
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// UpsertTransaction stores a copy of the charter
func (m *MockRepository) UpsertTransaction(ctx context.Context, tx *model.BusinessTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *tx
	if copied.Status == "" {
		copied.Status = model.StatusOpen
	}
	m.transactions[tx.Key] = &copied
	return nil
}

// GetTransaction retrieves a charter from the in-memory map
func (m *MockRepository) GetTransaction(ctx context.Context, key string) (*model.BusinessTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getTransaction(key)
}

func (m *MockRepository) getTransaction(key string) (*model.BusinessTransaction, error) {
	tx, ok := m.transactions[key]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", key, model.ErrNotFound)
	}
	copied := *tx
	return &copied, nil
}

// ListTransactions returns charters ordered by key
func (m *MockRepository) ListTransactions(ctx context.Context, openOnly bool) ([]model.BusinessTransaction, error) {
	if m.ListTransactionsErr != nil {
		return nil, m.ListTransactionsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BusinessTransaction
	for _, tx := range m.transactions {
		if openOnly && !tx.Status.IsOpen() {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// UpsertParty stores a copy of the party
func (m *MockRepository) UpsertParty(ctx context.Context, party *model.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *party
	m.parties[party.ID] = &copied
	return nil
}

// ListParties returns parties ordered by id
func (m *MockRepository) ListParties(ctx context.Context) ([]model.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Party
	for _, p := range m.parties {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveRecord saves a record unless its (source, external id) is known
func (m *MockRepository) SaveRecord(ctx context.Context, rec *model.InboundRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveRecordCalled = true
	m.LastSavedRecord = rec
	if m.SaveRecordErr != nil {
		return false, m.SaveRecordErr
	}
	if _, ok := m.records[rec.ID]; ok {
		return false, nil
	}
	if rec.ExternalID != "" {
		for _, existing := range m.records {
			if existing.Source == rec.Source && existing.ExternalID == rec.ExternalID {
				return false, nil
			}
		}
	}
	// Deep copy to avoid test mutations
	copied := *rec
	if copied.State == "" {
		copied.State = model.StateUnmatched
	}
	m.records[rec.ID] = &copied
	m.recordOrder = append(m.recordOrder, rec.ID)
	return true, nil
}

// GetRecord retrieves a record from the in-memory map
func (m *MockRepository) GetRecord(ctx context.Context, id string) (*model.InboundRecord, error) {
	if m.GetRecordErr != nil {
		return nil, m.GetRecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRecord(id)
}

func (m *MockRepository) getRecord(id string) (*model.InboundRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	copied := *rec
	return &copied, nil
}

// ListRecords returns records matching the filter in insertion order
func (m *MockRepository) ListRecords(ctx context.Context, filter RecordFilter) ([]model.InboundRecord, error) {
	if m.ListRecordsErr != nil {
		return nil, m.ListRecordsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.InboundRecord
	for _, id := range m.recordOrder {
		rec := m.records[id]
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		out = append(out, *rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// FindRecords returns records from sources with the amount in [from, to]
func (m *MockRepository) FindRecords(ctx context.Context, sources []model.FeedType, amount decimal.Decimal, from, to time.Time) ([]model.InboundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.InboundRecord
	for _, id := range m.recordOrder {
		rec := m.records[id]
		if !containsFeed(sources, rec.Source) || !rec.Amount.Equal(amount) {
			continue
		}
		if rec.OccurredOn.Before(from) || rec.OccurredOn.After(to) {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func containsFeed(feeds []model.FeedType, f model.FeedType) bool {
	for _, candidate := range feeds {
		if candidate == f {
			return true
		}
	}
	return false
}

// QuarantineRecord appends to the quarantine list
func (m *MockRepository) QuarantineRecord(ctx context.Context, q *model.QuarantinedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = m.nextQuarID
	m.nextQuarID++
	if q.QuarantinedAt.IsZero() {
		q.QuarantinedAt = time.Now().UTC()
	}
	m.quarantined = append(m.quarantined, *q)
	return nil
}

// ListQuarantined returns quarantined records, newest first
func (m *MockRepository) ListQuarantined(ctx context.Context, limit int) ([]model.QuarantinedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.QuarantinedRecord
	for i := len(m.quarantined) - 1; i >= 0; i-- {
		out = append(out, m.quarantined[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// InTx runs fn against the in-memory store while holding the mock's lock
func (m *MockRepository) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InTxCalled = true
	if m.InTxErr != nil {
		return m.InTxErr
	}
	return fn(&mockTx{m: m})
}

// ListEntries returns the full log in seq order
func (m *MockRepository) ListEntries(ctx context.Context) ([]model.LinkEntry, error) {
	if m.ListEntriesErr != nil {
		return nil, m.ListEntriesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LinkEntry(nil), m.entries...), nil
}

// EntriesForRecord returns a record's entries in seq order
func (m *MockRepository) EntriesForRecord(ctx context.Context, recordID string) ([]model.LinkEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LinkEntry
	for _, e := range m.entries {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListMaterialized returns the assignment stored on every linked record
func (m *MockRepository) ListMaterialized(ctx context.Context) ([]model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Assignment
	for _, rec := range m.records {
		if rec.AssignedKey == "" && rec.State != model.StateMatchedAuto && rec.State != model.StateMatchedManual {
			continue
		}
		out = append(out, model.Assignment{RecordID: rec.ID, TransactionKey: rec.AssignedKey, State: rec.State})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

// mockTx implements ledger.Tx; the caller holds m.mu
type mockTx struct {
	m *MockRepository
}

func (t *mockTx) GetRecord(ctx context.Context, id string) (*model.InboundRecord, error) {
	return t.m.getRecord(id)
}

func (t *mockTx) GetTransaction(ctx context.Context, key string) (*model.BusinessTransaction, error) {
	return t.m.getTransaction(key)
}

func (t *mockTx) LastEntryForRecord(ctx context.Context, recordID string) (*model.LinkEntry, error) {
	for i := len(t.m.entries) - 1; i >= 0; i-- {
		if t.m.entries[i].RecordID == recordID {
			e := t.m.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (t *mockTx) LastEntry(ctx context.Context) (*model.LinkEntry, error) {
	if len(t.m.entries) == 0 {
		return nil, nil
	}
	e := t.m.entries[len(t.m.entries)-1]
	return &e, nil
}

func (t *mockTx) InsertEntry(ctx context.Context, entry *model.LinkEntry) error {
	entry.Seq = int64(len(t.m.entries) + 1)
	t.m.entries = append(t.m.entries, *entry)
	return nil
}

func (t *mockTx) SetAssignment(ctx context.Context, recordID, key string, state model.RecordState) error {
	rec, ok := t.m.records[recordID]
	if !ok {
		return fmt.Errorf("record %s: %w", recordID, model.ErrNotFound)
	}
	rec.AssignedKey = key
	rec.State = state
	return nil
}

func (t *mockTx) RefreshBalance(ctx context.Context, key string) error {
	tx, ok := t.m.transactions[key]
	if !ok {
		return fmt.Errorf("transaction %s: %w", key, model.ErrNotFound)
	}
	paid := decimal.Zero
	for _, rec := range t.m.records {
		if rec.AssignedKey == key && (rec.State == model.StateMatchedAuto || rec.State == model.StateMatchedManual) {
			paid = paid.Add(rec.Amount)
		}
	}
	tx.Balance = tx.DueAmount.Sub(paid)
	tx.Status = model.StatusForBalance(tx.Status, tx.DueAmount, tx.Balance)
	return nil
}

// ListAllocations returns a parent's allocations in position order
func (m *MockRepository) ListAllocations(ctx context.Context, parentID string) ([]model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Allocation(nil), m.allocations[parentID]...), nil
}

// ReplaceAllocations swaps the parent's allocation set
func (m *MockRepository) ReplaceAllocations(ctx context.Context, parentID string, allocations []model.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplaceAllocsCalled = true
	if m.ReplaceAllocsErr != nil {
		return m.ReplaceAllocsErr
	}
	if len(allocations) == 0 {
		delete(m.allocations, parentID)
		return nil
	}
	m.allocations[parentID] = append([]model.Allocation(nil), allocations...)
	return nil
}

// SaveCandidates inserts new candidates; open recorded pairs only gain
// caution flags
func (m *MockRepository) SaveCandidates(ctx context.Context, candidates []model.DuplicateCandidate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, c := range candidates {
		if existing := m.findPair(c.RecordA, c.RecordB); existing != nil {
			if existing.Status == model.CandidateOpen {
				existing.PossibleRepeat = existing.PossibleRepeat || c.PossibleRepeat
				existing.RecommendDelete = existing.RecommendDelete && c.RecommendDelete
			}
			continue
		}
		copied := c
		if copied.Status == "" {
			copied.Status = model.CandidateOpen
		}
		m.candidates[c.ID] = &copied
		inserted++
	}
	return inserted, nil
}

func (m *MockRepository) findPair(a, b string) *model.DuplicateCandidate {
	for _, c := range m.candidates {
		if c.RecordA == a && c.RecordB == b {
			return c
		}
	}
	return nil
}

// GetCandidate retrieves a duplicate candidate by id
func (m *MockRepository) GetCandidate(ctx context.Context, id string) (*model.DuplicateCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return nil, fmt.Errorf("duplicate candidate %s: %w", id, model.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

// ListCandidates returns candidates with the given status ordered by id
func (m *MockRepository) ListCandidates(ctx context.Context, status model.CandidateStatus) ([]model.DuplicateCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DuplicateCandidate
	for _, c := range m.candidates {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RejectDuplicate confirms a candidate and marks its later record rejected
func (m *MockRepository) RejectDuplicate(ctx context.Context, candidateID, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RejectDuplicateCalled = true
	c, ok := m.candidates[candidateID]
	if !ok {
		return fmt.Errorf("duplicate candidate %s: %w", candidateID, model.ErrNotFound)
	}
	if c.Status != model.CandidateOpen {
		return fmt.Errorf("candidate %s is %s: %w", candidateID, c.Status, model.ErrInvalidState)
	}
	last, _ := (&mockTx{m: m}).LastEntryForRecord(ctx, c.RecordB)
	if last != nil && last.Kind == model.EntryLink {
		return fmt.Errorf("record %s has an active link: %w", c.RecordB, model.ErrInvalidState)
	}
	if rec, ok := m.records[c.RecordB]; ok {
		rec.State = model.StateRejectedDuplicate
		rec.AssignedKey = ""
	}
	now := time.Now().UTC()
	for _, item := range m.reviewItems {
		if item.RecordID == c.RecordB && item.Status == model.CandidateOpen {
			item.Status = model.CandidateRejected
			item.ResolvedBy = actor
			item.ResolvedAt = &now
		}
	}
	c.Status = model.CandidateConfirmed
	c.ResolvedBy = actor
	return nil
}

// ResolveCandidate closes a candidate without touching records
func (m *MockRepository) ResolveCandidate(ctx context.Context, id string, status model.CandidateStatus, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return fmt.Errorf("duplicate candidate %s: %w", id, model.ErrNotFound)
	}
	if c.Status != model.CandidateOpen {
		return fmt.Errorf("candidate %s is not open: %w", id, model.ErrInvalidState)
	}
	c.Status = status
	c.ResolvedBy = actor
	return nil
}

// UpsertReviewItem replaces any open item for the same record
func (m *MockRepository) UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertReviewCalled = true
	if m.UpsertReviewErr != nil {
		return m.UpsertReviewErr
	}
	for _, existing := range m.reviewItems {
		if existing.RecordID == item.RecordID && existing.Status == model.CandidateOpen {
			existing.SuggestedKey = item.SuggestedKey
			existing.Confidence = item.Confidence
			existing.Strategy = item.Strategy
			existing.Reason = item.Reason
			item.ID = existing.ID
			item.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	copied := *item
	if copied.Status == "" {
		copied.Status = model.CandidateOpen
	}
	m.reviewItems[item.ID] = &copied
	return nil
}

// GetReviewItem retrieves a review item by id
func (m *MockRepository) GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.reviewItems[id]
	if !ok {
		return nil, fmt.Errorf("review item %s: %w", id, model.ErrNotFound)
	}
	copied := *item
	return &copied, nil
}

// ListReviewItems returns items with the given status, oldest first
func (m *MockRepository) ListReviewItems(ctx context.Context, status model.CandidateStatus) ([]model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReviewItem
	for _, item := range m.reviewItems {
		if item.Status == status {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ReviewItemsForRecord returns every item for a record, oldest first
func (m *MockRepository) ReviewItemsForRecord(ctx context.Context, recordID string) ([]model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReviewItem
	for _, item := range m.reviewItems {
		if item.RecordID == recordID {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ResolveReviewItem closes an open review item
func (m *MockRepository) ResolveReviewItem(ctx context.Context, id string, status model.CandidateStatus, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.reviewItems[id]
	if !ok {
		return fmt.Errorf("review item %s: %w", id, model.ErrNotFound)
	}
	if item.Status != model.CandidateOpen {
		return fmt.Errorf("review item %s is not open: %w", id, model.ErrInvalidState)
	}
	item.Status = status
	item.ResolvedBy = actor
	item.ResolvedAt = &at
	return nil
}

// StartBatchRun creates a new batch run and returns its ID
func (m *MockRepository) StartBatchRun(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartBatchRunCalled = true
	if m.StartBatchRunErr != nil {
		return 0, m.StartBatchRunErr
	}

	id := m.nextRunID
	m.nextRunID++

	m.batchRuns[id] = &BatchRun{
		ID:        id,
		StartedAt: formatTime(time.Now()),
		Status:    BatchRunning,
	}

	return id, nil
}

// CompleteBatchRun records the outcome counts of a batch
func (m *MockRepository) CompleteBatchRun(ctx context.Context, runID int64, counts BatchCounts, status string) error {
	if m.CompleteBatchRunErr != nil {
		return m.CompleteBatchRunErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.batchRuns[runID]
	if !ok {
		return nil
	}
	run.BatchCounts = counts
	run.Status = status
	run.CompletedAt = formatTime(time.Now())
	return nil
}

// ListBatchRuns returns recent runs, newest first
func (m *MockRepository) ListBatchRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []BatchRun
	for id := m.nextRunID - 1; id >= 1; id-- {
		if run, ok := m.batchRuns[id]; ok {
			runs = append(runs, *run)
		}
		if limit > 0 && len(runs) >= limit {
			break
		}
	}
	return runs, nil
}

// GetBatchRun retrieves a single run
func (m *MockRepository) GetBatchRun(ctx context.Context, runID int64) (*BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.batchRuns[runID]
	if !ok {
		return nil, fmt.Errorf("batch run: %w", model.ErrNotFound)
	}
	copied := *run
	return &copied, nil
}

// EntryCount returns the number of ledger entries
func (m *MockRepository) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
