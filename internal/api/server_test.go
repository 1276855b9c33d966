package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/charter-reconcile/internal/api"
	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/application/service"
	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/normalizer"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/locker"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router  *gin.Engine
	svc     *reconcile.Service
	store   *storage.Storage
	batches *service.BatchService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := reconcile.NewService(store, locker.NewMemoryLocker(), reconcile.DefaultConfig(), logger)
	require.NoError(t, err)

	batches := service.NewBatchService(svc, logger)
	server := api.NewServer(api.DefaultConfig(), svc, batches, logger)
	return &testEnv{router: server.Router(), svc: svc, store: store, batches: batches}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (e *testEnv) seedCharter(t *testing.T, key, due, day string) {
	t.Helper()
	serviceDate, err := time.Parse(model.DateLayout, day)
	require.NoError(t, err)
	amount := decimal.RequireFromString(due)
	require.NoError(t, e.svc.ImportTransactions(context.Background(), []model.BusinessTransaction{{
		Key:         key,
		ServiceDate: serviceDate,
		DueAmount:   amount,
		Balance:     amount,
		Status:      model.StatusOpen,
	}}))
}

func settlement(externalID, ref, amount, day string) normalizer.RawRecord {
	return normalizer.RawRecord{
		Source:      model.FeedSettlement,
		ExternalID:  externalID,
		Reference:   ref,
		Amount:      amount,
		Date:        day,
		Description: "Card settlement " + externalID,
	}
}

func (e *testEnv) run(t *testing.T, raws ...normalizer.RawRecord) *reconcile.BatchSummary {
	t.Helper()
	summary, err := e.svc.Run(context.Background(), reconcile.RunOptions{Records: raws})
	require.NoError(t, err)
	return summary
}

func (e *testEnv) recordByExternalID(t *testing.T, externalID string) model.InboundRecord {
	t.Helper()
	records, err := e.svc.ListRecords(context.Background(), storage.RecordFilter{})
	require.NoError(t, err)
	for _, r := range records {
		if r.ExternalID == externalID {
			return r
		}
	}
	t.Fatalf("record %s not found", externalID)
	return model.InboundRecord{}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	health := decode[dto.HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Timestamp)
}

func TestReviewEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedCharter(t, "RES200", "300.00", "2025-06-01")
	env.run(t, settlement("S-1", "", "77.00", "2025-10-03"), settlement("S-2", "", "12.34", "2025-10-04"))

	t.Run("lists open items", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/review", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[dto.ReviewListResponse](t, rec)
		assert.Equal(t, 2, list.Count)
	})

	t.Run("rejects unknown status filter", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/review?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	items, err := env.svc.ListReview(context.Background(), model.CandidateOpen)
	require.NoError(t, err)
	require.Len(t, items, 2)
	first, second := items[0], items[1]

	t.Run("confirm without suggestion or key conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/review/"+first.ID+"/confirm", dto.ConfirmReviewRequest{Actor: "alice"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		apiErr := decode[dto.APIError](t, rec)
		assert.Equal(t, dto.ErrCodeConflict, apiErr.Code)
	})

	t.Run("confirm with key links the record", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/review/"+first.ID+"/confirm",
			dto.ConfirmReviewRequest{Actor: "alice", TransactionKey: "RES200"})
		require.Equal(t, http.StatusOK, rec.Code)
		entry := decode[model.LinkEntry](t, rec)
		assert.Equal(t, "RES200", entry.TransactionKey)
		assert.Equal(t, ledger.ManualMethodPrefix+"override", entry.Method)
		assert.Equal(t, "alice", entry.Actor)
	})

	t.Run("reject requires an actor", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/review/"+second.ID+"/reject", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reject closes the item", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/review/"+second.ID+"/reject", dto.ActorRequest{Actor: "bob"})
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/review", nil)
		assert.Equal(t, 0, decode[dto.ReviewListResponse](t, rec).Count)

		rec = env.do(t, http.MethodGet, "/api/review?status=rejected", nil)
		assert.Equal(t, 1, decode[dto.ReviewListResponse](t, rec).Count)
	})

	t.Run("unknown item is not found", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/review/missing/reject", dto.ActorRequest{Actor: "bob"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDuplicateEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedCharter(t, "RES200", "250.00", "2025-10-03")

	first := settlement("S-1", "RES200", "250.00", "2025-10-03")
	second := settlement("S-2", "RES200", "250.00", "2025-10-03")
	second.Description = first.Description
	summary := env.run(t, first, second)
	require.Equal(t, 1, summary.DuplicateFlagged)

	rec := env.do(t, http.MethodGet, "/api/duplicates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[dto.DuplicateListResponse](t, rec)
	require.Equal(t, 1, list.Count)
	candidate := list.Candidates[0]
	assert.Equal(t, model.DuplicateExact, candidate.Classification)

	rec = env.do(t, http.MethodPost, "/api/duplicates/"+candidate.ID+"/confirm", dto.ConfirmDuplicateRequest{Actor: "alice"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rejected, err := env.svc.GetRecord(context.Background(), candidate.RecordB)
	require.NoError(t, err)
	assert.Equal(t, model.StateRejectedDuplicate, rejected.State)

	// Already resolved
	rec = env.do(t, http.MethodPost, "/api/duplicates/"+candidate.ID+"/dismiss", dto.ActorRequest{Actor: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/duplicates/missing/confirm", dto.ConfirmDuplicateRequest{Actor: "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuplicateDismiss(t *testing.T) {
	env := newTestEnv(t)
	first := settlement("S-1", "", "40.00", "2025-10-03")
	second := settlement("S-2", "", "40.00", "2025-10-03")
	second.Description = first.Description
	env.run(t, first, second)

	candidates, err := env.svc.ListDuplicates(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	rec := env.do(t, http.MethodPost, "/api/duplicates/"+candidates[0].ID+"/dismiss", dto.ActorRequest{Actor: "alice"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/duplicates?status=dismissed", nil)
	assert.Equal(t, 1, decode[dto.DuplicateListResponse](t, rec).Count)
}

func TestRecordLinkEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedCharter(t, "RES100", "500.00", "2025-10-03")
	env.run(t, settlement("S-1", "RES100", "500.00", "2025-10-03"))
	record := env.recordByExternalID(t, "S-1")
	base := "/api/records/" + record.ID

	rec := env.do(t, http.MethodGet, base+"/links", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[dto.LinkHistoryResponse](t, rec)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, model.EntryLink, history.Entries[0].Kind)

	rec = env.do(t, http.MethodPost, base+"/unlink", dto.UnlinkRequest{Actor: "alice", Reason: "wrong charter"})
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[model.LinkEntry](t, rec)
	assert.Equal(t, model.EntryUnlink, entry.Kind)
	assert.Equal(t, "wrong charter", entry.Reason)

	// Nothing left to unlink
	rec = env.do(t, http.MethodPost, base+"/unlink", dto.UnlinkRequest{Actor: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/link", dto.LinkRequest{Actor: "alice", TransactionKey: "RES100"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "RES100", decode[model.LinkEntry](t, rec).TransactionKey)

	rec = env.do(t, http.MethodGet, base+"/links", nil)
	assert.Len(t, decode[dto.LinkHistoryResponse](t, rec).Entries, 3)

	rec = env.do(t, http.MethodGet, "/api/records/missing/links", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllocationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.svc.Ingest(context.Background(), []normalizer.RawRecord{settlement("S-1", "", "170.01", "2025-10-03")})
	require.NoError(t, err)
	base := "/api/records/" + result.RecordIDs[0] + "/allocations"

	t.Run("mismatch reports the difference", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base, map[string]any{
			"parts": []map[string]string{
				{"amount": "102.54", "ledger_code": "4000"},
				{"amount": "67.00", "ledger_code": "4100"},
			},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		apiErr := decode[dto.APIError](t, rec)
		assert.Equal(t, dto.ErrCodeMismatch, apiErr.Code)
		require.NotNil(t, apiErr.Diff)
		assert.True(t, apiErr.Diff.Equal(decimal.RequireFromString("0.47")))
	})

	t.Run("requires exactly one mode", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base, map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	var allocations []model.Allocation
	t.Run("split succeeds", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base, map[string]any{
			"parts": []map[string]string{
				{"amount": "102.54", "ledger_code": "4000"},
				{"amount": "67.47", "ledger_code": "4100"},
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		allocations = decode[dto.AllocationListResponse](t, rec).Allocations
		require.Len(t, allocations, 2)
		assert.True(t, allocations[0].Primary)
	})

	t.Run("second split conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base, map[string]any{
			"parts": []map[string]string{{"amount": "170.01", "ledger_code": "4000"}},
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("supplementary allocation", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base, map[string]any{
			"supplementary": map[string]string{"amount": "7.47", "ledger_code": "4200"},
			"take_from":     allocations[1].ID,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		allocations = decode[dto.AllocationListResponse](t, rec).Allocations
		require.Len(t, allocations, 3)
	})

	t.Run("list", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[dto.AllocationListResponse](t, rec).Allocations, 3)
	})

	t.Run("primary cannot be removed", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, base+"/"+allocations[0].ID, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("remove folds into another allocation", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, base+"/"+allocations[2].ID+"?fold_into="+allocations[1].ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		remaining := decode[dto.AllocationListResponse](t, rec).Allocations
		require.Len(t, remaining, 2)
		assert.True(t, remaining[1].Amount.Equal(decimal.RequireFromString("67.47")))
	})

	t.Run("unknown record", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/records/missing/allocations", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestProRataAllocation(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.svc.Ingest(context.Background(), []normalizer.RawRecord{settlement("S-1", "", "100.00", "2025-10-03")})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/records/"+result.RecordIDs[0]+"/allocations", map[string]any{
		"shares": []map[string]string{
			{"ledger_code": "4000", "weight": "1"},
			{"ledger_code": "4100", "weight": "2"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	allocations := decode[dto.AllocationListResponse](t, rec).Allocations
	require.Len(t, allocations, 2)

	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("100.00")))
}

func TestIntegrityEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCharter(t, "RES100", "500.00", "2025-10-03")
	env.run(t, settlement("S-1", "RES100", "500.00", "2025-10-03"))

	rec := env.do(t, http.MethodGet, "/api/balances/mismatches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[dto.MismatchListResponse](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/api/ledger/drift", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[dto.DriftResponse](t, rec).Count)

	// The accounting store reopens the charter after it was paid
	env.seedCharter(t, "RES100", "500.00", "2025-10-03")
	rec = env.do(t, http.MethodGet, "/api/balances/mismatches", nil)
	mismatches := decode[dto.MismatchListResponse](t, rec)
	require.Equal(t, 1, mismatches.Count)
	assert.Equal(t, "RES100", mismatches.Mismatches[0].TransactionKey)

	// Materialized assignment lost while the ledger keeps the link
	record := env.recordByExternalID(t, "S-1")
	require.NoError(t, env.store.InTx(ctx, func(tx ledger.Tx) error {
		return tx.SetAssignment(ctx, record.ID, "", model.StateUnmatched)
	}))
	rec = env.do(t, http.MethodGet, "/api/ledger/drift", nil)
	drift := decode[dto.DriftResponse](t, rec)
	require.Equal(t, 1, drift.Count)
	assert.Equal(t, record.ID, drift.Drift[0].RecordID)
}

func TestBatchEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedCharter(t, "RES100", "500.00", "2025-10-03")
	_, err := env.svc.Ingest(context.Background(), []normalizer.RawRecord{settlement("S-1", "RES100", "500.00", "2025-10-03")})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/batches", dto.StartBatchRequest{Actor: "scheduler", Workers: 2})
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode[dto.BatchJobResponse](t, rec).Job
	assert.Equal(t, "scheduler", job.Actor)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	finished, err := env.batches.Wait(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusCompleted, finished.Status)

	rec = env.do(t, http.MethodGet, "/api/batches/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[dto.BatchJobResponse](t, rec).Job
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, got.Summary.AutoMatched)

	rec = env.do(t, http.MethodGet, "/api/batches", nil)
	assert.Equal(t, 1, decode[dto.BatchJobListResponse](t, rec).Count)

	// Persisted history carries the same run
	rec = env.do(t, http.MethodGet, "/api/runs", nil)
	runs := decode[dto.BatchRunListResponse](t, rec)
	require.Equal(t, 1, runs.Count)
	assert.Equal(t, got.Summary.RunID, runs.Runs[0].ID)

	rec = env.do(t, http.MethodGet, "/api/runs/"+strconv.FormatInt(runs.Runs[0].ID, 10), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/runs/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/runs/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Finished jobs cannot be cancelled
	rec = env.do(t, http.MethodDelete, "/api/batches/"+job.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/batches/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/batches/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/batches", dto.StartBatchRequest{Workers: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEndpoints_NotRegisteredWithoutService(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	svc, err := reconcile.NewService(store, locker.NewMemoryLocker(), reconcile.DefaultConfig(), nil)
	require.NoError(t, err)

	router := api.NewServer(api.DefaultConfig(), svc, nil, nil).Router()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	server := api.NewServer(api.DefaultConfig(), env.svc, nil, nil)
	assert.NoError(t, server.Shutdown(context.Background()))
}
