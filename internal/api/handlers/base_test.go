package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/charter-reconcile/internal/api/dto"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", fmt.Errorf("record x: %w", model.ErrNotFound), http.StatusNotFound, dto.ErrCodeNotFound},
		{"invalid state", fmt.Errorf("actor is required: %w", model.ErrInvalidState), http.StatusConflict, dto.ErrCodeConflict},
		{"already linked", model.ErrAlreadyLinked, http.StatusConflict, dto.ErrCodeConflict},
		{"no active link", model.ErrNoActiveLink, http.StatusConflict, dto.ErrCodeConflict},
		{"already split", model.ErrAlreadySplit, http.StatusConflict, dto.ErrCodeConflict},
		{"primary allocation", model.ErrPrimaryAllocation, http.StatusConflict, dto.ErrCodeConflict},
		{"malformed", &model.MalformedRecordError{Field: "amount", Value: "abc", Reason: "not a number"}, http.StatusBadRequest, dto.ErrCodeValidation},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, dto.ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			NewBase(nil).WriteServiceError(c, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var apiErr dto.APIError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.True(t, c.IsAborted())
		})
	}
}

func TestWriteServiceError_Mismatch(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	err := fmt.Errorf("split: %w", &model.AllocationMismatchError{
		ParentAmount: decimal.RequireFromString("170.01"),
		Allocated:    decimal.RequireFromString("169.54"),
		Diff:         decimal.RequireFromString("0.47"),
	})
	NewBase(nil).WriteServiceError(c, err)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var apiErr dto.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
	assert.Equal(t, dto.ErrCodeMismatch, apiErr.Code)
	require.NotNil(t, apiErr.Diff)
	assert.Equal(t, "0.47", apiErr.Diff.String())
}

func TestParseParams(t *testing.T) {
	newCtx := func(query string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/x?"+query, nil)
		return c
	}

	assert.Equal(t, 20, ParseIntParam(newCtx(""), "limit", 20))
	assert.Equal(t, 5, ParseIntParam(newCtx("limit=5"), "limit", 20))
	assert.Equal(t, 20, ParseIntParam(newCtx("limit=abc"), "limit", 20))

	status, ok := ParseStatusParam(newCtx(""))
	assert.True(t, ok)
	assert.Equal(t, model.CandidateOpen, status)

	status, ok = ParseStatusParam(newCtx("status=dismissed"))
	assert.True(t, ok)
	assert.Equal(t, model.CandidateDismissed, status)

	_, ok = ParseStatusParam(newCtx("status=nope"))
	assert.False(t, ok)
}
