package apierror

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPageInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		page, size int
		total      int64
		wantPages  int
		next, prev bool
	}{
		{name: "first of many", page: 0, size: 20, total: 95, wantPages: 5, next: true, prev: false},
		{name: "middle", page: 2, size: 20, total: 95, wantPages: 5, next: true, prev: true},
		{name: "last", page: 4, size: 20, total: 95, wantPages: 5, next: false, prev: true},
		{name: "exact fit", page: 0, size: 10, total: 10, wantPages: 1, next: false, prev: false},
		{name: "empty", page: 0, size: 10, total: 0, wantPages: 0, next: false, prev: false},
		{name: "zero size", page: 0, size: 0, total: 10, wantPages: 0, next: false, prev: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewPageInfo(tt.page, tt.size, tt.total)
			assert.Equal(t, tt.wantPages, p.TotalPages)
			assert.Equal(t, tt.next, p.HasNext)
			assert.Equal(t, tt.prev, p.HasPrevious)
		})
	}
}

func TestEnvelope_OmitsEmptyFields(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	require.True(t, WriteJSON(rec, http.StatusOK, Success(map[string]int{"n": 1}, "")))

	body := rec.Body.String()
	assert.Contains(t, body, `"success":true`)
	assert.Contains(t, body, `"data":{"n":1}`)
	assert.NotContains(t, body, `"error"`)
	assert.NotContains(t, body, `"pagination"`)
	assert.NotContains(t, body, `"correlationId"`)
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, CodeProfileRequired, "Please select a profile to continue.", "cid")

	env := decode(t, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeProfileRequired, env.Error.Code)
	assert.Equal(t, "cid", env.CorrelationID)
}
