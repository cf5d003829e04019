package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loan-pipeline/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexCall struct {
	method string
	path   string
	body   map[string]interface{}
}

func newTestMirror(t *testing.T, status int) (*Mirror, *[]indexCall) {
	t.Helper()
	var calls []indexCall

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		calls = append(calls, indexCall{method: r.Method, path: r.URL.Path, body: body})

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  []string{srv.URL},
		MaxRetries: 0,
	})
	require.NoError(t, err)
	return NewMirror(client, "processed-loans"), &calls
}

func TestMirror_IndexLoan(t *testing.T) {
	mirror, calls := newTestMirror(t, http.StatusCreated)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	loan := models.NewProcessedLoan(&models.LoanApplication{ApplicantID: "A1", Amount: 10000}, models.EnrichedData{CreditScore: 720}, now)
	loan.ID = "loan-1"

	require.NoError(t, mirror.IndexLoan(context.Background(), loan))
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/processed-loans/_doc/loan-1", call.path)
	assert.Equal(t, "A1", call.body["applicantId"])
	assert.Equal(t, "processed", call.body["status"])
	assert.NotContains(t, call.body, "_id")
}

func TestMirror_IndexLoan_ErrorStatus(t *testing.T) {
	mirror, _ := newTestMirror(t, http.StatusBadRequest)

	err := mirror.IndexLoan(context.Background(), &models.ProcessedLoan{ID: "loan-2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexFailed))
}
