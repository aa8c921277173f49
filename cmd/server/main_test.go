package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/yourorg/chainwatch/internal/config"
	"github.com/yourorg/chainwatch/internal/model"
	"github.com/yourorg/chainwatch/internal/orchestrator"
)

// newTestServer builds a server with an isolated metrics registry and a
// throwaway model directory so handlers can cold-start train.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Config{
		Port:          "8080",
		ModelDir:      t.TempDir(),
		Contamination: 0.01,
		RandomSeed:    42,
		TreeCount:     25,
		SampleSize:    64,
	}

	return &Server{
		cfg:       cfg,
		orch:      orchestrator.New(cfg, nil),
		metrics:   registerMetrics(prometheus.NewRegistry()),
		rateLimit: rate.NewLimiter(rate.Limit(1000), 1000),
	}
}

func detectBody(t *testing.T, n int) *bytes.Buffer {
	t.Helper()

	txs := make([]map[string]any, n)
	for i := range txs {
		txs[i] = map[string]any{
			"hash":      fmt.Sprintf("0x%064x", i+1),
			"value":     fmt.Sprintf("%f", 1e18*(1+float64(i)*0.001)),
			"gas":       "21000",
			"gasPrice":  "50000000000",
			"timeStamp": "1678901234",
		}
	}
	body, err := json.Marshal(map[string]any{"transactions": txs})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHandleDetectRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "non-JSON body",
			method:   http.MethodPost,
			body:     "not json",
			wantCode: http.StatusBadRequest,
			wantErr:  "Request must be JSON",
		},
		{
			name:     "empty transactions",
			method:   http.MethodPost,
			body:     `{"transactions": []}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "No transactions provided",
		},
		{
			name:     "missing required columns",
			method:   http.MethodPost,
			body:     `{"transactions": [{"hash": "0x1"}]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "missing required columns",
		},
		{
			name:     "wrong method",
			method:   http.MethodGet,
			body:     "",
			wantCode: http.StatusMethodNotAllowed,
			wantErr:  "Method not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/api/v1/detect", bytes.NewBufferString(tt.body))

			s.handleDetect(rec, req)

			require.Equal(t, tt.wantCode, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantErr)
		})
	}
}

func TestHandleDetectScoresBatch(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/detect", detectBody(t, 40))

	s.handleDetect(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var results []model.DetectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 40)
	for _, res := range results {
		assert.NotEmpty(t, res.TransactionHash)
		assert.NotEmpty(t, res.AnomalyTypes)
	}
}

func TestHandleBatchDetect(t *testing.T) {
	s := newTestServer(t)

	payload := map[string]any{
		"batches": []map[string]any{
			{"batch_id": "empty", "transactions": []map[string]any{}},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handleBatchDetect(rec, httptest.NewRequest(http.MethodPost, "/api/v1/batch-detect", bytes.NewBuffer(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		BatchResults map[string]json.RawMessage `json:"batch_results"`
		Total        int                        `json:"total_batches_processed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// An empty batch yields an empty result list, not an error
	assert.Equal(t, 1, resp.Total)
	assert.JSONEq(t, "[]", string(resp.BatchResults["empty"]))
}

func TestHandleBatchDetectRejectsNoBatches(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch-detect", bytes.NewBufferString(`{"batches": []}`))

	s.handleBatchDetect(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "No batches provided")
}
