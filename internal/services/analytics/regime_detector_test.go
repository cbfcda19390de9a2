package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRegimeDetector_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/regime/detect", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req regimeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "AAPL", req.Symbol)
		assert.Equal(t, []float64{0.01, -0.02}, req.Returns)
		_ = json.NewEncoder(w).Encode(regimeResponse{State: "volatile", Prob: []float64{0.1, 0.9}, Confidence: 0.9})
	}))
	defer srv.Close()

	d := NewHTTPRegimeDetector(srv.URL+"/", time.Second)
	d.now = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }

	got, err := d.Detect(context.Background(), "AAPL", []float64{0.01, -0.02})
	require.NoError(t, err)
	assert.Equal(t, "volatile", got.State)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), got.Timestamp)
}

func TestHTTPRegimeDetector_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"state":"quiet","confidence":0.7}`))
	}))
	defer srv.Close()

	d := NewHTTPRegimeDetector(srv.URL, time.Second)
	d.base.backoff = time.Millisecond

	got, err := d.Detect(context.Background(), "AAPL", []float64{0.01})
	require.NoError(t, err)
	assert.Equal(t, "quiet", got.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPRegimeDetector_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewHTTPRegimeDetector(srv.URL, time.Second)
	d.base.backoff = time.Millisecond

	_, err := d.Detect(context.Background(), "AAPL", []float64{0.01})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPRegimeDetector_EmptyState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confidence":0.5}`))
	}))
	defer srv.Close()

	_, err := NewHTTPRegimeDetector(srv.URL, time.Second).Detect(context.Background(), "AAPL", nil)
	assert.ErrorContains(t, err, "without state")
}

func TestHTTPServiceBase_Uninitialized(t *testing.T) {
	b := NewHTTPServiceBase("", time.Second)
	assert.Error(t, b.PostJSON(context.Background(), "/x", nil, nil))
}
