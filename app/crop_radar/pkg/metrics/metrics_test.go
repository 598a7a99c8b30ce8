package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.Result("Ghana cocoa news", OutcomeFound)
	r.Result("Ghana cocoa news", OutcomeFound)
	r.Result("Ghana cocoa news", OutcomeAdded)
	r.SearchError("COCOBOD announcement", "quota")

	require.Equal(t, 2.0, testutil.ToFloat64(r.results.WithLabelValues("Ghana cocoa news", OutcomeFound)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.results.WithLabelValues("Ghana cocoa news", OutcomeAdded)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.searchErrors.WithLabelValues("COCOBOD announcement", "quota")))

	start := time.Date(2025, 11, 8, 6, 0, 0, 0, time.UTC)
	r.RunFinished(start, start.Add(90*time.Second), true)
	require.Equal(t, 90.0, testutil.ToFloat64(r.duration))
	require.Equal(t, float64(start.Add(90*time.Second).Unix()), testutil.ToFloat64(r.lastSuccess))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Result("k", OutcomeFound)
	r.SearchError("k", "unavailable")
	r.RunFinished(time.Now(), time.Now(), true)
	require.NoError(t, r.Push(context.Background(), "http://localhost:1", "crop_radar"))
}

func TestPush(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		mu.Lock()
		method, path, body = req.Method, req.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.Result("Ghana cocoa news", OutcomeAdded)
	require.NoError(t, r.Push(context.Background(), srv.URL, "crop_radar"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, method)
	require.Equal(t, "/metrics/job/crop_radar", path)
	require.NotEmpty(t, body)
}

func TestPushSkippedWithoutURL(t *testing.T) {
	require.NoError(t, NewRecorder().Push(context.Background(), "", "crop_radar"))
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewRecorder().Push(context.Background(), srv.URL, "crop_radar")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "push metrics"))
}
