package serper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/search"
)

func TestSearch(t *testing.T) {
	var got SearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"news":[
			{"title":" Cocoa prices rise ","link":"https://x.com/a","snippet":"s","date":"2 days ago","source":"GhanaWeb"},
			{"title":"Shea","link":"https://y.com/b","date":"","source":"Joy"}
		]}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 11, 8, 9, 0, 0, 0, time.UTC)
	c := NewClient("secret", "gh", WithEndpoint(srv.URL))
	resp, err := c.Search(context.Background(), &search.Request{
		Query:     "Ghana cocoa news",
		StartDate: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   now,
		Now:       now,
	})
	require.NoError(t, err)

	require.Equal(t, "Ghana cocoa news after:2025-11-01 before:2025-11-09", got.Q)
	require.Equal(t, "gh", got.GL)
	require.Equal(t, 20, got.Num)

	require.Len(t, resp.Results, 2)
	first := resp.Results[0]
	require.Equal(t, "Cocoa prices rise", first.Title)
	require.Equal(t, "GhanaWeb", first.Source)
	require.Equal(t, "2 days ago", first.DateText)
	require.True(t, first.PublishedAt.Equal(time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC)))
	require.True(t, first.DayPrecision)
	require.Equal(t, "Ghana cocoa news", first.Keyword)
	require.False(t, resp.Results[1].HasDate())
}

func TestSearchQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	_, err := NewClient("k", "gh", WithEndpoint(srv.URL)).Search(context.Background(), &search.Request{Query: "q"})
	require.ErrorIs(t, err, search.ErrQuotaExceeded)

	var pe *search.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
}

func TestSearchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewClient("k", "gh", WithEndpoint(srv.URL)).Search(context.Background(), &search.Request{Query: "q"})
	require.ErrorIs(t, err, search.ErrUnavailable)
}
