package ocds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderSync/internal/config"
)

func newTestClient(t *testing.T, srv *httptest.Server, cfg config.SourceConfig) (*Client, *[]time.Duration) {
	t.Helper()
	cfg.BaseURL = srv.URL + "/api/1.0/ocdsReleasePackages"
	var slept []time.Duration
	client := NewClient(cfg, srv.Client(), nil).WithSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	})
	return client, &slept
}

func TestBuildPageURL(t *testing.T) {
	t.Parallel()

	from := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("BST", 3600))
	u, err := buildPageURL("https://example.test/api/1.0/ocdsReleasePackages?stages=tender", 50, &from)
	require.NoError(t, err)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "50", q.Get("limit"))
	assert.Equal(t, "2025-03-01T09:00:00Z", q.Get("updatedFrom"))
	assert.Equal(t, "tender", q.Get("stages"))

	u, err = buildPageURL("https://example.test/x", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/x?limit=100", u)
}

func TestFetchPageFollowsCursor(t *testing.T) {
	t.Parallel()

	var userAgent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.UserAgent())
		if r.URL.Query().Get("cursor") == "" {
			assert.Equal(t, "100", r.URL.Query().Get("limit"))
			fmt.Fprint(w, `{"releases":[{"ocid":"a"},{"ocid":"b"}],"links":{"next":"/api/1.0/ocdsReleasePackages?cursor=p2"}}`)
			return
		}
		fmt.Fprint(w, `{"releases":[{"ocid":"c"}]}`)
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, config.SourceConfig{UserAgent: "TenderSync/test"})

	first, err := client.FetchPage(context.Background(), "", nil)
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.JSONEq(t, `{"ocid":"a"}`, string(first.Records[0]))
	assert.Equal(t, srv.URL+"/api/1.0/ocdsReleasePackages?cursor=p2", first.NextPageToken)
	assert.Equal(t, "TenderSync/test", userAgent.Load())

	second, err := client.FetchPage(context.Background(), first.NextPageToken, nil)
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Empty(t, second.NextPageToken)
	assert.Empty(t, *slept)
}

func TestFetchPageEmptyPackage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"uri":"x"}`)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, config.SourceConfig{})
	page, err := client.FetchPage(context.Background(), "", nil)
	require.NoError(t, err)
	assert.NotNil(t, page.Records)
	assert.Empty(t, page.Records)
	assert.Empty(t, page.NextPageToken)
}

func TestFetchPageRetriesAfterThrottle(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"releases":[{"ocid":"a"}]}`)
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, config.SourceConfig{})
	page, err := client.FetchPage(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
}

func TestFetchPageDefaultRetryDelay(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"releases":[]}`)
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, config.SourceConfig{})
	_, err := client.FetchPage(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, *slept)
}

func TestFetchPageMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, config.SourceConfig{MaxAttempts: 3})
	_, err := client.FetchPage(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, *slept, 2)
}

func TestFetchPageUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, config.SourceConfig{})
	_, err := client.FetchPage(context.Background(), "", nil)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	assert.Equal(t, "boom", upstream.Body)
	assert.Empty(t, *slept)
}

func TestFetchPageCancelledDuringRetry(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.SourceConfig{BaseURL: srv.URL}
	client := NewClient(cfg, srv.Client(), nil).WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	})

	_, err := client.FetchPage(ctx, "", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchPageInvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>`)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, config.SourceConfig{})
	_, err := client.FetchPage(context.Background(), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode page")
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	d, err := ParseRetryAfter("120")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	d, err = ParseRetryAfter(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseRetryAfter(time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), d.Seconds(), 5)

	d, err = ParseRetryAfter("99999999999999")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	_, err = ParseRetryAfter("-1")
	assert.Error(t, err)
	_, err = ParseRetryAfter("soon")
	assert.Error(t, err)
}

func TestSleepHonoursContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
