package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOne_ConditionalGet(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second)
	src := Source{ID: "3A", URL: srv.URL + "/feed.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOne_NonOKIsFetchErrorEvenWithCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second)
	src := Source{ID: "3A", URL: srv.URL + "/feed.ics"}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	_, err = f.FetchOne(context.Background(), src)
	var ferr *FeedFetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, http.StatusInternalServerError, ferr.StatusCode)
	assert.Equal(t, "3A", ferr.SourceID)
	assert.NotContains(t, ferr.Error(), "feed.ics")
}

func TestFetchOne_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewFetcher(t.TempDir(), time.Second).FetchOne(context.Background(), Source{ID: "3A", URL: url})
	var ferr *FeedFetchError
	require.True(t, errors.As(err, &ferr))
	assert.Zero(t, ferr.StatusCode)
}

func TestFetchOne_EmptyURL(t *testing.T) {
	_, err := NewFetcher(t.TempDir(), 0).FetchOne(context.Background(), Source{ID: "3A"})
	var ferr *FeedFetchError
	assert.True(t, errors.As(err, &ferr))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://edt.example.org/...(redacted)", redactURL("https://edt.example.org/ade/custom/3a.ics?key=abc"))
	assert.Equal(t, "https://edt.example.org/...(redacted)", redactURL("https://edt.example.org?key=abc"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not-a-url"))
}
