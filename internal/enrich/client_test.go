package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetch(t *testing.T) {
	var got ParseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/parse", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"<p>body</p>","lead_image_url":"https://img.example/lead.jpg","word_count":2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, nil)
	res, err := c.Fetch(context.Background(), "https://example.com/post")
	require.NoError(t, err)

	assert.Equal(t, ParseRequest{URL: "https://example.com/post", IgnoreCache: true}, got)
	assert.Equal(t, "<p>body</p>", res.Content)
	assert.Equal(t, "https://img.example/lead.jpg", res.LeadImageURL)
}

func TestClientFetchNullFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":null,"lead_image_url":null}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, time.Second, nil).Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestClientFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).Fetch(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClientPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health/check" {
			w.Write([]byte("ok"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, time.Second, nil).Ping(context.Background()))
}

func TestClientNotConfigured(t *testing.T) {
	c := NewClient("", 0, nil)
	assert.False(t, c.Configured())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConfigured)
	_, err := c.Fetch(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
