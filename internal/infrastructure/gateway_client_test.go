package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayClient_SendText(t *testing.T) {
	var got sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions/sess-1/messages/text", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("apikey"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"wamid.123"}`))
	}))
	defer srv.Close()

	c := NewGatewayClient(GatewayOptions{BaseURL: srv.URL + "/", APIKey: "secret-key"}, zerolog.Nop())
	id, err := c.SendText(context.Background(), "sess-1", "5511987654321", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.123", id)
	assert.Equal(t, sendTextRequest{Phone: "5511987654321", Text: "hello"}, got)
}

func TestGatewayClient_SendTextErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `session offline`},
		{"missing id", http.StatusOK, `{}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewGatewayClient(GatewayOptions{BaseURL: srv.URL}, zerolog.Nop())
			_, err := c.SendText(context.Background(), "s", "1", "x")
			assert.Error(t, err)
		})
	}
}

func TestGatewayClient_SendTextReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewGatewayClient(GatewayOptions{BaseURL: srv.URL}, zerolog.Nop())
	_, err := c.SendText(context.Background(), "s", "1", "x")

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
	assert.Equal(t, "nope", gwErr.Body)
}

func TestGatewayClient_FetchMedia(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("apikey"))
		switch r.URL.Path {
		case "/typed":
			w.Header().Set("Content-Type", "audio/ogg; codecs=opus")
		default:
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	c := NewGatewayClient(GatewayOptions{BaseURL: srv.URL, APIKey: "k"}, zerolog.Nop())

	data, mime, err := c.FetchMedia(context.Background(), srv.URL+"/typed")
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Equal(t, "audio/ogg", mime)

	_, mime, err = c.FetchMedia(context.Background(), srv.URL+"/sniff")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
}

func TestGatewayClient_FetchMediaLimitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	c := NewGatewayClient(GatewayOptions{BaseURL: srv.URL, MaxBytes: 10}, zerolog.Nop())
	data, _, err := c.FetchMedia(context.Background(), srv.URL+"/big")
	require.NoError(t, err)
	assert.Len(t, data, 11)
}

type stubFetcher struct{ called string }

func (s *stubFetcher) FetchMedia(_ context.Context, url string) ([]byte, string, error) {
	s.called = url
	return []byte("x"), "text/plain", nil
}

func TestMediaRouter(t *testing.T) {
	httpFetcher, wm := &stubFetcher{}, &stubFetcher{}
	r := MediaRouter{HTTP: httpFetcher, WhatsMeow: wm}

	_, _, err := r.FetchMedia(context.Background(), "whatsmeow://sess/ABC")
	require.NoError(t, err)
	assert.Equal(t, "whatsmeow://sess/ABC", wm.called)
	assert.Empty(t, httpFetcher.called)

	_, _, err = r.FetchMedia(context.Background(), "https://cdn.example.com/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.jpg", httpFetcher.called)

	_, _, err = MediaRouter{HTTP: httpFetcher}.FetchMedia(context.Background(), "whatsmeow://sess/ABC")
	assert.Error(t, err)
}

func TestParseMediaURL(t *testing.T) {
	session, id, ok := parseMediaURL(mediaURL("sess-1", "3EB0ABC"))
	require.True(t, ok)
	assert.Equal(t, "sess-1", session)
	assert.Equal(t, "3EB0ABC", id)

	for _, bad := range []string{"https://x/y", "whatsmeow://", "whatsmeow://sess", "whatsmeow:///id"} {
		_, _, ok := parseMediaURL(bad)
		assert.False(t, ok, bad)
	}
}
