package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tier-alerts/internal/monitor"
)

func TestWeComSinkSuccess(t *testing.T) {
	var received wecomPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	sink := NewWeComSink(srv.URL+"/cgi-bin/webhook/send?key=k", time.Second, testLogger())
	require.NoError(t, sink.Send(context.Background(), "RAY buy signal"))

	assert.Equal(t, "text", received.MsgType)
	assert.Equal(t, "RAY buy signal", received.Text.Content)
}

func TestWeComSinkRejections(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"application error": {http.StatusOK, `{"errcode":93000,"errmsg":"invalid webhook url"}`},
		"missing errcode":   {http.StatusOK, `{}`},
		"not json":          {http.StatusOK, `<html>`},
		"http error":        {http.StatusBadGateway, `bad gateway`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			err := NewWeComSink(srv.URL, time.Second, testLogger()).Send(context.Background(), "x")
			require.Error(t, err)
			assert.ErrorIs(t, err, monitor.ErrSinkRejected)
		})
	}
}

func TestWeComSinkTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"errcode":0}`))
	}))
	defer srv.Close()

	err := NewWeComSink(srv.URL, 20*time.Millisecond, testLogger()).Send(context.Background(), "x")
	assert.Error(t, err)
}

func TestTelegramSinkSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", srv.URL, time.Second, testLogger())
	require.NoError(t, sink.Send(context.Background(), "CRV sell signal"))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Equal(t, "CRV sell signal", received["text"])
}

func TestTelegramSinkOKFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	err := NewTelegramSink("token", "chat", srv.URL, time.Second, testLogger()).Send(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, monitor.ErrSinkRejected)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestLogSinkAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, NewLogSink(testLogger()).Send(context.Background(), "hello"))
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
