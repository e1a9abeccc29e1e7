package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/segpost/internal/config"
	"github.com/MeKo-Tech/segpost/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	assert.Equal(t, "serve", serveCmd.Use)
	for _, name := range []string{"host", "port", "handles", "rate-limit", "shutdown-timeout"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), name)
	}
}

func TestNewSegmentServer(t *testing.T) {
	isolate(t)
	opened := useFakeBackend(t)

	cfg := config.DefaultConfig()
	cfg.Server.Handles = 3
	srv, err := newSegmentServer(&cfg)
	require.NoError(t, err)
	require.Len(t, *opened, 3)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/model", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp server.ModelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Handles)
	assert.Equal(t, "fake", resp.Model["backend_kind"])

	require.NoError(t, srv.Close())
	for _, b := range *opened {
		assert.True(t, b.closed)
	}
}

func TestRunServer_ShutsDownOnCancel(t *testing.T) {
	isolate(t)
	opened := useFakeBackend(t)

	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 1
	srv, err := newSegmentServer(&cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runServer(ctx, &cfg, srv))
	assert.True(t, (*opened)[0].closed)
}

func TestServeCommand_InvalidPort(t *testing.T) {
	isolate(t)
	useFakeBackend(t)
	_, _, err := executeCommand(t, "serve", "--port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}
