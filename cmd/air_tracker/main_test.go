package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/ingest"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/provider"
)

type scriptedRunner struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (r *scriptedRunner) Run(ctx context.Context) (ingest.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) == 0 {
		return ingest.Summary{}, nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return ingest.Summary{}, err
}

func (r *scriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestLoopStopsOnRejectedCredentials(t *testing.T) {
	r := &scriptedRunner{errs: []error{
		errors.New("store unavailable"),
		&provider.CallError{Status: 401, Attempts: 1, Err: provider.ErrUnauthorized},
	}}

	err := loop(context.Background(), r, time.Millisecond, zap.NewNop())
	assert.True(t, provider.Fatal(err))
	assert.Equal(t, 2, r.Calls(), "non-fatal failures wait for the next tick")
}

func TestLoopStopsOnCancel(t *testing.T) {
	r := &scriptedRunner{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- loop(ctx, r, time.Hour, zap.NewNop()) }()

	require.Eventually(t, func() bool { return r.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunReportOnEmptySQLite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  driver: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "air.db") + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	var out bytes.Buffer
	require.NoError(t, runReport(context.Background(), []string{"-config", path, "latest-delays"}, &out))

	var res struct {
		Name string `json:"name"`
		Rows []any  `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "latest-delays", res.Name)
	assert.Empty(t, res.Rows)
}

func TestRunReportRequiresName(t *testing.T) {
	assert.Error(t, runReport(context.Background(), nil, &bytes.Buffer{}))
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("AIR_TRACKER_TEST_VALUE", "set")
	assert.Equal(t, "set", envOrDefault("AIR_TRACKER_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", envOrDefault("AIR_TRACKER_TEST_UNSET", "fallback"))
}
