package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmalhotra/docwatch/internal/config"
	"github.com/nmalhotra/docwatch/internal/devserver"
	"github.com/nmalhotra/docwatch/internal/docling"
	"github.com/nmalhotra/docwatch/internal/history"
	"github.com/nmalhotra/docwatch/internal/results"
	"github.com/nmalhotra/docwatch/pkg/models"
)

func startDevServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := devserver.New(devserver.Options{
		Store:      devserver.NewMemoryStore(time.Hour),
		StageDelay: 0,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func setTestEnv(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	historyPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("DOCWATCH_BASE_URL", ts.URL)
	t.Setenv("DOCWATCH_HISTORY_PATH", historyPath)
	t.Setenv("DOCWATCH_POLL_INTERVAL", "10ms")
	t.Setenv("DOCWATCH_BACKOFF_BASE", "10ms")
	return historyPath
}

func TestRun_RequiresCommand(t *testing.T) {
	require.Error(t, run(nil))
}

func TestRun_UnknownCommand(t *testing.T) {
	ts := startDevServer(t)
	setTestEnv(t, ts)

	err := run([]string{"frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestRun_ConvertEndToEnd(t *testing.T) {
	ts := startDevServer(t)
	historyPath := setTestEnv(t, ts)

	outDir := t.TempDir()
	docPath := filepath.Join(t.TempDir(), "memo.html")
	require.NoError(t, os.WriteFile(docPath, []byte("<h1>Memo</h1>"), 0o644))

	err := run([]string{"convert", "-download", "markdown", "-out", outDir, docPath})
	require.NoError(t, err)

	// The download landed in the output directory.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".md", filepath.Ext(entries[0].Name()))

	// The ledger recorded the submission and its outcome.
	store, err := history.Open(historyPath)
	require.NoError(t, err)
	defer store.Close()

	recorded, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, models.StatusCompleted, recorded[0].Status)
	assert.NotNil(t, recorded[0].CompletedAt)
}

func TestConvert_InterruptedMidJobReportsCancelled(t *testing.T) {
	srv := devserver.New(devserver.Options{
		Store:      devserver.NewMemoryStore(time.Hour),
		StageDelay: 200 * time.Millisecond, // keep the job in flight
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	setTestEnv(t, ts)

	cfg, err := config.Load()
	require.NoError(t, err)
	client := docling.NewHTTPClient(cfg.Client.BaseURL, cfg.Client.Timeout, cfg.Client.MaxFileSize)
	a := &app{cfg: cfg, client: client, results: results.New(client)}

	docPath := filepath.Join(t.TempDir(), "memo.html")
	require.NoError(t, os.WriteFile(docPath, []byte("<h1>Memo</h1>"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.convert(ctx, []string{docPath})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.EqualError(t, err, "cancelled")
	case <-time.After(5 * time.Second):
		t.Fatal("convert did not return after context cancellation")
	}
}

func TestRun_ConvertRejectsUnsupportedFile(t *testing.T) {
	ts := startDevServer(t)
	setTestEnv(t, ts)

	docPath := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("plain"), 0o644))

	err := run([]string{"convert", docPath})
	require.Error(t, err)
}

func TestRun_StatusUnknownJob(t *testing.T) {
	ts := startDevServer(t)
	setTestEnv(t, ts)

	err := run([]string{"status", "no-such-job"})
	require.Error(t, err)
}

func TestRun_Health(t *testing.T) {
	ts := startDevServer(t)
	setTestEnv(t, ts)

	require.NoError(t, run([]string{"health"}))
}
