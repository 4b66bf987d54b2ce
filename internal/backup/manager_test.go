package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/metrics"
)

// fakeRunner simulates the dump utility: it writes a file at the path given
// by --file= and replays canned stderr or an error.
type fakeRunner struct {
	stderr string
	err    error
	calls  []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string) (string, string, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.err != nil {
		return "", f.stderr, f.err
	}
	for _, arg := range args {
		if out, ok := strings.CutPrefix(arg, "--file="); ok {
			if err := os.WriteFile(out, []byte("dump"), 0o600); err != nil {
				return "", "", err
			}
		}
	}
	return "", f.stderr, nil
}

func testBackupConfig(dir string) config.BackupConfig {
	return config.BackupConfig{
		Directory:           dir,
		Tool:                "pg_dump",
		ArgsTemplate:        "--format=custom --file={{ .Output }} {{ .DSN }}",
		Retention:           7,
		TimeoutSeconds:      30,
		BenignStderrMarkers: []string{"done dumping"},
	}
}

func newTestManager(t *testing.T, cfg config.BackupConfig, runner CommandRunner, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, "postgres://localhost/site", runner, slog.New(slog.DiscardHandler), metrics.NewRecorder(prometheus.NewRegistry()), opts...)
	require.NoError(t, err)
	return m
}

func TestRunProducesTimestampedArtifact(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	m := newTestManager(t, testBackupConfig(dir), runner, WithClock(func() time.Time { return fixed }))

	result := m.Run(context.Background())
	require.True(t, result.Success, result.Message)
	require.Equal(t, filepath.Join(dir, "backup-2026-03-14T09-26-53Z.dump"), result.Path)
	require.FileExists(t, result.Path)
	require.Len(t, runner.calls, 1)
	require.Contains(t, runner.calls[0], "pg_dump --format=custom --file="+result.Path+" postgres://localhost/site")
}

func TestRunTreatsBenignStderrAsSuccess(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{stderr: "pg_dump: done dumping database contents\n"}
	m := newTestManager(t, testBackupConfig(dir), runner)

	result := m.Run(context.Background())
	require.True(t, result.Success, result.Message)
	require.FileExists(t, result.Path)
}

func TestRunFailsOnUnrecognizedStderr(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{stderr: "pg_dump: error: connection to server failed\ndetail line"}
	m := newTestManager(t, testBackupConfig(dir), runner)

	result := m.Run(context.Background())
	require.False(t, result.Success)
	require.Contains(t, result.Message, "connection to server failed")
	require.NotContains(t, result.Message, "detail line")

	// The partial artifact must not survive a vetting failure.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunReportsMissingTool(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{err: fmt.Errorf("exec: %q: %w", "pg_dump", exec.ErrNotFound)}
	m := newTestManager(t, testBackupConfig(dir), runner)

	result := m.Run(context.Background())
	require.False(t, result.Success)
	require.Contains(t, result.Message, `dump tool "pg_dump" not found on PATH`)
}

func TestRunReportsToolFailureWithStderr(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{err: fmt.Errorf("exit status 1"), stderr: "pg_dump: fatal: role missing\nmore context"}
	m := newTestManager(t, testBackupConfig(dir), runner)

	result := m.Run(context.Background())
	require.False(t, result.Success)
	require.Contains(t, result.Message, "dump tool failed")
	require.Contains(t, result.Message, "role missing")
}

func TestRunEnforcesRetention(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	for i := range 10 {
		ts := base.AddDate(0, 0, i)
		path := filepath.Join(dir, "backup-"+ts.Format("2006-01-02T15-04-05Z")+".dump")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))
		require.NoError(t, os.Chtimes(path, ts, ts))
	}
	// Unrelated files in the directory are never touched.
	keeper := filepath.Join(dir, "README.txt")
	require.NoError(t, os.WriteFile(keeper, []byte("keep"), 0o600))

	runner := &fakeRunner{}
	m := newTestManager(t, testBackupConfig(dir), runner, WithClock(func() time.Time {
		return base.AddDate(0, 0, 10)
	}))

	result := m.Run(context.Background())
	require.True(t, result.Success, result.Message)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var artifacts []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "backup-") {
			artifacts = append(artifacts, entry.Name())
		}
	}
	require.Len(t, artifacts, 7)
	// Oldest four are gone; the newest pre-existing six plus today's survive.
	require.Equal(t, "backup-2026-03-05T02-30-00Z.dump", artifacts[0])
	require.Equal(t, "backup-2026-03-11T02-30-00Z.dump", artifacts[6])
	require.FileExists(t, keeper)
}

func TestNewManagerRejectsBadTemplate(t *testing.T) {
	cfg := testBackupConfig(t.TempDir())
	cfg.ArgsTemplate = "{{ .Output"
	_, err := NewManager(cfg, "", &fakeRunner{}, slog.New(slog.DiscardHandler), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse args template")
}

func TestRunDefaultsDirectoryCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "backups")
	m := newTestManager(t, testBackupConfig(dir), &fakeRunner{})

	result := m.Run(context.Background())
	require.True(t, result.Success, result.Message)
	require.DirExists(t, dir)
}
