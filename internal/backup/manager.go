// Package backup produces timestamped database dumps through an external
// utility and enforces the retention policy over the resulting artifacts.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	sprig "github.com/Masterminds/sprig/v3"

	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/metrics"
)

// The `:` of ISO-8601 is replaced by `-` so filenames stay portable and
// lexicographic order still equals chronological order.
const timestampLayout = "2006-01-02T15-04-05Z"

const artifactPrefix = "backup-"

// Result is the structured outcome of one backup attempt. Run never panics
// or returns an error; failures are reported here so the scheduled job can
// log and move on.
type Result struct {
	Success bool
	Path    string
	Message string
}

// Manager invokes the configured dump utility and prunes old artifacts.
type Manager struct {
	cfg     config.BackupConfig
	dsn     string
	runner  CommandRunner
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	args    *template.Template
}

// Option customizes manager construction.
type Option func(*Manager)

// WithClock substitutes the time source used for artifact naming.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager compiles the argument template and wires the runner. The
// template receives {{ .Output }} and {{ .DSN }} plus the full sprig
// function map, so one config line adapts the manager to pg_dump, mongodump,
// or mysqldump alike.
func NewManager(cfg config.BackupConfig, dsn string, runner CommandRunner, logger *slog.Logger, recorder *metrics.Recorder, opts ...Option) (*Manager, error) {
	tmpl, err := template.New("args").Funcs(sprig.TxtFuncMap()).Parse(cfg.ArgsTemplate)
	if err != nil {
		return nil, fmt.Errorf("backup: parse args template: %w", err)
	}
	m := &Manager{
		cfg:     cfg,
		dsn:     dsn,
		runner:  runner,
		logger:  logger,
		metrics: recorder,
		now:     time.Now,
		args:    tmpl,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run performs one backup: ensure the directory, dump to a timestamped
// path, vet the utility's stderr, then enforce retention. Failures come
// back as a Result, never as a panic, so the scheduler's contract holds
// even when the host is misconfigured.
func (m *Manager) Run(ctx context.Context) Result {
	result := m.run(ctx)
	m.metrics.ObserveBackup(result.Success)
	if result.Success {
		m.logger.Info("backup completed", slog.String("path", result.Path))
	} else {
		m.logger.Error("backup failed", slog.String("message", result.Message))
	}
	return result
}

func (m *Manager) run(ctx context.Context) Result {
	if err := os.MkdirAll(m.cfg.Directory, 0o750); err != nil {
		return Result{Message: fmt.Sprintf("create backup directory: %v", err)}
	}

	output := filepath.Join(m.cfg.Directory, artifactPrefix+m.now().UTC().Format(timestampLayout)+".dump")
	args, err := m.renderArgs(output)
	if err != nil {
		return Result{Message: err.Error()}
	}

	timeout := time.Duration(m.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, stderr, err := m.runner.Run(runCtx, m.cfg.Tool, args)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			// A missing utility is a host configuration error, not a
			// transient fault; say so plainly.
			return Result{Message: fmt.Sprintf("dump tool %q not found on PATH: install it or point backup.tool at an available utility", m.cfg.Tool)}
		}
		if runCtx.Err() != nil {
			return Result{Message: fmt.Sprintf("dump timed out after %s", timeout)}
		}
		return Result{Message: fmt.Sprintf("dump tool failed: %v: %s", err, firstLine(stderr))}
	}

	// Some dump tools exit 0 while still reporting problems on stderr, so
	// the stream is vetted by substring against known benign markers rather
	// than trusting the exit code alone.
	if trimmed := strings.TrimSpace(stderr); trimmed != "" && !m.benign(trimmed) {
		m.removeArtifact(output)
		return Result{Message: fmt.Sprintf("dump tool reported: %s", firstLine(trimmed))}
	}

	m.enforceRetention()
	return Result{Success: true, Path: output}
}

func (m *Manager) renderArgs(output string) ([]string, error) {
	var rendered bytes.Buffer
	data := struct {
		Output string
		DSN    string
	}{Output: output, DSN: m.dsn}
	if err := m.args.Execute(&rendered, data); err != nil {
		return nil, fmt.Errorf("render args template: %w", err)
	}
	// Arguments split on whitespace; DSNs containing spaces should use the
	// URL form instead of key=value pairs.
	return strings.Fields(rendered.String()), nil
}

func (m *Manager) benign(stderr string) bool {
	for _, marker := range m.cfg.BenignStderrMarkers {
		if marker != "" && strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// enforceRetention deletes the oldest artifacts beyond the configured count.
// Ordering uses modification time (birth time is not portable) with the
// timestamped filename as a tiebreak; a single failed deletion is logged and
// skipped so the rest of the excess still goes.
func (m *Manager) enforceRetention() {
	entries, err := os.ReadDir(m.cfg.Directory)
	if err != nil {
		m.logger.Warn("retention scan failed", slog.Any("error", err))
		return
	}

	type artifact struct {
		path    string
		modTime time.Time
	}
	artifacts := make([]artifact, 0, len(entries))
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), artifactPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			m.logger.Warn("retention stat failed", slog.String("name", entry.Name()), slog.Any("error", err))
			continue
		}
		artifacts = append(artifacts, artifact{
			path:    filepath.Join(m.cfg.Directory, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	if len(artifacts) <= m.cfg.Retention {
		return
	}
	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].modTime.Equal(artifacts[j].modTime) {
			return artifacts[i].path < artifacts[j].path
		}
		return artifacts[i].modTime.Before(artifacts[j].modTime)
	})

	excess := artifacts[:len(artifacts)-m.cfg.Retention]
	for _, old := range excess {
		// RemoveAll because some dump tools emit directories.
		if err := os.RemoveAll(old.path); err != nil {
			m.logger.Warn("retention delete failed", slog.String("path", old.path), slog.Any("error", err))
			continue
		}
		m.logger.Info("retention deleted backup", slog.String("path", old.path))
	}
}

func (m *Manager) removeArtifact(path string) {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("failed to remove partial dump", slog.String("path", path), slog.Any("error", err))
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
