// Package manager runs a session for every configured connection.
package manager

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/syncwatch/pkg/config"
	"github.com/sidkik/syncwatch/pkg/errors"
	"github.com/sidkik/syncwatch/pkg/fswatch"
	"github.com/sidkik/syncwatch/pkg/report"
	"github.com/sidkik/syncwatch/pkg/session"
	"github.com/sidkik/syncwatch/pkg/transfer"
)

// LockFileName is created in every connection directory while it's being
// synced, so that two processes never mirror the same directory.
const LockFileName = ".sync-watch.lock"

// Mocked out for unit testing.
var handlePanic = report.HandlePanic

// DefaultLogsDir is where per-connection log files are written when their
// path is relative.
const DefaultLogsDir = "logs"

// Config contains the collaborators shared by all sessions.
type Config struct {
	Provider transfer.Provider
	Source   fswatch.Source
	Reporter report.Reporter

	// Log is the base logger. Per-connection loggers inherit its level and
	// hooks.
	Log *log.Logger

	Clock    clockwork.Clock
	Debounce time.Duration

	// Startup excludes connections that aren't marked to run on startup.
	Startup bool

	// LogsDir is the base directory for relative per-connection log files.
	LogsDir string
}

// Manager owns the sessions it starts, and the resources backing them.
type Manager struct {
	cfg Config

	lock     sync.Mutex
	sessions []*session.Session
	closers  []func()
}

// New creates a manager.
func New(cfg Config) *Manager {
	if cfg.Log == nil {
		cfg.Log = log.StandardLogger()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = report.NewLogReporter(cfg.Log)
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = DefaultLogsDir
	}
	return &Manager{cfg: cfg}
}

// Run starts a session for every eligible connection in the setup file, and
// blocks until the context is cancelled. A connection that fails to start
// doesn't affect the others. The returned exit code is non-zero only if the
// setup file itself couldn't be read.
func (m *Manager) Run(ctx context.Context, setupPath string) int {
	entries, err := config.ParseSetup(setupPath)
	if err != nil {
		m.cfg.Reporter.Error(errors.WithContext(err, "parse setup"),
			"Failed to read connection setup")
		return 1
	}

	eligible := config.Eligible(entries, m.cfg.Startup)
	m.cfg.Log.WithFields(log.Fields{
		"configured": len(entries),
		"eligible":   len(eligible),
		"startup":    m.cfg.Startup,
	}).Info("Starting connections")

	started := 0
	for _, s := range m.Start(ctx, eligible) {
		if s.State() == session.Watching {
			started++
		}
	}
	m.cfg.Log.Infof("%d of %d connections are watching", started, len(eligible))

	<-ctx.Done()
	m.cfg.Log.Info("Shutting down")
	m.Stop()
	return 0
}

// RunSingle mirrors the connection configured in `dir` until the context is
// cancelled. Unlike Run, any failure to start is fatal.
func (m *Manager) RunSingle(ctx context.Context, dir string) int {
	s, err := m.startEntry(ctx, config.ConnectionEntry{Path: dir, IsEnabled: true})
	if err != nil {
		m.cfg.Reporter.Error(err, "Failed to start connection")
		m.Stop()
		return 1
	}

	if s.State() != session.Watching {
		m.Stop()
		return 1
	}

	<-ctx.Done()
	m.cfg.Log.Info("Shutting down")
	m.Stop()
	return 0
}

// Start starts a session for each entry concurrently, and waits for them
// all to either reach Watching or fail. It returns every session that was
// constructed, including ones that failed to connect. Entries whose settings
// can't be resolved are reported and skipped.
func (m *Manager) Start(ctx context.Context, entries []config.ConnectionEntry) []*session.Session {
	results := make([]*session.Session, len(entries))

	var group errgroup.Group
	for i, entry := range entries {
		i, entry := i, entry
		group.Go(func() error {
			defer handlePanic()

			s, err := m.startEntry(ctx, entry)
			if err != nil {
				m.cfg.Reporter.Error(err, "Failed to start connection "+entry.Path)
				return nil
			}
			results[i] = s
			return nil
		})
	}
	_ = group.Wait()

	var sessions []*session.Session
	for _, s := range results {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// Stop stops all sessions and releases their resources.
func (m *Manager) Stop() {
	m.lock.Lock()
	sessions, closers := m.sessions, m.closers
	m.sessions, m.closers = nil, nil
	m.lock.Unlock()

	var group errgroup.Group
	for _, s := range sessions {
		s := s
		group.Go(func() error {
			defer handlePanic()
			s.Stop()
			return nil
		})
	}
	_ = group.Wait()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// startEntry resolves the entry's settings and starts its session. The
// returned error is only set if a session couldn't be constructed. Failures
// during Start are reported by the session itself.
func (m *Manager) startEntry(ctx context.Context, entry config.ConnectionEntry) (*session.Session, error) {
	settingsPath := filepath.Join(entry.Path, config.SettingsFileName)
	settings, err := config.ResolveSettings(settingsPath, entry.Path)
	if err != nil {
		return nil, errors.WithContext(err, "resolve settings")
	}

	unlock, err := lockDir(entry.Path)
	if err != nil {
		return nil, err
	}
	m.addCloser(unlock)

	logger, closeLog, err := m.entryLogger(entry)
	if err != nil {
		return nil, errors.WithContext(err, "open log file")
	}
	m.addCloser(closeLog)

	if settings.AcceptAnyHostKey() {
		logger.WithFields(log.Fields{
			"connection": settings.String(),
			"settings":   settings.GetPath(),
		}).Warn(
			"No host key fingerprint configured. The remote host's identity won't be verified.")
	}

	// The lock file is never mirrored, even when the connection directory
	// is part of the local tree.
	s := session.New(settings, session.Config{
		Provider: m.cfg.Provider,
		Source:   m.cfg.Source,
		Reporter: m.cfg.Reporter,
		Log:      logger,
		Clock:    m.cfg.Clock,
		Debounce: m.cfg.Debounce,
		Exclude:  []string{LockFileName},
	})

	m.lock.Lock()
	m.sessions = append(m.sessions, s)
	m.lock.Unlock()

	if err := s.Start(ctx); err != nil {
		log.WithError(err).WithField("connection", settings.String()).Debug("Session failed to start")
	}
	return s, nil
}

func (m *Manager) addCloser(fn func()) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closers = append(m.closers, fn)
}

// lockDir prevents other processes from syncing the same directory.
func lockDir(dir string) (func(), error) {
	lock := flock.New(filepath.Join(dir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.WithContext(err, "lock")
	}
	if !locked {
		return nil, errors.NewFriendlyError(
			"%s is already being synced by another sync-watch process.", dir)
	}

	return func() {
		os.Remove(lock.Path())
		if err := lock.Unlock(); err != nil {
			log.WithError(err).WithField("path", lock.Path()).Debug("Failed to release lock")
		}
	}, nil
}

// entryLogger returns the logger for a connection. If the entry names a log
// file, messages are written both to it and to the base logger's output.
func (m *Manager) entryLogger(entry config.ConnectionEntry) (log.FieldLogger, func(), error) {
	base := m.cfg.Log
	if entry.LogFilePath == "" {
		return base, func() {}, nil
	}

	path := entry.LogFilePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.cfg.LogsDir, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	logger := log.New()
	logger.SetLevel(base.GetLevel())
	logger.SetOutput(io.MultiWriter(base.Out, f))
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		DisableColors: true,
	})
	logger.ReplaceHooks(base.Hooks)

	return logger, func() { f.Close() }, nil
}
