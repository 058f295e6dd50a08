// Package session manages the lifecycle of a single mirrored connection:
// connect, initial sync, watch, resync and stop.
//
// All synchronization passes for a session run on a single goroutine, so
// passes never overlap and the connection is never used concurrently.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/syncwatch/pkg/config"
	"github.com/sidkik/syncwatch/pkg/debounce"
	"github.com/sidkik/syncwatch/pkg/errors"
	"github.com/sidkik/syncwatch/pkg/fswatch"
	"github.com/sidkik/syncwatch/pkg/report"
	"github.com/sidkik/syncwatch/pkg/transfer"
)

// State is the lifecycle stage of a session.
type State int

const (
	Idle State = iota
	Connecting
	InitialSync
	Watching
	Resyncing
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case InitialSync:
		return "InitialSync"
	case Watching:
		return "Watching"
	case Resyncing:
		return "Resyncing"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrStopped is returned by Start if the session was stopped before it
// finished starting.
var ErrStopped = errors.New("session stopped")

// Mocked out for unit testing.
var handlePanic = report.HandlePanic

// Config contains the collaborators used by a session.
type Config struct {
	Provider transfer.Provider
	Source   fswatch.Source
	Reporter report.Reporter

	// Log defaults to the standard logger.
	Log logrus.FieldLogger

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// Debounce is the quiet window before a resync. Zero uses
	// debounce.DefaultWindow.
	Debounce time.Duration

	// ReconnectInterval is passed to the transfer provider. Zero uses
	// transfer.DefaultReconnectInterval.
	ReconnectInterval time.Duration

	// Exclude lists patterns that are never mirrored, whatever the
	// settings' file mask.
	Exclude []string
}

// Session mirrors one local directory to one remote directory.
type Session struct {
	id       string
	settings config.SyncSettings
	cfg      Config
	log      logrus.FieldLogger

	stateLock sync.Mutex
	state     State

	// lifecycle serializes Start and Stop. The fields below it are only
	// accessed while it's held.
	lifecycle sync.Mutex
	conn      transfer.Connection
	sub       fswatch.Subscription
	engine    *debounce.Engine
	loopDone  chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a session in the Idle state. Nothing is acquired until Start
// is called.
func New(settings config.SyncSettings, cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = transfer.DefaultReconnectInterval
	}

	id := uuid.New().String()
	sessionLog := cfg.Log.WithFields(logrus.Fields{
		"session": id,
		"host":    settings.HostName,
		"remote":  settings.RemotePath,
	})

	// Errors are reported with the session's fields, and to the same
	// outputs as the rest of its log.
	switch r := cfg.Reporter.(type) {
	case nil:
		cfg.Reporter = report.NewLogReporter(sessionLog)
	case report.ScopedReporter:
		cfg.Reporter = r.WithLogger(sessionLog)
	}

	return &Session{
		id:       id,
		settings: settings,
		cfg:      cfg,
		log:      sessionLog,
		state:    Idle,
		stop:     make(chan struct{}),
	}
}

// ID uniquely identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// Settings returns the settings the session was created with.
func (s *Session) Settings() config.SyncSettings {
	return s.settings
}

// State returns the session's current state.
func (s *Session) State() State {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// Start connects to the remote host, runs the initial pass, and begins
// watching the local tree. It returns once the session is Watching.
//
// If connecting or preparing the watch fails, the error is reported, all
// acquired resources are released, and the session is left Failed. Failures
// during the initial pass itself are reported but don't prevent the session
// from watching.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if state := s.State(); state != Idle {
		if state == Stopped || state == Stopping {
			return ErrStopped
		}
		return errors.New("session already started (state %s)", state)
	}

	// Passes aren't cancelled when the caller's context is, so that a
	// transfer is never cut off midway. Stop is used to end the session.
	passCtx := context.WithoutCancel(ctx)

	s.setState(Connecting)
	s.log.Debugf("Opening a connection to %s", s.settings)
	conn, err := s.cfg.Provider.Open(ctx, s.options())
	if err != nil {
		return s.fail(errors.WithContext(err, "connect"), "Failed to open connection")
	}
	s.conn = conn
	if s.stopRequested() {
		return ErrStopped
	}

	s.setState(InitialSync)
	s.log.Debugf("Creating the remote path %q if necessary", s.settings.RemotePath)
	if err := conn.EnsureRemoteDir(passCtx, s.settings.RemotePath); err != nil {
		return s.fail(errors.WithContext(err, "create remote directory"),
			"Failed to create remote directory")
	}

	// Subscribe before the initial pass so that changes made while it runs
	// result in a resync.
	sub, err := s.cfg.Source.Subscribe(s.settings.LocalPath)
	if err != nil {
		return s.fail(errors.WithContext(err, "watch local directory"),
			"Failed to watch local directory")
	}
	s.sub = sub
	s.engine = debounce.New(sub.Events(), s.cfg.Debounce, s.cfg.Clock)

	s.log.Debug("Initiating first sync")
	s.synchronize(passCtx, conn)
	s.log.Debug("First sync finished")

	if s.stopRequested() {
		return ErrStopped
	}

	s.loopDone = make(chan struct{})
	go s.run(passCtx, conn, s.engine, s.loopDone)

	s.setState(Watching)
	s.log.WithField("local", s.settings.LocalPath).Info("Sync watching")
	return nil
}

// Stop releases the session's watch and connection. A pass that's already
// running is allowed to finish first, but no new pass starts once Stop has
// been called. Stop is safe to call multiple times, from any state, and
// concurrently with Start.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)

		s.lifecycle.Lock()
		defer s.lifecycle.Unlock()

		switch s.State() {
		case Failed, Stopped:
			return
		case Idle:
			s.setState(Stopped)
			return
		}

		s.setState(Stopping)
		s.release()
		s.setState(Stopped)
		s.log.Info("Sync stopped")
	})
}

func (s *Session) run(ctx context.Context, conn transfer.Connection,
	engine *debounce.Engine, done chan<- struct{}) {
	defer close(done)
	defer handlePanic()

	for {
		select {
		case <-s.stop:
			return
		case <-engine.Triggers():
		}

		// Both channels may have been ready, in which case select picks
		// randomly.
		if s.stopRequested() {
			return
		}

		s.setState(Resyncing)
		s.log.Debug("Starting sync")
		s.synchronize(ctx, conn)
		s.log.Debug("Sync completed")
		s.setState(Watching)
	}
}

// synchronize runs a single pass. Errors are reported, and never affect the
// session's state.
func (s *Session) synchronize(ctx context.Context, conn transfer.Connection) {
	res, err := conn.Synchronize(ctx, transfer.Request{
		LocalPath:  s.settings.LocalPath,
		RemotePath: s.settings.RemotePath,
		FileMask:   s.settings.FileMask,
		Exclude:    s.cfg.Exclude,
	})
	if err != nil {
		s.cfg.Reporter.Error(err, "Directory synchronization failed")
	}
	s.reportResult(res)
}

// fail releases everything acquired so far and moves the session to Failed.
func (s *Session) fail(err error, msg string) error {
	s.cfg.Reporter.Error(err, msg)
	s.release()
	s.setState(Failed)
	return err
}

// release frees the session's resources in reverse order of acquisition. The
// run loop is waited on before the connection is closed so that a pass in
// flight completes.
func (s *Session) release() {
	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close watch")
		}
		s.sub = nil
	}

	if s.engine != nil {
		s.engine.Stop()
		s.engine = nil
	}

	if s.loopDone != nil {
		<-s.loopDone
		s.loopDone = nil
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close connection")
		}
		s.conn = nil
	}
}

// setState records the transition. Once a session is stopping, only the
// transition to Stopped is allowed, so that a pass finishing concurrently
// with Stop can't move it back to Watching.
func (s *Session) setState(state State) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	switch s.state {
	case Stopped, Failed:
		return
	case Stopping:
		if state != Stopped {
			return
		}
	}

	if s.state == state {
		return
	}
	s.log.WithField("state", state).Debugf("%s -> %s", s.state, state)
	s.state = state
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Session) options() transfer.Options {
	return transfer.Options{
		HostName:           s.settings.HostName,
		Port:               s.settings.Port,
		UserName:           s.settings.UserName,
		HostKeyFingerprint: s.settings.SSHHostKeyFingerprint,
		PrivateKeyPath:     s.settings.PrivateKeyPath,
		ReconnectInterval:  s.cfg.ReconnectInterval,
	}
}
