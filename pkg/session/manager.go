package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marionet/marionet/pkg/logging"
	"github.com/marionet/marionet/pkg/profile"
	"github.com/marionet/marionet/pkg/types"
)

// ephemeralPrefix names the temp directories the manager creates for
// ephemeral profiles, and is what the startup sweep looks for.
const ephemeralPrefix = "ephemeral-"

// Config holds the manager's tunables.
type Config struct {
	// TempRoot is where ephemeral profile directories are created
	TempRoot string

	// MaxSessions caps the number of concurrently live sessions
	MaxSessions int

	// LaunchTimeout bounds the wait for browser readiness
	LaunchTimeout time.Duration

	// CloseGrace bounds the wait for graceful termination before force-kill
	CloseGrace time.Duration

	// Headless is passed through to the launcher
	Headless bool
}

// CleanupFailure records a cleanup step that failed after its operation
// already succeeded. Tracked separately so it never overwrites an outcome.
type CleanupFailure struct {
	SessionID string
	Path      string
	Err       error
	At        time.Time
}

// Manager owns every live session. It serializes registry mutations, holds
// the named-profile lock set through the Store, and sweeps orphaned
// ephemeral directories on construction.
type Manager struct {
	store    *profile.Store
	launcher Launcher
	cfg      Config
	log      *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	pending  int // launches in flight, counted against MaxSessions

	failuresMu      sync.Mutex
	cleanupFailures []CleanupFailure
}

// NewManager creates a session manager and runs the mandatory recovery
// sweep: any ephemeral directory left under the temp root by a prior crash
// is deleted before any session can exist.
func NewManager(store *profile.Store, launcher Launcher, cfg Config, log *logging.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if cfg.TempRoot == "" {
		return nil, types.NewError(types.KindConfiguration, "temp root must not be empty")
	}
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 1
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 30 * time.Second
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = 5 * time.Second
	}

	if log == nil {
		log, _ = logging.NewLogger("session-manager")
	}

	if err := os.MkdirAll(cfg.TempRoot, 0750); err != nil {
		return nil, fmt.Errorf("failed to create temp root: %w", err)
	}

	m := &Manager{
		store:    store,
		launcher: launcher,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*Session),
	}

	if err := m.sweepOrphans(); err != nil {
		return nil, err
	}
	return m, nil
}

// sweepOrphans deletes ephemeral profile directories left by prior crashes.
func (m *Manager) sweepOrphans() error {
	entries, err := os.ReadDir(m.cfg.TempRoot)
	if err != nil {
		return fmt.Errorf("failed to read temp root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ephemeralPrefix) {
			continue
		}
		path := filepath.Join(m.cfg.TempRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.log.Warnf("startup sweep could not remove orphan %s: %v", path, err)
			m.recordCleanupFailure("", path, err)
			continue
		}
		m.log.Infof("startup sweep removed orphaned ephemeral profile %s", path)
	}
	return nil
}

// Launch starts a new session bound to the given profile and registers it
// once the browser is ready. On any failure the partially started process
// and profile resources are cleaned up and nothing is registered.
func (m *Manager) Launch(ctx context.Context, prof profile.Profile) (*Session, error) {
	if err := m.reserve(); err != nil {
		return nil, err
	}
	defer m.unreserve()

	id := uuid.New().String()

	// Bind the profile: materialize an ephemeral directory, or take the
	// exclusive lock on a named one. Exactly one racing launch against the
	// same named profile can pass this point.
	switch prof.Kind {
	case profile.KindEphemeral:
		dir, err := os.MkdirTemp(m.cfg.TempRoot, ephemeralPrefix+"*")
		if err != nil {
			return nil, fmt.Errorf("failed to create ephemeral profile directory: %w", err)
		}
		prof.Dir = dir
	case profile.KindNamed:
		if err := m.store.Acquire(prof.Name, id); err != nil {
			return nil, err
		}
	default:
		return nil, types.NewError(types.KindConfiguration, "unknown profile kind %q", prof.Kind)
	}

	handle, err := m.startWithRetry(ctx, LaunchSpec{Profile: prof, Headless: m.cfg.Headless})
	if err != nil {
		m.releaseProfile(id, prof)
		return nil, err
	}

	sess := &Session{
		ID:        id,
		Profile:   prof,
		StartedAt: time.Now(),
		status:    StatusStarting,
		handle:    handle,
	}
	if err := sess.transition(StatusReady); err != nil {
		// Unreachable with a fresh session, but never register one that
		// failed to reach Ready.
		handle.Kill()
		m.releaseProfile(id, prof)
		return nil, err
	}

	if prof.Kind == profile.KindNamed {
		if err := m.store.Touch(prof.Name); err != nil {
			m.log.Warnf("failed to update last-used for profile %q: %v", prof.Name, err)
		}
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.Infof("session %s launched on %s", id, prof)
	return sess, nil
}

// startWithRetry starts the process and waits for readiness. A launch
// timeout or process failure is retried once internally before surfacing.
func (m *Manager) startWithRetry(ctx context.Context, spec LaunchSpec) (Handle, error) {
	handle, err := m.startOnce(ctx, spec)
	if err == nil {
		return handle, nil
	}

	switch types.KindOf(err) {
	case types.KindTimeout, types.KindProcess:
		m.log.Warnf("launch attempt failed (%v), retrying once", err)
		return m.startOnce(ctx, spec)
	}
	return nil, err
}

func (m *Manager) startOnce(ctx context.Context, spec LaunchSpec) (Handle, error) {
	handle, err := m.launcher.Start(ctx, spec)
	if err != nil {
		return nil, types.WrapError(types.KindProcess, err, "failed to start browser process")
	}

	timer := time.NewTimer(m.cfg.LaunchTimeout)
	defer timer.Stop()

	select {
	case <-handle.Ready():
		return handle, nil
	case <-handle.Done():
		return nil, types.WrapError(types.KindProcess,
			handle.Err(), "browser process exited before becoming ready")
	case <-timer.C:
		handle.Kill()
		return nil, types.WrapError(types.KindTimeout, types.ErrLaunchTimeout,
			"no readiness signal within %v", m.cfg.LaunchTimeout)
	case <-ctx.Done():
		handle.Kill()
		return nil, ctx.Err()
	}
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, types.WrapError(types.KindUnavailable, types.ErrSessionNotFound,
			"session %s", id)
	}
	return sess, nil
}

// Close tears down a session: graceful termination within the grace period,
// force-kill if still alive, then profile cleanup. Closing an unknown or
// already-closed session is a no-op success.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if !sess.beginClose() {
		// Another close is already in progress or finished.
		return nil
	}

	m.terminate(ctx, sess)
	m.cleanupProfile(sess)

	if err := sess.transition(StatusClosed); err != nil {
		m.log.Errorf("session %s: %v", id, err)
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.log.Infof("session %s closed", id)
	return nil
}

// terminate stops the session's process: graceful first, then one forced
// attempt, retried once if the process still does not exit.
func (m *Manager) terminate(ctx context.Context, sess *Session) {
	handle := sess.handle
	if handle == nil {
		return
	}

	if transport := handle.Transport(); transport != nil {
		if err := transport.Close(); err != nil {
			m.log.Debugf("session %s: transport close: %v", sess.ID, err)
		}
	}

	graceCtx, cancel := context.WithTimeout(ctx, m.cfg.CloseGrace)
	defer cancel()

	if err := handle.Terminate(graceCtx); err != nil {
		m.log.Warnf("session %s: graceful terminate failed: %v", sess.ID, err)
	}

	select {
	case <-handle.Done():
		return
	case <-graceCtx.Done():
	}

	// Still alive after the grace period: force it, with one retry.
	for attempt := 0; attempt < 2; attempt++ {
		if err := handle.Kill(); err != nil {
			m.log.Warnf("session %s: kill attempt %d failed: %v", sess.ID, attempt+1, err)
			continue
		}
		break
	}

	killTimer := time.NewTimer(m.cfg.CloseGrace)
	defer killTimer.Stop()
	select {
	case <-handle.Done():
	case <-killTimer.C:
		m.log.Errorf("session %s: process did not exit after force kill", sess.ID)
	}
}

// cleanupProfile releases the session's profile resources. Failures are
// logged and tracked; they never change the outcome of the close.
func (m *Manager) cleanupProfile(sess *Session) {
	switch sess.Profile.Kind {
	case profile.KindEphemeral:
		if err := os.RemoveAll(sess.Profile.Dir); err != nil {
			m.log.Errorf("session %s: failed to delete ephemeral profile %s: %v",
				sess.ID, sess.Profile.Dir, err)
			m.recordCleanupFailure(sess.ID, sess.Profile.Dir, err)
		}
	case profile.KindNamed:
		m.store.Release(sess.Profile.Name, sess.ID)
		if err := m.store.Touch(sess.Profile.Name); err != nil {
			m.log.Warnf("session %s: failed to update last-used for %q: %v",
				sess.ID, sess.Profile.Name, err)
		}
	}
}

// releaseProfile undoes profile binding after a failed launch.
func (m *Manager) releaseProfile(id string, prof profile.Profile) {
	switch prof.Kind {
	case profile.KindEphemeral:
		if err := os.RemoveAll(prof.Dir); err != nil {
			m.log.Errorf("failed to delete ephemeral profile %s after launch failure: %v",
				prof.Dir, err)
			m.recordCleanupFailure(id, prof.Dir, err)
		}
	case profile.KindNamed:
		m.store.Release(prof.Name, id)
	}
}

// CloseAll closes every tracked session concurrently.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.Close(ctx, id)
		})
	}
	return g.Wait()
}

// List returns a snapshot of every tracked session.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.info())
	}
	return infos
}

// CleanupFailures returns the cleanup steps that failed so far.
func (m *Manager) CleanupFailures() []CleanupFailure {
	m.failuresMu.Lock()
	defer m.failuresMu.Unlock()
	out := make([]CleanupFailure, len(m.cleanupFailures))
	copy(out, m.cleanupFailures)
	return out
}

func (m *Manager) recordCleanupFailure(sessionID, path string, err error) {
	m.failuresMu.Lock()
	defer m.failuresMu.Unlock()
	m.cleanupFailures = append(m.cleanupFailures, CleanupFailure{
		SessionID: sessionID,
		Path:      path,
		Err:       err,
		At:        time.Now(),
	})
}

// reserve counts a launch attempt against the session cap.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions)+m.pending >= m.cfg.MaxSessions {
		return types.NewError(types.KindContention,
			"maximum number of sessions (%d) reached", m.cfg.MaxSessions)
	}
	m.pending++
	return nil
}

func (m *Manager) unreserve() {
	m.mu.Lock()
	m.pending--
	m.mu.Unlock()
}
