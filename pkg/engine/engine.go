// Package engine is the caller-facing façade: it wires the profile store,
// session manager, validator, template engine, and executor into the
// operations callers see.
package engine

import (
	"context"

	"github.com/marionet/marionet/pkg/config"
	"github.com/marionet/marionet/pkg/executor"
	"github.com/marionet/marionet/pkg/logging"
	"github.com/marionet/marionet/pkg/profile"
	"github.com/marionet/marionet/pkg/script"
	"github.com/marionet/marionet/pkg/session"
	"github.com/marionet/marionet/pkg/types"
)

// Engine coordinates one user's browser sessions and script runs.
type Engine struct {
	cfg       *config.Config
	store     *profile.Store
	manager   *session.Manager
	validator *script.Validator
	executor  *executor.Executor
	log       *logging.Logger
}

// New builds an engine from configuration and a launcher. Constructing the
// session manager runs the orphan sweep, so a crashed prior run's ephemeral
// directories are gone by the time New returns.
func New(cfg *config.Config, launcher session.Launcher) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, _ := logging.NewLogger("engine")

	store, err := profile.NewStore(cfg.ProfilesRoot)
	if err != nil {
		return nil, err
	}

	validator, err := script.NewValidator(cfg.AllowedMethods)
	if err != nil {
		return nil, err
	}

	manager, err := session.NewManager(store, launcher, session.Config{
		TempRoot:      cfg.TempRoot,
		MaxSessions:   cfg.MaxSessions,
		LaunchTimeout: cfg.LaunchTimeout,
		CloseGrace:    cfg.CloseGrace,
		Headless:      cfg.Headless,
	}, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		store:     store,
		manager:   manager,
		validator: validator,
		executor:  executor.New(cfg.CommandTimeout, log),
		log:       log,
	}, nil
}

// Profiles exposes profile CRUD to callers.
func (e *Engine) Profiles() *profile.Store {
	return e.store
}

// LaunchSession resolves a profile by precedence and launches a session
// bound to it, returning the new session's id.
func (e *Engine) LaunchSession(ctx context.Context, sel profile.Selector) (string, error) {
	snapshot, err := e.store.Snapshot()
	if err != nil {
		return "", err
	}

	prof, err := profile.Resolve(sel, snapshot)
	if err != nil {
		return "", err
	}

	sess, err := e.manager.Launch(ctx, prof)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// CloseSession closes a session. Unknown and already-closed ids are a
// no-op success.
func (e *Engine) CloseSession(ctx context.Context, id string) error {
	return e.manager.Close(ctx, id)
}

// CloseAllSessions closes every live session.
func (e *Engine) CloseAllSessions(ctx context.Context) error {
	return e.manager.CloseAll(ctx)
}

// ListActiveSessions returns a snapshot of every live session.
func (e *Engine) ListActiveSessions() []session.Info {
	return e.manager.List()
}

// Execute validates a script against the allowed command set, substitutes
// the bindings, and runs the resulting commands on the given session.
// Validation and binding problems surface as typed errors before anything
// touches the browser; execution failures are reported inside the result.
func (e *Engine) Execute(ctx context.Context, sessionID string, def *types.ScriptDefinition, bindings []types.Binding) (*types.ExecutionResult, error) {
	if report := e.validator.Validate(def, bindings); !report.OK() {
		e.log.Warnf("script %q rejected: %d violation(s)", def.Name, len(report.Violations))
		return nil, report.Error()
	}

	commands, err := script.Substitute(def, bindings)
	if err != nil {
		return nil, err
	}

	sess, err := e.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if err := sess.BeginExecution(); err != nil {
		return nil, err
	}
	defer sess.EndExecution()

	transport := sess.Transport()
	if transport == nil {
		return nil, types.NewError(types.KindProcess,
			"session %s has no live transport", sessionID)
	}

	e.log.Infof("executing script %q (%d commands) on session %s",
		def.Name, len(commands), sessionID)
	return e.executor.Run(ctx, transport, commands), nil
}
