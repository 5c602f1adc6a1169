// Package session owns the concurrency model of the engine: it launches,
// tracks, and tears down browser processes bound to profiles, and recovers
// orphaned ephemeral profile directories left behind by prior crashes.
package session

import (
	"context"
	"encoding/json"

	"github.com/marionet/marionet/pkg/profile"
)

// LaunchSpec describes the browser process to start.
type LaunchSpec struct {
	// Profile is the materialized profile the process is bound to; its Dir
	// is always set by the time the launcher sees it.
	Profile profile.Profile

	// Headless controls whether the browser runs without a window
	Headless bool
}

// Handle is the exclusively owned handle to one running browser process.
// Implementations deliver a readiness signal, a termination signal, and the
// protocol transport for the process.
type Handle interface {
	// Ready is closed once the browser is ready to accept protocol commands
	Ready() <-chan struct{}

	// Done is closed when the process has exited, for any reason
	Done() <-chan struct{}

	// Err reports why the process exited; nil before Done is closed or
	// after a clean shutdown
	Err() error

	// Transport returns the protocol transport bound to this process.
	// Only valid after Ready.
	Transport() Transport

	// Terminate requests graceful shutdown and returns without waiting;
	// observe Done for completion
	Terminate(ctx context.Context) error

	// Kill force-terminates the process
	Kill() error
}

// Launcher starts browser processes. It is the engine's boundary to the
// process-launching collaborator.
type Launcher interface {
	Start(ctx context.Context, spec LaunchSpec) (Handle, error)
}

// Transport sends remote-debugging protocol commands to a live browser.
// One command is in flight per session at a time; the executor enforces
// that by running commands strictly sequentially.
type Transport interface {
	Send(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error)
	Close() error
}
