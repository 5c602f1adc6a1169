// Package chromium implements the session launcher and protocol transport
// on top of Playwright-managed Chromium. Each session is a persistent
// browser context rooted at its profile directory, with a raw CDP session
// carrying the script commands.
package chromium

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/marionet/marionet/pkg/session"
)

// Runtime launches Chromium processes through Playwright. It implements
// session.Launcher.
type Runtime struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	initialized bool
}

// NewRuntime creates an uninitialized runtime. Initialize must be called
// before the first Start.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Initialize installs and starts the Playwright driver. Output is discarded
// so driver installation noise never reaches the caller's terminal.
func (r *Runtime) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	r.pw = pw
	r.initialized = true
	return nil
}

// Start launches a persistent Chromium context bound to the profile
// directory in spec. The returned handle's Ready channel closes once the
// context and its CDP session are usable.
func (r *Runtime) Start(ctx context.Context, spec session.LaunchSpec) (session.Handle, error) {
	r.mu.Lock()
	pw := r.pw
	initialized := r.initialized
	r.mu.Unlock()

	if !initialized {
		return nil, fmt.Errorf("chromium runtime not initialized")
	}
	if spec.Profile.Dir == "" {
		return nil, fmt.Errorf("profile directory is required")
	}

	h := &handle{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	// Launching is slow; run it async so the caller can bound the wait on
	// the readiness signal.
	go h.launch(pw, spec)

	return h, nil
}

// Shutdown stops the Playwright driver. Sessions must be closed first.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized || r.pw == nil {
		return nil
	}
	if err := r.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	r.pw = nil
	r.initialized = false
	return nil
}

// handle owns one persistent Chromium context.
type handle struct {
	ready chan struct{}
	done  chan struct{}

	mu         sync.Mutex
	browserCtx playwright.BrowserContext
	transport  *cdpTransport
	err        error
	doneOnce   sync.Once
}

func (h *handle) launch(pw *playwright.Playwright, spec session.LaunchSpec) {
	browserCtx, err := pw.Chromium.LaunchPersistentContext(
		spec.Profile.Dir,
		playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless: playwright.Bool(spec.Headless),
		},
	)
	if err != nil {
		h.fail(fmt.Errorf("failed to launch persistent context: %w", err))
		return
	}

	// A persistent context starts with one page; fall back to creating one.
	var page playwright.Page
	if pages := browserCtx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = browserCtx.NewPage()
		if err != nil {
			browserCtx.Close()
			h.fail(fmt.Errorf("failed to create page: %w", err))
			return
		}
	}

	cdp, err := browserCtx.NewCDPSession(page)
	if err != nil {
		browserCtx.Close()
		h.fail(fmt.Errorf("failed to open CDP session: %w", err))
		return
	}

	browserCtx.OnClose(func(playwright.BrowserContext) {
		h.doneOnce.Do(func() { close(h.done) })
	})

	h.mu.Lock()
	h.browserCtx = browserCtx
	h.transport = &cdpTransport{cdp: cdp}
	h.mu.Unlock()

	close(h.ready)
}

func (h *handle) fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *handle) Ready() <-chan struct{} { return h.ready }
func (h *handle) Done() <-chan struct{}  { return h.done }

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *handle) Transport() session.Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transport == nil {
		return nil
	}
	return h.transport
}

// Terminate closes the browser context, which shuts Chromium down
// gracefully for a persistent context.
func (h *handle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	browserCtx := h.browserCtx
	h.mu.Unlock()
	if browserCtx == nil {
		h.doneOnce.Do(func() { close(h.done) })
		return nil
	}

	errc := make(chan error, 1)
	go func() { errc <- browserCtx.Close() }()

	select {
	case err := <-errc:
		h.doneOnce.Do(func() { close(h.done) })
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill force-closes the browser behind the context.
func (h *handle) Kill() error {
	h.mu.Lock()
	browserCtx := h.browserCtx
	h.mu.Unlock()

	defer h.doneOnce.Do(func() { close(h.done) })

	if browserCtx == nil {
		return nil
	}
	if browser := browserCtx.Browser(); browser != nil {
		return browser.Close()
	}
	return browserCtx.Close()
}

// cdpTransport maps the transport port onto a raw Playwright CDP session.
type cdpTransport struct {
	mu     sync.Mutex
	cdp    playwright.CDPSession
	closed bool
}

// Send issues one protocol command and returns the raw result payload.
// The CDP client has no context plumbing, so the call runs in a goroutine
// and the context bounds how long we wait for it.
func (t *cdpTransport) Send(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport is closed")
	}
	cdp := t.cdp
	t.mu.Unlock()

	type reply struct {
		result interface{}
		err    error
	}
	replies := make(chan reply, 1)

	go func() {
		result, err := cdp.Send(method, params)
		replies <- reply{result: result, err: err}
	}()

	select {
	case r := <-replies:
		if r.err != nil {
			return nil, r.err
		}
		if r.result == nil {
			return nil, nil
		}
		data, err := json.Marshal(r.result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode command result: %w", err)
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close detaches the CDP session.
func (t *cdpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.cdp.Detach()
}
