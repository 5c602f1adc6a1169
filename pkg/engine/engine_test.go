package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marionet/marionet/pkg/config"
	"github.com/marionet/marionet/pkg/profile"
	"github.com/marionet/marionet/pkg/session"
	"github.com/marionet/marionet/pkg/types"
)

// recordingTransport captures every protocol call it receives.
type recordingTransport struct {
	mu    sync.Mutex
	calls []call
	block chan struct{} // when set, Send waits for it before answering
}

type call struct {
	method string
	params map[string]interface{}
}

func (t *recordingTransport) Send(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	t.calls = append(t.calls, call{method: method, params: params})
	block := t.block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (t *recordingTransport) Close() error { return nil }

func (t *recordingTransport) recorded() []call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]call(nil), t.calls...)
}

// stubHandle is ready immediately and carries a recording transport.
type stubHandle struct {
	done      chan struct{}
	doneOnce  sync.Once
	transport *recordingTransport
}

func newStubHandle() *stubHandle {
	return &stubHandle{
		done:      make(chan struct{}),
		transport: &recordingTransport{},
	}
}

func (h *stubHandle) Ready() <-chan struct{} {
	ready := make(chan struct{})
	close(ready)
	return ready
}

func (h *stubHandle) Done() <-chan struct{}         { return h.done }
func (h *stubHandle) Err() error                    { return nil }
func (h *stubHandle) Transport() session.Transport  { return h.transport }
func (h *stubHandle) Kill() error                   { h.doneOnce.Do(func() { close(h.done) }); return nil }
func (h *stubHandle) Terminate(context.Context) error {
	h.doneOnce.Do(func() { close(h.done) })
	return nil
}

// stubLauncher remembers the handles it created so tests can reach the
// transports behind them.
type stubLauncher struct {
	mu      sync.Mutex
	handles []*stubHandle
}

func (l *stubLauncher) Start(_ context.Context, _ session.LaunchSpec) (session.Handle, error) {
	h := newStubHandle()
	l.mu.Lock()
	l.handles = append(l.handles, h)
	l.mu.Unlock()
	return h, nil
}

func (l *stubLauncher) lastHandle() *stubHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[len(l.handles)-1]
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		ProfilesRoot:   filepath.Join(root, "profiles"),
		TempRoot:       filepath.Join(root, "tmp"),
		MaxSessions:    4,
		LaunchTimeout:  time.Second,
		CloseGrace:     100 * time.Millisecond,
		CommandTimeout: time.Second,
		Headless:       true,
		AllowedMethods: []string{"Page.*", "DOM.*", "Runtime.evaluate"},
	}
}

func newTestEngine(t *testing.T) (*Engine, *stubLauncher) {
	t.Helper()
	launcher := &stubLauncher{}
	eng, err := New(testConfig(t), launcher)
	require.NoError(t, err)
	return eng, launcher
}

func navigateScript() *types.ScriptDefinition {
	return &types.ScriptDefinition{
		Name: "open-page",
		Params: []types.ParamDecl{
			{Name: "url", Type: types.ParamString, Required: true},
		},
		Commands: []types.Command{
			{Method: "Page.navigate", Params: map[string]interface{}{"url": "{{url}}"}},
			{Method: "Page.captureScreenshot"},
		},
	}
}

func TestEngine_LaunchExecuteClose(t *testing.T) {
	eng, launcher := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.LaunchSession(ctx, profile.Selector{})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, eng.ListActiveSessions(), 1)

	result, err := eng.Execute(ctx, id, navigateScript(), []types.Binding{
		{Name: "url", Value: "https://example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunSuccess, result.Status)
	require.Len(t, result.Outcomes, 2)

	// Bindings reached the transport substituted, not as raw tokens
	calls := launcher.lastHandle().transport.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "Page.navigate", calls[0].method)
	assert.Equal(t, "https://example.com", calls[0].params["url"])

	require.NoError(t, eng.CloseSession(ctx, id))
	assert.Empty(t, eng.ListActiveSessions())
}

func TestEngine_ExecuteUnknownSession(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Execute(context.Background(), "ghost", navigateScript(), []types.Binding{
		{Name: "url", Value: "https://example.com"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSessionNotFound))
}

func TestEngine_ExecuteRejectsDisallowedMethod(t *testing.T) {
	eng, launcher := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.LaunchSession(ctx, profile.Selector{})
	require.NoError(t, err)

	def := &types.ScriptDefinition{
		Name:     "escape",
		Commands: []types.Command{{Method: "Browser.close"}},
	}
	_, err = eng.Execute(ctx, id, def, nil)
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))

	// Validation failures never touch the browser
	assert.Empty(t, launcher.lastHandle().transport.recorded())
}

func TestEngine_ExecuteRejectsMissingBinding(t *testing.T) {
	eng, launcher := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.LaunchSession(ctx, profile.Selector{})
	require.NoError(t, err)

	_, err = eng.Execute(ctx, id, navigateScript(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMissingBinding))
	assert.Empty(t, launcher.lastHandle().transport.recorded())
}

func TestEngine_ExecuteSerializesPerSession(t *testing.T) {
	eng, launcher := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.LaunchSession(ctx, profile.Selector{})
	require.NoError(t, err)

	transport := launcher.lastHandle().transport
	transport.block = make(chan struct{})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = eng.Execute(ctx, id, navigateScript(), []types.Binding{
			{Name: "url", Value: "https://example.com"},
		})
	}()

	// Wait until the first run is holding the session
	require.Eventually(t, func() bool {
		return len(transport.recorded()) > 0
	}, time.Second, 5*time.Millisecond)

	_, err = eng.Execute(ctx, id, navigateScript(), []types.Binding{
		{Name: "url", Value: "https://example.org"},
	})
	require.Error(t, err)
	assert.Equal(t, types.KindContention, types.KindOf(err))

	close(transport.block)
	<-firstDone
}

func TestEngine_LaunchNamedProfileByPrecedence(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Profiles().Create("work")
	require.NoError(t, err)

	id, err := eng.LaunchSession(ctx, profile.Selector{CallerSelected: "work"})
	require.NoError(t, err)

	list := eng.ListActiveSessions()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "work", list[0].Profile)
}

func TestEngine_LaunchUnknownNamedProfile(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.LaunchSession(context.Background(), profile.Selector{CallerSelected: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProfileNotFound))
	assert.Empty(t, eng.ListActiveSessions())
}

func TestEngine_CloseAllSessions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := eng.LaunchSession(ctx, profile.Selector{})
		require.NoError(t, err)
	}
	require.Len(t, eng.ListActiveSessions(), 3)

	require.NoError(t, eng.CloseAllSessions(ctx))
	assert.Empty(t, eng.ListActiveSessions())
}

func TestEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSessions = 0

	_, err := New(cfg, &stubLauncher{})
	require.Error(t, err)
}
