package dmbox

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type testPlugin struct {
	name      string
	initErr   error
	closeErr  error
	beforeErr error
	afterErr  error

	mu       sync.Mutex
	closed   bool
	before   []SendRequest
	afterIDs []string
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) Init(context.Context) error { return p.initErr }

func (p *testPlugin) Close(context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.closeErr
}

func (p *testPlugin) BeforeSend(_ context.Context, _ string, req SendRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = append(p.before, req)
	return p.beforeErr
}

func (p *testPlugin) AfterSend(_ context.Context, _ string, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.afterIDs = append(p.afterIDs, messageID)
	return p.afterErr
}

func TestSendHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("hooks see deduplicated request and message id", func(t *testing.T) {
		hook := &testPlugin{name: "audit"}
		env := setupTestService(t, WithPlugin(hook))
		alice, bob := env.user(t, "alice"), env.user(t, "bob")

		id, err := env.svc.Client(alice.ID).Send(ctx, SendRequest{RecipientIDs: []string{bob.ID, bob.ID}})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if len(hook.before) != 1 || len(hook.before[0].RecipientIDs) != 1 {
			t.Fatalf("expected one BeforeSend with 1 recipient, got %+v", hook.before)
		}
		if len(hook.afterIDs) != 1 || hook.afterIDs[0] != id {
			t.Errorf("expected AfterSend with %s, got %v", id, hook.afterIDs)
		}
	})

	t.Run("BeforeSend error aborts send", func(t *testing.T) {
		hook := &testPlugin{name: "spam", beforeErr: errors.New("spam detected")}
		env := setupTestService(t, WithPlugin(hook))
		alice, bob := env.user(t, "alice"), env.user(t, "bob")

		_, err := env.svc.Client(alice.ID).Send(ctx, SendRequest{RecipientIDs: []string{bob.ID}})
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Plugin != "spam" || pe.Op != "BeforeSend" {
			t.Fatalf("expected BeforeSend PluginError, got %v", err)
		}
		sent, _ := env.store.FindSent(ctx, alice.ID)
		if len(sent) != 0 {
			t.Errorf("expected nothing stored, got %d messages", len(sent))
		}
	})

	t.Run("AfterSend error does not fail send", func(t *testing.T) {
		hook := &testPlugin{name: "notify", afterErr: errors.New("smtp down")}
		env := setupTestService(t, WithPlugin(hook))
		alice, bob := env.user(t, "alice"), env.user(t, "bob")

		if _, err := env.svc.Client(alice.ID).Send(ctx, SendRequest{RecipientIDs: []string{bob.ID}}); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
	})
}

func TestPluginRegistryClose(t *testing.T) {
	a := &testPlugin{name: "a", closeErr: errors.New("a failed")}
	b := &testPlugin{name: "b"}
	r := newPluginRegistry(nil)
	r.register(a)
	r.register(b)

	err := r.closeAll(context.Background())
	if !a.closed || !b.closed {
		t.Error("expected all plugins closed")
	}
	var pe *PluginError
	if !errors.As(err, &pe) || pe.Plugin != "a" || pe.Op != "close" {
		t.Errorf("expected close PluginError from a, got %v", err)
	}
}
