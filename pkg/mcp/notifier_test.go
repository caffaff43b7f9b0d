package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentNotification struct {
	sessionID string
	method    string
	params    map[string]any
}

type fakeClientNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (f *fakeClientNotifier) SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{sessionID: sessionID, method: method, params: params})
	return nil
}

func (f *fakeClientNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestRunNotifier_SendsToRunSession(t *testing.T) {
	target := &fakeClientNotifier{}
	sessions := NewSessionRegistry()
	sessions.Register("run-1", "session-1")
	n := NewRunNotifier(target, sessions, nil)

	ev := streaming.RunEvent{RunID: "run-1", Node: "Set", Type: schema.EventNodeCompleted}
	require.NoError(t, n.Notify(ev))

	require.Len(t, target.sent, 1)
	assert.Equal(t, "session-1", target.sent[0].sessionID)
	assert.Equal(t, "notifications/message", target.sent[0].method)
	assert.Equal(t, ev, target.sent[0].params["data"])

	_, ok := sessions.SessionFor("run-1")
	assert.True(t, ok, "non-terminal events keep the mapping")
}

func TestRunNotifier_UnknownRunIsNoop(t *testing.T) {
	target := &fakeClientNotifier{}
	n := NewRunNotifier(target, NewSessionRegistry(), nil)

	require.NoError(t, n.Notify(streaming.RunEvent{RunID: "other", Type: schema.EventRunStarted}))
	assert.Equal(t, 0, target.count())
}

func TestRunNotifier_TerminalEventReleasesRun(t *testing.T) {
	target := &fakeClientNotifier{}
	sessions := NewSessionRegistry()
	sessions.Register("run-1", "session-1")
	n := NewRunNotifier(target, sessions, nil)

	require.NoError(t, n.Notify(streaming.RunEvent{RunID: "run-1", Type: schema.EventRunSucceeded}))
	assert.Equal(t, 1, target.count())
	assert.Equal(t, 0, sessions.Len())
}

func TestRunNotifier_SessionGone(t *testing.T) {
	target := &fakeClientNotifier{err: server.ErrSessionNotFound}
	sessions := NewSessionRegistry()
	sessions.Register("run-1", "session-1")
	sessions.Register("run-2", "session-1")
	n := NewRunNotifier(target, sessions, nil)

	require.NoError(t, n.Notify(streaming.RunEvent{RunID: "run-1", Type: schema.EventNodeStarted}))
	assert.Equal(t, 0, sessions.Len())
}

func TestRunNotifier_SendError(t *testing.T) {
	target := &fakeClientNotifier{err: errors.New("broken pipe")}
	sessions := NewSessionRegistry()
	sessions.Register("run-1", "session-1")
	n := NewRunNotifier(target, sessions, nil)

	err := n.Notify(streaming.RunEvent{RunID: "run-1", Type: schema.EventNodeStarted})
	assert.Error(t, err)
}

func TestRunNotifier_ForwardFromHub(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{})
	require.NoError(t, err)
	defer unsubscribe()

	target := &fakeClientNotifier{}
	sessions := NewSessionRegistry()
	sessions.Register("run-1", "session-1")
	n := NewRunNotifier(target, sessions, nil)

	done := make(chan struct{})
	go func() {
		n.Forward(ctx, ch)
		close(done)
	}()

	require.NoError(t, hub.Publish(ctx, streaming.RunEvent{RunID: "run-1", Type: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, streaming.RunEvent{RunID: "run-2", Type: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, streaming.RunEvent{RunID: "run-1", Type: schema.EventRunFailed}))

	assert.Eventually(t, func() bool { return target.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not stop after cancel")
	}
}
