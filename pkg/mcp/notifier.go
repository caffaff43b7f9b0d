package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

const notificationMethod = "notifications/message"

// ClientNotifier sends a notification to one MCP session. *server.MCPServer satisfies it.
type ClientNotifier interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// RunNotifier pushes run events to the MCP session that started the run.
type RunNotifier struct {
	target   ClientNotifier
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewRunNotifier creates a notifier. logger may be nil.
func NewRunNotifier(target ClientNotifier, sessions *SessionRegistry, logger *slog.Logger) *RunNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunNotifier{target: target, sessions: sessions, logger: logger}
}

// Notify sends ev to its run's session.
// Best-effort: returns nil if the run has no tracked session.
func (n *RunNotifier) Notify(ev streaming.RunEvent) error {
	sessionID, ok := n.sessions.SessionFor(ev.RunID)
	if !ok {
		return nil
	}
	if ev.Type == schema.EventRunSucceeded || ev.Type == schema.EventRunFailed {
		defer n.sessions.Remove(ev.RunID)
	}

	err := n.target.SendNotificationToSpecificClient(sessionID, notificationMethod, map[string]any{
		"level":  "info",
		"logger": "nodeflow",
		"data":   ev,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away after the run started.
		n.sessions.RemoveSession(sessionID)
		return nil
	}
	return err
}

// Forward notifies every event received on ch until ch closes or ctx ends.
func (n *RunNotifier) Forward(ctx context.Context, ch <-chan streaming.RunEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := n.Notify(ev); err != nil {
				n.logger.WarnContext(ctx, "run notification failed",
					"run_id", ev.RunID,
					"event", ev.Type,
					"error", err.Error(),
				)
			}
		}
	}
}
