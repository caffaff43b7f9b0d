package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Executor runs workflow graphs. *engine.WorkflowExecutor satisfies it.
type Executor interface {
	Execute(ctx context.Context, def *schema.Graph, opts engine.RunOptions) (*engine.RunExecutionData, error)
}

// Validator checks graphs before they are stored. *validation.WorkflowValidator satisfies it.
type Validator interface {
	Validate(def *schema.Graph) *schema.ValidationResult
}

// NodeCatalog lists node types. *nodes.Registry satisfies it.
type NodeCatalog interface {
	List() []nodes.Info
	Describe(name string) (nodes.Descriptor, bool)
}

// ScheduleAdder creates cron schedules. *scheduler.Scheduler satisfies it.
type ScheduleAdder interface {
	AddSchedule(ctx context.Context, workflowID, cronExpr string, seed schema.Items) (*store.Schedule, error)
}

// RunReplayer rebuilds per-node state from persisted run events. *store.EventLog satisfies it.
type RunReplayer interface {
	Replay(ctx context.Context, runID string) (map[string]*store.NodeState, error)
}

// NodeflowServerDeps holds the dependencies for creating a NodeflowServer.
// Store, Scheduler, Events and Hub are optional; tools that need a missing
// dependency report an error result.
type NodeflowServerDeps struct {
	Executor  Executor
	Validator Validator
	Nodes     NodeCatalog
	Store     store.Store
	Scheduler ScheduleAdder
	Events    RunReplayer
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// NodeflowServer wraps an MCP server with nodeflow tool handlers.
type NodeflowServer struct {
	executor  Executor
	validator Validator
	nodes     NodeCatalog
	store     store.Store
	scheduler ScheduleAdder
	events    RunReplayer
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewNodeflowServer creates a NodeflowServer with all 6 tools registered.
func NewNodeflowServer(deps NodeflowServerDeps) *NodeflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &NodeflowServer{
		executor:  deps.Executor,
		validator: deps.Validator,
		nodes:     deps.Nodes,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		events:    deps.Events,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"nodeflow",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Nodeflow executes node-based workflow graphs. Use nodeflow.nodes to discover node types, nodeflow.validate to check a graph, nodeflow.run to execute a graph or a saved workflow, nodeflow.define to save a workflow and optionally schedule it, nodeflow.runs to inspect past runs, and nodeflow.diagram to draw a graph."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Version is reported to MCP clients during initialization.
var Version = "dev"

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
// When a hub is configured, run events are pushed to the session that started the run.
func (s *NodeflowServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		ch, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			return err
		}
		defer unsubscribe()
		notifier := NewRunNotifier(s.mcpServer, s.sessions, s.logger)
		go notifier.Forward(ctx, ch)
	}

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *NodeflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the run-to-session registry used for event notifications.
func (s *NodeflowServer) Sessions() *SessionRegistry {
	return s.sessions
}

// tools returns the 6 registered MCP tools as ServerTool entries.
func (s *NodeflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: nodesTool(), Handler: s.handleNodes},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runsTool(), Handler: s.handleRuns},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("nodeflow.run",
		mcp.WithDescription("Execute a workflow graph or a saved workflow"),
		mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow to execute")),
		mcp.WithObject("graph", mcp.Description("Inline workflow graph (used when workflow_id is empty)")),
		mcp.WithString("destination", mcp.Description("Run only the nodes needed to reach this node")),
		mcp.WithArray("seed", mcp.Description("Seed items handed to entry nodes")),
		mcp.WithBoolean("save", mcp.Description("Persist the run record (always true for saved workflows)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("nodeflow.validate",
		mcp.WithDescription("Validate a workflow graph without executing it"),
		mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow to validate")),
		mcp.WithObject("graph", mcp.Description("Inline workflow graph (used when workflow_id is empty)")),
	)
}

func nodesTool() mcp.Tool {
	return mcp.NewTool("nodeflow.nodes",
		mcp.WithDescription("List available node types"),
		mcp.WithString("name", mcp.Description("Return the full descriptor of this node type")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("nodeflow.define",
		mcp.WithDescription("Save a workflow graph and optionally schedule it"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Workflow graph")),
		mcp.WithString("id", mcp.Description("Workflow ID (default: graph id, or a new UUID)")),
		mcp.WithString("name", mcp.Description("Workflow name (default: graph name)")),
		mcp.WithString("cron", mcp.Description("Cron expression to run the workflow on")),
		mcp.WithArray("seed", mcp.Description("Seed items for scheduled runs")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("nodeflow.runs",
		mcp.WithDescription("Get a run record or list past runs"),
		mcp.WithString("run_id", mcp.Description("Return this run with its per-node state")),
		mcp.WithString("workflow_id", mcp.Description("Only runs of this workflow")),
		mcp.WithString("status",
			mcp.Enum("succeeded", "failed"),
			mcp.Description("Only runs with this status"),
		),
		mcp.WithString("trigger",
			mcp.Enum(store.TriggerManual, store.TriggerSchedule, store.TriggerMCP),
			mcp.Description("Only runs started by this trigger"),
		),
		mcp.WithString("since", mcp.Description("Only runs started at or after this RFC3339 time")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default: 50)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("nodeflow.diagram",
		mcp.WithDescription("Draw a workflow graph as ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow to draw")),
		mcp.WithObject("graph", mcp.Description("Inline workflow graph (used when workflow_id is empty)")),
		mcp.WithString("run_id", mcp.Description("Overlay the outcome of this stored run")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
