package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/scheduler"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/mcp"
	"github.com/rendis/nodeflow/pkg/schema"
)

const usageText = `Usage: nodeflow <command> [flags] [args]

Commands:
  run [-destination NODE] [-seed FILE] [-save] <graph.json>
                 execute a workflow graph and print the run record
  validate <graph.json>
                 check a workflow graph without running it
  nodes [-json]  list available node types
  diagram [-format ascii|mermaid|png] [-run RECORD] [-o FILE] <graph.json>
                 draw a workflow graph, optionally with a run's outcome
  serve          serve MCP over stdio and run scheduled workflows
  version        print the version
`

// errRunFailed is returned after a failed run's record has been printed.
var errRunFailed = errors.New("run failed")

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(os.Args[1:], cfg, os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, cfg Config, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	var err error
	switch args[0] {
	case "run":
		err = runRun(args[1:], cfg, stdout, stderr)
	case "validate":
		err = runValidate(args[1:], cfg, stdout, stderr)
	case "nodes":
		err = runNodes(args[1:], cfg, stdout, stderr)
	case "diagram":
		err = runDiagram(args[1:], stdout, stderr)
	case "serve":
		err = runServe(args[1:], cfg, stderr)
	case "version", "-v", "--version":
		printVersion(stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n%s", args[0], usageText)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func runRun(args []string, cfg Config, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	destination := fs.String("destination", "", "run only the nodes needed to reach this node")
	seedPath := fs.String("seed", "", "JSON file holding seed items (object or array)")
	save := fs.Bool("save", false, "persist the run record and its events")
	dbPath := fs.String("db-path", cfg.DBPath, "database path used with -save")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("run expects exactly one graph file")
	}

	def, err := readGraph(fs.Arg(0))
	if err != nil {
		return err
	}
	seed, err := readSeed(*seedPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg, stderr)
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	execCfg, err := cfg.executorConfig()
	if err != nil {
		return err
	}

	var (
		hub      streaming.EventHub
		st       *store.LibSQLStore
		flushLog func()
	)
	if *save {
		if st, err = openStore(ctx, *dbPath); err != nil {
			return err
		}
		defer st.Close()
		hub, flushLog, err = followEvents(ctx, st, logger)
		if err != nil {
			return err
		}
	}

	executor := engine.NewWorkflowExecutor(reg, execCfg, logger, hub)
	rec, runErr := executor.Execute(ctx, def, engine.RunOptions{
		Destination: *destination,
		SeedData:    seed,
	})
	if flushLog != nil {
		flushLog()
	}
	if rec == nil {
		return runErr
	}

	if st != nil {
		if err := saveRun(ctx, st, def, rec); err != nil {
			return err
		}
		logger.Info("run saved", "run_id", rec.RunID, "db_path", *dbPath)
	}

	if err := writeJSON(stdout, rec); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("%w: %v", errRunFailed, runErr)
	}
	return nil
}

func runValidate(args []string, cfg Config, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("validate expects exactly one graph file")
	}

	def, err := readGraph(fs.Arg(0))
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	validator, err := validation.NewWorkflowValidator(reg)
	if err != nil {
		return err
	}

	vr := validator.Validate(def)
	for _, issue := range vr.Errors {
		fmt.Fprintf(stdout, "error    %s\n", issue)
	}
	for _, issue := range vr.Warnings {
		fmt.Fprintf(stdout, "warning  %s\n", issue)
	}
	if !vr.Valid() {
		return fmt.Errorf("%s: %d error(s)", fs.Arg(0), len(vr.Errors))
	}
	fmt.Fprintf(stdout, "%s: valid (%d node(s), %d warning(s))\n", fs.Arg(0), len(def.Nodes), len(vr.Warnings))
	return nil
}

func runNodes(args []string, cfg Config, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("nodes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print full descriptors as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	infos := reg.List()

	if *asJSON {
		descs := make([]nodes.Descriptor, 0, len(infos))
		for _, info := range infos {
			if d, ok := reg.Describe(info.Name); ok {
				descs = append(descs, d)
			}
		}
		return writeJSON(stdout, descs)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINPUTS\tOUTPUTS\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", info.Name, info.Inputs, info.Outputs, info.Description)
	}
	return tw.Flush()
}

func runServe(args []string, cfg Config, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db-path", cfg.DBPath, "database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout carries the MCP protocol; logs go to stderr only.
	logger := newLogger(cfg, stderr)

	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	execCfg, err := cfg.executorConfig()
	if err != nil {
		return err
	}
	interval, err := cfg.schedulerInterval()
	if err != nil {
		return err
	}
	validator, err := validation.NewWorkflowValidator(reg)
	if err != nil {
		return err
	}

	hub, flushLog, err := followEvents(ctx, st, logger)
	if err != nil {
		return err
	}
	defer flushLog()

	executor := engine.NewWorkflowExecutor(reg, execCfg, logger, hub)
	sched := scheduler.NewScheduler(st, executor, logger, scheduler.WithTickInterval(interval))
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("schedule recovery failed", "error", err.Error())
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	mcp.Version = version
	srv := mcp.NewNodeflowServer(mcp.NodeflowServerDeps{
		Executor:  executor,
		Validator: validator,
		Nodes:     reg,
		Store:     st,
		Scheduler: sched,
		Events:    store.NewEventLog(st),
		Hub:       hub,
		Logger:    logger,
	})

	logger.Info("nodeflow serving MCP over stdio",
		"version", version,
		"db_path", *dbPath,
		"node_types", reg.Count(),
		"scheduler_interval", interval.String(),
	)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// --- Wiring helpers ---

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logging.ParseLevel(cfg.LogLevel)})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func newRegistry(cfg Config) (*nodes.Registry, error) {
	bc, err := cfg.builtinConfig()
	if err != nil {
		return nil, err
	}
	return nodes.NewBuiltinRegistry(bc)
}

func openStore(ctx context.Context, dbPath string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + dbPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return st, nil
}

// followEvents wires an in-memory hub into the persistent event log.
// flush unsubscribes and waits until every buffered event is written.
func followEvents(ctx context.Context, st *store.LibSQLStore, logger *slog.Logger) (streaming.EventHub, func(), error) {
	hub := streaming.NewMemoryHub()
	ch, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		store.NewEventLog(st).Follow(ctx, ch, logger)
	}()
	flush := func() {
		unsubscribe()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn("event log did not drain in time")
		}
	}
	return hub, flush, nil
}

// saveRun stores the run record, and the graph itself when it carries an ID.
func saveRun(ctx context.Context, st store.Store, def *schema.Graph, rec *engine.RunExecutionData) error {
	if def.ID != "" {
		now := time.Now().UTC()
		wf := &store.Workflow{ID: def.ID, Name: def.Name, Graph: *def, CreatedAt: now, UpdatedAt: now}
		if err := st.SaveWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("save workflow: %w", err)
		}
	}
	run, err := store.NewRun(rec, store.TriggerManual)
	if err != nil {
		return err
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func readGraph(path string) (*schema.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var def schema.Graph
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}
	return &def, nil
}

// readSeed loads seed items from a JSON object or array file. An empty path means no seed.
func readSeed(path string) (schema.Items, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return schema.NormalizeItems(raw)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
