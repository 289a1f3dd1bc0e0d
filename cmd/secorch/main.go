// Command secorch runs the security orchestration pipeline: it loads the
// layered configuration, starts the configured MCP tool-servers, builds the
// agents, and processes the configured queries.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gogentic/assistants"
	"github.com/effective-security/gogentic/callbacks"
	"github.com/effective-security/gogentic/pkg/llmfactory"
	"github.com/effective-security/gogentic/tools"
	"github.com/effective-security/secorch/internal/agent"
	"github.com/effective-security/secorch/internal/config"
	"github.com/effective-security/secorch/internal/mcptool"
	"github.com/effective-security/secorch/internal/model"
	"github.com/effective-security/secorch/internal/workflow"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/secorch", "cmd")

const configDir = "etc"

func main() {
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	xlog.SetGlobalLogLevel(xlog.INFO)

	if err := run(context.Background(), os.Stdout); err != nil {
		logger.KV(xlog.ERROR, "status", "failed", "err", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	loadDotEnv("")

	env := os.Getenv("ENV")
	if env == "" {
		return errors.New("ENV environment variable is required")
	}
	// Environment-specific secrets override the shared ones.
	loadDotEnv(env)

	cfg, err := config.Load(configDir, env)
	if err != nil {
		return err
	}
	if err := cfg.ValidateEnv(); err != nil {
		return err
	}
	if len(cfg.Workflow.Queries) == 0 {
		return errors.New("workflow.queries is empty")
	}

	f := llmfactory.New(&cfg.LLM)
	printer := assistants.WithCallback(callbacks.NewPrinter(out, callbacks.ModeDefault))

	// One tool-server process per platform, kept alive for the whole run.
	platformTools := map[model.Platform][]tools.ITool{}
	for _, platform := range model.AllPlatforms() {
		sc, err := cfg.Server(string(platform))
		if err != nil {
			return err
		}
		conn, err := mcptool.Open(ctx, sc)
		if err != nil {
			return err
		}
		defer conn.Close()
		platformTools[platform] = conn.Tools()
	}

	guardrail, err := agent.NewGuardrail(cfg, f, printer)
	if err != nil {
		return err
	}
	router, err := agent.NewRouter(cfg, f, printer)
	if err != nil {
		return err
	}
	aggregator, err := agent.NewAggregator(cfg, f, printer)
	if err != nil {
		return err
	}
	visualizer, err := agent.NewVisualizer(cfg, f, printer)
	if err != nil {
		return err
	}

	platforms := make([]workflow.PlatformAgent, 0, len(platformTools))
	for _, platform := range model.AllPlatforms() {
		sp, err := agent.NewSpecialist(cfg, f, platform, platformTools[platform], printer)
		if err != nil {
			return err
		}
		platforms = append(platforms, sp)
	}

	orch := workflow.New(guardrail, router, platforms, aggregator, visualizer,
		workflow.WithFinalizer(workflow.Finalizer(cfg.Workflow.Finalizer)),
		workflow.WithQueryTimeout(cfg.Workflow.QueryTimeout.Std()),
	)

	reports := orch.Run(ctx, cfg.Workflow.Queries)
	printReports(out, reports)
	return nil
}

// loadDotEnv loads ~/.env, or ~/.env.<env> when env is set. A missing file
// is fine; the variables may come from the process environment instead.
func loadDotEnv(env string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	name := ".env"
	if env != "" {
		name = ".env." + env
	}
	path := filepath.Join(home, name)
	if _, err := os.Stat(path); err != nil {
		return
	}
	if env != "" {
		err = godotenv.Overload(path)
	} else {
		err = godotenv.Load(path)
	}
	if err != nil {
		logger.KV(xlog.WARNING, "status", "dotenv_failed", "path", path, "err", err.Error())
	}
}

func printReports(out io.Writer, reports []workflow.Report) {
	for i, r := range reports {
		fmt.Fprintf(out, "\n=== Query %d: %s ===\n", i+1, r.Query)
		switch r.Status {
		case workflow.StatusSkipped:
			fmt.Fprintf(out, "Skipped: %s\n", r.Verdict.Reasoning)
		case workflow.StatusFailed:
			fmt.Fprintf(out, "Failed: %s\n", r.Err.Error())
		default:
			if r.Aggregated != nil {
				fmt.Fprint(out, r.Aggregated.String())
			}
			if r.Visualization != nil {
				fmt.Fprint(out, r.Visualization.String())
			}
		}
	}
}
