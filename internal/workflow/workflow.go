// Package workflow implements the query processing pipeline: guardrail gate,
// service routing, concurrent platform fan-out, and result aggregation.
//
// The five steps run exactly once, strictly in sequence, for every query;
// the fan-out is the only concurrency. No state is carried between queries.
// Each query produces a Report value instead of relying on console output as
// control flow, so callers and tests can inspect outcomes.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gogentic/chatmodel"
	"github.com/effective-security/secorch/internal/model"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/secorch", "workflow")

// GuardrailChecker classifies a query for sensitive credentials.
type GuardrailChecker interface {
	Check(ctx context.Context, query string) (*model.GuardrailVerdict, error)
}

// ServiceRouter decides which platforms a query needs.
type ServiceRouter interface {
	Route(ctx context.Context, query string) (*model.ServiceDecision, error)
}

// PlatformAgent answers a query against one platform.
type PlatformAgent interface {
	Platform() model.Platform
	Answer(ctx context.Context, query string) (*model.PlatformResult, error)
}

// Summarizer produces the aggregated synthesis from the context text.
type Summarizer interface {
	Aggregate(ctx context.Context, contextText string) (*model.AggregatedResult, error)
}

// Visualizer produces the visualization-variant synthesis.
type Visualizer interface {
	Visualize(ctx context.Context, contextText string) (*model.VisualizationResult, error)
}

// Finalizer selects the last pipeline step.
type Finalizer string

const (
	FinalizerAggregate Finalizer = "aggregate"
	FinalizerVisualize Finalizer = "visualize"
)

// Status is the outcome of one query's pipeline run.
type Status string

const (
	// StatusCompleted means the pipeline ran to the finalizer.
	StatusCompleted Status = "completed"
	// StatusSkipped means the guardrail flagged the query; a designed early
	// exit, not an error.
	StatusSkipped Status = "skipped"
	// StatusFailed means a pipeline step other than a platform query failed.
	StatusFailed Status = "failed"
)

// Report is the per-query outcome with every intermediate record. Platform
// query failures do not fail the report; the failed platform's slot is
// simply absent from Results.
type Report struct {
	Query         string
	Status        Status
	Verdict       *model.GuardrailVerdict
	Decision      *model.ServiceDecision
	Results       map[model.Platform]*model.PlatformResult
	FanOutElapsed time.Duration
	Aggregated    *model.AggregatedResult
	Visualization *model.VisualizationResult
	Err           error
}

// Option modifies the Orchestrator.
type Option func(*Orchestrator)

// WithFinalizer selects the aggregate or visualize finalizer.
func WithFinalizer(f Finalizer) Option {
	return func(o *Orchestrator) {
		if f != "" {
			o.finalizer = f
		}
	}
}

// WithQueryTimeout bounds one query's processing. Zero keeps the default of
// no bound, matching the external calls which carry no timeout of their own.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.queryTimeout = d
	}
}

// Orchestrator runs the pipeline over injected collaborators. All
// collaborators are constructed once and shared read-only across queries.
type Orchestrator struct {
	guardrail  GuardrailChecker
	router     ServiceRouter
	platforms  map[model.Platform]PlatformAgent
	aggregator Summarizer
	visualizer Visualizer

	finalizer    Finalizer
	queryTimeout time.Duration
}

// New builds an Orchestrator. The visualizer may be nil when the aggregate
// finalizer is used, and vice versa.
func New(
	guardrail GuardrailChecker,
	router ServiceRouter,
	platforms []PlatformAgent,
	aggregator Summarizer,
	visualizer Visualizer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		guardrail:  guardrail,
		router:     router,
		platforms:  make(map[model.Platform]PlatformAgent, len(platforms)),
		aggregator: aggregator,
		visualizer: visualizer,
		finalizer:  FinalizerAggregate,
	}
	for _, p := range platforms {
		o.platforms[p.Platform()] = p
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes the queries strictly one at a time and returns their
// reports. A failed query never aborts the run.
func (o *Orchestrator) Run(ctx context.Context, queries []string) []Report {
	reports := make([]Report, 0, len(queries))
	for i, query := range queries {
		logger.KV(xlog.INFO,
			"status", "processing_query",
			"index", i+1,
			"total", len(queries),
			"query", slices.StringUpto(query, 80),
		)
		reports = append(reports, o.Process(ctx, query))
	}
	return reports
}

// Process runs the five pipeline steps for one query.
func (o *Orchestrator) Process(ctx context.Context, query string) Report {
	report := Report{
		Query:  query,
		Status: StatusCompleted,
	}

	// Fresh chat context per query for log correlation; no history is shared
	// between queries.
	ctx = chatmodel.WithChatContext(ctx, chatmodel.NewChatContext("", chatmodel.NewChatID(), nil))
	if o.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.queryTimeout)
		defer cancel()
	}

	// Step 1: guardrail gate.
	verdict, err := o.guardrail.Check(ctx, query)
	if err != nil {
		return report.failed(errors.WithMessage(err, "guardrail check failed"))
	}
	report.Verdict = verdict
	if verdict.HasSensitiveInformation {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "guardrail_triggered",
			"reasoning", verdict.Reasoning,
		)
		report.Status = StatusSkipped
		return report
	}

	// Step 2: service routing. The decision is not validated; all flags
	// false degrades to an empty fan-out and a "no platform data" summary
	// rather than silently querying a default platform.
	decision, err := o.router.Route(ctx, query)
	if err != nil {
		return report.failed(errors.WithMessage(err, "service routing failed"))
	}
	report.Decision = decision
	logger.ContextKV(ctx, xlog.INFO,
		"status", "services_decided",
		"servicenow", decision.ServiceNow,
		"gti", decision.GTI,
		"opensearch", decision.OpenSearch,
	)

	// Step 3: fan-out.
	started := time.Now()
	report.Results = o.fanOut(ctx, query, decision.Selected())
	report.FanOutElapsed = time.Since(started)

	// Steps 4 and 5: build the textual context and finalize.
	contextText := BuildContext(query, report.Results)
	switch o.finalizer {
	case FinalizerVisualize:
		viz, err := o.visualizer.Visualize(ctx, contextText)
		if err != nil {
			return report.failed(errors.WithMessage(err, "visualization failed"))
		}
		report.Visualization = viz
	default:
		agg, err := o.aggregator.Aggregate(ctx, contextText)
		if err != nil {
			return report.failed(errors.WithMessage(err, "aggregation failed"))
		}
		report.Aggregated = agg
	}
	return report
}

func (r Report) failed(err error) Report {
	logger.KV(xlog.ERROR,
		"status", "query_failed",
		"query", slices.StringUpto(r.Query, 80),
		"err", err.Error(),
	)
	r.Status = StatusFailed
	r.Err = err
	return r
}

// fanOut queries every selected platform. A single platform is queried
// synchronously; several are queried concurrently with a wait-for-all join
// that never short-circuits. Each platform's failure is isolated: it is
// logged and its slot left absent, other platforms are unaffected.
func (o *Orchestrator) fanOut(ctx context.Context, query string, selected []model.Platform) map[model.Platform]*model.PlatformResult {
	results := make(map[model.Platform]*model.PlatformResult, len(selected))

	agents := make([]PlatformAgent, 0, len(selected))
	for _, platform := range selected {
		agent, ok := o.platforms[platform]
		if !ok {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "platform_not_configured",
				"platform", platform,
			)
			continue
		}
		agents = append(agents, agent)
	}

	switch len(agents) {
	case 0:
		return results
	case 1:
		agent := agents[0]
		res, err := agent.Answer(ctx, query)
		if err != nil {
			logPlatformFailure(ctx, agent.Platform(), err)
			return results
		}
		results[agent.Platform()] = res
		return results
	}

	type fanOutResult struct {
		platform model.Platform
		res      *model.PlatformResult
		err      error
	}

	resultChan := make(chan fanOutResult, len(agents))
	var wg sync.WaitGroup
	wg.Add(len(agents))
	for _, agent := range agents {
		go func(agent PlatformAgent) {
			defer wg.Done()
			res, err := agent.Answer(ctx, query)
			resultChan <- fanOutResult{
				platform: agent.Platform(),
				res:      res,
				err:      err,
			}
		}(agent)
	}
	wg.Wait()
	close(resultChan)

	for r := range resultChan {
		if r.err != nil {
			logPlatformFailure(ctx, r.platform, r.err)
			continue
		}
		results[r.platform] = r.res
	}
	return results
}

func logPlatformFailure(ctx context.Context, platform model.Platform, err error) {
	logger.ContextKV(ctx, xlog.WARNING,
		"status", "platform_query_failed",
		"platform", platform,
		"err", err.Error(),
	)
}

// BuildContext concatenates the collected platform results under
// per-platform headings, in stable platform order, followed by the
// summarization request. This is the whole of the local "aggregation"; all
// analysis is delegated to the finalizer agent.
func BuildContext(query string, results map[model.Platform]*model.PlatformResult) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Original Query: %s\n\n", query)
	for _, platform := range model.AllPlatforms() {
		res := results[platform]
		if res == nil || res.Result == "" {
			continue
		}
		fmt.Fprintf(&buf, "%s Results:\n", platform.Display())
		fmt.Fprintf(&buf, "- %s\n\n", res.Result)
	}
	buf.WriteString("Please provide a comprehensive summary and recommendations based on all available information.")
	return buf.String()
}
