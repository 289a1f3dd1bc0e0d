// Package agent constructs the assistants used by the orchestration
// pipeline. Each constructor pairs a configuration-supplied name,
// instruction text and preferred model with an LLM from the factory; the
// platform specialists additionally receive the remote tools of their MCP
// connection. All reasoning is delegated to the model; nothing here goes
// beyond construction and request shaping.
package agent

import (
	"context"
	"strings"

	"github.com/effective-security/gogentic/assistants"
	"github.com/effective-security/gogentic/chatmodel"
	"github.com/effective-security/gogentic/encoding"
	"github.com/effective-security/gogentic/pkg/llmfactory"
	"github.com/effective-security/gogentic/pkg/llms"
	"github.com/effective-security/gogentic/pkg/prompts"
	"github.com/effective-security/secorch/internal/config"
	"github.com/effective-security/secorch/internal/model"
)

// Configuration keys of the pipeline agents.
const (
	KeyGuardrail     = "guardrail"
	KeyOrchestrator  = "orchestrator"
	KeyAggregator    = "aggregator"
	KeyVisualization = "visualization"
)

func newAssistant[O chatmodel.ContentProvider](
	cfg *config.Config,
	f llmfactory.Factory,
	key string,
	mode encoding.Mode,
	opts ...assistants.Option,
) (*assistants.Assistant[O], error) {
	ac, err := cfg.Agent(key)
	if err != nil {
		return nil, err
	}
	llm, err := f.AssistantModel(ac.Name, ac.Model)
	if err != nil {
		return nil, err
	}

	sysprompt := prompts.NewPromptTemplate(ac.Instructions, []string{})
	opts = append([]assistants.Option{assistants.WithMode(mode)}, opts...)
	ret := assistants.NewAssistant[O](llm, sysprompt, opts...).
		WithName(ac.Name)
	return ret, nil
}

// ensureChatContext adds a fresh chat context for log correlation when the
// caller did not establish one.
func ensureChatContext(ctx context.Context) context.Context {
	if chatmodel.GetChatContext(ctx) != nil {
		return ctx
	}
	return chatmodel.WithChatContext(ctx, chatmodel.NewChatContext("", chatmodel.NewChatID(), nil))
}

// Guardrail classifies queries for sensitive credentials before any other
// processing. The flagging policy lives in the agent's instructions; this
// code only routes the verdict.
type Guardrail struct {
	assistant *assistants.Assistant[model.GuardrailVerdict]
}

// NewGuardrail builds the guardrail agent from configuration.
func NewGuardrail(cfg *config.Config, f llmfactory.Factory, opts ...assistants.Option) (*Guardrail, error) {
	a, err := newAssistant[model.GuardrailVerdict](cfg, f, KeyGuardrail, encoding.ModeJSONSchema, opts...)
	if err != nil {
		return nil, err
	}
	return &Guardrail{assistant: a}, nil
}

// Check returns the guardrail verdict for the query. Failures of the
// external call propagate; there is no local retry.
func (g *Guardrail) Check(ctx context.Context, query string) (*model.GuardrailVerdict, error) {
	ctx = ensureChatContext(ctx)

	var verdict model.GuardrailVerdict
	req := &assistants.CallInput{
		Input: "Check this query for sensitive information: " + query,
	}
	if _, err := g.assistant.Run(ctx, req, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// Router decides which platforms a query needs. The decision is not
// validated; all flags false is legal and degrades to an empty fan-out.
type Router struct {
	assistant *assistants.Assistant[model.ServiceDecision]
}

// NewRouter builds the service-routing agent from configuration.
func NewRouter(cfg *config.Config, f llmfactory.Factory, opts ...assistants.Option) (*Router, error) {
	a, err := newAssistant[model.ServiceDecision](cfg, f, KeyOrchestrator, encoding.ModeJSONSchema, opts...)
	if err != nil {
		return nil, err
	}
	return &Router{assistant: a}, nil
}

// Route returns the routing decision for the query.
func (r *Router) Route(ctx context.Context, query string) (*model.ServiceDecision, error) {
	ctx = ensureChatContext(ctx)

	var decision model.ServiceDecision
	req := &assistants.CallInput{
		Input: "Analyze this user query and determine which services should be queried:\n\n" +
			"Query: " + query + "\n\n" +
			"Consider the context and keywords in the query.",
	}
	if _, err := r.assistant.Run(ctx, req, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// Aggregator synthesizes the collected platform results into a summary with
// recommendations.
type Aggregator struct {
	assistant *assistants.Assistant[model.AggregatedResult]
}

// NewAggregator builds the aggregator agent from configuration.
func NewAggregator(cfg *config.Config, f llmfactory.Factory, opts ...assistants.Option) (*Aggregator, error) {
	a, err := newAssistant[model.AggregatedResult](cfg, f, KeyAggregator, encoding.ModeJSONSchema, opts...)
	if err != nil {
		return nil, err
	}
	return &Aggregator{assistant: a}, nil
}

// Aggregate runs the summarization call over the prepared context text.
func (a *Aggregator) Aggregate(ctx context.Context, contextText string) (*model.AggregatedResult, error) {
	ctx = ensureChatContext(ctx)

	var result model.AggregatedResult
	req := &assistants.CallInput{Input: contextText}
	if _, err := a.assistant.Run(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Visualizer is the visualization-variant finalizer: summary plus a chart
// suggestion and a code snippet.
type Visualizer struct {
	assistant *assistants.Assistant[model.VisualizationResult]
}

// NewVisualizer builds the visualization agent from configuration.
func NewVisualizer(cfg *config.Config, f llmfactory.Factory, opts ...assistants.Option) (*Visualizer, error) {
	a, err := newAssistant[model.VisualizationResult](cfg, f, KeyVisualization, encoding.ModeJSONSchema, opts...)
	if err != nil {
		return nil, err
	}
	return &Visualizer{assistant: a}, nil
}

// Visualize runs the visualization call over the prepared context text.
func (v *Visualizer) Visualize(ctx context.Context, contextText string) (*model.VisualizationResult, error) {
	ctx = ensureChatContext(ctx)

	var result model.VisualizationResult
	req := &assistants.CallInput{Input: contextText}
	if _, err := v.assistant.Run(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func flattenChoices(resp *llms.ContentResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, choice := range resp.Choices {
		if choice.Content != "" {
			parts = append(parts, choice.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
