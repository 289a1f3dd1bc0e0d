package agent_test

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gogentic/mocks/mockllms"
	"github.com/effective-security/gogentic/pkg/llms"
	"github.com/effective-security/gogentic/pkg/llmutils"
	"github.com/effective-security/secorch/internal/agent"
	"github.com/effective-security/secorch/internal/config"
	"github.com/effective-security/secorch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeFactory hands every request the same model, letting the tests drive
// the agents through a mocked LLM.
type fakeFactory struct {
	model llms.Model
}

func (f fakeFactory) DefaultModel() (llms.Model, error) { return f.model, nil }
func (f fakeFactory) ModelByType(llms.ProviderType) (llms.Model, error) {
	return f.model, nil
}
func (f fakeFactory) ModelByName(...string) (llms.Model, error) {
	return f.model, nil
}
func (f fakeFactory) ToolModel(string, ...string) (llms.Model, error) {
	return f.model, nil
}
func (f fakeFactory) AssistantModel(string, ...string) (llms.Model, error) {
	return f.model, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Agents: map[string]config.AgentConfig{
			agent.KeyGuardrail: {
				Name:         "Guardrail Check",
				Instructions: "Check if the user prompt contains sensitive information.",
			},
			agent.KeyOrchestrator: {
				Name:         "Orchestrator",
				Instructions: "Determine which services should handle the query.",
			},
			agent.KeyAggregator: {
				Name:         "Result Aggregator",
				Instructions: "Combine results from the specialized agents.",
			},
			agent.KeyVisualization: {
				Name:         "Visualization Agent",
				Instructions: "Propose a visualization for the combined data.",
			},
			"servicenow": {
				Name:         "ServiceNow Specialist",
				Instructions: "Query ServiceNow for incident information.",
			},
		},
	}
}

func newMockModel(t *testing.T, respond func(input string) (*llms.ContentResponse, error)) llms.Model {
	ctrl := gomock.NewController(t)
	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			return respond(llmutils.FindLastUserQuestion(messages))
		}).AnyTimes()
	return mockLLM
}

func textResponse(content string) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: content},
		},
	}, nil
}

func TestGuardrailCheck(t *testing.T) {
	mockLLM := newMockModel(t, func(input string) (*llms.ContentResponse, error) {
		assert.True(t, strings.HasPrefix(input, "Check this query for sensitive information: "))
		if strings.Contains(input, "sk-abc123") {
			return textResponse(llmutils.ToJSON(model.GuardrailVerdict{
				HasSensitiveInformation: true,
				Reasoning:               "contains an API key",
			}))
		}
		return textResponse(llmutils.ToJSON(model.GuardrailVerdict{
			Reasoning: "no credentials present",
		}))
	})

	guardrail, err := agent.NewGuardrail(testConfig(), fakeFactory{model: mockLLM})
	require.NoError(t, err)

	verdict, err := guardrail.Check(context.Background(), "use key sk-abc123")
	require.NoError(t, err)
	assert.True(t, verdict.HasSensitiveInformation)
	assert.Equal(t, "contains an API key", verdict.Reasoning)

	verdict, err = guardrail.Check(context.Background(), "find incidents for coco liu")
	require.NoError(t, err)
	assert.False(t, verdict.HasSensitiveInformation)
}

func TestGuardrailError(t *testing.T) {
	mockLLM := newMockModel(t, func(string) (*llms.ContentResponse, error) {
		return nil, errors.New("model unavailable")
	})

	guardrail, err := agent.NewGuardrail(testConfig(), fakeFactory{model: mockLLM})
	require.NoError(t, err)

	_, err = guardrail.Check(context.Background(), "anything")
	require.Error(t, err)
}

func TestRouterRoute(t *testing.T) {
	mockLLM := newMockModel(t, func(input string) (*llms.ContentResponse, error) {
		assert.Contains(t, input, "Analyze this user query and determine which services should be queried:")
		assert.Contains(t, input, "Query: find incidents related to APT29")
		return textResponse(llmutils.ToJSON(model.ServiceDecision{
			ServiceNow: true,
			GTI:        true,
			Reasoning:  "incidents live in ServiceNow, APT29 is a threat actor",
		}))
	})

	router, err := agent.NewRouter(testConfig(), fakeFactory{model: mockLLM})
	require.NoError(t, err)

	decision, err := router.Route(context.Background(), "find incidents related to APT29")
	require.NoError(t, err)
	assert.True(t, decision.ServiceNow)
	assert.True(t, decision.GTI)
	assert.False(t, decision.OpenSearch)
	assert.Equal(t, []model.Platform{model.PlatformServiceNow, model.PlatformGTI}, decision.Selected())
}

func TestAggregatorAggregate(t *testing.T) {
	mockLLM := newMockModel(t, func(input string) (*llms.ContentResponse, error) {
		assert.Contains(t, input, "Original Query: find incidents")
		return textResponse(llmutils.ToJSON(model.AggregatedResult{
			OriginalQuery:   "find incidents",
			Summary:         "two open incidents",
			Recommendations: []string{"escalate INC001"},
		}))
	})

	aggregator, err := agent.NewAggregator(testConfig(), fakeFactory{model: mockLLM})
	require.NoError(t, err)

	result, err := aggregator.Aggregate(context.Background(), "Original Query: find incidents\n\nServiceNow Results:\n- INC001: open\n")
	require.NoError(t, err)
	assert.Equal(t, "two open incidents", result.Summary)
	assert.Equal(t, []string{"escalate INC001"}, result.Recommendations)
}

func TestVisualizerVisualize(t *testing.T) {
	mockLLM := newMockModel(t, func(string) (*llms.ContentResponse, error) {
		return textResponse(llmutils.ToJSON(model.VisualizationResult{
			Summary:           "incidents per priority",
			VisualizationType: "bar chart",
			CodeSnippet:       "plot(data)",
		}))
	})

	visualizer, err := agent.NewVisualizer(testConfig(), fakeFactory{model: mockLLM})
	require.NoError(t, err)

	result, err := visualizer.Visualize(context.Background(), "Original Query: chart incidents\n")
	require.NoError(t, err)
	assert.Equal(t, "bar chart", result.VisualizationType)
	assert.Equal(t, "plot(data)", result.CodeSnippet)
}

func TestSpecialistAnswer(t *testing.T) {
	mockLLM := newMockModel(t, func(input string) (*llms.ContentResponse, error) {
		assert.Contains(t, input, "find open incidents")
		return textResponse("INC001: open, assigned to network team")
	})

	sp, err := agent.NewSpecialist(testConfig(), fakeFactory{model: mockLLM}, model.PlatformServiceNow, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PlatformServiceNow, sp.Platform())
	assert.Equal(t, "ServiceNow Specialist", sp.Name())

	res, err := sp.Answer(context.Background(), "find open incidents")
	require.NoError(t, err)
	assert.Equal(t, "find open incidents", res.Query)
	assert.Equal(t, "INC001: open, assigned to network team", res.Result)
	assert.Equal(t, model.PlatformServiceNow, res.Source)
}

func TestSpecialistNotConfigured(t *testing.T) {
	mockLLM := newMockModel(t, func(string) (*llms.ContentResponse, error) {
		return textResponse("")
	})

	_, err := agent.NewSpecialist(testConfig(), fakeFactory{model: mockLLM}, model.PlatformGTI, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent not configured: gti")
}
