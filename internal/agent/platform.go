package agent

import (
	"context"

	"github.com/effective-security/gogentic/assistants"
	"github.com/effective-security/gogentic/chatmodel"
	"github.com/effective-security/gogentic/encoding"
	"github.com/effective-security/gogentic/pkg/llmfactory"
	"github.com/effective-security/gogentic/tools"
	"github.com/effective-security/secorch/internal/config"
	"github.com/effective-security/secorch/internal/model"
)

// PlatformAgent answers a query against one external platform. One concrete
// adapter exists per platform, constructed once from configuration with the
// platform's remote tools.
type PlatformAgent interface {
	// Platform identifies the platform this agent queries.
	Platform() model.Platform
	// Name returns the configured agent name.
	Name() string
	// Answer queries the platform and returns its result.
	Answer(ctx context.Context, query string) (*model.PlatformResult, error)
}

type specialist struct {
	platform  model.Platform
	name      string
	assistant *assistants.Assistant[chatmodel.String]
}

var _ PlatformAgent = (*specialist)(nil)

// NewSpecialist builds the platform agent configured under the platform's
// key, giving it the remote tools of that platform's MCP connection. The
// specialist produces free text; structure is imposed only at aggregation.
func NewSpecialist(
	cfg *config.Config,
	f llmfactory.Factory,
	platform model.Platform,
	remoteTools []tools.ITool,
	opts ...assistants.Option,
) (PlatformAgent, error) {
	a, err := newAssistant[chatmodel.String](cfg, f, string(platform), encoding.ModePlainText, opts...)
	if err != nil {
		return nil, err
	}
	a.WithTools(remoteTools...)

	return &specialist{
		platform:  platform,
		name:      a.Name(),
		assistant: a,
	}, nil
}

func (s *specialist) Platform() model.Platform {
	return s.platform
}

func (s *specialist) Name() string {
	return s.name
}

func (s *specialist) Answer(ctx context.Context, query string) (*model.PlatformResult, error) {
	ctx = ensureChatContext(ctx)

	resp, err := s.assistant.Run(ctx, &assistants.CallInput{Input: query}, nil)
	if err != nil {
		return nil, err
	}
	return &model.PlatformResult{
		Query:  query,
		Result: flattenChoices(resp),
		Source: s.platform,
	}, nil
}
