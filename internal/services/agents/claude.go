// -----------------------------------------------------------------------
// Claude Provider - Anthropic messages API adapter
// -----------------------------------------------------------------------

package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
)

type claudeProvider struct {
	client anthropic.Client
	logger arbor.ILogger
}

func newClaudeProvider(apiKey string, logger arbor.ILogger) *claudeProvider {
	return &claudeProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}
}

func (p *claudeProvider) name() string { return ProviderClaude }

func (p *claudeProvider) generate(ctx context.Context, model string, req *interfaces.AgentRequest) (*interfaces.AgentResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	// Claude has no JSON response mode; the constraint rides the system
	// prompt instead.
	system := req.System
	if req.ForceJSON {
		system = strings.TrimSpace(system + "\n\nRespond with a single valid JSON object and nothing else. No markdown fences, no commentary.")
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude api call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from claude api")
	}

	return &interfaces.AgentResponse{
		Text:      text.String(),
		Provider:  ProviderClaude,
		Model:     model,
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
	}, nil
}

func (p *claudeProvider) close() error {
	return nil
}
