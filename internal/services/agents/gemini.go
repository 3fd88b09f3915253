// -----------------------------------------------------------------------
// Gemini Provider - Google genai API adapter
// -----------------------------------------------------------------------

package agents

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
)

type geminiProvider struct {
	client *genai.Client
	logger arbor.ILogger
}

func newGeminiProvider(ctx context.Context, apiKey string, logger arbor.ILogger) (*geminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &geminiProvider{client: client, logger: logger}, nil
}

func (p *geminiProvider) name() string { return ProviderGemini }

func (p *geminiProvider) generate(ctx context.Context, model string, req *interfaces.AgentRequest) (*interfaces.AgentResponse, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.ForceJSON {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini api call failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from gemini api")
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty text in gemini response")
	}

	out := &interfaces.AgentResponse{
		Text:     text,
		Provider: ProviderGemini,
		Model:    model,
	}
	if resp.UsageMetadata != nil {
		out.TokensIn = int64(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (p *geminiProvider) close() error {
	p.client = nil
	return nil
}
