package interfaces

import (
	"context"
	"errors"
)

// Agent scopes. A scope is a named consumer of AI capability; budget checks
// and provider disable flags are tracked per (provider, scope) pair.
const (
	ScopeWorker            = "worker"
	ScopeDocumentGenerator = "documentGenerator"
)

// Agent tasks within a scope. The (scope, task) pair selects the prompt.
const (
	TaskExtraction = "extraction"
	TaskAnalysis   = "analysis"
	TaskWrite      = "write"
)

// Agent errors. The service returns these when the whole fallback chain is
// exhausted; the caller maps them onto queue policy (park until midnight).
var (
	// ErrNoProviderAvailable - every provider in the chain failed or is disabled
	ErrNoProviderAvailable = errors.New("no provider available")
	// ErrBudgetExhausted - every skip along the chain was a daily budget stop
	ErrBudgetExhausted = errors.New("daily budget exhausted")
)

// AgentRequest is one LLM invocation. Prompt carries the task input; System
// overrides the default system prompt for the (scope, task) when set.
type AgentRequest struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float32
	// ForceJSON asks the provider for a strict JSON response where the
	// provider API supports it.
	ForceJSON bool
}

// AgentResponse is the outcome of a successful invocation, including the
// usage the cost ledger was charged with.
type AgentResponse struct {
	Text      string
	Provider  string
	Model     string
	TokensIn  int64
	TokensOut int64
	Cost      float64
}

// AgentService invokes LLM capability for a (scope, task) pair, driving the
// configured provider fallback chain. Each call re-reads ai-settings, skips
// providers disabled for the scope or over their daily budget, and records
// usage to the cost ledger on success. Auth and quota failures disable the
// (provider, scope) pair for the remainder of the process lifetime.
//
// Idempotency is the caller's responsibility; the service does not dedup
// requests.
type AgentService interface {
	// Generate runs the request through the fallback chain and returns the
	// first successful response. Returns ErrNoProviderAvailable when the
	// chain is exhausted, or ErrBudgetExhausted when every skip was a
	// budget stop.
	Generate(ctx context.Context, scope, task string, req *AgentRequest) (*AgentResponse, error)

	// HealthCheck verifies at least one provider is configured with a key.
	HealthCheck(ctx context.Context) error

	// Close releases provider clients.
	Close() error
}
