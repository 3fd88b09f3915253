// -----------------------------------------------------------------------
// Cost Ledger - Daily per-provider spend aggregates
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// CostDateFormat is the ledger day key layout (local time of the scheduler
// timezone decides the rollover).
const CostDateFormat = "2006-01-02"

// ModelUsage aggregates usage of one model within a provider's daily entry.
type ModelUsage struct {
	Requests  int     `json:"requests"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}

// CostEntry is one provider's spend for one day. Key is "date|provider" so
// increments are a read-modify-write of a single row.
type CostEntry struct {
	Key         string                 `json:"key" badgerhold:"key"`
	Date        string                 `json:"date" badgerhold:"index"`
	Provider    string                 `json:"provider" badgerhold:"index"`
	Models      map[string]*ModelUsage `json:"models"`
	Requests    int                    `json:"requests"`
	TokensIn    int64                  `json:"tokens_in"`
	TokensOut   int64                  `json:"tokens_out"`
	Cost        float64                `json:"cost"`
	BudgetLimit float64                `json:"budget_limit"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// CostEntryKey builds the ledger row key.
func CostEntryKey(date, provider string) string {
	return fmt.Sprintf("%s|%s", date, provider)
}

// NewCostEntry creates an empty entry for the day.
func NewCostEntry(date, provider string, budgetLimit float64) *CostEntry {
	return &CostEntry{
		Key:         CostEntryKey(date, provider),
		Date:        date,
		Provider:    provider,
		Models:      make(map[string]*ModelUsage),
		BudgetLimit: budgetLimit,
		UpdatedAt:   time.Now(),
	}
}

// Add folds one request's usage into the entry.
func (e *CostEntry) Add(model string, tokensIn, tokensOut int64, cost float64) {
	if e.Models == nil {
		e.Models = make(map[string]*ModelUsage)
	}
	usage, ok := e.Models[model]
	if !ok {
		usage = &ModelUsage{}
		e.Models[model] = usage
	}
	usage.Requests++
	usage.TokensIn += tokensIn
	usage.TokensOut += tokensOut
	usage.Cost += cost

	e.Requests++
	e.TokensIn += tokensIn
	e.TokensOut += tokensOut
	e.Cost += cost
	e.UpdatedAt = time.Now()
}

// Exhausted reports whether the daily budget is spent. A zero limit means
// no ceiling.
func (e *CostEntry) Exhausted() bool {
	return e.BudgetLimit > 0 && e.Cost >= e.BudgetLimit
}
