package models

import "time"

// Provider identifies which backend serves a model.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderCohere    Provider = "cohere"
)

// ModelDescriptor describes a model the gateway can serve. Descriptors are
// loaded once at process start and never mutated afterwards.
type ModelDescriptor struct {
	ID                  string   `json:"id"`
	Provider            Provider `json:"provider"`
	WireID              string   `json:"wire_id"`
	InputCreditsPer1K   int64    `json:"input_credits_per_1k"`
	OutputCreditsPer1K  int64    `json:"output_credits_per_1k"`
	ContextWindow       int      `json:"context_window"`
	MaxOutputTokens     int      `json:"max_output_tokens"`
	SupportsStreaming   bool     `json:"supports_streaming"`
	SupportsVision      bool     `json:"supports_vision"`
	SupportsToolCalling bool     `json:"supports_tool_calling"`
	Active              bool     `json:"active"`
}

// Cost returns the credits charged for the given token counts. Fractional
// thousands round up per component, so any non-zero usage on a priced side
// costs at least one credit.
func (d *ModelDescriptor) Cost(promptTokens, completionTokens int) int64 {
	return ceilPer1K(promptTokens, d.InputCreditsPer1K) +
		ceilPer1K(completionTokens, d.OutputCreditsPer1K)
}

func ceilPer1K(tokens int, creditsPer1K int64) int64 {
	if tokens <= 0 || creditsPer1K <= 0 {
		return 0
	}
	return (int64(tokens)*creditsPer1K + 999) / 1000
}

// Caller is the already-authenticated identity injected by the fronting
// proxy. CreditAccount is empty when the caller bills its own id.
type Caller struct {
	ID            string
	CreditAccount string
}

// Account returns the ledger account this caller is billed against.
func (c Caller) Account() string {
	if c.CreditAccount != "" {
		return c.CreditAccount
	}
	return c.ID
}

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionBonus      TransactionType = "bonus"
	TransactionRefund     TransactionType = "refund"
	TransactionDeduction  TransactionType = "deduction"
	TransactionAdjustment TransactionType = "adjustment"
)

// CreditTransaction is one append-only ledger row. Balance is the balance
// after applying Amount; the current balance of a caller is the Balance of
// its most recent row.
type CreditTransaction struct {
	ID          string          `json:"id"`
	CallerID    string          `json:"caller_id"`
	Amount      int64           `json:"amount"`
	Balance     int64           `json:"balance"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CallStatus is the terminal status of a gateway call attempt.
type CallStatus string

const (
	StatusSuccess             CallStatus = "success"
	StatusError               CallStatus = "error"
	StatusRateLimited         CallStatus = "rate_limited"
	StatusInsufficientCredits CallStatus = "insufficient_credits"
)

// UsageRecord is one write-once row per gateway call attempt, including
// rejected ones.
type UsageRecord struct {
	ID               string     `json:"id"`
	CallerID         string     `json:"caller_id"`
	Model            string     `json:"model"`
	Provider         Provider   `json:"provider"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	CreditsCharged   int64      `json:"credits_charged"`
	LatencyMs        int        `json:"latency_ms"`
	Streamed         bool       `json:"streamed"`
	CacheHit         bool       `json:"cache_hit"`
	Status           CallStatus `json:"status"`
	ErrorCode        string     `json:"error_code,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
