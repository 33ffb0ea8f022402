// Package usage persists one record per gateway call attempt and serves
// the aggregated statistics shown on account and billing surfaces.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/modelrelay/gateway/internal/shared/models"
)

// Recorder accepts call records and answers aggregate queries. Record must
// never fail the caller-visible response; persistence failures are logged
// and swallowed by the implementations.
type Recorder interface {
	Record(ctx context.Context, rec *models.UsageRecord)
	Stats(ctx context.Context, callerID string, since time.Time) (*CallerStats, error)
}

// ModelUsage is the per-model slice of a caller's statistics.
type ModelUsage struct {
	Model          string `json:"model"`
	Calls          int64  `json:"calls"`
	TotalTokens    int64  `json:"total_tokens"`
	CreditsCharged int64  `json:"credits_charged"`
}

// CallerStats aggregates a caller's activity over a trailing window.
type CallerStats struct {
	TotalCalls       int64        `json:"total_calls"`
	SuccessCalls     int64        `json:"success_calls"`
	CacheHits        int64        `json:"cache_hits"`
	PromptTokens     int64        `json:"prompt_tokens"`
	CompletionTokens int64        `json:"completion_tokens"`
	TotalTokens      int64        `json:"total_tokens"`
	CreditsCharged   int64        `json:"credits_charged"`
	AvgLatencyMs     float64      `json:"avg_latency_ms"`
	ByModel          []ModelUsage `json:"by_model"`
}

// prepare stamps the identity fields a record needs before it is written.
func prepare(rec *models.UsageRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	}
}
