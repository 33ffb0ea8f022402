package usage

import (
	"context"
	"testing"
	"time"

	"github.com/modelrelay/gateway/internal/shared/models"
)

func TestRecordStampsIdentity(t *testing.T) {
	r := NewMemoryRecorder()

	rec := &models.UsageRecord{
		CallerID:         "caller-1",
		PromptTokens:     10,
		CompletionTokens: 5,
		Status:           models.StatusSuccess,
	}
	r.Record(context.Background(), rec)

	got := r.Records("caller-1")
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	if got[0].ID == "" {
		t.Error("record id not stamped")
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
	if got[0].TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", got[0].TotalTokens)
	}
}

func TestStatsAggregates(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()

	r.Record(ctx, &models.UsageRecord{
		CallerID: "caller-1", Model: "gpt-4o-mini", Provider: models.ProviderOpenAI,
		PromptTokens: 100, CompletionTokens: 50, CreditsCharged: 2,
		LatencyMs: 200, Status: models.StatusSuccess,
	})
	r.Record(ctx, &models.UsageRecord{
		CallerID: "caller-1", Model: "gpt-4o-mini", Provider: models.ProviderOpenAI,
		PromptTokens: 100, CompletionTokens: 50,
		LatencyMs: 10, CacheHit: true, Status: models.StatusSuccess,
	})
	r.Record(ctx, &models.UsageRecord{
		CallerID: "caller-1", Model: "claude-haiku-4-5", Provider: models.ProviderAnthropic,
		Status: models.StatusRateLimited, ErrorCode: "rate_limited",
	})
	// Another caller's traffic must not bleed in.
	r.Record(ctx, &models.UsageRecord{
		CallerID: "caller-2", Model: "gpt-4o-mini",
		PromptTokens: 999, Status: models.StatusSuccess,
	})

	stats, err := r.Stats(ctx, "caller-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.TotalCalls != 3 {
		t.Errorf("total calls = %d, want 3", stats.TotalCalls)
	}
	if stats.SuccessCalls != 2 {
		t.Errorf("success calls = %d, want 2", stats.SuccessCalls)
	}
	if stats.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", stats.CacheHits)
	}
	if stats.PromptTokens != 200 || stats.CompletionTokens != 100 {
		t.Errorf("tokens = %d/%d, want 200/100", stats.PromptTokens, stats.CompletionTokens)
	}
	if stats.CreditsCharged != 2 {
		t.Errorf("credits = %d, want 2", stats.CreditsCharged)
	}
	if stats.AvgLatencyMs != 70 {
		t.Errorf("avg latency = %v, want 70", stats.AvgLatencyMs)
	}

	if len(stats.ByModel) != 2 {
		t.Fatalf("by_model = %d entries, want 2", len(stats.ByModel))
	}
	// Sorted by call count, most-used first.
	if stats.ByModel[0].Model != "gpt-4o-mini" || stats.ByModel[0].Calls != 2 {
		t.Errorf("top model = %+v", stats.ByModel[0])
	}
}

func TestStatsHonorsSince(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()

	old := &models.UsageRecord{
		CallerID: "caller-1", Model: "gpt-4o",
		CreatedAt: time.Now().Add(-48 * time.Hour),
		Status:    models.StatusSuccess,
	}
	r.Record(ctx, old)
	r.Record(ctx, &models.UsageRecord{
		CallerID: "caller-1", Model: "gpt-4o", Status: models.StatusSuccess,
	})

	stats, err := r.Stats(ctx, "caller-1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalCalls != 1 {
		t.Fatalf("total calls = %d, want 1 (old record filtered)", stats.TotalCalls)
	}
}

func TestStatsEmptyWindow(t *testing.T) {
	r := NewMemoryRecorder()

	stats, err := r.Stats(context.Background(), "nobody", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalCalls != 0 || stats.AvgLatencyMs != 0 || len(stats.ByModel) != 0 {
		t.Fatalf("empty stats = %+v", stats)
	}
}
