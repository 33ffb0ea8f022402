package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modelrelay/gateway/internal/shared/models"
)

// MemoryRecorder keeps records in process memory. Used in tests and when
// no database is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []models.UsageRecord
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends one record.
func (r *MemoryRecorder) Record(ctx context.Context, rec *models.UsageRecord) {
	prepare(rec)
	r.mu.Lock()
	r.records = append(r.records, *rec)
	r.mu.Unlock()
}

// Records returns a snapshot of everything recorded for a caller.
func (r *MemoryRecorder) Records(callerID string) []models.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UsageRecord
	for _, rec := range r.records {
		if rec.CallerID == callerID {
			out = append(out, rec)
		}
	}
	return out
}

// Stats aggregates the caller's records newer than since.
func (r *MemoryRecorder) Stats(ctx context.Context, callerID string, since time.Time) (*CallerStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats CallerStats
	var latencySum int64
	byModel := make(map[string]*ModelUsage)

	for _, rec := range r.records {
		if rec.CallerID != callerID || rec.CreatedAt.Before(since) {
			continue
		}
		stats.TotalCalls++
		if rec.Status == models.StatusSuccess {
			stats.SuccessCalls++
		}
		if rec.CacheHit {
			stats.CacheHits++
		}
		stats.PromptTokens += int64(rec.PromptTokens)
		stats.CompletionTokens += int64(rec.CompletionTokens)
		stats.TotalTokens += int64(rec.TotalTokens)
		stats.CreditsCharged += rec.CreditsCharged
		latencySum += int64(rec.LatencyMs)

		if rec.Model != "" {
			m, ok := byModel[rec.Model]
			if !ok {
				m = &ModelUsage{Model: rec.Model}
				byModel[rec.Model] = m
			}
			m.Calls++
			m.TotalTokens += int64(rec.TotalTokens)
			m.CreditsCharged += rec.CreditsCharged
		}
	}

	if stats.TotalCalls > 0 {
		stats.AvgLatencyMs = float64(latencySum) / float64(stats.TotalCalls)
	}

	for _, m := range byModel {
		stats.ByModel = append(stats.ByModel, *m)
	}
	sort.Slice(stats.ByModel, func(i, j int) bool {
		if stats.ByModel[i].Calls != stats.ByModel[j].Calls {
			return stats.ByModel[i].Calls > stats.ByModel[j].Calls
		}
		return stats.ByModel[i].Model < stats.ByModel[j].Model
	})

	return &stats, nil
}
