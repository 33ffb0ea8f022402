// Package orchestrator sequences the per-call pipeline: resolve the model,
// admit the caller, pre-check credits, consult the cache, emulate tool
// calling when needed, dispatch to the provider, transcode or collect the
// response, deduct credits, store to cache, and meter the outcome. Every
// call attempt leaves exactly one usage record.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/gateway/internal/gateway/cache"
	"github.com/modelrelay/gateway/internal/gateway/catalog"
	"github.com/modelrelay/gateway/internal/gateway/emulator"
	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/gateway/ledger"
	"github.com/modelrelay/gateway/internal/gateway/providers"
	"github.com/modelrelay/gateway/internal/gateway/ratelimit"
	"github.com/modelrelay/gateway/internal/gateway/transcode"
	"github.com/modelrelay/gateway/internal/gateway/usage"
	"github.com/modelrelay/gateway/internal/shared/logging"
	"github.com/modelrelay/gateway/internal/shared/models"
)

// Config carries the orchestrator's caching policy.
type Config struct {
	CacheEnabled    bool
	CacheDefaultTTL time.Duration
	CacheMaxTTL     time.Duration
}

// Orchestrator is the single entry point for chat completion calls.
type Orchestrator struct {
	catalog  *catalog.Catalog
	limiter  ratelimit.Limiter
	ledger   ledger.Ledger
	cache    cache.Cache
	registry *providers.Registry
	recorder usage.Recorder
	cfg      Config
}

// Result is the outcome of a call, including the rate-limit decision for
// response headers. RateLimit is populated once the pipeline reached the
// admission stage, even when the call was ultimately rejected.
type Result struct {
	Response  *providers.ChatResponse
	RateLimit ratelimit.Decision
}

// New wires an orchestrator from its collaborators.
func New(cat *catalog.Catalog, limiter ratelimit.Limiter, led ledger.Ledger, c cache.Cache, reg *providers.Registry, rec usage.Recorder, cfg Config) *Orchestrator {
	return &Orchestrator{
		catalog:  cat,
		limiter:  limiter,
		ledger:   led,
		cache:    c,
		registry: reg,
		recorder: rec,
		cfg:      cfg,
	}
}

// Downgraded reports whether a streaming request must be served as a
// single non-streaming call: tool-call emulation is active or the model
// does not stream. Resolution errors surface through the non-streaming
// path, so they count as downgrades too.
func (o *Orchestrator) Downgraded(req providers.ChatRequest) bool {
	d, err := o.catalog.Resolve(req.Model)
	if err != nil {
		return true
	}
	return emulator.Active(req, d) || !d.SupportsStreaming
}

// Complete serves a non-streaming chat completion.
func (o *Orchestrator) Complete(ctx context.Context, caller models.Caller, req providers.ChatRequest) (Result, error) {
	start := time.Now()

	d, result, err := o.admit(ctx, caller, req)
	if err != nil {
		return result, err
	}

	// Cache lookup. A hit is still metered, with zero credits charged.
	cacheable := o.cfg.CacheEnabled && !req.NoCache
	if cacheable {
		if cached, ok := o.cache.Lookup(ctx, req); ok {
			cached.CacheHit = true
			cached.CreditsCharged = 0
			cached.LatencyMs = int(time.Since(start).Milliseconds())
			o.meter(ctx, caller, d, &models.UsageRecord{
				PromptTokens:     cached.Usage.PromptTokens,
				CompletionTokens: cached.Usage.CompletionTokens,
				CacheHit:         true,
				Status:           models.StatusSuccess,
				LatencyMs:        cached.LatencyMs,
			})
			result.Response = cached
			return result, nil
		}
	}

	emulated := emulator.Active(req, d)
	dispatched := req
	if emulated {
		dispatched = emulator.Prepare(req)
	} else if dispatched.Stream {
		dispatched = dispatched.Clone()
		dispatched.Stream = false
	}

	provider, err := o.registry.Get(d.Provider)
	if err != nil {
		o.meter(ctx, caller, d, &models.UsageRecord{
			Status:       models.StatusError,
			ErrorCode:    string(gwerr.CodeOf(err)),
			ErrorMessage: err.Error(),
			LatencyMs:    int(time.Since(start).Milliseconds()),
		})
		return result, err
	}

	resp, err := provider.Complete(ctx, d, dispatched)
	if err != nil {
		o.meter(ctx, caller, d, &models.UsageRecord{
			Status:       models.StatusError,
			ErrorCode:    string(gwerr.CodeOf(err)),
			ErrorMessage: err.Error(),
			LatencyMs:    int(time.Since(start).Milliseconds()),
		})
		return result, err
	}

	if emulated {
		resp = emulator.Extract(resp)
	}

	credits, err := o.deduct(ctx, caller, d, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if err != nil {
		o.meter(ctx, caller, d, &models.UsageRecord{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			Status:           models.StatusError,
			ErrorCode:        string(gwerr.CodeOf(err)),
			ErrorMessage:     err.Error(),
			LatencyMs:        int(time.Since(start).Milliseconds()),
		})
		return result, err
	}

	resp.Model = d.ID
	resp.Provider = d.Provider
	resp.ContextWindow = d.ContextWindow
	resp.CreditsCharged = credits
	resp.LatencyMs = int(time.Since(start).Milliseconds())
	if resp.ID == "" {
		resp.ID = "chatcmpl-" + uuid.NewString()
	}

	if cacheable {
		o.cache.Store(ctx, req, resp, o.cacheTTL(req))
	}

	o.meter(ctx, caller, d, &models.UsageRecord{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CreditsCharged:   credits,
		Status:           models.StatusSuccess,
		LatencyMs:        resp.LatencyMs,
	})

	result.Response = resp
	return result, nil
}

// Stream serves a streaming chat completion, writing canonical SSE to w.
// Nothing is written before the provider stream is open, so every rejection
// still surfaces as a plain HTTP error. Once bytes have reached the caller
// the call is committed: even on client disconnect or upstream truncation
// the observed totals are deducted and metered.
func (o *Orchestrator) Stream(ctx context.Context, caller models.Caller, req providers.ChatRequest, w http.ResponseWriter) (Result, error) {
	start := time.Now()

	d, result, err := o.admit(ctx, caller, req)
	if err != nil {
		return result, err
	}

	provider, err := o.registry.Get(d.Provider)
	if err != nil {
		o.meter(ctx, caller, d, &models.UsageRecord{
			Streamed:     true,
			Status:       models.StatusError,
			ErrorCode:    string(gwerr.CodeOf(err)),
			ErrorMessage: err.Error(),
			LatencyMs:    int(time.Since(start).Milliseconds()),
		})
		return result, err
	}

	stream, err := provider.Stream(ctx, d, req)
	if err != nil {
		o.meter(ctx, caller, d, &models.UsageRecord{
			Streamed:     true,
			Status:       models.StatusError,
			ErrorCode:    string(gwerr.CodeOf(err)),
			ErrorMessage: err.Error(),
			LatencyMs:    int(time.Since(start).Milliseconds()),
		})
		return result, err
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The deduction runs inside the transcoder's finalize hook: after the
	// last upstream frame, before the usage event and [DONE] reach the
	// caller. By the time the stream is committed as complete, the ledger
	// row exists and the final event carries the deducted amount.
	var credits int64
	var finalized bool
	totals, streamErr := transcode.Stream(w, stream, transcode.Options{
		Model:                d.ID,
		PromptTokensEstimate: estimatePromptTokens(req),
		Finalize: func(t transcode.Totals) (int64, error) {
			finalized = true
			c, err := o.deduct(ctx, caller, d, t.PromptTokens, t.CompletionTokens)
			if err != nil {
				logging.Error().Err(err).Str("caller_id", caller.ID).
					Msg("credit deduction failed for streamed completion")
				return 0, err
			}
			credits = c
			return c, nil
		},
	})
	if streamErr != nil {
		logging.Warn().Err(streamErr).Str("caller_id", caller.ID).
			Msg("client transport failed mid-stream, metering partial totals")
	}
	if !finalized && totals.TotalTokens > 0 {
		// Transport death skips the finalize hook, but bytes already
		// reached the caller; the partial totals are still charged.
		c, err := o.deduct(ctx, caller, d, totals.PromptTokens, totals.CompletionTokens)
		if err != nil {
			logging.Error().Err(err).Str("caller_id", caller.ID).
				Msg("credit deduction failed for streamed completion")
		} else {
			credits = c
		}
	}

	o.meter(ctx, caller, d, &models.UsageRecord{
		PromptTokens:     totals.PromptTokens,
		CompletionTokens: totals.CompletionTokens,
		CreditsCharged:   credits,
		Streamed:         true,
		Status:           models.StatusSuccess,
		LatencyMs:        int(time.Since(start).Milliseconds()),
	})

	return result, nil
}

// Stats exposes the caller's trailing-window usage aggregates.
func (o *Orchestrator) Stats(ctx context.Context, caller models.Caller, since time.Time) (*usage.CallerStats, error) {
	return o.recorder.Stats(ctx, caller.ID, since)
}

// Models lists the active catalog.
func (o *Orchestrator) Models() []models.ModelDescriptor {
	return o.catalog.Models()
}

// admit runs the pre-dispatch stages shared by both paths: model
// resolution, rate limiting, and the credit balance pre-check. A rejection
// here means zero credit charge and zero provider traffic.
func (o *Orchestrator) admit(ctx context.Context, caller models.Caller, req providers.ChatRequest) (*models.ModelDescriptor, Result, error) {
	var result Result

	d, err := o.catalog.Resolve(req.Model)
	if err != nil {
		o.meter(ctx, caller, nil, &models.UsageRecord{
			Model:        req.Model,
			Status:       models.StatusError,
			ErrorCode:    string(gwerr.CodeOf(err)),
			ErrorMessage: err.Error(),
		})
		return nil, result, err
	}

	decision, err := o.limiter.Admit(ctx, caller.ID)
	if err != nil {
		return nil, result, fmt.Errorf("rate limiter: %w", err)
	}
	result.RateLimit = decision
	if !decision.Allowed {
		rejection := gwerr.New(gwerr.CodeRateLimited,
			"rate limit of %d calls per window exceeded", decision.Limit)
		o.meter(ctx, caller, d, &models.UsageRecord{
			Streamed:     req.Stream,
			Status:       models.StatusRateLimited,
			ErrorCode:    string(gwerr.CodeRateLimited),
			ErrorMessage: rejection.Message,
		})
		return nil, result, rejection
	}

	balance, err := o.ledger.Balance(ctx, caller.Account())
	if err != nil {
		return nil, result, err
	}
	if balance <= 0 {
		rejection := gwerr.New(gwerr.CodeInsufficientCredits,
			"caller %s has no credits", caller.Account())
		o.meter(ctx, caller, d, &models.UsageRecord{
			Streamed:     req.Stream,
			Status:       models.StatusInsufficientCredits,
			ErrorCode:    string(gwerr.CodeInsufficientCredits),
			ErrorMessage: rejection.Message,
		})
		return nil, result, rejection
	}

	return d, result, nil
}

// deduct charges the call's credits against the caller's account. Zero
// token calls charge nothing.
func (o *Orchestrator) deduct(ctx context.Context, caller models.Caller, d *models.ModelDescriptor, promptTokens, completionTokens int) (int64, error) {
	credits := d.Cost(promptTokens, completionTokens)
	if credits == 0 {
		return 0, nil
	}
	_, err := o.ledger.Append(ctx, caller.Account(), -credits,
		models.TransactionDeduction, fmt.Sprintf("chat completion %s", d.ID))
	if err != nil {
		return 0, err
	}
	return credits, nil
}

// meter records one usage row, filling in the call identity fields. The
// recorder never fails the call.
func (o *Orchestrator) meter(ctx context.Context, caller models.Caller, d *models.ModelDescriptor, rec *models.UsageRecord) {
	rec.CallerID = caller.ID
	if d != nil {
		rec.Model = d.ID
		rec.Provider = d.Provider
	}
	o.recorder.Record(ctx, rec)
}

// cacheTTL caps the caller-requested TTL.
func (o *Orchestrator) cacheTTL(req providers.ChatRequest) time.Duration {
	ttl := o.cfg.CacheDefaultTTL
	if req.CacheTTLSeconds > 0 {
		ttl = time.Duration(req.CacheTTLSeconds) * time.Second
	}
	if o.cfg.CacheMaxTTL > 0 && ttl > o.cfg.CacheMaxTTL {
		ttl = o.cfg.CacheMaxTTL
	}
	return ttl
}

// estimatePromptTokens sizes the prompt for providers that stream without
// usage frames. Rough chars/4, same heuristic the transcoder applies to
// completion text.
func estimatePromptTokens(req providers.ChatRequest) int {
	chars := 0
	for _, msg := range req.Messages {
		chars += len(msg.Content)
		for _, part := range msg.MultiContent {
			chars += len(part.Text)
		}
	}
	return (chars + 3) / 4
}
