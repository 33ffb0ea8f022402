package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/gateway/orchestrator"
	"github.com/modelrelay/gateway/internal/gateway/providers"
	"github.com/modelrelay/gateway/internal/gateway/ratelimit"
)

type ChatHandler struct {
	orch *orchestrator.Orchestrator
}

func NewChatHandler(orch *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{orch: orch}
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, ok := CallerFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "no caller identity")
		return
	}

	var req providers.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.CodeInvalidRequest), "invalid request body")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, string(gwerr.CodeInvalidRequest), "model and messages are required")
		return
	}

	// Tool-call emulation and non-streaming models downgrade streaming
	// requests to a single JSON response.
	if req.Stream && !h.orch.Downgraded(req) {
		result, err := h.orch.Stream(ctx, caller, req, w)
		setRateLimitHeaders(w, result.RateLimit)
		if err != nil {
			writeGatewayError(w, result.RateLimit, err)
		}
		return
	}

	result, err := h.orch.Complete(ctx, caller, req)
	setRateLimitHeaders(w, result.RateLimit)
	if err != nil {
		writeGatewayError(w, result.RateLimit, err)
		return
	}

	resp := result.Response
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache-Hit", strconv.FormatBool(resp.CacheHit))
	w.Header().Set("X-Credits-Charged", strconv.FormatInt(resp.CreditsCharged, 10))
	w.Header().Set("X-Provider", string(resp.Provider))
	w.Header().Set("X-Latency-Ms", strconv.Itoa(resp.LatencyMs))
	json.NewEncoder(w).Encode(resp)
}

// HandleModels handles GET /v1/models
func (h *ChatHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   h.orch.Models(),
	})
}

// HandleUsageStats handles GET /v1/usage/stats
func (h *ChatHandler) HandleUsageStats(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "no caller identity")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 24*90 {
			writeError(w, http.StatusBadRequest, string(gwerr.CodeInvalidRequest), "hours must be between 1 and 2160")
			return
		}
		hours = parsed
	}

	stats, err := h.orch.Stats(r.Context(), caller, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(gwerr.CodePersistenceError), "failed to load usage stats")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func setRateLimitHeaders(w http.ResponseWriter, decision ratelimit.Decision) {
	if decision.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

// writeGatewayError maps a pipeline error onto the HTTP surface.
func writeGatewayError(w http.ResponseWriter, decision ratelimit.Decision, err error) {
	status := gwerr.HTTPStatus(err)
	if status == http.StatusTooManyRequests && !decision.ResetAt.IsZero() {
		retryAfter := int(time.Until(decision.ResetAt).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	code := gwerr.CodeOf(err)
	if code == "" {
		code = "internal_error"
	}

	message := err.Error()
	var ge *gwerr.Error
	if errors.As(err, &ge) {
		message = ge.Message
		if ge.UpstreamStatus != 0 {
			message = fmt.Sprintf("%s (upstream status %d)", ge.Message, ge.UpstreamStatus)
		}
	}

	writeError(w, status, string(code), message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
