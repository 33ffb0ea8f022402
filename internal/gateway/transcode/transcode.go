// Package transcode converts an adapter's canonical chunk stream into the
// gateway's server-sent-event wire format. It observes rather than buffers:
// every chunk is forwarded to the client as soon as it arrives, while token
// totals accumulate on the side for metering.
package transcode

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/gateway/providers"
	"github.com/modelrelay/gateway/internal/shared/logging"
)

// Totals is what the stream added up to, for metering. When the provider
// never reported usage, the completion count is estimated from the
// forwarded text and Estimated is set.
type Totals struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
	ChunksForwarded  int
}

// Options configures one transcoding run.
type Options struct {
	// Model is the public model id stamped on the final event.
	Model string

	// PromptTokensEstimate is used when the provider reports no usage.
	PromptTokensEstimate int

	// Finalize runs once, after the last upstream frame and before the
	// usage event and terminator are written, so ledger writes settle
	// before the stream is committed as complete. The returned credits
	// are stamped on the usage event; on error the event carries zero.
	Finalize func(totals Totals) (int64, error)
}

// finalEvent is the one usage/credits event emitted after the last delta.
type finalEvent struct {
	ID             string       `json:"id"`
	Object         string       `json:"object"`
	Model          string       `json:"model"`
	Usage          openai.Usage `json:"usage"`
	CreditsCharged int64        `json:"credits_charged"`
}

// Stream forwards chunks from the reader to w as canonical SSE, then emits
// exactly one usage/credits event and one [DONE] terminator. An abnormal
// upstream termination is recovered locally: whatever arrived is already
// forwarded, the final pair is still emitted, and the partial totals are
// returned for metering. The returned error is non-nil only when the
// transport to the caller itself failed.
func Stream(w http.ResponseWriter, stream providers.StreamReader, opts Options) (Totals, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return Totals{}, fmt.Errorf("response writer does not support streaming")
	}

	var totals Totals
	var textChars int
	var streamID string

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed or truncated upstream frame. Bytes already sent to
			// the caller stay sent; close out the stream normally with
			// whatever totals are available.
			logging.Warn().Err(err).Str("model", opts.Model).
				Msg("upstream stream terminated abnormally, emitting partial totals")
			break
		}

		if chunk.ID != "" {
			streamID = chunk.ID
		}
		for _, choice := range chunk.Choices {
			textChars += len(choice.Delta.Content)
		}
		if chunk.Usage != nil {
			totals.PromptTokens = chunk.Usage.PromptTokens
			totals.CompletionTokens = chunk.Usage.CompletionTokens
			totals.TotalTokens = chunk.Usage.TotalTokens
			// Usage reaches the caller exactly once, on the final event.
			chunk.Usage = nil
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away; stop immediately but still meter.
			return finishTotals(totals, textChars, opts), err
		}
		flusher.Flush()
		totals.ChunksForwarded++
	}

	totals = finishTotals(totals, textChars, opts)

	final := finalEvent{
		ID:     streamID,
		Object: "chat.completion.chunk",
		Model:  opts.Model,
		Usage: openai.Usage{
			PromptTokens:     totals.PromptTokens,
			CompletionTokens: totals.CompletionTokens,
			TotalTokens:      totals.TotalTokens,
		},
	}
	if opts.Finalize != nil {
		if credits, err := opts.Finalize(totals); err == nil {
			final.CreditsCharged = credits
		}
	}

	data, _ := json.Marshal(final)
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return totals, err
	}
	flusher.Flush()

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return totals, err
	}
	flusher.Flush()

	return totals, nil
}

// finishTotals fills in estimates when the provider reported no usage.
// The chars/4 heuristic is rough but only applies to providers that stream
// without usage frames or to streams cut off before the usage frame.
func finishTotals(totals Totals, textChars int, opts Options) Totals {
	if totals.TotalTokens == 0 && totals.CompletionTokens == 0 {
		totals.PromptTokens = opts.PromptTokensEstimate
		totals.CompletionTokens = (textChars + 3) / 4
		totals.TotalTokens = totals.PromptTokens + totals.CompletionTokens
		totals.Estimated = true
	}
	return totals
}
