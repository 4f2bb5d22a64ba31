package pcgw

import (
	"encoding/json"
	"fmt"

	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/middleware"
)

// DefaultCostFunc is a flat per-request price: one unit of the channel's
// balance per call, regardless of route or body size. Gateway always prices
// requests with this function; Config has no option to select another
// CostFunc or to supply model rates. A different CostFunc (such as one
// built by NewTokenCostFunc) is used only by constructing middleware.Gate
// directly.
func DefaultCostFunc(meta middleware.RouteMeta, body []byte) (uint128.Uint128, error) {
	return uint128.From64(1), nil
}

// chatCompletionRequest is the subset of an LLM chat/completion body this
// gateway needs to price a call, per spec.md §4.4: a flat pre-call charge
// derived from max_tokens × the requested model's per-token rate.
type chatCompletionRequest struct {
	Model     string `json:"model"`
	MaxTokens uint64 `json:"max_tokens"`
}

// NewTokenCostFunc builds a CostFunc that prices a chat/completion request
// as max_tokens × rates[model]. An unrecognized model is a pricing error
// (surfaced as a 500, since it means the gateway's rate table is out of
// date, not that the client did anything wrong) rather than a silent
// default rate, since that would undercharge for a mispriced model.
func NewTokenCostFunc(rates map[string]uint64) middleware.CostFunc {
	return func(meta middleware.RouteMeta, body []byte) (uint128.Uint128, error) {
		var req chatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return uint128.Zero, fmt.Errorf("pricing: decoding request body: %w", err)
		}

		rate, ok := rates[req.Model]
		if !ok {
			return uint128.Zero, fmt.Errorf("pricing: no rate configured for model %q", req.Model)
		}

		return uint128.From64(req.MaxTokens).Mul64(rate), nil
	}
}
