// Package middleware implements the Payment Middleware: the HTTP gate that
// sits in front of the Upstream Relay and admits a request only once its
// X-Payment-Channel-State header carries a SignedState the Channel Ledger
// accepts for the request's priced cost.
package middleware

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/btcsuite/btclog"
	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/ledger"
	"github.com/paychand/pcgw/metrics"
	"github.com/paychand/pcgw/receipt"
)

// PaymentHeader is the HTTP header carrying the base64-encoded SignedState.
const PaymentHeader = "X-Payment-Channel-State"

// RouteMeta is what a CostFunc needs to price a request: the route it hit
// and nothing about payment state, keeping pricing independent of how a
// request happens to pay for itself.
type RouteMeta struct {
	Method string
	Path   string
}

// CostFunc prices a request body against a route. Implementations are
// supplied by the operator (e.g. token-counting against an LLM request
// body); a CostFunc error is surfaced to the client as a 500 PricingError,
// since it signals a gateway-side bug, not a client mistake.
type CostFunc func(meta RouteMeta, body []byte) (uint128.Uint128, error)

// ChainOracle is the Chain Oracle surface the gate needs: a cached,
// lazily-refreshed view of a channel's on-chain facts. Defined here (rather
// than importing chainoracle.Oracle directly) so the gate depends only on
// the one method it calls, the way it already depends on ledger.Store
// rather than *ledger.SQLStore.
type ChainOracle interface {
	ViewForSpend(ctx context.Context, channelName string, candidateSpent uint128.Uint128) (ledger.ChainView, error)
}

// PricingError wraps any error a CostFunc returns.
type PricingError struct {
	Err error
}

func (e *PricingError) Error() string { return "pricing error: " + e.Err.Error() }
func (e *PricingError) Unwrap() error { return e.Err }

// Config configures a Gate.
type Config struct {
	Store    ledger.Store
	Oracle   ChainOracle
	Cost     CostFunc
	Logger   btclog.Logger
	Limiters *LimiterSet
}

// Gate is the http.Handler middleware. Wrap an upstream relay handler with
// Gate.Wrap to require payment on every request it forwards.
type Gate struct {
	store    ledger.Store
	oracle   ChainOracle
	cost     CostFunc
	log      btclog.Logger
	limiters *LimiterSet
}

func New(cfg Config) *Gate {
	log := cfg.Logger
	if log == nil {
		log = btclog.Disabled
	}
	limiters := cfg.Limiters
	if limiters == nil {
		limiters = NewLimiterSet(DefaultLimiterConfig())
	}
	return &Gate{store: cfg.Store, oracle: cfg.Oracle, cost: cfg.Cost, log: log, limiters: limiters}
}

// admissionError carries the HTTP status and JSON body a failure maps to.
type admissionError struct {
	status int
	body   errorBody
}

type errorBody struct {
	Error      string  `json:"error"`
	Message    string  `json:"message"`
	CurrentMax *string `json:"current_max,omitempty"`
	Required   *string `json:"required_top_up,omitempty"`
}

// Wrap returns an http.Handler that validates payment before delegating to
// next. The request body is read once, buffered, and replaced so both the
// CostFunc and the eventual upstream call can read it.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := RouteMeta{Method: r.Method, Path: r.URL.Path}

		body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
		if err != nil {
			writeAdmissionError(w, admissionError{status: http.StatusBadRequest,
				body: errorBody{Error: "malformed_body", Message: err.Error()}})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		channelName, cost, aerr := g.authorize(r.Context(), r, meta, body)
		if aerr != nil {
			metrics.AdmissionsTotal.WithLabelValues(aerr.body.Error).Inc()
			writeAdmissionError(w, *aerr)
			return
		}
		metrics.AdmissionsTotal.WithLabelValues("accepted").Inc()

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), channelNameKey{}, channelName)
		ctx = context.WithValue(ctx, costKey{}, cost)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type channelNameKey struct{}
type costKey struct{}

// ChannelFromContext retrieves the admitted channel name the relay should
// attribute this request to.
func ChannelFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(channelNameKey{}).(string)
	return v, ok
}

func (g *Gate) authorize(ctx context.Context, r *http.Request, meta RouteMeta, body []byte) (string, uint128.Uint128, *admissionError) {
	raw := r.Header.Get(PaymentHeader)
	if raw == "" {
		return "", uint128.Zero, &admissionError{status: http.StatusPaymentRequired,
			body: errorBody{Error: "missing_header", Message: "X-Payment-Channel-State header is required"}}
	}

	headerBytes, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", uint128.Zero, &admissionError{status: http.StatusBadRequest,
			body: errorBody{Error: "malformed", Message: "header is not valid base64"}}
	}

	candidate, err := receipt.DecodeHeader(headerBytes)
	if err != nil {
		return "", uint128.Zero, &admissionError{status: http.StatusBadRequest,
			body: errorBody{Error: "malformed", Message: err.Error()}}
	}
	channelName := candidate.ChannelName

	if blocked, retryAfter := g.limiters.CheckOffender(channelName); blocked {
		return "", uint128.Zero, &admissionError{status: http.StatusTooManyRequests,
			body: errorBody{Error: "rate_limited", Message: "too many invalid requests, retry after " + retryAfter.String()}}
	}

	if !g.limiters.Allow(channelName) {
		return "", uint128.Zero, &admissionError{status: http.StatusTooManyRequests,
			body: errorBody{Error: "rate_limited", Message: "request rate exceeds channel's allowance"}}
	}

	cost, err := g.cost(meta, body)
	if err != nil {
		g.log.Errorf("pricing error on %s %s: %v", meta.Method, meta.Path, err)
		return "", uint128.Zero, &admissionError{status: http.StatusInternalServerError,
			body: errorBody{Error: "pricing_error", Message: "unable to price request"}}
	}

	// Reconcile added/withdrawn balance against the chain before the
	// ledger's own balance check runs, so a sender who topped up on-chain
	// after an earlier InsufficientBalance rejection can succeed on retry
	// without waiting for some other poller to notice. The oracle's own
	// TTL cache keeps this cheap on the common path; failures here are
	// logged and swallowed rather than rejecting the request, since Admit
	// still has the last reconciled balance to fall back on.
	if g.oracle != nil {
		if err := g.refreshFromChain(ctx, channelName, candidate.SpentBalance); err != nil {
			g.log.Warnf("chain oracle refresh failed for channel %s: %v", channelName, err)
		}
	}

	spent, err := g.store.Admit(ctx, channelName, candidate, cost)
	if err == nil {
		return channelName, spent, nil
	}

	return "", uint128.Zero, g.mapError(channelName, err)
}

// refreshFromChain asks the Chain Oracle for a fresh view (if the cached
// one wouldn't cover candidateSpent) and reconciles it into the channel's
// ledger row before the balance check inside Admit runs.
func (g *Gate) refreshFromChain(ctx context.Context, channelName string, candidateSpent uint128.Uint128) error {
	ch, err := g.store.OpenOrLoad(ctx, channelName)
	if err != nil {
		return err
	}
	view, err := g.oracle.ViewForSpend(ctx, channelName, candidateSpent)
	if err != nil {
		return err
	}
	return g.store.RefreshFromChain(ctx, ch.ID, view)
}

func (g *Gate) mapError(channelName string, err error) *admissionError {
	var (
		nonMono *ledger.NonMonotonicError
		insuff  *ledger.InsufficientBalanceError
		closed  *ledger.ChannelClosedError
		sigErr  *receipt.SignatureError
	)

	switch {
	case errors.Is(err, ledger.ErrChannelNotFound):
		return &admissionError{status: http.StatusNotFound,
			body: errorBody{Error: "unknown_channel", Message: "channel does not exist"}}

	case errors.As(err, &nonMono):
		cur := nonMono.CurrentMax.String()
		return &admissionError{status: http.StatusConflict,
			body: errorBody{Error: "non_monotonic", Message: err.Error(), CurrentMax: &cur}}

	case errors.As(err, &insuff):
		req := insuff.Required.String()
		return &admissionError{status: http.StatusPaymentRequired,
			body: errorBody{Error: "insufficient_balance", Message: err.Error(), Required: &req}}

	case errors.As(err, &closed):
		return &admissionError{status: http.StatusGone,
			body: errorBody{Error: "channel_closed", Message: err.Error()}}

	case errors.As(err, &sigErr):
		g.limiters.RecordOffense(channelName)
		return &admissionError{status: http.StatusUnauthorized,
			body: errorBody{Error: "signature_invalid", Message: err.Error()}}

	default:
		g.log.Errorf("ledger unavailable admitting channel %s: %v", channelName, err)
		return &admissionError{status: http.StatusServiceUnavailable,
			body: errorBody{Error: "ledger_unavailable", Message: "try again shortly"}}
	}
}

func writeAdmissionError(w http.ResponseWriter, aerr admissionError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(aerr.status)
	_ = json.NewEncoder(w).Encode(aerr.body)
}
