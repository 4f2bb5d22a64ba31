// Package pcapi implements the gateway's own public HTTP surface: channel
// state lookups, a dry-run validation endpoint for senders to sanity-check
// a SignedState before spending it for real, a health probe, and the
// Prometheus scrape endpoint.
package pcapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paychand/pcgw/ledger"
	"github.com/paychand/pcgw/receipt"
)

// Config configures the public API handlers.
type Config struct {
	Store  ledger.Store
	Logger btclog.Logger
}

// API is the public endpoints gateway. Mount with API.Routes() onto a
// ServeMux alongside the payment-gated relay routes.
type API struct {
	store ledger.Store
	log   btclog.Logger
}

func New(cfg Config) *API {
	log := cfg.Logger
	if log == nil {
		log = btclog.Disabled
	}
	return &API{store: cfg.Store, log: log}
}

// Routes registers every public endpoint onto mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/pc/state/", a.handleState)
	mux.HandleFunc("/pc/validate", a.handleValidate)
	mux.HandleFunc("/pc/healthz", a.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
}

type channelStateResponse struct {
	Name              string `json:"name"`
	Sender            string `json:"sender"`
	Receiver          string `json:"receiver"`
	AddedBalance      string `json:"added_balance"`
	WithdrawnBalance  string `json:"withdrawn_balance"`
	CurrentSpent      string `json:"current_spent"`
	SoftClosed        bool   `json:"soft_closed"`
	ForceCloseStarted *int64 `json:"force_close_started,omitempty"`
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/pc/state/")
	if name == "" {
		http.Error(w, "channel name required", http.StatusBadRequest)
		return
	}

	ch, err := a.store.OpenOrLoad(r.Context(), name)
	if err != nil {
		if err == ledger.ErrChannelNotFound {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown_channel"})
			return
		}
		a.log.Errorf("pc/state lookup failed for %s: %v", name, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger_unavailable"})
		return
	}

	resp := channelStateResponse{
		Name:             ch.Name,
		Sender:           ch.Sender,
		Receiver:         ch.Receiver,
		AddedBalance:     ch.AddedBalance.String(),
		WithdrawnBalance: ch.WithdrawnBalance.String(),
		CurrentSpent:     ch.CurrentSpent.String(),
		SoftClosed:       ch.SoftClosed,
	}
	if ch.ForceCloseStarted != nil {
		u := ch.ForceCloseStarted.Unix()
		resp.ForceCloseStarted = &u
	}
	writeJSON(w, http.StatusOK, resp)
}

type validateRequest struct {
	Header string `json:"header"` // base64 X-Payment-Channel-State value
}

type validateResponse struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	CurrentMax     string `json:"current_max,omitempty"`
	ShortfallNote  string `json:"shortfall_note,omitempty"`
}

// handleValidate lets a sender check a candidate SignedState against the
// channel's current state without spending it: it checks the signature,
// soft-close, monotonicity (strictly greater than the current max) and
// balance, but never admits the state or touches the ledger's write path.
// A channel past its force-close dispute window is not reported as closed
// here.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, validateResponse{Valid: false, Reason: "malformed request body"})
		return
	}

	headerBytes, err := base64.StdEncoding.DecodeString(req.Header)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, validateResponse{Valid: false, Reason: "header is not valid base64"})
		return
	}

	candidate, err := receipt.DecodeHeader(headerBytes)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, validateResponse{Valid: false, Reason: err.Error()})
		return
	}

	ch, err := a.store.OpenOrLoad(r.Context(), candidate.ChannelName)
	if err != nil {
		if err == ledger.ErrChannelNotFound {
			writeJSON(w, http.StatusNotFound, validateResponse{Valid: false, Reason: "unknown channel"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, validateResponse{Valid: false, Reason: "ledger unavailable"})
		return
	}

	if err := receipt.Verify(candidate, ch.SenderPK); err != nil {
		writeJSON(w, http.StatusUnauthorized, validateResponse{Valid: false, Reason: "signature invalid"})
		return
	}

	if ch.SoftClosed {
		writeJSON(w, http.StatusGone, validateResponse{Valid: false, Reason: "channel closed"})
		return
	}

	if candidate.SpentBalance.Cmp(ch.CurrentSpent) <= 0 {
		writeJSON(w, http.StatusConflict, validateResponse{
			Valid: false, Reason: "not greater than current max",
			CurrentMax: ch.CurrentSpent.String(),
		})
		return
	}

	total := candidate.SpentBalance.Add(ch.WithdrawnBalance)
	if total.Cmp(ch.AddedBalance) > 0 {
		shortfall := total.Sub(ch.AddedBalance)
		writeJSON(w, http.StatusPaymentRequired, validateResponse{
			Valid: false, Reason: "insufficient balance",
			ShortfallNote: "deposit at least " + shortfall.String() + " more",
		})
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{Valid: true})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
