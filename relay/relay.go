// Package relay implements the Upstream Relay: a streaming reverse proxy
// that forwards an already-admitted request to the backend LLM API without
// buffering its body, preserving chunked transfer and SSE semantics end to
// end. Payment has already been settled by the time a request reaches
// here, so cancellation or a slow/broken client downstream never needs to
// roll back anything the Ledger already committed.
package relay

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/paychand/pcgw/metrics"
	"github.com/paychand/pcgw/middleware"
)

// Config configures a Relay.
type Config struct {
	Upstream *url.URL
	Logger   btclog.Logger
}

// Relay forwards requests to a single upstream, flushing response bytes as
// they arrive rather than buffering the full body — required for
// streaming completions and any other chunked/SSE upstream response.
type Relay struct {
	proxy *httputil.ReverseProxy
	log   btclog.Logger
}

func New(cfg Config) *Relay {
	log := cfg.Logger
	if log == nil {
		log = btclog.Disabled
	}

	proxy := httputil.NewSingleHostReverseProxy(cfg.Upstream)

	// A negative FlushInterval makes ReverseProxy flush after every
	// write instead of batching, which is what keeps an SSE stream
	// arriving at the client incrementally instead of all at once.
	proxy.FlushInterval = -1

	origDirector := proxy.Director
	proxy.Director = func(r *http.Request) {
		origDirector(r)
		r.Host = cfg.Upstream.Host
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		var idBytes [8]byte
		_, _ = rand.Read(idBytes[:])
		incident := hex.EncodeToString(idBytes[:])
		channelName, _ := middleware.ChannelFromContext(r.Context())
		log.Errorf("upstream relay error forwarding %s %s for channel %s (incident %s): %v",
			r.Method, r.URL.Path, channelName, incident, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream_unavailable","message":"backend did not respond","incident_id":"` + incident + `"}`))
	}

	return &Relay{proxy: proxy, log: log}
}

// ServeHTTP forwards req to the upstream. Callers are expected to have
// already run this behind middleware.Gate.Wrap so req carries an admitted
// channel in its context.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	channelName, _ := middleware.ChannelFromContext(req.Context())
	r.log.Debugf("relaying %s %s for channel %s", req.Method, req.URL.Path, channelName)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.proxy.ServeHTTP(rec, req)
	metrics.ObserveRelayLatency(start, strconv.Itoa(rec.status))
}

// statusRecorder captures the status code ReverseProxy writes so it can be
// attributed to the latency histogram after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var _ http.Handler = (*Relay)(nil)
