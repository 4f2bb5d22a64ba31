// Package chainoracle is the Chain Oracle: a pull-based, cached view onto
// the on-chain escrow contract backing a payment channel. It never pushes
// notifications — callers ask "what does the chain say about channel C"
// and get either a cached answer or a fresh one, deduplicating concurrent
// fetches of the same channel via singleflight, the way chainntfs.go's
// ChainNotifier abstracts away the underlying chain backend without
// callers caring how the answer was obtained.
package chainoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/ledger"
	"github.com/paychand/pcgw/metrics"
)

// Client fetches a single channel's on-chain facts. The concrete
// implementation (RPCClient) speaks JSON-RPC to a contract-reading
// service; tests substitute a fake.
type Client interface {
	FetchChannel(ctx context.Context, channelName string) (ledger.ChainView, error)
}

type cacheEntry struct {
	view     ledger.ChainView
	fetchedAt time.Time
}

// Oracle wraps a Client with a TTL cache and lazy, deduplicated refresh.
type Oracle struct {
	client Client
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry

	sf singleflight.Group
}

func New(client Client, ttl time.Duration) *Oracle {
	return &Oracle{
		client: client,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// View returns the best available ChainView for channelName: the cached
// value if it's still within TTL, otherwise a fresh fetch. Concurrent
// callers asking about the same channel while it's stale collapse onto a
// single in-flight fetch.
func (o *Oracle) View(ctx context.Context, channelName string) (ledger.ChainView, error) {
	if v, ok := o.cached(channelName); ok {
		return v, nil
	}
	return o.refresh(ctx, channelName)
}

// ViewForSpend is View, but additionally forces a refresh if the cached
// added_balance wouldn't cover candidateSpent — the channel may have been
// topped up on-chain since the cache was last populated, and an admission
// shouldn't be rejected on stale balance data alone.
func (o *Oracle) ViewForSpend(ctx context.Context, channelName string, candidateSpent uint128.Uint128) (ledger.ChainView, error) {
	if v, ok := o.cached(channelName); ok && v.AddedBalance.Cmp(candidateSpent) >= 0 {
		return v, nil
	}
	return o.refresh(ctx, channelName)
}

func (o *Oracle) cached(channelName string) (ledger.ChainView, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	e, ok := o.cache[channelName]
	if !ok || time.Since(e.fetchedAt) > o.ttl {
		return ledger.ChainView{}, false
	}
	return e.view, true
}

func (o *Oracle) refresh(ctx context.Context, channelName string) (ledger.ChainView, error) {
	result, err, _ := o.sf.Do(channelName, func() (interface{}, error) {
		start := time.Now()
		v, err := o.client.FetchChannel(ctx, channelName)
		metrics.OracleRefreshLatencySeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}

		o.mu.Lock()
		o.cache[channelName] = cacheEntry{view: v, fetchedAt: time.Now()}
		o.mu.Unlock()

		return v, nil
	})
	if err != nil {
		return ledger.ChainView{}, err
	}
	return result.(ledger.ChainView), nil
}

// Invalidate drops any cached entry for channelName, forcing the next View
// call to refresh. Used by the Close State Machine right after it submits
// a settlement, so the next poll sees the new state
// instead of a stale cache hit.
func (o *Oracle) Invalidate(channelName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, channelName)
}

// RPCClient is the production Client: a thin JSON-RPC 2.0 caller against
// the chain indexer/RPC endpoint fronting the escrow contract.
type RPCClient struct {
	endpoint string
	hc       *http.Client
}

func NewRPCClient(endpoint string, hc *http.Client) *RPCClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &RPCClient{endpoint: endpoint, hc: hc}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcChannelResult struct {
	AddedBalance      string `json:"added_balance"`
	WithdrawnBalance  string `json:"withdrawn_balance"`
	ForceCloseStarted *int64 `json:"force_close_started,omitempty"`
	Closed            bool   `json:"closed"`
}

type rpcResponse struct {
	Result *rpcChannelResult `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *RPCClient) FetchChannel(ctx context.Context, channelName string) (ledger.ChainView, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "view_channel",
		Params:  map[string]string{"channel_name": channelName},
	})
	if err != nil {
		return ledger.ChainView{}, fmt.Errorf("chainoracle: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, httpBody(reqBody))
	if err != nil {
		return ledger.ChainView{}, fmt.Errorf("chainoracle: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return ledger.ChainView{}, fmt.Errorf("chainoracle: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ledger.ChainView{}, fmt.Errorf("chainoracle: decoding response: %w", err)
	}
	if out.Error != nil {
		return ledger.ChainView{}, fmt.Errorf("chainoracle: rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	if out.Result == nil {
		return ledger.ChainView{}, fmt.Errorf("chainoracle: empty result for channel %q", channelName)
	}

	return decodeRPCResult(*out.Result)
}

// ErrUnavailable wraps any transport-level failure talking to the chain
// RPC endpoint, distinguished from well-formed RPC error responses so
// callers can map it to a 503 per spec.md §7.
var ErrUnavailable = fmt.Errorf("chain oracle unavailable")
