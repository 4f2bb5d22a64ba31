// Package pcgw wires the Channel Ledger, Chain Oracle, Payment Middleware,
// Close State Machine, Upstream Relay, and public API into one running
// gateway daemon — the same role server.go plays for lnd, minus the P2P
// listener and wallet: this daemon's only "peers" are HTTP clients
// presenting SignedStates.
package pcgw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/chainoracle"
	"github.com/paychand/pcgw/closer"
	"github.com/paychand/pcgw/ledger"
	"github.com/paychand/pcgw/middleware"
	"github.com/paychand/pcgw/pcapi"
	"github.com/paychand/pcgw/relay"
)

// Gateway is the fully wired daemon: every component plus the HTTP server
// fronting them.
type Gateway struct {
	cfg *Config

	store  ledger.Store
	oracle *chainoracle.Oracle
	gate   *middleware.Gate
	closer *closer.Machine
	relay  *relay.Relay
	api    *pcapi.API

	httpServer *http.Server
}

// chainSubmitterAdapter adapts the Chain Oracle into the closer's
// ChainSubmitter interface. SubmitSettlement is a no-op: this gateway sends
// no on-chain transaction, so the closer's settlement step only drops the
// Chain Oracle's cached view of the channel via InvalidateCache.
type chainSubmitterAdapter struct {
	oracle *chainoracle.Oracle
}

func (c *chainSubmitterAdapter) SubmitSettlement(ctx context.Context, channelName string, spent uint128.Uint128, sig [64]byte) error {
	return nil
}

func (c *chainSubmitterAdapter) InvalidateCache(channelName string) {
	c.oracle.Invalidate(channelName)
}

// New constructs a Gateway from cfg without starting it.
func New(cfg *Config) (*Gateway, error) {
	if cfg.LogFile != "" {
		if err := InitLogRotator(cfg.LogFile, 10); err != nil {
			return nil, fmt.Errorf("pcgw: initializing log rotator: %w", err)
		}
	}
	lvl, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	SetLogLevels(lvl)
	logs := loggers()

	store, err := ledger.Open(cfg.DBURL, ledger.Config{
		DisputeWindow: cfg.DisputeWindow,
		Logger:        logs.Ledger,
	})
	if err != nil {
		return nil, fmt.Errorf("pcgw: opening ledger: %w", err)
	}

	rpcClient := chainoracle.NewRPCClient(cfg.ChainRPCURL, nil)
	oracle := chainoracle.New(rpcClient, cfg.OracleTTL)

	limiters := middleware.NewLimiterSet(middleware.LimiterConfig{
		RequestsPerSecond: cfg.RateLimitPerSecond,
		Burst:             cfg.RateLimitBurst,
		OffenseThreshold:  5,
		OffensePenalty:    time.Second,
		OffensePenaltyMax: time.Minute,
		OffenseDecay:      5 * time.Minute,
	})

	gate := middleware.New(middleware.Config{
		Store:    store,
		Oracle:   oracle,
		Cost:     DefaultCostFunc,
		Logger:   logs.Middleware,
		Limiters: limiters,
	})

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("pcgw: invalid upstream url: %w", err)
	}
	rl := relay.New(relay.Config{Upstream: upstream, Logger: logs.Relay})

	closeMachine := closer.New(closer.Config{
		Store:         store,
		Chain:         &chainSubmitterAdapter{oracle: oracle},
		PollInterval:  cfg.ClosePoll,
		DisputeWindow: cfg.DisputeWindow,
		SafetyMargin:  cfg.SafetyMargin,
		Logger:        logs.Closer,
	})

	api := pcapi.New(pcapi.Config{Store: store, Logger: logs.API})

	mux := http.NewServeMux()
	api.Routes(mux)
	mux.Handle("/", gate.Wrap(rl))

	return &Gateway{
		cfg:    cfg,
		store:  store,
		oracle: oracle,
		gate:   gate,
		closer: closeMachine,
		relay:  rl,
		api:    api,
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: mux,
		},
	}, nil
}

// Run starts the closer's background sweep and the HTTP server, blocking
// until ctx is canceled or either fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return err
	}

	gErr, gCtx := errgroup.WithContext(ctx)

	gErr.Go(func() error {
		return g.closer.Run(gCtx)
	})

	gErr.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- g.httpServer.Serve(ln) }()

		select {
		case <-gCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return g.httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	if g.cfg.Notify {
		notifySystemdReady(loggers().Gateway)
	}

	// A canceled ctx is the expected outcome of a signal-driven shutdown
	// (see cmd/pcgwd, which cancels ctx on SIGINT/SIGTERM), not a fatal
	// error — spec.md §6 reserves a non-zero exit for a genuine startup
	// or runtime failure.
	if err := gErr.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the gateway's storage handle.
func (g *Gateway) Close() error {
	return g.store.Close()
}
