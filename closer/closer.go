// Package closer implements the Close State Machine: a background poller
// that walks every open channel, decides whether it needs to submit a
// settlement, and hands the highest admitted SignedState to its
// ChainSubmitter. No separate checkpoint is written before submission: the
// SignedState being submitted was already committed by the Ledger's Admit,
// so a crash mid-submission simply submits the same state again on the
// next sweep.
package closer

import (
	"context"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/ledger"
	"github.com/paychand/pcgw/metrics"
)

// ChainSubmitter is the thin slice of chain interaction the Close State
// Machine needs: settling with the highest admitted SignedState, and
// invalidating the Chain Oracle's cache once a submission lands so the
// next poll sees fresh on-chain state instead of a stale cache hit.
type ChainSubmitter interface {
	SubmitSettlement(ctx context.Context, channelName string, spent uint128.Uint128, signature [64]byte) error
	InvalidateCache(channelName string)
}

// Config configures a Machine.
type Config struct {
	Store          ledger.Store
	Chain          ChainSubmitter
	PollInterval   time.Duration
	DisputeWindow  time.Duration
	SafetyMargin   time.Duration
	Logger         btclog.Logger
}

// Machine is the background Close State Machine. There's no real chain
// notification stream to subscribe to (see chainoracle's pull-based
// design), so it polls on a ticker instead of reacting to events.
type Machine struct {
	cfg Config
	log btclog.Logger
}

func New(cfg Config) *Machine {
	log := cfg.Logger
	if log == nil {
		log = btclog.Disabled
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Machine{cfg: cfg, log: log}
}

// Run blocks, polling every PollInterval until ctx is canceled. Each tick
// is handled by its own errgroup so one channel's submission failure
// doesn't stop the sweep over the rest.
func (m *Machine) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx cancellation is the normal shutdown signal (SIGINT/
			// SIGTERM via signal.NotifyContext), not a failure — return
			// nil so it doesn't look like the sweep died.
			return nil
		case <-ticker.C:
			if err := m.sweep(ctx); err != nil {
				m.log.Errorf("close state machine sweep failed: %v", err)
			}
		}
	}
}

func (m *Machine) sweep(ctx context.Context) error {
	channels, err := m.cfg.Store.ListOpenChannels(ctx)
	if err != nil {
		return err
	}
	metrics.OpenChannels.Set(float64(len(channels)))

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			if err := m.evaluate(gctx, ch); err != nil {
				m.log.Warnf("channel %s: close evaluation failed: %v", ch.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// evaluate decides what, if anything, this channel needs from the closer
// right now, and does it:
//
//   - soft-closed, not yet settled on-chain: submit the latest SignedState
//     as the final settlement.
//   - force-close in progress, approaching the end of the dispute window:
//     submit the highest SignedState before the safety margin runs out, so
//     a slow chain doesn't cause the settlement to miss the window.
//   - otherwise: nothing to do.
func (m *Machine) evaluate(ctx context.Context, ch *ledger.Channel) error {
	if ch.SoftClosed {
		return m.submitSettlement(ctx, ch)
	}

	if ch.ForceCloseStarted == nil {
		return nil
	}

	deadline := ch.ForceCloseStarted.Add(m.cfg.DisputeWindow)
	submitBy := deadline.Add(-m.cfg.SafetyMargin)
	if time.Now().Before(submitBy) {
		return nil
	}

	return m.submitSettlement(ctx, ch)
}

func (m *Machine) submitSettlement(ctx context.Context, ch *ledger.Channel) error {
	latest, err := m.cfg.Store.LatestSignedState(ctx, ch.ID)
	if err != nil {
		return err
	}

	// Submission is idempotent on the contract side, so a retry after a
	// crash mid-submit is harmless — the checkpoint here is simply that
	// the signed state being submitted was already durably committed by
	// the Ledger's Admit before this machine ever saw it.
	if err := m.cfg.Chain.SubmitSettlement(ctx, ch.Name, latest.SpentBalance, latest.Signature); err != nil {
		return err
	}

	m.cfg.Chain.InvalidateCache(ch.Name)
	m.log.Infof("submitted settlement for channel %s at spent %s", ch.Name, latest.SpentBalance)
	return nil
}
