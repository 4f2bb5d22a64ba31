// Package ledger is the Channel Ledger: the durable, per-channel record of
// added/withdrawn balance and admitted SignedStates, and the single
// critical section (Admit) where double-spend is prevented.
//
// A Channel record is exclusively owned by the Ledger; callers borrow
// read-only snapshots (OpenOrLoad/ChannelByID) and otherwise must go
// through Admit, MarkSoftClosed, MarkForceCloseStarted, or RefreshFromChain
// to mutate state.
package ledger

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/btcsuite/btclog"
	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/receipt"
)

// Channel is the durable record of one payment channel. See spec.md §3 for
// the invariants this type must always satisfy.
type Channel struct {
	ID                int64
	Name              string
	Sender            string
	SenderPK          ed25519.PublicKey
	Receiver          string
	ReceiverPK        ed25519.PublicKey
	AddedBalance      uint128.Uint128
	WithdrawnBalance  uint128.Uint128
	CurrentSpent      uint128.Uint128
	ForceCloseStarted *time.Time
	SoftClosed        bool
	UpdatedAt         time.Time
}

// ChainView is the slice of on-chain channel facts the Chain Oracle
// produces and the Ledger reconciles against. Defined here (rather than in
// chainoracle) so ledger has no dependency on the oracle package.
type ChainView struct {
	AddedBalance      uint128.Uint128
	WithdrawnBalance  uint128.Uint128
	ForceCloseStarted *time.Time
	Closed            bool
}

// NewChannelParams provisions a brand new channel row from on-chain-observed
// immutable facts. Used by operator tooling / reconciliation, not by the
// request path (spec.md intentionally leaves channel creation out of
// scope — it's driven by the sender's CLI and the contract).
type NewChannelParams struct {
	Name         string
	Sender       string
	SenderPK     ed25519.PublicKey
	Receiver     string
	ReceiverPK   ed25519.PublicKey
	AddedBalance uint128.Uint128
}

// Sentinel errors for conditions that don't carry extra data.
var (
	// ErrChannelNotFound means no channel row exists under this name —
	// the sender may not have opened/funded the channel yet.
	ErrChannelNotFound = fmt.Errorf("channel does not exist")

	// ErrChannelAlreadyExists is returned by CreateChannel on a duplicate
	// name (the channel name column is UNIQUE).
	ErrChannelAlreadyExists = fmt.Errorf("channel already exists")
)

// NonMonotonicError is returned when a candidate SignedState does not
// authorize at least `cost` more than the channel's current max spent. The
// HTTP layer surfaces CurrentMax so the sender can retry with a higher
// value (spec.md §7).
type NonMonotonicError struct {
	CurrentMax uint128.Uint128
}

func (e *NonMonotonicError) Error() string {
	return fmt.Sprintf("spent_balance is not sufficiently ahead of current max %s", e.CurrentMax)
}

// InsufficientBalanceError is returned when spent_balance + withdrawn_balance
// would exceed added_balance. Required is the extra amount the sender needs
// to deposit on-chain before retrying.
type InsufficientBalanceError struct {
	Required uint128.Uint128
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: channel needs %s more deposited", e.Required)
}

// ChannelClosedError is returned once a channel is soft-closed, or once its
// force-close dispute window has elapsed.
type ChannelClosedError struct {
	Reason string
}

func (e *ChannelClosedError) Error() string {
	return fmt.Sprintf("channel is closed: %s", e.Reason)
}

// Store is the Channel Ledger's contract (spec.md §4.2).
type Store interface {
	// OpenOrLoad returns the channel row for name, or ErrChannelNotFound.
	OpenOrLoad(ctx context.Context, name string) (*Channel, error)

	// ChannelByID returns the channel row by primary key.
	ChannelByID(ctx context.Context, id int64) (*Channel, error)

	// LatestSpent returns the channel's current authorized spend (0 if no
	// SignedState has ever been admitted).
	LatestSpent(ctx context.Context, channelID int64) (uint128.Uint128, error)

	// LatestSignedState returns the highest-spend SignedState ever
	// admitted for channelID — the one the Close State Machine submits
	// on settlement. Returns ErrChannelNotFound if the channel does not
	// exist; if none has ever been admitted, returns a SignedState with
	// zero spend and an all-zero signature.
	LatestSignedState(ctx context.Context, channelID int64) (receipt.SignedState, error)

	// Admit is the single critical section where double-spend is
	// prevented. See package doc and spec.md §4.2/§5.
	Admit(ctx context.Context, channelName string, candidate receipt.SignedState, cost uint128.Uint128) (uint128.Uint128, error)

	// MarkSoftClosed transitions a channel into the terminal soft-close
	// state: no further admissions.
	MarkSoftClosed(ctx context.Context, channelID int64) error

	// MarkForceCloseStarted records the on-chain force-close timestamp.
	MarkForceCloseStarted(ctx context.Context, channelID int64, at time.Time) error

	// RefreshFromChain reconciles added/withdrawn balance and closure
	// flags against a freshly fetched ChainView.
	RefreshFromChain(ctx context.Context, channelID int64, view ChainView) error

	// CreateChannel provisions a new channel row. Returns
	// ErrChannelAlreadyExists if the name is taken.
	CreateChannel(ctx context.Context, p NewChannelParams) (*Channel, error)

	// ListOpenChannels returns every channel that isn't yet SETTLED —
	// soft_closed channels included, since they're pending settlement, not
	// done. Used by the Close State Machine's poll loop.
	ListOpenChannels(ctx context.Context) ([]*Channel, error)

	// Close releases the underlying storage handle.
	Close() error
}

// DisputeWindow and the rest of the channel-closure timing policy live with
// the caller (closer.Machine / middleware.Gate), not the Ledger itself —
// the Ledger only needs to be told the window duration to evaluate the
// ChannelClosed check inside Admit's critical section.
type Config struct {
	DisputeWindow time.Duration
	Logger        btclog.Logger
}

func (c Config) logger() btclog.Logger {
	if c.Logger == nil {
		return btclog.Disabled
	}
	return c.Logger
}
