package middleware

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/ledger"
	"github.com/paychand/pcgw/receipt"
)

var errOracleDown = errors.New("oracle unreachable")

type fakeStore struct {
	admitErr error
	admitted uint128.Uint128

	ch            *ledger.Channel
	openOrLoadErr error
	refreshedID   int64
	refreshedView ledger.ChainView
	refreshCalls  int
}

func (f *fakeStore) OpenOrLoad(ctx context.Context, name string) (*ledger.Channel, error) {
	if f.openOrLoadErr != nil {
		return nil, f.openOrLoadErr
	}
	return f.ch, nil
}
func (f *fakeStore) ChannelByID(ctx context.Context, id int64) (*ledger.Channel, error) {
	return nil, nil
}
func (f *fakeStore) LatestSpent(ctx context.Context, id int64) (uint128.Uint128, error) {
	return uint128.Zero, nil
}
func (f *fakeStore) LatestSignedState(ctx context.Context, id int64) (receipt.SignedState, error) {
	return receipt.SignedState{}, nil
}
func (f *fakeStore) Admit(ctx context.Context, name string, candidate receipt.SignedState, cost uint128.Uint128) (uint128.Uint128, error) {
	if f.admitErr != nil {
		return uint128.Zero, f.admitErr
	}
	return f.admitted, nil
}
func (f *fakeStore) MarkSoftClosed(ctx context.Context, id int64) error { return nil }
func (f *fakeStore) MarkForceCloseStarted(ctx context.Context, id int64, t time.Time) error {
	return nil
}
func (f *fakeStore) RefreshFromChain(ctx context.Context, id int64, v ledger.ChainView) error {
	f.refreshCalls++
	f.refreshedID = id
	f.refreshedView = v
	return nil
}
func (f *fakeStore) CreateChannel(ctx context.Context, p ledger.NewChannelParams) (*ledger.Channel, error) {
	return nil, nil
}
func (f *fakeStore) ListOpenChannels(ctx context.Context) ([]*ledger.Channel, error) { return nil, nil }
func (f *fakeStore) Close() error                                                    { return nil }

var _ ledger.Store = (*fakeStore)(nil)

type fakeOracle struct {
	view ledger.ChainView
	err  error
	got  string
}

func (f *fakeOracle) ViewForSpend(ctx context.Context, channelName string, candidateSpent uint128.Uint128) (ledger.ChainView, error) {
	f.got = channelName
	if f.err != nil {
		return ledger.ChainView{}, f.err
	}
	return f.view, nil
}

var _ ChainOracle = (*fakeOracle)(nil)

func flatCost(c uint128.Uint128) CostFunc {
	return func(meta RouteMeta, body []byte) (uint128.Uint128, error) {
		return c, nil
	}
}

func newHeader(t *testing.T, priv ed25519.PrivateKey, name string, spent uint64) string {
	t.Helper()
	ss, err := receipt.Sign(priv, receipt.State{ChannelName: name, SpentBalance: uint128.From64(spent)})
	require.NoError(t, err)
	enc, err := receipt.EncodeHeader(ss)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(enc)
}

func TestGateRejectsMissingHeader(t *testing.T) {
	g := New(Config{Store: &fakeStore{}, Cost: flatCost(uint128.Zero), Limiters: NewLimiterSet(DefaultLimiterConfig())})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	called := false
	g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })).ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.False(t, called)
}

func TestGateAdmitsValidRequest(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := &fakeStore{admitted: uint128.From64(5)}
	g := New(Config{Store: store, Cost: flatCost(uint128.Zero), Limiters: NewLimiterSet(DefaultLimiterConfig())})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set(PaymentHeader, newHeader(t, priv, "chan-1", 5))

	called := false
	var gotChannel string
	g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotChannel, _ = ChannelFromContext(r.Context())
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)
	require.Equal(t, "chan-1", gotChannel)
}

func TestGateMapsNonMonotonicTo409(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := &fakeStore{admitErr: &ledger.NonMonotonicError{CurrentMax: uint128.From64(5)}}
	g := New(Config{Store: store, Cost: flatCost(uint128.Zero), Limiters: NewLimiterSet(DefaultLimiterConfig())})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set(PaymentHeader, newHeader(t, priv, "chan-2", 5))

	g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGateMapsUnknownChannelTo404(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := &fakeStore{admitErr: ledger.ErrChannelNotFound}
	g := New(Config{Store: store, Cost: flatCost(uint128.Zero), Limiters: NewLimiterSet(DefaultLimiterConfig())})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set(PaymentHeader, newHeader(t, priv, "chan-3", 1))

	g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateRefreshesChainOracleBeforeAdmit(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := &fakeStore{
		admitted: uint128.From64(5),
		ch:       &ledger.Channel{ID: 42, Name: "chan-5"},
	}
	oracle := &fakeOracle{view: ledger.ChainView{AddedBalance: uint128.From64(1000)}}
	g := New(Config{
		Store: store, Oracle: oracle,
		Cost: flatCost(uint128.Zero), Limiters: NewLimiterSet(DefaultLimiterConfig()),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set(PaymentHeader, newHeader(t, priv, "chan-5", 5))

	g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "chan-5", oracle.got)
	require.Equal(t, 1, store.refreshCalls)
	require.Equal(t, int64(42), store.refreshedID)
	require.True(t, store.refreshedView.AddedBalance.Equals(uint128.From64(1000)))
}

func TestGateSurvivesChainOracleFailure(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := &fakeStore{admitted: uint128.From64(5), ch: &ledger.Channel{ID: 7, Name: "chan-6"}}
	oracle := &fakeOracle{err: errOracleDown}
	g := New(Config{
		Store: store, Oracle: oracle,
		Cost: flatCost(uint128.Zero), Limiters: NewLimiterSet(DefaultLimiterConfig()),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set(PaymentHeader, newHeader(t, priv, "chan-6", 5))

	g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, store.refreshCalls)
}

func TestGateBlocksRepeatOffenders(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := &fakeStore{admitErr: &receipt.SignatureError{Reason: "bad sig"}}
	cfg := DefaultLimiterConfig()
	cfg.OffenseThreshold = 2
	g := New(Config{Store: store, Cost: flatCost(uint128.Zero), Limiters: NewLimiterSet(cfg)})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		req.Header.Set(PaymentHeader, newHeader(t, priv, "chan-4", 1))
		g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set(PaymentHeader, newHeader(t, priv, "chan-4", 1))
	g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
