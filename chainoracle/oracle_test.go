package chainoracle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/ledger"
)

type fakeClient struct {
	calls int32
	view  ledger.ChainView
}

func (f *fakeClient) FetchChannel(ctx context.Context, name string) (ledger.ChainView, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.view, nil
}

func TestOracleCachesWithinTTL(t *testing.T) {
	fc := &fakeClient{view: ledger.ChainView{AddedBalance: uint128.From64(100)}}
	o := New(fc, time.Minute)

	ctx := context.Background()
	_, err := o.View(ctx, "chan-1")
	require.NoError(t, err)
	_, err = o.View(ctx, "chan-1")
	require.NoError(t, err)

	require.EqualValues(t, 1, atomic.LoadInt32(&fc.calls))
}

func TestOracleRefreshesAfterTTL(t *testing.T) {
	fc := &fakeClient{view: ledger.ChainView{AddedBalance: uint128.From64(100)}}
	o := New(fc, time.Millisecond)

	ctx := context.Background()
	_, err := o.View(ctx, "chan-2")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = o.View(ctx, "chan-2")
	require.NoError(t, err)

	require.EqualValues(t, 2, atomic.LoadInt32(&fc.calls))
}

func TestViewForSpendForcesRefreshOnInsufficientCache(t *testing.T) {
	fc := &fakeClient{view: ledger.ChainView{AddedBalance: uint128.From64(100)}}
	o := New(fc, time.Minute)

	ctx := context.Background()
	_, err := o.View(ctx, "chan-3")
	require.NoError(t, err)

	fc.view = ledger.ChainView{AddedBalance: uint128.From64(1000)}
	view, err := o.ViewForSpend(ctx, "chan-3", uint128.From64(500))
	require.NoError(t, err)
	require.True(t, view.AddedBalance.Equals(uint128.From64(1000)))
	require.EqualValues(t, 2, atomic.LoadInt32(&fc.calls))
}

func TestInvalidateForcesRefresh(t *testing.T) {
	fc := &fakeClient{view: ledger.ChainView{AddedBalance: uint128.From64(100)}}
	o := New(fc, time.Hour)

	ctx := context.Background()
	_, err := o.View(ctx, "chan-4")
	require.NoError(t, err)

	o.Invalidate("chan-4")
	_, err = o.View(ctx, "chan-4")
	require.NoError(t, err)

	require.EqualValues(t, 2, atomic.LoadInt32(&fc.calls))
}
