package chainoracle

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"lukechampine.com/uint128"

	"github.com/paychand/pcgw/ledger"
)

func httpBody(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func decodeRPCResult(r rpcChannelResult) (ledger.ChainView, error) {
	added, err := uint128.FromString(r.AddedBalance)
	if err != nil {
		return ledger.ChainView{}, fmt.Errorf("chainoracle: parsing added_balance %q: %w", r.AddedBalance, err)
	}
	withdrawn, err := uint128.FromString(r.WithdrawnBalance)
	if err != nil {
		return ledger.ChainView{}, fmt.Errorf("chainoracle: parsing withdrawn_balance %q: %w", r.WithdrawnBalance, err)
	}

	view := ledger.ChainView{
		AddedBalance:     added,
		WithdrawnBalance: withdrawn,
		Closed:           r.Closed,
	}
	if r.ForceCloseStarted != nil {
		t := time.Unix(*r.ForceCloseStarted, 0).UTC()
		view.ForceCloseStarted = &t
	}
	return view, nil
}
