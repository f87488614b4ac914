package market

import "github.com/shopspring/decimal"

// negativeLockedEpsilon bounds how far a locked balance may dip below
// zero from rounding before it is treated as a settlement bug.
var negativeLockedEpsilon = decimal.New(-1, -9) // -1e-9

// AssetBalance is one ledger entry: funds usable for new orders and
// funds reserved by pending orders. All mutation happens under the
// owning market's lock.
type AssetBalance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free plus locked.
func (b AssetBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}
