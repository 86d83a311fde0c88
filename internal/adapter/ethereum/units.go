package ethereum

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const weiDecimals = 18

// toWei converts an ETH amount to wei, truncating below one wei.
func toWei(eth decimal.Decimal) *big.Int {
	return eth.Shift(weiDecimals).BigInt()
}

// fromWei converts wei to ETH.
func fromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}
