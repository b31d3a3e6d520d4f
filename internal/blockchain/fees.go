package blockchain

import "math/big"

// boostFee raises fee by the given percentage. Applied to the suggested
// priority fee so anchoring transactions outbid the median and confirm
// within a block or two.
func boostFee(fee *big.Int, percent int64) *big.Int {
	boosted := new(big.Int).Mul(fee, big.NewInt(100+percent))
	return boosted.Div(boosted, big.NewInt(100))
}
