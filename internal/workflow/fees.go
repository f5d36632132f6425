package workflow

import "github.com/rawblock/mixcore/pkg/mixtypes"

// Conservative per-input/output byte costs for fee estimation (spec
// §4.6.3): an average ECDSA signature fits in a 148-byte input, 149 if the
// caller wants to budget for the rare maximum-size (high-S, high-R)
// signature; every output is a 34-byte P2PKH scriptPubKey.
const (
	avgInputBytes = 148
	maxInputBytes = 149
	outputBytes   = 34
	txOverhead    = 10 // version(4) + locktime(4) + in/out count varints(~2)
)

// EstimateTxSize returns the estimated serialized size, in bytes, of a
// transaction with nInputs/nOutputs standard P2PKH in/outputs.
func EstimateTxSize(nInputs, nOutputs int, maxSize bool) int {
	inputCost := avgInputBytes
	if maxSize {
		inputCost = maxInputBytes
	}
	return txOverhead + nInputs*inputCost + nOutputs*outputBytes
}

// EstimateFee computes ceil(size * feePerKB / 1000), the standard
// fee-per-kilobyte rounding rule this network's relay policy accepts
// (spec §4.6.3, §8 boundary property).
func EstimateFee(nInputs, nOutputs int, feePerKB mixtypes.Amount, maxSize bool) mixtypes.Amount {
	size := EstimateTxSize(nInputs, nOutputs, maxSize)
	numerator := int64(size) * int64(feePerKB)
	return mixtypes.Amount((numerator + 999) / 1000)
}

// dustThreshold is the minimum economically-spendable output value; below
// this, a change output costs more to eventually spend than it's worth.
const dustThreshold mixtypes.Amount = 546

// foldDustChange folds a would-be change output into the transaction fee
// when it would fall below dust, rather than creating an uneconomical
// output (grounded on axe_tx.py, SPEC_FULL.md §6.1; spec §4.6.1/§4.6.3 are
// silent on the sub-dust case). Returns the adjusted change value (0 if
// folded) and the adjusted fee.
func foldDustChange(change, fee mixtypes.Amount) (adjustedChange, adjustedFee mixtypes.Amount) {
	if change > 0 && change < dustThreshold {
		return 0, fee + change
	}
	return change, fee
}
