package app

import (
	"fmt"
	"math/bits"
)

func addU64Checked(a, b uint64, what string) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, fmt.Errorf("%s overflow: have=%d add=%d", what, a, b)
	}
	return a + b, nil
}

// mulBpsFloor computes amount*bps/10000 rounded down, without overflow on
// the intermediate product.
func mulBpsFloor(amount uint64, bps uint32) uint64 {
	if amount == 0 || bps == 0 {
		return 0
	}
	hi, lo := bits.Mul64(amount, uint64(bps))
	q, _ := bits.Div64(hi, lo, 10000)
	return q
}

// mulBpsCeil computes amount*bps/10000 rounded up, capped at amount.
func mulBpsCeil(amount uint64, bps uint32) uint64 {
	if amount == 0 || bps == 0 {
		return 0
	}
	hi, lo := bits.Mul64(amount, uint64(bps))
	q, r := bits.Div64(hi, lo, 10000)
	if r != 0 {
		q++
	}
	if q > amount {
		return amount
	}
	return q
}

// mulDivFloor computes a*b/d rounded down. d must be non-zero.
func mulDivFloor(a, b, d uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, d)
	return q
}
