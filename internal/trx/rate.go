package trx

import "fmt"

// BaseRate is the LTE-aligned unit the rate table multiplies.
const BaseRate = 1_920_000

var rateMultipliers = [...]int{1, 2, 4, 8, 12, 16}

// Fraction is a rational rate in Hz.
type Fraction struct {
	Num int64
	Den int64
}

// Hz returns the integer rate, or 0 for a zero denominator.
func (f Fraction) Hz() int64 {
	if f.Den == 0 {
		return 0
	}
	return f.Num / f.Den
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// NegotiatedRate is the outcome of rate negotiation.
type NegotiatedRate struct {
	Rate Fraction
	// Index is the table multiplier that was chosen, or 0 when an explicit
	// rate was configured.
	Index int
	// Factor is the decimation/interpolation applied at the hardware.
	Factor int
}

// Negotiate picks a hardware rate for a host that needs at least minimum Hz.
//
// With no configured rate the smallest multiple of BaseRate from the table
// that reaches minimum is returned. With a configured rate, the rate is
// halved while it stays >= minimum and a whole number of kHz; the last
// value passing those tests is returned. A configured rate that is already
// below minimum is returned unchanged, so the result can undershoot.
func Negotiate(configured, minimum int) (NegotiatedRate, error) {
	if configured <= 0 {
		for _, n := range rateMultipliers {
			if minimum <= n*BaseRate {
				return NegotiatedRate{
					Rate:  Fraction{Num: int64(n * BaseRate), Den: 1},
					Index: n,
				}, nil
			}
		}
		return NegotiatedRate{}, fmt.Errorf("%w: minimum %d Hz exceeds %d Hz", ErrRateUnachievable, minimum, rateMultipliers[len(rateMultipliers)-1]*BaseRate)
	}

	rate := configured
	for sr := configured; sr > 0 && sr >= minimum && sr%1000 == 0; sr >>= 1 {
		rate = sr
	}
	return NegotiatedRate{Rate: Fraction{Num: int64(rate), Den: 1}}, nil
}
