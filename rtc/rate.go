package rtc

import "math"

// Ratio scales a 32 bit quantity by Num/Den using a 64 bit intermediate.
// When Nearest is set the result is rounded half-up instead of truncated.
// Results beyond 32 bits saturate at math.MaxUint32.
type Ratio struct {
	Num, Den uint64
	Nearest  bool
}

func (r Ratio) apply(v uint32) uint32 {
	n := uint64(v) * r.Num
	if r.Nearest {
		n += r.Den / 2
	}
	if n /= r.Den; n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

// Rate is the conversion table between milliseconds and hardware ticks.
// Both directions are kept as separate entries: they are not exact inverses
// when the tick period is not a whole number of milliseconds.
type Rate struct {
	Name    string
	ToTicks Ratio
	ToMs    Ratio
}

const commonFactor = 3

var (
	// Rate1024Hz is the 10 bit sub-second calendar base.
	// 1000/1024 reduced by the common factor 2^3 gives 125/128.
	Rate1024Hz = Rate{
		Name:    "1024Hz",
		ToTicks: Ratio{Num: 1 << (SubSecondBits - commonFactor), Den: 1000 >> commonFactor},
		ToMs:    Ratio{Num: 1000 >> commonFactor, Den: 1 << (SubSecondBits - commonFactor), Nearest: true},
	}
	// RateMillisecond is a backend whose tick is one millisecond.
	RateMillisecond = Rate{
		Name:    "1kHz",
		ToTicks: Ratio{Num: 1, Den: 1},
		ToMs:    Ratio{Num: 1, Den: 1},
	}
)

// MsToTicks converts milliseconds to ticks, truncating.
func (r Rate) MsToTicks(ms uint32) uint32 { return r.ToTicks.apply(ms) }

// TicksToMs converts ticks to milliseconds.
func (r Rate) TicksToMs(ticks uint32) uint32 { return r.ToMs.apply(ticks) }
