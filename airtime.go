package loraphy

import "fmt"

// TimeOnAir returns the on-air duration in milliseconds, rounded up, of a LoRa
// packet with payloadLen bytes of payload. cr is the coding rate index 1..4,
// preamble the programmed preamble length in symbols. SF5 and SF6 use a
// preamble of at least 12 symbols whatever is programmed.
//
// It panics when sf is outside 5..12 or bw is not a valid bandwidth index.
func TimeOnAir(bw Bandwidth, sf, cr uint8, preamble uint16, fixedLen bool, payloadLen uint8, crc bool) uint32 {
	num := 1000 * symbolNumerator(bw, sf, cr, preamble, fixedLen, payloadLen, crc)
	return uint32(divCeil(num, uint64(bw.Hertz())))
}

// symbolNumerator returns the packet duration times the bandwidth in Hz,
// in units of quarter symbols scaled by 2^(sf-2).
func symbolNumerator(bw Bandwidth, sf, cr uint8, preamble uint16, fixedLen bool, payloadLen uint8, crc bool) uint64 {
	if sf < 5 || sf > 12 {
		panic(fmt.Sprintf("loraphy: spreading factor %d out of range", sf))
	}
	if sf <= 6 && preamble < 12 {
		preamble = 12
	}

	num := int64(payloadLen)*8 - 4*int64(sf)
	if crc {
		num += 16
	}
	if !fixedLen {
		num += 20
	}

	den := 4 * int64(sf)
	if sf > 6 {
		num += 8
		if lowDataRateOptimize(bw, sf) {
			den = 4 * (int64(sf) - 2)
		}
	}
	if num < 0 {
		num = 0
	}

	symbols := divCeil(uint64(num), uint64(den))*(uint64(cr)+4) + uint64(preamble) + 12
	if sf <= 6 {
		symbols += 2
	}
	return (4*symbols + 1) << (sf - 2)
}

// lowDataRateOptimize reports whether the symbol time exceeds 16 ms, which
// mandates the low data rate optimisation.
func lowDataRateOptimize(bw Bandwidth, sf uint8) bool {
	return (bw == BW125 && (sf == 11 || sf == 12)) || (bw == BW250 && sf == 12)
}

// symbolsToMs returns the duration of n symbols in milliseconds, rounded up.
func symbolsToMs(bw Bandwidth, sf uint8, n uint16) uint32 {
	return uint32(divCeil(1000*uint64(n)<<sf, uint64(bw.Hertz())))
}

func divCeil(x, n uint64) uint64 { return (x + n - 1) / n }
