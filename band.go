package loraphy

import (
	"fmt"

	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"
)

// ModulationFromBand returns the bandwidth and spreading factor of data rate
// dr in the named LoRaWAN regional band, e.g. "EU868" or "US915". FSK data
// rates and bandwidths other than 125, 250 and 500 kHz give
// ErrUnsupportedDataRate.
func ModulationFromBand(name string, dr int) (Bandwidth, uint8, error) {
	b, err := band.GetConfig(band.Name(name), false, lorawan.DwellTimeNoLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("band %s: %w", name, err)
	}
	d, err := b.GetDataRate(dr)
	if err != nil {
		return 0, 0, fmt.Errorf("band %s: %w", name, err)
	}
	if d.Modulation != band.LoRaModulation {
		return 0, 0, fmt.Errorf("band %s DR%d is %s: %w", name, dr, d.Modulation, ErrUnsupportedDataRate)
	}
	var bw Bandwidth
	switch d.Bandwidth {
	case 125:
		bw = BW125
	case 250:
		bw = BW250
	case 500:
		bw = BW500
	default:
		return 0, 0, fmt.Errorf("band %s DR%d bandwidth %d kHz: %w", name, dr, d.Bandwidth, ErrUnsupportedDataRate)
	}
	return bw, uint8(d.SpreadFactor), nil
}
