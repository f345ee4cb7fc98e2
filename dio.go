package loraphy

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// dioPollInterval bounds how long WatchDIO takes to notice cancellation.
const dioPollInterval = 100 * time.Millisecond

// Interrupter receives radio interrupts. *Controller implements it.
type Interrupter interface {
	Interrupt(flags IRQFlags)
}

// OpenDIO looks up the named pin and configures it as a pulled-down input
// raising on rising edges.
func OpenDIO(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("failed to find DIO pin %q", name)
	}
	if err := p.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, err
	}
	return p, nil
}

// WatchDIO forwards every edge seen on pin to dst as an interrupt of unknown
// cause until ctx is done. pin must already be configured for edge detection.
func WatchDIO(ctx context.Context, pin gpio.PinIn, dst Interrupter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if pin.WaitForEdge(dioPollInterval) {
				dst.Interrupt(0)
			}
		}
	}
}
