package loraphy

import (
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type irqRecorder chan IRQFlags

func (r irqRecorder) Interrupt(flags IRQFlags) { r <- flags }

func TestWatchDIO(t *testing.T) {
	pin := &gpiotest.Pin{N: "DIO0", EdgesChan: make(chan gpio.Level)}
	rec := make(irqRecorder, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- WatchDIO(ctx, pin, rec) }()

	for i := 0; i < 2; i++ {
		pin.EdgesChan <- gpio.High
		select {
		case f := <-rec:
			if f != 0 {
				t.Errorf("edge forwarded as %s, want unknown cause", f)
			}
		case <-time.After(time.Second):
			t.Fatal("edge not forwarded")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Error(err)
		}
	case <-time.After(time.Second):
		t.Fatal("WatchDIO did not return after cancel")
	}
}

func TestWatchDIOTxDone(t *testing.T) {
	chip := newFakeChip()
	r := newTestRadio(t, chip)
	check(t, r.SetTxConfig(testTx))
	if err := r.Send([]byte("dio")); err != nil {
		t.Fatal(err)
	}

	pin := &gpiotest.Pin{N: "DIO0", EdgesChan: make(chan gpio.Level)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go WatchDIO(ctx, pin, r.Controller)

	chip.set(RegIrqFlags, byte(IrqTxDone))
	pin.EdgesChan <- gpio.High
	deadline := time.Now().Add(time.Second)
	for r.Status() == TxRunning && time.Now().Before(deadline) {
		r.pump(t)
		time.Sleep(time.Millisecond)
	}
	r.log.expect(t, "TxDone")
}
