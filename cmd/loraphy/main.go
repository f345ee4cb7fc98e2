package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/NV4RE/loraphy"
	"github.com/NV4RE/loraphy/rtc"
	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"
)

var hardwareFlags = []cli.Flag{
	&cli.StringFlag{Name: "spi", Value: "/dev/spidev0.0", EnvVars: []string{"LORAPHY_SPI"}, Usage: "SPI port of the radio"},
	&cli.StringFlag{Name: "reset", Value: "GPIO17", EnvVars: []string{"LORAPHY_RESET"}, Usage: "reset pin"},
	&cli.StringFlag{Name: "dio0", Value: "GPIO4", EnvVars: []string{"LORAPHY_DIO0"}, Usage: "DIO0 interrupt pin"},
	&cli.Uint64Flag{Name: "freq", Value: 868100000, EnvVars: []string{"LORAPHY_FREQUENCY"}, Usage: "carrier frequency in Hz"},
	&cli.UintFlag{Name: "timeout", Value: 3000, Usage: "timeout in ms, 0 for none"},
	&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log radio state changes"},
}

var modulationFlags = []cli.Flag{
	&cli.UintFlag{Name: "sf", Value: 7, Usage: "spreading factor 5..12"},
	&cli.UintFlag{Name: "bw", Value: 125, Usage: "bandwidth in kHz: 125, 250 or 500"},
	&cli.UintFlag{Name: "cr", Value: 1, Usage: "coding rate 1..4 for 4/5..4/8"},
	&cli.UintFlag{Name: "preamble", Value: 8, Usage: "preamble length in symbols"},
	&cli.BoolFlag{Name: "crc", Value: true, Usage: "payload CRC"},
	&cli.BoolFlag{Name: "fixed", Usage: "implicit header (fixed length)"},
	&cli.StringFlag{Name: "band", Usage: "LoRaWAN band name, overrides --sf and --bw with --dr"},
	&cli.IntFlag{Name: "dr", Usage: "LoRaWAN data rate in --band"},
}

type modulation struct {
	bw       loraphy.Bandwidth
	sf, cr   uint8
	preamble uint16
	crc      bool
	fixed    bool
}

func modulationFromFlags(c *cli.Context) (modulation, error) {
	m := modulation{
		sf:       uint8(c.Uint("sf")),
		cr:       uint8(c.Uint("cr")),
		preamble: uint16(c.Uint("preamble")),
		crc:      c.Bool("crc"),
		fixed:    c.Bool("fixed"),
	}
	if name := c.String("band"); name != "" {
		bw, sf, err := loraphy.ModulationFromBand(name, c.Int("dr"))
		if err != nil {
			return m, err
		}
		m.bw, m.sf = bw, sf
		return m, nil
	}
	switch c.Uint("bw") {
	case 125:
		m.bw = loraphy.BW125
	case 250:
		m.bw = loraphy.BW250
	case 500:
		m.bw = loraphy.BW500
	default:
		return m, fmt.Errorf("unsupported bandwidth %d kHz", c.Uint("bw"))
	}
	if m.sf < 5 || m.sf > 12 {
		return m, fmt.Errorf("spreading factor %d out of range", m.sf)
	}
	return m, nil
}

func cliAirtime(c *cli.Context) error {
	m, err := modulationFromFlags(c)
	if err != nil {
		return err
	}
	payload := c.Uint("payload")
	if payload > 255 {
		return fmt.Errorf("payload %d bytes longer than 255", payload)
	}
	ms := loraphy.TimeOnAir(m.bw, m.sf, m.cr, m.preamble, m.fixed, uint8(payload), m.crc)
	fmt.Printf("%s SF%d CR4/%d, %d bytes: %d ms\n", m.bw, m.sf, m.cr+4, payload, ms)
	return nil
}

func cliClock(c *cli.Context) error {
	clk := rtc.New(rtc.NewSystem(), rtc.Rate1024Hz)
	cal := clk.Calendar()
	sec, ms := clk.CalendarTime()
	fmt.Printf("calendar:       %s\n", cal.Time().Format(time.RFC3339Nano))
	fmt.Printf("calendar value: %d ticks\n", clk.CalendarValue())
	fmt.Printf("since epoch:    %d.%03d s\n", sec, ms)
	fmt.Printf("timer value:    %d ticks\n", clk.TimerValue())
	fmt.Printf("rate:           %s, 1000 ms = %d ticks, 1024 ticks = %d ms\n",
		clk.Rate().Name, clk.MsToTicks(1000), clk.TicksToMs(1024))
	return nil
}

// radio brings up the hardware named by the flags and starts forwarding DIO0
// edges to the controller until ctx is done.
func radio(ctx context.Context, c *cli.Context, events *loraphy.Events) (*loraphy.Controller, *loraphy.SPITransport, error) {
	tr, err := loraphy.OpenSPI(c.String("spi"), c.String("reset"))
	if err != nil {
		return nil, nil, err
	}
	dio0, err := loraphy.OpenDIO(c.String("dio0"))
	if err != nil {
		tr.Close()
		return nil, nil, err
	}
	opts := loraphy.Options{Transport: tr}
	if c.Bool("verbose") {
		opts.Logger = log.New(os.Stderr, "loraphy: ", log.LstdFlags)
	}
	ctrl := loraphy.New(events, rtc.New(rtc.NewSystem(), rtc.Rate1024Hz), opts)
	if err := ctrl.SetModem(loraphy.ModemLoRa); err != nil {
		tr.Close()
		return nil, nil, err
	}
	freq := physic.Frequency(c.Uint64("freq")) * physic.Hertz
	if !ctrl.CheckRfFrequency(freq) {
		tr.Close()
		return nil, nil, fmt.Errorf("frequency %s not supported", freq)
	}
	if err := ctrl.SetChannel(freq); err != nil {
		tr.Close()
		return nil, nil, err
	}
	go loraphy.WatchDIO(ctx, dio0, ctrl)
	return ctrl, tr, nil
}

// pump runs the interrupt pump until done is closed or ctx ends.
func pump(ctx context.Context, ctrl *loraphy.Controller, done <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		default:
		}
		if err := ctrl.IrqProcess(); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

var errTxTimeout = errors.New("transmit timed out")

func cliSend(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: loraphy send [flags] MESSAGE")
	}
	m, err := modulationFromFlags(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	done := make(chan struct{})
	var result error
	events := &loraphy.Events{
		TxDone: func() { close(done) },
		TxTimeout: func() {
			result = errTxTimeout
			close(done)
		},
	}
	ctrl, tr, err := radio(ctx, c, events)
	if err != nil {
		return err
	}
	defer tr.Close()

	err = ctrl.SetTxConfig(loraphy.TxConfig{
		Modem:           loraphy.ModemLoRa,
		Power:           int8(c.Int("power")),
		Bandwidth:       m.bw,
		SpreadingFactor: m.sf,
		CodingRate:      m.cr,
		PreambleLength:  m.preamble,
		FixedLength:     m.fixed,
		CRC:             m.crc,
		Timeout:         uint32(c.Uint("timeout")),
	})
	if err != nil {
		return err
	}
	payload := []byte(c.Args().First())
	if len(payload) > 255 {
		return loraphy.ErrPayloadTooLong
	}
	fmt.Printf("sending %d bytes, %d ms on air\n", len(payload), ctrl.TimeOnAir(loraphy.ModemLoRa, uint8(len(payload))))
	if err := ctrl.Send(payload); err != nil {
		return err
	}
	if err := pump(ctx, ctrl, done); err != nil {
		return err
	}
	if result == nil {
		fmt.Println("sent")
	}
	return result
}

// listener prints frames and restarts the receive window after each one, so
// the timeout bounds the silence between frames.
type listener struct {
	ctrl    *loraphy.Controller
	timeout uint32
	out     io.Writer
	frame   bool
	done    chan struct{}
}

func newListener(timeout uint32, out io.Writer) *listener {
	return &listener{timeout: timeout, out: out, done: make(chan struct{})}
}

func (l *listener) events() *loraphy.Events {
	return &loraphy.Events{
		RxDone: func(payload []byte, rssi int16, snr int8) {
			fmt.Fprintf(l.out, "%q rssi %d dBm snr %d dB\n", payload, rssi, snr)
			l.frame = true
		},
		RxError: func() {
			fmt.Fprintln(l.out, "crc error")
			l.frame = true
		},
		RxTimeout: func() { close(l.done) },
	}
}

// step runs the interrupt pump once and re-arms the receiver after a frame.
func (l *listener) step() error {
	if err := l.ctrl.IrqProcess(); err != nil {
		return err
	}
	if !l.frame {
		return nil
	}
	l.frame = false
	if l.timeout == 0 || l.ctrl.Status() != loraphy.RxRunning {
		return nil
	}
	if err := l.ctrl.Standby(); err != nil {
		return err
	}
	return l.ctrl.Rx(l.timeout)
}

func (l *listener) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		default:
		}
		if err := l.step(); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

func cliListen(c *cli.Context) error {
	m, err := modulationFromFlags(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	l := newListener(uint32(c.Uint("timeout")), os.Stdout)
	ctrl, tr, err := radio(ctx, c, l.events())
	if err != nil {
		return err
	}
	defer tr.Close()
	l.ctrl = ctrl

	err = ctrl.SetRxConfig(loraphy.RxConfig{
		Modem:           loraphy.ModemLoRa,
		Bandwidth:       m.bw,
		SpreadingFactor: m.sf,
		CodingRate:      m.cr,
		PreambleLength:  m.preamble,
		SymbolTimeout:   uint16(c.Uint("symbols")),
		FixedLength:     m.fixed,
		CRC:             m.crc,
		Continuous:      true,
	})
	if err != nil {
		return err
	}
	if err := ctrl.Rx(l.timeout); err != nil {
		return err
	}
	defer ctrl.Sleep()
	return l.run(ctx)
}

func main() {
	app := &cli.App{
		Name:  "loraphy",
		Usage: "LoRa radio time on air, RTC and send/receive tool",
		Commands: []*cli.Command{
			{
				Name:   "airtime",
				Usage:  "print the time on air of a packet",
				Flags:  append([]cli.Flag{&cli.UintFlag{Name: "payload", Value: 10, Usage: "payload length in bytes"}}, modulationFlags...),
				Action: cliAirtime,
			},
			{
				Name:   "clock",
				Usage:  "print the host calendar as seen by the RTC engine",
				Action: cliClock,
			},
			{
				Name:      "send",
				Usage:     "transmit one message",
				ArgsUsage: "MESSAGE",
				Flags: append(append([]cli.Flag{
					&cli.IntFlag{Name: "power", Value: 14, Usage: "output power in dBm"},
				}, modulationFlags...), hardwareFlags...),
				Action: cliSend,
			},
			{
				Name:  "listen",
				Usage: "receive and print frames, giving up after --timeout ms without one (0 listens forever)",
				Flags: append(append([]cli.Flag{
					&cli.UintFlag{Name: "symbols", Value: 5, Usage: "single-mode symbol timeout"},
				}, modulationFlags...), hardwareFlags...),
				Action: cliListen,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
