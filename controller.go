package loraphy

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/NV4RE/loraphy/rtc"
	"periph.io/x/conn/v3/physic"
)

// DefaultWakeupTime is the board plus radio wake-up time in ms reported when
// Options leaves WakeupTime zero.
const DefaultWakeupTime = 1

const (
	minRfFrequency = 137 * physic.MegaHertz
	maxRfFrequency = 1020 * physic.MegaHertz

	invertIQReserved byte = 0x26
	invertIQRxOn     byte = 0x40
	invertIQTxOff    byte = 0x01
	invertIQ2On      byte = 0x19
	invertIQ2Off     byte = 0x1d
)

// Options configures a Controller. The zero value is a controller with no
// hardware attached.
type Options struct {
	// Transport reaches the radio registers. When nil the state machine runs
	// alone: register writes are dropped and hardware measurements return
	// stand-in values.
	Transport Transport
	// Logger receives state transitions and register pushes. Nil discards.
	Logger *log.Logger
	// WakeupTime in ms, DefaultWakeupTime when zero.
	WakeupTime uint32
}

type airtimeParams struct {
	bw       Bandwidth
	sf, cr   uint8
	preamble uint16
	fixedLen bool
	crc      bool
}

// Controller owns the modem configuration and the Idle/RxRunning/TxRunning
// state of one radio. It takes over the alarm slot of its clock for the Tx and
// Rx timeouts.
//
// Apart from Interrupt, methods must be called from a single goroutine.
type Controller struct {
	events *Events
	clock  *rtc.Clock
	tr     Transport
	log    *log.Logger

	wakeupTime   uint32
	state        RadioState
	cad          bool
	continuousTx bool
	modem        Modem
	frequency    physic.Frequency
	maxPayload   uint8

	air             airtimeParams
	configured      bool
	rxContinuous    bool
	rxFixedLen      bool
	rxSymbolTimeout uint32
	txTimeout       uint32

	irq atomic.Uint32
}

// New returns an idle controller dispatching to events. events may be nil.
func New(events *Events, clock *rtc.Clock, opts Options) *Controller {
	if events == nil {
		events = &Events{}
	}
	l := opts.Logger
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	w := opts.WakeupTime
	if w == 0 {
		w = DefaultWakeupTime
	}
	c := &Controller{
		events:     events,
		clock:      clock,
		tr:         opts.Transport,
		log:        l,
		wakeupTime: w,
		modem:      ModemLoRa,
		maxPayload: 0xff,
	}
	clock.OnAlarm(c.onTimeout)
	return c
}

func mustLoRa(m Modem) {
	if m != ModemLoRa {
		panic(fmt.Sprintf("loraphy: unsupported modem %s", m))
	}
}

func (c *Controller) Status() RadioState { return c.state }

// SetModem selects the modem. Only ModemLoRa is supported; any other value
// panics.
func (c *Controller) SetModem(m Modem) error {
	mustLoRa(m)
	c.modem = m
	// LongRangeMode can only be switched in sleep.
	return c.setMode(ModeSleep)
}

// SetChannel tunes the carrier to freq.
func (c *Controller) SetChannel(freq physic.Frequency) error {
	c.frequency = freq
	frf := (uint64(freq/physic.Hertz) << 19) / 32000000
	return c.writeRegs([]regValue{
		{RegFrfMsb, byte(frf >> 16)},
		{RegFrfMid, byte(frf >> 8)},
		{RegFrfLsb, byte(frf)},
	})
}

// IsChannelFree listens on freq for up to maxCarrierSenseTime ms and reports
// whether the RSSI stayed at or below rssiThresh. The LoRa receiver senses
// with its configured bandwidth, rxBandwidth is ignored.
//
// Without a transport it always reports a free channel.
func (c *Controller) IsChannelFree(freq, rxBandwidth physic.Frequency, rssiThresh int16, maxCarrierSenseTime uint32) (bool, error) {
	if c.tr == nil {
		return true, nil
	}
	if err := c.SetChannel(freq); err != nil {
		return false, err
	}
	if err := c.setMode(ModeRxContinuous); err != nil {
		return false, err
	}
	c.clock.DelayMs(1)

	free := true
	start := c.clock.TimerValue()
	limit := c.clock.MsToTicks(maxCarrierSenseTime)
	for c.clock.TimerValue()-start < limit {
		rssi, err := c.Rssi(ModemLoRa)
		if err != nil {
			return false, err
		}
		if rssi > rssiThresh {
			free = false
			break
		}
	}
	return free, c.Sleep()
}

// Random returns 32 bits collected from the least significant bit of the
// wideband RSSI, one sample per millisecond. It leaves the radio asleep with
// all interrupts masked; the caller must reconfigure Rx or Tx afterwards.
//
// Without a transport it returns 0.
func (c *Controller) Random() (uint32, error) {
	if c.tr == nil {
		return 0, nil
	}
	if err := c.SetModem(ModemLoRa); err != nil {
		return 0, err
	}
	err := c.writeRegs([]regValue{
		{RegIrqFlagsMask, byte(irqAll)},
		{RegOpMode, byte(ModeLongRange | ModeRxContinuous)},
	})
	if err != nil {
		return 0, err
	}
	var rnd uint32
	for i := 0; i < 32; i++ {
		c.clock.DelayMs(1)
		v, err := c.read(RegRssiWideBand)
		if err != nil {
			return 0, err
		}
		rnd |= uint32(v&0x01) << i
	}
	return rnd, c.Sleep()
}

// SetRxConfig stores the receive parameters and pushes them to the modem.
// It panics on a modem other than ModemLoRa.
func (c *Controller) SetRxConfig(cfg RxConfig) error {
	mustLoRa(cfg.Modem)
	c.modem = cfg.Modem
	c.air = airtimeParams{
		bw:       cfg.Bandwidth,
		sf:       cfg.SpreadingFactor,
		cr:       cfg.CodingRate,
		preamble: cfg.PreambleLength,
		fixedLen: cfg.FixedLength,
		crc:      cfg.CRC,
	}
	c.configured = true
	c.rxContinuous = cfg.Continuous
	c.rxFixedLen = cfg.FixedLength
	c.rxSymbolTimeout = symbolsToMs(cfg.Bandwidth, cfg.SpreadingFactor, cfg.SymbolTimeout)
	c.log.Printf("rx config: %s SF%d CR4/%d, symbol timeout %d ms, continuous %t",
		cfg.Bandwidth, cfg.SpreadingFactor, cfg.CodingRate+4, c.rxSymbolTimeout, cfg.Continuous)

	payloadLen := c.maxPayload
	if cfg.FixedLength {
		payloadLen = cfg.PayloadLength
	}
	err := c.pushModem(c.air, byte(cfg.SymbolTimeout>>8)&0x03, cfg.FreqHop, cfg.HopPeriod, payloadLen)
	if err != nil {
		return err
	}
	if err := c.setLnaBoost(true); err != nil {
		return err
	}
	iq, iq2 := invertIQReserved|invertIQTxOff, invertIQ2Off
	if cfg.IQInverted {
		iq, iq2 = invertIQReserved|invertIQRxOn|invertIQTxOff, invertIQ2On
	}
	return c.writeRegs([]regValue{
		{RegSymbTimeoutLsb, byte(cfg.SymbolTimeout)},
		{RegInvertIQ, iq},
		{RegInvertIQ2, iq2},
	})
}

// SetTxConfig stores the transmit parameters and pushes them to the modem.
// It panics on a modem other than ModemLoRa.
func (c *Controller) SetTxConfig(cfg TxConfig) error {
	mustLoRa(cfg.Modem)
	c.modem = cfg.Modem
	c.air = airtimeParams{
		bw:       cfg.Bandwidth,
		sf:       cfg.SpreadingFactor,
		cr:       cfg.CodingRate,
		preamble: cfg.PreambleLength,
		fixedLen: cfg.FixedLength,
		crc:      cfg.CRC,
	}
	c.configured = true
	c.txTimeout = cfg.Timeout
	c.log.Printf("tx config: %s SF%d CR4/%d, %d dBm, timeout %d ms",
		cfg.Bandwidth, cfg.SpreadingFactor, cfg.CodingRate+4, cfg.Power, cfg.Timeout)

	if err := c.pushModem(c.air, 0, cfg.FreqHop, cfg.HopPeriod, c.maxPayload); err != nil {
		return err
	}
	iq, iq2 := invertIQReserved|invertIQTxOff, invertIQ2Off
	if cfg.IQInverted {
		iq, iq2 = invertIQReserved, invertIQ2On
	}
	return c.writeRegs([]regValue{
		{RegPaConfig, paConfig(cfg.Power)},
		{RegInvertIQ, iq},
		{RegInvertIQ2, iq2},
	})
}

func (c *Controller) pushModem(p airtimeParams, symbTimeoutMsb byte, hop bool, hopPeriod, payloadLen uint8) error {
	mc1 := p.bw.bits()<<4 | p.cr<<1
	if p.fixedLen {
		mc1 |= 0x01
	}
	mc2 := p.sf<<4 | symbTimeoutMsb
	if p.crc {
		mc2 |= 0x04
	}
	mc3 := modemConfig3AgcAutoOn
	if lowDataRateOptimize(p.bw, p.sf) {
		mc3 |= 0x08
	}
	optimize, threshold := byte(0xc3), byte(0x0a)
	if p.sf <= 6 {
		optimize, threshold = 0xc5, 0x0c
	}
	if !hop {
		hopPeriod = 0
	}
	return c.writeRegs([]regValue{
		{RegModemConfig1, mc1},
		{RegModemConfig2, mc2},
		{RegModemConfig3, mc3},
		{RegPreambleMsb, byte(p.preamble >> 8)},
		{RegPreambleLsb, byte(p.preamble)},
		{RegDetectionOptimize, optimize},
		{RegDetectionThreshold, threshold},
		{RegHopPeriod, hopPeriod},
		{RegPayloadLength, payloadLen},
	})
}

func (c *Controller) setLnaBoost(boost bool) error {
	lna, err := c.read(RegLna)
	if err != nil {
		return err
	}
	if boost {
		return c.write(RegLna, lna|lnaBoostHF)
	}
	return c.write(RegLna, lna&^lnaBoostHF)
}

// paConfig maps an output power in dBm onto the PA_BOOST pin, clamped to 2..17.
func paConfig(power int8) byte {
	if power < 2 {
		power = 2
	} else if power > 17 {
		power = 17
	}
	return paBoost | byte(power-2)
}

// CheckRfFrequency reports whether the chip can tune to freq. Without a
// transport it always reports true.
func (c *Controller) CheckRfFrequency(freq physic.Frequency) bool {
	if c.tr == nil {
		return true
	}
	return freq >= minRfFrequency && freq <= maxRfFrequency
}

// TimeOnAir returns the on-air time in ms of a payloadLen byte packet using
// the parameters of the last SetRxConfig or SetTxConfig call. It panics if
// neither has been called or modem is not ModemLoRa.
func (c *Controller) TimeOnAir(modem Modem, payloadLen uint8) uint32 {
	mustLoRa(modem)
	if !c.configured {
		panic("loraphy: TimeOnAir called before SetRxConfig or SetTxConfig")
	}
	p := c.air
	return TimeOnAir(p.bw, p.sf, p.cr, p.preamble, p.fixedLen, payloadLen, p.crc)
}

// RxSymbolTimeout returns the single-mode receive window configured by
// SetRxConfig, in ms.
func (c *Controller) RxSymbolTimeout() uint32 { return c.rxSymbolTimeout }

// Send starts transmitting payload and arms the Tx timeout configured by
// SetTxConfig. The radio must be Idle.
func (c *Controller) Send(payload []byte) error {
	if c.state != Idle {
		return ErrBusy
	}
	if len(payload) > int(c.maxPayload) {
		return ErrPayloadTooLong
	}
	err := c.writeRegs([]regValue{
		{RegOpMode, byte(ModeLongRange | ModeStandby)},
		{RegIrqFlags, byte(irqAll)},
		{RegIrqFlagsMask, ^byte(IrqTxDone)},
		{RegPayloadLength, byte(len(payload))},
		{RegFifoTxBaseAddr, 0},
		{RegFifoAddrPtr, 0},
	})
	if err != nil {
		return err
	}
	if c.tr != nil {
		if err := c.tr.WriteBuffer(RegFifo, payload); err != nil {
			return fmt.Errorf("write fifo: %w", err)
		}
	}
	err = c.writeRegs([]regValue{
		{RegDioMapping1, dioMappingTxDone},
		{RegOpMode, byte(ModeLongRange | ModeTx)},
	})
	if err != nil {
		return err
	}
	c.state = TxRunning
	c.continuousTx = false
	c.armTimeout(c.txTimeout)
	c.log.Printf("tx %d bytes, timeout %d ms", len(payload), c.txTimeout)
	return nil
}

// Rx starts receiving. A timeout of 0 keeps the receiver running, with no
// alarm, until a frame arrives or Sleep or Standby is called. Otherwise the
// receiver gives up after timeout ms.
func (c *Controller) Rx(timeout uint32) error {
	if c.state != Idle {
		return ErrBusy
	}
	mode := ModeRxSingle
	if timeout == 0 || c.rxContinuous {
		mode = ModeRxContinuous
	}
	err := c.writeRegs([]regValue{
		{RegIrqFlags, byte(irqAll)},
		{RegIrqFlagsMask, ^byte(IrqRxDone | IrqPayloadCrcError | IrqRxTimeout)},
		{RegDioMapping1, dioMappingRxDone},
		{RegFifoRxBaseAddr, 0},
		{RegFifoAddrPtr, 0},
		{RegOpMode, byte(ModeLongRange | mode)},
	})
	if err != nil {
		return err
	}
	c.state = RxRunning
	c.armTimeout(timeout)
	c.log.Printf("rx, timeout %d ms", timeout)
	return nil
}

// StartCad starts a channel activity detection. The result is delivered to
// Events.CadDone; the radio reports RxRunning meanwhile.
func (c *Controller) StartCad() error {
	if c.state != Idle {
		return ErrBusy
	}
	err := c.writeRegs([]regValue{
		{RegIrqFlags, byte(irqAll)},
		{RegIrqFlagsMask, ^byte(IrqCadDone | IrqCadDetected)},
		{RegDioMapping1, dioMappingCadDone},
		{RegOpMode, byte(ModeLongRange | ModeCad)},
	})
	if err != nil {
		return err
	}
	c.state = RxRunning
	c.cad = true
	return nil
}

// SetTxContinuousWave transmits an unmodulated carrier on freq for seconds,
// ending with Events.TxTimeout.
func (c *Controller) SetTxContinuousWave(freq physic.Frequency, power int8, seconds uint16) error {
	if c.state != Idle {
		return ErrBusy
	}
	if err := c.SetChannel(freq); err != nil {
		return err
	}
	mc2, err := c.read(RegModemConfig2)
	if err != nil {
		return err
	}
	err = c.writeRegs([]regValue{
		{RegPaConfig, paConfig(power)},
		{RegModemConfig2, mc2 | modemConfig2TxCont},
		{RegIrqFlagsMask, byte(irqAll)},
		{RegOpMode, byte(ModeLongRange | ModeTx)},
	})
	if err != nil {
		return err
	}
	c.state = TxRunning
	c.continuousTx = true
	c.armTimeout(uint32(seconds) * 1000)
	return nil
}

func (c *Controller) armTimeout(ms uint32) {
	if ms == 0 {
		c.clock.StopAlarm()
		return
	}
	c.clock.SetAlarm(c.clock.MsToTicks(ms))
}

// Sleep cancels any pending timeout and puts the radio to sleep.
func (c *Controller) Sleep() error {
	c.stop()
	return c.setMode(ModeSleep)
}

// Standby cancels any pending timeout and puts the radio in standby.
func (c *Controller) Standby() error {
	c.stop()
	return c.setMode(ModeStandby)
}

func (c *Controller) stop() {
	c.clock.StopAlarm()
	c.state = Idle
	c.cad = false
}

// Rssi returns the current RSSI in dBm. Without a transport it returns 0.
func (c *Controller) Rssi(modem Modem) (int16, error) {
	mustLoRa(modem)
	if c.tr == nil {
		return 0, nil
	}
	v, err := c.read(RegRssiValue)
	if err != nil {
		return 0, err
	}
	return int16(v) - c.rssiOffset(), nil
}

func (c *Controller) rssiOffset() int16 {
	if uint64(c.frequency/physic.Hertz) < rfMidBandThreshold {
		return rssiOffsetLF
	}
	return rssiOffsetHF
}

func (c *Controller) Write(reg Register, value byte) error { return c.write(reg, value) }

func (c *Controller) Read(reg Register) (byte, error) { return c.read(reg) }

func (c *Controller) WriteBuffer(reg Register, data []byte) error {
	if c.tr == nil {
		return nil
	}
	return c.tr.WriteBuffer(reg, data)
}

func (c *Controller) ReadBuffer(reg Register, n int) ([]byte, error) {
	if c.tr == nil {
		return make([]byte, n), nil
	}
	return c.tr.ReadBuffer(reg, n)
}

// SetMaxPayloadLength caps the payload length accepted by Send and the
// receiver. It panics on a modem other than ModemLoRa.
func (c *Controller) SetMaxPayloadLength(modem Modem, max uint8) error {
	mustLoRa(modem)
	c.maxPayload = max
	return c.write(RegMaxPayloadLength, max)
}

// SetPublicNetwork selects the LoRaWAN public or private sync word.
func (c *Controller) SetPublicNetwork(enable bool) error {
	if enable {
		return c.write(RegSyncWord, syncWordPublic)
	}
	return c.write(RegSyncWord, syncWordPrivate)
}

func (c *Controller) WakeupTime() uint32 { return c.wakeupTime }

// Interrupt records a radio interrupt. It is the only method safe to call
// from another goroutine, typically a DIO pin watcher. Zero flags mean the
// cause is unknown and IrqProcess reads it from RegIrqFlags.
func (c *Controller) Interrupt(flags IRQFlags) {
	v := uint32(flags) | irqPending
	for {
		old := c.irq.Load()
		if c.irq.CompareAndSwap(old, old|v) {
			return
		}
	}
}

// IrqProcess handles the interrupts recorded since the last call and any
// expired timeout, invoking the matching callbacks. Call it from the main
// loop.
func (c *Controller) IrqProcess() error {
	if v := c.irq.Swap(0); v&irqPending != 0 {
		flags := IRQFlags(v)
		if c.tr != nil {
			hw, err := c.read(RegIrqFlags)
			if err != nil {
				return err
			}
			if err := c.write(RegIrqFlags, hw); err != nil {
				return err
			}
			flags |= IRQFlags(hw)
		}
		if err := c.dispatch(flags); err != nil {
			return err
		}
	}
	c.clock.Process()
	return nil
}

func (c *Controller) dispatch(flags IRQFlags) error {
	c.log.Printf("irq %s in state %s", flags, c.state)
	switch {
	case c.cad:
		if flags&IrqCadDone == 0 {
			return nil
		}
		c.stop()
		if c.events.CadDone != nil {
			c.events.CadDone(flags&IrqCadDetected != 0)
		}
	case c.state == TxRunning:
		if flags&IrqTxDone == 0 {
			return nil
		}
		c.stop()
		if c.events.TxDone != nil {
			c.events.TxDone()
		}
	case c.state == RxRunning:
		switch {
		case flags&IrqRxTimeout != 0:
			c.stop()
			if c.events.RxTimeout != nil {
				c.events.RxTimeout()
			}
		case flags&IrqPayloadCrcError != 0:
			if err := c.endRx(); err != nil {
				return err
			}
			if c.events.RxError != nil {
				c.events.RxError()
			}
		case flags&IrqRxDone != 0:
			payload, rssi, snr, err := c.readPacket()
			if err != nil {
				return err
			}
			if err := c.endRx(); err != nil {
				return err
			}
			if c.events.RxDone != nil {
				c.events.RxDone(payload, rssi, snr)
			}
		}
	}
	return nil
}

// endRx stops the timeout after a frame; the receiver stays on in continuous
// mode.
func (c *Controller) endRx() error {
	c.clock.StopAlarm()
	if c.rxContinuous {
		return nil
	}
	c.state = Idle
	return c.setMode(ModeStandby)
}

func (c *Controller) readPacket() (payload []byte, rssi int16, snr int8, err error) {
	if c.tr == nil {
		return nil, 0, 0, nil
	}
	lenReg := RegRxNbBytes
	if c.rxFixedLen {
		lenReg = RegPayloadLength
	}
	n, err := c.read(lenReg)
	if err != nil {
		return nil, 0, 0, err
	}
	addr, err := c.read(RegFifoRxCurrentAddr)
	if err != nil {
		return nil, 0, 0, err
	}
	if err := c.write(RegFifoAddrPtr, addr); err != nil {
		return nil, 0, 0, err
	}
	payload, err = c.tr.ReadBuffer(RegFifo, int(n))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read fifo: %w", err)
	}
	s, err := c.read(RegPktSnrValue)
	if err != nil {
		return nil, 0, 0, err
	}
	r, err := c.read(RegPktRssiValue)
	if err != nil {
		return nil, 0, 0, err
	}
	return payload, int16(r) - c.rssiOffset(), int8(s) / 4, nil
}

// onTimeout runs from clock.Process when the armed Tx or Rx timeout expires.
func (c *Controller) onTimeout() {
	switch c.state {
	case TxRunning:
		if err := c.endTx(); err != nil {
			c.log.Printf("tx timeout: %v", err)
		}
		if c.events.TxTimeout != nil {
			c.events.TxTimeout()
		}
	case RxRunning:
		c.state = Idle
		c.cad = false
		if err := c.setMode(ModeStandby); err != nil {
			c.log.Printf("rx timeout: %v", err)
		}
		if c.events.RxTimeout != nil {
			c.events.RxTimeout()
		}
	}
}

func (c *Controller) endTx() error {
	c.state = Idle
	if c.continuousTx {
		c.continuousTx = false
		mc2, err := c.read(RegModemConfig2)
		if err != nil {
			return err
		}
		if err := c.write(RegModemConfig2, mc2&^modemConfig2TxCont); err != nil {
			return err
		}
	}
	return c.setMode(ModeSleep)
}

type regValue struct {
	reg Register
	val byte
}

func (c *Controller) writeRegs(values []regValue) error {
	for _, v := range values {
		if err := c.write(v.reg, v.val); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) setMode(m Mode) error {
	return c.write(RegOpMode, byte(ModeLongRange|m))
}

func (c *Controller) write(reg Register, v byte) error {
	if c.tr == nil {
		return nil
	}
	if err := c.tr.WriteRegister(reg, v); err != nil {
		return fmt.Errorf("write register 0x%02x: %w", byte(reg), err)
	}
	return nil
}

func (c *Controller) read(reg Register) (byte, error) {
	if c.tr == nil {
		return 0, nil
	}
	v, err := c.tr.ReadRegister(reg)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%02x: %w", byte(reg), err)
	}
	return v, nil
}
