// Package loraphy drives a LoRa radio modem: it computes packet time on air,
// keeps the modem configuration and Idle/Rx/Tx state, and turns hardware
// interrupts and timeout alarms from an rtc.Clock into event callbacks.
package loraphy

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

var (
	ErrBusy                = errors.New("radio busy")
	ErrPayloadTooLong      = errors.New("payload longer than the maximum payload length")
	ErrGetVersion          = errors.New("version not matched")
	ErrUnsupportedDataRate = errors.New("data rate is not a supported LoRa modulation")
)

type Modem uint8

const (
	ModemFSK Modem = iota
	ModemLoRa
)

func (m Modem) String() string {
	switch m {
	case ModemFSK:
		return "FSK"
	case ModemLoRa:
		return "LoRa"
	}
	return fmt.Sprintf("Modem(%d)", uint8(m))
}

// Bandwidth is the LoRa bandwidth index.
type Bandwidth uint8

const (
	BW125 Bandwidth = iota
	BW250
	BW500
)

var bandwidthHz = [...]uint32{125000, 250000, 500000}

// Hertz returns the bandwidth in Hz. It panics on an index other than BW125,
// BW250 or BW500.
func (b Bandwidth) Hertz() uint32 {
	if int(b) >= len(bandwidthHz) {
		panic(fmt.Sprintf("loraphy: invalid bandwidth index %d", uint8(b)))
	}
	return bandwidthHz[b]
}

func (b Bandwidth) Frequency() physic.Frequency {
	return physic.Frequency(b.Hertz()) * physic.Hertz
}

func (b Bandwidth) String() string {
	if int(b) >= len(bandwidthHz) {
		return fmt.Sprintf("Bandwidth(%d)", uint8(b))
	}
	return b.Frequency().String()
}

// register value of the bandwidth field in RegModemConfig1.
func (b Bandwidth) bits() byte { return byte(b) + 7 }

type RadioState uint8

const (
	Idle RadioState = iota
	RxRunning
	TxRunning
)

func (s RadioState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RxRunning:
		return "RxRunning"
	case TxRunning:
		return "TxRunning"
	}
	return fmt.Sprintf("RadioState(%d)", uint8(s))
}

// Events holds the callbacks the controller dispatches from IrqProcess. Nil
// slots are skipped.
type Events struct {
	TxDone    func()
	TxTimeout func()
	RxDone    func(payload []byte, rssi int16, snr int8)
	RxTimeout func()
	RxError   func()
	CadDone   func(detected bool)
}

// RxConfig holds the receive parameters.
type RxConfig struct {
	Modem           Modem
	Bandwidth       Bandwidth
	SpreadingFactor uint8 // 5..12
	CodingRate      uint8 // 1..4, for 4/5..4/8
	PreambleLength  uint16
	// SymbolTimeout is the single-mode receive window in symbols.
	SymbolTimeout uint16
	FixedLength   bool
	PayloadLength uint8 // used with FixedLength
	CRC           bool
	FreqHop       bool
	HopPeriod     uint8
	IQInverted    bool
	// Continuous keeps the receiver running after each frame.
	Continuous bool
}

// TxConfig holds the transmit parameters.
type TxConfig struct {
	Modem           Modem
	Power           int8 // dBm
	Bandwidth       Bandwidth
	SpreadingFactor uint8
	CodingRate      uint8
	PreambleLength  uint16
	FixedLength     bool
	CRC             bool
	FreqHop         bool
	HopPeriod       uint8
	IQInverted      bool
	Timeout         uint32 // ms, 0 disables the timeout alarm
}

// Transport is the synchronous register interface of the radio chip.
type Transport interface {
	WriteRegister(reg Register, value byte) error
	ReadRegister(reg Register) (byte, error)
	WriteBuffer(reg Register, data []byte) error
	ReadBuffer(reg Register, n int) ([]byte, error)
}

// Radio is the set of operations a MAC layer needs from the radio.
type Radio interface {
	Status() RadioState
	SetModem(m Modem) error
	SetChannel(freq physic.Frequency) error
	IsChannelFree(freq, rxBandwidth physic.Frequency, rssiThresh int16, maxCarrierSenseTime uint32) (bool, error)
	Random() (uint32, error)
	SetRxConfig(cfg RxConfig) error
	SetTxConfig(cfg TxConfig) error
	CheckRfFrequency(freq physic.Frequency) bool
	TimeOnAir(modem Modem, payloadLen uint8) uint32
	Send(payload []byte) error
	Sleep() error
	Standby() error
	Rx(timeout uint32) error
	StartCad() error
	SetTxContinuousWave(freq physic.Frequency, power int8, seconds uint16) error
	Rssi(modem Modem) (int16, error)
	Write(reg Register, value byte) error
	Read(reg Register) (byte, error)
	WriteBuffer(reg Register, data []byte) error
	ReadBuffer(reg Register, n int) ([]byte, error)
	SetMaxPayloadLength(modem Modem, max uint8) error
	SetPublicNetwork(enable bool) error
	WakeupTime() uint32
	IrqProcess() error
}

var _ Radio = (*Controller)(nil)
