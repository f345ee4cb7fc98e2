package loraphy

import "strings"

// Register is an SX127x register address in LoRa mode.
type Register byte

// Mode is the operating mode field of RegOpMode.
type Mode byte

// IRQFlags is the content of RegIrqFlags. Writing a flag back clears it.
type IRQFlags byte

const (
	RegFifo               Register = 0x00
	RegOpMode             Register = 0x01
	RegFrfMsb             Register = 0x06
	RegFrfMid             Register = 0x07
	RegFrfLsb             Register = 0x08
	RegPaConfig           Register = 0x09
	RegLna                Register = 0x0c
	RegFifoAddrPtr        Register = 0x0d
	RegFifoTxBaseAddr     Register = 0x0e
	RegFifoRxBaseAddr     Register = 0x0f
	RegFifoRxCurrentAddr  Register = 0x10
	RegIrqFlagsMask       Register = 0x11
	RegIrqFlags           Register = 0x12
	RegRxNbBytes          Register = 0x13
	RegPktSnrValue        Register = 0x19
	RegPktRssiValue       Register = 0x1a
	RegRssiValue          Register = 0x1b
	RegHopChannel         Register = 0x1c
	RegModemConfig1       Register = 0x1d
	RegModemConfig2       Register = 0x1e
	RegSymbTimeoutLsb     Register = 0x1f
	RegPreambleMsb        Register = 0x20
	RegPreambleLsb        Register = 0x21
	RegPayloadLength      Register = 0x22
	RegMaxPayloadLength   Register = 0x23
	RegHopPeriod          Register = 0x24
	RegModemConfig3       Register = 0x26
	RegRssiWideBand       Register = 0x2c
	RegDetectionOptimize  Register = 0x31
	RegInvertIQ           Register = 0x33
	RegDetectionThreshold Register = 0x37
	RegSyncWord           Register = 0x39
	RegInvertIQ2          Register = 0x3b
	RegDioMapping1        Register = 0x40
	RegVersion            Register = 0x42
)

const (
	ModeLongRange    Mode = 0x80
	ModeSleep        Mode = 0x00
	ModeStandby      Mode = 0x01
	ModeTx           Mode = 0x03
	ModeRxContinuous Mode = 0x05
	ModeRxSingle     Mode = 0x06
	ModeCad          Mode = 0x07
)

const (
	IrqCadDetected        IRQFlags = 0x01
	IrqFhssChangeChannel  IRQFlags = 0x02
	IrqCadDone            IRQFlags = 0x04
	IrqTxDone             IRQFlags = 0x08
	IrqValidHeader        IRQFlags = 0x10
	IrqPayloadCrcError    IRQFlags = 0x20
	IrqRxDone             IRQFlags = 0x40
	IrqRxTimeout          IRQFlags = 0x80
	irqAll                IRQFlags = 0xff
	irqPending            uint32   = 0x100 // set by Interrupt alongside the flags
	chipVersion           byte     = 0x12
	syncWordPublic        byte     = 0x34
	syncWordPrivate       byte     = 0x12
	paBoost               byte     = 0x80
	rfMidBandThreshold    uint64   = 525e6
	rssiOffsetHF          int16    = 157
	rssiOffsetLF          int16    = 164
	dioMappingRxDone      byte     = 0x00
	dioMappingTxDone      byte     = 0x40
	dioMappingCadDone     byte     = 0x80
	modemConfig2TxCont    byte     = 0x08
	modemConfig3AgcAutoOn byte     = 0x04
	lnaBoostHF            byte     = 0x03
)

var irqNames = [8]string{"CadDetected", "FhssChangeChannel", "CadDone", "TxDone", "ValidHeader", "PayloadCrcError", "RxDone", "RxTimeout"}

func (f IRQFlags) String() string {
	if f == 0 {
		return "0"
	}
	var names []string
	for i, n := range irqNames {
		if f&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, "|")
}
