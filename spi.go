package loraphy

import (
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPITransport reaches the SX127x registers over SPI. The first byte of each
// transfer is the register address with bit 7 set for writes.
type SPITransport struct {
	conn   spi.Conn
	reset  gpio.PinOut
	closer io.Closer
}

var _ Transport = (*SPITransport)(nil)

// NewSPITransport wraps an already connected SPI device. reset may be nil.
func NewSPITransport(conn spi.Conn, reset gpio.PinOut) *SPITransport {
	return &SPITransport{conn: conn, reset: reset}
}

// OpenSPI initialises the host drivers, opens spiDev at 8 MHz mode 0, resets
// the chip through resetPin and checks its version register.
func OpenSPI(spiDev, resetPin string) (*SPITransport, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	if _, err := driverreg.Init(); err != nil {
		return nil, err
	}

	p, err := spireg.Open(spiDev)
	if err != nil {
		return nil, err
	}
	c, err := p.Connect(8*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, err
	}

	reset := gpioreg.ByName(resetPin)
	if reset == nil {
		p.Close()
		return nil, errors.New("failed to find RESET pin")
	}
	if err := reset.Out(gpio.High); err != nil {
		p.Close()
		return nil, err
	}

	t := &SPITransport{conn: c, reset: reset, closer: p}
	if err := t.Reset(); err != nil {
		p.Close()
		return nil, err
	}
	v, err := t.Version()
	if err != nil {
		p.Close()
		return nil, err
	}
	if v != chipVersion {
		p.Close()
		return nil, fmt.Errorf("expect 0x%x found 0x%x: %w", chipVersion, v, ErrGetVersion)
	}
	return t, nil
}

// Reset pulses the reset pin low for 10 ms and waits 10 ms for the chip to
// come up.
func (t *SPITransport) Reset() error {
	if t.reset == nil {
		return nil
	}
	if err := t.reset.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	err := t.reset.Out(gpio.High)
	time.Sleep(10 * time.Millisecond)
	return err
}

func (t *SPITransport) Version() (byte, error) {
	return t.ReadRegister(RegVersion)
}

func (t *SPITransport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

func (t *SPITransport) ReadRegister(reg Register) (byte, error) {
	b, err := t.ReadBuffer(reg, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (t *SPITransport) ReadBuffer(reg Register, n int) ([]byte, error) {
	w := make([]byte, n+1)
	w[0] = byte(reg) & 0x7f
	r := make([]byte, len(w))
	if err := t.conn.Tx(w, r); err != nil {
		return nil, err
	}
	return r[1:], nil
}

func (t *SPITransport) WriteRegister(reg Register, value byte) error {
	return t.WriteBuffer(reg, []byte{value})
}

func (t *SPITransport) WriteBuffer(reg Register, data []byte) error {
	w := append([]byte{byte(reg) | 0x80}, data...)
	return t.conn.Tx(w, make([]byte, len(w)))
}
