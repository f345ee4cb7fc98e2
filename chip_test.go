package loraphy

import (
	"errors"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

var errBus = errors.New("bus error")

type regWrite struct {
	reg Register
	val byte
}

// fakeChip models the SX127x register file behind an SPI connection. FIFO
// accesses go through RegFifoAddrPtr and writes to RegIrqFlags clear flags.
type fakeChip struct {
	mu     sync.Mutex
	regs   [0x80]byte
	fifo   [256]byte
	writes []regWrite
	txs    [][]byte
	fail   bool
}

var _ spi.Conn = (*fakeChip)(nil)

func newFakeChip() *fakeChip {
	f := &fakeChip{}
	f.regs[RegVersion] = chipVersion
	return f
}

func (f *fakeChip) String() string      { return "fake-sx127x" }
func (f *fakeChip) Duplex() conn.Duplex { return conn.Full }
func (f *fakeChip) Halt() error         { return nil }

func (f *fakeChip) TxPackets(p []spi.Packet) error {
	for _, pk := range p {
		if err := f.Tx(pk.W, pk.R); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeChip) Tx(w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errBus
	}
	f.txs = append(f.txs, append([]byte(nil), w...))
	addr := Register(w[0] & 0x7f)
	write := w[0]&0x80 != 0
	for i := 1; i < len(w); i++ {
		switch {
		case addr == RegFifo:
			p := f.regs[RegFifoAddrPtr]
			if write {
				f.fifo[p] = w[i]
			} else {
				r[i] = f.fifo[p]
			}
			f.regs[RegFifoAddrPtr] = p + 1
			continue
		case write && addr == RegIrqFlags:
			f.regs[RegIrqFlags] &^= w[i]
			f.writes = append(f.writes, regWrite{addr, w[i]})
		case write:
			f.regs[addr] = w[i]
			f.writes = append(f.writes, regWrite{addr, w[i]})
		default:
			r[i] = f.regs[addr]
		}
		addr++
	}
	return nil
}

func (f *fakeChip) reg(r Register) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[r]
}

func (f *fakeChip) set(r Register, v byte) {
	f.mu.Lock()
	f.regs[r] = v
	f.mu.Unlock()
}

func (f *fakeChip) setFifo(addr byte, data []byte) {
	f.mu.Lock()
	copy(f.fifo[addr:], data)
	f.mu.Unlock()
}

func (f *fakeChip) fifoAt(addr byte, n int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.fifo[addr:int(addr)+n]...)
}

func (f *fakeChip) failAll(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}
