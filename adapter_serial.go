package canterm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.bug.st/serial"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Serial",
		Description:        "Raw serial port",
		RequiresSerialPort: true,
		New:                NewSerial,
	}); err != nil {
		panic(err)
	}
}

// Serial is a byte-oriented adapter over a raw serial port.
type Serial struct {
	*BaseAdapter
	mu     sync.Mutex
	port   serial.Port
	closed bool
}

func NewSerial(cfg *AdapterConfig) (Adapter, error) {
	return &Serial{
		BaseAdapter: NewBaseAdapter("Serial", cfg),
	}, nil
}

func (a *Serial) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: a.cfg.PortBaudrate,
		DataBits: a.cfg.PortDataBits,
		Parity:   parityFromString(a.cfg.PortParity),
		StopBits: stopBitsFromInt(a.cfg.PortStopBits),
	}
	var p serial.Port
	// USB serial devices can take a moment to enumerate after replug.
	err := retry.Do(func() error {
		var err error
		p, err = serial.Open(a.cfg.Port, mode)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %w", a.cfg.Port, err)
	}
	p.SetReadTimeout(3 * time.Millisecond)
	a.port = p

	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	go a.recvManager(ctx)
	return nil
}

func (a *Serial) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.BaseAdapter.Close()
	return a.port.Close()
}

func (a *Serial) SendBytes(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrClosed
	}
	return a.port.Write(data)
}

func (a *Serial) SendFrame(id uint32, data []byte) error {
	return ErrNotCAN
}

func (a *Serial) recvManager(ctx context.Context) {
	readBuf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := a.port.Read(readBuf)
		if err != nil {
			if !a.closed {
				a.Fatal(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, readBuf[:n])
		a.receive(&Received{Data: chunk})
	}
}

func parityFromString(s string) serial.Parity {
	switch s {
	case "E", "e":
		return serial.EvenParity
	case "O", "o":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func stopBitsFromInt(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
