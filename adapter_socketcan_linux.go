//go:build linux

package canterm

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
	"golang.org/x/sync/errgroup"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SocketCAN",
		Description:        "Linux SocketCAN driver",
		RequiresSerialPort: false,
		New:                NewSocketCAN,
	}); err != nil {
		panic(err)
	}
}

type SocketCAN struct {
	*BaseAdapter
	mu     sync.Mutex
	conn   net.Conn
	tx     *socketcan.Transmitter
	rx     *socketcan.Receiver
	g      errgroup.Group
	closed bool
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	// Bitrate configuration needs CAP_NET_ADMIN; if it fails the
	// interface may already be up, so warn and try to dial anyway.
	if d, err := candevice.New(a.cfg.Port); err == nil {
		if err := a.bringUp(d); err != nil {
			a.Warn(fmt.Sprintf("could not configure %s: %v (try: ip link set %s type can bitrate %d && ip link set %s up)",
				a.cfg.Port, err, a.cfg.Port, a.cfg.CANBitrate, a.cfg.Port))
		}
	}

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to open CAN interface %q : %w", a.cfg.Port, err)
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	a.g.Go(func() error {
		a.recvManager(ctx)
		return nil
	})
	return nil
}

func (a *SocketCAN) bringUp(d *candevice.Device) error {
	if a.cfg.CANBitrate > 0 {
		if err := d.SetBitrate(a.cfg.CANBitrate); err != nil {
			return err
		}
	}
	return d.SetUp()
}

func (a *SocketCAN) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.BaseAdapter.Close()
	err := a.conn.Close()
	a.g.Wait()
	return err
}

func (a *SocketCAN) SendBytes(data []byte) (int, error) {
	if err := a.SendFrame(a.cfg.DefaultID, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (a *SocketCAN) SendFrame(id uint32, data []byte) error {
	if err := NewFrame(id, data).Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	frame := can.Frame{
		ID:     id,
		Length: uint8(len(data)),
	}
	copy(frame.Data[:], data)
	return a.tx.TransmitFrame(context.Background(), frame)
}

func (a *SocketCAN) recvManager(ctx context.Context) {
	for ctx.Err() == nil {
		if !a.rx.Receive() {
			if !a.closed {
				if err := a.rx.Err(); err != nil {
					a.Fatal(fmt.Errorf("failed to read CAN interface: %w", err))
				}
			}
			return
		}
		f := a.rx.Frame()
		if !a.wanted(f.ID) {
			continue
		}
		a.receive(&Received{Frame: NewFrame(f.ID, f.Data[:f.Length])})
	}
}

// wanted applies the software CAN-ID filter; an empty filter passes everything.
func (a *SocketCAN) wanted(id uint32) bool {
	if len(a.cfg.CANFilter) == 0 {
		return true
	}
	for _, f := range a.cfg.CANFilter {
		if id == f {
			return true
		}
	}
	return false
}
