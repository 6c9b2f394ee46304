package canterm

import (
	"context"
	"sync"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Loopback",
		Description:        "In-memory adapter for tests and dry runs",
		RequiresSerialPort: false,
		New:                NewLoopback,
	}); err != nil {
		panic(err)
	}
}

// Loopback records everything sent to it and lets callers inject
// inbound traffic. No hardware involved.
type Loopback struct {
	*BaseAdapter
	mu      sync.Mutex
	bytes   [][]byte
	frames  []*CANFrame
	sendErr error
}

func NewLoopback(cfg *AdapterConfig) (Adapter, error) {
	return &Loopback{
		BaseAdapter: NewBaseAdapter("Loopback", cfg),
	}, nil
}

func (a *Loopback) Open(ctx context.Context) error {
	return nil
}

func (a *Loopback) Close() error {
	a.BaseAdapter.Close()
	return nil
}

func (a *Loopback) SendBytes(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return 0, a.sendErr
	}
	b := make([]byte, len(data))
	copy(b, data)
	a.bytes = append(a.bytes, b)
	return len(data), nil
}

func (a *Loopback) SendFrame(id uint32, data []byte) error {
	frame := NewFrame(id, data)
	if err := frame.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.frames = append(a.frames, frame)
	return nil
}

// FailSends makes every following send return err; nil restores normal operation.
func (a *Loopback) FailSends(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendErr = err
}

// InjectBytes delivers a serial chunk as if it arrived from the wire.
func (a *Loopback) InjectBytes(data []byte) {
	b := make([]byte, len(data))
	copy(b, data)
	a.receive(&Received{Data: b})
}

// InjectFrame delivers a CAN frame as if it arrived from the wire.
func (a *Loopback) InjectFrame(id uint32, data []byte) {
	a.receive(&Received{Frame: NewFrame(id, data)})
}

func (a *Loopback) SentBytes() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.bytes))
	copy(out, a.bytes)
	return out
}

func (a *Loopback) SentFrames() []*CANFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*CANFrame, len(a.frames))
	copy(out, a.frames)
	return out
}
