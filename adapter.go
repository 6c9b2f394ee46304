package canterm

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Adapter is an open serial or CAN transport. Sends are synchronous so
// the caller can report per-send success or failure; inbound traffic is
// delivered on the Recv channel by the adapter's own read goroutine.
type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error

	// SendBytes writes raw bytes and returns the count actually
	// written. A short write is the caller's to report.
	SendBytes([]byte) (int, error)

	// SendFrame writes a single CAN frame. Data longer than 8 bytes
	// is rejected with ErrFrameTooLong, never truncated.
	SendFrame(id uint32, data []byte) error

	Recv() <-chan *Received
	Err() <-chan error
	Event() <-chan Event
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v ", a.Name, a.Description, a.RequiresSerialPort)
}

type AdapterConfig struct {
	Debug        bool
	Port         string
	PortBaudrate int
	PortDataBits int
	PortParity   string // N, E or O
	PortStopBits int
	CANBitrate   uint32
	CANFilter    []uint32
	DefaultID    uint32 // identifier used when a send names no target
	OnMessage    func(string)
}

var adapterMap = make(map[string]*AdapterInfo)

func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			_, file, no, ok := runtime.Caller(1)
			if ok {
				fmt.Printf("%s#%d %v\n", filepath.Base(file), no, msg)
			} else {
				log.Println(msg)
			}
		}
	}
	if adapter, found := adapterMap[adapterName]; found {
		return adapter.New(cfg)
	}
	return nil, fmt.Errorf("unknown adapter %q", adapterName)
}

func RegisterAdapter(adapter *AdapterInfo) error {
	if _, found := adapterMap[adapter.Name]; !found {
		adapterMap[adapter.Name] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	var out []string
	for name := range adapterMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	var out []AdapterInfo
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	return out
}
