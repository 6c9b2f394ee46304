package canterm

import (
	"context"
	"fmt"

	"github.com/roffe/canterm/pkg/config"
)

// Connect builds the adapter named by the profile and opens it. Serial
// profiles use the Serial adapter; CAN profiles use SocketCAN.
func Connect(ctx context.Context, cfg *config.Config) (Adapter, error) {
	name := "Serial"
	if cfg.Type == config.TypeCAN {
		name = "SocketCAN"
	}
	a, err := NewAdapter(name, AdapterConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	if err := a.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return a, nil
}

// AdapterConfigFrom maps the profile onto the adapter settings.
func AdapterConfigFrom(cfg *config.Config) *AdapterConfig {
	port := cfg.Serial.Device
	if cfg.Type == config.TypeCAN {
		port = cfg.CAN.Interface
	}
	return &AdapterConfig{
		Port:         port,
		PortBaudrate: cfg.Serial.Baud,
		PortDataBits: cfg.Serial.DataBits,
		PortParity:   cfg.Serial.Parity,
		PortStopBits: cfg.Serial.StopBits,
		CANBitrate:   cfg.CAN.Bitrate,
		CANFilter:    cfg.FilterIDs(),
		DefaultID:    cfg.DefaultCANID(),
	}
}
