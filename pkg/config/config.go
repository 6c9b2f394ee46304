package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type selects the transport kind.
type Type string

const (
	TypeSerial Type = "serial"
	TypeCAN    Type = "can"
)

const (
	ModeText = "text"
	ModeHex  = "hex"
)

// NumPresets matches the scheduler's preset slot count.
const NumPresets = 10

type Serial struct {
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"databits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop"`
	Flow     string `yaml:"flow"`
}

type CAN struct {
	Interface string `yaml:"interface"`
	Bitrate   uint32 `yaml:"bitrate"`
	DefaultID string `yaml:"default_id"`
	Filter    string `yaml:"filter,omitempty"` // hex ID list, comma separated
}

type Preset struct {
	Name   string `yaml:"name"`
	Format string `yaml:"format"` // hex or text
	Data   string `yaml:"data"`
	CANID  string `yaml:"can_id,omitempty"`
}

type Config struct {
	Type    Type     `yaml:"type"`
	Serial  Serial   `yaml:"serial"`
	CAN     CAN      `yaml:"can"`
	Mode    string   `yaml:"mode"`
	CRLF    bool     `yaml:"crlf"`
	Presets []Preset `yaml:"presets"`
}

func Default() *Config {
	cfg := &Config{
		Type: TypeSerial,
		Serial: Serial{
			Device:   "/dev/ttyUSB0",
			Baud:     115200,
			DataBits: 8,
			Parity:   "N",
			StopBits: 1,
			Flow:     "none",
		},
		CAN: CAN{
			Interface: "can0",
			Bitrate:   1000000,
			DefaultID: "0x123",
		},
		Mode: ModeText,
		CRLF: true,
	}
	for i := 1; i <= NumPresets; i++ {
		cfg.Presets = append(cfg.Presets, Preset{
			Name:   fmt.Sprintf("Preset %d", i),
			Format: ModeHex,
		})
	}
	return cfg
}

// Path returns the default profile location, ~/.canterm.yaml.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".canterm.yaml"), nil
}

// HistoryPath returns the default command history location.
func HistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".canterm_history"), nil
}

// Load reads the profile at path. A missing file yields the defaults,
// written back so the user has something to edit.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// fillDefaults pads out partial profiles so every preset slot exists.
func (c *Config) fillDefaults() {
	if c.Type != TypeCAN {
		c.Type = TypeSerial
	}
	if c.Mode != ModeHex {
		c.Mode = ModeText
	}
	for len(c.Presets) < NumPresets {
		c.Presets = append(c.Presets, Preset{
			Name:   fmt.Sprintf("Preset %d", len(c.Presets)+1),
			Format: ModeHex,
		})
	}
	c.Presets = c.Presets[:NumPresets]
}

// Preset returns preset n (1-10).
func (c *Config) Preset(n int) (Preset, error) {
	if n < 1 || n > NumPresets {
		return Preset{}, fmt.Errorf("preset %d out of range 1-%d", n, NumPresets)
	}
	return c.Presets[n-1], nil
}

func (c *Config) SetPreset(n int, p Preset) error {
	if n < 1 || n > NumPresets {
		return fmt.Errorf("preset %d out of range 1-%d", n, NumPresets)
	}
	c.Presets[n-1] = p
	return nil
}

// ID parses the preset's CAN identifier. ok is false when no
// identifier is configured, in which case the profile default applies.
func (p Preset) ID() (uint32, bool) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p.CANID)), "0x")
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

func (c *Config) HexMode() bool {
	return c.Mode == ModeHex
}

// DefaultCANID parses the configured default identifier, 0x prefix
// optional, falling back to 0x123 on garbage.
func (c *Config) DefaultCANID() uint32 {
	return parseID(c.CAN.DefaultID, 0x123)
}

// FilterIDs parses the comma separated CAN filter list; empty means no filtering.
func (c *Config) FilterIDs() []uint32 {
	if c.CAN.Filter == "" || c.CAN.Filter == "none" {
		return nil
	}
	var out []uint32
	for _, part := range strings.Split(c.CAN.Filter, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, parseID(part, 0))
	}
	return out
}

func parseID(s string, fallback uint32) uint32 {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	id, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	return uint32(id)
}
