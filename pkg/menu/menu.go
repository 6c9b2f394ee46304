// Package menu is the interactive settings editor, reachable from the
// terminal with /menu.
package menu

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"

	"github.com/roffe/canterm/pkg/config"
	"github.com/roffe/canterm/pkg/parse"
)

// Settings walks the user through the profile. The returned flag is
// true when a connection-affecting field changed, telling the caller
// to reconnect.
func Settings(cfg *config.Config) (bool, error) {
	changed := false
	for {
		prompt := promptui.Select{
			Label: "Settings",
			Size:  12,
			Items: []string{
				fmt.Sprintf("Transport: %s", cfg.Type),
				fmt.Sprintf("Serial device: %s @ %d baud", cfg.Serial.Device, cfg.Serial.Baud),
				fmt.Sprintf("CAN interface: %s @ %d bps", cfg.CAN.Interface, cfg.CAN.Bitrate),
				fmt.Sprintf("Default CAN ID: %s", cfg.CAN.DefaultID),
				fmt.Sprintf("Input mode: %s", cfg.Mode),
				fmt.Sprintf("CRLF: %v", cfg.CRLF),
				"Presets",
				"Done",
			},
		}
		idx, _, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return changed, nil
			}
			return changed, err
		}
		switch idx {
		case 0:
			c, err := editTransport(cfg)
			if err != nil {
				return changed, err
			}
			changed = changed || c
		case 1:
			c, err := editSerial(cfg)
			if err != nil {
				return changed, err
			}
			changed = changed || c
		case 2:
			c, err := editCAN(cfg)
			if err != nil {
				return changed, err
			}
			changed = changed || c
		case 3:
			if err := editDefaultID(cfg); err != nil {
				return changed, err
			}
		case 4:
			if err := editMode(cfg); err != nil {
				return changed, err
			}
		case 5:
			cfg.CRLF = !cfg.CRLF
		case 6:
			if err := editPresets(cfg); err != nil {
				return changed, err
			}
		default:
			return changed, nil
		}
	}
}

func editTransport(cfg *config.Config) (bool, error) {
	prompt := promptui.Select{
		Label: "Transport",
		Items: []string{string(config.TypeSerial), string(config.TypeCAN)},
	}
	_, result, err := prompt.Run()
	if err != nil {
		return false, ignoreAbort(err)
	}
	next := config.Type(result)
	if next == cfg.Type {
		return false, nil
	}
	cfg.Type = next
	return true, nil
}

func editSerial(cfg *config.Config) (bool, error) {
	device, err := askString("Device", cfg.Serial.Device, notEmpty)
	if err != nil {
		return false, ignoreAbort(err)
	}
	baud, err := askInt("Baud rate", cfg.Serial.Baud)
	if err != nil {
		return false, ignoreAbort(err)
	}
	changed := device != cfg.Serial.Device || baud != cfg.Serial.Baud
	cfg.Serial.Device = device
	cfg.Serial.Baud = baud
	return changed && cfg.Type == config.TypeSerial, nil
}

func editCAN(cfg *config.Config) (bool, error) {
	iface, err := askString("Interface", cfg.CAN.Interface, notEmpty)
	if err != nil {
		return false, ignoreAbort(err)
	}
	bitrate, err := askInt("Bitrate", int(cfg.CAN.Bitrate))
	if err != nil {
		return false, ignoreAbort(err)
	}
	changed := iface != cfg.CAN.Interface || uint32(bitrate) != cfg.CAN.Bitrate
	cfg.CAN.Interface = iface
	cfg.CAN.Bitrate = uint32(bitrate)
	return changed && cfg.Type == config.TypeCAN, nil
}

func editDefaultID(cfg *config.Config) error {
	id, err := askString("Default CAN ID (0x-prefixed)", cfg.CAN.DefaultID, func(s string) error {
		_, err := parse.CANID(s)
		return err
	})
	if err != nil {
		return ignoreAbort(err)
	}
	cfg.CAN.DefaultID = id
	return nil
}

func editMode(cfg *config.Config) error {
	prompt := promptui.Select{
		Label: "Input mode",
		Items: []string{config.ModeText, config.ModeHex},
	}
	_, result, err := prompt.Run()
	if err != nil {
		return ignoreAbort(err)
	}
	cfg.Mode = result
	return nil
}

func editPresets(cfg *config.Config) error {
	for {
		items := make([]string, 0, config.NumPresets+1)
		for i := 1; i <= config.NumPresets; i++ {
			p, _ := cfg.Preset(i)
			desc := p.Data
			if desc == "" {
				desc = "(empty)"
			}
			items = append(items, fmt.Sprintf("%d: %s [%s] %s", i, p.Name, p.Format, desc))
		}
		items = append(items, "Back")
		prompt := promptui.Select{
			Label: "Presets",
			Size:  config.NumPresets + 1,
			Items: items,
		}
		idx, _, err := prompt.Run()
		if err != nil {
			return ignoreAbort(err)
		}
		if idx >= config.NumPresets {
			return nil
		}
		if err := editPreset(cfg, idx+1); err != nil {
			return err
		}
	}
}

func editPreset(cfg *config.Config, n int) error {
	p, err := cfg.Preset(n)
	if err != nil {
		return err
	}
	name, err := askString("Name", p.Name, nil)
	if err != nil {
		return ignoreAbort(err)
	}
	p.Name = name

	format := promptui.Select{
		Label: "Format",
		Items: []string{config.ModeHex, config.ModeText},
	}
	_, p.Format, err = format.Run()
	if err != nil {
		return ignoreAbort(err)
	}

	validate := func(string) error { return nil }
	if p.Format == config.ModeHex {
		validate = func(s string) error {
			_, err := parse.HexBytes(s)
			return err
		}
	}
	if p.Data, err = askString("Data", p.Data, validate); err != nil {
		return ignoreAbort(err)
	}

	if p.CANID, err = askString("CAN ID (blank for default)", p.CANID, func(s string) error {
		if s == "" {
			return nil
		}
		_, err := parse.CANID(s)
		return err
	}); err != nil {
		return ignoreAbort(err)
	}
	return cfg.SetPreset(n, p)
}

func askString(label, current string, validate func(string) error) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Default:  current,
		Validate: validate,
	}
	out, err := prompt.Run()
	if err != nil {
		return current, err
	}
	return out, nil
}

func askInt(label string, current int) (int, error) {
	prompt := promptui.Prompt{
		Label:   label,
		Default: strconv.Itoa(current),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return errors.New("want a positive integer")
			}
			return nil
		},
	}
	out, err := prompt.Run()
	if err != nil {
		return current, err
	}
	return strconv.Atoi(out)
}

func notEmpty(s string) error {
	if s == "" {
		return errors.New("cannot be empty")
	}
	return nil
}

// ignoreAbort turns Ctrl-C / EOF inside a sub-prompt into a plain
// return to the previous level.
func ignoreAbort(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return nil
	}
	return err
}
