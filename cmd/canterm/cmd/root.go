package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	ansi "github.com/k0kubun/go-ansi"
	"github.com/spf13/cobra"

	"github.com/roffe/canterm"
	"github.com/roffe/canterm/pkg/config"
	"github.com/roffe/canterm/pkg/menu"
	"github.com/roffe/canterm/pkg/parse"
)

var rootCmd = &cobra.Command{
	Use:          "canterm",
	Short:        "Interactive serial and CAN bus terminal",
	Long: `canterm is an interactive terminal for serial ports and SocketCAN
interfaces with preset payloads and repeating transmissions.`,
	SilenceUsage: true,
	RunE:         run,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig     = "config"
	flagDevice     = "device"
	flagBaud       = "baud"
	flagDataBits   = "databits"
	flagParity     = "parity"
	flagStopBits   = "stop"
	flagFlow       = "flow"
	flagCAN        = "can"
	flagCANBitrate = "can-bitrate"
	flagCANID      = "can-id"
	flagFilter     = "filter"
	flagHex        = "hex"
	flagText       = "text"
	flagCRLF       = "crlf"
	flagNoCRLF     = "no-crlf"
	flagPreset     = "preset"
	flagRepeat     = "repeat"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.String(flagConfig, "", "profile path (default ~/.canterm.yaml)")
	pf.StringP(flagDevice, "d", "", "serial device, e.g. /dev/ttyUSB0")
	pf.IntP(flagBaud, "b", 0, "baud rate")
	pf.Int(flagDataBits, 0, "data bits (5-8)")
	pf.String(flagParity, "", "parity: N, E or O")
	pf.Int(flagStopBits, 0, "stop bits (1 or 2)")
	pf.String(flagFlow, "", "flow control: none, rtscts or xonxoff")
	pf.StringP(flagCAN, "c", "", "SocketCAN interface, e.g. can0")
	pf.Uint32(flagCANBitrate, 0, "CAN bitrate in bps")
	pf.String(flagCANID, "", "default CAN identifier, e.g. 0x123")
	pf.String(flagFilter, "", "comma separated CAN ID receive filter")

	f := rootCmd.Flags()
	f.Bool(flagHex, false, "start in hex input mode")
	f.Bool(flagText, false, "start in text input mode")
	f.Bool(flagCRLF, false, "append CRLF to text sends")
	f.Bool(flagNoCRLF, false, "do not append CRLF to text sends")
	f.IntP(flagPreset, "p", 0, "send preset N once after connecting")
	f.StringP(flagRepeat, "r", "", "start repeating preset on connect, N,MS")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	adapter, err := canterm.Connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	histPath, err := config.HistoryPath()
	if err != nil {
		histPath = ""
	}

	t := canterm.NewTerminal(canterm.TerminalConfig{
		Config:      cfg,
		ConfigPath:  cfgPath,
		HistoryPath: histPath,
		Adapter:     adapter,
		Connect:     canterm.Connect,
		Menu:        menu.Settings,
	})

	out := ansi.NewAnsiStdout()
	if cfg.Type == config.TypeCAN {
		fmt.Fprintf(out, "Connected to %s @ %d bps\n", cfg.CAN.Interface, cfg.CAN.Bitrate)
	} else {
		fmt.Fprintf(out, "Connected to %s @ %d baud\n", cfg.Serial.Device, cfg.Serial.Baud)
	}
	fmt.Fprintln(out, "Type /help for commands, /menu for settings.")

	if n, _ := cmd.Flags().GetInt(flagPreset); n > 0 {
		if err := t.SendPreset(n); err != nil {
			return fmt.Errorf("preset %d: %w", n, err)
		}
	}
	if spec, _ := cmd.Flags().GetString(flagRepeat); spec != "" {
		n, ms, err := parseRepeatSpec(spec)
		if err != nil {
			return err
		}
		if err := t.ArmPreset(n, ms); err != nil {
			return fmt.Errorf("repeat %s: %w", spec, err)
		}
	}

	return t.Run(cmd.Context())
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// applyFlags overlays command line flags onto the loaded profile. Only
// flags the user actually set override the profile.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()

	if f.Changed(flagDevice) {
		cfg.Serial.Device, _ = f.GetString(flagDevice)
		cfg.Type = config.TypeSerial
	}
	if f.Changed(flagBaud) {
		cfg.Serial.Baud, _ = f.GetInt(flagBaud)
	}
	if f.Changed(flagDataBits) {
		cfg.Serial.DataBits, _ = f.GetInt(flagDataBits)
	}
	if f.Changed(flagParity) {
		cfg.Serial.Parity, _ = f.GetString(flagParity)
	}
	if f.Changed(flagStopBits) {
		cfg.Serial.StopBits, _ = f.GetInt(flagStopBits)
	}
	if f.Changed(flagFlow) {
		cfg.Serial.Flow, _ = f.GetString(flagFlow)
	}
	if f.Changed(flagCAN) {
		cfg.CAN.Interface, _ = f.GetString(flagCAN)
		cfg.Type = config.TypeCAN
	}
	if f.Changed(flagCANBitrate) {
		cfg.CAN.Bitrate, _ = f.GetUint32(flagCANBitrate)
	}
	if f.Changed(flagCANID) {
		id, _ := f.GetString(flagCANID)
		if _, err := parse.CANID(id); err != nil {
			return err
		}
		cfg.CAN.DefaultID = id
	}
	if f.Changed(flagFilter) {
		cfg.CAN.Filter, _ = f.GetString(flagFilter)
	}

	hex, _ := f.GetBool(flagHex)
	text, _ := f.GetBool(flagText)
	if hex && text {
		return fmt.Errorf("--%s and --%s are mutually exclusive", flagHex, flagText)
	}
	if hex {
		cfg.Mode = config.ModeHex
	}
	if text {
		cfg.Mode = config.ModeText
	}

	crlf, _ := f.GetBool(flagCRLF)
	noCRLF, _ := f.GetBool(flagNoCRLF)
	if crlf && noCRLF {
		return fmt.Errorf("--%s and --%s are mutually exclusive", flagCRLF, flagNoCRLF)
	}
	if crlf {
		cfg.CRLF = true
	}
	if noCRLF {
		cfg.CRLF = false
	}
	return nil
}

// parseRepeatSpec splits the --repeat argument, "N,MS".
func parseRepeatSpec(spec string) (int, int, error) {
	left, right, found := strings.Cut(spec, ",")
	if !found {
		return 0, 0, fmt.Errorf("invalid repeat spec %q: want N,MS", spec)
	}
	n, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid repeat spec %q: want N,MS", spec)
	}
	ms, err := parse.Interval(strings.TrimSpace(right))
	if err != nil {
		return 0, 0, err
	}
	return n, ms, nil
}
