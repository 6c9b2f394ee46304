package canterm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/canterm/pkg/config"
	"github.com/roffe/canterm/pkg/history"
	"github.com/roffe/canterm/pkg/parse"
	"github.com/roffe/canterm/pkg/sched"
)

func (t *Terminal) handleCommand(cmd, arg string) {
	switch cmd {
	case "help", "h":
		t.printHelp()
	case "menu":
		t.state = MenuRequested
	case "clear":
		fmt.Fprint(t.out, "\033[2J\033[H")
	case "status":
		t.printStatus()
	case "rs":
		t.repeatStatus(arg)
	case "ra":
		t.sched.DisarmAll()
		t.printf("All repeats stopped.")
	case "p":
		t.presetCommand(arg)
	case "hex":
		t.hexCommand(arg)
	case "can":
		t.canCommand(arg)
	case "rpt":
		t.rptCommand(arg)
	case "device":
		t.deviceCommand(arg)
	case "baud":
		t.baudCommand(arg)
	case "mode":
		t.modeCommand(arg)
	case "crlf":
		t.crlfCommand(arg)
	case "history":
		t.showHistory()
	case "r":
		t.printf("Note: Use /p N -r to start repeat, /p N -nr to stop.")
		t.printf("      Use /rs for status, /ra to stop all.")
	case "ri", "rp":
		t.printf("Note: Use /p N -r -t MS for interval, /rs for status.")
	default:
		t.errorf("unknown command %q, type /help", cmd)
	}
}

func (t *Terminal) presetCommand(arg string) {
	args, err := parse.PresetCommand(arg)
	if err != nil {
		t.errorf("%v", err)
		return
	}
	slot, err := sched.Preset(args.N)
	if err != nil {
		t.errorf("%v", err)
		return
	}
	if args.Stop {
		t.sched.Disarm(slot)
		t.printf("Preset %d repeat stopped.", args.N)
		return
	}
	payload, id, hasID, err := t.presetPayload(args.N)
	if err != nil {
		t.errorf("%v", err)
		return
	}
	if args.Repeat {
		if err := t.sched.Arm(sched.Entry{
			Slot:       slot,
			Payload:    payload,
			ID:         id,
			HasID:      hasID,
			IntervalMS: args.IntervalMS,
		}); err != nil {
			if !t.sched.Enabled(slot) {
				t.errorf("%v", err)
				return
			}
			t.errorf("first send failed: %v", err)
		}
		t.printf("Preset %d repeating every %dms", args.N, args.IntervalMS)
		return
	}
	if err := t.sendPayload(payload, id, hasID); err != nil {
		t.printf("%s[Preset %d]: %v", red("TX FAILED"), args.N, err)
		return
	}
	t.printf("%s[Preset %d]", green("TX"), args.N)
}

// SendPreset sends preset n once, e.g. from a CLI flag before the
// event loop starts.
func (t *Terminal) SendPreset(n int) error {
	payload, id, hasID, err := t.presetPayload(n)
	if err != nil {
		return err
	}
	return t.sendPayload(payload, id, hasID)
}

// ArmPreset starts repeating preset n every intervalMS milliseconds.
// The first send happens immediately.
func (t *Terminal) ArmPreset(n, intervalMS int) error {
	slot, err := sched.Preset(n)
	if err != nil {
		return err
	}
	payload, id, hasID, err := t.presetPayload(n)
	if err != nil {
		return err
	}
	return t.sched.Arm(sched.Entry{
		Slot:       slot,
		Payload:    payload,
		ID:         id,
		HasID:      hasID,
		IntervalMS: intervalMS,
	})
}

// presetPayload resolves a stored preset into wire bytes at send time.
// Oversized hex presets are clamped to 8 bytes on CAN; only typed-in
// lines get the strict oversize rejection.
func (t *Terminal) presetPayload(n int) (parse.Payload, uint32, bool, error) {
	p, err := t.cfg.Preset(n)
	if err != nil {
		return parse.Payload{}, 0, false, err
	}
	if strings.TrimSpace(p.Data) == "" {
		return parse.Payload{}, 0, false, fmt.Errorf("preset %d (%s) has no data", n, p.Name)
	}
	id, hasID := p.ID()
	if p.Format == config.ModeText {
		return parse.TextPayload(p.Data), id, hasID, nil
	}
	data, err := parse.HexBytes(p.Data)
	if err != nil {
		return parse.Payload{}, 0, false, fmt.Errorf("preset %d: %w", n, err)
	}
	if t.cfg.Type == config.TypeCAN && len(data) > MaxFrameData {
		data = data[:MaxFrameData]
	}
	return parse.BytesPayload(data), id, hasID, nil
}

func (t *Terminal) hexCommand(arg string) {
	data, err := parse.HexBytes(arg)
	if err != nil {
		t.errorf("%v", err)
		return
	}
	if len(data) == 0 {
		t.errorf("usage: /hex XX XX XX ...")
		return
	}
	if t.cfg.Type == config.TypeCAN && len(data) > MaxFrameData {
		t.errorf("CAN payload is %d bytes, max %d", len(data), MaxFrameData)
		return
	}
	payload := parse.BytesPayload(data)
	if err := t.sendPayload(payload, 0, false); err != nil {
		t.errorf("send failed: %v", err)
		return
	}
	t.printSent(payload, 0, false)
}

func (t *Terminal) canCommand(arg string) {
	id, data, err := parse.CanCommand(arg)
	if err != nil {
		t.errorf("%v", err)
		return
	}
	if err := t.adapter.SendFrame(id, data); err != nil {
		t.errorf("send failed: %v", err)
		return
	}
	t.printf("%s[ID:0x%03X DLC:%d]", green("TX"), id, len(data))
}

func (t *Terminal) rptCommand(arg string) {
	ms, text, err := parse.RptCommand(arg)
	if err != nil {
		t.errorf("%v", err)
		return
	}
	t.armInline(parse.TextPayload(text), 0, false, ms)
}

func (t *Terminal) repeatStatus(arg string) {
	if strings.ToLower(strings.TrimSpace(arg)) == "stop" {
		if t.sched.Enabled(sched.Inline) {
			t.sched.Disarm(sched.Inline)
			t.printf("Inline repeat stopped.")
		} else {
			t.printf("No inline repeat is active.")
		}
		return
	}
	t.printf("Repeat Status:")
	active := t.sched.Active()
	if len(active) == 0 {
		t.printf("  No repeats are active.")
		return
	}
	for _, e := range active {
		t.printf("  %s", t.describeEntry(e))
	}
	t.printf("  Use /rs stop to stop inline repeat, /ra to stop all.")
}

func (t *Terminal) describeEntry(e sched.Entry) string {
	if e.Slot == sched.Inline {
		if t.cfg.Type == config.TypeCAN {
			target := e.ID
			if !e.HasID {
				target = t.cfg.DefaultCANID()
			}
			return fmt.Sprintf("Inline: ID 0x%03X, %d bytes, every %dms", target, payloadLen(e.Payload), e.IntervalMS)
		}
		return fmt.Sprintf("Inline: %d bytes, every %dms", payloadLen(e.Payload), e.IntervalMS)
	}
	name := ""
	if p, err := t.cfg.Preset(int(e.Slot)); err == nil {
		name = p.Name
	}
	return fmt.Sprintf("Preset %d (%s): every %dms", int(e.Slot), name, e.IntervalMS)
}

func (t *Terminal) printStatus() {
	if t.cfg.Type == config.TypeCAN {
		t.printf("  CAN: %s @ %d bps (ID: %s)", t.cfg.CAN.Interface, t.cfg.CAN.Bitrate, t.cfg.CAN.DefaultID)
	} else {
		t.printf("  Device: %s @ %d baud", t.cfg.Serial.Device, t.cfg.Serial.Baud)
	}
	crlf := "off"
	if t.cfg.CRLF {
		crlf = "on"
	}
	t.printf("  Mode: %s, CRLF: %s", t.cfg.Mode, crlf)
	if active := t.sched.Active(); len(active) > 0 {
		t.printf("  Repeating:")
		for _, e := range active {
			t.printf("    %s", t.describeEntry(e))
		}
	}
}

func (t *Terminal) deviceCommand(arg string) {
	if arg == "" {
		t.errorf("usage: /device PATH")
		return
	}
	t.cfg.Serial.Device = arg
	t.saveConfig()
	t.printf("Device set to %s (reconnect via /menu)", arg)
}

func (t *Terminal) baudCommand(arg string) {
	baud, err := strconv.Atoi(arg)
	if err != nil || baud <= 0 {
		t.errorf("usage: /baud RATE")
		return
	}
	t.cfg.Serial.Baud = baud
	t.saveConfig()
	t.printf("Baud set to %d (reconnect via /menu)", baud)
}

func (t *Terminal) modeCommand(arg string) {
	switch strings.ToLower(arg) {
	case config.ModeHex:
		t.cfg.Mode = config.ModeHex
	case config.ModeText, "normal":
		t.cfg.Mode = config.ModeText
	default:
		t.errorf("usage: /mode text|hex")
		return
	}
	t.saveConfig()
	t.printf("Mode set to %s", t.cfg.Mode)
}

func (t *Terminal) crlfCommand(arg string) {
	switch strings.ToLower(arg) {
	case "on":
		t.cfg.CRLF = true
	case "off":
		t.cfg.CRLF = false
	default:
		t.errorf("usage: /crlf on|off")
		return
	}
	t.saveConfig()
	crlf := "OFF"
	if t.cfg.CRLF {
		crlf = "ON"
	}
	t.printf("CRLF is now %s", crlf)
}

func (t *Terminal) showHistory() {
	if t.histPath == "" {
		t.errorf("history is disabled")
		return
	}
	entries, err := history.Load(t.histPath)
	if err != nil {
		t.errorf("history: %v", err)
		return
	}
	const max = 20
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	if len(entries) == 0 {
		t.printf("History is empty.")
		return
	}
	for _, e := range entries {
		t.printf("  %s", e)
	}
}

func (t *Terminal) printHelp() {
	t.printf(`Commands:
  /p N              Send preset N (1-10) once
  /p N -r           Start repeating preset N (default 1000ms)
  /p N -r -t MS     Start repeating preset N with MS interval
  /p N -nr          Stop repeating preset N
  /rs               Show repeat status for all repeats
  /rs stop          Stop inline repeat
  /ra               Stop all repeats (presets + inline)
  /hex XX XX        Send raw hex bytes
  /can ID XX XX     Send CAN frame (ID + data)
  /rpt MS TEXT      Repeat TEXT every MS milliseconds
  /clear            Clear screen
  /device PATH      Change device path
  /baud RATE        Change baud rate
  /mode text|hex    Set input mode
  /crlf on|off      Toggle CRLF append
  /status           Show current settings
  /history          Show recent input lines
  /menu             Open settings menu
  /help             Show this help

Inline repeat (hex mode):
  XX XX XX -id 0xNNN        Send hex to specific CAN ID
  XX XX XX -r               Repeat at 1000ms (default ID)
  XX XX XX -r -t MS         Repeat at MS interval
  XX XX -id 0xNN -r -t 100  Full example: repeat every 100ms`)
}
