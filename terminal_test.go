package canterm

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roffe/canterm/pkg/config"
	"github.com/roffe/canterm/pkg/sched"
)

func newTestTerminal(t *testing.T, mutate func(*config.Config)) (*Terminal, *Loopback, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := NewLoopback(&AdapterConfig{DefaultID: cfg.DefaultCANID()})
	if err != nil {
		t.Fatal(err)
	}
	lb := a.(*Loopback)
	out := &bytes.Buffer{}
	term := NewTerminal(TerminalConfig{
		Config:  cfg,
		Adapter: lb,
		Input:   strings.NewReader(""),
		Output:  out,
	})
	return term, lb, out
}

func canHex(cfg *config.Config) {
	cfg.Type = config.TypeCAN
	cfg.Mode = config.ModeHex
}

func TestTextModeLineIsVerbatim(t *testing.T) {
	term, lb, _ := newTestTerminal(t, nil)
	term.handleLine("hello -r -t 50")

	sent := lb.SentBytes()
	if len(sent) != 1 {
		t.Fatalf("sent %d chunks, want 1", len(sent))
	}
	// Flag-looking tokens are payload in text mode, CRLF appended.
	if got := string(sent[0]); got != "hello -r -t 50\r\n" {
		t.Errorf("sent %q", got)
	}
	if term.sched.Enabled(sched.Inline) {
		t.Error("text mode line armed a repeat")
	}
}

func TestTextModeWithoutCRLF(t *testing.T) {
	term, lb, _ := newTestTerminal(t, func(cfg *config.Config) {
		cfg.CRLF = false
	})
	term.handleLine("ping")
	sent := lb.SentBytes()
	if len(sent) != 1 || string(sent[0]) != "ping" {
		t.Errorf("sent %q", sent)
	}
}

func TestHexOneShotUsesDefaultID(t *testing.T) {
	term, lb, _ := newTestTerminal(t, canHex)
	term.handleLine("11 22")

	frames := lb.SentFrames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	if frames[0].Identifier != 0x123 {
		t.Errorf("identifier = %#x, want 0x123", frames[0].Identifier)
	}
	if !bytes.Equal(frames[0].Data, []byte{0x11, 0x22}) {
		t.Errorf("data = % X", frames[0].Data)
	}
}

func TestHexInlineRepeatArmsAndSendsOnce(t *testing.T) {
	term, lb, out := newTestTerminal(t, canHex)
	term.handleLine("AA BB -id 0x7FF -r -t 50")

	frames := lb.SentFrames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1 immediate send", len(frames))
	}
	if frames[0].Identifier != 0x7FF || !bytes.Equal(frames[0].Data, []byte{0xAA, 0xBB}) {
		t.Errorf("frame = %s", frames[0])
	}
	if !term.sched.Enabled(sched.Inline) {
		t.Fatal("inline slot not armed")
	}
	if !strings.Contains(out.String(), "every 50ms") {
		t.Errorf("missing confirmation: %q", out.String())
	}
}

func TestOversizeCANLineRejectedBeforeSend(t *testing.T) {
	term, lb, out := newTestTerminal(t, canHex)
	term.handleLine("01 02 03 04 05 06 07 08 09")

	if n := len(lb.SentFrames()); n != 0 {
		t.Fatalf("sent %d frames, want none", n)
	}
	if !strings.Contains(out.String(), "max 8") {
		t.Errorf("missing rejection: %q", out.String())
	}
}

func TestOversizeIdentifierRejectedBeforeSend(t *testing.T) {
	term, lb, out := newTestTerminal(t, canHex)
	term.handleLine("AA -id 0xFFFFFFFF")
	if n := len(lb.SentFrames()); n != 0 {
		t.Fatalf("sent %d frames, want none", n)
	}
	if !strings.Contains(out.String(), "29-bit limit") {
		t.Errorf("missing rejection: %q", out.String())
	}
}

func TestSendFrameValidatesIdentifier(t *testing.T) {
	a, err := NewLoopback(&AdapterConfig{})
	if err != nil {
		t.Fatal(err)
	}
	lb := a.(*Loopback)
	if err := lb.SendFrame(0xFFFFFFFF, []byte{0xAA}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("oversized identifier error = %v, want ErrInvalidID", err)
	}
	if err := lb.SendFrame(0x1FFFFFFF, []byte{0xAA}); err != nil {
		t.Errorf("29-bit identifier rejected: %v", err)
	}
	if n := len(lb.SentFrames()); n != 1 {
		t.Errorf("sent %d frames, want 1", n)
	}
}

func TestOddLengthHexRejected(t *testing.T) {
	term, lb, out := newTestTerminal(t, canHex)
	term.handleLine("AAB")
	if n := len(lb.SentFrames()); n != 0 {
		t.Fatalf("sent %d frames, want none", n)
	}
	if !strings.Contains(out.String(), "odd-length hex") {
		t.Errorf("missing rejection: %q", out.String())
	}
}

func TestInlineReplacement(t *testing.T) {
	term, lb, _ := newTestTerminal(t, canHex)
	term.handleLine("AA -r -t 50")
	term.handleLine("BB -r -t 80")

	frames := lb.SentFrames()
	if len(frames) != 2 {
		t.Fatalf("sent %d frames, want 2 immediate sends", len(frames))
	}
	active := term.sched.Active()
	if len(active) != 1 || active[0].Slot != sched.Inline {
		t.Fatalf("active = %v, want only inline", active)
	}
	if active[0].IntervalMS != 80 {
		t.Errorf("interval = %d, want replacement's 80", active[0].IntervalMS)
	}
	if !bytes.Equal(active[0].Payload.Data, []byte{0xBB}) {
		t.Errorf("payload = %s, want replacement's", active[0].Payload)
	}
}

func TestRptCommand(t *testing.T) {
	term, lb, out := newTestTerminal(t, nil)

	term.handleLine("/rpt 5 ping")
	if term.sched.Enabled(sched.Inline) {
		t.Fatal("sub-floor interval armed")
	}
	if len(lb.SentBytes()) != 0 {
		t.Fatal("sub-floor interval sent")
	}
	if !strings.Contains(out.String(), "10ms floor") {
		t.Errorf("missing floor rejection: %q", out.String())
	}

	term.handleLine("/rpt 10 ping")
	if !term.sched.Enabled(sched.Inline) {
		t.Fatal("inline slot not armed")
	}
	sent := lb.SentBytes()
	if len(sent) != 1 || string(sent[0]) != "ping\r\n" {
		t.Errorf("sent %q", sent)
	}
}

func TestPresetCommands(t *testing.T) {
	term, lb, out := newTestTerminal(t, func(cfg *config.Config) {
		canHex(cfg)
		cfg.Presets[1] = config.Preset{Name: "wakeup", Format: config.ModeHex, Data: "01 02", CANID: "0x7DF"}
	})

	term.handleLine("/p 2")
	frames := lb.SentFrames()
	if len(frames) != 1 || frames[0].Identifier != 0x7DF || !bytes.Equal(frames[0].Data, []byte{0x01, 0x02}) {
		t.Fatalf("one-shot frames = %v", frames)
	}

	term.handleLine("/p 2 -r -t 20")
	slot, _ := sched.Preset(2)
	if !term.sched.Enabled(slot) {
		t.Fatal("preset 2 not armed")
	}
	if len(lb.SentFrames()) != 2 {
		t.Fatalf("arming did not send immediately")
	}

	term.handleLine("/p 2 -nr")
	if term.sched.Enabled(slot) {
		t.Fatal("preset 2 still armed after -nr")
	}

	term.handleLine("/p 99")
	if !strings.Contains(out.String(), "out of range") {
		t.Errorf("missing range rejection: %q", out.String())
	}

	// Default presets carry no data.
	term.handleLine("/p 1")
	if !strings.Contains(out.String(), "no data") {
		t.Errorf("missing empty-preset rejection: %q", out.String())
	}
}

func TestPresetOversizeDataClampedOnCAN(t *testing.T) {
	term, lb, _ := newTestTerminal(t, func(cfg *config.Config) {
		canHex(cfg)
		cfg.Presets[0] = config.Preset{Name: "big", Format: config.ModeHex, Data: "00 01 02 03 04 05 06 07 08 09"}
	})
	term.handleLine("/p 1")
	frames := lb.SentFrames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	if frames[0].DLC() != 8 {
		t.Errorf("DLC = %d, want clamp to 8", frames[0].DLC())
	}
}

func TestRaStopsEverything(t *testing.T) {
	term, _, out := newTestTerminal(t, func(cfg *config.Config) {
		canHex(cfg)
		cfg.Presets[2] = config.Preset{Name: "p3", Format: config.ModeHex, Data: "AA"}
	})
	term.handleLine("/p 3 -r")
	term.handleLine("BB -r -t 100")
	if len(term.sched.Active()) != 2 {
		t.Fatalf("active = %v", term.sched.Active())
	}

	term.handleLine("/ra")
	if len(term.sched.Active()) != 0 {
		t.Fatal("repeats survived /ra")
	}
	if !strings.Contains(out.String(), "All repeats stopped") {
		t.Errorf("missing confirmation: %q", out.String())
	}
}

func TestRsStatusAndStop(t *testing.T) {
	term, _, out := newTestTerminal(t, canHex)

	term.handleLine("/rs")
	if !strings.Contains(out.String(), "No repeats are active") {
		t.Errorf("missing idle status: %q", out.String())
	}

	term.handleLine("AA -r -t 100")
	out.Reset()
	term.handleLine("/rs")
	if !strings.Contains(out.String(), "Inline:") {
		t.Errorf("missing inline status: %q", out.String())
	}

	term.handleLine("/rs stop")
	if term.sched.Enabled(sched.Inline) {
		t.Fatal("inline still armed after /rs stop")
	}

	out.Reset()
	term.handleLine("/rs stop")
	if !strings.Contains(out.String(), "No inline repeat is active") {
		t.Errorf("missing idempotent message: %q", out.String())
	}
}

func TestHistoryCommand(t *testing.T) {
	term, _, out := newTestTerminal(t, nil)

	term.handleLine("/history")
	if !strings.Contains(out.String(), "history is disabled") {
		t.Errorf("output = %q", out.String())
	}

	term.histPath = filepath.Join(t.TempDir(), "history")
	term.handleLine("ping")
	out.Reset()
	term.handleLine("/history")
	if !strings.Contains(out.String(), "ping") {
		t.Errorf("output = %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	term, _, out := newTestTerminal(t, nil)
	term.handleLine("/bogus now")
	if !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestRepeatShorthandsPointAtPreset(t *testing.T) {
	for _, cmd := range []string{"/r", "/ri", "/rp"} {
		term, _, out := newTestTerminal(t, nil)
		term.handleLine(cmd)
		if !strings.Contains(out.String(), "/p N -r") {
			t.Errorf("%s output = %q, want a hint at /p N -r", cmd, out.String())
		}
		if strings.Contains(out.String(), "unknown command") {
			t.Errorf("%s reported as unknown", cmd)
		}
	}
}

func TestModeAndCrlfCommands(t *testing.T) {
	term, _, _ := newTestTerminal(t, nil)
	term.handleLine("/mode hex")
	if !term.cfg.HexMode() {
		t.Error("mode not switched to hex")
	}
	term.handleLine("/crlf off")
	if term.cfg.CRLF {
		t.Error("crlf not switched off")
	}
}

func TestArmReportsFirstSendFailureButStaysArmed(t *testing.T) {
	term, lb, out := newTestTerminal(t, canHex)
	lb.FailSends(errors.New("wire down"))
	term.handleLine("AA -r -t 50")
	if !term.sched.Enabled(sched.Inline) {
		t.Fatal("failed first send disarmed the slot")
	}
	if !strings.Contains(out.String(), "first send failed") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRepeatFiresFromEventLoop(t *testing.T) {
	term, lb, _ := newTestTerminal(t, canHex)
	term.handleLine("AA -r -t 10")
	if len(lb.SentFrames()) != 1 {
		t.Fatal("no immediate send")
	}

	lines := make(chan string)
	deadline := time.Now().Add(time.Second)
	for len(lb.SentFrames()) < 2 && time.Now().Before(deadline) {
		term.runOnce(context.Background(), lines)
	}
	if len(lb.SentFrames()) < 2 {
		t.Fatal("repeat never fired")
	}
}

func TestTransportErrorTerminates(t *testing.T) {
	term, lb, out := newTestTerminal(t, nil)
	lb.Fatal(errors.New("device unplugged"))

	lines := make(chan string)
	term.runOnce(context.Background(), lines)
	if term.state != Terminated {
		t.Fatalf("state = %s, want terminated", term.state)
	}
	if !strings.Contains(out.String(), "device unplugged") {
		t.Errorf("output = %q", out.String())
	}
}

func TestReceivedTrafficIsPrinted(t *testing.T) {
	term, lb, out := newTestTerminal(t, canHex)
	lb.InjectFrame(0x7E8, []byte{0xDE, 0xAD})

	lines := make(chan string)
	term.runOnce(context.Background(), lines)
	if !strings.Contains(out.String(), "7E8") {
		t.Errorf("output = %q", out.String())
	}
}

func TestMenuReconnectSwapsAdapter(t *testing.T) {
	term, _, _ := newTestTerminal(t, nil)
	replacement, err := NewLoopback(&AdapterConfig{})
	if err != nil {
		t.Fatal(err)
	}
	term.menu = func(cfg *config.Config) (bool, error) { return true, nil }
	term.connect = func(ctx context.Context, cfg *config.Config) (Adapter, error) {
		return replacement, nil
	}

	term.handleLine("/menu")
	if term.state != MenuRequested {
		t.Fatalf("state = %s, want menu", term.state)
	}
	term.runMenu()
	if term.state != Reconnecting {
		t.Fatalf("state after changed settings = %s, want reconnecting", term.state)
	}
	if err := term.reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if term.state != Running {
		t.Errorf("state = %s, want running", term.state)
	}
	if term.adapter != replacement {
		t.Error("adapter was not swapped for the reconnected one")
	}
}

func TestMenuWithoutChangesStaysConnected(t *testing.T) {
	term, lb, _ := newTestTerminal(t, nil)
	term.menu = func(cfg *config.Config) (bool, error) { return false, nil }
	term.state = MenuRequested
	term.runMenu()
	if term.state != Running {
		t.Fatalf("state = %s, want running", term.state)
	}
	if term.adapter != Adapter(lb) {
		t.Error("adapter was replaced without a settings change")
	}
}

func TestReconnectFailureIsFatal(t *testing.T) {
	term, _, _ := newTestTerminal(t, nil)
	term.state = MenuRequested
	term.menu = func(cfg *config.Config) (bool, error) { return true, nil }
	term.connect = func(ctx context.Context, cfg *config.Config) (Adapter, error) {
		return nil, errors.New("no such device")
	}

	err := term.Run(context.Background())
	if err == nil {
		t.Fatal("Run returned nil after reconnect failure")
	}
	if IsRecoverable(err) {
		t.Errorf("reconnect failure = %v, want unrecoverable", err)
	}
	if term.state != Terminated {
		t.Errorf("state = %s, want terminated", term.state)
	}
}

func TestRunStopsOnInputEOF(t *testing.T) {
	term, lb, _ := newTestTerminal(t, nil)
	term.input = strings.NewReader("hi\n")

	if err := term.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if term.state != Terminated {
		t.Fatalf("state = %s", term.state)
	}
	sent := lb.SentBytes()
	if len(sent) != 1 || string(sent[0]) != "hi\r\n" {
		t.Errorf("sent %q", sent)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	term, _, _ := newTestTerminal(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- term.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
