package canterm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	ansi "github.com/k0kubun/go-ansi"

	"github.com/roffe/canterm/pkg/config"
	"github.com/roffe/canterm/pkg/history"
	"github.com/roffe/canterm/pkg/parse"
	"github.com/roffe/canterm/pkg/sched"
)

// State is the event loop's lifecycle phase.
type State int

const (
	Running State = iota
	MenuRequested
	Reconnecting
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case MenuRequested:
		return "menu"
	case Reconnecting:
		return "reconnecting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// baselineWait bounds the multiplex timeout so the loop revisits
// transport and keyboard readiness even when nothing is scheduled.
const baselineWait = 100 * time.Millisecond

// ConnectFunc builds and opens a transport from the current settings.
type ConnectFunc func(context.Context, *config.Config) (Adapter, error)

// MenuFunc runs the interactive settings menu and reports whether
// connection settings changed.
type MenuFunc func(*config.Config) (bool, error)

type TerminalConfig struct {
	Config      *config.Config
	ConfigPath  string
	HistoryPath string
	Adapter     Adapter
	Input       io.Reader // defaults to os.Stdin
	Output      io.Writer // defaults to an ANSI-capable stdout
	Connect     ConnectFunc
	Menu        MenuFunc
}

// Terminal is the single-threaded driver: it multiplexes transport
// traffic, keyboard lines and repeat deadlines, and owns the adapter
// and scheduler for its lifetime.
type Terminal struct {
	cfg      *config.Config
	cfgPath  string
	histPath string

	adapter Adapter
	sched   *sched.Scheduler
	state   State

	input   io.Reader
	out     io.Writer
	connect ConnectFunc
	menu    MenuFunc

	now func() time.Time
}

func NewTerminal(tc TerminalConfig) *Terminal {
	t := &Terminal{
		cfg:      tc.Config,
		cfgPath:  tc.ConfigPath,
		histPath: tc.HistoryPath,
		adapter:  tc.Adapter,
		state:    Running,
		input:    tc.Input,
		out:      tc.Output,
		connect:  tc.Connect,
		menu:     tc.Menu,
		now:      time.Now,
	}
	if t.input == nil {
		t.input = os.Stdin
	}
	if t.out == nil {
		t.out = ansi.NewAnsiStdout()
	}
	t.sched = sched.New(t.schedSend)
	return t
}

// Scheduler exposes the repeat slots, e.g. for pre-arming from CLI flags.
func (t *Terminal) Scheduler() *sched.Scheduler {
	return t.sched
}

// Run drives the terminal until the context is cancelled, the input
// reaches EOF, or a fatal transport error occurs. The adapter is
// closed on the way out.
func (t *Terminal) Run(ctx context.Context) error {
	// Closure so a reconnect-swapped adapter is the one closed.
	defer func() { t.adapter.Close() }()

	lines := make(chan string, 1)
	// The reader stays blocked in Read on cancellation; it is deliberately
	// not joined, the process is on its way out by then.
	go t.readLines(lines)

	for t.state != Terminated {
		switch t.state {
		case Running:
			t.runOnce(ctx, lines)
		case MenuRequested:
			t.runMenu()
		case Reconnecting:
			if err := t.reconnect(ctx); err != nil {
				t.state = Terminated
				return err
			}
		}
	}
	t.printf("Disconnected.")
	return nil
}

func (t *Terminal) readLines(lines chan<- string) {
	scanner := bufio.NewScanner(t.input)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	close(lines)
}

// runOnce is one Running iteration: block on {transport, keyboard,
// timeout}, then handle in deterministic order {due timers} ->
// {transport in} -> {keyboard in}.
func (t *Terminal) runOnce(ctx context.Context, lines <-chan string) {
	timeout := baselineWait
	if d, ok := t.sched.NextDeadline(t.now()); ok && d < timeout {
		timeout = d
	}

	var (
		line     string
		haveLine bool
		rx       *Received
	)
	select {
	case <-ctx.Done():
		t.state = Terminated
		return
	case l, ok := <-lines:
		if !ok {
			t.state = Terminated
			return
		}
		line, haveLine = l, true
	case r := <-t.adapter.Recv():
		rx = r
	case err := <-t.adapter.Err():
		if err != nil {
			t.errorf("transport error: %v", err)
			t.state = Terminated
			return
		}
	case ev := <-t.adapter.Event():
		t.printf("%s", ev)
	case <-time.After(timeout):
	}

	for _, r := range t.sched.FireDue(t.now()) {
		t.printFire(r)
	}
	if rx != nil {
		t.printRecv(rx)
	}
	t.drainRecv()
	if haveLine {
		t.handleLine(line)
	}
}

func (t *Terminal) drainRecv() {
	for {
		select {
		case r := <-t.adapter.Recv():
			t.printRecv(r)
		default:
			return
		}
	}
}

func (t *Terminal) handleLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if t.histPath != "" {
		if err := history.Append(t.histPath, line); err != nil {
			t.errorf("history: %v", err)
		}
	}
	act, err := parse.Line(line, parse.Options{
		HexMode: t.cfg.HexMode(),
		CAN:     t.cfg.Type == config.TypeCAN,
	})
	if err != nil {
		t.errorf("%v", err)
		return
	}
	switch act.Kind {
	case parse.ActionCommand:
		t.handleCommand(act.Command, act.Arg)
	case parse.ActionSend:
		t.handleSend(act)
	}
}

func (t *Terminal) handleSend(act parse.Action) {
	if act.Repeat {
		t.armInline(act.Payload, act.ID, act.HasID, act.IntervalMS)
		return
	}
	if err := t.sendPayload(act.Payload, act.ID, act.HasID); err != nil {
		t.errorf("send failed: %v", err)
		return
	}
	t.printSent(act.Payload, act.ID, act.HasID)
}

func (t *Terminal) armInline(p parse.Payload, id uint32, hasID bool, intervalMS int) {
	err := t.sched.Arm(sched.Entry{
		Slot:       sched.Inline,
		Payload:    p,
		ID:         id,
		HasID:      hasID,
		IntervalMS: intervalMS,
	})
	if err != nil {
		if !t.sched.Enabled(sched.Inline) {
			t.errorf("%v", err)
			return
		}
		t.errorf("first send failed: %v", err)
	}
	t.printf("Inline repeat started: every %dms. Use /rs stop to stop, /ra to stop all.", intervalMS)
}

// schedSend is the scheduler's transmission callback; it runs
// synchronously inside Arm and FireDue.
func (t *Terminal) schedSend(slot sched.Slot, p parse.Payload, id uint32, hasID bool) error {
	return t.sendPayload(p, id, hasID)
}

func (t *Terminal) sendPayload(p parse.Payload, id uint32, hasID bool) error {
	if t.cfg.Type == config.TypeCAN {
		data := p.Data
		if p.Kind == parse.PayloadText {
			data = []byte(p.Text)
			if len(data) > MaxFrameData {
				data = data[:MaxFrameData]
			}
		}
		target := id
		if !hasID {
			target = t.cfg.DefaultCANID()
		}
		return t.adapter.SendFrame(target, data)
	}
	msg := p.Data
	if p.Kind == parse.PayloadText {
		text := p.Text
		if t.cfg.CRLF {
			text += "\r\n"
		}
		msg = []byte(text)
	}
	n, err := t.adapter.SendBytes(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(msg))
	}
	return nil
}

func (t *Terminal) printSent(p parse.Payload, id uint32, hasID bool) {
	if t.cfg.Type == config.TypeCAN {
		target := id
		if !hasID {
			target = t.cfg.DefaultCANID()
		}
		t.printf("%s[ID:0x%03X DLC:%d]", green("TX"), target, payloadLen(p))
		return
	}
	t.printf("%s[%d bytes]", green("TX"), payloadLen(p))
}

func (t *Terminal) printFire(r sched.FireResult) {
	label := r.Slot.String()
	if r.Slot != sched.Inline {
		if p, err := t.cfg.Preset(int(r.Slot)); err == nil && p.Name != "" {
			label = fmt.Sprintf("%s (%s)", label, p.Name)
		}
	} else if t.cfg.Type == config.TypeCAN {
		target := r.ID
		if !r.HasID {
			target = t.cfg.DefaultCANID()
		}
		label = fmt.Sprintf("Inline ID:0x%03X DLC:%d", target, payloadLen(r.Payload))
	}
	if r.Err != nil {
		t.printf("%s[%s]: %v", red("TX FAILED"), label, r.Err)
		return
	}
	t.printf("%s[%s]", green("TX"), label)
}

func (t *Terminal) printRecv(r *Received) {
	if r.Frame != nil {
		t.printf("%s[%s]", yellow("RX"), r.Frame.ColorString())
		return
	}
	var b strings.Builder
	for _, c := range r.Data {
		fmt.Fprintf(&b, " 0x%02X", c)
	}
	t.printf("%s[%d bytes]:%s", yellow("RX"), len(r.Data), b.String())
}

func (t *Terminal) runMenu() {
	if t.menu == nil {
		t.errorf("no settings menu available")
		t.state = Running
		return
	}
	changed, err := t.menu(t.cfg)
	if err != nil {
		t.errorf("menu: %v", err)
		t.state = Running
		return
	}
	t.saveConfig()
	if changed {
		t.state = Reconnecting
		return
	}
	t.state = Running
}

func (t *Terminal) reconnect(ctx context.Context) error {
	t.adapter.Close()
	if t.connect == nil {
		return Unrecoverable(fmt.Errorf("no transport constructor available"))
	}
	t.printf("Reconnecting...")
	a, err := t.connect(ctx, t.cfg)
	if err != nil {
		return Unrecoverable(fmt.Errorf("reconnect: %w", err))
	}
	t.adapter = a
	if t.cfg.Type == config.TypeCAN {
		t.printf("Connected to %s @ %d bps", t.cfg.CAN.Interface, t.cfg.CAN.Bitrate)
	} else {
		t.printf("Connected to %s @ %d baud", t.cfg.Serial.Device, t.cfg.Serial.Baud)
	}
	t.state = Running
	return nil
}

func (t *Terminal) saveConfig() {
	if t.cfgPath == "" {
		return
	}
	if err := t.cfg.Save(t.cfgPath); err != nil {
		t.errorf("failed to save config: %v", err)
	}
}

func payloadLen(p parse.Payload) int {
	if p.Kind == parse.PayloadText {
		return len(p.Text)
	}
	return len(p.Data)
}

func (t *Terminal) printf(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *Terminal) errorf(format string, args ...interface{}) {
	fmt.Fprintf(t.out, red("ERR ")+format+"\n", args...)
}
