package parse

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultIntervalMS is used when -r is given without -t.
	DefaultIntervalMS = 1000
	// MinIntervalMS is the repeat interval floor; smaller values are
	// rejected when the repeat is created.
	MinIntervalMS = 10
	// MaxCANData is the classical CAN payload limit.
	MaxCANData = 8
	// MaxCANID is the largest 29-bit extended identifier. Anything
	// above it would spill into the frame flag bits on the wire.
	MaxCANID = 0x1FFFFFFF
)

var ErrOddLengthHex = errors.New("odd-length hex")

type PayloadKind int

const (
	PayloadBytes PayloadKind = iota
	PayloadText
)

// Payload is what ends up on the wire: decoded hex bytes or verbatim
// text. Text never goes through flag parsing.
type Payload struct {
	Kind PayloadKind
	Data []byte
	Text string
}

func BytesPayload(data []byte) Payload {
	return Payload{Kind: PayloadBytes, Data: data}
}

func TextPayload(text string) Payload {
	return Payload{Kind: PayloadText, Text: text}
}

func (p Payload) String() string {
	if p.Kind == PayloadText {
		return fmt.Sprintf("%q", p.Text)
	}
	return fmt.Sprintf("% X", p.Data)
}

type ActionKind int

const (
	ActionCommand ActionKind = iota
	ActionSend
)

// Action is the result of parsing one input line. Commands carry the
// lowercased name and the raw argument rest; sends carry the payload
// plus any inline flags.
type Action struct {
	Kind    ActionKind
	Command string
	Arg     string

	Payload    Payload
	ID         uint32
	HasID      bool
	Repeat     bool
	IntervalMS int
}

// Options selects the input grammar. Both are external configuration
// state, not owned by the parser.
type Options struct {
	HexMode bool
	CAN     bool
}

// Line parses one raw input line. Slash commands are recognised first
// in either mode; otherwise text mode takes the line verbatim and hex
// mode tokenizes it with inline flags. The whole line is rejected on
// the first violation, no partial recovery.
func Line(line string, opts Options) (Action, error) {
	if strings.HasPrefix(line, "/") {
		cmd, arg := splitFirst(strings.TrimSpace(line[1:]))
		return Action{Kind: ActionCommand, Command: strings.ToLower(cmd), Arg: arg}, nil
	}
	if !opts.HexMode {
		return Action{Kind: ActionSend, Payload: TextPayload(line)}, nil
	}
	return hexLine(line, opts)
}

func hexLine(line string, opts Options) (Action, error) {
	act := Action{Kind: ActionSend}
	tokens := strings.Fields(line)
	var digits strings.Builder
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch lower := strings.ToLower(tok); {
		case lower == "-id":
			if i+1 >= len(tokens) {
				return Action{}, errors.New("-id requires a 0x-prefixed identifier")
			}
			i++
			id, err := CANID(tokens[i])
			if err != nil {
				return Action{}, err
			}
			act.ID, act.HasID = id, true
		case lower == "-t":
			if i+1 >= len(tokens) {
				return Action{}, errors.New("-t requires an interval in milliseconds")
			}
			i++
			ms, err := Interval(tokens[i])
			if err != nil {
				return Action{}, err
			}
			act.IntervalMS = ms
		case lower == "-r":
			act.Repeat = true
		case strings.HasPrefix(tok, "-"):
			return Action{}, fmt.Errorf("unknown flag %q", tok)
		default:
			for _, c := range tok {
				if !isHexDigit(c) {
					return Action{}, fmt.Errorf("invalid hex token %q", tok)
				}
			}
			digits.WriteString(tok)
		}
	}
	if digits.Len()%2 != 0 {
		return Action{}, ErrOddLengthHex
	}
	data, err := hex.DecodeString(digits.String())
	if err != nil {
		return Action{}, fmt.Errorf("invalid hex: %w", err)
	}
	if opts.CAN && len(data) > MaxCANData {
		return Action{}, fmt.Errorf("CAN payload is %d bytes, max %d", len(data), MaxCANData)
	}
	if act.Repeat && act.IntervalMS == 0 {
		act.IntervalMS = DefaultIntervalMS
	}
	act.Payload = BytesPayload(data)
	return act, nil
}

// CANID parses a 0x-prefixed hexadecimal CAN identifier.
func CANID(s string) (uint32, error) {
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "0x") || len(lower) == 2 {
		return 0, fmt.Errorf("invalid CAN identifier %q: want 0x-prefixed hex", s)
	}
	id, err := strconv.ParseUint(lower[2:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid CAN identifier %q: want 0x-prefixed hex", s)
	}
	if id > MaxCANID {
		return 0, fmt.Errorf("CAN identifier %s exceeds the 29-bit limit 0x%X", s, MaxCANID)
	}
	return uint32(id), nil
}

// Interval parses a repeat interval in milliseconds and enforces the floor.
func Interval(s string) (int, error) {
	ms, err := strconv.Atoi(s)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid interval %q: want a positive integer in milliseconds", s)
	}
	if ms < MinIntervalMS {
		return 0, fmt.Errorf("interval %dms is below the %dms floor", ms, MinIntervalMS)
	}
	return ms, nil
}

// HexBytes decodes a run of hex digit pairs, whitespace allowed anywhere.
func HexBytes(s string) ([]byte, error) {
	var digits strings.Builder
	for _, c := range s {
		if c == ' ' || c == '\t' {
			continue
		}
		if !isHexDigit(c) {
			return nil, fmt.Errorf("invalid hex character %q", c)
		}
		digits.WriteRune(c)
	}
	if digits.Len()%2 != 0 {
		return nil, ErrOddLengthHex
	}
	return hex.DecodeString(digits.String())
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func splitFirst(s string) (string, string) {
	first, rest, found := strings.Cut(s, " ")
	if !found {
		return s, ""
	}
	return first, strings.TrimSpace(rest)
}
