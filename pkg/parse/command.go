package parse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PresetArgs is the parsed argument list of /p N [-r [-t MS]] [-nr].
type PresetArgs struct {
	N          int
	Repeat     bool
	Stop       bool
	IntervalMS int
}

func PresetCommand(arg string) (PresetArgs, error) {
	tokens := strings.Fields(arg)
	if len(tokens) == 0 {
		return PresetArgs{}, errors.New("usage: /p N [-r [-t MS]] [-nr]")
	}
	n, err := strconv.Atoi(tokens[0])
	if err != nil || n < 1 || n > 10 {
		return PresetArgs{}, fmt.Errorf("invalid preset %q: want 1-10", tokens[0])
	}
	out := PresetArgs{N: n}
	for i := 1; i < len(tokens); i++ {
		switch lower := strings.ToLower(tokens[i]); lower {
		case "-r":
			out.Repeat = true
		case "-nr":
			out.Stop = true
		case "-t":
			if i+1 >= len(tokens) {
				return PresetArgs{}, errors.New("-t requires an interval in milliseconds")
			}
			i++
			ms, err := Interval(tokens[i])
			if err != nil {
				return PresetArgs{}, err
			}
			out.IntervalMS = ms
		default:
			return PresetArgs{}, fmt.Errorf("unknown flag %q", tokens[i])
		}
	}
	if out.Repeat && out.IntervalMS == 0 {
		out.IntervalMS = DefaultIntervalMS
	}
	return out, nil
}

// CanCommand parses /can ID XX XX... The identifier is hexadecimal,
// with or without the 0x prefix.
func CanCommand(arg string) (uint32, []byte, error) {
	idStr, rest := splitFirst(strings.TrimSpace(arg))
	if idStr == "" {
		return 0, nil, errors.New("usage: /can ID XX XX ...")
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(idStr), "0x"), 16, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid CAN identifier %q", idStr)
	}
	if id > MaxCANID {
		return 0, nil, fmt.Errorf("CAN identifier %s exceeds the 29-bit limit 0x%X", idStr, MaxCANID)
	}
	var data []byte
	if rest != "" {
		data, err = HexBytes(rest)
		if err != nil {
			return 0, nil, err
		}
	}
	if len(data) > MaxCANData {
		return 0, nil, fmt.Errorf("CAN payload is %d bytes, max %d", len(data), MaxCANData)
	}
	return uint32(id), data, nil
}

// RptCommand parses /rpt MS TEXT, the explicit text-mode repeat syntax.
func RptCommand(arg string) (int, string, error) {
	msStr, text := splitFirst(strings.TrimSpace(arg))
	if msStr == "" || text == "" {
		return 0, "", errors.New("usage: /rpt MS TEXT")
	}
	ms, err := Interval(msStr)
	if err != nil {
		return 0, "", err
	}
	return ms, text, nil
}
