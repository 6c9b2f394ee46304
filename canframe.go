package canterm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const (
	// MaxFrameData is the classical CAN payload limit.
	MaxFrameData = 8

	maxExtID = 0x1FFFFFFF
)

var ErrInvalidID = errors.New("CAN identifier exceeds the 29-bit limit")

// CANFrame is a single classical CAN message. Only the identifier and
// data bytes are ever set by this program; extended- and error-frame
// flags are left to the transport.
type CANFrame struct {
	Identifier uint32
	Data       []byte
}

// NewFrame creates a new CANFrame and copies the data slice
func NewFrame(identifier uint32, data []byte) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Identifier: identifier,
		Data:       d,
	}
}

// Returns the length of the data (DLC)
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

// Validate gates every CAN-capable adapter's SendFrame: identifiers
// above the 29-bit limit would spill into the EFF/RTR/ERR flag bits on
// the wire.
func (f *CANFrame) Validate() error {
	if len(f.Data) > MaxFrameData {
		return ErrFrameTooLong
	}
	if f.Identifier > maxExtID {
		return ErrInvalidID
	}
	return nil
}

var (
	yellow = color.New(color.FgYellow).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("ID:0x%03X DLC:%d", f.Identifier, len(f.Data)))
	if len(f.Data) > 0 {
		out.WriteString(" ||")
		for _, b := range f.Data {
			out.WriteString(fmt.Sprintf(" %02X", b))
		}
		out.WriteString(" || ")
		out.WriteString(onlyPrintable(f.Data))
	}
	return out.String()
}

func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(green("ID:0x%03X", f.Identifier))
	out.WriteString(fmt.Sprintf(" DLC:%d", len(f.Data)))
	if len(f.Data) > 0 {
		out.WriteString(" ||")
		for _, b := range f.Data {
			out.WriteString(fmt.Sprintf(" %02X", b))
		}
		out.WriteString(" || ")
		out.WriteString(yellow(onlyPrintable(f.Data)))
	}
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 127 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}

// Received is one unit of inbound traffic: a chunk of serial bytes or a
// single CAN frame. Frame is nil for serial chunks.
type Received struct {
	Frame *CANFrame
	Data  []byte
}

func (r *Received) String() string {
	if r.Frame != nil {
		return r.Frame.String()
	}
	var out strings.Builder
	out.WriteString(fmt.Sprintf("%d bytes:", len(r.Data)))
	for _, b := range r.Data {
		out.WriteString(fmt.Sprintf(" 0x%02X", b))
	}
	return out.String()
}
