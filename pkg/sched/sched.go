package sched

import (
	"fmt"
	"time"

	"github.com/roffe/canterm/pkg/parse"
)

// NumPresets is the number of named preset slots.
const NumPresets = 10

const numSlots = NumPresets + 1

// Slot identifies one repeat schedule: presets 1..10 or the single
// inline slot. Inline sorts after every preset so simultaneously-due
// slots fire in preset order with inline last.
type Slot int

const Inline Slot = NumPresets + 1

func Preset(n int) (Slot, error) {
	if n < 1 || n > NumPresets {
		return 0, fmt.Errorf("preset %d out of range 1-%d", n, NumPresets)
	}
	return Slot(n), nil
}

func (s Slot) String() string {
	if s == Inline {
		return "Inline"
	}
	return fmt.Sprintf("Preset %d", int(s))
}

func (s Slot) valid() bool {
	return (s >= 1 && s <= NumPresets) || s == Inline
}

// Entry is the armed state of one slot.
type Entry struct {
	Slot       Slot
	Payload    parse.Payload
	ID         uint32
	HasID      bool
	IntervalMS int
}

// SendFunc performs the actual transmission for a slot. The scheduler
// never retries; the result is surfaced to the caller per fire.
type SendFunc func(slot Slot, p parse.Payload, id uint32, hasID bool) error

// FireResult reports one transmission attempt of a due slot.
type FireResult struct {
	Entry
	Err error
}

type slotState struct {
	enabled  bool
	interval time.Duration
	nextFire time.Time
	payload  parse.Payload
	id       uint32
	hasID    bool
}

// Scheduler owns the 10 preset repeat slots and the single inline
// slot. It is driven by exactly one goroutine (the event loop), so no
// locking is needed.
type Scheduler struct {
	slots [numSlots]slotState
	send  SendFunc
	now   func() time.Time
}

func New(send SendFunc) *Scheduler {
	return &Scheduler{
		send: send,
		now:  time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Arm enables the slot and sends its payload once immediately so the
// user gets instant feedback; the send error (if any) is returned but
// the slot stays armed. Arming the inline slot unconditionally
// replaces whatever was there before.
func (s *Scheduler) Arm(e Entry) error {
	if !e.Slot.valid() {
		return fmt.Errorf("invalid slot %d", int(e.Slot))
	}
	if e.IntervalMS < parse.MinIntervalMS {
		return fmt.Errorf("interval %dms is below the %dms floor", e.IntervalMS, parse.MinIntervalMS)
	}
	st := &s.slots[index(e.Slot)]
	st.enabled = true
	st.interval = time.Duration(e.IntervalMS) * time.Millisecond
	st.nextFire = s.now().Add(st.interval)
	st.payload = e.Payload
	st.id = e.ID
	st.hasID = e.HasID
	return s.send(e.Slot, e.Payload, e.ID, e.HasID)
}

// Disarm disables the slot. Idempotent.
func (s *Scheduler) Disarm(slot Slot) {
	if !slot.valid() {
		return
	}
	s.slots[index(slot)].enabled = false
}

// DisarmAll disables every slot, presets and inline alike.
func (s *Scheduler) DisarmAll() {
	for i := range s.slots {
		s.slots[i].enabled = false
	}
}

// Enabled reports whether the slot is armed.
func (s *Scheduler) Enabled(slot Slot) bool {
	return slot.valid() && s.slots[index(slot)].enabled
}

// NextDeadline returns the time until the soonest enabled slot is due,
// clamped to zero, or false when nothing is armed.
func (s *Scheduler) NextDeadline(now time.Time) (time.Duration, bool) {
	var min time.Duration
	found := false
	for i := range s.slots {
		if !s.slots[i].enabled {
			continue
		}
		d := s.slots[i].nextFire.Sub(now)
		if d < 0 {
			d = 0
		}
		if !found || d < min {
			min = d
			found = true
		}
	}
	return min, found
}

// FireDue sends every enabled slot whose deadline has passed, in
// ascending slot order with inline last, and re-arms each from the
// firing instant. Late fires do not accumulate a backlog: one fire per
// slot per call, cadence resumes from now. One slot's failure does not
// block the others.
func (s *Scheduler) FireDue(now time.Time) []FireResult {
	var out []FireResult
	for i := range s.slots {
		st := &s.slots[i]
		if !st.enabled || st.nextFire.After(now) {
			continue
		}
		slot := slotAt(i)
		err := s.send(slot, st.payload, st.id, st.hasID)
		st.nextFire = now.Add(st.interval)
		out = append(out, FireResult{
			Entry: Entry{
				Slot:       slot,
				Payload:    st.payload,
				ID:         st.id,
				HasID:      st.hasID,
				IntervalMS: int(st.interval / time.Millisecond),
			},
			Err: err,
		})
	}
	return out
}

// Active returns the armed slots in firing order, for status displays.
func (s *Scheduler) Active() []Entry {
	var out []Entry
	for i := range s.slots {
		st := &s.slots[i]
		if !st.enabled {
			continue
		}
		out = append(out, Entry{
			Slot:       slotAt(i),
			Payload:    st.payload,
			ID:         st.id,
			HasID:      st.hasID,
			IntervalMS: int(st.interval / time.Millisecond),
		})
	}
	return out
}

func index(slot Slot) int {
	if slot == Inline {
		return numSlots - 1
	}
	return int(slot) - 1
}

func slotAt(i int) Slot {
	if i == numSlots-1 {
		return Inline
	}
	return Slot(i + 1)
}
