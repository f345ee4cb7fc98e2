package rtc

import (
	"sync"
	"time"
)

// Sim is a simulated RTC peripheral whose counter only moves when told to.
type Sim struct {
	mu      sync.Mutex
	ticks   uint64
	step    uint64
	reads   uint64
	alarm   Alarm
	armed   bool
	alarmAt uint64
	irq     func()
}

var _ Hardware = (*Sim)(nil)

// NewSim returns a simulated RTC showing start, truncated to the tick.
// start must lie between Epoch and the end of 2099.
func NewSim(start time.Time) *Sim {
	return &Sim{ticks: ticksAt(start.UTC())}
}

// SetStep makes the counter advance by n ticks at the start of every guarded
// calendar read, so busy-wait loops make progress. Zero disables stepping.
func (s *Sim) SetStep(n uint64) {
	s.mu.Lock()
	s.step = n
	s.reads = 0
	s.mu.Unlock()
}

// Advance moves the counter forward n ticks, raising the alarm interrupt if
// its match instant is reached.
func (s *Sim) Advance(n uint64) {
	s.mu.Lock()
	irq := s.advance(n)
	s.mu.Unlock()
	if irq != nil {
		irq()
	}
}

func (s *Sim) advance(n uint64) (irq func()) {
	s.ticks += n
	if s.armed && s.ticks >= s.alarmAt {
		s.armed = false
		irq = s.irq
	}
	return irq
}

// Set jumps the counter to tm without raising alarms.
func (s *Sim) Set(tm time.Time) {
	s.mu.Lock()
	s.ticks = ticksAt(tm.UTC())
	s.mu.Unlock()
}

// Ticks returns the counter in ticks since Epoch.
func (s *Sim) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Now returns the counter as a time.Time.
func (s *Sim) Now() time.Time {
	d, t := registersAt(s.Ticks())
	return makeCalendar(d, t).Time()
}

// Armed reports whether the hardware alarm is programmed and has not matched.
func (s *Sim) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// AlarmAt returns the tick at which the programmed alarm matches.
func (s *Sim) AlarmAt() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarmAt
}

// SubSeconds reads the sub-second register. Every other call, the first of a
// guarded pair, advances the counter by the configured step.
func (s *Sim) SubSeconds() uint32 {
	s.mu.Lock()
	var irq func()
	if s.step > 0 {
		if s.reads%2 == 0 {
			irq = s.advance(s.step)
		}
		s.reads++
	}
	_, t := registersAt(s.ticks)
	s.mu.Unlock()
	if irq != nil {
		irq()
	}
	return t.SubSeconds
}

func (s *Sim) Date() Date {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, _ := registersAt(s.ticks)
	return d
}

func (s *Sim) Time() Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, t := registersAt(s.ticks)
	return t
}

func (s *Sim) SetAlarm(a Alarm, irq func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarm = a
	s.irq = irq
	s.armed = true
	s.alarmAt = nextMatch(s.ticks, a)
}

func (s *Sim) StopAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.irq = nil
}

func (s *Sim) Alarm() Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarm
}
