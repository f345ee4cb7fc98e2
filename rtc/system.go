package rtc

import (
	"sync"
	"time"
)

// System is an RTC backed by the host wall clock in UTC. Its alarm runs on a
// time.Timer.
type System struct {
	mu    sync.Mutex
	now   func() time.Time
	alarm Alarm
	timer *time.Timer
}

var _ Hardware = (*System)(nil)

func NewSystem() *System {
	return &System{now: time.Now}
}

func (s *System) ticks() uint64 { return ticksAt(s.now().UTC()) }

func (s *System) SubSeconds() uint32 {
	_, t := registersAt(s.ticks())
	return t.SubSeconds
}

func (s *System) Date() Date {
	d, _ := registersAt(s.ticks())
	return d
}

func (s *System) Time() Time {
	_, t := registersAt(s.ticks())
	return t
}

func (s *System) SetAlarm(a Alarm, irq func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	now := s.ticks()
	wait := nextMatch(now, a) - now
	s.alarm = a
	s.timer = time.AfterFunc(time.Duration(wait*uint64(time.Second)/TicksPerSecond), irq)
}

func (s *System) StopAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *System) Alarm() Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarm
}
