/*
Package rtc implements the tick and calendar engine of a real-time clock with
a 10 bit sub-second counter.

The clock exposes a flat tick count derived from the calendar registers,
conversions between ticks and milliseconds, a timer context for measuring
elapsed time, and a single alarm slot.

# Interrupts

Hardware alarm interrupts only set a flag owned by the alarm that fired. The
alarm handler registered with OnAlarm runs from Process, which the owner calls
from its main loop. Cancelling an alarm with StopAlarm or replacing it with SetAlarm
guarantees the handler of the cancelled alarm never runs.
*/
package rtc

import "sync/atomic"

// Clock is not safe for concurrent use except for the interrupt callback it
// hands to Hardware.SetAlarm.
type Clock struct {
	hw   Hardware
	rate Rate

	ref       uint32
	rollovers uint32

	armed     bool
	immediate bool
	target    uint64
	fired     *atomic.Bool // owned by the armed alarm, nil when none
	onAlarm   func()

	wakeUpCalibrated bool
	wakeUpTime       int16
}

// New returns a Clock reading hw and converting milliseconds with rate.
func New(hw Hardware, rate Rate) *Clock {
	return &Clock{hw: hw, rate: rate}
}

// OnAlarm registers the function Process calls when the alarm fires.
func (c *Clock) OnAlarm(fn func()) { c.onAlarm = fn }

// Rate returns the conversion table in use.
func (c *Clock) Rate() Rate { return c.rate }

func (c *Clock) MsToTicks(ms uint32) uint32 { return c.rate.MsToTicks(ms) }

func (c *Clock) TicksToMs(ticks uint32) uint32 { return c.rate.TicksToMs(ticks) }

// MinimumTimeout returns the shortest timeout in ticks armed in hardware.
func (c *Clock) MinimumTimeout() uint32 { return MinAlarmDelay }

// read returns a consistent snapshot of the calendar registers. The sub-second
// register is sampled before and after the date and time reads; a change means
// the registers ticked over in between and the read is repeated.
func (c *Clock) read() (Date, Time) {
	for {
		first := c.hw.SubSeconds()
		d := c.hw.Date()
		t := c.hw.Time()
		if first == c.hw.SubSeconds() {
			return d, t
		}
	}
}

// CalendarValue returns the current time in ticks since Epoch.
func (c *Clock) CalendarValue() uint64 {
	d, t := c.read()
	return calendarValue(d, t)
}

// Calendar returns the current wall-clock reading.
func (c *Clock) Calendar() Calendar {
	d, t := c.read()
	return makeCalendar(d, t)
}

// CalendarTime returns the current time split into whole seconds since Epoch
// and the milliseconds within that second.
func (c *Clock) CalendarTime() (seconds uint32, ms uint16) {
	v := c.CalendarValue()
	seconds = uint32(v >> SubSecondBits)
	ms = uint16(c.TicksToMs(uint32(v) & PrediVS))
	return seconds, ms
}

// TimerValue returns the low 32 bits of the calendar value.
func (c *Clock) TimerValue() uint32 { return uint32(c.CalendarValue()) }

// SetTimerContext captures the current tick count as the reference for
// ElapsedSinceContext and returns it.
func (c *Clock) SetTimerContext() uint32 {
	now := c.TimerValue()
	if now < c.ref {
		c.rollovers++
	}
	c.ref = now
	return now
}

// TimerContext returns the reference captured by the last SetTimerContext.
func (c *Clock) TimerContext() uint32 { return c.ref }

// Rollovers returns how many times SetTimerContext observed the 32 bit tick
// counter wrap.
func (c *Clock) Rollovers() uint32 { return c.rollovers }

// ElapsedSinceContext returns the ticks elapsed since the timer context. The
// unsigned subtraction stays correct across one counter wrap.
func (c *Clock) ElapsedSinceContext() uint32 {
	return c.TimerValue() - c.ref
}

// DelayMs busy-waits for ms milliseconds, re-reading the counter on every
// iteration. It never sleeps or yields and leaves the timer context untouched.
func (c *Clock) DelayMs(ms uint32) {
	ref := c.TimerValue()
	delay := c.MsToTicks(ms)
	for c.TimerValue()-ref < delay {
	}
}

// SetAlarm cancels any pending alarm and arms a new one timeout ticks from
// now, less the calibrated wake-up latency. Timeouts that end up below
// MinAlarmDelay are not programmed into hardware: the alarm is marked as fired
// and runs on the next Process call.
func (c *Clock) SetAlarm(timeout uint32) {
	c.StopAlarm()
	if c.wakeUpTime > 0 {
		if cal := uint32(c.wakeUpTime); timeout > cal {
			timeout -= cal
		} else {
			timeout = 0
		}
	}
	fired := new(atomic.Bool)
	c.fired = fired
	c.armed = true

	if timeout < MinAlarmDelay {
		c.immediate = true
		c.target = c.CalendarValue()
		fired.Store(true)
		return
	}
	d, t := c.read()
	c.target = calendarValue(d, t) + uint64(timeout)
	c.hw.SetAlarm(alarmAfter(d, t, timeout), func() { fired.Store(true) })
}

// StopAlarm cancels the pending alarm, if any.
func (c *Clock) StopAlarm() {
	if c.armed && !c.immediate {
		c.hw.StopAlarm()
	}
	c.armed = false
	c.immediate = false
	c.fired = nil
}

// AlarmPending reports whether an alarm is armed and has not been processed.
func (c *Clock) AlarmPending() bool { return c.armed }

// AlarmTarget returns the calendar value at which the pending alarm is due.
func (c *Clock) AlarmTarget() (target uint64, ok bool) { return c.target, c.armed }

// Process consumes a fired alarm: on the first hardware alarm it calibrates
// the wake-up latency, then it calls the OnAlarm handler. It reports whether
// an alarm was consumed.
func (c *Clock) Process() bool {
	if !c.armed || !c.fired.Swap(false) {
		return false
	}
	if !c.immediate {
		c.calibrateWakeUp()
	}
	c.armed = false
	c.immediate = false
	c.fired = nil
	if c.onAlarm != nil {
		c.onAlarm()
	}
	return true
}

// calibrateWakeUp measures, once, how late the first alarm was serviced
// relative to the programmed alarm registers.
func (c *Clock) calibrateWakeUp() {
	if c.wakeUpCalibrated {
		return
	}
	c.wakeUpCalibrated = true
	d, t := c.read()
	a := c.hw.Alarm()
	now := dayTicks(d.Day, t.Hours, t.Minutes, t.Seconds, t.SubSeconds)
	hit := dayTicks(a.Day, a.Hours, a.Minutes, a.Seconds, a.SubSeconds)
	c.wakeUpTime += int16(now - hit)
}

// McuWakeUpTime returns the calibrated wake-up latency in ticks, zero until the
// first hardware alarm has been processed. SetAlarm subtracts it from every
// later timeout.
func (c *Clock) McuWakeUpTime() int16 { return c.wakeUpTime }
