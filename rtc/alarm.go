package rtc

import "time"

// Alarm holds the alarm registers. Day is matched against the day of the
// month; SubSeconds uses the same down-counting convention as Time.
type Alarm struct {
	Day        uint8
	Hours      uint8
	Minutes    uint8
	Seconds    uint8
	SubSeconds uint32
}

// alarmAfter computes the alarm registers for the instant timeout ticks after
// the given date and time, carrying sub-seconds into seconds, minutes, hours
// and days. Days past the end of the month wrap around by modulo.
func alarmAfter(d Date, t Time, timeout uint32) Alarm {
	subSeconds := (PrediVS - t.SubSeconds) + (timeout & PrediVS)
	timeout >>= SubSecondBits

	days := uint32(d.Day) + timeout/secondsInDay
	timeout %= secondsInDay

	hours := uint32(t.Hours) + timeout/secondsInHour
	timeout %= secondsInHour

	minutes := uint32(t.Minutes) + timeout/secondsInMinute
	timeout %= secondsInMinute

	seconds := uint32(t.Seconds) + timeout

	seconds += subSeconds / (PrediVS + 1)
	subSeconds %= PrediVS + 1

	minutes += seconds / secondsInMinute
	seconds %= secondsInMinute

	hours += minutes / minutesInHour
	minutes %= minutesInHour

	days += hours / hoursInDay
	hours %= hoursInDay

	if dim := uint32(monthLength(d)); days > dim {
		days %= dim
		if days == 0 {
			days = dim
		}
	}

	return Alarm{
		Day:        uint8(days),
		Hours:      uint8(hours),
		Minutes:    uint8(minutes),
		Seconds:    uint8(seconds),
		SubSeconds: PrediVS - subSeconds,
	}
}

// dayTicks is the position of a day-of-month and time of day in ticks,
// the basis the alarm registers can be compared on.
func dayTicks(day, hours, minutes, seconds uint8, subSeconds uint32) uint32 {
	s := uint32(seconds) + secondsInMinute*(uint32(minutes)+minutesInHour*(uint32(hours)+hoursInDay*uint32(day)))
	return s<<SubSecondBits + (PrediVS - subSeconds)
}

// nextMatch returns the first tick strictly after now at which a hardware
// calendar running from Epoch matches the alarm registers.
func nextMatch(now uint64, a Alarm) uint64 {
	d, _ := registersAt(now)
	year, month := 2000+int(d.Year), time.Month(d.Month)
	for i := 0; i < 3; i++ {
		cand := time.Date(year, month+time.Month(i), int(a.Day), int(a.Hours), int(a.Minutes), int(a.Seconds), 0, time.UTC)
		ticks := ticksAt(cand) + uint64(PrediVS-a.SubSeconds)
		if ticks > now {
			return ticks
		}
	}
	// Unreachable for registers produced by alarmAfter.
	return now + 1
}
