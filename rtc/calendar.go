package rtc

import "time"

const (
	// SubSecondBits is the width of the sub-second field of a calendar value.
	SubSecondBits = 10
	// PrediVS is the reload value of the down-counting sub-second register.
	PrediVS = 1<<SubSecondBits - 1
	// TicksPerSecond is the calendar tick rate.
	TicksPerSecond = 1 << SubSecondBits
	// MinAlarmDelay is the shortest timeout, in ticks, that is armed in hardware.
	MinAlarmDelay = 3
)

const (
	daysInLeapYear  = 366
	daysInYear      = 365
	secondsInDay    = 86400
	secondsInHour   = 3600
	secondsInMinute = 60
	minutesInHour   = 60
	hoursInDay      = 24

	// Two bits per month: how many days short of an alternating 31/30 month
	// sequence the calendar is at the start of that month.
	monthCorrectionNorm = 0x99AAA0
	monthCorrectionLeap = 0x445550
)

// Epoch is the instant at which the calendar value is zero. The hardware
// year register holds years since 2000.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

var (
	daysInMonth     = [12]uint8{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	daysInMonthLeap = [12]uint8{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
)

// Date is the RTC date register. Year counts from 2000.
type Date struct {
	Year  uint8
	Month uint8 // 1..12
	Day   uint8 // 1..31
}

// Time is the RTC time register. SubSeconds is the down-counter, PrediVS
// right after a second boundary and 0 just before the next one.
type Time struct {
	Hours      uint8
	Minutes    uint8
	Seconds    uint8
	SubSeconds uint32
}

// Calendar is the wall-clock view of the RTC.
type Calendar struct {
	Year           uint16
	Month          uint8
	Day            uint8
	Hour           uint8
	Minute         uint8
	Second         uint8
	SubSecondTicks uint32
}

// Time returns the calendar as a UTC time.Time, sub-second ticks rounded down
// to the nanosecond.
func (c Calendar) Time() time.Time {
	ns := int(uint64(c.SubSecondTicks) * uint64(time.Second) / TicksPerSecond)
	return time.Date(int(c.Year), time.Month(c.Month), int(c.Day), int(c.Hour), int(c.Minute), int(c.Second), ns, time.UTC)
}

func makeCalendar(d Date, t Time) Calendar {
	return Calendar{
		Year:           2000 + uint16(d.Year),
		Month:          d.Month,
		Day:            d.Day,
		Hour:           t.Hours,
		Minute:         t.Minutes,
		Second:         t.Seconds,
		SubSecondTicks: PrediVS - t.SubSeconds,
	}
}

func isLeap(year uint8) bool { return year%4 == 0 }

func monthLength(d Date) uint8 {
	if isLeap(d.Year) {
		return daysInMonthLeap[d.Month-1]
	}
	return daysInMonth[d.Month-1]
}

// divCeil returns ceil(x/n).
func divCeil(x, n uint32) uint32 { return (x + n - 1) / n }

// calendarValue flattens the date and time registers into ticks since Epoch.
// The year register tops out at 99 so the day count times 86400 stays below 2^32.
func calendarValue(d Date, t Time) uint64 {
	days := divCeil((daysInYear*3+daysInLeapYear)*uint32(d.Year), 4)

	correction := uint32(monthCorrectionNorm)
	if isLeap(d.Year) {
		correction = monthCorrectionLeap
	}
	month := uint32(d.Month) - 1
	days += divCeil(month*(30+31), 2) - ((correction >> (month * 2)) & 0x03)
	days += uint32(d.Day) - 1

	seconds := days * secondsInDay
	seconds += uint32(t.Seconds) +
		uint32(t.Minutes)*secondsInMinute +
		uint32(t.Hours)*secondsInHour

	return uint64(seconds)<<SubSecondBits + uint64(PrediVS-t.SubSeconds)
}

// registersAt returns the date and time registers a hardware RTC shows
// ticks after Epoch.
func registersAt(ticks uint64) (Date, Time) {
	tm := Epoch.Add(time.Duration(ticks>>SubSecondBits) * time.Second)
	return Date{
			Year:  uint8(tm.Year() - 2000),
			Month: uint8(tm.Month()),
			Day:   uint8(tm.Day()),
		}, Time{
			Hours:      uint8(tm.Hour()),
			Minutes:    uint8(tm.Minute()),
			Seconds:    uint8(tm.Second()),
			SubSeconds: PrediVS - uint32(ticks&PrediVS),
		}
}

// ticksAt converts a time.Time into ticks since Epoch, truncating the
// sub-second part to the tick.
func ticksAt(tm time.Time) uint64 {
	d := tm.Sub(Epoch)
	sec := uint64(d / time.Second)
	sub := uint64(d%time.Second) * TicksPerSecond / uint64(time.Second)
	return sec<<SubSecondBits + sub
}
