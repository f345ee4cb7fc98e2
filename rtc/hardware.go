package rtc

// Hardware is the RTC peripheral. Reads are synchronous; the date and time
// registers may tick over between two reads, which Clock guards against by
// re-reading SubSeconds.
//
// SetAlarm programs the single alarm slot, replacing any previous alarm. irq
// is called from interrupt context (any goroutine) when the alarm matches. It
// may race with StopAlarm; Clock discards interrupts from cancelled alarms.
type Hardware interface {
	SubSeconds() uint32
	Date() Date
	Time() Time
	SetAlarm(a Alarm, irq func())
	StopAlarm()
	// Alarm returns the registers last programmed by SetAlarm.
	Alarm() Alarm
}
