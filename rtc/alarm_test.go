package rtc

import (
	"testing"
	"time"
)

func TestAlarmAfter(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		d       Date
		t       Time
		timeout uint32
		want    Alarm
	}{
		{
			desc:    "sub-second carry into minutes",
			d:       Date{Year: 24, Month: 6, Day: 10},
			t:       Time{Hours: 10, Minutes: 20, Seconds: 30, SubSeconds: PrediVS},
			timeout: 90*TicksPerSecond + 5,
			want:    Alarm{Day: 10, Hours: 10, Minutes: 22, Seconds: 0, SubSeconds: PrediVS - 5},
		},
		{
			desc:    "end of january wraps to first",
			d:       Date{Year: 24, Month: 1, Day: 31},
			t:       Time{Hours: 23, Minutes: 59, Seconds: 59, SubSeconds: PrediVS - 1000},
			timeout: 100,
			want:    Alarm{Day: 1, Hours: 0, Minutes: 0, Seconds: 0, SubSeconds: PrediVS - 76},
		},
		{
			desc:    "leap february keeps the 29th",
			d:       Date{Year: 24, Month: 2, Day: 28},
			t:       Time{Hours: 23, SubSeconds: PrediVS},
			timeout: 2 * 3600 * TicksPerSecond,
			want:    Alarm{Day: 29, Hours: 1, SubSeconds: PrediVS},
		},
		{
			desc:    "common february wraps the 29th",
			d:       Date{Year: 23, Month: 2, Day: 28},
			t:       Time{Hours: 23, SubSeconds: PrediVS},
			timeout: 2 * 3600 * TicksPerSecond,
			want:    Alarm{Day: 1, Hours: 1, SubSeconds: PrediVS},
		},
		{
			desc:    "whole days",
			d:       Date{Year: 24, Month: 4, Day: 3},
			t:       Time{Hours: 4, Minutes: 5, Seconds: 6, SubSeconds: 100},
			timeout: 3 * secondsInDay * TicksPerSecond,
			want:    Alarm{Day: 6, Hours: 4, Minutes: 5, Seconds: 6, SubSeconds: 100},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			got := alarmAfter(tc.d, tc.t, tc.timeout)
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestAlarmMatchesTarget(t *testing.T) {
	starts := []time.Time{
		date(2024, time.January, 31, 23, 59, 58),
		date(2024, time.February, 28, 22, 0, 0),
		date(2023, time.February, 28, 23, 59, 59),
		date(2023, time.December, 31, 23, 0, 0),
		date(2030, time.June, 15, 8, 30, 0),
	}
	timeouts := []uint32{MinAlarmDelay, 1023, 1024, 1025, 61 * TicksPerSecond, 3600*TicksPerSecond + 17, 2 * secondsInDay * TicksPerSecond}
	for _, start := range starts {
		for _, sub := range []uint64{0, 700} {
			now := ticksAt(start) + sub
			d, tt := registersAt(now)
			for _, timeout := range timeouts {
				a := alarmAfter(d, tt, timeout)
				if got, want := nextMatch(now, a), now+uint64(timeout); got != want {
					t.Errorf("%s+%d timeout=%d: alarm %+v matches at %d, want %d", start, sub, timeout, a, got, want)
				}
			}
		}
	}
}
