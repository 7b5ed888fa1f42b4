package filegdb

import (
	"math"
	"testing"
	"time"
)

func TestDaysToTime(t *testing.T) {
	tests := []struct {
		days float64
		want time.Time
	}{
		{0, time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)},
		{unixEpochDays, time.Unix(0, 0).UTC()},
		{unixEpochDays + 1.5, time.Date(1970, 1, 2, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := daysToTime(tt.days)
		if !ok || !got.Equal(tt.want) {
			t.Errorf("daysToTime(%v) = %v, %v, want %v", tt.days, got, ok, tt.want)
		}
	}
	for _, days := range []float64{math.NaN(), 1e9, -1e9} {
		if _, ok := daysToTime(days); ok {
			t.Errorf("daysToTime(%v) accepted", days)
		}
	}
}

func TestTimeToDaysWallClock(t *testing.T) {
	zone := time.FixedZone("+10", 10*3600)
	local := time.Date(2024, 3, 1, 9, 30, 0, 0, zone)
	got, ok := daysToTime(timeToDays(local))
	if !ok || !got.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("round trip = %v", got)
	}
}

func TestDayFraction(t *testing.T) {
	if d, ok := dayFraction(0.25); !ok || d != 6*time.Hour {
		t.Errorf("dayFraction(0.25) = %v, %v", d, ok)
	}
	for _, f := range []float64{-0.1, 1.5, math.NaN()} {
		if _, ok := dayFraction(f); ok {
			t.Errorf("dayFraction(%v) accepted", f)
		}
	}
}

func TestUTF16(t *testing.T) {
	b := encodeUTF16("Zürich")
	if len(b) != 12 {
		t.Fatalf("encoded %d bytes, want 12", len(b))
	}
	if got := decodeUTF16(append(b, 'x')); got != "Zürich" {
		t.Errorf("decode = %q", got)
	}
}
