package testfixtures

import (
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
	if clock.Now().Weekday() != time.Monday {
		t.Fatalf("expected the reference day to be a Monday, got %v", clock.Now().Weekday())
	}
}

func TestClockAtKeepsTheDay(t *testing.T) {
	clock := NewClock(time.Time{})
	want := time.Date(2030, time.March, 4, 17, 30, 0, 0, time.UTC)
	if got := clock.At(17, 30); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("At should not move the clock, now %v", clock.Now())
	}
}

func TestClockNextWorkdaySkipsWeekend(t *testing.T) {
	friday := time.Date(2030, time.March, 8, 16, 0, 0, 0, time.UTC)
	clock := NewClock(friday)

	got := clock.NextWorkday(9, 0)
	want := time.Date(2030, time.March, 11, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) || !clock.Now().Equal(want) {
		t.Fatalf("expected Monday %v, got %v (clock %v)", want, got, clock.Now())
	}
}

func TestClockAdvanceAndNowFunc(t *testing.T) {
	clock := NewClock(time.Time{})
	nowFn := clock.NowFunc()

	updated := clock.Advance(90 * time.Minute)
	if !updated.Equal(ReferenceTime().Add(90 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}
	if got := nowFn(); !got.Equal(updated) {
		t.Fatalf("expected NowFunc to follow the clock, got %v", got)
	}

	var missing *Clock
	if missing.NowFunc() == nil {
		t.Fatalf("expected a fallback time source for a nil clock")
	}
}
