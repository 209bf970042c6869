package util

import (
	"testing"
	"time"
)

func TestSameUTCDay(t *testing.T) {
	a := time.Date(2024, 10, 10, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 10, 10, 0, 1, 0, 0, time.UTC)
	if !SameUTCDay(a, b) {
		t.Fatalf("expected same day")
	}
	c := time.Date(2024, 10, 11, 0, 0, 1, 0, time.UTC)
	if SameUTCDay(a, c) {
		t.Fatalf("expected different days")
	}
}

func TestSameUTCDayAcrossZones(t *testing.T) {
	// 23:30 UTC-3 is 02:30 UTC the next day
	loc := time.FixedZone("UTC-3", -3*3600)
	a := time.Date(2024, 10, 10, 23, 30, 0, 0, loc)
	b := time.Date(2024, 10, 11, 2, 0, 0, 0, time.UTC)
	if !SameUTCDay(a, b) {
		t.Fatalf("expected same UTC day")
	}
}

func TestNextUTCMidnight(t *testing.T) {
	a := time.Date(2024, 10, 10, 15, 4, 5, 0, time.UTC)
	got := NextUTCMidnight(a)
	want := time.Date(2024, 10, 11, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestUTCDayKey(t *testing.T) {
	a := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	if UTCDayKey(a) != "20240305" {
		t.Fatalf("unexpected key %s", UTCDayKey(a))
	}
}
