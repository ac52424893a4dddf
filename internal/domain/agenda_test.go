package domain

import (
	"testing"
	"time"
)

func TestEventVisibleOnExplicitDate(t *testing.T) {
	event := Event{Date: "2025-03-14", Day: "FRIDAY"}
	if !event.VisibleOn(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected event to be visible on its date")
	}
	if event.VisibleOn(time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("dated event must not recur on the same weekday")
	}
}

func TestEventVisibleOnRecurringWeekday(t *testing.T) {
	event := Event{Day: "MONDAY"}
	monday := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !event.VisibleOn(monday) || !event.VisibleOn(monday.AddDate(0, 0, 7)) {
		t.Fatalf("expected weekly event on every monday")
	}
	if event.VisibleOn(monday.AddDate(0, 0, 1)) {
		t.Fatalf("weekly monday event visible on tuesday")
	}
}

func TestEventVisibleOnAny(t *testing.T) {
	event := Event{Day: "SUNDAY"}
	start := time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC) // thursday
	window := []time.Time{start, start.AddDate(0, 0, 1), start.AddDate(0, 0, 2)}
	if event.VisibleOnAny(window) {
		t.Fatalf("sunday event should not be in a thu-sat window")
	}
	window = append(window, start.AddDate(0, 0, 3))
	if !event.VisibleOnAny(window) {
		t.Fatalf("sunday event should be in a thu-sun window")
	}
}

func TestParseWeekday(t *testing.T) {
	for _, name := range []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY", "SUNDAY"} {
		day, ok := ParseWeekday(name)
		if !ok || WeekdayName(day) != name {
			t.Fatalf("round trip failed for %s", name)
		}
	}
	for _, name := range []string{"", "LUNDI", "MON", "monday"} {
		if _, ok := ParseWeekday(name); ok {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}
