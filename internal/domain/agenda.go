package domain

import (
	"strings"
	"time"
)

// DateLayout is the calendar date format stored on agenda events.
const DateLayout = "2006-01-02"

// Agenda hours are whole hours of the visible day grid.
const (
	AgendaFirstHour = 8
	AgendaLastHour  = 20
)

// Event is an agenda entry. It is addressed either by an explicit Date or,
// when Date is empty, by a recurring weekday name in Day (MONDAY..SUNDAY).
type Event struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Date          string   `json:"date"`
	Day           string   `json:"day"`
	Hour          int      `json:"hour"`
	EndHour       int      `json:"endHour"`
	CreatedBy     string   `json:"createdBy"`
	CreatedByName string   `json:"createdByName"`
	CreatedAt     int64    `json:"createdAt"`
	Participants  []string `json:"participants"`
	IsMeeting     bool     `json:"isMeeting"`
	Room          string   `json:"room"`
	IsVisio       bool     `json:"isVisio"`
}

// VisibleOn reports whether the event shows on the given calendar date.
func (e Event) VisibleOn(date time.Time) bool {
	if e.Date != "" {
		return e.Date == date.Format(DateLayout)
	}
	return e.Day != "" && e.Day == WeekdayName(date.Weekday())
}

// VisibleOnAny reports whether the event shows on at least one of dates.
func (e Event) VisibleOnAny(dates []time.Time) bool {
	for _, d := range dates {
		if e.VisibleOn(d) {
			return true
		}
	}
	return false
}

// WeekdayName returns the upper-case English day name used in Event.Day.
func WeekdayName(day time.Weekday) string {
	return strings.ToUpper(day.String())
}

// ParseWeekday is the inverse of WeekdayName.
func ParseWeekday(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if WeekdayName(d) == name {
			return d, true
		}
	}
	return 0, false
}
