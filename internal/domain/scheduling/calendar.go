package scheduling

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// OperatingCalendar defines the clinic's bookable grid for a day.
type OperatingCalendar struct {
	OpenTime               civil.Time `json:"open_time"`
	CloseTime              civil.Time `json:"close_time"`
	SlotGranularityMinutes int        `json:"slot_granularity_minutes"`
}

// DefaultCalendar returns 08:00-18:00 in 30 minute steps.
func DefaultCalendar() OperatingCalendar {
	return OperatingCalendar{
		OpenTime:               civil.Time{Hour: 8},
		CloseTime:              civil.Time{Hour: 18},
		SlotGranularityMinutes: 30,
	}
}

// Validate checks that the calendar describes a non-empty day.
func (c OperatingCalendar) Validate() error {
	if !c.OpenTime.IsValid() || !c.CloseTime.IsValid() {
		return fmt.Errorf("open_time and close_time must be valid clock times")
	}
	if minuteOfDay(c.OpenTime) >= minuteOfDay(c.CloseTime) {
		return fmt.Errorf("open_time %s must be before close_time %s", FormatClock(c.OpenTime), FormatClock(c.CloseTime))
	}
	if c.SlotGranularityMinutes <= 0 {
		return fmt.Errorf("slot granularity must be positive, got %d", c.SlotGranularityMinutes)
	}
	return nil
}

func (c OperatingCalendar) openMinute() int  { return minuteOfDay(c.OpenTime) }
func (c OperatingCalendar) closeMinute() int { return minuteOfDay(c.CloseTime) }
func (c OperatingCalendar) dayMinutes() int  { return c.closeMinute() - c.openMinute() }

// GenerateSlots returns every slot start from OpenTime (inclusive) to
// CloseTime (exclusive) stepping by the granularity. Whether an appointment
// starting at a slot actually fits before closing is decided by
// AvailableSlots. An invalid calendar yields no slots.
func GenerateSlots(cal OperatingCalendar) []civil.Time {
	if err := cal.Validate(); err != nil {
		return nil
	}
	open, closeAt := cal.openMinute(), cal.closeMinute()
	slots := make([]civil.Time, 0, (closeAt-open+cal.SlotGranularityMinutes-1)/cal.SlotGranularityMinutes)
	for m := open; m < closeAt; m += cal.SlotGranularityMinutes {
		slots = append(slots, clockAt(m))
	}
	return slots
}

// minuteOfDay ignores seconds; the scheduling grid has minute resolution.
func minuteOfDay(t civil.Time) int { return t.Hour*60 + t.Minute }

func clockAt(m int) civil.Time { return civil.Time{Hour: m / 60, Minute: m % 60} }

// ParseClock accepts "15:04" or "15:04:05".
func ParseClock(s string) (civil.Time, error) {
	s = strings.TrimSpace(s)
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return civil.Time{}, fmt.Errorf("invalid clock time %q: expected HH:MM", s)
	}
	return civil.TimeOf(t), nil
}

// FormatClock renders t as HH:MM.
func FormatClock(t civil.Time) string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}
