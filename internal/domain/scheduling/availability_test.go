package scheduling

import (
	"math"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

func at(h, m int) civil.Time { return civil.Time{Hour: h, Minute: m} }

func booked(start, end civil.Time) *Booking {
	return &Booking{
		ID:              uuid.New(),
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: minuteOfDay(end) - minuteOfDay(start),
		Status:          StatusScheduled,
	}
}

func contains(slots []civil.Time, t civil.Time) bool {
	for _, s := range slots {
		if s == t {
			return true
		}
	}
	return false
}

func TestOverlaps_HalfOpen(t *testing.T) {
	tests := []struct {
		name           string
		aS, aE, bS, bE int
		want           bool
	}{
		{"touching end", 540, 570, 570, 600, false},
		{"touching start", 570, 600, 540, 570, false},
		{"partial", 540, 570, 555, 585, true},
		{"contained", 540, 600, 550, 560, true},
		{"identical", 540, 570, 540, 570, true},
		{"disjoint", 480, 510, 600, 630, false},
	}
	for _, tt := range tests {
		if got := overlaps(tt.aS, tt.aE, tt.bS, tt.bE); got != tt.want {
			t.Errorf("%s: overlaps = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAvailableSlots_AdjacentIsFree(t *testing.T) {
	cal := DefaultCalendar()
	existing := []*Booking{booked(at(9, 0), at(9, 30))}

	free := AvailableSlots([]civil.Time{at(9, 30)}, existing, 30, cal)
	if !contains(free, at(9, 30)) {
		t.Error("09:30 should be available after a 09:00-09:30 booking")
	}
	free = AvailableSlots([]civil.Time{at(9, 15)}, existing, 30, cal)
	if contains(free, at(9, 15)) {
		t.Error("09:15 should overlap a 09:00-09:30 booking")
	}
}

func TestAvailableSlots_DurationMatters(t *testing.T) {
	cal := DefaultCalendar()
	existing := []*Booking{booked(at(10, 0), at(10, 30))}

	if free := AvailableSlots([]civil.Time{at(9, 30)}, existing, 30, cal); !contains(free, at(9, 30)) {
		t.Error("30m at 09:30 should end exactly when the 10:00 booking starts")
	}
	if free := AvailableSlots([]civil.Time{at(9, 30)}, existing, 90, cal); contains(free, at(9, 30)) {
		t.Error("90m at 09:30 should run into the 10:00 booking")
	}
}

func TestAvailableSlots_Closing(t *testing.T) {
	cal := DefaultCalendar()
	if free := AvailableSlots([]civil.Time{at(17, 30)}, nil, 60, cal); contains(free, at(17, 30)) {
		t.Error("60m at 17:30 should run past closing")
	}
	if free := AvailableSlots([]civil.Time{at(17, 30)}, nil, 30, cal); !contains(free, at(17, 30)) {
		t.Error("30m at 17:30 should end exactly at closing")
	}
}

func TestAvailableSlots_CancelledIgnored(t *testing.T) {
	cal := DefaultCalendar()
	b := booked(at(11, 0), at(12, 0))
	b.Status = StatusCancelled

	free := AvailableSlots(GenerateSlots(cal), []*Booking{b}, 60, cal)
	if !contains(free, at(11, 0)) {
		t.Error("cancelled booking should not block 11:00")
	}
}

func TestAvailableSlots_BeforeOpening(t *testing.T) {
	cal := DefaultCalendar()
	if free := AvailableSlots([]civil.Time{at(7, 30)}, nil, 30, cal); len(free) != 0 {
		t.Errorf("07:30 is before opening, got %v", free)
	}
}

func TestAvailableSlots_OrderAndSubset(t *testing.T) {
	cal := DefaultCalendar()
	candidates := GenerateSlots(cal)
	existing := []*Booking{booked(at(8, 30), at(9, 30)), booked(at(13, 0), at(14, 0))}

	free := AvailableSlots(candidates, existing, 30, cal)
	if len(free) != 16 {
		t.Fatalf("expected 16 free slots, got %d", len(free))
	}
	for i := 1; i < len(free); i++ {
		if minuteOfDay(free[i]) <= minuteOfDay(free[i-1]) {
			t.Fatalf("output out of order at %d", i)
		}
	}
	for _, s := range free {
		if !contains(candidates, s) {
			t.Errorf("slot %s not among candidates", FormatClock(s))
		}
	}
}

func TestAvailableSlots_NonPositiveDuration(t *testing.T) {
	free := AvailableSlots(GenerateSlots(DefaultCalendar()), nil, 0, DefaultCalendar())
	if free == nil || len(free) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", free)
	}
}

func TestAvailableSlots_DurationLongerThanDay(t *testing.T) {
	cal := DefaultCalendar()
	existing := []*Booking{booked(at(9, 0), at(9, 30))}
	for _, d := range []int{601, math.MaxInt, math.MaxInt - 100} {
		free := AvailableSlots(GenerateSlots(cal), existing, d, cal)
		if free == nil || len(free) != 0 {
			t.Errorf("duration %d: expected no slots, got %d", d, len(free))
		}
	}

	free := AvailableSlots(GenerateSlots(cal), nil, 600, cal)
	if len(free) != 1 || free[0] != at(8, 0) {
		t.Errorf("full-day appointment: expected only 08:00, got %v", free)
	}
}

func TestAvailableSlots_FullyBooked(t *testing.T) {
	cal := DefaultCalendar()
	existing := []*Booking{booked(at(8, 0), at(18, 0))}
	free := AvailableSlots(GenerateSlots(cal), existing, 30, cal)
	if free == nil || len(free) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", free)
	}
}
