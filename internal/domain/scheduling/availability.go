package scheduling

import (
	"cloud.google.com/go/civil"
)

// overlaps is the half-open interval test: [aStart, aEnd) and [bStart, bEnd)
// overlap iff aStart < bEnd && bStart < aEnd. Touching endpoints do not.
func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// firstConflict returns the first occupying booking that overlaps
// [start, end), or nil.
func firstConflict(start, end int, existing []*Booking) *Booking {
	for _, b := range existing {
		if b == nil || !b.Occupies() {
			continue
		}
		if overlaps(start, end, b.startMinute(), b.endMinute()) {
			return b
		}
	}
	return nil
}

// AvailableSlots filters candidates down to the starts at which an
// appointment of durationMinutes fits inside the calendar and overlaps none
// of the existing bookings. Output keeps the order of candidates. Cancelled
// bookings in existing are ignored.
func AvailableSlots(candidates []civil.Time, existing []*Booking, durationMinutes int, cal OperatingCalendar) []civil.Time {
	out := make([]civil.Time, 0, len(candidates))
	if durationMinutes <= 0 || durationMinutes > cal.dayMinutes() {
		return out
	}
	open, closeAt := cal.openMinute(), cal.closeMinute()
	for _, c := range candidates {
		start := minuteOfDay(c)
		end := start + durationMinutes
		if start < open || end > closeAt {
			continue
		}
		if firstConflict(start, end, existing) != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
