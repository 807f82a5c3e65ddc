package scheduler

import (
	"fmt"
	"time"

	"radio-recorder-backend/internal/model"
)

// Occurrence is one concrete, dated instantiation of a reservation's
// recurrence rule.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Occurrences expands a reservation's recurrence rule into the ordered
// occurrence windows whose start falls inside [from, to]. Each occurrence
// keeps the template's time-of-day and duration. Deterministic, no I/O.
func Occurrences(resv model.Reservation, from, to time.Time) ([]Occurrence, error) {
	if to.Before(from) {
		return nil, nil
	}
	duration := resv.Duration()

	if resv.RepeatType == model.RepeatNone || resv.RepeatType == "" {
		start := resv.StartTime
		if start.Before(from) || start.After(to) {
			return nil, nil
		}
		return []Occurrence{{Start: start, End: start.Add(duration)}}, nil
	}

	allowed, err := allowedWeekdays(resv)
	if err != nil {
		return nil, err
	}

	loc := resv.StartTime.Location()
	hour, minute := resv.StartTime.In(loc).Hour(), resv.StartTime.In(loc).Minute()

	var out []Occurrence
	fromLocal := from.In(loc)
	day := time.Date(fromLocal.Year(), fromLocal.Month(), fromLocal.Day(), 0, 0, 0, 0, loc)
	for !day.After(to.In(loc)) {
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		day = day.AddDate(0, 0, 1)
		if candidate.Before(from) || candidate.After(to) {
			continue
		}
		if !allowed[candidate.Weekday()] {
			continue
		}
		out = append(out, Occurrence{Start: candidate, End: candidate.Add(duration)})
	}
	return out, nil
}

func allowedWeekdays(resv model.Reservation) (map[time.Weekday]bool, error) {
	switch resv.RepeatType {
	case model.RepeatDaily:
		return map[time.Weekday]bool{
			time.Sunday: true, time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true, time.Saturday: true,
		}, nil
	case model.RepeatWeekdays:
		return map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		}, nil
	case model.RepeatWeekly:
		return resv.Weekdays()
	}
	return nil, fmt.Errorf("unknown repeat type %q", resv.RepeatType)
}
