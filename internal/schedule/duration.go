package schedule

import (
	"errors"
	"time"

	"prodline/internal/domain"
)

// ErrScheduleExhausted means the calendar walk hit its horizon without
// consuming the full duration. The legacy behavior silently added the
// leftover minutes, yielding an end time outside any work block; here it is
// a hard error and the caller aborts.
var ErrScheduleExhausted = errors.New("work calendar exhausted before duration was consumed")

const defaultHorizonDays = 365

// Calculator advances an instant across working time.
type Calculator struct {
	Resolver    Resolver
	HorizonDays int
}

// Advance returns the instant at which durationMinutes of working time,
// starting at start, has elapsed for the given worker. Non-working time
// (breaks, gaps between blocks, empty days, holidays) is skipped.
// Advance(t, 0, w) == t.
func (c Calculator) Advance(start time.Time, durationMinutes float64, w *domain.Worker) (time.Time, error) {
	if durationMinutes <= 0 {
		return start, nil
	}
	horizon := c.HorizonDays
	if horizon <= 0 {
		horizon = defaultHorizonDays
	}
	rem := time.Duration(durationMinutes * float64(time.Minute))
	cur := start
	for day := 0; day <= horizon; day++ {
		blocks := WorkBlocks(c.Resolver.Resolve(cur, w))
		midnight := startOfDay(cur)
		for _, b := range blocks {
			bs, _ := parseHM(b.Start)
			be, _ := parseHM(b.End)
			blockStart := midnight.Add(time.Duration(bs) * time.Minute)
			blockEnd := midnight.Add(time.Duration(be) * time.Minute)
			if cur.Before(blockStart) {
				cur = blockStart
			}
			if !cur.Before(blockEnd) {
				continue
			}
			span := blockEnd.Sub(cur)
			if rem <= span {
				return cur.Add(rem), nil
			}
			rem -= span
			cur = blockEnd
		}
		cur = midnight.AddDate(0, 0, 1)
	}
	return time.Time{}, ErrScheduleExhausted
}

// FitsInSingleBlock reports whether [start, start+durationMinutes) lies
// entirely inside one work block of the worker's calendar for start's date.
func (c Calculator) FitsInSingleBlock(start time.Time, durationMinutes float64, w *domain.Worker) bool {
	end := start.Add(time.Duration(durationMinutes * float64(time.Minute)))
	midnight := startOfDay(start)
	for _, b := range WorkBlocks(c.Resolver.Resolve(start, w)) {
		bs, _ := parseHM(b.Start)
		be, _ := parseHM(b.End)
		blockStart := midnight.Add(time.Duration(bs) * time.Minute)
		blockEnd := midnight.Add(time.Duration(be) * time.Minute)
		if !start.Before(blockStart) && !end.After(blockEnd) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
