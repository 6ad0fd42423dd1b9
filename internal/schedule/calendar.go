package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"prodline/internal/domain"
)

// DefaultLane is used for company-mode workers without a lane and for
// resolution without a worker.
const DefaultLane = "1"

// Week is the canonical default calendar: blocks per weekday (0=Sunday) per
// shift lane. All legacy on-disk shapes normalize into this once, at import
// or load time, so the scheduling hot path never inspects shapes.
type Week [7]map[string][]domain.Block

// Lanes lists the lanes configured anywhere in the week.
func (w Week) Lanes() []string {
	seen := map[string]bool{}
	var lanes []string
	for _, day := range w {
		for lane := range day {
			if !seen[lane] {
				seen[lane] = true
				lanes = append(lanes, lane)
			}
		}
	}
	sort.Strings(lanes)
	return lanes
}

func (w Week) blocks(weekday int, lane string) []domain.Block {
	if weekday < 0 || weekday > 6 || w[weekday] == nil {
		return nil
	}
	return w[weekday][lane]
}

// shiftEntry is one element of the legacy shift-array calendar shape.
type shiftEntry struct {
	Lane    json.RawMessage `json:"lane"`
	Shift   json.RawMessage `json:"shift"`
	Weekday json.RawMessage `json:"weekday"`
	Day     json.RawMessage `json:"day"`
	Blocks  []domain.Block  `json:"blocks"`
}

// ParseCalendar normalizes a default-calendar document into a Week. Three
// legacy shapes are accepted:
//
//   - shift-array: [{"lane":"1","weekday":"mon","blocks":[...]}, ...]
//   - per-day-key: {"mon":[...], "tue":[...]} or {"days":{...}} (lane "1")
//   - per-lane:    {"lanes":{"1":{"mon":[...]}, "2":{...}}}
func ParseCalendar(raw []byte) (Week, error) {
	var week Week
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return week, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var entries []shiftEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return week, fmt.Errorf("parse shift-array calendar: %w", err)
		}
		for i, e := range entries {
			lane := rawString(e.Lane)
			if lane == "" {
				lane = rawString(e.Shift)
			}
			if lane == "" {
				lane = DefaultLane
			}
			dayRaw := e.Weekday
			if dayRaw == nil {
				dayRaw = e.Day
			}
			wd, ok := parseWeekday(rawString(dayRaw))
			if !ok {
				return week, fmt.Errorf("calendar entry %d: unknown weekday %s", i, rawString(dayRaw))
			}
			if err := week.set(wd, lane, e.Blocks); err != nil {
				return week, fmt.Errorf("calendar entry %d: %w", i, err)
			}
		}
		return week, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return week, fmt.Errorf("parse calendar: %w", err)
	}
	if lanesRaw, ok := obj["lanes"]; ok {
		var lanes map[string]map[string][]domain.Block
		if err := json.Unmarshal(lanesRaw, &lanes); err != nil {
			return week, fmt.Errorf("parse per-lane calendar: %w", err)
		}
		for lane, days := range lanes {
			for dayKey, blocks := range days {
				wd, ok := parseWeekday(dayKey)
				if !ok {
					return week, fmt.Errorf("lane %s: unknown weekday %s", lane, dayKey)
				}
				if err := week.set(wd, lane, blocks); err != nil {
					return week, fmt.Errorf("lane %s %s: %w", lane, dayKey, err)
				}
			}
		}
		return week, nil
	}
	days := obj
	if daysRaw, ok := obj["days"]; ok {
		days = map[string]json.RawMessage{}
		if err := json.Unmarshal(daysRaw, &days); err != nil {
			return week, fmt.Errorf("parse per-day calendar: %w", err)
		}
	}
	for dayKey, blocksRaw := range days {
		wd, ok := parseWeekday(dayKey)
		if !ok {
			return week, fmt.Errorf("unknown weekday key %s", dayKey)
		}
		var blocks []domain.Block
		if err := json.Unmarshal(blocksRaw, &blocks); err != nil {
			return week, fmt.Errorf("weekday %s: %w", dayKey, err)
		}
		if err := week.set(wd, DefaultLane, blocks); err != nil {
			return week, fmt.Errorf("weekday %s: %w", dayKey, err)
		}
	}
	return week, nil
}

func (w *Week) set(weekday int, lane string, blocks []domain.Block) error {
	normalized, err := NormalizeBlocks(blocks)
	if err != nil {
		return err
	}
	if w[weekday] == nil {
		w[weekday] = map[string][]domain.Block{}
	}
	w[weekday][lane] = normalized
	return nil
}

// NormalizeBlocks validates block bounds, defaults kind to work and sorts by
// start time.
func NormalizeBlocks(blocks []domain.Block) ([]domain.Block, error) {
	out := make([]domain.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Kind == "" {
			b.Kind = "work"
		}
		if b.Kind != "work" && b.Kind != "break" {
			return nil, fmt.Errorf("unknown block kind %q", b.Kind)
		}
		s, err := parseHM(b.Start)
		if err != nil {
			return nil, err
		}
		e, err := parseHM(b.End)
		if err != nil {
			return nil, err
		}
		if e <= s {
			return nil, fmt.Errorf("block %s-%s ends before it starts", b.Start, b.End)
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, _ := parseHM(out[i].Start)
		sj, _ := parseHM(out[j].Start)
		return si < sj
	})
	return out, nil
}

func rawString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.Itoa(int(n))
	}
	return ""
}

var weekdayNames = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tues": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thur": 4, "thurs": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

func parseWeekday(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 0 && n <= 6 {
			return n, true
		}
		return 0, false
	}
	wd, ok := weekdayNames[s]
	return wd, ok
}

// parseHM converts "HH:MM" to minutes since midnight. "24:00" is accepted as
// the end-of-day bound some legacy calendars use for their last block.
func parseHM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("invalid time %q, day ends at 24:00", s)
	}
	return h*60 + m, nil
}

// Resolver produces the working blocks applying for a date and worker.
type Resolver struct {
	Week     Week
	Holidays []domain.Holiday
}

// Resolve returns the calendar blocks for date. Holiday overrides win; then
// the worker's personal weekly schedule; then the company default calendar's
// shift lane. A nil worker resolves against lane "1".
func (r Resolver) Resolve(date time.Time, w *domain.Worker) []domain.Block {
	if h, ok := r.holidayFor(date); ok {
		if !h.IsWorkingDay {
			return nil
		}
		if len(h.Blocks) > 0 {
			normalized, err := NormalizeBlocks(h.Blocks)
			if err == nil {
				return normalized
			}
		}
		// Working holiday without custom hours falls through to the
		// regular calendar.
	}
	weekday := int(date.Weekday())
	if w != nil && w.ScheduleMode == domain.SchedulePersonal {
		for _, d := range w.PersonalBlocks {
			if d.Weekday == weekday {
				normalized, err := NormalizeBlocks(d.Blocks)
				if err != nil {
					return nil
				}
				return normalized
			}
		}
		return nil
	}
	lane := DefaultLane
	if w != nil && w.ShiftLane != "" {
		lane = w.ShiftLane
	}
	return r.Week.blocks(weekday, lane)
}

func (r Resolver) holidayFor(date time.Time) (domain.Holiday, bool) {
	day := civilDate(date)
	for _, h := range r.Holidays {
		if !day.Before(civilDate(h.From)) && !day.After(civilDate(h.To)) {
			return h, true
		}
	}
	return domain.Holiday{}, false
}

// WorkBlocks filters blocks down to kind "work".
func WorkBlocks(blocks []domain.Block) []domain.Block {
	var out []domain.Block
	for _, b := range blocks {
		if b.Kind == "work" {
			out = append(out, b)
		}
	}
	return out
}

// HasAnyWorkBlock reports whether the worker has any configured work block
// at all in their weekly schedule.
func (r Resolver) HasAnyWorkBlock(w *domain.Worker) bool {
	if w != nil && w.ScheduleMode == domain.SchedulePersonal {
		for _, d := range w.PersonalBlocks {
			if len(WorkBlocks(d.Blocks)) > 0 {
				return true
			}
		}
		return false
	}
	lane := DefaultLane
	if w != nil && w.ShiftLane != "" {
		lane = w.ShiftLane
	}
	for wd := 0; wd < 7; wd++ {
		if len(WorkBlocks(r.Week.blocks(wd, lane))) > 0 {
			return true
		}
	}
	return false
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
