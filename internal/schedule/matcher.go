package schedule

import (
	"fmt"
	"strings"
	"time"

	"prodline/internal/domain"
)

// Entry is one booked interval on a worker or substation within the launch
// being built. Persisted assignments are the durable source of truth; these
// exist so later nodes see bookings made earlier in the same, not yet
// committed, launch.
type Entry struct {
	Start time.Time
	End   time.Time
	Seq   int
}

// Running tracks in-launch bookings keyed by resource id.
type Running map[string][]Entry

// Add appends a booking for a resource.
func (r Running) Add(id string, e Entry) {
	r[id] = append(r[id], e)
}

// LatestEnd returns the latest booked end for a resource, zero if none.
func (r Running) LatestEnd(id string) time.Time {
	var latest time.Time
	for _, e := range r[id] {
		if e.End.After(latest) {
			latest = e.End
		}
	}
	return latest
}

// Count returns the number of bookings for a resource.
func (r Running) Count(id string) int {
	return len(r[id])
}

// Overlaps reports whether [start,end) intersects any booking for a resource.
func (r Running) Overlaps(id string, start, end time.Time) bool {
	for _, e := range r[id] {
		if start.Before(e.End) && e.Start.Before(end) {
			return true
		}
	}
	return false
}

// NoSubstationError means no configured station option had an active
// substation for a node.
type NoSubstationError struct {
	NodeName string
}

func (e *NoSubstationError) Error() string {
	return fmt.Sprintf("No substation for node %s", e.NodeName)
}

// NoWorkerError means no worker possessed all required skills or none was
// available within calendar constraints.
type NoWorkerError struct {
	NodeName      string
	MissingSkills []string
}

func (e *NoWorkerError) Error() string {
	if len(e.MissingSkills) > 0 {
		return fmt.Sprintf("No worker with required skills for node %s (missing: %s)", e.NodeName, strings.Join(e.MissingSkills, ", "))
	}
	return fmt.Sprintf("No available worker for node %s", e.NodeName)
}

// PickSubstation chooses the substation with the minimum availability across
// the active substations of every candidate station. Station priority only
// orders the scan; a substation of a lower-priority station wins whenever it
// frees up earlier.
func PickSubstation(options []domain.StationOption, byStation map[string][]domain.Substation, running Running, after time.Time) (domain.Substation, time.Time, bool) {
	var best domain.Substation
	var bestAt time.Time
	found := false
	for _, opt := range options {
		for _, sub := range byStation[opt.StationID] {
			if !sub.IsActive {
				continue
			}
			availableAt := after
			if sub.CurrentExpectedEnd != nil && sub.CurrentExpectedEnd.After(availableAt) {
				availableAt = *sub.CurrentExpectedEnd
			}
			if end := running.LatestEnd(sub.ID); end.After(availableAt) {
				availableAt = end
			}
			if !found || availableAt.Before(bestAt) {
				best, bestAt, found = sub, availableAt, true
			}
		}
	}
	return best, bestAt, found
}

// WorkerPick is the result of worker selection.
type WorkerPick struct {
	Worker      domain.Worker
	ActualStart time.Time
}

// PickWorker selects a worker from candidates (already filtered to those
// holding every required skill and not inactive or on break, in query
// order). The first worker whose proposed interval fits inside a single
// work block wins; otherwise the earliest-available candidate is taken with
// the shift-fit constraint dropped.
func PickWorker(candidates []domain.Worker, start time.Time, durationMinutes float64, running Running, calc Calculator) (WorkerPick, bool) {
	dur := time.Duration(durationMinutes * float64(time.Minute))
	var fallback WorkerPick
	haveFallback := false
	for i := range candidates {
		w := candidates[i]
		actualStart := start
		if last := running.LatestEnd(w.ID); !last.IsZero() {
			if next := last.Add(time.Second); next.After(actualStart) {
				actualStart = next
			}
		}
		if absentOn(w, actualStart) {
			continue
		}
		end := actualStart.Add(dur)
		if running.Overlaps(w.ID, actualStart, end) {
			continue
		}
		if calc.FitsInSingleBlock(actualStart, durationMinutes, &w) {
			return WorkerPick{Worker: w, ActualStart: actualStart}, true
		}
		if !haveFallback || actualStart.Before(fallback.ActualStart) {
			fallback = WorkerPick{Worker: w, ActualStart: actualStart}
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

func absentOn(w domain.Worker, t time.Time) bool {
	day := civilDate(t)
	for _, a := range w.Absences {
		if !day.Before(civilDate(a.From)) && !day.After(civilDate(a.To)) {
			return true
		}
	}
	return false
}

// HasAllSkills reports set containment of required skill ids in a worker's
// skills.
func HasAllSkills(w domain.Worker, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(w.SkillIDs))
	for _, s := range w.SkillIDs {
		have[s] = true
	}
	for _, s := range required {
		if !have[s] {
			return false
		}
	}
	return true
}

// UnionSkills merges skill id lists preserving first-seen order.
func UnionSkills(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
