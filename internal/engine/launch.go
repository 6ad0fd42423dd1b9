package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prodline/internal/domain"
	"prodline/internal/events"
	"prodline/internal/schedule"
)

// Launch schedules every node of a plan onto a worker and a substation and
// commits the assignment set atomically. Nodes are processed strictly in
// topological order inside one exclusive transaction; any failure rolls the
// whole launch back.
func (e Engine) Launch(ctx context.Context, planID, actorID string) (domain.LaunchResult, error) {
	if e.Metrics != nil {
		e.Metrics.LaunchStarted()
	}
	res, err := e.launch(ctx, planID, actorID)
	if e.Metrics != nil {
		if err != nil {
			e.Metrics.LaunchFailed()
		} else {
			warnings := 0
			if res.Warnings != nil {
				warnings = len(res.Warnings.Materials)
			}
			e.Metrics.LaunchSucceeded(res.Summary.AssignedNodes, warnings)
		}
	}
	return res, err
}

func (e Engine) launch(ctx context.Context, planID, actorID string) (domain.LaunchResult, error) {
	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LaunchResult{}, err
	}
	defer tx.Rollback()

	// Grab the write lock before any reads so concurrent launches serialize
	// on the whole assignment/substation state, not on individual rows.
	if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version=version`); err != nil {
		return domain.LaunchResult{}, fmt.Errorf("acquire launch lock: %w", err)
	}

	plan, err := e.Repo.GetPlan(ctx, tx, planID)
	if err != nil {
		return domain.LaunchResult{}, err
	}
	if plan.Status != domain.PlanDraft && plan.Status != domain.PlanReady {
		return domain.LaunchResult{}, &InvalidStatusError{PlanID: plan.ID, Status: plan.Status}
	}
	nodes, err := e.Repo.ListNodes(ctx, tx, plan.ID)
	if err != nil {
		return domain.LaunchResult{}, err
	}
	if len(nodes) == 0 {
		return domain.LaunchResult{}, fmt.Errorf("plan %s has no nodes", plan.ID)
	}
	edges, err := e.Repo.ListEdges(ctx, tx, plan.ID)
	if err != nil {
		return domain.LaunchResult{}, err
	}

	ordered, err := schedule.Sort(nodes, edges)
	if err != nil {
		return domain.LaunchResult{}, err
	}

	week, err := e.DefaultCalendar(ctx, tx)
	if err != nil {
		return domain.LaunchResult{}, fmt.Errorf("load default calendar: %w", err)
	}
	holidays, err := e.Repo.ListHolidays(ctx, tx)
	if err != nil {
		return domain.LaunchResult{}, err
	}
	horizon := 0
	if e.Config != nil {
		horizon = e.Config.Scheduling.HorizonDays
	}
	calc := schedule.Calculator{
		Resolver:    schedule.Resolver{Week: week, Holidays: holidays},
		HorizonDays: horizon,
	}

	workers, err := e.Repo.ListWorkers(ctx, tx)
	if err != nil {
		return domain.LaunchResult{}, err
	}

	predecessors := map[string][]string{}
	for _, edge := range edges {
		predecessors[edge.NodeID] = append(predecessors[edge.NodeID], edge.PredecessorID)
	}

	var (
		workerSched  = schedule.Running{}
		subSched     = schedule.Running{}
		completion   = map[string]time.Time{}
		subsByStn    = map[string][]domain.Substation{}
		stationCache = map[string]domain.Station{}
		opCache      = map[string]domain.Operation{}
		workerNames  = map[string]string{}
		summaries    []domain.AssignmentSummary
		workersUsed  = map[string]bool{}
		subsUsed     = map[string]bool{}
		queuedTasks  int
		windowStart  time.Time
		windowEnd    time.Time
	)
	for _, w := range workers {
		workerNames[w.ID] = w.Name
	}

	// Assignments committed by earlier launches still occupy workers and
	// substations; seed the schedules so this launch books around them.
	open, err := e.Repo.ListOpenAssignments(ctx, tx)
	if err != nil {
		return domain.LaunchResult{}, err
	}
	for _, a := range open {
		entry := schedule.Entry{Start: a.EstimatedStart, End: a.EstimatedEnd, Seq: a.SequenceNumber}
		workerSched.Add(a.WorkerID, entry)
		subSched.Add(a.SubstationID, entry)
	}

	for _, node := range ordered {
		earliest := now
		for _, predID := range predecessors[node.ID] {
			if end, ok := completion[predID]; ok && end.After(earliest) {
				earliest = end
			}
		}

		for _, opt := range node.Stations {
			if _, ok := subsByStn[opt.StationID]; ok {
				continue
			}
			subs, err := e.Repo.ListActiveSubstations(ctx, tx, opt.StationID)
			if err != nil {
				return domain.LaunchResult{}, err
			}
			subsByStn[opt.StationID] = subs
		}
		sub, subAvail, ok := schedule.PickSubstation(node.Stations, subsByStn, subSched, earliest)
		if !ok {
			return domain.LaunchResult{}, &schedule.NoSubstationError{NodeName: node.Name}
		}

		op, ok2 := opCache[node.OperationID]
		if !ok2 {
			op, err = e.Repo.GetOperation(ctx, tx, node.OperationID)
			if err != nil {
				return domain.LaunchResult{}, fmt.Errorf("operation %s: %w", node.OperationID, err)
			}
			opCache[node.OperationID] = op
		}
		station, ok3 := stationCache[sub.StationID]
		if !ok3 {
			station, err = e.Repo.GetStation(ctx, tx, sub.StationID)
			if err != nil {
				return domain.LaunchResult{}, fmt.Errorf("station %s: %w", sub.StationID, err)
			}
			stationCache[sub.StationID] = station
		}
		required := schedule.UnionSkills(op.SkillIDs, station.SkillIDs)

		var candidates []domain.Worker
		for _, w := range workers {
			if w.Status == domain.WorkerInactive || w.Status == domain.WorkerOnBreak {
				continue
			}
			if !schedule.HasAllSkills(w, required) {
				continue
			}
			candidates = append(candidates, w)
		}
		if len(candidates) == 0 {
			names, nerr := e.Repo.SkillNames(ctx, tx, required)
			if nerr != nil {
				return domain.LaunchResult{}, nerr
			}
			return domain.LaunchResult{}, &schedule.NoWorkerError{NodeName: node.Name, MissingSkills: names}
		}

		start := earliest
		if subAvail.After(start) {
			start = subAvail
		}
		pick, ok4 := schedule.PickWorker(candidates, start, node.EffectiveTime, workerSched, calc)
		if !ok4 {
			return domain.LaunchResult{}, &schedule.NoWorkerError{NodeName: node.Name}
		}

		end, err := calc.Advance(pick.ActualStart, node.EffectiveTime, &pick.Worker)
		if err != nil {
			return domain.LaunchResult{}, fmt.Errorf("node %s: %w", node.Name, err)
		}

		seq := workerSched.Count(pick.Worker.ID) + 1
		status := domain.AssignmentPending
		if seq > 1 {
			status = domain.AssignmentQueued
			queuedTasks++
		}
		reserved, planned := schedule.Reserve(node, plan.DefectRate, plan.Quantity)
		reservationStatus := ""
		if reserved != nil {
			reservationStatus = "reserved"
		}
		a := domain.Assignment{
			ID:             uuid.New().String(),
			PlanID:         plan.ID,
			NodeID:         node.ID,
			WorkerID:       pick.Worker.ID,
			SubstationID:   sub.ID,
			OperationID:    node.OperationID,
			Status:         status,
			EstimatedStart: pick.ActualStart,
			EstimatedEnd:   end,
			SequenceNumber: seq,
			Reserved:       reserved,
			PlannedOutput:  planned,
			ReservationSt:  reservationStatus,
			CreatedAt:      now,
		}
		if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
			return domain.LaunchResult{}, fmt.Errorf("insert assignment for node %s: %w", node.Name, err)
		}
		if err := e.Repo.UpdateNodeTiming(ctx, tx, node.ID, pick.ActualStart, end, a.ID); err != nil {
			return domain.LaunchResult{}, err
		}
		// Only the head of a worker's queue holds a physical reservation;
		// queued work claims its substation when the prior task completes.
		if seq == 1 {
			if err := e.Repo.ReserveSubstation(ctx, tx, sub.ID, end, a.ID); err != nil {
				return domain.LaunchResult{}, err
			}
		}
		if err := e.Events.Append(ctx, tx, "assignment.created", plan.ID, "assignment", a.ID, actorID, events.EventPayload{
			"node": node.Name, "worker": pick.Worker.ID, "substation": sub.ID, "sequence": seq,
		}); err != nil {
			return domain.LaunchResult{}, err
		}

		entry := schedule.Entry{Start: pick.ActualStart, End: end, Seq: seq}
		workerSched.Add(pick.Worker.ID, entry)
		subSched.Add(sub.ID, entry)
		completion[node.ID] = end
		workersUsed[pick.Worker.ID] = true
		subsUsed[sub.ID] = true
		if windowStart.IsZero() || pick.ActualStart.Before(windowStart) {
			windowStart = pick.ActualStart
		}
		if end.After(windowEnd) {
			windowEnd = end
		}
		summaries = append(summaries, domain.AssignmentSummary{
			NodeID:         node.ID,
			NodeName:       node.Name,
			WorkerID:       pick.Worker.ID,
			WorkerName:     workerNames[pick.Worker.ID],
			SubstationID:   sub.ID,
			SubstationName: sub.Name,
			EstimatedStart: pick.ActualStart,
			EstimatedEnd:   end,
			SequenceNumber: seq,
			IsQueued:       seq > 1,
			Reserved:       reserved,
			PlannedOutput:  planned,
			ReservationSt:  reservationStatus,
		})
	}

	stock, err := e.Repo.MaterialsByCode(ctx, tx)
	if err != nil {
		return domain.LaunchResult{}, err
	}
	warnings := schedule.ValidateMaterials(nodes, schedule.StartNodes(nodes, edges), plan.Quantity, stock)

	if err := e.Repo.UpdatePlanStatus(ctx, tx, plan.ID, domain.PlanActive, &now); err != nil {
		return domain.LaunchResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "plan.launched", plan.ID, "plan", plan.ID, actorID, events.EventPayload{
		"nodes": len(summaries), "queued": queuedTasks, "warnings": len(warnings),
	}); err != nil {
		return domain.LaunchResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LaunchResult{}, err
	}

	result := domain.LaunchResult{
		PlanID:     plan.ID,
		Status:     domain.PlanActive,
		LaunchedAt: now,
		Summary: domain.LaunchSummary{
			TotalNodes:        len(nodes),
			AssignedNodes:     len(summaries),
			TotalWorkers:      len(workersUsed),
			TotalSubstations:  len(subsUsed),
			EstimatedStart:    windowStart,
			EstimatedEnd:      windowEnd,
			EstimatedDuration: windowEnd.Sub(windowStart).Minutes(),
		},
		Assignments: summaries,
		QueuedTasks: queuedTasks,
	}
	if len(warnings) > 0 {
		result.Warnings = &domain.LaunchWarnings{Materials: warnings}
	}
	return result, nil
}
