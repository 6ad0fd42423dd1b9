package engine

import (
	"context"
	"database/sql"
	"fmt"

	"prodline/internal/domain"
	"prodline/internal/events"
)

// InvalidAssignmentError reports a lifecycle transition attempted on an
// assignment whose status does not allow it.
type InvalidAssignmentError struct {
	AssignmentID string
	Status       string
	Wanted       string
}

func (e *InvalidAssignmentError) Error() string {
	return fmt.Sprintf("assignment %s is %s, expected %s", e.AssignmentID, e.Status, e.Wanted)
}

// NotReadyError reports a start attempt on an assignment whose upstream work
// or substation is not ready for it.
type NotReadyError struct {
	AssignmentID string
	Reason       string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("assignment %s cannot start: %s", e.AssignmentID, e.Reason)
}

// startBlockReason explains why an assignment cannot start yet: a predecessor
// node whose assignment has not completed, or a substation another assignment
// currently occupies. An empty reason means the assignment is ready.
func (e Engine) startBlockReason(ctx context.Context, tx *sql.Tx, a domain.Assignment) (string, error) {
	edges, err := e.Repo.ListEdges(ctx, tx, a.PlanID)
	if err != nil {
		return "", err
	}
	var preds []string
	for _, edge := range edges {
		if edge.NodeID == a.NodeID {
			preds = append(preds, edge.PredecessorID)
		}
	}
	if len(preds) > 0 {
		siblings, err := e.Repo.ListPlanAssignments(ctx, tx, a.PlanID)
		if err != nil {
			return "", err
		}
		byNode := make(map[string]domain.Assignment, len(siblings))
		for _, s := range siblings {
			byNode[s.NodeID] = s
		}
		for _, predID := range preds {
			if pa, ok := byNode[predID]; ok && pa.Status != domain.AssignmentCompleted {
				return fmt.Sprintf("predecessor node %s is %s", predID, pa.Status), nil
			}
		}
	}
	sub, err := e.Repo.GetSubstation(ctx, tx, a.SubstationID)
	if err != nil {
		return "", err
	}
	if sub.Status == domain.SubstationInUse && (sub.CurrentAssignmentID == nil || *sub.CurrentAssignmentID != a.ID) {
		return fmt.Sprintf("substation %s is in use", sub.ID), nil
	}
	return "", nil
}

// TaskQueue returns a worker's open assignments in execution order. Only the
// head of the queue may be startable, and only once every predecessor of its
// node has completed and its substation is free.
func (e Engine) TaskQueue(ctx context.Context, workerID string) ([]domain.QueueItem, error) {
	if _, err := e.Repo.GetWorker(ctx, nil, workerID); err != nil {
		return nil, err
	}
	assignments, err := e.Repo.ListWorkerQueue(ctx, nil, workerID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.QueueItem, 0, len(assignments))
	for i, a := range assignments {
		node, err := e.Repo.GetNode(ctx, nil, a.NodeID)
		if err != nil {
			return nil, err
		}
		startable := i == 0 && a.Status == domain.AssignmentPending
		if a.Status == domain.AssignmentInProgress || a.Status == domain.AssignmentPaused {
			startable = false
		}
		if startable {
			reason, err := e.startBlockReason(ctx, nil, a)
			if err != nil {
				return nil, err
			}
			startable = reason == ""
		}
		items = append(items, domain.QueueItem{Assignment: a, NodeName: node.Name, Startable: startable})
	}
	return items, nil
}

// StartAssignment moves the head of a worker's queue into execution and marks
// its substation busy. Only a pending assignment at the head of the queue may
// start, and only after every predecessor has completed and the substation is
// not occupied by another assignment.
func (e Engine) StartAssignment(ctx context.Context, assignmentID, actorID string) (domain.Assignment, error) {
	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignment(ctx, tx, assignmentID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if a.Status != domain.AssignmentPending {
		return domain.Assignment{}, &InvalidAssignmentError{AssignmentID: a.ID, Status: a.Status, Wanted: domain.AssignmentPending}
	}
	queue, err := e.Repo.ListWorkerQueue(ctx, tx, a.WorkerID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if len(queue) > 0 && queue[0].ID != a.ID {
		return domain.Assignment{}, fmt.Errorf("assignment %s is not at the head of worker %s's queue", a.ID, a.WorkerID)
	}
	reason, err := e.startBlockReason(ctx, tx, a)
	if err != nil {
		return domain.Assignment{}, err
	}
	if reason != "" {
		return domain.Assignment{}, &NotReadyError{AssignmentID: a.ID, Reason: reason}
	}

	if err := e.Repo.SetAssignmentStatus(ctx, tx, a.ID, domain.AssignmentInProgress, now); err != nil {
		return domain.Assignment{}, err
	}
	end := a.EstimatedEnd
	if err := e.Repo.SetSubstationState(ctx, tx, a.SubstationID, domain.SubstationInUse, &end, &a.ID); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Events.Append(ctx, tx, "assignment.started", a.PlanID, "assignment", a.ID, actorID, events.EventPayload{
		"worker": a.WorkerID, "substation": a.SubstationID,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	a.Status = domain.AssignmentInProgress
	a.StartedAt = &now
	return a, nil
}

// CompleteAssignment finishes a running assignment, frees its substation and
// promotes the next queued task of the same worker, handing that task its
// substation reservation. When the last open assignment of a plan completes
// the plan itself is marked completed.
func (e Engine) CompleteAssignment(ctx context.Context, assignmentID, actorID string) (domain.Assignment, error) {
	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignment(ctx, tx, assignmentID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if a.Status != domain.AssignmentInProgress {
		return domain.Assignment{}, &InvalidAssignmentError{AssignmentID: a.ID, Status: a.Status, Wanted: domain.AssignmentInProgress}
	}

	if err := e.Repo.SetAssignmentStatus(ctx, tx, a.ID, domain.AssignmentCompleted, now); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Repo.SetSubstationState(ctx, tx, a.SubstationID, domain.SubstationAvailable, nil, nil); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Events.Append(ctx, tx, "assignment.completed", a.PlanID, "assignment", a.ID, actorID, events.EventPayload{
		"worker": a.WorkerID, "substation": a.SubstationID,
	}); err != nil {
		return domain.Assignment{}, err
	}

	// Promote the worker's next queued task so the queue always has a
	// startable head.
	queue, err := e.Repo.ListWorkerQueue(ctx, tx, a.WorkerID)
	if err != nil {
		return domain.Assignment{}, err
	}
	for _, next := range queue {
		if next.Status != domain.AssignmentQueued {
			continue
		}
		if err := e.Repo.SetAssignmentStatus(ctx, tx, next.ID, domain.AssignmentPending, now); err != nil {
			return domain.Assignment{}, err
		}
		if err := e.Repo.ReserveSubstation(ctx, tx, next.SubstationID, next.EstimatedEnd, next.ID); err != nil {
			return domain.Assignment{}, err
		}
		if err := e.Events.Append(ctx, tx, "assignment.promoted", next.PlanID, "assignment", next.ID, actorID, events.EventPayload{
			"worker": next.WorkerID, "substation": next.SubstationID,
		}); err != nil {
			return domain.Assignment{}, err
		}
		break
	}

	open, err := e.Repo.CountOpenPlanAssignments(ctx, tx, a.PlanID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if open == 0 {
		if err := e.Repo.UpdatePlanStatus(ctx, tx, a.PlanID, domain.PlanCompleted, nil); err != nil {
			return domain.Assignment{}, err
		}
		if err := e.Events.Append(ctx, tx, "plan.completed", a.PlanID, "plan", a.PlanID, actorID, nil); err != nil {
			return domain.Assignment{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	a.Status = domain.AssignmentCompleted
	a.CompletedAt = &now
	return a, nil
}
