package engine_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/schedule"
)

func launchedChain(t *testing.T, env testEnv) (domain.Plan, domain.Node, domain.Node, domain.LaunchResult) {
	t.Helper()
	p, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "chain", ActorID: "tester"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	a := addNode(t, env, p.ID, "cut", 60, nil)
	b := addNode(t, env, p.ID, "weld", 60, nil)
	if err := env.Engine.AddEdge(env.Ctx, b.ID, a.ID, "tester"); err != nil {
		t.Fatalf("edge: %v", err)
	}
	res, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	return p, a, b, res
}

func TestLaunchLinearChain(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, a, b, res := launchedChain(t, env)

	if res.Status != domain.PlanActive || !res.LaunchedAt.Equal(frozenNow) {
		t.Fatalf("result: %+v", res)
	}
	if res.Summary.TotalNodes != 2 || res.Summary.AssignedNodes != 2 {
		t.Fatalf("summary: %+v", res.Summary)
	}
	if len(res.Assignments) != 2 {
		t.Fatalf("assignments: %+v", res.Assignments)
	}

	first, second := res.Assignments[0], res.Assignments[1]
	if first.NodeID != a.ID || second.NodeID != b.ID {
		t.Fatalf("order: %s then %s", first.NodeName, second.NodeName)
	}
	if !first.EstimatedStart.Equal(frozenNow) || !first.EstimatedEnd.Equal(frozenNow.Add(time.Hour)) {
		t.Fatalf("first timing: %+v", first)
	}
	// the dependent waits for its predecessor; same worker queues with a
	// one second offset
	if second.WorkerID != first.WorkerID {
		t.Fatalf("expected same worker, got %s and %s", first.WorkerID, second.WorkerID)
	}
	wantStart := frozenNow.Add(time.Hour + time.Second)
	if !second.EstimatedStart.Equal(wantStart) {
		t.Fatalf("second start %v want %v", second.EstimatedStart, wantStart)
	}
	if first.SequenceNumber != 1 || second.SequenceNumber != 2 || !second.IsQueued {
		t.Fatalf("sequence: %+v %+v", first, second)
	}
	if res.QueuedTasks != 1 {
		t.Fatalf("queued tasks: %d", res.QueuedTasks)
	}
	if !res.Summary.EstimatedStart.Equal(frozenNow) || res.Summary.EstimatedDuration <= 0 {
		t.Fatalf("window: %+v", res.Summary)
	}

	got, err := env.Engine.Repo.GetPlan(env.Ctx, nil, p.ID)
	if err != nil || got.Status != domain.PlanActive || got.LaunchedAt == nil {
		t.Fatalf("plan after launch: %+v (%v)", got, err)
	}
	// node timings persisted
	nodeA, _ := env.Engine.Repo.GetNode(env.Ctx, nil, a.ID)
	if nodeA.EstStart == nil || !nodeA.EstStart.Equal(frozenNow) || nodeA.AssignmentID == nil {
		t.Fatalf("node timing: %+v", nodeA)
	}
	// only the pending head reserved its substation
	sub, _ := env.Engine.Repo.GetSubstation(env.Ctx, nil, first.SubstationID)
	if sub.Status != domain.SubstationReserved || sub.CurrentAssignmentID == nil {
		t.Fatalf("substation not reserved: %+v", sub)
	}
}

func TestLaunchSpreadsSubstations(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "parallel", ActorID: "tester"})
	addNode(t, env, p.ID, "left", 120, nil)
	addNode(t, env, p.ID, "right", 120, nil)
	res, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if res.Assignments[0].SubstationID == res.Assignments[1].SubstationID {
		t.Fatalf("independent nodes should take different substations: %+v", res.Assignments)
	}
	if res.Summary.TotalSubstations != 2 {
		t.Fatalf("summary: %+v", res.Summary)
	}
}

func TestLaunchCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "loop", ActorID: "tester"})
	a := addNode(t, env, p.ID, "a", 10, nil)
	b := addNode(t, env, p.ID, "b", 10, nil)
	_ = env.Engine.AddEdge(env.Ctx, b.ID, a.ID, "tester")
	_ = env.Engine.AddEdge(env.Ctx, a.ID, b.ID, "tester")

	_, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	var cerr *schedule.CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	// nothing committed
	got, _ := env.Engine.Repo.GetPlan(env.Ctx, nil, p.ID)
	if got.Status != domain.PlanDraft {
		t.Fatalf("plan status after failed launch: %s", got.Status)
	}
	if n, _ := env.Engine.Repo.CountAssignments(env.Ctx, nil); n != 0 {
		t.Fatalf("expected rollback, found %d assignments", n)
	}
}

func TestLaunchNoSubstation(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	if err := env.Engine.Repo.UpsertStation(env.Ctx, domain.Station{ID: "st-empty", Name: "Empty"}); err != nil {
		t.Fatal(err)
	}
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "nosub", ActorID: "tester"})
	addNode(t, env, p.ID, "drill", 10, func(o *engine.NodeCreateOptions) {
		o.Stations = []domain.StationOption{{StationID: "st-empty", Priority: 1}}
	})
	_, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	var serr *schedule.NoSubstationError
	if !errors.As(err, &serr) || serr.NodeName != "drill" {
		t.Fatalf("expected NoSubstationError, got %v", err)
	}
}

func TestLaunchNoSkilledWorker(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	if err := env.Engine.Repo.UpsertSkill(env.Ctx, domain.Skill{ID: "sk-laser", Name: "Laser"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.UpsertOperation(env.Ctx, domain.Operation{ID: "op-laser", Name: "Laser cut", SkillIDs: []string{"sk-laser"}}); err != nil {
		t.Fatal(err)
	}
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "laser", ActorID: "tester"})
	addNode(t, env, p.ID, "beam", 10, func(o *engine.NodeCreateOptions) { o.OperationID = "op-laser" })
	_, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	var werr *schedule.NoWorkerError
	if !errors.As(err, &werr) || werr.NodeName != "beam" {
		t.Fatalf("expected NoWorkerError, got %v", err)
	}
	if len(werr.MissingSkills) == 0 || werr.MissingSkills[0] != "Laser" {
		t.Fatalf("missing skills: %v", werr.MissingSkills)
	}
}

func TestLaunchScheduleExhausted(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	// a personal-mode worker without any blocks can never absorb work
	for _, id := range []string{"w-1", "w-2"} {
		if err := env.Engine.Repo.UpsertWorker(env.Ctx, domain.Worker{
			ID: id, Name: id, Status: domain.WorkerAvailable,
			SkillIDs: []string{"sk-asm"}, ScheduleMode: domain.SchedulePersonal,
		}); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "void", ActorID: "tester"})
	addNode(t, env, p.ID, "task", 60, nil)
	_, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	if !errors.Is(err, schedule.ErrScheduleExhausted) {
		t.Fatalf("expected ErrScheduleExhausted, got %v", err)
	}
}

func TestLaunchRejectsWrongStatus(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, _, _, _ := launchedChain(t, env)
	_, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	var ierr *engine.InvalidStatusError
	if !errors.As(err, &ierr) || ierr.Status != domain.PlanActive {
		t.Fatalf("expected InvalidStatusError, got %v", err)
	}
}

func TestLaunchEmptyPlan(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "empty", ActorID: "tester"})
	if _, err := env.Engine.Launch(env.Ctx, p.ID, "tester"); err == nil {
		t.Fatal("expected empty plan rejection")
	}
}

func TestLaunchMaterialWarnings(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "short", Quantity: 50, ActorID: "tester"})
	addNode(t, env, p.ID, "cut", 30, func(o *engine.NodeCreateOptions) {
		o.Materials = []domain.MaterialInput{{MaterialCode: "RM-STEEL", Required: 3}}
	})
	res, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("shortage must not block launch: %v", err)
	}
	if res.Warnings == nil || len(res.Warnings.Materials) != 1 {
		t.Fatalf("warnings: %+v", res.Warnings)
	}
	w := res.Warnings.Materials[0]
	if w.MaterialCode != "RM-STEEL" || w.Required != 150 || w.Available != 100 || w.Shortage != 50 {
		t.Fatalf("warning: %+v", w)
	}
}

func TestLaunchReservesMaterials(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	rate := 10.0
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "widgets", Quantity: 3, DefectRate: &rate, ActorID: "tester"})
	addNode(t, env, p.ID, "asm", 30, func(o *engine.NodeCreateOptions) {
		o.OutputCode = "WIDGET"
		o.OutputQty = 10
		o.Materials = []domain.MaterialInput{{MaterialCode: "RM-STEEL", Required: 5}}
	})
	res, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	a := res.Assignments[0]
	if a.Reserved["RM-STEEL"] != 17 || a.PlannedOutput["WIDGET"] != 30 {
		t.Fatalf("reservation: %+v", a)
	}
	if a.ReservationSt != "reserved" {
		t.Fatalf("reservation status: %q", a.ReservationSt)
	}
}

func TestLaunchMetrics(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	launchedChain(t, env)
	snap := env.Engine.MetricsSnapshot()
	if snap["launches_started"] != 1 || snap["launches_succeeded"] != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
	if snap["nodes_scheduled"] != 2 {
		t.Fatalf("nodes scheduled: %+v", snap)
	}
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "empty", ActorID: "tester"})
	_, _ = env.Engine.Launch(env.Ctx, p.ID, "tester")
	snap = env.Engine.MetricsSnapshot()
	if snap["launches_failed"] != 1 {
		t.Fatalf("failed counter: %+v", snap)
	}
	if err := env.Engine.ResetMetrics(env.Ctx, "tester"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if snap := env.Engine.MetricsSnapshot(); snap["launches_started"] != 0 {
		t.Fatalf("after reset: %+v", snap)
	}
}

func TestQueueWaitsForPredecessorAcrossWorkers(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	r := env.Engine.Repo
	if err := r.UpsertSkill(env.Ctx, domain.Skill{ID: "sk-weld", Name: "Welding"}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertOperation(env.Ctx, domain.Operation{ID: "op-weld", Name: "Weld", SkillIDs: []string{"sk-weld"}}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertWorker(env.Ctx, domain.Worker{
		ID: "w-weld", Name: "w-weld", Status: domain.WorkerAvailable,
		SkillIDs: []string{"sk-weld"}, ScheduleMode: domain.ScheduleCompany, ShiftLane: "1",
	}); err != nil {
		t.Fatal(err)
	}

	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "handoff", ActorID: "tester"})
	cut := addNode(t, env, p.ID, "cut", 60, nil)
	weld := addNode(t, env, p.ID, "weld", 60, func(o *engine.NodeCreateOptions) { o.OperationID = "op-weld" })
	if err := env.Engine.AddEdge(env.Ctx, weld.ID, cut.ID, "tester"); err != nil {
		t.Fatalf("edge: %v", err)
	}
	res, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if res.Assignments[1].WorkerID != "w-weld" || res.Assignments[1].SequenceNumber != 1 {
		t.Fatalf("dependent placement: %+v", res.Assignments[1])
	}

	// the dependent heads its own worker's queue but must wait for cut
	queue, err := env.Engine.TaskQueue(env.Ctx, "w-weld")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 1 || queue[0].Status != domain.AssignmentPending {
		t.Fatalf("dependent queue: %+v", queue)
	}
	if queue[0].Startable {
		t.Fatalf("dependent must not be startable before cut completes: %+v", queue[0])
	}
	var nerr *engine.NotReadyError
	if _, err := env.Engine.StartAssignment(env.Ctx, queue[0].ID, "tester"); !errors.As(err, &nerr) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}

	cutQueue, err := env.Engine.TaskQueue(env.Ctx, res.Assignments[0].WorkerID)
	if err != nil || len(cutQueue) != 1 || !cutQueue[0].Startable {
		t.Fatalf("cut queue: %+v (%v)", cutQueue, err)
	}
	if _, err := env.Engine.StartAssignment(env.Ctx, cutQueue[0].ID, "tester"); err != nil {
		t.Fatalf("start cut: %v", err)
	}
	if _, err := env.Engine.CompleteAssignment(env.Ctx, cutQueue[0].ID, "tester"); err != nil {
		t.Fatalf("complete cut: %v", err)
	}

	queue, _ = env.Engine.TaskQueue(env.Ctx, "w-weld")
	if len(queue) != 1 || !queue[0].Startable {
		t.Fatalf("dependent should be startable after cut completes: %+v", queue)
	}
	if _, err := env.Engine.StartAssignment(env.Ctx, queue[0].ID, "tester"); err != nil {
		t.Fatalf("start dependent: %v", err)
	}
}

func TestQueueWaitsForBusySubstation(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	r := env.Engine.Repo
	// one station with a single substation, contended by two workers
	if err := r.UpsertStation(env.Ctx, domain.Station{ID: "st-press", Name: "Press"}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertSubstation(env.Ctx, domain.Substation{
		ID: "sub-press", StationID: "st-press", Name: "sub-press", IsActive: true, Status: domain.SubstationAvailable,
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertSkill(env.Ctx, domain.Skill{ID: "sk-press", Name: "Pressing"}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertOperation(env.Ctx, domain.Operation{ID: "op-press", Name: "Press", SkillIDs: []string{"sk-press"}}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertWorker(env.Ctx, domain.Worker{
		ID: "w-press", Name: "w-press", Status: domain.WorkerAvailable,
		SkillIDs: []string{"sk-press"}, ScheduleMode: domain.ScheduleCompany, ShiftLane: "1",
	}); err != nil {
		t.Fatal(err)
	}

	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "contended", ActorID: "tester"})
	addNode(t, env, p.ID, "flatten", 60, func(o *engine.NodeCreateOptions) {
		o.Stations = []domain.StationOption{{StationID: "st-press", Priority: 1}}
	})
	addNode(t, env, p.ID, "stamp", 60, func(o *engine.NodeCreateOptions) {
		o.OperationID = "op-press"
		o.Stations = []domain.StationOption{{StationID: "st-press", Priority: 1}}
	})
	res, err := env.Engine.Launch(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	first, second := res.Assignments[0], res.Assignments[1]
	if first.SubstationID != "sub-press" || second.SubstationID != "sub-press" {
		t.Fatalf("both nodes should share the substation: %+v", res.Assignments)
	}
	if first.WorkerID == second.WorkerID {
		t.Fatalf("expected two workers: %+v", res.Assignments)
	}

	firstQueue, _ := env.Engine.TaskQueue(env.Ctx, first.WorkerID)
	if _, err := env.Engine.StartAssignment(env.Ctx, firstQueue[0].ID, "tester"); err != nil {
		t.Fatalf("start first: %v", err)
	}

	// the second worker's head waits while the substation is occupied
	secondQueue, _ := env.Engine.TaskQueue(env.Ctx, second.WorkerID)
	if len(secondQueue) != 1 || secondQueue[0].Startable {
		t.Fatalf("second should wait for the substation: %+v", secondQueue)
	}
	var nerr *engine.NotReadyError
	if _, err := env.Engine.StartAssignment(env.Ctx, secondQueue[0].ID, "tester"); !errors.As(err, &nerr) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}

	if _, err := env.Engine.CompleteAssignment(env.Ctx, firstQueue[0].ID, "tester"); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	secondQueue, _ = env.Engine.TaskQueue(env.Ctx, second.WorkerID)
	if len(secondQueue) != 1 || !secondQueue[0].Startable {
		t.Fatalf("second should start once the substation frees: %+v", secondQueue)
	}
	if _, err := env.Engine.StartAssignment(env.Ctx, secondQueue[0].ID, "tester"); err != nil {
		t.Fatalf("start second: %v", err)
	}
}

func TestConcurrentLaunchesDoNotDoubleBook(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	plans := make([]domain.Plan, 2)
	for i, name := range []string{"first", "second"} {
		p, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: name, ActorID: "tester"})
		if err != nil {
			t.Fatalf("plan %s: %v", name, err)
		}
		addNode(t, env, p.ID, name+"-cut", 60, nil)
		addNode(t, env, p.ID, name+"-fit", 90, nil)
		plans[i] = p
	}

	results := make([]domain.LaunchResult, len(plans))
	errs := make([]error, len(plans))
	var wg sync.WaitGroup
	for i := range plans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.Engine.Launch(env.Ctx, plans[i].ID, "tester")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("launch %s: %v", plans[i].ID, err)
		}
	}

	type booking struct {
		planID     string
		start, end time.Time
	}
	byWorker := map[string][]booking{}
	bySubstation := map[string][]booking{}
	for i, res := range results {
		for _, a := range res.Assignments {
			b := booking{planID: plans[i].ID, start: a.EstimatedStart, end: a.EstimatedEnd}
			byWorker[a.WorkerID] = append(byWorker[a.WorkerID], b)
			bySubstation[a.SubstationID] = append(bySubstation[a.SubstationID], b)
		}
	}
	checkDisjoint := func(kind string, m map[string][]booking) {
		for id, bookings := range m {
			for i := 0; i < len(bookings); i++ {
				for j := i + 1; j < len(bookings); j++ {
					x, y := bookings[i], bookings[j]
					if x.start.Before(y.end) && y.start.Before(x.end) {
						t.Errorf("%s %s double-booked: %s [%v,%v] overlaps %s [%v,%v]",
							kind, id, x.planID, x.start, x.end, y.planID, y.start, y.end)
					}
				}
			}
		}
	}
	checkDisjoint("worker", byWorker)
	checkDisjoint("substation", bySubstation)
}

func TestQueueLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, _, _, res := launchedChain(t, env)
	workerID := res.Assignments[0].WorkerID

	queue, err := env.Engine.TaskQueue(env.Ctx, workerID)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length: %d", len(queue))
	}
	if !queue[0].Startable || queue[1].Startable {
		t.Fatalf("startable flags: %+v", queue)
	}
	if queue[0].NodeName != "cut" || queue[1].NodeName != "weld" {
		t.Fatalf("queue order: %s, %s", queue[0].NodeName, queue[1].NodeName)
	}

	// the queued tail cannot start
	if _, err := env.Engine.StartAssignment(env.Ctx, queue[1].ID, "tester"); err == nil {
		t.Fatal("expected queued start rejection")
	}
	started, err := env.Engine.StartAssignment(env.Ctx, queue[0].ID, "tester")
	if err != nil || started.Status != domain.AssignmentInProgress {
		t.Fatalf("start: %+v (%v)", started, err)
	}
	sub, _ := env.Engine.Repo.GetSubstation(env.Ctx, nil, started.SubstationID)
	if sub.Status != domain.SubstationInUse {
		t.Fatalf("substation during work: %+v", sub)
	}
	// double start is rejected
	if _, err := env.Engine.StartAssignment(env.Ctx, queue[0].ID, "tester"); err == nil {
		t.Fatal("expected double start rejection")
	}

	completed, err := env.Engine.CompleteAssignment(env.Ctx, queue[0].ID, "tester")
	if err != nil || completed.Status != domain.AssignmentCompleted {
		t.Fatalf("complete: %+v (%v)", completed, err)
	}
	// next task promoted and its substation reserved
	queue, _ = env.Engine.TaskQueue(env.Ctx, workerID)
	if len(queue) != 1 || queue[0].Status != domain.AssignmentPending || !queue[0].Startable {
		t.Fatalf("queue after completion: %+v", queue)
	}
	sub, _ = env.Engine.Repo.GetSubstation(env.Ctx, nil, queue[0].SubstationID)
	if sub.Status != domain.SubstationReserved {
		t.Fatalf("promoted substation: %+v", sub)
	}

	if _, err := env.Engine.StartAssignment(env.Ctx, queue[0].ID, "tester"); err != nil {
		t.Fatalf("start promoted: %v", err)
	}
	if _, err := env.Engine.CompleteAssignment(env.Ctx, queue[0].ID, "tester"); err != nil {
		t.Fatalf("complete promoted: %v", err)
	}
	// all work done: plan completed, substations idle
	got, _ := env.Engine.Repo.GetPlan(env.Ctx, nil, p.ID)
	if got.Status != domain.PlanCompleted {
		t.Fatalf("plan after all work: %s", got.Status)
	}
}
