package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"prodline/internal/config"
	"prodline/internal/db"
	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/migrate"
	"prodline/internal/repo"
	"prodline/internal/schedule"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// frozenNow is a Monday 08:00 UTC, the start of the default calendar's shift.
var frozenNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return frozenNow }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// seedFloor provisions two interchangeable assembly workers, one station with
// two substations and a raw material.
func seedFloor(t *testing.T, env testEnv) {
	t.Helper()
	r := env.Engine.Repo
	if err := r.UpsertSkill(env.Ctx, domain.Skill{ID: "sk-asm", Name: "Assembly"}); err != nil {
		t.Fatalf("skill: %v", err)
	}
	if err := r.UpsertOperation(env.Ctx, domain.Operation{ID: "op-asm", Name: "Assemble", SkillIDs: []string{"sk-asm"}}); err != nil {
		t.Fatalf("operation: %v", err)
	}
	if err := r.UpsertStation(env.Ctx, domain.Station{ID: "st-1", Name: "Bench"}); err != nil {
		t.Fatalf("station: %v", err)
	}
	for _, id := range []string{"sub-1", "sub-2"} {
		if err := r.UpsertSubstation(env.Ctx, domain.Substation{
			ID: id, StationID: "st-1", Name: id, IsActive: true, Status: domain.SubstationAvailable,
		}); err != nil {
			t.Fatalf("substation %s: %v", id, err)
		}
	}
	for _, id := range []string{"w-1", "w-2"} {
		if err := r.UpsertWorker(env.Ctx, domain.Worker{
			ID: id, Name: id, Status: domain.WorkerAvailable,
			SkillIDs: []string{"sk-asm"}, ScheduleMode: domain.ScheduleCompany, ShiftLane: "1",
		}); err != nil {
			t.Fatalf("worker %s: %v", id, err)
		}
	}
	if err := r.UpsertMaterial(env.Ctx, domain.Material{Code: "RM-STEEL", Name: "Steel", Unit: "kg", Stock: 100}); err != nil {
		t.Fatalf("material: %v", err)
	}
}

func addNode(t *testing.T, env testEnv, planID, name string, minutes float64, opts func(*engine.NodeCreateOptions)) domain.Node {
	t.Helper()
	o := engine.NodeCreateOptions{
		PlanID:      planID,
		Name:        name,
		OperationID: "op-asm",
		NominalTime: minutes,
		Stations:    []domain.StationOption{{StationID: "st-1", Priority: 1}},
		ActorID:     "tester",
	}
	if opts != nil {
		opts(&o)
	}
	n, err := env.Engine.AddNode(env.Ctx, o)
	if err != nil {
		t.Fatalf("add node %s: %v", name, err)
	}
	return n
}

func TestCreatePlanDefaults(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "batch", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != domain.PlanDraft || p.Quantity != 1 {
		t.Fatalf("plan: %+v", p)
	}
	if _, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ActorID: "tester"}); err == nil {
		t.Fatal("expected name required")
	}
	bad := 150.0
	if _, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "x", DefectRate: &bad}); err == nil {
		t.Fatal("expected defect rate rejection")
	}
}

func TestAddNodeValidation(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "batch", ActorID: "tester"})

	n := addNode(t, env, p.ID, "cut", 30, func(o *engine.NodeCreateOptions) { o.Efficiency = 0.5 })
	if n.EffectiveTime != 60 {
		t.Fatalf("effective time: %v", n.EffectiveTime)
	}
	if n.SequenceOrder != 1 {
		t.Fatalf("sequence order: %d", n.SequenceOrder)
	}
	if _, err := env.Engine.AddNode(env.Ctx, engine.NodeCreateOptions{
		PlanID: p.ID, Name: "bad", OperationID: "op-asm", NominalTime: 10, Efficiency: 1.5,
	}); err == nil {
		t.Fatal("expected efficiency rejection")
	}
	if _, err := env.Engine.AddNode(env.Ctx, engine.NodeCreateOptions{
		PlanID: p.ID, Name: "bad", OperationID: "op-missing", NominalTime: 10,
	}); err == nil {
		t.Fatal("expected unknown operation rejection")
	}
}

func TestAddEdgeValidation(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p1, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "p1", ActorID: "tester"})
	p2, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "p2", ActorID: "tester"})
	a := addNode(t, env, p1.ID, "a", 10, nil)
	b := addNode(t, env, p1.ID, "b", 10, nil)
	other := addNode(t, env, p2.ID, "c", 10, nil)

	if err := env.Engine.AddEdge(env.Ctx, b.ID, a.ID, "tester"); err != nil {
		t.Fatalf("edge: %v", err)
	}
	if err := env.Engine.AddEdge(env.Ctx, a.ID, a.ID, "tester"); err == nil {
		t.Fatal("expected self-edge rejection")
	}
	if err := env.Engine.AddEdge(env.Ctx, b.ID, other.ID, "tester"); err == nil {
		t.Fatal("expected cross-plan rejection")
	}
	if err := env.Engine.AddEdge(env.Ctx, b.ID, "ghost", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPlanStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "batch", ActorID: "tester"})
	p, err := env.Engine.SetPlanStatus(env.Ctx, p.ID, domain.PlanReady, "tester")
	if err != nil || p.Status != domain.PlanReady {
		t.Fatalf("to ready: %v", err)
	}
	p, err = env.Engine.SetPlanStatus(env.Ctx, p.ID, domain.PlanDraft, "tester")
	if err != nil || p.Status != domain.PlanDraft {
		t.Fatalf("back to draft: %v", err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, p.ID, domain.PlanCompleted, "tester"); err == nil {
		t.Fatal("draft cannot complete")
	}
}

func TestImportCalendarShapes(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.ImportCalendar(env.Ctx, []byte(`[{"lane":"1","weekday":"mon","blocks":[{"start":"08:00","end":"16:00"}]}]`), "tester"); err != nil {
		t.Fatalf("shift-array: %v", err)
	}
	week, err := env.Engine.DefaultCalendar(env.Ctx, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r := schedule.Resolver{Week: week}
	if got := r.Resolve(frozenNow, nil); len(got) != 1 || got[0].End != "16:00" {
		t.Fatalf("imported calendar not applied: %+v", got)
	}
	if err := env.Engine.ImportCalendar(env.Ctx, []byte(`{"mon":[{"start":"17:00","end":"08:00"}]}`), "tester"); err == nil {
		t.Fatal("expected invalid calendar rejection")
	}
}

func TestDefaultCalendarFallsBackToConfig(t *testing.T) {
	env := newTestEnv(t)
	week, err := env.Engine.DefaultCalendar(env.Ctx, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r := schedule.Resolver{Week: week}
	if got := schedule.WorkBlocks(r.Resolve(frozenNow, nil)); len(got) != 2 {
		t.Fatalf("config calendar monday: %+v", got)
	}
}

func TestEventsLoggedOnAuthoring(t *testing.T) {
	env := newTestEnv(t)
	seedFloor(t, env)
	p, _ := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{Name: "batch", ActorID: "tester"})
	addNode(t, env, p.ID, "cut", 10, nil)
	var count int
	if err := env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM events WHERE plan_id=?`, p.ID).Scan(&count); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count < 2 {
		t.Fatalf("expected plan.created and node.added events, got %d", count)
	}
}
