package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prodline/internal/config"
	"prodline/internal/domain"
	"prodline/internal/events"
	"prodline/internal/repo"
	"prodline/internal/schedule"
)

// Settings keys.
const (
	SettingConfig   = "config"
	SettingCalendar = "default_calendar"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
	Metrics *schedule.Counters
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
		Metrics: &schedule.Counters{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InvalidStatusError means the plan's current status forbids the operation.
type InvalidStatusError struct {
	PlanID string
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("plan %s cannot be launched from status %s", e.PlanID, e.Status)
}

// PlanCreateOptions are parameters for creating a plan.
type PlanCreateOptions struct {
	ID         string
	Name       string
	Quantity   float64
	DefectRate *float64
	ActorID    string
}

func (e Engine) CreatePlan(ctx context.Context, opts PlanCreateOptions) (domain.Plan, error) {
	if opts.Name == "" {
		return domain.Plan{}, errors.New("name is required")
	}
	if opts.Quantity <= 0 {
		opts.Quantity = 1
	}
	rate := 0.0
	if e.Config != nil {
		rate = e.Config.Scheduling.DefaultDefectRate
	}
	if opts.DefectRate != nil {
		rate = *opts.DefectRate
	}
	if rate < 0 || rate > 100 {
		return domain.Plan{}, errors.New("defect rate must be within 0..100")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Plan{
		ID:         id,
		Name:       opts.Name,
		Status:     domain.PlanDraft,
		Quantity:   opts.Quantity,
		DefectRate: rate,
		CreatedAt:  e.now().UTC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Plan{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPlan(ctx, tx, p); err != nil {
		return domain.Plan{}, fmt.Errorf("insert plan: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "plan.created", p.ID, "plan", p.ID, opts.ActorID, events.EventPayload{"name": p.Name, "quantity": p.Quantity}); err != nil {
		return domain.Plan{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Plan{}, err
	}
	return p, nil
}

// NodeCreateOptions are parameters for adding a node to a plan.
type NodeCreateOptions struct {
	ID          string
	PlanID      string
	Name        string
	OperationID string
	NominalTime float64
	Efficiency  float64
	OutputCode  string
	OutputQty   float64
	OutputUnit  string
	Materials   []domain.MaterialInput
	Stations    []domain.StationOption
	ActorID     string
}

func (e Engine) AddNode(ctx context.Context, opts NodeCreateOptions) (domain.Node, error) {
	if opts.Name == "" {
		return domain.Node{}, errors.New("name is required")
	}
	if opts.NominalTime <= 0 {
		return domain.Node{}, errors.New("nominal time must be positive")
	}
	if opts.Efficiency == 0 {
		opts.Efficiency = 1
	}
	if opts.Efficiency <= 0 || opts.Efficiency > 1 {
		return domain.Node{}, errors.New("efficiency must be within (0,1]")
	}
	plan, err := e.Repo.GetPlan(ctx, nil, opts.PlanID)
	if err != nil {
		return domain.Node{}, err
	}
	if plan.Status != domain.PlanDraft && plan.Status != domain.PlanReady {
		return domain.Node{}, fmt.Errorf("plan %s is %s; nodes can only be added before launch", plan.ID, plan.Status)
	}
	if _, err := e.Repo.GetOperation(ctx, nil, opts.OperationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Node{}, fmt.Errorf("operation %s not found", opts.OperationID)
		}
		return domain.Node{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	nodes, err := e.Repo.ListNodes(ctx, nil, plan.ID)
	if err != nil {
		return domain.Node{}, err
	}
	n := domain.Node{
		ID:          id,
		PlanID:      plan.ID,
		Name:        opts.Name,
		OperationID: opts.OperationID,
		NominalTime: opts.NominalTime,
		Efficiency:  opts.Efficiency,
		// Kept consistent with nominal time and efficiency at every write.
		EffectiveTime: opts.NominalTime / opts.Efficiency,
		OutputCode:    opts.OutputCode,
		OutputQty:     opts.OutputQty,
		OutputUnit:    opts.OutputUnit,
		SequenceOrder: len(nodes) + 1,
		Materials:     opts.Materials,
		Stations:      opts.Stations,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Node{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertNode(ctx, tx, n); err != nil {
		return domain.Node{}, err
	}
	if err := e.Events.Append(ctx, tx, "node.added", plan.ID, "node", n.ID, opts.ActorID, events.EventPayload{"name": n.Name, "operation": n.OperationID}); err != nil {
		return domain.Node{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Node{}, err
	}
	return n, nil
}

// AddEdge records that node depends on predecessor. Cycle detection is
// deferred to launch, where the full edge set is known.
func (e Engine) AddEdge(ctx context.Context, nodeID, predecessorID, actorID string) error {
	if nodeID == predecessorID {
		return errors.New("node cannot depend on itself")
	}
	node, err := e.Repo.GetNode(ctx, nil, nodeID)
	if err != nil {
		return err
	}
	pred, err := e.Repo.GetNode(ctx, nil, predecessorID)
	if err != nil {
		return err
	}
	if node.PlanID != pred.PlanID {
		return errors.New("predecessor belongs to a different plan")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEdge(ctx, tx, domain.Edge{NodeID: nodeID, PredecessorID: predecessorID}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "edge.added", node.PlanID, "node", nodeID, actorID, events.EventPayload{"predecessor": predecessorID}); err != nil {
		return err
	}
	return tx.Commit()
}

func ensurePlanTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.PlanDraft:
		if newStatus == domain.PlanReady || newStatus == domain.PlanCancelled {
			return nil
		}
	case domain.PlanReady:
		if newStatus == domain.PlanDraft || newStatus == domain.PlanCancelled {
			return nil
		}
	case domain.PlanActive:
		if newStatus == domain.PlanCompleted || newStatus == domain.PlanCancelled {
			return nil
		}
	}
	return fmt.Errorf("invalid plan status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetPlanStatus(ctx context.Context, planID, status, actorID string) (domain.Plan, error) {
	p, err := e.Repo.GetPlan(ctx, nil, planID)
	if err != nil {
		return p, err
	}
	if err := ensurePlanTransition(p.Status, status); err != nil {
		return p, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePlanStatus(ctx, tx, planID, status, nil); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "plan.status", planID, "plan", planID, actorID, events.EventPayload{"from": p.Status, "to": status}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = status
	return p, nil
}

// ImportCalendar validates a default-calendar document (any accepted shape)
// and stores it. The stored document is re-normalized on every launch, so a
// shape that parses here keeps parsing there.
func (e Engine) ImportCalendar(ctx context.Context, raw []byte, actorID string) error {
	if _, err := schedule.ParseCalendar(raw); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.PutSetting(ctx, tx, SettingCalendar, raw); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "calendar.imported", "", "calendar", SettingCalendar, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// DefaultCalendar loads and normalizes the stored default calendar, falling
// back to the config document when none was imported.
func (e Engine) DefaultCalendar(ctx context.Context, tx *sql.Tx) (schedule.Week, error) {
	raw, err := e.Repo.GetSetting(ctx, tx, SettingCalendar)
	if errors.Is(err, repo.ErrNotFound) {
		if e.Config == nil {
			return schedule.Week{}, nil
		}
		raw, err = e.Config.CalendarJSON()
	}
	if err != nil {
		return schedule.Week{}, err
	}
	return schedule.ParseCalendar(raw)
}

// MetricsSnapshot reports process-wide scheduling counters.
func (e Engine) MetricsSnapshot() map[string]int64 {
	if e.Metrics == nil {
		return map[string]int64{}
	}
	return e.Metrics.Snapshot()
}

// ResetMetrics zeroes the counters; administrative use only.
func (e Engine) ResetMetrics(ctx context.Context, actorID string) error {
	if e.Metrics != nil {
		e.Metrics.Reset()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "metrics.reset", "", "metrics", "", actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
