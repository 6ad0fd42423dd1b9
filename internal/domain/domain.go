package domain

import "time"

// Plan statuses.
const (
	PlanDraft     = "draft"
	PlanReady     = "ready"
	PlanActive    = "active"
	PlanCompleted = "completed"
	PlanCancelled = "cancelled"
)

// Assignment statuses.
const (
	AssignmentPending    = "pending"
	AssignmentQueued     = "queued"
	AssignmentInProgress = "in_progress"
	AssignmentPaused     = "paused"
	AssignmentCompleted  = "completed"
	AssignmentCancelled  = "cancelled"
)

// Worker statuses.
const (
	WorkerAvailable = "available"
	WorkerBusy      = "busy"
	WorkerOnBreak   = "break"
	WorkerInactive  = "inactive"
)

// Substation statuses.
const (
	SubstationAvailable = "available"
	SubstationReserved  = "reserved"
	SubstationInUse     = "in_use"
)

// Worker schedule modes.
const (
	SchedulePersonal = "personal"
	ScheduleCompany  = "company"
)

type Plan struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     string     `json:"status" enum:"draft,ready,active,completed,cancelled"`
	Quantity   float64    `json:"quantity"`
	DefectRate float64    `json:"defect_rate"`
	CreatedAt  time.Time  `json:"created_at"`
	LaunchedAt *time.Time `json:"launched_at,omitempty"`
}

// Node is one manufacturing operation inside a plan's DAG.
type Node struct {
	ID            string          `json:"id"`
	PlanID        string          `json:"plan_id"`
	Name          string          `json:"name"`
	OperationID   string          `json:"operation_id"`
	NominalTime   float64         `json:"nominal_time"`
	Efficiency    float64         `json:"efficiency"`
	EffectiveTime float64         `json:"effective_time"`
	OutputCode    string          `json:"output_code,omitempty"`
	OutputQty     float64         `json:"output_qty"`
	OutputUnit    string          `json:"output_unit,omitempty"`
	SequenceOrder int             `json:"sequence_order"`
	Materials     []MaterialInput `json:"materials,omitempty"`
	Stations      []StationOption `json:"stations,omitempty"`
	EstStart      *time.Time      `json:"est_start,omitempty"`
	EstEnd        *time.Time      `json:"est_end,omitempty"`
	AssignmentID  *string         `json:"assignment_id,omitempty"`
}

// Edge points from a node to one of its predecessors.
type Edge struct {
	NodeID        string `json:"node_id"`
	PredecessorID string `json:"predecessor_id"`
}

type MaterialInput struct {
	MaterialCode string  `json:"material_code"`
	Required     float64 `json:"required"`
	UnitRatio    float64 `json:"unit_ratio"`
	IsDerived    bool    `json:"is_derived"`
}

// StationOption is a candidate station for a node, lower Priority first.
type StationOption struct {
	StationID string `json:"station_id"`
	Priority  int    `json:"priority"`
}

type Operation struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	SkillIDs []string `json:"skill_ids,omitempty"`
}

type Skill struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DayBlocks are a worker's personal work blocks for one weekday (0=Sunday).
type DayBlocks struct {
	Weekday int     `json:"weekday"`
	Blocks  []Block `json:"blocks"`
}

type Worker struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Status         string      `json:"status" enum:"available,busy,break,inactive"`
	SkillIDs       []string    `json:"skill_ids,omitempty"`
	ScheduleMode   string      `json:"schedule_mode" enum:"personal,company"`
	ShiftLane      string      `json:"shift_lane,omitempty"`
	PersonalBlocks []DayBlocks `json:"personal_blocks,omitempty"`
	Absences       []Absence   `json:"absences,omitempty"`
}

type Absence struct {
	WorkerID string    `json:"worker_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Reason   string    `json:"reason,omitempty"`
}

type Station struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	SkillIDs []string `json:"skill_ids,omitempty"`
}

type Substation struct {
	ID                  string     `json:"id"`
	StationID           string     `json:"station_id"`
	Name                string     `json:"name"`
	IsActive            bool       `json:"is_active"`
	Status              string     `json:"status" enum:"available,reserved,in_use"`
	CurrentExpectedEnd  *time.Time `json:"current_expected_end,omitempty"`
	CurrentAssignmentID *string    `json:"current_assignment_id,omitempty"`
}

/// Block is a work or break interval within one day, "HH:MM" bounds.
type Block struct {
	Kind  string `json:"kind" enum:"work,break"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type Holiday struct {
	ID           string    `json:"id"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Name         string    `json:"name,omitempty"`
	IsWorkingDay bool      `json:"is_working_day"`
	Blocks       []Block   `json:"blocks,omitempty"`
}

type Material struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Stock float64 `json:"stock"`
}

type Assignment struct {
	ID             string             `json:"id"`
	PlanID         string             `json:"plan_id"`
	NodeID         string             `json:"node_id"`
	WorkerID       string             `json:"worker_id"`
	SubstationID   string             `json:"substation_id"`
	OperationID    string             `json:"operation_id"`
	Status         string             `json:"status" enum:"pending,queued,in_progress,paused,completed,cancelled"`
	EstimatedStart time.Time          `json:"estimated_start"`
	EstimatedEnd   time.Time          `json:"estimated_end"`
	SequenceNumber int                `json:"sequence_number"`
	IsUrgent       bool               `json:"is_urgent"`
	Reserved       map[string]float64 `json:"pre_production_reserved_amount,omitempty"`
	PlannedOutput  map[string]float64 `json:"planned_output,omitempty"`
	ReservationSt  string             `json:"material_reservation_status,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// QueueItem is an assignment in a worker's queue with its readiness flag.
type QueueItem struct {
	Assignment
	NodeName  string `json:"node_name"`
	Startable bool   `json:"startable"`
}

type MaterialWarning struct {
	NodeNames    []string `json:"node_names"`
	MaterialCode string   `json:"material_code"`
	Required     float64  `json:"required"`
	Available    float64  `json:"available"`
	Shortage     float64  `json:"shortage"`
	Unit         string   `json:"unit,omitempty"`
}

type LaunchSummary struct {
	TotalNodes        int       `json:"total_nodes"`
	AssignedNodes     int       `json:"assigned_nodes"`
	TotalWorkers      int       `json:"total_workers"`
	TotalSubstations  int       `json:"total_substations"`
	EstimatedStart    time.Time `json:"estimated_start_time"`
	EstimatedEnd      time.Time `json:"estimated_end_time"`
	EstimatedDuration float64   `json:"estimated_duration_minutes"`
}

type AssignmentSummary struct {
	NodeID         string             `json:"node_id"`
	NodeName       string             `json:"node_name"`
	WorkerID       string             `json:"worker_id"`
	WorkerName     string             `json:"worker_name"`
	SubstationID   string             `json:"substation_id"`
	SubstationName string             `json:"substation_name"`
	EstimatedStart time.Time          `json:"estimated_start"`
	EstimatedEnd   time.Time          `json:"estimated_end"`
	SequenceNumber int                `json:"sequence_number"`
	IsQueued       bool               `json:"is_queued"`
	Reserved       map[string]float64 `json:"pre_production_reserved_amount,omitempty"`
	PlannedOutput  map[string]float64 `json:"planned_output,omitempty"`
	ReservationSt  string             `json:"material_reservation_status,omitempty"`
}

type LaunchResult struct {
	PlanID      string              `json:"plan_id"`
	Status      string              `json:"status"`
	LaunchedAt  time.Time           `json:"launched_at"`
	Summary     LaunchSummary       `json:"summary"`
	Assignments []AssignmentSummary `json:"assignments"`
	QueuedTasks int                 `json:"queued_tasks"`
	Warnings    *LaunchWarnings     `json:"warnings,omitempty"`
}

type LaunchWarnings struct {
	Materials []MaterialWarning `json:"materials"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	PlanID     string `json:"plan_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
