package server

import (
	"time"

	"prodline/internal/domain"
)

// Request payloads

type CreatePlanRequest struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name"`
	Quantity   float64  `json:"quantity,omitempty"`
	DefectRate *float64 `json:"defect_rate,omitempty"`
}

type SetPlanStatusRequest struct {
	Status string `json:"status" enum:"draft,ready,active,completed,cancelled"`
}

type CreateNodeRequest struct {
	ID          string                 `json:"id,omitempty"`
	Name        string                 `json:"name"`
	OperationID string                 `json:"operation_id"`
	NominalTime float64                `json:"nominal_time"`
	Efficiency  float64                `json:"efficiency,omitempty"`
	OutputCode  string                 `json:"output_code,omitempty"`
	OutputQty   float64                `json:"output_qty,omitempty"`
	OutputUnit  string                 `json:"output_unit,omitempty"`
	Materials   []domain.MaterialInput `json:"materials,omitempty"`
	Stations    []domain.StationOption `json:"stations,omitempty"`
}

type CreateEdgeRequest struct {
	NodeID        string `json:"node_id"`
	PredecessorID string `json:"predecessor_id"`
}

type UpsertWorkerRequest struct {
	Name           string             `json:"name"`
	Status         string             `json:"status,omitempty" enum:"available,busy,break,inactive"`
	SkillIDs       []string           `json:"skill_ids,omitempty"`
	ScheduleMode   string             `json:"schedule_mode,omitempty" enum:"personal,company"`
	ShiftLane      string             `json:"shift_lane,omitempty"`
	PersonalBlocks []domain.DayBlocks `json:"personal_blocks,omitempty"`
}

type AbsenceRequest struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Reason string    `json:"reason,omitempty"`
}

type UpsertStationRequest struct {
	Name     string   `json:"name"`
	SkillIDs []string `json:"skill_ids,omitempty"`
}

type UpsertSubstationRequest struct {
	StationID string `json:"station_id"`
	Name      string `json:"name"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

type UpsertMaterialRequest struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit,omitempty"`
	Stock float64 `json:"stock"`
}

type HolidayRequest struct {
	ID           string         `json:"id,omitempty"`
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	Name         string         `json:"name,omitempty"`
	IsWorkingDay bool           `json:"is_working_day,omitempty"`
	Blocks       []domain.Block `json:"blocks,omitempty"`
}

// Response payloads

type PlanResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status" enum:"draft,ready,active,completed,cancelled"`
	Quantity   float64 `json:"quantity"`
	DefectRate float64 `json:"defect_rate"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LaunchedAt *string `json:"launched_at,omitempty" format:"date-time"`
}

type AssignmentResponse struct {
	ID             string             `json:"id"`
	PlanID         string             `json:"plan_id"`
	NodeID         string             `json:"node_id"`
	WorkerID       string             `json:"worker_id"`
	SubstationID   string             `json:"substation_id"`
	Status         string             `json:"status" enum:"pending,queued,in_progress,paused,completed,cancelled"`
	EstimatedStart string             `json:"estimated_start" format:"date-time"`
	EstimatedEnd   string             `json:"estimated_end" format:"date-time"`
	SequenceNumber int                `json:"sequence_number"`
	IsUrgent       bool               `json:"is_urgent"`
	Reserved       map[string]float64 `json:"pre_production_reserved_amount,omitempty"`
	PlannedOutput  map[string]float64 `json:"planned_output,omitempty"`
	StartedAt      *string            `json:"started_at,omitempty" format:"date-time"`
	CompletedAt    *string            `json:"completed_at,omitempty" format:"date-time"`
}

type QueueItemResponse struct {
	AssignmentResponse
	NodeName  string `json:"node_name"`
	Startable bool   `json:"startable"`
}

func fmtTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTSPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTS(*t)
	return &s
}

func planResponse(p domain.Plan) PlanResponse {
	return PlanResponse{
		ID:         p.ID,
		Name:       p.Name,
		Status:     p.Status,
		Quantity:   p.Quantity,
		DefectRate: p.DefectRate,
		CreatedAt:  fmtTS(p.CreatedAt),
		LaunchedAt: fmtTSPtr(p.LaunchedAt),
	}
}

func mapPlans(items []domain.Plan) []PlanResponse {
	out := make([]PlanResponse, 0, len(items))
	for _, p := range items {
		out = append(out, planResponse(p))
	}
	return out
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:             a.ID,
		PlanID:         a.PlanID,
		NodeID:         a.NodeID,
		WorkerID:       a.WorkerID,
		SubstationID:   a.SubstationID,
		Status:         a.Status,
		EstimatedStart: fmtTS(a.EstimatedStart),
		EstimatedEnd:   fmtTS(a.EstimatedEnd),
		SequenceNumber: a.SequenceNumber,
		IsUrgent:       a.IsUrgent,
		Reserved:       a.Reserved,
		PlannedOutput:  a.PlannedOutput,
		StartedAt:      fmtTSPtr(a.StartedAt),
		CompletedAt:    fmtTSPtr(a.CompletedAt),
	}
}

func mapAssignments(items []domain.Assignment) []AssignmentResponse {
	out := make([]AssignmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, assignmentResponse(a))
	}
	return out
}

func queueResponse(items []domain.QueueItem) []QueueItemResponse {
	out := make([]QueueItemResponse, 0, len(items))
	for _, q := range items {
		out = append(out, QueueItemResponse{
			AssignmentResponse: assignmentResponse(q.Assignment),
			NodeName:           q.NodeName,
			Startable:          q.Startable,
		})
	}
	return out
}
