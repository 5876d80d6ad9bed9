package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/analysis"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/storage"
)

type traceSummaryDTO struct {
	TraceID    uuid.UUID `json:"trace_id"`
	FirstSeen  time.Time `json:"first_seen"`
	EventCount int       `json:"event_count,omitempty"`
}

type paginationDTO struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
}

type tracesPageDTO struct {
	Traces     []traceSummaryDTO `json:"traces"`
	Pagination paginationDTO     `json:"pagination"`
}

type eventNodeDTO struct {
	ID       uuid.UUID      `json:"id"`
	ParentID *uuid.UUID     `json:"parent_id,omitempty"`
	Kind     string         `json:"kind"`
	Service  string         `json:"service"`
	ThreadID string         `json:"thread_id"`
	Time     time.Time      `json:"timestamp"`
	Children []eventNodeDTO `json:"children,omitempty"`
}

func eventToNodeDTO(e *event.Event) eventNodeDTO {
	return eventNodeDTO{
		ID:       e.ID,
		ParentID: e.ParentID,
		Kind:     e.Kind.Variant(),
		Service:  e.Metadata.ServiceName,
		ThreadID: e.Metadata.ThreadID,
		Time:     e.Timestamp,
	}
}

// buildTree nests events parent->child for the trace-tree view. Events
// whose parent lies outside the set become additional roots.
func buildTree(events []*event.Event) []eventNodeDTO {
	nodes := make(map[uuid.UUID]*eventNodeDTO, len(events))
	for _, e := range events {
		n := eventToNodeDTO(e)
		nodes[e.ID] = &n
	}

	var roots []*eventNodeDTO
	kids := make(map[uuid.UUID][]uuid.UUID, len(events))
	for _, e := range events {
		n := nodes[e.ID]
		if e.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		if _, ok := nodes[*e.ParentID]; !ok {
			roots = append(roots, n)
			continue
		}
		kids[*e.ParentID] = append(kids[*e.ParentID], e.ID)
	}

	var materialize func(id uuid.UUID) eventNodeDTO
	materialize = func(id uuid.UUID) eventNodeDTO {
		n := *nodes[id]
		for _, child := range kids[id] {
			n.Children = append(n.Children, materialize(child))
		}
		return n
	}

	out := make([]eventNodeDTO, 0, len(roots))
	for _, r := range roots {
		out = append(out, materialize(r.ID))
	}
	return out
}

type raceDTO struct {
	Severity    analysis.RaceSeverity `json:"severity"`
	Variable    string                `json:"variable"`
	EventA      uuid.UUID             `json:"event_a"`
	EventB      uuid.UUID             `json:"event_b"`
	Description string                `json:"description"`
}

func raceToDTO(r analysis.RaceCondition) raceDTO {
	return raceDTO{Severity: r.Severity, Variable: r.Variable, EventA: r.EventA, EventB: r.EventB, Description: r.Description}
}

type criticalPathDTO struct {
	EventIDs        []uuid.UUID `json:"event_ids"`
	CumulativeNs    uint64      `json:"cumulative_ns"`
	TotalSpanNs     uint64      `json:"total_span_ns"`
	FractionOfTotal float64     `json:"fraction_of_total"`
}

func criticalPathToDTO(p analysis.CriticalPath) criticalPathDTO {
	return criticalPathDTO{
		EventIDs:        p.EventIDs,
		CumulativeNs:    p.CumulativeNs,
		TotalSpanNs:     p.TotalSpanNs,
		FractionOfTotal: p.FractionOfTotal,
	}
}

type anomalyDTO struct {
	EventID     uuid.UUID               `json:"event_id"`
	Operation   string                  `json:"operation"`
	Z           float64                 `json:"z"`
	ExpectedMs  float64                 `json:"expected_ms"`
	ActualMs    float64                 `json:"actual_ms"`
	Severity    storage.AnomalySeverity `json:"severity"`
	Description string                  `json:"description"`
}

func anomalyToDTO(a analysis.Anomaly) anomalyDTO {
	return anomalyDTO{
		EventID:     a.EventID,
		Operation:   a.Operation,
		Z:           a.Z,
		ExpectedMs:  a.ExpectedMs,
		ActualMs:    a.ActualMs,
		Severity:    a.Severity,
		Description: a.Description,
	}
}

type dependencyDTO struct {
	FromService string `json:"from_service"`
	ToService   string `json:"to_service"`
	CallCount   int    `json:"call_count"`
	Dangling    bool   `json:"dangling"`
}

func dependencyToDTO(d analysis.ServiceDependency) dependencyDTO {
	return dependencyDTO{FromService: d.FromService, ToService: d.ToService, CallCount: d.CallCount, Dangling: d.Dangling}
}

type auditEntryDTO struct {
	EventID   uuid.UUID `json:"event_id"`
	TraceID   uuid.UUID `json:"trace_id"`
	ThreadID  string    `json:"thread_id"`
	Timestamp time.Time `json:"timestamp"`
	OldValue  []byte    `json:"old_value,omitempty"`
	NewValue  []byte    `json:"new_value,omitempty"`
	IsRacy    bool      `json:"is_racy"`
}

func auditEntryToDTO(a analysis.AuditEntry) auditEntryDTO {
	return auditEntryDTO{
		EventID: a.EventID, TraceID: a.TraceID, ThreadID: a.ThreadID,
		Timestamp: a.Timestamp, OldValue: a.OldValue, NewValue: a.NewValue, IsRacy: a.IsRacy,
	}
}

type traceBundleDTO struct {
	TraceID      uuid.UUID         `json:"trace_id"`
	EventCount   int               `json:"event_count"`
	Races        []raceDTO         `json:"races"`
	CriticalPath criticalPathDTO   `json:"critical_path"`
	Dependencies []dependencyDTO   `json:"dependencies"`
}

type baselineDTO struct {
	Operation string  `json:"operation"`
	Count     uint64  `json:"count"`
	MeanMs    float64 `json:"mean_ms"`
	StdDevMs  float64 `json:"stddev_ms"`
	MinMs     float64 `json:"min_ms"`
	MaxMs     float64 `json:"max_ms"`
}

func baselineToDTO(b storage.Baseline) baselineDTO {
	return baselineDTO{
		Operation: b.Operation,
		Count:     b.Count,
		MeanMs:    b.Mean / 1e6,
		StdDevMs:  b.StdDev() / 1e6,
		MinMs:     float64(b.Min) / 1e6,
		MaxMs:     float64(b.Max) / 1e6,
	}
}

type statusDTO struct {
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_s"`
	EventsCaptured int64  `json:"events_captured"`
	TracesActive   int64  `json:"traces_active"`
}

// variableRaceCountDTO is one entry of top_variables_by_race_count.
type variableRaceCountDTO struct {
	Variable string `json:"variable"`
	Count    int    `json:"count"`
}

// globalAnalysisDTO is the supplemented cross-trace summary served by
// /api/analyze/global: aggregate race counts across every known trace
// rather than one merged trace's bundle.
type globalAnalysisDTO struct {
	TotalTraces             int                    `json:"total_traces"`
	TotalEvents             int                    `json:"total_events"`
	RacesBySeverity         map[string]int         `json:"races_by_severity"`
	TopVariablesByRaceCount []variableRaceCountDTO `json:"top_variables_by_race_count"`
}

// performanceMetricsDTO is the body of GET /api/performance/metrics:
// per-operation latency baselines plus the running count of distinct
// anomalies persisted across every trace.
type performanceMetricsDTO struct {
	Baselines              []baselineDTO `json:"baselines"`
	AnomaliesDetectedTotal int64         `json:"anomalies_detected_total"`
}
