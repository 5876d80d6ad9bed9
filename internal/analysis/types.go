// Package analysis implements race detection, critical-path analysis,
// anomaly detection, audit trails, and service-dependency extraction
// over a built causal graph (spec §4.5).
package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/archtrace/raceway/internal/storage"
)

// RaceSeverity classifies a detected race condition.
type RaceSeverity string

const (
	RaceCritical RaceSeverity = "CRITICAL"
	RaceWarning  RaceSeverity = "WARNING"
	RaceInfo     RaceSeverity = "INFO"
)

// RaceCondition is one reported race between two StateChange events on
// the same variable.
type RaceCondition struct {
	Severity    RaceSeverity
	Variable    string
	EventA      uuid.UUID
	EventB      uuid.UUID
	Description string
}

// CriticalPath is the longest-weighted path through a merged trace's
// causal DAG.
type CriticalPath struct {
	EventIDs        []uuid.UUID
	CumulativeNs    uint64
	TotalSpanNs     uint64
	FractionOfTotal float64
}

// Anomaly is one performance deviation flagged against an operation's
// baseline.
type Anomaly struct {
	EventID     uuid.UUID
	Operation   string
	Z           float64
	ExpectedMs  float64
	ActualMs    float64
	Severity    storage.AnomalySeverity
	Description string
}

// AuditEntry is one StateChange event in a variable's audit trail,
// annotated with whether it participates in any reported race.
type AuditEntry struct {
	EventID   uuid.UUID
	TraceID   uuid.UUID
	ThreadID  string
	Timestamp time.Time
	OldValue  []byte
	NewValue  []byte
	IsRacy    bool
}

// ServiceDependency is one collapsed (from, to) service edge with its
// call count.
type ServiceDependency struct {
	FromService string
	ToService   string
	CallCount   int
	Dangling    bool
}
