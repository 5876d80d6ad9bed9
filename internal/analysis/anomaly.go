package analysis

import (
	"fmt"

	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/storage"
)

// minBaselineSamples is the sample count spec §4.5 step 2 requires
// before a baseline is trusted for z-score comparison.
const minBaselineSamples = 5

// BaselineLookup resolves the running baseline for an operation key.
// Implemented by storage.Storage in production; a plain map suffices in
// tests.
type BaselineLookup func(operation string) (storage.Baseline, bool)

// DetectAnomalies compares each duration-bearing event's operation key
// against its baseline and flags statistically significant deviations
// (spec §4.5 "Anomaly detection").
func DetectAnomalies(events []*event.Event, lookup BaselineLookup) []Anomaly {
	var anomalies []Anomaly
	for _, e := range events {
		if !e.HasDuration() {
			continue
		}
		op, ok := e.OperationKey()
		if !ok {
			continue
		}
		baseline, ok := lookup(op)
		if !ok || baseline.Count < minBaselineSamples {
			continue
		}
		stddev := baseline.StdDev()
		if stddev == 0 {
			continue
		}

		durationNs := float64(e.DurationNs())
		z := (durationNs - baseline.Mean) / stddev
		if z < 2 {
			continue
		}

		severity := severityFor(z)
		anomalies = append(anomalies, Anomaly{
			EventID:     e.ID,
			Operation:   op,
			Z:           z,
			ExpectedMs:  baseline.Mean / 1e6,
			ActualMs:    durationNs / 1e6,
			Severity:    severity,
			Description: fmt.Sprintf("%s duration %.2fms is %.1fσ above baseline %.2fms", op, durationNs/1e6, z, baseline.Mean/1e6),
		})
	}
	return anomalies
}

func severityFor(z float64) storage.AnomalySeverity {
	switch {
	case z >= 5:
		return storage.AnomalyCritical
	case z >= 3:
		return storage.AnomalyWarning
	default:
		return storage.AnomalyMinor
	}
}
