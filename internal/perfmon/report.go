package perfmon

import (
	"sort"
	"time"
)

// OperationReport summarises one operation over the report period.
type OperationReport struct {
	Operation      string        `json:"operation"`
	Calls          int           `json:"calls"`
	MeanDuration   time.Duration `json:"meanDuration"`
	P50            time.Duration `json:"p50"`
	P95            time.Duration `json:"p95"`
	MeanMemory     int64         `json:"meanMemoryBytes"`
	MeanMatches    float64       `json:"meanPatternMatches"`
	MeanConfidence float64       `json:"meanConfidence"`
	CompliantRate  float64       `json:"australianCompliantRate"`
}

// Report is the operator-facing performance summary.
type Report struct {
	GeneratedAt     time.Time           `json:"generatedAt"`
	PeriodHours     int                 `json:"periodHours"`
	TotalCalls      int                 `json:"totalCalls"`
	Operations      []OperationReport   `json:"operations"`
	Recommendations []Recommendation    `json:"recommendations"`
	Baselines       map[string]Baseline `json:"baselines"`
}

// Report builds a performance summary covering the last periodHours of
// buffered metrics. Hours outside [1, 24] are clamped; the ring buffer
// bounds how far back data actually reaches.
func (m *Monitor) Report(periodHours int) Report {
	if periodHours < 1 {
		periodHours = 1
	}
	if periodHours > 24 {
		periodHours = 24
	}

	now := m.now()
	window := m.snapshotSince(now.Add(-time.Duration(periodHours) * time.Hour))

	byOp := make(map[string][]Metric)
	for _, mt := range window {
		byOp[mt.Operation] = append(byOp[mt.Operation], mt)
	}

	ops := make([]OperationReport, 0, len(byOp))
	for op, metrics := range byOp {
		ops = append(ops, summariseOperation(op, metrics))
	}
	// Stable order for operator output.
	sortOperationReports(ops)

	return Report{
		GeneratedAt:     now,
		PeriodHours:     periodHours,
		TotalCalls:      len(window),
		Operations:      ops,
		Recommendations: m.Recommendations(),
		Baselines:       m.Baselines(),
	}
}

func summariseOperation(op string, metrics []Metric) OperationReport {
	var (
		totalDur        time.Duration
		totalMem        int64
		totalMatches    int
		totalConfidence float64
		compliant       int
	)
	for _, mt := range metrics {
		totalDur += mt.Duration
		totalMem += mt.MemoryDelta
		totalMatches += mt.PatternMatches
		totalConfidence += mt.Confidence
		if mt.Compliant {
			compliant++
		}
	}

	n := len(metrics)
	sorted := sortedDurations(metrics)

	return OperationReport{
		Operation:      op,
		Calls:          n,
		MeanDuration:   totalDur / time.Duration(n),
		P50:            durationPercentile(sorted, 0.50),
		P95:            durationPercentile(sorted, 0.95),
		MeanMemory:     totalMem / int64(n),
		MeanMatches:    float64(totalMatches) / float64(n),
		MeanConfidence: totalConfidence / float64(n),
		CompliantRate:  float64(compliant) / float64(n),
	}
}

func sortOperationReports(ops []OperationReport) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].Operation < ops[j].Operation })
}
