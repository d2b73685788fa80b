package perfmon

import (
	"fmt"
	"sort"
	"time"
)

// Severity ranks a recommendation. Ordering is by tier, never by the raw
// numbers that produced it.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// RecommendationKind classifies what an operator should consider changing.
type RecommendationKind string

const (
	RecommendCaching  RecommendationKind = "caching"
	RecommendMemory   RecommendationKind = "memory"
	RecommendPatterns RecommendationKind = "patterns"
	RecommendBatching RecommendationKind = "batching"
)

// Recommendation is one derived optimisation suggestion.
type Recommendation struct {
	Kind      RecommendationKind `json:"kind"`
	Operation string             `json:"operation"`
	Severity  Severity           `json:"-"`
	Priority  string             `json:"priority"`
	Detail    string             `json:"detail"`
}

// Heuristic thresholds for recommendation derivation.
const (
	cachingVolumeHigh   = 500 // calls in the window for a cacheable op
	cachingVolumeMedium = 200

	memoryMeanHigh   = 4 << 20 // mean heap growth per call, bytes
	memoryMeanMedium = 1 << 20

	matchesMeanHigh = 50 // mean pattern matches per call

	batchingGapThreshold = 100 * time.Millisecond
)

// cacheableOps are the operations where high call volume suggests a caching
// opportunity upstream of the engine.
var cacheableOps = map[string]bool{
	OpCorrection:     true,
	OpPatternCompile: true,
	OpDisambiguation: true,
}

// Recommendations derives ranked optimisation suggestions from the current
// baselines and the last hour of call volume. Highest severity first; ties
// keep operation-name order for stable output.
func (m *Monitor) Recommendations() []Recommendation {
	now := m.now()
	recent := m.snapshotSince(now.Add(-baselineWindow))

	volume := make(map[string]int)
	for _, mt := range recent {
		volume[mt.Operation]++
	}

	baselines := m.Baselines()

	var out []Recommendation
	for op, b := range baselines {
		if cacheableOps[op] {
			switch {
			case volume[op] >= cachingVolumeHigh:
				out = append(out, rec(RecommendCaching, op, SeverityHigh,
					fmt.Sprintf("%d calls in the last hour; cache results upstream", volume[op])))
			case volume[op] >= cachingVolumeMedium:
				out = append(out, rec(RecommendCaching, op, SeverityMedium,
					fmt.Sprintf("%d calls in the last hour; consider caching results upstream", volume[op])))
			}
		}

		switch {
		case b.MeanMemory >= memoryMeanHigh:
			out = append(out, rec(RecommendMemory, op, SeverityHigh,
				fmt.Sprintf("mean heap growth %d bytes per call; investigate allocations", b.MeanMemory)))
		case b.MeanMemory >= memoryMeanMedium:
			out = append(out, rec(RecommendMemory, op, SeverityMedium,
				fmt.Sprintf("mean heap growth %d bytes per call", b.MeanMemory)))
		}

		if b.MeanMatches >= matchesMeanHigh {
			out = append(out, rec(RecommendPatterns, op, SeverityMedium,
				fmt.Sprintf("%.0f pattern matches per call on average; patterns may be too broad", b.MeanMatches)))
		}

		if b.Samples > 1 && b.MeanGap > 0 && b.MeanGap < batchingGapThreshold {
			out = append(out, rec(RecommendBatching, op, SeverityMedium,
				fmt.Sprintf("calls arrive %s apart on average; batch small sequential calls", b.MeanGap.Round(time.Millisecond))))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].Operation < out[j].Operation
	})
	return out
}

func rec(kind RecommendationKind, op string, sev Severity, detail string) Recommendation {
	return Recommendation{
		Kind:      kind,
		Operation: op,
		Severity:  sev,
		Priority:  sev.String(),
		Detail:    detail,
	}
}
