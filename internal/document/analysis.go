package document

import (
	"fmt"
	"math"
)

// PatternAnomaly flags one suspicious inter-paragraph interval.
type PatternAnomaly struct {
	LeafNumber  uint64
	Description string
	Confidence  float64 // 0.0–1.0
}

// PatternResult summarizes writing-rhythm statistics over the commit history.
type PatternResult struct {
	AverageInterval uint64 // seconds
	Deviation       float64
	Anomalies       []PatternAnomaly
}

// AnalyzeWritingPatterns examines the intervals between committed paragraphs
// for statistical outliers: single intervals more than three standard
// deviations from the mean (session breaks or bulk pastes), and ten-leaf
// windows sustaining less than a third of the global mean (burst insertion).
// Results are advisory; they never invalidate a document on their own.
func (d *Document) AnalyzeWritingPatterns() PatternResult {
	intervals := make([]uint64, 0, len(d.editIntervals))
	for _, e := range d.editIntervals {
		if e.Seconds > 0 {
			intervals = append(intervals, e.Seconds)
		}
	}

	if len(intervals) < 5 {
		return PatternResult{}
	}

	var sum uint64
	for _, v := range intervals {
		sum += v
	}
	avg := sum / uint64(len(intervals))

	var variance float64
	if avg > 0 {
		for _, v := range intervals {
			diff := float64(v) - float64(avg)
			variance += diff * diff
		}
		variance /= float64(len(intervals))
	}
	stdDev := math.Sqrt(variance)

	var anomalies []PatternAnomaly

	if stdDev > 0 {
		for i, interval := range intervals {
			z := (float64(interval) - float64(avg)) / stdDev
			if math.Abs(z) <= 3.0 {
				continue
			}
			leaf := uint64(i) + 1
			var description string
			if z > 0 {
				description = fmt.Sprintf("unusually long pause (%d seconds vs avg %d) - possible session break", interval, avg)
			} else {
				description = fmt.Sprintf("unusually rapid edit (%d seconds vs avg %d) - possible bulk insertion", interval, avg)
			}
			anomalies = append(anomalies, PatternAnomaly{
				LeafNumber:  leaf,
				Description: description,
				Confidence:  math.Min((math.Abs(z)-3.0)/2.0, 1.0),
			})
		}
	}

	// Sustained-burst detection over ten-leaf sliding windows.
	const burstWindow = 10
	if len(intervals) >= burstWindow {
		for start := 0; start+burstWindow <= len(intervals); start++ {
			var windowSum uint64
			for _, v := range intervals[start : start+burstWindow] {
				windowSum += v
			}
			windowAvg := windowSum / burstWindow
			if windowAvg > 0 && windowAvg < avg/3 {
				leafStart := uint64(start) + 1
				anomalies = append(anomalies, PatternAnomaly{
					LeafNumber: leafStart,
					Description: fmt.Sprintf("sustained rapid editing over leaves #%d-#%d (avg interval: %d vs global: %d)",
						leafStart, leafStart+burstWindow, windowAvg, avg),
					Confidence: 0.7,
				})
			}
		}
	}

	return PatternResult{
		AverageInterval: avg,
		Deviation:       stdDev,
		Anomalies:       anomalies,
	}
}
