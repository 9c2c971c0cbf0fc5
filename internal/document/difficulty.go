package document

import "math"

// Difficulty controller bounds. The ratio clamp limits any single adjustment
// to 4x in either direction; the hysteresis band suppresses churn under 10%.
const (
	minAdjustSamples = 100
	minAdjustSpan    = 10
	minAdjustRatio   = 0.25
	maxAdjustRatio   = 4.0
	adjustHysteresis = 0.10
)

// adjustDifficulty replays the sliding window and proposes a new iteration
// count that would bring the tick rate back to the target interval. Returns
// (0, false) when there is not enough clean data or the change is within the
// hysteresis band.
func (d *Document) adjustDifficulty() (uint64, bool) {
	if len(d.tickWindow) < minAdjustSamples {
		return 0, false
	}

	first := d.tickWindow[0]
	last := d.tickWindow[len(d.tickWindow)-1]

	elapsedTicks := last.seq - first.seq
	if last.seq < first.seq || elapsedTicks < minAdjustSpan {
		return 0, false
	}

	elapsed := last.at.Sub(first.at)
	if elapsed <= 0 {
		// Wall clock went backwards; do not adjust off bad data.
		return 0, false
	}

	avgTick := elapsed.Seconds() / float64(elapsedTicks)
	ratio := d.cfg.TargetTickInterval.Seconds() / avgTick
	ratio = math.Min(math.Max(ratio, minAdjustRatio), maxAdjustRatio)

	proposed := uint64(math.Round(float64(d.currentIterations) * ratio))
	if proposed < d.cfg.MinIterations {
		proposed = d.cfg.MinIterations
	}
	if proposed > d.cfg.MaxIterations {
		proposed = d.cfg.MaxIterations
	}

	// Only act on significant drift.
	change := float64(proposed) / float64(d.currentIterations)
	if change >= 1.0-adjustHysteresis && change <= 1.0+adjustHysteresis {
		return 0, false
	}

	d.logger.Info("vdf difficulty adjusted",
		"from", d.currentIterations, "to", proposed,
		"avg_tick_seconds", avgTick, "target_seconds", d.cfg.TargetTickInterval.Seconds())
	d.currentIterations = proposed
	return proposed, true
}
