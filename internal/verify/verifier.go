package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ciphernom/bitquill/internal/clock"
	"github.com/ciphernom/bitquill/internal/config"
	"github.com/ciphernom/bitquill/internal/document"
)

// maxTickGapSeconds is the largest wall-clock jump tolerated between
// consecutive ticks before the chain's timing claims are rejected.
const maxTickGapSeconds = 3600.0

// hardwareIterationsPerSecond is the assumed ceiling for sequential modular
// squarings on any real machine. A tick claiming to beat it implies either a
// broken clock or a factored modulus.
const hardwareIterationsPerSecond = 1e9

// maxDifficultyStep mirrors the controller's 4x per-adjustment clamp; a
// larger jump between sampled ticks cannot have come from the controller.
const maxDifficultyStep = 4

// controllerTolerance is the relative slack allowed when replaying the
// difficulty controller over three consecutive ticks.
const controllerTolerance = 0.30

// Verifier runs integrity checks against a document. Stateless apart from
// configuration; safe to reuse across documents.
type Verifier struct {
	cfg    config.Config
	logger *slog.Logger
}

// New creates a verifier.
func New(cfg config.Config, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{cfg: cfg, logger: logger}
}

// Verify runs all checks for the requested level and returns the report.
// It never mutates the document.
func (v *Verifier) Verify(d *document.Document, level Level) Report {
	started := time.Now()
	report := Report{
		ID:    uuid.New(),
		Valid: true,
		Level: level,
		RanAt: started,
	}

	leaves := d.Leaves()
	if len(leaves) == 0 {
		report.ok("empty document - no leaves to verify")
		return report
	}

	v.checkModulus(d, &report)
	v.checkLeafChain(leaves, &report)
	v.checkCommitments(d, leaves, &report)
	v.checkTree(d, leaves, &report)
	v.checkLeafGaps(leaves, &report)

	if level >= Standard && d.TickCount() > 0 {
		v.checkGenesisTick(d, &report)
		keyTicks := v.selectKeyTicks(d, leaves, level)
		v.checkTicks(d, keyTicks, &report)
		v.auditDifficultyController(d, keyTicks, &report)
	}

	if level >= Forensic {
		v.checkWritingPatterns(d, &report)
	}

	_, warnings, fatals := report.Counts()
	v.logger.Info("verification finished",
		"level", level.String(), "valid", report.Valid,
		"details", len(report.Details), "warnings", warnings, "fatals", fatals,
		"elapsed", time.Since(started))
	return report
}

// checkModulus applies the heuristic modulus sanity checks (check 1).
func (v *Verifier) checkModulus(d *document.Document, report *Report) {
	engine := d.Engine()
	if engine == nil {
		report.fatal("no VDF engine attached to document")
		return
	}
	if err := engine.CheckModulusStrength(); err != nil {
		report.fatal(fmt.Sprintf("VDF RSA modulus failed strength verification: %v", err))
		return
	}
	report.ok("VDF RSA modulus passed strength verification")
}

// checkLeafChain walks the leaves in order, verifying the prev-hash links,
// the stored leaf hashes, and the content hashes (check 2).
func (v *Verifier) checkLeafChain(leaves []document.Leaf, report *Report) {
	expectedPrev := document.GenesisLeafHash()

	for i := range leaves {
		leaf := &leaves[i]

		if leaf.PrevLeafHash != expectedPrev {
			report.fatalLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d chain broken - not linked to previous", leaf.LeafNumber))
		} else {
			report.okLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d link verified", leaf.LeafNumber))
		}

		recomputed, err := document.LeafHash(*leaf)
		switch {
		case err != nil:
			report.fatalLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d hash not computable: %v", leaf.LeafNumber, err))
		case recomputed != leaf.Hash:
			report.fatalLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d hash mismatch - integrity compromised", leaf.LeafNumber))
		default:
			report.okLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d hash verified", leaf.LeafNumber))
		}

		contentHash := document.ContentHash(leaf.State.Content)
		if contentHash != leaf.State.StateHash {
			// Empty or whitespace-only paragraphs are a documented
			// allowance: the stored state hash may be the genesis hash.
			if strings.TrimSpace(leaf.State.Content) == "" {
				report.okLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d empty content accepted", leaf.LeafNumber))
			} else {
				report.fatalLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d content mismatch - paragraph modified", leaf.LeafNumber))
			}
		} else {
			report.okLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d content verified", leaf.LeafNumber))
		}

		expectedPrev = leaf.Hash
	}
}

// checkCommitments recomputes each leaf's content↔tick commitment (check 3).
// A missing referenced tick is a warning: the persisted tick window is a
// bounded suffix and old ticks fall away legitimately.
func (v *Verifier) checkCommitments(d *document.Document, leaves []document.Leaf, report *Report) {
	for i := range leaves {
		leaf := &leaves[i]

		tick, ok := d.Tick(leaf.TickRef)
		if !ok {
			report.warnLeaf(leaf.LeafNumber, fmt.Sprintf("timestamp data missing for paragraph #%d (VDF tick #%d)", leaf.LeafNumber, leaf.TickRef))
			continue
		}

		prevCommitment := ""
		if i > 0 {
			prevCommitment = leaves[i-1].Commitment
		}

		expected := document.Commitment(leaf.State.StateHash, tick.OutputY, leaf.TickRef, prevCommitment)
		if expected != leaf.Commitment {
			report.fatalLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d not properly timestamped - commitment mismatch", leaf.LeafNumber))
		} else {
			report.okLeaf(leaf.LeafNumber, fmt.Sprintf("paragraph #%d timestamp verified (VDF tick #%d)", leaf.LeafNumber, leaf.TickRef))
		}
	}
}

// checkTree rebuilds the Merkle tree from the leaves and compares it with
// the stored structure (check 4). The root comparison catches leaf-level
// tampering; the node-set comparison catches a corrupted interior node that
// leaves the stored root untouched.
func (v *Verifier) checkTree(d *document.Document, leaves []document.Leaf, report *Report) {
	rebuiltRoot, rebuiltNodes, err := document.BuildTree(leaves)
	if err != nil {
		report.fatal(fmt.Sprintf("merkle tree reconstruction failed: %v", err))
		return
	}

	storedRoot := d.Root()
	switch {
	case storedRoot == nil && rebuiltRoot == nil:
		// Both empty; nothing to compare.
	case storedRoot == nil || rebuiltRoot == nil:
		report.fatal("document structure invalid - merkle tree inconsistent")
	case storedRoot.Hash != rebuiltRoot.Hash:
		report.fatal("merkle root hash mismatch - document structure compromised")
	default:
		report.ok("document structure verified (merkle tree valid)")
	}

	storedNodes := d.Nodes()
	if len(storedNodes) == 0 {
		return
	}
	clean := true
	for hash, node := range storedNodes {
		expected, ok := rebuiltNodes[hash]
		if !ok {
			report.fatal(fmt.Sprintf("internal node %.8s is not part of the reconstructed tree", hash))
			clean = false
			continue
		}
		if node.Hash != hash || node.LeftHash != expected.LeftHash || node.RightHash != expected.RightHash {
			report.fatal(fmt.Sprintf("internal node %.8s disagrees with the reconstructed tree", hash))
			clean = false
		}
	}
	if len(storedNodes) != len(rebuiltNodes) {
		report.fatal(fmt.Sprintf("node set size mismatch: stored %d, reconstructed %d", len(storedNodes), len(rebuiltNodes)))
		clean = false
	}
	if clean {
		report.ok(fmt.Sprintf("all %d internal nodes verified", len(storedNodes)))
	}
}

// checkLeafGaps flags adjacent leaves separated by suspiciously many ticks
// (check 5). An author who pauses the clock between favorable moments leaves
// exactly this trace.
func (v *Verifier) checkLeafGaps(leaves []document.Leaf, report *Report) {
	if len(leaves) < 2 {
		return
	}
	for i := 1; i < len(leaves); i++ {
		gap := leaves[i].TickRef - leaves[i-1].TickRef
		if leaves[i].TickRef < leaves[i-1].TickRef {
			report.fatalLeaf(leaves[i].LeafNumber, fmt.Sprintf("paragraph #%d references an earlier tick than its predecessor", leaves[i].LeafNumber))
			continue
		}
		if gap > v.cfg.LeafGapThreshold {
			report.warnLeaf(leaves[i].LeafNumber, fmt.Sprintf("large gap (%d ticks) between paragraphs #%d and #%d", gap, leaves[i-1].LeafNumber, leaves[i].LeafNumber))
		}
	}
}

// checkGenesisTick verifies tick 0 against the fixed genesis seed when it is
// still retained (check 6).
func (v *Verifier) checkGenesisTick(d *document.Document, report *Report) {
	tick, ok := d.Tick(0)
	if !ok {
		report.okTick(0, "genesis tick #0 not retained (tick window truncated)")
		return
	}

	genesisInput := clock.GenesisInput()
	expectedHash := sha256.Sum256(genesisInput)
	if tick.PrevOutputHash != hex.EncodeToString(expectedHash[:]) {
		report.fatalTick(0, "genesis tick #0 input hash mismatch")
		return
	}
	report.okTick(0, "genesis tick #0 input hash verified")

	if err := d.Engine().Verify(genesisInput, tick.Iterations, tick.Proof); err != nil {
		report.fatalTick(0, fmt.Sprintf("genesis tick #0 proof failed verification: %v", err))
	} else {
		report.okTick(0, "genesis tick #0 proof verified")
	}
}

// selectKeyTicks builds the sampled tick set: the first retained tick, every
// tick referenced by a leaf, and the last five (check 7). Thorough and above
// verify every retained tick instead of the sample.
func (v *Verifier) selectKeyTicks(d *document.Document, leaves []document.Leaf, level Level) []uint64 {
	all := d.Ticks()
	if len(all) == 0 {
		return nil
	}

	if level >= Thorough {
		out := make([]uint64, len(all))
		for i, t := range all {
			out[i] = t.SequenceNumber
		}
		return out
	}

	key := map[uint64]struct{}{all[0].SequenceNumber: {}}
	for _, leaf := range leaves {
		key[leaf.TickRef] = struct{}{}
	}
	for i := 0; i < 5 && i < len(all); i++ {
		key[all[len(all)-1-i].SequenceNumber] = struct{}{}
	}

	out := make([]uint64, 0, len(key))
	for seq := range key {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// checkTicks verifies the sampled ticks: difficulty floor, challenge-prime
// width, chain links, proofs, wall-clock sanity, and difficulty monotonicity
// (checks 7–9).
func (v *Verifier) checkTicks(d *document.Document, keyTicks []uint64, report *Report) {
	var prevSampled *clock.Tick

	for _, seq := range keyTicks {
		tick, ok := d.Tick(seq)
		if !ok {
			continue
		}

		if tick.Iterations < v.cfg.MinIterations {
			report.fatalTick(seq, fmt.Sprintf("tick #%d used suspiciously low difficulty (%d)", seq, tick.Iterations))
		}

		l := new(big.Int).SetBytes(tick.Proof.L)
		if l.BitLen() < 120 {
			report.fatalTick(seq, fmt.Sprintf("tick #%d uses insecure proof parameters (challenge %d bits)", seq, l.BitLen()))
		}

		if seq > 0 {
			if prev, ok := d.Tick(seq - 1); ok {
				v.checkConsecutiveTicks(d, prev, tick, report)
			}
		}

		if prevSampled != nil {
			if tick.Iterations > prevSampled.Iterations*maxDifficultyStep ||
				tick.Iterations*maxDifficultyStep < prevSampled.Iterations {
				report.fatalTick(seq, fmt.Sprintf("suspicious difficulty change between ticks #%d (%d) and #%d (%d)",
					prevSampled.SequenceNumber, prevSampled.Iterations, seq, tick.Iterations))
			}
		}
		sampled := tick
		prevSampled = &sampled
	}
}

// checkConsecutiveTicks verifies a tick against its immediate predecessor:
// the hash chain, the VDF proof, and the wall-clock claims.
func (v *Verifier) checkConsecutiveTicks(d *document.Document, prev, tick clock.Tick, report *Report) {
	seq := tick.SequenceNumber

	expectedPrevHash := sha256.Sum256(prev.OutputY)
	if tick.PrevOutputHash != hex.EncodeToString(expectedPrevHash[:]) {
		report.fatalTick(seq, fmt.Sprintf("tick #%d chain broken - input hash does not match tick #%d output", seq, prev.SequenceNumber))
	} else {
		report.okTick(seq, fmt.Sprintf("tick #%d chain verified", seq))
	}

	if err := d.Engine().Verify(prev.OutputY, tick.Iterations, tick.Proof); err != nil {
		report.fatalTick(seq, fmt.Sprintf("tick #%d proof failed verification: %v", seq, err))
	} else {
		report.okTick(seq, fmt.Sprintf("tick #%d proof verified", seq))
	}

	elapsed := tick.SystemTime.Sub(prev.SystemTime)
	if elapsed < 0 {
		report.fatalTick(seq, fmt.Sprintf("time went backwards between ticks #%d and #%d", prev.SequenceNumber, seq))
		return
	}
	if elapsed.Seconds() > maxTickGapSeconds {
		report.fatalTick(seq, fmt.Sprintf("suspicious time jump between ticks #%d and #%d: %.0f seconds", prev.SequenceNumber, seq, elapsed.Seconds()))
	}

	// Claiming less wall time than the best conceivable hardware needs for
	// the squarings implies the sequential work was skipped. One second of
	// slack covers the whole-second truncation of persisted timestamps.
	minPossible := float64(tick.Iterations) / hardwareIterationsPerSecond
	if elapsed.Seconds()+1.0 < minPossible {
		report.fatalTick(seq, fmt.Sprintf("tick #%d computed impossibly fast (%.3fs for %d iterations)", seq, elapsed.Seconds(), tick.Iterations))
	}
}

// auditDifficultyController replays the controller over runs of three
// consecutive sampled ticks (check 10): c's difficulty should be near what
// the controller would derive from the a→b interval. Out-of-band values are
// warnings — the real controller works over a much wider window.
func (v *Verifier) auditDifficultyController(d *document.Document, keyTicks []uint64, report *Report) {
	if len(keyTicks) < 3 {
		return
	}

	for i := 0; i+2 < len(keyTicks); i += 2 {
		w0, w1, w2 := keyTicks[i], keyTicks[i+1], keyTicks[i+2]
		if w1 != w0+1 || w2 != w1+1 {
			continue
		}
		a, okA := d.Tick(w0)
		b, okB := d.Tick(w1)
		c, okC := d.Tick(w2)
		if !okA || !okB || !okC {
			continue
		}

		interval := b.SystemTime.Sub(a.SystemTime).Seconds()
		if interval <= 0 {
			continue
		}

		ratio := v.cfg.TargetTickInterval.Seconds() / interval
		ratio = math.Min(math.Max(ratio, 0.25), 4.0)
		expected := float64(b.Iterations) * ratio

		lower := expected * (1 - controllerTolerance)
		upper := expected * (1 + controllerTolerance)
		actual := float64(c.Iterations)
		// The controller only moves difficulty outside its hysteresis band,
		// so an unchanged value is always legitimate.
		if actual == float64(b.Iterations) {
			continue
		}
		if actual < lower || actual > upper {
			report.warnTick(w2, fmt.Sprintf("difficulty adjustment to %d for tick #%d differs from expected range (%.0f-%.0f)",
				c.Iterations, w2, lower, upper))
		}
	}
}

// checkWritingPatterns surfaces timing anomalies at Forensic level
// (check 11). Advisory only.
func (v *Verifier) checkWritingPatterns(d *document.Document, report *Report) {
	result := d.AnalyzeWritingPatterns()

	if len(result.Anomalies) == 0 {
		report.ok("writing pattern analysis: no anomalies detected")
		return
	}

	for _, anomaly := range result.Anomalies {
		report.warnLeaf(anomaly.LeafNumber, fmt.Sprintf("writing pattern anomaly at paragraph #%d: %s", anomaly.LeafNumber, anomaly.Description))
	}
	report.ok(fmt.Sprintf("writing pattern analysis: avg time between paragraphs %d seconds", result.AverageInterval))
}
