// Package document holds the Merkle document engine: the committed paragraph
// leaves, the Merkle tree over them, the in-memory tick window, and the
// difficulty controller. All state here is owned by a single goroutine (the
// host facade); the package itself starts none.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/ciphernom/bitquill/internal/clock"
	"github.com/ciphernom/bitquill/internal/config"
	"github.com/ciphernom/bitquill/internal/vdf"
)

var (
	// ErrPendingTick means no VDF tick has been observed yet; the commit
	// must be retried once the clock warms up.
	ErrPendingTick = errors.New("document: no VDF tick available yet")

	// ErrContentTooLarge rejects paragraphs over the configured size cap.
	ErrContentTooLarge = errors.New("document: paragraph exceeds maximum content size")

	// ErrLeafLimit rejects commits once the document holds the maximum
	// number of leaves.
	ErrLeafLimit = errors.New("document: maximum number of leaves reached")

	// ErrNoSuchLeaf is returned for proof requests against unknown leaves.
	ErrNoSuchLeaf = errors.New("document: no such leaf")
)

// tickSample is one (sequence, wall time) observation for the difficulty
// controller's sliding window.
type tickSample struct {
	seq uint64
	at  time.Time
}

// Document is the aggregate root: metadata, ordered leaves, content-addressed
// node map, tick window, and the ephemeral paragraph state. Not safe for
// concurrent use; confine it to one goroutine.
type Document struct {
	cfg    config.Config
	logger *slog.Logger
	engine *vdf.Engine

	metadata Metadata
	leaves   []Leaf
	nodes    map[string]Node
	root     *Node

	current       State
	editIntervals []EditInterval

	ticks      map[uint64]clock.Tick
	latest     *clock.Tick
	tickWindow []tickSample

	// avgInterval tracks the rolling inter-tick wall time for status
	// display and metrics; the controller itself uses the window endpoints.
	avgInterval *movingaverage.MovingAverage
	avgSamples  int

	currentIterations uint64
	dirty             bool

	commits       metric.Int64Counter
	tickIntervals metric.Float64Histogram
}

// New creates an empty document over the given VDF engine.
func New(cfg config.Config, engine *vdf.Engine, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.GetMeterProvider().Meter("bitquill/document")
	commits, _ := meter.Int64Counter("bitquill.document.commits",
		metric.WithDescription("Paragraphs committed"))
	tickIntervals, _ := meter.Float64Histogram("bitquill.document.tick_interval_seconds",
		metric.WithDescription("Observed wall time between consecutive ticks"),
		metric.WithUnit("s"))

	window := cfg.DifficultyWindowSize
	if window < 1 {
		window = 1
	}

	return &Document{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		metadata: NewMetadata(),
		nodes:    make(map[string]Node),
		current: State{
			SystemTime: time.Now(),
			StateHash:  GenesisStateHash(),
		},
		ticks:             make(map[uint64]clock.Tick),
		avgInterval:       movingaverage.New(window),
		currentIterations: cfg.InitialIterations,
		commits:           commits,
		tickIntervals:     tickIntervals,
	}
}

// Engine returns the VDF engine backing this document.
func (d *Document) Engine() *vdf.Engine { return d.engine }

// Metadata returns the document metadata.
func (d *Document) Metadata() Metadata { return d.metadata }

// SetMetadata replaces the document metadata and marks the document dirty.
func (d *Document) SetMetadata(m Metadata) {
	d.metadata = m
	d.dirty = true
}

// Leaves returns the committed leaves in order. The slice is shared; callers
// must not mutate it.
func (d *Document) Leaves() []Leaf { return d.leaves }

// Nodes returns the content-addressed internal node map.
func (d *Document) Nodes() map[string]Node { return d.nodes }

// Root returns the current root node, or nil for an empty document.
func (d *Document) Root() *Node { return d.root }

// RootHash returns the current Merkle root hash, or "" for an empty document.
func (d *Document) RootHash() string {
	if d.root == nil {
		return ""
	}
	return d.root.Hash
}

// LatestTick returns the most recently observed tick, or nil before the
// clock's first emission.
func (d *Document) LatestTick() *clock.Tick { return d.latest }

// Tick looks up a retained tick by sequence number.
func (d *Document) Tick(seq uint64) (clock.Tick, bool) {
	t, ok := d.ticks[seq]
	return t, ok
}

// Ticks returns all retained ticks ordered by sequence number.
func (d *Document) Ticks() []clock.Tick {
	out := make([]clock.Tick, 0, len(d.ticks))
	for _, t := range d.ticks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// TickCount reports how many ticks are retained in memory.
func (d *Document) TickCount() int { return len(d.ticks) }

// CurrentIterations reports the difficulty the controller last settled on.
func (d *Document) CurrentIterations() uint64 { return d.currentIterations }

// AverageTickInterval reports the rolling mean wall time between ticks, or
// zero before two ticks have been seen.
func (d *Document) AverageTickInterval() time.Duration {
	if d.avgSamples == 0 {
		return 0
	}
	return time.Duration(d.avgInterval.Avg() * float64(time.Second))
}

// Dirty reports whether there are unsaved changes.
func (d *Document) Dirty() bool { return d.dirty }

// MarkClean clears the dirty flag after a successful save.
func (d *Document) MarkClean() { d.dirty = false }

// EditIntervals returns the recorded commit timing history.
func (d *Document) EditIntervals() []EditInterval { return d.editIntervals }

// ObserveTick records a tick from the clock: it becomes the latest tick,
// joins the retained map and the difficulty window, and — every adjustment
// interval — may produce a difficulty proposal. The returned value is the new
// iteration count to send to the clock when adjusted is true.
func (d *Document) ObserveTick(t clock.Tick) (proposal uint64, adjusted bool) {
	if prev, ok := d.ticks[t.SequenceNumber-1]; ok && t.SequenceNumber > 0 {
		if delta := t.SystemTime.Sub(prev.SystemTime); delta > 0 {
			d.avgInterval.Add(delta.Seconds())
			d.avgSamples++
			d.tickIntervals.Record(context.Background(), delta.Seconds())
		}
	}

	d.ticks[t.SequenceNumber] = t
	latest := t
	d.latest = &latest

	d.tickWindow = append(d.tickWindow, tickSample{seq: t.SequenceNumber, at: t.SystemTime})
	if over := len(d.tickWindow) - d.cfg.DifficultyWindowSize; over > 0 {
		d.tickWindow = d.tickWindow[over:]
	}

	if t.SequenceNumber%d.cfg.DifficultyAdjustInterval == 0 {
		return d.adjustDifficulty()
	}
	return 0, false
}

// CommitParagraph snapshots the given paragraph into a new leaf bound to the
// latest tick, appends it to the chain, and rebuilds the tree.
func (d *Document) CommitParagraph(content string) (Leaf, error) {
	if len(content) > d.cfg.MaxContentSize {
		return Leaf{}, fmt.Errorf("%w: %d bytes over limit %d", ErrContentTooLarge, len(content), d.cfg.MaxContentSize)
	}
	if len(d.leaves) >= d.cfg.MaxLeaves {
		return Leaf{}, fmt.Errorf("%w: limit %d", ErrLeafLimit, d.cfg.MaxLeaves)
	}
	if d.latest == nil {
		return Leaf{}, ErrPendingTick
	}
	tick := *d.latest

	now := time.Now()
	d.current = State{
		Content:    content,
		SystemTime: now,
		StateHash:  ContentHash(content),
	}

	prevLeafHash := GenesisLeafHash()
	prevCommitment := ""
	if n := len(d.leaves); n > 0 {
		prevLeafHash = d.leaves[n-1].Hash
		prevCommitment = d.leaves[n-1].Commitment
	}

	leaf := Leaf{
		State:        d.current,
		TickRef:      tick.SequenceNumber,
		PrevLeafHash: prevLeafHash,
		// One timestamp, captured once: the same value goes into the hash
		// and into storage.
		Timestamp:  now,
		LeafNumber: uint64(len(d.leaves)) + 1,
		Commitment: Commitment(d.current.StateHash, tick.OutputY, tick.SequenceNumber, prevCommitment),
	}

	hash, err := LeafHash(leaf)
	if err != nil {
		return Leaf{}, fmt.Errorf("document: hash leaf %d: %w", leaf.LeafNumber, err)
	}
	leaf.Hash = hash

	d.leaves = append(d.leaves, leaf)
	if err := d.rebuildTree(); err != nil {
		// Roll the append back; a document whose tree cannot build must not
		// keep the leaf.
		d.leaves = d.leaves[:len(d.leaves)-1]
		return Leaf{}, err
	}

	d.dirty = true
	d.metadata.LastModified = now
	d.recordEditInterval(now)
	d.resetCurrent()
	d.commits.Add(context.Background(), 1)

	d.logger.Debug("paragraph committed",
		"leaf", leaf.LeafNumber, "tick", leaf.TickRef, "root", d.RootHash())
	return leaf, nil
}

// Content joins all committed paragraphs with newlines.
func (d *Document) Content() string {
	if len(d.leaves) == 0 {
		return ""
	}
	out := d.leaves[0].State.Content
	for _, l := range d.leaves[1:] {
		out += "\n" + l.State.Content
	}
	return out
}

func (d *Document) resetCurrent() {
	d.current = State{
		SystemTime: time.Now(),
		StateHash:  GenesisStateHash(),
	}
}

func (d *Document) recordEditInterval(at time.Time) {
	const editHistoryCap = 1000

	interval := uint64(0)
	if n := len(d.editIntervals); n > 0 {
		if delta := at.Sub(d.editIntervals[n-1].Timestamp); delta > 0 {
			interval = uint64(delta / time.Second)
		}
	}
	d.editIntervals = append(d.editIntervals, EditInterval{Timestamp: at, Seconds: interval})
	if len(d.editIntervals) > editHistoryCap {
		d.editIntervals = d.editIntervals[len(d.editIntervals)-editHistoryCap:]
	}
}

// Restore replaces the document's state wholesale from persisted data.
// Leaves are re-sorted by leaf number to tolerate out-of-order encoders; the
// tree is rebuilt when the stored root is absent from the node set.
func (d *Document) Restore(meta Metadata, leaves []Leaf, nodes []Node, rootHash string, ticks []clock.Tick, engine *vdf.Engine, iterations uint64) error {
	d.metadata = meta
	d.engine = engine

	d.leaves = leaves
	sort.Slice(d.leaves, func(i, j int) bool { return d.leaves[i].LeafNumber < d.leaves[j].LeafNumber })

	d.nodes = make(map[string]Node, len(nodes))
	for _, n := range nodes {
		d.nodes[n.Hash] = n
	}

	d.root = nil
	if rootHash != "" {
		if n, ok := d.nodes[rootHash]; ok {
			d.root = &n
		}
	}
	if d.root == nil && len(d.leaves) > 0 {
		if err := d.rebuildTree(); err != nil {
			return fmt.Errorf("document: rebuild tree after load: %w", err)
		}
	}

	d.ticks = make(map[uint64]clock.Tick, len(ticks))
	d.latest = nil
	d.tickWindow = d.tickWindow[:0]
	var maxSeq uint64
	for _, t := range ticks {
		d.ticks[t.SequenceNumber] = t
		if d.latest == nil || t.SequenceNumber >= maxSeq {
			maxSeq = t.SequenceNumber
			latest := t
			d.latest = &latest
		}
	}

	// Clamp persisted difficulty into the legal range.
	switch {
	case iterations < d.cfg.MinIterations:
		d.currentIterations = d.cfg.MinIterations
	case iterations > d.cfg.MaxIterations:
		d.currentIterations = d.cfg.MaxIterations
	default:
		d.currentIterations = iterations
	}

	// Editing state resumes at the last committed paragraph.
	if n := len(d.leaves); n > 0 {
		d.current = d.leaves[n-1].State
	} else {
		d.resetCurrent()
	}

	// Rebuild the commit timing history from leaf timestamps.
	d.editIntervals = d.editIntervals[:0]
	for i, l := range d.leaves {
		interval := uint64(0)
		if i > 0 {
			if delta := l.Timestamp.Sub(d.leaves[i-1].Timestamp); delta > 0 {
				interval = uint64(delta / time.Second)
			}
		}
		d.editIntervals = append(d.editIntervals, EditInterval{Timestamp: l.Timestamp, Seconds: interval})
	}

	d.dirty = false
	return nil
}
