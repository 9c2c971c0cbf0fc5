// Package bitquill is the public API for embedding the BitQuill
// tamper-evident document engine.
//
// An App owns one document, its VDF clock, and the verifier:
//
//	app, err := bitquill.New(
//	    bitquill.WithTitle("field notes"),
//	    bitquill.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Shutdown()
//
//	app.ProcessTicks()
//	if err := app.CommitParagraph("first paragraph"); err != nil { ... }
//	report := app.Verify(bitquill.Standard)
//
// The import graph enforces a strict no-cycle rule: bitquill (root) imports
// internal/*, but internal/* never imports bitquill. Public types (Leaf,
// Report, etc.) are standalone structs; conversion helpers live here because
// this is the only file that sees both sides of the boundary.
//
// An App is not safe for concurrent use: the editor, verifier, and
// persistence calls all belong to one owner goroutine. The only other
// activity is the clock worker, which communicates exclusively over
// channels. Note that the difficulty controller and the timing heuristics
// trust the system wall clock; on a machine whose clock the author controls,
// timing claims are only as honest as that clock (the VDF chain itself does
// not depend on it).
package bitquill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ciphernom/bitquill/internal/clock"
	"github.com/ciphernom/bitquill/internal/config"
	"github.com/ciphernom/bitquill/internal/document"
	"github.com/ciphernom/bitquill/internal/persist"
	"github.com/ciphernom/bitquill/internal/telemetry"
	"github.com/ciphernom/bitquill/internal/verify"
	"github.com/ciphernom/bitquill/internal/vdf"
)

// Sentinel errors surfaced by the App. Wrapped causes carry detail.
var (
	// ErrPendingTick means the clock has not produced a tick yet; retry the
	// commit after ProcessTicks reports arrivals.
	ErrPendingTick = document.ErrPendingTick

	// ErrContentTooLarge rejects paragraphs over the configured size cap.
	ErrContentTooLarge = document.ErrContentTooLarge

	// ErrResourceExhausted rejects commits or loads that would exceed the
	// configured leaf, node, or tick limits.
	ErrResourceExhausted = errors.New("bitquill: resource limit exceeded")

	// ErrBadFilename rejects paths with the wrong extension.
	ErrBadFilename = persist.ErrBadFilename
)

// File extensions for the two on-disk artifact kinds.
const (
	ExtDocument = persist.ExtDocument
	ExtChain    = persist.ExtChain
)

// App is one document session: the Merkle document engine, its background
// VDF clock, and the verifier. Construct with New, release with Shutdown.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	doc      *document.Document
	verifier *verify.Verifier

	clk        *clock.Clock
	clockErr   chan error
	cancel     context.CancelFunc
	clockYield time.Duration

	shutdownOnce sync.Once
}

// New constructs an App and starts its VDF clock. The clock begins producing
// ticks immediately; call Shutdown to stop it.
func New(opts ...Option) (*App, error) {
	var o resolvedOptions
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := config.Default()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine, err := buildEngine(o, cfg)
	if err != nil {
		return nil, err
	}

	doc := document.New(cfg, engine, logger)
	meta := doc.Metadata()
	if o.title != "" {
		meta.Title = o.title
	}
	if o.author != "" {
		meta.Author = o.author
	}
	doc.SetMetadata(meta)
	doc.MarkClean()

	a := &App{
		cfg:        cfg,
		logger:     logger,
		doc:        doc,
		verifier:   verify.New(cfg, logger),
		clockYield: o.clockYield,
	}
	a.startClock(nil)
	return a, nil
}

func buildEngine(o resolvedOptions, cfg config.Config) (*vdf.Engine, error) {
	switch {
	case len(o.modulus) > 0:
		engine, err := vdf.NewEngineFromModulus(o.modulus)
		if err != nil {
			return nil, fmt.Errorf("bitquill: %w", err)
		}
		return engine, nil
	case o.freshModulus:
		engine, err := vdf.NewEngine(cfg.ModulusBits)
		if err != nil {
			return nil, fmt.Errorf("bitquill: %w", err)
		}
		return engine, nil
	default:
		return vdf.DefaultEngine(), nil
	}
}

// startClock launches the clock worker, replacing any previous one.
func (a *App) startClock(resume *clock.ResumeState) {
	a.stopClock()

	a.clk = clock.New(a.doc.Engine(), clock.Options{
		InitialIterations: a.doc.CurrentIterations(),
		MinIterations:     a.cfg.MinIterations,
		MaxIterations:     a.cfg.MaxIterations,
		Resume:            resume,
		Yield:             a.clockYield,
		Logger:            a.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	group, ctx := errgroup.WithContext(ctx)
	clk := a.clk
	group.Go(func() error { return clk.Run(ctx) })

	errCh := make(chan error, 1)
	a.clockErr = errCh
	go func() { errCh <- group.Wait() }()
}

// stopClock signals the current worker and waits briefly for it to exit.
func (a *App) stopClock() {
	if a.clk == nil {
		return
	}
	a.clk.Stop()
	a.cancel()
	select {
	case err := <-a.clockErr:
		if err != nil {
			a.logger.Warn("vdf clock exited with error", "error", err)
		}
	case <-time.After(2 * time.Second):
		a.logger.Warn("vdf clock did not stop in time, abandoning worker")
	}
	a.clk = nil
}

// ProcessTicks drains every tick the clock has produced since the last call
// and returns how many were absorbed. Non-blocking; call it from the UI loop.
func (a *App) ProcessTicks() int {
	if a.clk == nil {
		return 0
	}
	count := 0
	for {
		select {
		case tick, ok := <-a.clk.Ticks():
			if !ok {
				return count
			}
			if proposal, adjusted := a.doc.ObserveTick(tick); adjusted {
				a.clk.SetIterations(proposal)
			}
			count++
		default:
			return count
		}
	}
}

// CommitParagraph binds the paragraph to the latest VDF tick and appends it
// as a new leaf. Returns ErrPendingTick before the first tick arrives,
// ErrContentTooLarge or ErrResourceExhausted on limit violations.
func (a *App) CommitParagraph(text string) error {
	a.ProcessTicks()
	_, err := a.doc.CommitParagraph(text)
	if errors.Is(err, document.ErrLeafLimit) {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	return err
}

// Verify runs the integrity checks at the given level.
func (a *App) Verify(level VerificationLevel) Report {
	_, span := telemetry.Tracer("bitquill").Start(context.Background(), "verify")
	defer span.End()

	a.ProcessTicks()
	return reportFromInternal(a.verifier.Verify(a.doc, verify.Level(level)))
}

// Save writes the document to a .bq file, retaining a bounded tick suffix.
func (a *App) Save(path string) error {
	if err := persist.CheckPath(path, persist.ExtDocument); err != nil {
		return err
	}
	a.ProcessTicks()
	if err := persist.Save(path, persist.Snapshot(a.doc, a.cfg.PersistedTickCap)); err != nil {
		return err
	}
	a.doc.MarkClean()
	a.logger.Info("document saved", "path", path, "leaves", len(a.doc.Leaves()))
	return nil
}

// Load replaces the in-memory document with the file's contents and resumes
// the clock from the loaded tick chain: the sequence continues at the last
// retained tick, so sequence numbers stay globally unique across sessions.
// A file with no ticks restarts the clock from the genesis seed.
func (a *App) Load(path string) error {
	if err := persist.CheckPath(path, persist.ExtDocument); err != nil {
		return err
	}

	file, err := persist.LoadFile(path)
	if err != nil {
		return err
	}
	if err := persist.Restore(a.doc, file, a.cfg, a.logger); err != nil {
		if errors.Is(err, persist.ErrResourceExhausted) {
			return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		return err
	}

	var resume *clock.ResumeState
	if latest := a.doc.LatestTick(); latest != nil {
		resume = &clock.ResumeState{
			Input:        latest.OutputY,
			NextSequence: latest.SequenceNumber + 1,
			Iterations:   a.doc.CurrentIterations(),
		}
	}
	a.startClock(resume)

	a.logger.Info("document loaded", "path", path,
		"leaves", len(a.doc.Leaves()), "ticks", a.doc.TickCount())
	return nil
}

// ExportChain writes a .bqc file carrying every in-memory tick alongside the
// tree data, for standalone third-party verification.
func (a *App) ExportChain(path string) error {
	if err := persist.CheckPath(path, persist.ExtChain); err != nil {
		return err
	}
	a.ProcessTicks()
	return persist.Save(path, persist.SnapshotChain(a.doc))
}

// ExportVerificationProof writes the compact sampled proof JSON.
func (a *App) ExportVerificationProof(path string) error {
	a.ProcessTicks()
	return persist.SaveVerificationProof(path, persist.BuildVerificationProof(a.doc, 20))
}

// Shutdown stops the clock worker. Idempotent; the App is unusable after.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.stopClock()
		a.logger.Info("bitquill shut down")
	})
}

// Leaves returns the committed paragraphs in order.
func (a *App) Leaves() []Leaf {
	internal := a.doc.Leaves()
	out := make([]Leaf, len(internal))
	for i, l := range internal {
		out[i] = Leaf{
			LeafNumber:   l.LeafNumber,
			Content:      l.State.Content,
			StateHash:    l.State.StateHash,
			TickRef:      l.TickRef,
			PrevLeafHash: l.PrevLeafHash,
			Commitment:   l.Commitment,
			Hash:         l.Hash,
			Timestamp:    l.Timestamp,
		}
	}
	return out
}

// RootHash returns the current Merkle root, or "" for an empty document.
func (a *App) RootHash() string { return a.doc.RootHash() }

// LatestTick returns the most recent tick, or nil before the first one.
func (a *App) LatestTick() *Tick {
	t := a.doc.LatestTick()
	if t == nil {
		return nil
	}
	return &Tick{
		SequenceNumber: t.SequenceNumber,
		Iterations:     t.Iterations,
		SystemTime:     t.SystemTime,
		PrevOutputHash: t.PrevOutputHash,
	}
}

// TickCount reports how many ticks are retained in memory.
func (a *App) TickCount() int { return a.doc.TickCount() }

// IsDirty reports whether there are unsaved changes.
func (a *App) IsDirty() bool { return a.doc.Dirty() }

// Content returns all committed paragraphs joined with newlines.
func (a *App) Content() string { return a.doc.Content() }

// CurrentIterations reports the clock difficulty the controller settled on.
func (a *App) CurrentIterations() uint64 { return a.doc.CurrentIterations() }

// AverageTickInterval reports the rolling mean wall time between ticks.
func (a *App) AverageTickInterval() time.Duration { return a.doc.AverageTickInterval() }

// Metadata returns the document metadata.
func (a *App) Metadata() Metadata {
	m := a.doc.Metadata()
	return Metadata{
		ID:           m.ID,
		Title:        m.Title,
		Author:       m.Author,
		Created:      m.Created,
		LastModified: m.LastModified,
		Version:      m.Version,
		Keywords:     m.Keywords,
		Description:  m.Description,
	}
}

// SetMetadata updates the mutable metadata fields.
func (a *App) SetMetadata(title, author, description string, keywords []string) {
	m := a.doc.Metadata()
	m.Title = title
	m.Author = author
	m.Description = description
	m.Keywords = keywords
	a.doc.SetMetadata(m)
}

// LeafHistory renders a one-line summary per paragraph.
func (a *App) LeafHistory() []string { return a.doc.LeafHistory() }

// TreeStructure renders the Merkle tree as indented lines.
func (a *App) TreeStructure() []string { return a.doc.TreeStructure() }

// MerkleProof returns the sibling hash path for the given leaf number.
func (a *App) MerkleProof(leafNumber uint64) ([]string, error) {
	return a.doc.MerkleProof(leafNumber)
}
