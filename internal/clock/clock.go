// Package clock runs the background VDF clock: a single worker that evaluates
// the delay function in a loop and publishes an ordered, hash-chained stream
// of ticks. Each tick proves that real sequential computation — and therefore
// real time — separates it from its predecessor.
package clock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/ciphernom/bitquill/internal/vdf"
)

// GenesisPhrase seeds the very first tick. The clock's tick 0 input is the
// SHA-256 of this phrase; verifiers recompute it from the constant.
const GenesisPhrase = "VDF Clock Genesis"

// defaultYield is the cooperative pause between ticks so the worker never
// monopolizes a core against the editor.
const defaultYield = 10 * time.Millisecond

// tickBuffer sizes the outbound channel. The consumer drains everything
// pending on each poll, so the buffer only has to absorb short stalls.
const tickBuffer = 64

// GenesisInput returns the input bytes for tick 0.
func GenesisInput() []byte {
	sum := sha256.Sum256([]byte(GenesisPhrase))
	return sum[:]
}

// Tick is one unit of clock output. Ticks are immutable once emitted.
type Tick struct {
	SequenceNumber uint64
	OutputY        []byte    // VDF output; also the next tick's input
	Proof          vdf.Proof // Wesolowski proof for this tick
	PrevOutputHash string    // hex SHA-256 of the input that produced OutputY
	Iterations     uint64    // difficulty used for this tick
	SystemTime     time.Time // wall clock at emission
}

// Options configures a Clock.
type Options struct {
	InitialIterations uint64
	MinIterations     uint64
	MaxIterations     uint64

	// Resume continues an existing tick chain after a document load.
	// Nil starts a fresh chain from the genesis input at sequence 0.
	Resume *ResumeState

	// Yield overrides the pause between ticks; zero means the default 10ms.
	Yield time.Duration

	Logger *slog.Logger
}

// ResumeState carries where a loaded document's tick chain left off.
type ResumeState struct {
	Input        []byte // output_y of the last retained tick
	NextSequence uint64
	Iterations   uint64
}

// Clock is the background tick producer. Create with New, drive with Run
// (typically inside an errgroup), stop by cancelling the context or calling
// Stop. All mutable state is confined to the Run goroutine; communication is
// channels only.
type Clock struct {
	engine *vdf.Engine
	opts   Options
	logger *slog.Logger

	ticks   chan Tick
	control chan uint64
	stop    chan struct{}

	ticksProduced metric.Int64Counter
	proveDuration metric.Float64Histogram
}

// New creates a clock over the given VDF engine. The clock does not start
// computing until Run is called.
func New(engine *vdf.Engine, opts Options) *Clock {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Yield <= 0 {
		opts.Yield = defaultYield
	}

	meter := otel.GetMeterProvider().Meter("bitquill/clock")
	ticksProduced, _ := meter.Int64Counter("bitquill.clock.ticks",
		metric.WithDescription("VDF clock ticks produced"))
	proveDuration, _ := meter.Float64Histogram("bitquill.clock.prove_seconds",
		metric.WithDescription("Wall time per VDF proof"),
		metric.WithUnit("s"))

	return &Clock{
		engine:        engine,
		opts:          opts,
		logger:        logger,
		ticks:         make(chan Tick, tickBuffer),
		control:       make(chan uint64, 1),
		stop:          make(chan struct{}),
		ticksProduced: ticksProduced,
		proveDuration: proveDuration,
	}
}

// Ticks returns the channel ticks are delivered on, in emission order with
// no gaps and no duplicates.
func (c *Clock) Ticks() <-chan Tick {
	return c.ticks
}

// SetIterations requests a difficulty change. The value is clamped to the
// configured bounds when the worker picks it up. Non-blocking: if an earlier
// request is still pending it is replaced.
func (c *Clock) SetIterations(n uint64) {
	for {
		select {
		case c.control <- n:
			return
		default:
		}
		// Channel full: drop the stale pending value and retry.
		select {
		case <-c.control:
		default:
		}
	}
}

// Stop asks the worker to exit at its next loop check. Safe to call more
// than once and before Run.
func (c *Clock) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Run executes the clock loop until the context is cancelled or Stop is
// called. The ticks channel is closed on exit so the consumer observes
// termination.
func (c *Clock) Run(ctx context.Context) error {
	defer close(c.ticks)

	input := GenesisInput()
	sequence := uint64(0)
	iterations := c.clamp(c.opts.InitialIterations)

	if r := c.opts.Resume; r != nil {
		input = append([]byte(nil), r.Input...)
		sequence = r.NextSequence
		iterations = c.clamp(r.Iterations)
		c.logger.Info("vdf clock resuming", "sequence", sequence, "iterations", iterations)
	} else {
		c.logger.Info("vdf clock starting", "iterations", iterations)
	}

	for {
		if c.stopped(ctx) {
			return nil
		}

		// Pick up a difficulty update if one is pending.
		select {
		case n := <-c.control:
			clamped := c.clamp(n)
			if clamped != iterations {
				c.logger.Debug("vdf difficulty updated", "from", iterations, "to", clamped)
			}
			iterations = clamped
		default:
		}

		inputHash := sha256.Sum256(input)

		start := time.Now()
		proof, err := c.engine.Prove(input, iterations)
		if err != nil {
			// Prove only fails on parameter or math errors; neither is
			// recoverable by looping.
			c.logger.Error("vdf proof failed, clock stopping", "sequence", sequence, "error", err)
			return fmt.Errorf("clock: tick %d: %w", sequence, err)
		}
		c.proveDuration.Record(ctx, time.Since(start).Seconds())

		tick := Tick{
			SequenceNumber: sequence,
			OutputY:        proof.Y,
			Proof:          proof,
			PrevOutputHash: hex.EncodeToString(inputHash[:]),
			Iterations:     iterations,
			SystemTime:     time.Now(),
		}

		select {
		case c.ticks <- tick:
			c.ticksProduced.Add(ctx, 1)
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		}

		input = proof.Y
		sequence++

		// Cooperative yield between ticks.
		select {
		case <-time.After(c.opts.Yield):
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		}
	}
}

func (c *Clock) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Clock) clamp(n uint64) uint64 {
	if n < c.opts.MinIterations {
		return c.opts.MinIterations
	}
	if c.opts.MaxIterations > 0 && n > c.opts.MaxIterations {
		return c.opts.MaxIterations
	}
	return n
}
