package clock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciphernom/bitquill/internal/vdf"
)

func testOptions() Options {
	return Options{
		InitialIterations: 200,
		MinIterations:     1,
		MaxIterations:     10_000,
		Yield:             time.Millisecond,
	}
}

func collectTicks(t *testing.T, c *Clock, n int) []Tick {
	t.Helper()
	ticks := make([]Tick, 0, n)
	timeout := time.After(30 * time.Second)
	for len(ticks) < n {
		select {
		case tick, ok := <-c.Ticks():
			require.True(t, ok, "tick channel closed early")
			ticks = append(ticks, tick)
		case <-timeout:
			t.Fatalf("timed out after %d/%d ticks", len(ticks), n)
		}
	}
	return ticks
}

func TestClockProducesChainedTicks(t *testing.T) {
	engine := vdf.DefaultEngine()
	c := New(engine, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ticks := collectTicks(t, c, 3)
	cancel()
	require.NoError(t, <-done)

	// Sequence numbers are contiguous from zero.
	for i, tick := range ticks {
		assert.Equal(t, uint64(i), tick.SequenceNumber)
		assert.NotEmpty(t, tick.OutputY)
		assert.Equal(t, uint64(200), tick.Iterations)
	}

	// Tick 0's prev hash commits to the genesis input.
	genesisHash := sha256.Sum256(GenesisInput())
	assert.Equal(t, hex.EncodeToString(genesisHash[:]), ticks[0].PrevOutputHash)

	// Each later tick hashes its predecessor's output.
	for i := 1; i < len(ticks); i++ {
		prevHash := sha256.Sum256(ticks[i-1].OutputY)
		assert.Equal(t, hex.EncodeToString(prevHash[:]), ticks[i].PrevOutputHash)
	}

	// Every proof verifies against its actual input.
	require.NoError(t, engine.Verify(GenesisInput(), ticks[0].Iterations, ticks[0].Proof))
	for i := 1; i < len(ticks); i++ {
		require.NoError(t, engine.Verify(ticks[i-1].OutputY, ticks[i].Iterations, ticks[i].Proof))
	}
}

func TestClockAppliesDifficultyUpdates(t *testing.T) {
	c := New(vdf.DefaultEngine(), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	// First tick uses the initial difficulty.
	first := collectTicks(t, c, 1)[0]
	assert.Equal(t, uint64(200), first.Iterations)

	c.SetIterations(500)

	// The update lands within a few ticks.
	deadline := time.After(30 * time.Second)
	for {
		select {
		case tick := <-c.Ticks():
			if tick.Iterations == 500 {
				return
			}
		case <-deadline:
			t.Fatal("difficulty update never applied")
		}
	}
}

func TestClockClampsDifficulty(t *testing.T) {
	opts := testOptions()
	opts.MinIterations = 100
	opts.MaxIterations = 1000
	c := New(vdf.DefaultEngine(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	collectTicks(t, c, 1)
	c.SetIterations(5_000_000)

	deadline := time.After(30 * time.Second)
	for {
		select {
		case tick := <-c.Ticks():
			assert.LessOrEqual(t, tick.Iterations, uint64(1000))
			if tick.Iterations == 1000 {
				return
			}
		case <-deadline:
			t.Fatal("clamped difficulty never observed")
		}
	}
}

func TestClockStopIsIdempotent(t *testing.T) {
	c := New(vdf.DefaultEngine(), testOptions())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	collectTicks(t, c, 1)
	c.Stop()
	c.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("clock did not stop")
	}

	// The tick channel is closed after Run returns; drain to the close.
	for range c.Ticks() {
	}
}

func TestClockResumesSequence(t *testing.T) {
	engine := vdf.DefaultEngine()

	// Run a fresh clock for two ticks.
	first := New(engine, testOptions())
	ctx1, cancel1 := context.WithCancel(context.Background())
	go func() { _ = first.Run(ctx1) }()
	ticks := collectTicks(t, first, 2)
	cancel1()

	last := ticks[len(ticks)-1]

	// Resume from the captured chain position.
	opts := testOptions()
	opts.Resume = &ResumeState{
		Input:        last.OutputY,
		NextSequence: last.SequenceNumber + 1,
		Iterations:   last.Iterations,
	}
	resumed := New(engine, opts)
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go func() { _ = resumed.Run(ctx2) }()

	next := collectTicks(t, resumed, 1)[0]
	assert.Equal(t, last.SequenceNumber+1, next.SequenceNumber)

	// The resumed tick chains onto the saved output.
	prevHash := sha256.Sum256(last.OutputY)
	assert.Equal(t, hex.EncodeToString(prevHash[:]), next.PrevOutputHash)
	require.NoError(t, engine.Verify(last.OutputY, next.Iterations, next.Proof))
}
