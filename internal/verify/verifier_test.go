package verify

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciphernom/bitquill/internal/clock"
	"github.com/ciphernom/bitquill/internal/config"
	"github.com/ciphernom/bitquill/internal/document"
	"github.com/ciphernom/bitquill/internal/vdf"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.InitialIterations = 200
	cfg.MinIterations = 1
	cfg.MaxIterations = 10_000
	return cfg
}

// buildDocument runs a real clock and commits one paragraph per tick, so
// every tick proof in the document genuinely verifies.
func buildDocument(t *testing.T, cfg config.Config, paragraphs ...string) *document.Document {
	t.Helper()

	engine := vdf.DefaultEngine()
	doc := document.New(cfg, engine, nil)

	c := clock.New(engine, clock.Options{
		InitialIterations: cfg.InitialIterations,
		MinIterations:     cfg.MinIterations,
		MaxIterations:     cfg.MaxIterations,
		Yield:             time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	timeout := time.After(60 * time.Second)
	for _, content := range paragraphs {
		select {
		case tick, ok := <-c.Ticks():
			require.True(t, ok, "clock stopped early")
			doc.ObserveTick(tick)
			_, err := doc.CommitParagraph(content)
			require.NoError(t, err)
		case <-timeout:
			t.Fatal("timed out waiting for ticks")
		}
	}
	return doc
}

func hasDetail(report Report, severity Severity, substr string) bool {
	for _, d := range report.Details {
		if d.Severity == severity && strings.Contains(d.Description, substr) {
			return true
		}
	}
	return false
}

func TestVerifyEmptyDocument(t *testing.T) {
	cfg := testConfig()
	doc := document.New(cfg, vdf.DefaultEngine(), nil)

	report := New(cfg, nil).Verify(doc, Standard)
	assert.True(t, report.Valid)
	require.Len(t, report.Details, 1)
	assert.Contains(t, report.Details[0].Description, "empty document")
}

func TestVerifySingleParagraph(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "hello")

	report := New(cfg, nil).Verify(doc, Standard)
	assert.True(t, report.Valid, "details: %+v", report.Details)
	assert.Len(t, doc.Leaves(), 1)
	assert.Equal(t, doc.Leaves()[0].Hash, doc.RootHash())
}

func TestVerifyThreeParagraphs(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A", "B", "C")

	leaves := doc.Leaves()
	require.Len(t, leaves, 3)
	assert.Equal(t, leaves[1].Hash, leaves[2].PrevLeafHash)

	tick, ok := doc.Tick(leaves[2].TickRef)
	require.True(t, ok)
	expected := document.Commitment(leaves[2].State.StateHash, tick.OutputY, leaves[2].TickRef, leaves[1].Commitment)
	assert.Equal(t, expected, leaves[2].Commitment)

	for _, level := range []Level{Basic, Standard, Thorough, Forensic} {
		report := New(cfg, nil).Verify(doc, level)
		assert.True(t, report.Valid, "level %s details: %+v", level, report.Details)
	}
}

func TestVerifyDetectsContentTampering(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A", "B", "C")

	// Change the text without updating the stored state hash.
	doc.Leaves()[1].State.Content = "X"

	report := New(cfg, nil).Verify(doc, Basic)
	assert.False(t, report.Valid)
	assert.True(t, hasDetail(report, Fatal, "content mismatch"))

	// The report pins the failure to leaf 2.
	for _, d := range report.Details {
		if d.Severity == Fatal && strings.Contains(d.Description, "content mismatch") {
			require.NotNil(t, d.LeafNumber)
			assert.Equal(t, uint64(2), *d.LeafNumber)
		}
	}
}

func TestVerifyDetectsReordering(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A", "B", "C")

	leaves := doc.Leaves()
	leaves[1], leaves[2] = leaves[2], leaves[1]

	report := New(cfg, nil).Verify(doc, Basic)
	assert.False(t, report.Valid)
	assert.True(t, hasDetail(report, Fatal, "chain broken"))
}

func TestVerifyDetectsCommitmentTampering(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A", "B")

	doc.Leaves()[1].Commitment = strings.Repeat("ab", 32)

	report := New(cfg, nil).Verify(doc, Basic)
	assert.False(t, report.Valid)
	// Tampering the commitment breaks both the leaf hash and the binding.
	assert.True(t, hasDetail(report, Fatal, "hash mismatch"))
}

func TestVerifyDetectsRootTampering(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A", "B")

	doc.Root().Hash = strings.Repeat("00", 32)

	report := New(cfg, nil).Verify(doc, Basic)
	assert.False(t, report.Valid)
	assert.True(t, hasDetail(report, Fatal, "merkle root hash mismatch"))
}

func TestVerifyDetectsInteriorNodeTampering(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A", "B", "C", "D")

	// Corrupt a non-root interior node; the stored root is untouched, so
	// only the node-set comparison can catch this.
	rootHash := doc.RootHash()
	nodes := doc.Nodes()
	for hash, node := range nodes {
		if hash == rootHash {
			continue
		}
		node.LeftHash = strings.Repeat("11", 32)
		nodes[hash] = node
		break
	}

	report := New(cfg, nil).Verify(doc, Basic)
	assert.False(t, report.Valid)
	assert.True(t, hasDetail(report, Fatal, "disagrees with the reconstructed tree"))
}

func TestVerifyMissingTickIsWarning(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A", "B")

	// Drop the tick window entirely, as a loaded file with a truncated
	// suffix would.
	stripped := document.New(cfg, doc.Engine(), nil)
	require.NoError(t, stripped.Restore(doc.Metadata(), doc.Leaves(), nil, "", nil, doc.Engine(), cfg.InitialIterations))

	report := New(cfg, nil).Verify(stripped, Standard)
	assert.True(t, report.Valid, "details: %+v", report.Details)
	assert.True(t, hasDetail(report, Warning, "timestamp data missing"))
}

func TestVerifyFlagsLowDifficulty(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A")

	// Verify against a config demanding far more iterations than the
	// document's ticks carry.
	strict := cfg
	strict.MinIterations = 1_000_000
	report := New(strict, nil).Verify(doc, Standard)
	assert.False(t, report.Valid)
	assert.True(t, hasDetail(report, Fatal, "suspiciously low difficulty"))
}

func TestVerifyFlagsTimeAnomalies(t *testing.T) {
	cfg := testConfig()
	doc := buildDocument(t, cfg, "A", "B", "C")

	ticks := doc.Ticks()
	require.GreaterOrEqual(t, len(ticks), 3)

	t.Run("time jump", func(t *testing.T) {
		modified := make([]clock.Tick, len(ticks))
		copy(modified, ticks)
		modified[len(modified)-1].SystemTime = modified[len(modified)-2].SystemTime.Add(2 * time.Hour)

		tampered := document.New(cfg, doc.Engine(), nil)
		require.NoError(t, tampered.Restore(doc.Metadata(), doc.Leaves(), nil, "", modified, doc.Engine(), cfg.InitialIterations))

		report := New(cfg, nil).Verify(tampered, Standard)
		assert.False(t, report.Valid)
		assert.True(t, hasDetail(report, Fatal, "time jump"))
	})

	t.Run("time backwards", func(t *testing.T) {
		modified := make([]clock.Tick, len(ticks))
		copy(modified, ticks)
		modified[len(modified)-1].SystemTime = modified[len(modified)-2].SystemTime.Add(-time.Minute)

		tampered := document.New(cfg, doc.Engine(), nil)
		require.NoError(t, tampered.Restore(doc.Metadata(), doc.Leaves(), nil, "", modified, doc.Engine(), cfg.InitialIterations))

		report := New(cfg, nil).Verify(tampered, Standard)
		assert.False(t, report.Valid)
		assert.True(t, hasDetail(report, Fatal, "time went backwards"))
	})
}

func TestVerifyLeafGapWarning(t *testing.T) {
	cfg := testConfig()
	cfg.LeafGapThreshold = 1
	doc := buildDocument(t, cfg, "A")

	// Let several ticks pass before the second paragraph so the tick gap
	// exceeds the threshold of 1.
	engine := doc.Engine()
	c := clock.New(engine, clock.Options{
		InitialIterations: cfg.InitialIterations,
		MinIterations:     cfg.MinIterations,
		MaxIterations:     cfg.MaxIterations,
		Resume: &clock.ResumeState{
			Input:        doc.LatestTick().OutputY,
			NextSequence: doc.LatestTick().SequenceNumber + 1,
			Iterations:   cfg.InitialIterations,
		},
		Yield: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case tick := <-c.Ticks():
			doc.ObserveTick(tick)
		case <-time.After(60 * time.Second):
			t.Fatal("timed out waiting for ticks")
		}
	}
	_, err := doc.CommitParagraph("B")
	require.NoError(t, err)

	report := New(cfg, nil).Verify(doc, Basic)
	assert.True(t, report.Valid, "details: %+v", report.Details)
	assert.True(t, hasDetail(report, Warning, "large gap"))
}

func TestVerifyEmptyParagraphAllowance(t *testing.T) {
	cfg := testConfig()
	doc := document.New(cfg, vdf.DefaultEngine(), nil)

	// A leaf whose stored state hash is the genesis hash but whose content
	// is empty: the documented allowance, not tampering.
	leaf := document.Leaf{
		State:        document.State{Content: "", StateHash: document.GenesisStateHash()},
		PrevLeafHash: document.GenesisLeafHash(),
		Timestamp:    time.Now(),
		LeafNumber:   1,
		Commitment:   document.Commitment(document.GenesisStateHash(), []byte("y"), 0, ""),
	}
	hash, err := document.LeafHash(leaf)
	require.NoError(t, err)
	leaf.Hash = hash

	require.NoError(t, doc.Restore(doc.Metadata(), []document.Leaf{leaf}, nil, "", nil, doc.Engine(), cfg.InitialIterations))

	report := New(cfg, nil).Verify(doc, Basic)
	assert.True(t, report.Valid, "details: %+v", report.Details)
	assert.True(t, hasDetail(report, OK, "empty content accepted"))
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
		err  bool
	}{
		{"basic", Basic, false},
		{"standard", Standard, false},
		{"Thorough", Thorough, false},
		{"FORENSIC", Forensic, false},
		{"", Standard, false},
		{"bogus", Standard, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.err {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestReportCounts(t *testing.T) {
	var r Report
	r.Valid = true
	r.ok("fine")
	r.warn("hmm")
	r.fatal("bad")

	ok, warnings, fatals := r.Counts()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, fatals)
	assert.False(t, r.Valid)
}

func TestSeverityAndLevelStrings(t *testing.T) {
	assert.Equal(t, "ok", OK.String())
	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "fatal", Fatal.String())
	for _, level := range []Level{Basic, Standard, Thorough, Forensic} {
		assert.NotEmpty(t, level.String())
		assert.NotContains(t, level.String(), "level(")
	}
	_ = fmt.Sprintf("%s", Basic)
}
