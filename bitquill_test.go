package bitquill

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciphernom/bitquill/internal/config"
)

func testApp(t *testing.T) *App {
	t.Helper()

	cfg := config.Default()
	cfg.InitialIterations = 200
	cfg.MinIterations = 1
	cfg.MaxIterations = 10_000

	app, err := New(
		WithConfig(cfg),
		WithTitle("test document"),
		WithAuthor("tester"),
		WithClockYield(time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	return app
}

// waitForTick polls until the clock has delivered at least one tick.
func waitForTick(t *testing.T, app *App) {
	t.Helper()
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		app.ProcessTicks()
		if app.LatestTick() != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no tick arrived")
}

func TestCommitBeforeFirstTick(t *testing.T) {
	cfg := config.Default()
	// One tick takes tens of seconds at this difficulty; the commit below
	// runs long before it lands.
	cfg.InitialIterations = 20_000_000
	cfg.MinIterations = 20_000_000
	cfg.MaxIterations = 40_000_000

	app, err := New(WithConfig(cfg), WithClockYield(time.Millisecond))
	require.NoError(t, err)
	defer app.Shutdown()

	err = app.CommitParagraph("too early")
	assert.ErrorIs(t, err, ErrPendingTick)
}

func TestCommitAndVerifyLifecycle(t *testing.T) {
	app := testApp(t)
	waitForTick(t, app)

	require.NoError(t, app.CommitParagraph("first paragraph"))
	require.NoError(t, app.CommitParagraph("second paragraph"))

	leaves := app.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, uint64(1), leaves[0].LeafNumber)
	assert.Equal(t, leaves[0].Hash, leaves[1].PrevLeafHash)
	assert.Equal(t, "first paragraph\nsecond paragraph", app.Content())
	assert.True(t, app.IsDirty())
	assert.NotEmpty(t, app.RootHash())

	report := app.Verify(Standard)
	assert.True(t, report.Valid, "details: %+v", report.Details)
	assert.Equal(t, Standard, report.Level)

	okCount, _, fatals := report.Counts()
	assert.Greater(t, okCount, 0)
	assert.Zero(t, fatals)
}

func TestSaveLoadLifecycle(t *testing.T) {
	app := testApp(t)
	waitForTick(t, app)

	require.NoError(t, app.CommitParagraph("persisted paragraph"))
	rootBefore := app.RootHash()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.bq")
	require.NoError(t, app.Save(path))
	assert.False(t, app.IsDirty())

	// A fresh App loads the same document and verifies clean.
	other := testApp(t)
	require.NoError(t, other.Load(path))
	assert.Equal(t, rootBefore, other.RootHash())
	require.Len(t, other.Leaves(), 1)
	assert.Equal(t, "persisted paragraph", other.Leaves()[0].Content)

	report := other.Verify(Standard)
	assert.True(t, report.Valid, "details: %+v", report.Details)

	// The resumed clock continues the loaded sequence, not a fresh one.
	loadedSeq := other.LatestTick().SequenceNumber
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		other.ProcessTicks()
		if other.LatestTick().SequenceNumber > loadedSeq {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, other.LatestTick().SequenceNumber, loadedSeq)

	// Committing in the resumed session keeps the chain consistent.
	require.NoError(t, other.CommitParagraph("post-load paragraph"))
	report = other.Verify(Standard)
	assert.True(t, report.Valid, "details: %+v", report.Details)
}

func TestSaveRejectsWrongExtension(t *testing.T) {
	app := testApp(t)
	err := app.Save(filepath.Join(t.TempDir(), "doc.txt"))
	assert.ErrorIs(t, err, ErrBadFilename)
}

func TestExports(t *testing.T) {
	app := testApp(t)
	waitForTick(t, app)
	require.NoError(t, app.CommitParagraph("exported"))

	dir := t.TempDir()
	require.NoError(t, app.ExportChain(filepath.Join(dir, "doc.bqc")))
	require.NoError(t, app.ExportVerificationProof(filepath.Join(dir, "proof.json")))

	err := app.ExportChain(filepath.Join(dir, "doc.bq"))
	assert.ErrorIs(t, err, ErrBadFilename)
}

func TestMetadata(t *testing.T) {
	app := testApp(t)

	meta := app.Metadata()
	assert.Equal(t, "test document", meta.Title)
	assert.Equal(t, "tester", meta.Author)

	app.SetMetadata("renamed", "other author", "a description", []string{"keyword"})
	meta = app.Metadata()
	assert.Equal(t, "renamed", meta.Title)
	assert.Equal(t, "other author", meta.Author)
	assert.True(t, app.IsDirty())
}

func TestShutdownIsIdempotent(t *testing.T) {
	app := testApp(t)
	waitForTick(t, app)

	app.Shutdown()
	app.Shutdown()

	// After shutdown the engine state remains readable.
	assert.NotNil(t, app.Leaves())
	assert.Equal(t, 0, app.ProcessTicks())
}

func TestVerifyEmptyDocumentPasses(t *testing.T) {
	app := testApp(t)
	report := app.Verify(Standard)
	assert.True(t, report.Valid)
	require.Len(t, report.Details, 1)
	assert.Contains(t, report.Details[0].Description, "empty document")
}

func TestParseVerificationLevel(t *testing.T) {
	level, err := ParseVerificationLevel("forensic")
	require.NoError(t, err)
	assert.Equal(t, Forensic, level)

	_, err = ParseVerificationLevel("nope")
	assert.Error(t, err)
}

func TestMerkleProofAccessor(t *testing.T) {
	app := testApp(t)
	waitForTick(t, app)

	require.NoError(t, app.CommitParagraph("a"))
	require.NoError(t, app.CommitParagraph("b"))

	proof, err := app.MerkleProof(1)
	require.NoError(t, err)
	require.Len(t, proof, 1)
	assert.Equal(t, app.Leaves()[1].Hash, proof[0])
}
