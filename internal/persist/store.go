package persist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ciphernom/bitquill/internal/clock"
	"github.com/ciphernom/bitquill/internal/config"
	"github.com/ciphernom/bitquill/internal/document"
	"github.com/ciphernom/bitquill/internal/vdf"
)

// CheckPath validates a user-supplied document path: the extension must
// match and the base name must be a plain filename.
func CheckPath(path, wantExt string) error {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) || strings.TrimSpace(base) == "" {
		return fmt.Errorf("%w: empty name", ErrBadFilename)
	}
	if strings.ContainsAny(base, "\x00") {
		return fmt.Errorf("%w: control characters in %q", ErrBadFilename, base)
	}
	if ext := filepath.Ext(base); ext != wantExt {
		return fmt.Errorf("%w: %q must have the %s extension", ErrBadFilename, base, wantExt)
	}
	return nil
}

// Snapshot captures a document into the primary file form. Only the last
// tickCap ticks are retained, plus tick 0 when it is still in memory, so
// the genesis check survives truncation.
func Snapshot(d *document.Document, tickCap int) File {
	ticks := d.Ticks()
	if len(ticks) > tickCap {
		kept := ticks[len(ticks)-tickCap:]
		if ticks[0].SequenceNumber == 0 && kept[0].SequenceNumber != 0 {
			kept = append([]clock.Tick{ticks[0]}, kept...)
		}
		ticks = kept
	}
	return snapshot(d, ticks)
}

// SnapshotChain captures a document with every in-memory tick, the .bqc
// chain-export form.
func SnapshotChain(d *document.Document) File {
	return snapshot(d, d.Ticks())
}

func snapshot(d *document.Document, ticks []clock.Tick) File {
	f := File{
		Metadata:          metadataRecord(d.Metadata()),
		CurrentIterations: d.CurrentIterations(),
		Version:           FormatVersion,
	}

	if leaves := d.Leaves(); len(leaves) > 0 {
		f.Leaves = make([]LeafRecord, len(leaves))
		for i, l := range leaves {
			f.Leaves[i] = leafRecord(l)
		}
	}

	if nodes := d.Nodes(); len(nodes) > 0 {
		f.Nodes = make([]NodeRecord, 0, len(nodes))
		for _, n := range nodes {
			f.Nodes = append(f.Nodes, nodeRecord(n))
		}
	}

	if root := d.RootHash(); root != "" {
		f.RootHash = &root
	}

	if len(ticks) > 0 {
		f.VDFTicks = make([]TickRecord, len(ticks))
		for i, t := range ticks {
			f.VDFTicks[i] = tickRecord(t)
		}
	}

	if engine := d.Engine(); engine != nil {
		f.Modulus = engine.ModulusBytes()
	}

	return f
}

// Save writes a file atomically: marshal, write to a temp file in the target
// directory, rename over the destination.
func Save(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: serialize document: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bitquill-save-*")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("persist: replace %s: %w", path, err)
	}
	return nil
}

// LoadFile reads and parses a document file without applying it.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("persist: read %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("persist: parse %s: %w", path, err)
	}
	return f, nil
}

// Restore validates a parsed file against the configured limits and applies
// it to the document. An absent or invalid modulus triggers regeneration
// with a warning — the document becomes verifiable only for future ticks.
func Restore(d *document.Document, f File, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if len(f.Leaves) > cfg.MaxLeaves {
		return fmt.Errorf("%w: %d leaves over limit %d", ErrResourceExhausted, len(f.Leaves), cfg.MaxLeaves)
	}
	if len(f.Nodes) > cfg.MaxLeaves*2 {
		return fmt.Errorf("%w: %d nodes over limit %d", ErrResourceExhausted, len(f.Nodes), cfg.MaxLeaves*2)
	}
	if len(f.VDFTicks) > cfg.DifficultyWindowSize*2 {
		return fmt.Errorf("%w: %d ticks over limit %d", ErrResourceExhausted, len(f.VDFTicks), cfg.DifficultyWindowSize*2)
	}

	engine, err := vdf.NewEngineFromModulus(f.Modulus)
	if err != nil {
		logger.Warn("document modulus missing or invalid, generating a fresh one; existing ticks will not verify", "error", err)
		engine, err = vdf.NewEngine(cfg.ModulusBits)
		if err != nil {
			return fmt.Errorf("persist: regenerate modulus: %w", err)
		}
	}

	leaves := make([]document.Leaf, len(f.Leaves))
	for i, r := range f.Leaves {
		leaves[i] = leafFromRecord(r)
	}

	nodes := make([]document.Node, len(f.Nodes))
	for i, r := range f.Nodes {
		nodes[i] = nodeFromRecord(r)
	}

	ticks := make([]clock.Tick, len(f.VDFTicks))
	for i, r := range f.VDFTicks {
		ticks[i] = tickFromRecord(r)
	}

	rootHash := ""
	if f.RootHash != nil {
		rootHash = *f.RootHash
	}

	return d.Restore(metadataFromRecord(f.Metadata), leaves, nodes, rootHash, ticks, engine, f.CurrentIterations)
}

// BuildVerificationProof samples up to maxSamples leaves — always the first
// and last, evenly strided between — into a compact standalone proof.
func BuildVerificationProof(d *document.Document, maxSamples int) VerificationProof {
	leaves := d.Leaves()
	meta := d.Metadata()

	proof := VerificationProof{
		DocumentHash: document.GenesisStateHash(),
		LeafCount:    uint64(len(leaves)),
		Author:       meta.Author,
		Title:        meta.Title,
		Created:      epochSeconds(meta.Created),
		LastModified: epochSeconds(meta.LastModified),
		Generated:    epochSeconds(time.Now()),
	}
	if n := len(leaves); n > 0 {
		proof.DocumentHash = leaves[n-1].State.StateHash
	}
	if root := d.RootHash(); root != "" {
		proof.MerkleRoot = &root
	}

	indices := sampleIndices(len(leaves), maxSamples)
	proof.Samples = make([]VerificationSample, 0, len(indices))
	for _, idx := range indices {
		leaf := leaves[idx]
		proof.Samples = append(proof.Samples, VerificationSample{
			LeafNumber:       leaf.LeafNumber,
			LeafHash:         leaf.Hash,
			Timestamp:        epochSeconds(leaf.Timestamp),
			VDFTickReference: leaf.TickRef,
			Commitment:       leaf.Commitment,
		})
	}
	return proof
}

// sampleIndices picks up to max strategic indices from n leaves: everything
// when n fits, otherwise the first, the last, and an even stride between.
func sampleIndices(n, max int) []int {
	if n <= 0 {
		return nil
	}
	if n <= max {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	out := []int{0}
	remaining := max - 2
	if remaining > 0 {
		stride := (n - 2) / remaining
		if stride < 1 {
			stride = 1
		}
		for i := 0; i < remaining; i++ {
			idx := 1 + i*stride
			if idx >= n-1 {
				break
			}
			out = append(out, idx)
		}
	}
	out = append(out, n-1)
	return out
}

// SaveVerificationProof writes a proof export as indented JSON.
func SaveVerificationProof(path string, p VerificationProof) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: serialize verification proof: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", path, err)
	}
	return nil
}
