// Package persist reads and writes the on-disk document formats: the primary
// .bq file (bounded tick suffix), the .bqc chain export (all in-memory
// ticks), and the compact verification-proof export. The JSON field names
// are the interoperability contract; renaming any of them breaks every
// existing file.
package persist

import (
	"errors"

	"github.com/google/uuid"
)

// File format versions and extensions.
const (
	FormatVersion = "2.1"

	ExtDocument = ".bq"
	ExtChain    = ".bqc"
	ExtProof    = ".json"
)

var (
	// ErrResourceExhausted rejects files whose leaf, node, or tick counts
	// exceed the configured limits.
	ErrResourceExhausted = errors.New("persist: file exceeds resource limits")

	// ErrBadFilename rejects paths with the wrong extension or characters
	// that cannot appear in a document name.
	ErrBadFilename = errors.New("persist: invalid filename")
)

// File is the complete .bq / .bqc document schema. A nil slice serializes as
// JSON null, matching files written before the field existed.
type File struct {
	Metadata          Metadata     `json:"metadata"`
	Leaves            []LeafRecord `json:"leaves"`
	Nodes             []NodeRecord `json:"nodes"`
	RootHash          *string      `json:"root_hash"`
	VDFTicks          []TickRecord `json:"vdf_ticks"`
	Modulus           []byte       `json:"modulus"`
	CurrentIterations uint64       `json:"current_iterations"`
	Version           string       `json:"version"`
}

// Metadata is the document header.
type Metadata struct {
	ID           uuid.UUID `json:"id,omitempty"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Created      uint64    `json:"created"`
	LastModified uint64    `json:"last_modified"`
	Version      string    `json:"version"`
	Keywords     []string  `json:"keywords"`
	Description  string    `json:"description"`
}

// StateRecord is the persisted form of a paragraph snapshot.
type StateRecord struct {
	Content    string `json:"content"`
	SystemTime uint64 `json:"system_time"`
	StateHash  string `json:"state_hash"`
}

// LeafRecord is the persisted form of a committed paragraph.
type LeafRecord struct {
	DocumentState    StateRecord `json:"document_state"`
	VDFTickReference uint64      `json:"vdf_tick_reference"`
	PrevLeafHash     string      `json:"prev_leaf_hash"`
	Timestamp        uint64      `json:"timestamp"`
	Hash             string      `json:"hash"`
	LeafNumber       uint64      `json:"leaf_number"`
	Commitment       string      `json:"commitment"`
}

// NodeRecord is the persisted form of an internal tree node. Children are
// hash references; the node set is a flat content-addressed map, never a
// nested object tree.
type NodeRecord struct {
	Hash           string  `json:"hash"`
	Height         int     `json:"height"`
	LeftChildHash  *string `json:"left_child_hash"`
	RightChildHash *string `json:"right_child_hash"`
}

// ProofRecord is the persisted form of a Wesolowski proof.
type ProofRecord struct {
	Y  []byte `json:"y"`
	Pi []byte `json:"pi"`
	L  []byte `json:"l"`
	R  []byte `json:"r"`
}

// TickRecord is the persisted form of a VDF clock tick.
type TickRecord struct {
	OutputY        []byte      `json:"output_y"`
	Proof          ProofRecord `json:"proof"`
	SequenceNumber uint64      `json:"sequence_number"`
	PrevOutputHash string      `json:"prev_output_hash"`
	SystemTime     uint64      `json:"system_time"`
	Iterations     uint64      `json:"iterations"`
}

// VerificationProof is the compact standalone proof export: enough to show a
// third party what was committed and when, without shipping the whole tree.
type VerificationProof struct {
	DocumentHash string               `json:"document_hash"`
	MerkleRoot   *string              `json:"merkle_root"`
	LeafCount    uint64               `json:"leaf_count"`
	Author       string               `json:"author"`
	Title        string               `json:"title"`
	Created      uint64               `json:"created"`
	LastModified uint64               `json:"last_modified"`
	Samples      []VerificationSample `json:"samples"`
	Generated    uint64               `json:"generated"`
}

// VerificationSample is one strategically chosen leaf inside a
// VerificationProof.
type VerificationSample struct {
	LeafNumber       uint64 `json:"leaf_number"`
	LeafHash         string `json:"leaf_hash"`
	Timestamp        uint64 `json:"timestamp"`
	VDFTickReference uint64 `json:"vdf_tick_reference"`
	Commitment       string `json:"commitment"`
}
