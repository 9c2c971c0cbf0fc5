package document

import (
	"os/user"
	"time"

	"github.com/google/uuid"
)

// State is the paragraph currently being assembled: its text, the SHA-256 of
// that text, and when it last changed. It is ephemeral — copied into a Leaf
// at commit and then reset.
type State struct {
	Content    string
	SystemTime time.Time
	StateHash  string
}

// Leaf is one committed paragraph, bound to a VDF tick and chained to its
// predecessor by hash.
type Leaf struct {
	State        State
	TickRef      uint64 // sequence number of the bound VDF tick
	PrevLeafHash string // previous leaf's hash, or the genesis leaf hash
	Timestamp    time.Time
	Hash         string
	LeafNumber   uint64 // 1-based position in the document
	Commitment   string // chains content + tick output into the previous commitment
}

// Node is an internal Merkle tree node. Children are referenced by hash so
// the node set serializes as a flat content-addressed map; an empty child
// hash means the child is absent.
type Node struct {
	Hash      string
	Height    int
	LeftHash  string
	RightHash string
}

// Metadata describes the document for humans and for the file header.
type Metadata struct {
	ID           uuid.UUID
	Title        string
	Author       string
	Created      time.Time
	LastModified time.Time
	Version      string
	Keywords     []string
	Description  string
}

// NewMetadata returns defaults for a fresh document: untitled, authored by
// the local user, created now.
func NewMetadata() Metadata {
	now := time.Now()
	return Metadata{
		ID:           uuid.New(),
		Title:        "Untitled Document",
		Author:       localUsername(),
		Created:      now,
		LastModified: now,
		Version:      "1.0",
		Keywords:     []string{},
	}
}

func localUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// EditInterval records when a paragraph was committed and how many seconds
// elapsed since the previous commit (zero for the first).
type EditInterval struct {
	Timestamp time.Time
	Seconds   uint64
}
