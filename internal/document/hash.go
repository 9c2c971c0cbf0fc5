package document

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// Genesis phrases. The leaf chain and the editing state each anchor to a
// fixed constant so a verifier can recompute the chain heads from nothing.
const (
	genesisLeafPhrase  = "MerkleQuill Genesis Leaf"
	genesisStatePhrase = "MerkleQuill Genesis"
)

// ErrTimestampBeforeEpoch is returned when a leaf timestamp cannot be encoded
// as unsigned seconds since the Unix epoch.
var ErrTimestampBeforeEpoch = errors.New("document: timestamp predates the Unix epoch")

// GenesisLeafHash is the prev_leaf_hash of leaf #1.
func GenesisLeafHash() string {
	sum := sha256.Sum256([]byte(genesisLeafPhrase))
	return hex.EncodeToString(sum[:])
}

// GenesisStateHash is the state hash of a document that has no content yet.
func GenesisStateHash() string {
	sum := sha256.Sum256([]byte(genesisStatePhrase))
	return hex.EncodeToString(sum[:])
}

// ContentHash hashes a paragraph's raw text.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Commitment binds a paragraph to a VDF tick and to the previous commitment:
// SHA-256 over the ASCII state hash, the raw tick output, the big-endian
// tick sequence, and (when present) the ASCII previous commitment.
// Field order and encodings are load-bearing; verifiers recompute this
// byte-for-byte.
func Commitment(stateHash string, tickOutput []byte, tickSeq uint64, prevCommitment string) string {
	h := sha256.New()
	h.Write([]byte(stateHash))
	h.Write(tickOutput)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], tickSeq)
	h.Write(seq[:])
	if prevCommitment != "" {
		h.Write([]byte(prevCommitment))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LeafHash computes a leaf's hash from its stored fields, in the fixed order:
// state hash, tick reference, previous leaf hash, commitment, timestamp in
// whole epoch seconds, leaf number. The timestamp hashed must be exactly the
// timestamp stored.
func LeafHash(l Leaf) (string, error) {
	secs := l.Timestamp.Unix()
	if secs < 0 {
		return "", ErrTimestampBeforeEpoch
	}

	h := sha256.New()
	h.Write([]byte(l.State.StateHash))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.TickRef)
	h.Write(buf[:])

	h.Write([]byte(l.PrevLeafHash))
	h.Write([]byte(l.Commitment))

	binary.BigEndian.PutUint64(buf[:], uint64(secs))
	h.Write(buf[:])

	binary.BigEndian.PutUint64(buf[:], l.LeafNumber)
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil)), nil
}

// NodeHash combines two child hashes (ASCII hex, in order). A missing right
// child contributes nothing.
func NodeHash(leftHash, rightHash string) string {
	h := sha256.New()
	h.Write([]byte(leftHash))
	if rightHash != "" {
		h.Write([]byte(rightHash))
	}
	return hex.EncodeToString(h.Sum(nil))
}
