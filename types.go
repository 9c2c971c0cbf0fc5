package bitquill

import (
	"time"

	"github.com/google/uuid"

	"github.com/ciphernom/bitquill/internal/verify"
)

// VerificationLevel selects how deep a verification run goes. Levels are
// cumulative.
type VerificationLevel int

const (
	// Basic checks the leaf chain, commitments, and tree structure.
	Basic VerificationLevel = iota
	// Standard adds VDF proof verification over sampled key ticks plus
	// timing and difficulty heuristics.
	Standard
	// Thorough extends proof verification to every retained tick.
	Thorough
	// Forensic adds writing-pattern analysis over leaf timestamps.
	Forensic
)

// String implements fmt.Stringer.
func (l VerificationLevel) String() string {
	return verify.Level(l).String()
}

// ParseVerificationLevel converts a user-supplied level name; the empty
// string means Standard.
func ParseVerificationLevel(s string) (VerificationLevel, error) {
	level, err := verify.ParseLevel(s)
	return VerificationLevel(level), err
}

// Severity classifies one verification detail.
type Severity int

const (
	// OK records a check that passed.
	OK Severity = iota
	// Warning records a suspicious but non-fatal observation.
	Warning
	// Fatal records a check whose failure invalidates the document.
	Fatal
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	return verify.Severity(s).String()
}

// Detail is one verification observation.
type Detail struct {
	Severity    Severity
	Description string
	LeafNumber  *uint64
	TickNumber  *uint64
}

// Report is the outcome of a verification run.
type Report struct {
	ID      uuid.UUID
	Valid   bool
	Level   VerificationLevel
	RanAt   time.Time
	Details []Detail
}

// Counts returns how many details carry each severity.
func (r Report) Counts() (ok, warnings, fatals int) {
	for _, d := range r.Details {
		switch d.Severity {
		case OK:
			ok++
		case Warning:
			warnings++
		case Fatal:
			fatals++
		}
	}
	return
}

// Leaf is the public view of one committed paragraph.
type Leaf struct {
	LeafNumber   uint64
	Content      string
	StateHash    string
	TickRef      uint64
	PrevLeafHash string
	Commitment   string
	Hash         string
	Timestamp    time.Time
}

// Tick is the public view of one VDF clock tick.
type Tick struct {
	SequenceNumber uint64
	Iterations     uint64
	SystemTime     time.Time
	PrevOutputHash string
}

// Metadata describes the document.
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

func reportFromInternal(r verify.Report) Report {
	out := Report{
		ID:      r.ID,
		Valid:   r.Valid,
		Level:   VerificationLevel(r.Level),
		RanAt:   r.RanAt,
		Details: make([]Detail, len(r.Details)),
	}
	for i, d := range r.Details {
		out.Details[i] = Detail{
			Severity:    Severity(d.Severity),
			Description: d.Description,
			LeafNumber:  d.LeafNumber,
			TickNumber:  d.TickNumber,
		}
	}
	return out
}
