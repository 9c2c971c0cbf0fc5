// Package verify runs the multi-level integrity checks over a Merkle
// document: leaf chain and hash recomputation, commitment binding, tree
// reconstruction, VDF proof re-verification, timing heuristics, and
// writing-pattern analysis.
//
// Failures never surface as errors; every observation becomes a Detail in
// the returned Report so a caller sees the complete picture even when the
// document is badly damaged.
package verify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level selects how deep verification goes. Levels are cumulative.
type Level int

const (
	// Basic checks the leaf chain, commitments, and tree structure.
	Basic Level = iota
	// Standard adds VDF proof verification over sampled key ticks plus
	// timing and difficulty heuristics.
	Standard
	// Thorough extends proof verification from the sampled key ticks to
	// every retained tick.
	Thorough
	// Forensic adds writing-pattern analysis over leaf timestamps.
	Forensic
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Basic:
		return "basic"
	case Standard:
		return "standard"
	case Thorough:
		return "thorough"
	case Forensic:
		return "forensic"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a user-supplied level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return Basic, nil
	case "standard", "":
		return Standard, nil
	case "thorough":
		return Thorough, nil
	case "forensic":
		return Forensic, nil
	default:
		return Standard, fmt.Errorf("verify: unknown level %q (want basic, standard, thorough, or forensic)", s)
	}
}

// Severity classifies a verification detail.
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
	switch s {
	case OK:
		return "ok"
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Detail is one verification observation.
type Detail struct {
	Severity    Severity
	Description string
	LeafNumber  *uint64 // set when the observation concerns a specific leaf
	TickNumber  *uint64 // set when the observation concerns a specific tick
}

// Report is the outcome of one verification run.
type Report struct {
	ID      uuid.UUID
	Valid   bool
	Level   Level
	RanAt   time.Time
	Details []Detail
}

func (r *Report) ok(description string) {
	r.Details = append(r.Details, Detail{Severity: OK, Description: description})
}

func (r *Report) warn(description string) {
	r.Details = append(r.Details, Detail{Severity: Warning, Description: description})
}

func (r *Report) fatal(description string) {
	r.Valid = false
	r.Details = append(r.Details, Detail{Severity: Fatal, Description: description})
}

func (r *Report) okLeaf(leaf uint64, description string) {
	r.Details = append(r.Details, Detail{Severity: OK, Description: description, LeafNumber: &leaf})
}

func (r *Report) warnLeaf(leaf uint64, description string) {
	r.Details = append(r.Details, Detail{Severity: Warning, Description: description, LeafNumber: &leaf})
}

func (r *Report) fatalLeaf(leaf uint64, description string) {
	r.Valid = false
	r.Details = append(r.Details, Detail{Severity: Fatal, Description: description, LeafNumber: &leaf})
}

func (r *Report) okTick(tick uint64, description string) {
	r.Details = append(r.Details, Detail{Severity: OK, Description: description, TickNumber: &tick})
}

func (r *Report) warnTick(tick uint64, description string) {
	r.Details = append(r.Details, Detail{Severity: Warning, Description: description, TickNumber: &tick})
}

func (r *Report) fatalTick(tick uint64, description string) {
	r.Valid = false
	r.Details = append(r.Details, Detail{Severity: Fatal, Description: description, TickNumber: &tick})
}

// Counts returns how many details carry each severity.
func (r *Report) Counts() (ok, warnings, fatals int) {
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
