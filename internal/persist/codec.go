package persist

import (
	"time"

	"github.com/ciphernom/bitquill/internal/clock"
	"github.com/ciphernom/bitquill/internal/document"
	"github.com/ciphernom/bitquill/internal/vdf"
)

// epochSeconds truncates a timestamp to whole unsigned seconds, the only
// time representation that appears on disk. Pre-epoch values clamp to zero.
func epochSeconds(t time.Time) uint64 {
	secs := t.Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs)
}

func metadataRecord(m document.Metadata) Metadata {
	return Metadata{
		ID:           m.ID,
		Title:        m.Title,
		Author:       m.Author,
		Created:      epochSeconds(m.Created),
		LastModified: epochSeconds(m.LastModified),
		Version:      m.Version,
		Keywords:     m.Keywords,
		Description:  m.Description,
	}
}

func metadataFromRecord(r Metadata) document.Metadata {
	return document.Metadata{
		ID:           r.ID,
		Title:        r.Title,
		Author:       r.Author,
		Created:      time.Unix(int64(r.Created), 0),
		LastModified: time.Unix(int64(r.LastModified), 0),
		Version:      r.Version,
		Keywords:     r.Keywords,
		Description:  r.Description,
	}
}

func leafRecord(l document.Leaf) LeafRecord {
	return LeafRecord{
		DocumentState: StateRecord{
			Content:    l.State.Content,
			SystemTime: epochSeconds(l.State.SystemTime),
			StateHash:  l.State.StateHash,
		},
		VDFTickReference: l.TickRef,
		PrevLeafHash:     l.PrevLeafHash,
		Timestamp:        epochSeconds(l.Timestamp),
		Hash:             l.Hash,
		LeafNumber:       l.LeafNumber,
		Commitment:       l.Commitment,
	}
}

func leafFromRecord(r LeafRecord) document.Leaf {
	return document.Leaf{
		State: document.State{
			Content:    r.DocumentState.Content,
			SystemTime: time.Unix(int64(r.DocumentState.SystemTime), 0),
			StateHash:  r.DocumentState.StateHash,
		},
		TickRef:      r.VDFTickReference,
		PrevLeafHash: r.PrevLeafHash,
		Timestamp:    time.Unix(int64(r.Timestamp), 0),
		Hash:         r.Hash,
		LeafNumber:   r.LeafNumber,
		Commitment:   r.Commitment,
	}
}

func nodeRecord(n document.Node) NodeRecord {
	rec := NodeRecord{
		Hash:   n.Hash,
		Height: n.Height,
	}
	if n.LeftHash != "" {
		left := n.LeftHash
		rec.LeftChildHash = &left
	}
	if n.RightHash != "" {
		right := n.RightHash
		rec.RightChildHash = &right
	}
	return rec
}

func nodeFromRecord(r NodeRecord) document.Node {
	n := document.Node{
		Hash:   r.Hash,
		Height: r.Height,
	}
	if r.LeftChildHash != nil {
		n.LeftHash = *r.LeftChildHash
	}
	if r.RightChildHash != nil {
		n.RightHash = *r.RightChildHash
	}
	return n
}

func tickRecord(t clock.Tick) TickRecord {
	return TickRecord{
		OutputY: t.OutputY,
		Proof: ProofRecord{
			Y:  t.Proof.Y,
			Pi: t.Proof.Pi,
			L:  t.Proof.L,
			R:  t.Proof.R,
		},
		SequenceNumber: t.SequenceNumber,
		PrevOutputHash: t.PrevOutputHash,
		SystemTime:     epochSeconds(t.SystemTime),
		Iterations:     t.Iterations,
	}
}

func tickFromRecord(r TickRecord) clock.Tick {
	return clock.Tick{
		SequenceNumber: r.SequenceNumber,
		OutputY:        r.OutputY,
		Proof: vdf.Proof{
			Y:  r.Proof.Y,
			Pi: r.Proof.Pi,
			L:  r.Proof.L,
			R:  r.Proof.R,
		},
		PrevOutputHash: r.PrevOutputHash,
		Iterations:     r.Iterations,
		SystemTime:     time.Unix(int64(r.SystemTime), 0),
	}
}
