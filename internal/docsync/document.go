package docsync

import (
	"errors"
	"sync"
	"time"

	"github.com/Jeffail/leaps/lib/text"

	"interview/internal/models"
)

var (
	// ErrHistoryTooOld means the edit's base revision fell out of the retained
	// transform window. The caller must resync the client from a snapshot.
	ErrHistoryTooOld = errors.New("history_too_old")
	// ErrMalformedOperation covers out-of-bounds ranges, negative deletes,
	// oversized inserts and base revisions ahead of the document.
	ErrMalformedOperation = errors.New("malformed_operation")
)

// Applied is an accepted edit after transformation, expressed against the
// revision immediately before Revision.
type Applied struct {
	Revision int64
	Position int
	Deleted  int
	Inserted string
}

// Document is the authoritative shared text buffer for one room. All edits
// funnel through Apply under a single mutex, which is the per-room
// serialization point: edits in one room never contend with another room's.
//
// Revisions start at 0 and advance by exactly 1 per accepted edit. The leaps
// OT buffer versions content starting at 1, so revision r corresponds to
// buffer version r+1, and an edit composed against revision b is pushed as a
// transform targeting version b+2.
type Document struct {
	mu        sync.Mutex
	content   string
	revision  int64
	buffer    *text.OTBuffer
	retention int64 // seconds of applied-transform history kept for stale edits
	acks      map[string]int64
}

func NewDocument(retention time.Duration) *Document {
	secs := int64(retention / time.Second)
	if secs <= 0 {
		secs = 60
	}
	return &Document{
		buffer:    text.NewOTBuffer("", text.NewOTBufferConfig()),
		retention: secs,
		acks:      make(map[string]int64),
	}
}

// Snapshot returns the current content and revision. Late joiners receive
// this instead of an operation-log replay.
func (d *Document) Snapshot() models.DocSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return models.DocSnapshot{Text: d.content, Revision: d.revision}
}

// Apply accepts one edit: a stale base revision is transformed against every
// operation accepted since that base, then the result is folded into the
// content and assigned the next revision.
func (d *Document) Apply(e models.Edit) (Applied, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.RangeStart < 0 || e.RangeEnd < e.RangeStart {
		return Applied{}, ErrMalformedOperation
	}
	if e.BaseRevision < 0 || e.BaseRevision > d.revision {
		return Applied{}, ErrMalformedOperation
	}

	ot := text.OTransform{
		Position: e.RangeStart,
		Delete:   e.RangeEnd - e.RangeStart,
		Insert:   e.Text,
		Version:  int(e.BaseRevision) + 2,
	}
	tform, version, err := d.buffer.PushTransform(ot)
	if err != nil {
		return Applied{}, mapOTError(err)
	}
	if _, err := d.buffer.FlushTransforms(&d.content, d.retention); err != nil {
		// Drop the rejected transform so the buffer stays usable.
		if n := len(d.buffer.Unapplied); n > 0 {
			d.buffer.Unapplied = d.buffer.Unapplied[:n-1]
		}
		return Applied{}, mapOTError(err)
	}
	d.revision = int64(version) - 1

	return Applied{
		Revision: d.revision,
		Position: tform.Position,
		Deleted:  tform.Delete,
		Inserted: tform.Insert,
	}, nil
}

// OperationsSince returns the accepted operations after revision rev, oldest
// first, provided they are all still within the retained history window.
// ok=false means the gap cannot be replayed and the caller must fall back to
// a full snapshot.
func (d *Document) OperationsSince(rev int64) (ops []Applied, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rev < 0 || rev > d.revision {
		return nil, false
	}
	need := int(d.revision - rev)
	if need == 0 {
		return nil, true
	}
	if need > len(d.buffer.Applied) {
		return nil, false
	}
	// Retained transforms are ordered oldest first; the tail holds the most
	// recent `need` operations, ending at the current revision.
	tail := d.buffer.Applied[len(d.buffer.Applied)-need:]
	ops = make([]Applied, 0, need)
	for i, ot := range tail {
		ops = append(ops, Applied{
			Revision: rev + int64(i) + 1,
			Position: ot.Position,
			Deleted:  ot.Delete,
			Inserted: ot.Insert,
		})
	}
	return ops, true
}

// SetAck records the last revision a participant has acknowledged. The state
// survives a disconnect within the grace window so a resuming participant can
// resync incrementally.
func (d *Document) SetAck(participantID string, revision int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if revision > d.acks[participantID] {
		d.acks[participantID] = revision
	}
}

func (d *Document) Ack(participantID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acks[participantID]
}

func (d *Document) RemoveParticipant(participantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.acks, participantID)
}

func mapOTError(err error) error {
	switch {
	case errors.Is(err, text.ErrTransformTooOld):
		return ErrHistoryTooOld
	case errors.Is(err, text.ErrTransformOOB),
		errors.Is(err, text.ErrTransformNegDelete),
		errors.Is(err, text.ErrTransformTooLong),
		errors.Is(err, text.ErrTransformSkipped):
		return ErrMalformedOperation
	default:
		return err
	}
}
