/*
audit.go - Append-only update history with before/after snapshots

PURPOSE:
  Every successful update to a ledgered record leaves exactly one
  immutable history row: who changed it, when, why, and the full
  before/after state. Rows are never modified or deleted.

SNAPSHOT ENCODING:
  Snapshots are a stable field-ordered structural encoding, NOT a dump of
  live structs. Each entity kind declares an explicit ordered field list
  (see domain package); the encoder emits a JSON object in that exact
  order with all values as strings. Adding a field appends to the list,
  so history written by older versions stays byte-comparable.

WHEN IT RUNS:
  Exactly once per update, after all field mutations are applied to the
  in-memory record but before the transaction commits - the "new"
  snapshot reflects final state, and a rolled-back transaction leaves no
  history row. Creates record no row: there is no prior state to diff.

READ SIDE:
  History is ordered by timestamp ascending. Authorization for reading it
  is the caller's concern, not this component's.

SEE ALSO:
  - orchestrator.go: The only writer
  - domain/snapshot.go: Per-kind field lists
*/
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SNAPSHOT - Stable field-ordered encoding
// =============================================================================

// SnapshotField is one (name, value) pair. Values are pre-rendered strings so
// the encoding never depends on type-specific JSON behavior.
type SnapshotField struct {
	Name  string
	Value string
}

// Snapshot is an ordered field list describing an entity's full state.
type Snapshot []SnapshotField

// Encode renders the snapshot as a JSON object with fields in declaration
// order. Deterministic: the same snapshot always produces the same bytes.
func (s Snapshot) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(f.Name)
		value, _ := json.Marshal(f.Value)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// =============================================================================
// UPDATE RECORD - One immutable history row
// =============================================================================

type UpdateRecord struct {
	ID         string
	Entity     EntityRef
	ActorID    string
	Reason     string
	OldData    []byte
	NewData    []byte
	RecordedAt time.Time
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder appends update records. Stateless; safe for concurrent use.
type Recorder struct{}

// RecordUpdate appends one history row inside the caller's transaction.
func (Recorder) RecordUpdate(ctx context.Context, s Store, ref EntityRef, oldState, newState Snapshot, reason, actorID string, now time.Time) error {
	return s.AppendHistory(ctx, UpdateRecord{
		ID:         uuid.NewString(),
		Entity:     ref,
		ActorID:    actorID,
		Reason:     reason,
		OldData:    oldState.Encode(),
		NewData:    newState.Encode(),
		RecordedAt: now,
	})
}

// History returns the entity's update records, timestamp ascending.
func (Recorder) History(ctx context.Context, s Store, ref EntityRef) ([]UpdateRecord, error) {
	return s.HistoryFor(ctx, ref)
}
