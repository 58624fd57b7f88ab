package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/backoffice/ledger"
	"github.com/clinicware/backoffice/ledger/store"
)

func TestSnapshot_EncodePreservesDeclarationOrder(t *testing.T) {
	// The encoding is structural, not alphabetical: fields appear exactly
	// in the order the kind declares them.

	snap := ledger.Snapshot{
		{Name: "zulu", Value: "1"},
		{Name: "alpha", Value: "2"},
		{Name: "mike", Value: "3"},
	}
	assert.Equal(t, `{"zulu":"1","alpha":"2","mike":"3"}`, string(snap.Encode()))
}

func TestSnapshot_EncodeIsDeterministic(t *testing.T) {
	snap := ledger.Snapshot{
		{Name: "amount", Value: "1500"},
		{Name: "note", Value: "paid in cash"},
	}
	assert.Equal(t, snap.Encode(), snap.Encode())
}

func TestSnapshot_EncodeEscapesValues(t *testing.T) {
	snap := ledger.Snapshot{{Name: "note", Value: `he said "done"` + "\n"}}
	assert.Equal(t, `{"note":"he said \"done\"\n"}`, string(snap.Encode()))
}

func TestSnapshot_EmptyEncodesToEmptyObject(t *testing.T) {
	assert.Equal(t, `{}`, string(ledger.Snapshot{}.Encode()))
}

func TestRecorder_AppendAndReadBack(t *testing.T) {
	// GIVEN: two updates to the same record
	// THEN: history returns both rows, timestamp ascending, bytes intact

	ctx := context.Background()
	mem := store.NewMemory(nil)
	rec := ledger.Recorder{}
	ref := ledger.EntityRef{Kind: "expense", ID: "x-1"}

	t0 := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	old1 := ledger.Snapshot{{Name: "amount", Value: "100"}}
	new1 := ledger.Snapshot{{Name: "amount", Value: "150"}}
	require.NoError(t, rec.RecordUpdate(ctx, mem, ref, old1, new1, "typo", "alice", t0))
	require.NoError(t, rec.RecordUpdate(ctx, mem, ref, new1, old1, "revert", "bob", t0.Add(time.Hour)))

	records, err := rec.History(ctx, mem, ref)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "alice", records[0].ActorID)
	assert.Equal(t, "typo", records[0].Reason)
	assert.Equal(t, `{"amount":"100"}`, string(records[0].OldData))
	assert.Equal(t, `{"amount":"150"}`, string(records[0].NewData))
	assert.Equal(t, "bob", records[1].ActorID)
	assert.True(t, records[0].RecordedAt.Before(records[1].RecordedAt))

	// Other records' history stays separate.
	other, err := rec.History(ctx, mem, ledger.EntityRef{Kind: "expense", ID: "x-2"})
	require.NoError(t, err)
	assert.Empty(t, other)
}
