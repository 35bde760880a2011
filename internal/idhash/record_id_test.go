package idhash

import "testing"

func TestComputeRecordID(t *testing.T) {
	id := ComputeRecordID("capture-1", "Alice")
	if len(id) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(id))
	}

	// Identity is case-insensitive.
	if other := ComputeRecordID("capture-1", "  alice "); other != id {
		t.Errorf("expected same id for normalized username, got %s vs %s", other, id)
	}

	// Different capture yields a different record.
	if other := ComputeRecordID("capture-2", "alice"); other == id {
		t.Error("expected different id for different capture")
	}
}
