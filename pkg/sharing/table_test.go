package sharing

import (
	"errors"
	"testing"
)

func newTableSession(callID string) *Session {
	s := newSession(&Config{}, DirectionIncoming, callID, "sip:bob@example.com", nil)
	s.cancel()
	return s
}

func TestTable(t *testing.T) {
	table := NewTable(2)

	a := newTableSession("call-a")
	b := newTableSession("call-b")
	if err := table.Add(a); err != nil {
		t.Fatalf("Add(a) error = %v", err)
	}
	if err := table.Add(newTableSession("call-a")); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("Add() with used call id error = %v, want ErrDuplicateSession", err)
	}
	if err := table.Add(b); err != nil {
		t.Fatalf("Add(b) error = %v", err)
	}
	if !table.IsFull() {
		t.Error("IsFull() = false")
	}
	if err := table.Add(newTableSession("call-c")); !errors.Is(err, ErrTableFull) {
		t.Errorf("Add() to full table error = %v, want ErrTableFull", err)
	}

	if got := table.FindByCallID("call-b"); got != b {
		t.Errorf("FindByCallID(call-b) = %v", got)
	}
	if got := table.FindByID(a.ID()); got != a {
		t.Errorf("FindByID() = %v", got)
	}
	if got := table.FindByRemote("sip:bob@example.com"); len(got) != 2 {
		t.Errorf("FindByRemote() = %d sessions, want 2", len(got))
	}

	table.Remove(a.ID())
	table.Remove(a.ID())
	if table.FindByCallID("call-a") != nil {
		t.Error("session still indexed by call id after Remove()")
	}
	if table.Count() != 1 || len(table.Snapshot()) != 1 {
		t.Errorf("Count() = %d, want 1", table.Count())
	}
}

func TestNewTable_Default(t *testing.T) {
	table := NewTable(0)
	if table.maxSessions != DefaultMaxSessions {
		t.Errorf("maxSessions = %d, want %d", table.maxSessions, DefaultMaxSessions)
	}
}
