package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/edgeshare/internal/testutil/testlog"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.sqlite3"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordListGet(t *testing.T) {
	testlog.Start(t)
	s := openStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	entries := []Transfer{
		{Direction: DirectionSent, Name: "a.txt", Size: 1, Status: StatusCompleted, StartedAt: base},
		{Direction: DirectionReceived, Name: "b.txt", Size: 2, Status: StatusCompleted, StartedAt: base.Add(time.Second)},
		{Direction: DirectionSent, Name: "c.txt", Size: 3, Status: StatusFailed, Error: "boom", StartedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record %s: %v", e.Name, err)
		}
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Name != "c.txt" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[0].ID == "" {
		t.Fatalf("expected generated id")
	}

	sent, err := s.List(ctx, Filter{Direction: DirectionSent, Limit: 1})
	if err != nil {
		t.Fatalf("list sent: %v", err)
	}
	if len(sent) != 1 || sent[0].Name != "c.txt" {
		t.Fatalf("unexpected sent list: %+v", sent)
	}

	got, err := s.Get(ctx, all[1].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "b.txt" || got.Direction != DirectionReceived {
		t.Fatalf("unexpected record: %+v", got)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordRejectsUnknownDirection(t *testing.T) {
	s := openStore(t)
	err := s.Record(context.Background(), Transfer{Direction: "sideways"})
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection(" Sent "); err != nil || d != DirectionSent {
		t.Fatalf("parse sent: %v %v", d, err)
	}
	if d, err := ParseDirection(""); err != nil || d != "" {
		t.Fatalf("parse empty: %v %v", d, err)
	}
	if _, err := ParseDirection("up"); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}
