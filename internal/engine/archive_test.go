package engine_test

import (
	"testing"
	"time"

	"taskmaster/internal/domain"
	"taskmaster/internal/engine"
)

func TestBuildArchiveTiming(t *testing.T) {
	assignedAt := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	a := domain.Assignment{
		ID:         "a1",
		TaskID:     "t1",
		AssignedTo: "bob",
		AssignedBy: "alice",
		AssignedAt: assignedAt.Format(time.RFC3339),
	}

	t.Run("no due date", func(t *testing.T) {
		entry, err := engine.BuildArchive(domain.Task{ID: "t1"}, a, "bob", assignedAt.Add(45*time.Minute))
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if entry.TimeTakenMinutes != 45 {
			t.Fatalf("time taken = %d, want 45", entry.TimeTakenMinutes)
		}
		if entry.OnTime != nil {
			t.Fatalf("on_time should be unset without a due date")
		}
	})

	t.Run("late", func(t *testing.T) {
		due := assignedAt.Add(time.Hour).Format(time.RFC3339)
		entry, err := engine.BuildArchive(domain.Task{ID: "t1", DueDate: &due}, a, "bob", assignedAt.Add(90*time.Minute))
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if entry.TimeTakenMinutes != 90 {
			t.Fatalf("time taken = %d, want 90", entry.TimeTakenMinutes)
		}
		if entry.OnTime == nil || *entry.OnTime {
			t.Fatalf("90 minutes against a 60 minute window should be late")
		}
	})

	t.Run("on time", func(t *testing.T) {
		due := assignedAt.Add(2 * time.Hour).Format(time.RFC3339)
		entry, err := engine.BuildArchive(domain.Task{ID: "t1", DueDate: &due}, a, "bob", assignedAt.Add(90*time.Minute))
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if entry.OnTime == nil || !*entry.OnTime {
			t.Fatalf("90 minutes against a 120 minute window should be on time")
		}
	})

	t.Run("exactly at due date", func(t *testing.T) {
		due := assignedAt.Add(time.Hour).Format(time.RFC3339)
		entry, err := engine.BuildArchive(domain.Task{ID: "t1", DueDate: &due}, a, "bob", assignedAt.Add(time.Hour))
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if entry.OnTime == nil || !*entry.OnTime {
			t.Fatalf("finishing exactly at the due date counts as on time")
		}
	})

	t.Run("bad assigned_at", func(t *testing.T) {
		bad := a
		bad.AssignedAt = "yesterday"
		if _, err := engine.BuildArchive(domain.Task{ID: "t1"}, bad, "bob", assignedAt); err == nil {
			t.Fatalf("expected parse error")
		}
	})
}
