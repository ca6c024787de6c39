package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskmaster/internal/domain"
)

// BuildArchive derives the immutable completion record from the active
// assignment's timing facts. It never mutates its inputs; elapsed time is
// completion minus assignment, and when the task carries a due date the
// entry is classified on-time iff elapsed does not exceed the window
// between assignment and due date.
func BuildArchive(task domain.Task, a domain.Assignment, completedBy string, completedAt time.Time) (domain.ArchiveEntry, error) {
	assignedAt, err := time.Parse(time.RFC3339, a.AssignedAt)
	if err != nil {
		return domain.ArchiveEntry{}, fmt.Errorf("parse assigned_at: %w", err)
	}
	elapsed := completedAt.Sub(assignedAt)
	entry := domain.ArchiveEntry{
		ID:               uuid.New().String(),
		TaskID:           task.ID,
		AssignedTo:       a.AssignedTo,
		AssignedBy:       a.AssignedBy,
		AssignedAt:       a.AssignedAt,
		CompletedBy:      completedBy,
		CompletedAt:      completedAt.UTC().Format(time.RFC3339),
		TimeTakenMinutes: int64(elapsed.Minutes()),
	}
	if task.DueDate != nil {
		due, err := time.Parse(time.RFC3339, *task.DueDate)
		if err != nil {
			return domain.ArchiveEntry{}, fmt.Errorf("parse due_date: %w", err)
		}
		onTime := elapsed <= due.Sub(assignedAt)
		entry.OnTime = &onTime
	}
	return entry, nil
}
