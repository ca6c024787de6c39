package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskmaster/internal/domain"
	"taskmaster/internal/events"
	"taskmaster/internal/repo"
)

// Notifier receives lifecycle events after the owning transaction has
// committed. Implementations must never fail the caller; delivery
// problems are theirs to log and swallow.
type Notifier interface {
	TaskAssigned(ctx context.Context, task domain.Task, a domain.Assignment)
	TaskCompleted(ctx context.Context, task domain.Task, entry domain.ArchiveEntry)
	TaskUpdated(ctx context.Context, task domain.Task, a domain.Assignment)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify Notifier
	Rand   io.Reader
	Now    func() time.Time
	Logger *log.Logger

	locks *taskLocks
}

func New(db *sql.DB, notifier Notifier) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Notify: notifier,
		Rand:   rand.Reader,
		Now:    time.Now,
		locks:  newTaskLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Priority    string
	DueDate     string
	ActorID     string
}

func validPriority(p string) bool {
	switch p {
	case "low", "medium", "high":
		return true
	}
	return false
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, BadRequestError{Message: "title is required"}
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if !validPriority(opts.Priority) {
		return domain.Task{}, BadRequestError{Message: fmt.Sprintf("invalid priority %s", opts.Priority)}
	}
	if opts.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
			return domain.Task{}, BadRequestError{Message: "invalid due_date, want RFC3339"}
		}
	}
	if ok, err := e.Repo.UserExists(ctx, opts.ActorID); err != nil {
		return domain.Task{}, err
	} else if !ok {
		return domain.Task{}, fmt.Errorf("user %s: %w", opts.ActorID, repo.ErrNotFound)
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:          uuid.New().String(),
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.DueDate != "" {
		t.DueDate = &opts.DueDate
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "priority": t.Priority}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AssignTask gives a task to assigneeID. At most one assignment may be
// live per task; a second assign before completion loses with
// AlreadyAssignedError naming the current holder. The check-then-insert
// is serialized by the per-task lock, with the partial unique index on
// task_assignments as the backstop.
func (e Engine) AssignTask(ctx context.Context, taskID, assigneeID, assignedBy string) (domain.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return domain.Task{}, BadRequestError{Message: "task id is required"}
	}
	if strings.TrimSpace(assigneeID) == "" {
		return domain.Task{}, BadRequestError{Message: "assignee id is required"}
	}
	if strings.TrimSpace(assignedBy) == "" {
		return domain.Task{}, BadRequestError{Message: "assigner id is required"}
	}
	release := e.locks.acquire(taskID)
	defer release()

	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Deleted {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	if ok, err := e.Repo.UserExists(ctx, assigneeID); err != nil {
		return domain.Task{}, err
	} else if !ok {
		return domain.Task{}, fmt.Errorf("user %s: %w", assigneeID, repo.ErrNotFound)
	}

	a := domain.Assignment{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		AssignedTo: assigneeID,
		AssignedBy: assignedBy,
		AssignedAt: e.now().UTC().Format(time.RFC3339),
		Status:     "pending",
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if existing, err := e.Repo.GetActiveAssignmentTx(ctx, tx, taskID); err == nil {
		return domain.Task{}, AlreadyAssignedError{TaskID: taskID, AssignedTo: existing.AssignedTo}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
		if repo.IsUniqueViolation(err) {
			if existing, rerr := e.Repo.GetActiveAssignment(ctx, taskID); rerr == nil {
				return domain.Task{}, AlreadyAssignedError{TaskID: taskID, AssignedTo: existing.AssignedTo}
			}
			return domain.Task{}, AlreadyAssignedError{TaskID: taskID}
		}
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.assigned", "task", taskID, assignedBy, events.EventPayload{"assigned_to": assigneeID}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if e.Notify != nil {
		e.Notify.TaskAssigned(ctx, task, a)
	}
	return task, nil
}

// CompleteTask archives the active assignment and removes it. Completing
// a task with no active assignment errors; double-completion is never
// silently accepted.
func (e Engine) CompleteTask(ctx context.Context, taskID, completedBy string) (domain.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return domain.Task{}, BadRequestError{Message: "task id is required"}
	}
	if strings.TrimSpace(completedBy) == "" {
		return domain.Task{}, BadRequestError{Message: "completer id is required"}
	}
	release := e.locks.acquire(taskID)
	defer release()

	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetActiveAssignmentTx(ctx, tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, NoActiveAssignmentError{TaskID: taskID}
	}
	if err != nil {
		return domain.Task{}, err
	}
	entry, err := BuildArchive(task, a, completedBy, e.now().UTC())
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertArchive(ctx, tx, entry); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.DeleteAssignment(ctx, tx, a.ID); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.completed", "task", taskID, completedBy, events.EventPayload{
		"assigned_to":        a.AssignedTo,
		"time_taken_minutes": entry.TimeTakenMinutes,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.logger().Printf("task %s completed by %s in %d minutes", taskID, completedBy, entry.TimeTakenMinutes)
	if e.Notify != nil {
		e.Notify.TaskCompleted(ctx, task, entry)
	}
	return task, nil
}

// DeleteTask soft-deletes a task. Only the creator may delete, never
// while an active assignment exists; archive history is preserved.
func (e Engine) DeleteTask(ctx context.Context, taskID, requesterID string) error {
	if strings.TrimSpace(taskID) == "" {
		return BadRequestError{Message: "task id is required"}
	}
	if strings.TrimSpace(requesterID) == "" {
		return BadRequestError{Message: "requester id is required"}
	}
	release := e.locks.acquire(taskID)
	defer release()

	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Deleted {
		return fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	if task.CreatedBy != requesterID {
		return ForbiddenError{Message: "only the task creator can delete the task"}
	}
	if a, err := e.Repo.GetActiveAssignment(ctx, taskID); err == nil {
		return DeleteConflictError{TaskID: taskID, AssignedTo: a.AssignedTo}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteAssignmentsForTask(ctx, tx, taskID); err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.MarkTaskDeleted(ctx, tx, taskID, requesterID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", "task", taskID, requesterID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskUpdateOptions encapsulates allowed edits; nil fields are unchanged.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Priority    *string
	DueDate     *string
	ActorID     string
}

// UpdateTask edits task fields and notifies the active assignee, if any.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	task, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Deleted {
		return domain.Task{}, fmt.Errorf("task %s: %w", opts.ID, repo.ErrNotFound)
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Task{}, BadRequestError{Message: "title cannot be empty"}
		}
		task.Title = *opts.Title
	}
	if opts.Description != nil {
		task.Description = *opts.Description
	}
	if opts.Priority != nil {
		if !validPriority(*opts.Priority) {
			return domain.Task{}, BadRequestError{Message: fmt.Sprintf("invalid priority %s", *opts.Priority)}
		}
		task.Priority = *opts.Priority
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			task.DueDate = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *opts.DueDate); err != nil {
				return domain.Task{}, BadRequestError{Message: "invalid due_date, want RFC3339"}
			}
			task.DueDate = opts.DueDate
		}
	}
	task.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, task); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", "task", task.ID, opts.ActorID, events.EventPayload{"title": task.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if e.Notify != nil {
		if a, err := e.Repo.GetActiveAssignment(ctx, task.ID); err == nil {
			e.Notify.TaskUpdated(ctx, task, a)
		}
	}
	return task, nil
}
