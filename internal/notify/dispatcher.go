// Package notify turns task lifecycle events into durable notification
// rows plus best-effort pushes to the realtime layer. Persistence is
// authoritative; a failed push is logged and dropped, never surfaced to
// the caller that triggered the event.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"taskmaster/internal/domain"
	"taskmaster/internal/engine"
	"taskmaster/internal/repo"
)

const (
	TypeAssigned  = "task.assigned"
	TypeCompleted = "task.completed"
	TypeUpdated   = "task.updated"
)

// Publisher is the realtime fan-out layer.
type Publisher interface {
	Publish(userID string, payload map[string]any) error
}

type Dispatcher struct {
	Repo      repo.Repo
	Publisher Publisher
	Now       func() time.Time
	Logger    *log.Logger
}

func NewDispatcher(db *sql.DB, pub Publisher) *Dispatcher {
	return &Dispatcher{
		Repo:      repo.Repo{DB: db},
		Publisher: pub,
		Now:       time.Now,
	}
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// payload variants share a base; each is rendered to a transport-neutral
// map at the dispatch boundary.
type basePayload struct {
	Notification domain.Notification
	TaskTitle    string
	TaskPriority string
	DueDate      *string
}

func (p basePayload) render() map[string]any {
	created, _ := time.Parse(time.RFC3339, p.Notification.CreatedAt)
	m := map[string]any{
		"type":            p.Notification.Type,
		"message":         p.Notification.Message,
		"user_id":         p.Notification.UserID,
		"task_id":         p.Notification.TaskID,
		"task_title":      p.TaskTitle,
		"task_priority":   p.TaskPriority,
		"notification_id": p.Notification.ID,
		"read":            p.Notification.Read,
		"timestamp":       created.UnixMilli(),
	}
	if p.DueDate != nil {
		m["due_date"] = *p.DueDate
	}
	return m
}

type assignedPayload struct {
	basePayload
	AssignedBy string
}

func (p assignedPayload) render() map[string]any {
	m := p.basePayload.render()
	m["assigned_by"] = p.AssignedBy
	return m
}

type completedPayload struct {
	basePayload
	CompletedBy string
	CompletedAt string
	AssignedAt  string
}

func (p completedPayload) render() map[string]any {
	m := p.basePayload.render()
	m["completed_by"] = p.CompletedBy
	m["completed_at"] = p.CompletedAt
	m["assigned_at"] = p.AssignedAt
	return m
}

type updatedPayload struct {
	basePayload
	AssignedTo string
	AssignedBy string
	Status     string
}

func (p updatedPayload) render() map[string]any {
	m := p.basePayload.render()
	m["assigned_to"] = p.AssignedTo
	m["assigned_by"] = p.AssignedBy
	m["status"] = p.Status
	return m
}

type renderer interface {
	render() map[string]any
}

// TaskAssigned notifies the new assignee.
func (d *Dispatcher) TaskAssigned(ctx context.Context, task domain.Task, a domain.Assignment) {
	msg := fmt.Sprintf("Task '%s' assigned by %s", task.Title, a.AssignedBy)
	n, ok := d.persist(ctx, a.AssignedTo, task.ID, TypeAssigned, msg)
	if !ok {
		return
	}
	d.push(assignedPayload{
		basePayload: d.base(n, task),
		AssignedBy:  a.AssignedBy,
	}, n.UserID)
}

// TaskCompleted notifies the assignee whose work was completed.
func (d *Dispatcher) TaskCompleted(ctx context.Context, task domain.Task, entry domain.ArchiveEntry) {
	var msg string
	switch {
	case entry.OnTime != nil && *entry.OnTime:
		msg = fmt.Sprintf("Task '%s' completed by %s in %d minutes (before deadline)", task.Title, entry.CompletedBy, entry.TimeTakenMinutes)
	case entry.OnTime != nil:
		msg = fmt.Sprintf("Task '%s' completed by %s in %d minutes (after deadline)", task.Title, entry.CompletedBy, entry.TimeTakenMinutes)
	default:
		msg = fmt.Sprintf("Task '%s' completed by %s in %d minutes", task.Title, entry.CompletedBy, entry.TimeTakenMinutes)
	}
	n, ok := d.persist(ctx, entry.AssignedTo, task.ID, TypeCompleted, msg)
	if !ok {
		return
	}
	d.push(completedPayload{
		basePayload: d.base(n, task),
		CompletedBy: entry.CompletedBy,
		CompletedAt: entry.CompletedAt,
		AssignedAt:  entry.AssignedAt,
	}, n.UserID)
}

// TaskUpdated notifies the active assignee about task edits.
func (d *Dispatcher) TaskUpdated(ctx context.Context, task domain.Task, a domain.Assignment) {
	msg := fmt.Sprintf("Task '%s' has been updated - Status: %s, Priority: %s", task.Title, a.Status, task.Priority)
	n, ok := d.persist(ctx, a.AssignedTo, task.ID, TypeUpdated, msg)
	if !ok {
		return
	}
	d.push(updatedPayload{
		basePayload: d.base(n, task),
		AssignedTo:  a.AssignedTo,
		AssignedBy:  a.AssignedBy,
		Status:      a.Status,
	}, n.UserID)
}

func (d *Dispatcher) base(n domain.Notification, task domain.Task) basePayload {
	return basePayload{
		Notification: n,
		TaskTitle:    task.Title,
		TaskPriority: task.Priority,
		DueDate:      task.DueDate,
	}
}

// persist writes the durable row. Unknown recipients and storage errors
// are logged, not raised: notification failure must never abort the
// business transaction that triggered it.
func (d *Dispatcher) persist(ctx context.Context, userID, taskID, typ, msg string) (domain.Notification, bool) {
	exists, err := d.Repo.UserExists(ctx, userID)
	if err != nil {
		d.logger().Printf("notify: lookup user %s: %v", userID, err)
		return domain.Notification{}, false
	}
	if !exists {
		d.logger().Printf("notify: user not found: %s", userID)
		return domain.Notification{}, false
	}
	n := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		TaskID:    taskID,
		Message:   msg,
		Type:      typ,
		CreatedAt: d.now().UTC().Format(time.RFC3339),
	}
	if err := d.Repo.InsertNotification(ctx, n); err != nil {
		d.logger().Printf("notify: persist notification for %s: %v", userID, err)
		return domain.Notification{}, false
	}
	return n, true
}

// push hands the rendered payload to the realtime layer; only attempted
// after the row is persisted, and its failure never rolls anything back.
func (d *Dispatcher) push(p renderer, userID string) {
	if d.Publisher == nil {
		return
	}
	if err := d.Publisher.Publish(userID, p.render()); err != nil {
		d.logger().Printf("notify: push to %s: %v", userID, err)
	}
}

// ListForUser returns all notifications, newest first.
func (d *Dispatcher) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	return d.Repo.ListNotifications(ctx, userID)
}

// ListUnreadForUser returns unread notifications, newest first.
func (d *Dispatcher) ListUnreadForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	return d.Repo.ListUnreadNotifications(ctx, userID)
}

// MarkRead acknowledges one notification for its recipient. Marking an
// already-read notification is a no-op success.
func (d *Dispatcher) MarkRead(ctx context.Context, id, userID string) error {
	n, err := d.Repo.GetNotification(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("notification %s: %w", id, repo.ErrNotFound)
		}
		return err
	}
	if n.UserID != userID {
		return engine.ForbiddenError{Message: "notification does not belong to you"}
	}
	if n.Read {
		return nil
	}
	return d.Repo.MarkNotificationRead(ctx, id)
}
