package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskmaster/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ActiveStatuses are the assignment statuses that count as "live". The
// exclusivity invariant is keyed on these, not on any one status string.
var ActiveStatuses = []string{"pending", "in_progress"}

func activeStatusSet() string {
	quoted := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		quoted[i] = "'" + s + "'"
	}
	return strings.Join(quoted, ",")
}

// IsUniqueViolation reports whether err is a sqlite unique-constraint
// failure, used to surface the active-assignment index as a conflict.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const taskColumns = `id,title,COALESCE(description,''),priority,due_date,created_by,created_at,updated_at,deleted,deleted_at,deleted_by`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var due, deletedAt, deletedBy sql.NullString
	var deleted int
	err := scan(&t.ID, &t.Title, &t.Description, &t.Priority, &due, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &deleted, &deletedAt, &deletedBy)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Deleted = deleted != 0
	if due.Valid {
		t.DueDate = &due.String
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.String
	}
	if deletedBy.Valid {
		t.DeletedBy = &deletedBy.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,priority,due_date,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Priority, nullableStringPtr(t.DueDate), t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,priority=?,due_date=?,updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Priority, nullableStringPtr(t.DueDate), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkTaskDeleted(ctx context.Context, tx *sql.Tx, id, deletedBy, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET deleted=1,deleted_at=?,deleted_by=?,updated_at=? WHERE id=? AND deleted=0`,
		ts, deletedBy, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns non-deleted tasks, newest first.
func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE deleted=0 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksAssignedTo returns non-deleted tasks with a live assignment
// held by the given user.
func (r Repo) ListTasksAssignedTo(ctx context.Context, userID string) ([]domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks t
JOIN task_assignments a ON a.task_id=t.id AND a.status IN (%s)
WHERE t.deleted=0 AND a.assigned_to=?
ORDER BY a.assigned_at DESC`, prefixedTaskColumns("t"), activeStatusSet())
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func prefixedTaskColumns(alias string) string {
	cols := strings.Split(taskColumns, ",")
	for i, c := range cols {
		if strings.HasPrefix(c, "COALESCE") {
			cols[i] = fmt.Sprintf("COALESCE(%s.description,'')", alias)
			continue
		}
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ",")
}

// SearchFilters narrows task searches; Title and Description are
// substring matches, MatchAll requires both when both are set.
type SearchFilters struct {
	Title       string
	Description string
	MatchAll    bool
	SortField   string
	SortDesc    bool
}

func (r Repo) SearchTasks(ctx context.Context, f SearchFilters) ([]domain.Task, error) {
	var conds []string
	var args []any
	if f.Title != "" {
		conds = append(conds, `title LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+f.Title+"%")
	}
	if f.Description != "" {
		conds = append(conds, `description LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+f.Description+"%")
	}
	where := `deleted=0`
	if len(conds) > 0 {
		joiner := " OR "
		if f.MatchAll {
			joiner = " AND "
		}
		where += ` AND (` + strings.Join(conds, joiner) + `)`
	}
	sortField := "created_at"
	switch f.SortField {
	case "", "created_at":
	case "title", "description", "priority":
		sortField = f.SortField
	default:
		return nil, fmt.Errorf("invalid sort field %s", f.SortField)
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY %s %s, id %s`, taskColumns, where, sortField, dir, dir)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

const assignmentColumns = `id,task_id,assigned_to,assigned_by,assigned_at,status`

func scanAssignment(row *sql.Row) (domain.Assignment, error) {
	var a domain.Assignment
	err := row.Scan(&a.ID, &a.TaskID, &a.AssignedTo, &a.AssignedBy, &a.AssignedAt, &a.Status)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_assignments(id,task_id,assigned_to,assigned_by,assigned_at,status) VALUES (?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.AssignedTo, a.AssignedBy, a.AssignedAt, a.Status)
	return err
}

func (r Repo) GetActiveAssignment(ctx context.Context, taskID string) (domain.Assignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM task_assignments WHERE task_id=? AND status IN (`+activeStatusSet()+`) ORDER BY assigned_at DESC LIMIT 1`, taskID)
	return scanAssignment(row)
}

func (r Repo) GetActiveAssignmentTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Assignment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM task_assignments WHERE task_id=? AND status IN (`+activeStatusSet()+`) ORDER BY assigned_at DESC LIMIT 1`, taskID)
	return scanAssignment(row)
}

func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM task_assignments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAssignmentsForTask clears every assignment row for a task,
// active or not. Used by task deletion after the active check passed.
func (r Repo) DeleteAssignmentsForTask(ctx context.Context, tx *sql.Tx, taskID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_assignments WHERE task_id=?`, taskID)
	return err
}

func (r Repo) InsertArchive(ctx context.Context, tx *sql.Tx, e domain.ArchiveEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_archives(id,task_id,assigned_to,assigned_by,assigned_at,completed_by,completed_at,time_taken_minutes,on_time) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, e.AssignedTo, e.AssignedBy, e.AssignedAt, e.CompletedBy, e.CompletedAt, e.TimeTakenMinutes, nullableBoolPtr(e.OnTime))
	return err
}

// ListArchivesForTask returns completion history newest first. Deleted
// tasks keep their archives.
func (r Repo) ListArchivesForTask(ctx context.Context, taskID string) ([]domain.ArchiveEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,assigned_to,assigned_by,assigned_at,completed_by,completed_at,time_taken_minutes,on_time FROM task_archives WHERE task_id=? ORDER BY completed_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ArchiveEntry
	for rows.Next() {
		var e domain.ArchiveEntry
		var onTime sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.AssignedTo, &e.AssignedBy, &e.AssignedAt, &e.CompletedBy, &e.CompletedAt, &e.TimeTakenMinutes, &onTime); err != nil {
			return nil, err
		}
		if onTime.Valid {
			v := onTime.Int64 != 0
			e.OnTime = &v
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns the audit log newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableBoolPtr(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}
