package repo

import (
	"context"
	"database/sql"

	"taskmaster/internal/domain"
)

const notificationColumns = `id,user_id,task_id,message,type,is_read,created_at`

func scanNotification(row *sql.Row) (domain.Notification, error) {
	var n domain.Notification
	var read int
	err := row.Scan(&n.ID, &n.UserID, &n.TaskID, &n.Message, &n.Type, &read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	n.Read = read != 0
	return n, err
}

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,user_id,task_id,message,type,is_read,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.TaskID, n.Message, n.Type, boolToInt(n.Read), n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	return scanNotification(r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id))
}

// ListNotifications returns all notifications for a user, newest first.
func (r Repo) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	return r.listNotifications(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
}

// ListUnreadNotifications returns unread notifications, newest first.
func (r Repo) ListUnreadNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	return r.listNotifications(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE user_id=? AND is_read=0 ORDER BY created_at DESC, id DESC`, userID)
}

func (r Repo) listNotifications(ctx context.Context, query string, args ...any) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.TaskID, &n.Message, &n.Type, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Read = read != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flips the read flag. Marking an already-read
// notification is a no-op success.
func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=?`, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
