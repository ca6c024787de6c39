package repo

import (
	"context"
	"database/sql"

	"taskmaster/internal/domain"
)

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,name,description,created_by,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.Name, nullable(t.Description), t.CreatedBy, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),created_by,created_at FROM teams WHERE id=?`, id)
	var t domain.Team
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Members, err = r.ListTeamMembers(ctx, id)
	return t, err
}

// AddTeamMember is idempotent; membership is a set on both sides of the
// team/user relation.
func (r Repo) AddTeamMember(ctx context.Context, tx *sql.Tx, teamID, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO team_members(team_id,user_id) VALUES (?,?)`, teamID, userID)
	return err
}

func (r Repo) RemoveTeamMember(ctx context.Context, tx *sql.Tx, teamID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTeamMembers(ctx context.Context, teamID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM team_members WHERE team_id=? ORDER BY user_id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// ListTeamsForUser returns the other side of the membership relation.
func (r Repo) ListTeamsForUser(ctx context.Context, userID string) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.id,t.name,COALESCE(t.description,''),t.created_by,t.created_at FROM teams t JOIN team_members m ON m.team_id=t.id WHERE m.user_id=? ORDER BY t.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertInvite(ctx context.Context, tx *sql.Tx, inv domain.TeamInvite) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO team_invites(id,team_id,email,token,accepted,created_at) VALUES (?,?,?,?,?,?)`,
		inv.ID, inv.TeamID, inv.Email, inv.Token, boolToInt(inv.Accepted), inv.CreatedAt)
	return err
}

func (r Repo) GetInviteByToken(ctx context.Context, token string) (domain.TeamInvite, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,team_id,email,token,accepted,created_at FROM team_invites WHERE token=?`, token)
	var inv domain.TeamInvite
	var accepted int
	err := row.Scan(&inv.ID, &inv.TeamID, &inv.Email, &inv.Token, &accepted, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	inv.Accepted = accepted != 0
	return inv, err
}

func (r Repo) MarkInviteAccepted(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE team_invites SET accepted=1 WHERE id=? AND accepted=0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
