package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskmaster/internal/domain"
	"taskmaster/internal/events"
	"taskmaster/internal/repo"
)

// CreateTeam creates a team with the creator as first member.
func (e Engine) CreateTeam(ctx context.Context, name, description, creatorID string) (domain.Team, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Team{}, BadRequestError{Message: "team name is required"}
	}
	if ok, err := e.Repo.UserExists(ctx, creatorID); err != nil {
		return domain.Team{}, err
	} else if !ok {
		return domain.Team{}, fmt.Errorf("user %s: %w", creatorID, repo.ErrNotFound)
	}
	t := domain.Team{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedBy:   creatorID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
		Members:     []string{creatorID},
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, err
	}
	if err := e.Repo.AddTeamMember(ctx, tx, t.ID, creatorID); err != nil {
		return domain.Team{}, err
	}
	if err := e.Events.Append(ctx, tx, "team.created", "team", t.ID, creatorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

// JoinTeam adds a user to a team; adding an existing member is a no-op.
func (e Engine) JoinTeam(ctx context.Context, teamID, userID string) error {
	if _, err := e.Repo.GetTeam(ctx, teamID); err != nil {
		return err
	}
	if ok, err := e.Repo.UserExists(ctx, userID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.AddTeamMember(ctx, tx, teamID, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "team.joined", "team", teamID, userID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveTeamMember removes a member. Only the member themselves or the
// team creator may do so.
func (e Engine) RemoveTeamMember(ctx context.Context, teamID, userID, actorID string) error {
	team, err := e.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if actorID != userID && actorID != team.CreatedBy {
		return ForbiddenError{Message: "only the member or the team creator can remove a member"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveTeamMember(ctx, tx, teamID, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "team.member.removed", "team", teamID, actorID, events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateInvite issues an email-bound, single-use invite token. Token
// bytes come from the Engine's randomness source so tests can pin them.
func (e Engine) CreateInvite(ctx context.Context, teamID, email, actorID string) (domain.TeamInvite, error) {
	if strings.TrimSpace(email) == "" {
		return domain.TeamInvite{}, BadRequestError{Message: "email is required"}
	}
	if _, err := e.Repo.GetTeam(ctx, teamID); err != nil {
		return domain.TeamInvite{}, err
	}
	buf := make([]byte, 32)
	if _, err := io.ReadFull(e.Rand, buf); err != nil {
		return domain.TeamInvite{}, fmt.Errorf("generate invite token: %w", err)
	}
	inv := domain.TeamInvite{
		ID:        uuid.New().String(),
		TeamID:    teamID,
		Email:     email,
		Token:     base64.RawURLEncoding.EncodeToString(buf),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeamInvite{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertInvite(ctx, tx, inv); err != nil {
		return domain.TeamInvite{}, err
	}
	if err := e.Events.Append(ctx, tx, "team.invite.created", "team", teamID, actorID, events.EventPayload{"email": email}); err != nil {
		return domain.TeamInvite{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TeamInvite{}, err
	}
	return inv, nil
}

// AcceptInvite joins the invited user to the team. The accepting user's
// email must match the invite; tokens are single-use.
func (e Engine) AcceptInvite(ctx context.Context, token, userID string) (domain.Team, error) {
	inv, err := e.Repo.GetInviteByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Team{}, fmt.Errorf("invite: %w", repo.ErrNotFound)
		}
		return domain.Team{}, err
	}
	if inv.Accepted {
		return domain.Team{}, ErrInviteAccepted
	}
	user, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.Team{}, err
	}
	if !strings.EqualFold(user.Email, inv.Email) {
		return domain.Team{}, ForbiddenError{Message: "invite token does not belong to your account"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkInviteAccepted(ctx, tx, inv.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Team{}, ErrInviteAccepted
		}
		return domain.Team{}, err
	}
	if err := e.Repo.AddTeamMember(ctx, tx, inv.TeamID, userID); err != nil {
		return domain.Team{}, err
	}
	if err := e.Events.Append(ctx, tx, "team.invite.accepted", "team", inv.TeamID, userID, nil); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return e.Repo.GetTeam(ctx, inv.TeamID)
}
