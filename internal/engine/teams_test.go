package engine_test

import (
	"bytes"
	"errors"
	"testing"

	"taskmaster/internal/engine"
	"taskmaster/internal/repo"
)

func TestInviteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Rand = bytes.NewReader(bytes.Repeat([]byte{0x42}, 64))

	team, err := env.Engine.CreateTeam(env.Ctx, "platform", "infra work", "alice")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if len(team.Members) != 1 || team.Members[0] != "alice" {
		t.Fatalf("creator should be first member, got %v", team.Members)
	}

	inv, err := env.Engine.CreateInvite(env.Ctx, team.ID, "bob@example.com", "alice")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if len(inv.Token) != 43 {
		t.Fatalf("token should encode 32 bytes, got %d chars", len(inv.Token))
	}

	// Carol's email does not match the invite.
	var forbidden engine.ForbiddenError
	if _, err := env.Engine.AcceptInvite(env.Ctx, inv.Token, "carol"); !errors.As(err, &forbidden) {
		t.Fatalf("mismatched email: expected ForbiddenError, got %v", err)
	}

	got, err := env.Engine.AcceptInvite(env.Ctx, inv.Token, "bob")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	found := false
	for _, m := range got.Members {
		if m == "bob" {
			found = true
		}
	}
	if !found {
		t.Fatalf("bob should be a member after accepting, got %v", got.Members)
	}

	// Tokens are single-use.
	if _, err := env.Engine.AcceptInvite(env.Ctx, inv.Token, "bob"); !errors.Is(err, engine.ErrInviteAccepted) {
		t.Fatalf("second accept: expected ErrInviteAccepted, got %v", err)
	}

	if _, err := env.Engine.AcceptInvite(env.Ctx, "bogus-token", "bob"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown token: expected ErrNotFound, got %v", err)
	}
}

func TestTeamMembership(t *testing.T) {
	env := newTestEnv(t)
	team, err := env.Engine.CreateTeam(env.Ctx, "ops", "", "alice")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}

	if err := env.Engine.JoinTeam(env.Ctx, team.ID, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Joining twice is a no-op.
	if err := env.Engine.JoinTeam(env.Ctx, team.ID, "bob"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	var forbidden engine.ForbiddenError
	if err := env.Engine.RemoveTeamMember(env.Ctx, team.ID, "bob", "carol"); !errors.As(err, &forbidden) {
		t.Fatalf("stranger removing member: expected ForbiddenError, got %v", err)
	}
	if err := env.Engine.RemoveTeamMember(env.Ctx, team.ID, "bob", "alice"); err != nil {
		t.Fatalf("creator removing member: %v", err)
	}

	members, err := env.Engine.Repo.ListTeamMembers(env.Ctx, team.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0] != "alice" {
		t.Fatalf("expected only alice left, got %v", members)
	}
}
