package engine_test

import (
	"encoding/json"
	"testing"
	"time"

	"taskmaster/internal/engine"
)

func TestLifecycleAuditTrail(t *testing.T) {
	env := newTestEnv(t)

	u, err := env.Engine.RegisterUser(env.Ctx, "dave", "dave@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	task := mustCreateTask(t, env, engine.TaskCreateOptions{Title: "audited"})
	high := "high"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Priority: &high, ActorID: "alice"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.Engine.AssignTask(env.Ctx, task.ID, "bob", "alice"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	env.advance(30 * time.Minute)
	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, "bob"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	want := []string{"task.deleted", "task.completed", "task.assigned", "task.updated", "task.created", "user.registered"}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d: type %q, want %q (newest first)", i, events[i].Type, typ)
		}
	}

	// Each event names its entity and actor.
	for _, ev := range events[:5] {
		if ev.EntityKind != "task" || ev.EntityID != task.ID {
			t.Fatalf("task event bound to %s/%s", ev.EntityKind, ev.EntityID)
		}
	}
	if events[5].EntityKind != "user" || events[5].EntityID != u.ID || events[5].ActorID != u.ID {
		t.Fatalf("registration event bound to %s/%s by %s", events[5].EntityKind, events[5].EntityID, events[5].ActorID)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(events[2].Payload), &payload); err != nil {
		t.Fatalf("assigned payload: %v", err)
	}
	if payload["assigned_to"] != "bob" {
		t.Fatalf("assigned payload %v", payload)
	}
}
