package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"taskmaster/internal/db"
	"taskmaster/internal/domain"
	"taskmaster/internal/engine"
	"taskmaster/internal/migrate"
	"taskmaster/internal/notify"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	dispatcher := notify.NewDispatcher(conn, nil)
	e := engine.New(conn, dispatcher)
	handler, err := New(Config{
		Engine: e,
		Notify: dispatcher,
		Auth:   AuthConfig{JWTSecret: "server-test-secret"},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func register(t *testing.T, srv *testServer, username string) (token string, userID string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/auth/register", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct-horse",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", username, res.StatusCode, string(data))
	}
	var tr TokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		t.Fatalf("unmarshal token response: %v", err)
	}
	if tr.Token == "" || tr.User.ID == "" {
		t.Fatalf("register should return token and user, got %s", string(data))
	}
	return tr.Token, tr.User.ID
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAssignCompleteFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	aliceToken, _ := register(t, srv, "alice")
	bobToken, bobID := register(t, srv, "bob")

	createRes, createBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/tasks", map[string]any{
		"title":    "ship release",
		"priority": "high",
	}, bearer(aliceToken))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", createRes.StatusCode, string(createBody))
	}
	var task domain.Task
	if err := json.Unmarshal(createBody, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	assignRes, assignBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/tasks/"+task.ID+"/assign", map[string]any{
		"assignee_id": bobID,
	}, bearer(aliceToken))
	if assignRes.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %s", assignRes.StatusCode, string(assignBody))
	}

	// A second assignment while one is active must conflict, and the
	// failure body carries the standard envelope.
	conflictRes, conflictBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/tasks/"+task.ID+"/assign", map[string]any{
		"assignee_id": bobID,
	}, bearer(bobToken))
	if conflictRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", conflictRes.StatusCode, string(conflictBody))
	}
	var env struct {
		Timestamp string `json:"timestamp"`
		Status    int    `json:"status"`
		Error     string `json:"error"`
		Message   string `json:"message"`
		Path      string `json:"path"`
	}
	if err := json.Unmarshal(conflictBody, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Status != http.StatusConflict || env.Error != "Conflict" || env.Timestamp == "" || env.Message == "" {
		t.Fatalf("bad envelope: %s", string(conflictBody))
	}
	if env.Path != "/api/v1/tasks/"+task.ID+"/assign" {
		t.Fatalf("envelope path %q", env.Path)
	}
	// The wire body is the envelope and nothing else.
	var raw map[string]any
	if err := json.Unmarshal(conflictBody, &raw); err != nil {
		t.Fatalf("unmarshal raw envelope: %v", err)
	}
	for _, key := range []string{"timestamp", "status", "error", "message", "path"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("envelope missing %q: %s", key, string(conflictBody))
		}
	}
	if len(raw) != 5 {
		t.Fatalf("envelope has extra fields: %s", string(conflictBody))
	}

	// Bob sees the assignment notification.
	notifRes, notifBody := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/notifications/unread", nil, bearer(bobToken))
	if notifRes.StatusCode != http.StatusOK {
		t.Fatalf("unread notifications: %d %s", notifRes.StatusCode, string(notifBody))
	}
	var notifs []domain.Notification
	if err := json.Unmarshal(notifBody, &notifs); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(notifs) != 1 {
		t.Fatalf("expected 1 unread notification, got %d", len(notifs))
	}
	if notifs[0].Type != notify.TypeAssigned {
		t.Fatalf("notification type %q", notifs[0].Type)
	}

	readRes, readBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/notifications/"+notifs[0].ID+"/read", nil, bearer(bobToken))
	if readRes.StatusCode >= 300 {
		t.Fatalf("mark read: %d %s", readRes.StatusCode, string(readBody))
	}

	// Alice must not be able to mark Bob's notification read.
	foreignRes, _ := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/notifications/"+notifs[0].ID+"/read", nil, bearer(aliceToken))
	if foreignRes.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign mark read: expected 403, got %d", foreignRes.StatusCode)
	}

	completeRes, completeBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/tasks/"+task.ID+"/complete", nil, bearer(bobToken))
	if completeRes.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", completeRes.StatusCode, string(completeBody))
	}

	archRes, archBody := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/tasks/"+task.ID+"/archives", nil, bearer(aliceToken))
	if archRes.StatusCode != http.StatusOK {
		t.Fatalf("archives: %d %s", archRes.StatusCode, string(archBody))
	}
	var entries []domain.ArchiveEntry
	if err := json.Unmarshal(archBody, &entries); err != nil {
		t.Fatalf("unmarshal archives: %v", err)
	}
	if len(entries) != 1 || entries[0].CompletedBy != bobID {
		t.Fatalf("unexpected archives: %s", string(archBody))
	}

	// The freed task no longer shows an active assignment.
	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/tasks/"+task.ID, nil, bearer(aliceToken))
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get task: %d %s", getRes.StatusCode, string(getBody))
	}
	var fetched TaskWithAssignment
	if err := json.Unmarshal(getBody, &fetched); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if fetched.Assignment != nil {
		t.Fatalf("completed task should have no active assignment")
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	var env struct {
		Status  int    `json:"status"`
		Error   string `json:"error"`
		Message string `json:"message"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Status != http.StatusUnauthorized || env.Path != "/api/v1/tasks" {
		t.Fatalf("bad envelope: %s", string(data))
	}

	// Garbage tokens are rejected, valid ones pass.
	badRes, _ := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/me", nil, bearer("not-a-jwt"))
	if badRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", badRes.StatusCode)
	}
	token, userID := register(t, srv, "carol")
	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/me", nil, bearer(token))
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", meRes.StatusCode, string(meBody))
	}
	var me domain.User
	if err := json.Unmarshal(meBody, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ID != userID {
		t.Fatalf("me returned %q, want %q", me.ID, userID)
	}
	if bytes.Contains(meBody, []byte("password")) {
		t.Fatalf("password material leaked: %s", string(meBody))
	}
}

func TestLoginAndAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, userID := register(t, srv, "dave")

	loginRes, loginBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/login", map[string]any{
		"username": "dave",
		"password": "correct-horse",
	}, nil)
	if loginRes.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", loginRes.StatusCode, string(loginBody))
	}
	var tr TokenResponse
	if err := json.Unmarshal(loginBody, &tr); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}

	wrongRes, _ := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/login", map[string]any{
		"username": "dave",
		"password": "wrong",
	}, nil)
	if wrongRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", wrongRes.StatusCode)
	}

	keyRes, keyBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/api-keys", map[string]any{
		"name": "ci",
	}, bearer(tr.Token))
	if keyRes.StatusCode != http.StatusCreated {
		t.Fatalf("create api key: %d %s", keyRes.StatusCode, string(keyBody))
	}
	var created APIKeyResponse
	if err := json.Unmarshal(keyBody, &created); err != nil {
		t.Fatalf("unmarshal api key: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("plaintext key must be returned on creation")
	}

	// The key authenticates via the X-Api-Key header.
	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/me", nil, map[string]string{"X-Api-Key": created.Key})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: %d %s", meRes.StatusCode, string(meBody))
	}
	var me domain.User
	_ = json.Unmarshal(meBody, &me)
	if me.ID != userID {
		t.Fatalf("api key resolved %q, want %q", me.ID, userID)
	}

	// Listing never exposes key material.
	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/api-keys", nil, bearer(tr.Token))
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list api keys: %d %s", listRes.StatusCode, string(listBody))
	}
	var keys []APIKeyResponse
	if err := json.Unmarshal(listBody, &keys); err != nil {
		t.Fatalf("unmarshal key list: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("unexpected key list: %s", string(listBody))
	}

	delRes, _ := doJSON(t, client, http.MethodDelete, srv.URL+"/api/v1/api-keys/"+created.ID, nil, bearer(tr.Token))
	if delRes.StatusCode >= 300 {
		t.Fatalf("delete api key: %d", delRes.StatusCode)
	}
	revokedRes, _ := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/me", nil, map[string]string{"X-Api-Key": created.Key})
	if revokedRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key: expected 401, got %d", revokedRes.StatusCode)
	}
}

func TestDeleteGuards(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	aliceToken, _ := register(t, srv, "alice")
	bobToken, bobID := register(t, srv, "bob")

	createRes, createBody := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/tasks", map[string]any{
		"title": "guarded",
	}, bearer(aliceToken))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", createRes.StatusCode, string(createBody))
	}
	var task domain.Task
	_ = json.Unmarshal(createBody, &task)

	// Only the creator may delete.
	res, _ := doJSON(t, client, http.MethodDelete, srv.URL+"/api/v1/tasks/"+task.ID, nil, bearer(bobToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-creator delete: expected 403, got %d", res.StatusCode)
	}

	// Not while assigned.
	assignRes, _ := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/tasks/"+task.ID+"/assign", map[string]any{
		"assignee_id": bobID,
	}, bearer(aliceToken))
	if assignRes.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d", assignRes.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/api/v1/tasks/"+task.ID, nil, bearer(aliceToken))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("delete while assigned: expected 409, got %d", res.StatusCode)
	}

	completeRes, _ := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/tasks/"+task.ID+"/complete", nil, bearer(bobToken))
	if completeRes.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d", completeRes.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/api/v1/tasks/"+task.ID, nil, bearer(aliceToken))
	if res.StatusCode >= 300 {
		t.Fatalf("delete after complete: %d", res.StatusCode)
	}

	// Soft-deleted tasks 404 but their archives survive.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/tasks/"+task.ID, nil, bearer(aliceToken))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted task: expected 404, got %d", res.StatusCode)
	}
	archRes, archBody := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/tasks/"+task.ID+"/archives", nil, bearer(aliceToken))
	if archRes.StatusCode != http.StatusOK {
		t.Fatalf("archives after delete: %d %s", archRes.StatusCode, string(archBody))
	}
	var entries []domain.ArchiveEntry
	_ = json.Unmarshal(archBody, &entries)
	if len(entries) != 1 {
		t.Fatalf("expected archives to survive deletion, got %d", len(entries))
	}
}
