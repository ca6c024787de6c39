package taskmastersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal TaskMaster HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Task represents the API task model.
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Priority    string  `json:"priority"`
	DueDate     *string `json:"due_date,omitempty"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
}

// Notification represents a persisted notification.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// ArchiveEntry is one completed assignment record.
type ArchiveEntry struct {
	ID               string `json:"id"`
	TaskID           string `json:"task_id"`
	AssignedTo       string `json:"assigned_to"`
	CompletedBy      string `json:"completed_by"`
	CompletedAt      string `json:"completed_at"`
	TimeTakenMinutes int64  `json:"time_taken_minutes"`
	OnTime           *bool  `json:"on_time,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates a user and stores the returned bearer token on the client.
func (c *Client) Register(ctx context.Context, username, email, password string) (User, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, c.apiPath("auth/register"), map[string]any{
		"username": username,
		"email":    email,
		"password": password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp.User, err
}

// Login authenticates and stores the returned bearer token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, c.apiPath("auth/login"), map[string]any{
		"username": username,
		"password": password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp.User, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, priority string) (Task, error) {
	body := map[string]any{"title": title}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks"), body, &resp)
	return resp, err
}

// AssignTask gives the task to a user.
func (c *Client) AssignTask(ctx context.Context, taskID, assigneeID string) (Task, error) {
	var resp Task
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/assign", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"assignee_id": assigneeID}, &resp)
	return resp, err
}

// CompleteTask completes the task's active assignment.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/complete", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// TaskArchives returns the completion history of a task.
func (c *Client) TaskArchives(ctx context.Context, taskID string) ([]ArchiveEntry, error) {
	var resp []ArchiveEntry
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/archives", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications returns notifications for the authenticated user.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := c.apiPath("notifications")
	if unreadOnly {
		endpoint = c.apiPath("notifications/unread")
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead acknowledges a notification.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	endpoint := c.apiPath(fmt.Sprintf("notifications/%s/read", url.PathEscape(id)))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	return "api/v1/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
