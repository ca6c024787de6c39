package domain

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Priority    string  `json:"priority" enum:"low,medium,high"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	Deleted     bool    `json:"deleted,omitempty"`
	DeletedAt   *string `json:"deleted_at,omitempty" format:"date-time"`
	DeletedBy   *string `json:"deleted_by,omitempty"`
}

// Assignment is the single active ownership record for a task. Rows only
// exist while the assignment is live; completion archives and removes them.
type Assignment struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	AssignedTo string `json:"assigned_to"`
	AssignedBy string `json:"assigned_by"`
	AssignedAt string `json:"assigned_at" format:"date-time"`
	Status     string `json:"status" enum:"pending,in_progress"`
}

// ArchiveEntry is the immutable completion record for one assignment.
type ArchiveEntry struct {
	ID               string `json:"id"`
	TaskID           string `json:"task_id"`
	AssignedTo       string `json:"assigned_to"`
	AssignedBy       string `json:"assigned_by"`
	AssignedAt       string `json:"assigned_at" format:"date-time"`
	CompletedBy      string `json:"completed_by"`
	CompletedAt      string `json:"completed_at" format:"date-time"`
	TimeTakenMinutes int64  `json:"time_taken_minutes"`
	OnTime           *bool  `json:"on_time,omitempty"`
}

type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	Type      string `json:"type" enum:"task.assigned,task.completed,task.updated"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Team struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CreatedBy   string   `json:"created_by"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	Members     []string `json:"members,omitempty"`
}

type TeamInvite struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Email     string `json:"email"`
	Token     string `json:"token"`
	Accepted  bool   `json:"accepted"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
