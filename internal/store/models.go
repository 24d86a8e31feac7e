package store

import "time"

type User struct {
	ID        string     `json:"id"`
	GitHubID  int64      `json:"github_id"`
	Username  string     `json:"username"`
	Email     *string    `json:"email,omitempty"`
	AvatarURL *string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ConversationUser is the compact projection embedded in hydrated
// conversations and approval listings.
type ConversationUser struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type Project struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	GitRepoPath          string    `json:"git_repo_path"`
	MinApprovalsRequired int       `json:"min_approvals_required"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "inprogress"
	TaskStatusInReview   TaskStatus = "inreview"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// ValidTaskStatus reports whether s is one of the known task states.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusInReview, TaskStatusDone, TaskStatusCancelled:
		return true
	}
	return false
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Workspace is one working copy of a task (a task attempt); review
// conversations and the event stream are scoped to it.
type Workspace struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Branch    string    `json:"branch"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TaskApproval struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ApprovalWithUser struct {
	TaskApproval
	User ConversationUser `json:"user"`
}

type ReviewConversation struct {
	ID                string     `json:"id"`
	WorkspaceID       string     `json:"workspace_id"`
	FilePath          string     `json:"file_path"`
	LineNumber        int64      `json:"line_number"`
	Side              string     `json:"side"`
	CodeLine          *string    `json:"code_line,omitempty"`
	IsResolved        bool       `json:"is_resolved"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolvedByUserID  *string    `json:"resolved_by_user_id,omitempty"`
	ResolutionSummary *string    `json:"resolution_summary,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type ConversationMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         *string   `json:"user_id,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type MessageWithAuthor struct {
	ConversationMessage
	Author *ConversationUser `json:"author,omitempty"`
}

// ConversationWithMessages is the hydrated aggregate returned by the API
// and carried on broadcast events.
type ConversationWithMessages struct {
	ReviewConversation
	Messages   []MessageWithAuthor `json:"messages"`
	ResolvedBy *ConversationUser   `json:"resolved_by,omitempty"`
}

type TelemetryEvent struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	UserID     *string        `json:"user_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
