// Package taskboardv1 holds the wire messages and gRPC service descriptors of
// the taskboard API. Messages travel as JSON (see CodecName).
package taskboardv1

// Task is the wire form of a task. CreatedAt is RFC 3339.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
	CreatedAt   string `json:"created_at,omitempty"`
	DueDate     string `json:"due_date"`
	DueTime     string `json:"due_time"`
	Priority    string `json:"priority"`
}

type ListTasksRequest struct{}

type ListTasksResponse struct {
	Tasks []*Task `json:"tasks"`
}

type GetTaskRequest struct {
	ID string `json:"id"`
}

type GetTaskResponse struct {
	Task *Task `json:"task"`
}

// CreateTaskRequest creates a task. When Task.ID is set the call upserts that
// id and keeps Task.CreatedAt, which is how deleted tasks are restored.
type CreateTaskRequest struct {
	Task *Task `json:"task"`
}

type CreateTaskResponse struct {
	Task *Task `json:"task"`
}

type UpdateTaskRequest struct {
	Task *Task `json:"task"`
}

type UpdateTaskResponse struct {
	Task *Task `json:"task"`
}

type DeleteTaskRequest struct {
	ID string `json:"id"`
}

type WatchTasksRequest struct{}

// TaskSnapshot is the full task set of the caller at SentAt.
type TaskSnapshot struct {
	Tasks  []*Task `json:"tasks"`
	SentAt string  `json:"sent_at"`
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type RegisterResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type GetCurrentUserRequest struct{}

type GetCurrentUserResponse struct {
	User *User `json:"user"`
}

type RequestPasswordResetRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}
