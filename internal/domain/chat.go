package domain

import (
	"encoding/json"
	"time"
)

// GroupType says who manages a chat group.
type GroupType string

const (
	GroupUserCreated       GroupType = "user_created"
	GroupAdminManaged      GroupType = "admin_managed"
	GroupInstructorManaged GroupType = "instructor_managed"
)

// ChatGroup is a group conversation.
type ChatGroup struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	IsPrivate   bool              `json:"is_private"`
	GroupType   GroupType         `json:"group_type"`
	CreatedByID int64             `json:"created_by_id"`
	ManagedByID *int64            `json:"managed_by_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CreatedBy   *UserBasic        `json:"created_by,omitempty"`
	ManagedBy   *UserBasic        `json:"managed_by,omitempty"`
	Members     []ChatGroupMember `json:"members"`
	MemberCount *int              `json:"member_count,omitempty"`
}

// ChatGroupMember is one membership row.
type ChatGroupMember struct {
	ID       int64      `json:"id"`
	GroupID  int64      `json:"group_id"`
	UserID   int64      `json:"user_id"`
	IsAdmin  bool       `json:"is_admin"`
	JoinedAt time.Time  `json:"joined_at"`
	User     *UserBasic `json:"user,omitempty"`
}

// ChatGroupMemberCreate adds a user to a group.
type ChatGroupMemberCreate struct {
	UserID  int64 `json:"user_id" validate:"required,gt=0"`
	IsAdmin bool  `json:"is_admin"`
}

// ChatGroupCreate creates a user-owned group.
type ChatGroupCreate struct {
	Name        string    `json:"name" validate:"required,min=1,max=255"`
	Description *string   `json:"description,omitempty"`
	IsPrivate   bool      `json:"is_private"`
	GroupType   GroupType `json:"group_type,omitempty" validate:"omitempty,oneof=user_created admin_managed instructor_managed"`
}

// ManagedGroupCreate creates an admin or instructor managed group.
type ManagedGroupCreate struct {
	Name        string    `json:"name" validate:"required,min=1,max=255"`
	Description *string   `json:"description,omitempty"`
	IsPrivate   bool      `json:"is_private"`
	GroupType   GroupType `json:"group_type" validate:"required,oneof=admin_managed instructor_managed"`
	MemberIDs   []int64   `json:"member_ids"`
}

// ChatGroupUpdate changes group metadata.
type ChatGroupUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty"`
	IsPrivate   *bool   `json:"is_private,omitempty"`
}

// GroupMessage is a message posted to a chat group.
type GroupMessage struct {
	ID          int64      `json:"id"`
	GroupID     int64      `json:"group_id"`
	SenderID    int64      `json:"sender_id"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Sender      *UserBasic `json:"sender,omitempty"`
}

// GroupMessageCreate posts a message to a group.
type GroupMessageCreate struct {
	GroupID     int64  `json:"group_id" validate:"required,gt=0"`
	Content     string `json:"content" validate:"required,min=1"`
	MessageType string `json:"message_type,omitempty"`
}

// AssistantRequest is the body posted to /ai/message.
type AssistantRequest struct {
	Type string           `json:"type"`
	Data AssistantMessage `json:"data"`
}

// AssistantMessage is a role/content pair in the AG-UI protocol.
type AssistantMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// AssistantReply is the synchronous /ai/message response and also the shape
// of every frame on the /ai/events stream.
type AssistantReply struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AssistantEvents is the data of an "events" reply.
type AssistantEvents struct {
	Events  []EventSummary `json:"events"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
}

// AssistantError is the data of an "error" reply or frame.
type AssistantError struct {
	Message string  `json:"message"`
	Code    *string `json:"code,omitempty"`
}

// CompletionRequest is the body of POST /ai/chat.
type CompletionRequest struct {
	Messages []AssistantMessage `json:"messages" validate:"required,min=1,dive"`
}

// CompletionChoice is one candidate reply.
type CompletionChoice struct {
	Message      AssistantMessage `json:"message"`
	FinishReason *string          `json:"finish_reason,omitempty"`
}

// Completion is the /ai/chat response.
type Completion struct {
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}
