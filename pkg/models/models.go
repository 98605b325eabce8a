package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an AppForge account.
type User struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	FullName     string `json:"full_name"`
	AvatarURL    string `json:"avatar_url"`

	IsActive   bool `json:"is_active" gorm:"default:true"`
	IsVerified bool `json:"is_verified" gorm:"default:false"`
	IsAdmin    bool `json:"is_admin" gorm:"default:false"`

	// Preferences surfaced in the builder UI
	PreferredProvider string `json:"preferred_provider" gorm:"default:'auto'"` // auto, claude, gemini, perplexity, openai

	Projects      []Project      `json:"projects" gorm:"foreignKey:OwnerID"`
	Conversations []Conversation `json:"conversations" gorm:"foreignKey:UserID"`
	AIRequests    []AIRequest    `json:"ai_requests" gorm:"foreignKey:UserID"`
}

// Project is an app scaffold produced and iterated on by the builder.
type Project struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`
	Framework   string `json:"framework"` // react, vue, vanilla, ...
	AppType     string `json:"app_type"`  // web, api, fullstack

	OwnerID  uint `json:"owner_id" gorm:"not null"`
	Owner    User `json:"owner" gorm:"foreignKey:OwnerID"`
	IsPublic bool `json:"is_public" gorm:"default:false"`

	EntryPoint string `json:"entry_point"` // index.html, src/main.tsx, ...

	Files  []File        `json:"files" gorm:"foreignKey:ProjectID"`
	Builds []BuildRecord `json:"builds" gorm:"foreignKey:ProjectID"`
}

// File is a single generated or user-edited file within a project.
type File struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	ProjectID uint    `json:"project_id" gorm:"not null;index:idx_files_project_path,unique,where:deleted_at IS NULL"`
	Project   Project `json:"-" gorm:"foreignKey:ProjectID"`
	Path      string  `json:"path" gorm:"not null;index:idx_files_project_path,unique,where:deleted_at IS NULL"`
	Language  string  `json:"language"`
	MimeType  string  `json:"mime_type"`

	Content string `json:"content" gorm:"type:text"`
	Size    int64  `json:"size" gorm:"default:0"`
	Hash    string `json:"hash"` // SHA-256 of content, for change detection

	Version   int  `json:"version" gorm:"default:1"`
	Generated bool `json:"generated" gorm:"default:false"` // written by an agent rather than the user
}

// Conversation is one chat thread in the builder.
type Conversation struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	UserID    uint     `json:"user_id" gorm:"not null;index"`
	User      User     `json:"-" gorm:"foreignKey:UserID"`
	ProjectID *uint    `json:"project_id"`
	Project   *Project `json:"-" gorm:"foreignKey:ProjectID"`

	Title        string `json:"title" gorm:"not null"`
	MessageCount int    `json:"message_count" gorm:"default:0"`

	Messages []ChatMessage `json:"messages" gorm:"foreignKey:ConversationID"`
}

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	ConversationID uint         `json:"conversation_id" gorm:"not null;index"`
	Conversation   Conversation `json:"-" gorm:"foreignKey:ConversationID"`

	Role    string `json:"role" gorm:"not null"` // user, assistant, system
	Content string `json:"content" gorm:"type:text;not null"`

	// When the assistant turn came from a provider call
	Provider string `json:"provider,omitempty"`
	BuildID  string `json:"build_id,omitempty"` // set when the turn triggered a build
}

// AIRequest records one call through the AI facade, for history and usage stats.
type AIRequest struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	RequestID string   `json:"request_id" gorm:"uniqueIndex;not null"`
	UserID    uint     `json:"user_id" gorm:"not null;index"`
	User      User     `json:"-" gorm:"foreignKey:UserID"`
	ProjectID *uint    `json:"project_id"`
	Project   *Project `json:"-" gorm:"foreignKey:ProjectID"`

	Provider   string `json:"provider" gorm:"not null"`
	Capability string `json:"capability" gorm:"not null"`
	Prompt     string `json:"prompt" gorm:"type:text"`
	Response   string `json:"response" gorm:"type:text"`

	TokensUsed int     `json:"tokens_used" gorm:"default:0"`
	Cost       float64 `json:"cost" gorm:"default:0.0"`
	Duration   int64   `json:"duration" gorm:"default:0"` // milliseconds

	Status   string `json:"status" gorm:"default:'pending'"` // pending, completed, failed, mocked
	ErrorMsg string `json:"error_msg"`
}

// BuildRecord persists a pipeline run so build history survives restarts.
type BuildRecord struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	BuildID   string   `json:"build_id" gorm:"uniqueIndex;not null"`
	UserID    uint     `json:"user_id" gorm:"not null;index"`
	User      User     `json:"-" gorm:"foreignKey:UserID"`
	ProjectID *uint    `json:"project_id"`
	Project   *Project `json:"-" gorm:"foreignKey:ProjectID"`

	Description string `json:"description" gorm:"type:text;not null"`
	Status      string `json:"status" gorm:"default:'pending';index"` // pending, planning, running, completed, failed, cancelled, interrupted
	CurrentStep string `json:"current_step"`
	Progress    int    `json:"progress" gorm:"default:0"`

	// JSON snapshots of the plan, step records and merged build context
	PlanJSON    string `json:"plan_json" gorm:"type:text"`
	StepsJSON   string `json:"steps_json" gorm:"type:text"`
	ContextJSON string `json:"context_json" gorm:"type:text"`

	Error       string     `json:"error"`
	CompletedAt *time.Time `json:"completed_at"`
}

// OAuthConnection links an external identity (GitHub) to a user account.
type OAuthConnection struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	UserID   uint   `json:"user_id" gorm:"not null;index:idx_oauth_user_provider,unique,where:deleted_at IS NULL"`
	User     User   `json:"-" gorm:"foreignKey:UserID"`
	Provider string `json:"provider" gorm:"not null;index:idx_oauth_user_provider,unique,where:deleted_at IS NULL"` // github

	ProviderUserID string `json:"provider_user_id" gorm:"not null"`
	Login          string `json:"login"`
	AvatarURL      string `json:"avatar_url"`

	AccessToken string     `json:"-" gorm:"not null"` // never exposed in JSON
	TokenType   string     `json:"token_type"`
	Scope       string     `json:"scope"`
	ExpiresAt   *time.Time `json:"expires_at"`
}
