package postgres

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's role within an organization. The hierarchy is the single
// source of truth for permission checks; never compare against ad-hoc lists.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// roleLevels orders roles by privilege.
var roleLevels = map[Role]int{
	RoleUser:  1,
	RoleAdmin: 2,
	RoleOwner: 3,
}

// AtLeast reports whether r carries at least the privilege of min.
func (r Role) AtLeast(min Role) bool {
	return roleLevels[r] >= roleLevels[min]
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// DocumentStatus is a document's position in the ingestion lifecycle.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Org is a tenant. Raw credentials are never stored; only their SHA-256
// digests survive registration.
type Org struct {
	ID               uuid.UUID
	Name             string
	ClientIDPrefix   string
	ClientIDHash     string
	ClientSecretHash string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// User belongs to exactly one organization.
type User struct {
	ID                  uuid.UUID
	OrgID               uuid.UUID
	Email               string
	PasswordHash        string
	Role                Role
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RefreshToken is the server-side record backing one issued refresh token.
// At most one non-revoked record exists per issued token.
type RefreshToken struct {
	TokenID   uuid.UUID
	UserID    uuid.UUID
	OrgID     uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	CreatedAt time.Time
}

// AuditEntry is an append-only security event record.
type AuditEntry struct {
	ID        int64
	OrgID     uuid.UUID
	UserID    *uuid.UUID
	Action    string
	Resource  string
	Status    string
	Details   map[string]any
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// Document is uploaded tenant content moving through the ingestion DAG.
type Document struct {
	ID                uuid.UUID
	OrgID             uuid.UUID
	UploadedBy        uuid.UUID
	Filename          string
	SanitizedFilename string
	ContentType       string
	FileSize          int64
	StorageKey        string
	Status            DocumentStatus
	ChunksCount       *int
	ErrorMessage      *string
	ErrorCode         *string
	RetryCount        int
	UploadedAt        time.Time
	ProcessedAt       *time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// Conversation groups a user's chat turns.
type Conversation struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	UserID       uuid.UUID
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SourceRef attributes part of an assistant answer to a document chunk.
type SourceRef struct {
	DocumentID uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	Excerpt    string    `json:"excerpt"`
	Score      float64   `json:"score"`
}

// Message is a single conversation turn.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string // "user" or "assistant"
	Content        string
	Sources        []SourceRef
	CreatedAt      time.Time
}

// FailedEvent is an outbox row holding an event whose bus publish failed.
type FailedEvent struct {
	ID         int64
	Topic      string
	Key        string
	Payload    []byte
	LastError  string
	RetryCount int
	Published  bool
	CreatedAt  time.Time
	RetriedAt  *time.Time
}
