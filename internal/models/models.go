package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OperationType string

const (
	OperationImageGeneration OperationType = "image-generation"
	OperationVideoGeneration OperationType = "video-generation"
	OperationUpscale         OperationType = "upscale"
	OperationSkinEnhance     OperationType = "skin-enhance"
	OperationInpaint         OperationType = "inpaint"
)

// Valid reports whether op is one of the known operation types.
func (op OperationType) Valid() bool {
	switch op {
	case OperationImageGeneration, OperationVideoGeneration, OperationUpscale, OperationSkinEnhance, OperationInpaint:
		return true
	}
	return false
}

type UsageKind string

const (
	UsageKindCharge UsageKind = "charge"
	UsageKindRefund UsageKind = "refund"
	UsageKindGrant  UsageKind = "grant"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskGenerating TaskStatus = "generating"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type UserAccount struct {
	ID               string
	IsLegacyUser     bool
	CreditsRemaining decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UsageRecord struct {
	ID               int64
	UserID           string
	Kind             UsageKind
	OperationType    OperationType
	ModelIdentifier  string
	CostCharged      decimal.Decimal
	ProviderCost     decimal.Decimal
	InputDescription string
	CreatedAt        time.Time
}

// GenerationTask tracks an asynchronous provider job until it reaches a terminal state.
type GenerationTask struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	ProviderTaskID string          `json:"providerTaskId"`
	OwnerID        string          `json:"ownerId"`
	Operation      OperationType   `json:"operation"`
	Model          string          `json:"model"`
	Prompt         string          `json:"prompt"`
	Status         TaskStatus      `json:"status"`
	ResultURL      string          `json:"resultUrl,omitempty"`
	ArtifactID     int64           `json:"artifactId,omitempty"`
	ArtifactURL    string          `json:"artifactUrl,omitempty"`
	Error          string          `json:"error,omitempty"`
	Cost           decimal.Decimal `json:"cost"`
	ChargeID       int64           `json:"chargeId,omitempty"`
	Legacy         bool            `json:"legacy,omitempty"`
	Attempts       int             `json:"attempts"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type StoredArtifact struct {
	ID              int64
	OwnerID         string
	StoragePath     string
	PublicURL       string
	PromptText      string
	Width           int
	Height          int
	Format          string
	Visibility      Visibility
	OperationType   OperationType
	ModelIdentifier string
	CreatedAt       time.Time
}

type Voucher struct {
	ID        int64
	Code      string
	Credits   decimal.Decimal
	MaxUses   int
	Uses      int
	CreatedAt time.Time
}
