package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// State is the guard's view of a unit of work.
type State string

const (
	StateUnknown   State = "unknown"
	StateInFlight  State = "in_flight"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Decision is what the guard tells the caller to do with a trigger.
type Decision string

const (
	DecisionProceed  Decision = "proceed"
	DecisionResume   Decision = "resume"
	DecisionSkip     Decision = "skip"
	DecisionInFlight Decision = "in_flight"
)

// Runs reports whether the effect should execute for this decision.
func (d Decision) Runs() bool {
	return d == DecisionProceed || d == DecisionResume
}

const (
	FamilyWebhook = "webhook"
	FamilyReport  = "report"
)

// Key identifies one logical unit of work inside a namespace.
type Key struct {
	Namespace string
	Value     string
}

func (k Key) String() string {
	return k.Namespace + ":" + k.Value
}

func (k Key) IsZero() bool {
	return k.Namespace == "" && k.Value == ""
}

// ReportTrigger is the ingress shape of a report generation request.
// Period boundaries are opaque, caller-normalized date strings.
type ReportTrigger struct {
	SubjectID   string
	ScopeID     *string
	Kind        string
	PeriodStart string
	PeriodEnd   string
}

func (t ReportTrigger) String() string {
	scope := "<none>"
	if t.ScopeID != nil {
		scope = *t.ScopeID
	}
	return fmt.Sprintf("%s/%s/%s/%s..%s", t.SubjectID, scope, t.Kind, t.PeriodStart, t.PeriodEnd)
}

// WebhookEntry is a row of the webhook ledger.
type WebhookEntry struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventKind       string         `json:"event_kind" gorm:"type:text;not null"`
	ObjectID        string         `json:"object_id" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Processed       bool           `json:"processed" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (WebhookEntry) TableName() string { return "webhook_events" }

func (e WebhookEntry) Key() Key {
	return Key{Namespace: strings.ToLower(e.Provider), Value: e.ProviderEventID}
}

func (e WebhookEntry) State() State {
	if e.Processed {
		return StateCompleted
	}
	return StateInFlight
}

// WebhookPatch flips the processed flag of an unprocessed row.
type WebhookPatch struct {
	ProcessedAt time.Time
}

type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusGenerated ReportStatus = "generated"
	ReportStatusFailed    ReportStatus = "failed"
)

// ReportEntry is a row of the report ledger.
type ReportEntry struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	DedupKey       string       `json:"-" gorm:"type:text;not null;uniqueIndex"`
	UserID         string       `json:"user_id" gorm:"type:text;not null"`
	OrganizationID *string      `json:"organization_id"`
	ReportType     string       `json:"report_type" gorm:"type:text;not null"`
	PeriodStart    string       `json:"period_start" gorm:"type:text;not null"`
	PeriodEnd      string       `json:"period_end" gorm:"type:text;not null"`
	Status         ReportStatus `json:"status" gorm:"type:text;not null"`
	ArtifactRef    *string      `json:"artifact_ref,omitempty"`
	GeneratedAt    *time.Time   `json:"generated_at,omitempty"`
	NotificationID *string      `json:"notification_id,omitempty"`
	Attempts       int          `json:"attempts" gorm:"not null"`
	LastError      *string      `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (ReportEntry) TableName() string { return "auto_reports" }

func (e ReportEntry) State() State {
	switch e.Status {
	case ReportStatusGenerated:
		return StateCompleted
	case ReportStatusFailed:
		return StateFailed
	default:
		return StateInFlight
	}
}

// ReportPatch is a conditional update: it applies only while the row is in
// one of From and, when ExpectAttempts is set, only while attempts matches.
type ReportPatch struct {
	From           []ReportStatus
	ExpectAttempts *int

	To                ReportStatus
	ArtifactRef       *string
	GeneratedAt       *time.Time
	NotificationID    *string
	LastError         *string
	ClearLastError    bool
	IncrementAttempts bool
	UpdatedAt         time.Time
}

// InsertResult reports whether a row was created, and otherwise the row
// that already held the key.
type InsertResult[T any] struct {
	Inserted bool
	Existing *T
}
