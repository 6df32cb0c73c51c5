package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusGenerated ReportStatus = "generated"
	ReportStatusFailed    ReportStatus = "failed"
)

const (
	DefaultReportType = "weekly"
	PeriodLayout      = time.DateOnly
)

// Report is the read model of an auto_reports row. Writes to the table go
// through the idempotency guard only.
type Report struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID         string       `json:"user_id"`
	OrganizationID *string      `json:"organization_id"`
	ReportType     string       `json:"report_type"`
	PeriodStart    string       `json:"period_start"`
	PeriodEnd      string       `json:"period_end"`
	Status         ReportStatus `json:"status"`
	ArtifactRef    *string      `json:"-"`
	GeneratedAt    *time.Time   `json:"generated_at,omitempty"`
	NotificationID *string      `json:"notification_id,omitempty"`
	Attempts       int          `json:"attempts"`
	LastError      *string      `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (Report) TableName() string { return "auto_reports" }

type User struct {
	ID       string
	Email    string
	FullName *string
}

func (User) TableName() string { return "users" }

// DisplayName falls back from full name to email.
func (u User) DisplayName() string {
	if u.FullName != nil && *u.FullName != "" {
		return *u.FullName
	}
	if u.Email != "" {
		return u.Email
	}
	return "Unknown User"
}

type Organization struct {
	ID      string
	Name    string
	OwnerID string
}

func (Organization) TableName() string { return "organizations" }

// Activity counts processed webhook events for one user in a period.
type Activity struct {
	SubscriptionChanges int64
	PaymentsSucceeded   int64
	PaymentsFailed      int64
	Total               int64
}

// Snapshot is everything a report renders. It is read once per attempt.
type Snapshot struct {
	ReportID     snowflake.ID
	Kind         string
	PeriodStart  string
	PeriodEnd    string
	User         User
	Organization *Organization
	PlanID       string
	Status       string
	Addons       []string
	Activity     Activity
	TakenAt      time.Time
}

// Artifact is a rendered report document.
type Artifact struct {
	Ref         string
	ContentType string
	FileName    string
	Content     []byte
}
