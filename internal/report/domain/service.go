package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/railzway-reports/pkg/db/pagination"
)

type GenerateRequest struct {
	UserID         string  `json:"-"`
	OrganizationID *string `json:"organizationId,omitempty"`
	PeriodStart    string  `json:"periodStart"`
	PeriodEnd      string  `json:"periodEnd"`
	ReportType     string  `json:"reportType"`
}

type GenerateResult struct {
	Report *Report `json:"report"`
	// Existing is true when the report had already been generated and
	// nothing was rendered or sent.
	Existing bool `json:"existing"`
}

type ListRequest struct {
	UserID string
	Status ReportStatus
	pagination.Pagination
}

type ListResponse struct {
	Reports  []*Report            `json:"reports"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Download struct {
	FileName    string
	ContentType string
	Content     []byte
}

type ScheduleRequest struct {
	ReportType string
	PeriodDays int
	// AsOf closes the period: the last day covered is the day before.
	// Zero means today.
	AsOf time.Time
}

type ScheduleResult struct {
	UserID   string `json:"userId"`
	Success  bool   `json:"success"`
	ReportID string `json:"reportId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ScheduleResponse struct {
	Message string           `json:"message"`
	Results []ScheduleResult `json:"results"`
	Period  Period           `json:"period"`
}

type RecoverRequest struct {
	StaleAfter time.Duration
	// MaxAttempts leaves reports that already used this many attempts
	// alone. Zero means the default cap.
	MaxAttempts int
	Limit       int
}

type RecoverResult struct {
	Scanned   int `json:"scanned"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Service interface {
	// Generate produces, stores and sends the report for req at most once.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Get(ctx context.Context, userID, reportID string) (*Report, error)
	// Download returns the stored artifact of a generated report.
	Download(ctx context.Context, userID, reportID string) (*Download, error)
	// ScheduleDue generates the report of the period closed by req.AsOf for
	// every user holding an active or trialing subscription.
	ScheduleDue(ctx context.Context, req ScheduleRequest) (*ScheduleResponse, error)
	// Recover retries reports left pending or failed for longer than
	// req.StaleAfter.
	Recover(ctx context.Context, req RecoverRequest) (*RecoverResult, error)
}

var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidReportID      = errors.New("invalid_report_id")
	ErrReportNotFound       = errors.New("report_not_found")
	ErrReportNotReady       = errors.New("report_not_ready")
	ErrReportInProgress     = errors.New("report_in_progress")
	ErrUserNotFound         = errors.New("user_not_found")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrArtifactNotFound     = errors.New("artifact_not_found")
)
