package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindUser(ctx context.Context, db *gorm.DB, userID string) (*User, error)
	FindOrganization(ctx context.Context, db *gorm.DB, organizationID string) (*Organization, error)
	// CountActivity counts processed webhook events on the user's
	// subscriptions received in [from, to).
	CountActivity(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) (Activity, error)
	// ListStale returns reports in one of statuses last touched before
	// updatedBefore with fewer than maxAttempts attempts, oldest first.
	// maxAttempts <= 0 means no cap.
	ListStale(ctx context.Context, db *gorm.DB, statuses []ReportStatus, updatedBefore time.Time, maxAttempts, limit int) ([]Report, error)
}

// ArtifactStore keeps rendered reports so that a generated report can be
// served again without regenerating it.
type ArtifactStore interface {
	Put(ctx context.Context, artifact Artifact) (string, error)
	Get(ctx context.Context, ref string) (*Artifact, error)
}
