package repository

import (
	"context"
	"errors"
	"time"

	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	webhookdomain "github.com/smallbiznis/railzway-reports/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() reportdomain.Repository {
	return &repo{}
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, userID string) (*reportdomain.User, error) {
	var user reportdomain.User
	err := db.WithContext(ctx).
		Select("id", "email", "full_name").
		Where("id = ?", userID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) FindOrganization(ctx context.Context, db *gorm.DB, organizationID string) (*reportdomain.Organization, error) {
	var org reportdomain.Organization
	err := db.WithContext(ctx).
		Select("id", "name", "owner_id").
		Where("id = ?", organizationID).
		Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

type activityRow struct {
	EventKind string
	Total     int64
}

func (r *repo) CountActivity(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) (reportdomain.Activity, error) {
	var rows []activityRow
	err := db.WithContext(ctx).Raw(
		`SELECT w.event_kind AS event_kind, COUNT(*) AS total
		FROM webhook_events w
		JOIN subscriptions s
			ON s.provider = w.provider AND s.provider_subscription_id = w.object_id
		WHERE s.user_id = ?
			AND w.processed = ?
			AND w.received_at >= ?
			AND w.received_at < ?
		GROUP BY w.event_kind`,
		userID, true, from, to,
	).Scan(&rows).Error
	if err != nil {
		return reportdomain.Activity{}, err
	}

	var activity reportdomain.Activity
	for _, row := range rows {
		activity.Total += row.Total
		switch webhookdomain.Kind(row.EventKind) {
		case webhookdomain.KindSubscriptionCreated, webhookdomain.KindSubscriptionUpdated, webhookdomain.KindSubscriptionDeleted:
			activity.SubscriptionChanges += row.Total
		case webhookdomain.KindInvoicePaymentSucceeded:
			activity.PaymentsSucceeded += row.Total
		case webhookdomain.KindInvoicePaymentFailed:
			activity.PaymentsFailed += row.Total
		}
	}
	return activity, nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, statuses []reportdomain.ReportStatus, updatedBefore time.Time, maxAttempts, limit int) ([]reportdomain.Report, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}

	var reports []reportdomain.Report
	stmt := db.WithContext(ctx).
		Where("status IN ?", values).
		Where("updated_at < ?", updatedBefore).
		Order("updated_at ASC").
		Order("id ASC")
	if maxAttempts > 0 {
		stmt = stmt.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}
