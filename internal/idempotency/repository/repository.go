package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type webhookLedger struct {
	db *gorm.DB
}

func NewWebhookLedger(db *gorm.DB) domain.WebhookLedger {
	return &webhookLedger{db: db}
}

func (r *webhookLedger) InsertIfAbsent(ctx context.Context, entry domain.WebhookEntry) (domain.InsertResult[domain.WebhookEntry], error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(&entry)
	if res.Error != nil {
		return domain.InsertResult[domain.WebhookEntry]{}, res.Error
	}
	if res.RowsAffected > 0 {
		return domain.InsertResult[domain.WebhookEntry]{Inserted: true}, nil
	}

	existing, err := r.FindByKey(ctx, entry.Key())
	if err != nil {
		return domain.InsertResult[domain.WebhookEntry]{}, err
	}
	return domain.InsertResult[domain.WebhookEntry]{Existing: existing}, nil
}

func (r *webhookLedger) FindByKey(ctx context.Context, key domain.Key) (*domain.WebhookEntry, error) {
	var entry domain.WebhookEntry
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", key.Namespace, key.Value).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *webhookLedger) UpdateByKey(ctx context.Context, key domain.Key, patch domain.WebhookPatch) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.WebhookEntry{}).
		Where("provider = ? AND provider_event_id = ? AND processed = ?", key.Namespace, key.Value, false).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": patch.ProcessedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type reportLedger struct {
	db *gorm.DB
}

func NewReportLedger(db *gorm.DB) domain.ReportLedger {
	return &reportLedger{db: db}
}

func (r *reportLedger) InsertIfAbsent(ctx context.Context, entry domain.ReportEntry) (domain.InsertResult[domain.ReportEntry], error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).
		Create(&entry)
	if res.Error != nil {
		return domain.InsertResult[domain.ReportEntry]{}, res.Error
	}
	if res.RowsAffected > 0 {
		return domain.InsertResult[domain.ReportEntry]{Inserted: true}, nil
	}

	existing, err := r.findByDedupKey(ctx, entry.DedupKey)
	if err != nil {
		return domain.InsertResult[domain.ReportEntry]{}, err
	}
	return domain.InsertResult[domain.ReportEntry]{Existing: existing}, nil
}

func (r *reportLedger) FindByKey(ctx context.Context, key domain.Key) (*domain.ReportEntry, error) {
	return r.findByDedupKey(ctx, key.Value)
}

func (r *reportLedger) findByDedupKey(ctx context.Context, dedupKey string) (*domain.ReportEntry, error) {
	var entry domain.ReportEntry
	err := r.db.WithContext(ctx).
		Where("dedup_key = ?", dedupKey).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *reportLedger) UpdateByKey(ctx context.Context, key domain.Key, patch domain.ReportPatch) (bool, error) {
	if len(patch.From) == 0 {
		return false, errors.New("report patch requires at least one source status")
	}

	updates := map[string]any{
		"status":     patch.To,
		"updated_at": patch.UpdatedAt,
	}
	if patch.ArtifactRef != nil {
		updates["artifact_ref"] = *patch.ArtifactRef
	}
	if patch.GeneratedAt != nil {
		updates["generated_at"] = *patch.GeneratedAt
	}
	if patch.NotificationID != nil {
		updates["notification_id"] = *patch.NotificationID
	}
	if patch.ClearLastError {
		updates["last_error"] = nil
	}
	if patch.LastError != nil {
		updates["last_error"] = *patch.LastError
	}
	if patch.IncrementAttempts {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}

	q := r.db.WithContext(ctx).
		Model(&domain.ReportEntry{}).
		Where("dedup_key = ?", key.Value).
		Where("status IN ?", statusStrings(patch.From))
	if patch.ExpectAttempts != nil {
		q = q.Where("attempts = ?", *patch.ExpectAttempts)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func statusStrings(statuses []domain.ReportStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
