package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	idempotencydomain "github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/guard"
	"github.com/smallbiznis/railzway-reports/internal/notify"
	obslogger "github.com/smallbiznis/railzway-reports/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"github.com/smallbiznis/railzway-reports/internal/providers/pdf"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-reports/internal/subscription/domain"
	"github.com/smallbiznis/railzway-reports/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	pdfContentType     = "application/pdf"
	schedulePageSize   = 100
	defaultPeriodDays  = 7
	defaultRecoverMax  = 100
	defaultMaxAttempts = 5
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Repo          reportdomain.Repository
	Guard         *guard.ReportGuard
	Artifacts     reportdomain.ArtifactStore
	Renderer      pdf.Provider
	Dispatcher    notify.Dispatcher
	Subscriptions subscriptiondomain.Service
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock         clock.Clock
	repo          reportdomain.Repository
	reports       repository.Repository[reportdomain.Report]
	guard         *guard.ReportGuard
	artifacts     reportdomain.ArtifactStore
	renderer      pdf.Provider
	dispatcher    notify.Dispatcher
	subscriptions subscriptiondomain.Service
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) reportdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("report.service"),

		clock:         p.Clock,
		repo:          p.Repo,
		reports:       repository.ProvideStore[reportdomain.Report](p.DB),
		guard:         p.Guard,
		artifacts:     p.Artifacts,
		renderer:      p.Renderer,
		dispatcher:    p.Dispatcher,
		subscriptions: p.Subscriptions,
		metrics:       p.Metrics,
	}
}

// Generate implements domain.Service.
func (s *Service) Generate(ctx context.Context, req reportdomain.GenerateRequest) (*reportdomain.GenerateResult, error) {
	trigger, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.FindUser(ctx, s.db, trigger.SubjectID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, reportdomain.ErrUserNotFound
	}
	if trigger.ScopeID != nil {
		org, err := s.repo.FindOrganization(ctx, s.db, *trigger.ScopeID)
		if err != nil {
			return nil, err
		}
		if org == nil || org.OwnerID != user.ID {
			return nil, reportdomain.ErrOrganizationNotFound
		}
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("user_id", trigger.SubjectID),
		zap.String("report_type", trigger.Kind),
		zap.String("period_start", trigger.PeriodStart),
		zap.String("period_end", trigger.PeriodEnd),
	)

	entry, decision, err := s.guard.Run(ctx, trigger, func(ctx context.Context, entry *idempotencydomain.ReportEntry) (guard.Outcome, error) {
		return s.produce(ctx, log, entry)
	})
	switch {
	case errors.Is(err, idempotencydomain.ErrInFlight):
		s.metrics.RecordReportGeneration(ctx, trigger.Kind, "in_flight")
		log.Info("report generation already in progress")
		return nil, fmt.Errorf("%w: %w", reportdomain.ErrReportInProgress, err)
	case err != nil:
		s.metrics.RecordReportGeneration(ctx, trigger.Kind, "failed")
		log.Warn("report generation failed", zap.String("decision", string(decision)), zap.Error(err))
		return nil, err
	}

	existing := decision == idempotencydomain.DecisionSkip
	outcome := "generated"
	if existing {
		outcome = "existing"
	}
	s.metrics.RecordReportGeneration(ctx, trigger.Kind, outcome)
	log.Info("report ready",
		zap.String("report_id", entry.ID.String()),
		zap.String("decision", string(decision)),
	)
	return &reportdomain.GenerateResult{Report: toReport(entry), Existing: existing}, nil
}

// produce runs one attempt: gather, render, store, send. The ledger row is
// committed by the guard after the notification went out.
func (s *Service) produce(ctx context.Context, log *zap.Logger, entry *idempotencydomain.ReportEntry) (guard.Outcome, error) {
	snapshot, err := s.gather(ctx, entry)
	if err != nil {
		return guard.Outcome{}, fmt.Errorf("gather report data: %w", err)
	}

	doc, err := s.renderer.RenderReport(ctx, renderData(snapshot))
	if err != nil {
		return guard.Outcome{}, fmt.Errorf("render report: %w", err)
	}

	ref, err := s.artifacts.Put(ctx, reportdomain.Artifact{
		ContentType: pdfContentType,
		FileName:    notify.AttachmentName(entry.ReportType, entry.PeriodStart, entry.PeriodEnd),
		Content:     doc,
	})
	if err != nil {
		return guard.Outcome{}, err
	}

	orgName := ""
	if snapshot.Organization != nil {
		orgName = snapshot.Organization.Name
	}
	messageID, err := s.dispatcher.DispatchReport(ctx, notify.ReportNotification{
		ReportID:         entry.ID.String(),
		Recipient:        notify.Recipient{Email: snapshot.User.Email, Name: snapshot.User.DisplayName()},
		OrganizationName: orgName,
		ReportKind:       entry.ReportType,
		PeriodStart:      entry.PeriodStart,
		PeriodEnd:        entry.PeriodEnd,
		Artifact:         doc,
		ContentType:      pdfContentType,
	})
	if err != nil {
		return guard.Outcome{}, err
	}

	log.Debug("report dispatched",
		zap.String("report_id", entry.ID.String()),
		zap.String("artifact_ref", ref),
		zap.String("message_id", messageID),
	)
	return guard.Outcome{ArtifactRef: ref, NotificationID: messageID}, nil
}

func (s *Service) gather(ctx context.Context, entry *idempotencydomain.ReportEntry) (*reportdomain.Snapshot, error) {
	user, err := s.repo.FindUser(ctx, s.db, entry.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, reportdomain.ErrUserNotFound
	}

	snapshot := &reportdomain.Snapshot{
		ReportID:    entry.ID,
		Kind:        entry.ReportType,
		PeriodStart: entry.PeriodStart,
		PeriodEnd:   entry.PeriodEnd,
		User:        *user,
		PlanID:      "No active plan",
		Status:      "inactive",
		TakenAt:     s.clock.Now(),
	}

	if entry.OrganizationID != nil {
		org, err := s.repo.FindOrganization(ctx, s.db, *entry.OrganizationID)
		if err != nil {
			return nil, err
		}
		if org == nil {
			return nil, reportdomain.ErrOrganizationNotFound
		}
		snapshot.Organization = org
	}

	// any status: trialing and past_due subscribers are scheduled too
	current, err := s.subscriptions.GetCurrent(ctx, entry.UserID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		snapshot.PlanID = current.PlanID
		snapshot.Status = string(current.Status)
		for _, addon := range current.Addons {
			snapshot.Addons = append(snapshot.Addons, addon.AddonID)
		}
	}

	from, to, err := periodBounds(entry.PeriodStart, entry.PeriodEnd)
	if err != nil {
		return nil, err
	}
	activity, err := s.repo.CountActivity(ctx, s.db, entry.UserID, from, to)
	if err != nil {
		return nil, err
	}
	snapshot.Activity = activity

	return snapshot, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req reportdomain.ListRequest) (*reportdomain.ListResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, reportdomain.ErrInvalidRequest
	}

	var opts []repository.QueryOption
	if req.Status != "" {
		opts = append(opts, repository.Where("status = ?", string(req.Status)))
	}
	rows, info, err := s.reports.FindPage(ctx, &reportdomain.Report{UserID: userID}, req.Pagination, func(r *reportdomain.Report) int64 {
		return int64(r.ID)
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &reportdomain.ListResponse{Reports: rows, PageInfo: info}, nil
}

// Get implements domain.Service. Reports of other users are not found.
func (s *Service) Get(ctx context.Context, userID, reportID string) (*reportdomain.Report, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, reportdomain.ErrInvalidRequest
	}
	id, err := snowflake.ParseString(strings.TrimSpace(reportID))
	if err != nil || id == 0 {
		return nil, reportdomain.ErrInvalidReportID
	}

	report, err := s.reports.FindOne(ctx, &reportdomain.Report{ID: id, UserID: userID})
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, reportdomain.ErrReportNotFound
	}
	return report, nil
}

// Download implements domain.Service.
func (s *Service) Download(ctx context.Context, userID, reportID string) (*reportdomain.Download, error) {
	report, err := s.Get(ctx, userID, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status != reportdomain.ReportStatusGenerated || report.ArtifactRef == nil {
		return nil, reportdomain.ErrReportNotReady
	}

	artifact, err := s.artifacts.Get(ctx, *report.ArtifactRef)
	if err != nil {
		return nil, err
	}

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = pdfContentType
	}
	return &reportdomain.Download{
		FileName:    fmt.Sprintf("report-%s.pdf", report.ID.String()),
		ContentType: contentType,
		Content:     artifact.Content,
	}, nil
}

// ScheduleDue implements domain.Service.
func (s *Service) ScheduleDue(ctx context.Context, req reportdomain.ScheduleRequest) (*reportdomain.ScheduleResponse, error) {
	kind := strings.TrimSpace(req.ReportType)
	if kind == "" {
		kind = reportdomain.DefaultReportType
	}
	days := req.PeriodDays
	if days <= 0 {
		days = defaultPeriodDays
	}

	now := req.AsOf.UTC()
	if req.AsOf.IsZero() {
		now = s.clock.Now().UTC()
	}
	period := reportdomain.Period{
		Start: now.AddDate(0, 0, -days).Format(reportdomain.PeriodLayout),
		End:   now.AddDate(0, 0, -1).Format(reportdomain.PeriodLayout),
	}

	results := make([]reportdomain.ScheduleResult, 0)
	after := ""
	for {
		userIDs, err := s.subscriptions.ListSubscriberIDs(ctx, subscriptiondomain.ListSubscribersRequest{
			AfterUserID: after,
			Limit:       schedulePageSize,
		})
		if err != nil {
			return nil, err
		}

		for _, userID := range userIDs {
			res, err := s.Generate(ctx, reportdomain.GenerateRequest{
				UserID:      userID,
				PeriodStart: period.Start,
				PeriodEnd:   period.End,
				ReportType:  kind,
			})
			if err != nil {
				results = append(results, reportdomain.ScheduleResult{UserID: userID, Error: err.Error()})
				continue
			}
			results = append(results, reportdomain.ScheduleResult{
				UserID:   userID,
				Success:  true,
				ReportID: res.Report.ID.String(),
			})
		}

		if len(userIDs) < schedulePageSize {
			break
		}
		after = userIDs[len(userIDs)-1]
	}

	return &reportdomain.ScheduleResponse{
		Message: fmt.Sprintf("Processed %d users", len(results)),
		Results: results,
		Period:  period,
	}, nil
}

// Recover implements domain.Service.
func (s *Service) Recover(ctx context.Context, req reportdomain.RecoverRequest) (*reportdomain.RecoverResult, error) {
	staleAfter := req.StaleAfter
	if staleAfter <= 0 {
		staleAfter = guard.DefaultPendingStaleAfter
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRecoverMax
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	stale, err := s.repo.ListStale(ctx, s.db,
		[]reportdomain.ReportStatus{reportdomain.ReportStatusPending, reportdomain.ReportStatusFailed},
		s.clock.Now().Add(-staleAfter),
		maxAttempts,
		limit,
	)
	if err != nil {
		return nil, err
	}

	result := &reportdomain.RecoverResult{Scanned: len(stale)}
	for _, report := range stale {
		res, err := s.Generate(ctx, reportdomain.GenerateRequest{
			UserID:         report.UserID,
			OrganizationID: report.OrganizationID,
			PeriodStart:    report.PeriodStart,
			PeriodEnd:      report.PeriodEnd,
			ReportType:     report.ReportType,
		})
		switch {
		case errors.Is(err, reportdomain.ErrReportInProgress):
			result.Skipped++
		case err != nil:
			result.Failed++
		case res.Existing:
			result.Skipped++
		default:
			result.Generated++
		}
	}
	return result, nil
}

func normalizeRequest(req reportdomain.GenerateRequest) (idempotencydomain.ReportTrigger, error) {
	trigger := idempotencydomain.ReportTrigger{
		SubjectID:   strings.TrimSpace(req.UserID),
		Kind:        strings.ToLower(strings.TrimSpace(req.ReportType)),
		PeriodStart: strings.TrimSpace(req.PeriodStart),
		PeriodEnd:   strings.TrimSpace(req.PeriodEnd),
	}
	if trigger.Kind == "" {
		trigger.Kind = reportdomain.DefaultReportType
	}
	if req.OrganizationID != nil {
		scope := strings.TrimSpace(*req.OrganizationID)
		if scope != "" {
			trigger.ScopeID = &scope
		}
	}
	if trigger.SubjectID == "" {
		return trigger, fmt.Errorf("%w: %w: subject id is required", reportdomain.ErrInvalidRequest, idempotencydomain.ErrInvalidTrigger)
	}
	if _, _, err := periodBounds(trigger.PeriodStart, trigger.PeriodEnd); err != nil {
		return trigger, err
	}
	return trigger, nil
}

// periodBounds turns inclusive YYYY-MM-DD dates into a half-open UTC range.
func periodBounds(start, end string) (time.Time, time.Time, error) {
	from, err := time.Parse(reportdomain.PeriodLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: periodStart must be YYYY-MM-DD", reportdomain.ErrInvalidPeriod)
	}
	to, err := time.Parse(reportdomain.PeriodLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: periodEnd must be YYYY-MM-DD", reportdomain.ErrInvalidPeriod)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: periodEnd is before periodStart", reportdomain.ErrInvalidPeriod)
	}
	return from, to.AddDate(0, 0, 1), nil
}

func renderData(snapshot *reportdomain.Snapshot) pdf.ReportData {
	orgName := "Personal"
	if snapshot.Organization != nil {
		orgName = snapshot.Organization.Name
	}
	return pdf.ReportData{
		Title:            notify.ReportTitle(snapshot.Kind),
		UserName:         snapshot.User.DisplayName(),
		OrganizationName: orgName,
		PeriodStart:      snapshot.PeriodStart,
		PeriodEnd:        snapshot.PeriodEnd,
		Metrics: []pdf.Metric{
			{Label: "Subscription changes", Value: fmt.Sprint(snapshot.Activity.SubscriptionChanges)},
			{Label: "Payments succeeded", Value: fmt.Sprint(snapshot.Activity.PaymentsSucceeded)},
			{Label: "Payments failed", Value: fmt.Sprint(snapshot.Activity.PaymentsFailed)},
			{Label: "Provider events", Value: fmt.Sprint(snapshot.Activity.Total)},
		},
		PlanID:      snapshot.PlanID,
		Status:      snapshot.Status,
		Addons:      snapshot.Addons,
		GeneratedOn: snapshot.TakenAt.UTC().Format(reportdomain.PeriodLayout),
	}
}

func toReport(entry *idempotencydomain.ReportEntry) *reportdomain.Report {
	if entry == nil {
		return nil
	}
	return &reportdomain.Report{
		ID:             entry.ID,
		UserID:         entry.UserID,
		OrganizationID: entry.OrganizationID,
		ReportType:     entry.ReportType,
		PeriodStart:    entry.PeriodStart,
		PeriodEnd:      entry.PeriodEnd,
		Status:         reportdomain.ReportStatus(entry.Status),
		ArtifactRef:    entry.ArtifactRef,
		GeneratedAt:    entry.GeneratedAt,
		NotificationID: entry.NotificationID,
		Attempts:       entry.Attempts,
		LastError:      entry.LastError,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
	}
}
