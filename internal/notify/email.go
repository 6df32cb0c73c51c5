package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/railzway-reports/internal/config"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"github.com/smallbiznis/railzway-reports/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html"))

const defaultSenderName = "Report Team"

type EmailDispatcherParams struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Provider email.Provider
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// EmailDispatcher mails the report as a PDF attachment.
type EmailDispatcher struct {
	provider email.Provider
	sender   email.Address
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

func NewEmailDispatcher(p EmailDispatcherParams) Dispatcher {
	name := strings.TrimSpace(p.Cfg.Email.FromName)
	if name == "" {
		name = defaultSenderName
	}
	return &EmailDispatcher{
		provider: p.Provider,
		sender:   email.Address{Email: p.Cfg.Email.From, Name: name},
		log:      p.Log.Named("notify.email"),
		metrics:  p.Metrics,
	}
}

func (d *EmailDispatcher) DispatchReport(ctx context.Context, n ReportNotification) (string, error) {
	if strings.TrimSpace(n.Recipient.Email) == "" {
		return "", ErrNoRecipient
	}
	if len(n.Artifact) == 0 {
		return "", ErrNoArtifact
	}

	title := ReportTitle(n.ReportKind)
	var body bytes.Buffer
	if err := reportTemplate.Execute(&body, map[string]any{
		"Title":        title,
		"Name":         n.Recipient.Name,
		"Organization": n.OrganizationName,
		"PeriodStart":  n.PeriodStart,
		"PeriodEnd":    n.PeriodEnd,
	}); err != nil {
		return "", fmt.Errorf("render report email: %w", err)
	}

	contentType := n.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}

	messageID, err := d.provider.Send(ctx, email.Message{
		From:     d.sender,
		To:       []email.Address{{Email: n.Recipient.Email, Name: n.Recipient.Name}},
		Subject:  fmt.Sprintf("%s - %s to %s", title, n.PeriodStart, n.PeriodEnd),
		HTMLBody: body.String(),
		Attachments: []email.Attachment{{
			Name:        AttachmentName(n.ReportKind, n.PeriodStart, n.PeriodEnd),
			ContentType: contentType,
			Content:     n.Artifact,
		}},
	})
	if err != nil {
		d.metrics.RecordNotification(ctx, d.provider.Name(), "failed")
		d.log.Warn("report email failed",
			zap.String("report_id", n.ReportID),
			zap.String("provider", d.provider.Name()),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrDispatchFail, err)
	}

	d.metrics.RecordNotification(ctx, d.provider.Name(), "sent")
	d.log.Info("report email sent",
		zap.String("report_id", n.ReportID),
		zap.String("provider", d.provider.Name()),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}

// ReportTitle turns a report kind into its display title, "weekly" into
// "Weekly Report".
func ReportTitle(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "Report"
	}
	words := strings.FieldsFunc(kind, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ") + " Report"
}

// AttachmentName is the file name a report is delivered and downloaded as.
func AttachmentName(kind, start, end string) string {
	return slug.Make(fmt.Sprintf("%s-report-%s-%s", kind, start, end)) + ".pdf"
}
