package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/railzway-reports/internal/config"
	"github.com/smallbiznis/railzway-reports/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Send(ctx context.Context, msg email.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newDispatcher(t *testing.T, provider email.Provider) Dispatcher {
	cfg := config.Config{Email: config.EmailConfig{From: "reports@example.com"}}
	return NewEmailDispatcher(EmailDispatcherParams{
		Cfg:      cfg,
		Log:      zaptest.NewLogger(t),
		Provider: provider,
	})
}

func weeklyNotification() ReportNotification {
	return ReportNotification{
		ReportID:         "42",
		Recipient:        Recipient{Email: "jane@example.com", Name: "Jane Doe"},
		OrganizationName: "Acme",
		ReportKind:       "weekly",
		PeriodStart:      "2024-01-01",
		PeriodEnd:        "2024-01-07",
		Artifact:         []byte("%PDF-1.4"),
	}
}

func TestDispatchReportSendsOneMessage(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, mock.MatchedBy(func(msg email.Message) bool {
		return msg.Subject == "Weekly Report - 2024-01-01 to 2024-01-07" &&
			msg.From.Name == "Report Team" &&
			len(msg.To) == 1 && msg.To[0].Email == "jane@example.com" &&
			len(msg.Attachments) == 1 &&
			msg.Attachments[0].Name == "weekly-report-2024-01-01-2024-01-07.pdf" &&
			msg.Attachments[0].ContentType == "application/pdf"
	})).Return("msg-1", nil).Once()

	id, err := newDispatcher(t, provider).DispatchReport(context.Background(), weeklyNotification())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	provider.AssertExpectations(t)
}

func TestDispatchReportWrapsProviderError(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, mock.Anything).Return("", errors.New("smtp down")).Once()

	_, err := newDispatcher(t, provider).DispatchReport(context.Background(), weeklyNotification())
	assert.ErrorIs(t, err, ErrDispatchFail)
	provider.AssertNumberOfCalls(t, "Send", 1)
}

func TestDispatchReportValidatesInput(t *testing.T) {
	provider := &mockProvider{}
	d := newDispatcher(t, provider)

	n := weeklyNotification()
	n.Recipient.Email = ""
	_, err := d.DispatchReport(context.Background(), n)
	assert.ErrorIs(t, err, ErrNoRecipient)

	n = weeklyNotification()
	n.Artifact = nil
	_, err = d.DispatchReport(context.Background(), n)
	assert.ErrorIs(t, err, ErrNoArtifact)

	provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestReportTitleAndAttachmentName(t *testing.T) {
	assert.Equal(t, "Weekly Report", ReportTitle("weekly"))
	assert.Equal(t, "Month End Report", ReportTitle("month_end"))
	assert.Equal(t, "Report", ReportTitle(""))
	assert.Equal(t, "weekly-report-2024-01-01-2024-01-07.pdf", AttachmentName("weekly", "2024-01-01", "2024-01-07"))
	assert.Equal(t, "month-end-report-2024-01-01-2024-01-31.pdf", AttachmentName("Month End", "2024-01-01", "2024-01-31"))
}
