package email

import (
	"github.com/smallbiznis/railzway-reports/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	switch cfg.Email.Provider {
	case "smtp":
		return NewSMTP(Config{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
		})
	case "brevo":
		return NewBrevo(BrevoConfig{
			APIKey:  cfg.Email.BrevoAPIKey,
			BaseURL: cfg.Email.BrevoBaseURL,
		}, nil)
	default:
		log.Warn("email provider not configured, reports will not be mailed",
			zap.String("provider", cfg.Email.Provider),
		)
		return &NoOpProvider{}
	}
}
