package artifact

import (
	"context"

	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/config"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("report.artifact",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	Cfg   config.Config
	DB    *gorm.DB
	Clock clock.Clock
	Log   *zap.Logger
}

func NewStore(p Params) (reportdomain.ArtifactStore, error) {
	if p.Cfg.Artifact.Store == config.ArtifactStoreS3 {
		client, err := NewS3Client(context.Background(), p.Cfg.Artifact)
		if err != nil {
			return nil, err
		}
		p.Log.Info("report artifacts stored in s3",
			zap.String("bucket", p.Cfg.Artifact.S3Bucket),
			zap.String("prefix", p.Cfg.Artifact.S3Prefix),
		)
		return NewS3Store(client, p.Cfg.Artifact.S3Bucket, p.Cfg.Artifact.S3Prefix), nil
	}
	p.Log.Info("report artifacts stored in database")
	return NewDBStore(p.DB, p.Clock), nil
}
