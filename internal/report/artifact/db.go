package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/railzway-reports/internal/clock"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	"github.com/smallbiznis/railzway-reports/pkg/repository"
	"gorm.io/gorm"
)

type record struct {
	Ref         string `gorm:"primaryKey"`
	ContentType string
	FileName    string
	SizeBytes   int64
	Content     []byte
	CreatedAt   time.Time
}

func (record) TableName() string { return "report_artifacts" }

// DBStore keeps artifacts in the report_artifacts table.
type DBStore struct {
	store repository.Repository[record]
	clock clock.Clock
}

func NewDBStore(db *gorm.DB, clk clock.Clock) *DBStore {
	return &DBStore{store: repository.ProvideStore[record](db), clock: clk}
}

func (s *DBStore) Put(ctx context.Context, artifact reportdomain.Artifact) (string, error) {
	ref := artifact.Ref
	if ref == "" {
		ref = newRef("", artifact.FileName)
	}
	row := &record{
		Ref:         ref,
		ContentType: artifact.ContentType,
		FileName:    artifact.FileName,
		SizeBytes:   int64(len(artifact.Content)),
		Content:     artifact.Content,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.Create(ctx, row); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return ref, nil
}

func (s *DBStore) Get(ctx context.Context, ref string) (*reportdomain.Artifact, error) {
	row, err := s.store.FindOne(ctx, nil, repository.Where("ref = ?", ref))
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	if row == nil {
		return nil, reportdomain.ErrArtifactNotFound
	}
	return &reportdomain.Artifact{
		Ref:         row.Ref,
		ContentType: row.ContentType,
		FileName:    row.FileName,
		Content:     row.Content,
	}, nil
}
