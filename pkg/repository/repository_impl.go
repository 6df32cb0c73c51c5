package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/smallbiznis/railzway-reports/pkg/db/pagination"
	"gorm.io/gorm"
)

type gormStore[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &gormStore[T]{db: db}
}

func (r *gormStore[T]) WithTrx(tx *gorm.DB) Repository[T] {
	return &gormStore[T]{db: tx}
}

func (r *gormStore[T]) Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error) {
	var rows []*T
	if err := r.scope(ctx, query, opts...).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindOne returns nil without error when nothing matches.
func (r *gormStore[T]) FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error) {
	var row T
	err := r.scope(ctx, query, opts...).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindPage walks rows newest first by their snowflake id. The page token
// carries the last id of the previous page.
func (r *gormStore[T]) FindPage(ctx context.Context, query *T, page pagination.Pagination, idOf func(*T) int64, opts ...QueryOption) ([]*T, *pagination.PageInfo, error) {
	limit := page.Limit()
	opts = append(opts, OrderBy("id DESC"), Limit(limit+1))
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		after, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil || after <= 0 {
			return nil, nil, pagination.ErrInvalidPageToken
		}
		opts = append(opts, Where("id < ?", after))
	}

	rows, err := r.Find(ctx, query, opts...)
	if err != nil {
		return nil, nil, err
	}
	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(row *T) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: strconv.FormatInt(idOf(row), 10)})
		return token
	})
	return rows, info, nil
}

func (r *gormStore[T]) Create(ctx context.Context, row *T) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *gormStore[T]) Count(ctx context.Context, query *T, opts ...QueryOption) (int64, error) {
	var count int64
	err := r.scope(ctx, query, opts...).Count(&count).Error
	return count, err
}

func (r *gormStore[T]) scope(ctx context.Context, filter *T, opts ...QueryOption) *gorm.DB {
	db := r.db.WithContext(ctx).Model(new(T))
	if filter != nil {
		db = db.Where(filter)
	}
	for _, opt := range opts {
		db = opt.Apply(db)
	}
	return db
}
