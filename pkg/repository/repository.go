package repository

import (
	"context"

	"github.com/smallbiznis/railzway-reports/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository is a small generic gorm store for row types that need no
// hand-written queries.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	FindPage(ctx context.Context, query *T, page pagination.Pagination, idOf func(*T) int64, opts ...QueryOption) ([]*T, *pagination.PageInfo, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, query *T, opts ...QueryOption) (int64, error)
}

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type QueryOptionFunc func(db *gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

func Where(query string, args ...any) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

func OrderBy(expr string) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(expr)
	})
}

func Limit(n int) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	})
}
