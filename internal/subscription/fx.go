package subscription

import (
	"github.com/smallbiznis/railzway-reports/internal/cache"
	"github.com/smallbiznis/railzway-reports/internal/subscription/repository"
	"github.com/smallbiznis/railzway-reports/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewSubscriptionStatusCache),
	fx.Provide(service.NewService),
)
