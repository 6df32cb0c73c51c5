package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/railzway-reports/internal/cache"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/dbtest"
	subscriptiondomain "github.com/smallbiznis/railzway-reports/internal/subscription/domain"
	"github.com/smallbiznis/railzway-reports/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:    conn,
		Log:   zaptest.NewLogger(t),
		GenID: dbtest.Node(t),
		Clock: clk,
		Repo:  repository.Provide(),
		Cache: cache.NewSubscriptionStatusCache(),
	}).(*Service)
	return svc, conn, clk
}

func change(status subscriptiondomain.SubscriptionStatus, addons ...string) subscriptiondomain.SubscriptionChange {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return subscriptiondomain.SubscriptionChange{
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
		UserID:                 "user_1",
		PlanID:                 "pro",
		Status:                 status,
		CurrentPeriodStart:     &start,
		AddonIDs:               addons,
	}
}

func TestApplyChangeConverges(t *testing.T) {
	ctx := context.Background()
	svc, conn, _ := newTestService(t)

	first, err := svc.ApplyChange(ctx, change(subscriptiondomain.SubscriptionStatusActive, "seats", "storage"))
	require.NoError(t, err)
	require.Len(t, first.Addons, 2)

	second, err := svc.ApplyChange(ctx, change(subscriptiondomain.SubscriptionStatusActive, "seats", "storage"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, int64(1), dbtest.Count(t, conn, "subscriptions", ""))
	assert.Equal(t, int64(2), dbtest.Count(t, conn, "subscription_addons", "subscription_id = ?", first.ID))
}

func TestApplyChangeReplacesAddonsOnFirstDelivery(t *testing.T) {
	ctx := context.Background()
	svc, conn, _ := newTestService(t)

	created, err := svc.ApplyChange(ctx, change(subscriptiondomain.SubscriptionStatusTrialing, "seats", "seats", " "))
	require.NoError(t, err)
	assert.Equal(t, int64(1), dbtest.Count(t, conn, "subscription_addons", "subscription_id = ?", created.ID))

	updated, err := svc.ApplyChange(ctx, change(subscriptiondomain.SubscriptionStatusActive, "storage"))
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	addons, err := svc.repo.ListAddons(ctx, conn, created.ID)
	require.NoError(t, err)
	require.Len(t, addons, 1)
	assert.Equal(t, "storage", addons[0].AddonID)
	assert.Equal(t, 1, addons[0].Quantity)

	cleared, err := svc.ApplyChange(ctx, change(subscriptiondomain.SubscriptionStatusActive))
	require.NoError(t, err)
	assert.Empty(t, cleared.Addons)
	assert.Equal(t, int64(0), dbtest.Count(t, conn, "subscription_addons", ""))
}

func TestApplyChangeDefaultsPlan(t *testing.T) {
	svc, _, _ := newTestService(t)
	c := change(subscriptiondomain.SubscriptionStatusActive)
	c.PlanID = ""

	got, err := svc.ApplyChange(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.DefaultPlanID, got.PlanID)
}

func TestApplyChangeValidates(t *testing.T) {
	svc, _, _ := newTestService(t)

	c := change(subscriptiondomain.SubscriptionStatusActive)
	c.UserID = ""
	_, err := svc.ApplyChange(context.Background(), c)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidUser)

	c = change(subscriptiondomain.SubscriptionStatusActive)
	c.ProviderSubscriptionID = " "
	_, err = svc.ApplyChange(context.Background(), c)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidSubscriptionID)
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, clk := newTestService(t)

	_, err := svc.ApplyChange(ctx, change(subscriptiondomain.SubscriptionStatusActive))
	require.NoError(t, err)

	clk.Advance(time.Hour)
	updated, err := svc.SetStatus(ctx, "Stripe", "sub_1", subscriptiondomain.SubscriptionStatusPastDue)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, updated.Status)

	again, err := svc.SetStatus(ctx, "stripe", "sub_1", subscriptiondomain.SubscriptionStatusPastDue)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, again.Status)

	missing, err := svc.SetStatus(ctx, "stripe", "sub_missing", subscriptiondomain.SubscriptionStatusCanceled)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetStatusIsInvalidatedByChanges(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	resp, err := svc.GetStatus(ctx, "user_1")
	require.NoError(t, err)
	assert.False(t, resp.HasActiveSubscription)
	assert.Nil(t, resp.Subscription)

	_, err = svc.ApplyChange(ctx, change(subscriptiondomain.SubscriptionStatusActive, "seats"))
	require.NoError(t, err)

	resp, err = svc.GetStatus(ctx, "user_1")
	require.NoError(t, err)
	require.True(t, resp.HasActiveSubscription)
	assert.Equal(t, "pro", resp.Subscription.PlanID)
	require.Len(t, resp.Subscription.Addons, 1)

	_, err = svc.SetStatus(ctx, "stripe", "sub_1", subscriptiondomain.SubscriptionStatusCanceled)
	require.NoError(t, err)

	resp, err = svc.GetStatus(ctx, "user_1")
	require.NoError(t, err)
	assert.False(t, resp.HasActiveSubscription)

	current, err := svc.GetCurrent(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, current.Status)
}

func TestListSubscriberIDsPagesByUser(t *testing.T) {
	ctx := context.Background()
	svc, conn, _ := newTestService(t)

	dbtest.SeedSubscription(t, conn, 1, "user_a", "sub_a", "pro", "active")
	dbtest.SeedSubscription(t, conn, 2, "user_b", "sub_b", "pro", "trialing")
	dbtest.SeedSubscription(t, conn, 3, "user_b", "sub_b2", "pro", "active")
	dbtest.SeedSubscription(t, conn, 4, "user_c", "sub_c", "pro", "canceled")
	dbtest.SeedSubscription(t, conn, 5, "user_d", "sub_d", "pro", "active")

	page, err := svc.ListSubscriberIDs(ctx, subscriptiondomain.ListSubscribersRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"user_a", "user_b"}, page)

	page, err = svc.ListSubscriberIDs(ctx, subscriptiondomain.ListSubscribersRequest{Limit: 2, AfterUserID: "user_b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"user_d"}, page)
}
