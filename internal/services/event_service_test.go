package services

import (
	"context"
	"testing"
	"time"

	"github.com/isdelr/storefront-be/internal/clock"
	"github.com/isdelr/storefront-be/internal/database/dbtest"
	"github.com/isdelr/storefront-be/internal/models"
	"github.com/isdelr/storefront-be/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestEventService_ForUserNewestFirst(t *testing.T) {
	db := dbtest.NewSQLite(t)
	clk := clock.NewFixed(t0)
	events := NewEventService(db, clk)
	users := repository.NewUserRepository(db, repository.DialectSQLite)
	ctx := context.Background()

	uid := "user-1"
	require.NoError(t, users.Create(ctx, models.User{
		ID: uid, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
		PasswordHash: "x", CreatedAt: t0, PaymentCustomerRef: "cus_1",
	}))

	for _, typ := range []string{EventAccountRegister, EventAccountLogin, EventAccountPasswordChange} {
		require.NoError(t, events.CreateEvent(ctx, typ, "info", typ, &uid))
		clk.Advance(time.Second)
	}
	require.NoError(t, events.CreateEvent(ctx, EventGuestPurge, "info", "system", nil))

	got, err := events.GetEventsForUser(ctx, uid, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, EventAccountPasswordChange, got[0].Type)
	require.Equal(t, EventAccountLogin, got[1].Type)
	require.NotNil(t, got[0].UserID)
	require.Equal(t, uid, *got[0].UserID)

	none, err := events.GetEventsForUser(ctx, "someone-else", 10)
	require.NoError(t, err)
	require.Empty(t, none)
}
