package monitoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/storefront-be/internal/clock"
	"github.com/isdelr/storefront-be/internal/common"
	"github.com/isdelr/storefront-be/internal/database/dbtest"
	"github.com/isdelr/storefront-be/internal/models"
	"github.com/isdelr/storefront-be/internal/repository"
	"github.com/isdelr/storefront-be/internal/services"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var testOptions = SweeperOptions{
	GuestTTL:      5 * time.Minute,
	BatchSize:     100,
	FlagSchedule:  "0 3 * * *",
	PurgeSchedule: "0 * * * *",
	Timeout:       5 * time.Second,
}

func guest(email string, createdAt time.Time) models.User {
	return models.User{
		ID:                 uuid.NewString(),
		FirstName:          "guest",
		LastName:           "guest",
		Email:              email,
		PasswordHash:       "$2a$04$hash",
		IsGuest:            true,
		CreatedAt:          createdAt,
		PaymentCustomerRef: "cus_1",
	}
}

func TestFlagExpired_RespectsTTL(t *testing.T) {
	repo := repository.NewUserRepository(dbtest.NewSQLite(t), repository.DialectSQLite)
	clk := clock.NewFixed(t0)
	sweeper := NewGuestSweeper(repo, nil, clk, testOptions)
	ctx := context.Background()

	g := guest("guest_a@guest.test", t0)
	require.NoError(t, repo.Create(ctx, g))

	clk.Set(t0.Add(4 * time.Minute))
	n, err := sweeper.FlagExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = repo.GetActiveByID(ctx, g.ID)
	require.NoError(t, err, "guest younger than the TTL stays active")

	clk.Set(t0.Add(6 * time.Minute))
	n, err = sweeper.FlagExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	_, err = repo.GetActiveByID(ctx, g.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestFlagExpired_IgnoresNamedUsers(t *testing.T) {
	repo := repository.NewUserRepository(dbtest.NewSQLite(t), repository.DialectSQLite)
	clk := clock.NewFixed(t0.Add(24 * time.Hour))
	sweeper := NewGuestSweeper(repo, nil, clk, testOptions)
	ctx := context.Background()

	named := guest("ada@example.com", t0)
	named.IsGuest = false
	require.NoError(t, repo.Create(ctx, named))

	n, err := sweeper.FlagExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPurgeFlagged_OneBatchPerTick(t *testing.T) {
	db := dbtest.NewSQLite(t)
	repo := repository.NewUserRepository(db, repository.DialectSQLite)
	clk := clock.NewFixed(t0.Add(time.Hour))
	sweeper := NewGuestSweeper(repo, nil, clk, testOptions)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, repo.Create(ctx, guest(fmt.Sprintf("guest_%03d@guest.test", i), t0)))
	}
	n, err := sweeper.FlagExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 250, n)

	n, err = sweeper.PurgeFlagged(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 100, n)

	var remaining int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users WHERE is_deleted = 1").Scan(&remaining))
	require.Equal(t, 150, remaining)
}

type recordingEvents struct {
	types []string
}

func (r *recordingEvents) CreateEvent(ctx context.Context, eventType, level, message string, userID *string) error {
	r.types = append(r.types, eventType)
	return nil
}

func (r *recordingEvents) GetEventsForUser(ctx context.Context, userID string, limit int) ([]models.Event, error) {
	return nil, nil
}

type failingStore struct{}

func (failingStore) FlagExpiredGuests(ctx context.Context, createdBefore time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func (failingStore) PurgeFlagged(ctx context.Context, limit int) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestTicks_RecordEventsOnlyOnSuccess(t *testing.T) {
	repo := repository.NewUserRepository(dbtest.NewSQLite(t), repository.DialectSQLite)
	clk := clock.NewFixed(t0.Add(time.Hour))
	events := &recordingEvents{}
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, guest("guest_a@guest.test", t0)))

	sweeper := NewGuestSweeper(repo, events, clk, testOptions)
	sweeper.flagTick()
	sweeper.purgeTick()
	sweeper.purgeTick() // nothing left
	require.Equal(t, []string{services.EventGuestFlag, services.EventGuestPurge}, events.types)

	broken := NewGuestSweeper(failingStore{}, events, clk, testOptions)
	broken.flagTick()
	broken.purgeTick()
	require.Len(t, events.types, 2)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	opts := testOptions
	opts.PurgeSchedule = "every now and then"
	sweeper := NewGuestSweeper(failingStore{}, nil, clock.System{}, opts)
	require.Error(t, sweeper.Start())
}

func TestStartStop(t *testing.T) {
	sweeper := NewGuestSweeper(failingStore{}, nil, clock.System{}, testOptions)
	require.NoError(t, sweeper.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sweeper.Stop(ctx)
}
