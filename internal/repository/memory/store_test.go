package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noisemap/internal/domain/entities"
	"noisemap/internal/repository"
	"noisemap/internal/repository/repotest"
)

func TestStoreContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) *repository.Store {
		return NewStore(repotest.Precision)
	})
}

func TestUserRepository_ReturnsCopies(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, entities.NewUser("u1", "alice", "h")))

	got, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	got.MeasurementCount = 99
	got.Achievements = append(got.Achievements, entities.Achievement{Title: "forged"})

	again, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.MeasurementCount)
	assert.Empty(t, again.Achievements)
}

func TestPlaceVisitRepository_TracksVisitCount(t *testing.T) {
	repo := NewPlaceVisitRepository()
	ctx := context.Background()
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := repo.RecordVisit(ctx, "u1", entities.PlaceKindCity, "Milan", "Italy", first.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	v, ok := repo.Get("u1", entities.PlaceKindCity, "Milan")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.VisitCount)
	assert.True(t, v.FirstVisit.Equal(first))
	assert.True(t, v.LastVisit.Equal(first.Add(2*time.Hour)))
	assert.Equal(t, "Italy", v.Country)

	_, ok = repo.Get("u1", entities.PlaceKindCountry, "Milan")
	assert.False(t, ok)
}

func TestAggregateRepository_CancelledContext(t *testing.T) {
	repo := NewAggregateRepository(7)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Increment(ctx, entities.BucketKey{Geohash: "u0n2hb1", TimeBucket: time.Now()}, 50, entities.NewLocation(45, 9))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, repo.Len())
}

func TestSessionDenylist(t *testing.T) {
	d := NewSessionDenylist(time.Hour)
	defer d.Stop()
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	require.NoError(t, d.Revoke(ctx, "live", now.Add(time.Minute)))
	require.NoError(t, d.Revoke(ctx, "stale", now.Add(-time.Minute)))

	revoked, err := d.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = d.IsRevoked(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, revoked, "already expired tokens are never listed")
	assert.Equal(t, 1, d.Len())

	now = now.Add(2 * time.Minute)
	revoked, err = d.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.False(t, revoked)

	d.purge()
	assert.Equal(t, 0, d.Len())

	d.Stop()
	d.Stop()
}
