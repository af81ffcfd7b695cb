//go:build integration

package mongo

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"noisemap/internal/config"
	"noisemap/internal/repository"
	"noisemap/internal/repository/repotest"
)

// Usage:
//
//	go test -tags integration ./internal/repository/mongo/...
func TestStoreContract_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err, "start mongo container")
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	}()

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	var seq atomic.Int64
	repotest.Run(t, func(t *testing.T) *repository.Store {
		store, err := Open(ctx, config.MongoConfig{
			URI:            uri,
			Database:       fmt.Sprintf("noisemap_test_%d", seq.Add(1)),
			ConnectTimeout: 30 * time.Second,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	})
}
