// Package storetest opens isolated in-memory stores for tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace-backend/internal/config"
	"marketplace-backend/internal/situation"
	"marketplace-backend/internal/store"
)

// New returns a migrated in-memory SQLite store and a loaded situation
// registry. Each call gets its own database.
func New(t testing.TB) (*store.Store, *situation.Registry) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	st, err := store.Open(config.StoreConfig{
		Driver:    "sqlite",
		DSN:       dsn,
		OpTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx, st.DB))
	reg, err := situation.Load(ctx, st.DB, true)
	require.NoError(t, err)
	return st, reg
}
