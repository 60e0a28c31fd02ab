package idempotency

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	rec, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, rec)

	now := time.Now()
	require.NoError(t, store.Save(ctx, "live", Record{
		StatusCode: 200,
		Body:       []byte(`{"state":"settled"}`),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}))
	require.NoError(t, store.Save(ctx, "stale", Record{
		StatusCode: 200,
		Body:       []byte("old"),
		CreatedAt:  now.Add(-2 * time.Hour),
		ExpiresAt:  now.Add(-time.Hour),
	}))

	got, err := store.Get(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 200, got.StatusCode)
	require.Equal(t, `{"state":"settled"}`, string(got.Body))

	got, err = store.Get(ctx, "stale")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, store.Save(ctx, "live", Record{
		StatusCode: 409,
		Body:       []byte("replaced"),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}))
	got, err = store.Get(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, 409, got.StatusCode)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idem.db")

	store, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, got, "records survive reopening")
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.pool.Exec(ctx, `DELETE FROM submit_replays`)
	require.NoError(t, err)
	exerciseStore(t, store)
}
