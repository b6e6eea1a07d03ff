package gotrue_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-fitness-auth/provider/gotrue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	s := gotrue.NewRedisStorage(rdb, "fitness:")

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "session", "value-1", 0))
	require.True(t, mr.Exists("fitness:session"))
	v, ok, err := s.Get(ctx, "session")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value-1", v)

	require.NoError(t, s.Set(ctx, "flow", "verifier", time.Minute))
	mr.FastForward(2 * time.Minute)
	_, ok, err = s.Get(ctx, "flow")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Delete(ctx, "session"))
	_, ok, err = s.Get(ctx, "session")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStorageSharedBetweenClients(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := setupTestFixture(t, gotrue.WithStorage(gotrue.NewRedisStorage(rdb, "fitness:")), gotrue.WithStorageKey("browser-1"))
	f.api.handle("POST /auth/v1/token?password", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
	})
	_, err := f.client.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.NoError(t, err)

	// A second replica reading the same key sees the session.
	other, err := gotrue.New(f.server.URL+"/auth/v1", "anon-key",
		gotrue.WithStorage(gotrue.NewRedisStorage(rdb, "fitness:")),
		gotrue.WithStorageKey("browser-1"),
		gotrue.WithNowTime(func() time.Time { return f.now }))
	require.NoError(t, err)
	session, err := other.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", session.AccessToken)
}

func TestMemoryStorageExpiry(t *testing.T) {
	ctx := context.Background()
	s := gotrue.NewMemoryStorage()
	require.NoError(t, s.Set(ctx, "k", "v", time.Nanosecond))
	time.Sleep(time.Millisecond)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
