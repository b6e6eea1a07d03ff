package main

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-fitness-auth/actions"
	"github.com/jrsteele09/go-fitness-auth/authclient"
	fakeprofilerepo "github.com/jrsteele09/go-fitness-auth/profiles/repofake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFakeClientFactoryKeepsBrowsersApart(t *testing.T) {
	ctx := context.Background()
	factory := newFakeClientFactory(fakeprofilerepo.NewFakeProfileRepo(), authclient.WithLogger(zerolog.Nop()))

	first, err := factory(ctx, "browser-a")
	require.NoError(t, err)
	_, err = first.Actions().SignUp(ctx, actions.SignUpRequest{Email: "a@b.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = first.Actions().SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	require.True(t, first.Snapshot().Authenticated())

	other, err := factory(ctx, "browser-b")
	require.NoError(t, err)
	defer other.Close()
	require.False(t, other.Snapshot().Authenticated())

	// A client rebuilt for the same browser picks its session up again.
	first.Close()
	again, err := factory(ctx, "browser-a")
	require.NoError(t, err)
	defer again.Close()
	require.True(t, again.Snapshot().Authenticated())
	require.False(t, other.Snapshot().Authenticated())
}
