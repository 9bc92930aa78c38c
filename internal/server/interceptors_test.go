package server

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestActorLimiter_TracksBoundedCallers(t *testing.T) {
	l := newActorLimiter(0.001, 1, 3, nil)
	require.NotNil(t, l)

	for i := 0; i < 100; i++ {
		assert.True(t, l.allow(fmt.Sprintf("actor:user-%d", i)))
	}
	assert.Equal(t, 3, l.size())

	// user-99 is still tracked and out of tokens; user-0 was forgotten.
	assert.False(t, l.allow("actor:user-99"))
	assert.True(t, l.allow("actor:user-0"))
	assert.Equal(t, 3, l.size())
}

func TestCallerKey(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5555}
	withPeer := peer.NewContext(context.Background(), &peer.Peer{Addr: addr})

	assert.Equal(t, "peer:203.0.113.9", callerKey(withPeer))
	assert.Equal(t, "actor:alice", callerKey(context.WithValue(withPeer, actorKey{}, "alice")))
	assert.Equal(t, "anonymous", callerKey(context.Background()))
}

func TestIdentityInterceptor_ActorOnlyFromToken(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: "0123456789abcdef0123456789abcdef", Issuer: "synthvault"})
	require.NoError(t, err)
	ic := identityInterceptor(auth, isMutating, zerolog.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod("GetState")}

	var seen string
	handler := func(ctx context.Context, _ any) (any, error) {
		seen = actorFrom(ctx).ID
		return nil, nil
	}

	// A legacy actor header is ignored.
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-actor", "owner"))
	_, err = ic(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Empty(t, seen)

	token, err := auth.Issue("alice", time.Hour, time.Now())
	require.NoError(t, err)
	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		AuthorizationKey, "bearer "+token,
		"x-actor", "owner",
		RequestIDKey, "r-9",
	))
	_, err = ic(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
		assert.Equal(t, "r-9", requestIDFrom(ctx))
		return handler(ctx, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", seen)

	_, err = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: fullMethod("Mint")}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestNewAuthenticator_RejectsShortSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{HMACSecret: "short"})
	assert.Error(t, err)

	auth, err := NewAuthenticator(AuthConfig{HMACSecret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)
	_, err = auth.Issue(" ", time.Hour, time.Now())
	assert.Error(t, err)
}
