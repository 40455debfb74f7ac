package logsession

import (
	"bytes"
	"context"
	"testing"

	"arena-duels/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeleportRemembersLocation(t *testing.T) {
	var buf bytes.Buffer
	s := New(zerolog.New(&buf))
	ctx := context.Background()

	_, ok := s.CurrentLocation(ctx, "alice")
	assert.False(t, ok)

	loc := domain.Location{World: "duels", X: 1, Y: 2, Z: 3}
	require.NoError(t, s.Teleport(ctx, "alice", loc))

	got, ok := s.CurrentLocation(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, loc, got)
	assert.Contains(t, buf.String(), "duels,1,2,3")

	s.Broadcast(ctx, []string{"alice", "bob"}, "Fight!")
	assert.Contains(t, buf.String(), "Fight!")

	s.Forget("alice")
	_, ok = s.CurrentLocation(ctx, "alice")
	assert.False(t, ok)
}
