package logsession

import (
	"context"
	"sync"

	"arena-duels/internal/domain"

	"github.com/rs/zerolog"
)

// Session stands in for a game server: it logs every outbound call and
// remembers where it last put each player.
type Session struct {
	mu        sync.Mutex
	locations map[string]domain.Location
	logger    zerolog.Logger
}

func New(logger zerolog.Logger) *Session {
	return &Session{
		locations: make(map[string]domain.Location),
		logger:    logger,
	}
}

func (s *Session) Teleport(ctx context.Context, playerID string, loc domain.Location) error {
	s.mu.Lock()
	s.locations[playerID] = loc
	s.mu.Unlock()

	s.logger.Info().Str("player", playerID).Stringer("location", loc).Msg("teleport")
	return nil
}

func (s *Session) ResetVitals(ctx context.Context, playerID string) error {
	s.logger.Debug().Str("player", playerID).Msg("reset vitals")
	return nil
}

func (s *Session) GrantLoadout(ctx context.Context, playerID, kit string) error {
	s.logger.Debug().Str("player", playerID).Str("kit", kit).Msg("grant loadout")
	return nil
}

func (s *Session) Broadcast(ctx context.Context, playerIDs []string, message string) {
	s.logger.Info().Strs("players", playerIDs).Str("message", message).Msg("broadcast")
}

func (s *Session) CurrentLocation(ctx context.Context, playerID string) (domain.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[playerID]
	return loc, ok
}

// Forget drops what is known about a player that left.
func (s *Session) Forget(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locations, playerID)
}
