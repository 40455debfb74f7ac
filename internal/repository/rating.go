package repository

import (
	"context"
	"fmt"

	"arena-duels/internal/constants"
	"arena-duels/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

const upsertRatingQuery = `INSERT INTO elo_ratings (player_id, rating, wins, losses, win_streak, best_win_streak, tier, last_updated)
	VALUES (:player_id, :rating, :wins, :losses, :win_streak, :best_win_streak, :tier, :last_updated)
	ON CONFLICT(player_id) DO UPDATE SET
		rating = excluded.rating,
		wins = excluded.wins,
		losses = excluded.losses,
		win_streak = excluded.win_streak,
		best_win_streak = excluded.best_win_streak,
		tier = excluded.tier,
		last_updated = excluded.last_updated`

type RatingRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewRatingRepository(db *sqlx.DB, logger zerolog.Logger) *RatingRepository {
	return &RatingRepository{db: db, logger: logger}
}

func (r *RatingRepository) LoadAll(ctx context.Context) ([]domain.EloRating, error) {
	var ratings []domain.EloRating
	err := r.db.SelectContext(ctx, &ratings, `SELECT player_id, rating, wins, losses, win_streak, best_win_streak, tier, last_updated
		FROM elo_ratings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings: %w", err)
	}
	return ratings, nil
}

func (r *RatingRepository) Get(ctx context.Context, playerID string) (*domain.EloRating, error) {
	var rating domain.EloRating
	err := r.db.GetContext(ctx, &rating, `SELECT player_id, rating, wins, losses, win_streak, best_win_streak, tier, last_updated
		FROM elo_ratings WHERE player_id = ?`, playerID)
	if err != nil {
		return nil, err
	}
	return &rating, nil
}

func (r *RatingRepository) Upsert(ctx context.Context, rating *domain.EloRating) error {
	if _, err := r.db.NamedExecContext(ctx, upsertRatingQuery, rating); err != nil {
		return fmt.Errorf("failed to upsert rating %s: %w", rating.PlayerID, err)
	}
	return nil
}

func (r *RatingRepository) UpsertBatch(ctx context.Context, ratings []domain.EloRating) error {
	if len(ratings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := 0; i < len(ratings); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(ratings))

		for _, rating := range ratings[i:end] {
			if _, err := tx.NamedExecContext(ctx, upsertRatingQuery, rating); err != nil {
				return fmt.Errorf("failed to upsert rating %s: %w", rating.PlayerID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ratings: %w", err)
	}

	r.logger.Debug().Int("count", len(ratings)).Msg("ratings upserted")
	return nil
}
