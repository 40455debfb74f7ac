package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arena-duels/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type arenaTemplateRow struct {
	Name        string    `db:"name"`
	DisplayName string    `db:"display_name"`
	World       string    `db:"world"`
	Spawn1      string    `db:"spawn1"`
	Spawn2      string    `db:"spawn2"`
	MinX        int       `db:"min_x"`
	MinY        int       `db:"min_y"`
	MinZ        int       `db:"min_z"`
	MaxX        int       `db:"max_x"`
	MaxY        int       `db:"max_y"`
	MaxZ        int       `db:"max_z"`
	AllowedKits string    `db:"allowed_kits"`
	Enabled     bool      `db:"enabled"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toTemplateRow(tpl *domain.ArenaTemplate) (arenaTemplateRow, error) {
	kits := tpl.AllowedKits
	if kits == nil {
		kits = []string{}
	}
	encoded, err := json.Marshal(kits)
	if err != nil {
		return arenaTemplateRow{}, fmt.Errorf("failed to encode allowed kits: %w", err)
	}

	return arenaTemplateRow{
		Name:        tpl.Name,
		DisplayName: tpl.DisplayName,
		World:       tpl.Bounds.World,
		Spawn1:      tpl.Spawn1.String(),
		Spawn2:      tpl.Spawn2.String(),
		MinX:        tpl.Bounds.Min.X,
		MinY:        tpl.Bounds.Min.Y,
		MinZ:        tpl.Bounds.Min.Z,
		MaxX:        tpl.Bounds.Max.X,
		MaxY:        tpl.Bounds.Max.Y,
		MaxZ:        tpl.Bounds.Max.Z,
		AllowedKits: string(encoded),
		Enabled:     tpl.Enabled,
		CreatedAt:   tpl.CreatedAt,
		UpdatedAt:   tpl.UpdatedAt,
	}, nil
}

func (row arenaTemplateRow) toDomain() (domain.ArenaTemplate, error) {
	tpl := domain.ArenaTemplate{
		Name:        row.Name,
		DisplayName: row.DisplayName,
		Bounds: domain.Region{
			World: row.World,
			Min:   domain.BlockPos{X: row.MinX, Y: row.MinY, Z: row.MinZ},
			Max:   domain.BlockPos{X: row.MaxX, Y: row.MaxY, Z: row.MaxZ},
		},
		Enabled:   row.Enabled,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}

	if err := tpl.Spawn1.UnmarshalText([]byte(row.Spawn1)); err != nil {
		return tpl, fmt.Errorf("template %s spawn1: %w", row.Name, err)
	}
	if err := tpl.Spawn2.UnmarshalText([]byte(row.Spawn2)); err != nil {
		return tpl, fmt.Errorf("template %s spawn2: %w", row.Name, err)
	}
	if err := json.Unmarshal([]byte(row.AllowedKits), &tpl.AllowedKits); err != nil {
		return tpl, fmt.Errorf("template %s allowed kits: %w", row.Name, err)
	}
	return tpl, nil
}

type ArenaTemplateRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewArenaTemplateRepository(db *sqlx.DB, logger zerolog.Logger) *ArenaTemplateRepository {
	return &ArenaTemplateRepository{db: db, logger: logger}
}

// List skips rows that no longer decode and logs them.
func (r *ArenaTemplateRepository) List(ctx context.Context) ([]domain.ArenaTemplate, error) {
	var rows []arenaTemplateRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT * FROM arena_templates ORDER BY name ASC"); err != nil {
		return nil, fmt.Errorf("failed to list arena templates: %w", err)
	}

	templates := make([]domain.ArenaTemplate, 0, len(rows))
	for _, row := range rows {
		tpl, err := row.toDomain()
		if err != nil {
			r.logger.Warn().Err(err).Str("template", row.Name).Msg("skipping malformed arena template")
			continue
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

func (r *ArenaTemplateRepository) Get(ctx context.Context, name string) (*domain.ArenaTemplate, error) {
	var row arenaTemplateRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM arena_templates WHERE name = ?", name); err != nil {
		return nil, err
	}
	tpl, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (r *ArenaTemplateRepository) Upsert(ctx context.Context, tpl *domain.ArenaTemplate) error {
	row, err := toTemplateRow(tpl)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx, `INSERT INTO arena_templates
		(name, display_name, world, spawn1, spawn2, min_x, min_y, min_z, max_x, max_y, max_z, allowed_kits, enabled, created_at, updated_at)
		VALUES (:name, :display_name, :world, :spawn1, :spawn2, :min_x, :min_y, :min_z, :max_x, :max_y, :max_z, :allowed_kits, :enabled, :created_at, :updated_at)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			world = excluded.world,
			spawn1 = excluded.spawn1,
			spawn2 = excluded.spawn2,
			min_x = excluded.min_x,
			min_y = excluded.min_y,
			min_z = excluded.min_z,
			max_x = excluded.max_x,
			max_y = excluded.max_y,
			max_z = excluded.max_z,
			allowed_kits = excluded.allowed_kits,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("failed to upsert arena template %s: %w", tpl.Name, err)
	}
	return nil
}

func (r *ArenaTemplateRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM arena_templates WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete arena template %s: %w", name, err)
	}
	return nil
}
