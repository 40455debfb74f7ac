package memworld

import (
	"context"
	"sync"

	"arena-duels/internal/domain"

	"github.com/rs/zerolog"
)

const Air domain.Material = "air"

// World is an in-memory terrain. Unset blocks read as Air.
type World struct {
	mu     sync.RWMutex
	blocks map[string]map[domain.BlockPos]domain.Material
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *World {
	return &World{
		blocks: make(map[string]map[domain.BlockPos]domain.Material),
		logger: logger,
	}
}

func (w *World) SnapshotRegion(ctx context.Context, region domain.Region) (map[domain.BlockPos]domain.Material, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	blocks := w.blocks[region.World]
	snap := make(map[domain.BlockPos]domain.Material, region.Volume())
	for x := region.Min.X; x <= region.Max.X; x++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for y := region.Min.Y; y <= region.Max.Y; y++ {
			for z := region.Min.Z; z <= region.Max.Z; z++ {
				pos := domain.BlockPos{X: x, Y: y, Z: z}
				if m, ok := blocks[pos]; ok {
					snap[pos] = m
				} else {
					snap[pos] = Air
				}
			}
		}
	}

	w.logger.Debug().Str("world", region.World).Int("blocks", len(snap)).Msg("region snapshot taken")
	return snap, nil
}

func (w *World) GetBlock(ctx context.Context, world string, pos domain.BlockPos) (domain.Material, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if m, ok := w.blocks[world][pos]; ok {
		return m, nil
	}
	return Air, nil
}

func (w *World) SetBlock(ctx context.Context, world string, pos domain.BlockPos, material domain.Material) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	blocks, ok := w.blocks[world]
	if !ok {
		blocks = make(map[domain.BlockPos]domain.Material)
		w.blocks[world] = blocks
	}
	if material == Air {
		delete(blocks, pos)
		return nil
	}
	blocks[pos] = material
	return nil
}
