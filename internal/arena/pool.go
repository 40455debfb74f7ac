package arena

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"arena-duels/internal/constants"
	"arena-duels/internal/domain"

	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const instanceIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

type World interface {
	SnapshotRegion(ctx context.Context, region domain.Region) (map[domain.BlockPos]domain.Material, error)
	GetBlock(ctx context.Context, world string, pos domain.BlockPos) (domain.Material, error)
	SetBlock(ctx context.Context, world string, pos domain.BlockPos, material domain.Material) error
}

type TemplateStore interface {
	List(ctx context.Context) ([]domain.ArenaTemplate, error)
	Upsert(ctx context.Context, tpl *domain.ArenaTemplate) error
	Delete(ctx context.Context, name string) error
}

type Stats struct {
	Templates        int
	EnabledTemplates int
	Instances        int
	InUse            int
}

type instance struct {
	domain.ArenaInstance
	createdAt time.Time
	snapshot  map[domain.BlockPos]domain.Material
	retired   bool
	tail      chan struct{} // closed when the last queued terrain task finishes
}

// Pool leases arena instances to matches. Acquire and Release are serialized
// by a single mutex; terrain capture and restore run in the background, one
// task at a time per instance.
type Pool struct {
	world      World
	store      TemplateStore
	clock      clockwork.Clock
	maxMatches int
	maxAge     time.Duration
	logger     zerolog.Logger

	mu        sync.Mutex
	templates map[string]*domain.ArenaTemplate
	instances map[string]*instance

	wg sync.WaitGroup
}

func NewPool(world World, store TemplateStore, clock clockwork.Clock, maxMatches int, maxAge time.Duration, logger zerolog.Logger) *Pool {
	return &Pool{
		world:      world,
		store:      store,
		clock:      clock,
		maxMatches: maxMatches,
		maxAge:     maxAge,
		logger:     logger,
		templates:  make(map[string]*domain.ArenaTemplate),
		instances:  make(map[string]*instance),
	}
}

func (p *Pool) LoadTemplates(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	templates, err := p.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load arena templates: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range templates {
		tpl := templates[i]
		p.templates[tpl.Name] = &tpl
	}

	p.logger.Info().Int("count", len(templates)).Msg("arena templates loaded")
	return nil
}

func validateTemplate(tpl *domain.ArenaTemplate) error {
	if strings.TrimSpace(tpl.Name) == "" {
		return fmt.Errorf("%w: empty name", domain.ErrInvalidTemplate)
	}
	if tpl.Bounds.Volume() == 0 {
		return fmt.Errorf("%w: empty bounds", domain.ErrInvalidTemplate)
	}
	if tpl.Bounds.World == "" {
		return fmt.Errorf("%w: bounds without world", domain.ErrInvalidTemplate)
	}
	return nil
}

// SaveTemplate persists a template and makes it available to Acquire. Free
// instances of a replaced template pick up the new definition at once.
func (p *Pool) SaveTemplate(ctx context.Context, tpl domain.ArenaTemplate) error {
	if err := validateTemplate(&tpl); err != nil {
		return err
	}

	now := p.clock.Now()
	p.mu.Lock()
	if existing, ok := p.templates[tpl.Name]; ok {
		tpl.CreatedAt = existing.CreatedAt
	} else {
		tpl.CreatedAt = now
	}
	p.mu.Unlock()
	tpl.UpdatedAt = now

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	if err := p.store.Upsert(ctx, &tpl); err != nil {
		return fmt.Errorf("failed to save arena template %s: %w", tpl.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates[tpl.Name] = &tpl
	for _, inst := range p.instances {
		if inst.Template.Name == tpl.Name && !inst.InUse {
			inst.Template = &tpl
		}
	}

	p.logger.Info().Str("template", tpl.Name).Bool("enabled", tpl.Enabled).Msg("arena template saved")
	return nil
}

// DeleteTemplate drops free instances of the template now and retires leased
// ones when their match releases them.
func (p *Pool) DeleteTemplate(ctx context.Context, name string) error {
	p.mu.Lock()
	_, ok := p.templates[name]
	p.mu.Unlock()
	if !ok {
		return domain.ErrTemplateNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	if err := p.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete arena template %s: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.templates, name)

	removed, retired := 0, 0
	for id, inst := range p.instances {
		if inst.Template.Name != name {
			continue
		}
		if inst.InUse {
			inst.retired = true
			retired++
			continue
		}
		delete(p.instances, id)
		removed++
	}

	p.logger.Info().
		Str("template", name).
		Int("removed_instances", removed).
		Int("retired_instances", retired).
		Msg("arena template deleted")
	return nil
}

func (p *Pool) usableUnlocked(tpl *domain.ArenaTemplate, kit string) bool {
	current, ok := p.templates[tpl.Name]
	return ok && current == tpl && tpl.Enabled && tpl.IsKitAllowed(kit)
}

func (p *Pool) sortedTemplatesUnlocked() []*domain.ArenaTemplate {
	out := make([]*domain.ArenaTemplate, 0, len(p.templates))
	for _, tpl := range p.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Acquire leases an instance for kit. The returned instance is already marked
// in use so concurrent callers never share it. ErrNoArenaAvailable means no
// enabled template accepts the kit at all.
func (p *Pool) Acquire(kit string) (domain.ArenaInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		inst := p.instances[id]
		if inst.InUse || inst.retired || !p.usableUnlocked(inst.Template, kit) {
			continue
		}
		inst.InUse = true
		return inst.ArenaInstance, nil
	}

	var fresh, grow *domain.ArenaTemplate
	for _, tpl := range p.sortedTemplatesUnlocked() {
		if !tpl.Enabled || !tpl.IsKitAllowed(kit) {
			continue
		}
		if grow == nil {
			grow = tpl
		}
		if !p.hasInstanceUnlocked(tpl.Name) {
			fresh = tpl
			break
		}
	}
	if fresh == nil {
		fresh = grow
	}
	if fresh == nil {
		return domain.ArenaInstance{}, domain.ErrNoArenaAvailable
	}

	inst, err := p.createUnlocked(fresh)
	if err != nil {
		return domain.ArenaInstance{}, err
	}
	inst.InUse = true
	return inst.ArenaInstance, nil
}

func (p *Pool) hasInstanceUnlocked(template string) bool {
	for _, inst := range p.instances {
		if inst.Template.Name == template && !inst.retired {
			return true
		}
	}
	return false
}

func (p *Pool) createUnlocked(tpl *domain.ArenaTemplate) (*instance, error) {
	suffix, err := gonanoid.Generate(instanceIDAlphabet, constants.InstanceIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance id: %w", err)
	}

	inst := &instance{
		ArenaInstance: domain.ArenaInstance{
			ID:       tpl.Name + "_" + suffix,
			Template: tpl,
		},
		createdAt: p.clock.Now(),
	}
	p.instances[inst.ID] = inst

	p.logger.Info().Str("instance", inst.ID).Str("template", tpl.Name).Msg("arena instance created")
	return inst, nil
}

// BeginUse binds a leased instance to a match and starts capturing its terrain
// in the background. The match does not wait for the capture.
func (p *Pool) BeginUse(instanceID, matchID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.instances[instanceID]
	if !ok {
		return domain.ErrInstanceNotFound
	}

	inst.InUse = true
	inst.MatchID = matchID
	inst.MatchCount++
	inst.LastUsedAt = p.clock.Now()

	bounds := inst.Template.Bounds
	p.enqueueUnlocked(inst, "snapshot", func(ctx context.Context) error {
		snap, err := p.world.SnapshotRegion(ctx, bounds)
		if err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", instanceID, err)
		}

		p.mu.Lock()
		inst.snapshot = snap
		p.mu.Unlock()

		p.logger.Debug().Str("instance", instanceID).Int("blocks", len(snap)).Msg("arena snapshot captured")
		return nil
	})

	p.logger.Debug().
		Str("instance", instanceID).
		Str("match_id", matchID).
		Int("match_count", inst.MatchCount).
		Msg("arena instance in use")
	return nil
}

// Release frees the instance immediately and restores its terrain in the
// background. Releasing a free or unknown instance is a no-op.
func (p *Pool) Release(instanceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.instances[instanceID]
	if !ok || !inst.InUse {
		return
	}

	matchID := inst.MatchID
	world := inst.Template.Bounds.World
	inst.InUse = false
	inst.MatchID = ""
	if inst.retired {
		delete(p.instances, instanceID)
	} else if current, ok := p.templates[inst.Template.Name]; ok {
		inst.Template = current
	}

	p.enqueueUnlocked(inst, "restore", func(ctx context.Context) error {
		return p.restore(ctx, inst, world)
	})

	p.logger.Debug().Str("instance", instanceID).Str("match_id", matchID).Msg("arena instance released")
}

func (p *Pool) restore(ctx context.Context, inst *instance, world string) error {
	p.mu.Lock()
	snap := inst.snapshot
	inst.snapshot = nil
	p.mu.Unlock()

	defer p.maybeReset(inst)

	if snap == nil {
		return fmt.Errorf("no snapshot for %s, terrain left as is", inst.ID)
	}

	var errs []error
	restored := 0
	for pos, want := range snap {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		current, err := p.world.GetBlock(ctx, world, pos)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if current == want {
			continue
		}
		if err := p.world.SetBlock(ctx, world, pos, want); err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}

	p.logger.Debug().Str("instance", inst.ID).Int("restored", restored).Int("errors", len(errs)).Msg("arena terrain restored")
	if len(errs) > 0 {
		return fmt.Errorf("failed to fully restore %s: %w", inst.ID, errors.Join(errs...))
	}
	return nil
}

func (p *Pool) maybeReset(inst *instance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if inst.MatchCount < p.maxMatches && now.Sub(inst.createdAt) <= p.maxAge {
		return
	}

	p.logger.Info().
		Str("instance", inst.ID).
		Int("match_count", inst.MatchCount).
		Dur("age", now.Sub(inst.createdAt)).
		Msg("arena instance counters reset")
	inst.MatchCount = 0
	inst.createdAt = now
}

// enqueueUnlocked runs fn after every earlier task of the same instance.
func (p *Pool) enqueueUnlocked(inst *instance, name string, fn func(ctx context.Context) error) {
	prev := inst.tail
	done := make(chan struct{})
	inst.tail = done

	p.wg.Add(1)
	g := new(errgroup.Group)
	g.Go(func() error {
		defer p.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), constants.TerrainTimeout)
		defer cancel()
		return fn(ctx)
	})

	go func() {
		if err := g.Wait(); err != nil {
			p.logger.Warn().Err(err).Str("instance", inst.ID).Str("task", name).Msg("arena terrain task failed")
		}
	}()
}

// Wait blocks until all queued terrain tasks have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Instance(id string) (domain.ArenaInstance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return domain.ArenaInstance{}, false
	}
	return inst.ArenaInstance, true
}

func (p *Pool) Template(name string) (domain.ArenaTemplate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tpl, ok := p.templates[name]
	if !ok {
		return domain.ArenaTemplate{}, false
	}
	return *tpl, true
}

func (p *Pool) Templates() []domain.ArenaTemplate {
	p.mu.Lock()
	defer p.mu.Unlock()

	sorted := p.sortedTemplatesUnlocked()
	out := make([]domain.ArenaTemplate, len(sorted))
	for i, tpl := range sorted {
		out[i] = *tpl
	}
	return out
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Templates: len(p.templates), Instances: len(p.instances)}
	for _, tpl := range p.templates {
		if tpl.Enabled {
			s.EnabledTemplates++
		}
	}
	for _, inst := range p.instances {
		if inst.InUse {
			s.InUse++
		}
	}
	return s
}
