package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gencockpit/api/internal/config"
	"github.com/gencockpit/api/internal/model"
)

// Backend persists jobs and assets. Implementations need not be safe for
// concurrent compound operations; Store serialises those.
type Backend interface {
	InsertJob(ctx context.Context, job *model.Job) error
	SaveJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetJobByPromptID(ctx context.Context, promptID string) (*model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*model.Job, error)

	InsertAsset(ctx context.Context, asset *model.Asset) error
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	SetAssetFavorite(ctx context.Context, id string, favorite bool) error
	ListAssets(ctx context.Context, limit int) ([]*model.Asset, error)
	ListAssetsByJob(ctx context.Context, jobID string) ([]*model.Asset, error)

	Close() error
}

// Store is the single source of truth for job and asset state.
// Every compound read-modify-write runs under mu; plain reads take the read lock.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	now     func() time.Time
}

// New wraps backend in a Store
func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open builds the backend selected by cfg.Driver. rdb is only used by the redis driver.
func Open(ctx context.Context, cfg config.StoreConfig, rdb *redis.Client) (*Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		backend, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return New(backend), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("store: redis driver selected but no redis client configured")
		}
		return New(NewRedisBackend(rdb)), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// CreateJob inserts a new queued job
func (s *Store) CreateJob(ctx context.Context, in model.NewJob) (*model.Job, error) {
	now := s.now()
	params := in.Params
	if params == nil {
		params = map[string]any{}
	}
	job := &model.Job{
		ID:             uuid.New().String(),
		Engine:         in.Engine,
		Status:         model.JobStatusQueued,
		Prompt:         in.Prompt,
		NegativePrompt: in.NegativePrompt,
		Params:         params,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// UpdateJob applies patch to the job and refreshes updated_at.
// An empty patch performs no write. Leaving a terminal status is rejected.
func (s *Store) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.backend.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return job, nil
	}
	if patch.Status != nil && !job.Status.CanTransitionTo(*patch.Status) {
		return job, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, job.Status, *patch.Status)
	}

	patch.Apply(job)
	job.UpdatedAt = s.now()

	if err := s.backend.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	return job, nil
}

// BeginCompletion moves the job to completed and reports whether its outputs
// still need harvesting. A harvested job is returned unchanged with false.
func (s *Store) BeginCompletion(ctx context.Context, id string) (*model.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.backend.GetJob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if job.Harvested {
		return job, false, nil
	}
	if !job.Status.CanTransitionTo(model.JobStatusCompleted) {
		return job, false, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, job.Status, model.JobStatusCompleted)
	}

	job.Status = model.JobStatusCompleted
	job.UpdatedAt = s.now()
	if err := s.backend.SaveJob(ctx, job); err != nil {
		return nil, false, fmt.Errorf("save job: %w", err)
	}
	return job, true, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.GetJob(ctx, id)
}

// GetJobByPromptID looks a job up by the engine's correlation id
func (s *Store) GetJobByPromptID(ctx context.Context, promptID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.GetJobByPromptID(ctx, promptID)
}

// ListJobs returns up to limit jobs, newest first
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.ListJobs(ctx, limit)
}

// CreateAsset inserts a new asset row with its public URL derived from the filename
func (s *Store) CreateAsset(ctx context.Context, in model.NewAsset) (*model.Asset, error) {
	meta := in.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	asset := &model.Asset{
		ID:        uuid.New().String(),
		JobID:     in.JobID,
		Engine:    in.Engine,
		Filename:  in.Filename,
		URL:       model.AssetURL(in.Filename),
		CreatedAt: s.now(),
		Recipe:    in.Recipe,
		Meta:      meta,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.InsertAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	return asset, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.GetAsset(ctx, id)
}

// ToggleFavorite flips the favorite flag and returns the updated asset
func (s *Store) ToggleFavorite(ctx context.Context, id string) (*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, err := s.backend.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	asset.Favorite = !asset.Favorite
	if err := s.backend.SetAssetFavorite(ctx, id, asset.Favorite); err != nil {
		return nil, fmt.Errorf("set favorite: %w", err)
	}
	return asset, nil
}

// ListAssets returns up to limit assets, newest first
func (s *Store) ListAssets(ctx context.Context, limit int) ([]*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.ListAssets(ctx, limit)
}

// ListAssetsByJob returns every asset of a job, newest first
func (s *Store) ListAssetsByJob(ctx context.Context, jobID string) ([]*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.ListAssetsByJob(ctx, jobID)
}
