package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gencockpit/api/internal/model"
)

// Key layout:
//
//	job:<id>             job JSON
//	job:prompt:<pid>     job id for a correlation id
//	jobs:index           sorted set of job ids scored by insertion sequence
//	asset:<id>           asset JSON
//	assets:index         sorted set of asset ids scored by insertion sequence
//	job:<id>:assets      sorted set of asset ids of one job
//	store:seq            insertion counter
const (
	jobsIndexKey   = "jobs:index"
	assetsIndexKey = "assets:index"
	sequenceKey    = "store:seq"
)

func jobKey(id string) string            { return fmt.Sprintf("job:%s", id) }
func jobPromptKey(promptID string) string { return fmt.Sprintf("job:prompt:%s", promptID) }
func assetKey(id string) string          { return fmt.Sprintf("asset:%s", id) }
func jobAssetsKey(jobID string) string   { return fmt.Sprintf("job:%s:assets", jobID) }

// RedisBackend stores jobs and assets as JSON documents with sorted-set indexes.
// Entries never expire.
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

// Close is a no-op; the client is owned by the caller
func (b *RedisBackend) Close() error {
	return nil
}

func (b *RedisBackend) InsertJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	seq, err := b.rdb.Incr(ctx, sequenceKey).Result()
	if err != nil {
		return err
	}

	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.ZAdd(ctx, jobsIndexKey, redis.Z{Score: float64(seq), Member: job.ID})
	if job.PromptID != nil {
		pipe.Set(ctx, jobPromptKey(*job.PromptID), job.ID, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) SaveJob(ctx context.Context, job *model.Job) error {
	exists, err := b.rdb.Exists(ctx, jobKey(job.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return model.ErrJobNotFound
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	if job.PromptID != nil {
		pipe.Set(ctx, jobPromptKey(*job.PromptID), job.ID, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) GetJob(ctx context.Context, id string) (*model.Job, error) {
	data, err := b.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if job.Params == nil {
		job.Params = map[string]any{}
	}
	return &job, nil
}

func (b *RedisBackend) GetJobByPromptID(ctx context.Context, promptID string) (*model.Job, error) {
	id, err := b.rdb.Get(ctx, jobPromptKey(promptID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return b.GetJob(ctx, id)
}

func (b *RedisBackend) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	ids, err := b.rdb.ZRevRange(ctx, jobsIndexKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.GetJob(ctx, id)
		if errors.Is(err, model.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (b *RedisBackend) InsertAsset(ctx context.Context, asset *model.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	seq, err := b.rdb.Incr(ctx, sequenceKey).Result()
	if err != nil {
		return err
	}

	member := redis.Z{Score: float64(seq), Member: asset.ID}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, assetKey(asset.ID), data, 0)
	pipe.ZAdd(ctx, assetsIndexKey, member)
	pipe.ZAdd(ctx, jobAssetsKey(asset.JobID), member)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	data, err := b.rdb.Get(ctx, assetKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}

	var asset model.Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", id, err)
	}
	return &asset, nil
}

func (b *RedisBackend) SetAssetFavorite(ctx context.Context, id string, favorite bool) error {
	asset, err := b.GetAsset(ctx, id)
	if err != nil {
		return err
	}
	asset.Favorite = favorite
	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, assetKey(id), data, 0).Err()
}

func (b *RedisBackend) ListAssets(ctx context.Context, limit int) ([]*model.Asset, error) {
	ids, err := b.rdb.ZRevRange(ctx, assetsIndexKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	return b.loadAssets(ctx, ids)
}

func (b *RedisBackend) ListAssetsByJob(ctx context.Context, jobID string) ([]*model.Asset, error) {
	ids, err := b.rdb.ZRevRange(ctx, jobAssetsKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return b.loadAssets(ctx, ids)
}

func (b *RedisBackend) loadAssets(ctx context.Context, ids []string) ([]*model.Asset, error) {
	assets := make([]*model.Asset, 0, len(ids))
	for _, id := range ids {
		asset, err := b.GetAsset(ctx, id)
		if errors.Is(err, model.ErrAssetNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}
