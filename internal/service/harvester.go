package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/model"
	"github.com/gencockpit/api/internal/store"
)

const defaultOutputExt = ".png"

// Harvester downloads a completed prompt's outputs into asset storage
type Harvester struct {
	store           *store.Store
	engine          client.GenerationEngine
	storage         client.StorageClient
	downloadTimeout time.Duration
	log             zerolog.Logger
	now             func() time.Time
}

func NewHarvester(st *store.Store, engine client.GenerationEngine, storage client.StorageClient, downloadTimeout time.Duration, log zerolog.Logger) *Harvester {
	return &Harvester{
		store:           st,
		engine:          engine,
		storage:         storage,
		downloadTimeout: downloadTimeout,
		log:             log,
		now:             time.Now,
	}
}

// Harvest fetches the result manifest for promptID and stores every output it
// can download as an asset of jobID. A single failed download is logged and
// skipped. An unknown job yields no assets. Harvest does not guard against
// running twice for the same job; callers do.
func (h *Harvester) Harvest(ctx context.Context, jobID, promptID string) ([]*model.Asset, error) {
	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, model.ErrJobNotFound) {
		return []*model.Asset{}, nil
	}
	if err != nil {
		return nil, err
	}

	refs, err := h.engine.FetchResultManifest(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("fetch result manifest: %w", err)
	}

	recipe := model.RecipeFromJob(job)
	assets := make([]*model.Asset, 0, len(refs))

	for _, ref := range refs {
		asset, err := h.harvestOne(ctx, job, promptID, recipe, ref)
		if err != nil {
			h.log.Warn().Err(err).
				Str("job_id", jobID).
				Str("prompt_id", promptID).
				Str("node_id", ref.NodeID).
				Str("filename", ref.Filename).
				Msg("failed to harvest output")
			continue
		}
		assets = append(assets, asset)
	}

	h.log.Info().Str("job_id", jobID).Str("prompt_id", promptID).
		Int("outputs", len(refs)).Int("assets", len(assets)).Msg("harvest finished")
	return assets, nil
}

func (h *Harvester) harvestOne(ctx context.Context, job *model.Job, promptID string, recipe model.Recipe, ref model.OutputRef) (*model.Asset, error) {
	dlCtx := ctx
	if h.downloadTimeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, h.downloadTimeout)
		defer cancel()
	}

	data, err := h.engine.DownloadOutput(dlCtx, ref)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(ref.Filename))
	if ext == "" {
		ext = defaultOutputExt
	}
	filename := h.newFilename(job.Engine, ext)

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := h.storage.Upload(ctx, filename, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	asset, err := h.store.CreateAsset(ctx, model.NewAsset{
		JobID:    job.ID,
		Engine:   job.Engine,
		Filename: filename,
		Recipe:   recipe,
		Meta: map[string]any{
			"prompt_id": promptID,
			"node_id":   ref.NodeID,
			"comfy": map[string]any{
				"filename":  ref.Filename,
				"subfolder": ref.Subfolder,
				"type":      ref.Type,
			},
		},
	})
	if err != nil {
		if delErr := h.storage.Delete(ctx, filename); delErr != nil {
			h.log.Warn().Err(delErr).Str("filename", filename).Msg("failed to remove orphaned output")
		}
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return asset, nil
}

func (h *Harvester) newFilename(engine, ext string) string {
	if engine == "" {
		engine = "comfy"
	}
	return newAssetFilename(engine, h.now(), ext)
}

// newAssetFilename builds <prefix>_<YYYYMMDD_HHMMSS>_<10 hex><ext>
func newAssetFilename(prefix string, now time.Time, ext string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
	return fmt.Sprintf("%s_%s_%s%s", prefix, now.Format("20060102_150405"), suffix, ext)
}
