package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/client"
)

const fallbackCheckpoint = "v1-5-pruned-emaonly.safetensors"

var (
	fallbackSamplers   = []string{"euler", "euler_a", "heun", "dpm_2", "dpm_2_a", "dpmpp_2m", "dpmpp_2m_sde", "dpmpp_3m_sde", "lcm"}
	fallbackSchedulers = []string{"normal", "karras", "exponential", "simple", "ddim_uniform"}
)

// OptionsSnapshot is a point-in-time copy of the engine choice lists
type OptionsSnapshot struct {
	Checkpoints []string  `json:"checkpoints"`
	Samplers    []string  `json:"samplers"`
	Schedulers  []string  `json:"schedulers"`
	VAEs        []string  `json:"vaes"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// EngineOptions caches the models and sampler settings the engine offers.
// Every lookup is best-effort; a failed query leaves that list empty or on
// its fallback.
type EngineOptions struct {
	catalog           client.ModelCatalog
	defaultCheckpoint string
	log               zerolog.Logger

	mu      sync.RWMutex
	current OptionsSnapshot
}

func NewEngineOptions(catalog client.ModelCatalog, defaultCheckpoint string, log zerolog.Logger) *EngineOptions {
	return &EngineOptions{
		catalog:           catalog,
		defaultCheckpoint: defaultCheckpoint,
		log:               log,
		current: OptionsSnapshot{
			Checkpoints: []string{},
			Samplers:    append([]string(nil), fallbackSamplers...),
			Schedulers:  append([]string(nil), fallbackSchedulers...),
			VAEs:        []string{},
		},
	}
}

// Refresh queries the engine and replaces the cached lists
func (o *EngineOptions) Refresh(ctx context.Context) OptionsSnapshot {
	checkpoints, err := o.catalog.GetModelsInFolder(ctx, "checkpoints")
	if err != nil {
		o.log.Debug().Err(err).Msg("checkpoint discovery failed")
	}

	var samplers, schedulers []string
	if opts, err := o.catalog.GetKSamplerOptions(ctx); err != nil {
		o.log.Debug().Err(err).Msg("sampler discovery failed")
	} else {
		samplers = opts["sampler_name"]
		schedulers = opts["scheduler"]
	}

	vaes, err := o.catalog.GetModelsInFolder(ctx, "vae")
	if err != nil || len(vaes) == 0 {
		vaes = o.vaesFromObjectInfo(ctx)
	}

	if len(samplers) == 0 {
		samplers = fallbackSamplers
	}
	if len(schedulers) == 0 {
		schedulers = fallbackSchedulers
	}

	next := OptionsSnapshot{
		Checkpoints: uniqueSorted(checkpoints),
		Samplers:    uniqueSorted(samplers),
		Schedulers:  uniqueSorted(schedulers),
		VAEs:        uniqueSorted(vaes),
		RefreshedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	o.current = next
	o.mu.Unlock()

	o.log.Info().
		Int("checkpoints", len(next.Checkpoints)).
		Int("samplers", len(next.Samplers)).
		Int("vaes", len(next.VAEs)).
		Msg("engine options refreshed")
	return next
}

func (o *EngineOptions) vaesFromObjectInfo(ctx context.Context) []string {
	info, err := o.catalog.GetObjectInfo(ctx, "VAELoader")
	if err != nil {
		return nil
	}
	return client.PullChoices(client.RequiredInputs(info, "VAELoader")["vae_name"])
}

// Snapshot returns a copy of the cached lists
func (o *EngineOptions) Snapshot() OptionsSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return OptionsSnapshot{
		Checkpoints: append([]string{}, o.current.Checkpoints...),
		Samplers:    append([]string{}, o.current.Samplers...),
		Schedulers:  append([]string{}, o.current.Schedulers...),
		VAEs:        append([]string{}, o.current.VAEs...),
		RefreshedAt: o.current.RefreshedAt,
	}
}

// PickCheckpoint resolves the checkpoint to use: the explicit override, then
// the configured default, then the first discovered one
func (o *EngineOptions) PickCheckpoint(override string) string {
	if override != "" {
		return override
	}
	if o.defaultCheckpoint != "" {
		return o.defaultCheckpoint
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.current.Checkpoints) > 0 {
		return o.current.Checkpoints[0]
	}
	return fallbackCheckpoint
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
