package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/config"
	"github.com/gencockpit/api/internal/model"
	"github.com/gencockpit/api/internal/store"
	"github.com/gencockpit/api/internal/workflow"
)

const (
	DefaultListLimit = 200
	MaxListLimit     = 1000
)

// Request fields that also feed differently named manifest params
var paramAliases = map[string][]string{
	"width":  {"width_scheduler"},
	"height": {"height_scheduler"},
	"cfg":    {"guidance"},
}

// Broadcaster fans events out to observers
type Broadcaster interface {
	Broadcast(event model.Event)
}

// WorkflowSource resolves workflow ids to manifests and templates
type WorkflowSource interface {
	Get(id string) (*workflow.Workflow, error)
}

// JobService accepts generation requests and submits them to the engine
// without blocking the caller
type JobService struct {
	store           *store.Store
	hub             Broadcaster
	engine          client.GenerationEngine
	workflows       WorkflowSource
	options         *EngineOptions
	engineName      string
	clientID        string
	defaultWorkflow string
	submitTimeout   time.Duration
	log             zerolog.Logger

	wg sync.WaitGroup
}

func NewJobService(
	st *store.Store,
	hub Broadcaster,
	engine client.GenerationEngine,
	workflows WorkflowSource,
	options *EngineOptions,
	cfg *config.EngineConfig,
	defaultWorkflow string,
	log zerolog.Logger,
) *JobService {
	return &JobService{
		store:           st,
		hub:             hub,
		engine:          engine,
		workflows:       workflows,
		options:         options,
		engineName:      cfg.Name,
		clientID:        cfg.ClientID,
		defaultWorkflow: defaultWorkflow,
		submitTimeout:   cfg.SubmitTimeout,
		log:             log,
	}
}

// CreateJob validates the request, persists a queued job, announces it and
// starts submission in the background. It returns before the engine answers.
func (s *JobService) CreateJob(ctx context.Context, req *model.JobCreateRequest) (*model.Job, error) {
	params := req.NormalizedParams()

	prompt := strings.TrimSpace(stringParam(params, "prompt"))
	if prompt == "" {
		return nil, model.NewValidationError("prompt", "prompt is empty")
	}
	params["prompt"] = prompt

	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = stringParam(params, "workflow_id")
	}
	if workflowID == "" {
		workflowID = s.defaultWorkflow
	}

	wf, err := s.workflows.Get(workflowID)
	if err != nil {
		return nil, err
	}

	patchParams := make(map[string]any, len(params))
	for k, v := range params {
		if k != "workflow_id" {
			patchParams[k] = v
		}
	}
	for source, targets := range paramAliases {
		value, ok := params[source]
		if !ok {
			continue
		}
		for _, target := range targets {
			if _, declared := wf.Manifest.Params[target]; !declared {
				continue
			}
			if _, set := patchParams[target]; !set {
				patchParams[target] = value
			}
		}
	}

	var resolvedCheckpoint string
	if _, requested := patchParams["checkpoint"]; requested {
		if _, declared := wf.Manifest.Params["checkpoint"]; declared {
			resolvedCheckpoint = s.options.PickCheckpoint(stringParam(patchParams, "checkpoint"))
			patchParams["checkpoint"] = resolvedCheckpoint
		} else {
			delete(patchParams, "checkpoint")
		}
	}

	stored := make(map[string]any, len(params)+1)
	for k, v := range params {
		stored[k] = v
	}
	stored["workflow_id"] = workflowID
	if resolvedCheckpoint != "" {
		stored["checkpoint"] = resolvedCheckpoint
	}

	job, err := s.store.CreateJob(ctx, model.NewJob{
		Engine:         s.engineName,
		Prompt:         prompt,
		NegativePrompt: stringParam(params, "negative_prompt"),
		Params:         stored,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.log.Info().Str("job_id", job.ID).Str("workflow_id", workflowID).Msg("job created")
	s.hub.Broadcast(model.JobCreatedEvent(job))

	s.startSubmission(job.ID, wf, patchParams)
	return job, nil
}

// startSubmission runs submit in its own Task. Errors and panics both end in
// a failed job carrying the error text.
func (s *JobService) startSubmission(jobID string, wf *workflow.Workflow, params map[string]any) {
	s.wg.Add(1)
	task := startTask(func() error {
		return s.submit(jobID, wf, params)
	})
	go func() {
		defer s.wg.Done()
		if err := task.Wait(context.Background()); err != nil {
			s.failJob(jobID, failureMessage(err))
		}
	}()
}

func failureMessage(err error) string {
	var patchErr *model.PatchError
	if errors.As(err, &patchErr) {
		return "Patch error: " + patchErr.Error()
	}
	return err.Error()
}

func (s *JobService) submit(jobID string, wf *workflow.Workflow, params map[string]any) error {
	ctx := context.Background()
	if s.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
		defer cancel()
	}

	graph, err := workflow.Patch(wf.Template, wf.Manifest, params)
	if err != nil {
		return err
	}

	promptID, err := s.engine.Submit(ctx, graph, s.clientID)
	if err != nil {
		return err
	}

	job, err := s.store.UpdateJob(context.Background(), jobID, model.PromptIDPatch(promptID))
	if err != nil {
		return fmt.Errorf("record prompt id %s: %w", promptID, err)
	}

	s.log.Info().Str("job_id", jobID).Str("prompt_id", promptID).Msg("job submitted")
	s.hub.Broadcast(model.JobUpdateEvent(job))
	return nil
}

func (s *JobService) failJob(jobID, message string) {
	s.log.Warn().Str("job_id", jobID).Str("err", message).Msg("job submission failed")

	job, err := s.store.UpdateJob(context.Background(), jobID, model.FailurePatch(message))
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job failed")
		return
	}
	s.hub.Broadcast(model.JobUpdateEvent(job))
}

// Wait blocks until every background submission has finished
func (s *JobService) Wait() {
	s.wg.Wait()
}

// GetJob returns a job with the outputs harvested so far
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	assets, err := s.store.ListAssetsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job assets: %w", err)
	}
	job.Outputs = model.OutputsFromAssets(assets)
	return job, nil
}

func (s *JobService) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	return s.store.ListJobs(ctx, clampLimit(limit))
}

func (s *JobService) ListAssets(ctx context.Context, limit int) ([]*model.Asset, error) {
	return s.store.ListAssets(ctx, clampLimit(limit))
}

func (s *JobService) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	return s.store.GetAsset(ctx, assetID)
}

// ToggleFavorite flips the favorite flag and announces the change
func (s *JobService) ToggleFavorite(ctx context.Context, assetID string) (*model.Asset, error) {
	asset, err := s.store.ToggleFavorite(ctx, assetID)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(model.AssetUpdatedEvent(asset))
	return asset, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
