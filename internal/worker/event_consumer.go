package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/model"
	"github.com/gencockpit/api/internal/store"
)

const maxErrorLength = 2000

// Broadcaster fans events out to observers
type Broadcaster interface {
	Broadcast(event model.Event)
}

// Harvester turns a completed prompt's outputs into assets
type Harvester interface {
	Harvest(ctx context.Context, jobID, promptID string) ([]*model.Asset, error)
}

// EventConsumer keeps one connection to the engine event stream open for the
// life of the process and applies each event to the job it belongs to.
// Events are handled strictly one at a time in arrival order.
type EventConsumer struct {
	source    client.EventSource
	store     *store.Store
	hub       Broadcaster
	harvester Harvester
	clientID  string
	backoff   time.Duration
	log       zerolog.Logger
}

// NewEventConsumer creates a new consumer; backoff is the fixed delay between reconnects
func NewEventConsumer(source client.EventSource, st *store.Store, hub Broadcaster, harvester Harvester, clientID string, backoff time.Duration, log zerolog.Logger) *EventConsumer {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &EventConsumer{
		source:    source,
		store:     st,
		hub:       hub,
		harvester: harvester,
		clientID:  clientID,
		backoff:   backoff,
		log:       log,
	}
}

// Run consumes events until ctx is cancelled. Any stream failure is announced,
// followed by a fixed backoff and a redial.
func (w *EventConsumer) Run(ctx context.Context) {
	url := w.source.BaseURL()
	for {
		err := w.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		w.log.Warn().Err(err).Str("url", url).Dur("backoff", w.backoff).Msg("engine stream lost")
		w.hub.Broadcast(model.EngineDisconnectedEvent(url))

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.backoff):
		}
	}
}

func (w *EventConsumer) consume(ctx context.Context) error {
	stream, err := w.source.StreamEvents(ctx, w.clientID)
	if err != nil {
		return err
	}
	defer stream.Close()

	url := w.source.BaseURL()
	w.log.Info().Str("url", url).Msg("engine stream connected")
	w.hub.Broadcast(model.EngineConnectedEvent(url))

	for {
		event, err := stream.Next()
		if errors.Is(err, client.ErrMalformedFrame) {
			w.log.Debug().Err(err).Msg("skipping engine frame")
			continue
		}
		if err != nil {
			return err
		}
		w.HandleEvent(ctx, event)
	}
}

// HandleEvent applies one upstream event. Events without a correlation id or
// for unknown jobs are ignored.
func (w *EventConsumer) HandleEvent(ctx context.Context, event model.UpstreamEvent) {
	if event.PromptID == "" {
		return
	}

	job, err := w.store.GetJobByPromptID(ctx, event.PromptID)
	if errors.Is(err, model.ErrJobNotFound) {
		return
	}
	if err != nil {
		w.log.Error().Err(err).Str("prompt_id", event.PromptID).Msg("failed to look up job")
		return
	}

	logger := w.log.With().Str("job_id", job.ID).Str("prompt_id", event.PromptID).Str("event", event.Type).Logger()

	switch {
	case event.Type == model.UpstreamExecutionStart:
		w.applyUpdate(ctx, logger, job.ID, model.StatusPatch(model.JobStatusRunning))

	case event.Type == model.UpstreamProgress:
		updated, err := w.store.UpdateJob(ctx, job.ID, model.ProgressPatch(event.Value, event.Max))
		if err != nil {
			logger.Error().Err(err).Msg("failed to record progress")
			return
		}
		w.hub.Broadcast(model.JobProgressEvent(updated, event.PromptID))

	case event.IsFailure():
		w.applyUpdate(ctx, logger, job.ID, model.FailurePatch(errorText(event.Data)))

	case event.IsCompletion():
		w.complete(ctx, logger, job.ID, event.PromptID)
	}
}

func (w *EventConsumer) applyUpdate(ctx context.Context, logger zerolog.Logger, jobID string, patch model.JobPatch) {
	updated, err := w.store.UpdateJob(ctx, jobID, patch)
	if errors.Is(err, model.ErrInvalidTransition) {
		logger.Debug().Err(err).Msg("ignoring event for finished job")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to update job")
		return
	}
	w.hub.Broadcast(model.JobUpdateEvent(updated))
}

// complete marks the job completed and harvests its outputs once. A manifest
// failure leaves the job unharvested so a repeated completion signal retries.
func (w *EventConsumer) complete(ctx context.Context, logger zerolog.Logger, jobID, promptID string) {
	job, needsHarvest, err := w.store.BeginCompletion(ctx, jobID)
	if errors.Is(err, model.ErrInvalidTransition) {
		logger.Debug().Err(err).Msg("ignoring completion for finished job")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to complete job")
		return
	}
	if !needsHarvest {
		return
	}

	w.hub.Broadcast(model.JobUpdateEvent(job))

	// Only a manifest-level error returns here; harvested stays false so a later completion retries.
	assets, err := w.harvester.Harvest(ctx, jobID, promptID)
	if err != nil {
		logger.Error().Err(err).Msg("harvest failed")
		return
	}

	if _, err := w.store.UpdateJob(ctx, jobID, model.HarvestedPatch()); err != nil {
		logger.Error().Err(err).Msg("failed to mark job harvested")
	}
	for _, asset := range assets {
		w.hub.Broadcast(model.AssetCreatedEvent(asset))
	}
}

// errorText renders the failure payload, capped at maxErrorLength characters
func errorText(data []byte) string {
	text := string(data)
	if len(data) == 0 || text == "null" {
		text = "{}"
	}
	runes := []rune(text)
	if len(runes) > maxErrorLength {
		runes = runes[:maxErrorLength]
	}
	return string(runes)
}
