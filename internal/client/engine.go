package client

import (
	"context"
	"io"

	"github.com/gencockpit/api/internal/model"
)

// GenerationEngine defines the upstream operations the orchestrator and harvester need
type GenerationEngine interface {
	Submit(ctx context.Context, graph map[string]any, clientID string) (string, error)
	FetchResultManifest(ctx context.Context, promptID string) ([]model.OutputRef, error)
	DownloadOutput(ctx context.Context, ref model.OutputRef) ([]byte, error)
}

// EventSource opens the engine's push event stream
type EventSource interface {
	StreamEvents(ctx context.Context, clientID string) (EventStream, error)
	BaseURL() string
}

// EventStream yields upstream events one at a time
type EventStream interface {
	// Next blocks for the next structured event. Binary frames are skipped.
	// A frame that cannot be decoded yields an error wrapping ErrMalformedFrame;
	// the stream stays usable after it.
	Next() (model.UpstreamEvent, error)
	Close() error
}

// ModelCatalog lists what the engine has installed
type ModelCatalog interface {
	GetModelsInFolder(ctx context.Context, folder string) ([]string, error)
	GetKSamplerOptions(ctx context.Context) (map[string][]string, error)
	GetObjectInfo(ctx context.Context, nodeClass string) (map[string]any, error)
	SystemStats(ctx context.Context) (map[string]any, error)
}

// ImageUploader places input images where the engine's loaders can read them
type ImageUploader interface {
	UploadImage(ctx context.Context, filename string, body io.Reader) (string, error)
}
