package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/model"
	"github.com/gencockpit/api/internal/store"
	"github.com/gencockpit/api/internal/workflow"
)

// recordingHub captures broadcast events in order
type recordingHub struct {
	mu     sync.Mutex
	events []model.Event
}

func (h *recordingHub) Broadcast(event model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeEngine implements client.GenerationEngine with scripted behaviour
type fakeEngine struct {
	mu        sync.Mutex
	submitFn  func(graph map[string]any) (string, error)
	graphs    []map[string]any
	refs      []model.OutputRef
	manifErr  error
	downloads map[string][]byte
	manifests int
}

func (e *fakeEngine) Submit(ctx context.Context, graph map[string]any, clientID string) (string, error) {
	e.mu.Lock()
	e.graphs = append(e.graphs, graph)
	fn := e.submitFn
	e.mu.Unlock()
	if fn == nil {
		return "prompt-1", nil
	}
	return fn(graph)
}

func (e *fakeEngine) FetchResultManifest(ctx context.Context, promptID string) ([]model.OutputRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manifests++
	if e.manifErr != nil {
		return nil, e.manifErr
	}
	return e.refs, nil
}

func (e *fakeEngine) DownloadOutput(ctx context.Context, ref model.OutputRef) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.downloads[ref.Filename]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return data, nil
}

func (e *fakeEngine) lastGraph() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.graphs) == 0 {
		return nil
	}
	return e.graphs[len(e.graphs)-1]
}

// fakeCatalog implements client.ModelCatalog
type fakeCatalog struct {
	models  map[string][]string
	ksample map[string][]string
	info    map[string]any
	err     error
}

func (c *fakeCatalog) GetModelsInFolder(ctx context.Context, folder string) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.models[folder], nil
}

func (c *fakeCatalog) GetKSamplerOptions(ctx context.Context) (map[string][]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.ksample, nil
}

func (c *fakeCatalog) GetObjectInfo(ctx context.Context, nodeClass string) (map[string]any, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.info, nil
}

func (c *fakeCatalog) SystemStats(ctx context.Context) (map[string]any, error) {
	return map[string]any{}, c.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	backend, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.sqlite3"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st := store.New(backend)
	t.Cleanup(func() { st.Close() })
	return st
}

const testManifest = `{
  "id": "txt2img",
  "name": "Text to image",
  "template_file": "template_api.json",
  "params": {
    "prompt":   {"type": "string", "required": true, "patch": {"node_id": "6", "field": "inputs.text"}},
    "negative_prompt": {"type": "string", "default": "", "patch": {"node_id": "7", "field": "inputs.text"}},
    "steps":    {"type": "integer", "default": 20, "min": 1, "max": 150, "patch": {"node_id": "3", "field": "inputs.steps"}},
    "guidance": {"type": "number", "default": 3.5, "patch": {"node_id": "3", "field": "inputs.guidance"}},
    "checkpoint": {"type": "string", "default": "base.safetensors", "patch": {"node_id": "4", "field": "inputs.ckpt_name"}},
    "sampler_name": {"type": "string", "choices": ["euler", "heun"], "patch": {"node_id": "3", "field": "inputs.sampler_name"}}
  }
}`

const testTemplate = `{
  "3": {"class_type": "KSampler", "inputs": {"steps": 1, "sampler_name": "euler"}},
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": ""}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}}
}`

func newTestRegistry(t *testing.T) *workflow.Registry {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "txt2img")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "template_api.json"), []byte(testTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	reg, err := workflow.NewRegistry(root, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func strPtr(s string) *string { return &s }
