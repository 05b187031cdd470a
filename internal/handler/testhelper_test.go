package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/config"
	"github.com/gencockpit/api/internal/model"
	"github.com/gencockpit/api/internal/service"
	"github.com/gencockpit/api/internal/store"
	"github.com/gencockpit/api/internal/workflow"
	ws "github.com/gencockpit/api/internal/websocket"
)

const testManifest = `{
  "id": "txt2img",
  "name": "Text to image",
  "version": "1",
  "template_file": "template_api.json",
  "params": {
    "prompt":     {"type": "string", "required": true, "patch": {"node_id": "6", "field": "inputs.text"}},
    "steps":      {"type": "integer", "default": 20, "min": 1, "max": 150, "patch": {"node_id": "3", "field": "inputs.steps"}},
    "checkpoint": {"type": "string", "default": "base.safetensors", "patch": {"node_id": "4", "field": "inputs.ckpt_name"}}
  }
}`

const testTemplate = `{
  "3": {"class_type": "KSampler", "inputs": {"steps": 1}},
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": ""}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}}
}`

// stubEngine accepts every prompt and reports fixed system stats
type stubEngine struct {
	statsErr error
	uploads  []string
}

func (e *stubEngine) Submit(ctx context.Context, graph map[string]any, clientID string) (string, error) {
	return "prompt-1", nil
}

func (e *stubEngine) FetchResultManifest(ctx context.Context, promptID string) ([]model.OutputRef, error) {
	return nil, nil
}

func (e *stubEngine) DownloadOutput(ctx context.Context, ref model.OutputRef) ([]byte, error) {
	return nil, errors.New("not available")
}

func (e *stubEngine) GetModelsInFolder(ctx context.Context, folder string) ([]string, error) {
	if folder == "checkpoints" {
		return []string{"sdxl.safetensors", "flux.safetensors"}, nil
	}
	return nil, nil
}

func (e *stubEngine) GetKSamplerOptions(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{"sampler_name": {"euler"}, "scheduler": {"karras"}}, nil
}

func (e *stubEngine) GetObjectInfo(ctx context.Context, nodeClass string) (map[string]any, error) {
	return map[string]any{}, nil
}

func (e *stubEngine) SystemStats(ctx context.Context) (map[string]any, error) {
	if e.statsErr != nil {
		return nil, e.statsErr
	}
	return map[string]any{"system": map[string]any{"os": "posix"}}, nil
}

func (e *stubEngine) UploadImage(ctx context.Context, filename string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	e.uploads = append(e.uploads, string(data))
	return filename, nil
}

type testApp struct {
	app     *fiber.App
	store   *store.Store
	service *service.JobService
	storage *client.LocalStorage
	engine  *stubEngine
}

// setupApp wires the HTTP surface the way main does, on a temp sqlite store
// and a stub engine
func setupApp(t *testing.T) *testApp {
	t.Helper()
	log := zerolog.Nop()
	root := t.TempDir()

	backend, err := store.OpenSQLite(context.Background(), filepath.Join(root, "cockpit.sqlite3"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st := store.New(backend)
	t.Cleanup(func() { st.Close() })

	wfDir := filepath.Join(root, "workflows", "txt2img")
	if err := os.MkdirAll(wfDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	os.WriteFile(filepath.Join(wfDir, "manifest.json"), []byte(testManifest), 0o644)
	os.WriteFile(filepath.Join(wfDir, "template_api.json"), []byte(testTemplate), 0o644)
	registry, err := workflow.NewRegistry(filepath.Join(root, "workflows"), log)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	storage, err := client.NewLocalStorage(filepath.Join(root, "assets"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	engine := &stubEngine{}
	engineCfg := &config.EngineConfig{Name: "comfy", URL: "http://engine.test", ClientID: "cockpit-test"}
	hub := ws.NewHub(0, log)
	options := service.NewEngineOptions(engine, "", log)
	options.Refresh(context.Background())
	svc := service.NewJobService(st, hub, engine, registry, options, engineCfg, "txt2img", log)
	t.Cleanup(svc.Wait)

	validate := validator.New()
	app := fiber.New()
	Register(app, Routes{
		Jobs:      NewJobHandler(svc, validate),
		Assets:    NewAssetHandler(svc, storage, validate),
		Workflows: NewWorkflowHandler(registry, options),
		Config:    NewConfigHandler(options, engineCfg.URL, engineCfg.ClientID, "txt2img"),
		Health:    NewHealthHandler(engine, engineCfg.URL),
		Uploads:   NewUploadHandler(service.NewUploadService(engine, log)),
	})

	return &testApp{app: app, store: st, service: svc, storage: storage, engine: engine}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// decode reads the JSON body into out
func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, body)
	}
}
