package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/model"
	"github.com/gencockpit/api/internal/store"
)

var assetNamePattern = regexp.MustCompile(`^comfy_\d{8}_\d{6}_[0-9a-f]{10}\.png$`)

func newTestHarvester(t *testing.T, engine *fakeEngine) (*Harvester, *client.LocalStorage) {
	t.Helper()
	storage, err := client.NewLocalStorage(filepath.Join(t.TempDir(), "assets"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	return NewHarvester(newTestStore(t), engine, storage, 0, zerolog.Nop()), storage
}

func TestHarvest_SkipsFailedDownloads(t *testing.T) {
	engine := &fakeEngine{
		refs: []model.OutputRef{
			{NodeID: "9", Filename: "ComfyUI_0001.png", Type: "output"},
			{NodeID: "9", Filename: "ComfyUI_0002.png", Type: "output"},
		},
		downloads: map[string][]byte{"ComfyUI_0001.png": []byte("image-bytes")},
	}
	h, storage := newTestHarvester(t, engine)
	ctx := context.Background()

	job, _ := h.store.CreateJob(ctx, model.NewJob{Engine: "comfy", Prompt: "a fox", Params: map[string]any{"steps": 20}})

	assets, err := h.Harvest(ctx, job.ID, "p-1")
	if err != nil {
		t.Fatalf("Harvest failed: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(assets))
	}

	asset := assets[0]
	if !assetNamePattern.MatchString(asset.Filename) {
		t.Errorf("unexpected filename %q", asset.Filename)
	}
	if asset.Recipe.Prompt != "a fox" || asset.Recipe.Engine != "comfy" {
		t.Errorf("unexpected recipe %+v", asset.Recipe)
	}
	if asset.Meta["prompt_id"] != "p-1" || asset.Meta["node_id"] != "9" {
		t.Errorf("unexpected meta %+v", asset.Meta)
	}

	data, err := os.ReadFile(filepath.Join(storage.Dir(), asset.Filename))
	if err != nil || string(data) != "image-bytes" {
		t.Errorf("stored file mismatch: %v %q", err, data)
	}
}

func TestHarvest_UnknownJob(t *testing.T) {
	engine := &fakeEngine{}
	h, _ := newTestHarvester(t, engine)

	assets, err := h.Harvest(context.Background(), "missing", "p-1")
	if err != nil || len(assets) != 0 {
		t.Errorf("expected empty result, got %v err=%v", assets, err)
	}
}

func TestHarvest_ManifestError(t *testing.T) {
	engine := &fakeEngine{manifErr: errors.New("connection refused")}
	h, _ := newTestHarvester(t, engine)
	ctx := context.Background()
	job, _ := h.store.CreateJob(ctx, model.NewJob{Engine: "comfy", Prompt: "x"})

	if _, err := h.Harvest(ctx, job.ID, "p-1"); err == nil {
		t.Fatal("expected manifest error to surface")
	}
}

// failingAssetBackend rejects every asset insert
type failingAssetBackend struct {
	store.Backend
}

func (b failingAssetBackend) InsertAsset(ctx context.Context, asset *model.Asset) error {
	return errors.New("disk full")
}

func TestHarvest_RemovesStoredFileWhenAssetInsertFails(t *testing.T) {
	backend, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.sqlite3"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st := store.New(failingAssetBackend{Backend: backend})
	t.Cleanup(func() { st.Close() })

	storage, err := client.NewLocalStorage(filepath.Join(t.TempDir(), "assets"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	engine := &fakeEngine{
		refs:      []model.OutputRef{{NodeID: "9", Filename: "ComfyUI_0001.png", Type: "output"}},
		downloads: map[string][]byte{"ComfyUI_0001.png": []byte("image-bytes")},
	}
	h := NewHarvester(st, engine, storage, 0, zerolog.Nop())
	ctx := context.Background()
	job, _ := st.CreateJob(ctx, model.NewJob{Engine: "comfy", Prompt: "a fox"})

	assets, err := h.Harvest(ctx, job.ID, "p-1")
	if err != nil {
		t.Fatalf("Harvest failed: %v", err)
	}
	if len(assets) != 0 {
		t.Errorf("expected no assets, got %d", len(assets))
	}

	entries, err := os.ReadDir(storage.Dir())
	if err != nil {
		t.Fatalf("read storage dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected storage to be empty, found %d file(s)", len(entries))
	}
}
