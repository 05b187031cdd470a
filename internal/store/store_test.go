package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gencockpit/api/internal/model"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	backend, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.sqlite3"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := New(backend)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedisStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(NewRedisBackend(rdb))
}

// forEachBackend runs fn against every Backend implementation
func forEachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisStore(t)) })
}

// stepClock makes every call to now() return a strictly later instant
func stepClock(s *Store) {
	var mu sync.Mutex
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

func createJob(t *testing.T, s *Store, prompt string) *model.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), model.NewJob{
		Engine: "comfy",
		Prompt: prompt,
		Params: map[string]any{"steps": float64(20)},
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return job
}

func TestCreateJob_Defaults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		created := createJob(t, s, "a fox")

		job, err := s.GetJob(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status != model.JobStatusQueued {
			t.Errorf("expected queued, got %s", job.Status)
		}
		if !job.CreatedAt.Equal(job.UpdatedAt) {
			t.Errorf("expected created_at == updated_at, got %v / %v", job.CreatedAt, job.UpdatedAt)
		}
		if job.ProgressValue != 0 || job.ProgressMax != 0 || job.Harvested {
			t.Errorf("unexpected progress/harvested defaults: %+v", job)
		}
		if job.PromptID != nil {
			t.Errorf("expected nil prompt id, got %v", *job.PromptID)
		}
		if job.Params["steps"] != float64(20) {
			t.Errorf("expected params round-trip, got %v", job.Params)
		}
	})
}

func TestGetJob_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		_, err := s.GetJob(context.Background(), "missing")
		if !errors.Is(err, model.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		_, err = s.GetJobByPromptID(context.Background(), "missing")
		if !errors.Is(err, model.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound by prompt id, got %v", err)
		}
	})
}

func TestUpdateJob_PartialFields(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		stepClock(s)
		ctx := context.Background()
		job := createJob(t, s, "a fox")

		updated, err := s.UpdateJob(ctx, job.ID, model.PromptIDPatch("p-1"))
		if err != nil {
			t.Fatalf("UpdateJob failed: %v", err)
		}
		if updated.PromptID == nil || *updated.PromptID != "p-1" {
			t.Fatalf("expected prompt id p-1, got %v", updated.PromptID)
		}
		if updated.Status != model.JobStatusQueued {
			t.Errorf("status should be untouched, got %s", updated.Status)
		}
		if !updated.UpdatedAt.After(job.UpdatedAt) {
			t.Errorf("expected updated_at to advance")
		}

		byPrompt, err := s.GetJobByPromptID(ctx, "p-1")
		if err != nil {
			t.Fatalf("GetJobByPromptID failed: %v", err)
		}
		if byPrompt.ID != job.ID {
			t.Errorf("expected job %s, got %s", job.ID, byPrompt.ID)
		}
	})
}

func TestUpdateJob_EmptyPatchIsNoop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		stepClock(s)
		ctx := context.Background()
		job := createJob(t, s, "a fox")

		if _, err := s.UpdateJob(ctx, job.ID, model.JobPatch{}); err != nil {
			t.Fatalf("UpdateJob failed: %v", err)
		}
		got, _ := s.GetJob(ctx, job.ID)
		if !got.UpdatedAt.Equal(job.UpdatedAt) {
			t.Errorf("empty patch must not touch updated_at: %v -> %v", job.UpdatedAt, got.UpdatedAt)
		}
	})
}

func TestUpdateJob_TerminalIsFinal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := createJob(t, s, "a fox")

		if _, err := s.UpdateJob(ctx, job.ID, model.FailurePatch("boom")); err != nil {
			t.Fatalf("fail job: %v", err)
		}
		_, err := s.UpdateJob(ctx, job.ID, model.StatusPatch(model.JobStatusRunning))
		if !errors.Is(err, model.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		got, _ := s.GetJob(ctx, job.ID)
		if got.Status != model.JobStatusFailed || got.Error == nil || *got.Error != "boom" {
			t.Errorf("expected failed job with error, got %+v", got)
		}
	})
}

func TestBeginCompletion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := createJob(t, s, "a fox")

		completed, harvest, err := s.BeginCompletion(ctx, job.ID)
		if err != nil {
			t.Fatalf("BeginCompletion failed: %v", err)
		}
		if !harvest || completed.Status != model.JobStatusCompleted {
			t.Fatalf("expected completed job needing harvest, got %s harvest=%v", completed.Status, harvest)
		}

		// not yet harvested: a repeat still asks for a harvest
		if _, harvest, _ = s.BeginCompletion(ctx, job.ID); !harvest {
			t.Errorf("expected harvest to be requested again before harvested flag is set")
		}

		if _, err := s.UpdateJob(ctx, job.ID, model.HarvestedPatch()); err != nil {
			t.Fatalf("mark harvested: %v", err)
		}
		if _, harvest, _ = s.BeginCompletion(ctx, job.ID); harvest {
			t.Errorf("expected no harvest once harvested")
		}
	})
}

func TestBeginCompletion_FailedJob(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := createJob(t, s, "a fox")
		if _, err := s.UpdateJob(ctx, job.ID, model.FailurePatch("x")); err != nil {
			t.Fatalf("fail job: %v", err)
		}

		_, harvest, err := s.BeginCompletion(ctx, job.ID)
		if !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if harvest {
			t.Errorf("failed job must not be harvested")
		}
	})
}

func TestListJobs_NewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		stepClock(s)
		first := createJob(t, s, "one")
		second := createJob(t, s, "two")
		third := createJob(t, s, "three")

		jobs, err := s.ListJobs(context.Background(), 2)
		if err != nil {
			t.Fatalf("ListJobs failed: %v", err)
		}
		if len(jobs) != 2 {
			t.Fatalf("expected 2 jobs, got %d", len(jobs))
		}
		if jobs[0].ID != third.ID || jobs[1].ID != second.ID {
			t.Errorf("unexpected order: %s, %s (first=%s)", jobs[0].Prompt, jobs[1].Prompt, first.Prompt)
		}
	})
}

func TestAssets_CreateListToggle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		stepClock(s)
		ctx := context.Background()
		job := createJob(t, s, "a fox")
		other := createJob(t, s, "a cat")

		recipe := model.RecipeFromJob(job)
		a1, err := s.CreateAsset(ctx, model.NewAsset{JobID: job.ID, Engine: "comfy", Filename: "a1.png", Recipe: recipe,
			Meta: map[string]any{"prompt_id": "p-1", "node_id": "9"}})
		if err != nil {
			t.Fatalf("CreateAsset failed: %v", err)
		}
		a2, _ := s.CreateAsset(ctx, model.NewAsset{JobID: job.ID, Engine: "comfy", Filename: "a2.png", Recipe: recipe})
		_, _ = s.CreateAsset(ctx, model.NewAsset{JobID: other.ID, Engine: "comfy", Filename: "b1.png"})

		if a1.URL != "/assets/a1.png" {
			t.Errorf("unexpected url %q", a1.URL)
		}

		byJob, err := s.ListAssetsByJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("ListAssetsByJob failed: %v", err)
		}
		if len(byJob) != 2 || byJob[0].ID != a2.ID {
			t.Fatalf("expected 2 assets newest first, got %d", len(byJob))
		}
		if byJob[1].Recipe.Prompt != "a fox" || byJob[1].Meta["node_id"] != "9" {
			t.Errorf("recipe/meta not persisted: %+v", byJob[1])
		}

		all, _ := s.ListAssets(ctx, 10)
		if len(all) != 3 {
			t.Errorf("expected 3 assets, got %d", len(all))
		}

		toggled, err := s.ToggleFavorite(ctx, a1.ID)
		if err != nil || !toggled.Favorite {
			t.Fatalf("expected favorite=true, got %v err=%v", toggled, err)
		}
		toggled, _ = s.ToggleFavorite(ctx, a1.ID)
		if toggled.Favorite {
			t.Errorf("expected favorite=false after second toggle")
		}

		if _, err := s.ToggleFavorite(ctx, "missing"); !errors.Is(err, model.ErrAssetNotFound) {
			t.Errorf("expected ErrAssetNotFound, got %v", err)
		}
	})
}

func TestConcurrentUpdates_FailureWins(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := createJob(t, s, "a fox")

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = s.UpdateJob(ctx, job.ID, model.ProgressPatch(float64(i), 20))
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateJob(ctx, job.ID, model.FailurePatch("interrupted"))
		}()
		wg.Wait()

		got, _ := s.GetJob(ctx, job.ID)
		if got.Status != model.JobStatusFailed {
			t.Errorf("expected failed, got %s", got.Status)
		}
		if got.ProgressMax != 20 {
			t.Errorf("expected progress max 20, got %v", got.ProgressMax)
		}
	})
}
