package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/model"
)

type staticSource struct {
	jobs   []*model.Job
	assets []*model.Asset
	limits []int
}

func (s *staticSource) ListJobs(_ context.Context, limit int) ([]*model.Job, error) {
	s.limits = append(s.limits, limit)
	return s.jobs, nil
}

func (s *staticSource) ListAssets(_ context.Context, limit int) ([]*model.Asset, error) {
	s.limits = append(s.limits, limit)
	return s.assets, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestServe_HelloAndDefaultSnapshots(t *testing.T) {
	hub := newTestHub()
	source := &staticSource{assets: []*model.Asset{{ID: "a1"}}}
	h := NewHandler(hub, source, 0, 0, zerolog.Nop())

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		h.Serve(conn)
		close(done)
	}()

	waitFor(t, func() bool { return len(conn.types()) >= 2 })

	got := conn.types()
	if got[0] != model.WSMessageTypeHello || got[1] != model.WSMessageTypeAssetsSnapshot {
		t.Errorf("expected hello then assets_snapshot, got %v", got)
	}
	if len(source.limits) != 1 || source.limits[0] != 200 {
		t.Errorf("expected a single snapshot query with limit 200, got %v", source.limits)
	}

	close(conn.inbound)
	<-done
	if hub.Count() != 0 {
		t.Errorf("observer should be removed after the connection ends")
	}
}

func TestServe_PrefsAndPing(t *testing.T) {
	hub := newTestHub()
	h := NewHandler(hub, &staticSource{}, 10, 0, zerolog.Nop())

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		h.Serve(conn)
		close(done)
	}()
	waitFor(t, func() bool { return hub.Count() == 1 && len(conn.types()) >= 2 })

	conn.inbound <- []byte(`not json`)
	conn.inbound <- []byte(`{"type":"prefs","payload":{"jobs":true,"assets":false}}`)
	conn.inbound <- []byte(`{"type":"ping"}`)
	waitFor(t, func() bool {
		types := conn.types()
		return types[len(types)-1] == model.WSMessageTypePong
	})

	hub.Broadcast(model.JobUpdateEvent(&model.Job{ID: "j1"}))
	hub.Broadcast(model.AssetCreatedEvent(&model.Asset{ID: "a1"}))

	got := conn.types()
	last := got[len(got)-1]
	if last != model.WSMessageTypeJobUpdate {
		t.Errorf("expected job_update to be last delivered frame, got %v", got)
	}

	close(conn.inbound)
	<-done
}
