package client

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStorage_UploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(dir, "assets"))
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}

	url, err := s.Upload(context.Background(), "comfy_x.png", strings.NewReader("bytes"), "image/png")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if url != "/assets/comfy_x.png" {
		t.Errorf("unexpected url %q", url)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(), "comfy_x.png"))
	if err != nil || string(data) != "bytes" {
		t.Fatalf("file not written: %v %q", err, data)
	}

	if err := s.Delete(context.Background(), "comfy_x.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(context.Background(), "comfy_x.png"); err != nil {
		t.Errorf("deleting a missing file should succeed, got %v", err)
	}
}

func TestLocalStorage_RejectsPathKeys(t *testing.T) {
	s, _ := NewLocalStorage(t.TempDir())
	for _, key := range []string{"", "..", "../escape.png", "a/b.png"} {
		if _, err := s.Upload(context.Background(), key, strings.NewReader("x"), ""); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}
