package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/model"
)

type fakeUploader struct {
	name string
	data string
	err  error
}

func (u *fakeUploader) UploadImage(ctx context.Context, filename string, body io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	data, _ := io.ReadAll(body)
	u.name, u.data = filename, string(data)
	return filename, nil
}

func TestUploadImage(t *testing.T) {
	uploader := &fakeUploader{}
	svc := NewUploadService(uploader, zerolog.Nop())

	resp, err := svc.UploadImage(context.Background(), "Reference.JPG", strings.NewReader("jpeg"), 4)
	if err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}
	if !strings.HasPrefix(resp.Filename, "upload_") || !strings.HasSuffix(resp.Filename, ".jpg") {
		t.Errorf("unexpected stored name %s", resp.Filename)
	}
	if uploader.data != "jpeg" {
		t.Errorf("unexpected uploaded bytes %q", uploader.data)
	}
}

func TestUploadImage_Rejects(t *testing.T) {
	svc := NewUploadService(&fakeUploader{}, zerolog.Nop())

	var validationErr *model.ValidationError
	if _, err := svc.UploadImage(context.Background(), " ", strings.NewReader("x"), 1); !errors.As(err, &validationErr) {
		t.Errorf("expected validation error for missing name, got %v", err)
	}
	if _, err := svc.UploadImage(context.Background(), "a.png", strings.NewReader(""), 0); !errors.As(err, &validationErr) {
		t.Errorf("expected validation error for empty file, got %v", err)
	}

	failing := NewUploadService(&fakeUploader{err: &model.UpstreamError{StatusCode: 500}}, zerolog.Nop())
	var upstreamErr *model.UpstreamError
	if _, err := failing.UploadImage(context.Background(), "a.png", strings.NewReader("x"), 1); !errors.As(err, &upstreamErr) {
		t.Errorf("expected upstream error, got %v", err)
	}
}
