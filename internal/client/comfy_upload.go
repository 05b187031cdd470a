package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// UploadImage stores an input image in the engine's input folder and returns
// the name LoadImage nodes should reference
func (c *ComfyClient) UploadImage(ctx context.Context, filename string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return "", fmt.Errorf("failed to buffer image: %w", err)
	}
	if err := form.WriteField("type", "input"); err != nil {
		return "", err
	}
	if err := form.WriteField("overwrite", "true"); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var result uploadResponse
	if err := c.doRequest(req, &result); err != nil {
		return "", err
	}
	if result.Name == "" {
		return "", errors.New("engine did not return an image name")
	}
	if result.Subfolder != "" {
		return result.Subfolder + "/" + result.Name, nil
	}
	return result.Name, nil
}
