package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/config"
	"github.com/gencockpit/api/internal/model"
)

const maxErrorBody = 2000

// ComfyClient talks to a ComfyUI-compatible engine over HTTP and websocket
type ComfyClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// NewComfyClient creates a new engine client
func NewComfyClient(cfg *config.EngineConfig, log zerolog.Logger) *ComfyClient {
	return &ComfyClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.URL,
		log:     log,
	}
}

// BaseURL returns the engine HTTP root
func (c *ComfyClient) BaseURL() string {
	return c.baseURL
}

type submitRequest struct {
	Prompt   map[string]any `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type submitResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

// Submit queues a patched graph and returns the engine's prompt id
func (c *ComfyClient) Submit(ctx context.Context, graph map[string]any, clientID string) (string, error) {
	var result submitResponse
	if err := c.post(ctx, "/prompt", submitRequest{Prompt: graph, ClientID: clientID}, &result); err != nil {
		return "", err
	}
	if result.PromptID == "" {
		return "", errors.New("engine did not return prompt_id")
	}
	return result.PromptID, nil
}

type historyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyNodeOutput struct {
	Images []historyImage `json:"images"`
}

type historyItem struct {
	Outputs map[string]json.RawMessage `json:"outputs"`
}

// FetchResultManifest lists the image outputs recorded for promptID.
// An unknown prompt yields an empty list.
func (c *ComfyClient) FetchResultManifest(ctx context.Context, promptID string) ([]model.OutputRef, error) {
	var history map[string]historyItem
	if err := c.get(ctx, "/history/"+url.PathEscape(promptID), &history); err != nil {
		return nil, err
	}

	item, ok := history[promptID]
	if !ok {
		return []model.OutputRef{}, nil
	}

	nodeIDs := make([]string, 0, len(item.Outputs))
	for nodeID := range item.Outputs {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	refs := make([]model.OutputRef, 0)
	for _, nodeID := range nodeIDs {
		var out historyNodeOutput
		if err := json.Unmarshal(item.Outputs[nodeID], &out); err != nil {
			// non-object node outputs carry no images
			continue
		}
		for _, img := range out.Images {
			if img.Filename == "" {
				continue
			}
			folderType := img.Type
			if folderType == "" {
				folderType = "output"
			}
			refs = append(refs, model.OutputRef{
				NodeID:    nodeID,
				Filename:  img.Filename,
				Subfolder: img.Subfolder,
				Type:      folderType,
			})
		}
	}
	return refs, nil
}

// DownloadOutput fetches the bytes of one output file
func (c *ComfyClient) DownloadOutput(ctx context.Context, ref model.OutputRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}
	return body, nil
}

// GetModelsInFolder lists model files the engine reports for folder.
// The response may be a list of names, a list of {name} objects, or an
// object wrapping either under models/items/data.
func (c *ComfyClient) GetModelsInFolder(ctx context.Context, folder string) ([]string, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/models/"+url.PathEscape(folder), &raw); err != nil {
		return nil, err
	}
	return parseModelList(raw), nil
}

func parseModelList(raw json.RawMessage) []string {
	var names []string
	if json.Unmarshal(raw, &names) == nil {
		return names
	}

	var objects []struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &objects) == nil {
		out := make([]string, 0, len(objects))
		for _, o := range objects {
			if o.Name != "" {
				out = append(out, o.Name)
			}
		}
		return out
	}

	var wrapped map[string]json.RawMessage
	if json.Unmarshal(raw, &wrapped) == nil {
		for _, key := range []string{"models", "items", "data"} {
			if inner, ok := wrapped[key]; ok {
				return parseModelList(inner)
			}
		}
	}
	return []string{}
}

// GetObjectInfo returns the node definitions, optionally for a single node class
func (c *ComfyClient) GetObjectInfo(ctx context.Context, nodeClass string) (map[string]any, error) {
	endpoint := "/object_info"
	if nodeClass != "" {
		endpoint += "/" + url.PathEscape(nodeClass)
	}
	var info map[string]any
	if err := c.get(ctx, endpoint, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetKSamplerOptions discovers sampler_name and scheduler choices
func (c *ComfyClient) GetKSamplerOptions(ctx context.Context) (map[string][]string, error) {
	info, err := c.GetObjectInfo(ctx, "KSampler")
	if err != nil {
		return nil, err
	}

	out := map[string][]string{}
	required := RequiredInputs(info, "KSampler")
	for _, key := range []string{"sampler_name", "scheduler"} {
		if choices := PullChoices(required[key]); len(choices) > 0 {
			out[key] = choices
		}
	}
	return out, nil
}

// RequiredInputs digs input.required out of an object_info response that may
// or may not be keyed by node class
func RequiredInputs(info map[string]any, nodeClass string) map[string]any {
	node := info
	if inner, ok := info[nodeClass].(map[string]any); ok {
		node = inner
	}
	input, _ := node["input"].(map[string]any)
	required, _ := input["required"].(map[string]any)
	if required == nil {
		return map[string]any{}
	}
	return required
}

// PullChoices extracts a choice list from the several shapes object_info uses
func PullChoices(v any) []string {
	switch t := v.(type) {
	case []any:
		if len(t) == 2 {
			if opts, ok := t[1].(map[string]any); ok {
				if choices, ok := opts["choices"].([]any); ok {
					return scalarStrings(choices)
				}
			}
		}
		if len(t) >= 1 && len(t) <= 2 {
			if inner, ok := t[0].([]any); ok {
				if s := scalarStrings(inner); s != nil {
					return s
				}
			}
		}
		return scalarStrings(t)
	case map[string]any:
		if choices, ok := t["choices"].([]any); ok {
			return scalarStrings(choices)
		}
	}
	return nil
}

// scalarStrings converts a list of scalars to strings; any non-scalar yields nil
func scalarStrings(items []any) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64, bool:
			out = append(out, fmt.Sprint(v))
		default:
			return nil
		}
	}
	return out
}

// ErrEngineUnreachable wraps transport failures talking to the engine
var ErrEngineUnreachable = errors.New("engine unreachable")

// SystemStats returns the engine's /system_stats document
func (c *ComfyClient) SystemStats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := c.get(ctx, "/system_stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// post sends a POST request with JSON body
func (c *ComfyClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *ComfyClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *ComfyClient) doRequest(req *http.Request, result interface{}) error {
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("engine request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("engine request failed")
		return fmt.Errorf("%w: %w", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("method", req.Method).Str("url", req.URL.String()).Msg("engine response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &model.UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
