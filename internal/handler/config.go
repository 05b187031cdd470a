package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gencockpit/api/internal/service"
	"github.com/gencockpit/api/pkg/response"
)

const defaultNegativePrompt = "(worst quality, low quality:1.4), (deformed, distorted, disfigured:1.3), poorly drawn, " +
	"bad anatomy, wrong anatomy, extra limb, missing limb, floating limbs, " +
	"(mutated hands and fingers:1.4), cloned face, malformed hands, long neck, " +
	"blurry, watermark, text, signature"

// GenerationDefaults are the form defaults offered to clients
type GenerationDefaults struct {
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFG            float64 `json:"cfg"`
	SamplerName    string  `json:"sampler_name"`
	Scheduler      string  `json:"scheduler"`
	Seed           int64   `json:"seed"`
	BatchSize      int     `json:"batch_size"`
	ClipSkip       int     `json:"clip_skip"`
	VAE            *string `json:"vae"`
	NegativePrompt string  `json:"negative_prompt"`
	Checkpoint     string  `json:"checkpoint"`
}

// ConfigResponse is the body of GET /api/config
type ConfigResponse struct {
	EngineURL       string                  `json:"engine_url"`
	DefaultWorkflow string                  `json:"default_workflow"`
	Defaults        GenerationDefaults      `json:"defaults"`
	Choices         service.OptionsSnapshot `json:"choices"`
	ClientID        string                  `json:"client_id"`
}

type ConfigHandler struct {
	options         *service.EngineOptions
	engineURL       string
	clientID        string
	defaultWorkflow string
}

func NewConfigHandler(options *service.EngineOptions, engineURL, clientID, defaultWorkflow string) *ConfigHandler {
	return &ConfigHandler{
		options:         options,
		engineURL:       engineURL,
		clientID:        clientID,
		defaultWorkflow: defaultWorkflow,
	}
}

// Get handles GET /api/config
func (h *ConfigHandler) Get(c *fiber.Ctx) error {
	return response.OK(c, h.build(h.options.Snapshot()))
}

// Refresh handles POST /api/config/refresh by re-querying the engine
func (h *ConfigHandler) Refresh(c *fiber.Ctx) error {
	return response.OK(c, h.build(h.options.Refresh(c.UserContext())))
}

func (h *ConfigHandler) build(choices service.OptionsSnapshot) ConfigResponse {
	return ConfigResponse{
		EngineURL:       h.engineURL,
		DefaultWorkflow: h.defaultWorkflow,
		Defaults: GenerationDefaults{
			Width:          832,
			Height:         1024,
			Steps:          20,
			CFG:            4.0,
			SamplerName:    "euler_ancestral",
			Scheduler:      "normal",
			Seed:           -1,
			BatchSize:      1,
			ClipSkip:       2,
			NegativePrompt: defaultNegativePrompt,
			Checkpoint:     h.options.PickCheckpoint(""),
		},
		Choices:  choices,
		ClientID: h.clientID,
	}
}
