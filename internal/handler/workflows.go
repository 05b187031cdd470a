package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gencockpit/api/internal/service"
	"github.com/gencockpit/api/internal/workflow"
	"github.com/gencockpit/api/pkg/response"
)

// WorkflowCatalog is the read side of the workflow registry
type WorkflowCatalog interface {
	List() []workflow.Summary
	Get(id string) (*workflow.Workflow, error)
	Reload() int
}

// WorkflowDetail is a manifest with engine choices filled in
type WorkflowDetail struct {
	ID          string                       `json:"id"`
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Version     string                       `json:"version"`
	Params      map[string]workflow.ParamDef `json:"params"`
	Presets     map[string]any               `json:"presets"`
}

type WorkflowHandler struct {
	workflows WorkflowCatalog
	options   *service.EngineOptions
}

func NewWorkflowHandler(workflows WorkflowCatalog, options *service.EngineOptions) *WorkflowHandler {
	return &WorkflowHandler{
		workflows: workflows,
		options:   options,
	}
}

// List handles GET /api/workflows
func (h *WorkflowHandler) List(c *fiber.Ctx) error {
	return response.OK(c, h.workflows.List())
}

// Get handles GET /api/workflows/:workflowId
func (h *WorkflowHandler) Get(c *fiber.Ctx) error {
	wf, err := h.workflows.Get(c.Params("workflowId"))
	if err != nil {
		return response.FromError(c, err)
	}

	params := wf.Manifest.ParamsCopy()
	snapshot := h.options.Snapshot()
	injectChoices(params, "checkpoint", snapshot.Checkpoints)
	injectChoices(params, "vae", snapshot.VAEs)

	presets := wf.Manifest.Presets
	if presets == nil {
		presets = map[string]any{}
	}

	return response.OK(c, WorkflowDetail{
		ID:          wf.Manifest.ID,
		Name:        wf.Manifest.Name,
		Description: wf.Manifest.Description,
		Version:     wf.Manifest.Version,
		Params:      params,
		Presets:     presets,
	})
}

// Reload handles POST /api/workflows/reload
func (h *WorkflowHandler) Reload(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"ok": true, "count": h.workflows.Reload()})
}

// injectChoices replaces a declared param's choices with what the engine has installed
func injectChoices(params map[string]workflow.ParamDef, name string, available []string) {
	def, ok := params[name]
	if !ok || len(available) == 0 {
		return
	}
	choices := make([]any, len(available))
	for i, v := range available {
		choices[i] = v
	}
	def.Choices = choices
	params[name] = def
}
