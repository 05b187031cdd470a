package model

// JobCreateRequest represents the request to create a generation job.
// New-style parameters go in Params; the top-level fields are accepted for
// older clients and merged into Params when set.
type JobCreateRequest struct {
	WorkflowID     string         `json:"workflow_id" validate:"omitempty,max=128"`
	Params         map[string]any `json:"params"`
	Prompt         *string        `json:"prompt"`
	NegativePrompt *string        `json:"negative_prompt"`
	Width          *int           `json:"width" validate:"omitempty,min=64,max=8192"`
	Height         *int           `json:"height" validate:"omitempty,min=64,max=8192"`
	Steps          *int           `json:"steps" validate:"omitempty,min=1,max=500"`
	CFG            *float64       `json:"cfg" validate:"omitempty,min=0,max=100"`
	SamplerName    *string        `json:"sampler_name"`
	Scheduler      *string        `json:"scheduler"`
	Seed           *int64         `json:"seed"`
	BatchSize      *int           `json:"batch_size" validate:"omitempty,min=1,max=64"`
	ClipSkip       *int           `json:"clip_skip" validate:"omitempty,min=1,max=24"`
	VAE            *string        `json:"vae"`
	Checkpoint     *string        `json:"checkpoint"`
}

// NormalizedParams merges Params with the explicitly set legacy fields.
// Nil values are dropped.
func (r *JobCreateRequest) NormalizedParams() map[string]any {
	params := make(map[string]any, len(r.Params)+8)
	for k, v := range r.Params {
		if v != nil {
			params[k] = v
		}
	}

	setString := func(key string, v *string) {
		if v != nil {
			params[key] = *v
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			params[key] = *v
		}
	}

	setString("prompt", r.Prompt)
	setString("negative_prompt", r.NegativePrompt)
	setInt("width", r.Width)
	setInt("height", r.Height)
	setInt("steps", r.Steps)
	if r.CFG != nil {
		params["cfg"] = *r.CFG
	}
	setString("sampler_name", r.SamplerName)
	setString("scheduler", r.Scheduler)
	if r.Seed != nil {
		params["seed"] = *r.Seed
	}
	setInt("batch_size", r.BatchSize)
	setInt("clip_skip", r.ClipSkip)
	setString("vae", r.VAE)
	setString("checkpoint", r.Checkpoint)
	if r.WorkflowID != "" {
		params["workflow_id"] = r.WorkflowID
	}

	return params
}

// ListQuery holds the limit query parameter of list endpoints
type ListQuery struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=1000"`
}
