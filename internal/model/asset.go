package model

import "time"

// AssetURLPrefix is the HTTP path stored asset files are served under
const AssetURLPrefix = "/assets/"

// Asset is one persisted output artifact produced by a job
type Asset struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Engine    string         `json:"engine"`
	Filename  string         `json:"filename"`
	URL       string         `json:"url"`
	CreatedAt time.Time      `json:"created_at"`
	Favorite  bool           `json:"favorite"`
	Recipe    Recipe         `json:"recipe"`
	Meta      map[string]any `json:"meta"`
}

// Recipe is an immutable snapshot of the job inputs taken at harvest time
type Recipe struct {
	Engine         string         `json:"engine"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt"`
	Params         map[string]any `json:"params"`
}

// NewAsset holds the caller-supplied fields of an asset row
type NewAsset struct {
	JobID    string
	Engine   string
	Filename string
	Recipe   Recipe
	Meta     map[string]any
}

// AssetURL returns the public path for a stored filename
func AssetURL(filename string) string {
	return AssetURLPrefix + filename
}

// RecipeFromJob snapshots the prompt and parameters of job
func RecipeFromJob(job *Job) Recipe {
	params := make(map[string]any, len(job.Params))
	for k, v := range job.Params {
		params[k] = v
	}
	return Recipe{
		Engine:         job.Engine,
		Prompt:         job.Prompt,
		NegativePrompt: job.NegativePrompt,
		Params:         params,
	}
}

// OutputsFromAssets builds the job detail output list
func OutputsFromAssets(assets []*Asset) []JobOutput {
	outputs := make([]JobOutput, 0, len(assets))
	for _, a := range assets {
		outputs = append(outputs, JobOutput{
			ID:        a.ID,
			Filename:  a.Filename,
			URL:       a.URL,
			CreatedAt: a.CreatedAt,
		})
	}
	return outputs
}
