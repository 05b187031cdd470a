package websocket

import "github.com/gencockpit/api/internal/model"

// Category groups event types an observer can opt in or out of
type Category string

const (
	CategoryJobs        Category = "jobs"
	CategoryJobProgress Category = "job_progress"
	CategoryAssets      Category = "assets"
	CategorySystem      Category = "system"
)

var eventCategories = map[string]Category{
	model.WSMessageTypeJobCreated:     CategoryJobs,
	model.WSMessageTypeJobUpdate:      CategoryJobs,
	model.WSMessageTypeJobsSnapshot:   CategoryJobs,
	model.WSMessageTypeJobProgress:    CategoryJobProgress,
	model.WSMessageTypeAssetCreated:   CategoryAssets,
	model.WSMessageTypeAssetUpdated:   CategoryAssets,
	model.WSMessageTypeAssetsSnapshot: CategoryAssets,
	model.WSMessageTypeEngineUp:       CategorySystem,
	model.WSMessageTypeEngineDown:     CategorySystem,
}

// CategoryOf returns the category of an event type. Unknown types have no
// category and are delivered to everyone.
func CategoryOf(eventType string) (Category, bool) {
	c, ok := eventCategories[eventType]
	return c, ok
}

// Preferences are the per-observer category switches
type Preferences struct {
	Jobs        bool `json:"jobs"`
	JobProgress bool `json:"job_progress"`
	Assets      bool `json:"assets"`
	System      bool `json:"system"`
}

// DefaultPreferences keeps chatty job traffic off until an observer asks for it
func DefaultPreferences() Preferences {
	return Preferences{
		Jobs:        false,
		JobProgress: false,
		Assets:      true,
		System:      true,
	}
}

// Allows reports whether an event of the given type should reach the observer
func (p Preferences) Allows(eventType string) bool {
	c, ok := CategoryOf(eventType)
	if !ok {
		return true
	}
	switch c {
	case CategoryJobs:
		return p.Jobs
	case CategoryJobProgress:
		return p.JobProgress
	case CategoryAssets:
		return p.Assets
	case CategorySystem:
		return p.System
	}
	return true
}

// PreferencesPatch is the payload of an inbound prefs message.
// Absent keys leave the current value untouched.
type PreferencesPatch struct {
	Jobs        *bool `json:"jobs"`
	JobProgress *bool `json:"job_progress"`
	Assets      *bool `json:"assets"`
	System      *bool `json:"system"`
}

// Apply returns p with the set fields of patch applied
func (p Preferences) Apply(patch PreferencesPatch) Preferences {
	if patch.Jobs != nil {
		p.Jobs = *patch.Jobs
	}
	if patch.JobProgress != nil {
		p.JobProgress = *patch.JobProgress
	}
	if patch.Assets != nil {
		p.Assets = *patch.Assets
	}
	if patch.System != nil {
		p.System = *patch.System
	}
	return p
}
