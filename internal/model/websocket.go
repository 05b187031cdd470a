package model

import "encoding/json"

// WebSocket message types
const (
	WSMessageTypeHello          = "hello"
	WSMessageTypePing           = "ping"
	WSMessageTypePong           = "pong"
	WSMessageTypePrefs          = "prefs"
	WSMessageTypeJobsSnapshot   = "jobs_snapshot"
	WSMessageTypeAssetsSnapshot = "assets_snapshot"
	WSMessageTypeJobCreated     = "job_created"
	WSMessageTypeJobUpdate      = "job_update"
	WSMessageTypeJobProgress    = "job_progress"
	WSMessageTypeAssetCreated   = "asset_created"
	WSMessageTypeAssetUpdated   = "asset_updated"
	WSMessageTypeEngineUp       = "engine_connected"
	WSMessageTypeEngineDown     = "engine_disconnected"
)

// Event is a typed message fanned out to observers
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WSMessage is an inbound observer message
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JobProgressPayload is the payload of a job_progress event
type JobProgressPayload struct {
	JobID    string  `json:"job_id"`
	PromptID string  `json:"prompt_id"`
	Value    float64 `json:"value"`
	Max      float64 `json:"max"`
}

// EnginePayload is the payload of engine connectivity events
type EnginePayload struct {
	URL string `json:"url"`
}

func JobCreatedEvent(job *Job) Event {
	return Event{Type: WSMessageTypeJobCreated, Payload: job}
}

func JobUpdateEvent(job *Job) Event {
	return Event{Type: WSMessageTypeJobUpdate, Payload: job}
}

func JobProgressEvent(job *Job, promptID string) Event {
	return Event{Type: WSMessageTypeJobProgress, Payload: JobProgressPayload{
		JobID:    job.ID,
		PromptID: promptID,
		Value:    job.ProgressValue,
		Max:      job.ProgressMax,
	}}
}

func AssetCreatedEvent(asset *Asset) Event {
	return Event{Type: WSMessageTypeAssetCreated, Payload: asset}
}

func AssetUpdatedEvent(asset *Asset) Event {
	return Event{Type: WSMessageTypeAssetUpdated, Payload: asset}
}

func EngineConnectedEvent(url string) Event {
	return Event{Type: WSMessageTypeEngineUp, Payload: EnginePayload{URL: url}}
}

func EngineDisconnectedEvent(url string) Event {
	return Event{Type: WSMessageTypeEngineDown, Payload: EnginePayload{URL: url}}
}
