package model

import "encoding/json"

// Upstream engine event types
const (
	UpstreamExecutionStart       = "execution_start"
	UpstreamProgress             = "progress"
	UpstreamExecutionError       = "execution_error"
	UpstreamExecutionInterrupted = "execution_interrupted"
	UpstreamExecuting            = "executing"
	UpstreamExecutionSuccess     = "execution_success"
)

// UpstreamEvent is one structured frame received from the engine event stream
type UpstreamEvent struct {
	Type     string
	PromptID string
	Node     *string
	Value    float64
	Max      float64
	Data     json.RawMessage
}

// IsCompletion reports whether the event signals that the prompt finished.
// Both `executing` with a null node and `execution_success` mean done.
func (e UpstreamEvent) IsCompletion() bool {
	return (e.Type == UpstreamExecuting && e.Node == nil) || e.Type == UpstreamExecutionSuccess
}

// IsFailure reports whether the event terminates the prompt unsuccessfully
func (e UpstreamEvent) IsFailure() bool {
	return e.Type == UpstreamExecutionError || e.Type == UpstreamExecutionInterrupted
}

// OutputRef identifies one output file declared in an engine result manifest
type OutputRef struct {
	NodeID    string `json:"node_id"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}
