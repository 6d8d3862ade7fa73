package types

// Asset describes a model weights file found in the bundled asset namespace.
type Asset struct {
	// File name inside the bundle.
	// example: gemma3-1b-it-int4.task
	Name string `json:"name" example:"gemma3-1b-it-int4.task"`
	// Absolute path when the bundle is directory-backed.
	Path string `json:"path,omitempty"`
	// Size in bytes.
	Size int64 `json:"size"`
}

// ModelSource reports where the active model file lives.
type ModelSource struct {
	// One of: bundled, cache_copy, delivered_pack.
	// example: cache_copy
	Kind string `json:"kind" example:"cache_copy"`
	// Absolute path to the model file.
	// example: /home/user/.cache/gemmad/gemma3-1b-it-int4.task
	Path string `json:"path" example:"/home/user/.cache/gemmad/gemma3-1b-it-int4.task"`
}

// AskRequest is the payload of POST /ask.
type AskRequest struct {
	// Required prompt text.
	// example: What is the capital of France?
	Prompt string `json:"prompt" example:"What is the capital of France?"`
}

// AskResponse is returned by POST /ask.
type AskResponse struct {
	// Generated completion.
	Text string `json:"text"`
	// Temperature used for this generation.
	// example: 0.2
	Temperature float32 `json:"temperature" example:"0.2"`
	// Wall time spent generating, in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// TemperatureRequest is the payload of PUT /temperature.
type TemperatureRequest struct {
	// example: 0.7
	Temperature *float32 `json:"temperature" example:"0.7"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not initialized
	Error string `json:"error" example:"model not initialized"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// InitResponse is returned by POST /init.
type InitResponse struct {
	// Attempt identifier of the acquisition that is running or finished.
	AttemptID string `json:"attempt_id"`
	// Current acquisition state.
	// example: downloading
	State string `json:"state" example:"downloading"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Current acquisition state: not_started, checking_bundled,
	// checking_delivered, downloading, loading, ready, failed.
	// example: ready
	State string `json:"state" example:"ready"`
	// Identifier of the current acquisition attempt.
	AttemptID string `json:"attempt_id,omitempty"`
	// Download progress percent while downloading.
	// example: 42
	ProgressPercent int `json:"progress_percent" example:"42"`
	// Where the active model was loaded from (set once ready).
	Source *ModelSource `json:"source,omitempty"`
	// Failure reason when state is failed.
	Error string `json:"error,omitempty"`
	// Sampling temperature used by new asks.
	// example: 0.2
	Temperature float32 `json:"temperature" example:"0.2"`
	// Fixed top-k used by new sessions.
	// example: 40
	TopK int `json:"top_k" example:"40"`
	// Fixed max tokens for the engine.
	// example: 256
	MaxTokens int `json:"max_tokens" example:"256"`
	// Queued asks waiting for the generation slot.
	QueueLen int `json:"queue_len"`
	// Asks currently generating (0 or 1).
	Inflight int `json:"inflight"`
	// Maximum queued asks before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Number of acquisition attempts started.
	AttemptsTotal uint64 `json:"attempts_total"`
	// Number of completed asks (success or failure).
	AsksTotal uint64 `json:"asks_total"`
	// Uptime of the controller in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// Event is one line of the GET /events NDJSON stream.
type Event struct {
	// Event name, e.g. state, progress, ready, error.
	Name string `json:"name"`
	// Acquisition attempt the event belongs to.
	AttemptID string `json:"attempt_id,omitempty"`
	// Acquisition state after the event.
	State string `json:"state,omitempty"`
	// Download percent for progress events.
	Percent int `json:"percent,omitempty"`
	// Message for error events.
	Message string `json:"message,omitempty"`
	// Unix milliseconds.
	TimeUnixMS int64 `json:"time_unix_ms"`
}
