package types

// ModelsResponse wraps the list returned by GET /models.
type ModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

// DownloadRequest is the payload for POST /models/download.
type DownloadRequest struct {
	// Model name to download.
	// example: phi-3-mini
	Model string `json:"model"`
}

// Download outcome values carried in DownloadResponse.Status.
const (
	DownloadStarted    = "started"
	DownloadInProgress = "in_progress"
	DownloadComplete   = "downloaded"
)

// DownloadResponse is returned when a download is accepted or short-circuited.
type DownloadResponse struct {
	// Job identifier to poll; equals the model name.
	// example: phi-3-mini
	JobID string `json:"job_id,omitempty"`
	// Outcome of the request: started, in_progress or downloaded.
	Status string `json:"status"`
	// Human-readable outcome.
	// example: download started
	Message string `json:"message"`
}

// ProgressResponse is returned by GET /models/download/{name}/progress.
type ProgressResponse struct {
	// Job state: queued, downloading, completed, failed or cancelled.
	// example: downloading
	Status string `json:"status"`
	// Percent complete, or -1 when the total size is unknown.
	// example: 42
	Progress int `json:"progress"`
	// example: 1048576
	BytesDone int64 `json:"bytes_done"`
	// Total bytes, or -1 when unknown.
	// example: 2393232672
	BytesTotal int64 `json:"bytes_total"`
	// Detail message; always set when status is failed.
	Message string `json:"message,omitempty"`
	// Unix seconds.
	// example: 1700000000
	StartedAt int64 `json:"started_at_unix"`
	// Unix seconds; zero while the job is running.
	FinishedAt int64 `json:"finished_at_unix,omitempty"`
}

// LoadRequest is the payload for POST /models/load and /models/unload.
type LoadRequest struct {
	// example: phi-3-mini
	Model string `json:"model"`
}

// MessageResponse is a generic success payload.
type MessageResponse struct {
	// example: model loaded
	Message string `json:"message"`
}

// HealthResponse reports liveness plus a cheap runtime summary.
type HealthResponse struct {
	Status       string `json:"status"`
	LoadedModels int    `json:"loaded_models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Human-readable message.
	// example: model not downloaded
	Error string `json:"error"`
	// Machine-readable error kind.
	// example: not_downloaded
	Kind string `json:"kind,omitempty"`
	// HTTP status code.
	// example: 409
	Code int `json:"code"`
}

// CompletionRequest is the OpenAI-style payload for POST /v1/completions.
type CompletionRequest struct {
	// example: phi-3-mini
	Model string `json:"model"`
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt"`
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty"`
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// CompletionChoice is one generated alternative.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// Usage carries rough token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the OpenAI-style completion envelope.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	// example: user
	Role string `json:"role"`
	// example: What is the capital of France?
	Content string `json:"content"`
}

// ChatCompletionRequest is the OpenAI-style payload for POST /v1/chat/completions.
type ChatCompletionRequest struct {
	// example: phi-3-mini
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty"`
	// example: 0.7
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// ChatChoice is one generated reply.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is the OpenAI-style chat completion envelope.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// OpenAIModel is one entry of GET /v1/models.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// OpenAIModelsResponse wraps GET /v1/models.
type OpenAIModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}
