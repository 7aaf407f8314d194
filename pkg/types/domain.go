package types

// ModelSummary is the merged client-facing view of one catalog entry,
// combining durable catalog state, in-flight download progress and the
// loaded set reported by the load manager.
type ModelSummary struct {
	// Stable model name used in all lifecycle calls.
	// example: phi-3-mini
	Name string `json:"name"`
	// Source repository identifier.
	// example: microsoft/Phi-3-mini-4k-instruct-gguf
	RepoID string `json:"repo_id,omitempty"`
	// On-disk format: gguf, safetensors or pytorch.
	// example: gguf
	Format string `json:"format,omitempty"`
	// Catalog status: not_downloaded, downloading, incomplete or downloaded.
	// example: downloaded
	Status string `json:"status"`
	// Aggregate size on disk, null until first measured.
	// example: 2393232672
	SizeBytes *int64 `json:"size_bytes"`
	// Whether the model is currently resident in the inference backend.
	// example: true
	Loaded bool `json:"loaded"`
	// Percent progress of an in-flight download; -1 when the total is unknown.
	// Omitted when no download is running.
	Progress *int `json:"progress,omitempty"`
}

// LoadedModel describes one model resident in the inference backend.
type LoadedModel struct {
	// example: phi-3-mini
	Name string `json:"name"`
	// Unix seconds when the model finished loading.
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix"`
	// Best-effort memory estimate used for budget accounting.
	// example: 2393232672
	ApproxMemoryBytes int64 `json:"approx_memory_bytes"`
}
