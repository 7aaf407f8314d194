package catalog

import "time"

// Format identifies the on-disk representation of a model.
type Format string

const (
	FormatGGUF        Format = "gguf"
	FormatSafetensors Format = "safetensors"
	FormatPytorch     Format = "pytorch"
)

// Status is the durable lifecycle state of a catalog entry.
type Status string

const (
	StatusNotDownloaded Status = "not_downloaded"
	StatusDownloading   Status = "downloading"
	StatusIncomplete    Status = "incomplete"
	StatusDownloaded    Status = "downloaded"
)

// FileSpec names one expected file of a model and, when known, its size.
type FileSpec struct {
	Name string `json:"name"`
	// Size 0 means unknown until the remote repository reports it.
	Size int64 `json:"size,omitempty"`
}

// Entry is one durable catalog record, keyed by model name.
type Entry struct {
	Name          string     `json:"name"`
	RepoID        string     `json:"repo_id"`
	Format        Format     `json:"format"`
	ExpectedFiles []FileSpec `json:"expected_files,omitempty"`
	Status        Status     `json:"status"`
	// SizeBytes is nil until the first successful completion measured it.
	SizeBytes *int64 `json:"size_bytes,omitempty"`
	// LastVerifiedAt is zero until an integrity pass succeeded.
	LastVerifiedAt time.Time `json:"last_verified_at,omitempty"`
	// Seeded entries come from the built-in table and survive removal.
	Seeded bool `json:"seeded,omitempty"`
}

// Loadable reports whether the entry may be handed to the load manager.
func (e Entry) Loadable() bool { return e.Status == StatusDownloaded }

// Seed is the built-in table of known models: name -> source repository,
// expected files and format. Mirrors the curated set the service has always
// shipped with; config entries extend it.
func Seed() []Entry {
	safetensors4 := []FileSpec{
		{Name: "model-00001-of-00004.safetensors"},
		{Name: "model-00002-of-00004.safetensors"},
		{Name: "model-00003-of-00004.safetensors"},
		{Name: "model-00004-of-00004.safetensors"},
		{Name: "model.safetensors.index.json"},
		{Name: "config.json"},
		{Name: "tokenizer.json"},
	}
	safetensors3 := []FileSpec{
		{Name: "model-00001-of-00003.safetensors"},
		{Name: "model-00002-of-00003.safetensors"},
		{Name: "model-00003-of-00003.safetensors"},
		{Name: "model.safetensors.index.json"},
		{Name: "config.json"},
		{Name: "tokenizer.json"},
	}
	entries := []Entry{
		{Name: "gemma-2-9b-it", RepoID: "google/gemma-2-9b-it", Format: FormatSafetensors, ExpectedFiles: safetensors4},
		{Name: "qwen2.5-7b-instruct", RepoID: "Qwen/Qwen2.5-7B-Instruct", Format: FormatSafetensors, ExpectedFiles: safetensors4},
		{Name: "llama-3.1-8b-instruct", RepoID: "meta-llama/Llama-3.1-8B-Instruct", Format: FormatSafetensors, ExpectedFiles: safetensors4},
		{Name: "mistral-7b", RepoID: "mistralai/Mistral-7B-Instruct-v0.3", Format: FormatSafetensors, ExpectedFiles: safetensors3},
		{Name: "phi-3-mini", RepoID: "microsoft/Phi-3-mini-4k-instruct-gguf", Format: FormatGGUF, ExpectedFiles: []FileSpec{{Name: "phi-3-mini-4k-instruct.q4.gguf"}}},
	}
	for i := range entries {
		entries[i].Status = StatusNotDownloaded
		entries[i].Seeded = true
	}
	return entries
}
