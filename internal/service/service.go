// Package service is the model lifecycle facade the HTTP layer calls into:
// list, download, poll, load, unload, remove and completion passthrough.
// Commands against one model are serialized on a per-model lock; commands
// against different models run independently.
package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"locallm/internal/backend"
	"locallm/internal/catalog"
	"locallm/internal/download"
	"locallm/internal/manager"
	"locallm/pkg/types"
)

// Options wires the facade's collaborators.
type Options struct {
	Store     *catalog.Store
	Tracker   *download.Tracker
	Orch      *download.Orchestrator
	Manager   *manager.Manager
	Runtime   backend.Runtime
	ModelsDir string
	Logger    zerolog.Logger
}

// Service coordinates the catalog, download jobs and the load manager.
type Service struct {
	store     *catalog.Store
	tracker   *download.Tracker
	orch      *download.Orchestrator
	mgr       *manager.Manager
	runtime   backend.Runtime
	modelsDir string
	log       zerolog.Logger
	locks     keyedLocks
}

// New builds the Service.
func New(opts Options) *Service {
	return &Service{
		store:     opts.Store,
		tracker:   opts.Tracker,
		orch:      opts.Orch,
		mgr:       opts.Manager,
		runtime:   opts.Runtime,
		modelsDir: opts.ModelsDir,
		log:       opts.Logger,
	}
}

// List returns every catalog entry with its runtime and job state folded in,
// sorted by name.
func (s *Service) List() ([]types.ModelSummary, error) {
	entries, err := s.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]types.ModelSummary, 0, len(entries))
	for _, e := range entries {
		sum := types.ModelSummary{
			Name:      e.Name,
			RepoID:    e.RepoID,
			Format:    string(e.Format),
			Status:    string(e.Status),
			SizeBytes: e.SizeBytes,
			Loaded:    s.mgr.IsLoaded(e.Name),
		}
		if j, err := s.tracker.Poll(e.Name); err == nil && !j.State.Terminal() {
			p := j.Progress()
			sum.Progress = &p
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Download starts a download job for name, or explains why none started:
// a complete local copy and a job already running are both reported as
// success, not errors.
func (s *Service) Download(name string) (types.DownloadResponse, error) {
	if err := validateName(name); err != nil {
		return types.DownloadResponse{}, err
	}
	unlock := s.locks.lock(name)
	defer unlock()

	ent, err := s.store.Get(name)
	if err != nil {
		if catalog.IsNotFound(err) {
			return types.DownloadResponse{}, ErrNotFound("unknown model: " + name)
		}
		return types.DownloadResponse{}, err
	}
	if ent.RepoID == "" {
		return types.DownloadResponse{}, ErrInvalidRequest("model has no source repository: " + name)
	}
	if ent.Status == catalog.StatusDownloaded {
		return types.DownloadResponse{Status: types.DownloadComplete, Message: "model already downloaded"}, nil
	}
	if err := s.orch.Begin(ent); err != nil {
		if download.IsAlreadyInProgress(err) {
			return types.DownloadResponse{JobID: name, Status: types.DownloadInProgress, Message: "download already in progress"}, nil
		}
		return types.DownloadResponse{}, err
	}
	s.log.Info().Str("model", name).Str("repo", ent.RepoID).Msg("download started")
	return types.DownloadResponse{JobID: name, Status: types.DownloadStarted, Message: "download started"}, nil
}

// Progress reports the state of the model's download job.
func (s *Service) Progress(name string) (types.ProgressResponse, error) {
	if err := validateName(name); err != nil {
		return types.ProgressResponse{}, err
	}
	j, err := s.tracker.Poll(name)
	if err != nil {
		return types.ProgressResponse{}, ErrNotFound("no download job for model: " + name)
	}
	resp := types.ProgressResponse{
		Status:     string(j.State),
		Progress:   j.Progress(),
		BytesDone:  j.BytesDone,
		BytesTotal: j.BytesTotal,
		Message:    j.Message,
		StartedAt:  j.StartedAt.Unix(),
	}
	if !j.FinishedAt.IsZero() {
		resp.FinishedAt = j.FinishedAt.Unix()
	}
	return resp, nil
}

// CancelDownload stops the running job for name, if one exists.
func (s *Service) CancelDownload(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if !s.orch.Cancel(name) {
		return ErrNotFound("no running download for model: " + name)
	}
	return nil
}

// Load makes the model resident in the runtime.
func (s *Service) Load(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	unlock := s.locks.lock(name)
	defer unlock()
	return s.mgr.Load(ctx, name)
}

// Unload releases the model from the runtime. Unloading a model that is not
// resident succeeds.
func (s *Service) Unload(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	unlock := s.locks.lock(name)
	defer unlock()
	return s.mgr.Unload(ctx, name)
}

// Remove deletes the model's files. A resident model or a running download
// must be dealt with first. Seeded entries revert to not_downloaded so they
// stay listable; ad-hoc entries disappear from the catalog.
func (s *Service) Remove(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	unlock := s.locks.lock(name)
	defer unlock()

	ent, err := s.store.Get(name)
	if err != nil {
		if catalog.IsNotFound(err) {
			return ErrNotFound("unknown model: " + name)
		}
		return err
	}
	if s.mgr.IsLoaded(name) {
		return ErrConflict("model is loaded: unload it before removing")
	}
	if s.tracker.Active(name) {
		return ErrConflict("download in progress: cancel it before removing")
	}

	if err := os.RemoveAll(catalog.ModelDir(s.modelsDir, name)); err != nil {
		return fmt.Errorf("remove model files: %w", err)
	}
	if ent.Seeded {
		_, err = s.store.Upsert(name, func(cur catalog.Entry) catalog.Entry {
			cur.Status = catalog.StatusNotDownloaded
			cur.SizeBytes = nil
			cur.LastVerifiedAt = time.Time{}
			return cur
		})
		if err != nil {
			return err
		}
	} else if err := s.store.Delete(name); err != nil {
		return err
	}
	s.log.Info().Str("model", name).Msg("model removed")
	return nil
}

// Loaded returns the client-facing view of resident models, oldest first.
func (s *Service) Loaded() []types.LoadedModel {
	handles := s.mgr.Loaded()
	out := make([]types.LoadedModel, 0, len(handles))
	for _, h := range handles {
		out = append(out, types.LoadedModel{
			Name:              h.Name,
			LoadedAt:          h.LoadedAt.Unix(),
			ApproxMemoryBytes: h.MemoryBytes,
		})
	}
	return out
}

// OpenAIModels lists loadable models in the OpenAI envelope.
func (s *Service) OpenAIModels() (types.OpenAIModelsResponse, error) {
	entries, err := s.store.List()
	if err != nil {
		return types.OpenAIModelsResponse{}, err
	}
	resp := types.OpenAIModelsResponse{Object: "list", Data: []types.OpenAIModel{}}
	for _, e := range entries {
		if !e.Loadable() {
			continue
		}
		resp.Data = append(resp.Data, types.OpenAIModel{
			ID:      e.Name,
			Object:  "model",
			Created: e.LastVerifiedAt.Unix(),
			OwnedBy: "locallm",
		})
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].ID < resp.Data[j].ID })
	return resp, nil
}

// Complete proxies a completion to the runtime. The model must already be
// resident; completions never trigger implicit loads.
func (s *Service) Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	if err := validateName(req.Model); err != nil {
		return types.CompletionResponse{}, err
	}
	if req.Prompt == "" {
		return types.CompletionResponse{}, ErrInvalidRequest("prompt is required")
	}
	if !s.mgr.IsLoaded(req.Model) {
		return types.CompletionResponse{}, ErrConflict("model not loaded: " + req.Model)
	}
	resp, err := s.runtime.Complete(ctx, req)
	if err != nil {
		return types.CompletionResponse{}, err
	}
	if resp.ID == "" {
		resp.ID = "cmpl-" + uuid.NewString()
	}
	if resp.Object == "" {
		resp.Object = "text_completion"
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage = estimateUsage(req.Prompt, resp.Choices)
	}
	return resp, nil
}

// ChatComplete runs one chat turn through the runtime. The runtime only
// speaks plain completions, so the conversation is flattened into a single
// prompt ending on an open assistant turn. The model must already be
// resident; chat never triggers implicit loads.
func (s *Service) ChatComplete(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	if err := validateName(req.Model); err != nil {
		return types.ChatCompletionResponse{}, err
	}
	if len(req.Messages) == 0 {
		return types.ChatCompletionResponse{}, ErrInvalidRequest("messages are required")
	}
	if !s.mgr.IsLoaded(req.Model) {
		return types.ChatCompletionResponse{}, ErrConflict("model not loaded: " + req.Model)
	}
	prompt := formatMessages(req.Messages)
	cresp, err := s.runtime.Complete(ctx, types.CompletionRequest{
		Model:       req.Model,
		Prompt:      prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	})
	if err != nil {
		return types.ChatCompletionResponse{}, err
	}
	resp := types.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Usage:   cresp.Usage,
	}
	for i, c := range cresp.Choices {
		reason := c.FinishReason
		if reason == "" {
			reason = "stop"
		}
		resp.Choices = append(resp.Choices, types.ChatChoice{
			Index:        i,
			Message:      types.ChatMessage{Role: "assistant", Content: c.Text},
			FinishReason: reason,
		})
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage = estimateUsage(prompt, cresp.Choices)
	}
	return resp, nil
}

// formatMessages flattens chat turns into one prompt. Roles map to
// System/Human/Assistant prefixes; a missing role is treated as user.
func formatMessages(msgs []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "system":
			b.WriteString("System: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("Human: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant: ")
	return b.String()
}

// estimateUsage approximates token counts at four characters per token when
// the runtime did not report real numbers.
func estimateUsage(prompt string, choices []types.CompletionChoice) types.Usage {
	u := types.Usage{PromptTokens: len(prompt) / 4}
	for _, c := range choices {
		u.CompletionTokens += len(c.Text) / 4
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidRequest("model name is required")
	}
	if strings.ContainsAny(name, "/\\") {
		return ErrInvalidRequest("model name must not contain path separators")
	}
	return nil
}

// keyedLocks hands out one mutex per model name.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(name string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[name]
	if !ok {
		l = &sync.Mutex{}
		k.locks[name] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
