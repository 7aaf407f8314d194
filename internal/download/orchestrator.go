package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"locallm/internal/catalog"
	"locallm/internal/common/fsutil"
	"locallm/internal/hub"
)

const (
	// chunkBytes is the copy buffer size; progress is published at most
	// once per chunk.
	chunkBytes = 1 << 20
	// progressInterval throttles tracker updates for fast transfers.
	progressInterval = 250 * time.Millisecond
)

// Options configures an Orchestrator.
type Options struct {
	ModelsDir string
	// Resume re-fetches partial files from their current offset instead of
	// restarting them.
	Resume bool
	// MaxRetries bounds attempts per file for transient failures.
	MaxRetries int
	// Concurrency bounds files transferred in parallel within one job.
	Concurrency int
	Logger      zerolog.Logger
}

// Orchestrator runs download jobs. Begin spawns one worker per job; the
// worker streams every file to <name>.part, renames on success, and commits
// the catalog before the tracker reports completion. Partial files survive
// failure so a later job can resume.
type Orchestrator struct {
	hub     hub.Resolver
	store   *catalog.Store
	tracker *Tracker
	opts    Options
	log     zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator builds an Orchestrator over the given hub and catalog.
func NewOrchestrator(h hub.Resolver, store *catalog.Store, tracker *Tracker, opts Options) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 6
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Orchestrator{
		hub:     h,
		store:   store,
		tracker: tracker,
		opts:    opts,
		log:     opts.Logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Begin registers a job for the catalog entry and starts its worker.
// Returns ErrAlreadyInProgress when a non-terminal job exists for the model.
func (o *Orchestrator) Begin(e catalog.Entry) error {
	if err := o.tracker.Start(e.Name); err != nil {
		return err
	}
	if _, err := o.store.Upsert(e.Name, func(cur catalog.Entry) catalog.Entry {
		cur.Status = catalog.StatusDownloading
		return cur
	}); err != nil {
		o.tracker.Fail(e.Name, fmt.Sprintf("catalog update: %v", err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[e.Name] = cancel
	o.mu.Unlock()

	activeDownloads.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer activeDownloads.Dec()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, e.Name)
			o.mu.Unlock()
			cancel()
		}()
		o.run(ctx, e)
	}()
	return nil
}

// Cancel stops the running job for name, if any.
func (o *Orchestrator) Cancel(name string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[name]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Close cancels every running job and waits for the workers to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, e catalog.Entry) {
	log := o.log.With().Str("model", e.Name).Str("repo", e.RepoID).Logger()
	start := time.Now()

	err := o.transfer(ctx, e, log)
	if err == nil {
		downloadsTotal.WithLabelValues("completed").Inc()
		log.Info().Dur("elapsed", time.Since(start)).Msg("download completed")
		return
	}

	// Leave whatever landed on disk; the catalog reflects what a rescan
	// would find so the next attempt can resume.
	o.settleCatalog(e.Name)
	if errors.Is(err, context.Canceled) {
		downloadsTotal.WithLabelValues("cancelled").Inc()
		o.tracker.Cancel(e.Name)
		log.Info().Msg("download cancelled")
		return
	}
	downloadsTotal.WithLabelValues("failed").Inc()
	o.tracker.Fail(e.Name, failureMessage(err))
	log.Error().Err(err).Msg("download failed")
}

// transfer fetches every file and commits the catalog. Any error leaves the
// job untouched for the caller to settle.
func (o *Orchestrator) transfer(ctx context.Context, e catalog.Entry, log zerolog.Logger) error {
	files, err := o.hub.ResolveFiles(ctx, e.RepoID)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", e.RepoID, err)
	}
	files = selectFiles(files, e)
	if len(files) == 0 {
		return fmt.Errorf("repository %s has no %s files", e.RepoID, e.Format)
	}

	dir := catalog.ModelDir(o.opts.ModelsDir, e.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	p := newProgress(o.tracker, e.Name, totalSize(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for _, f := range files {
		f := f
		g.Go(func() error {
			return o.fetchFile(gctx, e.RepoID, dir, f, p)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range files {
		part := filepath.Join(dir, f.Name+catalog.PartSuffix)
		if _, statErr := os.Stat(part); statErr != nil {
			continue // already final from a previous job
		}
		if err := os.Rename(part, filepath.Join(dir, f.Name)); err != nil {
			return fmt.Errorf("finalize %s: %w", f.Name, err)
		}
	}

	size, err := fsutil.DirSize(dir)
	if err != nil {
		return fmt.Errorf("measure %s: %w", dir, err)
	}
	specs := make([]catalog.FileSpec, 0, len(files))
	for _, f := range files {
		specs = append(specs, catalog.FileSpec{Name: f.Name, Size: f.Size})
	}
	if _, err := o.store.Upsert(e.Name, func(cur catalog.Entry) catalog.Entry {
		cur.Status = catalog.StatusDownloaded
		cur.RepoID = e.RepoID
		cur.Format = e.Format
		cur.ExpectedFiles = specs
		cur.SizeBytes = &size
		cur.LastVerifiedAt = time.Now()
		return cur
	}); err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	// Terminal success only after the catalog commit.
	o.tracker.Complete(e.Name)
	return nil
}

// fetchFile streams one file to its .part path, retrying transient errors
// with a quadratic jittered backoff. Auth errors and cancellation fail fast.
func (o *Orchestrator) fetchFile(ctx context.Context, repoID, dir string, f hub.RemoteFile, p *progress) error {
	final := filepath.Join(dir, f.Name)
	if fi, err := os.Stat(final); err == nil && (f.Size <= 0 || fi.Size() == f.Size) {
		p.add(fi.Size()) // intact from an earlier job
		return nil
	}
	part := final + catalog.PartSuffix

	var err error
	for attempt := 0; attempt < o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if berr := backoff(ctx, attempt); berr != nil {
				return berr
			}
			o.log.Warn().Str("file", f.Name).Int("attempt", attempt).Err(err).Msg("retrying file")
		}
		err = o.fetchOnce(ctx, repoID, part, f, p)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if hub.IsAuthError(err) || errors.Is(err, hub.ErrNotFound) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", f.Name, err)
}

func (o *Orchestrator) fetchOnce(ctx context.Context, repoID, part string, f hub.RemoteFile, p *progress) error {
	var offset int64
	if fi, err := os.Stat(part); err == nil && o.opts.Resume {
		offset = fi.Size()
	}
	content, err := o.hub.Fetch(ctx, repoID, f.Name, offset)
	if err != nil {
		return err
	}
	defer content.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 && content.Resumed {
		flags |= os.O_APPEND
	} else {
		// Server ignored the Range request (or resume is off); restart.
		offset = 0
		flags |= os.O_TRUNC
	}
	w, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return err
	}
	defer w.Close()

	// Drop whatever a previous attempt counted for this file, then credit
	// the bytes already on disk. The tracker keeps the percent monotonic.
	p.reset(f.Name)
	p.add(offset)
	p.trackFile(f.Name, offset)
	buf := make([]byte, chunkBytes)
	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		n, rerr := content.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			p.add(int64(n))
			p.trackFile(f.Name, int64(n))
		}
		if rerr == io.EOF {
			return w.Sync()
		}
		if rerr != nil {
			return rerr
		}
	}
}

// settleCatalog re-derives the entry status from what is actually on disk.
func (o *Orchestrator) settleCatalog(name string) {
	if _, err := o.store.Upsert(name, func(cur catalog.Entry) catalog.Entry {
		cur.Status = catalog.Verify(o.opts.ModelsDir, cur)
		return cur
	}); err != nil {
		o.log.Error().Err(err).Str("model", name).Msg("settle catalog after failed download")
	}
}

// progress aggregates bytes across concurrent file fetches and publishes
// throttled tracker updates.
type progress struct {
	tracker *Tracker
	name    string
	total   int64

	mu       sync.Mutex
	done     int64
	perFile  map[string]int64
	lastPub  time.Time
}

func newProgress(t *Tracker, name string, total int64) *progress {
	return &progress{tracker: t, name: name, total: total, perFile: make(map[string]int64)}
}

func (p *progress) add(n int64) {
	p.mu.Lock()
	p.done += n
	publish := time.Since(p.lastPub) >= progressInterval
	if publish {
		p.lastPub = time.Now()
	}
	done := p.done
	p.mu.Unlock()
	if publish {
		p.tracker.Update(p.name, done, p.total)
	}
}

func (p *progress) trackFile(name string, n int64) {
	p.mu.Lock()
	p.perFile[name] += n
	p.mu.Unlock()
}

// reset backs out a file's prior contribution so a restarted or retried
// fetch never counts the same bytes twice.
func (p *progress) reset(name string) {
	p.mu.Lock()
	p.done -= p.perFile[name]
	if p.done < 0 {
		p.done = 0
	}
	p.perFile[name] = 0
	p.mu.Unlock()
}

func totalSize(files []hub.RemoteFile) int64 {
	var total int64
	for _, f := range files {
		if f.Size <= 0 {
			return -1
		}
		total += f.Size
	}
	return total
}

// selectFiles picks the remote files to fetch: the entry's expected file
// list when it has one, otherwise every file matching the entry's format.
func selectFiles(files []hub.RemoteFile, e catalog.Entry) []hub.RemoteFile {
	if len(e.ExpectedFiles) > 0 {
		want := make(map[string]bool, len(e.ExpectedFiles))
		for _, spec := range e.ExpectedFiles {
			want[spec.Name] = true
		}
		out := make([]hub.RemoteFile, 0, len(e.ExpectedFiles))
		for _, f := range files {
			if want[f.Name] {
				out = append(out, f)
			}
		}
		if len(out) == len(e.ExpectedFiles) {
			return out
		}
		// Remote layout drifted from the seed table; fall through to the
		// format filter rather than fetching a known-incomplete set.
	}
	out := make([]hub.RemoteFile, 0, len(files))
	for _, f := range files {
		if formatMatches(e.Format, f.Name) {
			out = append(out, f)
		}
	}
	return out
}

func formatMatches(format catalog.Format, name string) bool {
	ext := filepath.Ext(name)
	switch format {
	case catalog.FormatGGUF:
		return ext == ".gguf"
	case catalog.FormatSafetensors:
		return ext == ".safetensors" || ext == ".json" || ext == ".model"
	case catalog.FormatPytorch:
		return ext == ".bin" || ext == ".json" || ext == ".model"
	default:
		return true
	}
}

// backoff sleeps attempt² seconds plus up to a second of jitter, or returns
// early when ctx is cancelled.
func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt*attempt)*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, hub.ErrUnauthorized):
		return "authentication required: set a hub token and retry"
	case errors.Is(err, hub.ErrAccessPending):
		return "access not granted: accept the model licence on the hub, then retry"
	case errors.Is(err, hub.ErrNotFound):
		return "repository or file not found on the hub"
	default:
		return err.Error()
	}
}
