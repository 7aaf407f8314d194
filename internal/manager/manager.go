// Package manager admits models into the inference runtime under a loaded
// count and memory budget, evicting the oldest resident when room is needed,
// and keeps its view reconciled with what the runtime actually holds.
package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"locallm/internal/backend"
	"locallm/internal/catalog"
)

// minModelBytes is the memory estimate for models whose size was never
// measured.
const minModelBytes = 1 << 20

// Runtime is the subset of the backend client the manager drives.
type Runtime interface {
	Load(ctx context.Context, name string) error
	Unload(ctx context.Context, name string) error
	Loaded(ctx context.Context) ([]string, error)
}

// Catalog resolves model names to durable entries.
type Catalog interface {
	Get(name string) (catalog.Entry, error)
}

// Handle is one resident model as the manager tracks it.
type Handle struct {
	Name        string
	LoadedAt    time.Time
	MemoryBytes int64
}

// Options bounds admission.
type Options struct {
	// MaxLoadedModels caps resident models; minimum 1.
	MaxLoadedModels int
	// MaxMemoryBytes caps the summed size estimates; 0 means unbounded.
	MaxMemoryBytes int64
	Logger         zerolog.Logger
}

// Manager tracks resident models and serializes admission. Loads of the
// same model coalesce onto one runtime call. Loads of different models must
// acquire an admission reservation before touching the runtime, so the caps
// hold at every instant, not just between calls.
type Manager struct {
	runtime Runtime
	catalog Catalog
	opts    Options
	log     zerolog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	// pending coalesces concurrent loads of one model; it does not count
	// toward capacity.
	pending map[string]*attempt
	// admitted counts reservations of loads past admission but not yet
	// resident.
	admitted      int
	admittedBytes int64
	// room is closed and replaced whenever capacity may have freed up.
	room chan struct{}
}

// attempt is one in-flight load; later callers for the same model wait on
// done and share err.
type attempt struct {
	done chan struct{}
	err  error
}

// New builds a Manager over the runtime and catalog.
func New(runtime Runtime, cat Catalog, opts Options) *Manager {
	if opts.MaxLoadedModels < 1 {
		opts.MaxLoadedModels = 1
	}
	return &Manager{
		runtime: runtime,
		catalog: cat,
		opts:    opts,
		log:     opts.Logger,
		handles: make(map[string]*Handle),
		pending: make(map[string]*attempt),
		room:    make(chan struct{}),
	}
}

// Load makes name resident, evicting the oldest-loaded other model when the
// caps require it. Loading an already-resident model is a no-op; concurrent
// loads of the same model share one runtime call.
func (m *Manager) Load(ctx context.Context, name string) error {
	ent, err := m.catalog.Get(name)
	if err != nil {
		if catalog.IsNotFound(err) {
			return modelNotFoundError{name: name}
		}
		return err
	}
	if !ent.Loadable() {
		return notDownloadedError{name: name}
	}
	est := estimateBytes(ent)
	if m.opts.MaxMemoryBytes > 0 && est > m.opts.MaxMemoryBytes {
		return capacityError{name: name, reason: "model exceeds the memory budget on its own"}
	}

	m.mu.Lock()
	if _, ok := m.handles[name]; ok {
		m.mu.Unlock()
		return nil
	}
	if a, ok := m.pending[name]; ok {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &attempt{done: make(chan struct{})}
	m.pending[name] = a
	m.mu.Unlock()

	err = m.loadOne(ctx, name, est)

	m.mu.Lock()
	delete(m.pending, name)
	m.mu.Unlock()
	a.err = err
	close(a.done)
	return err
}

// loadOne acquires an admission reservation, evicting as needed, then calls
// the runtime. On success the reservation converts atomically into a handle.
func (m *Manager) loadOne(ctx context.Context, name string, est int64) error {
	for {
		m.mu.Lock()
		if m.roomLocked(est) {
			m.admitted++
			m.admittedBytes += est
			m.mu.Unlock()
			break
		}
		victim := m.oldestLocked(name)
		if victim == nil {
			if m.admitted == 0 {
				m.mu.Unlock()
				return capacityError{name: name, reason: "no resident model can be evicted"}
			}
			// Slots are held by other in-flight loads; wait for one to
			// settle and re-check.
			room := m.room
			m.mu.Unlock()
			select {
			case <-room:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		m.mu.Unlock()

		if err := m.runtime.Unload(ctx, victim.Name); err != nil {
			return evictionFailedError{victim: victim.Name, cause: err}
		}
		m.mu.Lock()
		if _, ok := m.handles[victim.Name]; ok {
			delete(m.handles, victim.Name)
			evictionsTotal.Inc()
			m.publishGaugesLocked()
			m.log.Info().Str("model", victim.Name).Str("for", name).Msg("evicted oldest model")
		}
		m.signalRoomLocked()
		m.mu.Unlock()
	}

	err := m.runtime.Load(ctx, name)

	m.mu.Lock()
	m.admitted--
	m.admittedBytes -= est
	if err == nil {
		m.handles[name] = &Handle{Name: name, LoadedAt: time.Now(), MemoryBytes: est}
		loadsTotal.Inc()
		m.publishGaugesLocked()
	}
	m.signalRoomLocked()
	m.mu.Unlock()
	if err == nil {
		m.log.Info().Str("model", name).Int64("bytes", est).Msg("model loaded")
	}
	return err
}

// roomLocked reports whether one more load of est bytes fits.
func (m *Manager) roomLocked(est int64) bool {
	if len(m.handles)+m.admitted+1 > m.opts.MaxLoadedModels {
		return false
	}
	if m.opts.MaxMemoryBytes > 0 && m.usedBytesLocked()+m.admittedBytes+est > m.opts.MaxMemoryBytes {
		return false
	}
	return true
}

func (m *Manager) usedBytesLocked() int64 {
	var used int64
	for _, h := range m.handles {
		used += h.MemoryBytes
	}
	return used
}

// oldestLocked returns the oldest-loaded handle other than keep, or nil.
func (m *Manager) oldestLocked(keep string) *Handle {
	var oldest *Handle
	for _, h := range m.handles {
		if h.Name == keep {
			continue
		}
		if oldest == nil || h.LoadedAt.Before(oldest.LoadedAt) {
			oldest = h
		}
	}
	return oldest
}

func (m *Manager) publishGaugesLocked() {
	loadedModels.Set(float64(len(m.handles)))
	loadedBytes.Set(float64(m.usedBytesLocked()))
}

func (m *Manager) signalRoomLocked() {
	close(m.room)
	m.room = make(chan struct{})
}

// Unload releases name from the runtime. Unloading a model that is not
// resident is a no-op. On runtime failure the handle stays tracked so the
// model is not silently presumed gone.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	_, ok := m.handles[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.runtime.Unload(ctx, name); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.handles, name)
	m.publishGaugesLocked()
	m.signalRoomLocked()
	m.mu.Unlock()
	m.log.Info().Str("model", name).Msg("model unloaded")
	return nil
}

// IsLoaded reports whether name is resident.
func (m *Manager) IsLoaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[name]
	return ok
}

// Loaded returns a snapshot of resident models, oldest first.
func (m *Manager) Loaded() []Handle {
	m.mu.Lock()
	out := make([]Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, *h)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LoadedAt.Before(out[j].LoadedAt) })
	return out
}

// Reconcile aligns the tracked handles with what the runtime reports:
// handles the runtime no longer holds are dropped, models the runtime holds
// without a handle are adopted with a fresh load time. Models with an
// in-flight load are left alone.
func (m *Manager) Reconcile(ctx context.Context) error {
	names, err := m.runtime.Loaded(ctx)
	if err != nil {
		return err
	}
	resident := make(map[string]bool, len(names))
	for _, n := range names {
		resident[n] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.handles {
		if resident[name] {
			continue
		}
		if _, inflight := m.pending[name]; inflight {
			continue
		}
		delete(m.handles, name)
		m.log.Warn().Str("model", name).Msg("runtime dropped model; handle removed")
	}
	for name := range resident {
		if _, ok := m.handles[name]; ok {
			continue
		}
		if _, inflight := m.pending[name]; inflight {
			continue
		}
		est := int64(minModelBytes)
		if ent, err := m.catalog.Get(name); err == nil {
			est = estimateBytes(ent)
		}
		m.handles[name] = &Handle{Name: name, LoadedAt: time.Now(), MemoryBytes: est}
		m.log.Warn().Str("model", name).Msg("adopted model already resident in runtime")
	}
	m.publishGaugesLocked()
	m.signalRoomLocked()
	return nil
}

// Run reconciles on the given interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reconcile(ctx); err != nil && !backend.IsUnavailable(err) {
				m.log.Error().Err(err).Msg("reconcile failed")
			}
		}
	}
}

func estimateBytes(e catalog.Entry) int64 {
	if e.SizeBytes != nil && *e.SizeBytes > minModelBytes {
		return *e.SizeBytes
	}
	return minModelBytes
}
