package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"visor/core-go/internal/catalog"
	"visor/core-go/internal/layers"
	"visor/core-go/internal/metrics"
)

// ErrNotLoaded is returned when a layer is shown before it has been loaded.
var ErrNotLoaded = errors.New("layer not loaded")

// ErrNotFound is returned for unknown view ids.
var ErrNotFound = errors.New("view not found")

// StatusLoading is the status text while a toggle waits on a load.
const StatusLoading = "loading layer..."

// Builder supplies the load operation for a key.
//
// *layers.Loader satisfies this.
type Builder interface {
	FetchAndBuild(key catalog.Key) layers.BuildFunc
}

// ToggleResult reports the outcome of a toggle. Checked is the state the UI control should
// show afterwards.
type ToggleResult struct {
	Key     catalog.Key `json:"key"`
	Checked bool        `json:"checked"`
	Skipped bool        `json:"skipped,omitempty"`
	Status  string      `json:"status"`
}

// View is one map instance: the set of layers attached to it plus its status line.
type View struct {
	id      string
	created time.Time
	log     zerolog.Logger
	metrics *metrics.Metrics
	cache   *layers.Cache
	builder Builder

	mu       sync.Mutex
	attached map[catalog.Key]*layers.Layer
	// wanted maps a key to the generation of its latest "on" toggle. Absent means off.
	wanted map[catalog.Key]uint64
	gen    uint64
	status string
}

// Snapshot is a point-in-time copy of a view's state.
type Snapshot struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Attached  []catalog.Key `json:"attached"`
	Pending   []catalog.Key `json:"pending"`
	Status    string        `json:"status"`
}

func (v *View) ID() string { return v.id }

// SetVisible attaches (visible) or detaches a layer. Showing requires the layer to be in the
// cache already; hiding a layer that is not attached does nothing.
func (v *View) SetVisible(key catalog.Key, visible bool) error {
	if !visible {
		v.mu.Lock()
		delete(v.attached, key)
		v.mu.Unlock()
		return nil
	}
	l, ok := v.cache.Get(key)
	if !ok {
		return ErrNotLoaded
	}
	v.mu.Lock()
	v.attached[key] = l
	v.mu.Unlock()
	return nil
}

// Toggle applies a control change. Checking loads the layer if needed and then attaches it,
// unless the control was unchecked or checked again while the load was running. A failed load
// leaves the layer detached, records the error as the status and reports the control as
// unchecked.
func (v *View) Toggle(ctx context.Context, key catalog.Key, checked bool) (ToggleResult, error) {
	if !checked {
		v.mu.Lock()
		v.gen++
		delete(v.wanted, key)
		delete(v.attached, key)
		v.status = ""
		v.mu.Unlock()
		v.metrics.IncLayerToggle(string(key), false, "detached")
		return ToggleResult{Key: key, Checked: false}, nil
	}

	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.wanted[key] = gen
	if l, ok := v.cache.Get(key); ok {
		v.attached[key] = l
		v.status = ""
		v.mu.Unlock()
		v.metrics.IncLayerToggle(string(key), true, "attached")
		return ToggleResult{Key: key, Checked: true}, nil
	}
	v.status = StatusLoading
	v.mu.Unlock()

	var build layers.BuildFunc
	if v.builder != nil {
		build = v.builder.FetchAndBuild(key)
	}
	l, err := v.cache.EnsureLoaded(ctx, key, build)

	v.mu.Lock()
	defer v.mu.Unlock()
	current := v.wanted[key] == gen
	if err != nil {
		if current {
			delete(v.wanted, key)
			v.status = err.Error()
		}
		v.metrics.IncLayerToggle(string(key), true, "error")
		v.log.Warn().Err(err).Str("view_id", v.id).Str("layer", string(key)).Msg("layer toggle failed")
		return ToggleResult{Key: key, Checked: false, Status: err.Error()}, err
	}
	if !current {
		// Unchecked (or re-checked by a newer toggle) while loading; the newer toggle wins.
		v.metrics.IncLayerToggle(string(key), true, "skipped")
		_, on := v.wanted[key]
		return ToggleResult{Key: key, Checked: on, Skipped: true, Status: v.status}, nil
	}
	v.attached[key] = l
	v.status = ""
	v.metrics.IncLayerToggle(string(key), true, "attached")
	return ToggleResult{Key: key, Checked: true}, nil
}

// Attached returns the layer attached under key.
func (v *View) Attached(key catalog.Key) (*layers.Layer, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.attached[key]
	return l, ok
}

func (v *View) Status() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := Snapshot{
		ID:        v.id,
		CreatedAt: v.created,
		Attached:  make([]catalog.Key, 0, len(v.attached)),
		Pending:   []catalog.Key{},
		Status:    v.status,
	}
	for k := range v.attached {
		s.Attached = append(s.Attached, k)
	}
	for k := range v.wanted {
		if _, ok := v.attached[k]; !ok {
			s.Pending = append(s.Pending, k)
		}
	}
	catalog.SortKeys(s.Attached)
	catalog.SortKeys(s.Pending)
	return s
}

// Registry owns the views served by this process. All views share one layer cache.
type Registry struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	cache   *layers.Cache
	builder Builder
	now     func() time.Time

	mu    sync.RWMutex
	views map[string]*View
}

func NewRegistry(log zerolog.Logger, cache *layers.Cache, builder Builder, m *metrics.Metrics) *Registry {
	return &Registry{
		log:     log,
		metrics: m,
		cache:   cache,
		builder: builder,
		now:     time.Now,
		views:   make(map[string]*View),
	}
}

func (r *Registry) Create() *View {
	v := &View{
		id:       uuid.NewString(),
		created:  r.now().UTC(),
		log:      r.log,
		metrics:  r.metrics,
		cache:    r.cache,
		builder:  r.builder,
		attached: make(map[catalog.Key]*layers.Layer),
		wanted:   make(map[catalog.Key]uint64),
	}
	r.mu.Lock()
	r.views[v.id] = v
	r.mu.Unlock()
	r.log.Debug().Str("view_id", v.id).Msg("view created")
	return v
}

func (r *Registry) Get(id string) (*View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Delete drops a view. Cached layers are shared and stay loaded.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[id]; !ok {
		return ErrNotFound
	}
	delete(r.views, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}
