// Package nodes tracks self-hosted inference nodes and their health.
package nodes

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ai_gateway/internal/clock"
	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/models"
	"ai_gateway/internal/storage"
)

// DefaultHealthTimeout bounds a single health probe.
const DefaultHealthTimeout = 5 * time.Second

// NodeSpec is the administrator's input when registering a node.
type NodeSpec struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	IsPublic bool   `json:"is_public"`
}

// Validate checks the spec before anything is stored.
func (s NodeSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return gwerr.Validation("name", "must not be empty")
	}
	if strings.TrimSpace(s.Hostname) == "" {
		return gwerr.Validation("hostname", "must not be empty")
	}
	if strings.ContainsAny(s.Hostname, "/ ") {
		return gwerr.Validation("hostname", "must be a bare host name or address")
	}
	if s.Port < 1 || s.Port > 65535 {
		return gwerr.Validation("port", "must be between 1 and 65535, got %d", s.Port)
	}
	return nil
}

// Store persists nodes. Create assigns the id.
type Store interface {
	Create(ctx context.Context, node *models.InferenceNode) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*models.InferenceNode, error)
	SaveHealth(ctx context.Context, id int64, health models.NodeHealth) error
}

// Prober asks a node which models it serves. A nil error means reachable.
type Prober interface {
	ListModels(ctx context.Context, node models.InferenceNode) ([]string, error)
}

// HealthListener is told when a node's status changes.
type HealthListener interface {
	NodeHealthChanged(ctx context.Context, node models.InferenceNode)
}

// RemovalListener may be implemented by a HealthListener that keeps
// per-node state.
type RemovalListener interface {
	NodeRemoved(node models.InferenceNode)
}

type entry struct {
	node   models.InferenceNode // static fields only
	health atomic.Pointer[models.NodeHealth]
}

func (e *entry) snapshot() models.InferenceNode {
	n := e.node
	n.NodeHealth = *e.health.Load()
	n.AdvertisedModels = slices.Clone(n.AdvertisedModels)
	return n
}

// Registry is the in-memory view of all nodes. Health is swapped as one
// immutable value so readers never see a partial update.
type Registry struct {
	store     Store
	prober    Prober
	clock     clock.Clock
	timeout   time.Duration
	listeners []HealthListener
	logger    *logging.Logger

	mu    sync.RWMutex
	nodes map[int64]*entry
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithHealthTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithListener(l HealthListener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, l) }
}

// NewRegistry creates an empty registry. Call Load to restore stored nodes.
func NewRegistry(store Store, prober Prober, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		prober:  prober,
		clock:   clock.Real(),
		timeout: DefaultHealthTimeout,
		logger:  logging.NewLogger("registry"),
		nodes:   make(map[int64]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newEntry(node models.InferenceNode) *entry {
	health := node.NodeHealth
	if health.Status == "" {
		health.Status = models.HealthUnknown
	}
	node.NodeHealth = models.NodeHealth{}

	e := &entry{node: node}
	e.health.Store(&health)
	return e
}

// Load replaces the in-memory view with the stored nodes.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.store.List(ctx)
	if err != nil {
		return err
	}

	nodes := make(map[int64]*entry, len(stored))
	for _, n := range stored {
		nodes[n.ID] = newEntry(*n)
	}

	r.mu.Lock()
	r.nodes = nodes
	r.mu.Unlock()

	r.logger.Info("Nodes loaded", "count", len(nodes))
	return nil
}

// Register validates and stores a new node with unknown health.
func (r *Registry) Register(ctx context.Context, spec NodeSpec) (*models.InferenceNode, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	node := &models.InferenceNode{
		Name:     strings.TrimSpace(spec.Name),
		Hostname: strings.TrimSpace(spec.Hostname),
		Port:     spec.Port,
		IsPublic: spec.IsPublic,
		NodeHealth: models.NodeHealth{
			Status: models.HealthUnknown,
		},
	}
	if err := r.store.Create(ctx, node); err != nil {
		return nil, err
	}

	e := newEntry(*node)
	r.mu.Lock()
	r.nodes[node.ID] = e
	r.mu.Unlock()

	r.logger.Info("Node registered", "node_id", node.ID, "name", node.Name, "address", node.BaseURL(), "public", node.IsPublic)
	out := e.snapshot()
	return &out, nil
}

// Remove deletes a node. Unknown ids are ignored.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	e, existed := r.nodes[id]
	delete(r.nodes, id)
	r.mu.Unlock()

	if !existed {
		return nil
	}
	r.logger.Info("Node removed", "node_id", id)
	node := e.snapshot()
	for _, l := range r.listeners {
		if rl, ok := l.(RemovalListener); ok {
			rl.NodeRemoved(node)
		}
	}
	return nil
}

func (r *Registry) entry(id int64) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[id]
}

// Get returns a snapshot of one node.
func (r *Registry) Get(id int64) (models.InferenceNode, bool) {
	e := r.entry(id)
	if e == nil {
		return models.InferenceNode{}, false
	}
	return e.snapshot(), true
}

// List returns every node, online or not, ordered by id.
func (r *Registry) List() []models.InferenceNode {
	r.mu.RLock()
	out := make([]models.InferenceNode, 0, len(r.nodes))
	for _, e := range r.nodes {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CheckHealth probes one node and records the result. It never fails; an
// unknown id reports unknown health.
func (r *Registry) CheckHealth(ctx context.Context, id int64) models.NodeHealth {
	e := r.entry(id)
	if e == nil {
		return models.NodeHealth{Status: models.HealthUnknown}
	}
	node := e.snapshot()

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	start := r.clock.Now()
	advertised, err := r.prober.ListModels(probeCtx, node)
	elapsed := r.clock.Since(start)
	cancel()

	prev := e.health.Load()
	next := *prev
	if err != nil {
		next.Status = models.HealthOffline
	} else {
		seen := r.clock.Now()
		latency := elapsed.Milliseconds()
		next = models.NodeHealth{
			Status:             models.HealthOnline,
			LastSeen:           &seen,
			AdvertisedModels:   advertised,
			LastResponseTimeMS: &latency,
		}
	}

	if !r.storeHealth(id, e, &next) {
		return next
	}

	if err := r.store.SaveHealth(ctx, id, next); err != nil && !errors.Is(err, storage.ErrNodeNotFound) {
		r.logger.Warn("Failed to persist node health", "node_id", id, "error", err)
	}

	if prev.Status != next.Status {
		if err != nil {
			r.logger.Warn("Node went offline", "node_id", id, "name", node.Name, "error", err)
		} else {
			r.logger.Info("Node is online", "node_id", id, "name", node.Name, "models", len(next.AdvertisedModels), "latency_ms", *next.LastResponseTimeMS)
		}
		node.NodeHealth = next
		r.notify(ctx, node)
	}

	return next
}

// storeHealth publishes h on e unless e was removed while its probe was in
// flight. The check and the store share the read lock so Remove cannot land
// between them.
func (r *Registry) storeHealth(id int64, e *entry, h *models.NodeHealth) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.nodes[id] != e {
		return false
	}
	e.health.Store(h)
	return true
}

func (r *Registry) notify(ctx context.Context, node models.InferenceNode) {
	for _, l := range r.listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("Health listener panicked", "node_id", node.ID, "panic", rec)
				}
			}()
			l.NodeHealthChanged(ctx, node)
		}()
	}
}

// CheckAll probes every node concurrently and waits for all probes.
func (r *Registry) CheckAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r.CheckHealth(ctx, id)
		}(id)
	}
	wg.Wait()
}

// ListCandidates returns online nodes that can serve model, fastest first.
// An empty model matches any online node. Nodes without a measured latency
// sort last; ties break by id.
func (r *Registry) ListCandidates(model string, publicOnly bool) []models.InferenceNode {
	var out []models.InferenceNode
	for _, n := range r.List() {
		if !n.Online() {
			continue
		}
		if publicOnly && !n.IsPublic {
			continue
		}
		if model != "" && !n.Advertises(model) {
			continue
		}
		out = append(out, n)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastResponseTimeMS, out[j].LastResponseTimeMS
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a < *b
		default:
			return out[i].ID < out[j].ID
		}
	})
	return out
}
