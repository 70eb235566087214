package nodes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_gateway/internal/clock"
	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
)

type probeResult struct {
	models  []string
	err     error
	latency time.Duration
	block   chan struct{}
}

type fakeProber struct {
	clock *clock.Manual

	mu      sync.Mutex
	results map[int64]probeResult
	calls   map[int64]int
}

func newFakeProber(clk *clock.Manual) *fakeProber {
	return &fakeProber{
		clock:   clk,
		results: make(map[int64]probeResult),
		calls:   make(map[int64]int),
	}
}

func (p *fakeProber) set(id int64, r probeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[id] = r
}

func (p *fakeProber) callCount(id int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func (p *fakeProber) ListModels(ctx context.Context, node models.InferenceNode) ([]string, error) {
	p.mu.Lock()
	r, ok := p.results[node.ID]
	p.calls[node.ID]++
	p.mu.Unlock()

	if !ok {
		return nil, errors.New("connection refused")
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.latency > 0 {
		p.clock.Advance(r.latency)
	}
	return r.models, r.err
}

type recordingListener struct {
	mu      sync.Mutex
	events  []models.InferenceNode
	removed []int64
}

func (l *recordingListener) NodeHealthChanged(ctx context.Context, node models.InferenceNode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, node)
}

func (l *recordingListener) NodeRemoved(node models.InferenceNode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, node.ID)
}

func (l *recordingListener) statuses() []models.HealthStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.HealthStatus, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Status)
	}
	return out
}

func setupRegistry(t *testing.T, opts ...Option) (*Registry, *fakeProber, *clock.Manual, *MemoryStore) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	prober := newFakeProber(clk)
	store := NewMemoryStore()
	opts = append([]Option{WithClock(clk)}, opts...)
	return NewRegistry(store, prober, opts...), prober, clk, store
}

func register(t *testing.T, r *Registry, name string, public bool) models.InferenceNode {
	t.Helper()
	n, err := r.Register(context.Background(), NodeSpec{Name: name, Hostname: "10.0.0.1", Port: 11434, IsPublic: public})
	require.NoError(t, err)
	return *n
}

func TestRegistry_Register(t *testing.T) {
	r, _, _, _ := setupRegistry(t)

	first := register(t, r, "Mac M1 Studio", true)
	second := register(t, r, "Lab GPU", false)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, models.HealthUnknown, first.Status)
	assert.Nil(t, first.LastSeen)
	assert.Empty(t, first.AdvertisedModels)

	got, ok := r.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, "Mac M1 Studio", got.Name)
	assert.Len(t, r.List(), 2)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r, _, _, _ := setupRegistry(t)

	tests := []struct {
		name  string
		spec  NodeSpec
		field string
	}{
		{"empty name", NodeSpec{Hostname: "h", Port: 1}, "name"},
		{"empty host", NodeSpec{Name: "n", Port: 1}, "hostname"},
		{"url as host", NodeSpec{Name: "n", Hostname: "http://h/", Port: 1}, "hostname"},
		{"port zero", NodeSpec{Name: "n", Hostname: "h", Port: 0}, "port"},
		{"port too large", NodeSpec{Name: "n", Hostname: "h", Port: 70000}, "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(context.Background(), tt.spec)
			var ve *gwerr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Empty(t, r.List())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	listener := &recordingListener{}
	r, _, _, _ := setupRegistry(t, WithListener(listener))
	n := register(t, r, "a", true)

	require.NoError(t, r.Remove(context.Background(), n.ID))
	require.NoError(t, r.Remove(context.Background(), n.ID))
	require.NoError(t, r.Remove(context.Background(), 999))

	_, ok := r.Get(n.ID)
	assert.False(t, ok)
	assert.Equal(t, []int64{n.ID}, listener.removed)
}

func TestRegistry_CheckHealthOnline(t *testing.T) {
	r, prober, clk, store := setupRegistry(t)
	n := register(t, r, "a", true)
	prober.set(n.ID, probeResult{models: []string{"llama3", "mistral"}, latency: 42 * time.Millisecond})

	h := r.CheckHealth(context.Background(), n.ID)
	assert.Equal(t, models.HealthOnline, h.Status)
	require.NotNil(t, h.LastSeen)
	assert.Equal(t, clk.Now(), *h.LastSeen)
	require.NotNil(t, h.LastResponseTimeMS)
	assert.Equal(t, int64(42), *h.LastResponseTimeMS)
	assert.Equal(t, []string{"llama3", "mistral"}, []string(h.AdvertisedModels))

	// Persisted through the store
	stored, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.HealthOnline, stored[0].Status)
}

func TestRegistry_CheckHealthFailureKeepsModels(t *testing.T) {
	r, prober, _, _ := setupRegistry(t)
	n := register(t, r, "a", true)
	prober.set(n.ID, probeResult{models: []string{"llama3"}, latency: 10 * time.Millisecond})

	online := r.CheckHealth(context.Background(), n.ID)
	require.Equal(t, models.HealthOnline, online.Status)

	prober.set(n.ID, probeResult{err: errors.New("connection refused")})
	offline := r.CheckHealth(context.Background(), n.ID)

	assert.Equal(t, models.HealthOffline, offline.Status)
	assert.Equal(t, []string{"llama3"}, []string(offline.AdvertisedModels))
	assert.Equal(t, online.LastSeen, offline.LastSeen)
}

func TestRegistry_CheckHealthUnknownNode(t *testing.T) {
	r, _, _, _ := setupRegistry(t)
	h := r.CheckHealth(context.Background(), 404)
	assert.Equal(t, models.HealthUnknown, h.Status)
}

func TestRegistry_CheckHealthTimeout(t *testing.T) {
	r, prober, _, _ := setupRegistry(t, WithHealthTimeout(20*time.Millisecond))
	n := register(t, r, "slow", true)
	prober.set(n.ID, probeResult{block: make(chan struct{})})

	h := r.CheckHealth(context.Background(), n.ID)
	assert.Equal(t, models.HealthOffline, h.Status)
}

func TestRegistry_RemovedDuringProbe(t *testing.T) {
	listener := &recordingListener{}
	r, prober, _, store := setupRegistry(t, WithListener(listener))
	n := register(t, r, "a", true)
	release := make(chan struct{})
	prober.set(n.ID, probeResult{models: []string{"llama3"}, block: release})

	done := make(chan models.NodeHealth)
	go func() { done <- r.CheckHealth(context.Background(), n.ID) }()

	require.Eventually(t, func() bool { return prober.callCount(n.ID) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, r.Remove(context.Background(), n.ID))
	close(release)
	health := <-done
	assert.Equal(t, models.HealthOnline, health.Status)

	_, ok := r.Get(n.ID)
	assert.False(t, ok, "probe result must not resurrect a removed node")
	assert.Empty(t, listener.statuses(), "no health transition for a removed node")
	assert.Equal(t, []int64{n.ID}, listener.removed)
	stored, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRegistry_CheckAllIsConcurrent(t *testing.T) {
	r, prober, _, _ := setupRegistry(t)
	slow := register(t, r, "slow", true)
	fast := register(t, r, "fast", true)

	release := make(chan struct{})
	prober.set(slow.ID, probeResult{models: []string{"a"}, block: release})
	prober.set(fast.ID, probeResult{models: []string{"b"}})

	done := make(chan struct{})
	go func() {
		r.CheckAll(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, _ := r.Get(fast.ID)
		return n.Online()
	}, time.Second, time.Millisecond, "fast node must not wait for the slow one")

	close(release)
	<-done
	n, _ := r.Get(slow.ID)
	assert.True(t, n.Online())
}

func TestRegistry_ListCandidates(t *testing.T) {
	r, prober, _, _ := setupRegistry(t)
	ctx := context.Background()

	a := register(t, r, "a", true)
	b := register(t, r, "b", true)
	c := register(t, r, "c", false)
	d := register(t, r, "d", true)
	e := register(t, r, "e", true)

	prober.set(a.ID, probeResult{models: []string{"llama3"}, latency: 80 * time.Millisecond})
	prober.set(b.ID, probeResult{models: []string{"llama3", "mistral"}, latency: 20 * time.Millisecond})
	prober.set(c.ID, probeResult{models: []string{"llama3"}, latency: 5 * time.Millisecond})
	prober.set(d.ID, probeResult{models: []string{"llama3"}, latency: 20 * time.Millisecond})
	// e stays offline
	for _, id := range []int64{a.ID, b.ID, c.ID, d.ID, e.ID} {
		r.CheckHealth(ctx, id)
	}

	ids := func(nodes []models.InferenceNode) []int64 {
		out := make([]int64, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, n.ID)
		}
		return out
	}

	assert.Equal(t, []int64{c.ID, b.ID, d.ID, a.ID}, ids(r.ListCandidates("llama3", false)))
	assert.Equal(t, []int64{b.ID, d.ID, a.ID}, ids(r.ListCandidates("llama3", true)))
	assert.Equal(t, []int64{b.ID}, ids(r.ListCandidates("mistral", true)))
	assert.Empty(t, r.ListCandidates("phi3", false))
	assert.Len(t, r.ListCandidates("", false), 4)
}

func TestRegistry_ListenersOnTransitionOnly(t *testing.T) {
	listener := &recordingListener{}
	r, prober, _, _ := setupRegistry(t, WithListener(listener))
	n := register(t, r, "a", true)
	ctx := context.Background()

	prober.set(n.ID, probeResult{models: []string{"x"}})
	r.CheckHealth(ctx, n.ID)
	r.CheckHealth(ctx, n.ID)
	prober.set(n.ID, probeResult{err: errors.New("down")})
	r.CheckHealth(ctx, n.ID)

	assert.Equal(t, []models.HealthStatus{models.HealthOnline, models.HealthOffline}, listener.statuses())
}

type panickingListener struct{}

func (panickingListener) NodeHealthChanged(context.Context, models.InferenceNode) { panic("boom") }

func TestRegistry_ListenerPanicIsContained(t *testing.T) {
	r, prober, _, _ := setupRegistry(t, WithListener(panickingListener{}))
	n := register(t, r, "a", true)
	prober.set(n.ID, probeResult{models: []string{"x"}})

	assert.NotPanics(t, func() { r.CheckHealth(context.Background(), n.ID) })
	got, _ := r.Get(n.ID)
	assert.True(t, got.Online())
}

func TestRegistry_Load(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seen := time.Now().UTC()
	require.NoError(t, store.Create(ctx, &models.InferenceNode{
		Name: "restored", Hostname: "h", Port: 1,
		NodeHealth: models.NodeHealth{Status: models.HealthOnline, LastSeen: &seen, AdvertisedModels: []string{"llama3"}},
	}))

	r := NewRegistry(store, newFakeProber(clock.NewManual(seen)))
	require.NoError(t, r.Load(ctx))

	nodes := r.List()
	require.Len(t, nodes, 1)
	assert.Equal(t, "restored", nodes[0].Name)
	assert.True(t, nodes[0].Advertises("llama3"))
}

func TestRegistry_SnapshotsAreIndependent(t *testing.T) {
	r, prober, _, _ := setupRegistry(t)
	n := register(t, r, "a", true)
	prober.set(n.ID, probeResult{models: []string{"llama3"}})
	r.CheckHealth(context.Background(), n.ID)

	snap, _ := r.Get(n.ID)
	snap.AdvertisedModels[0] = "tampered"

	again, _ := r.Get(n.ID)
	assert.Equal(t, "llama3", again.AdvertisedModels[0])
}
