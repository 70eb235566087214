package nodes

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"ai_gateway/internal/models"
	"ai_gateway/internal/storage"
)

// MemoryStore is a process-local Store. Ids increase monotonically and are
// never reused.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	nodes  map[int64]models.InferenceNode
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[int64]models.InferenceNode)}
}

func (s *MemoryStore) Create(ctx context.Context, node *models.InferenceNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	node.ID = s.nextID
	node.CreatedAt = time.Now().UTC()
	if node.Status == "" {
		node.Status = models.HealthUnknown
	}
	s.nodes[node.ID] = *node
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.InferenceNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.InferenceNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		n := n
		n.AdvertisedModels = slices.Clone(n.AdvertisedModels)
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveHealth(ctx context.Context, id int64, health models.NodeHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return storage.ErrNodeNotFound
	}
	n.NodeHealth = health
	s.nodes[id] = n
	return nil
}
