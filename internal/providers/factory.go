package providers

import (
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"ai_gateway/internal/config"
	"ai_gateway/internal/models"
)

// CloudBackend is a configured cloud provider together with the models it
// is known to serve.
type CloudBackend struct {
	Name         string
	Type         models.ProviderType
	Adapter      Adapter
	DefaultModel string
	Models       []string
}

// Offers reports whether model is in the provider's catalogue. An empty
// catalogue accepts any model.
func (b CloudBackend) Offers(model string) bool {
	if model == "" {
		return false
	}
	if len(b.Models) == 0 {
		return true
	}
	return slices.Contains(b.Models, model)
}

// Factory builds adapters over a shared HTTP client.
type Factory struct {
	client  *http.Client
	timeout time.Duration
	mock    *MockAdapter
	prober  *OllamaProber

	mu     sync.RWMutex
	clouds map[string]CloudBackend
	order  []string
}

// NewFactory creates a factory for the given cloud providers.
func NewFactory(clouds []config.CloudProviderConfig, timeout time.Duration) (*Factory, error) {
	client := NewHTTPClient()
	f := &Factory{
		client:  client,
		timeout: timeout,
		mock:    NewMockAdapter(),
		prober:  NewOllamaProber(client),
	}
	if err := f.SetCloudProviders(clouds); err != nil {
		return nil, err
	}
	return f, nil
}

// SetCloudProviders replaces the cloud catalogue. Used on config reload.
func (f *Factory) SetCloudProviders(clouds []config.CloudProviderConfig) error {
	backends := make(map[string]CloudBackend, len(clouds))
	order := make([]string, 0, len(clouds))

	for _, c := range clouds {
		if !models.ValidProviderName(c.Name) {
			return fmt.Errorf("cloud provider %q: %w", c.Name, models.ErrInvalidProviderID)
		}
		if _, dup := backends[c.Name]; dup {
			return fmt.Errorf("duplicate cloud provider %q", c.Name)
		}

		typ := models.ProviderType(c.Type)
		var adapter Adapter
		switch typ {
		case models.ProviderTypeOpenAI:
			adapter = NewOpenAIAdapter(c.Name, c.BaseURL, f.client, f.timeout)
		case models.ProviderTypeGemini:
			adapter = NewGeminiAdapter(c.Name, c.BaseURL, f.client, f.timeout)
		default:
			return fmt.Errorf("cloud provider %q: unsupported type %q", c.Name, c.Type)
		}

		backends[c.Name] = CloudBackend{
			Name:         c.Name,
			Type:         typ,
			Adapter:      adapter,
			DefaultModel: c.DefaultModel,
			Models:       slices.Clone(c.Models),
		}
		order = append(order, c.Name)
	}

	f.mu.Lock()
	f.clouds = backends
	f.order = order
	f.mu.Unlock()
	return nil
}

// Cloud looks up a configured cloud provider by name
func (f *Factory) Cloud(name string) (CloudBackend, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.clouds[name]
	return b, ok
}

// CloudNames lists configured cloud providers in configuration order
func (f *Factory) CloudNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.order)
}

// Node returns an adapter bound to one inference node
func (f *Factory) Node(node models.InferenceNode) Adapter {
	return NewOllamaAdapter(node, f.client, f.timeout)
}

// Mock returns the mock adapter
func (f *Factory) Mock() Adapter {
	return f.mock
}

// Prober returns the model-listing client used by health checks
func (f *Factory) Prober() *OllamaProber {
	return f.prober
}

// Close releases idle connections
func (f *Factory) Close() {
	f.client.CloseIdleConnections()
}
