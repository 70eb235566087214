package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_gateway/internal/config"
	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
)

type stubAdapter struct {
	kind models.ProviderKind
}

func (a *stubAdapter) Kind() models.ProviderKind { return a.kind }

func (a *stubAdapter) Generate(context.Context, providers.GenerateRequest) (*providers.Reply, error) {
	return &providers.Reply{Text: "ok"}, nil
}

func (a *stubAdapter) GenerateStream(context.Context, providers.GenerateRequest) (providers.Stream, error) {
	return nil, errors.New("not implemented")
}

type fakeNodes struct {
	nodes map[int64]models.InferenceNode
}

func (f *fakeNodes) add(id int64, name string, public bool, status models.HealthStatus, latency *int64, advertised ...string) {
	if f.nodes == nil {
		f.nodes = make(map[int64]models.InferenceNode)
	}
	f.nodes[id] = models.InferenceNode{
		ID: id, Name: name, Hostname: "10.0.0.1", Port: 11434, IsPublic: public,
		NodeHealth: models.NodeHealth{Status: status, AdvertisedModels: advertised, LastResponseTimeMS: latency},
	}
}

func (f *fakeNodes) Get(id int64) (models.InferenceNode, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

func (f *fakeNodes) ListCandidates(model string, publicOnly bool) []models.InferenceNode {
	var out []models.InferenceNode
	for _, n := range f.nodes {
		if !n.Online() || (publicOnly && !n.IsPublic) || (model != "" && !n.Advertises(model)) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastResponseTimeMS, out[j].LastResponseTimeMS
		if a != nil && b != nil && *a != *b {
			return *a < *b
		}
		if (a == nil) != (b == nil) {
			return a != nil
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type fakeBackends struct {
	clouds map[string]providers.CloudBackend
	order  []string
	mock   providers.Adapter
}

func newFakeBackends(clouds ...providers.CloudBackend) *fakeBackends {
	b := &fakeBackends{clouds: make(map[string]providers.CloudBackend), mock: providers.NewMockAdapter()}
	for _, c := range clouds {
		c.Adapter = &stubAdapter{kind: models.CloudProvider(c.Name)}
		b.clouds[c.Name] = c
		b.order = append(b.order, c.Name)
	}
	return b
}

func (b *fakeBackends) Cloud(name string) (providers.CloudBackend, bool) {
	c, ok := b.clouds[name]
	return c, ok
}

func (b *fakeBackends) CloudNames() []string { return b.order }

func (b *fakeBackends) Node(n models.InferenceNode) providers.Adapter {
	return &stubAdapter{kind: models.SelfHostedNode(n.ID)}
}

func (b *fakeBackends) Mock() providers.Adapter { return b.mock }

type fakeCreds struct {
	keys map[string]string // "<user>/<provider>" -> default model
	err  error
}

func (c *fakeCreds) key(userID int64, provider string) string {
	return fmt.Sprintf("%d/%s", userID, provider)
}

func (c *fakeCreds) grant(userID int64, provider, defaultModel string) {
	if c.keys == nil {
		c.keys = make(map[string]string)
	}
	c.keys[c.key(userID, provider)] = defaultModel
}

func (c *fakeCreds) Has(ctx context.Context, userID int64, provider string) (bool, string, error) {
	if c.err != nil {
		return false, "", c.err
	}
	m, ok := c.keys[c.key(userID, provider)]
	return ok, m, nil
}

func (c *fakeCreds) Source(userID int64, provider string) providers.CredentialSource {
	return func(context.Context) (string, error) { return "sk-" + provider, nil }
}

func ms(v int64) *int64 { return &v }

func defaultRouting() config.RoutingConfig {
	return config.RoutingConfig{
		DefaultProvider: "openai",
		FallbackOrder:   []string{config.StageNodes, config.StageCloud, config.StageMock},
		MaxAttempts:     3,
		MockEnabled:     true,
	}
}

func openAIBackend() providers.CloudBackend {
	return providers.CloudBackend{
		Name:         "openai",
		Type:         models.ProviderTypeOpenAI,
		DefaultModel: "gpt-4o-mini",
		Models:       []string{"gpt-4o-mini", "gpt-4o"},
	}
}

type fixture struct {
	nodes    *fakeNodes
	backends *fakeBackends
	creds    *fakeCreds
	router   *Router
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		nodes:    &fakeNodes{},
		backends: newFakeBackends(openAIBackend()),
		creds:    &fakeCreds{},
	}
	r, err := New(f.nodes, f.backends, f.creds, defaultRouting())
	require.NoError(t, err)
	f.router = r
	return f
}

func request(model string) *models.GenerationRequest {
	return &models.GenerationRequest{Prompt: "hello", Model: model, UserID: 1}
}

func TestResolve_NoModelPrefersOnlineNode(t *testing.T) {
	f := setup(t)
	f.creds.grant(1, "openai", "")
	f.nodes.add(1, "Mac M1 Studio", true, models.HealthOnline, ms(40), "llama3.1")

	route, err := f.router.Resolve(context.Background(), request(""), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "client:1:llama3.1", route.Route())
	assert.Equal(t, "Mac M1 Studio (llama3.1)", route.Display)
	assert.False(t, route.Explicit)
	assert.Nil(t, route.Credential)
}

func TestResolve_NoModelPicksConfiguredDefaultOnNode(t *testing.T) {
	f := setup(t)
	cfg := defaultRouting()
	cfg.DefaultModel = "mistral"
	require.NoError(t, f.router.SetConfig(cfg))
	f.nodes.add(1, "box", true, models.HealthOnline, ms(10), "llama3", "mistral")

	route, err := f.router.Resolve(context.Background(), request(""), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "client:1:mistral", route.Route())
}

func TestResolve_BareModelFastestNode(t *testing.T) {
	f := setup(t)
	f.nodes.add(1, "slow", true, models.HealthOnline, ms(50), "llama3")
	f.nodes.add(2, "fast", true, models.HealthOnline, ms(10), "llama3")
	f.nodes.add(3, "unmeasured", true, models.HealthOnline, nil, "llama3")

	routes, _ := f.router.Candidates(context.Background(), request("llama3"))
	var got []string
	for _, r := range routes {
		got = append(got, r.Route())
	}
	assert.Equal(t, []string{"client:2:llama3", "client:1:llama3", "client:3:llama3", "mock:llama3"}, got)
}

func TestResolve_BareModelWithTagIsNotExplicit(t *testing.T) {
	f := setup(t)
	f.nodes.add(4, "box", true, models.HealthOnline, ms(5), "llama3.1:8b")

	route, err := f.router.Resolve(context.Background(), request("llama3.1:8b"), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "client:4:llama3.1:8b", route.Route())
	assert.False(t, route.Explicit)
}

func TestResolve_NoNodesUsesDefaultCloud(t *testing.T) {
	f := setup(t)
	f.creds.grant(1, "openai", "")

	route, err := f.router.Resolve(context.Background(), request(""), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o-mini", route.Route())
	assert.Equal(t, "openai:gpt-4o-mini", route.Display)
	require.NotNil(t, route.Credential)
}

func TestResolve_CloudModelSelection(t *testing.T) {
	tests := []struct {
		name        string
		requested   string
		userDefault string
		deployment  string
		want        string
	}{
		{"offered bare model", "gpt-4o", "", "", "openai:gpt-4o"},
		{"user default", "", "gpt-4o", "", "openai:gpt-4o"},
		{"unknown bare model uses user default", "llama3", "gpt-4o", "", "openai:gpt-4o"},
		{"deployment default", "", "", "gpt-4o", "openai:gpt-4o"},
		{"provider default", "llama3", "", "", "openai:gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			cfg := defaultRouting()
			cfg.DefaultModel = tt.deployment
			require.NoError(t, f.router.SetConfig(cfg))
			f.creds.grant(1, "openai", tt.userDefault)

			route, err := f.router.Resolve(context.Background(), request(tt.requested), Exclusions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, route.Route())
		})
	}
}

func TestResolve_NoCredentialFallsToMock(t *testing.T) {
	f := setup(t)

	route, err := f.router.Resolve(context.Background(), request(""), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "mock:echo", route.Route())
}

func TestResolve_ExplicitNodeOfflineDoesNotFallBack(t *testing.T) {
	f := setup(t)
	f.creds.grant(1, "openai", "")
	f.nodes.add(1, "Mac M1 Studio", true, models.HealthOffline, ms(10), "llama3")

	_, err := f.router.Resolve(context.Background(), request("client:1:llama3"), Exclusions{})
	var rpu *gwerr.RequestedProviderUnavailableError
	require.ErrorAs(t, err, &rpu)
	assert.Equal(t, "client:1:llama3", rpu.Identifier)
	assert.Contains(t, rpu.Reason, "Mac M1 Studio is offline")
}

func TestResolve_ExplicitMissingNode(t *testing.T) {
	f := setup(t)

	_, err := f.router.Resolve(context.Background(), request("client:99:llama3"), Exclusions{})
	var rpu *gwerr.RequestedProviderUnavailableError
	require.ErrorAs(t, err, &rpu)
	assert.Contains(t, rpu.Error(), "99")
}

func TestResolve_ExplicitNodeChecks(t *testing.T) {
	f := setup(t)
	f.nodes.add(1, "private", false, models.HealthOnline, ms(10), "llama3")
	f.nodes.add(2, "public", true, models.HealthOnline, ms(10), "llama3")

	_, err := f.router.Resolve(context.Background(), request("client:1:llama3"), Exclusions{})
	assert.Equal(t, gwerr.KindRequestedProviderUnavailable, gwerr.KindOf(err))

	admin := request("client:1:llama3")
	admin.Admin = true
	route, err := f.router.Resolve(context.Background(), admin, Exclusions{})
	require.NoError(t, err)
	assert.True(t, route.Explicit)
	assert.Equal(t, "private (llama3)", route.Display)

	_, err = f.router.Resolve(context.Background(), request("client:2:phi3"), Exclusions{})
	var rpu *gwerr.RequestedProviderUnavailableError
	require.ErrorAs(t, err, &rpu)
	assert.Contains(t, rpu.Reason, "does not serve phi3")
}

func TestResolve_ExplicitCloud(t *testing.T) {
	f := setup(t)

	_, err := f.router.Resolve(context.Background(), request("openai:gpt-4o"), Exclusions{})
	assert.Equal(t, gwerr.KindRequestedProviderUnavailable, gwerr.KindOf(err))

	f.creds.grant(1, "openai", "")
	route, err := f.router.Resolve(context.Background(), request("openai:gpt-4o"), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o", route.Route())
	assert.True(t, route.Explicit)

	key, err := route.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", key)

	// gemini is a known provider type but not configured here
	_, err = f.router.Resolve(context.Background(), request("gemini:gemini-pro"), Exclusions{})
	var rpu *gwerr.RequestedProviderUnavailableError
	require.ErrorAs(t, err, &rpu)
	assert.Contains(t, rpu.Reason, "not configured")
}

func TestResolve_ExplicitCredentialLookupError(t *testing.T) {
	f := setup(t)
	f.creds.err = errors.New("database down")

	_, err := f.router.Resolve(context.Background(), request("openai:gpt-4o"), Exclusions{})
	require.Error(t, err)
	assert.Equal(t, gwerr.KindInternal, gwerr.KindOf(err))

	// In the fallback chain the failure only skips the cloud stage
	route, err := f.router.Resolve(context.Background(), request(""), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "mock:echo", route.Route())
}

func TestResolve_ExplicitMock(t *testing.T) {
	f := setup(t)
	route, err := f.router.Resolve(context.Background(), request("mock:echo"), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "mock:echo", route.Route())

	cfg := defaultRouting()
	cfg.MockEnabled = false
	require.NoError(t, f.router.SetConfig(cfg))
	_, err = f.router.Resolve(context.Background(), request("mock:echo"), Exclusions{})
	assert.Equal(t, gwerr.KindRequestedProviderUnavailable, gwerr.KindOf(err))
}

func TestResolve_MalformedExplicit(t *testing.T) {
	f := setup(t)
	for _, model := range []string{"client:abc:llama3", "client:0:llama3", "client:1:", "mock:"} {
		_, err := f.router.Resolve(context.Background(), request(model), Exclusions{})
		assert.Equal(t, gwerr.KindValidation, gwerr.KindOf(err), model)
	}
}

func TestResolve_ExclusionsWalkTheChain(t *testing.T) {
	f := setup(t)
	f.creds.grant(1, "openai", "")
	f.nodes.add(1, "a", true, models.HealthOnline, ms(10), "llama3")
	f.nodes.add(2, "b", true, models.HealthOnline, ms(20), "llama3")

	excluded := Exclusions{}
	var order []string
	for {
		route, err := f.router.Resolve(context.Background(), request("llama3"), excluded)
		if err != nil {
			assert.Equal(t, gwerr.KindNoAvailableProvider, gwerr.KindOf(err))
			break
		}
		order = append(order, route.Route())
		excluded.Add(route.Route())
	}

	assert.Equal(t, []string{"client:1:llama3", "client:2:llama3", "openai:gpt-4o-mini", "mock:llama3"}, order)
}

func TestResolve_ConfigurableOrder(t *testing.T) {
	f := setup(t)
	f.creds.grant(1, "openai", "")
	f.nodes.add(1, "a", true, models.HealthOnline, ms(10), "gpt-4o")

	cfg := defaultRouting()
	cfg.FallbackOrder = []string{config.StageCloud, config.StageNodes}
	require.NoError(t, f.router.SetConfig(cfg))

	route, err := f.router.Resolve(context.Background(), request("gpt-4o"), Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o", route.Route())

	route, err = f.router.Resolve(context.Background(), request("gpt-4o"), Exclusions{"openai:gpt-4o": {}})
	require.NoError(t, err)
	assert.Equal(t, "client:1:gpt-4o", route.Route())
}

func TestResolve_NothingAvailable(t *testing.T) {
	f := setup(t)
	cfg := defaultRouting()
	cfg.MockEnabled = false
	require.NoError(t, f.router.SetConfig(cfg))

	_, err := f.router.Resolve(context.Background(), request("llama3"), Exclusions{})
	var none *gwerr.NoAvailableProviderError
	require.ErrorAs(t, err, &none)
	assert.Equal(t, []gwerr.Attempt{
		{Route: "nodes", Reason: "no online node serves llama3"},
		{Route: "openai", Reason: "no API key configured"},
		{Route: "mock", Reason: "disabled"},
	}, none.Attempts)
}

func TestSetConfig_RejectsInvalid(t *testing.T) {
	f := setup(t)
	cfg := defaultRouting()
	cfg.FallbackOrder = []string{"nodes", "satellite"}
	assert.Error(t, f.router.SetConfig(cfg))
	assert.Equal(t, defaultRouting().FallbackOrder, f.router.Config().FallbackOrder)
}

func TestAvailable(t *testing.T) {
	f := setup(t)
	f.creds.grant(1, "openai", "gpt-4.1")
	f.nodes.add(1, "box", true, models.HealthOnline, ms(10), "llama3", "mistral")
	f.nodes.add(2, "private", false, models.HealthOnline, ms(10), "phi3")
	f.nodes.add(3, "down", true, models.HealthOffline, nil, "qwen")

	opts, err := f.router.Available(context.Background(), 1, false)
	require.NoError(t, err)

	var ids []string
	for _, o := range opts {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{
		"client:1:llama3", "client:1:mistral",
		"openai:gpt-4o-mini", "openai:gpt-4o", "openai:gpt-4.1",
		"mock:echo",
	}, ids)

	adminOpts, err := f.router.Available(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Len(t, adminOpts, len(opts)+1)
}
