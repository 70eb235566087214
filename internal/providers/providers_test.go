package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"ai_gateway/internal/config"
	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
)

func staticKey(key string) CredentialSource {
	return func(context.Context) (string, error) { return key, nil }
}

func testMessages() []models.Message {
	return []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "how are you"},
	}
}

func collect(t *testing.T, s Stream) (string, error) {
	t.Helper()
	var sb strings.Builder
	for s.Next() {
		sb.WriteString(s.Fragment())
	}
	return sb.String(), s.Err()
}

func TestOpenAIAdapter_Generate(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"fine, thanks"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`)
	}))
	defer server.Close()

	a := NewOpenAIAdapter("openai", server.URL, nil, time.Second)
	reply, err := a.Generate(context.Background(), GenerateRequest{
		Model:      "gpt-4o-mini",
		Messages:   testMessages(),
		Credential: staticKey("sk-test"),
	})
	require.NoError(t, err)
	assert.Equal(t, "fine, thanks", reply.Text)
	assert.Equal(t, 12, reply.PromptTokens)
	assert.Equal(t, 3, reply.CompletionTokens)

	assert.Equal(t, "gpt-4o-mini", gjson.GetBytes(body, "model").String())
	assert.False(t, gjson.GetBytes(body, "stream").Bool())
	assert.Equal(t, int64(3), gjson.GetBytes(body, "messages.#").Int())
	assert.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, "assistant", gjson.GetBytes(body, "messages.1.role").String())
}

func TestOpenAIAdapter_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		assert.True(t, gjson.GetBytes(body, "stream_options.include_usage").Bool())

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	a := NewOpenAIAdapter("openai", server.URL, nil, time.Second)
	s, err := a.GenerateStream(context.Background(), GenerateRequest{Model: "gpt-4o", Messages: testMessages(), Credential: staticKey("k")})
	require.NoError(t, err)
	defer s.Close()

	text, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	prompt, completion := s.(UsageReporter).Usage()
	assert.Equal(t, 5, prompt)
	assert.Equal(t, 2, completion)
}

func TestOpenAIAdapter_StreamTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer server.Close()

	a := NewOpenAIAdapter("openai", server.URL, nil, time.Second)
	s, err := a.GenerateStream(context.Background(), GenerateRequest{Model: "gpt-4o", Credential: staticKey("k")})
	require.NoError(t, err)

	text, err := collect(t, s)
	assert.Equal(t, "partial", text)
	require.Error(t, err)
	assert.True(t, gwerr.IsTransient(err))
}

func TestOpenAIAdapter_StatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		kind      gwerr.Kind
		transient bool
	}{
		{http.StatusUnauthorized, gwerr.KindAuthentication, false},
		{http.StatusForbidden, gwerr.KindAuthentication, false},
		{http.StatusTooManyRequests, gwerr.KindProvider, true},
		{http.StatusBadGateway, gwerr.KindProvider, true},
		{http.StatusServiceUnavailable, gwerr.KindProvider, true},
		{http.StatusGatewayTimeout, gwerr.KindTimeout, true},
		{http.StatusBadRequest, gwerr.KindProvider, false},
		{http.StatusNotFound, gwerr.KindProvider, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"upstream says no","type":"x"}}`)
			}))
			defer server.Close()

			a := NewOpenAIAdapter("openai", server.URL, nil, time.Second)
			_, err := a.Generate(context.Background(), GenerateRequest{Model: "m", Credential: staticKey("k")})
			require.Error(t, err)
			assert.Equal(t, tt.kind, gwerr.KindOf(err))
			assert.Equal(t, tt.transient, gwerr.IsTransient(err))
			assert.Contains(t, err.Error(), "upstream says no")
		})
	}
}

func TestOpenAIAdapter_MissingCredential(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	a := NewOpenAIAdapter("openai", server.URL, nil, time.Second)
	failing := func(context.Context) (string, error) { return "", errors.New("decrypt failed") }

	_, err := a.Generate(context.Background(), GenerateRequest{Model: "m", Credential: failing})
	require.Error(t, err)
	assert.True(t, gwerr.IsAuthentication(err))
	assert.False(t, called, "no request must be sent without a key")
}

func TestOpenAIAdapter_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	a := NewOpenAIAdapter("openai", server.URL, nil, 50*time.Millisecond)
	_, err := a.Generate(context.Background(), GenerateRequest{Model: "m", Credential: staticKey("k")})
	require.Error(t, err)
	assert.Equal(t, gwerr.KindTimeout, gwerr.KindOf(err))
	assert.True(t, gwerr.IsTransient(err))
}

func TestOpenAIAdapter_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	a := NewOpenAIAdapter("openai", url, nil, time.Second)
	_, err := a.Generate(context.Background(), GenerateRequest{Model: "m", Credential: staticKey("k")})
	require.Error(t, err)
	assert.True(t, gwerr.IsTransient(err))
}

func TestGeminiAdapter_Generate(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Bonjour"},{"text":" !"}]}}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":2}}`)
	}))
	defer server.Close()

	a := NewGeminiAdapter("gemini", server.URL, nil, time.Second)
	reply, err := a.Generate(context.Background(), GenerateRequest{
		Model:      "gemini-1.5-flash",
		Messages:   testMessages(),
		Credential: staticKey("g-key"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour !", reply.Text)
	assert.Equal(t, 7, reply.PromptTokens)
	assert.Equal(t, 2, reply.CompletionTokens)

	assert.False(t, gjson.GetBytes(body, "systemInstruction").Exists())
	assert.Equal(t, int64(3), gjson.GetBytes(body, "contents.#").Int())
	assert.Equal(t, "model", gjson.GetBytes(body, "contents.1.role").String())
	assert.Equal(t, "how are you", gjson.GetBytes(body, "contents.2.parts.0.text").String())
}

func TestGeminiAdapter_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-pro:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"one \"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"two\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":3,\"candidatesTokenCount\":2}}\r\n\r\n")
	}))
	defer server.Close()

	a := NewGeminiAdapter("gemini", server.URL, nil, time.Second)
	s, err := a.GenerateStream(context.Background(), GenerateRequest{Model: "gemini-pro", Credential: staticKey("k")})
	require.NoError(t, err)
	defer s.Close()

	text, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, "one two", text)

	prompt, completion := s.(UsageReporter).Usage()
	assert.Equal(t, 3, prompt)
	assert.Equal(t, 2, completion)
}

func TestGeminiAdapter_BlockedPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer server.Close()

	a := NewGeminiAdapter("gemini", server.URL, nil, time.Second)
	_, err := a.Generate(context.Background(), GenerateRequest{Model: "m", Credential: staticKey("k")})
	require.Error(t, err)
	assert.False(t, gwerr.IsTransient(err))
	assert.Contains(t, err.Error(), "SAFETY")
}

func nodeFor(t *testing.T, server *httptest.Server) models.InferenceNode {
	t.Helper()
	addr := strings.TrimPrefix(server.URL, "http://")
	host, port, ok := strings.Cut(addr, ":")
	require.True(t, ok)
	var p int
	_, err := fmt.Sscanf(port, "%d", &p)
	require.NoError(t, err)
	return models.InferenceNode{ID: 3, Name: "lab", Hostname: host, Port: p}
}

func TestOllamaAdapter_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "llama3", gjson.GetBytes(body, "model").String())
		assert.False(t, gjson.GetBytes(body, "stream").Bool())
		fmt.Fprint(w, `{"model":"llama3","message":{"role":"assistant","content":"hey"},"done":true,"prompt_eval_count":9,"eval_count":1}`)
	}))
	defer server.Close()

	a := NewOllamaAdapter(nodeFor(t, server), nil, time.Second)
	assert.Equal(t, "client:3", a.Kind().String())

	reply, err := a.Generate(context.Background(), GenerateRequest{Model: "llama3", Messages: testMessages()})
	require.NoError(t, err)
	assert.Equal(t, "hey", reply.Text)
	assert.Equal(t, 9, reply.PromptTokens)
	assert.Equal(t, 1, reply.CompletionTokens)
}

func TestOllamaAdapter_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"b"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"prompt_eval_count":4,"eval_count":2}`)
	}))
	defer server.Close()

	a := NewOllamaAdapter(nodeFor(t, server), nil, time.Second)
	s, err := a.GenerateStream(context.Background(), GenerateRequest{Model: "llama3"})
	require.NoError(t, err)
	defer s.Close()

	text, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	prompt, completion := s.(UsageReporter).Usage()
	assert.Equal(t, 4, prompt)
	assert.Equal(t, 2, completion)
}

func TestOllamaAdapter_CloseReleasesUpstream(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(released)
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	a := NewOllamaAdapter(nodeFor(t, server), nil, time.Minute)
	s, err := a.GenerateStream(context.Background(), GenerateRequest{Model: "llama3"})
	require.NoError(t, err)

	require.True(t, s.Next())
	assert.Equal(t, "a", s.Fragment())
	require.NoError(t, s.Close())

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request still open after Close")
	}
}

func TestOllamaAdapter_StreamErrorLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	}))
	defer server.Close()

	a := NewOllamaAdapter(nodeFor(t, server), nil, time.Second)
	s, err := a.GenerateStream(context.Background(), GenerateRequest{Model: "llama3"})
	require.NoError(t, err)

	text, err := collect(t, s)
	assert.Equal(t, "a", text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestOllamaAdapter_MissingModelIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'llama3' not found"}`)
	}))
	defer server.Close()

	a := NewOllamaAdapter(nodeFor(t, server), nil, time.Second)
	_, err := a.Generate(context.Background(), GenerateRequest{Model: "llama3"})
	require.Error(t, err)
	assert.True(t, gwerr.IsTransient(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestOllamaProber_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"llama3:latest"},{"name":"mistral"}]}`)
	}))
	defer server.Close()

	p := NewOllamaProber(nil)
	names, err := p.ListModels(context.Background(), nodeFor(t, server))
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:latest", "mistral"}, names)
}

func TestOllamaProber_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	node := nodeFor(t, server)
	server.Close()

	_, err := NewOllamaProber(nil).ListModels(context.Background(), node)
	assert.Error(t, err)
}

func TestMockAdapter(t *testing.T) {
	a := NewMockAdapter()
	assert.Equal(t, "mock", a.Kind().String())

	req := GenerateRequest{Model: "echo", Messages: testMessages()}
	reply, err := a.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "[echo] You said: how are you", reply.Text)

	again, err := a.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, reply.Text, again.Text, "mock replies are deterministic")

	s, err := a.GenerateStream(context.Background(), req)
	require.NoError(t, err)
	text, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, reply.Text, text, "streamed fragments concatenate to the full reply")
}

func TestMockAdapter_StreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewMockAdapter().GenerateStream(ctx, GenerateRequest{Messages: testMessages()})
	require.NoError(t, err)

	require.True(t, s.Next())
	cancel()
	assert.False(t, s.Next())
	assert.Error(t, s.Err())
}

func TestFactory(t *testing.T) {
	f, err := NewFactory(config.DefaultCloudProviders(), time.Second)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"openai", "gemini"}, f.CloudNames())

	openai, ok := f.Cloud("openai")
	require.True(t, ok)
	assert.Equal(t, models.ProviderTypeOpenAI, openai.Type)
	assert.IsType(t, &OpenAIAdapter{}, openai.Adapter)

	gemini, ok := f.Cloud("gemini")
	require.True(t, ok)
	assert.IsType(t, &GeminiAdapter{}, gemini.Adapter)

	_, ok = f.Cloud("anthropic")
	assert.False(t, ok)

	node := f.Node(models.InferenceNode{ID: 12, Hostname: "gpu", Port: 11434})
	assert.Equal(t, "client:12", node.Kind().String())
	assert.Equal(t, "mock", f.Mock().Kind().String())
}

func TestFactory_RejectsBadConfig(t *testing.T) {
	_, err := NewFactory([]config.CloudProviderConfig{{Name: "x", Type: "bedrock"}}, time.Second)
	assert.Error(t, err)

	_, err = NewFactory([]config.CloudProviderConfig{
		{Name: "a", Type: "openai"},
		{Name: "a", Type: "gemini"},
	}, time.Second)
	assert.Error(t, err)

	for _, name := range []string{"AzureOpenAI", "mock", "client"} {
		_, err = NewFactory([]config.CloudProviderConfig{{Name: name, Type: "openai"}}, time.Second)
		assert.ErrorIs(t, err, models.ErrInvalidProviderID, name)
	}
}

func TestCloudBackend_Offers(t *testing.T) {
	b := CloudBackend{Models: []string{"gpt-4o", "gpt-4o-mini"}}
	assert.True(t, b.Offers("gpt-4o"))
	assert.False(t, b.Offers("llama3"))
	assert.False(t, b.Offers(""))

	open := CloudBackend{}
	assert.True(t, open.Offers("anything"))
}
