package models

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ModelIdentifier
		wantErr error
	}{
		{"cloud", "openai:gpt-4o-mini", NewCloudIdentifier("openai", "gpt-4o-mini"), nil},
		{"cloud model with colon", "gemini:models/gemini:exp", NewCloudIdentifier("gemini", "models/gemini:exp"), nil},
		{"node", "client:3:llama3.1", NewNodeIdentifier(3, "llama3.1"), nil},
		{"node model with tag", "client:12:llama3.1:8b", NewNodeIdentifier(12, "llama3.1:8b"), nil},
		{"mock", "mock:echo", NewMockIdentifier("echo"), nil},
		{"empty", "", ModelIdentifier{}, ErrEmptyIdentifier},
		{"bare", "llama3", ModelIdentifier{}, ErrUnqualified},
		{"node id zero", "client:0:llama3", ModelIdentifier{}, ErrInvalidNodeID},
		{"node id negative", "client:-4:llama3", ModelIdentifier{}, ErrInvalidNodeID},
		{"node id leading zero", "client:07:llama3", ModelIdentifier{}, ErrInvalidNodeID},
		{"node id not numeric", "client:abc:llama3", ModelIdentifier{}, ErrInvalidNodeID},
		{"node without model", "client:3:", ModelIdentifier{}, ErrEmptyModelName},
		{"node without id", "client:llama3", ModelIdentifier{}, ErrInvalidNodeID},
		{"mock without model", "mock:", ModelIdentifier{}, ErrEmptyModelName},
		{"cloud without model", "openai:", ModelIdentifier{}, ErrEmptyModelName},
		{"uppercase provider", "OpenAI:gpt-4o", ModelIdentifier{}, ErrInvalidProviderID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseModelIdentifier(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestValidProviderName(t *testing.T) {
	for _, name := range []string{"openai", "gemini", "azure-openai", "local_llm2"} {
		assert.True(t, ValidProviderName(name), name)
		id, err := ParseModelIdentifier(NewCloudIdentifier(name, "m").String())
		require.NoError(t, err)
		assert.Equal(t, name, id.Kind.Name())
	}
	for _, name := range []string{"", "AzureOpenAI", "9lives", "open ai", "a:b", ClientPrefix, MockPrefix} {
		assert.False(t, ValidProviderName(name), name)
	}
}

func TestModelIdentifierRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	modelName := gen.RegexMatch(`[a-z0-9][a-z0-9.:/_-]{0,24}`)

	properties.Property("node identifiers round-trip", prop.ForAll(
		func(id int64, model string) bool {
			ident := NewNodeIdentifier(id, model)
			parsed, err := ParseModelIdentifier(ident.String())
			return err == nil && parsed == ident && parsed.String() == ident.String()
		},
		gen.Int64Range(1, 1<<40),
		modelName,
	))

	properties.Property("cloud identifiers round-trip", prop.ForAll(
		func(provider, model string) bool {
			ident := NewCloudIdentifier(provider, model)
			parsed, err := ParseModelIdentifier(ident.String())
			return err == nil && parsed == ident
		},
		gen.OneConstOf("openai", "gemini", "azure-openai", "local_llm"),
		modelName,
	))

	properties.Property("mock identifiers round-trip", prop.ForAll(
		func(model string) bool {
			ident := NewMockIdentifier(model)
			parsed, err := ParseModelIdentifier(ident.String())
			return err == nil && parsed == ident
		},
		modelName,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "openai", Prefix("openai:gpt-4o"))
	assert.Equal(t, "client", Prefix("client:1:llama3"))
	assert.Equal(t, "llama3.1", Prefix("llama3.1:8b"))
	assert.Equal(t, "", Prefix("llama3"))
}

func TestProviderKindString(t *testing.T) {
	assert.Equal(t, "openai", CloudProvider("openai").String())
	assert.Equal(t, "client:7", SelfHostedNode(7).String())
	assert.Equal(t, "mock", MockProvider().String())
	assert.Equal(t, KindSelfHosted, SelfHostedNode(7).Tag())
	assert.Equal(t, int64(7), SelfHostedNode(7).NodeID())
	assert.True(t, ProviderKind{}.IsZero())
}
