package models

import (
	"fmt"
	"strconv"
)

// ProviderType enumerates the cloud API dialects the gateway speaks.
type ProviderType string

const (
	ProviderTypeOpenAI ProviderType = "openai"
	ProviderTypeGemini ProviderType = "gemini"
)

// IsValid reports whether t is a supported cloud dialect.
func (t ProviderType) IsValid() bool {
	switch t {
	case ProviderTypeOpenAI, ProviderTypeGemini:
		return true
	default:
		return false
	}
}

// KindTag discriminates the ProviderKind variants.
type KindTag int

const (
	KindCloud KindTag = iota + 1
	KindSelfHosted
	KindMock
)

func (t KindTag) String() string {
	switch t {
	case KindCloud:
		return "cloud"
	case KindSelfHosted:
		return "self_hosted"
	case KindMock:
		return "mock"
	default:
		return "unknown"
	}
}

// ProviderKind identifies where a model runs: a named cloud provider, a
// registered self-hosted node, or the built-in mock.
type ProviderKind struct {
	tag    KindTag
	name   string
	nodeID int64
}

// CloudProvider returns the kind for the named cloud provider.
func CloudProvider(name string) ProviderKind {
	return ProviderKind{tag: KindCloud, name: name}
}

// SelfHostedNode returns the kind for a registered node.
func SelfHostedNode(id int64) ProviderKind {
	return ProviderKind{tag: KindSelfHosted, name: ClientPrefix, nodeID: id}
}

// MockProvider returns the kind for the built-in mock.
func MockProvider() ProviderKind {
	return ProviderKind{tag: KindMock, name: MockPrefix}
}

func (k ProviderKind) Tag() KindTag { return k.tag }

// Name is the cloud provider name, or the reserved prefix for nodes and mock.
func (k ProviderKind) Name() string { return k.name }

// NodeID is only meaningful for self-hosted kinds.
func (k ProviderKind) NodeID() int64 { return k.nodeID }

func (k ProviderKind) IsZero() bool { return k.tag == 0 }

func (k ProviderKind) String() string {
	switch k.tag {
	case KindSelfHosted:
		return fmt.Sprintf("%s:%s", ClientPrefix, strconv.FormatInt(k.nodeID, 10))
	case KindCloud, KindMock:
		return k.name
	default:
		return "unknown"
	}
}
