package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// ClientPrefix qualifies identifiers that target a self-hosted node.
	ClientPrefix = "client"
	// MockPrefix qualifies identifiers that target the built-in mock.
	MockPrefix = "mock"

	separator = ":"
)

var (
	ErrEmptyIdentifier   = errors.New("model identifier is empty")
	ErrUnqualified       = errors.New("model identifier has no provider prefix")
	ErrInvalidNodeID     = errors.New("node id must be a positive integer")
	ErrEmptyModelName    = errors.New("model name is empty")
	ErrInvalidProviderID = errors.New("provider name is invalid")
)

var providerNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ModelIdentifier is the canonical "<provider>:<model>" form of a model.
type ModelIdentifier struct {
	Kind  ProviderKind
	Model string
}

// String renders the canonical form; ParseModelIdentifier(id.String())
// returns an equal identifier.
func (id ModelIdentifier) String() string {
	switch id.Kind.Tag() {
	case KindSelfHosted:
		return ClientPrefix + separator + strconv.FormatInt(id.Kind.NodeID(), 10) + separator + id.Model
	case KindMock:
		return MockPrefix + separator + id.Model
	case KindCloud:
		return id.Kind.Name() + separator + id.Model
	default:
		return id.Model
	}
}

// Prefix returns the text before the first separator, or "" if s has none.
func Prefix(s string) string {
	prefix, _, found := strings.Cut(s, separator)
	if !found {
		return ""
	}
	return prefix
}

// ParseModelIdentifier parses a provider-qualified identifier. Only the
// first separator splits provider from model, so model names may contain
// ":" themselves (llama3.1:8b). For client identifiers the node id is the
// second segment.
func ParseModelIdentifier(s string) (ModelIdentifier, error) {
	if s == "" {
		return ModelIdentifier{}, ErrEmptyIdentifier
	}
	prefix, rest, found := strings.Cut(s, separator)
	if !found {
		return ModelIdentifier{}, ErrUnqualified
	}

	switch prefix {
	case ClientPrefix:
		rawID, model, ok := strings.Cut(rest, separator)
		if !ok {
			return ModelIdentifier{}, fmt.Errorf("%q: expected client:<node_id>:<model>: %w", s, ErrEmptyModelName)
		}
		// Reject "+1" and "01" so the parsed form always prints back identically.
		if rawID == "" || rawID[0] < '1' || rawID[0] > '9' {
			return ModelIdentifier{}, fmt.Errorf("%q: %w", s, ErrInvalidNodeID)
		}
		nodeID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || nodeID <= 0 {
			return ModelIdentifier{}, fmt.Errorf("%q: %w", s, ErrInvalidNodeID)
		}
		if model == "" {
			return ModelIdentifier{}, fmt.Errorf("%q: %w", s, ErrEmptyModelName)
		}
		return ModelIdentifier{Kind: SelfHostedNode(nodeID), Model: model}, nil
	case MockPrefix:
		if rest == "" {
			return ModelIdentifier{}, fmt.Errorf("%q: %w", s, ErrEmptyModelName)
		}
		return ModelIdentifier{Kind: MockProvider(), Model: rest}, nil
	default:
		if !ValidProviderName(prefix) {
			return ModelIdentifier{}, fmt.Errorf("%q: %w", s, ErrInvalidProviderID)
		}
		if rest == "" {
			return ModelIdentifier{}, fmt.Errorf("%q: %w", s, ErrEmptyModelName)
		}
		return ModelIdentifier{Kind: CloudProvider(prefix), Model: rest}, nil
	}
}

// ValidProviderName reports whether name can qualify a cloud identifier.
// The client and mock prefixes are reserved.
func ValidProviderName(name string) bool {
	if name == ClientPrefix || name == MockPrefix {
		return false
	}
	return providerNamePattern.MatchString(name)
}

// NewNodeIdentifier is shorthand for a client:<id>:<model> identifier.
func NewNodeIdentifier(nodeID int64, model string) ModelIdentifier {
	return ModelIdentifier{Kind: SelfHostedNode(nodeID), Model: model}
}

// NewCloudIdentifier is shorthand for a <provider>:<model> identifier.
func NewCloudIdentifier(provider, model string) ModelIdentifier {
	return ModelIdentifier{Kind: CloudProvider(provider), Model: model}
}

// NewMockIdentifier is shorthand for a mock:<model> identifier.
func NewMockIdentifier(model string) ModelIdentifier {
	return ModelIdentifier{Kind: MockProvider(), Model: model}
}
