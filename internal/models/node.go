package models

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// HealthStatus is the last observed reachability of a node.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthOnline  HealthStatus = "online"
	HealthOffline HealthStatus = "offline"
)

// NodeHealth is the mutable part of a node. It is replaced as a whole after
// every probe so readers never observe a half-updated snapshot.
type NodeHealth struct {
	Status             HealthStatus   `db:"health_status" json:"health_status"`
	LastSeen           *time.Time     `db:"last_seen" json:"last_seen,omitempty"`
	AdvertisedModels   pq.StringArray `db:"advertised_models" json:"advertised_models"`
	LastResponseTimeMS *int64         `db:"last_response_time_ms" json:"last_response_time_ms,omitempty"`
}

// Online reports whether the last probe succeeded.
func (h NodeHealth) Online() bool {
	return h.Status == HealthOnline
}

// Advertises reports whether model was in the node's last model listing.
func (h NodeHealth) Advertises(model string) bool {
	return slices.Contains(h.AdvertisedModels, model)
}

// InferenceNode is a registered self-hosted Ollama-compatible server.
type InferenceNode struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Hostname  string    `db:"hostname" json:"hostname"`
	Port      int       `db:"port" json:"port"`
	IsPublic  bool      `db:"is_public" json:"is_public"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	NodeHealth
}

// BaseURL is the HTTP root of the node's API.
func (n *InferenceNode) BaseURL() string {
	host := strings.TrimSuffix(strings.TrimPrefix(n.Hostname, "["), "]")
	return "http://" + net.JoinHostPort(host, strconv.Itoa(n.Port))
}

// Display is the human-readable label used in route descriptions.
func (n *InferenceNode) Display(model string) string {
	return fmt.Sprintf("%s (%s)", n.Name, model)
}
