package nodes

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"ai_gateway/internal/logging"
	"ai_gateway/internal/models"
)

// HealthEvent is published whenever a node changes status.
type HealthEvent struct {
	NodeID           int64               `json:"node_id"`
	Name             string              `json:"name"`
	Status           models.HealthStatus `json:"status"`
	LastSeen         *time.Time          `json:"last_seen,omitempty"`
	AdvertisedModels []string            `json:"advertised_models"`
	LatencyMS        *int64              `json:"latency_ms,omitempty"`
	At               time.Time           `json:"at"`
}

// RedisHealthPublisher fans health transitions out on a Redis channel so
// other replicas and operators can follow them.
type RedisHealthPublisher struct {
	client redis.UniversalClient
	topic  string
	logger *logging.Logger
}

func NewRedisHealthPublisher(client redis.UniversalClient, topic string) *RedisHealthPublisher {
	return &RedisHealthPublisher{
		client: client,
		topic:  topic,
		logger: logging.NewLogger("health-publisher"),
	}
}

// NodeHealthChanged implements HealthListener. Publish failures are logged.
func (p *RedisHealthPublisher) NodeHealthChanged(ctx context.Context, node models.InferenceNode) {
	event := HealthEvent{
		NodeID:           node.ID,
		Name:             node.Name,
		Status:           node.Status,
		LastSeen:         node.LastSeen,
		AdvertisedModels: node.AdvertisedModels,
		LatencyMS:        node.LastResponseTimeMS,
		At:               time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode health event", "node_id", node.ID, "error", err)
		return
	}

	if err := p.client.Publish(ctx, p.topic, payload).Err(); err != nil {
		p.logger.Warn("Failed to publish health event", "node_id", node.ID, "topic", p.topic, "error", err)
	}
}

// SubscribeHealth delivers events from topic to fn until ctx is done.
// Malformed messages are skipped.
func SubscribeHealth(ctx context.Context, client redis.UniversalClient, topic string, fn func(HealthEvent)) error {
	sub := client.Subscribe(ctx, topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event HealthEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			fn(event)
		}
	}
}
