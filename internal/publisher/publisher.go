// File: internal/publisher/publisher.go
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/pkg/utils"
)

// Publisher pushes fan-out messages to per-contract Redis channels for
// realtime consumers. A nil *Publisher is valid and publishes nothing,
// so the indexer runs unchanged without Redis.
type Publisher struct {
	client *redis.Client
	logger *logrus.Entry
}

// New creates a Redis publisher, or nil when disabled in configuration
func New(cfg *config.PublisherConfig) (*Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid Redis URL", err.Error())
	}

	return &Publisher{
		client: redis.NewClient(opts),
		logger: utils.ComponentLogger("publisher"),
	}, nil
}

// Publish emits one fan-out message on the contract's channel. Publish
// failures are logged, never propagated: realtime delivery is best-effort
// and must not affect ingestion.
func (p *Publisher) Publish(ctx context.Context, msg *models.FanoutMessage) {
	if p == nil {
		return
	}

	body, err := json.Marshal(msg.Map())
	if err != nil {
		p.logger.WithField("error", err.Error()).Warn("Failed to marshal fan-out message")
		return
	}

	channel := ChannelFor(msg.ContractID)
	if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
		p.logger.WithFields(logrus.Fields{
			"channel": channel,
			"error":   err.Error(),
		}).Warn("Failed to publish fan-out message")
	}
}

// Close releases the Redis connection
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// ChannelFor returns the realtime channel name for a contract
func ChannelFor(contractID string) string {
	return fmt.Sprintf("events_%s", contractID)
}
