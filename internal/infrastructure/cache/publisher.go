package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/config"
	"github.com/bimakw/walletsync/internal/domain/entities"
)

const publishTimeout = 2 * time.Second

// UpdateSink is the subset of RedisCache the publisher writes to
type UpdateSink interface {
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Publish(ctx context.Context, channel string, value interface{}) error
}

// Ensure RedisCache implements UpdateSink
var _ UpdateSink = (*RedisCache)(nil)

// ActivityKey returns the snapshot key holding the latest update of a kind
func ActivityKey(networkID, wallet string, kind entities.UpdateKind) string {
	return fmt.Sprintf("activity:%s:%s:%s", networkID, strings.ToLower(wallet), kind)
}

// UpdatePublisher fans wallet updates out to a Redis channel and keeps the
// latest update of each kind as a snapshot for the API.
type UpdatePublisher struct {
	sink    UpdateSink
	channel string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewUpdatePublisher creates a new update publisher
func NewUpdatePublisher(sink UpdateSink, cfg config.RedisConfig, logger *zap.Logger) *UpdatePublisher {
	return &UpdatePublisher{
		sink:    sink,
		channel: cfg.UpdateChannel,
		ttl:     cfg.SnapshotTTL,
		logger:  logger,
	}
}

// OnUpdate stores and publishes the update. Failures are logged only.
func (p *UpdatePublisher) OnUpdate(update entities.WalletUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	key := ActivityKey(update.NetworkID, update.Wallet, update.Kind)
	if err := p.sink.SetWithTTL(ctx, key, update, p.ttl); err != nil {
		p.logger.Warn("Failed to store activity snapshot",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	if err := p.sink.Publish(ctx, p.channel, update); err != nil {
		p.logger.Warn("Failed to publish wallet update",
			zap.String("channel", p.channel),
			zap.String("kind", string(update.Kind)),
			zap.Error(err),
		)
	}
}
