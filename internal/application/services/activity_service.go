package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
	"github.com/bimakw/walletsync/internal/infrastructure/cache"
)

// SnapshotReader reads JSON snapshots written by the update publisher
type SnapshotReader interface {
	Get(ctx context.Context, key string, dest interface{}) error
}

// ActivityService serves the latest refresh results recorded by the syncer
type ActivityService struct {
	snapshots SnapshotReader
	logger    *zap.Logger
}

// NewActivityService creates a new activity service
func NewActivityService(snapshots SnapshotReader, logger *zap.Logger) *ActivityService {
	return &ActivityService{
		snapshots: snapshots,
		logger:    logger,
	}
}

// ActivityResponse holds the last update of each refresh cycle
type ActivityResponse struct {
	NetworkID    string                 `json:"network_id"`
	Wallet       string                 `json:"wallet"`
	Balance      *entities.WalletUpdate `json:"balance,omitempty"`
	Transactions *entities.WalletUpdate `json:"transactions,omitempty"`
}

// GetActivity returns the last published updates, or nil when none are cached
func (s *ActivityService) GetActivity(ctx context.Context, networkID, wallet string) (*ActivityResponse, error) {
	if s.snapshots == nil {
		return nil, nil
	}

	balance, err := s.snapshot(ctx, networkID, wallet, entities.UpdateBalance)
	if err != nil {
		return nil, err
	}
	transactions, err := s.snapshot(ctx, networkID, wallet, entities.UpdateTransactions)
	if err != nil {
		return nil, err
	}

	if balance == nil && transactions == nil {
		return nil, nil
	}

	return &ActivityResponse{
		NetworkID:    networkID,
		Wallet:       strings.ToLower(wallet),
		Balance:      balance,
		Transactions: transactions,
	}, nil
}

func (s *ActivityService) snapshot(ctx context.Context, networkID, wallet string, kind entities.UpdateKind) (*entities.WalletUpdate, error) {
	key := cache.ActivityKey(networkID, wallet, kind)

	var update entities.WalletUpdate
	if err := s.snapshots.Get(ctx, key, &update); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Debug("Cache miss", zap.String("key", key))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s activity: %w", kind, err)
	}

	return &update, nil
}
