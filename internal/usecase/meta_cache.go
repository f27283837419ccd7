package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/sergeydz/perpmm/internal/domain"
	"go.uber.org/zap"
)

// AssetMetaCache is the size-decimals/tick lookup used when quantizing
// orders. It is seeded with the static majors table and overlaid once at
// startup from the venue meta query; there is no lazy population, so sizing
// never pays a hidden first-call round trip.
type AssetMetaCache struct {
	mu     sync.Mutex
	metas  map[string]domain.AssetMeta
	logger *zap.Logger
}

func NewAssetMetaCache(logger *zap.Logger) *AssetMetaCache {
	metas := make(map[string]domain.AssetMeta, len(domain.DefaultSizeDecimals))
	for asset, dec := range domain.DefaultSizeDecimals {
		metas[asset] = domain.AssetMeta{Asset: asset, SizeDecimals: dec}
	}
	return &AssetMetaCache{
		metas:  metas,
		logger: logger,
	}
}

// Load overlays the static table with live venue metadata. A fetch failure
// leaves the statics in place.
func (c *AssetMetaCache) Load(ctx context.Context, ex domain.Exchange) error {
	metas, err := ex.Meta(ctx)
	if err != nil {
		return fmt.Errorf("load asset meta: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range metas {
		c.metas[m.Asset] = m
	}
	c.logger.Info("Asset meta loaded", zap.Int("assets", len(metas)))
	return nil
}

func (c *AssetMetaCache) SizeDecimals(asset string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.metas[asset]; ok {
		return m.SizeDecimals
	}
	c.logger.Warn("No size decimals for asset, using fallback",
		zap.String("asset", asset), zap.Int("fallback", domain.FallbackSizeDecimals))
	return domain.FallbackSizeDecimals
}

// TickSize returns 0 for assets the venue never described; price rounding
// then degrades to the significant-figure rule alone.
func (c *AssetMetaCache) TickSize(asset string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.metas[asset]; ok {
		return m.TickSize
	}
	return 0
}
