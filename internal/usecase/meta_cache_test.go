package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/sergeydz/perpmm/internal/domain"
	"go.uber.org/zap"
)

func TestAssetMetaCache_StaticSeeding(t *testing.T) {
	c := NewAssetMetaCache(zap.NewNop())

	if d := c.SizeDecimals("BTC"); d != 4 {
		t.Errorf("Expected 4 size decimals for BTC, got %d", d)
	}
	if d := c.SizeDecimals("DOGE"); d != 0 {
		t.Errorf("Expected 0 size decimals for DOGE, got %d", d)
	}
}

func TestAssetMetaCache_UnknownAssetFallsBack(t *testing.T) {
	c := NewAssetMetaCache(zap.NewNop())

	if d := c.SizeDecimals("UNLISTED"); d != domain.FallbackSizeDecimals {
		t.Errorf("Expected fallback %d for unlisted asset, got %d", domain.FallbackSizeDecimals, d)
	}
	if tick := c.TickSize("UNLISTED"); tick != 0 {
		t.Errorf("Undescribed asset must carry zero tick, got %v", tick)
	}
}

func TestAssetMetaCache_LoadOverlaysStatics(t *testing.T) {
	ex := &MockExchange{MetaList: []domain.AssetMeta{
		{Asset: "BTC", SizeDecimals: 5, TickSize: 0.5},
		{Asset: "NEW", SizeDecimals: 2, TickSize: 0.01},
	}}
	c := NewAssetMetaCache(zap.NewNop())

	if err := c.Load(context.Background(), ex); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if d := c.SizeDecimals("BTC"); d != 5 {
		t.Errorf("Venue meta must override the static entry, got %d", d)
	}
	if tick := c.TickSize("BTC"); tick != 0.5 {
		t.Errorf("Expected tick 0.5 after load, got %v", tick)
	}
	if d := c.SizeDecimals("NEW"); d != 2 {
		t.Errorf("Venue-only asset must be served, got %d", d)
	}
	// Untouched statics survive the overlay.
	if d := c.SizeDecimals("ETH"); d != 3 {
		t.Errorf("Expected ETH statics intact, got %d", d)
	}
}

func TestAssetMetaCache_LoadFailureKeepsStatics(t *testing.T) {
	ex := &MockExchange{MetaErr: errors.New("venue down")}
	c := NewAssetMetaCache(zap.NewNop())

	if err := c.Load(context.Background(), ex); err == nil {
		t.Fatal("Expected load error to surface")
	}
	if d := c.SizeDecimals("BTC"); d != 4 {
		t.Errorf("Failed load must leave statics in place, got %d", d)
	}
}
