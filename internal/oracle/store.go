package oracle

import (
	"sync"

	"github.com/sumit-mahajan/refi/internal/protocol"

	"github.com/holiman/uint256"
)

// Store is an operator-fed price table quoting assets in the reference
// currency, wad-scaled. It does not source prices itself; something upstream
// pushes them in.
type Store struct {
	mu     sync.RWMutex
	prices map[string]*uint256.Int
}

func NewStore() *Store {
	return &Store{prices: make(map[string]*uint256.Int)}
}

// Seed loads an initial price set, typically from configuration.
func (s *Store) Seed(prices map[string]*uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for asset, price := range prices {
		s.prices[asset] = new(uint256.Int).Set(price)
	}
}

// SetAssetPrice records a new quote for asset.
func (s *Store) SetAssetPrice(asset string, price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return protocol.WithContext(protocol.ErrInvalidAmount, "price for %s", asset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = new(uint256.Int).Set(price)
	return nil
}

func (s *Store) GetAssetPrice(asset string) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[asset]
	if !ok {
		return nil, protocol.WithContext(protocol.ErrInvalidAsset, "no price for %s", asset)
	}
	return new(uint256.Int).Set(price), nil
}

func (s *Store) GetAssetsPrices(assets []string) (map[string]*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*uint256.Int, len(assets))
	for _, asset := range assets {
		price, ok := s.prices[asset]
		if !ok {
			return nil, protocol.WithContext(protocol.ErrInvalidAsset, "no price for %s", asset)
		}
		out[asset] = new(uint256.Int).Set(price)
	}
	return out, nil
}
