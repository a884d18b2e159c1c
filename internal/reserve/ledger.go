package reserve

import (
	"fmt"
	"sort"

	"github.com/sumit-mahajan/refi/internal/protocol"

	"github.com/holiman/uint256"
)

// Ledger is the registry of listed reserves. It owns no locking: the pool
// serializes all access.
type Ledger struct {
	reserves map[string]*Reserve
}

func NewLedger() *Ledger {
	return &Ledger{reserves: make(map[string]*Reserve)}
}

// List creates a reserve for an asset. Listing happens once; re-listing an
// asset is an error.
func (l *Ledger) List(cfg Config, now int64) (*Reserve, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config for %s: %w", cfg.Symbol, err)
	}
	if _, exists := l.reserves[cfg.Symbol]; exists {
		return nil, fmt.Errorf("asset %s is already listed", cfg.Symbol)
	}
	r := newReserve(cfg, now)
	l.reserves[cfg.Symbol] = r
	return r, nil
}

// Get returns the reserve for a listed asset.
func (l *Ledger) Get(symbol string) (*Reserve, bool) {
	r, ok := l.reserves[symbol]
	return r, ok
}

// RequireActive returns the reserve for a listed, active asset or the
// protocol invalid-asset error.
func (l *Ledger) RequireActive(symbol string) (*Reserve, error) {
	r, ok := l.reserves[symbol]
	if !ok || !r.Config.Active {
		return nil, protocol.WithContext(protocol.ErrInvalidAsset, "asset %q", symbol)
	}
	return r, nil
}

// Symbols returns listed asset symbols in deterministic order.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.reserves))
	for s := range l.reserves {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func ray(dec string) *uint256.Int { return uint256.MustFromDecimal(dec) }
func wad(dec string) *uint256.Int { return uint256.MustFromDecimal(dec) }

// DefaultConfigs are the launch listings. Risk constants follow the protocol
// docs: 75% max LTV, 80% liquidation threshold, 10% liquidation bonus.
func DefaultConfigs() []Config {
	defaultStrategy := RateStrategy{
		BaseRate:           ray("0"),                             // 0%
		Slope1:             ray("40000000000000000000000000"),    // 4%
		Slope2:             ray("750000000000000000000000000"),   // 75%
		OptimalUtilization: ray("800000000000000000000000000"),   // 80%
	}

	base := Config{
		LTV:                  wad("750000000000000000"),  // 75%
		LiquidationThreshold: wad("800000000000000000"),  // 80%
		LiquidationBonus:     wad("1100000000000000000"), // +10%
		ReserveFactor:        wad("100000000000000000"),  // 10%
		Strategy:             defaultStrategy,
		Active:               true,
	}

	symbols := []string{"WETH", "DAI", "LINK"}
	out := make([]Config, 0, len(symbols))
	for _, s := range symbols {
		cfg := base
		cfg.Symbol = s
		out = append(out, cfg)
	}
	return out
}
