package score

import (
	fpmath "github.com/sumit-mahajan/refi/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Tier is a credit class. Tiers partition the score range and set both the
// accrual speed inside the band and the penalty a liquidation costs.
type Tier int

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierPlatinum
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "Bronze"
	case TierSilver:
		return "Silver"
	case TierGold:
		return "Gold"
	case TierPlatinum:
		return "Platinum"
	}
	return "Unknown"
}

// scoreScale is the fixed-point scale of stored scores. Scores accrue per
// second, so whole points are far too coarse to carry between updates.
const scoreScale = int64(1_000_000_000)

// Band is one tier's slice of the score range. RatePerSecond is the peak
// accrual speed inside the band, scoreScale-fixed, reached at optimal
// utilization.
type Band struct {
	Tier          Tier
	Upper         int64 // exclusive upper bound in whole points, except the last band
	RatePerSecond int64
}

// Params configure the scoring curve.
type Params struct {
	Floor int64 // whole points
	Cap   int64 // whole points

	// OptimalUtilization is the borrow-capacity usage, wad, at which a user
	// accrues score fastest. Accrual falls linearly to zero on both sides.
	OptimalUtilization *uint256.Int

	Bands []Band

	// Penalties holds the per-tier score cost of being liquidated, in whole
	// points, indexed by Tier.
	Penalties map[Tier]int64
}

const (
	day = int64(86_400)
)

// DefaultParams is the published scoring schedule: 300 to 900 in four bands.
// Band rates come from the documented transit times for an ideal user
// holding 85% utilization: Bronze to Silver in 3 months, Silver to Gold in a
// further 9 months, Gold to Platinum in a year, and 10 years to the cap.
func DefaultParams() Params {
	return Params{
		Floor:              300,
		Cap:                900,
		OptimalUtilization: uint256.MustFromDecimal("850000000000000000"),
		Bands: []Band{
			{Tier: TierBronze, Upper: 600, RatePerSecond: 300 * scoreScale / (90 * day)},
			{Tier: TierSilver, Upper: 700, RatePerSecond: 100 * scoreScale / (270 * day)},
			{Tier: TierGold, Upper: 800, RatePerSecond: 100 * scoreScale / (365 * day)},
			{Tier: TierPlatinum, Upper: 900, RatePerSecond: 100 * scoreScale / (3650 * day)},
		},
		Penalties: map[Tier]int64{
			TierBronze:   50,
			TierSilver:   100,
			TierGold:     150,
			TierPlatinum: 200,
		},
	}
}

// Profile is one user's score state. ScoreScaled is scoreScale-fixed.
type Profile struct {
	ScoreScaled int64
	LastUpdate  int64
}

// Engine accrues and queries credit scores. Not self-synchronized: the pool
// serializes access.
type Engine struct {
	params   Params
	profiles map[uuid.UUID]*Profile
}

func NewEngine(params Params) *Engine {
	return &Engine{params: params, profiles: make(map[uuid.UUID]*Profile)}
}

func (e *Engine) profile(user uuid.UUID, now int64) *Profile {
	p, ok := e.profiles[user]
	if !ok {
		p = &Profile{ScoreScaled: e.params.Floor * scoreScale, LastUpdate: now}
		e.profiles[user] = p
	}
	return p
}

// tierOf maps a scaled score onto its band.
func (e *Engine) tierOf(scoreScaled int64) Tier {
	for _, b := range e.params.Bands {
		if scoreScaled < b.Upper*scoreScale {
			return b.Tier
		}
	}
	return e.params.Bands[len(e.params.Bands)-1].Tier
}

// utilizationFactor scales a band rate by how close the user sits to optimal
// utilization. scoreScale-fixed: 1e9 at the optimum, falling linearly to zero
// at both 0% and 100% usage. Past full usage the factor stays zero.
func (e *Engine) utilizationFactor(utilization *uint256.Int) int64 {
	if utilization.IsZero() || !utilization.Lt(fpmath.Wad) {
		return 0
	}
	opt := e.params.OptimalUtilization
	scale := uint256.NewInt(uint64(scoreScale))
	if !utilization.Gt(opt) {
		// u / opt
		f := new(uint256.Int).Mul(utilization, scale)
		f.Div(f, opt)
		return int64(f.Uint64())
	}
	// (1 - u) / (1 - opt)
	num := new(uint256.Int).Sub(fpmath.Wad, utilization)
	den := new(uint256.Int).Sub(fpmath.Wad, opt)
	f := num.Mul(num, scale)
	f.Div(f, den)
	return int64(f.Uint64())
}

// Touch accrues the user's score from the last update to now under the given
// borrow-capacity utilization and returns the updated profile. The piecewise
// accrual walks band by band so a user crossing a tier boundary mid-interval
// earns the slower rate for the remainder.
func (e *Engine) Touch(user uuid.UUID, utilization *uint256.Int, now int64) Profile {
	p := e.profile(user, now)
	if now <= p.LastUpdate {
		return *p
	}
	elapsed := now - p.LastUpdate
	p.LastUpdate = now

	factor := e.utilizationFactor(utilization)
	if factor == 0 {
		return *p
	}

	capScaled := e.params.Cap * scoreScale
	for _, b := range e.params.Bands {
		if elapsed <= 0 || p.ScoreScaled >= capScaled {
			break
		}
		upper := b.Upper * scoreScale
		if p.ScoreScaled >= upper {
			continue
		}
		rate := b.RatePerSecond * factor / scoreScale
		if rate == 0 {
			break
		}
		toUpper := upper - p.ScoreScaled
		secondsToUpper := (toUpper + rate - 1) / rate
		if elapsed < secondsToUpper {
			p.ScoreScaled += rate * elapsed
			if p.ScoreScaled > upper {
				p.ScoreScaled = upper
			}
			break
		}
		p.ScoreScaled = upper
		elapsed -= secondsToUpper
	}
	if p.ScoreScaled > capScaled {
		p.ScoreScaled = capScaled
	}
	return *p
}

// OnLiquidation accrues up to now, then applies the tier penalty. The score
// never falls below the floor.
func (e *Engine) OnLiquidation(user uuid.UUID, utilization *uint256.Int, now int64) Profile {
	e.Touch(user, utilization, now)
	p := e.profile(user, now)

	penalty := e.params.Penalties[e.tierOf(p.ScoreScaled)]
	p.ScoreScaled -= penalty * scoreScale
	if floor := e.params.Floor * scoreScale; p.ScoreScaled < floor {
		p.ScoreScaled = floor
	}
	return *p
}

// Score returns the user's whole-point score without accruing.
func (e *Engine) Score(user uuid.UUID) int64 {
	if p, ok := e.profiles[user]; ok {
		return p.ScoreScaled / scoreScale
	}
	return e.params.Floor
}

// Class returns the user's tier without accruing.
func (e *Engine) Class(user uuid.UUID) Tier {
	if p, ok := e.profiles[user]; ok {
		return e.tierOf(p.ScoreScaled)
	}
	return e.tierOf(e.params.Floor * scoreScale)
}
