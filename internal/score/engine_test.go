package score_test

import (
	"testing"

	"github.com/sumit-mahajan/refi/internal/score"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const (
	t0  = int64(1_700_000_000)
	day = int64(86_400)
)

func optimal() *uint256.Int { return uint256.MustFromDecimal("850000000000000000") }

func wadPercent(pct uint64) *uint256.Int {
	out := uint256.NewInt(pct)
	return out.Mul(out, uint256.NewInt(10_000_000_000_000_000))
}

// ============================================================================
// Test: accrual
// ============================================================================

func TestScore_StartsAtFloor(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()
	if got := e.Score(user); got != 300 {
		t.Errorf("fresh score = %d, want 300", got)
	}
	if got := e.Class(user); got != score.TierBronze {
		t.Errorf("fresh class = %v, want Bronze", got)
	}
}

func TestScore_IdealUserReachesSilverInThreeMonths(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()

	e.Touch(user, optimal(), t0)
	p := e.Touch(user, optimal(), t0+90*day)

	got := p.ScoreScaled / 1_000_000_000
	// integer rate truncation loses at most a point over the band
	if got < 599 || got > 600 {
		t.Errorf("score after 90 days at optimal = %d, want ~600", got)
	}
	if e.Class(user) != score.TierSilver && got != 599 {
		t.Errorf("class after 90 days = %v", e.Class(user))
	}
}

func TestScore_SlowsDownAcrossTiers(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()

	e.Touch(user, optimal(), t0)
	e.Touch(user, optimal(), t0+90*day)
	bronzeGain := e.Score(user) - 300

	e.Touch(user, optimal(), t0+180*day)
	silverGain := e.Score(user) - 300 - bronzeGain

	if silverGain >= bronzeGain {
		t.Errorf("silver gain %d should be below bronze gain %d over the same window", silverGain, bronzeGain)
	}
}

func TestScore_CrossingABoundaryMidWindow(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()

	// One long touch spanning the whole bronze band plus 270 more days must
	// land close to two separate touches at the boundary.
	e.Touch(user, optimal(), t0)
	single := e.Touch(user, optimal(), t0+360*day)

	e2 := score.NewEngine(score.DefaultParams())
	e2.Touch(user, optimal(), t0)
	e2.Touch(user, optimal(), t0+90*day)
	split := e2.Touch(user, optimal(), t0+360*day)

	diff := single.ScoreScaled - split.ScoreScaled
	if diff < 0 {
		diff = -diff
	}
	// a point of slack for per-band rounding
	if diff > 1_000_000_000 {
		t.Errorf("single-window score %d and split-window score %d diverge", single.ScoreScaled, split.ScoreScaled)
	}
}

func TestScore_CapsAtNineHundred(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()

	e.Touch(user, optimal(), t0)
	e.Touch(user, optimal(), t0+20*365*day)

	if got := e.Score(user); got != 900 {
		t.Errorf("score after 20 years = %d, want capped 900", got)
	}
	if got := e.Class(user); got != score.TierPlatinum {
		t.Errorf("class at cap = %v, want Platinum", got)
	}
}

// ============================================================================
// Test: utilization shaping
// ============================================================================

func TestScore_IdleUserEarnsNothing(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()

	e.Touch(user, new(uint256.Int), t0)
	e.Touch(user, new(uint256.Int), t0+365*day)

	if got := e.Score(user); got != 300 {
		t.Errorf("idle score = %d, want 300", got)
	}
}

func TestScore_OverextendedUserEarnsNothing(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()

	e.Touch(user, wadPercent(100), t0)
	e.Touch(user, wadPercent(100), t0+365*day)

	if got := e.Score(user); got != 300 {
		t.Errorf("fully drawn score = %d, want 300", got)
	}
}

func TestScore_OptimalBeatsOffOptimal(t *testing.T) {
	params := score.DefaultParams()

	atOptimal := score.NewEngine(params)
	below := score.NewEngine(params)
	above := score.NewEngine(params)
	user := uuid.New()

	atOptimal.Touch(user, optimal(), t0)
	below.Touch(user, wadPercent(40), t0)
	above.Touch(user, wadPercent(95), t0)

	atOptimal.Touch(user, optimal(), t0+30*day)
	below.Touch(user, wadPercent(40), t0+30*day)
	above.Touch(user, wadPercent(95), t0+30*day)

	opt, lo, hi := atOptimal.Score(user), below.Score(user), above.Score(user)
	if opt <= lo || opt <= hi {
		t.Errorf("optimal score %d should beat both %d (40%%) and %d (95%%)", opt, lo, hi)
	}
	if lo <= 300 || hi <= 300 {
		t.Errorf("off-optimal but active users should still accrue, got %d and %d", lo, hi)
	}
}

// ============================================================================
// Test: liquidation penalties
// ============================================================================

func TestScore_LiquidationPenaltyByTier(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()

	// fresh bronze user: -50, floored at 300
	p := e.OnLiquidation(user, new(uint256.Int), t0)
	if got := p.ScoreScaled / 1_000_000_000; got != 300 {
		t.Errorf("bronze liquidation score = %d, want floored 300", got)
	}

	// walk the user to platinum, then liquidate: -200
	e.Touch(user, optimal(), t0+20*365*day)
	if e.Class(user) != score.TierPlatinum {
		t.Fatalf("class = %v, want Platinum", e.Class(user))
	}
	p = e.OnLiquidation(user, new(uint256.Int), t0+20*365*day)
	if got := p.ScoreScaled / 1_000_000_000; got != 700 {
		t.Errorf("platinum liquidation score = %d, want 700", got)
	}
	if e.Class(user) != score.TierGold {
		t.Errorf("class after penalty = %v, want Gold", e.Class(user))
	}
}

func TestScore_TouchIdempotentAtSameTimestamp(t *testing.T) {
	e := score.NewEngine(score.DefaultParams())
	user := uuid.New()

	e.Touch(user, optimal(), t0)
	first := e.Touch(user, optimal(), t0+30*day)
	second := e.Touch(user, optimal(), t0+30*day)

	if first.ScoreScaled != second.ScoreScaled {
		t.Errorf("touching twice at the same timestamp moved the score: %d then %d", first.ScoreScaled, second.ScoreScaled)
	}
}
