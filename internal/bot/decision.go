package bot

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pulse/internal/signal"
)

// Direction restricts which signal actions a bot is willing to act on.
type Direction string

const (
	DirectionBoth      Direction = "BOTH"
	DirectionLongOnly  Direction = "LONG_ONLY"
	DirectionShortOnly Direction = "SHORT_ONLY"
)

// UserSettings are a single bot's risk limits. All fields are caller-supplied
// snapshots; ShouldExecute never mutates them.
type UserSettings struct {
	UserID         string    `json:"user_id"`
	Direction      Direction `json:"direction"`
	RiskPerTrade   float64   `json:"risk_per_trade"` // fraction of balance, e.g. 0.02
	Leverage       int       `json:"leverage"`
	MaxPositions   int       `json:"max_positions"`
	MaxDailyTrades int       `json:"max_daily_trades"`
	MaxDailyLoss   float64   `json:"max_daily_loss"` // positive number, loss cap
	MinConfidence  float64   `json:"min_confidence"`
}

// AccountState is a point-in-time view of the bot's account.
type AccountState struct {
	AvailableBalance  float64 `json:"available_balance"`
	OpenPositionCount int     `json:"open_position_count"`
	DailyTradeCount   int     `json:"daily_trade_count"`
	DailyPnL          float64 `json:"daily_pnl"`
}

// Verdict is the outcome of one decide call. Reason always names the first
// rule that failed, or confirms the pass.
type Verdict struct {
	Execute bool   `json:"execute"`
	Reason  string `json:"reason"`
}

func reject(format string, args ...any) Verdict {
	return Verdict{Execute: false, Reason: fmt.Sprintf(format, args...)}
}

// RequiredMargin is the exposure a trade opens under the given settings:
// balance * riskPerTrade * leverage. The account must be able to absorb the
// whole position, so leverage scales the requirement up, not down. Decimal
// arithmetic keeps the comparison exact for boundary balances.
func RequiredMargin(balance float64, settings UserSettings) decimal.Decimal {
	leverage := settings.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	return decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(settings.RiskPerTrade)).
		Mul(decimal.NewFromInt(int64(leverage)))
}

// ShouldExecute gates a signal against one bot's settings and account state.
// Pure: no I/O, no clock reads, no mutation of its arguments. Rules run in a
// fixed order and the first failure wins, so the returned reason is stable
// for identical inputs.
func ShouldExecute(sig *signal.Signal, settings UserSettings, account AccountState, prior *Execution, now time.Time) Verdict {
	if sig == nil {
		return reject("no signal provided")
	}

	// Rule 1: the signal itself must still be actionable. Callers normally
	// fetch from the active set, but a stale read must not slip through.
	if sig.Status != signal.StatusActive {
		return reject("signal %s is %s, not ACTIVE", sig.ID, sig.Status)
	}
	if sig.IsExpired(now) {
		return reject("signal %s expired at %s", sig.ID, sig.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if sig.Action == signal.ActionHold {
		return reject("signal %s carries no actionable direction", sig.ID)
	}

	// Rule 2: direction filter.
	switch settings.Direction {
	case DirectionLongOnly:
		if sig.Action != signal.ActionBuy {
			return reject("bot is long-only, signal action is %s", sig.Action)
		}
	case DirectionShortOnly:
		if sig.Action != signal.ActionSell {
			return reject("bot is short-only, signal action is %s", sig.Action)
		}
	}

	// Rule 3: available balance must cover the margin this trade consumes.
	margin := RequiredMargin(account.AvailableBalance, settings)
	if decimal.NewFromFloat(account.AvailableBalance).LessThan(margin) || account.AvailableBalance <= 0 {
		return reject("insufficient balance: available %.2f, required margin %s",
			account.AvailableBalance, margin.StringFixed(2))
	}

	// Rule 4: concurrent position cap.
	if settings.MaxPositions > 0 && account.OpenPositionCount >= settings.MaxPositions {
		return reject("position limit reached: %d of %d open",
			account.OpenPositionCount, settings.MaxPositions)
	}

	// Rule 5: daily trade count and daily loss caps.
	if settings.MaxDailyTrades > 0 && account.DailyTradeCount >= settings.MaxDailyTrades {
		return reject("daily trade limit reached: %d of %d",
			account.DailyTradeCount, settings.MaxDailyTrades)
	}
	if settings.MaxDailyLoss > 0 && account.DailyPnL <= -settings.MaxDailyLoss {
		return reject("daily loss cap hit: pnl %.2f, cap -%.2f",
			account.DailyPnL, settings.MaxDailyLoss)
	}

	// Rule 6: confidence floor.
	if sig.Confidence < settings.MinConfidence {
		return reject("confidence %.1f below bot minimum %.1f",
			sig.Confidence, settings.MinConfidence)
	}

	// Rule 7: a prior execution for this signal and user blocks a repeat
	// unless that attempt failed outright.
	if prior != nil && prior.Blocking() {
		return reject("signal %s already handled for this user (status %s)",
			sig.ID, prior.Status)
	}

	return Verdict{Execute: true, Reason: "all checks passed"}
}
