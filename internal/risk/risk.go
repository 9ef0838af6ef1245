// Package risk enforces account-level limits on the live order path.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Severity ranks a violation.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityBlock    Severity = "block"
)

// Violation records one breached rule.
type Violation struct {
	Rule      string          `json:"rule"`
	Severity  Severity        `json:"severity"`
	Value     decimal.Decimal `json:"value"`
	Limit     decimal.Decimal `json:"limit"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// CheckResult is the outcome of one order check. Approved is false when
// any rule blocks the order; all violations are reported, not just the
// first, so callers can log the full picture.
type CheckResult struct {
	Approved   bool        `json:"approved"`
	Violations []Violation `json:"violations"`
}

// Account is the snapshot of state the rules evaluate against.
type Account struct {
	Cash      decimal.Decimal
	Equity    decimal.Decimal
	Positions map[string]types.Position
}

// Manager holds the limits and the kill-switch state. A zero value in
// any limit disables that rule. Orders that reduce existing exposure are
// exempt from the sizing rules so a breached account can always unwind.
type Manager struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	limits     types.RiskLimits
	peakEquity decimal.Decimal
	killSwitch bool
	violations []Violation
}

// NewManager creates a manager with the given limits.
func NewManager(logger *zap.Logger, limits types.RiskLimits) *Manager {
	return &Manager{logger: logger.Named("risk"), limits: limits}
}

// ObserveEquity feeds the latest marked equity into drawdown tracking.
// Breaching MaxDrawdownPct trips the kill switch; it stays tripped until
// ResetKillSwitch.
func (m *Manager) ObserveEquity(equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if equity.GreaterThan(m.peakEquity) {
		m.peakEquity = equity
		return
	}
	if m.killSwitch || !m.limits.MaxDrawdownPct.IsPositive() || !m.peakEquity.IsPositive() {
		return
	}

	drawdown := m.peakEquity.Sub(equity).Div(m.peakEquity)
	if drawdown.GreaterThan(m.limits.MaxDrawdownPct) {
		m.killSwitch = true
		m.record(Violation{
			Rule:      "max_drawdown",
			Severity:  SeverityCritical,
			Value:     drawdown,
			Limit:     m.limits.MaxDrawdownPct,
			Message:   "drawdown limit breached, kill switch tripped",
			Timestamp: time.Now(),
		})
		m.logger.Error("kill switch tripped on drawdown",
			zap.String("drawdown", drawdown.String()),
			zap.String("limit", m.limits.MaxDrawdownPct.String()),
		)
	}
}

// KillSwitchActive reports whether new exposure is currently blocked.
func (m *Manager) KillSwitchActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.killSwitch
}

// ResetKillSwitch re-enables trading after manual review.
func (m *Manager) ResetKillSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitch = false
	m.logger.Info("kill switch reset")
}

// Violations returns the recorded violations, most recent last.
func (m *Manager) Violations() []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// CheckOrder runs the full rule chain against the order. Orders that
// only reduce exposure pass even under an active kill switch.
func (m *Manager) CheckOrder(order types.Order, acct Account) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := CheckResult{Approved: true}
	held := acct.Positions[order.Symbol].Quantity
	if reducesExposure(order, held) {
		return result
	}

	if m.killSwitch {
		result.fail(Violation{
			Rule:     "kill_switch",
			Severity: SeverityBlock,
			Message:  "trading disabled by kill switch",
		})
	}

	notional := order.Quantity.Mul(order.Price)

	if m.limits.MaxPositionNotional.IsPositive() {
		resulting := resultingQuantity(order, held).Abs().Mul(order.Price)
		if resulting.GreaterThan(m.limits.MaxPositionNotional) {
			result.fail(Violation{
				Rule:     "max_position_notional",
				Severity: SeverityBlock,
				Value:    resulting,
				Limit:    m.limits.MaxPositionNotional,
				Message:  fmt.Sprintf("resulting %s position exceeds notional limit", order.Symbol),
			})
		}
	}

	if m.limits.MaxOpenPositions > 0 && held.IsZero() {
		open := 0
		for _, p := range acct.Positions {
			if !p.IsFlat() {
				open++
			}
		}
		if open >= m.limits.MaxOpenPositions {
			result.fail(Violation{
				Rule:     "max_open_positions",
				Severity: SeverityBlock,
				Value:    decimal.NewFromInt(int64(open)),
				Limit:    decimal.NewFromInt(int64(m.limits.MaxOpenPositions)),
				Message:  "open position count at limit",
			})
		}
	}

	if m.limits.CashFloor.IsPositive() && order.Side == types.SideBuy {
		remaining := acct.Cash.Sub(notional)
		if remaining.LessThan(m.limits.CashFloor) {
			result.fail(Violation{
				Rule:     "cash_floor",
				Severity: SeverityBlock,
				Value:    remaining,
				Limit:    m.limits.CashFloor,
				Message:  "order would push cash below floor",
			})
		}
	}

	for i := range result.Violations {
		result.Violations[i].Timestamp = time.Now()
		m.record(result.Violations[i])
	}
	if !result.Approved {
		m.logger.Warn("order rejected by risk rules",
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.Int("violations", len(result.Violations)),
		)
	}
	return result
}

func (r *CheckResult) fail(v Violation) {
	r.Approved = false
	r.Violations = append(r.Violations, v)
}

func (m *Manager) record(v Violation) {
	m.violations = append(m.violations, v)
}

// reducesExposure reports whether the order shrinks (or at most closes)
// the held position without opening the opposite side.
func reducesExposure(order types.Order, held decimal.Decimal) bool {
	if held.IsZero() {
		return false
	}
	delta := order.Quantity
	if order.Side == types.SideSell {
		delta = delta.Neg()
	}
	if held.Sign() == delta.Sign() {
		return false
	}
	return delta.Abs().LessThanOrEqual(held.Abs())
}

// resultingQuantity is the signed quantity held after the fill.
func resultingQuantity(order types.Order, held decimal.Decimal) decimal.Decimal {
	if order.Side == types.SideSell {
		return held.Sub(order.Quantity)
	}
	return held.Add(order.Quantity)
}
