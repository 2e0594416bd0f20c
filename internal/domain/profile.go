package domain

import (
	"fmt"
	"time"
)

// TradingMode is the balance a user trades against by default.
type TradingMode string

const (
	TradingModeDemo TradingMode = "demo"
	TradingModeReal TradingMode = "real"
)

// Risk tolerance is a 1 (very conservative) to 10 (very aggressive) scale.
const (
	MinRiskTolerance     = 1
	MaxRiskTolerance     = 10
	DefaultRiskTolerance = 5
)

// Profile holds a user's trading preferences.
type Profile struct {
	UserID        string
	TradingMode   TradingMode
	RiskTolerance int
	UpdatedAt     time.Time
}

// DefaultProfile is what a user without saved settings gets.
func DefaultProfile(userID string) Profile {
	return Profile{
		UserID:        userID,
		TradingMode:   TradingModeDemo,
		RiskTolerance: DefaultRiskTolerance,
	}
}

// Validate checks the mode and tolerance range.
func (p Profile) Validate() error {
	if p.TradingMode != TradingModeDemo && p.TradingMode != TradingModeReal {
		return fmt.Errorf("trading_mode %q must be demo or real: %w", p.TradingMode, ErrInvalidSettings)
	}
	if p.RiskTolerance < MinRiskTolerance || p.RiskTolerance > MaxRiskTolerance {
		return fmt.Errorf("risk_tolerance %d must be between %d and %d: %w",
			p.RiskTolerance, MinRiskTolerance, MaxRiskTolerance, ErrInvalidSettings)
	}
	return nil
}
