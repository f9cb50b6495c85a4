package types

import "errors"

// Sentinel errors for the trading core.
var (
	// Admission errors
	ErrDuplicatePosition = errors.New("symbol already has an open position")
	ErrSlotsExhausted    = errors.New("no trade slots available")

	// Validation errors
	ErrMissingPrice    = errors.New("signal has no entry price")
	ErrLowConfidence   = errors.New("signal confidence below floor")
	ErrLowRiskReward   = errors.New("risk/reward below floor")
	ErrInvalidQuantity = errors.New("invalid order quantity")
	ErrInvalidConfig   = errors.New("invalid configuration")

	// Lifecycle invariant errors
	ErrTimestampOrder = errors.New("trade timestamp ordering violated")
	ErrNotFilled      = errors.New("trade cannot close before fill")
	ErrTradeNotFound  = errors.New("trade not found")

	// Exchange errors
	ErrOrderRejected = errors.New("order rejected by exchange")
	ErrNotConnected  = errors.New("exchange not connected")

	// Simulator errors
	ErrUnsortedBars = errors.New("bars are not sorted by timestamp")
)
