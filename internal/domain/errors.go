package domain

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPortfolioNotFound   = errors.New("portfolio not found")
	ErrNoMarketData        = errors.New("no market data")
	ErrInvalidState        = errors.New("invalid trade state")
	ErrNotAuthenticated    = errors.New("not authenticated")

	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrLockHeld         = errors.New("lock already held")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrInvalidSettings  = errors.New("invalid settings")
)
