package domain

import "errors"

var (
	ErrInvalidTrigger    = errors.New("invalid_trigger")
	ErrLedgerUnavailable = errors.New("ledger_unavailable")
	ErrEffectFailed      = errors.New("effect_failed")
	ErrAlreadyProcessed  = errors.New("already_processed")
	ErrInFlight          = errors.New("in_flight")
)
