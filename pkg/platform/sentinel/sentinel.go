package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and rail clients return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: matching window has elapsed
// - ErrAlreadyUsed: external transaction already claimed by another intent
// - ErrInvalidState: intent in a terminal or wrong state for the operation
// - ErrUnavailable: rail or resource temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
