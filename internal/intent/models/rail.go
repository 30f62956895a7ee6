package models

import (
	dErrors "railgate/pkg/domain-errors"
)

// Rail identifies a settlement channel. Each rail has its own evidence format
// and matching semantics.
type Rail string

const (
	// RailMpesa is the push-notification mobile-money rail (STK push, KES).
	RailMpesa Rail = "mpesa"
	// RailTron is the public-ledger token rail (TRC20 USDT transfers).
	RailTron Rail = "tron"
)

// ParseRail validates an externally supplied rail name.
func ParseRail(raw string) (Rail, error) {
	switch Rail(raw) {
	case RailMpesa:
		return RailMpesa, nil
	case RailTron:
		return RailTron, nil
	default:
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown rail %q", raw)
	}
}

func (r Rail) String() string {
	return string(r)
}

// SettlementCurrency names the rail's native currency for display and audit.
func (r Rail) SettlementCurrency() string {
	switch r {
	case RailMpesa:
		return "KES"
	case RailTron:
		return "USDT"
	default:
		return ""
	}
}
