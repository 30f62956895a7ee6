package reconcile

import (
	"github.com/shopspring/decimal"

	"railgate/internal/intent/models"
)

// Converter turns a reference amount (USD) into the amount expected on a
// rail's settlement currency. The settlement amount is computed once at
// intent creation and frozen on the intent.
type Converter func(reference decimal.Decimal, rail models.Rail) decimal.Decimal

// FixedRate returns a Converter using a fixed USD to KES rate for the push
// rail. KES amounts are rounded to whole shillings, which is what the rail
// accepts. The ledger token settles one to one against the reference amount.
func FixedRate(usdToKES decimal.Decimal) Converter {
	return func(reference decimal.Decimal, rail models.Rail) decimal.Decimal {
		if rail == models.RailMpesa {
			return reference.Mul(usdToKES).Round(0)
		}
		return reference
	}
}
