package handler

import (
	"github.com/shopspring/decimal"

	"railgate/internal/reconcile"
	dErrors "railgate/pkg/domain-errors"
)

// CreateIntentRequest is the wire form of intent creation. Amounts accept
// JSON numbers or strings; strings are preferred so callers never round.
type CreateIntentRequest struct {
	Rail               string          `json:"rail"`
	ReferenceAmount    decimal.Decimal `json:"reference_amount"`
	AccountReference   string          `json:"account_reference"`
	DestinationAddress string          `json:"destination_address,omitempty"`
}

// Validate checks wire-level requirements and builds the service request.
// The destination may be omitted for the ledger rail, in which case the
// configured receiving address is used.
func (r CreateIntentRequest) Validate(defaultLedgerAddress string) (reconcile.CreateIntentRequest, error) {
	if r.Rail == "" {
		return reconcile.CreateIntentRequest{}, dErrors.New(dErrors.CodeBadRequest, "rail is required")
	}
	if r.AccountReference == "" {
		return reconcile.CreateIntentRequest{}, dErrors.New(dErrors.CodeBadRequest, "account_reference is required")
	}
	dest := r.DestinationAddress
	if dest == "" && r.Rail == "tron" {
		dest = defaultLedgerAddress
	}
	if dest == "" {
		return reconcile.CreateIntentRequest{}, dErrors.New(dErrors.CodeBadRequest, "destination_address is required")
	}
	return reconcile.CreateIntentRequest{
		Rail:               r.Rail,
		ReferenceAmount:    r.ReferenceAmount,
		AccountReference:   r.AccountReference,
		DestinationAddress: dest,
	}, nil
}

// CancelIntentRequest carries an optional operator-facing reason.
type CancelIntentRequest struct {
	Reason string `json:"reason,omitempty"`
}
