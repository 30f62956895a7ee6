package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"railgate/internal/intent/models"
)

// IntentResponse is the wire form of a payment intent snapshot.
type IntentResponse struct {
	ID                 string            `json:"id"`
	Rail               string            `json:"rail"`
	State              string            `json:"state"`
	ReferenceAmount    decimal.Decimal   `json:"reference_amount"`
	SettlementAmount   decimal.Decimal   `json:"settlement_amount"`
	SettlementCurrency string            `json:"settlement_currency"`
	AccountReference   string            `json:"account_reference"`
	DestinationAddress string            `json:"destination_address"`
	RailReference      string            `json:"rail_reference,omitempty"`
	RejectReason       string            `json:"reject_reason,omitempty"`
	Evidence           *EvidenceResponse `json:"evidence,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// EvidenceResponse is the wire form of the confirming evidence record.
type EvidenceResponse struct {
	ExternalTxID string          `json:"external_tx_id"`
	Amount       decimal.Decimal `json:"amount"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// FromIntent maps an intent snapshot onto the wire form.
func FromIntent(p *models.PaymentIntent) IntentResponse {
	resp := IntentResponse{
		ID:                 p.ID.String(),
		Rail:               p.Rail.String(),
		State:              string(p.State),
		ReferenceAmount:    p.ReferenceAmount,
		SettlementAmount:   p.SettlementAmount,
		SettlementCurrency: p.Rail.SettlementCurrency(),
		AccountReference:   p.AccountReference,
		DestinationAddress: p.DestinationAddress,
		RailReference:      p.RailReference,
		RejectReason:       p.RejectReason,
		CreatedAt:          p.CreatedAt,
		ExpiresAt:          p.ExpiresAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.Evidence != nil {
		resp.Evidence = &EvidenceResponse{
			ExternalTxID: p.Evidence.ExternalTxID,
			Amount:       p.Evidence.Amount,
			ObservedAt:   p.Evidence.ObservedAt,
		}
	}
	return resp
}

// callbackAck is the acknowledgement the push rail expects. Callbacks are
// always acked so the rail stops redelivering; processing problems are
// handled internally.
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}
