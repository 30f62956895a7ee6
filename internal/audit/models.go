package audit

import (
	"time"

	"github.com/shopspring/decimal"

	"railgate/internal/intent/models"
	"railgate/pkg/domain"
)

// Action names an auditable reconciliation outcome.
type Action string

const (
	ActionIntentCreated          Action = "intent_created"
	ActionIntentConfirmed        Action = "intent_confirmed"
	ActionIntentRejected         Action = "intent_rejected"
	ActionIntentExpired          Action = "intent_expired"
	ActionEvidenceUnmatched      Action = "evidence_unmatched"
	ActionEvidenceDuplicate      Action = "evidence_duplicate"
	ActionEvidenceOutOfTolerance Action = "evidence_out_of_tolerance"
)

// Event is emitted from the reconciliation core to capture money-relevant
// actions. Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp    time.Time       `json:"timestamp"`
	IntentID     domain.IntentID `json:"intent_id,omitempty"`
	Rail         models.Rail     `json:"rail,omitempty"`
	Action       Action          `json:"action"`
	ExternalTxID string          `json:"external_tx_id,omitempty"`
	Amount       decimal.Decimal `json:"amount,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}
