package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Services constructed without metrics call every helper on a nil receiver.
func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncCreated("mpesa")
		m.IncConfirmed("mpesa")
		m.IncRejected("mpesa")
		m.IncExpired("tron")
		m.IncEvidenceMatched("tron")
		m.IncEvidenceUnmatched("tron")
		m.IncEvidenceDuplicate("mpesa")
		m.IncEvidenceOutOfTolerance("mpesa")
		m.IncMalformedCallback("mpesa")
		m.IncPollError("tron")
		m.ObservePoll(time.Now())
		m.ObserveInitiate(time.Now())
	})
}
